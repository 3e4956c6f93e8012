package docid

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustCodec(t *testing.T, base string, docIdIsURL bool) *Codec {
	u, err := url.Parse(base)
	require.NoError(t, err)
	c, err := NewCodec(u, docIdIsURL)
	require.NoError(t, err)
	return c
}

func TestNewCodec_NoBasePath(t *testing.T) {
	u, err := url.Parse("http://localhost:5678")
	require.NoError(t, err)
	_, err = NewCodec(u, false)
	require.Error(t, err)
}

func TestEncode_PlainId(t *testing.T) {
	c := mustCodec(t, "http://localhost:5678/doc/", false)
	u := c.Encode("some/docid")
	require.Equal(t, "http://localhost:5678/doc/some/docid", u.String())
}

func TestEncode_DotSegmentsAreExtended(t *testing.T) {
	c := mustCodec(t, "http://localhost:5678/doc/", false)

	require.Equal(t, "/doc/a/...../b", c.Encode("a/../b").Path)
	require.Equal(t, "/doc/a/..../b", c.Encode("a/./b").Path)
	require.Equal(t, "/doc/.....", c.Encode("..").Path)
	require.True(t, strings.Contains(c.Encode("..").Path, "...."))
}

func TestEncode_MixedDotsUntouched(t *testing.T) {
	c := mustCodec(t, "http://localhost:5678/doc/", false)
	id := "..safe../.h/h./..h/h.."
	require.True(t, strings.Contains(c.Encode(DocId(id)).Path, id))
}

func TestEncode_DoubleSlashes(t *testing.T) {
	c := mustCodec(t, "http://localhost:5678/doc/", false)

	require.Equal(t, "/doc/a/.../b", c.Encode("a//b").Path)
	require.Equal(t, "/doc/a/.../.../b", c.Encode("a///b").Path)
	// scheme:// is preserved.
	require.Equal(t, "/doc/http://sharepoint/site", c.Encode("http://sharepoint/site").Path)
}

func TestEncode_LeadingSlash(t *testing.T) {
	c := mustCodec(t, "http://localhost:5678/doc/", false)
	require.Equal(t, "/doc/.../etc/passwd", c.Encode("/etc/passwd").Path)
}

func TestEncode_IndexHTML(t *testing.T) {
	c := mustCodec(t, "http://localhost:5678/doc/", false)

	require.Equal(t, "/doc/site/_index.html", c.Encode("site/index.html").Path)
	require.Equal(t, "/doc/site/__index.htm", c.Encode("site/_index.htm").Path)
	// Not a whole segment, untouched.
	require.Equal(t, "/doc/site/myindex.html", c.Encode("site/myindex.html").Path)
}

func TestEncode_PercentEncoding(t *testing.T) {
	c := mustCodec(t, "http://localhost:5678/doc/", false)
	u := c.Encode("spaces and %percent")
	require.Equal(t, "http://localhost:5678/doc/spaces%20and%20%25percent", u.String())
}

func TestRoundTrip(t *testing.T) {
	c := mustCodec(t, "http://localhost:5678/doc/", false)
	ids := []string{
		"simple",
		"some/path/doc",
		"..",
		".",
		"...",
		"a/../b",
		"a/./b",
		"a//b",
		"a///b",
		"//leading",
		"/leading",
		"trailing/",
		"trailing//",
		"..safe../.h/h./..h/h..",
		"http://sharepoint//site",
		"index.html",
		"_index.html",
		"dir/index.htm",
		"with spaces",
		"percent%2Fescapes",
		"quest?ion#hash",
		"\twhitespace\n",
		"/",
	}
	for _, id := range ids {
		u := c.Encode(DocId(id))
		// Round trip through serialization, as the appliance does.
		parsed, err := url.Parse(u.String())
		require.NoError(t, err)
		got, err := c.Decode(parsed)
		require.NoError(t, err, "id %q", id)
		require.Equal(t, DocId(id), got, "id %q encoded as %q", id, u)
	}
}

func TestDecode_WrongBasePath(t *testing.T) {
	c := mustCodec(t, "http://localhost:5678/doc/", false)
	u, err := url.Parse("http://localhost:5678/other/some-doc")
	require.NoError(t, err)
	_, err = c.Decode(u)
	require.Error(t, err)
}

func TestDocIdIsURLMode(t *testing.T) {
	c := mustCodec(t, "http://localhost:5678/doc/", true)
	u := c.Encode("https://example.com/a/b?x=1")
	require.Equal(t, "https://example.com/a/b?x=1", u.String())
	got, err := c.Decode(u)
	require.NoError(t, err)
	require.Equal(t, DocId("https://example.com/a/b?x=1"), got)
}
