// Package docid provides the injective mapping between repository document
// identifiers and the URLs the search appliance crawls.
//
// Identifiers are opaque strings chosen by the repository; they may contain
// slashes, dots, and any other character. The codec rewrites the identifier
// into a path that survives URI normalization on the appliance and resolves
// it against a fixed base URL. Decoding inverts every rewrite, so
// Decode(Encode(id)) == id for every non-empty id.
package docid

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/gsa-connectors/adaptor/go/skerr"
)

// DocId is a unique identifier of a document in the repository. Compared as
// raw bytes; never interpreted by the framework.
type DocId string

var (
	// allDots matches path segments consisting entirely of dots.
	allDots = regexp.MustCompile(`^\.+$`)

	// indexFile matches the filenames the appliance is known to collapse.
	indexFile = regexp.MustCompile(`^_*index\.html?$`)

	// strippableIndexFile matches encoded index filenames, which carry at
	// least one leading underscore to strip.
	strippableIndexFile = regexp.MustCompile(`^_+index\.html?$`)
)

// Codec translates DocIds to URLs under a base URL and back.
type Codec struct {
	baseDocURL *url.URL
	docIdIsURL bool
}

// NewCodec returns a Codec that resolves encoded identifiers against
// baseDocURL. The base URL must carry a non-empty path (typically ending in
// "/doc/"); an empty path would make decoding ambiguous. If docIdIsURL is
// true, identifiers are complete URLs themselves and are passed through
// untransformed.
func NewCodec(baseDocURL *url.URL, docIdIsURL bool) (*Codec, error) {
	if baseDocURL == nil || baseDocURL.Path == "" {
		return nil, skerr.Fmt("base document URL must have a path: %v", baseDocURL)
	}
	return &Codec{
		baseDocURL: baseDocURL,
		docIdIsURL: docIdIsURL,
	}, nil
}

// Encode returns the URL the appliance should crawl for the given DocId.
func (c *Codec) Encode(id DocId) *url.URL {
	if c.docIdIsURL {
		u, err := url.Parse(string(id))
		if err != nil {
			// Fall back to treating the value as a path under the base URL so
			// that an unparseable id still produces a usable, unique URL.
			ret := *c.baseDocURL
			ret.Path += string(id)
			return &ret
		}
		return u
	}
	s := extendDotSegments(string(id))
	s = breakDoubleSlashes(s)
	s = underscoreIndexFile(s)
	if strings.HasPrefix(s, "/") {
		// Avoid a double slash when joining to the base path.
		s = "..." + s
	}
	ret := *c.baseDocURL
	ret.Path += s
	ret.RawPath = ""
	return &ret
}

// Decode returns the DocId whose encoding is u. It fails with an
// invalid-argument error if u does not live under the codec's base path.
func (c *Codec) Decode(u *url.URL) (DocId, error) {
	if c.docIdIsURL {
		return DocId(u.String()), nil
	}
	base := c.baseDocURL.Path
	if !strings.HasPrefix(u.Path, base) {
		return "", skerr.Fmt("URL %q is not under the base path %q", u, base)
	}
	id := u.Path[len(base):]
	if strings.HasPrefix(id, ".../") {
		id = id[len("..."):]
	}
	id = deUnderscoreIndexFile(id)
	id = restoreDoubleSlashes(id)
	id = shrinkDotSegments(id)
	if id == "" {
		return "", skerr.Fmt("URL %q carries no document identifier", u)
	}
	return DocId(id), nil
}

// IsDocIdURL reports whether the codec treats identifiers as complete URLs.
func (c *Codec) IsDocIdURL() bool {
	return c.docIdIsURL
}

// BaseURL returns the base document URL the codec resolves against.
func (c *Codec) BaseURL() *url.URL {
	ret := *c.baseDocURL
	return &ret
}

// extendDotSegments appends three dots to every path segment that consists
// only of dots, so that "/../" and "/./" cannot be re-interpreted as
// relative path navigation. They become "/...../" and "/..../".
func extendDotSegments(s string) string {
	segments := strings.Split(s, "/")
	for i, seg := range segments {
		if seg != "" && allDots.MatchString(seg) {
			segments[i] = seg + "..."
		}
	}
	return strings.Join(segments, "/")
}

// shrinkDotSegments removes the three dots extendDotSegments added. Encoded
// all-dot segments always have at least four dots.
func shrinkDotSegments(s string) string {
	segments := strings.Split(s, "/")
	for i, seg := range segments {
		if len(seg) >= 4 && allDots.MatchString(seg) {
			segments[i] = seg[:len(seg)-3]
		}
	}
	return strings.Join(segments, "/")
}

// breakDoubleSlashes inserts "..." after every slash that is immediately
// followed by another slash, except when the slash is preceded by a colon.
// This turns "//" in the identifier into "/.../" while preserving
// "scheme://".
func breakDoubleSlashes(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		sb.WriteByte(s[i])
		if s[i] == '/' && i+1 < len(s) && s[i+1] == '/' && !(i > 0 && s[i-1] == ':') {
			sb.WriteString("...")
		}
	}
	return sb.String()
}

// restoreDoubleSlashes removes the "..." segments breakDoubleSlashes
// inserted. All-dot segments from the identifier itself have at least four
// dots after encoding, so a segment of exactly three dots is always one of
// ours.
func restoreDoubleSlashes(s string) string {
	segments := strings.Split(s, "/")
	out := segments[:0]
	for _, seg := range segments {
		if seg == "..." {
			out = append(out, "")
		} else {
			out = append(out, seg)
		}
	}
	return strings.Join(out, "/")
}

// underscoreIndexFile prepends an underscore to a final path segment that
// matches _*index.htm(l). The appliance is known to collapse URLs ending in
// "index.html" with their parent directory.
func underscoreIndexFile(s string) string {
	slash := strings.LastIndex(s, "/")
	last := s[slash+1:]
	if indexFile.MatchString(last) {
		return s[:slash+1] + "_" + last
	}
	return s
}

// deUnderscoreIndexFile strips the underscore underscoreIndexFile added.
func deUnderscoreIndexFile(s string) string {
	slash := strings.LastIndex(s, "/")
	last := s[slash+1:]
	if strippableIndexFile.MatchString(last) {
		return s[:slash+1] + last[1:]
	}
	return s
}
