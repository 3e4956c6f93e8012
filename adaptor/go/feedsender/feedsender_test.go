package feedsender

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// feedCatcher is a stand-in appliance feed acceptor.
type feedCatcher struct {
	contentType     string
	contentEncoding string
	body            string
	status          int
	reply           string
}

func (c *feedCatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.contentType = r.Header.Get("Content-Type")
	c.contentEncoding = r.Header.Get("Content-Encoding")
	var rd io.Reader = r.Body
	if c.contentEncoding == "gzip" {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rd = zr
	}
	b, _ := io.ReadAll(rd)
	c.body = string(b)
	if c.status != 0 {
		w.WriteHeader(c.status)
	}
	_, _ = w.Write([]byte(c.reply))
}

// newTestSender points a Sender at a stand-in appliance.
func newTestSender(t *testing.T, catcher *feedCatcher, useCompression bool) (*Sender, *httptest.Server) {
	srv := httptest.NewServer(catcher)
	t.Cleanup(srv.Close)
	host := strings.TrimPrefix(srv.URL, "http://")
	client := srv.Client()
	return New(host, false, useCompression, client), srv
}

func TestSendMetadataAndURL_Success(t *testing.T) {
	catcher := &feedCatcher{reply: "Success"}
	s, _ := newTestSender(t, catcher, false)

	err := s.SendMetadataAndURL(context.Background(), "testing", "<gsafeed/>")
	require.NoError(t, err)
	require.Equal(t, "multipart/form-data; boundary=<<", catcher.contentType)

	// The three parts appear in order with the fixed boundary.
	require.Contains(t, catcher.body, "--<<\r\nContent-Disposition: form-data; name=\"datasource\"\r\nContent-Type: text/plain\r\n\r\ntesting\r\n")
	require.Contains(t, catcher.body, "--<<\r\nContent-Disposition: form-data; name=\"feedtype\"\r\nContent-Type: text/plain\r\n\r\nmetadata-and-url\r\n")
	require.Contains(t, catcher.body, "--<<\r\nContent-Disposition: form-data; name=\"data\"\r\nContent-Type: text/xml\r\n\r\n<gsafeed/>\r\n")
	require.True(t, strings.HasSuffix(catcher.body, "--<<--\r\n"))
	dsIdx := strings.Index(catcher.body, `name="datasource"`)
	ftIdx := strings.Index(catcher.body, `name="feedtype"`)
	dataIdx := strings.Index(catcher.body, `name="data"`)
	require.True(t, dsIdx < ftIdx && ftIdx < dataIdx)
}

func TestSendMetadataAndURL_Gzip(t *testing.T) {
	catcher := &feedCatcher{reply: "Success"}
	s, _ := newTestSender(t, catcher, true)

	err := s.SendMetadataAndURL(context.Background(), "testing", "<gsafeed/>")
	require.NoError(t, err)
	require.Equal(t, "gzip", catcher.contentEncoding)
	require.Contains(t, catcher.body, "<gsafeed/>")
}

func TestSendMetadataAndURL_InvalidDatasource(t *testing.T) {
	s := New("gsa.example.com", false, false, nil)
	for _, bad := range []string{"", "9starts-with-digit", "has space", "has.dot", "-leading-dash"} {
		err := s.SendMetadataAndURL(context.Background(), bad, "<gsafeed/>")
		require.Error(t, err, bad)
	}
	for _, good := range []string{"testing", "_private", "A-Z_0-9", "default_source"} {
		require.True(t, ValidDatasource(good), good)
	}
}

func TestSendMetadataAndURL_NonSuccessReply(t *testing.T) {
	catcher := &feedCatcher{reply: "Backed off"}
	s, _ := newTestSender(t, catcher, false)

	err := s.SendMetadataAndURL(context.Background(), "testing", "<gsafeed/>")
	require.Error(t, err)
	var sendErr *Error
	require.ErrorAs(t, err, &sendErr)
	require.Equal(t, FailedReply, sendErr.Kind)
	require.Contains(t, sendErr.Error(), "Backed off")
}

func TestSendMetadataAndURL_ErrorStatus(t *testing.T) {
	catcher := &feedCatcher{status: http.StatusNotFound, reply: "no such datasource"}
	s, _ := newTestSender(t, catcher, false)

	err := s.SendMetadataAndURL(context.Background(), "testing", "<gsafeed/>")
	var sendErr *Error
	require.ErrorAs(t, err, &sendErr)
	require.Equal(t, FailedReply, sendErr.Kind)
}

func TestSendMetadataAndURL_ConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	host := strings.TrimPrefix(srv.URL, "http://")
	// Close so the port refuses connections.
	srv.Close()

	s := New(host, false, false, &http.Client{})
	err := s.SendMetadataAndURL(context.Background(), "testing", "<gsafeed/>")
	require.Error(t, err)
	var sendErr *Error
	require.ErrorAs(t, err, &sendErr)
	require.Equal(t, FailedToConnect, sendErr.Kind)
}

func TestSendGroups(t *testing.T) {
	catcher := &feedCatcher{reply: "Success"}
	s, _ := newTestSender(t, catcher, false)

	err := s.SendGroups(context.Background(), "groupsrc", Replace, "<xmlgroups/>")
	require.NoError(t, err)
	require.Contains(t, catcher.body, `name="groupsource"`)
	require.Contains(t, catcher.body, "\r\n\r\nfull\r\n")

	err = s.SendGroups(context.Background(), "groupsrc", Incremental, "<xmlgroups/>")
	require.NoError(t, err)
	require.Contains(t, catcher.body, "\r\n\r\nincremental\r\n")
}

func TestClassifyTransportError(t *testing.T) {
	dial := &url.Error{Op: "Post", URL: "http://gsa:19900/xmlfeed", Err: &net.OpError{
		Op:  "dial",
		Err: errors.New("connection refused"),
	}}
	require.Equal(t, FailedToConnect, classifyTransportError(dial))

	dns := &url.Error{Op: "Post", URL: "http://gsa:19900/xmlfeed", Err: &net.OpError{
		Op:  "dial",
		Err: &net.DNSError{Err: "no such host", Name: "gsa"},
	}}
	require.Equal(t, FailedToConnect, classifyTransportError(dns))

	// A connection that dropped after dialing is a write failure.
	write := &url.Error{Op: "Post", URL: "http://gsa:19900/xmlfeed", Err: &net.OpError{
		Op:  "write",
		Err: errors.New("broken pipe"),
	}}
	require.Equal(t, FailedWriting, classifyTransportError(write))
	require.Equal(t, FailedWriting, classifyTransportError(errors.New("request canceled")))
}
