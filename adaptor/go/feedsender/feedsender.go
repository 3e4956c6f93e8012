// Package feedsender performs the multipart HTTP POST that delivers a feed
// file to the search appliance, classifying failures by where in the exchange
// they happened.
package feedsender

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/gsa-connectors/adaptor/adaptor/go/feed"
	"github.com/gsa-connectors/adaptor/go/httputils"
	"github.com/gsa-connectors/adaptor/go/skerr"
	"github.com/gsa-connectors/adaptor/go/sklog"
)

const (
	// FeederPort is the appliance's plaintext feed acceptor port.
	FeederPort = 19900
	// SecureFeederPort is the appliance's TLS feed acceptor port.
	SecureFeederPort = 19902

	// boundary is fixed; the appliance's parser expects it.
	boundary = "<<"

	// successBody is the only reply body that means the feed was accepted.
	successBody = "Success"
)

// datasourceRe is the set of datasource names the appliance accepts.
var datasourceRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// ErrorKind says where in the feed exchange a failure happened.
type ErrorKind int

const (
	// FailedToConnect means the appliance could not be reached.
	FailedToConnect ErrorKind = iota
	// FailedWriting means the connection dropped while sending the feed.
	FailedWriting
	// FailedReadingReply means the feed was sent but the reply could not be
	// read.
	FailedReadingReply
	// FailedReply means the appliance replied with a non-200 status or a
	// body other than "Success".
	FailedReply
)

func (k ErrorKind) String() string {
	switch k {
	case FailedToConnect:
		return "failed-to-connect"
	case FailedWriting:
		return "failed-writing"
	case FailedReadingReply:
		return "failed-reading-reply"
	default:
		return "failed-reply"
	}
}

// Error is a classified feed-send failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// GroupFeedType selects whether a group-definitions push replaces all
// previously fed groups for the source or adds to them.
type GroupFeedType int

const (
	// Replace clears the source's previous group definitions.
	Replace GroupFeedType = iota
	// Incremental merges into the source's previous group definitions.
	Incremental
)

// wireName is the feedtype value sent to the appliance.
func (t GroupFeedType) wireName() string {
	if t == Incremental {
		return "incremental"
	}
	return "full"
}

func (t GroupFeedType) String() string {
	if t == Incremental {
		return "INCREMENTAL"
	}
	return "REPLACE"
}

// Sender posts feed files to one appliance.
type Sender struct {
	host           string
	secure         bool
	useCompression bool
	client         *http.Client
}

// New returns a Sender for the appliance at host. When client is nil a
// default client with backoff retries on the transport is used; pass a
// client to control timeouts.
func New(host string, secure, useCompression bool, client *http.Client) *Sender {
	if client == nil {
		client = httputils.DefaultClientConfig().Client()
	}
	return &Sender{
		host:           host,
		secure:         secure,
		useCompression: useCompression,
		client:         client,
	}
}

// ValidDatasource reports whether the appliance will accept the datasource
// name.
func ValidDatasource(datasource string) bool {
	return datasourceRe.MatchString(datasource)
}

func (s *Sender) feedURL(endpoint string) string {
	scheme, port := "http", FeederPort
	if s.secure {
		scheme, port = "https", SecureFeederPort
	}
	host := s.host
	// A host carrying an explicit port keeps it.
	if !strings.Contains(host, ":") {
		host = fmt.Sprintf("%s:%d", host, port)
	}
	return fmt.Sprintf("%s://%s/%s", scheme, host, endpoint)
}

// multipartBody frames the three feed parts with the fixed boundary.
func multipartBody(sourceField, sourceValue, feedType, data string) []byte {
	var buf bytes.Buffer
	part := func(name, contentType, value string) {
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		fmt.Fprintf(&buf, "Content-Disposition: form-data; name=%q\r\n", name)
		fmt.Fprintf(&buf, "Content-Type: %s\r\n\r\n", contentType)
		buf.WriteString(value)
		buf.WriteString("\r\n")
	}
	part(sourceField, "text/plain", sourceValue)
	part("feedtype", "text/plain", feedType)
	part("data", "text/xml", data)
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes()
}

// SendMetadataAndURL posts a metadata-and-url feed under the given
// datasource.
func (s *Sender) SendMetadataAndURL(ctx context.Context, datasource, feedXML string) error {
	if !ValidDatasource(datasource) {
		return skerr.Fmt("invalid datasource name %q", datasource)
	}
	body := multipartBody("datasource", datasource, feed.MetadataAndURLFeedType, feedXML)
	return s.post(ctx, s.feedURL("xmlfeed"), body)
}

// SendGroups posts a group-definitions feed under the given group source.
func (s *Sender) SendGroups(ctx context.Context, groupSource string, feedType GroupFeedType, feedXML string) error {
	if !ValidDatasource(groupSource) {
		return skerr.Fmt("invalid group source name %q", groupSource)
	}
	body := multipartBody("groupsource", groupSource, feedType.wireName(), feedXML)
	return s.post(ctx, s.feedURL("xmlgroups"), body)
}

// classifyTransportError separates failures to reach the appliance from
// failures after the connection was up. Name resolution and dial errors are
// connect failures; anything else lost the request mid-flight.
func classifyTransportError(err error) ErrorKind {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return FailedToConnect
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return FailedToConnect
	}
	return FailedWriting
}

func (s *Sender) post(ctx context.Context, url string, body []byte) error {
	contentEncoding := ""
	if s.useCompression {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return &Error{Kind: FailedWriting, Err: skerr.Wrap(err)}
		}
		if err := zw.Close(); err != nil {
			return &Error{Kind: FailedWriting, Err: skerr.Wrap(err)}
		}
		body = buf.Bytes()
		contentEncoding = "gzip"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &Error{Kind: FailedToConnect, Err: skerr.Wrap(err)}
	}
	req.Header.Set("Content-Type", "multipart/form-data; boundary="+boundary)
	if contentEncoding != "" {
		req.Header.Set("Content-Encoding", contentEncoding)
	}

	sklog.Infof("Sending %d byte feed to %s", len(body), url)
	resp, err := s.client.Do(req)
	if err != nil {
		return &Error{Kind: classifyTransportError(err), Err: skerr.Wrap(err)}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	reply, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: FailedReadingReply, Err: skerr.Wrap(err)}
	}
	if resp.StatusCode != http.StatusOK {
		return &Error{
			Kind: FailedReply,
			Err:  skerr.Fmt("appliance replied %d: %s", resp.StatusCode, strings.TrimSpace(string(reply))),
		}
	}
	if strings.TrimSpace(string(reply)) != successBody {
		return &Error{
			Kind: FailedReply,
			Err:  skerr.Fmt("appliance rejected the feed: %s", strings.TrimSpace(string(reply))),
		}
	}
	return nil
}
