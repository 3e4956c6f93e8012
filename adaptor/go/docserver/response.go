package docserver

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gsa-connectors/adaptor/adaptor/go/acl"
	"github.com/gsa-connectors/adaptor/adaptor/go/docid"
	"github.com/gsa-connectors/adaptor/adaptor/go/metadata"
	"github.com/gsa-connectors/adaptor/go/skerr"
	"github.com/gsa-connectors/adaptor/go/util"
)

// ErrIllegalState is returned when a Response method is called after the
// response has already taken a different shape.
var ErrIllegalState = errors.New("response state already decided")

// Header names the appliance understands on served documents.
const (
	externalMetadataHeader = "X-Gsa-External-Metadata"
	externalAnchorHeader   = "X-Gsa-External-Anchor"
	serveSecurityHeader    = "X-Gsa-Serve-Security"
)

type responseState int

const (
	stateSetup responseState = iota
	stateNotModified
	stateNotFound
	stateNoContent
	stateSendBody
	stateAborted
)

func (s responseState) String() string {
	switch s {
	case stateSetup:
		return "SETUP"
	case stateNotModified:
		return "NOT_MODIFIED"
	case stateNotFound:
		return "NOT_FOUND"
	case stateNoContent:
		return "NO_CONTENT"
	case stateSendBody:
		return "SEND_BODY"
	default:
		return "ABORTED"
	}
}

// Anchor is one link the appliance should associate with the document.
type Anchor struct {
	Text string
	URI  string
}

// Response is the repository's handle for answering one document request.
// It is a one-shot state machine: exactly one of RespondNotModified,
// RespondNotFound, RespondNoContent, or OutputStream decides the response,
// and all attribute setters are only legal before that decision. Not safe
// for concurrent use except against Abort.
type Response struct {
	mtx sync.Mutex

	w     http.ResponseWriter
	codec *docid.Codec

	// head suppresses body bytes for HEAD requests.
	head bool
	// toAppliance enables ACL header emission.
	toAppliance bool

	state       responseState
	headersSent bool

	contentType  string
	lastModified time.Time
	displayURL   string
	md           *metadata.Metadata
	docAcl       *acl.Acl
	anchors      []Anchor
	secure       bool
	noIndex      bool
	noFollow     bool
	noArchive    bool
	crawlOnce    bool
	lock         bool
}

func newResponse(w http.ResponseWriter, codec *docid.Codec, head, toAppliance bool) *Response {
	return &Response{
		w:           w,
		codec:       codec,
		head:        head,
		toAppliance: toAppliance,
	}
}

func (r *Response) transition(to responseState) error {
	if r.state != stateSetup {
		return skerr.Wrapf(ErrIllegalState, "cannot enter %s from %s", to, r.state)
	}
	r.state = to
	return nil
}

// RespondNotModified answers 304; only legal as the first and only decision.
func (r *Response) RespondNotModified() error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if err := r.transition(stateNotModified); err != nil {
		return err
	}
	r.w.WriteHeader(http.StatusNotModified)
	r.headersSent = true
	return nil
}

// RespondNotFound answers 404.
func (r *Response) RespondNotFound() error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if err := r.transition(stateNotFound); err != nil {
		return err
	}
	http.Error(r.w, "not found", http.StatusNotFound)
	r.headersSent = true
	return nil
}

// RespondNoContent answers 204, telling the appliance to keep its copy.
func (r *Response) RespondNoContent() error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if err := r.transition(stateNoContent); err != nil {
		return err
	}
	r.emitDocHeaders()
	r.w.WriteHeader(http.StatusNoContent)
	r.headersSent = true
	return nil
}

// OutputStream returns the body writer, committing the response to 200.
// Headers go out on the first write. Calling it again returns the same
// writer.
func (r *Response) OutputStream() (io.Writer, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if r.state == stateSendBody {
		return &bodyWriter{r: r}, nil
	}
	if err := r.transition(stateSendBody); err != nil {
		return nil, err
	}
	return &bodyWriter{r: r}, nil
}

// bodyWriter commits headers lazily so setters called before the first
// write still take effect.
type bodyWriter struct {
	r *Response
}

func (b *bodyWriter) Write(p []byte) (int, error) {
	b.r.mtx.Lock()
	defer b.r.mtx.Unlock()
	if b.r.state != stateSendBody {
		return 0, skerr.Wrapf(ErrIllegalState, "write in state %s", b.r.state)
	}
	if !b.r.headersSent {
		b.r.emitDocHeaders()
		b.r.w.WriteHeader(http.StatusOK)
		b.r.headersSent = true
	}
	if b.r.head {
		return len(p), nil
	}
	return b.r.w.Write(p)
}

// setter guards attribute mutation with the SETUP-only rule.
func (r *Response) setter(set func()) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if r.state != stateSetup {
		return skerr.Wrapf(ErrIllegalState, "setter in state %s", r.state)
	}
	set()
	return nil
}

// SetContentType sets the served Content-Type.
func (r *Response) SetContentType(contentType string) error {
	return r.setter(func() { r.contentType = contentType })
}

// SetLastModified sets the Last-Modified header value.
func (r *Response) SetLastModified(t time.Time) error {
	return r.setter(func() { r.lastModified = t })
}

// SetDisplayURL sets the URL shown to search users.
func (r *Response) SetDisplayURL(u string) error {
	return r.setter(func() { r.displayURL = u })
}

// SetMetadata attaches repository metadata, emitted as external-metadata
// headers.
func (r *Response) SetMetadata(md *metadata.Metadata) error {
	return r.setter(func() { r.md = md })
}

// SetAcl attaches the document ACL, emitted as headers when the caller is
// the appliance.
func (r *Response) SetAcl(a *acl.Acl) error {
	return r.setter(func() { r.docAcl = a })
}

// AddAnchor appends one anchor; anchors are emitted in insertion order.
func (r *Response) AddAnchor(text, uri string) error {
	return r.setter(func() { r.anchors = append(r.anchors, Anchor{Text: text, URI: uri}) })
}

// SetSecure marks the document as requiring authorization at serve time.
func (r *Response) SetSecure(secure bool) error {
	return r.setter(func() { r.secure = secure })
}

// SetNoIndex asks the appliance not to index the document body.
func (r *Response) SetNoIndex(v bool) error { return r.setter(func() { r.noIndex = v }) }

// SetNoFollow asks the appliance not to follow links in the document.
func (r *Response) SetNoFollow(v bool) error { return r.setter(func() { r.noFollow = v }) }

// SetNoArchive asks the appliance not to show a cached copy.
func (r *Response) SetNoArchive(v bool) error { return r.setter(func() { r.noArchive = v }) }

// SetCrawlOnce asks the appliance to never recrawl the document.
func (r *Response) SetCrawlOnce(v bool) error { return r.setter(func() { r.crawlOnce = v }) }

// SetLock protects the document from license-limit eviction.
func (r *Response) SetLock(v bool) error { return r.setter(func() { r.lock = v }) }

// abort forces a server error unless the response is already committed.
// Returns true if the 500 was written.
func (r *Response) abort(reason string) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if r.headersSent {
		r.state = stateAborted
		return false
	}
	r.state = stateAborted
	http.Error(r.w, reason, http.StatusInternalServerError)
	r.headersSent = true
	return true
}

// committed reports whether a decision was made.
func (r *Response) committed() bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.state != stateSetup
}

// emitDocHeaders writes the document attribute headers. Caller holds mtx.
func (r *Response) emitDocHeaders() {
	h := r.w.Header()
	if r.contentType != "" {
		h.Set("Content-Type", r.contentType)
	}
	if !r.lastModified.IsZero() {
		h.Set("Last-Modified", r.lastModified.UTC().Format(http.TimeFormat))
	}
	addMeta := func(name, value string) {
		h.Add(externalMetadataHeader, url.QueryEscape(name)+"="+url.QueryEscape(value))
	}
	if r.md != nil {
		for _, e := range r.md.Entries() {
			addMeta(e.Name, e.Value)
		}
	}
	if r.displayURL != "" {
		addMeta("google:displayurl", r.displayURL)
	}
	// ACLs only go to the appliance; other callers must not see them.
	if r.docAcl != nil && r.toAppliance {
		r.emitAclHeaders(addMeta)
	}
	for _, a := range r.anchors {
		if a.Text == "" {
			h.Add(externalAnchorHeader, url.QueryEscape(a.URI))
		} else {
			h.Add(externalAnchorHeader, url.QueryEscape(a.Text)+"="+url.QueryEscape(a.URI))
		}
	}
	if r.secure {
		h.Set(serveSecurityHeader, "secure")
	}
	if r.noIndex {
		h.Set("X-Robots-Tag", "noindex")
	}
	if r.noFollow {
		h.Add("X-Robots-Tag", "nofollow")
	}
	if r.noArchive {
		h.Add("X-Robots-Tag", "noarchive")
	}
	if r.crawlOnce {
		h.Set("X-Gsa-Crawl-Once", "true")
	}
	if r.lock {
		h.Set("X-Gsa-Lock", "true")
	}
}

func (r *Response) emitAclHeaders(addMeta func(name, value string)) {
	a := r.docAcl
	for _, p := range a.PermitUsers() {
		addMeta("google:aclusers", p.Name)
	}
	for _, p := range a.PermitGroups() {
		addMeta("google:aclgroups", p.Name)
	}
	for _, p := range a.DenyUsers() {
		addMeta("google:acldenyusers", p.Name)
	}
	for _, p := range a.DenyGroups() {
		addMeta("google:acldenygroups", p.Name)
	}
	addMeta("google:aclinheritancetype", a.InheritanceType().String())
	if parent, ok := a.InheritFrom(); ok {
		u := r.codec.Encode(parent.DocId)
		if parent.Fragment != "" {
			u.RawQuery = url.QueryEscape(parent.Fragment)
		}
		addMeta("google:aclinheritfrom", u.String())
	}
	if !a.IsCaseSensitive() {
		addMeta("google:aclcasesensitivitytype", "everything-case-insensitive")
	}
}

// Request is the read side of one document pull.
type Request struct {
	id            docid.DocId
	head          bool
	fromAppliance bool
	// lastAccess is the parsed If-Modified-Since; zero when absent.
	lastAccess time.Time
}

func newRequest(id docid.DocId, head, fromAppliance bool, ifModifiedSince string) *Request {
	req := &Request{id: id, head: head, fromAppliance: fromAppliance}
	if ifModifiedSince != "" {
		if t, err := parseHTTPDate(ifModifiedSince); err == nil {
			req.lastAccess = t
		}
	}
	return req
}

// parseHTTPDate accepts the standard HTTP date formats plus the appliance's
// feed date format.
func parseHTTPDate(s string) (time.Time, error) {
	if t, err := http.ParseTime(s); err == nil {
		return t, nil
	}
	if t, err := util.ParseTimeStamp(s); err == nil {
		return t, nil
	}
	return time.Time{}, skerr.Fmt("unparseable date %q", s)
}

// DocId is the identifier the URI decoded to.
func (r *Request) DocId() docid.DocId {
	return r.id
}

// IsHead reports whether only headers were requested.
func (r *Request) IsHead() bool {
	return r.head
}

// FromAppliance reports whether the caller is a trusted appliance address.
func (r *Request) FromAppliance() bool {
	return r.fromAppliance
}

// LastAccessTime returns the caller's If-Modified-Since time in GMT; ok is
// false when the header was absent or unparseable.
func (r *Request) LastAccessTime() (time.Time, bool) {
	return r.lastAccess.UTC(), !r.lastAccess.IsZero()
}

// HasChangedSinceLastAccess reports whether the document changed after the
// caller's copy. Without an If-Modified-Since it is always true.
func (r *Request) HasChangedSinceLastAccess(lastModified time.Time) bool {
	last, ok := r.LastAccessTime()
	if !ok {
		return true
	}
	return lastModified.After(last)
}

// CanRespondWithNoContent reports whether the caller would accept 204 for an
// unchanged document.
func (r *Request) CanRespondWithNoContent(lastModified time.Time) bool {
	return r.fromAppliance && !r.HasChangedSinceLastAccess(lastModified)
}

func (r *Request) String() string {
	return fmt.Sprintf("Request(%q head=%t appliance=%t)", r.id, r.head, r.fromAppliance)
}
