// Package docserver serves document content to the search appliance: it
// decodes request URIs back to identifiers, enforces the caller-source
// check, and hands the repository a one-shot response handle.
package docserver

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gsa-connectors/adaptor/adaptor/go/docid"
	"github.com/gsa-connectors/adaptor/adaptor/go/pusher"
	"github.com/gsa-connectors/adaptor/go/httputils"
	"github.com/gsa-connectors/adaptor/go/metrics2"
	"github.com/gsa-connectors/adaptor/go/sklog"
	"github.com/gsa-connectors/adaptor/go/util"
)

// ContentProvider is the repository side of a document pull. The provider
// must decide the response (status or body) before returning; returning with
// the response still undecided is a server error.
type ContentProvider interface {
	GetDocContent(ctx context.Context, req *Request, resp *Response) error
}

// ContentProviderFunc adapts a function to ContentProvider.
type ContentProviderFunc func(ctx context.Context, req *Request, resp *Response) error

// GetDocContent implements ContentProvider.
func (f ContentProviderFunc) GetDocContent(ctx context.Context, req *Request, resp *Response) error {
	return f(ctx, req, resp)
}

// Options configures a Server.
type Options struct {
	// TrustedHosts are peer IPs or hostnames allowed to fetch documents,
	// normally the appliance's addresses; server.fullAccessHosts adds more.
	TrustedHosts []string

	// MaxWorkers bounds concurrent repository calls; server.maxWorkerThreads.
	MaxWorkers int

	// QueueCapacity bounds calls waiting for a worker; server.queueCapacity.
	// Requests beyond the queue are refused immediately.
	QueueCapacity int

	// RequestTimeout aborts a repository call that neither responds nor
	// streams within it. Zero means one minute.
	RequestTimeout time.Duration

	// MarkDocsPublic declares every document public: peers outside
	// TrustedHosts are served (without ACL headers) instead of refused;
	// adaptor.markDocsPublic in the config.
	MarkDocsPublic bool
}

// Server routes document requests to a ContentProvider.
type Server struct {
	codec    *docid.Codec
	provider ContentProvider
	journal  *pusher.Journal

	trusted util.StringSet

	workers        chan struct{}
	queued         int32
	queueCapacity  int32
	requestTimeout time.Duration
	markDocsPublic bool

	requestsRefused   metrics2.Counter
	requestsForbidden metrics2.Counter
	watchdogFired     metrics2.Counter
}

// New returns a Server; Router exposes its handler.
func New(codec *docid.Codec, provider ContentProvider, journal *pusher.Journal, opts Options) *Server {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 16
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 10 * opts.MaxWorkers
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = time.Minute
	}
	trusted := util.StringSet{}
	for _, h := range opts.TrustedHosts {
		trusted[strings.ToLower(h)] = true
	}
	return &Server{
		codec:             codec,
		provider:          provider,
		journal:           journal,
		trusted:           trusted,
		workers:           make(chan struct{}, opts.MaxWorkers),
		queueCapacity:     int32(opts.QueueCapacity),
		requestTimeout:    opts.RequestTimeout,
		markDocsPublic:    opts.MarkDocsPublic,
		requestsRefused:   metrics2.NewCounter("doc_requests_refused", nil),
		requestsForbidden: metrics2.NewCounter("doc_requests_forbidden", nil),
		watchdogFired:     metrics2.NewCounter("doc_request_watchdog_fired", nil),
	}
}

// AddTrustedHost allows another peer to fetch documents.
func (s *Server) AddTrustedHost(host string) {
	s.trusted[strings.ToLower(host)] = true
}

// Router returns the HTTP handler: /doc/* for content, /heartbeat/* for the
// appliance's HEAD-equivalent liveness probe, /healthz for load balancers.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(httputils.LoggingRequestResponse)
	r.Get("/healthz", httputils.HealthCheckHandler)
	r.Get("/doc/*", func(w http.ResponseWriter, req *http.Request) {
		s.handleDoc(w, req, false)
	})
	r.Head("/doc/*", func(w http.ResponseWriter, req *http.Request) {
		s.handleDoc(w, req, true)
	})
	// Heartbeats are HEAD requests in GET clothing.
	r.Get("/heartbeat/*", func(w http.ResponseWriter, req *http.Request) {
		s.handleDoc(&heartbeatWriter{ResponseWriter: w}, req, true)
	})
	r.Head("/heartbeat/*", func(w http.ResponseWriter, req *http.Request) {
		s.handleDoc(&heartbeatWriter{ResponseWriter: w}, req, true)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "only GET and HEAD are supported", http.StatusMethodNotAllowed)
	})
	return r
}

// acquireWorker blocks until a worker slot is free, or refuses when the
// queue is full. Returns false if the request must be refused.
func (s *Server) acquireWorker(ctx context.Context) bool {
	select {
	case s.workers <- struct{}{}:
		return true
	default:
	}
	if atomic.AddInt32(&s.queued, 1) > s.queueCapacity {
		atomic.AddInt32(&s.queued, -1)
		return false
	}
	defer atomic.AddInt32(&s.queued, -1)
	select {
	case s.workers <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Server) releaseWorker() {
	<-s.workers
}

// heartbeatWriter suppresses the document-description headers on heartbeat
// replies; the probe only cares about status and Last-Modified.
type heartbeatWriter struct {
	http.ResponseWriter
}

func (w *heartbeatWriter) WriteHeader(code int) {
	h := w.Header()
	for name := range h {
		if strings.HasPrefix(name, "X-Gsa-") || name == "X-Robots-Tag" {
			h.Del(name)
		}
	}
	w.ResponseWriter.WriteHeader(code)
}

// peerHost extracts the caller's address without port.
func peerHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return strings.ToLower(remoteAddr)
	}
	return strings.ToLower(host)
}

// docURL rebuilds the request URL the codec expects: the configured base
// with the wildcard remainder, ignoring which prefix routed here.
func (s *Server) docURL(req *http.Request) *docid.DocId {
	encoded := chi.URLParam(req, "*")
	u := *s.codec.BaseURL()
	u.Path = u.Path + encoded
	id, err := s.codec.Decode(&u)
	if err != nil {
		sklog.Infof("Undecodable document URI %q: %s", req.URL.Path, err)
		return nil
	}
	return &id
}

func (s *Server) handleDoc(w http.ResponseWriter, req *http.Request, head bool) {
	begin := time.Now()

	id := s.docURL(req)
	if id == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	peer := peerHost(req.RemoteAddr)
	fromAppliance := s.trusted[peer]
	if !fromAppliance && !s.markDocsPublic {
		s.requestsForbidden.Inc(1)
		sklog.Warningf("Refusing document request for %q from untrusted peer %s", *id, peer)
		http.Error(w, "forbidden", http.StatusForbidden)
		if s.journal != nil {
			s.journal.RecordRequest(*id, false, time.Since(begin))
		}
		return
	}

	if !s.acquireWorker(req.Context()) {
		s.requestsRefused.Inc(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
		return
	}

	request := newRequest(*id, head, fromAppliance, req.Header.Get("If-Modified-Since"))
	response := newResponse(w, s.codec, head, fromAppliance)

	ctx, cancel := context.WithTimeout(req.Context(), s.requestTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.provider.GetDocContent(ctx, request, response)
		s.releaseWorker()
	}()

	select {
	case err := <-done:
		if err != nil {
			sklog.Errorf("Repository failed on %q: %s", *id, err)
			response.abort("repository error")
		} else if !response.committed() {
			// The provider returned without deciding anything.
			sklog.Errorf("Repository returned without responding for %q", *id)
			response.abort("no response produced")
		}
	case <-ctx.Done():
		// Abandon the provider rather than wait for it; the response handle
		// rejects any writes it attempts from here on, and the worker slot is
		// freed when it eventually returns.
		s.watchdogFired.Inc(1)
		sklog.Errorf("Repository timed out on %q after %s", *id, s.requestTimeout)
		wrote := response.abort("repository timeout")
		if s.journal != nil {
			s.journal.RecordRequest(*id, fromAppliance, time.Since(begin))
		}
		if !wrote {
			// Mid-body: the only way to signal failure is to drop the
			// connection.
			panic(http.ErrAbortHandler)
		}
		return
	}

	if s.journal != nil {
		s.journal.RecordRequest(*id, fromAppliance, time.Since(begin))
	}
}
