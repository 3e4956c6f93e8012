// Package dashboard serves the operator console: a status page plus a
// JSON-RPC endpoint for diagnostics and for kicking off a feed push.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/securecookie"

	"github.com/gsa-connectors/adaptor/adaptor/go/config"
	"github.com/gsa-connectors/adaptor/adaptor/go/pusher"
	"github.com/gsa-connectors/adaptor/go/httputils"
	"github.com/gsa-connectors/adaptor/go/sklog"
)

const (
	sessionCookie = "adaptor-session"
	xsrfHeader    = "X-Xsrf-Token"

	sessionLifetime = 12 * time.Hour
)

// session is one operator login.
type session struct {
	xsrfToken string
	expires   time.Time
}

// PushStarter kicks off a full listing push; it returns
// pusher.ErrPushInProgress when one is already running.
type PushStarter func(ctx context.Context) error

// Server is the operator dashboard.
type Server struct {
	journal   *pusher.Journal
	cfg       *config.Config
	startPush PushStarter
	ringLog   *RingLog

	cookies *securecookie.SecureCookie

	mtx      sync.Mutex
	sessions map[string]*session
}

// New returns a dashboard Server. startPush may be nil when pushing is not
// wired (tests); ringLog may be nil to disable getLog.
func New(journal *pusher.Journal, cfg *config.Config, startPush PushStarter, ringLog *RingLog) *Server {
	return &Server{
		journal:   journal,
		cfg:       cfg,
		startPush: startPush,
		ringLog:   ringLog,
		cookies:   securecookie.New(securecookie.GenerateRandomKey(64), securecookie.GenerateRandomKey(32)),
		sessions:  map[string]*session{},
	}
}

// Router returns the dashboard handler: GET / for the status page, GET
// /session to establish a session, POST /rpc for actions.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(httputils.LoggingGzipRequestResponse)
	r.Get("/", s.index)
	r.Get("/healthz", httputils.HealthCheckHandler)
	r.Get("/session", s.newSession)
	r.Post("/rpc", s.rpc)
	return r
}

// newSession issues a session cookie and returns its XSRF token. Every RPC
// must echo the token in the X-Xsrf-Token header.
func (s *Server) newSession(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	sess := &session{
		xsrfToken: uuid.NewString(),
		expires:   time.Now().Add(sessionLifetime),
	}
	s.mtx.Lock()
	s.pruneLocked()
	s.sessions[id] = sess
	s.mtx.Unlock()

	encoded, err := s.cookies.Encode(sessionCookie, id)
	if err != nil {
		httputils.ReportError(w, err, "Failed to create a session.", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    encoded,
		Path:     "/",
		Expires:  sess.expires,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"xsrfToken": sess.xsrfToken})
}

// pruneLocked drops expired sessions. Caller holds mtx.
func (s *Server) pruneLocked() {
	now := time.Now()
	for id, sess := range s.sessions {
		if sess.expires.Before(now) {
			delete(s.sessions, id)
		}
	}
}

// authorize validates the session cookie and the XSRF header.
func (s *Server) authorize(r *http.Request) bool {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return false
	}
	var id string
	if err := s.cookies.Decode(sessionCookie, c.Value, &id); err != nil {
		return false
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.expires.Before(time.Now()) {
		return false
	}
	return r.Header.Get(xsrfHeader) == sess.xsrfToken
}

// rpcRequest is one JSON-RPC call.
type rpcRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Id     int64           `json:"id"`
}

type rpcResponse struct {
	Result interface{} `json:"result"`
	Error  string      `json:"error,omitempty"`
	Id     int64       `json:"id"`
}

func (s *Server) rpc(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "session required", http.StatusForbidden)
		return
	}
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputils.ReportError(w, err, "Failed to parse the RPC request.", http.StatusBadRequest)
		return
	}

	resp := rpcResponse{Id: req.Id}
	result, err := s.dispatch(r.Context(), req.Method)
	if err != nil {
		sklog.Warningf("Dashboard RPC %s failed: %s", req.Method, err)
		resp.Error = err.Error()
	} else {
		resp.Result = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) dispatch(ctx context.Context, method string) (interface{}, error) {
	switch method {
	case "getStatus":
		return s.getStatus(), nil
	case "startFeedPush":
		return s.startFeedPush()
	case "checkConfig":
		return s.checkConfig(), nil
	case "getLog":
		return s.getLog(), nil
	}
	return nil, errors.New("unknown method " + method)
}

// status is what getStatus returns.
type status struct {
	Journal  pusher.Snapshot `json:"journal"`
	FeedName string          `json:"feedName"`
	GsaHost  string          `json:"gsaHost"`
}

func (s *Server) getStatus() status {
	return status{
		Journal:  s.journal.Snapshot(),
		FeedName: s.cfg.FeedName(),
		GsaHost:  s.cfg.GsaHostname(),
	}
}

func (s *Server) startFeedPush() (interface{}, error) {
	if s.startPush == nil {
		return nil, errors.New("feed pushing is not configured")
	}
	// Detach from the request so the push survives the RPC returning.
	go func() {
		if err := s.startPush(context.Background()); err != nil && !errors.Is(err, pusher.ErrPushInProgress) {
			sklog.Errorf("Dashboard-started feed push failed: %s", err)
		}
	}()
	return "started", nil
}

// checkConfig returns the configured keys with obviously sensitive values
// masked.
func (s *Server) checkConfig() map[string]string {
	ret := map[string]string{}
	for _, key := range s.cfg.Keys() {
		value := s.cfg.Get(key, "")
		lower := strings.ToLower(key)
		if strings.Contains(lower, "password") || strings.Contains(lower, "secret") || strings.Contains(lower, "key") {
			value = "*****"
		}
		ret[key] = value
	}
	return ret
}

func (s *Server) getLog() []string {
	if s.ringLog == nil {
		return nil
	}
	return s.ringLog.Lines()
}

// index serves a minimal status page; the real console talks to /rpc.
func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	snap := s.journal.Snapshot()
	page := `<!DOCTYPE html>
<html>
<head><title>Connector Dashboard</title></head>
<body>
<h1>Connector Dashboard</h1>
<p>Feed: ` + s.cfg.FeedName() + ` &rarr; ` + s.cfg.GsaHostname() + `</p>
<p>Last push: ` + snap.LastPushStatus + `</p>
<p>Use GET /session and POST /rpc for actions.</p>
</body>
</html>
`
	_, _ = w.Write([]byte(page))
}
