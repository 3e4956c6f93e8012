package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	multierror "github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/gsa-connectors/adaptor/adaptor/go/acl"
	"github.com/gsa-connectors/adaptor/adaptor/go/authz"
	"github.com/gsa-connectors/adaptor/adaptor/go/config"
	"github.com/gsa-connectors/adaptor/adaptor/go/dashboard"
	"github.com/gsa-connectors/adaptor/adaptor/go/docid"
	"github.com/gsa-connectors/adaptor/adaptor/go/docserver"
	"github.com/gsa-connectors/adaptor/adaptor/go/feed"
	"github.com/gsa-connectors/adaptor/adaptor/go/feedsender"
	"github.com/gsa-connectors/adaptor/adaptor/go/pusher"
	"github.com/gsa-connectors/adaptor/adaptor/go/schedule"
	"github.com/gsa-connectors/adaptor/go/cleanup"
	"github.com/gsa-connectors/adaptor/go/skerr"
	"github.com/gsa-connectors/adaptor/go/sklog"
	"github.com/gsa-connectors/adaptor/go/sklog/sklogimpl"
	"github.com/gsa-connectors/adaptor/go/sklog/stdlogging"
)

// Init failures are retried with doubling waits between these bounds.
var (
	initialInitWait = 8 * time.Second
	maxInitWait     = time.Hour
)

// shutdownGrace is how long in-flight requests get after a signal.
const shutdownGrace = 3 * time.Second

// Application wires an Adaptor into the serving and feeding machinery. Build
// one with New, then Start it; Stop shuts everything down.
type Application struct {
	adaptor Adaptor
	cfg     *config.Config
	ring    *dashboard.RingLog

	journal *pusher.Journal
	pusher  *pusher.Pusher
	sched   *schedule.Scheduler

	docSrv   *http.Server
	dashSrv  *http.Server
	docAddr  string
	dashAddr string
	eg       *errgroup.Group
}

// New returns an unstarted Application. ring may be nil; the dashboard's
// getLog is then empty.
func New(adaptor Adaptor, cfg *config.Config, ring *dashboard.RingLog) *Application {
	return &Application{
		adaptor: adaptor,
		cfg:     cfg,
		ring:    ring,
		journal: pusher.NewJournal(),
	}
}

// baseURL is the root under which every fed document URL lives.
func (a *Application) baseURL() (*url.URL, error) {
	scheme := "http"
	if a.cfg.Secure() {
		scheme = "https"
	}
	raw := scheme + "://" + net.JoinHostPort(a.cfg.ServerHostname(), strconv.Itoa(a.cfg.ServerPort())) + "/doc/"
	u, err := url.Parse(raw)
	if err != nil {
		return nil, skerr.Wrapf(err, "building base URL from %q", raw)
	}
	return u, nil
}

// trustedHosts is the appliance plus server.fullAccessHosts, each with its
// resolved addresses so the peer check works whichever way the kernel
// reports the connection.
func (a *Application) trustedHosts() []string {
	hosts := append([]string{a.cfg.GsaHostname()}, a.cfg.FullAccessHosts()...)
	var ret []string
	for _, h := range hosts {
		ret = append(ret, h)
		addrs, err := net.LookupHost(h)
		if err != nil {
			sklog.Warningf("Could not resolve trusted host %q: %s", h, err)
			continue
		}
		ret = append(ret, addrs...)
	}
	return ret
}

// makerOptions translates the crawl-bit configuration.
func (a *Application) makerOptions() []feed.MakerOption {
	var opts []feed.MakerOption
	if v, ok := a.cfg.CrawlImmediatelyOverride(); ok {
		opts = append(opts, feed.WithCrawlImmediatelyOverride(v))
	}
	if v, ok := a.cfg.CrawlOnceOverride(); ok {
		opts = append(opts, feed.WithCrawlOnceOverride(v))
	}
	return opts
}

// initWithRetry calls the adaptor's Init until it succeeds, waiting longer
// after each failure. An Unrecoverable error or context cancellation aborts.
func (a *Application) initWithRetry(ctx context.Context, appCtx *Context) error {
	wait := initialInitWait
	for {
		err := a.adaptor.Init(ctx, appCtx)
		if err == nil {
			return nil
		}
		var startup *StartupError
		if errors.As(err, &startup) {
			return skerr.Wrap(err)
		}
		sklog.Errorf("Adaptor initialization failed, retrying in %s: %s", wait, err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return skerr.Wrap(ctx.Err())
		}
		if wait *= 2; wait > maxInitWait {
			wait = maxInitWait
		}
	}
}

// fullPush runs one full listing through the adaptor. Overlapping pushes are
// collapsed to one.
func (a *Application) fullPush(ctx context.Context) error {
	err := a.adaptor.GetDocIds(ctx, a.pusher)
	if errors.Is(err, pusher.ErrPushInProgress) {
		sklog.Infof("Skipping full listing; a push is already running")
		return nil
	}
	return err
}

func (a *Application) incrementalPush(ctx context.Context) error {
	lister, ok := a.adaptor.(IncrementalLister)
	if !ok {
		return nil
	}
	err := lister.GetModifiedDocIds(ctx, a.pusher)
	if errors.Is(err, pusher.ErrPushInProgress) {
		sklog.Infof("Skipping incremental poll; a push is already running")
		return nil
	}
	return err
}

// Start initializes the adaptor and brings up the document server, the
// dashboard and the push schedule. It returns once both listeners are
// running; Wait blocks on them.
func (a *Application) Start(ctx context.Context) error {
	base, err := a.baseURL()
	if err != nil {
		return skerr.Wrap(err)
	}
	codec, err := docid.NewCodec(base, a.cfg.DocIdIsURL())
	if err != nil {
		return skerr.Wrap(err)
	}
	sender := feedsender.New(a.cfg.GsaHostname(), a.cfg.Secure(), a.cfg.UseCompression(), nil)
	maker := feed.NewMaker(codec, a.makerOptions()...)
	a.pusher, err = pusher.New(sender, maker, a.journal, pusher.Options{
		Datasource:       a.cfg.FeedName(),
		MaxUrls:          a.cfg.FeedMaxUrls(),
		ArchiveDirectory: a.cfg.ArchiveDirectory(),
	})
	if err != nil {
		return skerr.Wrap(err)
	}

	if a.cfg.Secure() && (a.cfg.TLSCertFile() == "" || a.cfg.TLSKeyFile() == "") {
		return skerr.Fmt("%s requires %s and %s", config.KeyGsaSecure, config.KeyTLSCertFile, config.KeyTLSKeyFile)
	}

	tod, err := schedule.ParseTimeOfDay(a.cfg.FullListingSchedule())
	if err != nil {
		return skerr.Wrap(err)
	}

	docServer := docserver.New(codec, a.adaptor, a.journal, docserver.Options{
		TrustedHosts:   a.trustedHosts(),
		MaxWorkers:     a.cfg.MaxWorkerThreads(),
		QueueCapacity:  a.cfg.QueueCapacity(),
		MarkDocsPublic: a.cfg.MarkDocsPublic(),
	})
	var retriever acl.BatchRetriever
	if authority, ok := a.adaptor.(AuthzAuthority); ok {
		retriever = authority.AclRetriever()
	}
	router := chi.NewRouter()
	router.Method(http.MethodPost, "/authz", authz.New(codec, retriever))
	router.Mount("/", docServer.Router())

	dash := dashboard.New(a.journal, a.cfg, a.fullPush, a.ring)

	// The listeners come up before the repository is touched, so heartbeats
	// and the dashboard answer even while Init is still retrying.
	docLn, err := net.Listen("tcp", ":"+strconv.Itoa(a.cfg.ServerPort()))
	if err != nil {
		return skerr.Wrapf(err, "binding the document server")
	}
	dashLn, err := net.Listen("tcp", ":"+strconv.Itoa(a.cfg.DashboardPort()))
	if err != nil {
		_ = docLn.Close()
		return skerr.Wrapf(err, "binding the dashboard")
	}
	a.docAddr = docLn.Addr().String()
	a.dashAddr = dashLn.Addr().String()
	a.docSrv = &http.Server{Addr: a.docAddr, Handler: router}
	a.dashSrv = &http.Server{Addr: a.dashAddr, Handler: dash.Router()}
	a.eg = &errgroup.Group{}
	a.eg.Go(func() error {
		return serve(a.docSrv, docLn, a.cfg.Secure(), a.cfg.TLSCertFile(), a.cfg.TLSKeyFile())
	})
	a.eg.Go(func() error {
		return serve(a.dashSrv, dashLn, a.cfg.Secure(), a.cfg.TLSCertFile(), a.cfg.TLSKeyFile())
	})
	sklog.Infof("Serving documents on %s and the dashboard on %s", a.docAddr, a.dashAddr)

	if err := a.initWithRetry(ctx, &Context{Config: a.cfg, Pusher: a.pusher}); err != nil {
		_ = a.docSrv.Close()
		_ = a.dashSrv.Close()
		_ = a.eg.Wait()
		return skerr.Wrap(err)
	}
	sklog.Infof("Adaptor initialized; feeding %s as datasource %q", a.cfg.GsaHostname(), a.cfg.FeedName())

	a.sched = schedule.New()
	a.sched.Daily("full listing", tod, func(ctx context.Context) {
		if err := a.fullPush(ctx); err != nil {
			sklog.Errorf("Full listing failed: %s", err)
		}
	})
	if period := a.cfg.IncrementalPollPeriodSecs(); period > 0 {
		if _, ok := a.adaptor.(IncrementalLister); ok {
			a.sched.Every("incremental poll", time.Duration(period)*time.Second, func(ctx context.Context) {
				if err := a.incrementalPush(ctx); err != nil {
					sklog.Errorf("Incremental poll failed: %s", err)
				}
			})
		}
	}
	return nil
}

func serve(srv *http.Server, ln net.Listener, secure bool, certFile, keyFile string) error {
	var err error
	if secure {
		err = srv.ServeTLS(ln, certFile, keyFile)
	} else {
		err = srv.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// DocServerAddr is the document listener's bound address, available once
// Start returns; useful when server.port is 0.
func (a *Application) DocServerAddr() string {
	return a.docAddr
}

// DashboardAddr is the dashboard listener's bound address.
func (a *Application) DashboardAddr() string {
	return a.dashAddr
}

// Wait blocks until both listeners stop; it returns the first serve error.
func (a *Application) Wait() error {
	return a.eg.Wait()
}

// Stop shuts the application down: stop scheduling, drain the listeners
// within the grace period, run cleanup hooks and release the adaptor. All
// failures are collected.
func (a *Application) Stop(grace time.Duration) error {
	var ret *multierror.Error
	if a.sched != nil {
		a.sched.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	for _, srv := range []*http.Server{a.docSrv, a.dashSrv} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			ret = multierror.Append(ret, skerr.Wrapf(err, "shutting down %s", srv.Addr))
		}
	}
	if a.eg != nil {
		if err := a.eg.Wait(); err != nil {
			ret = multierror.Append(ret, err)
		}
	}
	cleanup.Cleanup()
	if destroyer, ok := a.adaptor.(Destroyer); ok {
		destroyer.Destroy()
	}
	return ret.ErrorOrNil()
}

// Run is the whole connector main: configure logging, load configuration
// from args, start the application and serve until a signal arrives. It
// returns the process exit code.
func Run(adaptor Adaptor, args []string) int {
	ring := dashboard.NewRingLog(1000)
	sklogimpl.SetLogger(stdlogging.New(dashboard.Tee(os.Stderr, ring)))

	cfg, err := config.Load(args)
	if err != nil {
		sklog.Errorf("Configuration failed: %s", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := New(adaptor, cfg, ring)
	if err := app.Start(ctx); err != nil {
		sklog.Errorf("Startup failed: %s", err)
		return 1
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- app.Wait()
	}()
	code := 0
	select {
	case <-ctx.Done():
		sklog.Infof("Shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			sklog.Errorf("Serving failed: %s", err)
			code = 1
		}
	}
	if err := app.Stop(shutdownGrace); err != nil {
		sklog.Errorf("Shutdown was not clean: %s", err)
		if code == 0 {
			code = 1
		}
	}
	return code
}
