package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gsa-connectors/adaptor/adaptor/go/config"
	"github.com/gsa-connectors/adaptor/adaptor/go/docserver"
	"github.com/gsa-connectors/adaptor/adaptor/go/pusher"
	"github.com/gsa-connectors/adaptor/go/metrics2"
)

func init() {
	metrics2.InitForTesting(metrics2.NewMuteClient())
	initialInitWait = time.Millisecond
	maxInitWait = 4 * time.Millisecond
}

// fakeAdaptor counts lifecycle calls and can fail Init a configured number
// of times.
type fakeAdaptor struct {
	initFailures  int32
	initPermanent bool

	inits     int32
	listings  int32
	destroyed int32
}

func (f *fakeAdaptor) Init(ctx context.Context, appCtx *Context) error {
	atomic.AddInt32(&f.inits, 1)
	if atomic.AddInt32(&f.initFailures, -1) >= 0 {
		err := errors.New("repository unreachable")
		if f.initPermanent {
			return Unrecoverable(err)
		}
		return err
	}
	return nil
}

func (f *fakeAdaptor) GetDocIds(ctx context.Context, p DocIdPusher) error {
	atomic.AddInt32(&f.listings, 1)
	return nil
}

func (f *fakeAdaptor) GetDocContent(ctx context.Context, req *docserver.Request, resp *docserver.Response) error {
	resp.RespondNotFound()
	return nil
}

func (f *fakeAdaptor) Destroy() {
	atomic.AddInt32(&f.destroyed, 1)
}

func testConfig(t *testing.T, extra ...string) *config.Config {
	args := append([]string{
		"-Dgsa.hostname=gsa.example.com",
		"-Dserver.port=0",
		"-Dserver.dashboardPort=0",
		"-Dadaptor.incrementalPollPeriodSecs=0",
	}, extra...)
	c, err := config.Load(args)
	require.NoError(t, err)
	return c
}

func TestApplication_StartAndStop(t *testing.T) {
	adaptor := &fakeAdaptor{}
	app := New(adaptor, testConfig(t), nil)
	require.NoError(t, app.Start(context.Background()))
	require.Equal(t, int32(1), atomic.LoadInt32(&adaptor.inits))
	require.NoError(t, app.Stop(time.Second))
	require.Equal(t, int32(1), atomic.LoadInt32(&adaptor.destroyed))
}

func TestApplication_InitRetries(t *testing.T) {
	adaptor := &fakeAdaptor{initFailures: 2}
	app := New(adaptor, testConfig(t), nil)
	require.NoError(t, app.Start(context.Background()))
	require.Equal(t, int32(3), atomic.LoadInt32(&adaptor.inits))
	require.NoError(t, app.Stop(time.Second))
}

func TestApplication_UnrecoverableInitAborts(t *testing.T) {
	adaptor := &fakeAdaptor{initFailures: 100, initPermanent: true}
	app := New(adaptor, testConfig(t), nil)
	err := app.Start(context.Background())
	require.Error(t, err)
	var startup *StartupError
	require.ErrorAs(t, err, &startup)
	// No retrying on a permanent failure.
	require.Equal(t, int32(1), atomic.LoadInt32(&adaptor.inits))
}

func TestApplication_InitRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	adaptor := &fakeAdaptor{initFailures: 100}
	app := New(adaptor, testConfig(t), nil)
	err := app.Start(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestApplication_SecureNeedsKeyPair(t *testing.T) {
	adaptor := &fakeAdaptor{}
	app := New(adaptor, testConfig(t, "-Dserver.secure=true"), nil)
	err := app.Start(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), config.KeyTLSCertFile)
	// Init is never reached without a usable listener configuration.
	require.Equal(t, int32(0), atomic.LoadInt32(&adaptor.inits))
}

func TestApplication_FullPushCollapsesOverlap(t *testing.T) {
	adaptor := &fakeAdaptor{}
	app := New(adaptor, testConfig(t), nil)
	require.NoError(t, app.Start(context.Background()))
	defer func() {
		require.NoError(t, app.Stop(time.Second))
	}()

	require.NoError(t, app.fullPush(context.Background()))
	require.Equal(t, int32(1), atomic.LoadInt32(&adaptor.listings))
}

func TestApplication_BaseURL(t *testing.T) {
	app := New(&fakeAdaptor{}, testConfig(t, "-Dserver.hostname=connector.example.com", "-Dserver.port=8080"), nil)
	u, err := app.baseURL()
	require.NoError(t, err)
	require.Equal(t, "http://connector.example.com:8080/doc/", u.String())

	app = New(&fakeAdaptor{}, testConfig(t, "-Dserver.hostname=connector.example.com", "-Dserver.secure=true"), nil)
	u, err = app.baseURL()
	require.NoError(t, err)
	require.Equal(t, "https://connector.example.com:0/doc/", u.String())
}

func TestApplication_TrustedHostsIncludeFullAccessHosts(t *testing.T) {
	app := New(&fakeAdaptor{}, testConfig(t, "-Dserver.fullAccessHosts=10.1.2.3, admin.example.com"), nil)
	hosts := app.trustedHosts()
	require.Contains(t, hosts, "gsa.example.com")
	require.Contains(t, hosts, "10.1.2.3")
	require.Contains(t, hosts, "admin.example.com")
}

func TestUnrecoverable(t *testing.T) {
	require.NoError(t, Unrecoverable(nil))
	wrapped := Unrecoverable(errors.New("boom"))
	var startup *StartupError
	require.ErrorAs(t, wrapped, &startup)
	require.EqualError(t, startup.Unwrap(), "boom")
}

// gatedAdaptor holds its Init open until released, so tests can observe the
// application mid-initialization.
type gatedAdaptor struct {
	fakeAdaptor
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (g *gatedAdaptor) Init(ctx context.Context, appCtx *Context) error {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
		return g.fakeAdaptor.Init(ctx, appCtx)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Both listeners must answer while the adaptor is still initializing: the
// appliance heartbeats and the operator dashboard cannot wait out a slow
// repository.
func TestApplication_ListenersServeDuringInit(t *testing.T) {
	adaptor := &gatedAdaptor{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	app := New(adaptor, testConfig(t), nil)
	startErr := make(chan error, 1)
	go func() {
		startErr <- app.Start(context.Background())
	}()
	<-adaptor.started

	_, dashPort, err := net.SplitHostPort(app.DashboardAddr())
	require.NoError(t, err)
	resp, err := http.Get("http://127.0.0.1:" + dashPort + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	_, docPort, err := net.SplitHostPort(app.DocServerAddr())
	require.NoError(t, err)
	resp, err = http.Get("http://127.0.0.1:" + docPort + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, resp.Body.Close())

	close(adaptor.release)
	require.NoError(t, <-startErr)
	require.NoError(t, app.Stop(time.Second))
}

// fullPush must report ErrPushInProgress from the pusher as a skip, not a
// failure.
type busyAdaptor struct {
	fakeAdaptor
}

func (b *busyAdaptor) GetDocIds(ctx context.Context, p DocIdPusher) error {
	return pusher.ErrPushInProgress
}

func TestApplication_FullPushSkipsWhenBusy(t *testing.T) {
	app := New(&busyAdaptor{}, testConfig(t), nil)
	require.NoError(t, app.Start(context.Background()))
	defer func() {
		require.NoError(t, app.Stop(time.Second))
	}()
	require.NoError(t, app.fullPush(context.Background()))
}
