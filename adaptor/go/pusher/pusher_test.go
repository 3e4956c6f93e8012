package pusher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gsa-connectors/adaptor/adaptor/go/acl"
	"github.com/gsa-connectors/adaptor/adaptor/go/docid"
	"github.com/gsa-connectors/adaptor/adaptor/go/feed"
	"github.com/gsa-connectors/adaptor/adaptor/go/feedsender"
	"github.com/gsa-connectors/adaptor/adaptor/go/principal"
	"github.com/gsa-connectors/adaptor/go/metrics2"
)

func init() {
	metrics2.InitForTesting(metrics2.NewMuteClient())
}

// fakeAppliance accepts feed POSTs and remembers their bodies.
type fakeAppliance struct {
	mtx    sync.Mutex
	bodies []string
	paths  []string
	// failures is the number of requests to reject before accepting.
	failures int
}

func (f *fakeAppliance) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.bodies = append(f.bodies, string(b))
	f.paths = append(f.paths, r.URL.Path)
	if f.failures > 0 {
		f.failures--
		_, _ = w.Write([]byte("Internal Error"))
		return
	}
	_, _ = w.Write([]byte("Success"))
}

func (f *fakeAppliance) requestCount() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return len(f.bodies)
}

// noRetry fails fast so tests never sleep.
func noRetry(kind feedsender.ErrorKind, attempt int) (bool, time.Duration) {
	return false, 0
}

func newTestPusher(t *testing.T, appliance *fakeAppliance, opts Options) *Pusher {
	srv := httptest.NewServer(appliance)
	t.Cleanup(srv.Close)
	host := strings.TrimPrefix(srv.URL, "http://")
	sender := feedsender.New(host, false, false, srv.Client())

	base, err := url.Parse("http://localhost:5678/doc/")
	require.NoError(t, err)
	codec, err := docid.NewCodec(base, false)
	require.NoError(t, err)
	maker := feed.NewMaker(codec)

	if opts.Datasource == "" {
		opts.Datasource = "testing"
	}
	if opts.FeedRateLimit == 0 {
		// Tests push many feeds; do not throttle.
		opts.FeedRateLimit = 10000
		opts.FeedRateBurst = 10000
	}
	journal := newJournal(metrics2.NewMuteClient(), time.Now)
	p, err := New(sender, maker, journal, opts)
	require.NoError(t, err)
	return p
}

func aclPermitting(t *testing.T, users ...principal.Principal) acl.Acl {
	return acl.NewBuilder().PermitUsers(users).MustBuild()
}

func records(n int) []feed.Record {
	ret := make([]feed.Record, 0, n)
	for i := 0; i < n; i++ {
		ret = append(ret, feed.Record{DocId: docid.DocId(fmt.Sprintf("doc%03d", i))})
	}
	return ret
}

func TestPushRecords_BatchesInOrder(t *testing.T) {
	appliance := &fakeAppliance{}
	p := newTestPusher(t, appliance, Options{MaxUrls: 2})

	failed, err := p.PushRecords(context.Background(), records(6), noRetry)
	require.NoError(t, err)
	require.Nil(t, failed)
	require.Equal(t, 3, appliance.requestCount())

	// Records stay in order across feeds.
	require.Contains(t, appliance.bodies[0], "doc000")
	require.Contains(t, appliance.bodies[0], "doc001")
	require.NotContains(t, appliance.bodies[0], "doc002")
	require.Contains(t, appliance.bodies[1], "doc002")
	require.Contains(t, appliance.bodies[2], "doc005")
	for _, body := range appliance.bodies {
		require.Contains(t, body, "testing")
	}
}

func TestPushRecords_ExactBatchBoundaries(t *testing.T) {
	appliance := &fakeAppliance{}
	p := newTestPusher(t, appliance, Options{MaxUrls: 3})

	// Exactly maxUrls is a single feed.
	failed, err := p.PushRecords(context.Background(), records(3), noRetry)
	require.NoError(t, err)
	require.Nil(t, failed)
	require.Equal(t, 1, appliance.requestCount())

	// maxUrls+1 is two feeds, the first full.
	failed, err = p.PushRecords(context.Background(), records(4), noRetry)
	require.NoError(t, err)
	require.Nil(t, failed)
	require.Equal(t, 3, appliance.requestCount())
	require.Contains(t, appliance.bodies[1], "doc002")
	require.NotContains(t, appliance.bodies[1], "doc003")
	require.Contains(t, appliance.bodies[2], "doc003")
}

func TestPushRecords_ReturnsFirstFailedRecord(t *testing.T) {
	// The first feed succeeds, the second is rejected.
	appliance := &fakeAppliance{}
	p := newTestPusher(t, appliance, Options{MaxUrls: 2})

	var calls int
	policy := func(kind feedsender.ErrorKind, attempt int) (bool, time.Duration) {
		calls++
		require.Equal(t, feedsender.FailedReply, kind)
		return false, 0
	}

	failed, err := p.PushRecords(context.Background(), records(2), policy)
	require.NoError(t, err)
	require.Nil(t, failed)

	appliance.failures = 1
	failed, err = p.PushRecords(context.Background(), records(6), policy)
	require.NoError(t, err)
	require.NotNil(t, failed)
	// The rejected batch was the first one, so its first record comes back.
	require.Equal(t, docid.DocId("doc000"), failed.DocId)
	// Later batches are not attempted.
	require.Equal(t, 2, appliance.requestCount())
	require.Equal(t, 1, calls)
}

func TestPushRecords_RetriesWithPolicy(t *testing.T) {
	appliance := &fakeAppliance{failures: 2}
	p := newTestPusher(t, appliance, Options{MaxUrls: 10})

	var attempts []int
	policy := func(kind feedsender.ErrorKind, attempt int) (bool, time.Duration) {
		attempts = append(attempts, attempt)
		return attempt < 5, 0
	}
	failed, err := p.PushRecords(context.Background(), records(3), policy)
	require.NoError(t, err)
	require.Nil(t, failed)
	// Two failures then success; attempts are 1-origin.
	require.Equal(t, []int{1, 2}, attempts)
	require.Equal(t, 3, appliance.requestCount())
}

func TestPushRecords_SingleFlight(t *testing.T) {
	appliance := &fakeAppliance{}
	p := newTestPusher(t, appliance, Options{})

	p.contentFlight.Lock()
	_, err := p.PushRecords(context.Background(), records(1), noRetry)
	require.ErrorIs(t, err, ErrPushInProgress)
	p.contentFlight.Unlock()

	failed, err := p.PushRecords(context.Background(), records(1), noRetry)
	require.NoError(t, err)
	require.Nil(t, failed)
}

func TestPushRecords_Journal(t *testing.T) {
	appliance := &fakeAppliance{}
	p := newTestPusher(t, appliance, Options{MaxUrls: 2})

	_, err := p.PushRecords(context.Background(), records(4), noRetry)
	require.NoError(t, err)
	snap := p.journal.Snapshot()
	require.Equal(t, int64(4), snap.TotalPushed)
	require.Equal(t, int64(4), snap.UniquePushed)
	require.Equal(t, "SUCCESS", snap.LastPushStatus)
	require.False(t, snap.LastSuccessfulPushEnd.IsZero())

	// Re-pushing the same ids bumps the total but not the unique count.
	_, err = p.PushRecords(context.Background(), records(4), noRetry)
	require.NoError(t, err)
	snap = p.journal.Snapshot()
	require.Equal(t, int64(8), snap.TotalPushed)
	require.Equal(t, int64(4), snap.UniquePushed)

	appliance.failures = 100
	_, err = p.PushRecords(context.Background(), records(2), noRetry)
	require.NoError(t, err)
	require.Equal(t, "FAILURE", p.journal.Snapshot().LastPushStatus)
}

func TestPushRecords_Archive(t *testing.T) {
	appliance := &fakeAppliance{}
	dir := t.TempDir()
	p := newTestPusher(t, appliance, Options{MaxUrls: 2, ArchiveDirectory: dir})

	_, err := p.PushRecords(context.Background(), records(4), noRetry)
	require.NoError(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		require.True(t, strings.HasPrefix(e.Name(), "testing-"))
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		require.Contains(t, string(b), "gsafeed")
	}
}

func TestPushNamedResources(t *testing.T) {
	appliance := &fakeAppliance{}
	p := newTestPusher(t, appliance, Options{MaxUrls: 2})

	alice, err := principal.NewUser("alice")
	require.NoError(t, err)
	a := aclPermitting(t, alice)
	resources := []feed.NamedResource{
		{DocId: "r1", Acl: a},
		{DocId: "r2", Fragment: "extra", Acl: a},
		{DocId: "r3", Acl: a},
	}
	require.NoError(t, p.PushNamedResources(context.Background(), resources, noRetry))
	require.Equal(t, 2, appliance.requestCount())
	require.Contains(t, appliance.bodies[0], "r1")
	require.Contains(t, appliance.bodies[1], "r3")
}

func TestPushGroupDefinitions(t *testing.T) {
	appliance := &fakeAppliance{}
	p := newTestPusher(t, appliance, Options{MaxUrls: 1})

	eng, err := principal.NewGroup("eng")
	require.NoError(t, err)
	qa, err := principal.NewGroup("qa")
	require.NoError(t, err)
	alice, err := principal.NewUser("alice")
	require.NoError(t, err)

	groups := feed.GroupDefinitions{
		eng: {alice, qa},
		qa:  {alice},
	}
	err = p.PushGroupDefinitions(context.Background(), groups, true, feedsender.Replace, "groupsrc", noRetry)
	require.NoError(t, err)
	require.Equal(t, 2, appliance.requestCount())
	require.Equal(t, "/xmlgroups", appliance.paths[0])
	// Only the first batch replaces; the rest merge.
	require.Contains(t, appliance.bodies[0], "\r\n\r\nfull\r\n")
	require.Contains(t, appliance.bodies[1], "\r\n\r\nincremental\r\n")

	err = p.PushGroupDefinitions(context.Background(), groups, true, feedsender.Replace, "bad name", noRetry)
	require.Error(t, err)
}
