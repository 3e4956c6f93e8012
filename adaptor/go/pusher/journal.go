package pusher

import (
	"sync"
	"time"

	"github.com/gsa-connectors/adaptor/adaptor/go/docid"
	"github.com/gsa-connectors/adaptor/go/metrics2"
	"github.com/gsa-connectors/adaptor/go/util"
)

// PushStatus is how the most recent feed push ended.
type PushStatus int

const (
	// StatusNone means no push has completed yet.
	StatusNone PushStatus = iota
	// StatusSuccess means every batch was accepted.
	StatusSuccess
	// StatusInterruption means the push stopped before sending everything,
	// e.g. the repository failed while listing or the process is shutting
	// down.
	StatusInterruption
	// StatusFailure means the appliance rejected a batch and retries were
	// exhausted.
	StatusFailure
)

func (s PushStatus) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusInterruption:
		return "INTERRUPTION"
	case StatusFailure:
		return "FAILURE"
	default:
		return "NONE"
	}
}

// window is a sliding-window event counter.
type window struct {
	span   time.Duration
	events []time.Time
}

func (w *window) add(now time.Time) {
	w.events = append(w.events, now)
	w.prune(now)
}

func (w *window) count(now time.Time) int {
	w.prune(now)
	return len(w.events)
}

func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.events) && !w.events[i].After(cutoff) {
		i++
	}
	w.events = w.events[i:]
}

// Journal tracks what the connector has pushed and served, for the operator
// dashboard and for metrics.
type Journal struct {
	mtx sync.Mutex

	now func() time.Time

	totalPushed  int64
	uniquePushed util.StringSet

	totalRequests  int64
	gsaRequests    int64
	uniqueRequests util.StringSet

	requestsMinute window
	requestsHour   window
	requestsDay    window

	lastPushStart           time.Time
	lastSuccessfulPushStart time.Time
	lastSuccessfulPushEnd   time.Time
	lastPushStatus          PushStatus

	pushedCount    metrics2.Counter
	requestCount   metrics2.Counter
	requestLatency metrics2.Float64SummaryMetric
	pushLiveness   metrics2.Liveness
}

// NewJournal returns an empty Journal reporting through the default metrics
// client.
func NewJournal() *Journal {
	return newJournal(metrics2.GetDefaultClient(), time.Now)
}

func newJournal(client metrics2.Client, now func() time.Time) *Journal {
	return &Journal{
		now:            now,
		uniquePushed:   util.StringSet{},
		uniqueRequests: util.StringSet{},
		requestsMinute: window{span: time.Minute},
		requestsHour:   window{span: time.Hour},
		requestsDay:    window{span: 24 * time.Hour},
		pushedCount:    client.NewCounter("feed_records_pushed", nil),
		requestCount:   client.NewCounter("doc_requests_served", nil),
		requestLatency: client.GetFloat64SummaryMetric("doc_request_latency_ms"),
		pushLiveness:   client.NewLiveness("feed_push", nil),
	}
}

// RecordPushStarted marks the beginning of a feed push.
func (j *Journal) RecordPushStarted() {
	j.mtx.Lock()
	defer j.mtx.Unlock()
	j.lastPushStart = j.now()
}

// RecordPushSuccessful marks a completed push of the given identifiers.
func (j *Journal) RecordPushSuccessful(ids []docid.DocId) {
	j.mtx.Lock()
	defer j.mtx.Unlock()
	j.totalPushed += int64(len(ids))
	for _, id := range ids {
		j.uniquePushed[string(id)] = true
	}
	j.lastSuccessfulPushStart = j.lastPushStart
	j.lastSuccessfulPushEnd = j.now()
	j.lastPushStatus = StatusSuccess
	j.pushedCount.Inc(int64(len(ids)))
	j.pushLiveness.Reset()
}

// RecordPushInterrupted marks a push that stopped before completion.
func (j *Journal) RecordPushInterrupted() {
	j.mtx.Lock()
	defer j.mtx.Unlock()
	j.lastPushStatus = StatusInterruption
}

// RecordPushFailed marks a push rejected by the appliance.
func (j *Journal) RecordPushFailed() {
	j.mtx.Lock()
	defer j.mtx.Unlock()
	j.lastPushStatus = StatusFailure
}

// RecordRequest notes one served document request.
func (j *Journal) RecordRequest(id docid.DocId, fromAppliance bool, latency time.Duration) {
	j.mtx.Lock()
	defer j.mtx.Unlock()
	now := j.now()
	j.totalRequests++
	if fromAppliance {
		j.gsaRequests++
	}
	j.uniqueRequests[string(id)] = true
	j.requestsMinute.add(now)
	j.requestsHour.add(now)
	j.requestsDay.add(now)
	j.requestCount.Inc(1)
	j.requestLatency.Observe(float64(latency.Milliseconds()))
}

// Snapshot is a point-in-time copy of the journal for the dashboard.
type Snapshot struct {
	TotalPushed  int64 `json:"totalPushed"`
	UniquePushed int64 `json:"uniquePushed"`

	TotalRequests     int64 `json:"totalRequests"`
	ApplianceRequests int64 `json:"applianceRequests"`
	UniqueRequests    int64 `json:"uniqueRequests"`

	RequestsLastMinute int `json:"requestsLastMinute"`
	RequestsLastHour   int `json:"requestsLastHour"`
	RequestsLastDay    int `json:"requestsLastDay"`

	LastPushStart           time.Time `json:"lastPushStart"`
	LastSuccessfulPushStart time.Time `json:"lastSuccessfulPushStart"`
	LastSuccessfulPushEnd   time.Time `json:"lastSuccessfulPushEnd"`
	LastPushStatus          string    `json:"lastPushStatus"`
}

// Snapshot returns the journal's current totals.
func (j *Journal) Snapshot() Snapshot {
	j.mtx.Lock()
	defer j.mtx.Unlock()
	now := j.now()
	return Snapshot{
		TotalPushed:             j.totalPushed,
		UniquePushed:            int64(len(j.uniquePushed)),
		TotalRequests:           j.totalRequests,
		ApplianceRequests:       j.gsaRequests,
		UniqueRequests:          int64(len(j.uniqueRequests)),
		RequestsLastMinute:      j.requestsMinute.count(now),
		RequestsLastHour:        j.requestsHour.count(now),
		RequestsLastDay:         j.requestsDay.count(now),
		LastPushStart:           j.lastPushStart,
		LastSuccessfulPushStart: j.lastSuccessfulPushStart,
		LastSuccessfulPushEnd:   j.lastSuccessfulPushEnd,
		LastPushStatus:          j.lastPushStatus.String(),
	}
}
