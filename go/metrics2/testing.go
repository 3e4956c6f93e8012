package metrics2

import (
	"sync"
	"time"
)

// muteInt64 is an Int64Metric that holds a value but reports nothing.
type muteInt64 struct {
	mtx sync.Mutex
	v   int64
}

func (m *muteInt64) Get() int64 {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.v
}

func (m *muteInt64) Update(v int64) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.v = v
}

func (m *muteInt64) Delete() error { return nil }

type muteFloat64 struct {
	mtx sync.Mutex
	v   float64
}

func (m *muteFloat64) Get() float64 {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.v
}

func (m *muteFloat64) Update(v float64) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.v = v
}

func (m *muteFloat64) Delete() error { return nil }

type muteSummary struct{}

func (m *muteSummary) Observe(v float64) {}

type muteCounter struct {
	muteInt64
}

func (c *muteCounter) Inc(i int64) { c.Update(c.Get() + i) }
func (c *muteCounter) Dec(i int64) { c.Update(c.Get() - i) }
func (c *muteCounter) Reset()      { c.Update(0) }

type muteLiveness struct {
	mtx  sync.Mutex
	last time.Time
}

func (l *muteLiveness) Get() int64 {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return int64(time.Since(l.last).Seconds())
}

func (l *muteLiveness) ManualReset(t time.Time) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.last = t
}

func (l *muteLiveness) Reset() { l.ManualReset(time.Now()) }

// muteClient implements Client entirely in memory, for tests.
type muteClient struct{}

func (c *muteClient) GetInt64Metric(measurement string, tags ...map[string]string) Int64Metric {
	return &muteInt64{}
}

func (c *muteClient) GetFloat64Metric(measurement string, tags ...map[string]string) Float64Metric {
	return &muteFloat64{}
}

func (c *muteClient) GetFloat64SummaryMetric(measurement string, tags ...map[string]string) Float64SummaryMetric {
	return &muteSummary{}
}

func (c *muteClient) NewCounter(name string, tags map[string]string) Counter {
	return &muteCounter{}
}

func (c *muteClient) NewLiveness(name string, tags map[string]string) Liveness {
	return &muteLiveness{last: time.Now()}
}

var _ Client = (*muteClient)(nil)

// NewMuteClient returns a Client that records values in memory without
// registering anything with Prometheus. Intended for tests.
func NewMuteClient() Client {
	return &muteClient{}
}
