package metrics2

import (
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gsa-connectors/adaptor/go/sklog"
)

var (
	// invalidChar is used to force metric and tag names to conform to
	// Prometheus's restrictions.
	invalidChar = regexp.MustCompile("([^a-zA-Z0-9_:])")
)

func clean(s string) string {
	return invalidChar.ReplaceAllLiteralString(s, "_")
}

// promInt64 implements the Int64Metric interface.
type promInt64 struct {
	// i tracks the value of the gauge, because prometheus client lib doesn't
	// support get on Gauge values.
	i     int64
	gauge prometheus.Gauge
}

func (m *promInt64) Get() int64 {
	return atomic.LoadInt64(&(m.i))
}

func (m *promInt64) Update(v int64) {
	atomic.StoreInt64(&(m.i), v)
	m.gauge.Set(float64(v))
}

func (m *promInt64) Delete() error {
	// The delete is a lie.
	return nil
}

// promFloat64 implements the Float64Metric interface.
type promFloat64 struct {
	// i tracks the value of the gauge, because prometheus client lib doesn't
	// support get on Gauge values.
	mutex sync.Mutex
	i     float64
	gauge prometheus.Gauge
}

func (m *promFloat64) Get() float64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.i
}

func (m *promFloat64) Update(v float64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.i = v
	m.gauge.Set(float64(v))
}

func (m *promFloat64) Delete() error {
	// The delete is a lie.
	return nil
}

// promFloat64Summary implements the Float64SummaryMetric interface.
type promFloat64Summary struct {
	summary prometheus.Observer
}

func (m *promFloat64Summary) Observe(v float64) {
	m.summary.Observe(v)
}

// promCounter implements the Counter interface.
type promCounter struct {
	promInt64
}

func (pc *promCounter) Inc(i int64) {
	pc.Update(pc.Get() + i)
}

func (pc *promCounter) Dec(i int64) {
	pc.Update(pc.Get() - i)
}

func (pc *promCounter) Reset() {
	pc.Update(0)
}

// promLiveness implements the Liveness interface.
type promLiveness struct {
	lastSuccessfulUpdate time.Time
	m                    Int64Metric
	mtx                  sync.Mutex
}

func (l *promLiveness) Get() int64 {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return int64(time.Since(l.lastSuccessfulUpdate).Seconds())
}

func (l *promLiveness) ManualReset(lastSuccessfulUpdate time.Time) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.lastSuccessfulUpdate = lastSuccessfulUpdate
	l.m.Update(int64(time.Since(l.lastSuccessfulUpdate).Seconds()))
}

func (l *promLiveness) Reset() {
	l.ManualReset(time.Now())
}

// promClient implements the Client interface.
type promClient struct {
	int64GaugeVecs map[string]*prometheus.GaugeVec
	int64Gauges    map[string]*promInt64
	int64Mutex     sync.Mutex

	float64GaugeVecs map[string]*prometheus.GaugeVec
	float64Gauges    map[string]*promFloat64
	float64Mutex     sync.Mutex

	float64SummaryVecs  map[string]*prometheus.SummaryVec
	float64Summaries    map[string]*promFloat64Summary
	float64SummaryMutex sync.Mutex
}

func newPromClient() *promClient {
	return &promClient{
		int64GaugeVecs:     map[string]*prometheus.GaugeVec{},
		int64Gauges:        map[string]*promInt64{},
		float64GaugeVecs:   map[string]*prometheus.GaugeVec{},
		float64Gauges:      map[string]*promFloat64{},
		float64SummaryVecs: map[string]*prometheus.SummaryVec{},
		float64Summaries:   map[string]*promFloat64Summary{},
	}
}

// commonGet canonicalizes a measurement plus tags into a cache key, the
// cleaned metric name, and the sorted tag keys and values.
func commonGet(measurement string, tags ...map[string]string) (string, string, []string, []string) {
	allTags := map[string]string{}
	for _, t := range tags {
		for k, v := range t {
			allTags[k] = v
		}
	}
	keys := make([]string, 0, len(allTags))
	for k := range allTags {
		keys = append(keys, clean(k))
	}
	sort.Strings(keys)
	values := make([]string, 0, len(allTags))
	cacheKey := clean(measurement)
	for _, k := range keys {
		v := allTags[k]
		values = append(values, v)
		cacheKey += "-" + k + "-" + v
	}
	return cacheKey, clean(measurement), keys, values
}

// GetInt64Metric implements the Client interface.
func (p *promClient) GetInt64Metric(measurement string, tags ...map[string]string) Int64Metric {
	p.int64Mutex.Lock()
	defer p.int64Mutex.Unlock()

	cacheKey, name, keys, values := commonGet(measurement, tags...)
	if m, ok := p.int64Gauges[cacheKey]; ok {
		return m
	}
	gaugeVec, ok := p.int64GaugeVecs[name]
	if !ok {
		gaugeVec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: name,
		}, keys)
		if err := prometheus.Register(gaugeVec); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				gaugeVec = are.ExistingCollector.(*prometheus.GaugeVec)
			} else {
				sklog.Errorf("Failed to register %q: %s", name, err)
			}
		}
		p.int64GaugeVecs[name] = gaugeVec
	}
	m := &promInt64{
		gauge: gaugeVec.WithLabelValues(values...),
	}
	p.int64Gauges[cacheKey] = m
	return m
}

// GetFloat64Metric implements the Client interface.
func (p *promClient) GetFloat64Metric(measurement string, tags ...map[string]string) Float64Metric {
	p.float64Mutex.Lock()
	defer p.float64Mutex.Unlock()

	cacheKey, name, keys, values := commonGet(measurement, tags...)
	if m, ok := p.float64Gauges[cacheKey]; ok {
		return m
	}
	gaugeVec, ok := p.float64GaugeVecs[name]
	if !ok {
		gaugeVec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: name,
		}, keys)
		if err := prometheus.Register(gaugeVec); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				gaugeVec = are.ExistingCollector.(*prometheus.GaugeVec)
			} else {
				sklog.Errorf("Failed to register %q: %s", name, err)
			}
		}
		p.float64GaugeVecs[name] = gaugeVec
	}
	m := &promFloat64{
		gauge: gaugeVec.WithLabelValues(values...),
	}
	p.float64Gauges[cacheKey] = m
	return m
}

// GetFloat64SummaryMetric implements the Client interface.
func (p *promClient) GetFloat64SummaryMetric(measurement string, tags ...map[string]string) Float64SummaryMetric {
	p.float64SummaryMutex.Lock()
	defer p.float64SummaryMutex.Unlock()

	cacheKey, name, keys, values := commonGet(measurement, tags...)
	if m, ok := p.float64Summaries[cacheKey]; ok {
		return m
	}
	summaryVec, ok := p.float64SummaryVecs[name]
	if !ok {
		summaryVec = prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       name,
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, keys)
		if err := prometheus.Register(summaryVec); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				summaryVec = are.ExistingCollector.(*prometheus.SummaryVec)
			} else {
				sklog.Errorf("Failed to register %q: %s", name, err)
			}
		}
		p.float64SummaryVecs[name] = summaryVec
	}
	m := &promFloat64Summary{
		summary: summaryVec.WithLabelValues(values...),
	}
	p.float64Summaries[cacheKey] = m
	return m
}

// NewCounter implements the Client interface.
func (p *promClient) NewCounter(name string, tags map[string]string) Counter {
	t := map[string]string{}
	for k, v := range tags {
		t[k] = v
	}
	t["name"] = name
	m := p.GetInt64Metric("counter", t).(*promInt64)
	return &promCounter{promInt64: promInt64{gauge: m.gauge}}
}

// NewLiveness implements the Client interface.
func (p *promClient) NewLiveness(name string, tags map[string]string) Liveness {
	t := map[string]string{}
	for k, v := range tags {
		t[k] = v
	}
	t["name"] = name
	return &promLiveness{
		lastSuccessfulUpdate: time.Now(),
		m:                    p.GetInt64Metric("liveness_s", t),
	}
}

// assert that promClient implements Client.
var _ Client = (*promClient)(nil)
