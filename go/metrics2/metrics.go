// Package metrics2 provides a client and convenience methods for tracking
// application metrics, backed by Prometheus.
package metrics2

import "time"

// Int64Metric is a metric which reports an int64 value.
type Int64Metric interface {
	// Get returns the current value of the metric.
	Get() int64

	// Update sets the current value of the metric.
	Update(v int64)

	// Delete removes the metric from its Client's registry.
	Delete() error
}

// Float64Metric is a metric which reports a float64 value.
type Float64Metric interface {
	// Get returns the current value of the metric.
	Get() float64

	// Update sets the current value of the metric.
	Update(v float64)

	// Delete removes the metric from its Client's registry.
	Delete() error
}

// Float64SummaryMetric is a metric which reports a summary of many float64
// values, e.g. request latencies.
type Float64SummaryMetric interface {
	// Observe adds a data point to the summary.
	Observe(v float64)
}

// Client represents a set of metrics.
type Client interface {
	// GetInt64Metric returns an Int64Metric instance.
	GetInt64Metric(measurement string, tags ...map[string]string) Int64Metric

	// GetFloat64Metric returns a Float64Metric instance.
	GetFloat64Metric(measurement string, tags ...map[string]string) Float64Metric

	// GetFloat64SummaryMetric returns a Float64SummaryMetric instance.
	GetFloat64SummaryMetric(measurement string, tags ...map[string]string) Float64SummaryMetric

	// NewCounter returns a Counter using the given name and tags.
	NewCounter(name string, tags map[string]string) Counter

	// NewLiveness returns a Liveness using the given name and tags.
	NewLiveness(name string, tags map[string]string) Liveness
}

// Counter is an interface for tracking metrics which increment or decrement.
type Counter interface {
	// Get returns the current value.
	Get() int64

	// Inc increments the counter by the given quantity.
	Inc(i int64)

	// Dec decrements the counter by the given quantity.
	Dec(i int64)

	// Reset sets the counter to zero.
	Reset()

	// Delete removes the counter from metrics.
	Delete() error
}

// Liveness keeps a time-since-last-successful-update metric.
//
// The unit of the metric is in seconds.
//
// It is used to keep track of periodic processes to make sure that they are
// running successfully.
type Liveness interface {
	// Get returns the current value of the Liveness.
	Get() int64

	// ManualReset sets the last-successful-update time of the Liveness to a
	// specific value.
	ManualReset(lastSuccessfulUpdate time.Time)

	// Reset sets the last-successful-update time of the Liveness to now.
	Reset()
}

var defaultClient Client = newPromClient()

// GetDefaultClient returns the default Client.
func GetDefaultClient() Client {
	return defaultClient
}

// InitForTesting sets the default client, usually to a mute implementation.
func InitForTesting(c Client) {
	defaultClient = c
}

// GetInt64Metric returns an Int64Metric from the default Client.
func GetInt64Metric(measurement string, tags ...map[string]string) Int64Metric {
	return defaultClient.GetInt64Metric(measurement, tags...)
}

// GetFloat64Metric returns a Float64Metric from the default Client.
func GetFloat64Metric(measurement string, tags ...map[string]string) Float64Metric {
	return defaultClient.GetFloat64Metric(measurement, tags...)
}

// GetFloat64SummaryMetric returns a Float64SummaryMetric from the default Client.
func GetFloat64SummaryMetric(measurement string, tags ...map[string]string) Float64SummaryMetric {
	return defaultClient.GetFloat64SummaryMetric(measurement, tags...)
}

// NewCounter returns a Counter using the default client.
func NewCounter(name string, tags map[string]string) Counter {
	return defaultClient.NewCounter(name, tags)
}

// NewLiveness returns a Liveness using the default client.
func NewLiveness(name string, tags map[string]string) Liveness {
	return defaultClient.NewLiveness(name, tags)
}
