// Package util contains small general purpose utilities.
package util

import (
	"context"
	"io"
	"time"

	"github.com/gsa-connectors/adaptor/go/sklog"
)

// MaxInt returns the largest integer of the arguments provided.
func MaxInt(intList ...int) int {
	ret := intList[0]
	for _, i := range intList[1:] {
		if i > ret {
			ret = i
		}
	}
	return ret
}

// MinInt returns the smaller of the two integers.
func MinInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// MinInt64 returns the smaller of the two int64s.
func MinInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// Close wraps an io.Closer and logs an error if one is returned.
func Close(c io.Closer) {
	if err := c.Close(); err != nil {
		// Don't start the stacktrace here, but at the caller's location
		sklog.ErrorfWithDepth(1, "Failed to Close(): %v", err)
	}
}

// LogErr logs err if it's not nil. This is intended to be used for calls
// where generally a returned error is expected to be nil.
func LogErr(err error) {
	if err != nil {
		sklog.ErrorfWithDepth(1, "Unexpected error: %s", err)
	}
}

// Repeat calls the provided function 'fn' immediately and then in intervals
// defined by 'interval'. If anything is sent on the provided stop channel,
// the iteration stops.
func Repeat(interval time.Duration, stopCh <-chan bool, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	fn()
MainLoop:
	for {
		select {
		case <-stopCh:
			break MainLoop
		case <-ticker.C:
			fn()
		}
	}
}

// RepeatCtx calls the provided function 'fn' immediately and then in intervals
// defined by 'interval'. If the given context is canceled, the iteration stops.
func RepeatCtx(interval time.Duration, ctx context.Context, fn func()) {
	ticker := time.NewTicker(interval)
	done := ctx.Done()
	defer ticker.Stop()
	fn()
MainLoop:
	for {
		select {
		case <-done:
			break MainLoop
		case <-ticker.C:
			fn()
		}
	}
}

// TimeStampLayout is the RFC-822 GMT date layout the appliance expects for
// feed dates and If-Modified-Since headers.
const TimeStampLayout = "Mon, 02 Jan 2006 15:04:05 -0700"

// TimeStamp formats t in RFC-822 GMT.
func TimeStamp(t time.Time) string {
	return t.UTC().Format(TimeStampLayout)
}

// ParseTimeStamp is the inverse of TimeStamp.
func ParseTimeStamp(s string) (time.Time, error) {
	return time.Parse(TimeStampLayout, s)
}
