package dashboard

import (
	"strings"
	"sync"

	logger "github.com/jcgregorio/logger"
)

// RingLog keeps the most recent log lines in memory so the dashboard's
// getLog call can show them without touching disk.
type RingLog struct {
	mtx   sync.Mutex
	lines []string
	next  int
	full  bool
}

// NewRingLog returns a RingLog holding up to capacity lines.
func NewRingLog(capacity int) *RingLog {
	if capacity <= 0 {
		capacity = 1000
	}
	return &RingLog{lines: make([]string, capacity)}
}

// Write implements io.Writer; each write is split into lines.
func (r *RingLog) Write(p []byte) (int, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		r.lines[r.next] = line
		r.next = (r.next + 1) % len(r.lines)
		if r.next == 0 {
			r.full = true
		}
	}
	return len(p), nil
}

// Sync implements logger.SyncWriter.
func (r *RingLog) Sync() error { return nil }

// Lines returns the retained lines, oldest first.
func (r *RingLog) Lines() []string {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	var ret []string
	if r.full {
		ret = append(ret, r.lines[r.next:]...)
	}
	ret = append(ret, r.lines[:r.next]...)
	return ret
}

// tee duplicates log output to two sinks.
type tee struct {
	a, b logger.SyncWriter
}

// Tee returns a SyncWriter that writes to both sinks; errors from the first
// win.
func Tee(a, b logger.SyncWriter) logger.SyncWriter {
	return &tee{a: a, b: b}
}

func (t *tee) Write(p []byte) (int, error) {
	n, err := t.a.Write(p)
	_, _ = t.b.Write(p)
	return n, err
}

func (t *tee) Sync() error {
	err := t.a.Sync()
	_ = t.b.Sync()
	return err
}
