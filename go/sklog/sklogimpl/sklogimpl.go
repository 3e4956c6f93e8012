// Package sklogimpl defines the interface for the actual logging
// implementations used by sklog.
package sklogimpl

import "sync"

// Severity is the log level.
type Severity int

const (
	Debug Severity = iota
	Info
	Warning
	Error
	Fatal
)

// Logger is implemented by all log destinations.
type Logger interface {
	// Log writes a log entry. depth is the number of stack frames to skip
	// when reporting the calling location. If format is the empty string
	// the args are formatted with fmt.Sprint, otherwise fmt.Sprintf.
	Log(depth int, severity Severity, format string, args ...interface{})

	// Flush writes any buffered entries.
	Flush()
}

var (
	mtx    sync.Mutex
	logger Logger
)

// SetLogger changes the Logger that sklog uses.
func SetLogger(l Logger) {
	mtx.Lock()
	defer mtx.Unlock()
	logger = l
}

// Log writes to the currently installed Logger.
func Log(depth int, severity Severity, format string, args ...interface{}) {
	mtx.Lock()
	l := logger
	mtx.Unlock()
	if l != nil {
		l.Log(depth+1, severity, format, args...)
	}
}

// Flush flushes the currently installed Logger.
func Flush() {
	mtx.Lock()
	l := logger
	mtx.Unlock()
	if l != nil {
		l.Flush()
	}
}
