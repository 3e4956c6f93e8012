// Package skerr provides errors that carry the call stack from the point
// where they were created or wrapped.
package skerr

import (
	"fmt"
	"runtime"
	"strings"
)

// StackTrace identifies a filename (base filename only) and line number.
type StackTrace struct {
	File string
	Line int
}

func (st StackTrace) String() string {
	return fmt.Sprintf("%s:%d", st.File, st.Line)
}

// ErrorWithContext is an error plus the call stack at the point where it
// was created and an optional additional message.
type ErrorWithContext struct {
	// Wrapped is the underlying error, never nil.
	Wrapped error
	// CallStack captures the stack at the point Wrap/Wrapf/Fmt was called,
	// innermost frame first.
	CallStack []StackTrace
	// Message is an additional message to prepend to the error string.
	Message string
}

func (err *ErrorWithContext) Error() string {
	var sb strings.Builder
	if err.Message != "" {
		sb.WriteString(err.Message)
		sb.WriteString(": ")
	}
	sb.WriteString(err.Wrapped.Error())
	if len(err.CallStack) > 0 {
		frames := make([]string, 0, len(err.CallStack))
		for _, st := range err.CallStack {
			frames = append(frames, st.String())
		}
		sb.WriteString(" At ")
		sb.WriteString(strings.Join(frames, " "))
	}
	return sb.String()
}

// Unwrap implements the interface used by errors.Is and errors.As.
func (err *ErrorWithContext) Unwrap() error {
	return err.Wrapped
}

func callStack(skip int) []StackTrace {
	stack := []StackTrace{}
	for i := skip; ; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		slash := strings.LastIndex(file, "/")
		if slash >= 0 {
			file = file[slash+1:]
		}
		stack = append(stack, StackTrace{File: file, Line: line})
	}
	return stack
}

// Wrap adds the current call stack to err. If err is already an
// ErrorWithContext it is returned unchanged so the innermost stack wins.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*ErrorWithContext); ok {
		return err
	}
	return &ErrorWithContext{
		Wrapped:   err,
		CallStack: callStack(2),
	}
}

// Wrapf adds the current call stack and a formatted message to err.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{
		Wrapped:   err,
		CallStack: callStack(2),
		Message:   fmt.Sprintf(format, args...),
	}
}

// Fmt creates a new error with a formatted message and the current call
// stack. Analogous to fmt.Errorf.
func Fmt(format string, args ...interface{}) error {
	return &ErrorWithContext{
		Wrapped:   fmt.Errorf(format, args...),
		CallStack: callStack(2),
	}
}

// Unwrap returns the innermost error if err is one or more nested
// ErrorWithContext, otherwise err itself.
func Unwrap(err error) error {
	for {
		wrapper, ok := err.(*ErrorWithContext)
		if !ok {
			return err
		}
		err = wrapper.Wrapped
	}
}
