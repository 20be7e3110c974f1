package device

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a failed invocation.
type ErrorKind string

const (
	KindSpawn    ErrorKind = "spawn"
	KindProcess  ErrorKind = "process"
	KindTimeout  ErrorKind = "timeout"
	KindCanceled ErrorKind = "canceled"
)

// Error is returned by Invoke for any failed invocation.
type Error struct {
	Kind     ErrorKind
	Op       Op
	ExitCode int
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "device %s %s", e.Op, e.Kind)
	if e.Kind == KindProcess {
		fmt.Fprintf(&b, " (exit %d)", e.ExitCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		fmt.Fprintf(&b, ": %s", stderr)
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the ErrorKind of err, or "" when err is not a device error.
func KindOf(err error) ErrorKind {
	var devErr *Error
	if errors.As(err, &devErr) {
		return devErr.Kind
	}

	return ""
}
