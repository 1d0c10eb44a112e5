package worker

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for errors.Is. Each typed error below matches exactly one of them.
var (
	ErrWorkerExecutionFailed  = errors.New("worker execution failed")
	ErrWorkerOutputUnparsable = errors.New("worker output unparsable")
	ErrWorkerTimedOut         = errors.New("worker timed out")

	// ErrEmptyEmbedding is returned by Verify when there is nothing to compare against.
	ErrEmptyEmbedding = errors.New("target embedding is empty")
)

// ExecutionError means the worker exited with a non-zero code.
type ExecutionError struct {
	Op       string
	ExitCode int // -1 when the process was terminated by a signal
	Stderr   string
}

func (e *ExecutionError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("worker %s exited with code %d", e.Op, e.ExitCode)
	}
	return fmt.Sprintf("worker %s exited with code %d: %s", e.Op, e.ExitCode, e.Stderr)
}

func (e *ExecutionError) Is(target error) bool { return target == ErrWorkerExecutionFailed }

// OutputError means the worker exited 0 but its stdout was not the expected payload.
type OutputError struct {
	Op       string
	Raw      string // stdout exactly as captured
	Expected string
	Err      error
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("worker %s output is not %s: %v (raw: %q)", e.Op, e.Expected, e.Err, truncate(e.Raw, 200))
}

func (e *OutputError) Is(target error) bool { return target == ErrWorkerOutputUnparsable }

func (e *OutputError) Unwrap() error { return e.Err }

// TimeoutError means the invocation hit its deadline and the worker was killed.
type TimeoutError struct {
	Op      string
	Elapsed time.Duration
	Stderr  string // whatever the worker wrote before it was killed
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("worker %s timed out after %s", e.Op, e.Elapsed.Round(time.Millisecond))
}

func (e *TimeoutError) Is(target error) bool { return target == ErrWorkerTimedOut }

// Logs returns the worker stderr carried by err, if any.
func Logs(err error) string {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Stderr
	}
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return timeoutErr.Stderr
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
