package task

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrTransient marks timeout-class failures. They are logged but never
	// count against the daily strike cap.
	ErrTransient = errors.New("transient execution failure")

	ErrUnknownReqType = errors.New("unknown request type")
)

// ExecutionError wraps a non-transient failure of a task's remote action.
type ExecutionError struct {
	Group string
	Task  string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("task %s/%s: %v", e.Group, e.Task, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ScheduleError reports a cron expression that could not be evaluated.
// The task is treated as not due.
type ScheduleError struct {
	Task string
	Expr string
	Err  error
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("task %s: invalid cron %q: %v", e.Task, e.Expr, e.Err)
}

func (e *ScheduleError) Unwrap() error { return e.Err }

// IsTransient reports whether err belongs to the timeout class: a context
// deadline, a network timeout, or anything wrapped with ErrTransient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}
