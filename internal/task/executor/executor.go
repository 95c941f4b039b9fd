package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"autodaily/internal/task"
)

// Request is everything an executor sees for one task.
//
// Relay maps sibling task ids to the live task values of the same group, so a
// later task can read fields an earlier one wrote. Env is a private copy of
// the chain environment; writes to it are not visible to other tasks.
type Request struct {
	ReqType string
	Group   *task.Group
	Task    *task.Task
	Relay   map[string]*task.Task
	Env     map[string]any
}

// Executor performs a task's remote action.
//
// Executors report state changes (e.g. SetLastExecTime, SetParam) by
// mutating req.Task. A returned error that IsTransient is retried on the next
// due cycle without penalty; any other error counts as a strike.
type Executor interface {
	Execute(ctx context.Context, req Request) error
}

// Func adapts a plain function to Executor.
type Func func(ctx context.Context, req Request) error

func (f Func) Execute(ctx context.Context, req Request) error { return f(ctx, req) }

// Registry dispatches requests by request-type tag.
type Registry struct {
	mu sync.RWMutex
	m  map[string]Executor
}

func NewRegistry() *Registry {
	return &Registry{m: map[string]Executor{}}
}

// Register installs (or replaces) the executor for reqType.
func (r *Registry) Register(reqType string, ex Executor) {
	reqType = strings.ToLower(strings.TrimSpace(reqType))
	if reqType == "" || ex == nil {
		return
	}
	r.mu.Lock()
	r.m[reqType] = ex
	r.mu.Unlock()
}

func (r *Registry) Lookup(reqType string) (Executor, bool) {
	r.mu.RLock()
	ex, ok := r.m[strings.ToLower(strings.TrimSpace(reqType))]
	r.mu.RUnlock()
	return ex, ok
}

// Types lists registered request types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.m))
	for k := range r.m {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Execute implements Executor by dispatching on req.ReqType.
func (r *Registry) Execute(ctx context.Context, req Request) error {
	ex, ok := r.Lookup(req.ReqType)
	if !ok {
		return fmt.Errorf("%w: %q", task.ErrUnknownReqType, req.ReqType)
	}
	return ex.Execute(ctx, req)
}

// Transient marks err as timeout-class so it does not count as a strike.
//
// Example:
//
//	return executor.Transient(fmt.Errorf("upstream busy: %w", err))
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

type transientError struct{ err error }

func (e transientError) Error() string        { return fmt.Sprintf("transient: %v", e.err) }
func (e transientError) Unwrap() error        { return e.err }
func (e transientError) Is(target error) bool { return target == task.ErrTransient }
