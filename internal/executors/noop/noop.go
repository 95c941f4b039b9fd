// Package noop provides a request type that performs nothing and marks the
// task as executed. Useful for dry runs of a configuration.
package noop

import (
	"context"
	"time"

	"autodaily/internal/task/executor"
	logx "autodaily/pkg/logx"
)

const ReqType = "noop"

type Executor struct {
	log logx.Logger
	now func() time.Time
}

func New(log logx.Logger, now func() time.Time) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	if now == nil {
		now = time.Now
	}
	return &Executor{log: log, now: now}
}

func (e *Executor) Execute(ctx context.Context, req executor.Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req.Task.SetLastExecTime(e.now())
	e.log.Info("dry run", logx.String("group", req.Group.Type), logx.String("task", req.Task.ID))
	return nil
}
