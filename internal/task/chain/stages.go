package chain

import (
	"context"

	"github.com/google/uuid"

	"autodaily/internal/task"
	logx "autodaily/pkg/logx"
)

// CheckExecuteFilter drops tasks that must not run this cycle: disabled
// group or task, the daily strike cap reached, or not yet due.
type CheckExecuteFilter struct{}

func (CheckExecuteFilter) Name() string { return "check-execute" }

func (CheckExecuteFilter) Process(ctx context.Context, c *Chain) error {
	g := c.Group()
	if !g.Enabled {
		c.Tasks = c.Tasks[:0]
		return c.Proceed(ctx)
	}
	now := c.deps.Now()
	c.Retain(func(t *task.Task) bool {
		if !t.Enabled {
			return false
		}
		if t.Suspended(now) {
			c.skip(t, "daily error limit")
			return false
		}
		return c.deps.Evaluator.IsDue(t, g)
	})
	return c.Proceed(ctx)
}

// PreFilter may veto the whole group. A vetoed chain stops here and
// executes nothing. Otherwise it seeds the run context.
type PreFilter struct{}

func (PreFilter) Name() string { return "pre" }

func (PreFilter) Process(ctx context.Context, c *Chain) error {
	g := c.Group()
	switch {
	case c.deps.Paused != nil && c.deps.Paused():
		c.Veto("paused")
		return nil
	case !g.Enabled:
		c.Veto("group disabled")
		return nil
	case len(c.Tasks) == 0:
		c.Veto("nothing due")
		return nil
	}
	now := c.deps.Now()
	c.Env[EnvRunID] = uuid.NewString()
	c.Env[EnvDate] = task.FormatDate(now)
	c.Env[EnvGroupType] = g.Type
	return c.Proceed(ctx)
}

// RelayBuilderFilter indexes every task of the group by id, including
// filtered ones, so executors can read sibling results. Values are the live
// tasks: writes by an earlier task are visible to later ones.
type RelayBuilderFilter struct{}

func (RelayBuilderFilter) Name() string { return "relay" }

func (RelayBuilderFilter) Process(ctx context.Context, c *Chain) error {
	for _, t := range c.Group().Tasks {
		if t == nil || t.ID == "" {
			continue
		}
		c.Relay[t.ID] = t
	}
	return c.Proceed(ctx)
}

// ExecuteBasicFilter records the request type and final task count, then
// hands off to the executor fan-out.
type ExecuteBasicFilter struct{}

func (ExecuteBasicFilter) Name() string { return "execute-basic" }

func (ExecuteBasicFilter) Process(ctx context.Context, c *Chain) error {
	rt := c.Group().ReqType()
	c.Env[EnvReqType] = rt
	c.Env[EnvTaskCount] = len(c.Tasks)
	c.Log().Debug("executing group", logx.String("group", c.Group().Type), logx.String("req_type", rt), logx.Int("tasks", len(c.Tasks)))
	return c.Proceed(ctx)
}
