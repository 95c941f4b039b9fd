package chain

import (
	"context"
	"fmt"
	"maps"
	"runtime/debug"
	"time"

	"autodaily/internal/eventbus"
	"autodaily/internal/task"
	"autodaily/internal/task/executor"
	"autodaily/internal/task/schedule"
	logx "autodaily/pkg/logx"
)

// Environment keys written by the standard stages.
const (
	EnvRunID      = "runId"
	EnvDate       = "date"
	EnvGroupType  = "groupType"
	EnvReqType    = "reqType"
	EnvTaskCount  = "taskCount"
	EnvVetoReason = "vetoReason"
)

// Stage is one link of an execution chain. A stage inspects or rewrites the
// chain's pending tasks and context, then calls c.Proceed to hand control to
// the next stage. Returning without calling Proceed ends the run for the
// group.
type Stage interface {
	Name() string
	Process(ctx context.Context, c *Chain) error
}

// Recorder persists run history. Optional.
type Recorder interface {
	AppendRun(ctx context.Context, r task.RunRecord) error
}

// Deps are the collaborators shared by every chain of a tick.
type Deps struct {
	Evaluator *schedule.Evaluator
	Executor  executor.Executor
	Log       logx.Logger
	Bus       eventbus.Bus
	Recorder  Recorder
	Now       func() time.Time

	// TaskTimeout bounds each executor call; 0 disables the deadline.
	TaskTimeout time.Duration

	// Paused is the global kill switch consulted by PreFilter.
	Paused func() bool
}

// Report summarizes one chain run.
type Report struct {
	Group      string
	RunID      string
	Candidates int
	Executed   int
	Failed     int
	Transient  int
	Skipped    int
	Aborted    int // interrupted by cancellation of the run context
	Vetoed     bool
	VetoReason string
}

// Chain drives an ordered list of stages over one task group.
//
// Tasks is the pending list the stages filter. Relay and Env live for one
// run and are discarded with the chain.
type Chain struct {
	group  *task.Group
	stages []Stage
	pos    int
	ran    bool

	Tasks []*task.Task
	Relay map[string]*task.Task
	Env   map[string]any

	deps   Deps
	report Report
}

// Build returns a chain over the standard stage sequence.
func Build(g *task.Group, deps Deps) *Chain {
	return New(g, deps,
		CheckExecuteFilter{},
		PreFilter{},
		RelayBuilderFilter{},
		ExecuteBasicFilter{},
	)
}

// New returns a chain over custom stages.
func New(g *task.Group, deps Deps, stages ...Stage) *Chain {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Evaluator == nil {
		deps.Evaluator = schedule.New(deps.Log, schedule.WithClock(deps.Now))
	}
	tasks := make([]*task.Task, 0, len(g.Tasks))
	for _, t := range g.Tasks {
		if t != nil {
			tasks = append(tasks, t)
		}
	}
	return &Chain{
		group:  g,
		stages: stages,
		Tasks:  tasks,
		Relay:  map[string]*task.Task{},
		Env:    map[string]any{},
		deps:   deps,
		report: Report{Group: g.Type},
	}
}

func (c *Chain) Group() *task.Group { return c.group }

func (c *Chain) Deps() Deps { return c.deps }

func (c *Chain) Log() logx.Logger { return c.deps.Log }

// Run drives the chain from the first stage. Panics raised by stages or
// executors are recovered and returned as errors so a broken group never
// takes the tick down.
func (c *Chain) Run(ctx context.Context) (rep Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.deps.Log.Error("chain panicked", logx.String("group", c.group.Type), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("group %s: panic: %v", c.group.Type, r)
		}
		rep = c.report
	}()
	err = c.Proceed(ctx)
	return
}

// Proceed advances the cursor and runs the next stage, or executes the
// pending tasks once every stage has passed.
func (c *Chain) Proceed(ctx context.Context) error {
	if c.pos < len(c.stages) {
		s := c.stages[c.pos]
		c.pos++
		c.deps.Log.Debug("stage", logx.String("group", c.group.Type), logx.String("stage", s.Name()), logx.Int("pending", len(c.Tasks)))
		return s.Process(ctx, c)
	}
	if c.ran {
		return nil
	}
	c.ran = true
	return c.execute(ctx)
}

// Veto ends the run for the group without executing anything.
func (c *Chain) Veto(reason string) {
	c.Env[EnvVetoReason] = reason
	c.report.Vetoed = true
	c.report.VetoReason = reason
	c.deps.Bus.Publish(eventbus.Event{Type: eventbus.GroupVetoed, Data: eventbus.TaskEvent{Group: c.group.Type, Error: reason}})
	c.deps.Log.Debug("group vetoed", logx.String("group", c.group.Type), logx.String("reason", reason))
}

func (c *Chain) skip(t *task.Task, reason string) {
	c.report.Skipped++
	c.deps.Log.Debug("task skipped", logx.String("group", c.group.Type), logx.String("task", t.ID), logx.String("reason", reason), logx.String("error_date", t.ExceptionDate()))
	c.deps.Bus.Publish(eventbus.Event{Type: eventbus.TaskSkipped, Data: eventbus.TaskEvent{Group: c.group.Type, Task: t.ID, Error: reason, Strikes: t.ErrCount(c.deps.Now())}})
}

// Retain keeps the pending tasks for which keep returns true.
func (c *Chain) Retain(keep func(t *task.Task) bool) {
	n := 0
	for _, t := range c.Tasks {
		if keep(t) {
			c.Tasks[n] = t
			n++
		}
	}
	for i := n; i < len(c.Tasks); i++ {
		c.Tasks[i] = nil
	}
	c.Tasks = c.Tasks[:n]
}

func (c *Chain) execute(ctx context.Context) error {
	if c.deps.Executor == nil {
		return fmt.Errorf("group %s: no executor", c.group.Type)
	}
	reqType := c.group.ReqType()
	runID, _ := c.Env[EnvRunID].(string)
	c.report.RunID = runID
	c.report.Candidates = len(c.Tasks)
	log := c.deps.Log.With(logx.String("group", c.group.Type), logx.String("run", runID))

	for _, t := range c.Tasks {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		now := c.deps.Now()
		if t.Suspended(now) {
			log.Info("task reached daily error limit; skipping", logx.String("task", t.ID), logx.Int("strikes", t.ErrCount(now)))
			c.skip(t, "daily error limit")
			continue
		}

		c.deps.Bus.Publish(eventbus.Event{Type: eventbus.TaskExecuting, Data: eventbus.TaskEvent{Group: c.group.Type, Task: t.ID, RunID: runID}})
		start := time.Now()
		err := c.call(ctx, executor.Request{
			ReqType: reqType,
			Group:   c.group,
			Task:    t,
			Relay:   c.Relay,
			Env:     maps.Clone(c.Env),
		})
		rec := task.RunRecord{At: now, RunID: runID, Group: c.group.Type, Task: t.ID, OK: err == nil, Took: time.Since(start)}

		// Shutdown is not the task's fault: no strike, and the rest of the
		// group is left for the next tick.
		if err != nil && ctx.Err() != nil {
			c.report.Aborted++
			rec.Error = err.Error()
			log.Warn("task aborted", logx.String("task", t.ID), logx.Err(ctx.Err()))
			c.record(ctx, log, rec)
			return ctx.Err()
		}

		switch {
		case err == nil:
			c.report.Executed++
			log.Info("task executed", logx.String("task", t.ID), logx.Duration("took", rec.Took))
		case task.IsTransient(err):
			// Timeouts carry no penalty; the task stays eligible next cycle.
			c.report.Transient++
			rec.Transient = true
			rec.Error = err.Error()
			log.Warn("task timed out", logx.String("task", t.ID), logx.Err(err))
			c.deps.Bus.Publish(eventbus.Event{Type: eventbus.TaskFailed, Data: eventbus.TaskEvent{Group: c.group.Type, Task: t.ID, RunID: runID, Error: err.Error(), Transient: true}})
		default:
			n := t.RecordFailure(c.deps.Now())
			c.report.Failed++
			rec.Error = err.Error()
			xerr := &task.ExecutionError{Group: c.group.Type, Task: t.ID, Err: err}
			log.Error("task failed", logx.String("task", t.ID), logx.Int("strikes", n), logx.Err(xerr))
			c.deps.Bus.Publish(eventbus.Event{Type: eventbus.TaskFailed, Data: eventbus.TaskEvent{Group: c.group.Type, Task: t.ID, RunID: runID, Error: err.Error(), Strikes: n}})
		}

		c.record(ctx, log, rec)
	}
	return nil
}

func (c *Chain) record(ctx context.Context, log logx.Logger, rec task.RunRecord) {
	if c.deps.Recorder == nil {
		return
	}
	if err := c.deps.Recorder.AppendRun(context.WithoutCancel(ctx), rec); err != nil {
		log.Debug("run history append failed", logx.Err(err))
	}
}

// call runs one executor invocation under the task deadline. A panicking
// executor counts as an ordinary failure.
func (c *Chain) call(ctx context.Context, req executor.Request) (err error) {
	if c.deps.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.deps.TaskTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return c.deps.Executor.Execute(ctx, req)
}
