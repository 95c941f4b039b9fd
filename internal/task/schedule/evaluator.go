package schedule

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"autodaily/internal/task"
	logx "autodaily/pkg/logx"
)

// Evaluator decides whether a task is due and memoizes its next fire time on
// the task itself.
//
// Offset is the difference between the reference (server) clock and the local
// clock. Fire times are computed on the reference clock and stored shifted
// back by Offset, so the cached value compares directly against the local
// clock and the same string serves display and comparison.
type Evaluator struct {
	parser cron.Parser
	now    func() time.Time
	offset time.Duration
	log    logx.Logger
}

type Option func(*Evaluator)

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

// WithOffset sets the reference clock offset.
func WithOffset(d time.Duration) Option {
	return func(e *Evaluator) { e.offset = d }
}

func New(log logx.Logger, opts ...Option) *Evaluator {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Evaluator{
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		now:    time.Now,
		log:    log,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Now returns the evaluator's notion of the current local time.
func (e *Evaluator) Now() time.Time { return e.now() }

// Validate parses a cron expression without touching any task.
func (e *Evaluator) Validate(expr string) error {
	_, err := e.parser.Parse(expr)
	return err
}

// IsDue is Due with schedule errors logged and reported as "not due".
func (e *Evaluator) IsDue(t *task.Task, g *task.Group) bool {
	due, err := e.Due(t, g)
	if err != nil {
		e.log.Warn("task schedule invalid; skipping", logx.String("task", t.ID), logx.Err(err))
		return false
	}
	return due
}

// Due reports whether t should run now.
//
// A task that has never run and whose next slot is not today runs
// immediately. Otherwise it is due once its cached next fire time has passed.
func (e *Evaluator) Due(t *task.Task, g *task.Group) (bool, error) {
	if t == nil || !t.Enabled {
		return false, nil
	}
	now := e.now()
	if t.Suspended(now) {
		return false, nil
	}
	next, err := e.Next(t, g)
	if err != nil {
		return false, err
	}
	if t.LastExecTime == nil && !task.SameDay(next, now) {
		return true, nil
	}
	return next <= task.Format(now), nil
}

// Next returns the cached next fire time, computing and caching it when absent.
func (e *Evaluator) Next(t *task.Task, g *task.Group) (string, error) {
	if t.NextShouldExecTime != nil && *t.NextShouldExecTime != "" {
		return *t.NextShouldExecTime, nil
	}
	expr := t.EffectiveCron(g)
	if expr == "" {
		return "", &task.ScheduleError{Task: t.ID, Expr: expr, Err: errors.New("no cron expression")}
	}
	sched, err := e.parser.Parse(expr)
	if err != nil {
		return "", &task.ScheduleError{Task: t.ID, Expr: expr, Err: err}
	}
	ref := e.now().Add(e.offset).In(task.Zone)
	fire := sched.Next(ref.Add(time.Millisecond))
	if fire.IsZero() {
		return "", &task.ScheduleError{Task: t.ID, Expr: expr, Err: errors.New("no future activation")}
	}
	s := task.Format(fire.Add(-e.offset))
	t.NextShouldExecTime = &s
	e.log.Debug("next run computed", logx.String("task", t.ID), logx.String("cron", expr), logx.String("next", s))
	return s, nil
}
