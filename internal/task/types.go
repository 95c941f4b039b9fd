package task

import (
	"strconv"
	"strings"
	"time"
)

// MaxDailyErrors is the number of non-transient failures after which a task
// is suspended for the rest of the calendar day.
const MaxDailyErrors = 3

// Properties is the root of a task configuration document.
//
// A loaded Properties is treated as immutable apart from the per-task state
// fields, which the pipeline mutates in place during a run. Replacing the
// configuration always goes through the config store (invalidate + reload).
type Properties struct {
	Version        int      `yaml:"version"`
	MinHostVersion int      `yaml:"minAppVersion"`
	Groups         []*Group `yaml:"taskGroups"`
}

// Group is an ordered list of related tasks sharing a request-type dispatcher
// and a relay context.
//
// Type is a composite tag ("http|checkin"); the first segment selects the
// request type.
type Group struct {
	Type    string  `yaml:"type"`
	Enabled bool    `yaml:"enabled"`
	Cron    string  `yaml:"cron,omitempty"`
	Tasks   []*Task `yaml:"tasks"`
}

// ReqType returns the request-type tag of the group.
func (g *Group) ReqType() string {
	if g == nil {
		return ""
	}
	head, _, _ := strings.Cut(g.Type, "|")
	return strings.TrimSpace(head)
}

// Task returns the task with the given id, or nil.
func (g *Group) Task(id string) *Task {
	if g == nil {
		return nil
	}
	for _, t := range g.Tasks {
		if t != nil && t.ID == id {
			return t
		}
	}
	return nil
}

// Task is a single schedulable unit of remote work.
//
// LastExecTime and NextShouldExecTime use the fixed-width layout of
// TimeLayout so they compare lexicographically. ErrState carries the
// "date|count" encoding of the daily error counter.
//
// Params holds every task-specific key the document carries; executors
// read and write it, and later tasks in the same group see those writes
// through the relay map.
type Task struct {
	ID      string `yaml:"id"`
	Cron    string `yaml:"cron,omitempty"`
	Enabled bool   `yaml:"enabled"`

	LastExecTime       *string `yaml:"lastExecTime,omitempty"`
	NextShouldExecTime *string `yaml:"nextShouldExecTime,omitempty"`
	ErrState           string  `yaml:"errState,omitempty"`

	Params map[string]any `yaml:",inline"`
}

// EffectiveCron returns the task override, falling back to the group default.
func (t *Task) EffectiveCron(g *Group) string {
	if c := strings.TrimSpace(t.Cron); c != "" {
		return c
	}
	if g != nil {
		return strings.TrimSpace(g.Cron)
	}
	return ""
}

// SetLastExecTime records a completed execution. Changing the last execution
// time is the only trigger that invalidates the cached next-run time.
func (t *Task) SetLastExecTime(at time.Time) {
	s := Format(at)
	if t.LastExecTime != nil && *t.LastExecTime == s {
		return
	}
	t.LastExecTime = &s
	t.NextShouldExecTime = nil
}

// ErrCount returns the failure count for the day containing now. A counter
// stamped with an older date reads as zero.
func (t *Task) ErrCount(now time.Time) int {
	date, n, ok := parseErrState(t.ErrState)
	if !ok || date != FormatDate(now) {
		return 0
	}
	return n
}

// Suspended reports whether the daily strike cap has been reached.
func (t *Task) Suspended(now time.Time) bool {
	return t.ErrCount(now) >= MaxDailyErrors
}

// RecordFailure increments today's counter and stamps today's date.
func (t *Task) RecordFailure(now time.Time) int {
	n := t.ErrCount(now) + 1
	t.ErrState = FormatDate(now) + "|" + strconv.Itoa(n)
	return n
}

// ExceptionDate returns the date part of the error state, or "".
func (t *Task) ExceptionDate() string {
	date, _, ok := parseErrState(t.ErrState)
	if !ok {
		return ""
	}
	return date
}

// Param returns a string view of a task parameter.
func (t *Task) Param(key string) (string, bool) {
	if t == nil || t.Params == nil {
		return "", false
	}
	v, ok := t.Params[key]
	if !ok || v == nil {
		return "", false
	}
	switch x := v.(type) {
	case string:
		return x, true
	case int:
		return strconv.Itoa(x), true
	case bool:
		return strconv.FormatBool(x), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	default:
		return "", false
	}
}

// SetParam stores a value executors want to hand to later tasks.
func (t *Task) SetParam(key string, v any) {
	if t.Params == nil {
		t.Params = map[string]any{}
	}
	t.Params[key] = v
}

func parseErrState(s string) (date string, n int, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", 0, false
	}
	date, cnt, found := strings.Cut(s, "|")
	if !found {
		return "", 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(cnt))
	if err != nil || n < 0 {
		return "", 0, false
	}
	return strings.TrimSpace(date), n, true
}
