package task

import "time"

// State is the persisted runtime state of every task, shaped like the
// configuration document (groups → tasks) so it can be overlaid on a freshly
// decoded Properties.
type State struct {
	Groups []GroupState `yaml:"taskGroups"`
}

type GroupState struct {
	Type  string      `yaml:"type"`
	Tasks []TaskState `yaml:"tasks"`
}

type TaskState struct {
	ID string `yaml:"id"`
	// Cron is the effective expression NextShouldExecTime was computed from.
	Cron               string  `yaml:"cron,omitempty"`
	Enabled            *bool   `yaml:"enabled,omitempty"`
	LastExecTime       *string `yaml:"lastExecTime,omitempty"`
	NextShouldExecTime *string `yaml:"nextShouldExecTime,omitempty"`
	ErrState           string  `yaml:"errState,omitempty"`
}

// Group returns the group with the given type tag, or nil.
func (p *Properties) Group(typ string) *Group {
	if p == nil {
		return nil
	}
	for _, g := range p.Groups {
		if g != nil && g.Type == typ {
			return g
		}
	}
	return nil
}

// State extracts the runtime fields of every task.
func (p *Properties) State() State {
	var st State
	if p == nil {
		return st
	}
	for _, g := range p.Groups {
		if g == nil {
			continue
		}
		gs := GroupState{Type: g.Type}
		for _, t := range g.Tasks {
			if t == nil {
				continue
			}
			en := t.Enabled
			gs.Tasks = append(gs.Tasks, TaskState{
				ID:                 t.ID,
				Cron:               t.EffectiveCron(g),
				Enabled:            &en,
				LastExecTime:       cloneStr(t.LastExecTime),
				NextShouldExecTime: cloneStr(t.NextShouldExecTime),
				ErrState:           t.ErrState,
			})
		}
		st.Groups = append(st.Groups, gs)
	}
	return st
}

// ApplyState overlays persisted runtime fields. Entries for groups or tasks
// that no longer exist are ignored. A memoized next run computed for a
// different cron expression is dropped.
func (p *Properties) ApplyState(st State) {
	if p == nil {
		return
	}
	for _, gs := range st.Groups {
		g := p.Group(gs.Type)
		if g == nil {
			continue
		}
		for _, ts := range gs.Tasks {
			t := g.Task(ts.ID)
			if t == nil {
				continue
			}
			if ts.Enabled != nil {
				t.Enabled = *ts.Enabled
			}
			t.LastExecTime = cloneStr(ts.LastExecTime)
			t.NextShouldExecTime = nil
			if ts.Cron == "" || ts.Cron == t.EffectiveCron(g) {
				t.NextShouldExecTime = cloneStr(ts.NextShouldExecTime)
			}
			t.ErrState = ts.ErrState
		}
	}
}

// ExecutedToday counts tasks whose last execution falls on the date of now.
func (p *Properties) ExecutedToday(now time.Time) int {
	if p == nil {
		return 0
	}
	return p.State().ExecutedToday(now)
}

// ExecutedToday is Properties.ExecutedToday over a detached snapshot.
func (st State) ExecutedToday(now time.Time) int {
	n := 0
	for _, g := range st.Groups {
		for _, t := range g.Tasks {
			if t.LastExecTime != nil && SameDay(*t.LastExecTime, now) {
				n++
			}
		}
	}
	return n
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
