package schedule

import (
	"errors"
	"testing"
	"time"

	"autodaily/internal/task"
	logx "autodaily/pkg/logx"
)

func nopLog() logx.Logger { return logx.Nop() }

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func at(h, m int) time.Time { return time.Date(2024, 5, 10, h, m, 0, 0, task.Zone) }

func strp(s string) *string { return &s }

func TestDueBootstrapRule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		now  time.Time
		cron string
		want bool
	}{
		// First fire is tomorrow: run today anyway.
		{name: "first fire tomorrow", now: at(20, 0), cron: "0 0 18 * * ?", want: true},
		// First fire is later today: wait for it.
		{name: "first fire later today", now: at(9, 0), cron: "0 0 18 * * ?", want: false},
		{name: "five field", now: at(9, 0), cron: "30 18 * * *", want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			clk := &fakeClock{t: tt.now}
			e := New(nopLog(), WithClock(clk.now))
			tk := &task.Task{ID: "a", Cron: tt.cron, Enabled: true}
			got, err := e.Due(tk, nil)
			if err != nil {
				t.Fatalf("Due error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Due = %v, want %v (next=%v)", got, tt.want, *tk.NextShouldExecTime)
			}
		})
	}
}

func TestDueAfterPreviousRun(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{t: at(9, 0)}
	e := New(nopLog(), WithClock(clk.now))
	tk := &task.Task{ID: "a", Cron: "0 0 10 * * ?", Enabled: true, LastExecTime: strp("2024-05-09 10:00:01")}

	if due, _ := e.Due(tk, nil); due {
		t.Fatal("expected not due before slot")
	}
	if *tk.NextShouldExecTime != "2024-05-10 10:00:00" {
		t.Fatalf("next = %s", *tk.NextShouldExecTime)
	}
	clk.t = at(10, 0)
	if due, _ := e.Due(tk, nil); !due {
		t.Fatal("expected due once slot reached")
	}
}

func TestDueIsIdempotent(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{t: at(9, 0)}
	e := New(nopLog(), WithClock(clk.now))
	tk := &task.Task{ID: "a", Cron: "0 */30 * * * ?", Enabled: true, LastExecTime: strp("2024-05-10 08:30:00")}

	first, _ := e.Due(tk, nil)
	next := *tk.NextShouldExecTime
	for i := 0; i < 5; i++ {
		clk.t = clk.t.Add(time.Minute)
		got, _ := e.Due(tk, nil)
		if got != first {
			t.Fatalf("Due changed between calls: %v -> %v", first, got)
		}
		if *tk.NextShouldExecTime != next {
			t.Fatalf("next run drifted: %s -> %s", next, *tk.NextShouldExecTime)
		}
	}
}

func TestDueRespectsStrikeCap(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{t: at(20, 0)}
	e := New(nopLog(), WithClock(clk.now))
	tk := &task.Task{ID: "a", Cron: "0 0 18 * * ?", Enabled: true, ErrState: "2024-05-10|3"}
	if due, _ := e.Due(tk, nil); due {
		t.Fatal("expected suspended task not due")
	}
	tk.ErrState = "2024-05-09|3"
	if due, _ := e.Due(tk, nil); !due {
		t.Fatal("expected yesterday's strikes to be ignored")
	}
}

func TestDueDisabled(t *testing.T) {
	t.Parallel()
	e := New(nopLog())
	if due, _ := e.Due(&task.Task{ID: "a", Cron: "* * * * *"}, nil); due {
		t.Fatal("disabled task must not be due")
	}
}

func TestDueInvalidCron(t *testing.T) {
	t.Parallel()
	e := New(nopLog())
	tk := &task.Task{ID: "a", Cron: "not a cron", Enabled: true}
	due, err := e.Due(tk, nil)
	if due {
		t.Fatal("expected not due")
	}
	var se *task.ScheduleError
	if !errors.As(err, &se) {
		t.Fatalf("expected ScheduleError, got %v", err)
	}
	if e.IsDue(tk, nil) {
		t.Fatal("IsDue must swallow schedule errors")
	}
}

func TestGroupCronFallback(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{t: at(9, 0)}
	e := New(nopLog(), WithClock(clk.now))
	g := &task.Group{Type: "http|x", Enabled: true, Cron: "0 0 12 * * ?"}
	tk := &task.Task{ID: "a", Enabled: true, LastExecTime: strp("2024-05-09 12:00:00")}
	next, err := e.Next(tk, g)
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	if next != "2024-05-10 12:00:00" {
		t.Fatalf("next = %s", next)
	}
}

func TestOffsetKeepsComparisonConsistent(t *testing.T) {
	t.Parallel()
	// Reference clock is 5 minutes ahead of the local clock.
	clk := &fakeClock{t: at(9, 54)}
	e := New(nopLog(), WithClock(clk.now), WithOffset(5*time.Minute))
	tk := &task.Task{ID: "a", Cron: "0 0 10 * * ?", Enabled: true, LastExecTime: strp("2024-05-09 10:00:00")}

	if due, _ := e.Due(tk, nil); due {
		t.Fatal("not due yet on either clock")
	}
	// Slot 10:00 on the reference clock is 09:55 locally.
	if *tk.NextShouldExecTime != "2024-05-10 09:55:00" {
		t.Fatalf("next = %s", *tk.NextShouldExecTime)
	}
	clk.t = at(9, 55)
	if due, _ := e.Due(tk, nil); !due {
		t.Fatal("expected due when reference clock reaches slot")
	}
}
