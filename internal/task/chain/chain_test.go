package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"autodaily/internal/eventbus"
	"autodaily/internal/task"
	"autodaily/internal/task/executor"
)

func evening() time.Time { return time.Date(2024, 5, 10, 20, 0, 0, 0, task.Zone) }

// dueTask is due at 20:00 because its first slot (18:00) already passed.
func dueTask(id string) *task.Task {
	return &task.Task{ID: id, Cron: "0 0 18 * * ?", Enabled: true}
}

type recorder struct {
	mu   sync.Mutex
	runs []task.RunRecord
}

func (r *recorder) AppendRun(_ context.Context, rec task.RunRecord) error {
	r.mu.Lock()
	r.runs = append(r.runs, rec)
	r.mu.Unlock()
	return nil
}

func deps(ex executor.Func) Deps {
	return Deps{Executor: ex, Now: evening}
}

func TestRelayCarriesEarlierResults(t *testing.T) {
	t.Parallel()
	g := &task.Group{Type: "http|daily", Enabled: true, Tasks: []*task.Task{dueTask("login"), dueTask("sign")}}

	var seen string
	ex := executor.Func(func(ctx context.Context, req executor.Request) error {
		switch req.Task.ID {
		case "login":
			req.Task.SetParam("token", "abc")
		case "sign":
			seen, _ = req.Relay["login"].Param("token")
		}
		req.Task.SetLastExecTime(evening())
		return nil
	})

	rep, err := Build(g, deps(ex)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if seen != "abc" {
		t.Fatalf("sign saw token %q", seen)
	}
	if rep.Executed != 2 || rep.Failed != 0 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestRelayIncludesFilteredTasks(t *testing.T) {
	t.Parallel()
	off := dueTask("off")
	off.Enabled = false
	off.SetParam("k", "v")
	g := &task.Group{Type: "http", Enabled: true, Tasks: []*task.Task{off, dueTask("on")}}

	var got string
	var calls int
	ex := executor.Func(func(ctx context.Context, req executor.Request) error {
		calls++
		got, _ = req.Relay["off"].Param("k")
		return nil
	})
	if _, err := Build(g, deps(ex)).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 1 || got != "v" {
		t.Fatalf("calls=%d relay value=%q", calls, got)
	}
}

func TestTimeoutCarriesNoPenalty(t *testing.T) {
	t.Parallel()
	tk := dueTask("slow")
	tk.ErrState = "2024-05-10|2"
	g := &task.Group{Type: "http", Enabled: true, Tasks: []*task.Task{tk}}

	var calls int
	ex := executor.Func(func(ctx context.Context, req executor.Request) error {
		calls++
		return fmt.Errorf("post: %w", context.DeadlineExceeded)
	})
	rep, err := Build(g, deps(ex)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := tk.ErrCount(evening()); n != 2 {
		t.Fatalf("errCount = %d, want 2", n)
	}
	if rep.Transient != 1 || rep.Failed != 0 {
		t.Fatalf("report = %+v", rep)
	}

	// Still eligible on the next cycle.
	rep, err = Build(g, deps(ex)).Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if calls != 2 {
		t.Fatalf("executor calls = %d, want 2", calls)
	}
	if rep.Transient != 1 || rep.Skipped != 0 || rep.Vetoed {
		t.Fatalf("second report = %+v", rep)
	}
}

func TestCancelledRunCarriesNoPenalty(t *testing.T) {
	t.Parallel()
	tk := dueTask("long")
	tk.ErrState = "2024-05-10|2"
	g := &task.Group{Type: "http", Enabled: true, Tasks: []*task.Task{tk, dueTask("after")}}
	rec := &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := deps(func(ctx context.Context, req executor.Request) error {
		if req.Task.ID == "after" {
			t.Error("tasks after a cancelled one must not run")
			return nil
		}
		cancel()
		<-ctx.Done()
		return fmt.Errorf("post: %w", ctx.Err())
	})
	d.Recorder = rec

	rep, err := Build(g, d).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v, want context.Canceled", err)
	}
	if rep.Aborted != 1 || rep.Failed != 0 || rep.Transient != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if n := tk.ErrCount(evening()); n != 2 {
		t.Fatalf("errCount = %d, want 2", n)
	}
	if tk.Suspended(evening()) {
		t.Fatal("cancelled task was suspended")
	}
	if len(rec.runs) != 1 || rec.runs[0].OK || rec.runs[0].Task != "long" {
		t.Fatalf("history = %+v", rec.runs)
	}
}

func TestFailureReachesCapAndExcludes(t *testing.T) {
	t.Parallel()
	tk := dueTask("flaky")
	tk.ErrState = "2024-05-10|2"
	g := &task.Group{Type: "http", Enabled: true, Tasks: []*task.Task{tk}}

	var calls int
	ex := executor.Func(func(ctx context.Context, req executor.Request) error {
		calls++
		return errors.New("500")
	})
	if _, err := Build(g, deps(ex)).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := tk.ErrCount(evening()); n != 3 {
		t.Fatalf("errCount = %d, want 3", n)
	}

	rep, err := Build(g, deps(ex)).Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if calls != 1 {
		t.Fatalf("executor calls = %d, want 1", calls)
	}
	if !rep.Vetoed || rep.Skipped != 1 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestPausedVetoesGroup(t *testing.T) {
	t.Parallel()
	g := &task.Group{Type: "http", Enabled: true, Tasks: []*task.Task{dueTask("a")}}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	d := deps(func(ctx context.Context, req executor.Request) error {
		t.Error("executor must not run")
		return nil
	})
	d.Paused = func() bool { return true }
	d.Bus = bus

	c := Build(g, d)
	rep, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !rep.Vetoed || rep.VetoReason != "paused" {
		t.Fatalf("report = %+v", rep)
	}
	if c.Env[EnvVetoReason] != "paused" {
		t.Fatalf("env veto reason = %v", c.Env[EnvVetoReason])
	}
	select {
	case e := <-events:
		if e.Type != eventbus.GroupVetoed {
			t.Fatalf("event = %s", e.Type)
		}
	default:
		t.Fatal("expected veto event")
	}
}

func TestDisabledGroupExecutesNothing(t *testing.T) {
	t.Parallel()
	g := &task.Group{Type: "http", Enabled: false, Tasks: []*task.Task{dueTask("a")}}
	rep, err := Build(g, deps(func(ctx context.Context, req executor.Request) error {
		t.Error("executor must not run")
		return nil
	})).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !rep.Vetoed {
		t.Fatalf("report = %+v", rep)
	}
}

func TestEnvIsCopiedPerTask(t *testing.T) {
	t.Parallel()
	g := &task.Group{Type: "http|x", Enabled: true, Tasks: []*task.Task{dueTask("a"), dueTask("b")}}
	var leaked bool
	var runIDs []string
	ex := executor.Func(func(ctx context.Context, req executor.Request) error {
		if _, ok := req.Env["scratch"]; ok {
			leaked = true
		}
		req.Env["scratch"] = req.Task.ID
		runIDs = append(runIDs, req.Env[EnvRunID].(string))
		if req.Env[EnvReqType] != "http" || req.Env[EnvDate] != "2024-05-10" {
			t.Errorf("env = %v", req.Env)
		}
		return nil
	})
	if _, err := Build(g, deps(ex)).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if leaked {
		t.Fatal("env writes leaked between tasks")
	}
	if len(runIDs) != 2 || runIDs[0] == "" || runIDs[0] != runIDs[1] {
		t.Fatalf("run ids = %v", runIDs)
	}
}

func TestExecutorPanicCountsAsFailure(t *testing.T) {
	t.Parallel()
	tk := dueTask("boom")
	g := &task.Group{Type: "http", Enabled: true, Tasks: []*task.Task{tk, dueTask("next")}}
	rec := &recorder{}
	d := deps(func(ctx context.Context, req executor.Request) error {
		if req.Task.ID == "boom" {
			panic("nil map")
		}
		return nil
	})
	d.Recorder = rec

	rep, err := Build(g, d).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Failed != 1 || rep.Executed != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if tk.ErrCount(evening()) != 1 {
		t.Fatalf("errCount = %d", tk.ErrCount(evening()))
	}
	if len(rec.runs) != 2 || rec.runs[0].OK || !rec.runs[1].OK {
		t.Fatalf("history = %+v", rec.runs)
	}
}

func TestTaskTimeoutApplied(t *testing.T) {
	t.Parallel()
	g := &task.Group{Type: "http", Enabled: true, Tasks: []*task.Task{dueTask("a")}}
	d := deps(func(ctx context.Context, req executor.Request) error {
		<-ctx.Done()
		return ctx.Err()
	})
	d.TaskTimeout = 10 * time.Millisecond

	rep, err := Build(g, d).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Transient != 1 {
		t.Fatalf("report = %+v", rep)
	}
}

type vetoStage struct{}

func (vetoStage) Name() string { return "veto" }

func (vetoStage) Process(ctx context.Context, c *Chain) error {
	c.Veto("custom")
	return nil
}

func TestCustomStageShortCircuits(t *testing.T) {
	t.Parallel()
	g := &task.Group{Type: "http", Enabled: true, Tasks: []*task.Task{dueTask("a")}}
	c := New(g, deps(func(ctx context.Context, req executor.Request) error {
		t.Error("executor must not run")
		return nil
	}), CheckExecuteFilter{}, vetoStage{}, ExecuteBasicFilter{})
	rep, err := c.Run(context.Background())
	if err != nil || rep.VetoReason != "custom" {
		t.Fatalf("rep=%+v err=%v", rep, err)
	}
}
