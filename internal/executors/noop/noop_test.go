package noop

import (
	"context"
	"testing"
	"time"

	"autodaily/internal/task"
	"autodaily/internal/task/executor"
	logx "autodaily/pkg/logx"
)

func TestExecuteStampsTask(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 5, 10, 9, 30, 0, 0, task.Zone)
	stale := "2024-05-11 00:00:00"
	tk := &task.Task{ID: "a", NextShouldExecTime: &stale}
	g := &task.Group{Type: "noop|dry", Tasks: []*task.Task{tk}}

	ex := New(logx.Nop(), func() time.Time { return at })
	if err := ex.Execute(context.Background(), executor.Request{ReqType: ReqType, Group: g, Task: tk}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if tk.LastExecTime == nil || *tk.LastExecTime != task.Format(at) {
		t.Fatalf("lastExecTime = %v", tk.LastExecTime)
	}
	if tk.NextShouldExecTime != nil {
		t.Fatal("next run memo must be cleared")
	}
}

func TestExecuteHonoursCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tk := &task.Task{ID: "a"}
	if err := New(logx.Nop(), nil).Execute(ctx, executor.Request{Group: &task.Group{}, Task: tk}); err == nil {
		t.Fatal("expected error")
	}
	if tk.LastExecTime != nil {
		t.Fatal("cancelled run must not stamp the task")
	}
}
