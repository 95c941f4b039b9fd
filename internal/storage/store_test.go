package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"autodaily/internal/task"
	logx "autodaily/pkg/logx"
)

func openDriver(t *testing.T, driver, path string) Store {
	t.Helper()
	st, err := Open(Config{Driver: driver, Path: path, HistoryLimit: 3}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	return st
}

func TestDrivers(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"memory", "file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := openDriver(t, driver, filepath.Join(t.TempDir(), "state.db"))
			defer st.Close()

			if _, ok, err := st.Get(ctx, "missing"); ok || err != nil {
				t.Fatalf("Get(missing) ok=%v err=%v", ok, err)
			}
			if err := st.PutBatch(ctx, map[string][]byte{"a": []byte("1"), "b": []byte("2")}); err != nil {
				t.Fatalf("PutBatch: %v", err)
			}
			if err := st.Put(ctx, "a", []byte("3")); err != nil {
				t.Fatalf("Put: %v", err)
			}
			v, ok, err := st.Get(ctx, "a")
			if err != nil || !ok || string(v) != "3" {
				t.Fatalf("Get(a) = %q %v %v", v, ok, err)
			}
			if err := st.Delete(ctx, "b"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, ok, _ := st.Get(ctx, "b"); ok {
				t.Fatal("b should be gone")
			}

			for i := 0; i < 5; i++ {
				rec := task.RunRecord{At: time.Unix(int64(i), 0), Group: "g", Task: fmt.Sprintf("t%d", i), OK: i%2 == 0, Took: time.Millisecond}
				if err := st.AppendRun(ctx, rec); err != nil {
					t.Fatalf("AppendRun: %v", err)
				}
			}
			runs, err := st.Runs(ctx, 2)
			if err != nil {
				t.Fatalf("Runs: %v", err)
			}
			if len(runs) != 2 || runs[0].Task != "t4" || runs[1].Task != "t3" {
				t.Fatalf("Runs = %+v", runs)
			}
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	st := openDriver(t, "file", path)
	for i := 0; i < compactEvery+5; i++ {
		if err := st.Put(ctx, "counter", []byte(fmt.Sprint(i))); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := st.Put(ctx, "gone", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := st.Delete(ctx, "gone"); err != nil {
		t.Fatal(err)
	}
	_ = st.AppendRun(ctx, task.RunRecord{Task: "kept"})
	// Simulate a crash: no Close, journal tail only.
	fs := st.(*fileStore)
	fs.mu.Lock()
	_ = fs.journalFile.Close()
	_ = fs.runsFile.Close()
	fs.journalFile, fs.runsFile = nil, nil
	fs.mu.Unlock()

	st2 := openDriver(t, "file", path)
	defer st2.Close()
	v, ok, err := st2.Get(ctx, "counter")
	if err != nil || !ok || string(v) != fmt.Sprint(compactEvery+4) {
		t.Fatalf("counter = %q %v %v", v, ok, err)
	}
	if _, ok, _ := st2.Get(ctx, "gone"); ok {
		t.Fatal("deleted key resurrected")
	}
	runs, _ := st2.Runs(ctx, 0)
	if len(runs) != 1 || runs[0].Task != "kept" {
		t.Fatalf("runs = %+v", runs)
	}
}

func TestClosedStore(t *testing.T) {
	t.Parallel()
	st := NewMemory(0)
	_ = st.Close()
	if err := st.Put(context.Background(), "a", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("file driver requires a path")
	}
}
