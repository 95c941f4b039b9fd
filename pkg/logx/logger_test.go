package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriterFieldsAndLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "test"))

	log.Debug("hidden")
	log.Info("shown", Int("n", 3), Err(nil), Err(errors.New("bad")))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %q", lines)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["comp"] != "test" || got["message"] != "shown" || got["n"] != float64(3) {
		t.Fatalf("entry = %v", got)
	}
	if _, ok := got["error"]; !ok {
		if _, ok := got["err"]; !ok {
			t.Fatalf("error field missing: %v", got)
		}
	}
}

func TestLimitedDropsRepeats(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").Limited(time.Hour, 1)
	for i := 0; i < 5; i++ {
		log.Warn("again")
	}
	if n := strings.Count(buf.String(), "again"); n != 1 {
		t.Fatalf("entries = %d, want 1", n)
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger must report IsZero")
	}
	l.Error("dropped")
	if Nop().IsZero() {
		t.Fatal("Nop is an explicit logger")
	}
}

func TestServiceWritesFileSink(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "app.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	log.Info("to file", String("k", "v"))

	svc.Apply(Config{Level: "error", File: FileConfig{Enabled: true, Path: path}})
	log.Info("filtered")
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(b), `"k":"v"`) || strings.Contains(string(b), "filtered") {
		t.Fatalf("file = %s", b)
	}
}
