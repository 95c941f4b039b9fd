package storage

import (
	"context"
	"errors"
	"time"

	"autodaily/internal/task"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values: "memory" (default), "file", "sqlite".
type Config struct {
	Driver      string        `json:"driver"`
	Path        string        `json:"path"`
	BusyTimeout time.Duration `json:"busy_timeout"` // sqlite only; 0 means default

	// HistoryLimit caps the run history kept by the memory and file drivers
	// and pruned by sqlite. 0 means 500.
	HistoryLimit int `json:"history_limit"`
}

// Store is the persistence API used by the config store and the scheduler.
//
// Keys are opaque strings. Get reports ok=false for a missing key.
// PutBatch writes every pair or none.
type Store interface {
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	Put(ctx context.Context, key string, val []byte) error
	PutBatch(ctx context.Context, kv map[string][]byte) error
	Delete(ctx context.Context, key string) error

	AppendRun(ctx context.Context, r task.RunRecord) error
	// Runs returns up to limit most recent records, newest first.
	Runs(ctx context.Context, limit int) ([]task.RunRecord, error)

	Close() error
}

const defaultHistoryLimit = 500

func historyLimit(cfg Config) int {
	if cfg.HistoryLimit > 0 {
		return cfg.HistoryLimit
	}
	return defaultHistoryLimit
}
