package storage

import (
	"bytes"
	"context"
	"sync"

	"autodaily/internal/task"
)

type memoryStore struct {
	mu     sync.RWMutex
	kv     map[string][]byte
	runs   []task.RunRecord
	limit  int
	closed bool
}

// NewMemory returns a volatile store keeping at most historyLimit runs.
func NewMemory(historyLimit int) Store {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &memoryStore{kv: map[string][]byte{}, limit: historyLimit}
}

func (s *memoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	v, ok := s.kv[key]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

func (s *memoryStore) Put(ctx context.Context, key string, val []byte) error {
	return s.PutBatch(ctx, map[string][]byte{key: val})
}

func (s *memoryStore) PutBatch(ctx context.Context, kv map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for k, v := range kv {
		s.kv[k] = bytes.Clone(v)
	}
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.kv, key)
	return nil
}

func (s *memoryStore) AppendRun(ctx context.Context, r task.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.runs = appendRing(s.runs, r, s.limit)
	return nil
}

func (s *memoryStore) Runs(ctx context.Context, limit int) ([]task.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return newestFirst(s.runs, limit), nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func appendRing(runs []task.RunRecord, r task.RunRecord, limit int) []task.RunRecord {
	runs = append(runs, r)
	if over := len(runs) - limit; over > 0 {
		runs = append(runs[:0:0], runs[over:]...)
	}
	return runs
}

func newestFirst(runs []task.RunRecord, limit int) []task.RunRecord {
	if limit <= 0 || limit > len(runs) {
		limit = len(runs)
	}
	out := make([]task.RunRecord, 0, limit)
	for i := len(runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, runs[i])
	}
	return out
}
