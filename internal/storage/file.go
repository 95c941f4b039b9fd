package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"autodaily/internal/task"
	logx "autodaily/pkg/logx"
)

// fileStore keeps the key-value map in memory and persists it as files.
//
// Files:
//   - <prefix>.kv.snapshot.json (periodic snapshot)
//   - <prefix>.kv.journal.jsonl (append-only journal, one batch per line)
//   - <prefix>.runs.jsonl       (append-only run history)
//
// The journal is compacted into the snapshot every compactEvery writes and
// on Close. A torn trailing journal line is ignored on replay.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File
	runsFile     *os.File

	kv     map[string][]byte
	runs   []task.RunRecord
	limit  int
	writes int
}

const compactEvery = 200

// journalRecord is one atomic batch. Values are base64 in JSON.
type journalRecord struct {
	Put map[string][]byte `json:"put,omitempty"`
	Del []string          `json:"del,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".kv.snapshot.json"
	journalPath := prefix + ".kv.journal.jsonl"
	runsPath := prefix + ".runs.jsonl"

	kv := map[string][]byte{}
	if err := loadSnapshot(snapPath, kv); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := replayJournal(journalPath, kv); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	limit := historyLimit(cfg)
	runs, err := loadRuns(runsPath, limit)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("run history unreadable; starting empty", logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	rf, err := os.OpenFile(runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = jf.Close()
		return nil, err
	}

	return &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journalFile:  jf,
		runsFile:     rf,
		kv:           kv,
		runs:         runs,
		limit:        limit,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	err1 := s.compactLocked()
	err2 := s.journalFile.Close()
	err3 := s.runsFile.Close()
	s.journalFile = nil
	s.runsFile = nil
	return errors.Join(err1, err2, err3)
}

func (s *fileStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil, false, ErrClosed
	}
	v, ok := s.kv[key]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

func (s *fileStore) Put(ctx context.Context, key string, val []byte) error {
	return s.PutBatch(ctx, map[string][]byte{key: val})
}

func (s *fileStore) PutBatch(ctx context.Context, kv map[string][]byte) error {
	if len(kv) == 0 {
		return nil
	}
	return s.writeJournal(journalRecord{Put: kv})
}

func (s *fileStore) Delete(ctx context.Context, key string) error {
	return s.writeJournal(journalRecord{Del: []string{key}})
}

// writeJournal persists rec first and applies it to memory only on success,
// so a failed write leaves the visible state untouched.
func (s *fileStore) writeJournal(rec journalRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}
	if _, err := s.journalFile.Write(line); err != nil {
		return err
	}
	if err := s.journalFile.Sync(); err != nil {
		return err
	}
	applyRecord(s.kv, rec)

	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("kv compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) AppendRun(ctx context.Context, r task.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.runsFile).Encode(r); err != nil {
		return err
	}
	s.runs = appendRing(s.runs, r, s.limit)
	return nil
}

func (s *fileStore) Runs(ctx context.Context, limit int) ([]task.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return nil, ErrClosed
	}
	return newestFirst(s.runs, limit), nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.kv); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, io.SeekEnd)
	return err
}

func applyRecord(kv map[string][]byte, rec journalRecord) {
	for k, v := range rec.Put {
		kv[k] = bytes.Clone(v)
	}
	for _, k := range rec.Del {
		delete(kv, k)
	}
}

func loadSnapshot(path string, out map[string][]byte) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string][]byte
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayJournal(path string, out map[string][]byte) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	for sc.Scan() {
		var rec journalRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		applyRecord(out, rec)
	}
	return sc.Err()
}

func loadRuns(path string, limit int) ([]task.RunRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var runs []task.RunRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r task.RunRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		runs = appendRing(runs, r, limit)
	}
	return runs, sc.Err()
}
