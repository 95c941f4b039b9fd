// Package confstore loads, caches and version-gates the task configuration,
// persists per-task runtime state, and installs remote updates.
package confstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.yaml.in/yaml/v3"

	"autodaily/internal/codec"
	"autodaily/internal/eventbus"
	"autodaily/internal/remote"
	"autodaily/internal/storage"
	"autodaily/internal/task"
	logx "autodaily/pkg/logx"
)

// Storage keys.
const (
	keyBlob      = "conf.blob"
	keyVersion   = "conf.version"
	keyState     = "conf.state"
	keyChangelog = "conf.changelog"
	keyNotice    = "notice.cache"
	keyNoticeAt  = "notice.fetched_at"
)

// Remote is the subset of the update client the store uses.
type Remote interface {
	FetchNotice(ctx context.Context) (*remote.Notice, error)
	FetchVersions(ctx context.Context) ([]int, error)
	Download(ctx context.Context, url string) ([]byte, error)
	DownloadVersion(ctx context.Context, v int) ([]byte, error)
}

type Options struct {
	// ModuleVersion is the running module version checked against each
	// blob's minAppVersion.
	ModuleVersion int
	// Bundled is the default blob shipped with the module, encoded like any
	// other blob.
	Bundled   []byte
	Decrypter codec.Decrypter
	Remote    Remote
	Bus       eventbus.Bus
	Now       func() time.Time

	// NoticeMinInterval serves the cached notice to calls arriving sooner
	// than this after the last successful fetch.
	NoticeMinInterval time.Duration
}

// Store is the config store. The cached Properties is guarded by mu for
// load, save and invalidate.
type Store struct {
	kv  storage.Store
	log logx.Logger
	// warn is rate limited for repeated update-check failures.
	warn logx.Logger

	moduleVersion int
	bundled       []byte
	dec           codec.Decrypter
	remote        Remote
	bus           eventbus.Bus
	now           func() time.Time
	noticeEvery   time.Duration

	mu    sync.Mutex
	cache *task.Properties
	// state is a detached copy of the cache's runtime fields, refreshed on
	// load and on every SaveState. Readers outside the run use it because
	// the chain mutates the cached tasks without holding mu.
	state task.State
}

func New(kv storage.Store, log logx.Logger, opts Options) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Decrypter == nil {
		opts.Decrypter = codec.Plain{}
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		kv:            kv,
		log:           log,
		warn:          log.Limited(10*time.Minute, 1),
		moduleVersion: opts.ModuleVersion,
		bundled:       opts.Bundled,
		dec:           opts.Decrypter,
		remote:        opts.Remote,
		bus:           opts.Bus,
		now:           opts.Now,
		noticeEvery:   opts.NoticeMinInterval,
	}
}

func (s *Store) ModuleVersion() int { return s.moduleVersion }

// Load returns the cached configuration, deriving it from storage on a miss.
//
// The local blob is used when it decodes, passes the version gate and is
// not older than the persisted version. Otherwise, or when the bundled
// default is at least as new and differs, the bundled default is persisted
// and used. Persisted task state is overlaid on the result.
func (s *Store) Load(ctx context.Context) (*task.Properties, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

func (s *Store) loadLocked(ctx context.Context) (*task.Properties, error) {
	if s.cache != nil {
		return s.cache, nil
	}

	local, lerr := s.loadLocal(ctx)
	if lerr != nil && !errors.Is(lerr, ErrNotFound) {
		s.log.Warn("local config rejected", logx.Err(lerr))
	}

	var bundled *decoded
	var berr error
	if len(s.bundled) > 0 {
		bundled, berr = s.decode(s.bundled, "bundled")
		if berr != nil {
			s.log.Error("bundled config unusable", logx.Err(berr))
		}
	} else {
		berr = errors.New("no bundled config")
	}

	var chosen *decoded
	switch {
	case local == nil && bundled == nil:
		if lerr == nil || errors.Is(lerr, ErrNotFound) {
			return nil, berr
		}
		return nil, errors.Join(lerr, berr)
	case bundled == nil:
		chosen = local
	case local == nil:
		chosen = bundled
		s.installBundled(ctx, bundled, true)
	case bundled.props.Version > local.props.Version:
		chosen = bundled
		s.installBundled(ctx, bundled, true)
	case bundled.props.Version == local.props.Version && bundled.text != local.text:
		chosen = bundled
		s.installBundled(ctx, bundled, false)
	default:
		chosen = local
	}

	p := chosen.props
	if err := s.overlayState(ctx, p); err != nil {
		s.log.Warn("task state overlay unreadable; starting fresh", logx.Err(err))
	}
	s.cache = p
	s.state = p.State()
	s.log.Debug("config loaded", logx.Int("version", p.Version), logx.Int("groups", len(p.Groups)))
	return p, nil
}

func (s *Store) loadLocal(ctx context.Context) (*decoded, error) {
	blob, ok, err := s.kv.Get(ctx, keyBlob)
	if err != nil {
		return nil, err
	}
	if !ok || len(blob) == 0 {
		return nil, ErrNotFound
	}
	d, err := s.decode(blob, "local")
	if err != nil {
		return nil, err
	}
	if v := s.localVersion(ctx); d.props.Version < v {
		return nil, fmt.Errorf("local config v%d older than persisted v%d", d.props.Version, v)
	}
	return d, nil
}

// installBundled persists the bundled blob. A failed write is logged; the
// bundled copy is still served from memory.
func (s *Store) installBundled(ctx context.Context, d *decoded, changelog bool) {
	kv := map[string][]byte{
		keyBlob:    s.bundled,
		keyVersion: []byte(strconv.Itoa(d.props.Version)),
	}
	if changelog {
		kv[keyChangelog] = []byte("1")
	}
	if err := s.kv.PutBatch(ctx, kv); err != nil {
		s.log.Error("persist bundled config failed", logx.Err(err))
		return
	}
	s.log.Info("bundled config installed", logx.Int("version", d.props.Version), logx.Bool("changelog", changelog))
}

// Save persists blob as the local configuration at version. The cache is
// invalidated whatever the outcome; a failed write leaves the previous
// persisted state in place.
func (s *Store) Save(ctx context.Context, blob []byte, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx, blob, version, false)
}

func (s *Store) saveLocked(ctx context.Context, blob []byte, version int, changelog bool) error {
	defer func() { s.cache = nil }()
	kv := map[string][]byte{
		keyBlob:    blob,
		keyVersion: []byte(strconv.Itoa(version)),
	}
	if changelog {
		kv[keyChangelog] = []byte("1")
	}
	if err := s.kv.PutBatch(ctx, kv); err != nil {
		return fmt.Errorf("save config v%d: %w", version, err)
	}
	return nil
}

// Invalidate drops the cached configuration.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.mu.Unlock()
}

// LocalVersion is the version of the persisted configuration, 0 if none.
func (s *Store) LocalVersion(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localVersion(ctx)
}

func (s *Store) localVersion(ctx context.Context) int {
	b, ok, err := s.kv.Get(ctx, keyVersion)
	if err != nil || !ok {
		return 0
	}
	v, _ := strconv.Atoi(string(b))
	return v
}

// SaveState persists the runtime fields of every task in p. When p is no
// longer the cached instance (the config was replaced mid-run) the state is
// also applied to the cache so it is not lost.
func (s *Store) SaveState(ctx context.Context, p *task.Properties) error {
	if p == nil {
		return nil
	}
	st := p.State()
	b, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode task state: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Put(ctx, keyState, b); err != nil {
		return fmt.Errorf("save task state: %w", err)
	}
	s.state = st
	if s.cache != nil && s.cache != p {
		s.cache.ApplyState(st)
		s.state = s.cache.State()
	}
	return nil
}

func (s *Store) overlayState(ctx context.Context, p *task.Properties) error {
	b, ok, err := s.kv.Get(ctx, keyState)
	if err != nil || !ok {
		return err
	}
	var st task.State
	if err := yaml.Unmarshal(b, &st); err != nil {
		return err
	}
	p.ApplyState(st)
	return nil
}

// SetTaskEnabled toggles one task and persists the change. Callers that run
// chains concurrently must serialize this with their runs.
func (s *Store) SetTaskEnabled(ctx context.Context, groupType, taskID string, enabled bool) error {
	s.mu.Lock()
	p, err := s.loadLocked(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	t := p.Group(groupType).Task(taskID)
	if t == nil {
		s.mu.Unlock()
		return fmt.Errorf("task %s/%s: %w", groupType, taskID, ErrNotFound)
	}
	t.Enabled = enabled
	s.mu.Unlock()
	return s.SaveState(ctx, p)
}

// ExecutedToday counts tasks whose last run falls on today's date. It reads
// the state snapshot, so a run in progress is reflected once its group has
// been saved.
func (s *Store) ExecutedToday(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.loadLocked(ctx); err != nil {
		return 0, err
	}
	return s.state.ExecutedToday(s.now()), nil
}

// NeedShowChangelog reports whether a newer configuration was installed
// since the user last acknowledged the changelog.
func (s *Store) NeedShowChangelog(ctx context.Context) bool {
	b, ok, err := s.kv.Get(ctx, keyChangelog)
	return err == nil && ok && string(b) == "1"
}

func (s *Store) AckChangelog(ctx context.Context) error {
	return s.kv.Delete(ctx, keyChangelog)
}
