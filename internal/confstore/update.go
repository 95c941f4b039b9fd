package confstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"autodaily/internal/eventbus"
	"autodaily/internal/remote"
	logx "autodaily/pkg/logx"
)

type UpdateStatus int

const (
	UpToDate UpdateStatus = iota
	// ModuleUpdateAvailable means the module itself is outdated. The
	// config is left untouched.
	ModuleUpdateAvailable
	Updated
	Rejected
	Failed
)

func (s UpdateStatus) String() string {
	switch s {
	case UpToDate:
		return "up-to-date"
	case ModuleUpdateAvailable:
		return "module-update"
	case Updated:
		return "updated"
	case Rejected:
		return "rejected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// UpdateResult is the outcome of an update attempt.
type UpdateResult struct {
	Status  UpdateStatus
	Version int // installed or offered config version
	Reason  string
	Notice  *remote.Notice
}

// CheckForUpdate consults the notice endpoint and installs a newer config
// when the running module satisfies its version gate.
//
// A notice that cannot be fetched or parsed yields an error wrapping
// ErrUpdateCheck and no result.
func (s *Store) CheckForUpdate(ctx context.Context) (*UpdateResult, error) {
	n, err := s.Notice(ctx)
	if err != nil {
		s.warn.Warn("update check failed", logx.Err(err))
		return nil, fmt.Errorf("%w: %v", ErrUpdateCheck, err)
	}

	if n.AppVersion > s.moduleVersion {
		s.bus.Publish(eventbus.Event{Type: eventbus.ModuleUpdate, Data: eventbus.Advisory{
			Message: fmt.Sprintf("module update available: %d", n.AppVersion), Version: n.AppVersion,
		}})
		return &UpdateResult{Status: ModuleUpdateAvailable, Version: n.AppVersion, Notice: n}, nil
	}

	local := s.LocalVersion(ctx)
	if n.ConfVersion <= local {
		return &UpdateResult{Status: UpToDate, Version: local, Notice: n}, nil
	}
	if n.MinAppVersion > s.moduleVersion {
		gerr := &VersionGateError{ConfVersion: n.ConfVersion, Required: n.MinAppVersion, Have: s.moduleVersion}
		s.reject(gerr)
		return &UpdateResult{Status: Rejected, Version: n.ConfVersion, Reason: gerr.Error(), Notice: n}, nil
	}

	if s.remote == nil {
		return &UpdateResult{Status: Failed, Version: n.ConfVersion, Reason: "no remote configured", Notice: n}, nil
	}
	blob, err := s.remote.Download(ctx, n.ConfURL)
	if err != nil {
		s.log.Warn("config download failed", logx.Int("version", n.ConfVersion), logx.Err(err))
		return &UpdateResult{Status: Failed, Version: n.ConfVersion, Reason: err.Error(), Notice: n}, nil
	}
	res := s.install(ctx, blob, true)
	res.Notice = n
	return res, nil
}

// LatestConfigVersion returns the newest published config version when it
// is newer than the local one.
func (s *Store) LatestConfigVersion(ctx context.Context) (int, bool, error) {
	if s.remote == nil {
		return 0, false, errors.New("no remote configured")
	}
	vs, err := s.remote.FetchVersions(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrUpdateCheck, err)
	}
	if len(vs) == 0 {
		return 0, false, nil
	}
	if local := s.LocalVersion(ctx); vs[0] > local {
		return vs[0], true, nil
	}
	return vs[0], false, nil
}

// UpdateFromVersion downloads the config published under tag v and installs
// it if it passes the version gate. Older tags may be installed on purpose.
func (s *Store) UpdateFromVersion(ctx context.Context, v int) *UpdateResult {
	if s.remote == nil {
		return &UpdateResult{Status: Failed, Version: v, Reason: "no remote configured"}
	}
	blob, err := s.remote.DownloadVersion(ctx, v)
	if err != nil {
		return &UpdateResult{Status: Failed, Version: v, Reason: err.Error()}
	}
	return s.install(ctx, blob, false)
}

// install decodes, gates and saves a downloaded blob.
func (s *Store) install(ctx context.Context, blob []byte, requireNewer bool) *UpdateResult {
	d, err := s.decode(blob, "remote")
	if err != nil {
		var gerr *VersionGateError
		if errors.As(err, &gerr) {
			s.reject(gerr)
			return &UpdateResult{Status: Rejected, Version: gerr.ConfVersion, Reason: err.Error()}
		}
		s.log.Warn("downloaded config unusable", logx.Err(err))
		return &UpdateResult{Status: Failed, Reason: err.Error()}
	}
	v := d.props.Version

	s.mu.Lock()
	defer s.mu.Unlock()
	if requireNewer {
		if local := s.localVersion(ctx); v <= local {
			return &UpdateResult{Status: UpToDate, Version: local, Reason: ErrNotNewer.Error()}
		}
	}
	if err := s.saveLocked(ctx, blob, v, true); err != nil {
		s.log.Error("install config failed", logx.Int("version", v), logx.Err(err))
		return &UpdateResult{Status: Failed, Version: v, Reason: err.Error()}
	}
	s.log.Info("config updated", logx.Int("version", v))
	s.bus.Publish(eventbus.Event{Type: eventbus.ConfUpdated, Data: eventbus.Advisory{
		Message: fmt.Sprintf("config updated to v%d", v), Version: v,
	}})
	return &UpdateResult{Status: Updated, Version: v}
}

func (s *Store) reject(gerr *VersionGateError) {
	s.log.Info("config update rejected", logx.Err(gerr))
	s.bus.Publish(eventbus.Event{Type: eventbus.ConfRejected, Data: eventbus.Advisory{
		Message: gerr.Error(), Version: gerr.ConfVersion,
	}})
}

// Notice returns the update notice, served from storage when the last fetch
// is younger than the minimum interval or the client throttles the call.
func (s *Store) Notice(ctx context.Context) (*remote.Notice, error) {
	now := s.now()
	cached := s.cachedNotice(ctx)
	if cached != nil && s.noticeEvery > 0 {
		if at, ok := s.noticeFetchedAt(ctx); ok && now.Sub(at) < s.noticeEvery {
			return cached, nil
		}
	}
	if s.remote == nil {
		return nil, errors.New("no remote configured")
	}
	n, err := s.remote.FetchNotice(ctx)
	if errors.Is(err, remote.ErrThrottled) && cached != nil {
		return cached, nil
	}
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(n); err == nil {
		perr := s.kv.PutBatch(ctx, map[string][]byte{
			keyNotice:   b,
			keyNoticeAt: []byte(strconv.FormatInt(now.UnixMilli(), 10)),
		})
		if perr != nil {
			s.log.Debug("notice cache write failed", logx.Err(perr))
		}
	}
	return n, nil
}

func (s *Store) cachedNotice(ctx context.Context) *remote.Notice {
	b, ok, err := s.kv.Get(ctx, keyNotice)
	if err != nil || !ok {
		return nil
	}
	var n remote.Notice
	if json.Unmarshal(b, &n) != nil {
		return nil
	}
	return &n
}

func (s *Store) noticeFetchedAt(ctx context.Context) (time.Time, bool) {
	b, ok, err := s.kv.Get(ctx, keyNoticeAt)
	if err != nil || !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
