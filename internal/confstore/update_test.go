package confstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"autodaily/internal/eventbus"
	"autodaily/internal/remote"
	"autodaily/internal/storage"
	logx "autodaily/pkg/logx"
)

func TestCheckForUpdateRejectsGatedNotice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rm := &fakeRemote{
		notice: &remote.Notice{AppVersion: moduleVersion, ConfVersion: 5, MinAppVersion: 10, ConfURL: "conf/5"},
		blobs:  map[string][]byte{"conf/5": doc(5, 10)},
	}
	s, kv := newStore(t, doc(3, 1), rm)
	seedLocal(t, kv, doc(3, 1), 3)

	res, err := s.CheckForUpdate(ctx)
	if err != nil {
		t.Fatalf("CheckForUpdate: %v", err)
	}
	if res.Status != Rejected {
		t.Fatalf("status = %s", res.Status)
	}
	if got := s.LocalVersion(ctx); got != 3 {
		t.Fatalf("local version = %d, want 3", got)
	}
	if rm.downloads != 0 {
		t.Fatal("a gated notice must not trigger a download")
	}
}

func TestCheckForUpdateInstalls(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rm := &fakeRemote{
		notice: &remote.Notice{AppVersion: moduleVersion, ConfVersion: 4, MinAppVersion: 1, ConfURL: "conf/4"},
		blobs:  map[string][]byte{"conf/4": doc(4, 1)},
	}
	s, kv := newStore(t, doc(3, 1), rm)
	seedLocal(t, kv, doc(3, 1), 3)
	bus := eventbus.New()
	s.bus = bus
	events, unsub := bus.Subscribe(4)
	defer unsub()

	before, _ := s.Load(ctx)
	res, err := s.CheckForUpdate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != Updated || res.Version != 4 {
		t.Fatalf("result = %+v", res)
	}
	after, _ := s.Load(ctx)
	if after == before || after.Version != 4 {
		t.Fatalf("reloaded version = %d", after.Version)
	}
	if !s.NeedShowChangelog(ctx) {
		t.Fatal("expected changelog flag")
	}
	if e := <-events; e.Type != eventbus.ConfUpdated {
		t.Fatalf("event = %s", e.Type)
	}
}

func TestCheckForUpdateOutcomes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		notice remote.Notice
		blob   []byte
		want   UpdateStatus
	}{
		{name: "module outdated", notice: remote.Notice{AppVersion: moduleVersion + 1, ConfVersion: 9}, want: ModuleUpdateAvailable},
		{name: "same version", notice: remote.Notice{AppVersion: moduleVersion, ConfVersion: 3}, want: UpToDate},
		{name: "blob gated", notice: remote.Notice{AppVersion: moduleVersion, ConfVersion: 4, ConfURL: "c"}, blob: doc(4, 10), want: Rejected},
		{name: "blob older than notice", notice: remote.Notice{AppVersion: moduleVersion, ConfVersion: 4, ConfURL: "c"}, blob: doc(2, 1), want: UpToDate},
		{name: "blob garbage", notice: remote.Notice{AppVersion: moduleVersion, ConfVersion: 4, ConfURL: "c"}, blob: []byte("nope"), want: Failed},
		{name: "download fails", notice: remote.Notice{AppVersion: moduleVersion, ConfVersion: 4, ConfURL: "missing"}, want: Failed},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			rm := &fakeRemote{notice: &tt.notice, blobs: map[string][]byte{}}
			if tt.blob != nil {
				rm.blobs["c"] = tt.blob
			}
			s, kv := newStore(t, doc(3, 1), rm)
			seedLocal(t, kv, doc(3, 1), 3)

			res, err := s.CheckForUpdate(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if res.Status != tt.want {
				t.Fatalf("status = %s, want %s (%s)", res.Status, tt.want, res.Reason)
			}
			if s.LocalVersion(ctx) != 3 {
				t.Fatalf("local version changed to %d", s.LocalVersion(ctx))
			}
		})
	}
}

func TestCheckForUpdateNetworkFailure(t *testing.T) {
	t.Parallel()
	rm := &fakeRemote{noticeErr: errors.New("connection refused")}
	s, _ := newStore(t, doc(3, 1), rm)
	res, err := s.CheckForUpdate(context.Background())
	if res != nil || !errors.Is(err, ErrUpdateCheck) {
		t.Fatalf("res=%v err=%v", res, err)
	}
}

func TestNoticeServedFromCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	rm := &fakeRemote{notice: &remote.Notice{AppVersion: 1, ConfVersion: 2}}
	s := New(storage.NewMemory(0), logx.Nop(), Options{
		ModuleVersion:     moduleVersion,
		Remote:            rm,
		Now:               func() time.Time { return now },
		NoticeMinInterval: time.Hour,
	})

	for i := 0; i < 3; i++ {
		n, err := s.Notice(ctx)
		if err != nil || n.ConfVersion != 2 {
			t.Fatalf("Notice = %+v %v", n, err)
		}
	}
	if rm.fetches != 1 {
		t.Fatalf("fetches = %d, want 1", rm.fetches)
	}
	now = now.Add(2 * time.Hour)
	_, _ = s.Notice(ctx)
	if rm.fetches != 2 {
		t.Fatalf("fetches = %d, want 2", rm.fetches)
	}
}

func TestLatestConfigVersionAndUpdateFromVersion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rm := &fakeRemote{
		versions: []int{6, 5, 4},
		blobs:    map[string][]byte{"tag/6": doc(6, 1), "tag/7": doc(7, 50)},
	}
	s, kv := newStore(t, doc(3, 1), rm)
	seedLocal(t, kv, doc(3, 1), 3)

	v, newer, err := s.LatestConfigVersion(ctx)
	if err != nil || !newer || v != 6 {
		t.Fatalf("LatestConfigVersion = %d %v %v", v, newer, err)
	}
	if res := s.UpdateFromVersion(ctx, 6); res.Status != Updated {
		t.Fatalf("UpdateFromVersion(6) = %+v", res)
	}
	if _, newer, _ := s.LatestConfigVersion(ctx); newer {
		t.Fatal("expected no newer version after update")
	}
	if res := s.UpdateFromVersion(ctx, 7); res.Status != Rejected {
		t.Fatalf("UpdateFromVersion(7) = %+v", res)
	}
	if s.LocalVersion(ctx) != 6 {
		t.Fatalf("local version = %d", s.LocalVersion(ctx))
	}
}
