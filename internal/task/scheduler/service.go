package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"autodaily/internal/confstore"
	"autodaily/internal/eventbus"
	"autodaily/internal/task"
	"autodaily/internal/task/chain"
	"autodaily/internal/task/executor"
	"autodaily/internal/task/schedule"
	logx "autodaily/pkg/logx"
)

type Option func(*Service)

// WithClock replaces the wall clock used for due checks and day boundaries.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRecorder stores one history record per executor call.
func WithRecorder(r chain.Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

func New(cfg Config, src Source, exec executor.Executor, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{
		cfg:         cfg,
		log:         log,
		bus:         bus,
		src:         src,
		exec:        exec,
		now:         time.Now,
		lastErrWarn: map[string]time.Time{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool { return s.config().Enabled }

// Apply swaps the config. Entries are re-registered when a period changed.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cfg
	s.cfg = cfg
	if s.c == nil {
		return
	}
	if old.tick() != cfg.tick() || old.CheckUpdateEvery != cfg.CheckUpdateEvery {
		s.restartLocked()
	}
	if old.Paused != cfg.Paused {
		s.log.Info("pause toggled", logx.Bool("paused", cfg.Paused))
	}
}

// Start registers the tick entry (and the update-check entry, if enabled)
// and starts triggering. Jobs run under a context derived from ctx that is
// cancelled by Stop.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.baseCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.c = cron.New(cron.WithLocation(task.Zone))
	s.registerLocked()
	s.c.Start()
	s.log.Info("service started",
		logx.Duration("tick", s.cfg.tick()),
		logx.Duration("offset", s.cfg.Offset),
		logx.Duration("check_update_every", s.cfg.CheckUpdateEvery),
	)
}

// Stop stops triggering and waits for a running tick until ctx expires, then
// cancels whatever is still running.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.cancel = nil
	s.entries = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			s.log.Warn("stop timed out waiting for running tick")
		}
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) registerLocked() {
	s.entries = s.entries[:0]
	s.entries = append(s.entries, entryDef{
		name:  "tick",
		spec:  "@every " + s.cfg.tick().String(),
		sched: cron.Every(s.cfg.tick()),
		job: func(ctx context.Context) {
			rep := s.RunNow(ctx)
			if rep.Err != nil {
				s.reportError("tick", rep.Err)
			}
		},
	})
	if every := s.cfg.CheckUpdateEvery; every > 0 {
		sched, jitter := makeIntervalScheduleWithSpread(every, s.now(), "update-check")
		s.entries = append(s.entries, entryDef{
			name:  "update-check",
			spec:  "@every " + every.String(),
			sched: sched,
			job:   s.checkUpdate,
		})
		s.log.Debug("update check scheduled", logx.Duration("every", every), logx.Duration("spread", jitter))
	}
	for i := range s.entries {
		e := &s.entries[i]
		job := e.job
		base := s.baseCtx
		e.entryID = s.c.Schedule(e.sched, cron.FuncJob(func() { job(base) }))
	}
}

// restartLocked rebuilds the cron instance. It does not wait for a running
// tick: ticks are serialized by runMu and the running one reads its config
// through s.mu.
func (s *Service) restartLocked() {
	s.c.Stop()
	s.c = cron.New(cron.WithLocation(task.Zone))
	s.registerLocked()
	s.c.Start()
	s.log.Info("service restarted", logx.Duration("tick", s.cfg.tick()), logx.Int("schedules", len(s.entries)))
}

// RunNow runs one tick immediately. If a tick is already running it returns
// at once with Skipped set.
func (s *Service) RunNow(ctx context.Context) TickReport {
	if !s.runMu.TryLock() {
		s.skipped.Add(1)
		s.log.Debug("tick skipped; previous tick still running")
		return TickReport{Started: s.now(), Skipped: true}
	}
	defer s.runMu.Unlock()
	rep := s.tickLocked(ctx)

	s.ticks.Add(1)
	s.lastMu.Lock()
	s.last = rep
	s.lastMu.Unlock()
	return rep
}

func (s *Service) tickLocked(ctx context.Context) TickReport {
	cfg := s.config()
	rep := TickReport{Started: s.now()}
	start := time.Now()

	p, err := s.src.Load(ctx)
	if err != nil {
		rep.Err = err
		rep.Took = time.Since(start)
		return rep
	}

	deps := chain.Deps{
		Evaluator:   schedule.New(s.log, schedule.WithClock(s.now), schedule.WithOffset(cfg.Offset)),
		Executor:    s.exec,
		Log:         s.log,
		Bus:         s.bus,
		Recorder:    s.recorder,
		Now:         s.now,
		TaskTimeout: cfg.TaskTimeout,
		Paused:      func() bool { return s.config().Paused },
	}

	for _, g := range p.Groups {
		if g == nil {
			continue
		}
		if ctx.Err() != nil {
			rep.Err = ctx.Err()
			break
		}
		gr, err := chain.Build(g, deps).Run(ctx)
		rep.Groups = append(rep.Groups, gr)
		switch {
		case err != nil && ctx.Err() != nil:
			rep.Err = ctx.Err()
			s.log.Warn("group run interrupted", logx.String("group", g.Type), logx.Err(err))
		case err != nil:
			s.log.Error("group run failed", logx.String("group", g.Type), logx.Err(err))
		}
		// Memoized next-run times are state too; persist even when nothing ran
		// or the tick is being cancelled.
		if err := s.src.SaveState(context.WithoutCancel(ctx), p); err != nil {
			s.reportError("save-state", err)
		}
	}

	rep.Took = time.Since(start)
	s.bus.Publish(eventbus.Event{Type: eventbus.TickDone, Data: rep})
	if n := rep.Executed() + rep.Failed(); n > 0 {
		s.log.Info("tick done", logx.Int("executed", rep.Executed()), logx.Int("failed", rep.Failed()), logx.Duration("took", rep.Took))
	}
	return rep
}

// SetTaskEnabled toggles a task between ticks.
func (s *Service) SetTaskEnabled(ctx context.Context, groupType, taskID string, enabled bool) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.src.SetTaskEnabled(ctx, groupType, taskID, enabled)
}

func (s *Service) checkUpdate(ctx context.Context) {
	res, err := s.src.CheckForUpdate(ctx)
	if err != nil {
		s.reportError("update-check", err)
		return
	}
	switch res.Status {
	case confstore.Updated:
		s.log.Info("config updated", logx.Int("version", res.Version))
	case confstore.ModuleUpdateAvailable:
		s.log.Info("module update available", logx.Int("version", res.Version))
	case confstore.Rejected, confstore.Failed:
		s.log.Warn("config update not applied", logx.String("status", res.Status.String()), logx.String("reason", res.Reason))
	default:
		s.log.Debug("config up to date", logx.Int("version", res.Version))
	}
}
