package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"autodaily/internal/codec"
	"autodaily/internal/config"
	"autodaily/internal/confstore"
	"autodaily/internal/eventbus"
	"autodaily/internal/executors/httpreq"
	"autodaily/internal/executors/noop"
	"autodaily/internal/remote"
	"autodaily/internal/runtime/supervisor"
	"autodaily/internal/storage"
	"autodaily/internal/task/executor"
	"autodaily/internal/task/scheduler"
	logx "autodaily/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	conf  *confstore.Store
	exec  *executor.Registry
	sched *scheduler.Service
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	appLog.Info("storage opened", logx.String("driver", sc.Driver))

	a, err := build(cfg, log, bus, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.cfgPath = cfgPath
	a.cfgm = cfgm
	a.logs = logSvc
	return a, nil
}

// build wires everything below the config file and the logging service.
func build(cfg *config.Config, log logx.Logger, bus eventbus.Bus, store storage.Store) (*App, error) {
	dec, err := codec.ByName(cfg.Conf.Codec)
	if err != nil {
		return nil, err
	}
	bundled, err := loadBundled(cfg)
	if err != nil {
		return nil, err
	}
	rc, err := mapRemoteConfig(cfg)
	if err != nil {
		return nil, err
	}
	hc, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}
	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}

	opts := confstore.Options{
		ModuleVersion:     moduleVersion(cfg),
		Bundled:           bundled,
		Decrypter:         dec,
		Bus:               bus,
		NoticeMinInterval: rc.MinInterval,
	}
	if remoteConfigured(rc) {
		opts.Remote = remote.New(rc, log.With(logx.String("comp", "remote")))
	}
	conf := confstore.New(store, log.With(logx.String("comp", "confstore")), opts)

	reg := executor.NewRegistry()
	reg.Register(httpreq.ReqType, httpreq.New(hc, log.With(logx.String("comp", "exec.http"))))
	reg.Register(noop.ReqType, noop.New(log.With(logx.String("comp", "exec.noop")), nil))

	sched := scheduler.New(schedCfg, conf, reg, log.With(logx.String("comp", "scheduler")), bus,
		scheduler.WithRecorder(store))

	return &App{
		log:   log.With(logx.String("comp", "app")),
		bus:   bus,
		store: store,
		conf:  conf,
		exec:  reg,
		sched: sched,
	}, nil
}

func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Conf() *confstore.Store        { return a.conf }
func (a *App) Executors() *executor.Registry { return a.exec }
func (a *App) Bus() eventbus.Bus             { return a.bus }
func (a *App) Store() storage.Store          { return a.store }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// Warm the config cache so a broken blob is reported at startup rather
	// than on the first tick.
	if p, err := a.conf.Load(ctx); err != nil {
		a.log.Warn("task config unavailable", logx.Err(err))
	} else {
		a.log.Info("task config loaded", logx.Int("version", p.Version), logx.Int("groups", len(p.Groups)))
	}

	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	} else {
		a.log.Info("scheduler disabled")
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				logEvent(a.log, e)
			}
		}
	})

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
			if _, err := mapSchedulerConfig(cfg); err != nil {
				return err
			}
			if _, err := mapRemoteConfig(cfg); err != nil {
				return err
			}
			_, err := mapStorageConfig(cfg)
			return err
		})

		sub := a.cfgm.Subscribe(8)
		a.sup.Go("config.reload", func(c context.Context) error {
			defer a.cfgm.Unsubscribe(sub)
			last := a.cfgm.Get()
			for {
				select {
				case <-c.Done():
					return nil
				case next, ok := <-sub:
					if !ok {
						return nil
					}
					// Coalesce bursts: keep only the latest config in the channel.
					for drained := false; !drained; {
						select {
						case newer := <-sub:
							if newer != nil {
								next = newer
							}
						default:
							drained = true
						}
					}
					a.applyConfig(c, last, next)
					last = next
				}
			}
		})
		a.sup.GoRestart("config.watch", a.cfgm.Watch)
	}

	a.log.Info("app started")
	return nil
}

// applyConfig applies the live parts of a reloaded config. Sections that
// are wired at construction time only produce a warning.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	if a.logs != nil {
		a.logs.Apply(mapLoggingConfig(next))
	}

	sc, err := mapSchedulerConfig(next)
	if err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.sched.Enabled()
		a.sched.Apply(sc)
		switch {
		case wasEnabled && !sc.Enabled:
			a.log.Info("scheduler disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
		case !wasEnabled && sc.Enabled:
			a.log.Info("scheduler enabled via config")
			a.sched.Start(ctx)
		}
	}

	for _, s := range sections {
		switch s {
		case "storage", "conf", "module", "http":
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Stop triggering first so no tick starts while the rest unwinds.
	step(ctx, a.log, "scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.sup.Cancel()
	step(ctx, a.log, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step(ctx, a.log, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped", logx.Any("goroutines", a.sup.Counters()))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step bounded by limit and by the caller's deadline.
// A step that overruns is logged and left behind.
func step(ctx context.Context, log logx.Logger, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}

func logEvent(log logx.Logger, e eventbus.Event) {
	switch d := e.Data.(type) {
	case eventbus.TaskEvent:
		log.Debug("event", logx.String("type", e.Type), logx.String("group", d.Group), logx.String("task", d.Task), logx.String("error", d.Error))
	case eventbus.Advisory:
		log.Info("advisory", logx.String("type", e.Type), logx.String("message", d.Message), logx.Int("version", d.Version))
	default:
		// Keep this debug-level to avoid noise from tick.done.
		log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}
