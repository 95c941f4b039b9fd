package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"autodaily/internal/confstore"
	"autodaily/internal/eventbus"
	"autodaily/internal/task"
	"autodaily/internal/task/chain"
	"autodaily/internal/task/executor"
	logx "autodaily/pkg/logx"
)

// Config controls the periodic driver.
type Config struct {
	Enabled bool
	// Tick is the evaluation period. Defaults to one minute.
	Tick time.Duration
	// Offset is added to the local clock to obtain the reference clock the
	// cron expressions are evaluated on.
	Offset      time.Duration
	TaskTimeout time.Duration
	// Paused vetoes every group without unloading anything.
	Paused bool
	// CheckUpdateEvery schedules config update checks; 0 disables them.
	CheckUpdateEvery time.Duration
}

const defaultTick = time.Minute

func (c Config) tick() time.Duration {
	if c.Tick <= 0 {
		return defaultTick
	}
	if c.Tick < time.Second {
		return time.Second
	}
	return c.Tick
}

// Source provides the configuration and persists task state.
type Source interface {
	Load(ctx context.Context) (*task.Properties, error)
	SaveState(ctx context.Context, p *task.Properties) error
	SetTaskEnabled(ctx context.Context, groupType, taskID string, enabled bool) error
	CheckForUpdate(ctx context.Context) (*confstore.UpdateResult, error)
}

// TickReport summarizes one tick.
type TickReport struct {
	Started time.Time
	Took    time.Duration
	// Skipped is set when the tick overlapped a running one.
	Skipped bool
	Err     error
	Groups  []chain.Report
}

func (r TickReport) Executed() int {
	n := 0
	for _, g := range r.Groups {
		n += g.Executed
	}
	return n
}

func (r TickReport) Failed() int {
	n := 0
	for _, g := range r.Groups {
		n += g.Failed
	}
	return n
}

type entryDef struct {
	name    string
	spec    string
	sched   cron.Schedule
	job     func(ctx context.Context)
	entryID cron.EntryID
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	bus eventbus.Bus

	src      Source
	exec     executor.Executor
	recorder chain.Recorder
	now      func() time.Time

	c       *cron.Cron
	entries []entryDef
	baseCtx context.Context
	cancel  context.CancelFunc

	// runMu serializes ticks and task toggles.
	runMu sync.Mutex

	ticks   atomic.Uint64
	skipped atomic.Uint64
	lastMu  sync.Mutex
	last    TickReport

	// Error report throttling: key is the failing job.
	errMu       sync.Mutex
	lastErrWarn map[string]time.Time
}

type ScheduleInfo struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

type Snapshot struct {
	Enabled          bool
	Running          bool
	Paused           bool
	Tick             time.Duration
	Offset           time.Duration
	TaskTimeout      time.Duration
	CheckUpdateEvery time.Duration

	Ticks     uint64
	Skipped   uint64
	Last      TickReport
	Schedules []ScheduleInfo
}
