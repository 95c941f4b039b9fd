package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the scheduler and the config store. The UI
// collaborator subscribes to these to present progress and advisories.
const (
	TaskExecuting = "task.executing"
	TaskFailed    = "task.failed"
	TaskSkipped   = "task.skipped"
	GroupVetoed   = "group.vetoed"
	ConfUpdated   = "conf.updated"
	ConfRejected  = "conf.rejected"
	ModuleUpdate  = "module.update"
	TickDone      = "tick.done"
)

// Event is a lightweight, in-memory signal.
//
// Contract:
//   - Publish never blocks.
//   - Subscribers use buffered channels; slow ones drop events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// TaskEvent is the payload of task.* events.
type TaskEvent struct {
	Group     string `json:"group"`
	Task      string `json:"task"`
	RunID     string `json:"run_id,omitempty"`
	Error     string `json:"error,omitempty"`
	Strikes   int    `json:"strikes,omitempty"`
	Transient bool   `json:"transient,omitempty"`
}

// Advisory is the payload of conf.* and module.* events.
type Advisory struct {
	Message string `json:"message"`
	Version int    `json:"version,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Nop discards everything.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}
func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			// Holding the write lock excludes in-flight Publish calls.
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
