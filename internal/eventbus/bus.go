// Package eventbus is an in-memory, non-blocking fan-out of small events
// between the orchestrator, the task engine and the control surfaces.
package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event types.
const (
	LaneStarted     = "lane.started"
	LaneStopped     = "lane.stopped"
	LaneProgress    = "lane.progress"
	LaneCompleted   = "lane.completed"
	LaneQuotaPaused = "lane.quota_paused"
	LaneInterrupted = "lane.interrupted"
	LaneFailed      = "lane.failed"

	TaskStarted  = "task.started"
	TaskFinished = "task.finished"
	TaskFailed   = "task.failed"
	TaskDropped  = "task.dropped"
	TaskSkipped  = "task.skipped"

	ConfigReloaded = "config.reloaded"
)

// Event is a lightweight signal. Publish never blocks and slow subscribers
// drop events once their buffer is full.
type Event struct {
	Type string
	Time time.Time
	Lane string
	Data any
}

// Terminal reports whether the event ends a run (or pauses it until an
// operator acts).
func (e Event) Terminal() bool {
	switch e.Type {
	case LaneCompleted, LaneQuotaPaused, LaneInterrupted, LaneFailed:
		return true
	}
	return false
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
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
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a buffered channel. The returned function removes
// the subscription and closes the channel; it is safe to call twice.
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
	return ch, func() {
		once.Do(func() {
			// Holding the write lock excludes in-progress Publish calls.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// HasPrefix reports whether the event type is in the given namespace,
// e.g. HasPrefix(e, "lane.").
func HasPrefix(e Event, prefix string) bool {
	return strings.HasPrefix(e.Type, prefix)
}
