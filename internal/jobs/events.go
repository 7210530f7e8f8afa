package jobs

import (
	"sync"
	"time"

	"github.com/docsmcp/docsmcp/internal/store"
)

// EventType labels a bus event.
type EventType string

const (
	EventJobEnqueued     EventType = "job_enqueued"
	EventJobStatusChange EventType = "job_status_change"
	EventJobProgress     EventType = "job_progress"
	EventLibraryChange   EventType = "library_change"
)

// Event is one pipeline notification. Delivery is best-effort: slow
// subscribers lose events rather than stalling the pipeline, but events
// for a single version are published in order.
type Event struct {
	Type      EventType
	JobID     string
	Library   string
	Version   string
	OldStatus store.VersionStatus
	NewStatus store.VersionStatus
	Pages     int
	MaxPages  int
	Error     string
	Time      time.Time
}

// Bus fans events out to subscribers.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener. The returned cancel func must be
// called to release the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, 64)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Publish delivers the event to every subscriber, dropping it for any
// whose buffer is full.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
