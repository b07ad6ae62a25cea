// Package eventbus carries in-process lifecycle events between the routing
// core and its observers (in-app inbox, metrics, logs).
//
// Publish never blocks. A subscriber whose buffer is full misses events.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the router and regulation engines.
const (
	TypeSent       = "unit.sent"
	TypeSuppressed = "unit.suppressed"
	TypeBuffered   = "unit.buffered"
	TypeFailed     = "unit.failed"
	TypeSkipped    = "unit.skipped"
	TypeDigest     = "digest.emitted"
	TypeInApp      = "inapp.delivered"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// UnitData is the payload of unit.* events.
type UnitData struct {
	MessageID string
	ContactID string
	Channel   string
	Key       string
	Reason    string
}

// DigestData is the payload of digest.emitted events.
type DigestData struct {
	DigestID string
	Key      string
	Channel  string
	Total    int
	Elided   int
	Err      string
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fan-out bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Nop discards everything.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}
func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }
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

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			// Publish holds the read lock while sending, so closing under the
			// write lock cannot race a send.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func Dropped(b Bus) uint64 {
	if mb, ok := b.(*memBus); ok {
		return mb.dropped.Load()
	}
	return 0
}
