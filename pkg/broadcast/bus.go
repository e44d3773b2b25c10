// Package broadcast is a best-effort pub/sub channel shared by the
// execution contexts of one logical user session (e.g. sibling windows).
// Delivery is at-most-once with no replay: a subscriber attached after an
// event was published never sees it, and a slow subscriber loses events
// rather than stalling the publisher. The message log stays the source of
// truth; bus events only say "something changed, re-read the store".
package broadcast

import (
	"sync"
	"sync/atomic"

	"chatsync/pkg/logger"
)

// EventKind tags what changed.
type EventKind string

const (
	EventMessage  EventKind = "message"
	EventRead     EventKind = "read"
	EventPresence EventKind = "presence"
	EventEvict    EventKind = "evict"
)

// Event is a repaint signal, not an authoritative payload.
type Event struct {
	Kind    EventKind
	Thread  string
	Message string
}

// Subscription is one attached execution context.
type Subscription struct {
	ch  chan Event
	bus *Bus
}

// C returns the receive channel for this subscription.
func (s *Subscription) C() <-chan Event { return s.ch }

// Bus fans events out to every subscriber except the publisher.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	bufSize int
	dropped uint64
}

func New(bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Bus{subs: make(map[*Subscription]struct{}), bufSize: bufSize}
}

// Subscribe attaches a new execution context. It receives only events
// published after this call.
func (b *Bus) Subscribe() *Subscription {
	s := &Subscription{ch: make(chan Event, b.bufSize), bus: b}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe detaches a context and closes its channel.
func (b *Bus) Unsubscribe(s *Subscription) {
	if s == nil || s.bus != b {
		return
	}
	b.mu.Lock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
	b.mu.Unlock()
}

// Publish delivers ev to every subscriber except origin (no echo). Delivery
// never blocks; a full subscriber buffer drops the event.
func (b *Bus) Publish(origin *Subscription, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if s == origin {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			atomic.AddUint64(&b.dropped, 1)
			logger.Debug("broadcast_event_dropped", "kind", string(ev.Kind), "thread", ev.Thread)
		}
	}
}

// Subscribers reports the number of attached contexts.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped reports how many events were lost to full subscriber buffers.
func (b *Bus) Dropped() uint64 {
	return atomic.LoadUint64(&b.dropped)
}
