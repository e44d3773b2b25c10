package store

import "sync"

// ChangeKind identifies what mutated.
type ChangeKind string

const (
	ChangeAppend ChangeKind = "append"
	ChangeRead   ChangeKind = "read"
	ChangeSynced ChangeKind = "synced"
	ChangeEvict  ChangeKind = "evict"
)

// Change describes a successful store mutation. Watchers use it to keep
// derived state (unread counters, recency) current without polling.
type Change struct {
	Kind   ChangeKind
	Thread string
	ID     string
	Count  int
}

type notifier struct {
	mu       sync.RWMutex
	watchers []func(Change)
}

// Watch registers fn to be called after every successful mutation. fn runs
// on the mutating goroutine and must be cheap; heavy consumers should hand
// off to their own channel.
func (s *Store) Watch(fn func(Change)) {
	s.notify.mu.Lock()
	defer s.notify.mu.Unlock()
	s.notify.watchers = append(s.notify.watchers, fn)
}

func (n *notifier) emit(c Change) {
	n.mu.RLock()
	watchers := n.watchers
	n.mu.RUnlock()
	for _, fn := range watchers {
		fn(c)
	}
}
