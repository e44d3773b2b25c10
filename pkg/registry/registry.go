// Package registry is the in-memory directory of known threads: metadata,
// presence, unread counters and the UI selection cursor. It reads the
// message log but never writes it; store change notifications keep the
// derived counters current between reads.
package registry

import (
	"sort"
	"strings"
	"sync"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/store"
)

// Filter narrows List results. Zero value matches everything.
type Filter struct {
	Category models.Category
	// Query is a case-insensitive substring matched against display name,
	// counterparty name and counterparty contact.
	Query string
}

// Registry tracks thread metadata for one core instance (one execution
// context), so the selection cursor is local and never replicated.
type Registry struct {
	store   *store.Store
	localID string

	mu        sync.RWMutex
	threads   map[string]models.Thread
	unread    map[string]int
	lastMsgAt map[string]int64
	selection string
}

// New bootstraps the registry from stored thread metadata and subscribes
// to store changes.
func New(st *store.Store, localID string) (*Registry, error) {
	r := &Registry{
		store:     st,
		localID:   localID,
		threads:   make(map[string]models.Thread),
		unread:    make(map[string]int),
		lastMsgAt: make(map[string]int64),
	}
	threads, err := st.Threads()
	if err != nil {
		return nil, err
	}
	for _, th := range threads {
		r.threads[th.ID] = th
		r.recompute(th.ID)
	}
	st.Watch(r.onChange)
	logger.Info("registry_bootstrapped", "threads", len(threads))
	return r, nil
}

func (r *Registry) onChange(c store.Change) {
	switch c.Kind {
	case store.ChangeAppend, store.ChangeRead, store.ChangeSynced:
		r.mu.Lock()
		r.recompute(c.Thread)
		r.mu.Unlock()
	case store.ChangeEvict:
		// eviction spans threads; refresh every counter
		r.mu.Lock()
		for tid := range r.unread {
			r.recompute(tid)
		}
		r.mu.Unlock()
	}
}

// recompute rereads a thread's log; callers hold r.mu.
func (r *Registry) recompute(threadID string) {
	if threadID == "" {
		return
	}
	msgs, err := r.store.LoadThread(threadID)
	if err != nil {
		logger.Error("registry_recompute_failed", "thread", threadID, "error", err)
		return
	}
	n := 0
	last := int64(0)
	for _, m := range msgs {
		if !m.Read && m.AuthorID != r.localID {
			n++
		}
		if m.CreatedAt > last {
			last = m.CreatedAt
		}
	}
	r.unread[threadID] = n
	r.lastMsgAt[threadID] = last
}

// Add registers a thread created out-of-band and persists its metadata.
func (r *Registry) Add(th models.Thread) error {
	if err := r.store.SaveThread(th); err != nil {
		return err
	}
	r.mu.Lock()
	r.threads[th.ID] = th
	r.recompute(th.ID)
	r.mu.Unlock()
	return nil
}

// Get returns a thread's metadata; ok is false for unknown ids.
func (r *Registry) Get(threadID string) (models.Thread, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	th, ok := r.threads[threadID]
	return th, ok
}

// List returns threads matching the filter, most recent activity first.
func (r *Registry) List(f Filter) []models.Thread {
	q := strings.ToLower(strings.TrimSpace(f.Query))
	r.mu.RLock()
	out := make([]models.Thread, 0, len(r.threads))
	for _, th := range r.threads {
		if f.Category != "" && th.Category != f.Category {
			continue
		}
		if q != "" && !matches(th, q) {
			continue
		}
		out = append(out, th)
	}
	recency := make(map[string]int64, len(out))
	for _, th := range out {
		recency[th.ID] = r.lastMsgAt[th.ID]
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ri, rj := recency[out[i].ID], recency[out[j].ID]
		if ri != rj {
			return ri > rj
		}
		return out[i].DisplayName < out[j].DisplayName
	})
	return out
}

func matches(th models.Thread, q string) bool {
	return strings.Contains(strings.ToLower(th.DisplayName), q) ||
		strings.Contains(strings.ToLower(th.CounterpartyName), q) ||
		strings.Contains(strings.ToLower(th.CounterpartyContact), q)
}

// UnreadCount returns the number of unread messages addressed to the local
// identity. Unknown threads count zero.
func (r *Registry) UnreadCount(threadID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.unread[threadID]
}

// Select sets the active thread cursor for this execution context.
func (r *Registry) Select(threadID string) {
	r.mu.Lock()
	r.selection = threadID
	r.mu.Unlock()
}

// ClearSelection drops the cursor.
func (r *Registry) ClearSelection() {
	r.Select("")
}

// CurrentSelection returns the active thread id; ok is false when none is
// selected.
func (r *Registry) CurrentSelection() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selection, r.selection != ""
}

// ApplyPresence updates a thread's presence and last-seen metadata. It
// never touches message data. Updates for unknown threads are dropped.
func (r *Registry) ApplyPresence(threadID string, p models.Presence, lastSeenAt int64) error {
	r.mu.Lock()
	th, ok := r.threads[threadID]
	if !ok {
		r.mu.Unlock()
		logger.Debug("presence_for_unknown_thread", "thread", threadID)
		return nil
	}
	th.Presence = p
	th.LastSeenAt = lastSeenAt
	r.threads[threadID] = th
	r.mu.Unlock()
	return r.store.SaveThread(th)
}
