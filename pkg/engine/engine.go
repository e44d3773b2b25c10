// Package engine is the caller-facing facade of the sync core. One Engine
// is constructed per user session and passed by handle; it owns the wiring
// between the store, the broadcast bus, the connectivity monitor, the sync
// coordinator and the thread registry.
package engine

import (
	"context"
	"time"

	"chatsync/pkg/broadcast"
	"chatsync/pkg/connectivity"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/registry"
	"chatsync/pkg/store"
	"chatsync/pkg/syncer"
	"chatsync/pkg/utils"
)

// Author is the sender identity snapshot recorded on each message.
type Author struct {
	ID      string
	Name    string
	Contact string
}

// Engine orchestrates Send and exposes the read-side operations.
type Engine struct {
	store    *store.Store
	bus      *broadcast.Bus
	monitor  *connectivity.Monitor
	syncer   *syncer.Coordinator
	registry *registry.Registry

	// self is this context's bus subscription; publishing with it as origin
	// keeps the engine from echoing its own events back.
	self *broadcast.Subscription

	// ctx spans the engine's lifetime. Remote delivery work runs on it, never
	// on a caller's request-scoped context: a dispatch must be free to retry
	// after the originating HTTP handler has returned.
	ctx    context.Context
	cancel context.CancelFunc
}

// New wires an engine and starts the coordinator loop.
func New(st *store.Store, bus *broadcast.Bus, monitor *connectivity.Monitor, coord *syncer.Coordinator, reg *registry.Registry) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:    st,
		bus:      bus,
		monitor:  monitor,
		syncer:   coord,
		registry: reg,
		self:     bus.Subscribe(),
		ctx:      ctx,
		cancel:   cancel,
	}
	go coord.Run(ctx)
	return e
}

// Send accepts a message for the thread. The append is local and immediate:
// the message is visible in LoadThread the instant Send returns, regardless
// of connectivity. Remote delivery errors never surface here; offline (or
// failed-dispatch) messages carry pending_sync until reconciled. Delivery
// runs on the engine's own lifetime, so it outlives the caller.
func (e *Engine) Send(threadID string, author Author, content string, kind models.Kind) (models.Message, error) {
	now := time.Now().UTC()
	online := e.monitor.Online()
	msg := models.Message{
		ID:            utils.NewMessageID(now),
		Thread:        threadID,
		AuthorID:      author.ID,
		AuthorName:    author.Name,
		AuthorContact: author.Contact,
		Content:       content,
		Kind:          kind,
		CreatedAt:     now.UnixNano(),
		PendingSync:   !online,
	}
	if err := e.store.Append(msg); err != nil {
		return models.Message{}, err
	}
	// mirror to sibling execution contexts; the log is the source of truth,
	// this is only a repaint signal
	e.bus.Publish(e.self, broadcast.Event{Kind: broadcast.EventMessage, Thread: threadID, Message: msg.ID})
	if online {
		go e.syncer.Dispatch(e.ctx, msg)
	}
	logger.Info("message_sent", "thread", threadID, "id", msg.ID, "online", online)
	return msg, nil
}

// LoadThread returns the thread's retained messages in order. Unknown
// threads yield an empty slice.
func (e *Engine) LoadThread(threadID string) ([]models.Message, error) {
	return e.store.LoadThread(threadID)
}

// MarkRead flips unread messages addressed to readerID and notifies
// sibling contexts.
func (e *Engine) MarkRead(threadID, readerID string) (int, error) {
	n, err := e.store.MarkRead(threadID, readerID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.bus.Publish(e.self, broadcast.Event{Kind: broadcast.EventRead, Thread: threadID})
	}
	return n, nil
}

// UnreadCount returns the unread counter for the thread.
func (e *Engine) UnreadCount(threadID string) int {
	return e.registry.UnreadCount(threadID)
}

// Threads lists known threads per the filter.
func (e *Engine) Threads(f registry.Filter) []models.Thread {
	return e.registry.List(f)
}

// AddThread registers an out-of-band created thread.
func (e *Engine) AddThread(th models.Thread) error {
	return e.registry.Add(th)
}

// Select sets the active-thread cursor for this execution context.
func (e *Engine) Select(threadID string) {
	e.registry.Select(threadID)
}

// CurrentSelection returns the active-thread cursor.
func (e *Engine) CurrentSelection() (string, bool) {
	return e.registry.CurrentSelection()
}

// ApplyPresence accepts an asynchronous presence update for a thread and
// mirrors it to sibling contexts.
func (e *Engine) ApplyPresence(threadID string, p models.Presence, lastSeenAt int64) error {
	if err := e.registry.ApplyPresence(threadID, p, lastSeenAt); err != nil {
		return err
	}
	e.bus.Publish(e.self, broadcast.Event{Kind: broadcast.EventPresence, Thread: threadID})
	return nil
}

// Connectivity exposes the monitor for ConnectivityChanged subscriptions
// and for the external network-status source.
func (e *Engine) Connectivity() *connectivity.Monitor { return e.monitor }

// Bus exposes the broadcast bus so sibling execution contexts can attach.
func (e *Engine) Bus() *broadcast.Bus { return e.bus }

// SyncState reports the coordinator state ("idle" or "reconciling").
func (e *Engine) SyncState() string { return e.syncer.State() }

// Close stops the coordinator loop and detaches from the bus. The store is
// owned by the caller and closed separately.
func (e *Engine) Close() {
	e.cancel()
	e.bus.Unsubscribe(e.self)
}
