// Package syncer reconciles the local message log with the backend store.
// It pushes locally-pending messages when connectivity returns, pulls
// messages missed while offline, and handles the optimistic dispatch of
// messages sent while online.
package syncer

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"chatsync/pkg/connectivity"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/remote"
	"chatsync/pkg/store"
)

// Options tune retry and pacing behavior.
type Options struct {
	// Timeout bounds a single push or pull attempt.
	Timeout time.Duration
	// MaxAttempts bounds retries within one reconcile pass; exhausted
	// messages stay pending for the next Reconnected event.
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// PushRPS/PushBurst pace backlog pushes toward the backend.
	PushRPS   float64
	PushBurst int
}

func (o *Options) defaults() {
	if o.Timeout == 0 {
		o.Timeout = 10 * time.Second
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 5
	}
	if o.BackoffBase == 0 {
		o.BackoffBase = 200 * time.Millisecond
	}
	if o.BackoffMax == 0 {
		o.BackoffMax = 30 * time.Second
	}
	if o.PushRPS == 0 {
		o.PushRPS = 20
	}
	if o.PushBurst == 0 {
		o.PushBurst = 5
	}
}

// Coordinator is the sync state machine. It is Idle until a Reconnected
// event (or an explicit Reconcile call) moves it to Reconciling; at most
// one reconcile pass runs at a time.
type Coordinator struct {
	store   *store.Store
	backend remote.Backend
	monitor *connectivity.Monitor
	opts    Options
	limiter *rate.Limiter

	reconciling atomic.Bool
}

func New(st *store.Store, backend remote.Backend, monitor *connectivity.Monitor, opts Options) *Coordinator {
	opts.defaults()
	return &Coordinator{
		store:   st,
		backend: backend,
		monitor: monitor,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.PushRPS), opts.PushBurst),
	}
}

// State reports "idle" or "reconciling".
func (c *Coordinator) State() string {
	if c.reconciling.Load() {
		return "reconciling"
	}
	return "idle"
}

// Run consumes Reconnected events until ctx is cancelled. If the monitor is
// already online at start it runs one pass immediately to drain anything
// left pending by a previous session.
func (c *Coordinator) Run(ctx context.Context) {
	recon := c.monitor.SubscribeReconnected()
	defer c.monitor.UnsubscribeReconnected(recon)

	if c.monitor.Online() {
		c.Reconcile(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			logger.Info("sync_coordinator_stopping")
			return
		case <-recon:
			c.Reconcile(ctx)
		}
	}
}

// Dispatch is the optimistic best-effort delivery of a message sent while
// online. A failure never rolls back the local append; the message is
// flipped to pending and left for reconciliation.
func (c *Coordinator) Dispatch(ctx context.Context, msg models.Message) {
	if c.backend == nil {
		return
	}
	actx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	if _, err := c.backend.Push(actx, msg); err != nil {
		logger.Warn("dispatch_failed", "thread", msg.Thread, "id", msg.ID, "error", err)
		if serr := c.store.SetPending(msg.ID); serr != nil {
			logger.Error("set_pending_failed", "id", msg.ID, "error", serr)
		}
		// schedule a retry; the reconcile pass also pulls, which is harmless
		if c.monitor.Online() {
			go c.Reconcile(ctx)
		}
		return
	}
	logger.Debug("dispatch_ok", "thread", msg.Thread, "id", msg.ID)
}

// Reconcile runs one push+pull pass over all known threads. The two legs
// are independently retryable: each absorbs its own failures so a push
// problem never blocks the pull and vice versa. Returns once both legs
// finished (successfully or with retries exhausted).
func (c *Coordinator) Reconcile(ctx context.Context) {
	if c.backend == nil {
		return
	}
	if !c.reconciling.CompareAndSwap(false, true) {
		logger.Debug("reconcile_already_running")
		return
	}
	defer c.reconciling.Store(false)

	threads, err := c.store.KnownThreadIDs()
	if err != nil {
		logger.Error("reconcile_thread_scan_failed", "error", err)
		return
	}
	logger.Info("reconcile_started", "threads", len(threads))
	start := time.Now()

	// Pull watermarks are snapshotted before the legs start. The push leg
	// flips pending messages to synced as it goes; a watermark read after
	// that could climb past backend messages from the offline window. A
	// watermark error falls back to 0, over-fetching into the id dedup.
	since := make(map[string]int64, len(threads))
	for _, tid := range threads {
		ts, err := c.store.LatestSyncedCreatedAt(tid)
		if err != nil {
			logger.Error("pull_watermark_failed", "thread", tid, "error", err)
			continue
		}
		since[tid] = ts
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for _, tid := range threads {
			if gctx.Err() != nil {
				return nil
			}
			c.pushThread(gctx, tid)
		}
		return nil
	})
	g.Go(func() error {
		for _, tid := range threads {
			if gctx.Err() != nil {
				return nil
			}
			c.pullThread(gctx, tid, since[tid])
		}
		return nil
	})
	_ = g.Wait()
	logger.Info("reconcile_finished", "elapsed", time.Since(start).String())
}

// pushThread pushes the thread's pending messages oldest-first. On the
// first message that exhausts its retries the rest of the thread is left
// for the next pass, preserving send order toward the backend.
func (c *Coordinator) pushThread(ctx context.Context, threadID string) {
	pending, err := c.store.PendingMessages(threadID)
	if err != nil {
		logger.Error("pending_scan_failed", "thread", threadID, "error", err)
		return
	}
	for _, msg := range pending {
		if err := c.pushOne(ctx, msg); err != nil {
			logger.Warn("push_exhausted", "thread", threadID, "id", msg.ID, "error", err)
			return
		}
	}
}

func (c *Coordinator) pushOne(ctx context.Context, msg models.Message) error {
	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		actx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		_, err := c.backend.Push(actx, msg)
		cancel()
		if err == nil {
			// key on msg.ID, not the ack echo; the contract only requires the
			// backend to accept, not to repeat the id back
			if serr := c.store.MarkSynced(msg.ID); serr != nil {
				return serr
			}
			logger.Debug("push_ok", "thread", msg.Thread, "id", msg.ID, "attempt", attempt)
			return nil
		}
		lastErr = err
		if !errors.Is(err, remote.ErrRemoteUnavailable) {
			// permanent rejection; keep the message pending and move on so
			// an operator can inspect it, rather than burning retries
			return err
		}
		if attempt < c.opts.MaxAttempts {
			if !sleepCtx(ctx, backoffDelay(c.opts.BackoffBase, c.opts.BackoffMax, attempt)) {
				return ctx.Err()
			}
		}
	}
	return lastErr
}

// pullThread fetches messages the backend has that the local log does not,
// deduplicating by id. Pulled messages are appended as already-synced and
// land in the (created_at, id) order, which may interleave them with
// locally-pending ones. since counts synced messages only: pending ones are
// unknown to the backend, so a counterparty message timestamped between the
// synced newest and a pending newest must still come back.
func (c *Coordinator) pullThread(ctx context.Context, threadID string, since int64) {
	var msgs []models.Message
	var err error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		actx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		msgs, err = c.backend.Pull(actx, threadID, since)
		cancel()
		if err == nil {
			break
		}
		if !errors.Is(err, remote.ErrRemoteUnavailable) || attempt == c.opts.MaxAttempts {
			logger.Warn("pull_failed", "thread", threadID, "error", err)
			return
		}
		if !sleepCtx(ctx, backoffDelay(c.opts.BackoffBase, c.opts.BackoffMax, attempt)) {
			return
		}
	}
	added := 0
	for _, m := range msgs {
		if m.ID == "" || c.store.Exists(m.ID) {
			continue
		}
		m.Thread = threadID
		m.PendingSync = false
		if err := c.store.Append(m); err != nil {
			logger.Error("pull_append_failed", "thread", threadID, "id", m.ID, "error", err)
			return
		}
		added++
	}
	if added > 0 {
		logger.Info("pull_applied", "thread", threadID, "count", added)
	}
}
