// Package retention evicts messages older than the configured horizon.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"chatsync/pkg/logger"
	"chatsync/pkg/store"
)

// Options configure the sweeper.
type Options struct {
	// Horizon is how long messages are retained.
	Horizon time.Duration
	// Interval is the fixed sweep period. Cron, when set, takes precedence
	// and must be a valid cron expression.
	Interval time.Duration
	Cron     string
}

// Sweeper runs eviction once at startup and then on schedule.
type Sweeper struct {
	store *store.Store
	opts  Options
}

func New(st *store.Store, opts Options) (*Sweeper, error) {
	if opts.Horizon <= 0 {
		opts.Horizon = 24 * time.Hour
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.Cron != "" && !gronx.IsValid(opts.Cron) {
		logger.Error("retention_invalid_cron", "cron", opts.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", opts.Cron)
	}
	return &Sweeper{store: st, opts: opts}, nil
}

// Start launches the scheduler goroutine and returns a cancel func. The
// next pending run is cancelled on shutdown, not allowed to fire after
// teardown.
func (s *Sweeper) Start(ctx context.Context) context.CancelFunc {
	ctx2, cancel := context.WithCancel(ctx)
	logger.Info("retention_enabled", "horizon", s.opts.Horizon.String(), "interval", s.opts.Interval.String(), "cron", s.opts.Cron)
	go s.run(ctx2)
	return cancel
}

func (s *Sweeper) run(ctx context.Context) {
	// immediate pass at startup
	s.RunOnce(ctx)
	if s.opts.Cron != "" {
		s.runCron(ctx)
		return
	}
	t := time.NewTicker(s.opts.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		case <-t.C:
			s.RunOnce(ctx)
		}
	}
}

// runCron computes the next tick for the configured cron expression and
// sleeps until that time.
func (s *Sweeper) runCron(ctx context.Context) {
	for {
		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(s.opts.Cron, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", s.opts.Cron, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				logger.Info("retention_scheduler_stopping")
				return
			}
			continue
		}
		select {
		case <-time.After(time.Until(next)):
			s.RunOnce(ctx)
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce performs a single eviction pass.
func (s *Sweeper) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	before := time.Now().UTC().Add(-s.opts.Horizon).UnixNano()
	n, err := s.store.Evict(before)
	if err != nil {
		logger.Error("retention_run_error", "error", err)
		return
	}
	logger.Info("retention_run_complete", "removed", n)
}
