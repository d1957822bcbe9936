// Package maintenance runs the explicit cleanup pass on a cron schedule.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/autoreply/internal/store"
)

// DefaultCron runs the pass at the top of every hour.
const DefaultCron = "0 * * * *"

// Pruner drops expired in-memory entries and reports how many it removed.
type Pruner interface {
	Prune() int
}

// Config sets the schedule and the age at which each kind of row expires.
// A zero retention skips that table.
type Config struct {
	Cron          string
	ContextTTL    time.Duration
	ReplyCacheTTL time.Duration
	TurnRetention time.Duration
	ItemRetention time.Duration
}

// Scheduler deletes expired contexts, reply cache entries, turns and item
// snapshots, and prunes in-memory caches.
type Scheduler struct {
	cfg     Config
	store   store.MaintenanceStore
	pruners []Pruner
	now     func() time.Time
}

// NewScheduler validates the cron expression. pruners may be empty.
func NewScheduler(cfg Config, s store.MaintenanceStore, pruners ...Pruner) (*Scheduler, error) {
	if cfg.Cron == "" {
		cfg.Cron = DefaultCron
	}
	if !gronx.New().IsValid(cfg.Cron) {
		return nil, fmt.Errorf("maintenance: invalid cron expression %q", cfg.Cron)
	}
	return &Scheduler{cfg: cfg, store: s, pruners: pruners, now: time.Now}, nil
}

// Cutoffs computes the deletion bounds relative to now.
func (s *Scheduler) Cutoffs(now time.Time) store.CleanupCutoffs {
	before := func(d time.Duration) time.Time {
		if d <= 0 {
			return time.Time{}
		}
		return now.Add(-d)
	}
	return store.CleanupCutoffs{
		ContextsBefore:   before(s.cfg.ContextTTL),
		ReplyCacheBefore: before(s.cfg.ReplyCacheTTL),
		TurnsBefore:      before(s.cfg.TurnRetention),
		ItemsBefore:      before(s.cfg.ItemRetention),
	}
}

// RunOnce performs one cleanup pass.
func (s *Scheduler) RunOnce(ctx context.Context) (store.CleanupStats, error) {
	stats, err := s.store.Cleanup(ctx, s.Cutoffs(s.now()))
	if err != nil {
		return stats, fmt.Errorf("maintenance: cleanup: %w", err)
	}
	pruned := 0
	for _, p := range s.pruners {
		pruned += p.Prune()
	}
	slog.Info("maintenance: cleanup done",
		"contexts", stats.Contexts,
		"reply_cache", stats.ReplyCache,
		"turns", stats.Turns,
		"items", stats.Items,
		"memory_pruned", pruned,
	)
	return stats, nil
}

// Next returns the first scheduled run strictly after ref.
func (s *Scheduler) Next(ref time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.cfg.Cron, ref, false)
}

// Run executes the pass on schedule until ctx is done. Failed passes are
// logged and retried at the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("maintenance: scheduler started", "cron", s.cfg.Cron)
	for {
		next, err := s.Next(s.now())
		if err != nil {
			return fmt.Errorf("maintenance: next tick: %w", err)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("maintenance: scheduler stopped")
			return nil
		case <-timer.C:
		}
		if _, err := s.RunOnce(ctx); err != nil {
			slog.Warn("maintenance: cleanup failed", "error", err)
		}
	}
}
