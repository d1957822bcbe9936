package sqlstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/autoreply/internal/store"
)

// Cleanup deletes rows older than each non-zero cutoff in one transaction.
func (d *DB) Cleanup(ctx context.Context, c store.CleanupCutoffs) (store.CleanupStats, error) {
	var stats store.CleanupStats

	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("cleanup: begin: %w", err)
	}
	defer tx.Rollback()

	steps := []struct {
		table  string
		column string
		cutoff int64
		dst    *int64
	}{
		{"conversation_contexts", "last_update", toMillis(c.ContextsBefore), &stats.Contexts},
		{"reply_cache", "created_at", toMillis(c.ReplyCacheBefore), &stats.ReplyCache},
		{"conversation_turns", "created_at", toMillis(c.TurnsBefore), &stats.Turns},
		{"item_snapshots", "fetched_at", toMillis(c.ItemsBefore), &stats.Items},
	}
	for _, s := range steps {
		if s.cutoff == 0 {
			continue
		}
		res, err := tx.ExecContext(ctx, d.q(`DELETE FROM `+s.table+` WHERE `+s.column+` < ?`), s.cutoff)
		if err != nil {
			return store.CleanupStats{}, fmt.Errorf("cleanup %s: %w", s.table, err)
		}
		*s.dst, _ = res.RowsAffected()
	}

	if err := tx.Commit(); err != nil {
		return store.CleanupStats{}, fmt.Errorf("cleanup: commit: %w", err)
	}
	if stats.Total() > 0 {
		slog.Info("store: cleanup", "contexts", stats.Contexts, "reply_cache", stats.ReplyCache,
			"turns", stats.Turns, "items", stats.Items)
	}
	return stats, nil
}
