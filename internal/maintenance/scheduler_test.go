package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/autoreply/internal/store"
)

type recordingStore struct {
	got   store.CleanupCutoffs
	stats store.CleanupStats
	err   error
}

func (r *recordingStore) Cleanup(_ context.Context, c store.CleanupCutoffs) (store.CleanupStats, error) {
	r.got = c
	return r.stats, r.err
}

type countPruner int

func (c countPruner) Prune() int { return int(c) }

func TestNewScheduler_ValidatesCron(t *testing.T) {
	_, err := NewScheduler(Config{Cron: "every hour"}, &recordingStore{})
	assert.Error(t, err)

	s, err := NewScheduler(Config{}, &recordingStore{})
	require.NoError(t, err)
	assert.Equal(t, DefaultCron, s.cfg.Cron)
}

func TestRunOnce_Cutoffs(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rs := &recordingStore{stats: store.CleanupStats{Contexts: 2, Items: 1}}
	s, err := NewScheduler(Config{
		ContextTTL:    time.Hour,
		ReplyCacheTTL: 5 * time.Minute,
		ItemRetention: 24 * time.Hour,
	}, rs, countPruner(3))
	require.NoError(t, err)
	s.now = func() time.Time { return now }

	stats, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total())
	assert.Equal(t, now.Add(-time.Hour), rs.got.ContextsBefore)
	assert.Equal(t, now.Add(-5*time.Minute), rs.got.ReplyCacheBefore)
	assert.True(t, rs.got.TurnsBefore.IsZero(), "zero retention skips turns")
	assert.Equal(t, now.Add(-24*time.Hour), rs.got.ItemsBefore)
}

func TestRunOnce_Error(t *testing.T) {
	s, err := NewScheduler(Config{}, &recordingStore{err: errors.New("locked")})
	require.NoError(t, err)
	_, err = s.RunOnce(context.Background())
	assert.ErrorContains(t, err, "locked")
}

func TestNext(t *testing.T) {
	s, err := NewScheduler(Config{Cron: "*/15 * * * *"}, &recordingStore{})
	require.NoError(t, err)
	next, err := s.Next(time.Date(2026, 3, 1, 12, 7, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 15, 0, 0, time.UTC), next)
}

func TestRun_StopsOnCancel(t *testing.T) {
	s, err := NewScheduler(Config{}, &recordingStore{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
