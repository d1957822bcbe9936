package reply

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/autoreply/internal/catalog"
	"github.com/nextlevelbuilder/autoreply/internal/providers"
	"github.com/nextlevelbuilder/autoreply/internal/store"
	"github.com/nextlevelbuilder/autoreply/internal/store/sqlstore"
)

func openStore(t *testing.T) *sqlstore.DB {
	t.Helper()
	db, err := sqlstore.Open(store.StoreConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "reply.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func mustPolicy(t *testing.T, version string) *PolicyConfig {
	t.Helper()
	p, err := ResolvePolicy(version, "")
	require.NoError(t, err)
	return p
}

// fakeBackend answers from a queue; the last answer repeats.
type fakeBackend struct {
	mu       sync.Mutex
	answers  []string
	err      error
	block    bool
	requests []providers.CompletionRequest
}

func (f *fakeBackend) Complete(ctx context.Context, req providers.CompletionRequest) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	block, err := f.block, f.err
	var out string
	if len(f.answers) > 0 {
		out = f.answers[0]
		if len(f.answers) > 1 {
			f.answers = f.answers[1:]
		}
	}
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}
	return out, nil
}

func (f *fakeBackend) Kind() providers.Kind { return providers.KindChat }
func (f *fakeBackend) Name() string         { return "fake" }

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeBackends struct {
	backend     providers.Backend
	err         error
	invalidated []string
}

func (f *fakeBackends) Get(accountID string, _ providers.Credentials) (providers.Backend, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.backend, nil
}

func (f *fakeBackends) Invalidate(accountID string) { f.invalidated = append(f.invalidated, accountID) }
func (f *fakeBackends) InvalidateAll()              { f.invalidated = append(f.invalidated, "*") }

type fixedItems map[string]catalog.ItemInfo

func (f fixedItems) Get(_ context.Context, accountID, itemID string) catalog.ItemInfo {
	if it, ok := f[itemID]; ok {
		return it
	}
	return catalog.Placeholder(accountID, itemID)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock { return &fakeClock{now: time.Now()} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
