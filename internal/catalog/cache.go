package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nextlevelbuilder/autoreply/internal/store"
)

// DefaultTTL is how long a fetched item is considered fresh.
const DefaultTTL = 24 * time.Hour

type cacheEntry struct {
	info     ItemInfo
	cachedAt time.Time
}

// Cache resolves items through three tiers: process memory, persisted
// snapshots, then the Source. Concurrent misses for the same item share
// one fetch.
type Cache struct {
	items  store.ItemStore
	source Source
	ttl    time.Duration
	now    func() time.Time

	mu  sync.RWMutex
	mem map[string]cacheEntry

	group singleflight.Group
}

// NewCache creates a cache. items and source may be nil.
func NewCache(items store.ItemStore, source Source, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		items:  items,
		source: source,
		ttl:    ttl,
		now:    time.Now,
		mem:    make(map[string]cacheEntry),
	}
}

func cacheKey(accountID, itemID string) string { return accountID + "\x00" + itemID }

// Get never fails: it returns a stale snapshot or a placeholder when the
// source cannot be reached.
func (c *Cache) Get(ctx context.Context, accountID, itemID string) ItemInfo {
	if itemID == "" {
		return Placeholder(accountID, itemID)
	}
	key := cacheKey(accountID, itemID)

	if info, ok := c.fromMemory(key); ok {
		return info
	}

	v, _, _ := c.group.Do(key, func() (any, error) {
		if info, ok := c.fromMemory(key); ok {
			return info, nil
		}
		return c.load(ctx, accountID, itemID), nil
	})
	return v.(ItemInfo)
}

func (c *Cache) fromMemory(key string) (ItemInfo, bool) {
	c.mu.RLock()
	e, ok := c.mem[key]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.cachedAt) >= c.ttl {
		return ItemInfo{}, false
	}
	info := e.info
	info.Origin = OriginMemory
	return info, true
}

// Refresh bypasses memory and fresh snapshots and asks the source again.
func (c *Cache) Refresh(ctx context.Context, accountID, itemID string) (ItemInfo, error) {
	if c.source == nil {
		return ItemInfo{}, errors.New("catalog: no item source configured")
	}
	return c.fetch(ctx, accountID, itemID)
}

// Put stores an item supplied out of band (import, inline bridge payload).
func (c *Cache) Put(ctx context.Context, info ItemInfo) error {
	if info.ItemID == "" {
		return errors.New("catalog: item id required")
	}
	info.Price = NormalizePrice(info.Price)
	if info.FetchedAt.IsZero() {
		info.FetchedAt = c.now()
	}
	if c.items != nil {
		if err := c.items.SaveItem(ctx, toSnapshot(info)); err != nil {
			return fmt.Errorf("catalog: save %s: %w", info.ItemID, err)
		}
	}
	c.remember(info)
	return nil
}

// Prune evicts expired memory entries and returns how many were removed.
func (c *Cache) Prune() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.mem {
		if now.Sub(e.cachedAt) >= c.ttl {
			delete(c.mem, k)
			n++
		}
	}
	return n
}

func (c *Cache) load(ctx context.Context, accountID, itemID string) ItemInfo {
	var stale *store.ItemSnapshot
	if c.items != nil {
		snap, err := c.items.GetItem(ctx, accountID, itemID)
		switch {
		case err == nil:
			if c.now().Sub(snap.FetchedAt) < c.ttl {
				info := fromSnapshot(snap, OriginStore)
				c.remember(info)
				return info
			}
			stale = snap
		case !errors.Is(err, store.ErrNotFound):
			slog.Warn("catalog: snapshot lookup failed", "account", accountID, "item", itemID, "error", err)
		}
	}

	if c.source != nil {
		info, err := c.fetch(ctx, accountID, itemID)
		if err == nil {
			return info
		}
		slog.Warn("catalog: fetch failed", "account", accountID, "item", itemID, "error", err)
	}

	if stale != nil {
		return fromSnapshot(stale, OriginStale)
	}
	return Placeholder(accountID, itemID)
}

func (c *Cache) fetch(ctx context.Context, accountID, itemID string) (ItemInfo, error) {
	info, err := c.source.FetchItem(ctx, accountID, itemID)
	if err != nil {
		return ItemInfo{}, err
	}
	info.AccountID = accountID
	info.ItemID = itemID
	info.Price = NormalizePrice(info.Price)
	info.FetchedAt = c.now()
	info.Origin = OriginSource

	if c.items != nil {
		if err := c.items.SaveItem(ctx, toSnapshot(info)); err != nil {
			slog.Warn("catalog: snapshot save failed", "item", itemID, "error", err)
		}
	}
	c.remember(info)
	return info, nil
}

func (c *Cache) remember(info ItemInfo) {
	c.mu.Lock()
	c.mem[cacheKey(info.AccountID, info.ItemID)] = cacheEntry{info: info, cachedAt: c.now()}
	c.mu.Unlock()
}
