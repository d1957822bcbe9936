package store

import (
	"context"
	"time"
)

// SettingsStore persists AccountAISettings keyed by account id.
type SettingsStore interface {
	// GetSettings returns ErrNotFound for an unknown account.
	GetSettings(ctx context.Context, accountID string) (AISettings, error)
	SaveSettings(ctx context.Context, s AISettings) error
	ListSettings(ctx context.Context) ([]AISettings, error)
}

// ConversationStore persists conversation contexts, turns and the reply cache.
// All writes on one physical store are serialized through a single lock so
// that concurrent conversations never interleave partial updates.
type ConversationStore interface {
	// GetContext returns ErrNotFound when no context row exists.
	GetContext(ctx context.Context, conversationID string) (*ContextRecord, error)

	// UpdateContext loads the context (zero record if absent), applies fn and
	// writes it back together with turn (when non-nil) in one critical section.
	UpdateContext(ctx context.Context, conversationID string, turn *Turn, fn func(rec *ContextRecord)) error

	DeleteContext(ctx context.Context, conversationID string) error

	// RecentUserTurns returns up to limit user turns created at or after since, newest first.
	RecentUserTurns(ctx context.Context, conversationID string, limit int, since time.Time) ([]Turn, error)

	// CountAssistantTurns counts assistant turns created at or after since.
	CountAssistantTurns(ctx context.Context, conversationID string, since time.Time) (int, error)

	// GetReplyCache returns ErrNotFound when the key is absent.
	GetReplyCache(ctx context.Context, key string) (*ReplyCacheEntry, error)
	PutReplyCache(ctx context.Context, e ReplyCacheEntry) error
}

// ItemStore persists catalog item snapshots.
type ItemStore interface {
	// GetItem returns ErrNotFound when no snapshot exists.
	GetItem(ctx context.Context, accountID, itemID string) (*ItemSnapshot, error)
	SaveItem(ctx context.Context, item ItemSnapshot) error
}

// MaintenanceStore runs explicit cleanup passes.
type MaintenanceStore interface {
	Cleanup(ctx context.Context, cutoffs CleanupCutoffs) (CleanupStats, error)
}

// StoreConfig selects and locates the physical store.
type StoreConfig struct {
	Driver      string // "sqlite" or "postgres"
	SQLitePath  string
	PostgresDSN string
}

// Stores is the top-level container for all storage backends.
type Stores struct {
	Settings      SettingsStore
	Conversations ConversationStore
	Items         ItemStore
	Maintenance   MaintenanceStore

	closer func() error
}

// NewStores assembles a container; closer releases the underlying handle.
func NewStores(settings SettingsStore, convs ConversationStore, items ItemStore, maint MaintenanceStore, closer func() error) *Stores {
	return &Stores{
		Settings:      settings,
		Conversations: convs,
		Items:         items,
		Maintenance:   maint,
		closer:        closer,
	}
}

// Close releases the underlying database handle.
func (s *Stores) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer()
}
