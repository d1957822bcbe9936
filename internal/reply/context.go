package reply

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/autoreply/internal/store"
)

// ContextStore is the TTL-bounded view over persisted conversation state.
// Persistence failures are logged and never surface: reads degrade to an
// empty context and writes are dropped.
type ContextStore struct {
	store    store.ConversationStore
	ttl      time.Duration
	capacity int
	now      func() time.Time
}

func NewContextStore(s store.ConversationStore, ttl time.Duration, capacity int) *ContextStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if capacity <= 0 {
		capacity = 10
	}
	return &ContextStore{store: s, ttl: ttl, capacity: capacity, now: time.Now}
}

func (c *ContextStore) expired(rec *store.ContextRecord) bool {
	return !rec.LastUpdate.IsZero() && c.now().Sub(rec.LastUpdate) > c.ttl
}

// Get returns the conversation context, or an empty one when it is missing,
// expired or unreadable. Expired rows are deleted on read.
func (c *ContextStore) Get(ctx context.Context, conversationID string) *store.ContextRecord {
	empty := &store.ContextRecord{ConversationID: conversationID}

	rec, err := c.store.GetContext(ctx, conversationID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("reply: context read failed", "conversation", conversationID, "error", err)
		}
		return empty
	}
	if c.expired(rec) {
		if err := c.store.DeleteContext(ctx, conversationID); err != nil {
			slog.Warn("reply: expired context delete failed", "conversation", conversationID, "error", err)
		}
		return empty
	}
	return rec
}

// Append records one turn. The negotiation counter moves only for user
// turns classified as price intent.
func (c *ContextStore) Append(ctx context.Context, conversationID string, turn store.Turn) {
	now := c.now()
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = now
	}
	turn.ConversationID = conversationID

	err := c.store.UpdateContext(ctx, conversationID, &turn, func(rec *store.ContextRecord) {
		if c.expired(rec) {
			*rec = store.ContextRecord{ConversationID: conversationID}
		}
		if turn.AccountID != "" {
			rec.AccountID = turn.AccountID
		}
		if turn.CounterpartID != "" {
			rec.CounterpartID = turn.CounterpartID
		}
		if turn.ItemID != "" {
			rec.ItemID = turn.ItemID
		}

		rec.History = append(rec.History, store.HistoryEntry{
			Role:      turn.Role,
			Content:   turn.Content,
			Intent:    turn.Intent,
			Timestamp: turn.CreatedAt,
		})
		if over := len(rec.History) - c.capacity; over > 0 {
			rec.History = append([]store.HistoryEntry(nil), rec.History[over:]...)
		}

		if turn.Role == store.RoleUser {
			if turn.Intent == IntentPrice {
				rec.NegotiationCount++
			}
			rec.LastIntent = turn.Intent
		}
		rec.LastUpdate = now
	})
	if err != nil {
		slog.Warn("reply: context append dropped", "conversation", conversationID, "role", turn.Role, "error", err)
	}
}
