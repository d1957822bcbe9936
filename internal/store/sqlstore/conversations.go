package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/autoreply/internal/store"
)

const contextColumns = `conversation_id, account_id, counterpart_id, item_id, history,
	negotiation_count, last_intent, last_update`

func (d *DB) GetContext(ctx context.Context, conversationID string) (*store.ContextRecord, error) {
	rec, err := d.loadContext(ctx, d.db, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get context %s: %w", conversationID, err)
	}
	return rec, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (d *DB) loadContext(ctx context.Context, q queryer, conversationID string) (*store.ContextRecord, error) {
	var (
		rec         store.ContextRecord
		historyJSON []byte
		lastUpdate  int64
	)
	err := q.QueryRowContext(ctx, d.q(`SELECT `+contextColumns+` FROM conversation_contexts WHERE conversation_id = ?`), conversationID).
		Scan(&rec.ConversationID, &rec.AccountID, &rec.CounterpartID, &rec.ItemID, &historyJSON,
			&rec.NegotiationCount, &rec.LastIntent, &lastUpdate)
	if err != nil {
		return nil, err
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &rec.History); err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
	}
	rec.LastUpdate = fromMillis(lastUpdate)
	return &rec, nil
}

// UpdateContext runs read-modify-write of the context row plus the optional
// turn insert inside one transaction, under the store lock.
func (d *DB) UpdateContext(ctx context.Context, conversationID string, turn *store.Turn, fn func(rec *store.ContextRecord)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update context %s: begin: %w", conversationID, err)
	}
	defer tx.Rollback()

	rec, err := d.loadContext(ctx, tx, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		rec = &store.ContextRecord{ConversationID: conversationID}
	} else if err != nil {
		return fmt.Errorf("update context %s: load: %w", conversationID, err)
	}

	if fn != nil {
		fn(rec)
	}
	if rec.LastUpdate.IsZero() {
		rec.LastUpdate = time.Now()
	}

	historyJSON, err := json.Marshal(rec.History)
	if err != nil {
		return fmt.Errorf("update context %s: encode history: %w", conversationID, err)
	}
	if rec.History == nil {
		historyJSON = []byte("[]")
	}

	_, err = tx.ExecContext(ctx, d.q(`INSERT INTO conversation_contexts (`+contextColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (conversation_id) DO UPDATE SET
			account_id = excluded.account_id,
			counterpart_id = excluded.counterpart_id,
			item_id = excluded.item_id,
			history = excluded.history,
			negotiation_count = excluded.negotiation_count,
			last_intent = excluded.last_intent,
			last_update = excluded.last_update`),
		conversationID, rec.AccountID, rec.CounterpartID, rec.ItemID, historyJSON,
		rec.NegotiationCount, rec.LastIntent, toMillis(rec.LastUpdate),
	)
	if err != nil {
		return fmt.Errorf("update context %s: upsert: %w", conversationID, err)
	}

	if turn != nil {
		if turn.ID == uuid.Nil {
			turn.ID = uuid.Must(uuid.NewV7())
		}
		if turn.CreatedAt.IsZero() {
			turn.CreatedAt = time.Now()
		}
		_, err = tx.ExecContext(ctx, d.q(`INSERT INTO conversation_turns
			(id, account_id, conversation_id, counterpart_id, item_id, role, content, intent, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			turn.ID.String(), turn.AccountID, conversationID, turn.CounterpartID, turn.ItemID,
			string(turn.Role), turn.Content, turn.Intent, toMillis(turn.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("update context %s: insert turn: %w", conversationID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update context %s: commit: %w", conversationID, err)
	}
	return nil
}

func (d *DB) DeleteContext(ctx context.Context, conversationID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.db.ExecContext(ctx, d.q(`DELETE FROM conversation_contexts WHERE conversation_id = ?`), conversationID); err != nil {
		return fmt.Errorf("delete context %s: %w", conversationID, err)
	}
	return nil
}

func (d *DB) RecentUserTurns(ctx context.Context, conversationID string, limit int, since time.Time) ([]store.Turn, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := d.db.QueryContext(ctx, d.q(`SELECT id, account_id, conversation_id, counterpart_id, item_id, role, content, intent, created_at
		FROM conversation_turns
		WHERE conversation_id = ? AND role = ? AND created_at >= ?
		ORDER BY created_at DESC
		LIMIT ?`),
		conversationID, string(store.RoleUser), toMillis(since), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent user turns %s: %w", conversationID, err)
	}
	defer rows.Close()

	var out []store.Turn
	for rows.Next() {
		var (
			t       store.Turn
			id      string
			role    string
			created int64
		)
		if err := rows.Scan(&id, &t.AccountID, &t.ConversationID, &t.CounterpartID, &t.ItemID, &role, &t.Content, &t.Intent, &created); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.ID, _ = uuid.Parse(id)
		t.Role = store.Role(role)
		t.CreatedAt = fromMillis(created)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (d *DB) CountAssistantTurns(ctx context.Context, conversationID string, since time.Time) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, d.q(`SELECT COUNT(*) FROM conversation_turns
		WHERE conversation_id = ? AND role = ? AND created_at >= ?`),
		conversationID, string(store.RoleAssistant), toMillis(since),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count assistant turns %s: %w", conversationID, err)
	}
	return n, nil
}

func (d *DB) GetReplyCache(ctx context.Context, key string) (*store.ReplyCacheEntry, error) {
	var (
		e       store.ReplyCacheEntry
		created int64
	)
	err := d.db.QueryRowContext(ctx, d.q(`SELECT cache_key, conversation_id, reply, created_at FROM reply_cache WHERE cache_key = ?`), key).
		Scan(&e.Key, &e.ConversationID, &e.Reply, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reply cache: %w", err)
	}
	e.CreatedAt = fromMillis(created)
	return &e, nil
}

func (d *DB) PutReplyCache(ctx context.Context, e store.ReplyCacheEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.ExecContext(ctx, d.q(`INSERT INTO reply_cache (cache_key, conversation_id, reply, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (cache_key) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			reply = excluded.reply,
			created_at = excluded.created_at`),
		e.Key, e.ConversationID, e.Reply, toMillis(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put reply cache: %w", err)
	}
	return nil
}
