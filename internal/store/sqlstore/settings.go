package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/autoreply/internal/store"
)

const settingsColumns = `account_id, ai_enabled, api_key, base_url, model_name, backend_kind,
	only_ai_reply, quality_check_enabled, updated_at`

func (d *DB) GetSettings(ctx context.Context, accountID string) (store.AISettings, error) {
	row := d.db.QueryRowContext(ctx, d.q(`SELECT `+settingsColumns+` FROM ai_reply_settings WHERE account_id = ?`), accountID)
	s, err := scanSettings(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.AISettings{}, store.ErrNotFound
	}
	if err != nil {
		return store.AISettings{}, fmt.Errorf("get settings %s: %w", accountID, err)
	}
	return s, nil
}

func (d *DB) SaveSettings(ctx context.Context, s store.AISettings) error {
	if s.AccountID == "" {
		return fmt.Errorf("save settings: account id is required")
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}
	if s.BackendKind == "" {
		s.BackendKind = "auto"
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.ExecContext(ctx, d.q(`INSERT INTO ai_reply_settings (`+settingsColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET
			ai_enabled = excluded.ai_enabled,
			api_key = excluded.api_key,
			base_url = excluded.base_url,
			model_name = excluded.model_name,
			backend_kind = excluded.backend_kind,
			only_ai_reply = excluded.only_ai_reply,
			quality_check_enabled = excluded.quality_check_enabled,
			updated_at = excluded.updated_at`),
		s.AccountID, s.AIEnabled, s.APIKey, s.BaseURL, s.ModelName, s.BackendKind,
		s.OnlyAIReply, s.QualityCheckEnabled, toMillis(s.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save settings %s: %w", s.AccountID, err)
	}
	return nil
}

func (d *DB) ListSettings(ctx context.Context) ([]store.AISettings, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+settingsColumns+` FROM ai_reply_settings ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	var out []store.AISettings
	for rows.Next() {
		s, err := scanSettings(rows)
		if err != nil {
			return nil, fmt.Errorf("scan settings: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSettings(r rowScanner) (store.AISettings, error) {
	var (
		s       store.AISettings
		updated int64
	)
	err := r.Scan(&s.AccountID, &s.AIEnabled, &s.APIKey, &s.BaseURL, &s.ModelName, &s.BackendKind,
		&s.OnlyAIReply, &s.QualityCheckEnabled, &updated)
	s.UpdatedAt = fromMillis(updated)
	return s, err
}
