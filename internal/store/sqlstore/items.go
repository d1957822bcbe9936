package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/autoreply/internal/store"
)

func (d *DB) GetItem(ctx context.Context, accountID, itemID string) (*store.ItemSnapshot, error) {
	var (
		it        store.ItemSnapshot
		attrsJSON []byte
		fetched   int64
	)
	err := d.db.QueryRowContext(ctx, d.q(`SELECT account_id, item_id, title, price, description, category, area,
			seller_name, status, attributes, tags, images, fetched_at
		FROM item_snapshots WHERE account_id = ? AND item_id = ?`), accountID, itemID).
		Scan(&it.AccountID, &it.ItemID, &it.Title, &it.Price, &it.Description, &it.Category, &it.Area,
			&it.SellerName, &it.Status, &attrsJSON, d.dialect.listDest(&it.Tags), d.dialect.listDest(&it.Images), &fetched)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item %s/%s: %w", accountID, itemID, err)
	}
	if len(attrsJSON) > 0 {
		if err := json.Unmarshal(attrsJSON, &it.Attributes); err != nil {
			return nil, fmt.Errorf("decode item attributes: %w", err)
		}
	}
	it.FetchedAt = fromMillis(fetched)
	return &it, nil
}

func (d *DB) SaveItem(ctx context.Context, it store.ItemSnapshot) error {
	if it.FetchedAt.IsZero() {
		it.FetchedAt = time.Now()
	}
	attrs := it.Attributes
	if attrs == nil {
		attrs = []store.Attribute{}
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("encode item attributes: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	_, err = d.db.ExecContext(ctx, d.q(`INSERT INTO item_snapshots
			(account_id, item_id, title, price, description, category, area, seller_name, status,
			 attributes, tags, images, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, item_id) DO UPDATE SET
			title = excluded.title,
			price = excluded.price,
			description = excluded.description,
			category = excluded.category,
			area = excluded.area,
			seller_name = excluded.seller_name,
			status = excluded.status,
			attributes = excluded.attributes,
			tags = excluded.tags,
			images = excluded.images,
			fetched_at = excluded.fetched_at`),
		it.AccountID, it.ItemID, it.Title, it.Price, it.Description, it.Category, it.Area, it.SellerName, it.Status,
		attrsJSON, d.dialect.listArg(it.Tags), d.dialect.listArg(it.Images), toMillis(it.FetchedAt),
	)
	if err != nil {
		return fmt.Errorf("save item %s/%s: %w", it.AccountID, it.ItemID, err)
	}
	return nil
}
