// Package sqlstore implements the store interfaces on database/sql for both
// the embedded sqlite store and the managed postgres store.
package sqlstore

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/autoreply/internal/store"
	"github.com/nextlevelbuilder/autoreply/internal/store/migrations"
)

// DB is one physical store. Every mutation goes through mu so that concurrent
// conversations can never interleave partial updates to the same row.
type DB struct {
	db      *sql.DB
	dialect dialect
	mu      sync.Mutex
}

// SQLiteDSN builds a modernc sqlite DSN with WAL and a busy timeout.
func SQLiteDSN(path string) string {
	if strings.HasPrefix(path, "file:") || path == ":memory:" {
		return path
	}
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

// Open connects to the configured store and applies pending migrations.
func Open(cfg store.StoreConfig) (*DB, error) {
	var dsn string
	d := sqliteDialect

	switch cfg.Driver {
	case "", migrations.DriverSQLite:
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite path is required")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		dsn = SQLiteDSN(cfg.SQLitePath)
		cfg.Driver = migrations.DriverSQLite
	case migrations.DriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("AUTOREPLY_POSTGRES_DSN environment variable is not set")
		}
		dsn = cfg.PostgresDSN
		d = postgresDialect
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}

	if err := migrations.Up(cfg.Driver, dsn); err != nil {
		return nil, err
	}

	sqlDriver, _ := migrations.SQLDriverName(cfg.Driver)
	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if d.postgres {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	} else {
		// a single connection keeps sqlite writers from contending on the file lock
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}

	slog.Info("store: opened", "driver", cfg.Driver)
	return &DB{db: db, dialect: d}, nil
}

// NewStores opens the configured store and returns every store interface over it.
func NewStores(cfg store.StoreConfig) (*store.Stores, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	return db.Stores(), nil
}

// Stores exposes db through the store interfaces.
func (d *DB) Stores() *store.Stores {
	return store.NewStores(d, d, d, d, d.Close)
}

// Close closes the underlying handle.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) q(query string) string {
	return d.dialect.rebind(query)
}

var (
	_ store.SettingsStore     = (*DB)(nil)
	_ store.ConversationStore = (*DB)(nil)
	_ store.ItemStore         = (*DB)(nil)
	_ store.MaintenanceStore  = (*DB)(nil)
)
