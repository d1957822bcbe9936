// Package migrations embeds the schema for both supported store drivers and
// applies it through golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed sqlite/*.sql
var sqliteFS embed.FS

//go:embed postgres/*.sql
var postgresFS embed.FS

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// SQLDriverName maps a store driver to the database/sql driver it opens with.
func SQLDriverName(driver string) (string, error) {
	switch driver {
	case DriverSQLite:
		return "sqlite", nil
	case DriverPostgres:
		return "pgx", nil
	default:
		return "", fmt.Errorf("unsupported store driver %q", driver)
	}
}

// New opens a dedicated connection for dsn and returns a migrator over the
// embedded schema. Closing the migrator closes that connection.
func New(driver, dsn string) (*migrate.Migrate, error) {
	sqlDriver, err := SQLDriverName(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s for migrations: %w", driver, err)
	}

	var (
		fsys   embed.FS
		dir    string
		dbDrv  database.Driver
		drvErr error
	)
	switch driver {
	case DriverSQLite:
		fsys, dir = sqliteFS, "sqlite"
		dbDrv, drvErr = sqlite.WithInstance(db, &sqlite.Config{})
	case DriverPostgres:
		fsys, dir = postgresFS, "postgres"
		dbDrv, drvErr = postgres.WithInstance(db, &postgres.Config{})
	}
	if drvErr != nil {
		db.Close()
		return nil, fmt.Errorf("migration driver: %w", drvErr)
	}

	src, err := iofs.New(fsys, dir)
	if err != nil {
		dbDrv.Close()
		return nil, fmt.Errorf("migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, dbDrv)
	if err != nil {
		dbDrv.Close()
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

// Up applies every pending migration.
func Up(driver, dsn string) error {
	m, err := New(driver, dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	v, dirty, _ := m.Version()
	slog.Debug("migrations: schema ready", "driver", driver, "version", v, "dirty", dirty)
	return nil
}
