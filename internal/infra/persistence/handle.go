// Package persistence selects and opens the catalog row source. The returned
// Handle is created once at process start and closed at shutdown.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"plasticatlas/internal/infra/persistence/postgres"
	"plasticatlas/internal/infra/persistence/sqlite"
	"plasticatlas/internal/sqlbundle"
	"plasticatlas/internal/sqlq"
)

// Driver identifies a concrete row source implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"   // in-memory sqlite seeded with the schema (tests / demos)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
)

// Config selects a driver and its connection settings.
type Config struct {
	Driver          Driver        `yaml:"driver" env:"DRIVER"`
	SQLitePath      string        `yaml:"sqlite_path" env:"SQLITE_PATH"`
	SQLiteReadOnly  bool          `yaml:"sqlite_read_only" env:"SQLITE_READ_ONLY"`
	PostgresDSN     string        `yaml:"postgres_dsn" env:"POSTGRES_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// Handle owns an open row source and the placeholder dialect its queries use.
type Handle struct {
	DB      *sql.DB
	Dialect sqlq.Dialect
	Driver  Driver
}

// Close releases the underlying pool.
func (h *Handle) Close() error {
	if h == nil || h.DB == nil {
		return nil
	}
	return h.DB.Close()
}

// Open connects the configured driver. The memory driver applies the catalog
// schema so callers start from empty tables.
func Open(ctx context.Context, cfg Config) (*Handle, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	switch driver {
	case DriverMemory:
		db, err := sqlite.Open(ctx, sqlite.MemoryPath, sqlite.Options{})
		if err != nil {
			return nil, err
		}
		if err := sqlbundle.Apply(ctx, db, sqlbundle.SQLite()); err != nil {
			_ = db.Close()
			return nil, err
		}
		return &Handle{DB: db, Dialect: sqlq.SQLite, Driver: driver}, nil
	case DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath, sqlite.Options{ReadOnly: cfg.SQLiteReadOnly})
		if err != nil {
			return nil, err
		}
		return &Handle{DB: db, Dialect: sqlq.SQLite, Driver: driver}, nil
	case DriverPostgres:
		db, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.Options{
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		return &Handle{DB: db, Dialect: sqlq.Postgres, Driver: driver}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
