// Package sqlite opens the catalog row source on an embedded SQLite file
// through the pure-go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// MemoryPath opens a private in-memory database. Pool size is pinned to one
// connection so every query sees the same database.
const MemoryPath = ":memory:"

// Options controls how the database file is opened.
type Options struct {
	// ReadOnly opens an existing file with mode=ro; it has no effect on MemoryPath.
	ReadOnly bool
}

// Open opens the catalog database at path (default plasticatlas.db) and
// verifies connectivity. The caller owns Close.
func Open(ctx context.Context, path string, opts Options) (*sql.DB, error) {
	if path == "" {
		path = "plasticatlas.db"
	}
	memory := path == MemoryPath
	if !memory && !opts.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dataSource(path, memory, opts))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if memory {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

func dataSource(path string, memory bool, opts Options) string {
	if memory || !opts.ReadOnly {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + path + sep + "mode=" + url.QueryEscape("ro")
}
