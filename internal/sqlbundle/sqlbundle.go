// Package sqlbundle exposes the catalog schema DDL for adapters, fixtures and
// the schema command.
package sqlbundle

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"strings"

	sqldocs "plasticatlas/docs/schema/sql"
)

// SQLite returns the catalog DDL for SQLite.
func SQLite() string {
	return sqldocs.SQLite
}

// Postgres returns the catalog DDL for Postgres.
func Postgres() string {
	return sqldocs.Postgres
}

// ForDriver returns the DDL matching a storage driver name.
func ForDriver(driver string) (string, error) {
	switch driver {
	case "sqlite":
		return SQLite(), nil
	case "postgres":
		return Postgres(), nil
	default:
		return "", fmt.Errorf("no schema bundle for driver %q", driver)
	}
}

// Execer is the subset of *sql.DB used to apply DDL.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Apply executes every statement of ddl in order.
func Apply(ctx context.Context, db Execer, ddl string) error {
	for _, stmt := range SplitStatements(ddl) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// SplitStatements splits a semicolon-terminated DDL script into executable statements.
// It drops blank lines and single-line comments that start with "--".
func SplitStatements(ddl string) []string {
	scanner := bufio.NewScanner(strings.NewReader(ddl))
	var stmts []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
		current.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}

	if tail := strings.TrimSpace(current.String()); tail != "" {
		stmts = append(stmts, tail)
	}

	return stmts
}
