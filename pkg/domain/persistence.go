package domain

import (
	"context"
	"database/sql"
)

// RowSource is the read-only, parameterized query surface the taxonomy and
// plate components consume. *sql.DB, *sql.Conn and *sql.Tx satisfy it.
type RowSource interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
