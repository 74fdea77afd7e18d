package sqlq

import (
	"database/sql"
	"time"
)

// Float returns nil for SQL NULL.
func Float(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// Int returns nil for SQL NULL.
func Int(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}

// Bool returns nil for SQL NULL.
func Bool(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Bool
	return &b
}

// String returns nil for SQL NULL.
func String(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// Time returns nil for SQL NULL and normalizes valid values to UTC.
func Time(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}
