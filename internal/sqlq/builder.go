// Package sqlq assembles parameterized SELECT statements from explicit
// fragments. Every caller-supplied value is bound as an argument; fragments
// are fixed SQL written by this repository.
package sqlq

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect selects placeholder syntax.
type Dialect int

const (
	// Postgres renders numbered placeholders ($1, $2, ...).
	Postgres Dialect = iota
	// SQLite renders positional placeholders (?).
	SQLite
)

func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case SQLite:
		return "sqlite"
	default:
		return "unknown"
	}
}

// marker is the placeholder used inside fragments before rendering.
const marker = '?'

type clause struct {
	sql  string
	args []any
}

// Builder accumulates a single SELECT statement. The zero value is not usable;
// construct with New.
type Builder struct {
	dialect Dialect
	columns []string
	from    string
	joins   []string
	where   []clause
	groupBy []string
	having  []clause
	orderBy []string
	limit   *int
	offset  *int
	err     error
}

// New returns an empty builder for the dialect.
func New(d Dialect) *Builder {
	return &Builder{dialect: d}
}

// Select appends result columns.
func (b *Builder) Select(cols ...string) *Builder {
	b.columns = append(b.columns, cols...)
	return b
}

// From sets the base table expression.
func (b *Builder) From(table string) *Builder {
	b.from = table
	return b
}

// Join appends a join clause, e.g. "LEFT JOIN t ON t.id = e.id".
func (b *Builder) Join(join string) *Builder {
	b.joins = append(b.joins, join)
	return b
}

// Where appends a predicate ANDed with the others. The fragment must contain
// one '?' per argument.
func (b *Builder) Where(fragment string, args ...any) *Builder {
	if n := strings.Count(fragment, string(marker)); n != len(args) {
		b.setErr(fmt.Errorf("sqlq: predicate %q has %d placeholders for %d args", fragment, n, len(args)))
		return b
	}
	b.where = append(b.where, clause{sql: fragment, args: args})
	return b
}

// Eq binds value against col.
func (b *Builder) Eq(col string, value any) *Builder {
	return b.Where(col+" = ?", value)
}

// IsNull restricts col to NULL.
func (b *Builder) IsNull(col string) *Builder {
	return b.Where(col + " IS NULL")
}

// NotNull restricts col to non-NULL.
func (b *Builder) NotNull(col string) *Builder {
	return b.Where(col + " IS NOT NULL")
}

// GroupBy appends grouping expressions.
func (b *Builder) GroupBy(cols ...string) *Builder {
	b.groupBy = append(b.groupBy, cols...)
	return b
}

// Having appends a group predicate ANDed with the others. Its arguments are
// bound after every WHERE argument.
func (b *Builder) Having(fragment string, args ...any) *Builder {
	if n := strings.Count(fragment, string(marker)); n != len(args) {
		b.setErr(fmt.Errorf("sqlq: having %q has %d placeholders for %d args", fragment, n, len(args)))
		return b
	}
	b.having = append(b.having, clause{sql: fragment, args: args})
	return b
}

// OrderBy appends ordering terms.
func (b *Builder) OrderBy(terms ...string) *Builder {
	b.orderBy = append(b.orderBy, terms...)
	return b
}

// Limit binds a row limit.
func (b *Builder) Limit(n int) *Builder {
	b.limit = &n
	return b
}

// Offset binds a row offset.
func (b *Builder) Offset(n int) *Builder {
	b.offset = &n
	return b
}

func (b *Builder) setErr(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build renders the statement and its arguments in placeholder order.
func (b *Builder) Build() (string, []any, error) {
	if b.err != nil {
		return "", nil, b.err
	}
	if len(b.columns) == 0 {
		return "", nil, fmt.Errorf("sqlq: no columns selected")
	}
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(b.columns, ", "))
	args, err := b.writeBody(&sb)
	if err != nil {
		return "", nil, err
	}
	if len(b.groupBy) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(b.groupBy, ", "))
	}
	for i, h := range b.having {
		if i == 0 {
			sb.WriteString(" HAVING ")
		} else {
			sb.WriteString(" AND ")
		}
		sb.WriteString(h.sql)
		args = append(args, h.args...)
	}
	if len(b.orderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(b.orderBy, ", "))
	}
	if b.limit != nil {
		sb.WriteString(" LIMIT ?")
		args = append(args, *b.limit)
	}
	if b.offset != nil {
		sb.WriteString(" OFFSET ?")
		args = append(args, *b.offset)
	}
	return b.render(sb.String()), args, nil
}

// BuildCount renders SELECT COUNT(*) over the same FROM/JOIN/WHERE, ignoring
// columns, grouping, HAVING, ordering and the window.
func (b *Builder) BuildCount() (string, []any, error) {
	if b.err != nil {
		return "", nil, b.err
	}
	var sb strings.Builder
	sb.WriteString("SELECT COUNT(*)")
	args, err := b.writeBody(&sb)
	if err != nil {
		return "", nil, err
	}
	return b.render(sb.String()), args, nil
}

func (b *Builder) writeBody(sb *strings.Builder) ([]any, error) {
	if b.from == "" {
		return nil, fmt.Errorf("sqlq: no table selected")
	}
	sb.WriteString(" FROM ")
	sb.WriteString(b.from)
	for _, j := range b.joins {
		sb.WriteByte(' ')
		sb.WriteString(j)
	}
	var args []any
	for i, w := range b.where {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		sb.WriteString(w.sql)
		args = append(args, w.args...)
	}
	return args, nil
}

func (b *Builder) render(query string) string {
	if b.dialect != Postgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == marker {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// NullsFirstDesc orders col descending with NULL rows ahead of every value,
// independent of the engine's NULL ordering default.
func NullsFirstDesc(col string) []string {
	return []string{nullRank(col), col + " DESC"}
}

// NullsFirstAsc orders col ascending with NULL rows ahead of every value.
func NullsFirstAsc(col string) []string {
	return []string{nullRank(col), col + " ASC"}
}

// NullsLastDesc orders col descending with NULL rows after every value.
func NullsLastDesc(col string) []string {
	return []string{"CASE WHEN " + col + " IS NULL THEN 1 ELSE 0 END ASC", col + " DESC"}
}

func nullRank(col string) string {
	return "CASE WHEN " + col + " IS NULL THEN 0 ELSE 1 END ASC"
}
