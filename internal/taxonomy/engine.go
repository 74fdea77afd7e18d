// Package taxonomy serves the enzyme classification hierarchy: enzymes,
// families, components and centroid-relative variants.
package taxonomy

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"plasticatlas/internal/sqlq"
	"plasticatlas/pkg/domain"
)

const (
	colFamily          = "f.family"
	colComponent       = "f.component"
	colFamilyIdentity  = "f.family_percent_identity"
	colVariantIdentity = "v.enzyme_percent_identity"

	joinMembershipLeft  = "LEFT JOIN family_membership f ON f.enzyme_id = e.enzyme_id"
	joinMembershipInner = "JOIN family_membership f ON f.enzyme_id = e.enzyme_id"
)

var enzymeColumns = []string{
	"e.enzyme_id",
	"e.accession",
	"e.translated_sequence",
	colFamily,
	colFamilyIdentity,
	colComponent,
}

// Engine answers taxonomy queries against an injected row source. It holds
// no mutable state and is safe for concurrent use.
type Engine struct {
	db      domain.RowSource
	dialect sqlq.Dialect
}

// NewEngine constructs an engine bound to db using the dialect's placeholders.
func NewEngine(db domain.RowSource, dialect sqlq.Dialect) *Engine {
	return &Engine{db: db, dialect: dialect}
}

// ListEnzymes returns one page of enzymes ordered by enzyme_id. Unclassified
// enzymes are included unless a predicate requires a classification. An
// empty page is a valid result.
func (e *Engine) ListEnzymes(ctx context.Context, filter domain.EnzymeFilter, page domain.Page) (domain.EnzymePage, error) {
	page, err := page.Normalize()
	if err != nil {
		return domain.EnzymePage{}, err
	}

	b := sqlq.New(e.dialect).Select(enzymeColumns...).From("enzymes e").Join(joinMembershipLeft)
	applyEnzymeFilter(b, filter)

	countQuery, countArgs, err := b.BuildCount()
	if err != nil {
		return domain.EnzymePage{}, fmt.Errorf("build enzyme count: %w", err)
	}
	var total int64
	if err := e.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return domain.EnzymePage{}, domain.WrapStorage("count enzymes", err)
	}

	query, args, err := b.OrderBy("e.enzyme_id ASC").Limit(page.Limit).Offset(page.Offset).Build()
	if err != nil {
		return domain.EnzymePage{}, fmt.Errorf("build enzyme list: %w", err)
	}
	rows, err := e.queryEnzymes(ctx, "list enzymes", query, args)
	if err != nil {
		return domain.EnzymePage{}, err
	}
	return domain.EnzymePage{
		Rows:       rows,
		Pagination: domain.NewPagination(page, len(rows), total),
	}, nil
}

func applyEnzymeFilter(b *sqlq.Builder, filter domain.EnzymeFilter) {
	if filter.Family != nil {
		b.Eq(colFamily, *filter.Family)
	}
	if filter.Component != nil {
		b.Eq(colComponent, *filter.Component)
	}
	if filter.HasComponent != nil {
		if *filter.HasComponent {
			b.NotNull(colComponent)
		} else {
			b.IsNull(colComponent)
		}
	}
}

// GetEnzyme looks an enzyme up by id or accession.
func (e *Engine) GetEnzyme(ctx context.Context, ref domain.EnzymeRef) (domain.EnzymeRecord, error) {
	b := sqlq.New(e.dialect).Select(enzymeColumns...).From("enzymes e").Join(joinMembershipLeft)
	switch {
	case ref.ID != nil:
		b.Eq("e.enzyme_id", *ref.ID)
	case ref.Accession != "":
		b.Eq("e.accession", ref.Accession)
	default:
		return domain.EnzymeRecord{}, domain.ValidationError{Field: "enzyme", Reason: "identifier required"}
	}
	query, args, err := b.OrderBy("e.enzyme_id ASC").Limit(1).Build()
	if err != nil {
		return domain.EnzymeRecord{}, fmt.Errorf("build enzyme lookup: %w", err)
	}
	rows, err := e.queryEnzymes(ctx, "get enzyme", query, args)
	if err != nil {
		return domain.EnzymeRecord{}, err
	}
	if len(rows) == 0 {
		return domain.EnzymeRecord{}, domain.ErrNotFound{Entity: domain.EntityEnzyme, Key: ref.String()}
	}
	return rows[0], nil
}

// GetVariants lists the variants clustered under a centroid enzyme, unknown
// identities first, then by descending identity. An empty list is a valid result.
func (e *Engine) GetVariants(ctx context.Context, enzymeID int64) ([]domain.VariantRecord, error) {
	if enzymeID <= 0 {
		return nil, domain.ValidationError{Field: "enzyme", Reason: "must be positive"}
	}
	query, args, err := sqlq.New(e.dialect).
		Select("v.variant_id", "v.enzyme_id", "v.accession", colVariantIdentity).
		From("variants v").
		Eq("v.enzyme_id", enzymeID).
		OrderBy(sqlq.NullsFirstDesc(colVariantIdentity)...).
		OrderBy("v.variant_id ASC").
		Build()
	if err != nil {
		return nil, fmt.Errorf("build variant list: %w", err)
	}
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.WrapStorage("list variants", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]domain.VariantRecord, 0)
	for rows.Next() {
		var (
			v        domain.VariantRecord
			identity sql.NullFloat64
		)
		if err := rows.Scan(&v.ID, &v.EnzymeID, &v.Accession, &identity); err != nil {
			return nil, domain.WrapStorage("scan variant", err)
		}
		v.EnzymePercentIdentity = sqlq.Float(identity)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapStorage("iterate variants", err)
	}
	return out, nil
}

// GetFamilyMembers lists a family with its centroid first, then members by
// descending identity.
func (e *Engine) GetFamilyMembers(ctx context.Context, family int64) ([]domain.EnzymeRecord, error) {
	query, args, err := sqlq.New(e.dialect).
		Select(enzymeColumns...).
		From("enzymes e").
		Join(joinMembershipInner).
		Eq(colFamily, family).
		OrderBy(sqlq.NullsFirstDesc(colFamilyIdentity)...).
		OrderBy("e.enzyme_id ASC").
		Build()
	if err != nil {
		return nil, fmt.Errorf("build family members: %w", err)
	}
	rows, err := e.queryEnzymes(ctx, "list family members", query, args)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, domain.ErrNotFound{Entity: domain.EntityFamily, Key: strconv.FormatInt(family, 10)}
	}
	return rows, nil
}

// GetComponentMembers lists every classified enzyme of a component grouped
// by family, each family centroid-first.
func (e *Engine) GetComponentMembers(ctx context.Context, component int64) ([]domain.EnzymeRecord, error) {
	query, args, err := sqlq.New(e.dialect).
		Select(enzymeColumns...).
		From("enzymes e").
		Join(joinMembershipInner).
		Eq(colComponent, component).
		OrderBy(colFamily+" ASC").
		OrderBy(sqlq.NullsFirstDesc(colFamilyIdentity)...).
		OrderBy("e.enzyme_id ASC").
		Build()
	if err != nil {
		return nil, fmt.Errorf("build component members: %w", err)
	}
	rows, err := e.queryEnzymes(ctx, "list component members", query, args)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, domain.ErrNotFound{Entity: domain.EntityComponent, Key: strconv.FormatInt(component, 10)}
	}
	return rows, nil
}

// overviewQuery counts each table independently so joined fan-out cannot
// inflate any total.
const overviewQuery = `SELECT
	(SELECT COUNT(*) FROM enzymes),
	(SELECT COUNT(DISTINCT family) FROM family_membership),
	(SELECT COUNT(DISTINCT component) FROM family_membership WHERE component IS NOT NULL),
	(SELECT COUNT(*) FROM variants)`

// OverviewStats returns the catalog cardinalities.
func (e *Engine) OverviewStats(ctx context.Context) (domain.OverviewStats, error) {
	var s domain.OverviewStats
	err := e.db.QueryRowContext(ctx, overviewQuery).Scan(&s.TotalEnzymes, &s.TotalFamilies, &s.TotalComponents, &s.TotalVariants)
	if err != nil {
		return domain.OverviewStats{}, domain.WrapStorage("overview stats", err)
	}
	return s, nil
}

// FamilySummaries lists the families of a component with member counts and
// centroid ids.
func (e *Engine) FamilySummaries(ctx context.Context, component int64) ([]domain.FamilySummary, error) {
	query, args, err := sqlq.New(e.dialect).
		Select(
			colFamily,
			colComponent,
			"COUNT(*)",
			"MIN(CASE WHEN "+colFamilyIdentity+" IS NULL THEN f.enzyme_id END)",
		).
		From("family_membership f").
		Eq(colComponent, component).
		GroupBy(colFamily, colComponent).
		OrderBy(colFamily + " ASC").
		Build()
	if err != nil {
		return nil, fmt.Errorf("build family summaries: %w", err)
	}
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.WrapStorage("family summaries", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.FamilySummary
	for rows.Next() {
		var (
			s        domain.FamilySummary
			centroid sql.NullInt64
		)
		if err := rows.Scan(&s.Family, &s.Component, &s.MemberCount, &centroid); err != nil {
			return nil, domain.WrapStorage("scan family summary", err)
		}
		s.CentroidID = sqlq.Int(centroid)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapStorage("iterate family summaries", err)
	}
	if len(out) == 0 {
		return nil, domain.ErrNotFound{Entity: domain.EntityComponent, Key: strconv.FormatInt(component, 10)}
	}
	return out, nil
}

// CheckCentroids reports every family that does not have exactly one member
// with an absent percent identity. An empty result means the invariant holds.
func (e *Engine) CheckCentroids(ctx context.Context) ([]domain.CentroidViolation, error) {
	centroids := "SUM(CASE WHEN " + colFamilyIdentity + " IS NULL THEN 1 ELSE 0 END)"
	query, args, err := sqlq.New(e.dialect).
		Select(colFamily, centroids, "COUNT(*)").
		From("family_membership f").
		GroupBy(colFamily).
		Having(centroids+" <> ?", 1).
		OrderBy(colFamily + " ASC").
		Build()
	if err != nil {
		return nil, fmt.Errorf("build centroid check: %w", err)
	}
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.WrapStorage("check centroids", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]domain.CentroidViolation, 0)
	for rows.Next() {
		var v domain.CentroidViolation
		if err := rows.Scan(&v.Family, &v.CentroidCount, &v.MemberCount); err != nil {
			return nil, domain.WrapStorage("scan centroid check", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapStorage("iterate centroid check", err)
	}
	return out, nil
}

func (e *Engine) queryEnzymes(ctx context.Context, op, query string, args []any) ([]domain.EnzymeRecord, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.WrapStorage(op, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]domain.EnzymeRecord, 0)
	for rows.Next() {
		rec, err := scanEnzyme(rows)
		if err != nil {
			return nil, domain.WrapStorage(op, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapStorage(op, err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEnzyme(s scanner) (domain.EnzymeRecord, error) {
	var (
		rec       domain.EnzymeRecord
		family    sql.NullInt64
		identity  sql.NullFloat64
		component sql.NullInt64
	)
	if err := s.Scan(&rec.ID, &rec.Accession, &rec.TranslatedSequence, &family, &identity, &component); err != nil {
		return domain.EnzymeRecord{}, fmt.Errorf("scan enzyme: %w", err)
	}
	rec.Family = sqlq.Int(family)
	rec.FamilyPercentIdentity = sqlq.Float(identity)
	rec.Component = sqlq.Int(component)
	return rec, nil
}
