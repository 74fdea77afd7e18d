// Package plates reads well-plate measurements and their experimental
// metadata: per-gene averages, raw well listings and activity joins.
package plates

import (
	"context"
	"database/sql"
	"fmt"

	"plasticatlas/internal/sqlq"
	"plasticatlas/pkg/domain"
)

const joinMetadata = "LEFT JOIN plate_metadata m ON m.plate = r.plate"

var recordColumns = []string{
	"r.gene",
	"r.plate",
	"r.well_row",
	"r.well_column",
	"r.readout_value",
	"r.measurement_type",
	"r.colony_size",
	"r.normalization_method",
	"r.date_entered",
}

// metadataColumns are carried unaggregated through every grouping so that
// divergent metadata for one plate yields distinct groups.
var metadataColumns = []string{
	"m.exp_id",
	"m.exp_description",
	"m.timepoint_hours",
	"m.temp_celsius",
	"m.ph",
	"m.media",
	"m.organism",
	"m.date_created",
	"m.date_read",
}

var wellOrder = []string{"r.plate ASC", "r.well_row ASC", "r.well_column ASC"}

// experimentOrder groups an experiment's wells by gene before walking the grid.
var experimentOrder = append([]string{"r.gene ASC"}, wellOrder...)

// Aggregator answers plate queries against an injected row source.
type Aggregator struct {
	db      domain.RowSource
	dialect sqlq.Dialect
}

// NewAggregator constructs an aggregator bound to db.
func NewAggregator(db domain.RowSource, dialect sqlq.Dialect) *Aggregator {
	return &Aggregator{db: db, dialect: dialect}
}

// AverageByGene averages the gene's non-null readouts per plate, measurement
// type and metadata tuple. Groups are ordered by timepoint with unknown
// timepoints first, then by plate.
func (a *Aggregator) AverageByGene(ctx context.Context, gene string) ([]domain.GroupedAverage, error) {
	gene, err := domain.ValidateKey("gene", gene)
	if err != nil {
		return nil, err
	}
	groupBy := append([]string{"r.plate", "r.measurement_type"}, metadataColumns...)
	cols := append(append([]string{}, groupBy...), "AVG(r.readout_value)", "COUNT(r.readout_value)")
	query, args, err := sqlq.New(a.dialect).
		Select(cols...).
		From("plate_records r").
		Join(joinMetadata).
		Eq("r.gene", gene).
		NotNull("r.readout_value").
		GroupBy(groupBy...).
		OrderBy(sqlq.NullsFirstAsc("m.timepoint_hours")...).
		OrderBy("r.plate ASC", "r.measurement_type ASC").
		Build()
	if err != nil {
		return nil, fmt.Errorf("build gene averages: %w", err)
	}
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.WrapStorage("average by gene", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.GroupedAverage
	for rows.Next() {
		var (
			g  domain.GroupedAverage
			md metadataScan
		)
		dest := append([]any{&g.Plate, &g.MeasurementType}, md.dest()...)
		dest = append(dest, &g.AverageReadout, &g.SampleCount)
		if err := rows.Scan(dest...); err != nil {
			return nil, domain.WrapStorage("scan gene average", err)
		}
		md.apply(&g.PlateMetadata)
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapStorage("iterate gene averages", err)
	}
	if len(out) == 0 {
		return nil, domain.ErrNotFound{Entity: domain.EntityGene, Key: gene}
	}
	return out, nil
}

// ListByGene returns the gene's raw well records in plate, row, column order.
func (a *Aggregator) ListByGene(ctx context.Context, gene string) ([]domain.PlateRecord, error) {
	gene, err := domain.ValidateKey("gene", gene)
	if err != nil {
		return nil, err
	}
	query, args, err := sqlq.New(a.dialect).
		Select(recordColumns...).
		From("plate_records r").
		Eq("r.gene", gene).
		OrderBy(wellOrder...).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build gene records: %w", err)
	}
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.WrapStorage("list by gene", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.PlateRecord
	for rows.Next() {
		var rs recordScan
		if err := rows.Scan(rs.dest()...); err != nil {
			return nil, domain.WrapStorage("scan plate record", err)
		}
		out = append(out, rs.record())
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapStorage("iterate plate records", err)
	}
	if len(out) == 0 {
		return nil, domain.ErrNotFound{Entity: domain.EntityGene, Key: gene}
	}
	return out, nil
}

// ActivityByGene joins the gene's well records to their plate metadata.
func (a *Aggregator) ActivityByGene(ctx context.Context, gene string) ([]domain.ActivityRow, error) {
	gene, err := domain.ValidateKey("gene", gene)
	if err != nil {
		return nil, err
	}
	rows, err := a.activity(ctx, "r.gene", gene, wellOrder)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, domain.ErrNotFound{Entity: domain.EntityGene, Key: gene}
	}
	return rows, nil
}

// ActivityByExperiment joins every well record of the experiment's plates
// to the experiment metadata, ordered by gene and then by well position.
func (a *Aggregator) ActivityByExperiment(ctx context.Context, expID string) ([]domain.ActivityRow, error) {
	expID, err := domain.ValidateKey("experiment", expID)
	if err != nil {
		return nil, err
	}
	rows, err := a.activity(ctx, "m.exp_id", expID, experimentOrder)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, domain.ErrNotFound{Entity: domain.EntityExperiment, Key: expID}
	}
	return rows, nil
}

func (a *Aggregator) activity(ctx context.Context, col, key string, order []string) ([]domain.ActivityRow, error) {
	cols := append(append([]string{}, recordColumns...), metadataColumns...)
	query, args, err := sqlq.New(a.dialect).
		Select(cols...).
		From("plate_records r").
		Join(joinMetadata).
		Eq(col, key).
		OrderBy(order...).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build activity: %w", err)
	}
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.WrapStorage("activity", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.ActivityRow
	for rows.Next() {
		var (
			rs recordScan
			md metadataScan
		)
		if err := rows.Scan(append(rs.dest(), md.dest()...)...); err != nil {
			return nil, domain.WrapStorage("scan activity", err)
		}
		var meta domain.PlateMetadata
		md.apply(&meta)
		out = append(out, domain.ActivityRow{
			PlateRecord:    rs.record(),
			ExpID:          meta.ExpID,
			ExpDescription: meta.ExpDescription,
			TimepointHours: meta.TimepointHours,
			TempCelsius:    meta.TempCelsius,
			PH:             meta.PH,
			Media:          meta.Media,
			Organism:       meta.Organism,
			DateCreated:    meta.DateCreated,
			DateRead:       meta.DateRead,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapStorage("iterate activity", err)
	}
	return out, nil
}

// MetadataConflict names a plate and measurement type whose wells split into
// more than one metadata group.
type MetadataConflict struct {
	Plate           string `json:"plate"`
	MeasurementType string `json:"measurement_type"`
	Groups          int    `json:"groups"`
}

// MetadataConflicts reports the (plate, measurement type) keys that appear in
// more than one group, in first-seen order.
func MetadataConflicts(groups []domain.GroupedAverage) []MetadataConflict {
	type key struct{ plate, measurement string }
	counts := make(map[key]int, len(groups))
	var order []key
	for _, g := range groups {
		k := key{g.Plate, g.MeasurementType}
		if counts[k] == 0 {
			order = append(order, k)
		}
		counts[k]++
	}
	var out []MetadataConflict
	for _, k := range order {
		if n := counts[k]; n > 1 {
			out = append(out, MetadataConflict{Plate: k.plate, MeasurementType: k.measurement, Groups: n})
		}
	}
	return out
}

type recordScan struct {
	gene, plate, row, measurement string
	column                        int64
	readout, colony               sql.NullFloat64
	normalization                 sql.NullString
	entered                       sql.NullTime
}

func (s *recordScan) dest() []any {
	return []any{&s.gene, &s.plate, &s.row, &s.column, &s.readout, &s.measurement, &s.colony, &s.normalization, &s.entered}
}

func (s *recordScan) record() domain.PlateRecord {
	return domain.PlateRecord{
		Gene:                s.gene,
		Plate:               s.plate,
		Row:                 s.row,
		Column:              s.column,
		ReadoutValue:        sqlq.Float(s.readout),
		MeasurementType:     s.measurement,
		ColonySize:          sqlq.Float(s.colony),
		NormalizationMethod: sqlq.String(s.normalization),
		DateEntered:         sqlq.Time(s.entered),
	}
}

type metadataScan struct {
	expID, description, media, organism sql.NullString
	timepoint, temp, ph                 sql.NullFloat64
	created, read                       sql.NullTime
}

func (s *metadataScan) dest() []any {
	return []any{&s.expID, &s.description, &s.timepoint, &s.temp, &s.ph, &s.media, &s.organism, &s.created, &s.read}
}

// apply fills every metadata field except Plate.
func (s *metadataScan) apply(m *domain.PlateMetadata) {
	m.ExpID = sqlq.String(s.expID)
	m.ExpDescription = sqlq.String(s.description)
	m.TimepointHours = sqlq.Float(s.timepoint)
	m.TempCelsius = sqlq.Float(s.temp)
	m.PH = sqlq.Float(s.ph)
	m.Media = sqlq.String(s.media)
	m.Organism = sqlq.String(s.organism)
	m.DateCreated = sqlq.Time(s.created)
	m.DateRead = sqlq.Time(s.read)
}
