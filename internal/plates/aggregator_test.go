package plates

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"plasticatlas/internal/sqlq"
	"plasticatlas/pkg/domain"
	"plasticatlas/testutil"
)

func well(gene, plate, row string, col int64, readout *float64) domain.PlateRecord {
	return domain.PlateRecord{Gene: gene, Plate: plate, Row: row, Column: col, ReadoutValue: readout, MeasurementType: "OD600"}
}

func TestAverageByGeneExcludesNullReadouts(t *testing.T) {
	c := testutil.NewCatalog(t)
	c.Well(well("PETase", "P1", "A", 1, testutil.F64(10))).
		Well(well("PETase", "P1", "A", 2, testutil.F64(20))).
		Well(well("PETase", "P1", "A", 3, nil))
	c.Metadata(domain.PlateMetadata{Plate: "P1", ExpID: testutil.Str("EXP-1"), TimepointHours: testutil.F64(24)})

	groups, err := NewAggregator(c.DB, sqlq.SQLite).AverageByGene(context.Background(), "PETase")
	if err != nil {
		t.Fatalf("AverageByGene: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("expected one group, got %+v", groups)
	}
	g := groups[0]
	if g.AverageReadout != 15 || g.SampleCount != 2 {
		t.Fatalf("expected average 15 over 2 samples, got %v over %d", g.AverageReadout, g.SampleCount)
	}
	if g.Plate != "P1" || g.MeasurementType != "OD600" || g.ExpID == nil || *g.ExpID != "EXP-1" || *g.TimepointHours != 24 {
		t.Fatalf("grouping columns not carried: %+v", g)
	}
}

func TestAverageByGeneOrdersAbsentTimepointFirst(t *testing.T) {
	c := testutil.NewCatalog(t)
	c.Well(well("MHETase", "P2", "A", 1, testutil.F64(1))).
		Well(well("MHETase", "P3", "A", 1, testutil.F64(2))).
		Well(well("MHETase", "P4", "A", 1, testutil.F64(3))).
		Well(well("MHETase", "P5", "A", 1, testutil.F64(4)))
	c.Metadata(domain.PlateMetadata{Plate: "P2", TimepointHours: testutil.F64(48)}).
		Metadata(domain.PlateMetadata{Plate: "P3", TimepointHours: testutil.F64(12)}).
		Metadata(domain.PlateMetadata{Plate: "P5", TimepointHours: testutil.F64(12)})

	groups, err := NewAggregator(c.DB, sqlq.SQLite).AverageByGene(context.Background(), "MHETase")
	if err != nil {
		t.Fatalf("AverageByGene: %v", err)
	}
	var plates []string
	for _, g := range groups {
		plates = append(plates, g.Plate)
	}
	if got := strings.Join(plates, ","); got != "P4,P3,P5,P2" {
		t.Fatalf("unexpected group order %s", got)
	}
	if groups[0].TimepointHours != nil {
		t.Fatalf("plate without metadata must carry absent timepoint")
	}
}

func TestAverageByGeneKeepsDivergentMetadataSeparate(t *testing.T) {
	c := testutil.NewCatalog(t)
	c.Well(well("LCC", "P1", "A", 1, testutil.F64(8))).
		Well(well("LCC", "P1", "A", 2, testutil.F64(12)))
	c.Metadata(domain.PlateMetadata{Plate: "P1", TimepointHours: testutil.F64(24), Media: testutil.Str("LB")}).
		Metadata(domain.PlateMetadata{Plate: "P1", TimepointHours: testutil.F64(24), Media: testutil.Str("M9")})

	groups, err := NewAggregator(c.DB, sqlq.SQLite).AverageByGene(context.Background(), "LCC")
	if err != nil {
		t.Fatalf("AverageByGene: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected divergent metadata to stay separate, got %+v", groups)
	}
	for _, g := range groups {
		if g.AverageReadout != 10 || g.SampleCount != 2 {
			t.Fatalf("unexpected group %+v", g)
		}
	}
	conflicts := MetadataConflicts(groups)
	if len(conflicts) != 1 || conflicts[0] != (MetadataConflict{Plate: "P1", MeasurementType: "OD600", Groups: 2}) {
		t.Fatalf("unexpected conflicts %+v", conflicts)
	}
}

func TestAverageByGeneNotFound(t *testing.T) {
	c := testutil.NewCatalog(t)
	c.Well(well("Cutinase", "P1", "A", 1, nil))
	agg := NewAggregator(c.DB, sqlq.SQLite)

	_, err := agg.AverageByGene(context.Background(), "Cutinase")
	var nf domain.ErrNotFound
	if !errors.As(err, &nf) || nf.Entity != domain.EntityGene || nf.Key != "Cutinase" {
		t.Fatalf("expected gene not found when only null readouts exist, got %v", err)
	}
	if _, err := agg.AverageByGene(context.Background(), "  "); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListByGeneWellOrder(t *testing.T) {
	c := testutil.NewCatalog(t)
	c.Well(well("PETase", "P2", "A", 1, testutil.F64(1))).
		Well(well("PETase", "P1", "B", 1, testutil.F64(2))).
		Well(well("PETase", "P1", "A", 10, nil)).
		Well(well("PETase", "P1", "A", 2, testutil.F64(4))).
		Well(well("Other", "P1", "A", 1, testutil.F64(5)))

	records, err := NewAggregator(c.DB, sqlq.SQLite).ListByGene(context.Background(), "PETase")
	if err != nil {
		t.Fatalf("ListByGene: %v", err)
	}
	var got []string
	for _, r := range records {
		got = append(got, r.Plate+r.Row+strings.Repeat("*", int(r.Column)))
	}
	want := []string{"P1A**", "P1A**********", "P1B*", "P2A*"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("unexpected order %v", got)
	}
	if records[1].ReadoutValue != nil {
		t.Fatalf("raw listing must keep null readouts")
	}
	if _, err := NewAggregator(c.DB, sqlq.SQLite).ListByGene(context.Background(), "missing"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestActivityJoinsMetadata(t *testing.T) {
	c := testutil.NewCatalog(t)
	c.Well(well("PETase", "P1", "A", 1, testutil.F64(3))).
		Well(well("PETase", "P9", "A", 1, testutil.F64(4))).
		Well(well("MHETase", "P1", "B", 1, testutil.F64(5)))
	c.Metadata(domain.PlateMetadata{Plate: "P1", ExpID: testutil.Str("EXP-7"), Organism: testutil.Str("E. coli"), PH: testutil.F64(7.5)})
	agg := NewAggregator(c.DB, sqlq.SQLite)
	ctx := context.Background()

	byGene, err := agg.ActivityByGene(ctx, "PETase")
	if err != nil {
		t.Fatalf("ActivityByGene: %v", err)
	}
	if len(byGene) != 2 {
		t.Fatalf("expected two rows, got %+v", byGene)
	}
	if byGene[0].ExpID == nil || *byGene[0].ExpID != "EXP-7" || *byGene[0].PH != 7.5 {
		t.Fatalf("metadata not joined: %+v", byGene[0])
	}
	if byGene[1].Plate != "P9" || byGene[1].ExpID != nil || byGene[1].Organism != nil {
		t.Fatalf("plate without metadata must carry absent columns: %+v", byGene[1])
	}

	byExp, err := agg.ActivityByExperiment(ctx, "EXP-7")
	if err != nil {
		t.Fatalf("ActivityByExperiment: %v", err)
	}
	if len(byExp) != 2 || byExp[0].Gene != "MHETase" || byExp[1].Gene != "PETase" {
		t.Fatalf("unexpected experiment rows %+v", byExp)
	}

	_, err = agg.ActivityByExperiment(ctx, "EXP-0")
	var nf domain.ErrNotFound
	if !errors.As(err, &nf) || nf.Entity != domain.EntityExperiment {
		t.Fatalf("expected experiment not found, got %v", err)
	}
}

func TestActivityByExperimentGroupsByGeneBeforePlate(t *testing.T) {
	c := testutil.NewCatalog(t)
	c.Well(well("ZGene", "P1", "A", 1, testutil.F64(1))).
		Well(well("AGene", "P2", "B", 2, testutil.F64(2))).
		Well(well("AGene", "P2", "A", 1, testutil.F64(3)))
	c.Metadata(domain.PlateMetadata{Plate: "P1", ExpID: testutil.Str("EXP")}).
		Metadata(domain.PlateMetadata{Plate: "P2", ExpID: testutil.Str("EXP")})

	rows, err := NewAggregator(c.DB, sqlq.SQLite).ActivityByExperiment(context.Background(), "EXP")
	if err != nil {
		t.Fatalf("ActivityByExperiment: %v", err)
	}
	var got []string
	for _, r := range rows {
		got = append(got, r.Gene+"/"+r.Plate+"/"+r.Row)
	}
	if strings.Join(got, ",") != "AGene/P2/A,AGene/P2/B,ZGene/P1/A" {
		t.Fatalf("unexpected experiment order %v", got)
	}
}

func TestActivityOrderingPerKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()
	agg := NewAggregator(db, sqlq.Postgres)

	mock.ExpectQuery(`WHERE m\.exp_id = \$1 ORDER BY r\.gene ASC, r\.plate ASC, r\.well_row ASC, r\.well_column ASC$`).
		WithArgs("EXP").
		WillReturnRows(sqlmock.NewRows(nil))
	if _, err := agg.ActivityByExperiment(context.Background(), "EXP"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	mock.ExpectQuery(`WHERE r\.gene = \$1 ORDER BY r\.plate ASC, r\.well_row ASC, r\.well_column ASC$`).
		WithArgs("PETase").
		WillReturnRows(sqlmock.NewRows(nil))
	if _, err := agg.ActivityByGene(context.Background(), "PETase"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAverageByGenePostgresBindsGene(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	hostile := "x' OR '1'='1"
	mock.ExpectQuery(`WHERE r\.gene = \$1 AND r\.readout_value IS NOT NULL GROUP BY r\.plate, r\.measurement_type, m\.exp_id`).
		WithArgs(hostile).
		WillReturnRows(sqlmock.NewRows([]string{"plate"}))

	_, err = NewAggregator(db, sqlq.Postgres).AverageByGene(context.Background(), hostile)
	if !domain.IsNotFound(err) {
		t.Fatalf("expected not found for empty result, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStorageFailurePropagates(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	boom := errors.New("disk I/O error")
	mock.ExpectQuery(".*").WillReturnError(boom)
	_, err = NewAggregator(db, sqlq.SQLite).ActivityByGene(context.Background(), "PETase")
	if !domain.IsStorage(err) || !errors.Is(err, boom) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestMetadataConflictsNoneForDistinctKeys(t *testing.T) {
	groups := []domain.GroupedAverage{
		{PlateMetadata: domain.PlateMetadata{Plate: "P1"}, MeasurementType: "OD600"},
		{PlateMetadata: domain.PlateMetadata{Plate: "P1"}, MeasurementType: "GFP"},
		{PlateMetadata: domain.PlateMetadata{Plate: "P2"}, MeasurementType: "OD600"},
	}
	if got := MetadataConflicts(groups); len(got) != 0 {
		t.Fatalf("expected no conflicts, got %+v", got)
	}
}
