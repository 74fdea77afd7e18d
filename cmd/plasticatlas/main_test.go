package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"plasticatlas/internal/infra/persistence/sqlite"
	"plasticatlas/internal/sqlbundle"
	"plasticatlas/pkg/domain"
)

// seedCatalogFile writes a small catalog to a sqlite file and points the
// loader at it through the environment.
func seedCatalogFile(t *testing.T, extra ...string) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.db")
	db, err := sqlite.Open(ctx, path, sqlite.Options{})
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	defer db.Close()
	if err := sqlbundle.Apply(ctx, db, sqlbundle.SQLite()); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	stmts := append([]string{
		`INSERT INTO enzymes(enzyme_id, accession, translated_sequence) VALUES (1, 'ACC1', 'MKT'), (2, 'ACC2', 'MKV'), (3, 'ACC3', 'MKL')`,
		`INSERT INTO family_membership(enzyme_id, family, family_percent_identity, component) VALUES (1, 10, NULL, 1), (2, 10, 91.5, 1)`,
		`INSERT INTO variants(variant_id, enzyme_id, accession, enzyme_percent_identity) VALUES (100, 1, 'VAR100', 97)`,
		`INSERT INTO plate_records(gene, plate, well_row, well_column, readout_value, measurement_type) VALUES
			('PETase', 'P1', 'A', 1, 0.4, 'OD600'), ('PETase', 'P1', 'A', 2, 0.6, 'OD600')`,
		`INSERT INTO plate_metadata(plate, exp_id) VALUES ('P1', 'EXP-1')`,
	}, extra...)
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("seed %q: %v", stmt, err)
		}
	}
	useCatalog(t, path)
	return path
}

func useCatalog(t *testing.T, path string) {
	t.Helper()
	t.Setenv("PLASTICATLAS_STORAGE_DRIVER", "sqlite")
	t.Setenv("PLASTICATLAS_STORAGE_SQLITE_PATH", path)
	t.Setenv("PLASTICATLAS_BLOB_DRIVER", "memory")
	t.Setenv("PLASTICATLAS_LOG_LEVEL", "error")
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStatsCommand(t *testing.T) {
	seedCatalogFile(t)
	out, err := run(t, "", "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	var stats domain.OverviewStats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if stats != (domain.OverviewStats{TotalEnzymes: 3, TotalFamilies: 1, TotalComponents: 1, TotalVariants: 1}) {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestEnzymeCommands(t *testing.T) {
	seedCatalogFile(t)

	out, err := run(t, "", "enzyme", "get", "ACC2")
	if err != nil || !strings.Contains(out, `"family_percent_identity": 91.5`) {
		t.Fatalf("get: %v\n%s", err, out)
	}

	_, err = run(t, "", "enzyme", "get", "99")
	if !domain.IsNotFound(err) || exitCode(err) != 3 {
		t.Fatalf("expected not found with exit 3, got %v", err)
	}

	out, err = run(t, "", "enzyme", "list", "--has-component=false")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var page domain.EnzymePage
	if err := json.Unmarshal([]byte(out), &page); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(page.Rows) != 1 || page.Rows[0].ID != 3 || page.Pagination.Total != 1 {
		t.Fatalf("unexpected page %+v", page)
	}

	out, err = run(t, "", "enzyme", "component", "1", "--summary")
	if err != nil || !strings.Contains(out, `"member_count": 2`) || !strings.Contains(out, `"centroid_enzyme_id": 1`) {
		t.Fatalf("component summary: %v\n%s", err, out)
	}

	out, err = run(t, "", "enzyme", "family", "10")
	if err != nil || strings.Index(out, `"ACC1"`) > strings.Index(out, `"ACC2"`) {
		t.Fatalf("expected centroid first: %v\n%s", err, out)
	}

	_, err = run(t, "", "enzyme", "variants", "abc")
	if !domain.IsValidation(err) || exitCode(err) != 2 {
		t.Fatalf("expected validation error with exit 2, got %v", err)
	}

	_, err = run(t, "", "enzyme", "family", "0")
	if !domain.IsValidation(err) {
		t.Fatalf("expected zero id to be rejected, got %v", err)
	}
}

func TestEnzymeGetByNumericAccession(t *testing.T) {
	seedCatalogFile(t, `INSERT INTO enzymes(enzyme_id, accession, translated_sequence) VALUES (4, '2', 'MKA')`)

	out, err := run(t, "", "enzyme", "get", "2")
	if err != nil || !strings.Contains(out, `"accession": "ACC2"`) {
		t.Fatalf("get by id: %v\n%s", err, out)
	}
	out, err = run(t, "", "enzyme", "get", "--accession", "2")
	if err != nil || !strings.Contains(out, `"enzyme_id": 4`) {
		t.Fatalf("get by accession: %v\n%s", err, out)
	}
}

func TestSequenceAndStructureCommands(t *testing.T) {
	seedCatalogFile(t,
		`INSERT INTO fastaa(accession, aa_sequence, synthetic) VALUES ('WP_0002.1', 'MKV', 0), ('WP_0001.1', 'MKT', 1)`,
		`INSERT INTO pdb_accessions(pdb_id, accession, date_created) VALUES
			('AF-OLD', 'WP_0001.1', '2024-03-01 00:00:00'), ('AF-NEW', 'WP_0001.1', '2024-03-09 00:00:00')`,
	)
	t.Setenv("PLASTICATLAS_STRUCTURES_BASE_URL", "https://structures.example.org")

	out, err := run(t, "", "sequence", "list")
	if err != nil || strings.Index(out, "WP_0001.1") > strings.Index(out, "WP_0002.1") {
		t.Fatalf("sequence list: %v\n%s", err, out)
	}
	_, err = run(t, "", "sequence", "get", "WP_0009.1")
	if !domain.IsNotFound(err) || exitCode(err) != 3 {
		t.Fatalf("expected not found with exit 3, got %v", err)
	}

	out, err = run(t, "", "structure", "latest", "WP_0001.1")
	if err != nil {
		t.Fatalf("structure latest: %v", err)
	}
	var latest domain.Structure
	if err := json.Unmarshal([]byte(out), &latest); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if latest.PDBID != "AF-NEW" || latest.PDBURL != "https://structures.example.org/AF-NEW.pdb" {
		t.Fatalf("unexpected structure %+v", latest)
	}

	out, err = run(t, "", "structure", "get", "AF-OLD")
	if err != nil || !strings.Contains(out, `"accession": "WP_0001.1"`) {
		t.Fatalf("structure get: %v\n%s", err, out)
	}
}

func TestPlatesAndFeatures(t *testing.T) {
	seedCatalogFile(t)

	out, err := run(t, "", "plates", "averages", "PETase")
	if err != nil || !strings.Contains(out, `"average_readout": 0.5`) || !strings.Contains(out, `"sample_count": 2`) {
		t.Fatalf("averages: %v\n%s", err, out)
	}
	if _, err := run(t, "", "plates", "activity-experiment", "EXP-2"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	out, err = run(t, `{"mass":[100,150,200],"pI":[6,7,6.5],"hydropathy":[0.8,0.2,1.1],"sequenceLength":3}`, "features")
	if err != nil {
		t.Fatalf("features: %v", err)
	}
	var fs featureStats
	if err := json.Unmarshal([]byte(out), &fs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fs.Formatted != (domain.FormattedStats{TotalMass: "450.00", AvgPI: "6.50", PercentHydrophobic: "66.7"}) {
		t.Fatalf("unexpected formatted stats %+v", fs.Formatted)
	}
	if _, err := run(t, "not json", "features"); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExportCommand(t *testing.T) {
	seedCatalogFile(t)

	out, err := run(t, "", "export", "plate_records", "PETase", "--format", "csv")
	if err != nil {
		t.Fatalf("export: %v\n%s", err, out)
	}
	if !strings.Contains(out, `"status": "succeeded"`) || !strings.Contains(out, "plate_records.csv") {
		t.Fatalf("unexpected export output %s", out)
	}

	out, err = run(t, "", "export", "plate_averages", "NoSuchGene")
	if err == nil || !strings.Contains(err.Error(), "gene NoSuchGene not found") || !strings.Contains(out, `"status": "failed"`) {
		t.Fatalf("expected failed report, got %v\n%s", err, out)
	}

	if _, err := run(t, "", "export", "heatmap", "PETase"); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDoctorCommand(t *testing.T) {
	seedCatalogFile(t)
	out, err := run(t, "", "doctor")
	if err != nil || !strings.HasPrefix(out, "ok:") {
		t.Fatalf("doctor on clean catalog: %v\n%s", err, out)
	}

	seedCatalogFile(t,
		`INSERT INTO enzymes(enzyme_id, accession, translated_sequence) VALUES (4, 'ACC4', 'M'), (5, 'ACC5', 'M')`,
		`INSERT INTO family_membership(enzyme_id, family, family_percent_identity, component) VALUES (4, 20, NULL, NULL), (5, 20, NULL, NULL)`,
	)
	out, err = run(t, "", "doctor")
	if !errors.Is(err, errCentroidViolations) || exitCode(err) != 4 {
		t.Fatalf("expected centroid violation, got %v", err)
	}
	if !strings.Contains(out, `"family": 20`) || !strings.Contains(out, `"centroid_count": 2`) {
		t.Fatalf("unexpected doctor output %s", out)
	}
}

func TestSchemaCommand(t *testing.T) {
	out, err := run(t, "", "schema", "--dialect", "postgres")
	if err != nil || !strings.Contains(out, "CREATE TABLE IF NOT EXISTS enzymes") {
		t.Fatalf("schema: %v\n%s", err, out)
	}
	if _, err := run(t, "", "schema", "--dialect", "mysql"); err == nil {
		t.Fatalf("expected unknown dialect error")
	}

	path := filepath.Join(t.TempDir(), "fresh", "catalog.db")
	useCatalog(t, path)
	if _, err := run(t, "", "schema", "--apply"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	out, err = run(t, "", "stats")
	if err != nil || !strings.Contains(out, `"totalEnzymes": 0`) {
		t.Fatalf("stats on fresh catalog: %v\n%s", err, out)
	}
}

func TestConfigErrorsSurface(t *testing.T) {
	t.Setenv("PLASTICATLAS_STORAGE_DRIVER", "oracle")
	if _, err := run(t, "", "stats"); err == nil || !strings.Contains(err.Error(), "unknown storage driver") {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestVersionAndExitCodes(t *testing.T) {
	out, err := run(t, "", "version")
	if err != nil || !strings.HasPrefix(out, "plasticatlas version ") {
		t.Fatalf("version: %v %q", err, out)
	}
	cases := []struct {
		err  error
		code int
	}{
		{domain.ValidationError{Field: "x", Reason: "y"}, 2},
		{fmt.Errorf("wrapped: %w", domain.ErrNotFound{Entity: domain.EntityGene, Key: "g"}), 3},
		{fmt.Errorf("3 %w", errCentroidViolations), 4},
		{errors.New("boom"), 1},
	}
	for _, tc := range cases {
		if got := exitCode(tc.err); got != tc.code {
			t.Fatalf("exitCode(%v) = %d, want %d", tc.err, got, tc.code)
		}
	}
}
