package testutil

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"plasticatlas/internal/infra/persistence/sqlite"
	"plasticatlas/internal/sqlbundle"
	"plasticatlas/pkg/domain"
)

// Catalog is an in-memory SQLite catalog seeded through typed helpers.
type Catalog struct {
	DB *sql.DB
	t  testing.TB
}

// NewCatalog opens an empty catalog and closes it when the test ends. The
// test is skipped when the sqlite driver cannot start.
func NewCatalog(t testing.TB) *Catalog {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, sqlite.MemoryPath, sqlite.Options{})
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := sqlbundle.Apply(ctx, db, sqlbundle.SQLite()); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return &Catalog{DB: db, t: t}
}

func (c *Catalog) exec(query string, args ...any) {
	c.t.Helper()
	if _, err := c.DB.Exec(query, args...); err != nil {
		c.t.Fatalf("seed %q: %v", query, err)
	}
}

// Enzyme inserts an enzyme with a placeholder sequence.
func (c *Catalog) Enzyme(id int64, accession string) *Catalog {
	c.t.Helper()
	c.exec(`INSERT INTO enzymes(enzyme_id, accession, translated_sequence) VALUES (?, ?, ?)`, id, accession, "MKT")
	return c
}

// Member classifies an enzyme. A nil identity marks the family centroid.
func (c *Catalog) Member(enzymeID, family int64, identity *float64, component *int64) *Catalog {
	c.t.Helper()
	c.exec(`INSERT INTO family_membership(enzyme_id, family, family_percent_identity, component) VALUES (?, ?, ?, ?)`,
		enzymeID, family, identity, component)
	return c
}

// Variant inserts a variant clustered under enzymeID.
func (c *Catalog) Variant(id, enzymeID int64, accession string, identity *float64) *Catalog {
	c.t.Helper()
	c.exec(`INSERT INTO variants(variant_id, enzyme_id, accession, enzyme_percent_identity) VALUES (?, ?, ?, ?)`,
		id, enzymeID, accession, identity)
	return c
}

// Well inserts a plate record.
func (c *Catalog) Well(r domain.PlateRecord) *Catalog {
	c.t.Helper()
	c.exec(`INSERT INTO plate_records(gene, plate, well_row, well_column, readout_value, measurement_type, colony_size, normalization_method, date_entered)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Gene, r.Plate, r.Row, r.Column, r.ReadoutValue, r.MeasurementType, r.ColonySize, r.NormalizationMethod, r.DateEntered)
	return c
}

// Metadata inserts a plate metadata row.
func (c *Catalog) Metadata(m domain.PlateMetadata) *Catalog {
	c.t.Helper()
	c.exec(`INSERT INTO plate_metadata(plate, exp_id, exp_description, timepoint_hours, temp_celsius, ph, media, organism, date_created, date_read)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Plate, m.ExpID, m.ExpDescription, m.TimepointHours, m.TempCelsius, m.PH, m.Media, m.Organism, m.DateCreated, m.DateRead)
	return c
}

// Sequence inserts a sequence catalog row.
func (c *Catalog) Sequence(r domain.SequenceRecord) *Catalog {
	c.t.Helper()
	c.exec(`INSERT INTO fastaa(accession, aa_sequence, source, synonyms, date_entered, genotype, genotype_description, synthetic, parent_accessions, parent_genes, in_gene_metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Accession, r.Sequence, r.Source, r.Synonyms, r.DateEntered, r.Genotype, r.GenotypeDescription, r.Synthetic, r.ParentAccessions, r.ParentGenes, r.InGeneMetadata)
	return c
}

// SRAMetadata records SRA/BioSample location metadata for accession.
func (c *Catalog) SRAMetadata(accession, biosample string) *Catalog {
	c.t.Helper()
	c.exec(`INSERT INTO sra_biosample_metadata(accession, biosample) VALUES (?, ?)`, accession, biosample)
	return c
}

// Structure inserts a structure row. PDBURL is ignored.
func (c *Catalog) Structure(s domain.Structure) *Catalog {
	c.t.Helper()
	c.exec(`INSERT INTO pdb_accessions(pdb_id, accession, technique, relaxed, date_created, date_entered, alignment)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.PDBID, s.Accession, s.Technique, s.Relaxed, s.DateCreated, s.DateEntered, s.Alignment)
	return c
}

// F64 returns a pointer to v.
func F64(v float64) *float64 { return &v }

// I64 returns a pointer to v.
func I64(v int64) *int64 { return &v }

// Str returns a pointer to v.
func Str(v string) *string { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

// Time returns a pointer to v.
func Time(v time.Time) *time.Time { return &v }
