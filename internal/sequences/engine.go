// Package sequences serves the amino-acid sequence catalog and the protein
// structures recorded against accessions.
package sequences

import (
	"context"
	"database/sql"
	"fmt"

	"plasticatlas/internal/sqlq"
	"plasticatlas/pkg/domain"
)

const colSRAMetadata = "EXISTS (SELECT 1 FROM sra_biosample_metadata s WHERE s.accession = f.accession) AS in_sra_metadata"

var sequenceColumns = []string{
	"f.accession",
	"f.aa_sequence",
	"f.source",
	"f.synonyms",
	"f.date_entered",
	"f.genotype",
	"f.genotype_description",
	"f.synthetic",
	"f.parent_accessions",
	"f.parent_genes",
	"f.in_gene_metadata",
	colSRAMetadata,
}

var structureColumns = []string{
	"p.pdb_id",
	"p.accession",
	"p.technique",
	"p.relaxed",
	"p.date_created",
	"p.date_entered",
	"p.alignment",
}

// LinkResolver produces a download URL for a structure file.
type LinkResolver interface {
	StructureURL(ctx context.Context, pdbID string) (string, error)
}

// Engine answers sequence and structure queries against an injected row source.
type Engine struct {
	db      domain.RowSource
	dialect sqlq.Dialect
	links   LinkResolver
}

// Option configures an Engine.
type Option func(*Engine)

// WithLinks sets the resolver that fills Structure.PDBURL.
func WithLinks(r LinkResolver) Option {
	return func(e *Engine) { e.links = r }
}

// NewEngine constructs an engine bound to db.
func NewEngine(db domain.RowSource, dialect sqlq.Dialect, opts ...Option) *Engine {
	e := &Engine{db: db, dialect: dialect}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ListSequences returns the whole sequence catalog ordered by accession. An
// empty catalog is a valid result.
func (e *Engine) ListSequences(ctx context.Context) ([]domain.SequenceRecord, error) {
	query, args, err := sqlq.New(e.dialect).
		Select(sequenceColumns...).
		From("fastaa f").
		OrderBy("f.accession ASC").
		Build()
	if err != nil {
		return nil, fmt.Errorf("build sequence listing: %w", err)
	}
	return e.querySequences(ctx, "list sequences", query, args)
}

// GetSequence looks one sequence up by accession.
func (e *Engine) GetSequence(ctx context.Context, accession string) (domain.SequenceRecord, error) {
	accession, err := domain.ValidateKey("accession", accession)
	if err != nil {
		return domain.SequenceRecord{}, err
	}
	query, args, err := sqlq.New(e.dialect).
		Select(sequenceColumns...).
		From("fastaa f").
		Eq("f.accession", accession).
		Build()
	if err != nil {
		return domain.SequenceRecord{}, fmt.Errorf("build sequence lookup: %w", err)
	}
	rows, err := e.querySequences(ctx, "get sequence", query, args)
	if err != nil {
		return domain.SequenceRecord{}, err
	}
	if len(rows) == 0 {
		return domain.SequenceRecord{}, domain.ErrNotFound{Entity: domain.EntitySequence, Key: accession}
	}
	return rows[0], nil
}

// StructureByAccession returns the most recently created structure recorded
// for accession. Structures without a creation date rank last.
func (e *Engine) StructureByAccession(ctx context.Context, accession string) (domain.Structure, error) {
	accession, err := domain.ValidateKey("accession", accession)
	if err != nil {
		return domain.Structure{}, err
	}
	query, args, err := sqlq.New(e.dialect).
		Select(structureColumns...).
		From("pdb_accessions p").
		Eq("p.accession", accession).
		OrderBy(sqlq.NullsLastDesc("p.date_created")...).
		OrderBy("p.pdb_id ASC").
		Limit(1).
		Build()
	if err != nil {
		return domain.Structure{}, fmt.Errorf("build structure lookup: %w", err)
	}
	return e.structure(ctx, "structure by accession", query, args, accession)
}

// StructureByID returns the structure with the given PDB identifier.
func (e *Engine) StructureByID(ctx context.Context, pdbID string) (domain.Structure, error) {
	pdbID, err := domain.ValidateKey("pdb_id", pdbID)
	if err != nil {
		return domain.Structure{}, err
	}
	query, args, err := sqlq.New(e.dialect).
		Select(structureColumns...).
		From("pdb_accessions p").
		Eq("p.pdb_id", pdbID).
		Build()
	if err != nil {
		return domain.Structure{}, fmt.Errorf("build structure lookup: %w", err)
	}
	return e.structure(ctx, "structure by id", query, args, pdbID)
}

func (e *Engine) structure(ctx context.Context, op, query string, args []any, key string) (domain.Structure, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.Structure{}, domain.WrapStorage(op, err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return domain.Structure{}, domain.WrapStorage(op, err)
		}
		return domain.Structure{}, domain.ErrNotFound{Entity: domain.EntityStructure, Key: key}
	}
	var (
		s                        domain.Structure
		technique, alignment     sql.NullString
		relaxed                  sql.NullBool
		dateCreated, dateEntered sql.NullTime
	)
	if err := rows.Scan(&s.PDBID, &s.Accession, &technique, &relaxed, &dateCreated, &dateEntered, &alignment); err != nil {
		return domain.Structure{}, domain.WrapStorage(op, fmt.Errorf("scan structure: %w", err))
	}
	s.Technique = sqlq.String(technique)
	s.Relaxed = sqlq.Bool(relaxed)
	s.DateCreated = sqlq.Time(dateCreated)
	s.DateEntered = sqlq.Time(dateEntered)
	s.Alignment = sqlq.String(alignment)

	if e.links != nil {
		url, err := e.links.StructureURL(ctx, s.PDBID)
		if err != nil {
			return domain.Structure{}, domain.WrapStorage("structure link", err)
		}
		s.PDBURL = url
	}
	return s, nil
}

func (e *Engine) querySequences(ctx context.Context, op, query string, args []any) ([]domain.SequenceRecord, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.WrapStorage(op, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]domain.SequenceRecord, 0)
	for rows.Next() {
		var (
			rec                                  domain.SequenceRecord
			source, synonyms, genotype, genoDesc sql.NullString
			parentAccessions, parentGenes        sql.NullString
			synthetic, inGeneMetadata            sql.NullBool
			entered                              sql.NullTime
		)
		if err := rows.Scan(&rec.Accession, &rec.Sequence, &source, &synonyms, &entered, &genotype, &genoDesc,
			&synthetic, &parentAccessions, &parentGenes, &inGeneMetadata, &rec.InSRAMetadata); err != nil {
			return nil, domain.WrapStorage(op, fmt.Errorf("scan sequence: %w", err))
		}
		rec.Source = sqlq.String(source)
		rec.Synonyms = sqlq.String(synonyms)
		rec.DateEntered = sqlq.Time(entered)
		rec.Genotype = sqlq.String(genotype)
		rec.GenotypeDescription = sqlq.String(genoDesc)
		rec.Synthetic = sqlq.Bool(synthetic)
		rec.ParentAccessions = sqlq.String(parentAccessions)
		rec.ParentGenes = sqlq.String(parentGenes)
		rec.InGeneMetadata = sqlq.Bool(inGeneMetadata)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapStorage(op, err)
	}
	return out, nil
}
