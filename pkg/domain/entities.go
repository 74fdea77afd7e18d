// Package domain defines the catalog records, query value types and error
// kinds shared by the plasticatlas taxonomy, plate and feature components.
package domain

import (
	"strconv"
	"time"
)

// EntityType identifies the kind of record a lookup addresses.
type EntityType string

// Entity identifiers used in NotFound errors and report metadata.
const (
	EntityEnzyme     EntityType = "enzyme"
	EntityFamily     EntityType = "family"
	EntityComponent  EntityType = "component"
	EntityVariant    EntityType = "variant"
	EntityGene       EntityType = "gene"
	EntityExperiment EntityType = "experiment"
	EntitySequence   EntityType = "sequence"
	EntityStructure  EntityType = "structure"
)

// Enzyme is the immutable reference record for a catalogued sequence.
type Enzyme struct {
	ID                 int64  `json:"enzyme_id"`
	Accession          string `json:"accession"`
	TranslatedSequence string `json:"translated_sequence"`
}

// FamilyMembership classifies an enzyme into a family and, optionally, a
// component. A nil PercentIdentity marks the family centroid.
type FamilyMembership struct {
	Family          int64    `json:"family"`
	PercentIdentity *float64 `json:"family_percent_identity"`
	Component       *int64   `json:"component"`
}

// IsCentroid reports whether the membership denotes the family's reference sequence.
func (m FamilyMembership) IsCentroid() bool { return m.PercentIdentity == nil }

// EnzymeRecord is an enzyme joined with its classification columns. The
// classification fields are all nil for unclassified enzymes.
type EnzymeRecord struct {
	Enzyme
	Family                *int64   `json:"family"`
	FamilyPercentIdentity *float64 `json:"family_percent_identity"`
	Component             *int64   `json:"component"`
}

// Membership returns the classification when present.
func (r EnzymeRecord) Membership() (FamilyMembership, bool) {
	if r.Family == nil {
		return FamilyMembership{}, false
	}
	return FamilyMembership{
		Family:          *r.Family,
		PercentIdentity: r.FamilyPercentIdentity,
		Component:       r.Component,
	}, true
}

// VariantRecord is a sequence clustered under a centroid enzyme.
type VariantRecord struct {
	ID                    int64    `json:"variant_id"`
	EnzymeID              int64    `json:"enzyme_id"`
	Accession             string   `json:"accession"`
	EnzymePercentIdentity *float64 `json:"enzyme_percent_identity"`
}

// FamilySummary describes one family within a component.
type FamilySummary struct {
	Family      int64  `json:"family"`
	Component   int64  `json:"component"`
	MemberCount int64  `json:"member_count"`
	CentroidID  *int64 `json:"centroid_enzyme_id"`
}

// CentroidViolation reports a family whose membership does not carry exactly
// one centroid.
type CentroidViolation struct {
	Family        int64 `json:"family"`
	CentroidCount int64 `json:"centroid_count"`
	MemberCount   int64 `json:"member_count"`
}

// OverviewStats carries the independently counted catalog cardinalities.
type OverviewStats struct {
	TotalEnzymes    int64 `json:"totalEnzymes"`
	TotalFamilies   int64 `json:"totalFamilies"`
	TotalComponents int64 `json:"totalComponents"`
	TotalVariants   int64 `json:"totalVariants"`
}

// PlateRecord is one well measurement.
type PlateRecord struct {
	Gene                string     `json:"gene"`
	Plate               string     `json:"plate"`
	Row                 string     `json:"row"`
	Column              int64      `json:"column"`
	ReadoutValue        *float64   `json:"readout_value"`
	MeasurementType     string     `json:"measurement_type"`
	ColonySize          *float64   `json:"colony_size"`
	NormalizationMethod *string    `json:"normalization_method"`
	DateEntered         *time.Time `json:"date_entered"`
}

// PlateMetadata holds the experimental context shared by every well of a plate.
type PlateMetadata struct {
	Plate          string     `json:"plate"`
	ExpID          *string    `json:"exp_id"`
	ExpDescription *string    `json:"exp_description"`
	TimepointHours *float64   `json:"timepoint_hours"`
	TempCelsius    *float64   `json:"temp_celsius"`
	PH             *float64   `json:"ph"`
	Media          *string    `json:"media"`
	Organism       *string    `json:"organism"`
	DateCreated    *time.Time `json:"date_created"`
	DateRead       *time.Time `json:"date_read"`
}

// GroupedAverage is one (plate, measurement type, metadata) group of a gene's
// non-null readouts.
type GroupedAverage struct {
	PlateMetadata
	MeasurementType string  `json:"measurement_type"`
	AverageReadout  float64 `json:"average_readout"`
	SampleCount     int64   `json:"sample_count"`
}

// ActivityRow is a plate record with its plate metadata flattened alongside.
// Metadata columns are nil when the plate has no metadata row.
type ActivityRow struct {
	PlateRecord
	ExpID          *string    `json:"exp_id"`
	ExpDescription *string    `json:"exp_description"`
	TimepointHours *float64   `json:"timepoint_hours"`
	TempCelsius    *float64   `json:"temp_celsius"`
	PH             *float64   `json:"ph"`
	Media          *string    `json:"media"`
	Organism       *string    `json:"organism"`
	DateCreated    *time.Time `json:"date_created"`
	DateRead       *time.Time `json:"date_read"`
}

// SequenceRecord is one amino-acid sequence in the sequence catalog.
// InSRAMetadata reports whether SRA/BioSample location metadata exists for
// the accession.
type SequenceRecord struct {
	Accession           string     `json:"accession"`
	Sequence            string     `json:"sequence"`
	Source              *string    `json:"source"`
	Synonyms            *string    `json:"synonyms"`
	DateEntered         *time.Time `json:"date_entered"`
	Genotype            *string    `json:"genotype"`
	GenotypeDescription *string    `json:"genotype_description"`
	Synthetic           *bool      `json:"synthetic"`
	ParentAccessions    *string    `json:"parent_accessions"`
	ParentGenes         *string    `json:"parent_genes"`
	InGeneMetadata      *bool      `json:"in_gene_metadata"`
	InSRAMetadata       bool       `json:"in_sra_metadata"`
}

// Structure describes a predicted or solved protein structure. PDBURL is
// filled by the structure link resolver and is empty when none is configured.
type Structure struct {
	PDBID       string     `json:"pdb_id"`
	Accession   string     `json:"accession"`
	Technique   *string    `json:"technique"`
	Relaxed     *bool      `json:"relaxed"`
	DateCreated *time.Time `json:"date_created"`
	DateEntered *time.Time `json:"date_entered"`
	Alignment   *string    `json:"alignment"`
	PDBURL      string     `json:"pdb_url,omitempty"`
}

// SequenceFeatureSet carries index-aligned per-residue features for one
// enzyme. It is reduced to SummaryStats and never persisted.
type SequenceFeatureSet struct {
	Mass           []float64 `json:"mass"`
	PI             []float64 `json:"pI"`
	Hydropathy     []float64 `json:"hydropathy"`
	SequenceLength int       `json:"sequenceLength"`
}

// SummaryStats holds full-precision feature reductions.
type SummaryStats struct {
	TotalMass          float64 `json:"totalMass"`
	AvgPI              float64 `json:"avgPI"`
	PercentHydrophobic float64 `json:"percentHydrophobic"`
}

// FormattedStats is the display form of SummaryStats.
type FormattedStats struct {
	TotalMass          string `json:"totalMass"`
	AvgPI              string `json:"avgPI"`
	PercentHydrophobic string `json:"percentHydrophobic"`
}

// Format renders the display strings: mass and pI to two decimals, the
// hydrophobic percentage to one.
func (s SummaryStats) Format() FormattedStats {
	return FormattedStats{
		TotalMass:          strconv.FormatFloat(s.TotalMass, 'f', 2, 64),
		AvgPI:              strconv.FormatFloat(s.AvgPI, 'f', 2, 64),
		PercentHydrophobic: strconv.FormatFloat(s.PercentHydrophobic, 'f', 1, 64),
	}
}
