// Package core composes the taxonomy engine, plate aggregator, sequence
// catalog and feature calculator behind one service that logs, measures and
// traces every call.
package core

import (
	"context"

	"plasticatlas/internal/features"
	"plasticatlas/internal/plates"
	"plasticatlas/internal/sequences"
	"plasticatlas/internal/sqlq"
	"plasticatlas/internal/taxonomy"
	"plasticatlas/pkg/domain"
)

// Service is the read-only façade used by the HTTP adapter, the report
// worker and the CLI.
type Service struct {
	taxonomy  *taxonomy.Engine
	plates    *plates.Aggregator
	sequences *sequences.Engine
	links     sequences.LinkResolver

	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	clock   Clock
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsRecorder sets the metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t Tracer) ServiceOption {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithClock overrides the clock used for call durations.
func WithClock(c Clock) ServiceOption {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithStructureLinks sets the resolver that fills structure download URLs.
func WithStructureLinks(r sequences.LinkResolver) ServiceOption {
	return func(s *Service) { s.links = r }
}

// NewService binds the components to db.
func NewService(db domain.RowSource, dialect sqlq.Dialect, opts ...ServiceOption) *Service {
	s := &Service{
		logger:  noopLogger{},
		metrics: noopMetrics{},
		tracer:  noopTracer{},
		clock:   systemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.taxonomy = taxonomy.NewEngine(db, dialect)
	s.plates = plates.NewAggregator(db, dialect)
	var seqOpts []sequences.Option
	if s.links != nil {
		seqOpts = append(seqOpts, sequences.WithLinks(s.links))
	}
	s.sequences = sequences.NewEngine(db, dialect, seqOpts...)
	return s
}

func run[T any](ctx context.Context, s *Service, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := s.tracer.Start(ctx, op)
	start := s.clock.Now()
	out, err := fn(ctx)
	elapsed := s.clock.Now().Sub(start)
	outcome := Classify(err)
	s.metrics.Observe(ctx, op, outcome, elapsed)
	span.End(err)

	switch {
	case err == nil:
		s.logger.Debug("service call", "operation", op, "duration", elapsed)
	case domain.IsStorage(err):
		s.logger.Error("service call failed", "operation", op, "outcome", outcome, "error", err)
	default:
		s.logger.Debug("service call rejected", "operation", op, "outcome", outcome, "error", err)
	}
	return out, err
}

// ListEnzymes pages through enzymes.
func (s *Service) ListEnzymes(ctx context.Context, filter domain.EnzymeFilter, page domain.Page) (domain.EnzymePage, error) {
	return run(ctx, s, "list_enzymes", func(ctx context.Context) (domain.EnzymePage, error) {
		return s.taxonomy.ListEnzymes(ctx, filter, page)
	})
}

// GetEnzyme looks up one enzyme.
func (s *Service) GetEnzyme(ctx context.Context, ref domain.EnzymeRef) (domain.EnzymeRecord, error) {
	return run(ctx, s, "get_enzyme", func(ctx context.Context) (domain.EnzymeRecord, error) {
		return s.taxonomy.GetEnzyme(ctx, ref)
	})
}

// GetVariants lists the variants of a centroid enzyme.
func (s *Service) GetVariants(ctx context.Context, enzymeID int64) ([]domain.VariantRecord, error) {
	return run(ctx, s, "get_variants", func(ctx context.Context) ([]domain.VariantRecord, error) {
		return s.taxonomy.GetVariants(ctx, enzymeID)
	})
}

// GetFamilyMembers lists a family centroid-first.
func (s *Service) GetFamilyMembers(ctx context.Context, family int64) ([]domain.EnzymeRecord, error) {
	return run(ctx, s, "get_family_members", func(ctx context.Context) ([]domain.EnzymeRecord, error) {
		return s.taxonomy.GetFamilyMembers(ctx, family)
	})
}

// GetComponentMembers lists a component grouped by family.
func (s *Service) GetComponentMembers(ctx context.Context, component int64) ([]domain.EnzymeRecord, error) {
	return run(ctx, s, "get_component_members", func(ctx context.Context) ([]domain.EnzymeRecord, error) {
		return s.taxonomy.GetComponentMembers(ctx, component)
	})
}

// FamilySummaries lists the families of a component.
func (s *Service) FamilySummaries(ctx context.Context, component int64) ([]domain.FamilySummary, error) {
	return run(ctx, s, "family_summaries", func(ctx context.Context) ([]domain.FamilySummary, error) {
		return s.taxonomy.FamilySummaries(ctx, component)
	})
}

// OverviewStats returns catalog cardinalities.
func (s *Service) OverviewStats(ctx context.Context) (domain.OverviewStats, error) {
	return run(ctx, s, "overview_stats", s.taxonomy.OverviewStats)
}

// CheckCentroids lists families violating the single-centroid rule.
func (s *Service) CheckCentroids(ctx context.Context) ([]domain.CentroidViolation, error) {
	return run(ctx, s, "check_centroids", s.taxonomy.CheckCentroids)
}

// AverageByGene aggregates a gene's readouts.
func (s *Service) AverageByGene(ctx context.Context, gene string) ([]domain.GroupedAverage, error) {
	return run(ctx, s, "average_by_gene", func(ctx context.Context) ([]domain.GroupedAverage, error) {
		groups, err := s.plates.AverageByGene(ctx, gene)
		if err == nil {
			for _, c := range plates.MetadataConflicts(groups) {
				s.logger.Warn("divergent plate metadata", "gene", gene, "plate", c.Plate, "measurement_type", c.MeasurementType, "groups", c.Groups)
			}
		}
		return groups, err
	})
}

// ListByGene lists a gene's raw well records.
func (s *Service) ListByGene(ctx context.Context, gene string) ([]domain.PlateRecord, error) {
	return run(ctx, s, "list_by_gene", func(ctx context.Context) ([]domain.PlateRecord, error) {
		return s.plates.ListByGene(ctx, gene)
	})
}

// ActivityByGene joins a gene's wells to plate metadata.
func (s *Service) ActivityByGene(ctx context.Context, gene string) ([]domain.ActivityRow, error) {
	return run(ctx, s, "activity_by_gene", func(ctx context.Context) ([]domain.ActivityRow, error) {
		return s.plates.ActivityByGene(ctx, gene)
	})
}

// ActivityByExperiment joins an experiment's wells to plate metadata.
func (s *Service) ActivityByExperiment(ctx context.Context, expID string) ([]domain.ActivityRow, error) {
	return run(ctx, s, "activity_by_experiment", func(ctx context.Context) ([]domain.ActivityRow, error) {
		return s.plates.ActivityByExperiment(ctx, expID)
	})
}

// ListSequences returns the sequence catalog.
func (s *Service) ListSequences(ctx context.Context) ([]domain.SequenceRecord, error) {
	return run(ctx, s, "list_sequences", s.sequences.ListSequences)
}

// GetSequence looks up one sequence by accession.
func (s *Service) GetSequence(ctx context.Context, accession string) (domain.SequenceRecord, error) {
	return run(ctx, s, "get_sequence", func(ctx context.Context) (domain.SequenceRecord, error) {
		return s.sequences.GetSequence(ctx, accession)
	})
}

// StructureByAccession returns the latest structure for an accession.
func (s *Service) StructureByAccession(ctx context.Context, accession string) (domain.Structure, error) {
	return run(ctx, s, "structure_by_accession", func(ctx context.Context) (domain.Structure, error) {
		return s.sequences.StructureByAccession(ctx, accession)
	})
}

// StructureByID returns a structure by PDB identifier.
func (s *Service) StructureByID(ctx context.Context, pdbID string) (domain.Structure, error) {
	return run(ctx, s, "structure_by_id", func(ctx context.Context) (domain.Structure, error) {
		return s.sequences.StructureByID(ctx, pdbID)
	})
}

// ComputeStats reduces a feature set. It never fails.
func (s *Service) ComputeStats(ctx context.Context, fs domain.SequenceFeatureSet) domain.SummaryStats {
	stats, _ := run(ctx, s, "compute_stats", func(context.Context) (domain.SummaryStats, error) {
		return features.ComputeStats(fs), nil
	})
	return stats
}
