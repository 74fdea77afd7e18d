package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"plasticatlas/internal/adapters/reports"
	"plasticatlas/internal/infra/persistence"
	"plasticatlas/internal/sqlbundle"
	"plasticatlas/pkg/domain"
)

var errCentroidViolations = errors.New("families violate the single-centroid rule")

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print catalog cardinalities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				stats, err := a.svc.OverviewStats(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			})
		},
	}
}

func newEnzymeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "enzyme", Short: "Query enzymes, families and components"}

	var (
		family, component int64
		hasComponent      bool
		limit, offset     int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List enzymes with optional classification filters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var filter domain.EnzymeFilter
			if cmd.Flags().Changed("family") {
				filter.Family = &family
			}
			if cmd.Flags().Changed("component") {
				filter.Component = &component
			}
			if cmd.Flags().Changed("has-component") {
				filter.HasComponent = &hasComponent
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				page, err := a.svc.ListEnzymes(ctx, filter, domain.Page{Limit: limit, Offset: offset})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), page)
			})
		},
	}
	list.Flags().Int64Var(&family, "family", 0, "only members of this family")
	list.Flags().Int64Var(&component, "component", 0, "only members of this component")
	list.Flags().BoolVar(&hasComponent, "has-component", false, "true keeps enzymes with a component, false those without")
	list.Flags().IntVar(&limit, "limit", 0, "page size (default 50, max 1000)")
	list.Flags().IntVar(&offset, "offset", 0, "rows to skip")

	var byAccession bool
	get := &cobra.Command{
		Use:   "get ID|ACCESSION",
		Short: "Show one enzyme",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parse := domain.ParseEnzymeRef
			if byAccession {
				parse = domain.ParseAccession
			}
			ref, err := parse(args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				record, err := a.svc.GetEnzyme(ctx, ref)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), record)
			})
		},
	}

	get.Flags().BoolVar(&byAccession, "accession", false, "treat the argument as an accession even when it is all digits")

	variants := idCommand(opts, "variants ENZYME_ID", "List variants clustered under an enzyme", "enzyme",
		func(ctx context.Context, a *app, id int64) (any, error) { return a.svc.GetVariants(ctx, id) })
	familyCmd := idCommand(opts, "family FAMILY_ID", "List family members, centroid first", "family",
		func(ctx context.Context, a *app, id int64) (any, error) { return a.svc.GetFamilyMembers(ctx, id) })

	var summary bool
	componentCmd := idCommand(opts, "component COMPONENT_ID", "List component members grouped by family", "component",
		func(ctx context.Context, a *app, id int64) (any, error) {
			if summary {
				return a.svc.FamilySummaries(ctx, id)
			}
			return a.svc.GetComponentMembers(ctx, id)
		})
	componentCmd.Flags().BoolVar(&summary, "summary", false, "print per-family counts and centroids instead of members")

	cmd.AddCommand(list, get, variants, familyCmd, componentCmd)
	return cmd
}

func idCommand(opts *rootOptions, use, short, field string, fn func(context.Context, *app, int64) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := domain.ParseID(field, args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				out, err := fn(ctx, a, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
}

func keyCommand(opts *rootOptions, use, short string, fn func(context.Context, *app, string) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				out, err := fn(ctx, a, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
}

func newPlatesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "plates", Short: "Query plate assay measurements"}
	cmd.AddCommand(
		keyCommand(opts, "averages GENE", "Average readouts per plate, measurement type and metadata",
			func(ctx context.Context, a *app, gene string) (any, error) { return a.svc.AverageByGene(ctx, gene) }),
		keyCommand(opts, "records GENE", "List raw well readouts",
			func(ctx context.Context, a *app, gene string) (any, error) { return a.svc.ListByGene(ctx, gene) }),
		keyCommand(opts, "activity-gene GENE", "List wells with plate metadata for a gene",
			func(ctx context.Context, a *app, gene string) (any, error) { return a.svc.ActivityByGene(ctx, gene) }),
		keyCommand(opts, "activity-experiment EXP_ID", "List wells with plate metadata for an experiment",
			func(ctx context.Context, a *app, exp string) (any, error) { return a.svc.ActivityByExperiment(ctx, exp) }),
	)
	return cmd
}

func newSequenceCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "sequence", Short: "Query the amino-acid sequence catalog"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List sequences ordered by accession",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				rows, err := a.svc.ListSequences(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rows)
			})
		},
	}
	cmd.AddCommand(list,
		keyCommand(opts, "get ACCESSION", "Show one sequence",
			func(ctx context.Context, a *app, acc string) (any, error) { return a.svc.GetSequence(ctx, acc) }))
	return cmd
}

func newStructureCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "structure", Short: "Look up predicted and solved structures"}
	cmd.AddCommand(
		keyCommand(opts, "latest ACCESSION", "Show the most recently created structure for an accession",
			func(ctx context.Context, a *app, acc string) (any, error) { return a.svc.StructureByAccession(ctx, acc) }),
		keyCommand(opts, "get PDB_ID", "Show one structure",
			func(ctx context.Context, a *app, id string) (any, error) { return a.svc.StructureByID(ctx, id) }),
	)
	return cmd
}

type featureStats struct {
	Stats     domain.SummaryStats   `json:"stats"`
	Formatted domain.FormattedStats `json:"formatted"`
}

func newFeaturesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "features [FILE]",
		Short: "Summarise a per-residue feature set read from FILE or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			var fs domain.SequenceFeatureSet
			if err := json.NewDecoder(in).Decode(&fs); err != nil {
				return domain.ValidationError{Field: "feature set", Reason: err.Error()}
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				stats := a.svc.ComputeStats(ctx, fs)
				return printJSON(cmd.OutOrStdout(), featureStats{Stats: stats, Formatted: stats.Format()})
			})
		},
	}
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var (
		formats []string
		timeout time.Duration
	)
	kinds := make([]string, 0, len(reports.Kinds()))
	for _, k := range reports.Kinds() {
		kinds = append(kinds, string(k))
	}
	cmd := &cobra.Command{
		Use:   "export KIND KEY",
		Short: "Render a report into the configured blob store and wait for it",
		Long:  "KIND is one of " + strings.Join(kinds, ", ") + ".",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := reports.Request{Kind: reports.Kind(args[0]), Key: args[1]}
			for _, f := range formats {
				req.Formats = append(req.Formats, reports.Format(strings.ToLower(f)))
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				worker := reports.NewWorker(a.svc, a.store,
					reports.WithLogger(a.logger),
					reports.WithPresignExpiry(a.cfg.Reports.PresignExpiry))
				worker.Start()
				defer func() {
					stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = worker.Stop(stopCtx)
				}()

				record, err := worker.Enqueue(ctx, req)
				if err != nil {
					return err
				}
				record, err = awaitReport(ctx, worker, record.ID, timeout)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), record); err != nil {
					return err
				}
				if record.Status == reports.StatusFailed {
					return fmt.Errorf("report %s failed: %s", record.ID, record.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&formats, "format", nil, "artifact formats (json, csv); default both")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "how long to wait for the report")
	return cmd
}

func awaitReport(ctx context.Context, s reports.Scheduler, id string, timeout time.Duration) (reports.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		record, ok := s.Get(id)
		if !ok {
			return reports.Record{}, fmt.Errorf("report %s disappeared", id)
		}
		if record.Status == reports.StatusSucceeded || record.Status == reports.StatusFailed {
			return record, nil
		}
		select {
		case <-ctx.Done():
			return record, fmt.Errorf("waiting for report %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

func newDoctorCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that every family has exactly one centroid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				violations, err := a.svc.CheckCentroids(ctx)
				if err != nil {
					return err
				}
				if len(violations) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "ok: every family has exactly one centroid")
					return nil
				}
				if err := printJSON(cmd.OutOrStdout(), violations); err != nil {
					return err
				}
				return fmt.Errorf("%d %w", len(violations), errCentroidViolations)
			})
		},
	}
}

func newSchemaCmd(opts *rootOptions) *cobra.Command {
	var (
		dialect string
		apply   bool
	)
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the catalog DDL, or apply it to the configured database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if apply {
				return opts.withApp(cmd, func(ctx context.Context, a *app) error {
					if a.handle.Driver == persistence.DriverMemory {
						return nil
					}
					ddl, err := sqlbundle.ForDriver(string(a.handle.Driver))
					if err != nil {
						return err
					}
					if err := sqlbundle.Apply(ctx, a.handle.DB, ddl); err != nil {
						return err
					}
					a.logger.Info("schema applied", "driver", a.handle.Driver)
					return nil
				})
			}
			if dialect == "" {
				cfg, err := opts.loadConfig()
				if err != nil {
					return err
				}
				dialect = string(cfg.Storage.Driver)
				if cfg.Storage.Driver == persistence.DriverMemory {
					dialect = string(persistence.DriverSQLite)
				}
			}
			ddl, err := sqlbundle.ForDriver(dialect)
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), ddl)
			return err
		},
	}
	cmd.Flags().StringVar(&dialect, "dialect", "", "sqlite or postgres (default: configured storage driver)")
	cmd.Flags().BoolVar(&apply, "apply", false, "apply the DDL to the configured database instead of printing it")
	return cmd
}
