// Command plasticatlas serves and queries the plastic-degrading enzyme
// catalog.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"plasticatlas/pkg/domain"
)

const appName = "plasticatlas"

// Version is overridden at link time.
var Version = "dev"

var exitFunc = os.Exit

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exitFunc(exitCode(err))
	}
}

// exitCode distinguishes bad input (2) and absent entities (3) from
// everything else (1).
func exitCode(err error) int {
	switch {
	case domain.IsValidation(err):
		return 2
	case domain.IsNotFound(err):
		return 3
	case errors.Is(err, errCentroidViolations):
		return 4
	default:
		return 1
	}
}

type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string
	tracePath  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Plastic-degrading enzyme catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `plasticatlas serves a read-only catalog of plastic-degrading enzymes,
their family and component classification, sequence variants and plate
assay measurements.

Configuration is read from defaults, an optional YAML file, an optional
.env file and PLASTICATLAS_* environment variables, in that order.`,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file path (YAML)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "env file path (default .env when present)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.tracePath, "trace", "", "append JSON trace lines for every service call to this file")

	cmd.AddCommand(
		newServeCmd(opts),
		newStatsCmd(opts),
		newEnzymeCmd(opts),
		newPlatesCmd(opts),
		newSequenceCmd(opts),
		newStructureCmd(opts),
		newFeaturesCmd(opts),
		newExportCmd(opts),
		newDoctorCmd(opts),
		newSchemaCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
			},
		},
	)
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
