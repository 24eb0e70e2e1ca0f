// Package cli wires the factload command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"factload/internal/schema"

	// register every warehouse backend with the storage factory.
	_ "factload/internal/storage/all"
)

// options holds flag values shared by load and validate.
type options struct {
	configPath     string
	envFile        string
	verbose        bool
	batchSize      int
	stagingPath    string
	metricsBackend string
}

// NewRootCommand builds the command tree. Diagnostics go to errOut, summaries
// to the command's stdout.
func NewRootCommand(errOut io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "factload",
		Short: "Load staged fact rows into a partitioned star-schema warehouse",
		Long: `factload resolves the natural keys of a staging dataset against the
warehouse dimensions, creates any missing yearly partitions of the fact
table, and appends the resolved rows in committed batches. Staging
directories are cleaned when the run ends, whatever its outcome.

Exit Codes:
  0  - Success
  1  - Load failed (earlier batches stay committed)
  2  - CLI usage error (invalid arguments or flags)
  10 - Invalid configuration (pipeline file, fact type or warehouse schema)
  11 - Warehouse connection failed
  12 - Staging rows failed validation (nothing written)`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "configs/pipeline.yaml", "pipeline config (JSON or YAML)")
	pf.StringVar(&opts.envFile, "env-file", ".env", "dotenv file with connection settings (ignored when missing)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "log dimension bindings and disabled metrics")
	pf.IntVar(&opts.batchSize, "batch-size", 0, "rows per INSERT statement (overrides runtime.batch_size)")
	pf.StringVar(&opts.stagingPath, "staging", "", "staging file (overrides staging.path)")
	pf.StringVar(&opts.metricsBackend, "metrics-backend", "", "metrics backend: none or datadog (overrides config and METRICS_BACKEND)")

	root.AddCommand(
		newRunCommand(opts, errOut, "load", "Resolve, partition and load the staging dataset", false),
		newRunCommand(opts, errOut, "validate", "Resolve and validate without writing or cleaning up", true),
		newTypesCommand(),
	)
	return root
}

func newTypesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the built-in fact types",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			for _, name := range schema.BuiltinNames() {
				ft, err := schema.Builtin(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%-12s table=%s time_key=%s dimensions=%d columns=%d\n",
					ft.Name, ft.Table, ft.TimeKey, len(ft.Dimensions), len(ft.Fact))
			}
			return nil
		},
	}
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return &usageError{err: fmt.Errorf("%s takes no arguments, got %q", cmd.CommandPath(), args)}
	}
	return nil
}

// Execute runs the command tree with an interrupt-aware context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(os.Stderr)
	err := root.ExecuteContext(ctx)
	if err != nil && strings.HasPrefix(err.Error(), "unknown command") {
		err = &usageError{err: err}
	}
	if err != nil {
		log.New(os.Stderr, "", 0).Printf("factload: %v", err)
	}
	return err
}
