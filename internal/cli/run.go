package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"factload/internal/config"
	"factload/internal/engine"
	"factload/internal/metrics"
	"factload/internal/metrics/datadog"
	"factload/internal/storage"
)

// runFunc executes one job; tests replace it to avoid a real warehouse.
type runFunc func(ctx context.Context, logger engine.Logger, verbose bool, cfg storage.Config, job engine.Job) (engine.Result, error)

func defaultRun(ctx context.Context, logger engine.Logger, verbose bool, cfg storage.Config, job engine.Job) (engine.Result, error) {
	return engine.NewDefaultRunner(logger, verbose).Run(ctx, cfg, job)
}

func newRunCommand(opts *options, errOut io.Writer, use, short string, dryRun bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd.Context(), opts, errOut, cmd.OutOrStdout(), dryRun, os.Getenv, defaultRun)
		},
	}
}

// runPipeline loads the pipeline config, sets up metrics and runs the job.
func runPipeline(ctx context.Context, opts *options, errOut, out io.Writer, dryRun bool, getenv func(string) string, run runFunc) error {
	logger := log.New(errOut, "", log.LstdFlags|log.Lmicroseconds)

	envRequired := opts.envFile != "" && opts.envFile != ".env"
	if err := config.LoadEnv(opts.envFile, envRequired); err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	p, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.batchSize != 0 {
		p.Runtime.BatchSize = opts.batchSize
	}
	if opts.stagingPath != "" {
		p.Staging.Path = opts.stagingPath
	}
	p.ApplyDefaults(getenv)
	if err := p.Validate(); err != nil {
		return err
	}

	ft, err := p.FactSchema()
	if err != nil {
		return err
	}
	whCfg, err := p.WarehouseConfig(getenv)
	if err != nil {
		return err
	}

	closeMetrics := setupMetrics(ctx, logger, p, ft.Name, opts.metricsBackend, getenv, opts.verbose)
	defer closeMetrics()

	logger.Printf("pipeline: job=%s fact=%s schema=%s warehouse=%s staging=%s dry_run=%t",
		p.Job, ft.Name, p.Schema, whCfg.Kind, p.Staging.Path, dryRun)

	res, err := run(ctx, logger, opts.verbose, whCfg, engine.Job{
		Fact:        ft,
		Schema:      p.Schema,
		Staging:     p.Staging,
		BatchSize:   p.Runtime.BatchSize,
		ReportLimit: p.Runtime.ReportLimit,
		CleanupDirs: p.Runtime.CleanupDirs,
		DryRun:      dryRun,
	})
	printSummary(out, ft.Name, res)
	return err
}

// setupMetrics picks a backend: flag, then config, then METRICS_BACKEND.
// The returned func flushes and closes it. Init failures leave metrics off.
func setupMetrics(ctx context.Context, logger *log.Logger, p config.Pipeline, fact, flagBackend string, getenv func(string) string, verbose bool) func() {
	backend := flagBackend
	if backend == "" {
		backend = p.Metrics.Backend
	}
	if backend == "" {
		backend = getenv("METRICS_BACKEND")
	}

	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "datadog":
		tags := append([]string{}, p.Metrics.Tags...)
		tags = append(tags, datadog.ParseTagsCSV(getenv("METRICS_TAGS"))...)
		tags = append(tags, "fact:"+fact)

		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    p.Metrics.JobName,
			Tags:       tags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			logger.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return func() {}
		}
		logger.Printf("metrics: backend=datadog job_name=%s tags=%v", p.Metrics.JobName, tags)
		metrics.SetBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logger.Printf("metrics: datadog close/flush error: %v", err)
			}
			metrics.SetBackend(nil)
		}

	case "", "none":
		if verbose {
			logger.Printf("metrics: disabled (backend=%q)", backend)
		}
	default:
		logger.Printf("metrics: unknown backend %q; metrics disabled", backend)
	}
	return func() {}
}

// printSummary writes the operator-facing outcome of a run.
func printSummary(w io.Writer, fact string, res engine.Result) {
	if res.RunID == "" {
		return
	}
	mode := "load"
	if res.DryRun {
		mode = "validate"
	}
	fmt.Fprintf(w, "%s %s run_id=%s staged=%d resolved=%d excluded=%d\n",
		mode, fact, res.RunID, res.Staged, res.Report.Resolved, res.Report.Excluded())
	for _, g := range res.Report.Dimensions {
		fmt.Fprintf(w, "  unresolved %s (%s): %d rows, %d distinct keys\n", g.Dimension, g.StagingField, g.Rows, g.Distinct)
		for _, k := range g.Keys {
			if k.Label != "" {
				fmt.Fprintf(w, "    %s (%s) x%d\n", k.Display(), k.Label, k.Count)
				continue
			}
			fmt.Fprintf(w, "    %s x%d\n", k.Display(), k.Count)
		}
		if g.Truncated() {
			fmt.Fprintf(w, "    ... %d more\n", g.Distinct-len(g.Keys))
		}
	}
	if res.DryRun {
		return
	}
	fmt.Fprintf(w, "partitions years=%v created=%d\n", res.Partitions.Years, res.Partitions.Created)
	fmt.Fprintf(w, "inserted=%d batches=%d\n", res.Inserted, res.Batches)
	fmt.Fprintf(w, "cleanup removed=%d failed=%d\n", res.Cleanup.Removed, res.Cleanup.Failed)
}
