// Package engine runs one fact load end to end.
//
// The order is fixed: compile the fact type against the warehouse, read
// staging, snapshot dimensions, resolve keys, validate every row, ensure
// partitions, insert batches. Cleanup always runs last, whatever happened.
// Nothing is written before validation has passed for the whole input.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"factload/internal/cleanup"
	"factload/internal/loader"
	"factload/internal/metrics"
	"factload/internal/partition"
	"factload/internal/resolve"
	"factload/internal/schema"
	"factload/internal/staging"
	"factload/internal/storage"
)

// Logger is the minimal logging interface used by the engine.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// ReadFn is a seam for providing staging rows.
//
// When to use:
//   - Unit tests: inject deterministic rows without files.
//   - Production: nil, which means staging.Read.
type ReadFn func(ctx context.Context, src staging.Source, fields []schema.Field) ([]schema.Row, error)

// Job is everything one run needs besides the warehouse.
type Job struct {
	Fact    schema.FactType
	Schema  string
	Staging staging.Source

	// BatchSize <= 0 means loader.DefaultBatchSize, reduced to fit backend limits.
	BatchSize int

	// ReportLimit caps unresolved keys listed per dimension (<= 0 means 50).
	ReportLimit int

	// CleanupDirs nil means cleanup.DefaultDirs; an empty non-nil slice
	// disables cleanup.
	CleanupDirs []string

	// DryRun stops after validation and the partition precondition check.
	// Nothing is written and cleanup does not run.
	DryRun bool
}

// Result summarizes a run. It is populated as far as the run got, so a
// failed run still reports what was committed.
type Result struct {
	RunID      string
	Staged     int
	Report     resolve.Report
	Partitions partition.Outcome
	Inserted   int64
	Batches    int
	Cleanup    cleanup.Summary
	DryRun     bool
}

// Engine executes jobs against one warehouse. It does not close the warehouse.
type Engine struct {
	Warehouse storage.Warehouse
	Logger    Logger

	// Verbose also logs the table and columns each dimension was bound to.
	Verbose bool

	// Read is an optional seam; nil means staging.Read.
	Read ReadFn
}

// Run executes job.
//
// Errors:
//   - *ConfigError for problems with the fact type, config or warehouse schema.
//   - *loader.ValidationError when any resolved row is invalid (nothing written).
//   - *loader.LoadError when a batch fails (earlier batches stay committed).
//   - Wrapped warehouse and I/O errors otherwise.
func (e *Engine) Run(ctx context.Context, job Job) (res Result, err error) {
	if e.Warehouse == nil {
		return Result{}, fmt.Errorf("engine: Warehouse is required")
	}

	res = Result{RunID: uuid.NewString(), DryRun: job.DryRun}
	logf := e.logger(res.RunID)
	runStart := time.Now()

	if !job.DryRun {
		dirs := job.CleanupDirs
		if dirs == nil {
			dirs = cleanup.DefaultDirs
		}
		c := &cleanup.Coordinator{Dirs: dirs, Logger: printfLogger(logf)}
		defer func() {
			res.Cleanup = c.Run()
		}()
	}

	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.RecordStep("run", status, time.Since(runStart))
		logf("stage=done status=%s fact=%s staged=%d resolved=%d inserted=%d batches=%d duration=%s",
			status, job.Fact.Name, res.Staged, res.Report.Resolved, res.Inserted, res.Batches, durMS(runStart))
	}()

	logf("stage=start fact=%s table=%s staging=%s dry_run=%t", job.Fact.Name, job.Fact.Table, job.Staging.Path, job.DryRun)

	width := len(job.Fact.Fact)
	batchSize := job.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize(e.Warehouse, width, loader.DefaultBatchSize)
	}

	var p *plan
	if err := e.step(logf, "compile", func() error {
		var cerr error
		p, cerr = compile(ctx, e.Warehouse, job.Fact, job.Schema, batchSize)
		if cerr != nil {
			return cerr
		}
		if e.Verbose {
			for _, d := range p.dims {
				logf("stage=compile dim=%s table=%s surrogate=%s natural=%s", d.dim.Name, d.table, d.surrogate, d.natural)
			}
		}
		pm := &partition.Manager{Warehouse: e.Warehouse, Logger: printfLogger(logf)}
		return classify("partitioning", pm.Check(ctx, p.table, p.fact.TimeKey))
	}); err != nil {
		return res, err
	}

	fields := p.fact.StagingFields()
	var rows []schema.Row
	if err := e.step(logf, "read", func() error {
		var rerr error
		rows, rerr = e.read(ctx, job.Staging, fields)
		return classify("staging", rerr)
	}); err != nil {
		return res, err
	}
	res.Staged = len(rows)
	metrics.AddRecords("staged", int64(len(rows)))
	logf("stage=read rows=%d fields=%d", len(rows), len(fields))

	var indexes []*resolve.Index
	if err := e.step(logf, "snapshot", func() error {
		var serr error
		indexes, serr = e.snapshot(ctx, p, logf)
		return serr
	}); err != nil {
		return res, err
	}

	var resolved resolve.Result
	if err := e.step(logf, "resolve", func() error {
		var rerr error
		resolved, rerr = resolve.Resolve(p.fact, fields, rows, indexes, job.ReportLimit)
		return rerr
	}); err != nil {
		return res, err
	}
	res.Report = resolved.Report
	metrics.AddRecords("resolved", int64(resolved.Report.Resolved))
	metrics.AddRecords("unresolved", int64(resolved.Report.Excluded()))
	logReport(logf, resolved.Report)

	var typed [][]any
	if err := e.step(logf, "validate", func() error {
		var verr error
		typed, verr = loader.Validate(p.table.String(), p.fact.Fact, resolved.Rows)
		return verr
	}); err != nil {
		return res, err
	}

	if job.DryRun {
		logf("stage=dry_run rows=%d batches=%d", len(typed), len(loader.Batches(len(typed), p.batchSize)))
		return res, nil
	}
	if len(typed) == 0 {
		logf("stage=load rows=0 skipped=true")
		return res, nil
	}

	if err := e.step(logf, "partitions", func() error {
		keys, kerr := timeKeys(p, typed)
		if kerr != nil {
			return kerr
		}
		pm := &partition.Manager{Warehouse: e.Warehouse, Logger: printfLogger(logf)}
		out, perr := pm.EnsurePartitions(ctx, p.table, p.fact.TimeKey, keys)
		if perr != nil {
			return classify("partitioning", perr)
		}
		res.Partitions = out
		metrics.IncCounter(metrics.PartitionsTotal, float64(out.Created), metrics.Labels{"status": "created"})
		return nil
	}); err != nil {
		return res, err
	}

	l := &loader.Loader{
		Warehouse: e.Warehouse,
		BatchSize: p.batchSize,
		Logger:    printfLogger(logf),
		OnBatch: func(loader.BatchEvent) {
			metrics.IncCounter(metrics.BatchesTotal, 1, nil)
		},
	}
	err = e.step(logf, "load", func() error {
		out, lerr := l.Insert(ctx, p.table, p.fact.FactColumnNames(), typed)
		res.Inserted = out.Rows
		res.Batches = out.Batches
		return lerr
	})
	metrics.AddRecords("inserted", res.Inserted)

	var lerr *loader.LoadError
	if errors.As(err, &lerr) {
		logf("stage=load status=error table=%s failed_batch=%d/%d committed=%d", lerr.Table, lerr.Batch, lerr.Batches, lerr.Committed)
	}
	return res, err
}

// snapshot loads every dimension once and indexes it.
func (e *Engine) snapshot(ctx context.Context, p *plan, logf func(string, ...any)) ([]*resolve.Index, error) {
	out := make([]*resolve.Index, len(p.dims))
	for i, d := range p.dims {
		kv, err := e.Warehouse.SelectKeyValue(ctx, d.table, d.surrogate, d.natural)
		if err != nil {
			return nil, fmt.Errorf("engine: snapshot %s: %w", d.table, err)
		}
		ix, err := resolve.BuildIndex(d.dim, kv)
		if err != nil {
			return nil, classify("dimension "+d.dim.Name, err)
		}
		logf("stage=snapshot dim=%s table=%s surrogate=%s natural=%s keys=%d skipped=%d",
			d.dim.Name, d.table, d.surrogate, d.natural, ix.Len(), ix.Skipped())
		out[i] = ix
	}
	return out, nil
}

func (e *Engine) read(ctx context.Context, src staging.Source, fields []schema.Field) ([]schema.Row, error) {
	if e.Read != nil {
		return e.Read(ctx, src, fields)
	}
	return staging.Read(ctx, src, fields)
}

// step times fn, logs its outcome and records it as a metric.
func (e *Engine) step(logf func(string, ...any), name string, fn func() error) error {
	start := time.Now()
	err := fn()
	status := "ok"
	if err != nil {
		status = "error"
		logf("stage=%s status=error duration=%s err=%v", name, durMS(start), err)
	} else {
		logf("stage=%s ok duration=%s", name, durMS(start))
	}
	metrics.RecordStep(name, status, time.Since(start))
	return err
}

func timeKeys(p *plan, typed [][]any) ([]any, error) {
	col := -1
	for i, c := range p.fact.Fact {
		if c.Name == p.fact.TimeKey {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, configErrorf("fact type", "time key %q is not a fact column", p.fact.TimeKey)
	}
	keys := make([]any, len(typed))
	for i, r := range typed {
		keys[i] = r[col]
	}
	return keys, nil
}

// logReport prints the unresolved-key summary, one line per listed key.
func logReport(logf func(string, ...any), r resolve.Report) {
	logf("stage=resolve total=%d resolved=%d excluded=%d", r.Total, r.Resolved, r.Excluded())
	for _, g := range r.Dimensions {
		logf("stage=resolve level=warn dim=%s field=%s unresolved_rows=%d distinct_keys=%d truncated=%t",
			g.Dimension, g.StagingField, g.Rows, g.Distinct, g.Truncated())
		for _, k := range g.Keys {
			key := strconv.Quote(k.Value)
			if k.Null {
				key = resolve.NullKey
			}
			if k.Label != "" {
				logf("stage=resolve dim=%s key=%s label=%q rows=%d", g.Dimension, key, k.Label, k.Count)
				continue
			}
			logf("stage=resolve dim=%s key=%s rows=%d", g.Dimension, key, k.Count)
		}
	}
}

func (e *Engine) logger(runID string) func(format string, v ...any) {
	var printf func(string, ...any)
	if e.Logger == nil {
		printf = log.New(discardWriter{}, "", 0).Printf
	} else {
		printf = e.Logger.Printf
	}
	return func(format string, v ...any) {
		printf("run_id=%s "+format, append([]any{runID}, v...)...)
	}
}

// printfLogger adapts a printf func to the Logger interfaces of the
// building blocks.
type printfLogger func(format string, v ...any)

func (f printfLogger) Printf(format string, v ...any) { f(format, v...) }

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
