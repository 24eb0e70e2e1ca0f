// Package loader validates resolved fact rows and inserts them in ordered,
// independently committed batches.
//
// The contract has two phases:
//  1. validate every row; any problem aborts with zero rows written
//  2. insert batches strictly in order, one transaction each
//
// A failing batch is rolled back by the warehouse; batches committed before
// it stay durable. Re-running after a partial failure inserts those rows again
// unless the affected partitions are cleared first.
package loader

import (
	"context"
	"fmt"
	"log"
	"time"

	"factload/internal/schema"
	"factload/internal/storage"
)

// DefaultBatchSize is used when Loader.BatchSize is not positive.
const DefaultBatchSize = 5000

// Logger is the minimal logging interface used by the loader.
type Logger interface {
	Printf(format string, v ...any)
}

// Inserter is the slice of storage.Warehouse the loader needs.
type Inserter interface {
	InsertBatch(ctx context.Context, table storage.TableRef, columns []string, rows [][]any) (int64, error)
}

// LoadError is returned when a batch insert fails after validation passed.
// Committed rows from earlier batches remain in the table.
type LoadError struct {
	Table     string
	Batch     int // 1-based index of the failed batch
	Batches   int
	Committed int64
	Err       error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: batch %d/%d failed after %d committed row(s): %v",
		e.Table, e.Batch, e.Batches, e.Committed, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Batch is one half-open row range [Start, End).
type Batch struct {
	Start int
	End   int
}

// Len is the number of rows in b.
func (b Batch) Len() int { return b.End - b.Start }

// Batches splits n rows into ceil(n/size) ordered, non-overlapping batches of
// at most size rows.
func Batches(n, size int) []Batch {
	if n <= 0 {
		return nil
	}
	if size <= 0 {
		size = DefaultBatchSize
	}
	out := make([]Batch, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, Batch{Start: start, End: end})
	}
	return out
}

// BatchEvent describes one committed batch.
type BatchEvent struct {
	Index     int // 1-based
	Batches   int
	Rows      int
	Committed int64
	Duration  time.Duration
}

// Loader inserts validated rows into one table.
type Loader struct {
	Warehouse Inserter
	BatchSize int
	Logger    Logger

	// OnBatch, when set, is called after each committed batch.
	OnBatch func(BatchEvent)
}

// Result summarizes a successful load.
type Result struct {
	Rows    int64
	Batches int
}

// Load validates rows against cols and inserts them.
//
// Errors:
//   - *ValidationError before anything is written.
//   - *LoadError if a batch insert fails; earlier batches stay committed and
//     later batches are never attempted.
func (l *Loader) Load(ctx context.Context, table storage.TableRef, cols []schema.Column, rows []schema.Row) (Result, error) {
	if l.Warehouse == nil {
		return Result{}, fmt.Errorf("loader: Warehouse is required")
	}

	typed, err := Validate(table.String(), cols, rows)
	if err != nil {
		return Result{}, err
	}
	return l.Insert(ctx, table, columnNames(cols), typed)
}

// Insert writes rows that already passed Validate, batch by batch in order.
// It stops at the first failing batch and returns a *LoadError.
func (l *Loader) Insert(ctx context.Context, table storage.TableRef, names []string, rows [][]any) (Result, error) {
	if l.Warehouse == nil {
		return Result{}, fmt.Errorf("loader: Warehouse is required")
	}
	logf := l.logger()
	batches := Batches(len(rows), l.BatchSize)

	var committed int64
	for i, b := range batches {
		start := time.Now()
		n, err := l.Warehouse.InsertBatch(ctx, table, names, rows[b.Start:b.End])
		if err != nil {
			logf("stage=load table=%s batch=%d/%d status=error committed=%d err=%v", table, i+1, len(batches), committed, err)
			return Result{Rows: committed, Batches: i}, &LoadError{
				Table:     table.String(),
				Batch:     i + 1,
				Batches:   len(batches),
				Committed: committed,
				Err:       err,
			}
		}
		committed += n

		ev := BatchEvent{Index: i + 1, Batches: len(batches), Rows: b.Len(), Committed: committed, Duration: time.Since(start).Truncate(time.Millisecond)}
		logf("stage=load table=%s batch=%d/%d rows=%d committed=%d duration=%s", table, ev.Index, ev.Batches, ev.Rows, ev.Committed, ev.Duration)
		if l.OnBatch != nil {
			l.OnBatch(ev)
		}
	}
	return Result{Rows: committed, Batches: len(batches)}, nil
}

func columnNames(cols []schema.Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

func (l *Loader) logger() func(format string, v ...any) {
	if l.Logger == nil {
		return log.New(discardWriter{}, "", 0).Printf
	}
	return l.Logger.Printf
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
