package engine

import (
	"context"
	"errors"
	"fmt"

	"factload/internal/storage"
)

// ConnectError means the warehouse could not be opened.
type ConnectError struct {
	Kind string
	Err  error
}

func (e *ConnectError) Error() string { return fmt.Sprintf("warehouse %s: connect: %v", e.Kind, e.Err) }
func (e *ConnectError) Unwrap() error { return e.Err }

// Runner opens a warehouse, runs one job and closes the warehouse.
type Runner struct {
	// NewWarehouse is a storage-agnostic factory seam.
	NewWarehouse func(ctx context.Context, cfg storage.Config) (storage.Warehouse, error)

	Logger  Logger
	Verbose bool
}

func NewDefaultRunner(logger Logger, verbose bool) *Runner {
	return &Runner{
		NewWarehouse: storage.NewWarehouse,
		Logger:       logger,
		Verbose:      verbose,
	}
}

// Run connects using cfg and executes job.
//
// Errors:
//   - *ConnectError when the warehouse cannot be opened.
//   - Everything Engine.Run returns.
func (r *Runner) Run(ctx context.Context, cfg storage.Config, job Job) (Result, error) {
	if cfg.Kind == "" {
		return Result{}, configErrorf("warehouse", "kind must be set")
	}
	if r.NewWarehouse == nil {
		return Result{}, fmt.Errorf("engine: NewWarehouse is required")
	}

	w, err := r.NewWarehouse(ctx, cfg)
	if errors.Is(err, storage.ErrUnsupportedKind) {
		return Result{}, &ConfigError{Op: "warehouse", Err: err}
	}
	if err != nil {
		return Result{}, &ConnectError{Kind: cfg.Kind, Err: err}
	}
	defer w.Close()

	e := &Engine{Warehouse: w, Logger: r.Logger, Verbose: r.Verbose}
	return e.Run(ctx, job)
}
