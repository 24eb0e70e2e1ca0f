package engine

import (
	"errors"
	"fmt"

	"factload/internal/partition"
	"factload/internal/resolve"
	"factload/internal/staging"
)

// ConfigError means the run cannot proceed until the fact type, the
// pipeline config or the warehouse schema changes. Retrying does not help.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("configuration error: %s: %v", e.Op, e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }

func configErrorf(op, format string, args ...any) error {
	return &ConfigError{Op: op, Err: fmt.Errorf(format, args...)}
}

// classify upgrades errors from the building blocks that are configuration
// problems by nature. Anything else is returned unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		missing *staging.MissingFieldsError
		card    *resolve.CardinalityError
		layout  *partition.LayoutError
		cfgErr  *ConfigError
	)
	switch {
	case errors.As(err, &cfgErr):
		return err
	case errors.As(err, &missing), errors.As(err, &card), errors.As(err, &layout),
		errors.Is(err, staging.ErrUnsupportedFormat):
		return &ConfigError{Op: op, Err: err}
	}
	return err
}
