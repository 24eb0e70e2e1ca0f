package cli

import (
	"errors"

	"factload/internal/config"
	"factload/internal/engine"
	"factload/internal/loader"
)

const (
	ExitSuccess         = 0
	ExitLoadFailed      = 1
	ExitUsageError      = 2
	ExitConfigError     = 10
	ExitConnectionError = 11
	ExitValidationError = 12
)

// usageError marks bad arguments or flags.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// ExitCodeForError maps a command error to the process exit code.
func ExitCodeForError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var (
		usage   *usageError
		cfgErr  *engine.ConfigError
		connErr *engine.ConnectError
		valErr  *loader.ValidationError
	)
	switch {
	case errors.As(err, &usage):
		return ExitUsageError
	case errors.Is(err, config.ErrInvalid), errors.As(err, &cfgErr):
		return ExitConfigError
	case errors.As(err, &connErr):
		return ExitConnectionError
	case errors.As(err, &valErr):
		return ExitValidationError
	}
	return ExitLoadFailed
}
