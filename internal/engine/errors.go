package engine

import (
	"errors"
	"fmt"
)

// ErrGameNotFound is returned for operations on an unknown game ID.
var ErrGameNotFound = errors.New("game not found")

// ErrTooManyGames is returned when the manager is at capacity.
var ErrTooManyGames = errors.New("too many games")

// ValidationError is a rejected control-surface call. Reason is shown to the caller.
type ValidationError struct {
	Op     string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return e.Op + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(op, format string, args ...any) error {
	return &ValidationError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

func invalidErr(op string, err error) error {
	return &ValidationError{Op: op, Reason: err.Error(), Err: err}
}
