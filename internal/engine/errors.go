package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/livestore/internal/event"
)

// RuntimeErrorCode categorizes errors that stop the engine.
type RuntimeErrorCode string

const (
	// ErrCodeConfig indicates a configuration error raised while applying
	// an envelope: unknown store, create without id, bad schema.
	ErrCodeConfig RuntimeErrorCode = "CONFIG"
)

// RuntimeError is returned by Run and Drain when an envelope could not be
// applied because of a configuration error. Recoverable errors never
// stop the engine and are only logged.
type RuntimeError struct {
	Code     RuntimeErrorCode
	Seq      int64
	Envelope event.Envelope
	Err      error
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: seq %d %s: %v", e.Code, e.Seq, e.Envelope.String(), e.Err)
}

// Unwrap returns the underlying error.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsRuntimeError returns true if err is, or wraps, a *RuntimeError.
// Uses errors.As to handle wrapped errors.
func IsRuntimeError(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re)
}
