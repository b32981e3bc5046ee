package store

import (
	"errors"
	"fmt"
)

// ConfigErrorCode categorizes configuration errors.
type ConfigErrorCode string

const (
	// ErrCodeMissingID indicates a create payload without a usable id.
	ErrCodeMissingID ConfigErrorCode = "MISSING_ID"

	// ErrCodeMissingField indicates a create payload without a required field.
	ErrCodeMissingField ConfigErrorCode = "MISSING_FIELD"

	// ErrCodeInvalidSchema indicates a schema or index declaration that
	// cannot be used.
	ErrCodeInvalidSchema ConfigErrorCode = "INVALID_SCHEMA"

	// ErrCodeUnknownStore indicates an event or index addressed to a store
	// that was never registered.
	ErrCodeUnknownStore ConfigErrorCode = "UNKNOWN_STORE"
)

// ConfigError reports a programming or configuration mistake. Unlike a
// stale event, it is not safe to ignore: the ingestion loop stops on it.
type ConfigError struct {
	Code    ConfigErrorCode
	Store   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Store != "" {
		return fmt.Sprintf("%s: %s (store=%s)", e.Code, e.Message, e.Store)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsConfigError returns true if err is, or wraps, a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

func configErrorf(code ConfigErrorCode, store, format string, args ...any) *ConfigError {
	return &ConfigError{Code: code, Store: store, Message: fmt.Sprintf(format, args...)}
}
