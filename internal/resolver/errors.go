package resolver

import (
	"errors"
	"fmt"
	"strings"
)

// GraphErrorCode categorizes dependency graph errors.
type GraphErrorCode string

const (
	// ErrCodeCycle indicates stores that depend on each other.
	ErrCodeCycle GraphErrorCode = "CYCLE"

	// ErrCodeUnknownDependency indicates a dependency on an undeclared store.
	ErrCodeUnknownDependency GraphErrorCode = "UNKNOWN_DEPENDENCY"

	// ErrCodeDuplicateStore indicates two declarations with the same name.
	ErrCodeDuplicateStore GraphErrorCode = "DUPLICATE_STORE"
)

// GraphError reports an invalid dependency graph. It is a configuration
// error: the graph is validated once at startup and never at event time.
type GraphError struct {
	Code    GraphErrorCode
	Path    []string // cycle path, or [store, dependency]
	Message string
}

// Error implements the error interface.
func (e *GraphError) Error() string {
	if len(e.Path) > 0 {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(e.Path, " -> "))
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsGraphError returns true if err is, or wraps, a *GraphError.
func IsGraphError(err error) bool {
	var ge *GraphError
	return errors.As(err, &ge)
}

// IsCycleError returns true if err is a cycle error.
// Uses errors.As to handle wrapped errors.
func IsCycleError(err error) bool {
	var ge *GraphError
	if errors.As(err, &ge) {
		return ge.Code == ErrCodeCycle
	}
	return false
}
