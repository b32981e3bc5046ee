package schema

import (
	"errors"
	"fmt"

	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// LoadErrorCode classifies schema loading failures.
type LoadErrorCode string

const (
	ErrCodeNotFound     LoadErrorCode = "NOT_FOUND"     // directory missing
	ErrCodeNoFiles      LoadErrorCode = "NO_FILES"      // no .cue files
	ErrCodeLoadFailed   LoadErrorCode = "LOAD_FAILED"   // cue/load failed
	ErrCodeBuildFailed  LoadErrorCode = "BUILD_FAILED"  // evaluation failed
	ErrCodeUnknownField LoadErrorCode = "UNKNOWN_FIELD" // unexpected label
	ErrCodeInvalidType  LoadErrorCode = "INVALID_TYPE"  // unsupported field kind
	ErrCodeInvalidValue LoadErrorCode = "INVALID_VALUE" // wrong value for a known label
)

// LoadError is a schema file problem, with the CUE position when known.
type LoadError struct {
	Code    LoadErrorCode
	Path    string // e.g. "store.GroupMember.fields.groupId"
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	where := e.Path
	if e.Pos.IsValid() {
		where = fmt.Sprintf("%s:%d:%d", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column())
		if e.Path != "" {
			where += " " + e.Path
		}
	}
	if where == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", where, e.Code, e.Message)
}

// IsLoadError reports whether err is or wraps a *LoadError.
func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}

// fromCUE converts a CUE evaluation error, keeping the first position.
func fromCUE(code LoadErrorCode, path string, err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Code: code, Path: path, Message: err.Error()}
	}
	first := errs[0]
	le := &LoadError{Code: code, Path: path, Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		le.Pos = positions[0]
	}
	return le
}
