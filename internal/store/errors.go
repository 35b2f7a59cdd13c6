package store

import (
	"errors"
	"strconv"
)

// ErrValidation matches every ValidationError with errors.Is.
var ErrValidation = errors.New("validation failed")

// ErrInsertFailed is returned when an insert produced no generated id.
var ErrInsertFailed = errors.New("failed to insert")

// ValidationError reports input rejected before any SQL was issued.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func quote(s string) string { return strconv.Quote(s) }
