/*
errors.go - Centralized error types for the ledger

PURPOSE:
  The reducer is total and never reports errors. Errors exist only at the
  action layer boundary (package tutor), which rejects a command before
  anything is dispatched. They are declared here so every caller (action
  layer, HTTP surface, tests) matches on the same values.

ERROR CATEGORIES:
  1. Validation - missing required field, non-positive quantity
  2. Exhaustion - a package has no slots left when one must be consumed
  3. Reference - a package id that does not belong to the student

Not-found is deliberately NOT an error: stale ids are silent no-ops.
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when a command carries invalid input.
	ErrValidation = errors.New("validation failed")

	// ErrNoLessonsLeft is returned when a compound update needs to consume a
	// slot from a package that has none remaining.
	ErrNoLessonsLeft = errors.New("no lessons left in package")

	// ErrPackageNotFound is returned when a command references a package the
	// student does not own.
	ErrPackageNotFound = errors.New("package not found")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Invalid builds a ValidationError.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// ExhaustedError reports which package ran out of slots.
type ExhaustedError struct {
	StudentID string
	PackageID string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("package %s of student %s has no lessons left", e.PackageID, e.StudentID)
}

func (e *ExhaustedError) Unwrap() error {
	return ErrNoLessonsLeft
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrPackageNotFound)
}

// IsConflict returns true if the command was well formed but the ledger
// cannot honour it in its current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrNoLessonsLeft)
}
