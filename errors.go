package strata

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("strata: entity not found")

	// ErrNotSingular is returned when a query that expects exactly one
	// result returns zero or multiple results.
	ErrNotSingular = errors.New("strata: entity not singular")

	// ErrConflict is returned when a versioned update affects zero rows
	// because the row changed or disappeared concurrently.
	ErrConflict = errors.New("strata: concurrent modification conflict")

	// ErrNoBaseline is returned when the merge strategy runs without a
	// baseline snapshot to diff against.
	ErrNoBaseline = errors.New("strata: merge requires a baseline snapshot")
)

// NotFoundError represents an error when an entity is not found.
type NotFoundError struct {
	label string
	id    any // Optional: the ID that was searched for
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.id != nil {
		return fmt.Sprintf("strata: %s not found (id=%v)", e.label, e.id)
	}
	return fmt.Sprintf("strata: %s not found", e.label)
}

// Is reports whether the target error matches NotFoundError.
// This allows errors.Is(notFoundErr, ErrNotFound) to return true.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Label returns the entity label.
func (e *NotFoundError) Label() string {
	return e.label
}

// ID returns the ID that was searched for, if available.
func (e *NotFoundError) ID() any {
	return e.id
}

// NewNotFoundError returns a new NotFoundError for the given entity type.
func NewNotFoundError(label string) *NotFoundError {
	return &NotFoundError{label: label}
}

// NewNotFoundErrorWithID returns a new NotFoundError with the ID that
// was searched for.
func NewNotFoundErrorWithID(label string, id any) *NotFoundError {
	return &NotFoundError{label: label, id: id}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// NotSingularError represents an error when a query expects a singular
// result but receives zero or multiple results.
type NotSingularError struct {
	label string
	count int // Number of results returned (-1 if unknown)
}

// Error returns the error string.
func (e *NotSingularError) Error() string {
	if e.count >= 0 {
		return fmt.Sprintf("strata: %s not singular (got %d results, expected 1)", e.label, e.count)
	}
	return fmt.Sprintf("strata: %s not singular", e.label)
}

// Is reports whether the target error matches NotSingularError.
func (e *NotSingularError) Is(err error) bool {
	return err == ErrNotSingular
}

// Label returns the entity label.
func (e *NotSingularError) Label() string {
	return e.label
}

// Count returns the number of results, or -1 if unknown.
func (e *NotSingularError) Count() int {
	return e.count
}

// NewNotSingularError returns a new NotSingularError for the given entity type.
func NewNotSingularError(label string) *NotSingularError {
	return &NotSingularError{label: label, count: -1}
}

// NewNotSingularErrorWithCount returns a new NotSingularError with the
// result count.
func NewNotSingularErrorWithCount(label string, count int) *NotSingularError {
	return &NotSingularError{label: label, count: count}
}

// IsNotSingular returns true if the error is a NotSingularError.
func IsNotSingular(err error) bool {
	if err == nil {
		return false
	}
	var e *NotSingularError
	return errors.As(err, &e) || errors.Is(err, ErrNotSingular)
}

// ConflictError represents an optimistic-concurrency conflict: a
// versioned update matched zero rows because the row was modified or
// deleted concurrently.
type ConflictError struct {
	label   string
	id      any
	version int64 // The version the update expected.
}

// Error returns the error string.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("strata: %s (id=%v) was modified concurrently (expected version %d)", e.label, e.id, e.version)
}

// Is reports whether the target error matches ConflictError.
func (e *ConflictError) Is(err error) bool {
	return err == ErrConflict
}

// Label returns the entity label.
func (e *ConflictError) Label() string {
	return e.label
}

// ID returns the primary key of the conflicting entity.
func (e *ConflictError) ID() any {
	return e.id
}

// ExpectedVersion returns the version the failed update expected to
// find.
func (e *ConflictError) ExpectedVersion() int64 {
	return e.version
}

// NewConflictError returns a new ConflictError for the given entity.
func NewConflictError(label string, id any, version int64) *ConflictError {
	return &ConflictError{label: label, id: id, version: version}
}

// IsConflict returns true if the error is a ConflictError.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	var e *ConflictError
	return errors.As(err, &e) || errors.Is(err, ErrConflict)
}

// ValidationError represents a validation error for field values.
type ValidationError struct {
	Name string // Field or entity name
	Err  error  // Underlying validation error
}

// Error returns the error string.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("strata: validator failed for field %q: %s", e.Name, e.Err)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError returns a new ValidationError for the given field.
func NewValidationError(name string, err error) *ValidationError {
	return &ValidationError{Name: name, Err: err}
}

// IsValidationError returns true if the error is a ValidationError.
func IsValidationError(err error) bool {
	if err == nil {
		return false
	}
	var e *ValidationError
	return errors.As(err, &e)
}
