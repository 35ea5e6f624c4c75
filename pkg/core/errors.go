package core

import (
	"errors"
	"fmt"
)

// Sentinel errors matched through errors.Is by the typed errors below.
var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidSortCriteria  = errors.New("invalid sort criteria")
	ErrInvalidPageCriteria  = errors.New("invalid page criteria")
	ErrInvalidFacetOperator = errors.New("invalid facet operator")
	ErrNotFound             = errors.New("not found")
	ErrNoDataChanged        = errors.New("no data changed")
)

// InvalidInputError reports a malformed location, filter or argument.
type InvalidInputError struct {
	Message string
	Cause   error
}

func (e *InvalidInputError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid input: %s: %v", e.Message, e.Cause)
	}
	return "invalid input: " + e.Message
}

// Unwrap returns the underlying cause.
func (e *InvalidInputError) Unwrap() error { return e.Cause }

// Is matches ErrInvalidInput.
func (e *InvalidInputError) Is(target error) bool { return target == ErrInvalidInput }

// InvalidSortCriteriaError reports a sort column that does not exist or
// cannot be sorted on.
type InvalidSortCriteriaError struct {
	Column string
	Reason string
}

func (e *InvalidSortCriteriaError) Error() string {
	return fmt.Sprintf("invalid sort criteria: column %q %s", e.Column, e.Reason)
}

// Is matches ErrInvalidSortCriteria.
func (e *InvalidSortCriteriaError) Is(target error) bool { return target == ErrInvalidSortCriteria }

// InvalidPageCriteriaError reports a cursor whose shape does not match the
// resolved sort.
type InvalidPageCriteriaError struct {
	Expected int
	Got      int
}

func (e *InvalidPageCriteriaError) Error() string {
	return fmt.Sprintf("invalid page criteria: cursor has %d values, sort has %d columns", e.Got, e.Expected)
}

// Is matches ErrInvalidPageCriteria.
func (e *InvalidPageCriteriaError) Is(target error) bool { return target == ErrInvalidPageCriteria }

// InvalidFacetOperatorError reports a facet blob or facet JSON that cannot
// be decoded.
type InvalidFacetOperatorError struct {
	Message string
	Cause   error
}

func (e *InvalidFacetOperatorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid facet: %s: %v", e.Message, e.Cause)
	}
	return "invalid facet: " + e.Message
}

// Unwrap returns the underlying cause.
func (e *InvalidFacetOperatorError) Unwrap() error { return e.Cause }

// Is matches ErrInvalidFacetOperator.
func (e *InvalidFacetOperatorError) Is(target error) bool { return target == ErrInvalidFacetOperator }

// NotFoundError reports a missing table, column, key or constraint.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NoDataChangedError is returned by an update in which no tuple differs
// from its original.
type NoDataChangedError struct {
	Table string
}

func (e *NoDataChangedError) Error() string {
	return fmt.Sprintf("no data changed in %s", e.Table)
}

// Is matches ErrNoDataChanged.
func (e *NoDataChangedError) Is(target error) bool { return target == ErrNoDataChanged }

// TransportError wraps a failed request to the data service.
type TransportError struct {
	Method string
	Path   string
	Status int
	Body   string
	Cause  error
}

func (e *TransportError) Error() string {
	switch {
	case e.Cause != nil:
		return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Cause)
	case e.Body != "":
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
	default:
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
	}
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error { return e.Cause }

// Is maps well-known statuses onto the sentinel errors.
func (e *TransportError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == 404
	case ErrInvalidInput:
		return e.Status == 400
	}
	return false
}
