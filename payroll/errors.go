/*
errors.go - Centralized error types for the payroll engine

PURPOSE:
  All error types in one place. Stores translate driver errors into these
  sentinels so callers never match on SQL error text.

ERROR CATEGORIES:
  1. Validation errors - bad dates, inverted periods, hours/days mismatch
  2. State conflicts   - closed runs, empty runs, duplicate periods
  3. Not found         - unknown employee, entry or run

USAGE:
  if errors.Is(err, payroll.ErrRunAlreadyClosed) {
      // reject, nothing was written
  }

SEE ALSO:
  - validation.go: Builds ValidationError
  - api/handlers.go: Maps categories to HTTP status codes
*/
package payroll

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the parent of every ValidationError.
	ErrValidation = errors.New("validation failed")

	ErrInvalidDate = errors.New("invalid date")

	// ErrInvalidPeriod is returned when a period is missing a bound or ends before it starts.
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrUnknownWorkerType is returned when a worker type has no pay policy.
	ErrUnknownWorkerType = errors.New("unknown worker type")

	// ErrWorkerTypeMismatch is returned when an entry's hours/days do not fit
	// its employee's worker type.
	ErrWorkerTypeMismatch = errors.New("work entry does not match worker type")

	// ErrRunAlreadyClosed is returned when closing (or writing to) a closed run.
	ErrRunAlreadyClosed = errors.New("already closed")

	// ErrRunHasNoEntries is returned when closing a run with no attached entries.
	ErrRunHasNoEntries = errors.New("no work entries to process")

	// ErrRunClosed is returned when attaching entries to, or deleting, a closed run.
	ErrRunClosed = errors.New("payroll run is closed")

	ErrDuplicateRunPeriod = errors.New("payroll run already exists for this period")
	ErrDuplicateWorkEntry = errors.New("work entry already exists for this employee and period")
	ErrEntryAlreadyPaid   = errors.New("work entry is already paid")
	ErrEntryNotPaid       = errors.New("work entry is not paid")
	ErrEmployeeNotFound   = errors.New("employee not found")
	ErrWorkEntryNotFound  = errors.New("work entry not found")
	ErrRunNotFound        = errors.New("payroll run not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationIssue names one offending field.
type ValidationIssue struct {
	Field  string
	Reason string
}

// ValidationError collects every issue found in one input.
type ValidationError struct {
	Issues []ValidationIssue
	cause  error
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.Field + ": " + issue.Reason
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes both ErrValidation and the more specific cause, if any.
func (e *ValidationError) Unwrap() []error {
	if e.cause != nil {
		return []error{ErrValidation, e.cause}
	}
	return []error{ErrValidation}
}

// WorkerTypeMismatchError reports which quantity field was wrong.
type WorkerTypeMismatchError struct {
	EmployeeID EmployeeID
	WorkerType WorkerType
	Field      string
	Reason     string
}

func (e *WorkerTypeMismatchError) Error() string {
	return fmt.Sprintf("employee %d is %s: %s %s", e.EmployeeID, e.WorkerType, e.Field, e.Reason)
}

func (e *WorkerTypeMismatchError) Unwrap() error {
	return ErrWorkerTypeMismatch
}

// BulkError reports the position of the failing item in a bulk request.
type BulkError struct {
	Index int
	Err   error
}

func (e *BulkError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e *BulkError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrUnknownWorkerType) ||
		errors.Is(err, ErrWorkerTypeMismatch) ||
		errors.Is(err, ErrRunAlreadyClosed) ||
		errors.Is(err, ErrRunHasNoEntries)
}

// IsConflict returns true if the error is a uniqueness or state conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateRunPeriod) ||
		errors.Is(err, ErrDuplicateWorkEntry) ||
		errors.Is(err, ErrEntryAlreadyPaid) ||
		errors.Is(err, ErrEntryNotPaid) ||
		errors.Is(err, ErrRunClosed)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEmployeeNotFound) ||
		errors.Is(err, ErrWorkEntryNotFound) ||
		errors.Is(err, ErrRunNotFound)
}

// Issues extracts validation issues from err, sorted by field.
func Issues(err error) []ValidationIssue {
	var ve *ValidationError
	if !errors.As(err, &ve) {
		return nil
	}
	out := append([]ValidationIssue(nil), ve.Issues...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}
