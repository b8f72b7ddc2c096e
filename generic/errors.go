/*
errors.go - Centralized error taxonomy for the vacation ledger

PURPOSE:
  All error kinds in one place for consistency and discoverability.
  Stores classify driver errors into these kinds before returning, so
  callers never have to look at storage-engine text to decide what happened.

ERROR CATEGORIES:
  1. Validation errors - Malformed or missing input (user-correctable)
  2. Ledger errors     - Business rule violations (balance, range, overlap)
  3. Store errors      - Uniqueness, lookup, serialization and I/O failures

USAGE:
  Callers branch with errors.Is / errors.As:

    if errors.Is(err, generic.ErrInsufficientBalance) {
        var ibe *generic.InsufficientBalanceError
        errors.As(err, &ibe)
        ...
    }

  KindOf(err) collapses any error into a stable code string for transports.

SEE ALSO:
  - store.go: Store contract that returns these errors
  - timeoff/ledger.go: Reconciliation engine
  - api/handlers.go: Maps kinds to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed or missing input.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidDateFormat is returned when a date is not YYYY-MM-DD.
	ErrInvalidDateFormat = fmt.Errorf("%w: invalid date format", ErrValidation)

	// ErrInvalidArgument is returned for structurally invalid arguments (e.g. id <= 0).
	ErrInvalidArgument = fmt.Errorf("%w: invalid argument", ErrValidation)

	// ErrDuplicateCredential is returned when a tax id is already used by another employee.
	ErrDuplicateCredential = errors.New("duplicate credential")

	// ErrDuplicateName is returned when a full name is already used by another employee.
	// Names are the key of manager links, so they must stay unique.
	ErrDuplicateName = errors.New("duplicate employee name")

	// ErrNotFound is returned when a referenced employee or booking doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRange is returned when a booking spans zero or fewer days.
	ErrInvalidRange = errors.New("invalid range: end before start")

	// ErrInsufficientBalance is returned when a booking exceeds the remaining days.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrOverlappingBooking is returned when a booking shares a day with another
	// booking of the same employee. A day can only be taken off once.
	ErrOverlappingBooking = errors.New("booking overlaps an existing booking")

	// ErrBusy is returned when the store could not serialize the transaction
	// within its lock timeout. The operation can be retried.
	ErrBusy = errors.New("store busy: concurrent modification")

	// ErrStorage is returned for unexpected persistence failures.
	ErrStorage = errors.New("storage failure")

	// ErrImportAborted is returned when a bulk import could not be committed.
	ErrImportAborted = errors.New("import aborted")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError lists every invalid field of one input.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError is a shortcut for a single-field validation failure.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	EmployeeID EmployeeID
	Available  int
	Requested  int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %d, requested %d, shortfall %d",
		e.Available, e.Requested, e.Requested-e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// ImportAbortedError wraps the failure that prevented a batch from committing.
type ImportAbortedError struct {
	RunID string
	Cause error
}

func (e *ImportAbortedError) Error() string {
	return fmt.Sprintf("import %s aborted: %v", e.RunID, e.Cause)
}

func (e *ImportAbortedError) Unwrap() []error {
	return []error{ErrImportAborted, e.Cause}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// Kind is a stable, transport-friendly error code.
type Kind string

const (
	KindNone                Kind = ""
	KindValidation          Kind = "validation_error"
	KindDuplicateCredential Kind = "duplicate_credential"
	KindDuplicateName       Kind = "duplicate_name"
	KindNotFound            Kind = "not_found"
	KindInvalidRange        Kind = "invalid_range"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindOverlap             Kind = "overlapping_booking"
	KindBusy                Kind = "busy"
	KindImportAborted       Kind = "import_aborted"
	KindStorage             Kind = "storage_failure"
)

// KindOf classifies err. Unknown errors are storage failures.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrImportAborted):
		return KindImportAborted
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrDuplicateCredential):
		return KindDuplicateCredential
	case errors.Is(err, ErrDuplicateName):
		return KindDuplicateName
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidRange):
		return KindInvalidRange
	case errors.Is(err, ErrInsufficientBalance):
		return KindInsufficientBalance
	case errors.Is(err, ErrOverlappingBooking):
		return KindOverlap
	case errors.Is(err, ErrBusy):
		return KindBusy
	default:
		return KindStorage
	}
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindDuplicateCredential, KindDuplicateName, KindNotFound,
		KindInvalidRange, KindInsufficientBalance, KindOverlap:
		return true
	}
	return false
}
