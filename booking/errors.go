/*
errors.go - Error taxonomy for the scheduling engine

PURPOSE:
  All error types in one place. The HTTP layer maps these to status codes;
  callers use errors.Is / errors.As and never match on strings.

ERROR CATEGORIES:
  1. ValidationError - structural problems, caught before any store access
  2. ConflictError   - overlap found during the preflight check
  3. TransportError  - the store (or lock service) failed; commit status is
                       "not committed" from the caller's point of view
  4. Lookup/state    - unknown inquiry, illegal status transition

SEE ALSO:
  - api/errors.go: HTTP mapping
  - scheduler/manager.go: where each class is produced
*/
package booking

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is wrapped by every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is wrapped by *ConflictError.
	ErrConflict = errors.New("schedule conflict")

	// ErrTransport is wrapped by *TransportError.
	ErrTransport = errors.New("store unavailable")

	// ErrInquiryNotFound is returned when a referenced inquiry doesn't exist.
	ErrInquiryNotFound = errors.New("inquiry not found")

	// ErrInvalidTransition is wrapped by *InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrDuplicateInquiry is returned when an inquiry id already exists.
	ErrDuplicateInquiry = errors.New("duplicate inquiry id")

	// ErrStaleInquiry is returned by stores when the inquiry changed status
	// between read and write inside a transaction.
	ErrStaleInquiry = errors.New("inquiry modified concurrently")
)

// Validation codes, stable for API clients.
const (
	CodeRequired           = "required"
	CodeInvalidFormat      = "invalid_format"
	CodeNoSlots            = "no_slots"
	CodeExceedsCap         = "exceeds_cap"
	CodeCapOutOfRange      = "cap_out_of_range"
	CodeOutsideHours       = "outside_office_hours"
	CodeClosedDate         = "closed_date"
	CodePastDate           = "past_date"
	CodeDateNotRequested   = "date_not_requested"
	CodeOverlappingSlots   = "overlapping_candidates"
	CodeReasonTooShort     = "reason_too_short"
	CodeTooManyDates       = "too_many_dates"
	CodeRangeTooLarge      = "range_too_large"
	CodeInvalidGranularity = "invalid_granularity"
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes input the engine refuses before touching the store.
type ValidationError struct {
	Field   string
	Code    string
	Message string
}

func NewValidationError(field, code, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Field, e.Code, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConflictError carries every overlap found during preflight.
type ConflictError struct {
	Conflicts []ConflictItem
}

func (e *ConflictError) Error() string {
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, fmt.Sprintf("%s %s-%s held by %s",
			c.Date, c.Start, c.End, c.InquiryID))
	}
	return fmt.Sprintf("%d conflict(s): %s", len(e.Conflicts), strings.Join(parts, "; "))
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// TransportError wraps a failure of the store or lock service.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// InvalidTransitionError reports an illegal lifecycle step.
type InvalidTransitionError struct {
	InquiryID InquiryID
	From      Status
	To        Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("inquiry %s: cannot move from %s to %s", e.InquiryID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the same call might succeed later unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrStaleInquiry)
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrDuplicateInquiry)
}

// IsNotFound returns true if the error indicates a missing inquiry.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrInquiryNotFound)
}
