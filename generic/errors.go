/*
errors.go - Centralized error types for the benefit wallet engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Service packages and the HTTP layer match on these with errors.Is
  and errors.As rather than on strings.

ERROR CATEGORIES:
  1. Validation     - Malformed input, rejected before any mutation
  2. Not found      - Wallet, assignment, plan config or booking absent
  3. Balance        - Insufficient wallet or category balance
  4. Conflict       - Duplicate wallet, slot already full
  5. State          - Illegal lifecycle transition
  6. External       - Payment/refund collaborator failures
  7. Forbidden      - Actor role not allowed to perform the operation

USAGE:
  Every kind sentinel wraps one category sentinel, so callers can match
  at either level:

    if errors.Is(err, generic.ErrCategoryNotFound) { ... }  // specific
    if generic.IsNotFound(err) { ... }                       // category

SEE ALSO:
  - ledger.go: Balance and wallet errors
  - lifecycle.go: State and payment errors
  - api/handlers.go: HTTP status mapping
*/
package generic

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrConflict            = errors.New("conflict")
	ErrInvalidState        = errors.New("invalid state transition")
	ErrExternalDependency  = errors.New("external dependency failed")
	ErrForbidden           = errors.New("forbidden")

	// ErrConcurrentModification is returned when a version check fails on
	// write. The ledger retries these.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// Kind sentinels. Each wraps one of the category sentinels above.
var (
	ErrWalletNotFound         = fmt.Errorf("wallet %w", ErrNotFound)
	ErrFloaterMasterNotFound  = fmt.Errorf("floater master wallet %w", ErrNotFound)
	ErrCategoryNotFound       = fmt.Errorf("category %w", ErrNotFound)
	ErrBookingNotFound        = fmt.Errorf("booking %w", ErrNotFound)
	ErrPlanConfigNotFound     = fmt.Errorf("plan config %w", ErrNotFound)
	ErrAssignmentNotFound     = fmt.Errorf("policy assignment %w", ErrNotFound)
	ErrMemberNotFound         = fmt.Errorf("member %w", ErrNotFound)
	ErrPaymentNotFound        = fmt.Errorf("payment %w", ErrNotFound)
	ErrDuplicateWallet        = fmt.Errorf("active wallet already exists: %w", ErrConflict)
	ErrSlotUnavailable        = fmt.Errorf("slot unavailable: %w", ErrConflict)
	ErrWalletHasDependents    = fmt.Errorf("floater master still has dependent wallets: %w", ErrConflict)
	ErrCategoryNotCovered     = fmt.Errorf("category not covered by plan: %w", ErrValidation)
	ErrCreditExceedsConsumed  = fmt.Errorf("credit exceeds consumed amount: %w", ErrValidation)
	ErrNonPositiveAmount      = fmt.Errorf("amount must be positive: %w", ErrValidation)
	ErrCancellationCutoff     = fmt.Errorf("cancellation window closed: %w", ErrInvalidState)
	ErrScheduledTimeNotPassed = fmt.Errorf("scheduled time has not passed: %w", ErrInvalidState)
	ErrPaymentNotCompleted    = fmt.Errorf("payment not completed: %w", ErrInvalidState)
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
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

// NewValidationError is a shorthand for &ValidationError{...}.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InsufficientBalanceError reports available vs required amounts so callers
// can offer partial wallet use.
type InsufficientBalanceError struct {
	WalletID     WalletID
	CategoryCode CategoryCode
	Scope        string // "total" or "category"
	Available    decimal.Decimal
	Required     decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance for %s: available %s, required %s",
		e.Scope, e.CategoryCode, e.Available.StringFixed(2), e.Required.StringFixed(2))
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// Shortfall is Required - Available, never negative.
func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return nonNegative(e.Required.Sub(e.Available))
}

// StateError describes an illegal lifecycle transition.
type StateError struct {
	BookingID BookingID
	From      BookingStatus
	Action    string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s booking %s in status %s", e.Action, e.BookingID, e.From)
}

func (e *StateError) Unwrap() error {
	return ErrInvalidState
}

// CutoffError is returned when a member cancels inside the cutoff window.
type CutoffError struct {
	BookingID   BookingID
	ScheduledAt time.Time
	Cutoff      time.Duration
}

func (e *CutoffError) Error() string {
	return fmt.Sprintf("booking %s cannot be cancelled within %s of %s",
		e.BookingID, e.Cutoff, e.ScheduledAt.Format(time.RFC3339))
}

func (e *CutoffError) Unwrap() error {
	return ErrCancellationCutoff
}

// RoleError is returned when the actor's role may not perform an action.
type RoleError struct {
	Role   ActorRole
	Action string
}

func (e *RoleError) Error() string {
	return fmt.Sprintf("%s requires an admin, got %s", e.Action, e.Role)
}

func (e *RoleError) Unwrap() error {
	return ErrForbidden
}

// ExternalDependencyError wraps a failure from a collaborator service.
type ExternalDependencyError struct {
	Service string
	Op      string
	Err     error
}

func (e *ExternalDependencyError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.Service, e.Op, e.Err)
}

func (e *ExternalDependencyError) Unwrap() []error {
	return []error{ErrExternalDependency, e.Err}
}

// PaymentProcessingError is the user-facing failure returned when booking
// creation could not move money. The booking has already been removed.
type PaymentProcessingError struct {
	BookingID BookingID
	Err       error
}

func (e *PaymentProcessingError) Error() string {
	return "payment processing failed: " + e.Err.Error()
}

func (e *PaymentProcessingError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the caller's input or
// the current state of the booking/wallet.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrForbidden)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
