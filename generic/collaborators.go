/*
collaborators.go - Narrow interfaces to services outside the engine

PURPOSE:
  The ledger and lifecycle depend only on these interfaces. Concrete
  implementations live in payments/, ids/, cache/, mq/ and store/sqlite,
  and are injected in cmd/server/main.go.

  PlanConfigService        read a validated plan config (optionally a version)
  AssignmentsService       a user's policy assignments, first = active
  MemberDirectory          memberId -> userId, used for floater dependents
  IDGenerator              monotonic transaction/payment/booking IDs
  PaymentService           member payment requests and refunds
  TransactionSummaryService breakdown record per booking
  InvoiceService           invoice generation on completion
  EventPublisher           domain events
*/
package generic

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PLAN / ASSIGNMENT / MEMBER
// =============================================================================

type PlanConfigService interface {
	// GetConfig returns ErrPlanConfigNotFound when absent. A nil version
	// means the latest published version.
	GetConfig(ctx context.Context, policyID PolicyID, version *int) (*PlanConfig, error)
}

type Assignment struct {
	ID              AssignmentID `json:"id" db:"id"`
	UserID          UserID       `json:"userId" db:"user_id"`
	PolicyID        PolicyID     `json:"policyId" db:"policy_id"`
	PlanVersion     *int         `json:"planVersion,omitempty" db:"plan_version"`
	Relationship    Relationship `json:"relationship" db:"relationship"`
	PrimaryMemberID *MemberID    `json:"primaryMemberId,omitempty" db:"primary_member_id"`
	EffectiveFrom   time.Time    `json:"effectiveFrom" db:"effective_from"`
	EffectiveTo     time.Time    `json:"effectiveTo" db:"effective_to"`
}

type AssignmentsService interface {
	// GetUserAssignments returns the user's assignments; the first is the
	// active one.
	GetUserAssignments(ctx context.Context, userID UserID) ([]Assignment, error)
}

type MemberDirectory interface {
	UserIDForMember(ctx context.Context, memberID MemberID) (UserID, error)
}

// =============================================================================
// IDS
// =============================================================================

type IDGenerator interface {
	NewTransactionID(ctx context.Context) (TransactionID, error)
	NewPaymentID(ctx context.Context) (PaymentID, error)
	NewBookingID(ctx context.Context, prefix string) (BookingID, error)
}

// =============================================================================
// PAYMENTS
// =============================================================================

type PaymentType string

const (
	PaymentTypeCopay       PaymentType = "COPAY"
	PaymentTypeOutOfPocket PaymentType = "OUT_OF_POCKET"
	PaymentTypeShortfall   PaymentType = "WALLET_SHORTFALL"
)

type PaymentRequest struct {
	UserID             UserID          `json:"userId"`
	Amount             decimal.Decimal `json:"amount"`
	PaymentType        PaymentType     `json:"paymentType"`
	ServiceType        ServiceType     `json:"serviceType"`
	ServiceID          BookingID       `json:"serviceId"`
	ServiceReferenceID string          `json:"serviceReferenceId"`
	Description        string          `json:"description"`
}

type Payment struct {
	PaymentID   PaymentID       `json:"paymentId" db:"payment_id"`
	UserID      UserID          `json:"userId" db:"user_id"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	PaymentType PaymentType     `json:"paymentType" db:"payment_type"`
	ServiceType ServiceType     `json:"serviceType" db:"service_type"`
	ServiceID   BookingID       `json:"serviceId" db:"service_id"`
	Description string          `json:"description" db:"description"`
	Status      PaymentStatus   `json:"status" db:"status"`
	Method      string          `json:"method,omitempty" db:"method"`
	PaidAt      *time.Time      `json:"paidAt,omitempty" db:"paid_at"`
	RefundedAt  *time.Time      `json:"refundedAt,omitempty" db:"refunded_at"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
}

type Refund struct {
	PaymentID PaymentID       `json:"paymentId"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
}

type PaymentService interface {
	CreatePaymentRequest(ctx context.Context, req PaymentRequest) (*Payment, error)
	// ProcessRefund fails with ErrPaymentNotCompleted when nothing was
	// charged.
	ProcessRefund(ctx context.Context, paymentID PaymentID, reason string) (*Refund, error)
}

// PaymentListener is notified when a member payment clears.
type PaymentListener interface {
	OnPaymentCompleted(ctx context.Context, p Payment) error
}

// =============================================================================
// SUMMARIES / INVOICES
// =============================================================================

type TransactionSummary struct {
	ID            string        `json:"id"`
	UserID        UserID        `json:"userId"`
	PatientID     UserID        `json:"patientId"`
	ServiceType   ServiceType   `json:"serviceType"`
	BookingID     BookingID     `json:"bookingId"`
	CategoryCode  CategoryCode  `json:"categoryCode"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
	PaymentBreakdown
	WalletTransactionID TransactionID `json:"walletTransactionId,omitempty"`
	PaymentID           PaymentID     `json:"paymentId,omitempty"`
	CreatedAt           time.Time     `json:"createdAt"`
}

type TransactionSummaryService interface {
	CreateTransaction(ctx context.Context, s TransactionSummary) (*TransactionSummary, error)
}

type InvoiceRequest struct {
	BookingID   BookingID       `json:"bookingId"`
	ServiceType ServiceType     `json:"serviceType"`
	UserID      UserID          `json:"userId"`
	PatientID   UserID          `json:"patientId"`
	BillAmount  decimal.Decimal `json:"billAmount"`
	PaymentID   PaymentID       `json:"paymentId,omitempty"`
	CompletedAt time.Time       `json:"completedAt"`
}

type InvoiceService interface {
	GenerateInvoice(ctx context.Context, req InvoiceRequest) error
}

// =============================================================================
// EVENTS
// =============================================================================

type EventPublisher interface {
	PublishJSON(ctx context.Context, routingKey string, payload any) error
}

type noopPublisher struct{}

func (noopPublisher) PublishJSON(context.Context, string, any) error { return nil }
