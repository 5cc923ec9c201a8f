/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes that are specific to the HTTP surface. Domain types that
  already carry json tags (Wallet, Booking, Quote, Payment) are returned
  as they are.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

SEE ALSO:
  - handlers.go: Uses these types
  - factory/plan.go: PlanJSON type
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/carepay/benefit-wallet/factory"
	"github.com/carepay/benefit-wallet/generic"
)

// =============================================================================
// PLANS / MEMBERS / ASSIGNMENTS
// =============================================================================

type PlanDTO struct {
	PolicyID        string           `json:"policyId"`
	Version         int              `json:"version"`
	Name            string           `json:"name"`
	TotalAllocation decimal.Decimal  `json:"totalAllocation"`
	Config          factory.PlanJSON `json:"config"`
}

type CreateMemberRequest struct {
	MemberID string `json:"memberId"`
	UserID   string `json:"userId"`
	Name     string `json:"name"`
}

// CreateAssignmentRequest assigns a plan to a user and initializes the
// wallet. Dates are YYYY-MM-DD; effectiveTo defaults to one year.
type CreateAssignmentRequest struct {
	ID              string  `json:"id"`
	UserID          string  `json:"userId"`
	PolicyID        string  `json:"policyId"`
	PlanVersion     *int    `json:"planVersion,omitempty"`
	Relationship    string  `json:"relationship"`
	PrimaryMemberID *string `json:"primaryMemberId,omitempty"`
	EffectiveFrom   string  `json:"effectiveFrom"`
	EffectiveTo     string  `json:"effectiveTo,omitempty"`
}

type AssignmentDTO struct {
	Assignment generic.Assignment `json:"assignment"`
	Wallet     *generic.Wallet    `json:"wallet"`
}

// =============================================================================
// WALLETS
// =============================================================================

type WalletAmountRequest struct {
	Amount       decimal.Decimal `json:"amount"`
	CategoryCode string          `json:"categoryCode"`
	BookingID    string          `json:"bookingId,omitempty"`
	ServiceType  string          `json:"serviceType,omitempty"`
	Notes        string          `json:"notes,omitempty"`
}

type DeleteWalletsDTO struct {
	AssignmentID string `json:"assignmentId"`
	Deleted      int    `json:"deleted"`
}

// =============================================================================
// BOOKINGS / PAYMENTS
// =============================================================================

type CancelRequest struct {
	Reason string `json:"reason"`
}

type MarkPaidRequest struct {
	Method string `json:"method"`
}

type SweepDTO struct {
	ServiceType string `json:"serviceType"`
	Marked      int    `json:"marked"`
}

// =============================================================================
// SCENARIOS / ERRORS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Field   string `json:"field,omitempty"`

	// Set for insufficient balance.
	Available *decimal.Decimal `json:"available,omitempty"`
	Required  *decimal.Decimal `json:"required,omitempty"`
}
