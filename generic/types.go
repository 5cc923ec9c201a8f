/*
Package generic provides the core benefit wallet engine.

PURPOSE:
  This package contains the service-agnostic types and algorithms behind
  every booking type. Whether a member books a consultation, a dental
  cleaning, or a lab panel, the same engine resolves benefits, computes
  the copay/limit breakdown, moves money on the wallet ledger, and drives
  the booking through its lifecycle.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal rupee amounts, rounded half-up to whole rupees
  - Identifiers: type-safe IDs for users, wallets, bookings, payments
  - CategoryCode: stable benefit bucket codes (CAT001..CAT007)
  - ServiceType: which booking module a record belongs to

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal, never float64, for money
  2. Type Safety: Strong typing for IDs prevents mixing user/wallet IDs
  3. Auditability: Every balance change is paired with a WalletTransaction

USAGE:
  bill := generic.Rupees(1000)
  result := generic.CalculateCopay(bill, &generic.CopayConfig{
      Mode:  generic.CopayPercent,
      Value: decimal.NewFromInt(20),
  })
  // result.CopayAmount == 200, result.WalletDebitAmount == 800

SEE ALSO:
  - wallet.go: Wallet and balance records
  - ledger.go: WalletLedger operations
  - lifecycle.go: Booking state machine
*/
package generic

import (
	"github.com/shopspring/decimal"
)

func init() {
	// Amounts travel as JSON numbers on the wire, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// =============================================================================
// MONEY - Rupee amounts
// =============================================================================

// Rupees returns a whole-rupee amount.
func Rupees(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// RoundRupees rounds half-up to whole rupees.
// decimal.Round rounds half away from zero, which is half-up for the
// non-negative amounts handled here.
func RoundRupees(d decimal.Decimal) decimal.Decimal {
	return d.Round(0)
}

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type MemberID string
type WalletID string
type AssignmentID string
type PolicyID string
type TransactionID string
type BookingID string
type PaymentID string

// Relationship is the family relationship code of a covered member
// (e.g. "SELF", "SPOUSE", "CHILD"). Plan configs key overrides by it.
type Relationship string

const (
	RelationshipSelf   Relationship = "SELF"
	RelationshipSpouse Relationship = "SPOUSE"
	RelationshipChild  Relationship = "CHILD"
	RelationshipParent Relationship = "PARENT"
)

// =============================================================================
// CATEGORIES
// =============================================================================

// CategoryCode is a stable benefit bucket code shared across plan
// configuration, wallet and booking records.
type CategoryCode string

const (
	CategoryConsultation CategoryCode = "CAT001"
	CategoryPharmacy     CategoryCode = "CAT002"
	CategoryDiagnostics  CategoryCode = "CAT003"
	CategoryLab          CategoryCode = "CAT004"
	CategoryWellness     CategoryCode = "CAT005"
	CategoryDental       CategoryCode = "CAT006"
	CategoryVision       CategoryCode = "CAT007"
)

var categoryNames = map[CategoryCode]string{
	CategoryConsultation: "Consultation",
	CategoryPharmacy:     "Pharmacy",
	CategoryDiagnostics:  "Diagnostics",
	CategoryLab:          "Laboratory",
	CategoryWellness:     "Wellness",
	CategoryDental:       "Dental",
	CategoryVision:       "Vision",
}

// Name returns the display name of a known category, or the code itself.
func (c CategoryCode) Name() string {
	if n, ok := categoryNames[c]; ok {
		return n
	}
	return string(c)
}

// IsKnown reports whether the code is part of the category catalog.
func (c CategoryCode) IsKnown() bool {
	_, ok := categoryNames[c]
	return ok
}

// =============================================================================
// SERVICE TYPES
// =============================================================================

// ServiceType identifies the booking module a record belongs to.
type ServiceType string

const (
	ServiceAppointment ServiceType = "APPOINTMENT"
	ServiceDental      ServiceType = "DENTAL"
	ServiceVision      ServiceType = "VISION"
	ServiceLab         ServiceType = "LAB"
	ServiceDiagnostic  ServiceType = "DIAGNOSTIC"
)
