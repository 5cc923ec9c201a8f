package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PAYMENT BREAKDOWN
// =============================================================================

// PaymentBreakdown is the money side of a booking. The lifecycle computes it
// once per request with ComputeBreakdown; quoting and committing call the
// same function so both see identical amounts.
type PaymentBreakdown struct {
	BillAmount              decimal.Decimal  `json:"billAmount"`
	CopayAmount             decimal.Decimal  `json:"copayAmount"`
	InsuranceEligibleAmount decimal.Decimal  `json:"insuranceEligibleAmount"`
	ServiceTransactionLimit *decimal.Decimal `json:"serviceTransactionLimit,omitempty"`
	InsurancePayment        decimal.Decimal  `json:"insurancePayment"`
	ExcessAmount            decimal.Decimal  `json:"excessAmount"`
	TotalMemberPayment      decimal.Decimal  `json:"totalMemberPayment"`
	WalletDebitAmount       decimal.Decimal  `json:"walletDebitAmount"`
	WasLimitApplied         bool             `json:"wasLimitApplied"`
	SelfPayOnly             bool             `json:"selfPayOnly,omitempty"`
}

// ComputeBreakdown resolves benefit and copay for the relationship, applies
// copay then the per-service limit, and returns the split.
//
// A self-pay-only category (enabled=false, vasEnabled=true) routes the full
// bill to the member. A category that is neither enabled nor self-pay is
// rejected with ErrCategoryNotCovered.
func ComputeBreakdown(plan *PlanConfig, category CategoryCode, serviceKey string, relationship Relationship, bill decimal.Decimal) (PaymentBreakdown, error) {
	if !bill.IsPositive() {
		return PaymentBreakdown{}, NewValidationError("billAmount", "must be positive, got %s", bill)
	}

	benefit := ResolveBenefit(plan, category, relationship)
	if benefit == nil || (!benefit.Enabled && !benefit.VASEnabled) {
		return PaymentBreakdown{}, fmt.Errorf("%w: %s", ErrCategoryNotCovered, category)
	}

	if benefit.SelfPayOnly() {
		return PaymentBreakdown{
			BillAmount:              bill,
			CopayAmount:             decimal.Zero,
			InsuranceEligibleAmount: decimal.Zero,
			InsurancePayment:        decimal.Zero,
			ExcessAmount:            decimal.Zero,
			TotalMemberPayment:      bill,
			WalletDebitAmount:       decimal.Zero,
			SelfPayOnly:             true,
		}, nil
	}

	copay := CalculateCopay(bill, ResolveCopay(plan, relationship))
	limit := GetServiceLimit(plan, category, serviceKey, relationship)
	sl := CalculateServiceLimit(bill, copay.CopayAmount, limit)

	return PaymentBreakdown{
		BillAmount:              bill,
		CopayAmount:             copay.CopayAmount,
		InsuranceEligibleAmount: sl.InsuranceEligibleAmount,
		ServiceTransactionLimit: limit,
		InsurancePayment:        sl.InsurancePayment,
		ExcessAmount:            sl.ExcessAmount,
		TotalMemberPayment:      sl.TotalMemberPayment,
		WalletDebitAmount:       sl.InsurancePayment,
		WasLimitApplied:         sl.WasLimitApplied,
	}, nil
}

// outOfPocket rewrites the breakdown so the member pays the whole bill and
// the wallet is untouched.
func (p PaymentBreakdown) outOfPocket() PaymentBreakdown {
	p.TotalMemberPayment = p.BillAmount
	p.WalletDebitAmount = decimal.Zero
	return p
}
