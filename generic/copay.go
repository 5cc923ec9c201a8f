/*
copay.go - Copay and service transaction limit calculators

PURPOSE:
  Pure functions that split a bill between the wallet and the member.
  Validation and commit both call these with the same inputs, so the
  results must be deterministic (round half-up, whole rupees).

ORDER OF OPERATIONS:
  1. Copay is taken off the bill first.
  2. The per-service limit then caps what the insurer pays out of the
     remainder. Anything over the cap is excess, paid by the member.

  bill=5000, copay=200, limit=3000
    eligible  = 5000 - 200   = 4800
    insurance = min(4800, 3000) = 3000
    excess    = 4800 - 3000  = 1800
    member    = 200 + 1800   = 2000

SEE ALSO:
  - breakdown.go: Combines both into a booking payment breakdown
*/
package generic

import "github.com/shopspring/decimal"

// =============================================================================
// COPAY CALCULATOR
// =============================================================================

type CopayResult struct {
	BillAmount        decimal.Decimal `json:"billAmount"`
	CopayAmount       decimal.Decimal `json:"copayAmount"`
	WalletDebitAmount decimal.Decimal `json:"walletDebitAmount"`
}

// CalculateCopay splits a bill into copay and wallet-eligible parts.
// With no copay config the wallet pays the full bill.
func CalculateCopay(bill decimal.Decimal, copay *CopayConfig) CopayResult {
	copayAmount := decimal.Zero
	if copay != nil {
		switch copay.Mode {
		case CopayPercent:
			copayAmount = RoundRupees(bill.Mul(copay.Value).Div(decimal.NewFromInt(100)))
		case CopayAmount:
			copayAmount = minDecimal(copay.Value, bill)
		}
	}
	return CopayResult{
		BillAmount:        bill,
		CopayAmount:       copayAmount,
		WalletDebitAmount: bill.Sub(copayAmount),
	}
}

// =============================================================================
// SERVICE TRANSACTION LIMIT CALCULATOR
// =============================================================================

type ServiceLimitResult struct {
	InsuranceEligibleAmount decimal.Decimal `json:"insuranceEligibleAmount"`
	InsurancePayment        decimal.Decimal `json:"insurancePayment"`
	ExcessAmount            decimal.Decimal `json:"excessAmount"`
	TotalMemberPayment      decimal.Decimal `json:"totalMemberPayment"`
	WasLimitApplied         bool            `json:"wasLimitApplied"`
}

// CalculateServiceLimit applies an optional per-service cap to the
// insurer's share. A nil or non-positive limit means no cap.
func CalculateServiceLimit(bill, copayAmount decimal.Decimal, limit *decimal.Decimal) ServiceLimitResult {
	eligible := bill.Sub(copayAmount)
	if limit == nil || !limit.IsPositive() {
		return ServiceLimitResult{
			InsuranceEligibleAmount: eligible,
			InsurancePayment:        eligible,
			ExcessAmount:            decimal.Zero,
			TotalMemberPayment:      copayAmount,
		}
	}

	insurance := minDecimal(eligible, *limit)
	excess := eligible.Sub(insurance)
	return ServiceLimitResult{
		InsuranceEligibleAmount: eligible,
		InsurancePayment:        insurance,
		ExcessAmount:            excess,
		TotalMemberPayment:      copayAmount.Add(excess),
		WasLimitApplied:         excess.IsPositive(),
	}
}

// GetServiceLimit looks up the cap for serviceKey in the resolved benefit.
// Returns nil when the benefit or the key is absent.
func GetServiceLimit(plan *PlanConfig, category CategoryCode, serviceKey string, relationship Relationship) *decimal.Decimal {
	b := ResolveBenefit(plan, category, relationship)
	if b == nil || serviceKey == "" {
		return nil
	}
	limit, ok := b.ServiceTransactionLimits[serviceKey]
	if !ok {
		return nil
	}
	return &limit
}
