package generic

// =============================================================================
// BENEFIT / COPAY RESOLUTION
// =============================================================================
//
// Resolution order, for both lookups:
//   1. memberConfigs[relationship] override, when relationship is given
//   2. the plan-wide default
//   3. nil
//
// No side effects. Callers treat nil as "not configured".

// ResolveBenefit returns the benefit configuration for a category.
func ResolveBenefit(plan *PlanConfig, category CategoryCode, relationship Relationship) *Benefit {
	if plan == nil {
		return nil
	}
	if relationship != "" {
		if mc := plan.MemberConfigs[relationship]; mc != nil {
			if b, ok := mc.Benefits[category]; ok && b != nil {
				return b
			}
		}
	}
	if b, ok := plan.Benefits[category]; ok && b != nil {
		return b
	}
	return nil
}

// ResolveCopay returns the copay configuration for a relationship.
func ResolveCopay(plan *PlanConfig, relationship Relationship) *CopayConfig {
	if plan == nil {
		return nil
	}
	if relationship != "" {
		if mc := plan.MemberConfigs[relationship]; mc != nil && mc.Wallet != nil && mc.Wallet.Copay != nil {
			return mc.Wallet.Copay
		}
	}
	return plan.Wallet.Copay
}
