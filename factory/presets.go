package factory

import "encoding/json"

// =============================================================================
// PRESET PLANS
// =============================================================================
//
// Plan documents used by the demo scenarios and tests. They are built as
// JSON so they go through the same parsing and validation as published
// plans.

// IndividualPlanJSON returns a plan with consultation, lab and diagnostics
// covered up to categoryLimit each, a percent copay, and a total wallet of
// 3 x categoryLimit.
func IndividualPlanJSON(policyID string, categoryLimit, copayPercent float64) string {
	pj := map[string]interface{}{
		"policyId": policyID,
		"version":  1,
		"name":     "Individual " + policyID,
		"benefits": map[string]interface{}{
			"CAT001": map[string]interface{}{"enabled": true, "annualLimit": categoryLimit},
			"CAT003": map[string]interface{}{"enabled": true, "annualLimit": categoryLimit},
			"CAT004": map[string]interface{}{"enabled": true, "annualLimit": categoryLimit},
		},
		"wallet": map[string]interface{}{
			"totalAnnualAmount": categoryLimit * 3,
			"allocationType":    "INDIVIDUAL",
			"copay":             map[string]interface{}{"mode": "PERCENT", "value": copayPercent},
		},
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}

// FloaterFamilyPlanJSON returns a family floater plan sharing totalAmount
// across the household. Parents pay a higher copay and consultations are
// capped per visit.
func FloaterFamilyPlanJSON(policyID string, totalAmount float64) string {
	pj := map[string]interface{}{
		"policyId": policyID,
		"version":  1,
		"name":     "Family Floater " + policyID,
		"benefits": map[string]interface{}{
			"CAT001": map[string]interface{}{
				"enabled":     true,
				"annualLimit": totalAmount / 2,
				"serviceTransactionLimits": map[string]interface{}{
					"IN_CLINIC": 1500,
					"ONLINE":    600,
				},
			},
			"CAT004": map[string]interface{}{"enabled": true, "annualLimit": totalAmount / 4},
			"CAT006": map[string]interface{}{
				"enabled":     true,
				"annualLimit": totalAmount / 4,
				"serviceTransactionLimits": map[string]interface{}{
					"ROOT_CANAL": 4000,
				},
			},
			"CAT007": map[string]interface{}{"enabled": true, "annualLimit": totalAmount / 10},
		},
		"wallet": map[string]interface{}{
			"totalAnnualAmount": totalAmount,
			"allocationType":    "FLOATER",
			"copay":             map[string]interface{}{"mode": "PERCENT", "value": 10},
		},
		"memberConfigs": map[string]interface{}{
			"PARENT": map[string]interface{}{
				"wallet": map[string]interface{}{
					"copay": map[string]interface{}{"mode": "PERCENT", "value": 30},
				},
			},
		},
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}

// VisionSelfPayPlanJSON returns a plan where consultations are covered
// with a flat copay and vision (CAT007) is visible but self-pay only.
func VisionSelfPayPlanJSON(policyID string, consultationLimit, flatCopay float64) string {
	pj := map[string]interface{}{
		"policyId": policyID,
		"version":  1,
		"name":     "Basic " + policyID,
		"benefits": map[string]interface{}{
			"CAT001": map[string]interface{}{"enabled": true, "annualLimit": consultationLimit},
			"CAT007": map[string]interface{}{"enabled": false, "vasEnabled": true},
		},
		"wallet": map[string]interface{}{
			"allocationType": "INDIVIDUAL",
			"copay":          map[string]interface{}{"mode": "AMOUNT", "value": flatCopay},
		},
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}
