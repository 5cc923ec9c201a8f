package factory_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carepay/benefit-wallet/factory"
	"github.com/carepay/benefit-wallet/generic"
)

func TestParsePlan_Normalizes(t *testing.T) {
	doc := `{
		"policyId": " POL-GOLD ",
		"version": 2,
		"benefits": {
			"cat001": {"enabled": true, "annualLimit": 5000,
			           "serviceTransactionLimits": {"in_clinic": 1500}},
			"cat005": {"enabled": false, "vasEnabled": true},
			"CAT009": null
		},
		"wallet": {
			"totalAnnualAmount": 20000,
			"allocationType": "floater",
			"copay": {"mode": "percent", "value": 20}
		},
		"memberConfigs": {
			"parent": {"wallet": {"copay": {"mode": "amount", "value": 150}}}
		}
	}`

	plan, err := factory.NewPlanFactory().ParsePlan(doc)
	require.NoError(t, err)

	assert.Equal(t, generic.PolicyID("POL-GOLD"), plan.PolicyID)
	assert.Equal(t, 2, plan.Version)
	assert.Equal(t, generic.AllocationFloater, plan.Wallet.AllocationType)
	assert.Equal(t, generic.CopayPercent, plan.Wallet.Copay.Mode)
	assert.True(t, plan.Wallet.Copay.Value.Equal(decimal.NewFromInt(20)))

	require.Len(t, plan.Benefits, 2, "null benefit entries are dropped")
	consult := plan.Benefits[generic.CategoryConsultation]
	require.NotNil(t, consult)
	assert.True(t, consult.ServiceTransactionLimits["IN_CLINIC"].Equal(decimal.NewFromInt(1500)))
	assert.True(t, plan.Benefits[generic.CategoryWellness].SelfPayOnly())

	parent := plan.MemberConfigs[generic.RelationshipParent]
	require.NotNil(t, parent)
	require.NotNil(t, parent.Wallet)
	assert.Equal(t, generic.CopayAmount, parent.Wallet.Copay.Mode)
}

func TestParsePlan_Defaults(t *testing.T) {
	plan, err := factory.NewPlanFactory().ParsePlan(`{
		"policyId": "POL-MIN",
		"benefits": {"CAT001": {"enabled": true, "annualLimit": 1000}},
		"wallet": {"copay": {"mode": "PERCENT"}}
	}`)
	require.NoError(t, err)

	assert.Equal(t, generic.AllocationIndividual, plan.Wallet.AllocationType)
	assert.True(t, plan.Wallet.Copay.Value.IsZero())
	assert.True(t, plan.TotalAllocation().Equal(decimal.NewFromInt(1000)), "zero total falls back to the category sum")
}

func TestParsePlan_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"malformed JSON", `{"policyId":`},
		{"missing policy id", `{"wallet": {}}`},
		{"unknown allocation", `{"policyId": "P", "wallet": {"allocationType": "shared"}}`},
		{"percent over 100", `{"policyId": "P", "wallet": {"copay": {"mode": "PERCENT", "value": 120}}}`},
		{"unknown copay mode", `{"policyId": "P", "wallet": {"copay": {"mode": "TIERED", "value": 1}}}`},
		{"negative limit", `{"policyId": "P", "benefits": {"CAT001": {"enabled": true, "annualLimit": -1}}, "wallet": {}}`},
		{"negative service cap", `{"policyId": "P", "benefits": {"CAT001": {"enabled": true, "annualLimit": 10, "serviceTransactionLimits": {"X": -5}}}, "wallet": {}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := factory.NewPlanFactory().ParsePlan(tt.doc)
			assert.ErrorIs(t, err, generic.ErrValidation)
		})
	}
}

func TestToJSON_RoundTripsThroughFactory(t *testing.T) {
	pf := factory.NewPlanFactory()
	plan, err := pf.ParsePlan(factory.FloaterFamilyPlanJSON("POL-FAM", 20000))
	require.NoError(t, err)

	again, err := pf.FromJSON(pf.ToJSON(plan))
	require.NoError(t, err)
	assert.Equal(t, plan.PolicyID, again.PolicyID)
	assert.Equal(t, plan.Wallet.AllocationType, again.Wallet.AllocationType)
	assert.True(t, plan.TotalAllocation().Equal(again.TotalAllocation()))
	assert.True(t, generic.ResolveCopay(again, generic.RelationshipParent).Value.Equal(decimal.NewFromInt(30)))
}

func TestPresets_AreValid(t *testing.T) {
	pf := factory.NewPlanFactory()

	ind, err := pf.ParsePlan(factory.IndividualPlanJSON("POL-IND", 5000, 20))
	require.NoError(t, err)
	assert.True(t, ind.TotalAllocation().Equal(decimal.NewFromInt(15000)))
	assert.Len(t, ind.Allocations(), 3)

	fam, err := pf.ParsePlan(factory.FloaterFamilyPlanJSON("POL-FAM", 20000))
	require.NoError(t, err)
	assert.Equal(t, generic.AllocationFloater, fam.Wallet.AllocationType)
	limit := generic.GetServiceLimit(fam, generic.CategoryConsultation, "IN_CLINIC", generic.RelationshipSelf)
	require.NotNil(t, limit)
	assert.True(t, limit.Equal(decimal.NewFromInt(1500)))

	vis, err := pf.ParsePlan(factory.VisionSelfPayPlanJSON("POL-BASIC", 3000, 100))
	require.NoError(t, err)
	assert.True(t, vis.Benefits[generic.CategoryVision].SelfPayOnly())
	assert.Equal(t, generic.CopayAmount, vis.Wallet.Copay.Mode)
}
