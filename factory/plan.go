/*
Package factory provides JSON to Go plan configuration conversion.

PURPOSE:
  Converts plan configuration documents, as published by the plan
  administration system, into validated generic.PlanConfig values. This
  is the only place the shape of a plan document is checked; the engine
  trusts the typed struct afterwards.

JSON SCHEMA:
  {
    "policyId": "POL-GOLD",
    "version": 1,
    "name": "Gold Family",
    "benefits": {
      "CAT001": {"enabled": true, "annualLimit": 5000,
                 "serviceTransactionLimits": {"IN_CLINIC": 1500}},
      "cat005": {"enabled": false, "vasEnabled": true}
    },
    "wallet": {
      "totalAnnualAmount": 20000,
      "allocationType": "floater",
      "copay": {"mode": "percent", "value": 20}
    },
    "memberConfigs": {
      "parent": {"wallet": {"copay": {"mode": "PERCENT", "value": 30}}}
    }
  }

NORMALIZATION:
  - category codes, relationships, modes and allocation types are
    upper-cased; service keys are upper-cased
  - missing allocationType defaults to INDIVIDUAL
  - missing copay value defaults to 0
  - a null benefit entry is dropped

USAGE:
  f := factory.NewPlanFactory()
  plan, err := f.ParsePlan(jsonString)

  // From a preset
  plan, err := f.ParsePlan(factory.IndividualPlanJSON("POL-1", 5000, 20))

SEE ALSO:
  - generic/plan.go: PlanConfig type definition
  - presets.go: Plan documents used by demos and tests
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/carepay/benefit-wallet/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PlanJSON is the JSON representation of a plan configuration.
type PlanJSON struct {
	PolicyID      string                       `json:"policyId"`
	Version       int                          `json:"version"`
	Name          string                       `json:"name,omitempty"`
	Benefits      map[string]*BenefitJSON      `json:"benefits"`
	Wallet        WalletJSON                   `json:"wallet"`
	MemberConfigs map[string]*MemberConfigJSON `json:"memberConfigs,omitempty"`
}

type BenefitJSON struct {
	Enabled                  bool                       `json:"enabled"`
	VASEnabled               bool                       `json:"vasEnabled,omitempty"`
	AnnualLimit              decimal.Decimal            `json:"annualLimit"`
	IsUnlimited              bool                       `json:"isUnlimited,omitempty"`
	ServiceTransactionLimits map[string]decimal.Decimal `json:"serviceTransactionLimits,omitempty"`
}

type CopayJSON struct {
	Mode  string           `json:"mode"`
	Value *decimal.Decimal `json:"value,omitempty"`
}

type WalletJSON struct {
	TotalAnnualAmount decimal.Decimal `json:"totalAnnualAmount"`
	AllocationType    string          `json:"allocationType,omitempty"`
	Copay             *CopayJSON      `json:"copay,omitempty"`
}

type MemberConfigJSON struct {
	Benefits map[string]*BenefitJSON `json:"benefits,omitempty"`
	Wallet   *struct {
		Copay *CopayJSON `json:"copay,omitempty"`
	} `json:"wallet,omitempty"`
}

// =============================================================================
// PLAN FACTORY
// =============================================================================

// PlanFactory converts JSON plan documents to validated PlanConfigs.
type PlanFactory struct{}

func NewPlanFactory() *PlanFactory {
	return &PlanFactory{}
}

// ParsePlan parses and validates a JSON plan document.
func (f *PlanFactory) ParsePlan(jsonStr string) (*generic.PlanConfig, error) {
	return f.ParsePlanBytes([]byte(jsonStr))
}

func (f *PlanFactory) ParsePlanBytes(data []byte) (*generic.PlanConfig, error) {
	var pj PlanJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return nil, fmt.Errorf("%w: failed to parse plan JSON: %v", generic.ErrValidation, err)
	}
	return f.FromJSON(pj)
}

// FromJSON normalizes and validates a PlanJSON.
func (f *PlanFactory) FromJSON(pj PlanJSON) (*generic.PlanConfig, error) {
	plan := &generic.PlanConfig{
		PolicyID: generic.PolicyID(strings.TrimSpace(pj.PolicyID)),
		Version:  pj.Version,
		Name:     pj.Name,
		Benefits: parseBenefits(pj.Benefits),
		Wallet: generic.WalletConfig{
			TotalAnnualAmount: pj.Wallet.TotalAnnualAmount,
			AllocationType:    parseAllocationType(pj.Wallet.AllocationType),
			Copay:             parseCopay(pj.Wallet.Copay),
		},
	}

	if len(pj.MemberConfigs) > 0 {
		plan.MemberConfigs = make(map[generic.Relationship]*generic.MemberConfig, len(pj.MemberConfigs))
		for rel, mj := range pj.MemberConfigs {
			if mj == nil {
				continue
			}
			mc := &generic.MemberConfig{Benefits: parseBenefits(mj.Benefits)}
			if mj.Wallet != nil {
				mc.Wallet = &generic.MemberWalletConfig{Copay: parseCopay(mj.Wallet.Copay)}
			}
			plan.MemberConfigs[generic.Relationship(strings.ToUpper(strings.TrimSpace(rel)))] = mc
		}
	}

	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// ToJSON converts a PlanConfig back to its document form.
func (f *PlanFactory) ToJSON(plan *generic.PlanConfig) PlanJSON {
	pj := PlanJSON{
		PolicyID: string(plan.PolicyID),
		Version:  plan.Version,
		Name:     plan.Name,
		Benefits: benefitsToJSON(plan.Benefits),
		Wallet: WalletJSON{
			TotalAnnualAmount: plan.Wallet.TotalAnnualAmount,
			AllocationType:    string(plan.Wallet.AllocationType),
			Copay:             copayToJSON(plan.Wallet.Copay),
		},
	}
	if len(plan.MemberConfigs) > 0 {
		pj.MemberConfigs = make(map[string]*MemberConfigJSON, len(plan.MemberConfigs))
		for rel, mc := range plan.MemberConfigs {
			mj := &MemberConfigJSON{Benefits: benefitsToJSON(mc.Benefits)}
			if mc.Wallet != nil {
				mj.Wallet = &struct {
					Copay *CopayJSON `json:"copay,omitempty"`
				}{Copay: copayToJSON(mc.Wallet.Copay)}
			}
			pj.MemberConfigs[string(rel)] = mj
		}
	}
	return pj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseBenefits(in map[string]*BenefitJSON) map[generic.CategoryCode]*generic.Benefit {
	if len(in) == 0 {
		return nil
	}
	out := make(map[generic.CategoryCode]*generic.Benefit, len(in))
	for code, bj := range in {
		if bj == nil {
			continue
		}
		b := &generic.Benefit{
			Enabled:     bj.Enabled,
			VASEnabled:  bj.VASEnabled,
			AnnualLimit: bj.AnnualLimit,
			IsUnlimited: bj.IsUnlimited,
		}
		if len(bj.ServiceTransactionLimits) > 0 {
			b.ServiceTransactionLimits = make(map[string]decimal.Decimal, len(bj.ServiceTransactionLimits))
			for key, limit := range bj.ServiceTransactionLimits {
				b.ServiceTransactionLimits[strings.ToUpper(strings.TrimSpace(key))] = limit
			}
		}
		out[generic.CategoryCode(strings.ToUpper(strings.TrimSpace(code)))] = b
	}
	return out
}

func parseCopay(cj *CopayJSON) *generic.CopayConfig {
	if cj == nil {
		return nil
	}
	c := &generic.CopayConfig{
		Mode:  generic.CopayMode(strings.ToUpper(strings.TrimSpace(cj.Mode))),
		Value: decimal.Zero,
	}
	if cj.Value != nil {
		c.Value = *cj.Value
	}
	return c
}

func parseAllocationType(s string) generic.AllocationType {
	if strings.TrimSpace(s) == "" {
		return generic.AllocationIndividual
	}
	return generic.AllocationType(strings.ToUpper(strings.TrimSpace(s)))
}

func benefitsToJSON(in map[generic.CategoryCode]*generic.Benefit) map[string]*BenefitJSON {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]*BenefitJSON, len(in))
	for code, b := range in {
		out[string(code)] = &BenefitJSON{
			Enabled:                  b.Enabled,
			VASEnabled:               b.VASEnabled,
			AnnualLimit:              b.AnnualLimit,
			IsUnlimited:              b.IsUnlimited,
			ServiceTransactionLimits: b.ServiceTransactionLimits,
		}
	}
	return out
}

func copayToJSON(c *generic.CopayConfig) *CopayJSON {
	if c == nil {
		return nil
	}
	v := c.Value
	return &CopayJSON{Mode: string(c.Mode), Value: &v}
}
