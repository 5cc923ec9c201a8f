/*
plan.go - Typed plan configuration schema

PURPOSE:
  A plan configuration says, per benefit category, whether the category is
  covered, how much is allocated for the policy year, and what per-service
  caps apply. It also carries the wallet-level copay and allocation type,
  with optional per-relationship overrides.

  The configuration is validated once, when it enters the system (see
  factory/plan.go). Readers inside the engine trust the typed struct and
  never re-check shapes ad hoc.

SCHEMA:
  {
    "policyId": "POL-GOLD",
    "version": 3,
    "benefits": {
      "CAT001": {"enabled": true, "annualLimit": 5000,
                 "serviceTransactionLimits": {"GENERAL_PHYSICIAN": 1500}},
      "CAT005": {"enabled": false, "vasEnabled": true}
    },
    "wallet": {
      "totalAnnualAmount": 20000,
      "allocationType": "FLOATER",
      "copay": {"mode": "PERCENT", "value": 20}
    },
    "memberConfigs": {
      "PARENT": {
        "benefits": {"CAT001": {"enabled": true, "annualLimit": 3000}},
        "wallet": {"copay": {"mode": "PERCENT", "value": 30}}
      }
    }
  }

SEE ALSO:
  - resolver.go: Relationship-aware lookups over this schema
  - factory/plan.go: JSON parsing and defaults
*/
package generic

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// COPAY
// =============================================================================

type CopayMode string

const (
	CopayPercent CopayMode = "PERCENT"
	CopayAmount  CopayMode = "AMOUNT"
)

type CopayConfig struct {
	Mode  CopayMode       `json:"mode"`
	Value decimal.Decimal `json:"value"`
}

func (c *CopayConfig) validate(path string) error {
	if c == nil {
		return nil
	}
	switch c.Mode {
	case CopayPercent:
		if c.Value.IsNegative() || c.Value.GreaterThan(decimal.NewFromInt(100)) {
			return NewValidationError(path+".value", "percent copay must be within 0..100, got %s", c.Value)
		}
	case CopayAmount:
		if c.Value.IsNegative() {
			return NewValidationError(path+".value", "flat copay must not be negative, got %s", c.Value)
		}
	default:
		return NewValidationError(path+".mode", "unknown copay mode %q", c.Mode)
	}
	return nil
}

// =============================================================================
// BENEFIT
// =============================================================================

// Benefit is the configuration of one category.
type Benefit struct {
	Enabled    bool `json:"enabled"`
	VASEnabled bool `json:"vasEnabled,omitempty"`

	AnnualLimit decimal.Decimal `json:"annualLimit"`
	IsUnlimited bool            `json:"isUnlimited,omitempty"`

	// Per-service cap on the insurer's share of a single transaction,
	// keyed by service key (e.g. "GENERAL_PHYSICIAN", "CLEANING").
	ServiceTransactionLimits map[string]decimal.Decimal `json:"serviceTransactionLimits,omitempty"`
}

// SelfPayOnly reports the "visible but self-pay" configuration: the
// category is shown to the member but the wallet never pays for it.
func (b *Benefit) SelfPayOnly() bool {
	return b != nil && !b.Enabled && b.VASEnabled
}

func (b *Benefit) validate(path string) error {
	if b == nil {
		return NewValidationError(path, "benefit must not be null")
	}
	if b.AnnualLimit.IsNegative() {
		return NewValidationError(path+".annualLimit", "must not be negative")
	}
	for key, limit := range b.ServiceTransactionLimits {
		if key == "" {
			return NewValidationError(path+".serviceTransactionLimits", "empty service key")
		}
		if limit.IsNegative() {
			return NewValidationError(path+".serviceTransactionLimits."+key, "must not be negative")
		}
	}
	return nil
}

// =============================================================================
// WALLET CONFIG
// =============================================================================

type AllocationType string

const (
	AllocationIndividual AllocationType = "INDIVIDUAL"
	AllocationFloater    AllocationType = "FLOATER"
)

type WalletConfig struct {
	// TotalAnnualAmount caps the whole wallet. Zero means "sum of the
	// enabled category limits".
	TotalAnnualAmount decimal.Decimal `json:"totalAnnualAmount"`
	AllocationType    AllocationType  `json:"allocationType"`
	Copay             *CopayConfig    `json:"copay,omitempty"`
}

// MemberWalletConfig is the per-relationship wallet override. Only the
// copay can be overridden.
type MemberWalletConfig struct {
	Copay *CopayConfig `json:"copay,omitempty"`
}

type MemberConfig struct {
	Benefits map[CategoryCode]*Benefit `json:"benefits,omitempty"`
	Wallet   *MemberWalletConfig       `json:"wallet,omitempty"`
}

// =============================================================================
// PLAN CONFIG
// =============================================================================

type PlanConfig struct {
	PolicyID      PolicyID                       `json:"policyId"`
	Version       int                            `json:"version"`
	Name          string                         `json:"name,omitempty"`
	Benefits      map[CategoryCode]*Benefit      `json:"benefits"`
	Wallet        WalletConfig                   `json:"wallet"`
	MemberConfigs map[Relationship]*MemberConfig `json:"memberConfigs,omitempty"`
}

// Validate checks the whole configuration once at the boundary.
func (p *PlanConfig) Validate() error {
	if p.PolicyID == "" {
		return NewValidationError("policyId", "required")
	}
	if p.Version < 0 {
		return NewValidationError("version", "must not be negative")
	}
	for code, b := range p.Benefits {
		if code == "" {
			return NewValidationError("benefits", "empty category code")
		}
		if err := b.validate(fmt.Sprintf("benefits.%s", code)); err != nil {
			return err
		}
	}
	switch p.Wallet.AllocationType {
	case AllocationIndividual, AllocationFloater:
	default:
		return NewValidationError("wallet.allocationType", "unknown allocation type %q", p.Wallet.AllocationType)
	}
	if p.Wallet.TotalAnnualAmount.IsNegative() {
		return NewValidationError("wallet.totalAnnualAmount", "must not be negative")
	}
	if err := p.Wallet.Copay.validate("wallet.copay"); err != nil {
		return err
	}
	for rel, mc := range p.MemberConfigs {
		if mc == nil {
			continue
		}
		for code, b := range mc.Benefits {
			if err := b.validate(fmt.Sprintf("memberConfigs.%s.benefits.%s", rel, code)); err != nil {
				return err
			}
		}
		if mc.Wallet != nil {
			if err := mc.Wallet.Copay.validate(fmt.Sprintf("memberConfigs.%s.wallet.copay", rel)); err != nil {
				return err
			}
		}
	}
	return nil
}

// CategoryAllocation is one enabled category with its annual allocation.
type CategoryAllocation struct {
	CategoryCode CategoryCode
	Allocated    decimal.Decimal
	IsUnlimited  bool
}

// Allocations returns the enabled categories, ordered by code.
func (p *PlanConfig) Allocations() []CategoryAllocation {
	codes := make([]string, 0, len(p.Benefits))
	for code, b := range p.Benefits {
		if b != nil && b.Enabled {
			codes = append(codes, string(code))
		}
	}
	sort.Strings(codes)

	out := make([]CategoryAllocation, 0, len(codes))
	for _, c := range codes {
		b := p.Benefits[CategoryCode(c)]
		out = append(out, CategoryAllocation{
			CategoryCode: CategoryCode(c),
			Allocated:    b.AnnualLimit,
			IsUnlimited:  b.IsUnlimited,
		})
	}
	return out
}

// TotalAllocation is the wallet-wide allocation for the plan.
func (p *PlanConfig) TotalAllocation() decimal.Decimal {
	if p.Wallet.TotalAnnualAmount.IsPositive() {
		return p.Wallet.TotalAnnualAmount
	}
	total := decimal.Zero
	for _, a := range p.Allocations() {
		total = total.Add(a.Allocated)
	}
	return total
}
