/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Populates the database with plans, members and wallets that show the
	main payment paths end to end.

AVAILABLE SCENARIOS:

	individual-wallet: one member, 20% copay, CAT001/CAT003/CAT004 at 5000 each
	floater-family:    household sharing 20000; parent pays 30% copay,
	                   consultation and root canal per-visit limits
	vision-self-pay:   flat 100 copay on consultations, vision self-pay only

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Publish plans via the plan factory
 3. Register members (floater primaries)
 4. Assign plans, which initializes wallets

USAGE VIA API:

	POST /api/scenarios/load
	{"scenarioId": "floater-family"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - factory/presets.go: Plan JSON definitions
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/carepay/benefit-wallet/factory"
	"github.com/carepay/benefit-wallet/generic"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "individual-wallet",
		Name:        "Individual Wallet",
		Description: "Single member, percent copay, consultation/diagnostics/lab at 5000 each",
	},
	{
		ID:          "floater-family",
		Name:        "Floater Family",
		Description: "Self, spouse and parent share one 20000 wallet; parent copay is 30%",
	},
	{
		ID:          "vision-self-pay",
		Name:        "Vision Self-Pay",
		Description: "Flat copay consultations; vision bookable but paid out of pocket",
	},
}

var scenarioSystem = generic.Actor{ID: "scenario-loader", Role: generic.ActorSystem}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		if generic.IsClientError(err) {
			writeDomainError(w, err)
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) reset(ctx context.Context) error {
	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	h.currentScenario = ""
	return nil
}

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	var load func(context.Context, time.Time) error
	switch id {
	case "individual-wallet":
		load = h.loadIndividualScenario
	case "floater-family":
		load = h.loadFloaterFamilyScenario
	case "vision-self-pay":
		load = h.loadVisionSelfPayScenario
	default:
		return generic.NewValidationError("scenarioId", "unknown scenario %q", id)
	}
	if err := h.reset(ctx); err != nil {
		return err
	}
	now := time.Now().UTC()
	yearStart := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	if err := load(ctx, yearStart); err != nil {
		return err
	}
	h.currentScenario = id
	h.Log.Info("scenario loaded", zap.String("scenario", id))
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadIndividualScenario(ctx context.Context, from time.Time) error {
	if err := h.publishPlan(ctx, factory.IndividualPlanJSON("POL-IND-001", 5000, 20)); err != nil {
		return err
	}
	return h.assignAll(ctx, generic.Assignment{
		ID: "ASG-IND-001", UserID: "user-asha", PolicyID: "POL-IND-001",
		Relationship: generic.RelationshipSelf, EffectiveFrom: from, EffectiveTo: from.AddDate(1, 0, 0),
	})
}

func (h *Handler) loadFloaterFamilyScenario(ctx context.Context, from time.Time) error {
	if err := h.publishPlan(ctx, factory.FloaterFamilyPlanJSON("POL-FAM-001", 20000)); err != nil {
		return err
	}
	if err := h.Store.SaveMember(ctx, "MEM-RAVI", "user-ravi", "Ravi Kumar"); err != nil {
		return err
	}
	primary := generic.MemberID("MEM-RAVI")
	to := from.AddDate(1, 0, 0)
	// The primary goes first so the dependents can find the master wallet.
	return h.assignAll(ctx,
		generic.Assignment{
			ID: "ASG-FAM-SELF", UserID: "user-ravi", PolicyID: "POL-FAM-001",
			Relationship: generic.RelationshipSelf, EffectiveFrom: from, EffectiveTo: to,
		},
		generic.Assignment{
			ID: "ASG-FAM-SPOUSE", UserID: "user-meera", PolicyID: "POL-FAM-001",
			Relationship: generic.RelationshipSpouse, PrimaryMemberID: &primary, EffectiveFrom: from, EffectiveTo: to,
		},
		generic.Assignment{
			ID: "ASG-FAM-PARENT", UserID: "user-kamala", PolicyID: "POL-FAM-001",
			Relationship: generic.RelationshipParent, PrimaryMemberID: &primary, EffectiveFrom: from, EffectiveTo: to,
		},
	)
}

func (h *Handler) loadVisionSelfPayScenario(ctx context.Context, from time.Time) error {
	if err := h.publishPlan(ctx, factory.VisionSelfPayPlanJSON("POL-BASIC-001", 3000, 100)); err != nil {
		return err
	}
	return h.assignAll(ctx, generic.Assignment{
		ID: "ASG-BASIC-001", UserID: "user-john", PolicyID: "POL-BASIC-001",
		Relationship: generic.RelationshipSelf, EffectiveFrom: from, EffectiveTo: from.AddDate(1, 0, 0),
	})
}

func (h *Handler) publishPlan(ctx context.Context, jsonStr string) error {
	plan, err := h.PlanFactory.ParsePlan(jsonStr)
	if err != nil {
		return err
	}
	if err := h.Store.SavePlan(ctx, plan); err != nil {
		return err
	}
	if h.PlanCache != nil {
		h.PlanCache.Invalidate(ctx, plan.PolicyID, plan.Version)
	}
	return nil
}

func (h *Handler) assignAll(ctx context.Context, assignments ...generic.Assignment) error {
	for _, a := range assignments {
		if _, err := h.assign(ctx, a, scenarioSystem); err != nil {
			return fmt.Errorf("assign %s: %w", a.ID, err)
		}
	}
	return nil
}
