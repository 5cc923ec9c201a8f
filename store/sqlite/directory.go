package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/carepay/benefit-wallet/generic"
)

// =============================================================================
// PLANS - generic.PlanConfigService
// =============================================================================

// SavePlan stores a validated plan version, replacing the same version.
func (s *Store) SavePlan(ctx context.Context, plan *generic.PlanConfig) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	doc, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plans (policy_id, version, name, doc, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(policy_id, version) DO UPDATE SET name = excluded.name, doc = excluded.doc`,
		plan.PolicyID, plan.Version, plan.Name, string(doc), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}
	return nil
}

// GetConfig returns the requested plan version, or the latest when version
// is nil.
func (s *Store) GetConfig(ctx context.Context, policyID generic.PolicyID, version *int) (*generic.PlanConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc string
	var err error
	if version == nil {
		err = s.db.GetContext(ctx, &doc, `
			SELECT doc FROM plans WHERE policy_id = ? ORDER BY version DESC LIMIT 1`, policyID)
	} else {
		err = s.db.GetContext(ctx, &doc, `
			SELECT doc FROM plans WHERE policy_id = ? AND version = ?`, policyID, *version)
	}
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s", generic.ErrPlanConfigNotFound, policyID)
		}
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	var plan generic.PlanConfig
	if err := json.Unmarshal([]byte(doc), &plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan %s: %w", policyID, err)
	}
	return &plan, nil
}

// =============================================================================
// ASSIGNMENTS - generic.AssignmentsService
// =============================================================================

type assignmentRow struct {
	ID              string         `db:"id"`
	UserID          string         `db:"user_id"`
	PolicyID        string         `db:"policy_id"`
	PlanVersion     sql.NullInt64  `db:"plan_version"`
	Relationship    string         `db:"relationship"`
	PrimaryMemberID sql.NullString `db:"primary_member_id"`
	EffectiveFrom   string         `db:"effective_from"`
	EffectiveTo     string         `db:"effective_to"`
	CreatedAt       string         `db:"created_at"`
}

func (s *Store) SaveAssignment(ctx context.Context, a generic.Assignment) error {
	if a.ID == "" || a.UserID == "" || a.PolicyID == "" {
		return generic.NewValidationError("assignment", "id, userId and policyId are required")
	}
	if !a.EffectiveTo.IsZero() && !a.EffectiveTo.After(a.EffectiveFrom) {
		return generic.NewValidationError("effectiveTo", "must be after effectiveFrom")
	}
	row := assignmentRow{
		ID:            string(a.ID),
		UserID:        string(a.UserID),
		PolicyID:      string(a.PolicyID),
		Relationship:  string(a.Relationship),
		EffectiveFrom: formatTime(a.EffectiveFrom),
		EffectiveTo:   formatTime(a.EffectiveTo),
		CreatedAt:     formatTime(time.Now()),
	}
	if a.PlanVersion != nil {
		row.PlanVersion = sql.NullInt64{Int64: int64(*a.PlanVersion), Valid: true}
	}
	if a.PrimaryMemberID != nil {
		row.PrimaryMemberID = nullString(string(*a.PrimaryMemberID))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT OR REPLACE INTO policy_assignments
			(id, user_id, policy_id, plan_version, relationship, primary_member_id, effective_from, effective_to, created_at)
		VALUES
			(:id, :user_id, :policy_id, :plan_version, :relationship, :primary_member_id, :effective_from, :effective_to, :created_at)`,
		row)
	if err != nil {
		return fmt.Errorf("failed to save assignment: %w", err)
	}
	return nil
}

// GetUserAssignments returns the user's assignments, most recent first.
func (s *Store) GetUserAssignments(ctx context.Context, userID generic.UserID) ([]generic.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []assignmentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, policy_id, plan_version, relationship, primary_member_id, effective_from, effective_to, created_at
		FROM policy_assignments WHERE user_id = ?
		ORDER BY effective_from DESC, created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}

	out := make([]generic.Assignment, 0, len(rows))
	for _, r := range rows {
		a := generic.Assignment{
			ID:            generic.AssignmentID(r.ID),
			UserID:        generic.UserID(r.UserID),
			PolicyID:      generic.PolicyID(r.PolicyID),
			Relationship:  generic.Relationship(r.Relationship),
			EffectiveFrom: parseTime(r.EffectiveFrom),
			EffectiveTo:   parseTime(r.EffectiveTo),
		}
		if r.PlanVersion.Valid {
			v := int(r.PlanVersion.Int64)
			a.PlanVersion = &v
		}
		if r.PrimaryMemberID.Valid {
			m := generic.MemberID(r.PrimaryMemberID.String)
			a.PrimaryMemberID = &m
		}
		out = append(out, a)
	}
	return out, nil
}

// DeleteAssignment removes an assignment row. Wallets are removed
// separately through the ledger.
func (s *Store) DeleteAssignment(ctx context.Context, id generic.AssignmentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM policy_assignments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete assignment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", generic.ErrAssignmentNotFound, id)
	}
	return nil
}

// =============================================================================
// MEMBERS - generic.MemberDirectory
// =============================================================================

func (s *Store) SaveMember(ctx context.Context, memberID generic.MemberID, userID generic.UserID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO members (member_id, user_id, name, created_at)
		VALUES (?, ?, ?, ?)`, memberID, userID, name, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save member: %w", err)
	}
	return nil
}

func (s *Store) UserIDForMember(ctx context.Context, memberID generic.MemberID) (generic.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var userID string
	if err := s.db.GetContext(ctx, &userID, `SELECT user_id FROM members WHERE member_id = ?`, memberID); err != nil {
		if isNoRows(err) {
			return "", fmt.Errorf("%w: %s", generic.ErrMemberNotFound, memberID)
		}
		return "", fmt.Errorf("failed to get member: %w", err)
	}
	return generic.UserID(userID), nil
}

var (
	_ generic.PlanConfigService  = (*Store)(nil)
	_ generic.AssignmentsService = (*Store)(nil)
	_ generic.MemberDirectory    = (*Store)(nil)
)
