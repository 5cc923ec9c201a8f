package vision_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carepay/benefit-wallet/factory"
	"github.com/carepay/benefit-wallet/generic"
	"github.com/carepay/benefit-wallet/ids"
	"github.com/carepay/benefit-wallet/payments"
	"github.com/carepay/benefit-wallet/store/sqlite"
	"github.com/carepay/benefit-wallet/vision"
)

func TestDefinition_Validate(t *testing.T) {
	assert.NoError(t, vision.Definition.Validate(vision.Details{ClinicID: "EYE-1", Service: vision.EyeExam}))
	assert.ErrorIs(t, vision.Definition.Validate(vision.Details{Service: vision.EyeExam}), generic.ErrValidation)
	assert.ErrorIs(t, vision.Definition.Validate(vision.Details{ClinicID: "EYE-1", Service: "LASIK"}), generic.ErrValidation)
}

func TestSelfPayOnlyVision(t *testing.T) {
	// GIVEN: vision is visible but self-pay on this plan
	ctx := context.Background()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer s.Close()

	idGen := ids.NewULID()
	ledger := generic.NewWalletLedger(s, idGen)
	pay := payments.NewService(s, idGen)

	plan, err := factory.NewPlanFactory().ParsePlan(factory.VisionSelfPayPlanJSON("POL-BASIC", 3000, 100))
	require.NoError(t, err)
	require.NoError(t, s.SavePlan(ctx, plan))
	now := time.Now()
	a := generic.Assignment{
		ID: "ASG-ASHA", UserID: "user-asha", PolicyID: plan.PolicyID, Relationship: generic.RelationshipSelf,
		EffectiveFrom: now.AddDate(0, -1, 0), EffectiveTo: now.AddDate(1, 0, 0),
	}
	require.NoError(t, s.SaveAssignment(ctx, a))
	_, err = ledger.InitializeWalletFromPolicy(ctx, generic.InitWalletRequest{
		UserID: "user-asha", AssignmentID: a.ID, Plan: plan, EffectiveFrom: a.EffectiveFrom, EffectiveTo: a.EffectiveTo,
	})
	require.NoError(t, err)

	lc := vision.New(sqlite.NewBookingStore[vision.Details](s, generic.ServiceVision), generic.LifecycleDeps{
		Ledger: ledger, Plans: s, Assignments: s, IDs: idGen, Payments: pay,
	})
	date := now.In(generic.ClinicZone).AddDate(0, 0, 5).Format(generic.SlotDateLayout)
	req := vision.Request{
		UserID:     "user-asha",
		Date:       date,
		Time:       "16:00",
		BillAmount: generic.Rupees(2500),
		Details:    vision.Details{ClinicID: "EYE-1", Service: vision.Spectacles},
	}

	// WHEN
	b, err := lc.Create(ctx, req)

	// THEN: the member pays everything and the wallet is untouched
	require.NoError(t, err)
	assert.Equal(t, generic.PaymentOutOfPocket, b.PaymentMethod)
	assert.True(t, b.WalletDebitAmount.IsZero())
	assert.True(t, generic.Rupees(2500).Equal(b.TotalMemberPayment))

	p, err := pay.GetPayment(ctx, b.PaymentID)
	require.NoError(t, err)
	assert.True(t, generic.Rupees(2500).Equal(p.Amount))

	w, err := ledger.GetWallet(ctx, "user-asha")
	require.NoError(t, err)
	assert.True(t, generic.Rupees(3000).Equal(w.TotalBalance.Current))

	// The clinic runs two rooms per slot.
	_, err = lc.Create(ctx, req)
	require.NoError(t, err)
	_, err = lc.Create(ctx, req)
	assert.ErrorIs(t, err, generic.ErrSlotUnavailable)
}
