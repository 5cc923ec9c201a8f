/*
sqlite_test.go - Tests for the SQLite store

Tests for:
- Plan, assignment and member directory round trips
- Wallet atomic units (rollback on failed mutation, audit rows)
- Booking slot capacity, moves and compensating delete
- The appointment flow end to end on a real database
*/
package sqlite_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carepay/benefit-wallet/appointment"
	"github.com/carepay/benefit-wallet/factory"
	"github.com/carepay/benefit-wallet/generic"
	"github.com/carepay/benefit-wallet/ids"
	"github.com/carepay/benefit-wallet/payments"
	"github.com/carepay/benefit-wallet/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func rupees(v int64) decimal.Decimal { return generic.Rupees(v) }

func assertMoney(t *testing.T, want int64, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, rupees(want).Equal(got), append([]interface{}{"want %d, got %s", want, got}, msgAndArgs...)...)
}

func year() (time.Time, time.Time) {
	from := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(1, 0, 0)
}

// seedMember publishes the individual preset plan, assigns it and creates
// the wallet (consultation 5000, 20% copay).
func seedMember(t *testing.T, s *sqlite.Store, ledger *generic.WalletLedger, user generic.UserID) *generic.Wallet {
	t.Helper()
	ctx := context.Background()
	plan, err := factory.NewPlanFactory().ParsePlan(factory.IndividualPlanJSON("POL-IND-001", 5000, 20))
	require.NoError(t, err)
	require.NoError(t, s.SavePlan(ctx, plan))

	from, to := year()
	a := generic.Assignment{
		ID: generic.AssignmentID("ASG-" + string(user)), UserID: user, PolicyID: plan.PolicyID,
		Relationship: generic.RelationshipSelf, EffectiveFrom: from, EffectiveTo: to,
	}
	require.NoError(t, s.SaveAssignment(ctx, a))

	w, err := ledger.InitializeWalletFromPolicy(ctx, generic.InitWalletRequest{
		UserID: user, AssignmentID: a.ID, Plan: plan, EffectiveFrom: from, EffectiveTo: to,
	})
	require.NoError(t, err)
	return w
}

// =============================================================================
// DIRECTORY
// =============================================================================

func TestStore_PlanVersions(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	pf := factory.NewPlanFactory()

	v1, err := pf.ParsePlan(factory.IndividualPlanJSON("POL-1", 5000, 20))
	require.NoError(t, err)
	require.NoError(t, s.SavePlan(ctx, v1))

	v2, err := pf.ParsePlan(factory.IndividualPlanJSON("POL-1", 7000, 10))
	require.NoError(t, err)
	v2.Version = 2
	require.NoError(t, s.SavePlan(ctx, v2))

	latest, err := s.GetConfig(ctx, "POL-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assertMoney(t, 7000, latest.Benefits[generic.CategoryConsultation].AnnualLimit)

	one := 1
	first, err := s.GetConfig(ctx, "POL-1", &one)
	require.NoError(t, err)
	assertMoney(t, 5000, first.Benefits[generic.CategoryConsultation].AnnualLimit)
	require.NotNil(t, first.Wallet.Copay)
	assert.True(t, first.Wallet.Copay.Value.Equal(decimal.NewFromInt(20)))

	_, err = s.GetConfig(ctx, "POL-MISSING", nil)
	assert.ErrorIs(t, err, generic.ErrPlanConfigNotFound)

	bad := *v1
	bad.Wallet.AllocationType = "SHARED"
	assert.ErrorIs(t, s.SavePlan(ctx, &bad), generic.ErrValidation)
}

func TestStore_Assignments(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	from, to := year()
	primary := generic.MemberID("MEM-RAVI")
	version := 3

	require.NoError(t, s.SaveAssignment(ctx, generic.Assignment{
		ID: "ASG-OLD", UserID: "user-meera", PolicyID: "POL-FAM",
		Relationship: generic.RelationshipSpouse, EffectiveFrom: from.AddDate(-1, 0, 0), EffectiveTo: from,
	}))
	require.NoError(t, s.SaveAssignment(ctx, generic.Assignment{
		ID: "ASG-NEW", UserID: "user-meera", PolicyID: "POL-FAM", PlanVersion: &version,
		Relationship: generic.RelationshipSpouse, PrimaryMemberID: &primary, EffectiveFrom: from, EffectiveTo: to,
	}))

	got, err := s.GetUserAssignments(ctx, "user-meera")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, generic.AssignmentID("ASG-NEW"), got[0].ID, "most recent first")
	require.NotNil(t, got[0].PrimaryMemberID)
	assert.Equal(t, primary, *got[0].PrimaryMemberID)
	require.NotNil(t, got[0].PlanVersion)
	assert.Equal(t, 3, *got[0].PlanVersion)
	assert.Nil(t, got[1].PrimaryMemberID)

	require.NoError(t, s.DeleteAssignment(ctx, "ASG-OLD"))
	assert.ErrorIs(t, s.DeleteAssignment(ctx, "ASG-OLD"), generic.ErrAssignmentNotFound)

	assert.ErrorIs(t, s.SaveAssignment(ctx, generic.Assignment{ID: "x"}), generic.ErrValidation)
}

func TestStore_Members(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveMember(ctx, "MEM-RAVI", "user-ravi", "Ravi Kumar"))

	u, err := s.UserIDForMember(ctx, "MEM-RAVI")
	require.NoError(t, err)
	assert.Equal(t, generic.UserID("user-ravi"), u)

	_, err = s.UserIDForMember(ctx, "MEM-NONE")
	assert.ErrorIs(t, err, generic.ErrMemberNotFound)
}

// =============================================================================
// WALLETS
// =============================================================================

func TestStore_WalletRoundTrip(t *testing.T) {
	s := newStore(t)
	ledger := generic.NewWalletLedger(s, ids.NewULID())
	w := seedMember(t, s, ledger, "user-asha")

	got, err := s.GetWallet(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, w.UserID, got.UserID)
	assert.Equal(t, int64(1), got.Version)
	assertMoney(t, 15000, got.TotalBalance.Current)
	require.Len(t, got.CategoryBalances, 3)
	assertMoney(t, 5000, got.Category(generic.CategoryConsultation).Allocated)
	require.NoError(t, got.CheckInvariants())
}

func TestStore_DuplicateWallet(t *testing.T) {
	s := newStore(t)
	ledger := generic.NewWalletLedger(s, ids.NewULID())
	w := seedMember(t, s, ledger, "user-asha")

	dup := w.Clone()
	dup.ID = "WAL-other"
	err := s.CreateWallet(context.Background(), dup, nil)
	assert.ErrorIs(t, err, generic.ErrDuplicateWallet)
}

func TestStore_UpdateWalletRollsBackOnError(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	ledger := generic.NewWalletLedger(s, ids.NewULID())
	w := seedMember(t, s, ledger, "user-asha")

	_, err := s.UpdateWallet(ctx, w.ID, func(w *generic.Wallet) (*generic.WalletTransaction, error) {
		if err := w.Debit("user-asha", rupees(100), generic.CategoryConsultation); err != nil {
			return nil, err
		}
		return nil, errors.New("abort")
	})
	require.Error(t, err)

	got, err := s.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assertMoney(t, 5000, got.Category(generic.CategoryConsultation).Current)
	assert.Equal(t, int64(1), got.Version)

	txs, err := s.ListTransactions(ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestStore_LedgerOnSQLite(t *testing.T) {
	// GIVEN
	s := newStore(t)
	ctx := context.Background()
	ledger := generic.NewWalletLedger(s, ids.NewULID())
	seedMember(t, s, ledger, "user-asha")

	// WHEN: concurrent debits race on one wallet
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = ledger.DebitWallet(ctx, generic.LedgerRequest{
				UserID: "user-asha", Amount: rupees(1000), CategoryCode: generic.CategoryConsultation,
			})
		}()
	}
	wg.Wait()

	// THEN: exactly five fit in the 5000 category
	w, err := ledger.GetWallet(ctx, "user-asha")
	require.NoError(t, err)
	assertMoney(t, 5000, w.Category(generic.CategoryConsultation).Consumed)
	assertMoney(t, 0, w.Category(generic.CategoryConsultation).Current)
	require.NoError(t, w.CheckInvariants())
	assert.Equal(t, int64(6), w.Version)

	txs, err := s.ListTransactions(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, txs, 6)
	assert.Equal(t, generic.TxInitialization, txs[0].Type)
	for _, tx := range txs[1:] {
		assert.Equal(t, generic.TxDebit, tx.Type)
		assert.True(t, tx.PreviousBalance.Category.Sub(tx.NewBalance.Category).Equal(rupees(1000)))
	}
}

func TestStore_DeleteWalletsByAssignment(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	ledger := generic.NewWalletLedger(s, ids.NewULID())
	w := seedMember(t, s, ledger, "user-asha")

	n, err := s.DeleteWalletsByAssignment(ctx, w.PolicyAssignmentID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetWallet(ctx, w.ID)
	assert.ErrorIs(t, err, generic.ErrWalletNotFound)
	txs, err := s.ListTransactions(ctx, w.ID)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestStore_DeleteFloaterMasterWithDependentsIsRefused(t *testing.T) {
	// GIVEN: ravi's floater master and meera pooling into it
	s := newStore(t)
	ctx := context.Background()
	ledger := generic.NewWalletLedger(s, ids.NewULID(), generic.WithMemberDirectory(s))
	plan, err := factory.NewPlanFactory().ParsePlan(factory.FloaterFamilyPlanJSON("POL-FAM", 20000))
	require.NoError(t, err)
	require.NoError(t, s.SavePlan(ctx, plan))
	require.NoError(t, s.SaveMember(ctx, "MEM-RAVI", "user-ravi", "Ravi"))
	from, to := year()
	master, err := ledger.InitializeWalletFromPolicy(ctx, generic.InitWalletRequest{
		UserID: "user-ravi", AssignmentID: "ASG-RAVI", Plan: plan, EffectiveFrom: from, EffectiveTo: to,
	})
	require.NoError(t, err)
	primary := generic.MemberID("MEM-RAVI")
	_, err = ledger.InitializeWalletFromPolicy(ctx, generic.InitWalletRequest{
		UserID: "user-meera", AssignmentID: "ASG-MEERA", Plan: plan, EffectiveFrom: from, EffectiveTo: to,
		PrimaryMemberID: &primary,
	})
	require.NoError(t, err)

	// WHEN: the master's assignment is removed first
	n, err := s.DeleteWalletsByAssignment(ctx, "ASG-RAVI")

	// THEN: nothing is deleted
	assert.ErrorIs(t, err, generic.ErrWalletHasDependents)
	assert.ErrorIs(t, err, generic.ErrConflict)
	assert.Zero(t, n)
	_, err = s.GetWallet(ctx, master.ID)
	require.NoError(t, err)

	// WHEN: dependents go first
	n, err = s.DeleteWalletsByAssignment(ctx, "ASG-MEERA")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.DeleteWalletsByAssignment(ctx, "ASG-RAVI")

	// THEN
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// =============================================================================
// BOOKINGS
// =============================================================================

func newBooking(id generic.BookingID, slotTime string) *appointment.Booking {
	now := time.Now()
	return &appointment.Booking{
		BookingID:   id,
		ServiceType: generic.ServiceAppointment,
		UserID:      "user-asha",
		PatientID:   "user-asha",
		Slot:        generic.Slot{ResourceID: "DOC-1", Date: "2030-01-10", Time: slotTime},
		Status:      generic.StatusPendingConfirmation,
		Details:     appointment.Details{DoctorID: "DOC-1", ConsultationType: appointment.InClinic},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestBookings_SlotCapacityAndMove(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	bs := sqlite.NewBookingStore[appointment.Details](s, generic.ServiceAppointment)

	require.NoError(t, bs.CreateIfSlotAvailable(ctx, newBooking("APT-1", "10:00"), 1))
	err := bs.CreateIfSlotAvailable(ctx, newBooking("APT-2", "10:00"), 1)
	assert.ErrorIs(t, err, generic.ErrSlotUnavailable)

	require.NoError(t, bs.CreateIfSlotAvailable(ctx, newBooking("APT-3", "11:00"), 1))

	// Moving into an occupied slot fails; into a free one succeeds.
	_, err = bs.MoveIfSlotAvailable(ctx, "APT-1", generic.Slot{ResourceID: "DOC-1", Date: "2030-01-10", Time: "11:00"}, 1,
		func(b *generic.Booking[appointment.Details]) error { return nil })
	assert.ErrorIs(t, err, generic.ErrSlotUnavailable)

	moved, err := bs.MoveIfSlotAvailable(ctx, "APT-1", generic.Slot{ResourceID: "DOC-1", Date: "2030-01-11", Time: "10:00"}, 1,
		func(b *generic.Booking[appointment.Details]) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, "2030-01-11", moved.Slot.Date)

	// The vacated slot takes a new booking; cancelled bookings free theirs.
	require.NoError(t, bs.CreateIfSlotAvailable(ctx, newBooking("APT-2", "10:00"), 1))
	_, err = bs.UpdateBooking(ctx, "APT-3", func(b *generic.Booking[appointment.Details]) error {
		b.Status = generic.StatusCancelled
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, bs.CreateIfSlotAvailable(ctx, newBooking("APT-4", "11:00"), 1))
}

func TestBookings_QueriesAreScopedToServiceType(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	apts := sqlite.NewBookingStore[appointment.Details](s, generic.ServiceAppointment)
	others := sqlite.NewBookingStore[appointment.Details](s, generic.ServiceDental)

	b := newBooking("APT-1", "10:00")
	b.PaymentID = "PAY-1"
	require.NoError(t, apts.CreateIfSlotAvailable(ctx, b, 1))

	got, err := apts.GetByPaymentID(ctx, "PAY-1")
	require.NoError(t, err)
	assert.Equal(t, generic.BookingID("APT-1"), got.BookingID)
	assert.Equal(t, "DOC-1", got.Details.DoctorID)

	_, err = others.GetBooking(ctx, "APT-1")
	assert.ErrorIs(t, err, generic.ErrBookingNotFound)

	list, err := apts.ListByStatus(ctx, generic.StatusPendingConfirmation, generic.StatusConfirmed)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	list, err = apts.ListByStatus(ctx, generic.StatusCompleted)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, apts.DeleteBooking(ctx, "APT-1"))
	assert.ErrorIs(t, apts.DeleteBooking(ctx, "APT-1"), generic.ErrBookingNotFound)
}

// =============================================================================
// END TO END
// =============================================================================

func TestAppointmentFlow_EndToEnd(t *testing.T) {
	// GIVEN: asha has 5000 for consultations and a 20% copay
	s := newStore(t)
	ctx := context.Background()
	idGen := ids.NewULID()
	ledger := generic.NewWalletLedger(s, idGen, generic.WithMemberDirectory(s))
	pay := payments.NewService(s, idGen)
	seedMember(t, s, ledger, "user-asha")

	apts := appointment.New(sqlite.NewBookingStore[appointment.Details](s, generic.ServiceAppointment), generic.LifecycleDeps{
		Ledger: ledger, Plans: s, Assignments: s, IDs: idGen,
		Payments: pay, Summaries: pay, Invoices: pay,
	})
	pay.Subscribe(apts)

	slot := time.Now().In(generic.ClinicZone).AddDate(0, 0, 7)

	// WHEN: booking a 1000 in-clinic consultation
	b, err := apts.Create(ctx, appointment.Request{
		UserID:     "user-asha",
		Date:       slot.Format(generic.SlotDateLayout),
		Time:       "10:00",
		BillAmount: rupees(1000),
		Details:    appointment.Details{DoctorID: "DOC-7", DoctorName: "Dr Rao", ConsultationType: appointment.InClinic},
	})

	// THEN: 800 from the wallet, 200 requested from the member
	require.NoError(t, err)
	assert.Equal(t, generic.PaymentCopay, b.PaymentMethod)
	assertMoney(t, 800, b.WalletDebitAmount)
	assertMoney(t, 200, b.CopayAmount)

	w, err := ledger.GetWallet(ctx, "user-asha")
	require.NoError(t, err)
	cat := w.Category(generic.CategoryConsultation)
	assertMoney(t, 4200, cat.Current)
	assertMoney(t, 800, cat.Consumed)

	p, err := pay.GetPayment(ctx, b.PaymentID)
	require.NoError(t, err)
	assertMoney(t, 200, p.Amount)
	assert.Equal(t, generic.PaymentPending, p.Status)

	txs, err := ledger.Transactions(ctx, "user-asha")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "Dr Rao", txs[1].ServiceProvider)

	summaries, err := pay.ListTransactions(ctx, "user-asha")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assertMoney(t, 800, summaries[0].WalletDebitAmount)

	// WHEN: the member pays the copay
	_, err = pay.MarkPaid(ctx, b.PaymentID, "UPI")
	require.NoError(t, err)
	paid, err := apts.Get(ctx, b.BookingID)
	require.NoError(t, err)
	assert.Equal(t, generic.PaymentCompleted, paid.PaymentStatus)

	// WHEN: the member cancels a week ahead
	cancelled, err := apts.Cancel(ctx, b.BookingID, generic.Actor{ID: "user-asha", Role: generic.ActorMember}, "feeling better")

	// THEN: wallet restored, copay refunded
	require.NoError(t, err)
	assert.Equal(t, generic.StatusCancelled, cancelled.Status)
	assert.Equal(t, generic.PaymentRefunded, cancelled.PaymentStatus)

	w, err = ledger.GetWallet(ctx, "user-asha")
	require.NoError(t, err)
	cat = w.Category(generic.CategoryConsultation)
	assertMoney(t, 5000, cat.Current)
	assertMoney(t, 0, cat.Consumed)
	require.NoError(t, w.CheckInvariants())

	p, err = pay.GetPayment(ctx, b.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, generic.PaymentRefunded, p.Status)
}
