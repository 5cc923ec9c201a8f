package generic_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carepay/benefit-wallet/generic"
	"github.com/carepay/benefit-wallet/generic/store"
	"github.com/carepay/benefit-wallet/ids"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type ledgerEnv struct {
	wallets *store.Wallets
	dir     *store.Directory
	ledger  *generic.WalletLedger
}

func newLedgerEnv() *ledgerEnv {
	wallets := store.NewWallets()
	dir := store.NewDirectory()
	return &ledgerEnv{
		wallets: wallets,
		dir:     dir,
		ledger:  generic.NewWalletLedger(wallets, ids.NewULID(), generic.WithMemberDirectory(dir)),
	}
}

func year2025() (time.Time, time.Time) {
	return time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// individualPlan: consultation 5000, diagnostics 3000, wallet total 8000.
func individualPlan() *generic.PlanConfig {
	return &generic.PlanConfig{
		PolicyID: "POL-IND",
		Version:  1,
		Benefits: map[generic.CategoryCode]*generic.Benefit{
			generic.CategoryConsultation: {Enabled: true, AnnualLimit: rs(5000)},
			generic.CategoryDiagnostics:  {Enabled: true, AnnualLimit: rs(3000)},
		},
		Wallet: generic.WalletConfig{
			TotalAnnualAmount: rs(8000),
			AllocationType:    generic.AllocationIndividual,
			Copay:             percent(20),
		},
	}
}

func (e *ledgerEnv) initWallet(t *testing.T, user generic.UserID, assignment generic.AssignmentID, plan *generic.PlanConfig, primary *generic.MemberID) *generic.Wallet {
	t.Helper()
	from, to := year2025()
	w, err := e.ledger.InitializeWalletFromPolicy(context.Background(), generic.InitWalletRequest{
		UserID:          user,
		AssignmentID:    assignment,
		Plan:            plan,
		EffectiveFrom:   from,
		EffectiveTo:     to,
		PrimaryMemberID: primary,
		ProcessedBy:     "test",
	})
	require.NoError(t, err)
	return w
}

func debitReq(user generic.UserID, amount int64, code generic.CategoryCode) generic.LedgerRequest {
	return generic.LedgerRequest{UserID: user, Amount: rs(amount), CategoryCode: code, BookingID: "APT-1", ServiceType: generic.ServiceAppointment}
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func TestLedger_InitializeFromPolicy(t *testing.T) {
	// GIVEN
	env := newLedgerEnv()

	// WHEN
	w := env.initWallet(t, "user-asha", "ASG-1", individualPlan(), nil)

	// THEN
	assertMoney(t, 8000, w.TotalBalance.Allocated)
	assertMoney(t, 8000, w.TotalBalance.Current)
	require.Len(t, w.CategoryBalances, 2)
	assert.Equal(t, generic.CategoryConsultation, w.CategoryBalances[0].CategoryCode)
	assert.Equal(t, "Consultation", w.CategoryBalances[0].CategoryName)
	assertMoney(t, 5000, w.CategoryBalances[0].Current)
	assert.Equal(t, "2025-2026", w.PolicyYear)
	assert.True(t, w.IsActive)
	assert.False(t, w.IsFloaterMaster)

	txs, err := env.ledger.Transactions(context.Background(), "user-asha")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, generic.TxInitialization, txs[0].Type)
	assertMoney(t, 8000, txs[0].Amount)
}

func TestLedger_InitializeIsIdempotent(t *testing.T) {
	env := newLedgerEnv()
	first := env.initWallet(t, "user-asha", "ASG-1", individualPlan(), nil)

	second := env.initWallet(t, "user-asha", "ASG-1", individualPlan(), nil)

	assert.Equal(t, first.ID, second.ID)
	txs, err := env.ledger.Transactions(context.Background(), "user-asha")
	require.NoError(t, err)
	assert.Len(t, txs, 1, "no second INITIALIZATION row")
}

func TestLedger_InitializeValidation(t *testing.T) {
	env := newLedgerEnv()
	ctx := context.Background()
	from, to := year2025()

	_, err := env.ledger.InitializeWalletFromPolicy(ctx, generic.InitWalletRequest{AssignmentID: "ASG-1", Plan: individualPlan()})
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = env.ledger.InitializeWalletFromPolicy(ctx, generic.InitWalletRequest{UserID: "u", AssignmentID: "ASG-1"})
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = env.ledger.InitializeWalletFromPolicy(ctx, generic.InitWalletRequest{
		UserID: "u", AssignmentID: "ASG-1", Plan: individualPlan(), EffectiveFrom: to, EffectiveTo: from,
	})
	assert.ErrorIs(t, err, generic.ErrValidation)
}

// =============================================================================
// DEBIT / CREDIT / TOPUP
// =============================================================================

func TestLedger_DebitThenCreditRestoresBalance(t *testing.T) {
	// GIVEN
	env := newLedgerEnv()
	ctx := context.Background()
	env.initWallet(t, "user-asha", "ASG-1", individualPlan(), nil)

	// WHEN: debit 800 from consultation
	res, err := env.ledger.DebitWallet(ctx, debitReq("user-asha", 800, generic.CategoryConsultation))

	// THEN
	require.NoError(t, err)
	assertMoney(t, 7200, res.NewBalance)
	assertMoney(t, 4200, res.NewCategoryBalance)
	assert.NotEmpty(t, res.TransactionID)

	// WHEN: credit it back
	_, err = env.ledger.CreditWallet(ctx, debitReq("user-asha", 800, generic.CategoryConsultation))
	require.NoError(t, err)

	// THEN
	w, err := env.ledger.GetWallet(ctx, "user-asha")
	require.NoError(t, err)
	assertMoney(t, 8000, w.TotalBalance.Current)
	assertMoney(t, 5000, w.Category(generic.CategoryConsultation).Current)
	assertMoney(t, 0, w.Category(generic.CategoryConsultation).Consumed)

	txs, err := env.ledger.Transactions(ctx, "user-asha")
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, generic.TxDebit, txs[1].Type)
	assertMoney(t, 5000, txs[1].PreviousBalance.Category)
	assertMoney(t, 4200, txs[1].NewBalance.Category)
	assert.Equal(t, generic.BookingID("APT-1"), txs[1].BookingID)
	assert.Equal(t, generic.TxCredit, txs[2].Type)
}

func TestLedger_InsufficientBalanceLeavesNoTrace(t *testing.T) {
	env := newLedgerEnv()
	ctx := context.Background()
	env.initWallet(t, "user-asha", "ASG-1", individualPlan(), nil)

	_, err := env.ledger.DebitWallet(ctx, debitReq("user-asha", 6000, generic.CategoryConsultation))

	var ib *generic.InsufficientBalanceError
	require.True(t, errors.As(err, &ib))
	assert.Equal(t, "category", ib.Scope)
	assertMoney(t, 5000, ib.Available)
	assertMoney(t, 6000, ib.Required)

	w, err := env.ledger.GetWallet(ctx, "user-asha")
	require.NoError(t, err)
	assertMoney(t, 8000, w.TotalBalance.Current)
	txs, err := env.ledger.Transactions(ctx, "user-asha")
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestLedger_Errors(t *testing.T) {
	env := newLedgerEnv()
	ctx := context.Background()
	env.initWallet(t, "user-asha", "ASG-1", individualPlan(), nil)

	_, err := env.ledger.DebitWallet(ctx, debitReq("user-nobody", 100, generic.CategoryConsultation))
	assert.ErrorIs(t, err, generic.ErrWalletNotFound)
	assert.True(t, generic.IsNotFound(err))

	_, err = env.ledger.DebitWallet(ctx, debitReq("user-asha", 0, generic.CategoryConsultation))
	assert.ErrorIs(t, err, generic.ErrNonPositiveAmount)

	_, err = env.ledger.DebitWallet(ctx, debitReq("", 100, generic.CategoryConsultation))
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = env.ledger.DebitWallet(ctx, debitReq("user-asha", 100, generic.CategoryDental))
	assert.ErrorIs(t, err, generic.ErrCategoryNotFound)

	_, err = env.ledger.CreditWallet(ctx, debitReq("user-asha", 100, generic.CategoryConsultation))
	assert.ErrorIs(t, err, generic.ErrCreditExceedsConsumed)
}

func TestLedger_Topup(t *testing.T) {
	env := newLedgerEnv()
	ctx := context.Background()
	env.initWallet(t, "user-asha", "ASG-1", individualPlan(), nil)

	res, err := env.ledger.TopupWallet(ctx, generic.TopupRequest{
		UserID: "user-asha", Amount: rs(1000), CategoryCode: generic.CategoryConsultation, ProcessedBy: "hr-admin",
	})

	require.NoError(t, err)
	assertMoney(t, 9000, res.NewBalance)
	assertMoney(t, 6000, res.NewCategoryBalance)

	w, err := env.ledger.GetWallet(ctx, "user-asha")
	require.NoError(t, err)
	assertMoney(t, 6000, w.Category(generic.CategoryConsultation).Allocated)
	assertMoney(t, 9000, w.TotalBalance.Allocated)

	txs, err := env.ledger.Transactions(ctx, "user-asha")
	require.NoError(t, err)
	assert.Equal(t, generic.TxAdjustment, txs[len(txs)-1].Type)
	assert.Equal(t, "hr-admin", txs[len(txs)-1].ProcessedBy)
}

func TestLedger_CheckSufficientBalance(t *testing.T) {
	env := newLedgerEnv()
	ctx := context.Background()
	env.initWallet(t, "user-asha", "ASG-1", individualPlan(), nil)

	ok, err := env.ledger.CheckSufficientBalance(ctx, "user-asha", rs(3000), generic.CategoryDiagnostics)
	require.NoError(t, err)
	assert.True(t, ok.HasSufficient)

	short, err := env.ledger.CheckSufficientBalance(ctx, "user-asha", rs(3001), generic.CategoryDiagnostics)
	require.NoError(t, err)
	assert.False(t, short.HasSufficient)
	assertMoney(t, 3000, short.Spendable())
	assertMoney(t, 8000, short.AvailableBalance)
}

func TestLedger_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	// GIVEN: 5000 in consultation
	env := newLedgerEnv()
	ctx := context.Background()
	env.initWallet(t, "user-asha", "ASG-1", individualPlan(), nil)

	// WHEN: ten debits of 600 race
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, rejected := 0, 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.ledger.DebitWallet(ctx, debitReq("user-asha", 600, generic.CategoryConsultation))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if errors.Is(err, generic.ErrInsufficientBalance) {
				rejected++
			}
		}()
	}
	wg.Wait()

	// THEN: exactly eight fit
	assert.Equal(t, 8, succeeded)
	assert.Equal(t, 2, rejected)

	w, err := env.ledger.GetWallet(ctx, "user-asha")
	require.NoError(t, err)
	assertMoney(t, 200, w.Category(generic.CategoryConsultation).Current)
	require.NoError(t, w.CheckInvariants())

	txs, err := env.ledger.Transactions(ctx, "user-asha")
	require.NoError(t, err)
	assert.Len(t, txs, 9)
}

// =============================================================================
// FLOATER
// =============================================================================

func floaterPlan() *generic.PlanConfig {
	p := individualPlan()
	p.PolicyID = "POL-FAM"
	p.Wallet.AllocationType = generic.AllocationFloater
	return p
}

func TestLedger_FloaterDependentDebitsMaster(t *testing.T) {
	// GIVEN: ravi is the primary, meera a dependent
	env := newLedgerEnv()
	ctx := context.Background()
	env.dir.PutMember("MEM-RAVI", "user-ravi")
	master := env.initWallet(t, "user-ravi", "ASG-RAVI", floaterPlan(), nil)
	primary := generic.MemberID("MEM-RAVI")
	dep := env.initWallet(t, "user-meera", "ASG-MEERA", floaterPlan(), &primary)

	require.True(t, master.IsFloaterMaster)
	require.True(t, dep.IsDependent())
	assert.Equal(t, master.ID, *dep.FloaterMasterWalletID)
	assert.Empty(t, dep.CategoryBalances)

	// WHEN: meera books on the shared pool
	res, err := env.ledger.DebitWallet(ctx, debitReq("user-meera", 1000, generic.CategoryConsultation))

	// THEN: the master pays and attributes it to meera
	require.NoError(t, err)
	assert.Equal(t, master.ID, res.WalletID)

	pool, err := env.ledger.GetWallet(ctx, "user-meera")
	require.NoError(t, err)
	assert.Equal(t, master.ID, pool.ID)
	assertMoney(t, 7000, pool.TotalBalance.Current)
	assertMoney(t, 1000, pool.MemberConsumed("user-meera"))
	assertMoney(t, 0, pool.MemberConsumed("user-ravi"))
	require.NoError(t, pool.CheckInvariants())

	mine, err := env.ledger.Transactions(ctx, "user-meera")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, generic.TxDebit, mine[0].Type)

	all, err := env.ledger.Transactions(ctx, "user-ravi")
	require.NoError(t, err)
	assert.Len(t, all, 2, "master sees its init row and meera's debit")
}

func TestLedger_FloaterDependentsShareOnePool(t *testing.T) {
	env := newLedgerEnv()
	ctx := context.Background()
	env.dir.PutMember("MEM-RAVI", "user-ravi")
	env.initWallet(t, "user-ravi", "ASG-RAVI", floaterPlan(), nil)
	primary := generic.MemberID("MEM-RAVI")
	env.initWallet(t, "user-meera", "ASG-MEERA", floaterPlan(), &primary)
	env.initWallet(t, "user-kamala", "ASG-KAMALA", floaterPlan(), &primary)

	var wg sync.WaitGroup
	for _, u := range []generic.UserID{"user-ravi", "user-meera", "user-kamala"} {
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(u generic.UserID) {
				defer wg.Done()
				_, _ = env.ledger.DebitWallet(ctx, debitReq(u, 500, generic.CategoryConsultation))
			}(u)
		}
	}
	wg.Wait()

	// 12 x 500 against a 5000 category: ten succeed.
	pool, err := env.ledger.GetWallet(ctx, "user-ravi")
	require.NoError(t, err)
	assertMoney(t, 5000, pool.Category(generic.CategoryConsultation).Consumed)
	require.NoError(t, pool.CheckInvariants())
}

func TestLedger_FloaterDependentNeedsMaster(t *testing.T) {
	env := newLedgerEnv()
	ctx := context.Background()
	from, to := year2025()

	unknown := generic.MemberID("MEM-GHOST")
	_, err := env.ledger.InitializeWalletFromPolicy(ctx, generic.InitWalletRequest{
		UserID: "user-meera", AssignmentID: "ASG-MEERA", Plan: floaterPlan(),
		EffectiveFrom: from, EffectiveTo: to, PrimaryMemberID: &unknown,
	})
	assert.ErrorIs(t, err, generic.ErrMemberNotFound)

	// The primary exists but has an individual wallet.
	env.dir.PutMember("MEM-ASHA", "user-asha")
	env.initWallet(t, "user-asha", "ASG-ASHA", individualPlan(), nil)
	asha := generic.MemberID("MEM-ASHA")
	_, err = env.ledger.InitializeWalletFromPolicy(ctx, generic.InitWalletRequest{
		UserID: "user-meera", AssignmentID: "ASG-MEERA", Plan: floaterPlan(),
		EffectiveFrom: from, EffectiveTo: to, PrimaryMemberID: &asha,
	})
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestLedger_DeleteWalletByAssignment(t *testing.T) {
	env := newLedgerEnv()
	ctx := context.Background()
	env.initWallet(t, "user-asha", "ASG-1", individualPlan(), nil)

	n, err := env.ledger.DeleteWalletByAssignment(ctx, "ASG-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = env.ledger.GetWallet(ctx, "user-asha")
	assert.True(t, generic.IsNotFound(err))

	_, err = env.ledger.DeleteWalletByAssignment(ctx, "")
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestLedger_DeleteFloaterMasterWithDependents(t *testing.T) {
	// GIVEN
	env := newLedgerEnv()
	ctx := context.Background()
	env.dir.PutMember("MEM-RAVI", "user-ravi")
	master := env.initWallet(t, "user-ravi", "ASG-RAVI", floaterPlan(), nil)
	primary := generic.MemberID("MEM-RAVI")
	env.initWallet(t, "user-meera", "ASG-MEERA", floaterPlan(), &primary)

	// WHEN
	_, err := env.ledger.DeleteWalletByAssignment(ctx, "ASG-RAVI")

	// THEN: the pool survives and meera can still spend from it
	assert.ErrorIs(t, err, generic.ErrWalletHasDependents)
	pool, err := env.ledger.GetWallet(ctx, "user-meera")
	require.NoError(t, err)
	assert.Equal(t, master.ID, pool.ID)

	n, err := env.ledger.DeleteWalletByAssignment(ctx, "ASG-MEERA")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = env.ledger.DeleteWalletByAssignment(ctx, "ASG-RAVI")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
