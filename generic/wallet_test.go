package generic_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carepay/benefit-wallet/generic"
)

func newWallet(total int64, cats map[generic.CategoryCode]int64) *generic.Wallet {
	w := &generic.Wallet{
		ID:             "WAL-1",
		UserID:         "user-1",
		AllocationType: generic.AllocationIndividual,
		TotalBalance:   generic.BalanceRecord{Allocated: rs(total), Current: rs(total), Consumed: rs(0)},
		IsActive:       true,
	}
	for code, amt := range cats {
		w.CategoryBalances = append(w.CategoryBalances, generic.CategoryBalance{
			CategoryCode: code, Allocated: rs(amt), Current: rs(amt), Consumed: rs(0),
		})
	}
	return w
}

func floaterMaster(total int64) *generic.Wallet {
	w := newWallet(total, map[generic.CategoryCode]int64{generic.CategoryConsultation: total})
	w.AllocationType = generic.AllocationFloater
	w.IsFloaterMaster = true
	return w
}

func TestWallet_DebitCreditAreInverse(t *testing.T) {
	// GIVEN
	w := newWallet(8000, map[generic.CategoryCode]int64{generic.CategoryConsultation: 5000})

	// WHEN: debit then credit the same amount
	require.NoError(t, w.Debit("user-1", rs(800), generic.CategoryConsultation))

	cat := w.Category(generic.CategoryConsultation)
	assertMoney(t, 4200, cat.Current)
	assertMoney(t, 800, cat.Consumed)
	assertMoney(t, 7200, w.TotalBalance.Current)
	require.NoError(t, w.CheckInvariants())

	require.NoError(t, w.Credit("user-1", rs(800), generic.CategoryConsultation))

	// THEN: balances are back where they started
	assertMoney(t, 5000, cat.Current)
	assertMoney(t, 0, cat.Consumed)
	assertMoney(t, 8000, w.TotalBalance.Current)
	assertMoney(t, 0, w.TotalBalance.Consumed)
	require.NoError(t, w.CheckInvariants())
}

func TestWallet_DebitInsufficientCategory(t *testing.T) {
	w := newWallet(8000, map[generic.CategoryCode]int64{generic.CategoryConsultation: 500})

	err := w.Debit("user-1", rs(800), generic.CategoryConsultation)

	var ib *generic.InsufficientBalanceError
	require.True(t, errors.As(err, &ib))
	assert.Equal(t, "category", ib.Scope)
	assertMoney(t, 500, ib.Available)
	assertMoney(t, 800, ib.Required)
	assertMoney(t, 300, ib.Shortfall())
	assert.ErrorIs(t, err, generic.ErrInsufficientBalance)

	// Nothing moved.
	assertMoney(t, 8000, w.TotalBalance.Current)
	assertMoney(t, 500, w.Category(generic.CategoryConsultation).Current)
}

func TestWallet_DebitInsufficientTotal(t *testing.T) {
	w := newWallet(600, map[generic.CategoryCode]int64{generic.CategoryConsultation: 5000})

	err := w.Debit("user-1", rs(800), generic.CategoryConsultation)

	var ib *generic.InsufficientBalanceError
	require.True(t, errors.As(err, &ib))
	assert.Equal(t, "total", ib.Scope)
	assertMoney(t, 600, ib.Available)
}

func TestWallet_UnlimitedCategoryStillBoundByTotal(t *testing.T) {
	w := newWallet(1000, map[generic.CategoryCode]int64{generic.CategoryWellness: 0})
	w.Category(generic.CategoryWellness).IsUnlimited = true

	require.NoError(t, w.Debit("user-1", rs(700), generic.CategoryWellness))
	require.NoError(t, w.CheckInvariants())

	err := w.Debit("user-1", rs(400), generic.CategoryWellness)
	assert.ErrorIs(t, err, generic.ErrInsufficientBalance)
}

func TestWallet_Errors(t *testing.T) {
	w := newWallet(1000, map[generic.CategoryCode]int64{generic.CategoryLab: 1000})

	assert.ErrorIs(t, w.Debit("user-1", rs(0), generic.CategoryLab), generic.ErrNonPositiveAmount)
	assert.ErrorIs(t, w.Debit("user-1", rs(10), generic.CategoryDental), generic.ErrCategoryNotFound)
	assert.ErrorIs(t, w.Credit("user-1", rs(10), generic.CategoryLab), generic.ErrCreditExceedsConsumed)
	assert.ErrorIs(t, w.Topup(rs(-5), generic.CategoryLab), generic.ErrNonPositiveAmount)
}

func TestWallet_TopupRaisesAllocation(t *testing.T) {
	w := newWallet(1000, map[generic.CategoryCode]int64{generic.CategoryLab: 1000})
	require.NoError(t, w.Debit("user-1", rs(400), generic.CategoryLab))

	require.NoError(t, w.Topup(rs(500), generic.CategoryLab))

	cat := w.Category(generic.CategoryLab)
	assertMoney(t, 1500, cat.Allocated)
	assertMoney(t, 1100, cat.Current)
	assertMoney(t, 400, cat.Consumed)
	assertMoney(t, 1500, w.TotalBalance.Allocated)
	require.NoError(t, w.CheckInvariants())
}

func TestWallet_FloaterAttribution(t *testing.T) {
	// GIVEN: a shared pool
	w := floaterMaster(5000)

	// WHEN: two members book
	require.NoError(t, w.Debit("user-ravi", rs(300), generic.CategoryConsultation))
	require.NoError(t, w.Debit("user-meera", rs(200), generic.CategoryConsultation))

	// THEN: consumption is attributed per member and sums to the total
	assertMoney(t, 300, w.MemberConsumed("user-ravi"))
	assertMoney(t, 200, w.MemberConsumed("user-meera"))
	require.NoError(t, w.CheckInvariants())

	// Top-ups are never attributed.
	require.NoError(t, w.Topup(rs(1000), generic.CategoryConsultation))
	assertMoney(t, 300, w.MemberConsumed("user-ravi"))
	require.NoError(t, w.CheckInvariants())
}

func TestWallet_FloaterCreditClampsAtZero(t *testing.T) {
	w := floaterMaster(5000)
	require.NoError(t, w.Debit("user-ravi", rs(300), generic.CategoryConsultation))
	require.NoError(t, w.Debit("user-meera", rs(200), generic.CategoryConsultation))

	// Crediting ravi more than ravi consumed keeps the pool sum intact.
	require.NoError(t, w.Credit("user-ravi", rs(400), generic.CategoryConsultation))

	assertMoney(t, 0, w.MemberConsumed("user-ravi"))
	assertMoney(t, 100, w.MemberConsumed("user-meera"))
	assertMoney(t, 100, w.TotalBalance.Consumed)
	require.NoError(t, w.CheckInvariants())
}

func TestWallet_CheckInvariantsDetectsDrift(t *testing.T) {
	w := newWallet(1000, map[generic.CategoryCode]int64{generic.CategoryLab: 1000})
	w.TotalBalance.Current = rs(999)
	assert.Error(t, w.CheckInvariants())

	w = floaterMaster(1000)
	w.TotalBalance.Consumed = rs(100)
	w.TotalBalance.Current = rs(900)
	assert.Error(t, w.CheckInvariants(), "member consumption does not add up")
}

func TestWallet_CloneIsDeep(t *testing.T) {
	w := floaterMaster(1000)
	require.NoError(t, w.Debit("user-ravi", rs(100), generic.CategoryConsultation))

	c := w.Clone()
	require.NoError(t, c.Debit("user-ravi", rs(100), generic.CategoryConsultation))

	assertMoney(t, 100, w.Category(generic.CategoryConsultation).Consumed)
	assertMoney(t, 100, w.MemberConsumed("user-ravi"))
	assertMoney(t, 200, c.MemberConsumed("user-ravi"))
}
