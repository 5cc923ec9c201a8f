/*
wallet.go - Wallet model and in-memory balance arithmetic

PURPOSE:
  A Wallet holds the per-user, per-category balances funded by a policy
  assignment. The methods here mutate a Wallet value in memory; the
  ledger (ledger.go) runs them inside a store-level atomic unit and pairs
  each mutation with exactly one WalletTransaction.

BALANCE RECORDS:
  Every balance record (the total and each category) keeps
      current = allocated - consumed
  Debit/credit move current and consumed. Top-up raises allocated and
  current together. Categories are independent caps: the sum of category
  consumption need not equal total consumption.

FLOATER WALLETS:
  A floater master wallet holds the shared family pool. Dependent wallets
  carry no balances of their own, only FloaterMasterWalletID. Every debit
  and credit on behalf of a dependent lands on the master, and the master
  attributes it to the member in MemberConsumption:

      Σ MemberConsumption[*].Consumed == TotalBalance.Consumed

  Top-ups raise allocation only and are never attributed.

SEE ALSO:
  - ledger.go: WalletLedger (locking, persistence, audit rows)
  - transaction.go: WalletTransaction snapshots
*/
package generic

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCE RECORDS
// =============================================================================

type BalanceRecord struct {
	Allocated decimal.Decimal `json:"allocated"`
	Current   decimal.Decimal `json:"current"`
	Consumed  decimal.Decimal `json:"consumed"`
}

func (b BalanceRecord) holds() bool {
	return b.Current.Equal(b.Allocated.Sub(b.Consumed))
}

type CategoryBalance struct {
	CategoryCode CategoryCode    `json:"categoryCode"`
	CategoryName string          `json:"categoryName"`
	Allocated    decimal.Decimal `json:"allocated"`
	Current      decimal.Decimal `json:"current"`
	Consumed     decimal.Decimal `json:"consumed"`
	IsUnlimited  bool            `json:"isUnlimited"`
}

func (c CategoryBalance) record() BalanceRecord {
	return BalanceRecord{Allocated: c.Allocated, Current: c.Current, Consumed: c.Consumed}
}

type CategoryConsumption struct {
	CategoryCode CategoryCode    `json:"categoryCode"`
	Consumed     decimal.Decimal `json:"consumed"`
}

// MemberConsumption attributes part of a floater pool's consumption to
// one family member.
type MemberConsumption struct {
	UserID            UserID                `json:"userId"`
	Consumed          decimal.Decimal       `json:"consumed"`
	CategoryBreakdown []CategoryConsumption `json:"categoryBreakdown"`
}

// =============================================================================
// WALLET
// =============================================================================

type Wallet struct {
	ID                 WalletID       `json:"id"`
	UserID             UserID         `json:"userId"`
	PolicyAssignmentID AssignmentID   `json:"policyAssignmentId"`
	PolicyID           PolicyID       `json:"policyId"`
	AllocationType     AllocationType `json:"allocationType"`

	TotalBalance     BalanceRecord     `json:"totalBalance"`
	CategoryBalances []CategoryBalance `json:"categoryBalances"`

	PolicyYear    string    `json:"policyYear"`
	EffectiveFrom time.Time `json:"effectiveFrom"`
	EffectiveTo   time.Time `json:"effectiveTo"`
	IsActive      bool      `json:"isActive"`

	// Floater pooling. A dependent sets FloaterMasterWalletID; a master
	// sets IsFloaterMaster and tracks MemberConsumption.
	FloaterMasterWalletID *WalletID           `json:"floaterMasterWalletId,omitempty"`
	IsFloaterMaster       bool                `json:"isFloaterMaster,omitempty"`
	MemberConsumption     []MemberConsumption `json:"memberConsumption,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsDependent reports whether balances live on another (master) wallet.
func (w *Wallet) IsDependent() bool {
	return w.FloaterMasterWalletID != nil && *w.FloaterMasterWalletID != ""
}

// Category returns a pointer into CategoryBalances, or nil.
func (w *Wallet) Category(code CategoryCode) *CategoryBalance {
	for i := range w.CategoryBalances {
		if w.CategoryBalances[i].CategoryCode == code {
			return &w.CategoryBalances[i]
		}
	}
	return nil
}

// Clone returns a deep copy.
func (w *Wallet) Clone() *Wallet {
	c := *w
	c.CategoryBalances = append([]CategoryBalance(nil), w.CategoryBalances...)
	if w.FloaterMasterWalletID != nil {
		id := *w.FloaterMasterWalletID
		c.FloaterMasterWalletID = &id
	}
	if w.MemberConsumption != nil {
		c.MemberConsumption = make([]MemberConsumption, len(w.MemberConsumption))
		for i, mc := range w.MemberConsumption {
			mc.CategoryBreakdown = append([]CategoryConsumption(nil), mc.CategoryBreakdown...)
			c.MemberConsumption[i] = mc
		}
	}
	return &c
}

// CheckInvariants verifies the balance equations. Used by tests and by the
// stores before a write is committed.
func (w *Wallet) CheckInvariants() error {
	if !w.TotalBalance.holds() {
		return fmt.Errorf("wallet %s: total current %s != allocated %s - consumed %s",
			w.ID, w.TotalBalance.Current, w.TotalBalance.Allocated, w.TotalBalance.Consumed)
	}
	for _, c := range w.CategoryBalances {
		if !c.record().holds() {
			return fmt.Errorf("wallet %s: category %s current %s != allocated %s - consumed %s",
				w.ID, c.CategoryCode, c.Current, c.Allocated, c.Consumed)
		}
		if !c.IsUnlimited && c.Consumed.GreaterThan(c.Allocated) {
			return fmt.Errorf("wallet %s: category %s consumed %s exceeds allocated %s",
				w.ID, c.CategoryCode, c.Consumed, c.Allocated)
		}
	}
	if w.IsFloaterMaster {
		sum := decimal.Zero
		for _, mc := range w.MemberConsumption {
			sum = sum.Add(mc.Consumed)
		}
		if !sum.Equal(w.TotalBalance.Consumed) {
			return fmt.Errorf("wallet %s: member consumption %s != total consumed %s",
				w.ID, sum, w.TotalBalance.Consumed)
		}
	}
	return nil
}

// =============================================================================
// BALANCE ARITHMETIC
// =============================================================================

// Debit consumes amount from the total and the category, attributing it
// to member on a floater master.
func (w *Wallet) Debit(member UserID, amount decimal.Decimal, code CategoryCode) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	cat := w.Category(code)
	if cat == nil {
		return fmt.Errorf("%w: %s", ErrCategoryNotFound, code)
	}
	if w.TotalBalance.Current.LessThan(amount) {
		return &InsufficientBalanceError{
			WalletID: w.ID, CategoryCode: code, Scope: "total",
			Available: w.TotalBalance.Current, Required: amount,
		}
	}
	if !cat.IsUnlimited && cat.Current.LessThan(amount) {
		return &InsufficientBalanceError{
			WalletID: w.ID, CategoryCode: code, Scope: "category",
			Available: cat.Current, Required: amount,
		}
	}

	w.TotalBalance.Consumed = w.TotalBalance.Consumed.Add(amount)
	w.TotalBalance.Current = w.TotalBalance.Allocated.Sub(w.TotalBalance.Consumed)
	cat.Consumed = cat.Consumed.Add(amount)
	cat.Current = cat.Allocated.Sub(cat.Consumed)

	if w.IsFloaterMaster {
		w.attribute(member, code, amount)
	}
	return nil
}

// Credit is the inverse of Debit. It cannot return more than was consumed.
func (w *Wallet) Credit(member UserID, amount decimal.Decimal, code CategoryCode) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	cat := w.Category(code)
	if cat == nil {
		return fmt.Errorf("%w: %s", ErrCategoryNotFound, code)
	}
	if amount.GreaterThan(cat.Consumed) || amount.GreaterThan(w.TotalBalance.Consumed) {
		return fmt.Errorf("%w: credit %s, category consumed %s", ErrCreditExceedsConsumed, amount, cat.Consumed)
	}

	w.TotalBalance.Consumed = w.TotalBalance.Consumed.Sub(amount)
	w.TotalBalance.Current = w.TotalBalance.Allocated.Sub(w.TotalBalance.Consumed)
	cat.Consumed = cat.Consumed.Sub(amount)
	cat.Current = cat.Allocated.Sub(cat.Consumed)

	if w.IsFloaterMaster {
		w.attribute(member, code, amount.Neg())
	}
	return nil
}

// Topup raises both allocated and current. Consumption is untouched.
func (w *Wallet) Topup(amount decimal.Decimal, code CategoryCode) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	cat := w.Category(code)
	if cat == nil {
		return fmt.Errorf("%w: %s", ErrCategoryNotFound, code)
	}
	w.TotalBalance.Allocated = w.TotalBalance.Allocated.Add(amount)
	w.TotalBalance.Current = w.TotalBalance.Allocated.Sub(w.TotalBalance.Consumed)
	cat.Allocated = cat.Allocated.Add(amount)
	cat.Current = cat.Allocated.Sub(cat.Consumed)
	return nil
}

// attribute adds delta (negative on credit) to the member's entry,
// creating it on first use. A credit never drives an entry below zero.
func (w *Wallet) attribute(member UserID, code CategoryCode, delta decimal.Decimal) {
	idx := -1
	for i := range w.MemberConsumption {
		if w.MemberConsumption[i].UserID == member {
			idx = i
			break
		}
	}
	if idx < 0 {
		w.MemberConsumption = append(w.MemberConsumption, MemberConsumption{UserID: member, Consumed: decimal.Zero})
		idx = len(w.MemberConsumption) - 1
	}
	mc := &w.MemberConsumption[idx]

	applied := delta
	if delta.IsNegative() {
		// Clamp at zero; the clamped remainder is taken from the other
		// members so the pool sum keeps matching the master total.
		applied = decimal.Max(delta, mc.Consumed.Neg())
	}
	mc.Consumed = mc.Consumed.Add(applied)

	found := false
	for i := range mc.CategoryBreakdown {
		if mc.CategoryBreakdown[i].CategoryCode == code {
			mc.CategoryBreakdown[i].Consumed = nonNegative(mc.CategoryBreakdown[i].Consumed.Add(applied))
			found = true
			break
		}
	}
	if !found && applied.IsPositive() {
		mc.CategoryBreakdown = append(mc.CategoryBreakdown, CategoryConsumption{CategoryCode: code, Consumed: applied})
	}

	if rest := delta.Sub(applied); rest.IsNegative() {
		w.releaseFromOthers(member, rest.Neg())
	}
}

func (w *Wallet) releaseFromOthers(member UserID, amount decimal.Decimal) {
	for i := range w.MemberConsumption {
		if amount.IsZero() {
			return
		}
		mc := &w.MemberConsumption[i]
		if mc.UserID == member || !mc.Consumed.IsPositive() {
			continue
		}
		take := minDecimal(amount, mc.Consumed)
		mc.Consumed = mc.Consumed.Sub(take)
		amount = amount.Sub(take)
	}
}

// MemberConsumed returns the attributed consumption of a member.
func (w *Wallet) MemberConsumed(member UserID) decimal.Decimal {
	for _, mc := range w.MemberConsumption {
		if mc.UserID == member {
			return mc.Consumed
		}
	}
	return decimal.Zero
}
