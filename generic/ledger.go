/*
ledger.go - WalletLedger: balance checks and money movement

PURPOSE:
  The WalletLedger is the only component that changes wallet balances.
  Every debit, credit, top-up and initialization is paired with exactly one
  WalletTransaction carrying before/after snapshots, written in the same
  atomic unit as the balance.

CRITICAL INVARIANTS:
  1. current = allocated - consumed, for the total and every category
  2. a category never consumes past its allocation unless unlimited
  3. one active wallet per (user, policy assignment)
  4. floater: Σ memberConsumption = master total consumed

EXCLUSIVE ACCESS:
  Mutations run under two layers:
  - an in-process mutex keyed by the wallet that holds the balance (the
    master, for floater dependents), so two dependents booking at once
    queue up instead of racing;
  - the store's UpdateWallet atomic unit with a version check, so a
    second process writing the same row fails with
    ErrConcurrentModification and is retried on a fresh read.

FLOATER REDIRECTION:
  A dependent's wallet has no balances. The ledger resolves the master
  transparently for checks and mutations and attributes the amount to
  the requesting member on the master.

EXAMPLE FLOW:
  1. Initialize: CAT001 allocated 5000           INITIALIZATION 5000
  2. Book consultation, wallet share 800         DEBIT 800   (4200 left)
  3. Cancel before cutoff                        CREDIT 800  (5000 left)
  4. HR tops up CAT001 by 1000                   ADJUSTMENT  (6000/6000)

SEE ALSO:
  - wallet.go: In-memory arithmetic
  - store.go: WalletStore atomic units
  - lifecycle.go: Main caller
*/
package generic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const defaultMaxRetries = 3

// =============================================================================
// LEDGER
// =============================================================================

type WalletLedger struct {
	store      WalletStore
	ids        IDGenerator
	members    MemberDirectory
	events     EventPublisher
	clock      Clock
	log        *zap.Logger
	locks      KeyedMutex
	maxRetries int
}

type LedgerOption func(*WalletLedger)

func WithLedgerLogger(l *zap.Logger) LedgerOption {
	return func(wl *WalletLedger) {
		if l != nil {
			wl.log = l
		}
	}
}

func WithLedgerClock(c Clock) LedgerOption {
	return func(wl *WalletLedger) { wl.clock = c }
}

func WithLedgerEvents(p EventPublisher) LedgerOption {
	return func(wl *WalletLedger) {
		if p != nil {
			wl.events = p
		}
	}
}

// WithMemberDirectory is required to initialize floater dependents.
func WithMemberDirectory(m MemberDirectory) LedgerOption {
	return func(wl *WalletLedger) { wl.members = m }
}

func NewWalletLedger(store WalletStore, ids IDGenerator, opts ...LedgerOption) *WalletLedger {
	wl := &WalletLedger{
		store:      store,
		ids:        ids,
		events:     noopPublisher{},
		clock:      SystemClock{},
		log:        zap.NewNop(),
		maxRetries: defaultMaxRetries,
	}
	for _, o := range opts {
		o(wl)
	}
	return wl
}

// =============================================================================
// REQUEST / RESULT TYPES
// =============================================================================

// LedgerRequest describes a debit or credit.
type LedgerRequest struct {
	UserID          UserID
	Amount          decimal.Decimal
	CategoryCode    CategoryCode
	BookingID       BookingID
	ServiceType     ServiceType
	ServiceProvider string
	Notes           string
	ProcessedBy     string
}

type TopupRequest struct {
	UserID       UserID
	Amount       decimal.Decimal
	CategoryCode CategoryCode
	ProcessedBy  string
	Notes        string
}

type LedgerResult struct {
	TransactionID      TransactionID   `json:"transactionId"`
	WalletID           WalletID        `json:"walletId"`
	NewBalance         decimal.Decimal `json:"newBalance"`
	NewCategoryBalance decimal.Decimal `json:"newCategoryBalance"`
}

type BalanceCheck struct {
	HasSufficient    bool            `json:"hasSufficient"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
	CategoryBalance  decimal.Decimal `json:"categoryBalance"`
	IsUnlimited      bool            `json:"isUnlimited"`
	WalletID         WalletID        `json:"walletId"`
}

// Spendable is the most a single debit can take right now.
func (c BalanceCheck) Spendable() decimal.Decimal {
	if c.IsUnlimited {
		return nonNegative(c.AvailableBalance)
	}
	return nonNegative(minDecimal(c.AvailableBalance, c.CategoryBalance))
}

// =============================================================================
// READS
// =============================================================================

// GetWallet returns the wallet that holds the user's balance: the user's
// own wallet, or the floater master for a dependent.
func (l *WalletLedger) GetWallet(ctx context.Context, userID UserID) (*Wallet, error) {
	own, err := l.store.GetActiveWalletByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !own.IsDependent() {
		return own, nil
	}
	master, err := l.store.GetWallet(ctx, *own.FloaterMasterWalletID)
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrFloaterMasterNotFound, *own.FloaterMasterWalletID)
		}
		return nil, err
	}
	return master, nil
}

// Transactions returns the audit rows relevant to a user. For a dependent
// only the rows attributed to that user on the master are returned.
func (l *WalletLedger) Transactions(ctx context.Context, userID UserID) ([]WalletTransaction, error) {
	holder, err := l.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	txs, err := l.store.ListTransactions(ctx, holder.ID)
	if err != nil {
		return nil, err
	}
	if holder.UserID == userID {
		return txs, nil
	}
	var mine []WalletTransaction
	for _, tx := range txs {
		if tx.UserID == userID {
			mine = append(mine, tx)
		}
	}
	return mine, nil
}

// CheckSufficientBalance is read-only. Floater redirection is transparent.
func (l *WalletLedger) CheckSufficientBalance(ctx context.Context, userID UserID, amount decimal.Decimal, category CategoryCode) (*BalanceCheck, error) {
	w, err := l.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	cat := w.Category(category)
	if cat == nil {
		return nil, fmt.Errorf("%w: %s", ErrCategoryNotFound, category)
	}

	check := &BalanceCheck{
		AvailableBalance: w.TotalBalance.Current,
		CategoryBalance:  cat.Current,
		IsUnlimited:      cat.IsUnlimited,
		WalletID:         w.ID,
	}
	check.HasSufficient = !amount.GreaterThan(check.Spendable())
	return check, nil
}

// =============================================================================
// MUTATIONS
// =============================================================================

// DebitWallet consumes req.Amount from the total and the category.
func (l *WalletLedger) DebitWallet(ctx context.Context, req LedgerRequest) (*LedgerResult, error) {
	return l.mutate(ctx, TxDebit, req, func(w *Wallet) error {
		return w.Debit(req.UserID, req.Amount, req.CategoryCode)
	})
}

// CreditWallet is the inverse of DebitWallet. Used for refunds.
func (l *WalletLedger) CreditWallet(ctx context.Context, req LedgerRequest) (*LedgerResult, error) {
	return l.mutate(ctx, TxCredit, req, func(w *Wallet) error {
		return w.Credit(req.UserID, req.Amount, req.CategoryCode)
	})
}

// TopupWallet raises allocated and current together.
func (l *WalletLedger) TopupWallet(ctx context.Context, req TopupRequest) (*LedgerResult, error) {
	lr := LedgerRequest{
		UserID:       req.UserID,
		Amount:       req.Amount,
		CategoryCode: req.CategoryCode,
		Notes:        req.Notes,
		ProcessedBy:  req.ProcessedBy,
	}
	return l.mutate(ctx, TxAdjustment, lr, func(w *Wallet) error {
		return w.Topup(req.Amount, req.CategoryCode)
	})
}

func (l *WalletLedger) mutate(ctx context.Context, txType TransactionType, req LedgerRequest, apply func(*Wallet) error) (*LedgerResult, error) {
	ctx, span := tracer.Start(ctx, "WalletLedger."+string(txType))
	defer span.End()
	span.SetAttributes(
		attribute.String("user_id", string(req.UserID)),
		attribute.String("category", string(req.CategoryCode)),
		attribute.String("amount", req.Amount.String()),
	)

	start := time.Now()
	defer func() { ledgerLatency.WithLabelValues(string(txType)).Observe(time.Since(start).Seconds()) }()

	result, err := l.mutateLocked(ctx, txType, req, apply)
	if err != nil {
		ledgerOps.WithLabelValues(string(txType), "error").Inc()
		failSpan(span, err)

		var ib *InsufficientBalanceError
		if errors.As(err, &ib) {
			insufficientBalance.WithLabelValues(ib.Scope).Inc()
			l.log.Info("wallet debit rejected",
				zap.String("user_id", string(req.UserID)),
				zap.String("wallet_id", string(ib.WalletID)),
				zap.String("category", string(req.CategoryCode)),
				zap.String("scope", ib.Scope),
				zap.String("available", ib.Available.String()),
				zap.String("required", ib.Required.String()))
		} else {
			l.log.Warn("wallet mutation failed",
				zap.String("type", string(txType)),
				zap.String("user_id", string(req.UserID)),
				zap.String("category", string(req.CategoryCode)),
				zap.Error(err))
		}
		return nil, err
	}

	ledgerOps.WithLabelValues(string(txType), "ok").Inc()
	ledgerAmount.WithLabelValues(string(txType)).Add(req.Amount.InexactFloat64())
	l.log.Info("wallet mutated",
		zap.String("type", string(txType)),
		zap.String("transaction_id", string(result.TransactionID)),
		zap.String("wallet_id", string(result.WalletID)),
		zap.String("user_id", string(req.UserID)),
		zap.String("booking_id", string(req.BookingID)),
		zap.String("category", string(req.CategoryCode)),
		zap.String("amount", req.Amount.String()),
		zap.String("new_balance", result.NewBalance.String()))

	l.publish(ctx, walletEventKey(txType), WalletEvent{
		Event:         walletEventKey(txType),
		MessageID:     uuid.NewString(),
		TransactionID: result.TransactionID,
		WalletID:      result.WalletID,
		UserID:        req.UserID,
		CategoryCode:  req.CategoryCode,
		Amount:        req.Amount,
		BookingID:     req.BookingID,
		OccurredAt:    l.clock.Now(),
	})
	return result, nil
}

func (l *WalletLedger) mutateLocked(ctx context.Context, txType TransactionType, req LedgerRequest, apply func(*Wallet) error) (*LedgerResult, error) {
	if req.UserID == "" {
		return nil, NewValidationError("userId", "required")
	}
	if !req.Amount.IsPositive() {
		return nil, ErrNonPositiveAmount
	}

	holder, err := l.GetWallet(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	txID, err := l.ids.NewTransactionID(ctx)
	if err != nil {
		return nil, &ExternalDependencyError{Service: "ids", Op: "NewTransactionID", Err: err}
	}

	unlock := l.locks.Lock(string(holder.ID))
	defer unlock()

	var updated *Wallet
	for attempt := 0; ; attempt++ {
		updated, err = l.store.UpdateWallet(ctx, holder.ID, func(w *Wallet) (*WalletTransaction, error) {
			before := snapshotOf(w, req.CategoryCode)
			if err := apply(w); err != nil {
				return nil, err
			}
			return &WalletTransaction{
				TransactionID:   txID,
				WalletID:        w.ID,
				UserID:          req.UserID,
				Type:            txType,
				Amount:          req.Amount,
				CategoryCode:    req.CategoryCode,
				PreviousBalance: before,
				NewBalance:      snapshotOf(w, req.CategoryCode),
				ServiceType:     req.ServiceType,
				BookingID:       req.BookingID,
				ServiceProvider: req.ServiceProvider,
				Notes:           req.Notes,
				ProcessedBy:     req.ProcessedBy,
				ProcessedAt:     l.clock.Now(),
			}, nil
		})
		if errors.Is(err, ErrConcurrentModification) && attempt < l.maxRetries {
			l.log.Debug("wallet version conflict, retrying",
				zap.String("wallet_id", string(holder.ID)), zap.Int("attempt", attempt+1))
			continue
		}
		break
	}
	if err != nil {
		return nil, err
	}

	result := &LedgerResult{
		TransactionID: txID,
		WalletID:      updated.ID,
		NewBalance:    updated.TotalBalance.Current,
	}
	if c := updated.Category(req.CategoryCode); c != nil {
		result.NewCategoryBalance = c.Current
	}
	return result, nil
}

// =============================================================================
// INITIALIZATION
// =============================================================================

type InitWalletRequest struct {
	UserID        UserID
	AssignmentID  AssignmentID
	Plan          *PlanConfig
	EffectiveFrom time.Time
	EffectiveTo   time.Time

	// PrimaryMemberID makes the wallet a floater dependent of the primary
	// member's master wallet.
	PrimaryMemberID *MemberID
	ProcessedBy     string
}

// InitializeWalletFromPolicy creates the wallet for a new assignment.
// Calling it again for the same (user, assignment) returns the existing
// wallet.
func (l *WalletLedger) InitializeWalletFromPolicy(ctx context.Context, req InitWalletRequest) (*Wallet, error) {
	ctx, span := tracer.Start(ctx, "WalletLedger.InitializeWalletFromPolicy")
	defer span.End()

	if req.UserID == "" {
		return nil, NewValidationError("userId", "required")
	}
	if req.AssignmentID == "" {
		return nil, NewValidationError("assignmentId", "required")
	}
	if req.Plan == nil {
		return nil, NewValidationError("planConfig", "required")
	}
	if !req.EffectiveTo.IsZero() && !req.EffectiveTo.After(req.EffectiveFrom) {
		return nil, NewValidationError("effectiveTo", "must be after effectiveFrom")
	}

	existing, err := l.store.GetWalletByAssignment(ctx, req.UserID, req.AssignmentID)
	if err == nil {
		return existing, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}

	now := l.clock.Now()
	w := &Wallet{
		ID:                 WalletID("WAL-" + uuid.NewString()),
		UserID:             req.UserID,
		PolicyAssignmentID: req.AssignmentID,
		PolicyID:           req.Plan.PolicyID,
		AllocationType:     req.Plan.Wallet.AllocationType,
		PolicyYear:         PolicyYear(req.EffectiveFrom, req.EffectiveTo),
		EffectiveFrom:      req.EffectiveFrom,
		EffectiveTo:        req.EffectiveTo,
		IsActive:           true,
		TotalBalance:       BalanceRecord{Allocated: decimal.Zero, Current: decimal.Zero, Consumed: decimal.Zero},
		CategoryBalances:   []CategoryBalance{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if req.PrimaryMemberID != nil {
		master, err := l.resolveFloaterMaster(ctx, *req.PrimaryMemberID)
		if err != nil {
			return nil, err
		}
		w.AllocationType = AllocationFloater
		w.FloaterMasterWalletID = &master.ID
	} else {
		for _, a := range req.Plan.Allocations() {
			w.CategoryBalances = append(w.CategoryBalances, CategoryBalance{
				CategoryCode: a.CategoryCode,
				CategoryName: a.CategoryCode.Name(),
				Allocated:    a.Allocated,
				Current:      a.Allocated,
				Consumed:     decimal.Zero,
				IsUnlimited:  a.IsUnlimited,
			})
		}
		total := req.Plan.TotalAllocation()
		w.TotalBalance = BalanceRecord{Allocated: total, Current: total, Consumed: decimal.Zero}
		if req.Plan.Wallet.AllocationType == AllocationFloater {
			w.IsFloaterMaster = true
			w.MemberConsumption = []MemberConsumption{}
		}
	}

	txID, err := l.ids.NewTransactionID(ctx)
	if err != nil {
		return nil, &ExternalDependencyError{Service: "ids", Op: "NewTransactionID", Err: err}
	}
	initTx := &WalletTransaction{
		TransactionID:   txID,
		WalletID:        w.ID,
		UserID:          req.UserID,
		Type:            TxInitialization,
		Amount:          w.TotalBalance.Allocated,
		PreviousBalance: BalanceSnapshot{Total: decimal.Zero, Category: decimal.Zero},
		NewBalance:      BalanceSnapshot{Total: w.TotalBalance.Current, Category: decimal.Zero},
		Notes:           fmt.Sprintf("initialized from policy %s v%d", req.Plan.PolicyID, req.Plan.Version),
		ProcessedBy:     req.ProcessedBy,
		ProcessedAt:     now,
	}

	if err := l.store.CreateWallet(ctx, w, initTx); err != nil {
		if errors.Is(err, ErrDuplicateWallet) {
			// Lost a race with a concurrent initialization.
			return l.store.GetWalletByAssignment(ctx, req.UserID, req.AssignmentID)
		}
		failSpan(span, err)
		return nil, err
	}

	ledgerOps.WithLabelValues(string(TxInitialization), "ok").Inc()
	l.log.Info("wallet initialized",
		zap.String("wallet_id", string(w.ID)),
		zap.String("user_id", string(w.UserID)),
		zap.String("assignment_id", string(w.PolicyAssignmentID)),
		zap.String("allocation_type", string(w.AllocationType)),
		zap.Bool("floater_dependent", w.IsDependent()),
		zap.String("allocated", w.TotalBalance.Allocated.String()))
	return w, nil
}

func (l *WalletLedger) resolveFloaterMaster(ctx context.Context, primary MemberID) (*Wallet, error) {
	if l.members == nil {
		return nil, NewValidationError("primaryMemberId", "member directory not configured")
	}
	masterUser, err := l.members.UserIDForMember(ctx, primary)
	if err != nil {
		return nil, err
	}
	master, err := l.store.GetActiveWalletByUser(ctx, masterUser)
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("%w: primary member %s", ErrFloaterMasterNotFound, primary)
		}
		return nil, err
	}
	if !master.IsFloaterMaster {
		return nil, NewValidationError("primaryMemberId", "wallet %s of member %s is not a floater master", master.ID, primary)
	}
	return master, nil
}

// DeleteWalletByAssignment hard-deletes the wallets of a removed
// assignment and returns how many rows went. A floater master with
// dependents on other assignments is refused with ErrWalletHasDependents;
// remove the dependents first.
func (l *WalletLedger) DeleteWalletByAssignment(ctx context.Context, assignmentID AssignmentID) (int, error) {
	if assignmentID == "" {
		return 0, NewValidationError("assignmentId", "required")
	}
	n, err := l.store.DeleteWalletsByAssignment(ctx, assignmentID)
	if err != nil {
		return 0, err
	}
	l.log.Info("wallets deleted for assignment",
		zap.String("assignment_id", string(assignmentID)), zap.Int("count", n))
	return n, nil
}

// =============================================================================
// EVENTS
// =============================================================================

type WalletEvent struct {
	Event         string          `json:"event"`
	MessageID     string          `json:"messageId"`
	TransactionID TransactionID   `json:"transactionId"`
	WalletID      WalletID        `json:"walletId"`
	UserID        UserID          `json:"userId"`
	CategoryCode  CategoryCode    `json:"categoryCode"`
	Amount        decimal.Decimal `json:"amount"`
	BookingID     BookingID       `json:"bookingId,omitempty"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

func walletEventKey(t TransactionType) string {
	switch t {
	case TxDebit:
		return "wallet.debited"
	case TxCredit:
		return "wallet.credited"
	default:
		return "wallet.adjusted"
	}
}

func (l *WalletLedger) publish(ctx context.Context, key string, payload any) {
	if err := l.events.PublishJSON(ctx, key, payload); err != nil {
		externalFailures.WithLabelValues("events", key).Inc()
		l.log.Warn("event publish failed", zap.String("routing_key", key), zap.Error(err))
	}
}
