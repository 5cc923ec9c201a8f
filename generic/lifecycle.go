/*
lifecycle.go - Booking lifecycle shared by every service type

PURPOSE:
  One state machine for appointment, dental, vision, lab and diagnostic
  bookings. A service package supplies a ServiceDefinition (category,
  slot resource, service key for per-service limits) and its details type
  F; everything else, including the four creation-time payment scenarios,
  lives here.

CREATION FLOW:
  ┌───────────┐   ┌──────────────┐   ┌────────────┐   ┌──────────────┐
  │ breakdown │──▶│ pick scenario│──▶│ insert in  │──▶│ move money   │
  │ (quote)   │   │ A / B / C / D│   │ free slot  │   │ debit + req  │
  └───────────┘   └──────────────┘   └────────────┘   └──────────────┘
                                                            │ failure
                                                            ▼
                                              credit back + delete booking
                                              -> PaymentProcessingError

PAYMENT SCENARIOS:
  A  wallet covers the debit, member owes nothing   WALLET_ONLY, COMPLETED
  B  wallet covers the debit, member owes copay/excess
                                                    COPAY, payment request
  C  wallet short; partial use opted in: debit what is spendable, member
     pays shortfall + copay/excess                  COPAY / OUT_OF_POCKET
  D  member opts out of the wallet, or the category is self-pay only:
     full bill via payment request                  OUT_OF_POCKET

  Without the partial opt-in, scenario C is rejected up front with an
  InsufficientBalanceError carrying available vs required.

TRANSITION SIDE EFFECTS:
  confirm        PENDING_CONFIRMATION only
  cancel         not from a terminal status; members are blocked inside
                 the cutoff window (admins are not). Credits the applied
                 wallet debit and requests a refund of the member payment.
                 Refunds of never-completed payments are expected to fail.
  mark no-show   CONFIRMED only, after the scheduled time. No refund.
  complete       CONFIRMED only; requests an invoice.
  reschedule     admin only; rechecks target slot capacity, records the
                 prior slot, moves no money.
  payment paid   applies a deferred wallet debit, marks payment COMPLETED,
                 confirms when the service confirms on payment.

EXCLUSIVE ACCESS:
  Transitions on one booking are serialized by a per-booking mutex; slot
  occupancy is guarded by a per-slot mutex plus the store's atomic
  count-and-insert.

SEE ALSO:
  - booking.go: Record and transition table
  - ledger.go: Money movement
  - appointment/, dental/, vision/, lab/, diagnostic/: Service definitions
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

const DefaultCancellationCutoff = 24 * time.Hour

// =============================================================================
// SERVICE DEFINITION
// =============================================================================

// ServiceDefinition parameterizes the lifecycle for one service type.
type ServiceDefinition[F any] struct {
	Type     ServiceType
	Category CategoryCode
	IDPrefix string

	// SlotCapacity is how many active bookings one slot can hold.
	SlotCapacity int

	// ConfirmOnPayment confirms the booking as soon as the payment side is
	// settled. Otherwise a provider/admin confirms explicitly.
	ConfirmOnPayment bool

	// ServiceKey indexes benefit.serviceTransactionLimits.
	ServiceKey func(F) string
	// ResourceID names the slot resource (doctor, chair, lab).
	ResourceID func(F) string
	// Provider is recorded on wallet transactions.
	Provider func(F) string
	// Validate checks the service-specific details.
	Validate func(F) error
}

func (d ServiceDefinition[F]) serviceKey(f F) string {
	if d.ServiceKey == nil {
		return ""
	}
	return d.ServiceKey(f)
}

func (d ServiceDefinition[F]) provider(f F) string {
	if d.Provider == nil {
		return ""
	}
	return d.Provider(f)
}

func (d ServiceDefinition[F]) capacity() int {
	if d.SlotCapacity <= 0 {
		return 1
	}
	return d.SlotCapacity
}

// =============================================================================
// ACTORS
// =============================================================================

type ActorRole string

const (
	ActorMember ActorRole = "MEMBER"
	ActorAdmin  ActorRole = "ADMIN"
	ActorSystem ActorRole = "SYSTEM"
)

type Actor struct {
	ID   string    `json:"id"`
	Role ActorRole `json:"role"`
}

func (a Actor) String() string {
	return string(a.Role) + ":" + a.ID
}

// cutoffApplies is the cancellation policy: only member-initiated
// cancellations are held to the cutoff window.
func cutoffApplies(a Actor) bool {
	return a.Role == ActorMember
}

// =============================================================================
// LIFECYCLE
// =============================================================================

type LifecycleDeps struct {
	Ledger      *WalletLedger
	Plans       PlanConfigService
	Assignments AssignmentsService
	IDs         IDGenerator
	Payments    PaymentService

	// Optional.
	Summaries          TransactionSummaryService
	Invoices           InvoiceService
	Events             EventPublisher
	Clock              Clock
	Logger             *zap.Logger
	CancellationCutoff time.Duration
}

type Lifecycle[F any] struct {
	def   ServiceDefinition[F]
	store BookingStore[F]

	ledger      *WalletLedger
	plans       PlanConfigService
	assignments AssignmentsService
	ids         IDGenerator
	payments    PaymentService
	summaries   TransactionSummaryService
	invoices    InvoiceService
	events      EventPublisher
	clock       Clock
	log         *zap.Logger
	cutoff      time.Duration

	bookingLocks KeyedMutex
	slotLocks    KeyedMutex
}

func NewLifecycle[F any](def ServiceDefinition[F], store BookingStore[F], deps LifecycleDeps) *Lifecycle[F] {
	lc := &Lifecycle[F]{
		def:         def,
		store:       store,
		ledger:      deps.Ledger,
		plans:       deps.Plans,
		assignments: deps.Assignments,
		ids:         deps.IDs,
		payments:    deps.Payments,
		summaries:   deps.Summaries,
		invoices:    deps.Invoices,
		events:      deps.Events,
		clock:       deps.Clock,
		log:         deps.Logger,
		cutoff:      deps.CancellationCutoff,
	}
	if lc.events == nil {
		lc.events = noopPublisher{}
	}
	if lc.clock == nil {
		lc.clock = SystemClock{}
	}
	if lc.log == nil {
		lc.log = zap.NewNop()
	}
	lc.log = lc.log.With(zap.String("service_type", string(def.Type)))
	if lc.cutoff <= 0 {
		lc.cutoff = DefaultCancellationCutoff
	}
	return lc
}

// Definition returns the service definition this lifecycle runs.
func (lc *Lifecycle[F]) Definition() ServiceDefinition[F] {
	return lc.def
}

// =============================================================================
// REQUESTS
// =============================================================================

type CreateRequest[F any] struct {
	UserID    UserID `json:"userId"`              // booker
	PatientID UserID `json:"patientId,omitempty"` // defaults to the booker
	Date      string `json:"date"`
	Time      string `json:"time"`

	BillAmount decimal.Decimal `json:"billAmount"`

	// SkipWallet is the member's opt-out (scenario D).
	SkipWallet bool `json:"skipWallet,omitempty"`
	// AllowPartialWallet opts into scenario C when the wallet is short.
	AllowPartialWallet bool `json:"allowPartialWallet,omitempty"`
	// DeferWalletDebit holds the wallet debit until the member payment
	// clears. Only meaningful when the member owes something.
	DeferWalletDebit bool `json:"deferWalletDebit,omitempty"`

	Details F `json:"details"`
}

func (r *CreateRequest[F]) patient() UserID {
	if r.PatientID == "" {
		return r.UserID
	}
	return r.PatientID
}

type PaymentScenario string

const (
	ScenarioWalletOnly     PaymentScenario = "A"
	ScenarioWalletAndCopay PaymentScenario = "B"
	ScenarioPartialWallet  PaymentScenario = "C"
	ScenarioOutOfPocket    PaymentScenario = "D"
)

// Quote is the side-effect-free result of planning a booking's payment.
type Quote struct {
	Scenario      PaymentScenario  `json:"scenario"`
	PaymentMethod PaymentMethod    `json:"paymentMethod"`
	PaymentType   PaymentType      `json:"paymentType,omitempty"`
	Breakdown     PaymentBreakdown `json:"breakdown"`
	Balance       *BalanceCheck    `json:"balance,omitempty"`
	Assignment    Assignment       `json:"-"`
}

type RescheduleRequest struct {
	Date   string `json:"date"`
	Time   string `json:"time"`
	Reason string `json:"reason,omitempty"`
}

// =============================================================================
// QUOTE (shared by validation and commit)
// =============================================================================

// Quote computes the breakdown and payment scenario without side effects.
func (lc *Lifecycle[F]) Quote(ctx context.Context, req CreateRequest[F]) (*Quote, error) {
	if err := lc.validateCreate(req); err != nil {
		return nil, err
	}
	return lc.plan(ctx, req)
}

func (lc *Lifecycle[F]) plan(ctx context.Context, req CreateRequest[F]) (*Quote, error) {
	patient := req.patient()

	assignments, err := lc.assignments.GetUserAssignments(ctx, patient)
	if err != nil {
		return nil, err
	}
	if len(assignments) == 0 {
		return nil, fmt.Errorf("%w: user %s", ErrAssignmentNotFound, patient)
	}
	active := assignments[0]

	cfg, err := lc.plans.GetConfig(ctx, active.PolicyID, active.PlanVersion)
	if err != nil {
		return nil, err
	}

	bd, err := ComputeBreakdown(cfg, lc.def.Category, lc.def.serviceKey(req.Details), active.Relationship, req.BillAmount)
	if err != nil {
		return nil, err
	}

	q := &Quote{Assignment: active}

	if bd.SelfPayOnly || req.SkipWallet {
		q.Scenario = ScenarioOutOfPocket
		q.PaymentMethod = PaymentOutOfPocket
		q.PaymentType = PaymentTypeOutOfPocket
		q.Breakdown = bd.outOfPocket()
		return q, nil
	}

	if !bd.WalletDebitAmount.IsPositive() {
		// A flat copay swallowed the whole bill.
		q.Scenario = ScenarioWalletAndCopay
		q.PaymentMethod = PaymentCopay
		q.PaymentType = PaymentTypeCopay
		q.Breakdown = bd
		return q, nil
	}

	check, err := lc.ledger.CheckSufficientBalance(ctx, patient, bd.WalletDebitAmount, lc.def.Category)
	if err != nil {
		return nil, err
	}
	q.Balance = check

	if check.HasSufficient {
		q.Breakdown = bd
		if bd.TotalMemberPayment.IsPositive() {
			q.Scenario = ScenarioWalletAndCopay
			q.PaymentMethod = PaymentCopay
			q.PaymentType = PaymentTypeCopay
		} else {
			q.Scenario = ScenarioWalletOnly
			q.PaymentMethod = PaymentWalletOnly
		}
		return q, nil
	}

	spendable := check.Spendable()
	if !req.AllowPartialWallet {
		scope := "total"
		if !check.IsUnlimited && check.CategoryBalance.LessThan(check.AvailableBalance) {
			scope = "category"
		}
		return nil, &InsufficientBalanceError{
			WalletID:     check.WalletID,
			CategoryCode: lc.def.Category,
			Scope:        scope,
			Available:    spendable,
			Required:     bd.WalletDebitAmount,
		}
	}

	shortfall := bd.WalletDebitAmount.Sub(spendable)
	bd.WalletDebitAmount = spendable
	bd.TotalMemberPayment = bd.TotalMemberPayment.Add(shortfall)
	q.Scenario = ScenarioPartialWallet
	q.PaymentType = PaymentTypeShortfall
	q.PaymentMethod = PaymentCopay
	if !spendable.IsPositive() {
		q.PaymentMethod = PaymentOutOfPocket
	}
	q.Breakdown = bd
	return q, nil
}

func (lc *Lifecycle[F]) validateCreate(req CreateRequest[F]) error {
	if req.UserID == "" {
		return NewValidationError("userId", "required")
	}
	if !req.BillAmount.IsPositive() {
		return NewValidationError("billAmount", "must be positive")
	}
	at, err := ParseSlotTime(req.Date, req.Time)
	if err != nil {
		return err
	}
	if !at.After(lc.clock.Now()) {
		return NewValidationError("date", "slot %s %s is in the past", req.Date, req.Time)
	}
	if lc.def.Validate != nil {
		if err := lc.def.Validate(req.Details); err != nil {
			return err
		}
	}
	if lc.def.ResourceID != nil && lc.def.ResourceID(req.Details) == "" {
		return NewValidationError("details", "missing slot resource")
	}
	return nil
}

// =============================================================================
// CREATE
// =============================================================================

// Create books a slot and moves money according to the selected scenario.
// Any failure after the booking is inserted undoes the wallet debit and
// deletes the booking before returning a PaymentProcessingError.
func (lc *Lifecycle[F]) Create(ctx context.Context, req CreateRequest[F]) (*Booking[F], error) {
	ctx, span := tracer.Start(ctx, "Lifecycle.Create")
	defer span.End()
	span.SetAttributes(attribute.String("service_type", string(lc.def.Type)))

	if err := lc.validateCreate(req); err != nil {
		return nil, err
	}
	q, err := lc.plan(ctx, req)
	if err != nil {
		return nil, err
	}

	id, err := lc.ids.NewBookingID(ctx, lc.def.IDPrefix)
	if err != nil {
		return nil, &ExternalDependencyError{Service: "ids", Op: "NewBookingID", Err: err}
	}

	now := lc.clock.Now()
	b := &Booking[F]{
		BookingID:        id,
		ServiceType:      lc.def.Type,
		UserID:           req.UserID,
		PatientID:        req.patient(),
		Relationship:     q.Assignment.Relationship,
		AssignmentID:     q.Assignment.ID,
		CategoryCode:     lc.def.Category,
		ServiceKey:       lc.def.serviceKey(req.Details),
		Slot:             Slot{Date: req.Date, Time: req.Time},
		PaymentBreakdown: q.Breakdown,
		PaymentMethod:    q.PaymentMethod,
		PaymentStatus:    PaymentPending,
		Status:           StatusPendingConfirmation,
		Details:          req.Details,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if lc.def.ResourceID != nil {
		b.Slot.ResourceID = lc.def.ResourceID(req.Details)
	}

	unlock := lc.slotLocks.Lock(b.Slot.Key())
	err = lc.store.CreateIfSlotAvailable(ctx, b, lc.def.capacity())
	unlock()
	if err != nil {
		return nil, err
	}
	paymentScenarios.WithLabelValues(string(lc.def.Type), string(q.Scenario)).Inc()

	if err := lc.settle(ctx, b, q, req); err != nil {
		lc.compensate(ctx, b, err)
		failSpan(span, err)
		return nil, &PaymentProcessingError{BookingID: b.BookingID, Err: err}
	}

	lc.recordSummary(ctx, b)
	bookingTransitions.WithLabelValues(string(lc.def.Type), string(b.Status)).Inc()
	lc.log.Info("booking created",
		zap.String("booking_id", string(b.BookingID)),
		zap.String("user_id", string(b.UserID)),
		zap.String("patient_id", string(b.PatientID)),
		zap.String("scenario", string(q.Scenario)),
		zap.String("payment_method", string(b.PaymentMethod)),
		zap.String("wallet_debit", b.WalletDebitAmount.String()),
		zap.String("member_payment", b.TotalMemberPayment.String()),
		zap.String("status", string(b.Status)))
	lc.publish(ctx, "booking.created", b)
	return b, nil
}

// settle moves money for a freshly inserted booking and persists the
// outcome. b is updated in place so compensate can see what was applied.
func (lc *Lifecycle[F]) settle(ctx context.Context, b *Booking[F], q *Quote, req CreateRequest[F]) error {
	member := b.TotalMemberPayment
	debit := b.WalletDebitAmount
	deferred := req.DeferWalletDebit && member.IsPositive()

	if debit.IsPositive() && !deferred {
		res, err := lc.ledger.DebitWallet(ctx, lc.ledgerRequest(b, "booking "+string(b.BookingID)))
		if err != nil {
			return err
		}
		b.TransactionID = res.TransactionID
		b.WalletDebitApplied = true
	}

	if member.IsPositive() {
		p, err := lc.payments.CreatePaymentRequest(ctx, PaymentRequest{
			UserID:             b.UserID,
			Amount:             member,
			PaymentType:        q.PaymentType,
			ServiceType:        lc.def.Type,
			ServiceID:          b.BookingID,
			ServiceReferenceID: string(b.BookingID),
			Description:        fmt.Sprintf("%s booking %s (%s)", lc.def.Category.Name(), b.BookingID, q.PaymentMethod),
		})
		if err != nil {
			return &ExternalDependencyError{Service: "payments", Op: "CreatePaymentRequest", Err: err}
		}
		b.PaymentID = p.PaymentID
	} else {
		b.PaymentStatus = PaymentCompleted
		if lc.def.ConfirmOnPayment {
			now := lc.clock.Now()
			b.Status = StatusConfirmed
			b.ConfirmedAt = &now
		}
	}

	settled := *b
	updated, err := lc.store.UpdateBooking(ctx, b.BookingID, func(cur *Booking[F]) error {
		cur.TransactionID = settled.TransactionID
		cur.WalletDebitApplied = settled.WalletDebitApplied
		cur.PaymentID = settled.PaymentID
		cur.PaymentStatus = settled.PaymentStatus
		cur.Status = settled.Status
		cur.ConfirmedAt = settled.ConfirmedAt
		cur.UpdatedAt = lc.clock.Now()
		return nil
	})
	if err != nil {
		return err
	}
	*b = *updated
	return nil
}

func (lc *Lifecycle[F]) compensate(ctx context.Context, b *Booking[F], cause error) {
	compensations.WithLabelValues(string(lc.def.Type), "create").Inc()
	lc.log.Warn("booking creation failed, compensating",
		zap.String("booking_id", string(b.BookingID)),
		zap.Bool("wallet_debit_applied", b.WalletDebitApplied),
		zap.Error(cause))

	if b.WalletDebitApplied {
		req := lc.ledgerRequest(b, "reversal of failed booking "+string(b.BookingID))
		if _, err := lc.ledger.CreditWallet(ctx, req); err != nil {
			externalFailures.WithLabelValues("ledger", "compensating_credit").Inc()
			lc.log.Error("compensating credit failed",
				zap.String("booking_id", string(b.BookingID)),
				zap.String("amount", b.WalletDebitAmount.String()),
				zap.Error(err))
		}
	}
	if err := lc.store.DeleteBooking(ctx, b.BookingID); err != nil {
		lc.log.Error("compensating delete failed",
			zap.String("booking_id", string(b.BookingID)), zap.Error(err))
	}
}

func (lc *Lifecycle[F]) ledgerRequest(b *Booking[F], notes string) LedgerRequest {
	return LedgerRequest{
		UserID:          b.PatientID,
		Amount:          b.WalletDebitAmount,
		CategoryCode:    b.CategoryCode,
		BookingID:       b.BookingID,
		ServiceType:     b.ServiceType,
		ServiceProvider: lc.def.provider(b.Details),
		Notes:           notes,
	}
}

func (lc *Lifecycle[F]) recordSummary(ctx context.Context, b *Booking[F]) {
	if lc.summaries == nil {
		return
	}
	_, err := lc.summaries.CreateTransaction(ctx, TransactionSummary{
		ID:                  "TS-" + uuid.NewString(),
		UserID:              b.UserID,
		PatientID:           b.PatientID,
		ServiceType:         b.ServiceType,
		BookingID:           b.BookingID,
		CategoryCode:        b.CategoryCode,
		PaymentMethod:       b.PaymentMethod,
		PaymentBreakdown:    b.PaymentBreakdown,
		WalletTransactionID: b.TransactionID,
		PaymentID:           b.PaymentID,
		CreatedAt:           lc.clock.Now(),
	})
	if err != nil {
		externalFailures.WithLabelValues("summaries", "CreateTransaction").Inc()
		lc.log.Error("transaction summary failed",
			zap.String("booking_id", string(b.BookingID)), zap.Error(err))
	}
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Get returns a booking by ID.
func (lc *Lifecycle[F]) Get(ctx context.Context, id BookingID) (*Booking[F], error) {
	return lc.store.GetBooking(ctx, id)
}

// ListByUser returns bookings made by or for a user.
func (lc *Lifecycle[F]) ListByUser(ctx context.Context, userID UserID) ([]Booking[F], error) {
	return lc.store.ListByUser(ctx, userID)
}

// Confirm moves PENDING_CONFIRMATION to CONFIRMED.
func (lc *Lifecycle[F]) Confirm(ctx context.Context, id BookingID, by Actor) (*Booking[F], error) {
	unlock := lc.bookingLocks.Lock(string(id))
	defer unlock()

	b, err := lc.store.UpdateBooking(ctx, id, func(b *Booking[F]) error {
		if b.Status != StatusPendingConfirmation {
			return &StateError{BookingID: id, From: b.Status, Action: "confirm"}
		}
		now := lc.clock.Now()
		b.Status = StatusConfirmed
		b.ConfirmedAt = &now
		b.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	lc.transitioned(ctx, b, by)
	return b, nil
}

// Cancel cancels a non-terminal booking and reverses its money.
//
// The status change is committed first; wallet credit and payment refund
// follow. A failed wallet credit is returned with the booking left
// CANCELLED and WalletDebitApplied still set. Calling Cancel again on that
// booking retries the credit and any refund not yet settled.
// A failed refund is logged and counted but does not fail the call.
func (lc *Lifecycle[F]) Cancel(ctx context.Context, id BookingID, by Actor, reason string) (*Booking[F], error) {
	ctx, span := tracer.Start(ctx, "Lifecycle.Cancel")
	defer span.End()

	unlock := lc.bookingLocks.Lock(string(id))
	defer unlock()

	b, err := lc.store.GetBooking(ctx, id)
	if err != nil {
		failSpan(span, err)
		return nil, err
	}
	retry := b.Status == StatusCancelled && b.WalletDebitApplied && b.WalletDebitAmount.IsPositive()
	if retry {
		lc.log.Info("retrying wallet credit for cancelled booking",
			zap.String("booking_id", string(id)), zap.String("actor", by.String()))
	} else {
		b, err = lc.store.UpdateBooking(ctx, id, func(b *Booking[F]) error {
			if b.Status.IsTerminal() {
				return &StateError{BookingID: id, From: b.Status, Action: "cancel"}
			}
			now := lc.clock.Now()
			if cutoffApplies(by) {
				at, err := b.ScheduledAt()
				if err != nil {
					return err
				}
				if at.Sub(now) < lc.cutoff {
					return &CutoffError{BookingID: id, ScheduledAt: at, Cutoff: lc.cutoff}
				}
			}
			b.Status = StatusCancelled
			b.CancelledAt = &now
			b.CancelledBy = by.String()
			b.CancellationReason = reason
			b.UpdatedAt = now
			return nil
		})
		if err != nil {
			failSpan(span, err)
			return nil, err
		}
		lc.transitioned(ctx, b, by)
	}

	var refundTx TransactionID
	var creditErr error
	if b.WalletDebitApplied && b.WalletDebitAmount.IsPositive() {
		res, err := lc.ledger.CreditWallet(ctx, lc.ledgerRequest(b, "refund on cancellation of "+string(b.BookingID)))
		if err != nil {
			lc.log.Error("wallet credit on cancellation failed",
				zap.String("booking_id", string(id)), zap.Error(err))
			creditErr = fmt.Errorf("credit wallet for cancelled booking %s: %w", id, err)
		} else {
			refundTx = res.TransactionID
		}
	}

	status := lc.refundOnCancel(ctx, b, reason)
	if status == "" && refundTx != "" && b.PaymentID == "" {
		status = PaymentRefunded
	}

	out := b
	if status != "" || refundTx != "" {
		out, err = lc.store.UpdateBooking(ctx, id, func(b *Booking[F]) error {
			if status != "" {
				b.PaymentStatus = status
			}
			if refundTx != "" {
				b.RefundTransactionID = refundTx
				b.WalletDebitApplied = false
			}
			b.UpdatedAt = lc.clock.Now()
			return nil
		})
		if err != nil {
			failSpan(span, err)
			return nil, err
		}
	}
	if creditErr != nil {
		failSpan(span, creditErr)
		return out, creditErr
	}
	return out, nil
}

// refundOnCancel refunds the member payment of a cancelled booking and
// returns the payment status to record, or "" to leave it unchanged:
//
//	refund issued          REFUNDED
//	never collected        FAILED (a late payment is refunded on arrival)
//	refund call failed     unchanged
//	already settled        unchanged
func (lc *Lifecycle[F]) refundOnCancel(ctx context.Context, b *Booking[F], reason string) PaymentStatus {
	if b.PaymentID == "" || b.PaymentStatus == PaymentRefunded || b.PaymentStatus == PaymentFailed {
		return ""
	}
	if _, err := lc.payments.ProcessRefund(ctx, b.PaymentID, reason); err != nil {
		if errors.Is(err, ErrPaymentNotCompleted) {
			lc.log.Debug("no refund for uncompleted payment",
				zap.String("booking_id", string(b.BookingID)), zap.String("payment_id", string(b.PaymentID)))
			return PaymentFailed
		}
		externalFailures.WithLabelValues("payments", "ProcessRefund").Inc()
		lc.log.Error("payment refund failed",
			zap.String("booking_id", string(b.BookingID)),
			zap.String("payment_id", string(b.PaymentID)),
			zap.Error(err))
		return ""
	}
	return PaymentRefunded
}

// MarkNoShow moves CONFIRMED to NO_SHOW once the scheduled time has
// passed. The member forfeits the wallet debit and any payment made.
func (lc *Lifecycle[F]) MarkNoShow(ctx context.Context, id BookingID, by Actor) (*Booking[F], error) {
	unlock := lc.bookingLocks.Lock(string(id))
	defer unlock()

	b, err := lc.store.UpdateBooking(ctx, id, func(b *Booking[F]) error {
		if !CanTransition(b.Status, StatusNoShow) {
			return &StateError{BookingID: id, From: b.Status, Action: "mark no-show"}
		}
		at, err := b.ScheduledAt()
		if err != nil {
			return err
		}
		now := lc.clock.Now()
		if now.Before(at) {
			return fmt.Errorf("%w: booking %s scheduled at %s", ErrScheduledTimeNotPassed, id, at.Format(time.RFC3339))
		}
		b.Status = StatusNoShow
		b.NoShowAt = &now
		b.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	lc.transitioned(ctx, b, by)
	return b, nil
}

// Complete moves CONFIRMED to COMPLETED and requests an invoice.
func (lc *Lifecycle[F]) Complete(ctx context.Context, id BookingID, by Actor) (*Booking[F], error) {
	unlock := lc.bookingLocks.Lock(string(id))
	defer unlock()

	b, err := lc.store.UpdateBooking(ctx, id, func(b *Booking[F]) error {
		if b.Status != StatusConfirmed {
			return &StateError{BookingID: id, From: b.Status, Action: "complete"}
		}
		now := lc.clock.Now()
		b.Status = StatusCompleted
		b.CompletedAt = &now
		b.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	lc.transitioned(ctx, b, by)

	if lc.invoices != nil {
		err := lc.invoices.GenerateInvoice(ctx, InvoiceRequest{
			BookingID:   b.BookingID,
			ServiceType: b.ServiceType,
			UserID:      b.UserID,
			PatientID:   b.PatientID,
			BillAmount:  b.BillAmount,
			PaymentID:   b.PaymentID,
			CompletedAt: *b.CompletedAt,
		})
		if err != nil {
			externalFailures.WithLabelValues("invoices", "GenerateInvoice").Inc()
			lc.log.Error("invoice generation failed",
				zap.String("booking_id", string(id)), zap.Error(err))
		}
	}
	return b, nil
}

// Reschedule moves a booking to another slot of the same resource. Admin
// only. No money moves.
func (lc *Lifecycle[F]) Reschedule(ctx context.Context, id BookingID, by Actor, req RescheduleRequest) (*Booking[F], error) {
	if by.Role != ActorAdmin {
		return nil, &RoleError{Role: by.Role, Action: "reschedule"}
	}
	at, err := ParseSlotTime(req.Date, req.Time)
	if err != nil {
		return nil, err
	}
	if !at.After(lc.clock.Now()) {
		return nil, NewValidationError("date", "slot %s %s is in the past", req.Date, req.Time)
	}

	unlock := lc.bookingLocks.Lock(string(id))
	defer unlock()

	current, err := lc.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() {
		return nil, &StateError{BookingID: id, From: current.Status, Action: "reschedule"}
	}
	target := Slot{ResourceID: current.Slot.ResourceID, Date: req.Date, Time: req.Time}
	if target == current.Slot {
		return nil, NewValidationError("date", "booking is already in slot %s %s", req.Date, req.Time)
	}

	unlockSlot := lc.slotLocks.Lock(target.Key())
	defer unlockSlot()

	b, err := lc.store.MoveIfSlotAvailable(ctx, id, target, lc.def.capacity(), func(b *Booking[F]) error {
		if b.Status.IsTerminal() {
			return &StateError{BookingID: id, From: b.Status, Action: "reschedule"}
		}
		now := lc.clock.Now()
		b.RescheduleHistory = append(b.RescheduleHistory, RescheduleEntry{
			PreviousDate:  b.Slot.Date,
			PreviousTime:  b.Slot.Time,
			NewDate:       target.Date,
			NewTime:       target.Time,
			RescheduledAt: now,
			RescheduledBy: by.String(),
			Reason:        req.Reason,
		})
		b.Slot = target
		b.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	lc.log.Info("booking rescheduled",
		zap.String("booking_id", string(id)),
		zap.String("date", target.Date), zap.String("time", target.Time))
	lc.publish(ctx, "booking.rescheduled", b)
	return b, nil
}

// =============================================================================
// PAYMENT COMPLETION
// =============================================================================

// HandlePaymentComplete is called when the member payment for a booking
// clears. It is idempotent: a second call for a completed payment returns
// the booking unchanged.
func (lc *Lifecycle[F]) HandlePaymentComplete(ctx context.Context, paymentID PaymentID) (*Booking[F], error) {
	ctx, span := tracer.Start(ctx, "Lifecycle.HandlePaymentComplete")
	defer span.End()

	found, err := lc.store.GetByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	id := found.BookingID

	unlock := lc.bookingLocks.Lock(string(id))
	defer unlock()

	b, err := lc.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.PaymentStatus == PaymentCompleted || b.PaymentStatus == PaymentRefunded {
		return b, nil
	}
	if b.Status.IsTerminal() {
		lc.log.Warn("payment completed for closed booking",
			zap.String("booking_id", string(id)),
			zap.String("payment_id", string(paymentID)),
			zap.String("status", string(b.Status)))
		if b.Status != StatusCancelled {
			return b, nil
		}
		if _, err := lc.payments.ProcessRefund(ctx, paymentID, "booking cancelled before payment"); err != nil {
			externalFailures.WithLabelValues("payments", "ProcessRefund").Inc()
			lc.log.Error("late payment refund failed", zap.String("payment_id", string(paymentID)), zap.Error(err))
			return b, nil
		}
		return lc.store.UpdateBooking(ctx, id, func(b *Booking[F]) error {
			b.PaymentStatus = PaymentRefunded
			b.UpdatedAt = lc.clock.Now()
			return nil
		})
	}

	var debitTx TransactionID
	if !b.WalletDebitApplied && b.WalletDebitAmount.IsPositive() {
		res, err := lc.ledger.DebitWallet(ctx, lc.ledgerRequest(b, "deferred debit for "+string(id)))
		if err != nil {
			if IsClientError(err) || IsNotFound(err) {
				return lc.cancelUnfunded(ctx, b, err)
			}
			failSpan(span, err)
			return nil, fmt.Errorf("apply deferred wallet debit for %s: %w", id, err)
		}
		debitTx = res.TransactionID
	}

	updated, err := lc.store.UpdateBooking(ctx, id, func(b *Booking[F]) error {
		now := lc.clock.Now()
		if debitTx != "" {
			b.TransactionID = debitTx
			b.WalletDebitApplied = true
		}
		b.PaymentStatus = PaymentCompleted
		if lc.def.ConfirmOnPayment && b.Status == StatusPendingConfirmation {
			b.Status = StatusConfirmed
			b.ConfirmedAt = &now
		}
		b.UpdatedAt = now
		return nil
	})
	if err != nil {
		if debitTx != "" {
			if _, cerr := lc.ledger.CreditWallet(ctx, lc.ledgerRequest(b, "reversal of deferred debit for "+string(id))); cerr != nil {
				lc.log.Error("reversal of deferred debit failed", zap.String("booking_id", string(id)), zap.Error(cerr))
			}
		}
		return nil, err
	}

	lc.log.Info("booking payment completed",
		zap.String("booking_id", string(id)),
		zap.String("payment_id", string(paymentID)),
		zap.Bool("deferred_debit_applied", debitTx != ""),
		zap.String("status", string(updated.Status)))
	if updated.Status != b.Status {
		lc.transitioned(ctx, updated, Actor{ID: string(paymentID), Role: ActorSystem})
	}
	return updated, nil
}

// cancelUnfunded handles a member payment that cleared after the wallet
// could no longer cover the deferred debit. The booking is cancelled by the
// system and the member payment refunded. If the refund fails the payment
// stays PENDING on a CANCELLED booking, so a redelivered payment event
// retries it through the late-payment path.
func (lc *Lifecycle[F]) cancelUnfunded(ctx context.Context, b *Booking[F], cause error) (*Booking[F], error) {
	compensations.WithLabelValues(string(lc.def.Type), "payment").Inc()
	lc.log.Warn("deferred wallet debit rejected after payment, cancelling",
		zap.String("booking_id", string(b.BookingID)),
		zap.String("payment_id", string(b.PaymentID)),
		zap.Error(cause))

	system := Actor{ID: string(b.PaymentID), Role: ActorSystem}
	reason := "wallet debit rejected at payment: " + cause.Error()
	cancelled, err := lc.store.UpdateBooking(ctx, b.BookingID, func(b *Booking[F]) error {
		if b.Status.IsTerminal() {
			return &StateError{BookingID: b.BookingID, From: b.Status, Action: "cancel"}
		}
		now := lc.clock.Now()
		b.Status = StatusCancelled
		b.CancelledAt = &now
		b.CancelledBy = system.String()
		b.CancellationReason = reason
		b.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	lc.transitioned(ctx, cancelled, system)

	if _, err := lc.payments.ProcessRefund(ctx, cancelled.PaymentID, reason); err != nil {
		externalFailures.WithLabelValues("payments", "ProcessRefund").Inc()
		lc.log.Error("refund after rejected deferred debit failed",
			zap.String("booking_id", string(cancelled.BookingID)),
			zap.String("payment_id", string(cancelled.PaymentID)),
			zap.Error(err))
		return cancelled, nil
	}
	return lc.store.UpdateBooking(ctx, cancelled.BookingID, func(b *Booking[F]) error {
		b.PaymentStatus = PaymentRefunded
		b.UpdatedAt = lc.clock.Now()
		return nil
	})
}

// OnPaymentCompleted implements PaymentListener for payments of this
// service type.
func (lc *Lifecycle[F]) OnPaymentCompleted(ctx context.Context, p Payment) error {
	if p.ServiceType != lc.def.Type {
		return nil
	}
	_, err := lc.HandlePaymentComplete(ctx, p.PaymentID)
	return err
}

// =============================================================================
// SWEEPS
// =============================================================================

// MarkOverdueNoShows marks CONFIRMED bookings whose slot started more than
// grace ago. Returns how many were marked.
func (lc *Lifecycle[F]) MarkOverdueNoShows(ctx context.Context, grace time.Duration) (int, error) {
	confirmed, err := lc.store.ListByStatus(ctx, StatusConfirmed)
	if err != nil {
		return 0, err
	}
	now := lc.clock.Now()
	system := Actor{ID: "no-show-sweeper", Role: ActorSystem}

	marked := 0
	for _, b := range confirmed {
		at, err := b.ScheduledAt()
		if err != nil || now.Before(at.Add(grace)) {
			continue
		}
		if _, err := lc.MarkNoShow(ctx, b.BookingID, system); err != nil {
			lc.log.Warn("no-show sweep skipped booking",
				zap.String("booking_id", string(b.BookingID)), zap.Error(err))
			continue
		}
		marked++
	}
	return marked, nil
}

// =============================================================================
// EVENTS
// =============================================================================

type BookingEvent struct {
	Event         string        `json:"event"`
	Version       int           `json:"version"`
	MessageID     string        `json:"messageId"`
	BookingID     BookingID     `json:"bookingId"`
	ServiceType   ServiceType   `json:"serviceType"`
	UserID        UserID        `json:"userId"`
	PatientID     UserID        `json:"patientId"`
	Status        BookingStatus `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	PaymentID     PaymentID     `json:"paymentId,omitempty"`
	Actor         string        `json:"actor,omitempty"`
	OccurredAt    time.Time     `json:"occurredAt"`
}

var statusEvents = map[BookingStatus]string{
	StatusConfirmed: "booking.confirmed",
	StatusCompleted: "booking.completed",
	StatusCancelled: "booking.cancelled",
	StatusNoShow:    "booking.no_show",
}

func (lc *Lifecycle[F]) transitioned(ctx context.Context, b *Booking[F], by Actor) {
	bookingTransitions.WithLabelValues(string(lc.def.Type), string(b.Status)).Inc()
	lc.log.Info("booking transitioned",
		zap.String("booking_id", string(b.BookingID)),
		zap.String("status", string(b.Status)),
		zap.String("actor", by.String()))
	if key, ok := statusEvents[b.Status]; ok {
		lc.publishAs(ctx, key, b, by.String())
	}
}

func (lc *Lifecycle[F]) publish(ctx context.Context, key string, b *Booking[F]) {
	lc.publishAs(ctx, key, b, "")
}

func (lc *Lifecycle[F]) publishAs(ctx context.Context, key string, b *Booking[F], actor string) {
	evt := BookingEvent{
		Event:         key,
		Version:       1,
		MessageID:     uuid.NewString(),
		BookingID:     b.BookingID,
		ServiceType:   b.ServiceType,
		UserID:        b.UserID,
		PatientID:     b.PatientID,
		Status:        b.Status,
		PaymentStatus: b.PaymentStatus,
		PaymentID:     b.PaymentID,
		Actor:         actor,
		OccurredAt:    lc.clock.Now(),
	}
	if err := lc.events.PublishJSON(ctx, key, evt); err != nil {
		externalFailures.WithLabelValues("events", key).Inc()
		lc.log.Warn("event publish failed", zap.String("routing_key", key), zap.Error(err))
	}
}
