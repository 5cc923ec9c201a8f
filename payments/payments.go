/*
Package payments is the member payment side of bookings.

PURPOSE:
  Stands in for the payment gateway. It records payment requests raised
  by the booking lifecycle, marks them paid when the member settles, and
  refunds completed payments on cancellation. It also records the
  per-booking transaction summaries and accepts invoice requests.

PAYMENT FLOW:
  lifecycle.Create ──CreatePaymentRequest──▶ PENDING
  member pays      ──MarkPaid──────────────▶ COMPLETED ──▶ payment.paid event
                                                        └─▶ listeners (in-process)
  lifecycle.Cancel ──ProcessRefund─────────▶ REFUNDED (COMPLETED only)

  ProcessRefund on a PENDING payment fails with ErrPaymentNotCompleted and
  marks it FAILED so it can no longer be paid.

SEE ALSO:
  - generic/collaborators.go: PaymentService and PaymentListener
  - mq/consumer.go: payment.paid consumer for out-of-process settlement
*/
package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/carepay/benefit-wallet/generic"
)

// Repository persists payments and summaries. store/sqlite implements it.
type Repository interface {
	InsertPayment(ctx context.Context, p *generic.Payment) error
	GetPayment(ctx context.Context, id generic.PaymentID) (*generic.Payment, error)
	UpdatePayment(ctx context.Context, id generic.PaymentID, fn func(p *generic.Payment) error) (*generic.Payment, error)
	InsertSummary(ctx context.Context, s generic.TransactionSummary) error
	ListSummaries(ctx context.Context, userID generic.UserID) ([]generic.TransactionSummary, error)
}

// PaidEvent is published on "payment.paid".
type PaidEvent struct {
	Event       string              `json:"event"`
	MessageID   string              `json:"messageId"`
	PaymentID   generic.PaymentID   `json:"paymentId"`
	UserID      generic.UserID      `json:"userId"`
	Amount      decimal.Decimal     `json:"amount"`
	ServiceType generic.ServiceType `json:"serviceType"`
	ServiceID   generic.BookingID   `json:"serviceId"`
	Method      string              `json:"method,omitempty"`
	PaidAt      time.Time           `json:"paidAt"`
}

const RoutingPaymentPaid = "payment.paid"

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	repo   Repository
	ids    generic.IDGenerator
	events generic.EventPublisher
	clock  generic.Clock
	log    *zap.Logger

	mu        sync.RWMutex
	listeners []generic.PaymentListener
}

type Option func(*Service)

func WithEvents(p generic.EventPublisher) Option { return func(s *Service) { s.events = p } }
func WithClock(c generic.Clock) Option           { return func(s *Service) { s.clock = c } }
func WithLogger(l *zap.Logger) Option            { return func(s *Service) { s.log = l } }

func NewService(repo Repository, ids generic.IDGenerator, opts ...Option) *Service {
	s := &Service{repo: repo, ids: ids, clock: generic.SystemClock{}, log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Subscribe registers an in-process listener for completed payments. Used
// when no message broker is configured.
func (s *Service) Subscribe(l generic.PaymentListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Service) CreatePaymentRequest(ctx context.Context, req generic.PaymentRequest) (*generic.Payment, error) {
	if req.UserID == "" {
		return nil, generic.NewValidationError("userId", "required")
	}
	if !req.Amount.IsPositive() {
		return nil, generic.ErrNonPositiveAmount
	}
	id, err := s.ids.NewPaymentID(ctx)
	if err != nil {
		return nil, err
	}
	p := &generic.Payment{
		PaymentID:   id,
		UserID:      req.UserID,
		Amount:      req.Amount,
		PaymentType: req.PaymentType,
		ServiceType: req.ServiceType,
		ServiceID:   req.ServiceID,
		Description: req.Description,
		Status:      generic.PaymentPending,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.repo.InsertPayment(ctx, p); err != nil {
		return nil, err
	}
	s.log.Info("payment requested",
		zap.String("payment_id", string(p.PaymentID)),
		zap.String("user_id", string(p.UserID)),
		zap.String("booking_id", string(p.ServiceID)),
		zap.String("payment_type", string(p.PaymentType)),
		zap.String("amount", p.Amount.String()))
	return p, nil
}

func (s *Service) GetPayment(ctx context.Context, id generic.PaymentID) (*generic.Payment, error) {
	return s.repo.GetPayment(ctx, id)
}

// MarkPaid settles a pending payment and notifies the booking side, both
// through the event publisher and in-process listeners. Paying an already
// completed payment is a no-op.
func (s *Service) MarkPaid(ctx context.Context, id generic.PaymentID, method string) (*generic.Payment, error) {
	alreadyPaid := false
	p, err := s.repo.UpdatePayment(ctx, id, func(p *generic.Payment) error {
		switch p.Status {
		case generic.PaymentCompleted:
			alreadyPaid = true
			return nil
		case generic.PaymentPending:
		default:
			return fmt.Errorf("%w: payment %s is %s", generic.ErrInvalidState, id, p.Status)
		}
		now := s.clock.Now()
		p.Status = generic.PaymentCompleted
		p.Method = method
		p.PaidAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if alreadyPaid {
		return p, nil
	}

	s.log.Info("payment completed",
		zap.String("payment_id", string(id)),
		zap.String("booking_id", string(p.ServiceID)),
		zap.String("amount", p.Amount.String()))

	if s.events != nil {
		evt := PaidEvent{
			Event:       RoutingPaymentPaid,
			MessageID:   uuid.NewString(),
			PaymentID:   p.PaymentID,
			UserID:      p.UserID,
			Amount:      p.Amount,
			ServiceType: p.ServiceType,
			ServiceID:   p.ServiceID,
			Method:      p.Method,
			PaidAt:      *p.PaidAt,
		}
		if err := s.events.PublishJSON(ctx, RoutingPaymentPaid, evt); err != nil {
			s.log.Warn("payment.paid publish failed", zap.String("payment_id", string(id)), zap.Error(err))
		}
	}

	s.mu.RLock()
	listeners := append([]generic.PaymentListener(nil), s.listeners...)
	s.mu.RUnlock()

	var errs []error
	for _, l := range listeners {
		if err := l.OnPaymentCompleted(ctx, *p); err != nil {
			s.log.Error("payment listener failed", zap.String("payment_id", string(id)), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return p, errors.Join(errs...)
}

// ProcessRefund refunds a completed payment in full.
func (s *Service) ProcessRefund(ctx context.Context, id generic.PaymentID, reason string) (*generic.Refund, error) {
	p, err := s.repo.UpdatePayment(ctx, id, func(p *generic.Payment) error {
		switch p.Status {
		case generic.PaymentCompleted:
			now := s.clock.Now()
			p.Status = generic.PaymentRefunded
			p.RefundedAt = &now
			return nil
		case generic.PaymentPending:
			// Nothing was charged; void it so a late payment is refused.
			p.Status = generic.PaymentFailed
			return nil
		default:
			return fmt.Errorf("%w: payment %s is %s", generic.ErrPaymentNotCompleted, id, p.Status)
		}
	})
	if err != nil {
		return nil, err
	}
	if p.Status != generic.PaymentRefunded {
		return nil, fmt.Errorf("%w: payment %s voided", generic.ErrPaymentNotCompleted, id)
	}
	s.log.Info("payment refunded",
		zap.String("payment_id", string(id)),
		zap.String("amount", p.Amount.String()),
		zap.String("reason", reason))
	return &generic.Refund{PaymentID: id, Amount: p.Amount, Reason: reason}, nil
}

// =============================================================================
// SUMMARIES / INVOICES
// =============================================================================

func (s *Service) CreateTransaction(ctx context.Context, ts generic.TransactionSummary) (*generic.TransactionSummary, error) {
	if ts.ID == "" {
		ts.ID = "TS-" + uuid.NewString()
	}
	if ts.CreatedAt.IsZero() {
		ts.CreatedAt = s.clock.Now()
	}
	if err := s.repo.InsertSummary(ctx, ts); err != nil {
		return nil, err
	}
	return &ts, nil
}

func (s *Service) ListTransactions(ctx context.Context, userID generic.UserID) ([]generic.TransactionSummary, error) {
	return s.repo.ListSummaries(ctx, userID)
}

// GenerateInvoice accepts an invoice request. Rendering happens in the
// billing system; here it is logged and published.
func (s *Service) GenerateInvoice(ctx context.Context, req generic.InvoiceRequest) error {
	s.log.Info("invoice requested",
		zap.String("booking_id", string(req.BookingID)),
		zap.String("service_type", string(req.ServiceType)),
		zap.String("bill_amount", req.BillAmount.String()))
	if s.events == nil {
		return nil
	}
	return s.events.PublishJSON(ctx, "invoice.requested", req)
}

var (
	_ generic.PaymentService            = (*Service)(nil)
	_ generic.TransactionSummaryService = (*Service)(nil)
	_ generic.InvoiceService            = (*Service)(nil)
)
