package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/carepay/benefit-wallet/generic"
)

// =============================================================================
// PAYMENTS - payments.Repository
// =============================================================================

type paymentRow struct {
	PaymentID   string         `db:"payment_id"`
	UserID      string         `db:"user_id"`
	Amount      string         `db:"amount"`
	PaymentType string         `db:"payment_type"`
	ServiceType string         `db:"service_type"`
	ServiceID   string         `db:"service_id"`
	Description sql.NullString `db:"description"`
	Status      string         `db:"status"`
	Method      sql.NullString `db:"method"`
	PaidAt      sql.NullString `db:"paid_at"`
	RefundedAt  sql.NullString `db:"refunded_at"`
	CreatedAt   string         `db:"created_at"`
}

const paymentColumns = `payment_id, user_id, amount, payment_type, service_type, service_id, description, status, method, paid_at, refunded_at, created_at`

func toPaymentRow(p *generic.Payment) paymentRow {
	return paymentRow{
		PaymentID:   string(p.PaymentID),
		UserID:      string(p.UserID),
		Amount:      p.Amount.String(),
		PaymentType: string(p.PaymentType),
		ServiceType: string(p.ServiceType),
		ServiceID:   string(p.ServiceID),
		Description: nullString(p.Description),
		Status:      string(p.Status),
		Method:      nullString(p.Method),
		PaidAt:      nullTime(p.PaidAt),
		RefundedAt:  nullTime(p.RefundedAt),
		CreatedAt:   formatTime(p.CreatedAt),
	}
}

func (r paymentRow) payment() *generic.Payment {
	return &generic.Payment{
		PaymentID:   generic.PaymentID(r.PaymentID),
		UserID:      generic.UserID(r.UserID),
		Amount:      parseDecimal(r.Amount),
		PaymentType: generic.PaymentType(r.PaymentType),
		ServiceType: generic.ServiceType(r.ServiceType),
		ServiceID:   generic.BookingID(r.ServiceID),
		Description: r.Description.String,
		Status:      generic.PaymentStatus(r.Status),
		Method:      r.Method.String,
		PaidAt:      timePtr(r.PaidAt),
		RefundedAt:  timePtr(r.RefundedAt),
		CreatedAt:   parseTime(r.CreatedAt),
	}
}

func (s *Store) InsertPayment(ctx context.Context, p *generic.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (:payment_id, :user_id, :amount, :payment_type, :service_type, :service_id,
		        :description, :status, :method, :paid_at, :refunded_at, :created_at)`, toPaymentRow(p))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: payment %s exists", generic.ErrConflict, p.PaymentID)
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (s *Store) GetPayment(ctx context.Context, id generic.PaymentID) (*generic.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var row paymentRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+paymentColumns+` FROM payments WHERE payment_id = ?`, id); err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s", generic.ErrPaymentNotFound, id)
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return row.payment(), nil
}

// UpdatePayment applies fn to the stored payment in one transaction.
func (s *Store) UpdatePayment(ctx context.Context, id generic.PaymentID, fn func(p *generic.Payment) error) (*generic.Payment, error) {
	var updated *generic.Payment
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var row paymentRow
		if err := tx.GetContext(ctx, &row, `SELECT `+paymentColumns+` FROM payments WHERE payment_id = ?`, id); err != nil {
			if isNoRows(err) {
				return fmt.Errorf("%w: %s", generic.ErrPaymentNotFound, id)
			}
			return fmt.Errorf("failed to get payment: %w", err)
		}
		p := row.payment()
		if err := fn(p); err != nil {
			return err
		}
		_, err := tx.NamedExecContext(ctx, `
			UPDATE payments SET status = :status, method = :method, paid_at = :paid_at, refunded_at = :refunded_at
			WHERE payment_id = :payment_id`, toPaymentRow(p))
		if err != nil {
			return fmt.Errorf("failed to update payment: %w", err)
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) ListPaymentsByService(ctx context.Context, serviceType generic.ServiceType, serviceID generic.BookingID) ([]generic.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []paymentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+paymentColumns+` FROM payments
		WHERE service_type = ? AND service_id = ? ORDER BY created_at`, serviceType, serviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	out := make([]generic.Payment, len(rows))
	for i, r := range rows {
		out[i] = *r.payment()
	}
	return out, nil
}

// =============================================================================
// TRANSACTION SUMMARIES
// =============================================================================

func (s *Store) InsertSummary(ctx context.Context, ts generic.TransactionSummary) error {
	doc, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transaction_summaries (id, booking_id, user_id, doc, created_at)
		VALUES (?, ?, ?, ?, ?)`, ts.ID, ts.BookingID, ts.UserID, string(doc), formatTime(ts.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert summary: %w", err)
	}
	return nil
}

func (s *Store) ListSummaries(ctx context.Context, userID generic.UserID) ([]generic.TransactionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var docs []string
	err := s.db.SelectContext(ctx, &docs, `
		SELECT doc FROM transaction_summaries WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list summaries: %w", err)
	}
	out := make([]generic.TransactionSummary, 0, len(docs))
	for _, d := range docs {
		var ts generic.TransactionSummary
		if err := json.Unmarshal([]byte(d), &ts); err != nil {
			return nil, fmt.Errorf("failed to decode summary: %w", err)
		}
		out = append(out, ts)
	}
	return out, nil
}
