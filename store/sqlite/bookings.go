package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/carepay/benefit-wallet/generic"
)

// =============================================================================
// BOOKINGS - generic.BookingStore[F]
// =============================================================================

// Bookings stores bookings of one service type. All service types share
// the bookings table; the service-specific details live in the document.
type Bookings[F any] struct {
	s           *Store
	serviceType generic.ServiceType
}

func NewBookingStore[F any](s *Store, serviceType generic.ServiceType) *Bookings[F] {
	return &Bookings[F]{s: s, serviceType: serviceType}
}

type bookingRow struct {
	ID            string         `db:"id"`
	ServiceType   string         `db:"service_type"`
	UserID        string         `db:"user_id"`
	PatientID     string         `db:"patient_id"`
	ResourceID    string         `db:"resource_id"`
	SlotDate      string         `db:"slot_date"`
	SlotTime      string         `db:"slot_time"`
	Status        string         `db:"status"`
	PaymentStatus string         `db:"payment_status"`
	PaymentID     sql.NullString `db:"payment_id"`
	Doc           string         `db:"doc"`
	CreatedAt     string         `db:"created_at"`
	UpdatedAt     string         `db:"updated_at"`
}

const bookingColumns = `id, service_type, user_id, patient_id, resource_id, slot_date, slot_time, status, payment_status, payment_id, doc, created_at, updated_at`

func toBookingRow[F any](b *generic.Booking[F]) (bookingRow, error) {
	doc, err := json.Marshal(b)
	if err != nil {
		return bookingRow{}, fmt.Errorf("failed to encode booking %s: %w", b.BookingID, err)
	}
	return bookingRow{
		ID:            string(b.BookingID),
		ServiceType:   string(b.ServiceType),
		UserID:        string(b.UserID),
		PatientID:     string(b.PatientID),
		ResourceID:    b.Slot.ResourceID,
		SlotDate:      b.Slot.Date,
		SlotTime:      b.Slot.Time,
		Status:        string(b.Status),
		PaymentStatus: string(b.PaymentStatus),
		PaymentID:     nullString(string(b.PaymentID)),
		Doc:           string(doc),
		CreatedAt:     formatTime(b.CreatedAt),
		UpdatedAt:     formatTime(b.UpdatedAt),
	}, nil
}

func fromBookingRow[F any](r bookingRow) (*generic.Booking[F], error) {
	var b generic.Booking[F]
	if err := json.Unmarshal([]byte(r.Doc), &b); err != nil {
		return nil, fmt.Errorf("failed to decode booking %s: %w", r.ID, err)
	}
	return &b, nil
}

// activeStatusList renders ActiveStatuses as a SQL IN list.
func activeStatusList() string {
	quoted := make([]string, len(generic.ActiveStatuses))
	for i, s := range generic.ActiveStatuses {
		quoted[i] = "'" + string(s) + "'"
	}
	return strings.Join(quoted, ", ")
}

func (bs *Bookings[F]) occupancy(ctx context.Context, tx *sqlx.Tx, slot generic.Slot, exclude generic.BookingID) (int, error) {
	var n int
	err := tx.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM bookings
		WHERE service_type = ? AND resource_id = ? AND slot_date = ? AND slot_time = ?
		  AND id != ? AND status IN (`+activeStatusList()+`)`,
		bs.serviceType, slot.ResourceID, slot.Date, slot.Time, exclude)
	if err != nil {
		return 0, fmt.Errorf("failed to count slot occupancy: %w", err)
	}
	return n, nil
}

// CreateIfSlotAvailable counts and inserts in one transaction.
func (bs *Bookings[F]) CreateIfSlotAvailable(ctx context.Context, b *generic.Booking[F], capacity int) error {
	row, err := toBookingRow(b)
	if err != nil {
		return err
	}
	return bs.s.withTx(ctx, func(tx *sqlx.Tx) error {
		n, err := bs.occupancy(ctx, tx, b.Slot, "")
		if err != nil {
			return err
		}
		if n >= capacity {
			return fmt.Errorf("%w: %s %s %s", generic.ErrSlotUnavailable, b.Slot.ResourceID, b.Slot.Date, b.Slot.Time)
		}
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO bookings (`+bookingColumns+`)
			VALUES (:id, :service_type, :user_id, :patient_id, :resource_id, :slot_date, :slot_time,
			        :status, :payment_status, :payment_id, :doc, :created_at, :updated_at)`, row)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%w: booking %s exists", generic.ErrConflict, b.BookingID)
			}
			return fmt.Errorf("failed to insert booking: %w", err)
		}
		return nil
	})
}

func (bs *Bookings[F]) GetBooking(ctx context.Context, id generic.BookingID) (*generic.Booking[F], error) {
	return bs.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ? AND service_type = ?`, id, bs.serviceType)
}

func (bs *Bookings[F]) GetByPaymentID(ctx context.Context, paymentID generic.PaymentID) (*generic.Booking[F], error) {
	return bs.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE payment_id = ? AND service_type = ?`, paymentID, bs.serviceType)
}

func (bs *Bookings[F]) getOne(ctx context.Context, query string, args ...any) (*generic.Booking[F], error) {
	bs.s.mu.RLock()
	defer bs.s.mu.RUnlock()

	var row bookingRow
	if err := bs.s.db.GetContext(ctx, &row, query, args...); err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %v", generic.ErrBookingNotFound, args[0])
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return fromBookingRow[F](row)
}

func (bs *Bookings[F]) UpdateBooking(ctx context.Context, id generic.BookingID, fn generic.BookingMutation[F]) (*generic.Booking[F], error) {
	return bs.update(ctx, id, nil, 0, fn)
}

func (bs *Bookings[F]) MoveIfSlotAvailable(ctx context.Context, id generic.BookingID, target generic.Slot, capacity int, fn generic.BookingMutation[F]) (*generic.Booking[F], error) {
	return bs.update(ctx, id, &target, capacity, fn)
}

// update loads, mutates and writes one booking in a transaction. With a
// target slot it first checks the target's capacity, not counting the
// booking itself.
func (bs *Bookings[F]) update(ctx context.Context, id generic.BookingID, target *generic.Slot, capacity int, fn generic.BookingMutation[F]) (*generic.Booking[F], error) {
	var updated *generic.Booking[F]
	err := bs.s.withTx(ctx, func(tx *sqlx.Tx) error {
		var row bookingRow
		err := tx.GetContext(ctx, &row, `SELECT `+bookingColumns+` FROM bookings WHERE id = ? AND service_type = ?`, id, bs.serviceType)
		if err != nil {
			if isNoRows(err) {
				return fmt.Errorf("%w: %s", generic.ErrBookingNotFound, id)
			}
			return fmt.Errorf("failed to get booking: %w", err)
		}
		b, err := fromBookingRow[F](row)
		if err != nil {
			return err
		}

		if target != nil {
			n, err := bs.occupancy(ctx, tx, *target, id)
			if err != nil {
				return err
			}
			if n >= capacity {
				return fmt.Errorf("%w: %s %s %s", generic.ErrSlotUnavailable, target.ResourceID, target.Date, target.Time)
			}
		}

		if err := fn(b); err != nil {
			return err
		}
		if target != nil {
			b.Slot = *target
		}

		next, err := toBookingRow(b)
		if err != nil {
			return err
		}
		_, err = tx.NamedExecContext(ctx, `
			UPDATE bookings SET
				resource_id = :resource_id, slot_date = :slot_date, slot_time = :slot_time,
				status = :status, payment_status = :payment_status, payment_id = :payment_id,
				doc = :doc, updated_at = :updated_at
			WHERE id = :id`, next)
		if err != nil {
			return fmt.Errorf("failed to update booking: %w", err)
		}
		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (bs *Bookings[F]) DeleteBooking(ctx context.Context, id generic.BookingID) error {
	return bs.s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM bookings WHERE id = ? AND service_type = ?`, id, bs.serviceType)
		if err != nil {
			return fmt.Errorf("failed to delete booking: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", generic.ErrBookingNotFound, id)
		}
		return nil
	})
}

func (bs *Bookings[F]) ListByStatus(ctx context.Context, statuses ...generic.BookingStatus) ([]generic.Booking[F], error) {
	if len(statuses) == 0 {
		return bs.list(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE service_type = ? ORDER BY created_at, id`, bs.serviceType)
	}
	query, args, err := sqlx.In(`
		SELECT `+bookingColumns+` FROM bookings
		WHERE service_type = ? AND status IN (?) ORDER BY created_at, id`, bs.serviceType, statuses)
	if err != nil {
		return nil, err
	}
	return bs.list(ctx, query, args...)
}

func (bs *Bookings[F]) ListByUser(ctx context.Context, userID generic.UserID) ([]generic.Booking[F], error) {
	return bs.list(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE service_type = ? AND (user_id = ? OR patient_id = ?)
		ORDER BY created_at, id`, bs.serviceType, userID, userID)
}

func (bs *Bookings[F]) list(ctx context.Context, query string, args ...any) ([]generic.Booking[F], error) {
	bs.s.mu.RLock()
	defer bs.s.mu.RUnlock()

	var rows []bookingRow
	if err := bs.s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	out := make([]generic.Booking[F], 0, len(rows))
	for _, r := range rows {
		b, err := fromBookingRow[F](r)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, nil
}
