package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carepay/benefit-wallet/generic"
	"github.com/carepay/benefit-wallet/payments"
)

type captureListener struct {
	got []generic.Payment
	err error
}

func (l *captureListener) OnPaymentCompleted(_ context.Context, p generic.Payment) error {
	l.got = append(l.got, p)
	return l.err
}

func paidBody(t *testing.T, st generic.ServiceType) []byte {
	t.Helper()
	b, err := json.Marshal(payments.PaidEvent{
		Event:       payments.RoutingPaymentPaid,
		PaymentID:   "PAY-1",
		UserID:      "user-1",
		Amount:      generic.Rupees(200),
		ServiceType: st,
		ServiceID:   "APT-1",
		PaidAt:      time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return b
}

func TestHandle_RoutesByServiceType(t *testing.T) {
	c := NewPaymentConsumer(ConsumerConfig{Queue: "q"}, nil)
	apt := &captureListener{}
	lab := &captureListener{}
	c.Route(generic.ServiceAppointment, apt)
	c.Route(generic.ServiceLab, lab)

	err := c.Handle(context.Background(), payments.RoutingPaymentPaid, paidBody(t, generic.ServiceAppointment))
	require.NoError(t, err)

	require.Len(t, apt.got, 1)
	assert.Empty(t, lab.got)
	assert.Equal(t, generic.PaymentID("PAY-1"), apt.got[0].PaymentID)
	assert.Equal(t, generic.PaymentCompleted, apt.got[0].Status)
	assert.True(t, apt.got[0].Amount.Equal(generic.Rupees(200)))
}

type recordedAck struct {
	acked    bool
	nacked   bool
	requeued bool
}

func (r *recordedAck) Ack(bool) error {
	r.acked = true
	return nil
}

func (r *recordedAck) Nack(_ bool, requeue bool) error {
	r.nacked = true
	r.requeued = requeue
	return nil
}

func TestHandle_ReturnsListenerError(t *testing.T) {
	c := NewPaymentConsumer(ConsumerConfig{Queue: "q"}, nil)
	boom := errors.New("db locked")
	c.Route(generic.ServiceAppointment, &captureListener{err: boom})

	err := c.Handle(context.Background(), payments.RoutingPaymentPaid, paidBody(t, generic.ServiceAppointment))
	assert.ErrorIs(t, err, boom)
}

func TestProcess_SettlesByRetryability(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		acked    bool
		requeued bool
	}{
		{"handled", nil, true, false},
		{"version race requeues", fmt.Errorf("debit: %w", generic.ErrConcurrentModification), false, true},
		{"insufficient balance is rejected", &generic.InsufficientBalanceError{Scope: "category"}, false, false},
		{"deleted booking is rejected", fmt.Errorf("%w: PAY-1", generic.ErrBookingNotFound), false, false},
		{"unknown failure is rejected", errors.New("disk full"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN
			c := NewPaymentConsumer(ConsumerConfig{Queue: "q", DLX: "dlx"}, nil)
			c.Route(generic.ServiceAppointment, &captureListener{err: tt.err})
			d := &recordedAck{}

			// WHEN
			c.process(context.Background(), d, payments.RoutingPaymentPaid, paidBody(t, generic.ServiceAppointment))

			// THEN
			assert.Equal(t, tt.acked, d.acked)
			assert.Equal(t, !tt.acked, d.nacked)
			assert.Equal(t, tt.requeued, d.requeued)
		})
	}
}

func TestHandle_DropsWhatItCannotRoute(t *testing.T) {
	c := NewPaymentConsumer(ConsumerConfig{Queue: "q"}, nil)
	ctx := context.Background()

	assert.NoError(t, c.Handle(ctx, "booking.created", []byte(`{}`)))
	assert.NoError(t, c.Handle(ctx, payments.RoutingPaymentPaid, []byte(`not json`)))
	assert.NoError(t, c.Handle(ctx, payments.RoutingPaymentPaid, paidBody(t, generic.ServiceDental)))
}
