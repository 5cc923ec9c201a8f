package payments_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carepay/benefit-wallet/generic"
	"github.com/carepay/benefit-wallet/ids"
	"github.com/carepay/benefit-wallet/payments"
	"github.com/carepay/benefit-wallet/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type recordingPublisher struct {
	keys     []string
	payloads []any
}

func (p *recordingPublisher) PublishJSON(_ context.Context, key string, payload any) error {
	p.keys = append(p.keys, key)
	p.payloads = append(p.payloads, payload)
	return nil
}

type listenerFunc func(ctx context.Context, p generic.Payment) error

func (f listenerFunc) OnPaymentCompleted(ctx context.Context, p generic.Payment) error {
	return f(ctx, p)
}

var testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*payments.Service, *recordingPublisher) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pub := &recordingPublisher{}
	svc := payments.NewService(store, ids.NewULID(),
		payments.WithEvents(pub),
		payments.WithClock(generic.FixedClock{T: testNow}))
	return svc, pub
}

func copayRequest(amount int64) generic.PaymentRequest {
	return generic.PaymentRequest{
		UserID:      "user-1",
		Amount:      generic.Rupees(amount),
		PaymentType: generic.PaymentTypeCopay,
		ServiceType: generic.ServiceAppointment,
		ServiceID:   "APT-1",
		Description: "consultation copay",
	}
}

// =============================================================================
// PAYMENT REQUESTS
// =============================================================================

func TestCreatePaymentRequest_Pending(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	p, err := svc.CreatePaymentRequest(ctx, copayRequest(200))
	require.NoError(t, err)

	assert.Contains(t, string(p.PaymentID), "PAY-")
	assert.Equal(t, generic.PaymentPending, p.Status)

	stored, err := svc.GetPayment(ctx, p.PaymentID)
	require.NoError(t, err)
	assert.True(t, stored.Amount.Equal(generic.Rupees(200)))
	assert.Equal(t, generic.BookingID("APT-1"), stored.ServiceID)
}

func TestCreatePaymentRequest_RejectsZeroAmount(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.CreatePaymentRequest(context.Background(), copayRequest(0))
	assert.ErrorIs(t, err, generic.ErrValidation)
}

// =============================================================================
// MARK PAID
// =============================================================================

func TestMarkPaid_PublishesAndNotifiesListeners(t *testing.T) {
	// GIVEN: a pending payment and an in-process listener
	svc, pub := newService(t)
	ctx := context.Background()
	p, err := svc.CreatePaymentRequest(ctx, copayRequest(200))
	require.NoError(t, err)

	var notified []generic.PaymentID
	svc.Subscribe(listenerFunc(func(_ context.Context, got generic.Payment) error {
		notified = append(notified, got.PaymentID)
		return nil
	}))

	// WHEN: the member pays
	paid, err := svc.MarkPaid(ctx, p.PaymentID, "UPI")
	require.NoError(t, err)

	// THEN: the payment is completed, published and delivered once
	assert.Equal(t, generic.PaymentCompleted, paid.Status)
	require.NotNil(t, paid.PaidAt)
	assert.True(t, paid.PaidAt.Equal(testNow))
	assert.Equal(t, []generic.PaymentID{p.PaymentID}, notified)
	require.Len(t, pub.keys, 1)
	assert.Equal(t, payments.RoutingPaymentPaid, pub.keys[0])

	// AND: paying again is a no-op
	_, err = svc.MarkPaid(ctx, p.PaymentID, "UPI")
	require.NoError(t, err)
	assert.Len(t, notified, 1)
	assert.Len(t, pub.keys, 1)
}

func TestMarkPaid_ListenerErrorIsReturned(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	p, err := svc.CreatePaymentRequest(ctx, copayRequest(150))
	require.NoError(t, err)

	boom := errors.New("booking store down")
	svc.Subscribe(listenerFunc(func(context.Context, generic.Payment) error { return boom }))

	paid, err := svc.MarkPaid(ctx, p.PaymentID, "CARD")
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, paid)
	assert.Equal(t, generic.PaymentCompleted, paid.Status)
}

func TestMarkPaid_UnknownPayment(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.MarkPaid(context.Background(), "PAY-missing", "UPI")
	assert.ErrorIs(t, err, generic.ErrPaymentNotFound)
	assert.True(t, generic.IsNotFound(err))
}

// =============================================================================
// REFUNDS
// =============================================================================

func TestProcessRefund_CompletedPayment(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	p, err := svc.CreatePaymentRequest(ctx, copayRequest(300))
	require.NoError(t, err)
	_, err = svc.MarkPaid(ctx, p.PaymentID, "UPI")
	require.NoError(t, err)

	refund, err := svc.ProcessRefund(ctx, p.PaymentID, "booking cancelled")
	require.NoError(t, err)
	assert.True(t, refund.Amount.Equal(generic.Rupees(300)))

	stored, err := svc.GetPayment(ctx, p.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, generic.PaymentRefunded, stored.Status)
	assert.NotNil(t, stored.RefundedAt)
}

func TestProcessRefund_PendingPaymentIsVoided(t *testing.T) {
	// GIVEN: a payment the member never paid
	svc, _ := newService(t)
	ctx := context.Background()
	p, err := svc.CreatePaymentRequest(ctx, copayRequest(300))
	require.NoError(t, err)

	// WHEN: the booking is cancelled
	_, err = svc.ProcessRefund(ctx, p.PaymentID, "booking cancelled")

	// THEN: nothing is refunded and the payment can no longer be paid
	assert.ErrorIs(t, err, generic.ErrPaymentNotCompleted)
	_, err = svc.MarkPaid(ctx, p.PaymentID, "UPI")
	assert.ErrorIs(t, err, generic.ErrInvalidState)
}

// =============================================================================
// SUMMARIES
// =============================================================================

func TestCreateTransaction_ListsByUser(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreateTransaction(ctx, generic.TransactionSummary{
		UserID:        "user-1",
		PatientID:     "user-1",
		ServiceType:   generic.ServiceAppointment,
		BookingID:     "APT-1",
		CategoryCode:  generic.CategoryConsultation,
		PaymentMethod: generic.PaymentCopay,
		PaymentBreakdown: generic.PaymentBreakdown{
			BillAmount:        generic.Rupees(1000),
			CopayAmount:       generic.Rupees(200),
			WalletDebitAmount: generic.Rupees(800),
		},
	})
	require.NoError(t, err)

	list, err := svc.ListTransactions(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Contains(t, list[0].ID, "TS-")
	assert.True(t, list[0].WalletDebitAmount.Equal(generic.Rupees(800)))

	others, err := svc.ListTransactions(ctx, "user-2")
	require.NoError(t, err)
	assert.Empty(t, others)
}
