package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/carepay/benefit-wallet/generic"
)

// =============================================================================
// SERVICE BINDINGS
// =============================================================================

// BookingService is a lifecycle with its detail type erased, so one set of
// handlers can serve every service type.
type BookingService interface {
	Info() generic.ServiceInfo
	Quote(ctx context.Context, body []byte) (*generic.Quote, error)
	Create(ctx context.Context, body []byte) (any, error)
	Get(ctx context.Context, id generic.BookingID) (any, error)
	ListByUser(ctx context.Context, userID generic.UserID) (any, error)
	Confirm(ctx context.Context, id generic.BookingID, by generic.Actor) (any, error)
	Cancel(ctx context.Context, id generic.BookingID, by generic.Actor, reason string) (any, error)
	MarkNoShow(ctx context.Context, id generic.BookingID, by generic.Actor) (any, error)
	Complete(ctx context.Context, id generic.BookingID, by generic.Actor) (any, error)
	Reschedule(ctx context.Context, id generic.BookingID, by generic.Actor, req generic.RescheduleRequest) (any, error)
	MarkOverdueNoShows(ctx context.Context, grace time.Duration) (int, error)
	generic.PaymentListener
}

type binding[F any] struct {
	lc   *generic.Lifecycle[F]
	info generic.ServiceInfo
}

// Bind exposes a typed lifecycle as a BookingService.
func Bind[F any](lc *generic.Lifecycle[F]) BookingService {
	info, ok := generic.LookupService(lc.Definition().Type)
	if !ok {
		info = lc.Definition().Info("")
	}
	return &binding[F]{lc: lc, info: info}
}

func (b *binding[F]) Info() generic.ServiceInfo { return b.info }

func (b *binding[F]) decode(body []byte) (generic.CreateRequest[F], error) {
	var req generic.CreateRequest[F]
	if err := json.Unmarshal(body, &req); err != nil {
		return req, generic.NewValidationError("body", "invalid JSON: %v", err)
	}
	return req, nil
}

func (b *binding[F]) Quote(ctx context.Context, body []byte) (*generic.Quote, error) {
	req, err := b.decode(body)
	if err != nil {
		return nil, err
	}
	return b.lc.Quote(ctx, req)
}

func (b *binding[F]) Create(ctx context.Context, body []byte) (any, error) {
	req, err := b.decode(body)
	if err != nil {
		return nil, err
	}
	return orNil(b.lc.Create(ctx, req))
}

func (b *binding[F]) Get(ctx context.Context, id generic.BookingID) (any, error) {
	return orNil(b.lc.Get(ctx, id))
}

func (b *binding[F]) ListByUser(ctx context.Context, userID generic.UserID) (any, error) {
	list, err := b.lc.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []generic.Booking[F]{}
	}
	return list, nil
}

func (b *binding[F]) Confirm(ctx context.Context, id generic.BookingID, by generic.Actor) (any, error) {
	return orNil(b.lc.Confirm(ctx, id, by))
}

func (b *binding[F]) Cancel(ctx context.Context, id generic.BookingID, by generic.Actor, reason string) (any, error) {
	return orNil(b.lc.Cancel(ctx, id, by, reason))
}

func (b *binding[F]) MarkNoShow(ctx context.Context, id generic.BookingID, by generic.Actor) (any, error) {
	return orNil(b.lc.MarkNoShow(ctx, id, by))
}

func (b *binding[F]) Complete(ctx context.Context, id generic.BookingID, by generic.Actor) (any, error) {
	return orNil(b.lc.Complete(ctx, id, by))
}

func (b *binding[F]) Reschedule(ctx context.Context, id generic.BookingID, by generic.Actor, req generic.RescheduleRequest) (any, error) {
	return orNil(b.lc.Reschedule(ctx, id, by, req))
}

func (b *binding[F]) MarkOverdueNoShows(ctx context.Context, grace time.Duration) (int, error) {
	return b.lc.MarkOverdueNoShows(ctx, grace)
}

func (b *binding[F]) OnPaymentCompleted(ctx context.Context, p generic.Payment) error {
	return b.lc.OnPaymentCompleted(ctx, p)
}

// orNil keeps a typed nil pointer out of the returned interface.
func orNil[T any](v *T, err error) (any, error) {
	if err != nil || v == nil {
		return nil, err
	}
	return v, nil
}
