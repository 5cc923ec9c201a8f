// Package ids generates monotonic, sortable identifiers for wallet
// transactions, payments and bookings.
package ids

import (
	"context"
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/carepay/benefit-wallet/generic"
)

// ULID implements generic.IDGenerator. IDs from one generator are strictly
// increasing, also within the same millisecond.
type ULID struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

func NewULID() *ULID {
	return &ULID{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

// NewULIDWithClock is for tests that need reproducible timestamps.
func NewULIDWithClock(c generic.Clock) *ULID {
	g := NewULID()
	g.now = c.Now
	return g
}

func (g *ULID) next() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(g.now()), g.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (g *ULID) NewTransactionID(_ context.Context) (generic.TransactionID, error) {
	id, err := g.next()
	return generic.TransactionID("TXN-" + id), err
}

func (g *ULID) NewPaymentID(_ context.Context) (generic.PaymentID, error) {
	id, err := g.next()
	return generic.PaymentID("PAY-" + id), err
}

func (g *ULID) NewBookingID(_ context.Context, prefix string) (generic.BookingID, error) {
	if prefix == "" {
		prefix = "BKG"
	}
	id, err := g.next()
	return generic.BookingID(prefix + "-" + id), err
}

var _ generic.IDGenerator = (*ULID)(nil)
