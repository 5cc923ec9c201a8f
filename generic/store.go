/*
store.go - Persistence interfaces for wallets and bookings

PURPOSE:
  Defines the interface between the engine and the database. Every method
  that changes money or slot occupancy is a single atomic unit in the
  store; the engine never does read-modify-write across separate calls.

KEY INTERFACES:
  WalletStore:      Wallet rows + append-only wallet transaction log
  BookingStore[F]:  Bookings of one service type with slot capacity

ATOMIC UNITS:
  UpdateWallet(id, fn):
    load wallet -> fn mutates it and returns the audit row ->
    write wallet (version-checked) + insert audit row, all or nothing.
    fn errors roll the whole unit back.

  CreateIfSlotAvailable(booking, capacity):
    count active bookings in the slot + insert, all or nothing.
    Returns ErrSlotUnavailable when the slot is full.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite (sqlx)
  - generic/store: In-memory for tests and dev

SEE ALSO:
  - ledger.go: Uses WalletStore
  - lifecycle.go: Uses BookingStore
*/
package generic

import "context"

// =============================================================================
// WALLET STORE
// =============================================================================

// WalletMutation mutates w in place and returns the audit row to persist
// with it.
type WalletMutation func(w *Wallet) (*WalletTransaction, error)

type WalletStore interface {
	// CreateWallet inserts a wallet and its INITIALIZATION row. Returns
	// ErrDuplicateWallet if an active wallet exists for (user, assignment).
	CreateWallet(ctx context.Context, w *Wallet, init *WalletTransaction) error

	GetWallet(ctx context.Context, id WalletID) (*Wallet, error)

	// GetActiveWalletByUser returns the user's most recent active wallet.
	GetActiveWalletByUser(ctx context.Context, userID UserID) (*Wallet, error)

	GetWalletByAssignment(ctx context.Context, userID UserID, assignmentID AssignmentID) (*Wallet, error)

	// UpdateWallet runs fn against the current row inside one atomic unit.
	UpdateWallet(ctx context.Context, id WalletID, fn WalletMutation) (*Wallet, error)

	// ListTransactions returns audit rows for a wallet, oldest first.
	ListTransactions(ctx context.Context, walletID WalletID) ([]WalletTransaction, error)

	// DeleteWalletsByAssignment hard-deletes wallets of a removed assignment.
	// Returns ErrWalletHasDependents if a wallet of another assignment
	// still pools into one of them.
	DeleteWalletsByAssignment(ctx context.Context, assignmentID AssignmentID) (int, error)
}

// =============================================================================
// BOOKING STORE
// =============================================================================

// BookingMutation mutates b in place. Errors abort the update.
type BookingMutation[F any] func(b *Booking[F]) error

type BookingStore[F any] interface {
	// CreateIfSlotAvailable counts active bookings in b.Slot and inserts b
	// when fewer than capacity exist.
	CreateIfSlotAvailable(ctx context.Context, b *Booking[F], capacity int) error

	GetBooking(ctx context.Context, id BookingID) (*Booking[F], error)
	GetByPaymentID(ctx context.Context, paymentID PaymentID) (*Booking[F], error)

	UpdateBooking(ctx context.Context, id BookingID, fn BookingMutation[F]) (*Booking[F], error)

	// MoveIfSlotAvailable checks capacity of the target slot (excluding
	// the booking itself), then applies fn, which sets the new slot.
	MoveIfSlotAvailable(ctx context.Context, id BookingID, target Slot, capacity int, fn BookingMutation[F]) (*Booking[F], error)

	// DeleteBooking is the compensating delete used when creation-time
	// money movement fails.
	DeleteBooking(ctx context.Context, id BookingID) error

	ListByStatus(ctx context.Context, statuses ...BookingStatus) ([]Booking[F], error)
	ListByUser(ctx context.Context, userID UserID) ([]Booking[F], error)
}
