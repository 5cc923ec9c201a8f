// Package store provides in-memory implementations of the engine's stores
// and directory services.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/carepay/benefit-wallet/generic"
)

// =============================================================================
// WALLET STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Wallets struct {
	mu           sync.RWMutex
	wallets      map[generic.WalletID]*generic.Wallet
	transactions map[generic.WalletID][]generic.WalletTransaction
}

func NewWallets() *Wallets {
	return &Wallets{
		wallets:      make(map[generic.WalletID]*generic.Wallet),
		transactions: make(map[generic.WalletID][]generic.WalletTransaction),
	}
}

func (m *Wallets) CreateWallet(_ context.Context, w *generic.Wallet, init *generic.WalletTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.wallets[w.ID]; ok {
		return fmt.Errorf("%w: id %s", generic.ErrDuplicateWallet, w.ID)
	}
	for _, existing := range m.wallets {
		if existing.IsActive && existing.UserID == w.UserID && existing.PolicyAssignmentID == w.PolicyAssignmentID {
			return fmt.Errorf("%w: user %s assignment %s", generic.ErrDuplicateWallet, w.UserID, w.PolicyAssignmentID)
		}
	}
	if err := w.CheckInvariants(); err != nil {
		return err
	}

	stored := w.Clone()
	stored.Version = 1
	w.Version = 1
	m.wallets[w.ID] = stored
	if init != nil {
		m.transactions[w.ID] = append(m.transactions[w.ID], *init)
	}
	return nil
}

func (m *Wallets) GetWallet(_ context.Context, id generic.WalletID) (*generic.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.wallets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", generic.ErrWalletNotFound, id)
	}
	return w.Clone(), nil
}

func (m *Wallets) GetActiveWalletByUser(_ context.Context, userID generic.UserID) (*generic.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *generic.Wallet
	for _, w := range m.wallets {
		if w.UserID != userID || !w.IsActive {
			continue
		}
		if found == nil || w.CreatedAt.After(found.CreatedAt) {
			found = w
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: user %s", generic.ErrWalletNotFound, userID)
	}
	return found.Clone(), nil
}

func (m *Wallets) GetWalletByAssignment(_ context.Context, userID generic.UserID, assignmentID generic.AssignmentID) (*generic.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, w := range m.wallets {
		if w.IsActive && w.UserID == userID && w.PolicyAssignmentID == assignmentID {
			return w.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: user %s assignment %s", generic.ErrWalletNotFound, userID, assignmentID)
}

// UpdateWallet applies fn to a working copy and commits it only when fn
// and the balance invariants succeed. A failed fn leaves the stored wallet
// and the transaction log untouched.
func (m *Wallets) UpdateWallet(_ context.Context, id generic.WalletID, fn generic.WalletMutation) (*generic.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.wallets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", generic.ErrWalletNotFound, id)
	}

	working := current.Clone()
	tx, err := fn(working)
	if err != nil {
		return nil, err
	}
	if err := working.CheckInvariants(); err != nil {
		return nil, err
	}
	if working.Version != current.Version {
		return nil, fmt.Errorf("%w: wallet %s", generic.ErrConcurrentModification, id)
	}

	working.Version++
	if tx != nil {
		working.UpdatedAt = tx.ProcessedAt
		m.transactions[id] = append(m.transactions[id], *tx)
	}
	m.wallets[id] = working
	return working.Clone(), nil
}

func (m *Wallets) ListTransactions(_ context.Context, walletID generic.WalletID) ([]generic.WalletTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]generic.WalletTransaction, len(m.transactions[walletID]))
	copy(result, m.transactions[walletID])
	return result, nil
}

func (m *Wallets) DeleteWalletsByAssignment(_ context.Context, assignmentID generic.AssignmentID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.wallets {
		if w.PolicyAssignmentID == assignmentID || !w.IsDependent() {
			continue
		}
		if master, ok := m.wallets[*w.FloaterMasterWalletID]; ok && master.PolicyAssignmentID == assignmentID {
			return 0, fmt.Errorf("%w: assignment %s, dependent %s", generic.ErrWalletHasDependents, assignmentID, w.ID)
		}
	}

	n := 0
	for id, w := range m.wallets {
		if w.PolicyAssignmentID == assignmentID {
			delete(m.wallets, id)
			delete(m.transactions, id)
			n++
		}
	}
	return n, nil
}

// =============================================================================
// BOOKING STORE
// =============================================================================

type Bookings[F any] struct {
	mu       sync.RWMutex
	bookings map[generic.BookingID]*generic.Booking[F]
}

func NewBookings[F any]() *Bookings[F] {
	return &Bookings[F]{bookings: make(map[generic.BookingID]*generic.Booking[F])}
}

func cloneBooking[F any](b *generic.Booking[F]) *generic.Booking[F] {
	c := *b
	c.RescheduleHistory = append([]generic.RescheduleEntry(nil), b.RescheduleHistory...)
	return &c
}

func isActive(s generic.BookingStatus) bool {
	for _, a := range generic.ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// occupancyLocked counts active bookings in slot, ignoring exclude.
func (m *Bookings[F]) occupancyLocked(slot generic.Slot, exclude generic.BookingID) int {
	n := 0
	for id, b := range m.bookings {
		if id != exclude && b.Slot == slot && isActive(b.Status) {
			n++
		}
	}
	return n
}

func (m *Bookings[F]) CreateIfSlotAvailable(_ context.Context, b *generic.Booking[F], capacity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bookings[b.BookingID]; ok {
		return fmt.Errorf("%w: booking %s exists", generic.ErrConflict, b.BookingID)
	}
	if m.occupancyLocked(b.Slot, "") >= capacity {
		return fmt.Errorf("%w: %s %s %s", generic.ErrSlotUnavailable, b.Slot.ResourceID, b.Slot.Date, b.Slot.Time)
	}
	m.bookings[b.BookingID] = cloneBooking(b)
	return nil
}

func (m *Bookings[F]) GetBooking(_ context.Context, id generic.BookingID) (*generic.Booking[F], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bookings[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", generic.ErrBookingNotFound, id)
	}
	return cloneBooking(b), nil
}

func (m *Bookings[F]) GetByPaymentID(_ context.Context, paymentID generic.PaymentID) (*generic.Booking[F], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, b := range m.bookings {
		if b.PaymentID == paymentID {
			return cloneBooking(b), nil
		}
	}
	return nil, fmt.Errorf("%w: payment %s", generic.ErrBookingNotFound, paymentID)
}

func (m *Bookings[F]) UpdateBooking(_ context.Context, id generic.BookingID, fn generic.BookingMutation[F]) (*generic.Booking[F], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.bookings[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", generic.ErrBookingNotFound, id)
	}
	working := cloneBooking(current)
	if err := fn(working); err != nil {
		return nil, err
	}
	m.bookings[id] = working
	return cloneBooking(working), nil
}

func (m *Bookings[F]) MoveIfSlotAvailable(_ context.Context, id generic.BookingID, target generic.Slot, capacity int, fn generic.BookingMutation[F]) (*generic.Booking[F], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.bookings[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", generic.ErrBookingNotFound, id)
	}
	if m.occupancyLocked(target, id) >= capacity {
		return nil, fmt.Errorf("%w: %s %s %s", generic.ErrSlotUnavailable, target.ResourceID, target.Date, target.Time)
	}
	working := cloneBooking(current)
	if err := fn(working); err != nil {
		return nil, err
	}
	working.Slot = target
	m.bookings[id] = working
	return cloneBooking(working), nil
}

func (m *Bookings[F]) DeleteBooking(_ context.Context, id generic.BookingID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bookings[id]; !ok {
		return fmt.Errorf("%w: %s", generic.ErrBookingNotFound, id)
	}
	delete(m.bookings, id)
	return nil
}

func (m *Bookings[F]) ListByStatus(_ context.Context, statuses ...generic.BookingStatus) ([]generic.Booking[F], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := make(map[generic.BookingStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var result []generic.Booking[F]
	for _, b := range m.bookings {
		if len(want) == 0 || want[b.Status] {
			result = append(result, *cloneBooking(b))
		}
	}
	sortBookings(result)
	return result, nil
}

func (m *Bookings[F]) ListByUser(_ context.Context, userID generic.UserID) ([]generic.Booking[F], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []generic.Booking[F]
	for _, b := range m.bookings {
		if b.UserID == userID || b.PatientID == userID {
			result = append(result, *cloneBooking(b))
		}
	}
	sortBookings(result)
	return result, nil
}

func sortBookings[F any](bs []generic.Booking[F]) {
	sort.Slice(bs, func(i, j int) bool {
		if !bs[i].CreatedAt.Equal(bs[j].CreatedAt) {
			return bs[i].CreatedAt.Before(bs[j].CreatedAt)
		}
		return bs[i].BookingID < bs[j].BookingID
	})
}

// =============================================================================
// DIRECTORY - plans, assignments and members
// =============================================================================

// Directory implements PlanConfigService, AssignmentsService and
// MemberDirectory over maps.
type Directory struct {
	mu          sync.RWMutex
	plans       map[generic.PolicyID][]*generic.PlanConfig
	assignments map[generic.UserID][]generic.Assignment
	members     map[generic.MemberID]generic.UserID
}

func NewDirectory() *Directory {
	return &Directory{
		plans:       make(map[generic.PolicyID][]*generic.PlanConfig),
		assignments: make(map[generic.UserID][]generic.Assignment),
		members:     make(map[generic.MemberID]generic.UserID),
	}
}

// PutPlan validates and stores a plan version.
func (d *Directory) PutPlan(p *generic.PlanConfig) error {
	if err := p.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	versions := d.plans[p.PolicyID]
	for i, existing := range versions {
		if existing.Version == p.Version {
			versions[i] = p
			return nil
		}
	}
	versions = append(versions, p)
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	d.plans[p.PolicyID] = versions
	return nil
}

func (d *Directory) GetConfig(_ context.Context, policyID generic.PolicyID, version *int) (*generic.PlanConfig, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	versions := d.plans[policyID]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", generic.ErrPlanConfigNotFound, policyID)
	}
	if version == nil {
		return versions[len(versions)-1], nil
	}
	for _, p := range versions {
		if p.Version == *version {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s v%d", generic.ErrPlanConfigNotFound, policyID, *version)
}

// PutAssignment records a as the user's active assignment.
func (d *Directory) PutAssignment(a generic.Assignment) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.assignments[a.UserID] = append([]generic.Assignment{a}, d.assignments[a.UserID]...)
}

func (d *Directory) GetUserAssignments(_ context.Context, userID generic.UserID) ([]generic.Assignment, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]generic.Assignment(nil), d.assignments[userID]...), nil
}

func (d *Directory) PutMember(memberID generic.MemberID, userID generic.UserID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[memberID] = userID
}

func (d *Directory) UserIDForMember(_ context.Context, memberID generic.MemberID) (generic.UserID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.members[memberID]
	if !ok {
		return "", fmt.Errorf("%w: %s", generic.ErrMemberNotFound, memberID)
	}
	return u, nil
}
