/*
booking.go - Booking record shared by every service type

PURPOSE:
  Appointment, dental, vision, lab and diagnostic bookings share one
  record shape. The service-specific part (doctor, procedure, test panel)
  is the type parameter F, stored under "details".

STATE MACHINE:
  ┌──────────────────────┐  confirm   ┌───────────┐  complete  ┌───────────┐
  │ PENDING_CONFIRMATION │──────────▶│ CONFIRMED │───────────▶│ COMPLETED │
  └──────────────────────┘            └───────────┘            └───────────┘
             │ cancel                   │       │ no-show
             ▼                          │       ▼
       ┌───────────┐      cancel        │  ┌─────────┐
       │ CANCELLED │◀───────────────────┘  │ NO_SHOW │
       └───────────┘                       └─────────┘

  COMPLETED, CANCELLED and NO_SHOW are terminal. Bookings are never
  physically deleted, except by the compensating delete when money could
  not be moved at creation time.

SEE ALSO:
  - lifecycle.go: Transition side effects
  - breakdown.go: Payment breakdown fields
*/
package generic

import "time"

// =============================================================================
// STATUS
// =============================================================================

type BookingStatus string

const (
	StatusPendingConfirmation BookingStatus = "PENDING_CONFIRMATION"
	StatusConfirmed           BookingStatus = "CONFIRMED"
	StatusCompleted           BookingStatus = "COMPLETED"
	StatusCancelled           BookingStatus = "CANCELLED"
	StatusNoShow              BookingStatus = "NO_SHOW"
)

var transitions = map[BookingStatus][]BookingStatus{
	StatusPendingConfirmation: {StatusConfirmed, StatusCancelled},
	StatusConfirmed:           {StatusCompleted, StatusCancelled, StatusNoShow},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to BookingStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s BookingStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// ActiveStatuses occupy slot capacity.
var ActiveStatuses = []BookingStatus{StatusPendingConfirmation, StatusConfirmed}

type PaymentMethod string

const (
	PaymentWalletOnly  PaymentMethod = "WALLET_ONLY"
	PaymentCopay       PaymentMethod = "COPAY"
	PaymentOutOfPocket PaymentMethod = "OUT_OF_POCKET"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

// =============================================================================
// SLOT
// =============================================================================

// Slot is the capacity unit a booking occupies: one resource (doctor,
// chair, lab) at one date and time.
type Slot struct {
	ResourceID string `json:"resourceId"`
	Date       string `json:"date"` // 2006-01-02
	Time       string `json:"time"` // 15:04
}

func (s Slot) Key() string {
	return s.ResourceID + "|" + s.Date + "|" + s.Time
}

// =============================================================================
// BOOKING
// =============================================================================

type RescheduleEntry struct {
	PreviousDate  string    `json:"previousDate"`
	PreviousTime  string    `json:"previousTime"`
	NewDate       string    `json:"newDate"`
	NewTime       string    `json:"newTime"`
	RescheduledAt time.Time `json:"rescheduledAt"`
	RescheduledBy string    `json:"rescheduledBy"`
	Reason        string    `json:"reason,omitempty"`
}

type Booking[F any] struct {
	BookingID    BookingID    `json:"bookingId"`
	ServiceType  ServiceType  `json:"serviceType"`
	UserID       UserID       `json:"userId"`    // booker
	PatientID    UserID       `json:"patientId"` // who the service is for
	Relationship Relationship `json:"relationship,omitempty"`
	AssignmentID AssignmentID `json:"policyAssignmentId"`
	CategoryCode CategoryCode `json:"categoryCode"`
	ServiceKey   string       `json:"serviceKey,omitempty"`
	Slot         Slot         `json:"slot"`

	PaymentBreakdown

	PaymentMethod PaymentMethod `json:"paymentMethod"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	Status        BookingStatus `json:"status"`

	PaymentID           PaymentID     `json:"paymentId,omitempty"`
	TransactionID       TransactionID `json:"transactionId,omitempty"`
	WalletDebitApplied  bool          `json:"walletDebitApplied"`
	RefundTransactionID TransactionID `json:"refundTransactionId,omitempty"`

	ConfirmedAt        *time.Time        `json:"confirmedAt,omitempty"`
	CompletedAt        *time.Time        `json:"completedAt,omitempty"`
	CancelledAt        *time.Time        `json:"cancelledAt,omitempty"`
	CancelledBy        string            `json:"cancelledBy,omitempty"`
	CancellationReason string            `json:"cancellationReason,omitempty"`
	NoShowAt           *time.Time        `json:"noShowAt,omitempty"`
	RescheduleHistory  []RescheduleEntry `json:"rescheduleHistory,omitempty"`

	Details F `json:"details"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ScheduledAt is the slot start in the clinic time zone.
func (b *Booking[F]) ScheduledAt() (time.Time, error) {
	return ParseSlotTime(b.Slot.Date, b.Slot.Time)
}
