package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// CLINIC TIME
// =============================================================================

// ClinicZone is the zone slot dates/times are interpreted in.
//
// TODO: derive the zone from the policy locale once plan configs carry one;
// product has not confirmed that every clinic runs on +05:30.
var ClinicZone = time.FixedZone("IST", 5*60*60+30*60)

const (
	SlotDateLayout = "2006-01-02"
	SlotTimeLayout = "15:04"
)

// ParseSlotTime combines a slot date and time in ClinicZone.
func ParseSlotTime(date, clock string) (time.Time, error) {
	t, err := time.ParseInLocation(SlotDateLayout+" "+SlotTimeLayout, date+" "+clock, ClinicZone)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: slot %s %s: %v", ErrValidation, date, clock, err)
	}
	return t, nil
}

// PolicyYear labels the policy year starting at from, e.g. "2025-2026".
func PolicyYear(from, to time.Time) string {
	if to.IsZero() || to.Year() == from.Year() {
		return fmt.Sprintf("%d", from.Year())
	}
	return fmt.Sprintf("%d-%d", from.Year(), to.Year())
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock abstracts "now" so cutoff and no-show rules are testable.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns T.
type FixedClock struct{ T time.Time }

func (c FixedClock) Now() time.Time { return c.T }
