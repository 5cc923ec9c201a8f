// Package dental defines dental procedure bookings (CAT006).
package dental

import (
	"strings"

	"github.com/carepay/benefit-wallet/generic"
)

type Procedure string

const (
	Checkup    Procedure = "CHECKUP"
	Cleaning   Procedure = "CLEANING"
	Filling    Procedure = "FILLING"
	RootCanal  Procedure = "ROOT_CANAL"
	Extraction Procedure = "EXTRACTION"
	Crown      Procedure = "CROWN"
)

var procedures = map[Procedure]bool{
	Checkup: true, Cleaning: true, Filling: true, RootCanal: true, Extraction: true, Crown: true,
}

type Details struct {
	ClinicID   string    `json:"clinicId"`
	DentistID  string    `json:"dentistId"`
	Procedure  Procedure `json:"procedure"`
	ToothCodes []string  `json:"toothCodes,omitempty"`
	Notes      string    `json:"notes,omitempty"`
}

// Definition: one chair per dentist per slot, keyed by procedure for
// per-procedure transaction limits.
var Definition = generic.ServiceDefinition[Details]{
	Type:         generic.ServiceDental,
	Category:     generic.CategoryDental,
	IDPrefix:     "DEN",
	SlotCapacity: 1,
	ServiceKey:   func(d Details) string { return string(d.Procedure) },
	ResourceID:   func(d Details) string { return d.DentistID },
	Provider:     func(d Details) string { return d.ClinicID },
	Validate: func(d Details) error {
		if strings.TrimSpace(d.DentistID) == "" {
			return generic.NewValidationError("details.dentistId", "required")
		}
		if !procedures[d.Procedure] {
			return generic.NewValidationError("details.procedure", "unknown procedure %q", d.Procedure)
		}
		return nil
	},
}

func init() {
	generic.RegisterService(Definition.Info("Dental procedures"))
}

type (
	Booking   = generic.Booking[Details]
	Store     = generic.BookingStore[Details]
	Lifecycle = generic.Lifecycle[Details]
	Request   = generic.CreateRequest[Details]
)

func New(store Store, deps generic.LifecycleDeps) *Lifecycle {
	return generic.NewLifecycle(Definition, store, deps)
}
