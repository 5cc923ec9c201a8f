// Package vision defines eye care bookings (CAT007).
package vision

import (
	"strings"

	"github.com/carepay/benefit-wallet/generic"
)

type Service string

const (
	EyeExam       Service = "EYE_EXAM"
	Spectacles    Service = "SPECTACLES"
	ContactLenses Service = "CONTACT_LENSES"
)

type Details struct {
	ClinicID      string  `json:"clinicId"`
	OptometristID string  `json:"optometristId,omitempty"`
	Service       Service `json:"service"`
	Prescription  string  `json:"prescription,omitempty"`
}

// Definition: the clinic is the slot resource and runs two exam rooms.
var Definition = generic.ServiceDefinition[Details]{
	Type:         generic.ServiceVision,
	Category:     generic.CategoryVision,
	IDPrefix:     "VIS",
	SlotCapacity: 2,
	ServiceKey:   func(d Details) string { return string(d.Service) },
	ResourceID:   func(d Details) string { return d.ClinicID },
	Provider:     func(d Details) string { return d.ClinicID },
	Validate: func(d Details) error {
		if strings.TrimSpace(d.ClinicID) == "" {
			return generic.NewValidationError("details.clinicId", "required")
		}
		switch d.Service {
		case EyeExam, Spectacles, ContactLenses:
			return nil
		}
		return generic.NewValidationError("details.service", "unknown vision service %q", d.Service)
	},
}

func init() {
	generic.RegisterService(Definition.Info("Eye exams, spectacles and contact lenses"))
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
