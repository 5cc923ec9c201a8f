// Package appointment defines doctor consultation bookings (CAT001).
// It plugs consultation-specific fields into the generic booking lifecycle.
package appointment

import (
	"strings"

	"github.com/carepay/benefit-wallet/generic"
)

// =============================================================================
// CONSULTATION DETAILS
// =============================================================================

type ConsultationType string

const (
	InClinic  ConsultationType = "IN_CLINIC"
	Online    ConsultationType = "ONLINE"
	HomeVisit ConsultationType = "HOME_VISIT"
)

// Details is the service-specific part of an appointment booking.
type Details struct {
	DoctorID         string           `json:"doctorId"`
	DoctorName       string           `json:"doctorName,omitempty"`
	Specialty        string           `json:"specialty,omitempty"`
	ClinicID         string           `json:"clinicId,omitempty"`
	ConsultationType ConsultationType `json:"consultationType"`
	Symptoms         string           `json:"symptoms,omitempty"`
}

func validate(d Details) error {
	if strings.TrimSpace(d.DoctorID) == "" {
		return generic.NewValidationError("details.doctorId", "required")
	}
	switch d.ConsultationType {
	case InClinic, Online, HomeVisit:
		return nil
	default:
		return generic.NewValidationError("details.consultationType", "unknown consultation type %q", d.ConsultationType)
	}
}

// Definition books one patient per doctor per slot. The doctor confirms
// explicitly, so payment completion does not confirm.
var Definition = generic.ServiceDefinition[Details]{
	Type:         generic.ServiceAppointment,
	Category:     generic.CategoryConsultation,
	IDPrefix:     "APT",
	SlotCapacity: 1,
	ServiceKey:   func(d Details) string { return string(d.ConsultationType) },
	ResourceID:   func(d Details) string { return d.DoctorID },
	Provider: func(d Details) string {
		if d.DoctorName != "" {
			return d.DoctorName
		}
		return d.DoctorID
	},
	Validate: validate,
}

func init() {
	generic.RegisterService(Definition.Info("Doctor consultation, in clinic, online or at home"))
}

type (
	Booking   = generic.Booking[Details]
	Store     = generic.BookingStore[Details]
	Lifecycle = generic.Lifecycle[Details]
	Request   = generic.CreateRequest[Details]
)

// New wires the appointment lifecycle.
func New(store Store, deps generic.LifecycleDeps) *Lifecycle {
	return generic.NewLifecycle(Definition, store, deps)
}
