// Package diagnostic defines imaging and diagnostic orders (CAT003).
package diagnostic

import (
	"strings"

	"github.com/carepay/benefit-wallet/generic"
)

type Modality string

const (
	XRay       Modality = "XRAY"
	Ultrasound Modality = "ULTRASOUND"
	CT         Modality = "CT"
	MRI        Modality = "MRI"
	ECG        Modality = "ECG"
)

type Details struct {
	CenterID   string   `json:"centerId"`
	Modality   Modality `json:"modality"`
	BodyPart   string   `json:"bodyPart,omitempty"`
	ReferralID string   `json:"referralId,omitempty"`
}

// Definition: each center runs one machine per modality, so the slot
// resource is the (center, modality) pair.
var Definition = generic.ServiceDefinition[Details]{
	Type:             generic.ServiceDiagnostic,
	Category:         generic.CategoryDiagnostics,
	IDPrefix:         "DIA",
	SlotCapacity:     1,
	ConfirmOnPayment: true,
	ServiceKey:       func(d Details) string { return string(d.Modality) },
	ResourceID:       func(d Details) string { return d.CenterID + ":" + string(d.Modality) },
	Provider:         func(d Details) string { return d.CenterID },
	Validate: func(d Details) error {
		if strings.TrimSpace(d.CenterID) == "" {
			return generic.NewValidationError("details.centerId", "required")
		}
		switch d.Modality {
		case XRay, Ultrasound, CT, MRI, ECG:
		default:
			return generic.NewValidationError("details.modality", "unknown modality %q", d.Modality)
		}
		if (d.Modality == CT || d.Modality == MRI) && d.ReferralID == "" {
			return generic.NewValidationError("details.referralId", "%s requires a referral", d.Modality)
		}
		return nil
	},
}

func init() {
	generic.RegisterService(Definition.Info("Imaging and diagnostic procedures"))
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
