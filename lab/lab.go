// Package lab defines laboratory test orders (CAT004). Lab orders confirm
// as soon as payment is settled; there is no provider confirmation step.
package lab

import (
	"strings"

	"github.com/carepay/benefit-wallet/generic"
)

type Collection string

const (
	CenterVisit    Collection = "CENTER"
	HomeCollection Collection = "HOME"
)

type Details struct {
	LabID      string     `json:"labId"`
	Tests      []string   `json:"tests"`
	Collection Collection `json:"collection"`
	Address    string     `json:"address,omitempty"`
}

var Definition = generic.ServiceDefinition[Details]{
	Type:             generic.ServiceLab,
	Category:         generic.CategoryLab,
	IDPrefix:         "LAB",
	SlotCapacity:     5,
	ConfirmOnPayment: true,
	ServiceKey:       func(d Details) string { return string(d.Collection) },
	ResourceID:       func(d Details) string { return d.LabID },
	Provider:         func(d Details) string { return d.LabID },
	Validate: func(d Details) error {
		if strings.TrimSpace(d.LabID) == "" {
			return generic.NewValidationError("details.labId", "required")
		}
		if len(d.Tests) == 0 {
			return generic.NewValidationError("details.tests", "at least one test required")
		}
		switch d.Collection {
		case CenterVisit:
		case HomeCollection:
			if strings.TrimSpace(d.Address) == "" {
				return generic.NewValidationError("details.address", "required for home collection")
			}
		default:
			return generic.NewValidationError("details.collection", "unknown collection %q", d.Collection)
		}
		return nil
	},
}

func init() {
	generic.RegisterService(Definition.Info("Laboratory tests, at the center or home collection"))
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
