package diagnostic_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/carepay/benefit-wallet/diagnostic"
	"github.com/carepay/benefit-wallet/generic"
)

func TestDefinition_Validate(t *testing.T) {
	tests := []struct {
		name    string
		details diagnostic.Details
		wantErr bool
	}{
		{"xray", diagnostic.Details{CenterID: "IMG-1", Modality: diagnostic.XRay}, false},
		{"mri with referral", diagnostic.Details{CenterID: "IMG-1", Modality: diagnostic.MRI, ReferralID: "REF-9"}, false},
		{"mri without referral", diagnostic.Details{CenterID: "IMG-1", Modality: diagnostic.MRI}, true},
		{"ct without referral", diagnostic.Details{CenterID: "IMG-1", Modality: diagnostic.CT}, true},
		{"missing center", diagnostic.Details{Modality: diagnostic.ECG}, true},
		{"unknown modality", diagnostic.Details{CenterID: "IMG-1", Modality: "PET"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := diagnostic.Definition.Validate(tt.details)
			if tt.wantErr {
				assert.ErrorIs(t, err, generic.ErrValidation)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDefinition_SlotResourceIsCenterAndModality(t *testing.T) {
	d := diagnostic.Details{CenterID: "IMG-1", Modality: diagnostic.Ultrasound}
	assert.Equal(t, "IMG-1:ULTRASOUND", diagnostic.Definition.ResourceID(d))
	assert.Equal(t, "ULTRASOUND", diagnostic.Definition.ServiceKey(d))
	assert.True(t, diagnostic.Definition.ConfirmOnPayment)
}
