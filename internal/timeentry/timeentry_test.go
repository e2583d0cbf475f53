package timeentry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neighborhood-lab/care-commons-sub013/internal/errors"
	"github.com/neighborhood-lab/care-commons-sub013/pkg/models"
)

func validSubmission() Submission {
	return Submission{
		Kind: models.EntryClockIn, Tenant: "tenant-1", Branch: "branch-1", ClientID: "client-1",
		Caregiver: "caregiver-1", StateCode: "TX", ServiceTypeCode: "PERSONAL_CARE",
		Latitude: 30.2672, Longitude: -97.7431, Accuracy: 15, ServiceDate: "2026-03-01",
	}
}

func TestValidate_AcceptsWellFormedSubmission(t *testing.T) {
	require.NoError(t, Validate(validSubmission()))
}

func TestValidate_RejectsUnknownKind(t *testing.T) {
	s := validSubmission()
	s.Kind = "Teleport"
	err := Validate(s)
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.KindInputValidation))
}

func TestValidate_RejectsOutOfRangeCoordinates(t *testing.T) {
	s := validSubmission()
	s.Latitude = 200
	err := Validate(s)
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.KindInputValidation))
}

func TestValidate_RejectsMalformedServiceDate(t *testing.T) {
	s := validSubmission()
	s.ServiceDate = "03/01/2026"
	err := Validate(s)
	require.Error(t, err)
}

func TestValidate_RejectsMissingTenant(t *testing.T) {
	s := validSubmission()
	s.Tenant = ""
	err := Validate(s)
	require.Error(t, err)
}
