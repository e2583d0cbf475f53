package geo

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neighborhood-lab/care-commons-sub013/pkg/models"
)

func baseParams() ClassifyParams {
	return ClassifyParams{
		AddressLat: 30.2672, AddressLon: -97.7431,
		ActualLat: 30.2672, ActualLon: -97.7431,
		BaseRadiusMeters:            100,
		AccuracyMeters:               20,
		AccuracyAllowanceMultiplier: 1.0,
		StrictMode:                  true,
		AccuracyCeiling:              100,
	}
}

func TestClassify_OnSiteIsCompliant(t *testing.T) {
	out := Classify(baseParams())
	require.Equal(t, models.ComplianceLevelCompliant, out.Level)
	require.False(t, out.RequiresException)
}

func TestClassify_ExactlyAtBaseRadiusIsCompliant(t *testing.T) {
	p := baseParams()
	// ~100m north.
	p.ActualLat = p.AddressLat + (100.0 / 111_320.0)
	out := Classify(p)
	require.Equal(t, models.ComplianceLevelCompliant, out.Level)
}

func TestClassify_WithinEffectiveRadiusIsWarning(t *testing.T) {
	p := baseParams()
	p.ActualLat = p.AddressLat + (110.0 / 111_320.0)
	out := Classify(p)
	require.Equal(t, models.ComplianceLevelWarning, out.Level)
	require.NotEmpty(t, out.SuggestedAction)
}

func TestClassify_BeyondEffectiveRadiusIsViolation(t *testing.T) {
	p := baseParams()
	p.ActualLat = p.AddressLat + (500.0 / 111_320.0)
	out := Classify(p)
	require.Equal(t, models.ComplianceLevelViolation, out.Level)
	require.True(t, out.RequiresException)
	require.Equal(t, "GeofenceViolation", out.FailureReason)
}

func TestClassify_StrictModeRejectsAccuracyAboveCeiling(t *testing.T) {
	p := baseParams()
	p.AccuracyMeters = 101
	out := Classify(p)
	require.Equal(t, models.ComplianceLevelViolation, out.Level)
	require.Equal(t, "GpsAccuracyExceeded", out.FailureReason)
}

func TestClassify_StrictModeAcceptsAccuracyExactlyAtCeiling(t *testing.T) {
	p := baseParams()
	p.AccuracyMeters = 100
	out := Classify(p)
	require.NotEqual(t, "GpsAccuracyExceeded", out.FailureReason)
}

func TestClassify_NonStrictModeIgnoresAccuracyCeiling(t *testing.T) {
	p := baseParams()
	p.StrictMode = false
	p.AccuracyMeters = 500
	out := Classify(p)
	require.NotEqual(t, "GpsAccuracyExceeded", out.FailureReason)
}
