package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTexas_IsStrictModeWithShortGracePeriod(t *testing.T) {
	row := Texas()
	require.Equal(t, "TX", row.StateCode)
	require.True(t, row.StrictMode)
	require.Equal(t, 10, row.GracePeriodMinutes)
	require.Equal(t, 100.0, row.GeofenceRadiusMeters)
	require.Contains(t, row.StateRequiredFields, "evv_attendant_id")
}

func TestFlorida_IsLenientWithLongerGracePeriod(t *testing.T) {
	row := Florida()
	require.Equal(t, "FL", row.StateCode)
	require.False(t, row.StrictMode)
	require.Equal(t, 15, row.GracePeriodMinutes)
	require.Equal(t, 150.0, row.GeofenceRadiusMeters)
}

func TestTexasAndFlorida_ShareTheFederalSixElements(t *testing.T) {
	require.Equal(t, Texas().RequiredFederalElements, Florida().RequiredFederalElements)
	require.Len(t, Texas().RequiredFederalElements, 6)
}

func TestDefaults_SeedsBothStates(t *testing.T) {
	defaults := Defaults()
	require.Contains(t, defaults, "TX")
	require.Contains(t, defaults, "FL")
	require.Len(t, defaults, 2)
}
