package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewDevelopment_RegistersAllMetrics(t *testing.T) {
	tel, err := NewDevelopment()
	require.NoError(t, err)
	require.NotNil(t, tel.Logger)
	require.NotNil(t, tel.Registry)

	// Label-vector metrics are only gathered once a label value exists.
	tel.Metrics.RecordVerification("Compliant")
	tel.Metrics.RecordSubmission("Sandata", false)

	families, err := tel.Registry.Gather()
	require.NoError(t, err)
	require.Len(t, families, 4)
}

func TestRecordVerification_IncrementsCounterByLevel(t *testing.T) {
	tel, err := NewDevelopment()
	require.NoError(t, err)

	tel.Metrics.RecordVerification("Compliant")
	tel.Metrics.RecordVerification("Compliant")
	tel.Metrics.RecordVerification("Violation")

	require.Equal(t, float64(2), testutil.ToFloat64(tel.Metrics.VerificationOutcomes.WithLabelValues("Compliant")))
	require.Equal(t, float64(1), testutil.ToFloat64(tel.Metrics.VerificationOutcomes.WithLabelValues("Violation")))
}

func TestRecordSubmission_LabelsRetriableAsString(t *testing.T) {
	tel, err := NewDevelopment()
	require.NoError(t, err)

	tel.Metrics.RecordSubmission("Sandata", true)
	tel.Metrics.RecordSubmission("Sandata", false)

	require.Equal(t, float64(1), testutil.ToFloat64(tel.Metrics.SubmissionOutcomes.WithLabelValues("Sandata", "true")))
	require.Equal(t, float64(1), testutil.ToFloat64(tel.Metrics.SubmissionOutcomes.WithLabelValues("Sandata", "false")))
}
