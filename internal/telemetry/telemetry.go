// Package telemetry builds the shared *zap.Logger and Prometheus
// registry, passed by constructor injection (SPEC_FULL.md §4.6) to the
// EVV engine, the Aggregator Dispatcher and internal/httpapi, never as
// a global.
//
// Grounded on the tracking-service reference's NewTrackingService:
// zap.NewProduction() plus prometheus.NewRegistry() as fields on the
// top-level service struct, assembled once at startup and passed
// down.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Telemetry bundles the logger and metric registry every component
// constructor accepts.
type Telemetry struct {
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *Metrics
}

// Metrics holds the Prometheus instruments SPEC_FULL.md §4.6 names:
// verification outcomes by classification, submission outcomes by
// aggregator and retriability, sync batch sizes, and VMUR approval
// latency.
type Metrics struct {
	VerificationOutcomes *prometheus.CounterVec
	SubmissionOutcomes   *prometheus.CounterVec
	SyncBatchSizes       prometheus.Histogram
	VMURApprovalLatency  prometheus.Histogram
}

// New builds a production Telemetry bundle with every metric
// registered against a fresh registry.
func New() (*Telemetry, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return newWithLogger(logger)
}

// NewDevelopment builds a development Telemetry bundle (human-
// readable console logging) for tests and local iteration.
func NewDevelopment() (*Telemetry, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return newWithLogger(logger)
}

func newWithLogger(logger *zap.Logger) (*Telemetry, error) {
	registry := prometheus.NewRegistry()

	metrics := &Metrics{
		VerificationOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evv_verification_outcomes_total",
			Help: "Geofence classification outcomes by compliance level.",
		}, []string{"level"}),
		SubmissionOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evv_aggregator_submission_outcomes_total",
			Help: "Aggregator submission outcomes by aggregator name and retriability.",
		}, []string{"aggregator", "retriable"}),
		SyncBatchSizes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "evv_sync_push_batch_size",
			Help:    "Number of changes in a mobile sync push batch.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		VMURApprovalLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "evv_vmur_approval_latency_seconds",
			Help:    "Time from VMUR creation to approval/denial decision.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	for _, collector := range []prometheus.Collector{
		metrics.VerificationOutcomes, metrics.SubmissionOutcomes,
		metrics.SyncBatchSizes, metrics.VMURApprovalLatency,
	} {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}

	return &Telemetry{Logger: logger, Registry: registry, Metrics: metrics}, nil
}

// RecordVerification records one geofence classification outcome.
func (m *Metrics) RecordVerification(level string) {
	m.VerificationOutcomes.WithLabelValues(level).Inc()
}

// RecordSubmission records one aggregator submission outcome.
func (m *Metrics) RecordSubmission(aggregatorName string, retriable bool) {
	label := "false"
	if retriable {
		label = "true"
	}
	m.SubmissionOutcomes.WithLabelValues(aggregatorName, label).Inc()
}
