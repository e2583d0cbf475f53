// Package aggregator implements the Aggregator Dispatcher (spec.md
// §4.4): formats a Complete EVV record for a state-designated
// aggregator, submits it, interprets the response, and drives the
// aggregator's own submission state machine — separate from the EVV
// record's own status (spec.md §4.4 "Submission state is a small
// state machine per record, separate from the EVV record's own
// status").
//
// Grounded on the teacher's rules.Rule interface: a small, named,
// independently-testable interface the engine holds a collection of
// and dispatches by name rather than type-switching on concrete
// types. Here the engine picks exactly one Aggregator per submission
// (by state policy) instead of running every rule.
package aggregator

import (
	"context"

	"github.com/neighborhood-lab/care-commons-sub013/internal/policy"
	"github.com/neighborhood-lab/care-commons-sub013/pkg/models"
)

// ValidationResult is the outcome of a pre-submission check (spec.md
// §4.4 "validate").
type ValidationResult struct {
	OK       bool
	Errors   []string
	Warnings []string
}

// SubmitResult is the outcome of a submission attempt (spec.md §4.4
// "submit").
type SubmitResult struct {
	OK             bool
	SubmissionID   string
	ConfirmationID string
	ErrorCode      string
	ErrorMessage   string
	Retriable      bool
	RetryAfter     int // seconds; 0 means "use the default backoff schedule"
}

// Aggregator is implemented once per state-designated platform
// (Sandata, HHAeXchange, Tellus, …). All implementations share the
// same two-step shape: validate, then submit.
type Aggregator interface {
	// Name returns the aggregator's identifier, matching
	// policy.Row.DefaultAggregator.
	Name() string

	// Validate enforces the six federal required elements plus any
	// aggregator-specific rules (spec.md §4.4).
	Validate(record *models.Record, statePolicy policy.Row) (ValidationResult, error)

	// Submit formats and sends the payload, returning the
	// aggregator's outcome.
	Submit(ctx context.Context, record *models.Record, statePolicy policy.Row) (SubmitResult, error)

	// InvalidateAuth discards any cached credential so the next Submit
	// fetches a fresh one (spec.md §7 "AuthenticationFailed: Refresh +
	// one retry, then park"). A no-op when the aggregator has no token
	// source (API-key mode, or unconfigured in tests).
	InvalidateAuth(ctx context.Context)
}

// federalElementsPresent checks the six elements every aggregator
// requires regardless of family (spec.md §4.4 "Shared by all").
func federalElementsPresent(record *models.Record) []string {
	var missing []string
	if record.ServiceTypeCode == "" {
		missing = append(missing, "service_type")
	}
	if record.ClientID == "" {
		missing = append(missing, "member_id")
	}
	if record.Caregiver == "" {
		missing = append(missing, "provider_id")
	}
	if record.ServiceDate == "" {
		missing = append(missing, "service_date")
	}
	if record.ClockIn == nil {
		missing = append(missing, "start")
	}
	if record.ClockOut == nil {
		missing = append(missing, "end")
	}
	// An address with a real street but (0,0) coordinates is a
	// legitimate, if rare, location (e.g. the Gulf of Guinea null
	// island isn't the common case, but a Street without coordinates
	// would be a bug elsewhere, not a missing submission). Only an
	// entirely zero-value ServiceAddress counts as missing location.
	if record.Address.Street == "" && record.Address.Coordinates.Latitude == 0 && record.Address.Coordinates.Longitude == 0 {
		missing = append(missing, "location")
	}
	return missing
}

// accuracyWarning returns a warning when GPS accuracy at clock-in
// exceeded the state's geofence tolerance (spec.md §4.4 "Common
// warning conditions").
func accuracyWarning(record *models.Record, statePolicy policy.Row) string {
	if record.ClockInVerification == nil {
		return ""
	}
	if record.ClockInVerification.Accuracy > statePolicy.GeofenceRadiusMeters {
		return "gps accuracy exceeds geofence tolerance"
	}
	return ""
}

// npiWarning returns a warning when the record's provider NPI is
// missing and the state hasn't exempted it (spec.md §4.4 "Common
// warning conditions": "missing NPI (per state exemptions)").
func npiWarning(record *models.Record, statePolicy policy.Row) string {
	if record.ProviderNPI != "" || statePolicy.NPIExempt {
		return ""
	}
	return "missing NPI"
}

// Registry resolves an Aggregator by name (policy.Row.DefaultAggregator).
type Registry map[string]Aggregator

// NewRegistry builds the default registry of all in-scope aggregator
// families.
func NewRegistry(clients HTTPDoer) Registry {
	return Registry{
		"Sandata":     NewSandata(clients),
		"HHAeXchange": NewHHAeXchange(clients),
		"Tellus":      NewTellus(clients),
	}
}

func (r Registry) For(statePolicy policy.Row) (Aggregator, bool) {
	a, ok := r[statePolicy.DefaultAggregator]
	return a, ok
}
