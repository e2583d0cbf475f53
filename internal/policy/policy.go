// Package policy holds the per-state compliance policy table of
// spec.md §3 ("State Policy Row") and §5 ("read-only at steady state,
// reloaded on config change; no locking required beyond a
// read-copy-update swap").
//
// The static row constructors are grounded on the teacher's
// rules.DefaultDataCenterRule/DefaultVPNCheckRule pattern: a
// constructor that returns a populated lookup table rather than
// requiring every caller to hand-build one.
package policy

// Row is one state's compliance policy (spec.md §3).
type Row struct {
	StateCode string

	GeofenceRadiusMeters float64
	GPSAccuracyCeiling   float64 // meters; strict-mode ceiling
	StrictMode           bool
	GracePeriodMinutes   int

	// AccuracyAllowanceMultiplier scales GPS accuracy into additional
	// allowed geofence radius outside strict mode (spec.md §4.3.1
	// step 2).
	AccuracyAllowanceMultiplier float64

	RequiredFederalElements []string // always the same six per spec.md §3
	OverrideReasonCodes     []string

	// NPIExempt, when true, suppresses the aggregator's "missing NPI"
	// warning for this state (spec.md §4.4 "missing NPI (per state
	// exemptions)") — some states don't require an NPI from individual
	// (non-agency) caregivers providing personal care services.
	NPIExempt bool

	DefaultAggregator  string
	SubmissionEndpoint string

	StateRequiredFields []string // e.g. Texas EVV attendant ID
}

// federalSix is the six federally required elements named in spec.md
// §3 and the GLOSSARY; identical across every state row.
var federalSix = []string{
	"service_type", "member_id", "provider_id",
	"start", "end", "location",
}

// Texas returns the Texas state policy row: 100m geofence, 100m
// strict-mode GPS ceiling, 10 minute grace period (spec.md §3).
func Texas() Row {
	return Row{
		StateCode:                   "TX",
		GeofenceRadiusMeters:        100,
		GPSAccuracyCeiling:          100,
		StrictMode:                  true,
		GracePeriodMinutes:          10,
		AccuracyAllowanceMultiplier: 1.0,
		NPIExempt:                   false,
		RequiredFederalElements:     federalSix,
		OverrideReasonCodes: []string{
			"DeviceMalfunction", "GPSUnavailable", "ClockOutMissed",
			"ConnectivityLoss", "ClientRefusedSignature",
		},
		DefaultAggregator:  "HHAeXchange",
		SubmissionEndpoint: "https://evv.hhaexchange.com/tx/v1/submit",
		StateRequiredFields: []string{"evv_attendant_id"},
	}
}

// Florida returns the Florida state policy row: 150m geofence, 15
// minute grace period, lenient (non-strict) GPS accuracy handling
// (spec.md §3).
func Florida() Row {
	return Row{
		StateCode:                   "FL",
		GeofenceRadiusMeters:        150,
		GPSAccuracyCeiling:          150,
		StrictMode:                  false,
		GracePeriodMinutes:          15,
		AccuracyAllowanceMultiplier: 1.5,
		NPIExempt:                   true, // individual (non-agency) personal-care caregivers need not carry an NPI
		RequiredFederalElements:     federalSix,
		OverrideReasonCodes: []string{
			"DeviceMalfunction", "GPSUnavailable", "ConnectivityLoss",
		},
		DefaultAggregator:  "HHAeXchange",
		SubmissionEndpoint: "https://evv.hhaexchange.com/fl/v1/submit",
		StateRequiredFields: []string{"level2_screening_ref"},
	}
}

// Defaults returns the built-in policy table (Texas, Florida), used
// as the seed before any config file overrides it.
func Defaults() map[string]Row {
	return map[string]Row{
		"TX": Texas(),
		"FL": Florida(),
	}
}
