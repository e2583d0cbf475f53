package geo

import "github.com/neighborhood-lab/care-commons-sub013/pkg/models"

// ClassifyParams is the full input to the geofence classification
// algorithm of spec.md §4.3.1, kept as a flat struct (per spec.md §9's
// "flat data with explicit fields" design note) so the function stays
// pure and trivially testable.
type ClassifyParams struct {
	AddressLat, AddressLon float64
	BaseRadiusMeters       float64
	ActualLat, ActualLon   float64
	AccuracyMeters         float64

	// AccuracyAllowanceMultiplier scales accuracy into extra allowed
	// radius (spec.md §4.3.1 step 2). 1.0 in Texas strict mode when
	// accuracy is within the ceiling; state-policy-defined otherwise.
	AccuracyAllowanceMultiplier float64

	StrictMode    bool
	AccuracyCeiling float64
}

// Classify implements spec.md §4.3.1 steps 1-4 exactly, including the
// documented tie-breaks: distance == base radius is Compliant;
// accuracy == ceiling under strict mode is Compliant (strict mode
// compares with '>', never '>=').
func Classify(p ClassifyParams) models.GeofenceOutcome {
	distance := Haversine(p.AddressLat, p.AddressLon, p.ActualLat, p.ActualLon)
	effectiveRadius := p.BaseRadiusMeters + p.AccuracyMeters*p.AccuracyAllowanceMultiplier

	if p.StrictMode && p.AccuracyMeters > p.AccuracyCeiling {
		return models.GeofenceOutcome{
			Level:             models.ComplianceLevelViolation,
			DistanceMeters:    distance,
			EffectiveRadius:   effectiveRadius,
			RequiresException: true,
			SuggestedAction:   "manual override or amendment required",
			FailureReason:     "GpsAccuracyExceeded",
		}
	}

	switch {
	case distance <= p.BaseRadiusMeters:
		return models.GeofenceOutcome{
			Level:           models.ComplianceLevelCompliant,
			DistanceMeters:  distance,
			EffectiveRadius: effectiveRadius,
		}
	case distance <= effectiveRadius:
		return models.GeofenceOutcome{
			Level:           models.ComplianceLevelWarning,
			DistanceMeters:  distance,
			EffectiveRadius: effectiveRadius,
			SuggestedAction: "record advances; GeofenceVariance flag attached",
		}
	default:
		return models.GeofenceOutcome{
			Level:             models.ComplianceLevelViolation,
			DistanceMeters:    distance,
			EffectiveRadius:   effectiveRadius,
			RequiresException: true,
			SuggestedAction:   "manual override or amendment required",
			FailureReason:     "GeofenceViolation",
		}
	}
}
