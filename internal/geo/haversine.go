// Package geo implements the pure geofence math of spec.md §4.3.1:
// great-circle distance and effective-radius classification. It is
// adapted from the teacher's pkg/rules/utils.go haversine helper,
// rescaled from kilometers to meters (EVV geofence radii are
// specified in meters: Texas 100m, Florida 150m) and extended with
// the effective-radius/strict-mode tiering the teacher's simple
// radius-only GeofencingRule didn't need.
package geo

import "math"

// EarthRadiusMeters is the WGS-84 sphere approximation spec.md §4.3.1
// names explicitly.
const EarthRadiusMeters = 6_371_000.0

// Haversine returns the great-circle distance in meters between two
// coordinates, symmetric within floating-point error (spec.md §8:
// "Haversine distance is symmetric... within ε = 10⁻³ m").
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * (math.Pi / 180.0)
	dLon := (lon2 - lon1) * (math.Pi / 180.0)

	rLat1 := lat1 * (math.Pi / 180.0)
	rLat2 := lat2 * (math.Pi / 180.0)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(rLat1)*math.Cos(rLat2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// ValidCoordinates reports whether lat/lon fall within the valid WGS-84
// ranges (spec.md §4.3.1 tie-break rules).
func ValidCoordinates(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// ValidAccuracy reports whether a reported GPS accuracy in meters is
// physically plausible (spec.md §4.3.1: "Accuracy < 0 or > 10,000 m
// fails input validation").
func ValidAccuracy(accuracyMeters float64) bool {
	return accuracyMeters >= 0 && accuracyMeters <= 10_000
}
