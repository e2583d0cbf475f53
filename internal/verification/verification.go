// Package verification implements the Verifier (spec.md §4.3): geofence
// classification, mock-location/anti-fraud flagging, and the integrity
// hash/checksum pair frozen onto a record at Complete.
//
// The anti-fraud checks are adapted from the teacher's pkg/rules
// package (VelocityRule, VPNCheckRule, DataCenterRule, FingerprintRule,
// IPGPSRule): the teacher scores login attempts with a pluggable Rule
// interface returning a risk score; here the checks instead set
// spec-named ComplianceFlag values on a Verification, since spec.md
// §4.3.2 is flag-based rather than score-based. The shape — small
// independent checks, each ignorant of the others, composed by one
// Evaluator — is kept.
package verification

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/neighborhood-lab/care-commons-sub013/internal/errors"
	"github.com/neighborhood-lab/care-commons-sub013/internal/geo"
	"github.com/neighborhood-lab/care-commons-sub013/internal/geoip"
	"github.com/neighborhood-lab/care-commons-sub013/internal/policy"
	"github.com/neighborhood-lab/care-commons-sub013/pkg/models"
)

// CalibrationMinObservations and CalibrationMinSuccessRate gate a
// Geofence's promotion from RadiusType "default" to "calibrated"
// (spec.md §3): a client needs a track record before its effective
// radius is allowed to drift from the state default.
const (
	CalibrationMinObservations = 20
	CalibrationMinSuccessRate  = 0.9
)

// GeofenceRepository persists per-client geofence calibration state.
// Defined here rather than imported from internal/evv/store so this
// package stays free of a dependency on it; internal/evv/store's
// MemoryGeofenceRepository and Postgres-backed repository both satisfy
// it structurally.
type GeofenceRepository interface {
	Get(ctx context.Context, clientID models.ClientID) (*models.Geofence, error)
	Save(ctx context.Context, g *models.Geofence) error
}

// MaxApparentSpeedKmh is the physical-plausibility threshold of
// spec.md §4.3.2: "coordinate delta > 100 km/h apparent speed between
// consecutive checks of the same visit".
const MaxApparentSpeedKmh = 100.0

// GeoIPLookup is the subset of *geoip.Service the Evaluator needs; an
// interface so tests can supply a fake without MaxMind database files.
type GeoIPLookup interface {
	Lookup(ipAddress string) (geoip.Region, error)
	ASN(ipAddress string) (uint, error)
}

// Evaluator runs the geofence check and the anti-fraud checks of
// spec.md §4.3 against one Verification at a time.
type Evaluator struct {
	geoIP          GeoIPLookup
	hostingASNs    map[uint]string // adapted from teacher's DefaultDataCenterRule/DefaultVPNCheckRule blacklists
	highTrustCodes map[string]bool // service type codes requiring root/jailbreak rejection
	geofences      GeofenceRepository
}

// NewEvaluator builds an Evaluator. geoIP may be nil — the VPN/region
// check is then skipped (degrades gracefully, same stance as the
// teacher's engine when no GeoIP service is configured).
func NewEvaluator(geoIP GeoIPLookup, hostingASNs map[uint]string, highTrustServiceTypes []string) *Evaluator {
	highTrust := make(map[string]bool, len(highTrustServiceTypes))
	for _, c := range highTrustServiceTypes {
		highTrust[c] = true
	}
	return &Evaluator{geoIP: geoIP, hostingASNs: hostingASNs, highTrustCodes: highTrust}
}

// WithGeofenceCalibration attaches a GeofenceRepository, opting the
// Evaluator into tracking per-client observation counters and a
// running accuracy average (spec.md §3), mirroring the
// WithCredential(...) builder pattern the aggregator package uses for
// optional configuration.
func (e *Evaluator) WithGeofenceCalibration(store GeofenceRepository) *Evaluator {
	clone := *e
	clone.geofences = store
	return &clone
}

// DefaultHostingASNs returns the built-in hosting/VPN ASN blacklist,
// adapted directly from the teacher's DefaultDataCenterRule and
// DefaultVPNCheckRule (merged — spec.md §4.3.2 treats "VPN detected"
// as a single flag regardless of whether the provider is a consumer
// VPN exit or a bare data-center ASN).
func DefaultHostingASNs() map[uint]string {
	return map[uint]string{
		16509:  "Amazon.com (AWS)",
		14618:  "Amazon.com (AWS)",
		15169:  "Google Cloud",
		396982: "Google Cloud",
		8075:   "Microsoft Azure",
		14061:  "DigitalOcean",
		24940:  "Hetzner Online GmbH",
		16276:  "OVH SAS",
		20473:  "Choopa, LLC (Vultr)",
		13335:  "Cloudflare",
		63949:  "Linode",
	}
}

// GeofenceInput is the full input to one geofence classification.
type GeofenceInput struct {
	Address   models.ServiceAddress
	Actual    models.Coordinates
	Accuracy  float64
	StatePolicy policy.Row
}

// ClassifyGeofence implements spec.md §4.3.1: validates coordinates
// and accuracy, then classifies distance against the state policy's
// radius/ceiling/multiplier.
func (e *Evaluator) ClassifyGeofence(in GeofenceInput) (models.GeofenceOutcome, error) {
	if !geo.ValidCoordinates(in.Actual.Latitude, in.Actual.Longitude) {
		return models.GeofenceOutcome{}, errors.New(errors.KindInputValidation, "invalid_coordinates", "coordinates out of range")
	}
	if !geo.ValidCoordinates(in.Address.Coordinates.Latitude, in.Address.Coordinates.Longitude) {
		return models.GeofenceOutcome{}, errors.New(errors.KindInputValidation, "invalid_coordinates", "service address coordinates out of range")
	}
	if !geo.ValidAccuracy(in.Accuracy) {
		return models.GeofenceOutcome{}, errors.New(errors.KindInputValidation, "invalid_accuracy", "GPS accuracy out of range")
	}

	radius := in.Address.Radius
	if radius <= 0 {
		radius = in.StatePolicy.GeofenceRadiusMeters
	}

	outcome := geo.Classify(geo.ClassifyParams{
		AddressLat:                  in.Address.Coordinates.Latitude,
		AddressLon:                  in.Address.Coordinates.Longitude,
		BaseRadiusMeters:            radius,
		ActualLat:                   in.Actual.Latitude,
		ActualLon:                   in.Actual.Longitude,
		AccuracyMeters:              in.Accuracy,
		AccuracyAllowanceMultiplier: in.StatePolicy.AccuracyAllowanceMultiplier,
		StrictMode:                  in.StatePolicy.StrictMode,
		AccuracyCeiling:             in.StatePolicy.GPSAccuracyCeiling,
	})
	return outcome, nil
}

// RecordGeofenceObservation updates the client's calibration counters
// after a classification (spec.md §3): the observation count always
// increments, the success count increments on a non-violation outcome,
// the running average accuracy folds in the new GPS accuracy reading,
// and RadiusType is promoted from "default" to "calibrated" once the
// client clears CalibrationMinObservations with a success rate of at
// least CalibrationMinSuccessRate. A no-op when the Evaluator has no
// GeofenceRepository attached, or on a lookup/save error — calibration
// is a best-effort side channel that never blocks a clock event.
func (e *Evaluator) RecordGeofenceObservation(ctx context.Context, clientID models.ClientID, in GeofenceInput, outcome models.GeofenceOutcome) {
	if e.geofences == nil {
		return
	}
	g, err := e.geofences.Get(ctx, clientID)
	if err != nil {
		return
	}
	if g == nil {
		g = &models.Geofence{
			ClientID:   clientID,
			Center:     in.Address.Coordinates,
			Radius:     in.Address.Radius,
			Shape:      models.ShapeCircle,
			RadiusType: "default",
		}
	}

	g.ObservationCount++
	if outcome.Level != models.ComplianceLevelViolation {
		g.SuccessCount++
	}
	g.AverageAccuracy = ((g.AverageAccuracy * float64(g.ObservationCount-1)) + in.Accuracy) / float64(g.ObservationCount)

	if g.RadiusType == "default" &&
		g.ObservationCount >= CalibrationMinObservations &&
		float64(g.SuccessCount)/float64(g.ObservationCount) >= CalibrationMinSuccessRate {
		g.RadiusType = "calibrated"
		now := time.Now().Format(time.RFC3339)
		g.CalibratedAt = &now
	}

	_ = e.geofences.Save(ctx, g)
}

// AntiFraudInput bundles one verification plus the context needed to
// evaluate it against its predecessor on the same visit.
type AntiFraudInput struct {
	Current          *models.Verification
	Previous         *models.Verification // nil for the first check on a visit
	ServiceTypeCode  string
	AddressRegionLat float64
	AddressRegionLon float64
}

// RunAntiFraud implements spec.md §4.3.2: sets flags on the current
// Verification, never blocking the clock event. Returns the flags
// raised so the caller can attach them to the record's compliance set.
func (e *Evaluator) RunAntiFraud(in AntiFraudInput) []models.ComplianceFlag {
	var flags []models.ComplianceFlag
	v := in.Current

	// Mock-location detected -> DeviceSuspicious (teacher has no
	// direct analogue; this is a straight passthrough of a
	// device-reported signal).
	if v.MockLocationDetected {
		flags = append(flags, models.FlagDeviceSuspicious)
	}

	// Rooted/jailbroken device for high-trust service types ->
	// DeviceSuspicious.
	if (v.Device.Rooted || v.Device.Jailbroken) && e.highTrustCodes[in.ServiceTypeCode] {
		flags = append(flags, models.FlagDeviceSuspicious)
	}

	// VPN detected with a remote IP inconsistent with the coordinate
	// region -> LocationSuspicious. Adapted from teacher's
	// VPNCheckRule/DataCenterRule ASN blacklist check, combined with
	// an IP-region-vs-GPS haversine crosscheck (teacher's IPGPSRule).
	if e.vpnInconsistent(v) {
		flags = append(flags, models.FlagLocationSuspicious)
		v.VPNDetected = true
	}

	// Coordinate delta > 100 km/h apparent speed between consecutive
	// checks of the same visit -> SuspiciousPattern. Adapted from
	// teacher's VelocityRule (impossible-travel between logins),
	// rescaled from "between logins" to "between checks on one
	// visit" and from IP-geo coordinates to device GPS coordinates.
	if in.Previous != nil && e.apparentSpeedExceeded(in.Previous, v) {
		flags = append(flags, models.FlagSuspiciousPattern)
	}

	// Device fingerprint changed against the visit's own clock-in
	// fingerprint -> DeviceSuspicious. Adapted from teacher's
	// FingerprintRule (SHA256 of UserAgent+Language); here the hash
	// covers device id + model + OS + app version.
	if in.Previous != nil && in.Previous.Device.Hash() != v.Device.Hash() {
		flags = append(flags, models.FlagDeviceSuspicious)
	}

	for _, f := range flags {
		v.FailureReasons = append(v.FailureReasons, string(f))
	}
	return flags
}

func (e *Evaluator) vpnInconsistent(v *models.Verification) bool {
	if v.ReportedIP == "" || e.geoIP == nil {
		return false
	}
	asn, err := e.geoIP.ASN(v.ReportedIP)
	if err != nil {
		return false
	}
	if _, hosted := e.hostingASNs[asn]; !hosted {
		return false
	}
	region, err := e.geoIP.Lookup(v.ReportedIP)
	if err != nil {
		return false
	}
	// ASN blacklist membership alone (teacher's DataCenterRule) is
	// not sufficient on its own, since many legitimate office
	// networks sit behind cloud-hosted egress — require the IP's
	// region to also be implausibly far from the reported GPS fix
	// (teacher's IPGPSRule crosscheck).
	distance := geo.Haversine(region.Latitude, region.Longitude, v.Coordinates.Latitude, v.Coordinates.Longitude)
	return distance > 200_000
}

func (e *Evaluator) apparentSpeedExceeded(prev, cur *models.Verification) bool {
	duration := cur.DeviceTimestamp.Sub(prev.DeviceTimestamp).Hours()
	if duration <= 0 {
		return false
	}
	distanceKm := geo.Haversine(prev.Coordinates.Latitude, prev.Coordinates.Longitude, cur.Coordinates.Latitude, cur.Coordinates.Longitude) / 1000.0
	speed := distanceKm / duration
	return speed > MaxApparentSpeedKmh
}

// IntegrityInput is the canonical set of immutable fields spec.md
// §4.3.3 names: "visit id, caregiver id, client id, clock-in instant,
// clock-out instant, both verification payloads, all pause intervals,
// device ids".
type IntegrityInput struct {
	VisitID             string
	CaregiverID         string
	ClientID            string
	ClockInUnixNano     int64
	ClockOutUnixNano    int64
	ClockInVerification string // canonical string form, e.g. fmt.Sprintf of the struct
	ClockOutVerification string
	PauseIntervals      []string // "pausedAtNano-resumedAtNano" per pause
	DeviceIDs           []string
}

// canonical builds the deterministic byte sequence the hash and
// checksum are both computed over.
func (in IntegrityInput) canonical() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "visit=%s|caregiver=%s|client=%s|in=%d|out=%d|",
		in.VisitID, in.CaregiverID, in.ClientID, in.ClockInUnixNano, in.ClockOutUnixNano)
	b.WriteString("civ=")
	b.WriteString(in.ClockInVerification)
	b.WriteString("|cov=")
	b.WriteString(in.ClockOutVerification)
	b.WriteString("|pauses=")
	b.WriteString(strings.Join(in.PauseIntervals, ","))
	b.WriteString("|devices=")
	b.WriteString(strings.Join(in.DeviceIDs, ","))
	return []byte(b.String())
}

// IntegrityHash computes the SHA-256 hash spec.md §4.3.3 calls the
// "integrity hash", frozen onto the record at transition into
// Complete.
func IntegrityHash(in IntegrityInput) string {
	sum := sha256.Sum256(in.canonical())
	return hex.EncodeToString(sum[:])
}

// IntegrityChecksum computes the fast, shorter digest spec.md §4.3.3
// calls the "integrity checksum", using xxhash as the teacher's pack
// neighbors reach for when a cryptographic hash is overkill for cheap
// retrieval-time verification.
func IntegrityChecksum(in IntegrityInput) uint64 {
	return xxhash.Sum64(in.canonical())
}

// ChecksumBytes renders a checksum as its canonical 8-byte big-endian
// form, for storage columns that expect a fixed-width binary value.
func ChecksumBytes(sum uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, sum)
	return b
}

// VerifyIntegrity recomputes the hash/checksum over in and compares
// against the stored values, raising TamperDetected on mismatch per
// spec.md §4.3.3: "Any later read that does not reproduce the stored
// hash means tampering or database corruption."
func VerifyIntegrity(in IntegrityInput, storedHash string, storedChecksum uint64) error {
	if IntegrityHash(in) != storedHash {
		return errors.New(errors.KindTamperDetected, "integrity_hash_mismatch", "integrity hash mismatch")
	}
	if IntegrityChecksum(in) != storedChecksum {
		return errors.New(errors.KindTamperDetected, "integrity_checksum_mismatch", "integrity checksum mismatch")
	}
	return nil
}
