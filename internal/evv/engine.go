// Package evv implements the EVV Record Engine (spec.md §4.2): the
// state machine that turns a stream of Time Entries into a single EVV
// Record.
//
// Grounded on the teacher's engine.GeoGuard: a struct holding
// constructor-injected dependencies (a geo service, a history store,
// a rule list) with one public entry point that fans out to
// sub-checks and returns an aggregated result. Here the "rule list"
// becomes "the one legal transition for the current status", and the
// history store becomes the Repository in internal/evv/store.
package evv

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/neighborhood-lab/care-commons-sub013/internal/config"
	"github.com/neighborhood-lab/care-commons-sub013/internal/errors"
	"github.com/neighborhood-lab/care-commons-sub013/internal/evv/store"
	"github.com/neighborhood-lab/care-commons-sub013/internal/telemetry"
	"github.com/neighborhood-lab/care-commons-sub013/internal/verification"
	"github.com/neighborhood-lab/care-commons-sub013/pkg/models"
)

// Engine owns the EVV Record state machine (spec.md §4.2).
type Engine struct {
	repo      store.Repository
	verifier  *verification.Evaluator
	policies  *config.PolicyTable
	metrics   *telemetry.Metrics

	// locks serializes transitions per record id (spec.md §4.2
	// "Concurrency contract"), grounded one level up on the teacher's
	// storage.MemoryStore RWMutex-guarded map pattern: here the map
	// holds locks, not values.
	locks sync.Map // models.RecordID -> *sync.Mutex
}

// New builds an Engine over a repository, a Verifier, and the
// hot-reloadable policy table. metrics may be nil (tests and
// cmd/evvdemo pass nil; cmd/evvserver passes the real bundle).
func New(repo store.Repository, verifier *verification.Evaluator, policies *config.PolicyTable, metrics *telemetry.Metrics) *Engine {
	return &Engine{repo: repo, verifier: verifier, policies: policies, metrics: metrics}
}

// recordVerification reports a geofence classification outcome to
// Prometheus (SPEC_FULL.md §4.6), a no-op when no metrics bundle was
// supplied.
func (e *Engine) recordVerification(outcome models.GeofenceOutcome) {
	if e.metrics != nil {
		e.metrics.RecordVerification(string(outcome.Level))
	}
}

func (e *Engine) lockFor(id models.RecordID) *sync.Mutex {
	actual, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// LookupOpenByVisit returns the open (Pending) record for a visit, or
// nil if none exists yet — callers (the Sync Reconciler dispatching a
// Pause/Resume/ClockOut/CheckIn entry) use this to resolve a visit id
// to the record id the rest of the Engine's API keys on.
func (e *Engine) LookupOpenByVisit(ctx context.Context, visitID models.VisitID) (*models.Record, error) {
	record, err := e.repo.GetOpenByVisit(ctx, visitID)
	if err != nil {
		if errors.Is(err, errors.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

// DeterministicRecordID derives the record id from tenant + visit +
// service date so a retried ClockIn collapses onto the same record
// instead of creating a duplicate (spec.md §4.2: "assigns a
// deterministic id so retries collapse").
func DeterministicRecordID(tenant models.TenantID, visit models.VisitID, serviceDate string) models.RecordID {
	sum := xxhash.Sum64String(string(tenant) + "|" + string(visit) + "|" + serviceDate)
	return models.RecordID(formatHex(sum))
}

func formatHex(v uint64) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[v&0xf]
		v >>= 4
	}
	return string(buf)
}

// ClockInInput is the input to ClockIn.
type ClockInInput struct {
	Tenant          models.TenantID
	Branch          models.BranchID
	ClientID        models.ClientID
	Caregiver       models.CaregiverID
	VisitID         models.VisitID
	StateCode       string
	ServiceTypeCode string
	Address         models.ServiceAddress
	ServiceDate     string
	At              time.Time
	Verification    models.Verification
	ActorID         string
}

// ClockIn implements spec.md §4.2's ClockIn transition: valid only
// from ∅ (no existing record for this visit), produces a Pending
// record, evaluates the geofence, and writes initial compliance
// flags. Calling it twice with the same tenant/visit/serviceDate is
// safe — the deterministic id makes the second call idempotent.
func (e *Engine) ClockIn(ctx context.Context, in ClockInInput) (*models.Record, error) {
	id := DeterministicRecordID(in.Tenant, in.VisitID, in.ServiceDate)
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	existing, err := e.repo.Get(ctx, id)
	if err != nil && !errors.Is(err, errors.KindNotFound) {
		return nil, err
	}
	if existing != nil {
		return existing, nil // idempotent retry
	}

	statePolicy, ok := e.policies.Get(in.StateCode)
	if !ok {
		return nil, errors.New(errors.KindInputValidation, "unknown_state", "no policy for state").WithField("state", in.StateCode)
	}

	v := in.Verification
	geofenceInput := verification.GeofenceInput{
		Address:     in.Address,
		Actual:      v.Coordinates,
		Accuracy:    v.Accuracy,
		StatePolicy: statePolicy,
	}
	outcome, err := e.verifier.ClassifyGeofence(geofenceInput)
	if err != nil {
		return nil, err
	}
	v.Geofence = outcome
	v.Passed = outcome.Level != models.ComplianceLevelViolation
	e.verifier.RecordGeofenceObservation(ctx, in.ClientID, geofenceInput, outcome)
	e.recordVerification(outcome)

	fraudFlags := e.verifier.RunAntiFraud(verification.AntiFraudInput{
		Current:         &v,
		ServiceTypeCode: in.ServiceTypeCode,
	})

	record := &models.Record{
		RecordID:             id,
		VisitID:              in.VisitID,
		Tenant:               in.Tenant,
		Branch:               in.Branch,
		ClientID:             in.ClientID,
		Caregiver:            in.Caregiver,
		StateCode:            in.StateCode,
		ServiceTypeCode:      in.ServiceTypeCode,
		Address:              in.Address,
		ServiceDate:          in.ServiceDate,
		ClockIn:              timePtr(in.At),
		ClockInVerification:  &v,
		Status:               models.StatusPending,
		VerificationLevel:    models.LevelFull,
		ComplianceFlags:      make(map[models.ComplianceFlag]bool),
		Audit: models.AuditMeta{
			CreatedAt: in.At.Format(time.RFC3339),
			CreatedBy: in.ActorID,
			UpdatedAt: in.At.Format(time.RFC3339),
			UpdatedBy: in.ActorID,
		},
	}
	applyGeofenceFlags(record, outcome)
	for _, f := range fraudFlags {
		record.SetFlag(f)
		record.VerificationLevel = models.LevelPartial
	}
	if len(fraudFlags) > 0 || outcome.Level != models.ComplianceLevelCompliant {
		record.Exceptions = append(record.Exceptions, exceptionFor(in.At, "ClockIn", outcome, fraudFlags))
	}

	if err := e.repo.Save(ctx, record, 0); err != nil {
		return nil, err
	}
	return record, nil
}

// PauseInput is the input to Pause.
type PauseInput struct {
	RecordID     models.RecordID
	At           time.Time
	Reason       string
	Verification models.Verification
	ActorID      string
}

// Pause implements spec.md §4.2's Pause transition: only valid from
// Pending with no currently open pause (pauses must alternate).
func (e *Engine) Pause(ctx context.Context, in PauseInput) (*models.Record, error) {
	lock := e.lockFor(in.RecordID)
	lock.Lock()
	defer lock.Unlock()

	record, err := e.repo.Get(ctx, in.RecordID)
	if err != nil {
		return nil, err
	}
	if record.Status != models.StatusPending {
		return nil, errors.New(errors.KindInvalidTransition, "not_pending", "Pause is only valid from Pending").WithField("status", string(record.Status))
	}
	if record.HasOpenPause() {
		return nil, errors.New(errors.KindInvalidTransition, "pause_already_open", "no two Pauses in a row")
	}
	if record.ClockIn == nil || in.At.Before(*record.ClockIn) {
		return nil, errors.New(errors.KindInputValidation, "pause_before_clock_in", "pause time precedes ClockIn")
	}
	if record.ClockOut != nil && in.At.After(*record.ClockOut) {
		return nil, errors.New(errors.KindInputValidation, "pause_after_clock_out", "pause time follows ClockOut")
	}

	record.Pauses = append(record.Pauses, models.PauseEvent{
		PausedAt:     in.At,
		Reason:       in.Reason,
		Verification: in.Verification,
		Unpaid:       true,
	})
	record.Audit.UpdatedAt = in.At.Format(time.RFC3339)
	record.Audit.UpdatedBy = in.ActorID

	if err := e.repo.Save(ctx, record, record.Audit.Version); err != nil {
		return nil, err
	}
	return record, nil
}

// ResumeInput is the input to Resume.
type ResumeInput struct {
	RecordID models.RecordID
	At       time.Time
	ActorID  string
}

// Resume implements spec.md §4.2's Resume transition: only valid from
// Pending with an open pause; duration must be positive.
func (e *Engine) Resume(ctx context.Context, in ResumeInput) (*models.Record, error) {
	lock := e.lockFor(in.RecordID)
	lock.Lock()
	defer lock.Unlock()

	record, err := e.repo.Get(ctx, in.RecordID)
	if err != nil {
		return nil, err
	}
	if record.Status != models.StatusPending {
		return nil, errors.New(errors.KindInvalidTransition, "not_pending", "Resume is only valid from Pending").WithField("status", string(record.Status))
	}
	if !record.HasOpenPause() {
		return nil, errors.New(errors.KindInvalidTransition, "no_open_pause", "no open pause to resume")
	}

	idx := -1
	for i := range record.Pauses {
		if record.Pauses[i].ResumedAt == nil {
			idx = i
			break
		}
	}
	if !in.At.After(record.Pauses[idx].PausedAt) {
		return nil, errors.New(errors.KindInputValidation, "non_positive_pause_duration", "pause duration must be positive")
	}

	record.Pauses[idx].ResumedAt = timePtr(in.At)
	record.Audit.UpdatedAt = in.At.Format(time.RFC3339)
	record.Audit.UpdatedBy = in.ActorID

	if err := e.repo.Save(ctx, record, record.Audit.Version); err != nil {
		return nil, err
	}
	return record, nil
}

// ClockOutInput is the input to ClockOut.
type ClockOutInput struct {
	RecordID     models.RecordID
	At           time.Time
	Verification models.Verification
	ActorID      string
}

// ClockOut implements spec.md §4.2's ClockOut transition: valid only
// from Pending with no open pause. Computes total duration, re-runs
// verification, transitions to Complete, and freezes the integrity
// hash/checksum (spec.md §4.3.3).
func (e *Engine) ClockOut(ctx context.Context, in ClockOutInput) (*models.Record, error) {
	lock := e.lockFor(in.RecordID)
	lock.Lock()
	defer lock.Unlock()

	record, err := e.repo.Get(ctx, in.RecordID)
	if err != nil {
		return nil, err
	}
	if record.Status != models.StatusPending {
		return nil, errors.New(errors.KindInvalidTransition, "not_pending", "ClockOut is only valid from Pending").WithField("status", string(record.Status))
	}
	if record.HasOpenPause() {
		return nil, errors.New(errors.KindInvalidTransition, "open_pause", "ClockOut is not valid with an open pause")
	}
	if record.ClockIn != nil && !in.At.After(*record.ClockIn) {
		return nil, errors.New(errors.KindInputValidation, "clockout_before_clockin", "clock-out must be after clock-in")
	}

	statePolicy, ok := e.policies.Get(record.StateCode)
	if !ok {
		return nil, errors.New(errors.KindInputValidation, "unknown_state", "no policy for state").WithField("state", record.StateCode)
	}

	v := in.Verification
	geofenceInput := verification.GeofenceInput{
		Address:     record.Address,
		Actual:      v.Coordinates,
		Accuracy:    v.Accuracy,
		StatePolicy: statePolicy,
	}
	outcome, err := e.verifier.ClassifyGeofence(geofenceInput)
	if err != nil {
		return nil, err
	}
	v.Geofence = outcome
	v.Passed = outcome.Level != models.ComplianceLevelViolation
	e.verifier.RecordGeofenceObservation(ctx, record.ClientID, geofenceInput, outcome)
	e.recordVerification(outcome)

	var previous *models.Verification
	if record.ClockInVerification != nil {
		previous = record.ClockInVerification
	}
	fraudFlags := e.verifier.RunAntiFraud(verification.AntiFraudInput{
		Current:         &v,
		Previous:        previous,
		ServiceTypeCode: record.ServiceTypeCode,
	})

	record.ClockOut = timePtr(in.At)
	record.ClockOutVerification = &v
	applyGeofenceFlags(record, outcome)
	for _, f := range fraudFlags {
		record.SetFlag(f)
		record.VerificationLevel = models.LevelPartial
	}
	if len(fraudFlags) > 0 || outcome.Level != models.ComplianceLevelCompliant {
		record.Exceptions = append(record.Exceptions, exceptionFor(in.At, "ClockOut", outcome, fraudFlags))
	}

	record.Status = models.StatusComplete
	record.IntegrityHash, record.IntegrityChecksum = freezeIntegrity(record)
	record.Audit.UpdatedAt = in.At.Format(time.RFC3339)
	record.Audit.UpdatedBy = in.ActorID

	if err := e.repo.Save(ctx, record, record.Audit.Version); err != nil {
		return nil, err
	}
	return record, nil
}

// Submit implements spec.md §4.2's Submit transition: valid only from
// Complete. It only marks the transfer handoff to the Aggregator
// Dispatcher (internal/aggregator) and stamps the submission
// timestamp; the dispatcher itself interprets aggregator responses
// and drives its own submission-state machine.
func (e *Engine) Submit(ctx context.Context, id models.RecordID, at time.Time, actorID string) (*models.Record, error) {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	record, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status != models.StatusComplete {
		return nil, errors.New(errors.KindInvalidTransition, "not_complete", "Submit is only valid from Complete").WithField("status", string(record.Status))
	}
	if err := verifyStoredIntegrity(record); err != nil {
		record.SetFlag(models.FlagTamperDetected)
		if saveErr := e.repo.Save(ctx, record, record.Audit.Version); saveErr != nil {
			return nil, saveErr
		}
		return nil, err
	}

	record.Status = models.StatusSubmitted
	record.Aggregator.SubmittedAt = timePtr(at)
	record.Audit.UpdatedAt = at.Format(time.RFC3339)
	record.Audit.UpdatedBy = actorID

	if err := e.repo.Save(ctx, record, record.Audit.Version); err != nil {
		return nil, err
	}
	return record, nil
}

// CheckInInput is the input to CheckIn, a mid-visit location check
// that does not move the record's status — it only appends to
// MidVisitChecks and accumulates any compliance flags it raises.
type CheckInInput struct {
	RecordID     models.RecordID
	At           time.Time
	Verification models.Verification
	ActorID      string
}

// CheckIn implements the mid-visit "CheckIn" entry kind named in
// spec.md §3's Time Entry definition: valid only from Pending, runs
// the geofence and anti-fraud checks against the open record's most
// recent verification, and appends the result without otherwise
// transitioning the record.
func (e *Engine) CheckIn(ctx context.Context, in CheckInInput) (*models.Record, error) {
	lock := e.lockFor(in.RecordID)
	lock.Lock()
	defer lock.Unlock()

	record, err := e.repo.Get(ctx, in.RecordID)
	if err != nil {
		return nil, err
	}
	if record.Status != models.StatusPending {
		return nil, errors.New(errors.KindInvalidTransition, "not_pending", "CheckIn is only valid from Pending").WithField("status", string(record.Status))
	}

	statePolicy, ok := e.policies.Get(record.StateCode)
	if !ok {
		return nil, errors.New(errors.KindInputValidation, "unknown_state", "no policy for state").WithField("state", record.StateCode)
	}

	v := in.Verification
	geofenceInput := verification.GeofenceInput{
		Address:     record.Address,
		Actual:      v.Coordinates,
		Accuracy:    v.Accuracy,
		StatePolicy: statePolicy,
	}
	outcome, err := e.verifier.ClassifyGeofence(geofenceInput)
	if err != nil {
		return nil, err
	}
	v.Geofence = outcome
	v.Passed = outcome.Level != models.ComplianceLevelViolation
	e.verifier.RecordGeofenceObservation(ctx, record.ClientID, geofenceInput, outcome)
	e.recordVerification(outcome)

	previous := mostRecentVerification(record)
	fraudFlags := e.verifier.RunAntiFraud(verification.AntiFraudInput{
		Current:         &v,
		Previous:        previous,
		ServiceTypeCode: record.ServiceTypeCode,
	})

	record.MidVisitChecks = append(record.MidVisitChecks, v)
	applyGeofenceFlags(record, outcome)
	for _, f := range fraudFlags {
		record.SetFlag(f)
		record.VerificationLevel = models.LevelPartial
	}
	record.Audit.UpdatedAt = in.At.Format(time.RFC3339)
	record.Audit.UpdatedBy = in.ActorID

	if err := e.repo.Save(ctx, record, record.Audit.Version); err != nil {
		return nil, err
	}
	return record, nil
}

func mostRecentVerification(record *models.Record) *models.Verification {
	if n := len(record.MidVisitChecks); n > 0 {
		return &record.MidVisitChecks[n-1]
	}
	return record.ClockInVerification
}

// Acknowledge implements spec.md §4.2's Approved/Rejected/Disputed
// terminal transitions, driven by the Aggregator Dispatcher's
// interpretation of the aggregator's response.
func (e *Engine) Acknowledge(ctx context.Context, id models.RecordID, status models.RecordStatus, confirmationID string, at time.Time, actorID string) (*models.Record, error) {
	if status != models.StatusApproved && status != models.StatusRejected && status != models.StatusDisputed {
		return nil, errors.New(errors.KindInputValidation, "invalid_ack_status", "Acknowledge must target Approved, Rejected, or Disputed")
	}

	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	record, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status != models.StatusSubmitted {
		return nil, errors.New(errors.KindInvalidTransition, "not_submitted", "Acknowledge is only valid from Submitted").WithField("status", string(record.Status))
	}

	record.Status = status
	record.Aggregator.ApprovalStatus = string(status)
	record.Aggregator.ConfirmationID = confirmationID
	record.Audit.UpdatedAt = at.Format(time.RFC3339)
	record.Audit.UpdatedBy = actorID

	if err := e.repo.Save(ctx, record, record.Audit.Version); err != nil {
		return nil, err
	}
	return record, nil
}

// AmendInput is the input to Amend — step 2 of spec.md §4.2's
// amendment process (step 1, VMUR approval, lives in internal/vmur).
type AmendInput struct {
	OriginalID    models.RecordID
	CorrectedData map[string]any
	At            time.Time
	ActorID       string
}

// Amend forks a new Complete record carrying the original's id as its
// Amends pointer, transitions the original to Amended, and computes a
// fresh integrity hash for the new record (spec.md §4.2 "Amendment").
func (e *Engine) Amend(ctx context.Context, in AmendInput) (*models.Record, error) {
	lock := e.lockFor(in.OriginalID)
	lock.Lock()
	defer lock.Unlock()

	original, err := e.repo.Get(ctx, in.OriginalID)
	if err != nil {
		return nil, err
	}
	if original.Status != models.StatusComplete && original.Status != models.StatusSubmitted && original.Status != models.StatusApproved && original.Status != models.StatusRejected {
		return nil, errors.New(errors.KindLocked, "not_amendable", "only a locked record may be amended").WithField("status", string(original.Status))
	}

	forked := *original
	forked.RecordID = models.RecordID(string(original.RecordID) + "-amend-" + formatHex(xxhash.Sum64String(in.At.String())))
	forked.Amends = original.RecordID
	forked.Status = models.StatusComplete
	if forked.StateData == nil {
		forked.StateData = make(map[string]any, len(in.CorrectedData))
	}
	for k, v := range in.CorrectedData {
		forked.StateData[k] = v
	}
	forked.Aggregator = models.AggregatorState{}
	forked.IntegrityHash, forked.IntegrityChecksum = freezeIntegrity(&forked)
	forked.Audit = models.AuditMeta{CreatedAt: in.At.Format(time.RFC3339), CreatedBy: in.ActorID, UpdatedAt: in.At.Format(time.RFC3339), UpdatedBy: in.ActorID}

	original.Status = models.StatusAmended
	original.Audit.UpdatedAt = in.At.Format(time.RFC3339)
	original.Audit.UpdatedBy = in.ActorID

	if err := e.repo.Save(ctx, original, original.Audit.Version); err != nil {
		return nil, err
	}
	if err := e.repo.Save(ctx, &forked, 0); err != nil {
		return nil, err
	}
	return &forked, nil
}

func applyGeofenceFlags(record *models.Record, outcome models.GeofenceOutcome) {
	switch outcome.Level {
	case models.ComplianceLevelWarning:
		record.SetFlag(models.FlagGeofenceVariance)
		if record.VerificationLevel == models.LevelFull {
			record.VerificationLevel = models.LevelPartial
		}
	case models.ComplianceLevelViolation:
		if outcome.FailureReason == "GpsAccuracyExceeded" {
			record.SetFlag(models.FlagGpsAccuracyExceeded)
		} else {
			record.SetFlag(models.FlagGeofenceViolation)
		}
		record.VerificationLevel = models.LevelPartial
	}
}

func exceptionFor(at time.Time, kind string, outcome models.GeofenceOutcome, fraudFlags []models.ComplianceFlag) models.ExceptionEvent {
	severity := "info"
	description := "geofence " + string(outcome.Level)
	if outcome.Level == models.ComplianceLevelViolation {
		severity = "violation"
		description = outcome.FailureReason
	} else if outcome.Level == models.ComplianceLevelWarning {
		severity = "warning"
	}
	if len(fraudFlags) > 0 {
		severity = "warning"
	}
	return models.ExceptionEvent{
		When:        at,
		Kind:        kind,
		Severity:    severity,
		Description: description,
	}
}

func freezeIntegrity(record *models.Record) (hash string, checksum string) {
	in := integrityInputFor(record)
	return verification.IntegrityHash(in), formatHex(verification.IntegrityChecksum(in))
}

func verifyStoredIntegrity(record *models.Record) error {
	in := integrityInputFor(record)
	checksum, err := parseHex(record.IntegrityChecksum)
	if err != nil {
		return errors.New(errors.KindTamperDetected, "unreadable_checksum", "stored checksum is unreadable")
	}
	return verification.VerifyIntegrity(in, record.IntegrityHash, checksum)
}

func integrityInputFor(record *models.Record) verification.IntegrityInput {
	var clockIn, clockOut int64
	if record.ClockIn != nil {
		clockIn = record.ClockIn.UnixNano()
	}
	if record.ClockOut != nil {
		clockOut = record.ClockOut.UnixNano()
	}
	var pauseIntervals []string
	for _, p := range record.Pauses {
		end := int64(0)
		if p.ResumedAt != nil {
			end = p.ResumedAt.UnixNano()
		}
		pauseIntervals = append(pauseIntervals, formatHex(uint64(p.PausedAt.UnixNano()))+"-"+formatHex(uint64(end)))
	}
	var deviceIDs []string
	if record.ClockInVerification != nil {
		deviceIDs = append(deviceIDs, string(record.ClockInVerification.Device.DeviceID))
	}
	if record.ClockOutVerification != nil {
		deviceIDs = append(deviceIDs, string(record.ClockOutVerification.Device.DeviceID))
	}
	return verification.IntegrityInput{
		VisitID:              string(record.VisitID),
		CaregiverID:          string(record.Caregiver),
		ClientID:             string(record.ClientID),
		ClockInUnixNano:      clockIn,
		ClockOutUnixNano:     clockOut,
		ClockInVerification:  verificationCanonical(record.ClockInVerification),
		ClockOutVerification: verificationCanonical(record.ClockOutVerification),
		PauseIntervals:       pauseIntervals,
		DeviceIDs:            deviceIDs,
	}
}

func verificationCanonical(v *models.Verification) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.8f,%.8f,%.2f,%d,%s,%s,%t",
		v.Coordinates.Latitude, v.Coordinates.Longitude, v.Accuracy,
		v.DeviceTimestamp.UnixNano(), v.Method, v.Device.Hash(), v.Passed)
}

func timePtr(t time.Time) *time.Time { return &t }

func parseHex(s string) (uint64, error) {
	var v uint64
	for i := 0; i < len(s); i++ {
		c := s[i]
		var d uint64
		switch {
		case c >= '0' && c <= '9':
			d = uint64(c - '0')
		case c >= 'a' && c <= 'f':
			d = uint64(c-'a') + 10
		default:
			return 0, errors.New(errors.KindInputValidation, "bad_hex", "invalid hex digit")
		}
		v = v<<4 | d
	}
	return v, nil
}
