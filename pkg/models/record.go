package models

import "time"

// PauseEvent is one pause/resume interval within a visit (spec.md
// §3). Resumed is nil while the pause is still open.
type PauseEvent struct {
	PausedAt     time.Time
	ResumedAt    *time.Time
	Reason       string
	Verification Verification
	Unpaid       bool // counted against total duration when true
}

// ExceptionEvent describes an anomaly detected during a visit
// (spec.md §3).
type ExceptionEvent struct {
	When       time.Time
	Kind       string
	Severity   string // "info", "warning", "violation"
	Resolution string
	Description string
}

// Attestation is an optional caregiver/client sign-off on a visit
// (spec.md §3).
type Attestation struct {
	Method    string // "signature", "PIN", "biometric"
	Statement string
	At        time.Time
	By        string
}

// AggregatorState tracks a record's submission lifecycle as seen from
// the EVV record itself (the Aggregator Dispatcher owns a richer,
// separate state machine — see internal/aggregator).
type AggregatorState struct {
	SubmittedAt    *time.Time
	ApprovalStatus string
	ConfirmationID string
}

// Record is one EVV record, one per visit (spec.md §3).
type Record struct {
	RecordID   RecordID
	VisitID    VisitID
	Tenant     TenantID
	Branch     BranchID
	ClientID   ClientID
	Caregiver  CaregiverID

	StateCode       string // two-letter state code governing this visit's policy
	ServiceTypeCode string
	Address         ServiceAddress
	ServiceDate     string // YYYY-MM-DD

	// ProviderNPI is the caregiver/agency's National Provider Identifier
	// (spec.md GLOSSARY), required on most aggregator submissions unless
	// the state policy exempts it.
	ProviderNPI string

	ClockIn  *time.Time
	ClockOut *time.Time
	Pauses   []PauseEvent

	ClockInVerification  *Verification
	ClockOutVerification *Verification
	MidVisitChecks       []Verification

	Exceptions []ExceptionEvent

	Status            RecordStatus
	VerificationLevel VerificationLevel
	ComplianceFlags   map[ComplianceFlag]bool

	IntegrityHash     string
	IntegrityChecksum string

	Aggregator AggregatorState

	CaregiverAttestation *Attestation
	ClientAttestation    *Attestation

	StateData map[string]any // opaque per-state blob (e.g. TX attendant ID)

	// Amends points at the original record this one was forked from
	// by an approved VMUR (spec.md §3 Amendment lifecycle). Empty for
	// an original record.
	Amends RecordID

	Audit AuditMeta
}

// TotalDuration returns clock-out minus clock-in minus the sum of
// unpaid pause durations, or zero if the record hasn't clocked out.
// An unresolved pause (no ResumedAt) is treated as having resumed at
// clock-out, per spec.md §4.2.
func (r *Record) TotalDuration() time.Duration {
	if r.ClockIn == nil || r.ClockOut == nil {
		return 0
	}
	total := r.ClockOut.Sub(*r.ClockIn)
	for _, p := range r.Pauses {
		if !p.Unpaid {
			continue
		}
		end := r.ClockOut
		if p.ResumedAt != nil {
			end = p.ResumedAt
		}
		total -= end.Sub(p.PausedAt)
	}
	return total
}

// HasOpenPause reports whether any pause lacks a resume.
func (r *Record) HasOpenPause() bool {
	for _, p := range r.Pauses {
		if p.ResumedAt == nil {
			return true
		}
	}
	return false
}

// SetFlag adds a compliance flag to the record's flag set.
func (r *Record) SetFlag(f ComplianceFlag) {
	if r.ComplianceFlags == nil {
		r.ComplianceFlags = make(map[ComplianceFlag]bool)
	}
	r.ComplianceFlags[f] = true
}

// HasFlag reports whether a compliance flag is set.
func (r *Record) HasFlag(f ComplianceFlag) bool {
	return r.ComplianceFlags[f]
}
