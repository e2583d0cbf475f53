package models

import "time"

// VMUR is a Texas Visit Maintenance Unlock Request: an amendment
// request against a locked EVV record (spec.md §3, §4.5).
type VMUR struct {
	VMURID   string
	RecordID RecordID
	VisitID  VisitID

	OriginalSnapshot map[string]any
	CorrectedData    map[string]any
	ChangeSummary    string

	ReasonCode    string
	Justification string

	Requester string

	Status VMURStatus

	Approver        string
	ApprovalTime    *time.Time
	ApprovalNotes   string
	DenialReason    string

	CreatedAt  time.Time
	ExpiresAt  time.Time

	SubmittedToAggregator bool

	Audit AuditMeta
}

// IsExpired reports whether now is strictly after the VMUR's
// expiration instant (spec.md §8: "expired at second 30·86400 + 1",
// i.e. expiration itself is still valid, the next instant is not).
func (v *VMUR) IsExpired(now time.Time) bool {
	return now.After(v.ExpiresAt)
}
