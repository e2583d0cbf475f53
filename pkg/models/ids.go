// Package models defines the shared EVV data vocabulary: the record,
// verification, time entry, geofence, and policy types that the
// Sync Reconciler, EVV Record Engine, Verifier, Aggregator Dispatcher,
// and VMUR workflow all pass between each other.
package models

// TenantID identifies the owning home-care organization.
type TenantID string

// BranchID identifies a tenant's operating branch/location.
type BranchID string

// ClientID identifies the care recipient.
type ClientID string

// CaregiverID identifies the worker performing the visit.
type CaregiverID string

// VisitID identifies the scheduled visit a record is derived from.
type VisitID string

// RecordID identifies one EVV record. It is deterministic (derived
// from tenant id + visit id + service date), not random, so that a
// retried ClockIn collapses onto the same record instead of creating a
// duplicate.
type RecordID string

// DeviceID identifies the mobile device that captured a Time Entry.
type DeviceID string

// AuditMeta captures the created/updated provenance columns every
// persisted table in spec.md §6 carries.
type AuditMeta struct {
	CreatedAt string // RFC 3339 UTC
	CreatedBy string
	UpdatedAt string
	UpdatedBy string
	Version   int
}
