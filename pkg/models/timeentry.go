package models

import "time"

// DeviceInfo is the mobile device metadata attached to a Time Entry,
// distinct from the richer DeviceFingerprint carried on a
// Verification (spec.md §3).
type DeviceInfo struct {
	DeviceID   DeviceID
	Model      string
	OSVersion  string
	AppVersion string
}

// SyncMeta carries the offline-sync bookkeeping for a Time Entry
// (spec.md §4.1).
type SyncMeta struct {
	ClientTimestamp time.Time
	SequenceInBatch int
	IdempotencyKey  string // deviceId + entityId + clientTimestamp + operation + payload hash
}

// Entry is an atomic clock event captured by the mobile device and
// pushed through the sync path (spec.md §3).
type Entry struct {
	VisitID VisitID
	Kind    EntryKind

	DeviceReportedAt time.Time
	Verification     Verification
	Device           DeviceInfo

	OfflineCapture bool
	IntegrityHash  string

	ServerReceivedAt time.Time
	Sync             SyncMeta
}
