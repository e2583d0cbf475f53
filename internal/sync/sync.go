// Package sync implements the Sync Reconciler (spec.md §4.1): accepts
// batches of Time Entries produced offline by a mobile device, applies
// them deterministically, and reports per-entry outcomes.
//
// Grounded on the teacher's engine.GeoGuard.Validate: one entry point
// that fans out over a list (there, rules; here, pushed changes) and
// aggregates per-item outcomes into a single result, plus
// storage.MemoryStore's RWMutex-guarded map for the idempotency
// ledger.
package sync

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/neighborhood-lab/care-commons-sub013/internal/errors"
	"github.com/neighborhood-lab/care-commons-sub013/internal/evv"
	"github.com/neighborhood-lab/care-commons-sub013/internal/timeentry"
	"github.com/neighborhood-lab/care-commons-sub013/pkg/models"
)

// MaxChangesPerPush caps one push batch; callers must split larger
// batches rather than relying on the server to truncate silently.
const MaxChangesPerPush = 500

// ChangeSource supplies the records a pull should return: visits,
// tasks, and client data changed since a cursor, scoped to one
// caregiver. The Sync Reconciler does not own this data; it is a
// read-through to whatever owns scheduling.
type ChangeSource interface {
	ChangesSince(ctx context.Context, caregiverID models.CaregiverID, lastPulledAt time.Time, limit int) (PullPage, error)
}

// PullPage is one page of the mobile pull response (spec.md §6).
type PullPage struct {
	Visits          []any
	Tasks           []any
	Clients         []any
	HasMore         bool
	ServerTimestamp time.Time
}

// TimeEntryPayload is the parsed form of a pushed Time Entry change's
// opaque payload.
type TimeEntryPayload struct {
	Kind            models.EntryKind
	Tenant          models.TenantID
	Branch          models.BranchID
	ClientID        models.ClientID
	Caregiver       models.CaregiverID
	StateCode       string
	ServiceTypeCode string
	Address         models.ServiceAddress
	ServiceDate     string
	Reason          string // Pause only
	Verification    models.Verification
}

// Change is one pushed mutation (spec.md §4.1 "push").
type Change struct {
	EntityType      string // "TimeEntry"
	EntityID        models.VisitID
	Operation       string // "Create" or "Update"
	ClientTimestamp time.Time
	SequenceInBatch int
	Payload         TimeEntryPayload
}

func (c Change) idempotencyKey(deviceID models.DeviceID) uint64 {
	payload, _ := json.Marshal(c.Payload)
	return xxhash.Sum64String(string(deviceID) + "|" + string(c.EntityID) + "|" +
		c.ClientTimestamp.String() + "|" + c.Operation + "|" + strconv.FormatUint(xxhash.Sum64(payload), 16))
}

// ChangeResult is the per-entry outcome spec.md §6 returns in `results`.
type ChangeResult struct {
	Success    bool
	EntityType string
	EntityID   models.VisitID
	Error      string
	Conflict   bool
}

// PushResult is the full response to one push (spec.md §4.1/§6).
type PushResult struct {
	Results      []ChangeResult
	SyncedCount  int
	FailedCount  int
	Timestamp    time.Time
}

// Reconciler applies pushed Time Entry changes to the EVV Record
// Engine and serves pull reads.
type Reconciler struct {
	engine *evv.Engine
	source ChangeSource

	// seen is the idempotency ledger: deviceId+entityId+clientTimestamp
	// +operation+payload hash -> applied. Grounded on the teacher's
	// storage.MemoryStore RWMutex-guarded map.
	mu   sync.RWMutex
	seen map[uint64]ChangeResult
}

// NewReconciler builds a Reconciler over an EVV Engine and an
// optional ChangeSource (nil disables pull).
func NewReconciler(engine *evv.Engine, source ChangeSource) *Reconciler {
	return &Reconciler{engine: engine, source: source, seen: make(map[uint64]ChangeResult)}
}

// Pull implements spec.md §4.1's `pull`: read-only, returns entries
// newer than the cursor for this caregiver.
func (r *Reconciler) Pull(ctx context.Context, caregiverID models.CaregiverID, lastPulledAt time.Time) (PullPage, error) {
	if r.source == nil {
		return PullPage{ServerTimestamp: lastPulledAt}, nil
	}
	return r.source.ChangesSince(ctx, caregiverID, lastPulledAt, 500)
}

// Push implements spec.md §4.1's `push`: sorts the batch by
// client-timestamp (ties broken by sequence), then applies each
// change in order. A repeated change is not applied again; it reports
// the result its first application produced.
// Per-entry validation and conflict failures are reported in the
// failed list without aborting the rest of the batch (spec.md §4.1
// "Failure semantics"); only an oversized batch fails the whole push.
func (r *Reconciler) Push(ctx context.Context, deviceID models.DeviceID, changes []Change) (PushResult, error) {
	if len(changes) > MaxChangesPerPush {
		return PushResult{}, errors.New(errors.KindInputValidation, "batch_too_large", "push batch exceeds maximum size").
			WithField("max", itoa(MaxChangesPerPush)).WithField("got", itoa(len(changes)))
	}

	ordered := make([]Change, len(changes))
	copy(ordered, changes)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].ClientTimestamp.Equal(ordered[j].ClientTimestamp) {
			return ordered[i].ClientTimestamp.Before(ordered[j].ClientTimestamp)
		}
		return ordered[i].SequenceInBatch < ordered[j].SequenceInBatch
	})

	preErrs := validateBatch(ctx, ordered)

	results := make([]ChangeResult, len(ordered))
	for i, change := range ordered {
		if preErrs[i] != nil {
			results[i] = ChangeResult{EntityType: change.EntityType, EntityID: change.EntityID, Error: preErrs[i].Error()}
			continue
		}
		results[i] = r.applyOne(ctx, deviceID, change)
	}

	synced, failed := 0, 0
	for _, res := range results {
		if res.Success {
			synced++
		} else {
			failed++
		}
	}
	return PushResult{Results: results, SyncedCount: synced, FailedCount: failed, Timestamp: time.Now()}, nil
}

// validateBatch runs a bounded-concurrency pre-check over a batch
// before the serial apply phase (enrichment over spec.md's minimum:
// catches malformed entries early so the serial phase only does
// state-machine work). Grounded on nomad/kubernaut's golang.org/x/sync
// dependency, applied here to errgroup instead of singleflight.
func validateBatch(ctx context.Context, changes []Change) []error {
	errs := make([]error, len(changes))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, change := range changes {
		i, change := i, change
		g.Go(func() error {
			if change.EntityType != "TimeEntry" {
				errs[i] = errors.New(errors.KindInputValidation, "unknown_entity_type", "unsupported entity type").WithField("entityType", change.EntityType)
				return nil
			}
			if change.EntityID == "" {
				errs[i] = errors.New(errors.KindInputValidation, "missing_entity_id", "entity id is required")
				return nil
			}
			// Only the ClockIn kind carries the full tenant/client/caregiver
			// identification a fresh Time Entry needs; later entries in the
			// same visit (Pause/Resume/ClockOut/CheckIn) only carry a
			// Verification against an already-open record.
			if change.Payload.Kind == models.EntryClockIn {
				p := change.Payload
				if err := timeentry.Validate(timeentry.Submission{
					Kind: p.Kind, Tenant: string(p.Tenant), Branch: string(p.Branch), ClientID: string(p.ClientID),
					Caregiver: string(p.Caregiver), StateCode: p.StateCode, ServiceTypeCode: p.ServiceTypeCode,
					Latitude: p.Address.Coordinates.Latitude, Longitude: p.Address.Coordinates.Longitude,
					Accuracy: p.Verification.Accuracy, ServiceDate: p.ServiceDate,
				}); err != nil {
					errs[i] = err
					return nil
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func (r *Reconciler) applyOne(ctx context.Context, deviceID models.DeviceID, change Change) ChangeResult {
	key := change.idempotencyKey(deviceID)

	r.mu.RLock()
	prior, already := r.seen[key]
	r.mu.RUnlock()
	if already {
		return prior
	}

	result := r.apply(ctx, change)

	r.mu.Lock()
	r.seen[key] = result
	r.mu.Unlock()
	return result
}

func (r *Reconciler) apply(ctx context.Context, change Change) ChangeResult {
	base := ChangeResult{EntityType: change.EntityType, EntityID: change.EntityID}
	if change.EntityType != "TimeEntry" {
		base.Error = "unsupported entity type"
		return base
	}

	p := change.Payload
	// The server-received instant, not the client timestamp, is
	// authoritative for geofence/grace-period policy (spec.md §4.1
	// "Clock-drift tolerance").
	serverAt := time.Now()

	var err error
	switch p.Kind {
	case models.EntryClockIn:
		_, err = r.engine.ClockIn(ctx, evv.ClockInInput{
			Tenant: p.Tenant, Branch: p.Branch, ClientID: p.ClientID, Caregiver: p.Caregiver,
			VisitID: change.EntityID, StateCode: p.StateCode, ServiceTypeCode: p.ServiceTypeCode,
			Address: p.Address, ServiceDate: p.ServiceDate, At: serverAt, Verification: p.Verification,
			ActorID: string(p.Caregiver),
		})
	case models.EntryPause:
		rec, getErr := r.openRecordForVisit(ctx, change.EntityID)
		if getErr != nil {
			err = getErr
			break
		}
		_, err = r.engine.Pause(ctx, evv.PauseInput{RecordID: rec.RecordID, At: serverAt, Reason: p.Reason, Verification: p.Verification, ActorID: string(p.Caregiver)})
	case models.EntryResume:
		rec, getErr := r.openRecordForVisit(ctx, change.EntityID)
		if getErr != nil {
			err = getErr
			break
		}
		_, err = r.engine.Resume(ctx, evv.ResumeInput{RecordID: rec.RecordID, At: serverAt, ActorID: string(p.Caregiver)})
	case models.EntryClockOut:
		rec, getErr := r.openRecordForVisit(ctx, change.EntityID)
		if getErr != nil {
			err = getErr
			break
		}
		_, err = r.engine.ClockOut(ctx, evv.ClockOutInput{RecordID: rec.RecordID, At: serverAt, Verification: p.Verification, ActorID: string(p.Caregiver)})
	case models.EntryCheckIn:
		rec, getErr := r.openRecordForVisit(ctx, change.EntityID)
		if getErr != nil {
			err = getErr
			break
		}
		_, err = r.engine.CheckIn(ctx, evv.CheckInInput{RecordID: rec.RecordID, At: serverAt, Verification: p.Verification, ActorID: string(p.Caregiver)})
	default:
		base.Error = "unknown entry kind"
		return base
	}

	if err != nil {
		base.Error = err.Error()
		base.Conflict = errors.Is(err, errors.KindConflict)
		return base
	}
	base.Success = true
	return base
}

func (r *Reconciler) openRecordForVisit(ctx context.Context, visitID models.VisitID) (*models.Record, error) {
	rec, err := r.engine.LookupOpenByVisit(ctx, visitID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.New(errors.KindNotFound, "no_open_visit", "no open EVV record for visit").WithField("visitId", string(visitID))
	}
	return rec, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
