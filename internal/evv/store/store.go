// Package store persists EVV Records. It is grounded on the teacher's
// storage.HistoryStore interface (GetLastRecord/SaveRecord over a
// user id), generalized from "one record per user" to "many
// versioned records keyed by RecordID, looked up also by VisitID for
// the currently-open record".
package store

import (
	"context"
	"sync"

	"github.com/neighborhood-lab/care-commons-sub013/internal/errors"
	"github.com/neighborhood-lab/care-commons-sub013/pkg/models"
)

// Repository is the EVV Record persistence boundary. Implementations
// must make Save atomic with respect to the record's current Version
// (optimistic concurrency on top of the caller's per-record mutex).
type Repository interface {
	// Get fetches a record by id. Returns a *errors.Error with
	// KindNotFound when absent.
	Get(ctx context.Context, id models.RecordID) (*models.Record, error)

	// GetOpenByVisit fetches the currently open (Pending) record for a
	// visit, if any. Returns nil, nil if the visit has no open record.
	GetOpenByVisit(ctx context.Context, visitID models.VisitID) (*models.Record, error)

	// Save inserts or updates a record. On update, it verifies
	// expectedVersion matches the stored version, returning a
	// *errors.Error with KindConflict otherwise (spec.md §5:
	// "concurrent attempts must either block or fail with a
	// retriable conflict error").
	Save(ctx context.Context, record *models.Record, expectedVersion int) error

	// ListComplete returns records in Complete status, for the
	// Aggregator Dispatcher to pick up for submission.
	ListComplete(ctx context.Context, limit int) ([]*models.Record, error)
}

// MemoryRepository is a thread-safe in-memory Repository. Grounded
// directly on the teacher's storage.MemoryStore: a map guarded by
// sync.RWMutex, defensively copying on read and write so callers can
// never mutate stored state through an aliased pointer.
type MemoryRepository struct {
	mu       sync.RWMutex
	byID     map[models.RecordID]*models.Record
	openByVisit map[models.VisitID]models.RecordID
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:        make(map[models.RecordID]*models.Record),
		openByVisit: make(map[models.VisitID]models.RecordID),
	}
}

func (m *MemoryRepository) Get(_ context.Context, id models.RecordID) (*models.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.byID[id]
	if !ok {
		return nil, errors.New(errors.KindNotFound, "record_not_found", "EVV record not found").WithField("recordId", string(id))
	}
	copied := *rec
	return &copied, nil
}

func (m *MemoryRepository) GetOpenByVisit(_ context.Context, visitID models.VisitID) (*models.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.openByVisit[visitID]
	if !ok {
		return nil, nil
	}
	rec, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	copied := *rec
	return &copied, nil
}

func (m *MemoryRepository) Save(_ context.Context, record *models.Record, expectedVersion int) error {
	if record == nil {
		return errors.New(errors.KindInputValidation, "nil_record", "record cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.byID[record.RecordID]
	if exists && existing.Audit.Version != expectedVersion {
		return errors.New(errors.KindConflict, "version_mismatch", "record was modified concurrently").
			WithField("recordId", string(record.RecordID))
	}
	if !exists && expectedVersion != 0 {
		return errors.New(errors.KindConflict, "version_mismatch", "record does not exist at expected version").
			WithField("recordId", string(record.RecordID))
	}

	toStore := *record
	toStore.Audit.Version = expectedVersion + 1
	record.Audit.Version = toStore.Audit.Version
	m.byID[record.RecordID] = &toStore

	if isOpen(&toStore) {
		m.openByVisit[record.VisitID] = record.RecordID
	} else if m.openByVisit[record.VisitID] == record.RecordID {
		delete(m.openByVisit, record.VisitID)
	}
	return nil
}

func (m *MemoryRepository) ListComplete(_ context.Context, limit int) ([]*models.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Record
	for _, rec := range m.byID {
		if rec.Status != models.StatusComplete {
			continue
		}
		copied := *rec
		out = append(out, &copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func isOpen(rec *models.Record) bool {
	switch rec.Status {
	case models.StatusPending:
		return true
	default:
		return false
	}
}
