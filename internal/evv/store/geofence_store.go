package store

import (
	"context"
	"sync"

	"github.com/neighborhood-lab/care-commons-sub013/pkg/models"
)

// GeofenceRepository persists the per-client calibrated Geofence
// (spec.md §3, §6 "geofences" table): observation/success counters and
// the running average accuracy the Verifier updates after every
// classification.
type GeofenceRepository interface {
	// Get returns the client's geofence row, or nil, nil if it has
	// never been observed.
	Get(ctx context.Context, clientID models.ClientID) (*models.Geofence, error)

	// Save upserts the geofence row keyed by ClientID.
	Save(ctx context.Context, g *models.Geofence) error
}

// MemoryGeofenceRepository is a thread-safe in-memory
// GeofenceRepository, grounded on the same RWMutex-guarded map +
// defensive-copy pattern as MemoryRepository.
type MemoryGeofenceRepository struct {
	mu   sync.RWMutex
	byID map[models.ClientID]*models.Geofence
}

// NewMemoryGeofenceRepository creates an empty in-memory repository.
func NewMemoryGeofenceRepository() *MemoryGeofenceRepository {
	return &MemoryGeofenceRepository{byID: make(map[models.ClientID]*models.Geofence)}
}

func (m *MemoryGeofenceRepository) Get(_ context.Context, clientID models.ClientID) (*models.Geofence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.byID[clientID]
	if !ok {
		return nil, nil
	}
	copied := *g
	return &copied, nil
}

func (m *MemoryGeofenceRepository) Save(_ context.Context, g *models.Geofence) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *g
	m.byID[g.ClientID] = &copied
	return nil
}
