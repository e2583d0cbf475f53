package verification

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neighborhood-lab/care-commons-sub013/internal/policy"
	"github.com/neighborhood-lab/care-commons-sub013/pkg/models"
)

type fakeGeofenceStore struct {
	byID map[models.ClientID]*models.Geofence
}

func newFakeGeofenceStore() *fakeGeofenceStore {
	return &fakeGeofenceStore{byID: make(map[models.ClientID]*models.Geofence)}
}

func (f *fakeGeofenceStore) Get(_ context.Context, clientID models.ClientID) (*models.Geofence, error) {
	return f.byID[clientID], nil
}

func (f *fakeGeofenceStore) Save(_ context.Context, g *models.Geofence) error {
	copied := *g
	f.byID[g.ClientID] = &copied
	return nil
}

func compliantGeofenceInput() GeofenceInput {
	return GeofenceInput{
		Address:     models.ServiceAddress{Coordinates: models.Coordinates{Latitude: 30.2672, Longitude: -97.7431}},
		Actual:      models.Coordinates{Latitude: 30.2672, Longitude: -97.7431},
		Accuracy:    20,
		StatePolicy: policy.Texas(),
	}
}

func TestRecordGeofenceObservation_NoopWithoutStore(t *testing.T) {
	e := NewEvaluator(nil, nil, nil)
	// Must not panic when no GeofenceRepository is attached.
	e.RecordGeofenceObservation(context.Background(), models.ClientID("client-1"), compliantGeofenceInput(), models.GeofenceOutcome{Level: models.ComplianceLevelCompliant})
}

func TestRecordGeofenceObservation_TracksCountersAndAverage(t *testing.T) {
	require := require.New(t)
	store := newFakeGeofenceStore()
	e := NewEvaluator(nil, nil, nil).WithGeofenceCalibration(store)
	clientID := models.ClientID("client-1")

	in := compliantGeofenceInput()
	in.Accuracy = 10
	e.RecordGeofenceObservation(context.Background(), clientID, in, models.GeofenceOutcome{Level: models.ComplianceLevelCompliant})

	in.Accuracy = 30
	e.RecordGeofenceObservation(context.Background(), clientID, in, models.GeofenceOutcome{Level: models.ComplianceLevelViolation})

	g, err := store.Get(context.Background(), clientID)
	require.NoError(err)
	require.NotNil(g)
	require.Equal(2, g.ObservationCount)
	require.Equal(1, g.SuccessCount)
	require.InDelta(20.0, g.AverageAccuracy, 0.0001)
	require.Equal("default", g.RadiusType)
	require.Nil(g.CalibratedAt)
}

func TestRecordGeofenceObservation_PromotesToCalibratedAtThreshold(t *testing.T) {
	require := require.New(t)
	store := newFakeGeofenceStore()
	e := NewEvaluator(nil, nil, nil).WithGeofenceCalibration(store)
	clientID := models.ClientID("client-2")
	in := compliantGeofenceInput()

	for i := 0; i < CalibrationMinObservations; i++ {
		e.RecordGeofenceObservation(context.Background(), clientID, in, models.GeofenceOutcome{Level: models.ComplianceLevelCompliant})
	}

	g, err := store.Get(context.Background(), clientID)
	require.NoError(err)
	require.Equal(CalibrationMinObservations, g.ObservationCount)
	require.Equal("calibrated", g.RadiusType)
	require.NotNil(g.CalibratedAt)
}

func TestRecordGeofenceObservation_StaysDefaultBelowSuccessRate(t *testing.T) {
	require := require.New(t)
	store := newFakeGeofenceStore()
	e := NewEvaluator(nil, nil, nil).WithGeofenceCalibration(store)
	clientID := models.ClientID("client-3")
	in := compliantGeofenceInput()

	// Half violations keeps the success rate at 0.5, below
	// CalibrationMinSuccessRate, even past the observation floor.
	for i := 0; i < CalibrationMinObservations; i++ {
		level := models.ComplianceLevelCompliant
		if i%2 == 0 {
			level = models.ComplianceLevelViolation
		}
		e.RecordGeofenceObservation(context.Background(), clientID, in, models.GeofenceOutcome{Level: level})
	}

	g, err := store.Get(context.Background(), clientID)
	require.NoError(err)
	require.Equal("default", g.RadiusType)
	require.Nil(g.CalibratedAt)
}
