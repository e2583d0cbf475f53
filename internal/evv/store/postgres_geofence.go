package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/neighborhood-lab/care-commons-sub013/pkg/models"
)

// PostgresGeofenceRepository is the durable verification.GeofenceRepository
// backed by Postgres (spec.md §6 lists "geofences" among the required
// persisted tables), grounded on the same row-lock-then-upsert shape as
// PostgresRepository.
type PostgresGeofenceRepository struct {
	db *sqlx.DB
}

func NewPostgresGeofenceRepository(db *sqlx.DB) *PostgresGeofenceRepository {
	return &PostgresGeofenceRepository{db: db}
}

type geofenceRow struct {
	ClientID         string         `db:"client_id"`
	CenterLat        float64        `db:"center_lat"`
	CenterLon        float64        `db:"center_lon"`
	Radius           float64        `db:"radius_meters"`
	Shape            string         `db:"shape"`
	RadiusType       string         `db:"radius_type"`
	CalibratedAt     sql.NullString `db:"calibrated_at"`
	CalibratedBy     string         `db:"calibrated_by"`
	ObservationCount int            `db:"observation_count"`
	SuccessCount     int            `db:"success_count"`
	AverageAccuracy  float64        `db:"average_accuracy"`
}

func geofenceToRow(g *models.Geofence) geofenceRow {
	row := geofenceRow{
		ClientID:         string(g.ClientID),
		CenterLat:        g.Center.Latitude,
		CenterLon:        g.Center.Longitude,
		Radius:           g.Radius,
		Shape:            string(g.Shape),
		RadiusType:       g.RadiusType,
		CalibratedBy:     g.CalibratedBy,
		ObservationCount: g.ObservationCount,
		SuccessCount:     g.SuccessCount,
		AverageAccuracy:  g.AverageAccuracy,
	}
	if g.CalibratedAt != nil {
		row.CalibratedAt = sql.NullString{String: *g.CalibratedAt, Valid: true}
	}
	return row
}

func geofenceFromRow(row geofenceRow) *models.Geofence {
	g := &models.Geofence{
		ClientID:         models.ClientID(row.ClientID),
		Center:           models.Coordinates{Latitude: row.CenterLat, Longitude: row.CenterLon},
		Radius:           row.Radius,
		Shape:            models.GeofenceShape(row.Shape),
		RadiusType:       row.RadiusType,
		CalibratedBy:     row.CalibratedBy,
		ObservationCount: row.ObservationCount,
		SuccessCount:     row.SuccessCount,
		AverageAccuracy:  row.AverageAccuracy,
	}
	if row.CalibratedAt.Valid {
		g.CalibratedAt = &row.CalibratedAt.String
	}
	return g
}

func (p *PostgresGeofenceRepository) Get(ctx context.Context, clientID models.ClientID) (*models.Geofence, error) {
	var row geofenceRow
	err := p.db.GetContext(ctx, &row, `
		SELECT client_id, center_lat, center_lon, radius_meters, shape, radius_type,
		       calibrated_at, calibrated_by, observation_count, success_count, average_accuracy
		FROM geofences WHERE client_id = $1`, string(clientID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query geofences: %w", err)
	}
	return geofenceFromRow(row), nil
}

// Save upserts the geofence row, taking the same row-lock-then-write
// approach as PostgresRepository.Save.
func (p *PostgresGeofenceRepository) Save(ctx context.Context, g *models.Geofence) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	err = tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM geofences WHERE client_id = $1 FOR UPDATE)`, string(g.ClientID))
	if err != nil {
		return fmt.Errorf("lock geofences row: %w", err)
	}

	row := geofenceToRow(g)
	if !exists {
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO geofences (client_id, center_lat, center_lon, radius_meters, shape, radius_type,
			                        calibrated_at, calibrated_by, observation_count, success_count, average_accuracy)
			VALUES (:client_id, :center_lat, :center_lon, :radius_meters, :shape, :radius_type,
			        :calibrated_at, :calibrated_by, :observation_count, :success_count, :average_accuracy)`, row)
	} else {
		_, err = tx.NamedExecContext(ctx, `
			UPDATE geofences SET center_lat = :center_lat, center_lon = :center_lon, radius_meters = :radius_meters,
			       shape = :shape, radius_type = :radius_type, calibrated_at = :calibrated_at,
			       calibrated_by = :calibrated_by, observation_count = :observation_count,
			       success_count = :success_count, average_accuracy = :average_accuracy
			WHERE client_id = :client_id`, row)
	}
	if err != nil {
		return fmt.Errorf("upsert geofences: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit geofence save: %w", err)
	}
	return nil
}
