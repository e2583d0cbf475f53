package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	evverrors "github.com/neighborhood-lab/care-commons-sub013/internal/errors"
	"github.com/neighborhood-lab/care-commons-sub013/pkg/models"
)

// PostgresRepository is the durable Repository backed by Postgres,
// grounded on the pack's sqlx.DB + zap.Logger repository constructor
// shape (pass a *sqlx.DB in, wrap every query error with context).
// Row lock for per-record serialization (spec.md §5) is taken with
// `SELECT ... FOR UPDATE` inside the transaction Save opens and
// commits itself, one per Save call.
type PostgresRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewPostgresRepository wraps an existing *sqlx.DB (registered with
// the pgx stdlib driver by the caller, e.g. via
// `sqlx.Connect("pgx", dsn)`).
func NewPostgresRepository(db *sqlx.DB, logger *zap.Logger) *PostgresRepository {
	return &PostgresRepository{db: db, logger: logger}
}

type recordRow struct {
	RecordID          string `db:"record_id"`
	VisitID           string `db:"visit_id"`
	Tenant            string `db:"tenant_id"`
	Branch            string `db:"branch_id"`
	ClientID          string `db:"client_id"`
	Caregiver         string `db:"caregiver_id"`
	Status            string `db:"status"`
	IntegrityHash     string `db:"integrity_hash"`
	IntegrityChecksum string `db:"integrity_checksum"`
	Amends            string `db:"amends_record_id"`
	Version           int    `db:"version"`
	Payload           []byte `db:"payload"` // the rest of Record, JSON-encoded
}

func toRow(record *models.Record, version int) (recordRow, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return recordRow{}, fmt.Errorf("marshal record payload: %w", err)
	}
	return recordRow{
		RecordID:          string(record.RecordID),
		VisitID:           string(record.VisitID),
		Tenant:            string(record.Tenant),
		Branch:            string(record.Branch),
		ClientID:          string(record.ClientID),
		Caregiver:         string(record.Caregiver),
		Status:            string(record.Status),
		IntegrityHash:     record.IntegrityHash,
		IntegrityChecksum: record.IntegrityChecksum,
		Amends:            string(record.Amends),
		Version:           version,
		Payload:           payload,
	}, nil
}

func fromRow(row recordRow) (*models.Record, error) {
	var record models.Record
	if err := json.Unmarshal(row.Payload, &record); err != nil {
		return nil, fmt.Errorf("unmarshal record payload: %w", err)
	}
	record.Audit.Version = row.Version
	return &record, nil
}

func (p *PostgresRepository) Get(ctx context.Context, id models.RecordID) (*models.Record, error) {
	var row recordRow
	err := p.db.GetContext(ctx, &row, `
		SELECT record_id, visit_id, tenant_id, branch_id, client_id, caregiver_id,
		       status, integrity_hash, integrity_checksum, amends_record_id, version, payload
		FROM evv_records WHERE record_id = $1`, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, evverrors.New(evverrors.KindNotFound, "record_not_found", "EVV record not found").
			WithField("recordId", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("query evv_records: %w", err)
	}
	return fromRow(row)
}

func (p *PostgresRepository) GetOpenByVisit(ctx context.Context, visitID models.VisitID) (*models.Record, error) {
	var row recordRow
	err := p.db.GetContext(ctx, &row, `
		SELECT record_id, visit_id, tenant_id, branch_id, client_id, caregiver_id,
		       status, integrity_hash, integrity_checksum, amends_record_id, version, payload
		FROM evv_records WHERE visit_id = $1 AND status = $2
		ORDER BY version DESC LIMIT 1`, string(visitID), string(models.StatusPending))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query evv_records by visit: %w", err)
	}
	return fromRow(row)
}

// Save upserts the record inside a transaction that first takes a
// row lock with SELECT ... FOR UPDATE (spec.md §5: "row-level locks
// on the EVV record serialize transitions per record"), then checks
// expectedVersion before writing — the optimistic check is enforced
// in SQL too (UPDATE ... WHERE version = $expected) so a lost-update
// race loses even if the row lock were somehow bypassed.
func (p *PostgresRepository) Save(ctx context.Context, record *models.Record, expectedVersion int) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	err = tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM evv_records WHERE record_id = $1 FOR UPDATE)`, string(record.RecordID))
	if err != nil {
		return fmt.Errorf("lock evv_record row: %w", err)
	}

	row, err := toRow(record, expectedVersion+1)
	if err != nil {
		return err
	}

	if !exists {
		if expectedVersion != 0 {
			return evverrors.New(evverrors.KindConflict, "version_mismatch", "record does not exist at expected version").
				WithField("recordId", string(record.RecordID))
		}
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO evv_records (record_id, visit_id, tenant_id, branch_id, client_id, caregiver_id,
			                          status, integrity_hash, integrity_checksum, amends_record_id, version, payload)
			VALUES (:record_id, :visit_id, :tenant_id, :branch_id, :client_id, :caregiver_id,
			        :status, :integrity_hash, :integrity_checksum, :amends_record_id, :version, :payload)`, row)
	} else {
		var res sql.Result
		res, err = tx.NamedExecContext(ctx, `
			UPDATE evv_records SET status = :status, integrity_hash = :integrity_hash,
			       integrity_checksum = :integrity_checksum, amends_record_id = :amends_record_id,
			       version = :version, payload = :payload
			WHERE record_id = :record_id AND version = `+fmt.Sprintf("%d", expectedVersion), row)
		if err == nil {
			var n int64
			n, err = res.RowsAffected()
			if err == nil && n == 0 {
				err = evverrors.New(evverrors.KindConflict, "version_mismatch", "record was modified concurrently").
					WithField("recordId", string(record.RecordID))
			}
		}
	}
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit evv_record save: %w", err)
	}
	record.Audit.Version = row.Version
	return nil
}

func (p *PostgresRepository) ListComplete(ctx context.Context, limit int) ([]*models.Record, error) {
	var rows []recordRow
	err := p.db.SelectContext(ctx, &rows, `
		SELECT record_id, visit_id, tenant_id, branch_id, client_id, caregiver_id,
		       status, integrity_hash, integrity_checksum, amends_record_id, version, payload
		FROM evv_records WHERE status = $1 ORDER BY record_id LIMIT $2`,
		string(models.StatusComplete), limit)
	if err != nil {
		return nil, fmt.Errorf("query evv_records complete: %w", err)
	}
	out := make([]*models.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := fromRow(row)
		if err != nil {
			p.logger.Warn("skipping unreadable evv_record row", zap.String("recordId", row.RecordID), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
