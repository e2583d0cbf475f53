package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neighborhood-lab/care-commons-sub013/internal/errors"
	"github.com/neighborhood-lab/care-commons-sub013/pkg/models"
)

func newRecord(id models.RecordID, visit models.VisitID, status models.RecordStatus) *models.Record {
	return &models.Record{RecordID: id, VisitID: visit, ClientID: "client-1", Caregiver: "caregiver-1", Status: status}
}

func TestMemoryRepository_SaveThenGetRoundTrips(t *testing.T) {
	require := require.New(t)
	repo := NewMemoryRepository()
	ctx := context.Background()

	rec := newRecord("record-1", "visit-1", models.StatusPending)
	require.NoError(repo.Save(ctx, rec, 0))

	fetched, err := repo.Get(ctx, "record-1")
	require.NoError(err)
	require.Equal(models.StatusPending, fetched.Status)
	require.Equal(1, fetched.Audit.Version)
}

func TestMemoryRepository_Get_NotFoundReturnsKindNotFound(t *testing.T) {
	require := require.New(t)
	repo := NewMemoryRepository()

	_, err := repo.Get(context.Background(), "missing")
	require.Error(err)
	require.True(errors.Is(err, errors.KindNotFound))
}

func TestMemoryRepository_Save_RejectsStaleVersion(t *testing.T) {
	require := require.New(t)
	repo := NewMemoryRepository()
	ctx := context.Background()

	rec := newRecord("record-2", "visit-2", models.StatusPending)
	require.NoError(repo.Save(ctx, rec, 0))

	stale := newRecord("record-2", "visit-2", models.StatusComplete)
	err := repo.Save(ctx, stale, 0)
	require.Error(err)
	require.True(errors.Is(err, errors.KindConflict))
}

func TestMemoryRepository_GetOpenByVisit_TracksOpenRecordAndClearsOnComplete(t *testing.T) {
	require := require.New(t)
	repo := NewMemoryRepository()
	ctx := context.Background()

	rec := newRecord("record-3", "visit-3", models.StatusPending)
	require.NoError(repo.Save(ctx, rec, 0))

	open, err := repo.GetOpenByVisit(ctx, "visit-3")
	require.NoError(err)
	require.NotNil(open)
	require.Equal(models.RecordID("record-3"), open.RecordID)

	rec.Status = models.StatusComplete
	require.NoError(repo.Save(ctx, rec, 1))

	closed, err := repo.GetOpenByVisit(ctx, "visit-3")
	require.NoError(err)
	require.Nil(closed)
}

func TestMemoryRepository_GetOpenByVisit_UnknownVisitReturnsNilNil(t *testing.T) {
	require := require.New(t)
	repo := NewMemoryRepository()

	rec, err := repo.GetOpenByVisit(context.Background(), "never-seen")
	require.NoError(err)
	require.Nil(rec)
}

func TestMemoryRepository_ListComplete_FiltersByStatusAndRespectsLimit(t *testing.T) {
	require := require.New(t)
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(repo.Save(ctx, newRecord("record-4", "visit-4", models.StatusComplete), 0))
	require.NoError(repo.Save(ctx, newRecord("record-5", "visit-5", models.StatusComplete), 0))
	require.NoError(repo.Save(ctx, newRecord("record-6", "visit-6", models.StatusPending), 0))

	all, err := repo.ListComplete(ctx, 0)
	require.NoError(err)
	require.Len(all, 2)

	limited, err := repo.ListComplete(ctx, 1)
	require.NoError(err)
	require.Len(limited, 1)
}

func TestMemoryRepository_Save_CopiesDefensively(t *testing.T) {
	require := require.New(t)
	repo := NewMemoryRepository()
	ctx := context.Background()

	rec := newRecord("record-7", "visit-7", models.StatusPending)
	require.NoError(repo.Save(ctx, rec, 0))

	fetched, err := repo.Get(ctx, "record-7")
	require.NoError(err)
	fetched.Status = models.StatusComplete

	reFetched, err := repo.Get(ctx, "record-7")
	require.NoError(err)
	require.Equal(models.StatusPending, reFetched.Status)
}
