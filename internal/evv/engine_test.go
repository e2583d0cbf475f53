package evv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/neighborhood-lab/care-commons-sub013/internal/config"
	"github.com/neighborhood-lab/care-commons-sub013/internal/errors"
	"github.com/neighborhood-lab/care-commons-sub013/internal/evv/store"
	"github.com/neighborhood-lab/care-commons-sub013/internal/verification"
	"github.com/neighborhood-lab/care-commons-sub013/pkg/models"
)

func newTestEngine() *Engine {
	repo := store.NewMemoryRepository()
	verifier := verification.NewEvaluator(nil, nil, nil)
	policies := config.NewPolicyTable(zap.NewNop())
	return New(repo, verifier, policies, nil)
}

func onSiteClockIn(t time.Time) ClockInInput {
	return ClockInInput{
		Tenant:          "tenant-1",
		Branch:          "branch-1",
		ClientID:        "client-1",
		Caregiver:       "caregiver-1",
		VisitID:         "visit-1",
		StateCode:       "TX",
		ServiceTypeCode: "PERSONAL_CARE",
		Address:         models.ServiceAddress{Coordinates: models.Coordinates{Latitude: 30.2672, Longitude: -97.7431}},
		ServiceDate:     "2026-03-01",
		At:              t,
		Verification: models.Verification{
			Coordinates:     models.Coordinates{Latitude: 30.2672, Longitude: -97.7431},
			Accuracy:        20,
			DeviceTimestamp: t,
		},
		ActorID: "caregiver-1",
	}
}

func TestClockIn_CreatesPendingRecord(t *testing.T) {
	require := require.New(t)
	e := newTestEngine()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	record, err := e.ClockIn(ctx, onSiteClockIn(at))

	require.NoError(err)
	require.Equal(models.StatusPending, record.Status)
	require.NotNil(record.ClockIn)
	require.True(record.ClockInVerification.Passed)
}

func TestClockIn_IsIdempotentOnRetry(t *testing.T) {
	require := require.New(t)
	e := newTestEngine()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	first, err := e.ClockIn(ctx, onSiteClockIn(at))
	require.NoError(err)

	second, err := e.ClockIn(ctx, onSiteClockIn(at))
	require.NoError(err)
	require.Equal(first.RecordID, second.RecordID)
}

func TestPauseResume_RejectsDoublePause(t *testing.T) {
	require := require.New(t)
	e := newTestEngine()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	record, err := e.ClockIn(ctx, onSiteClockIn(at))
	require.NoError(err)

	_, err = e.Pause(ctx, PauseInput{RecordID: record.RecordID, At: at.Add(10 * time.Minute), Reason: "break"})
	require.NoError(err)

	_, err = e.Pause(ctx, PauseInput{RecordID: record.RecordID, At: at.Add(15 * time.Minute), Reason: "another"})
	require.Error(err)
	require.True(errors.Is(err, errors.KindInvalidTransition))
}

func TestPause_RejectsTimeBeforeClockIn(t *testing.T) {
	require := require.New(t)
	e := newTestEngine()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	record, err := e.ClockIn(ctx, onSiteClockIn(at))
	require.NoError(err)

	_, err = e.Pause(ctx, PauseInput{RecordID: record.RecordID, At: at.Add(-time.Minute), Reason: "break"})
	require.Error(err)
	require.True(errors.Is(err, errors.KindInputValidation))
}

func TestPauseResume_ResumeRequiresOpenPause(t *testing.T) {
	require := require.New(t)
	e := newTestEngine()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	record, err := e.ClockIn(ctx, onSiteClockIn(at))
	require.NoError(err)

	_, err = e.Resume(ctx, ResumeInput{RecordID: record.RecordID, At: at.Add(5 * time.Minute)})
	require.Error(err)
	require.True(errors.Is(err, errors.KindInvalidTransition))
}

func TestClockOut_ComputesDurationMinusUnpaidPause(t *testing.T) {
	require := require.New(t)
	e := newTestEngine()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	record, err := e.ClockIn(ctx, onSiteClockIn(at))
	require.NoError(err)

	_, err = e.Pause(ctx, PauseInput{RecordID: record.RecordID, At: at.Add(30 * time.Minute), Reason: "lunch"})
	require.NoError(err)
	_, err = e.Resume(ctx, ResumeInput{RecordID: record.RecordID, At: at.Add(60 * time.Minute)})
	require.NoError(err)

	clockOutAt := at.Add(120 * time.Minute)
	record, err = e.ClockOut(ctx, ClockOutInput{
		RecordID: record.RecordID,
		At:       clockOutAt,
		Verification: models.Verification{
			Coordinates:     models.Coordinates{Latitude: 30.2672, Longitude: -97.7431},
			Accuracy:        20,
			DeviceTimestamp: clockOutAt,
		},
	})
	require.NoError(err)
	require.Equal(models.StatusComplete, record.Status)
	require.Equal(90*time.Minute, record.TotalDuration())
	require.NotEmpty(record.IntegrityHash)
	require.NotEmpty(record.IntegrityChecksum)
}

func TestClockOut_RejectsOpenPause(t *testing.T) {
	require := require.New(t)
	e := newTestEngine()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	record, err := e.ClockIn(ctx, onSiteClockIn(at))
	require.NoError(err)
	_, err = e.Pause(ctx, PauseInput{RecordID: record.RecordID, At: at.Add(10 * time.Minute)})
	require.NoError(err)

	_, err = e.ClockOut(ctx, ClockOutInput{RecordID: record.RecordID, At: at.Add(20 * time.Minute)})
	require.Error(err)
	require.True(errors.Is(err, errors.KindInvalidTransition))
}

func completeVisit(t *testing.T, e *Engine, ctx context.Context, at time.Time) *models.Record {
	record, err := e.ClockIn(ctx, onSiteClockIn(at))
	require.NoError(t, err)

	clockOutAt := at.Add(time.Hour)
	record, err = e.ClockOut(ctx, ClockOutInput{
		RecordID: record.RecordID,
		At:       clockOutAt,
		Verification: models.Verification{
			Coordinates:     models.Coordinates{Latitude: 30.2672, Longitude: -97.7431},
			Accuracy:        20,
			DeviceTimestamp: clockOutAt,
		},
	})
	require.NoError(t, err)
	return record
}

func TestSubmit_OnlyValidFromComplete(t *testing.T) {
	require := require.New(t)
	e := newTestEngine()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	record, err := e.ClockIn(ctx, onSiteClockIn(at))
	require.NoError(err)

	_, err = e.Submit(ctx, record.RecordID, at, "dispatcher")
	require.Error(err)
	require.True(errors.Is(err, errors.KindInvalidTransition))
}

func TestSubmit_DetectsTamperedIntegrityHash(t *testing.T) {
	require := require.New(t)
	e := newTestEngine()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	record := completeVisit(t, e, ctx, at)
	record.IntegrityHash = "tampered"
	require.NoError(e.repo.Save(ctx, record, record.Audit.Version))

	_, err := e.Submit(ctx, record.RecordID, at.Add(2*time.Hour), "dispatcher")
	require.Error(err)
	require.True(errors.Is(err, errors.KindTamperDetected))
}

func TestAmend_ForksNewRecordAndLocksOriginal(t *testing.T) {
	require := require.New(t)
	e := newTestEngine()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	original := completeVisit(t, e, ctx, at)

	forked, err := e.Amend(ctx, AmendInput{
		OriginalID:    original.RecordID,
		CorrectedData: map[string]any{"evv_attendant_id": "12345"},
		At:            at.Add(48 * time.Hour),
		ActorID:       "supervisor-1",
	})
	require.NoError(err)
	require.Equal(original.RecordID, forked.Amends)
	require.Equal(models.StatusComplete, forked.Status)
	require.NotEqual(original.IntegrityHash, forked.IntegrityHash)

	reloadedOriginal, err := e.repo.Get(ctx, original.RecordID)
	require.NoError(err)
	require.Equal(models.StatusAmended, reloadedOriginal.Status)
}
