package vmur

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/neighborhood-lab/care-commons-sub013/internal/config"
	"github.com/neighborhood-lab/care-commons-sub013/internal/errors"
	"github.com/neighborhood-lab/care-commons-sub013/internal/evv"
	"github.com/neighborhood-lab/care-commons-sub013/internal/evv/store"
	"github.com/neighborhood-lab/care-commons-sub013/internal/verification"
	"github.com/neighborhood-lab/care-commons-sub013/pkg/models"
)

func newTestWorkflow(t *testing.T) (*Workflow, store.Repository, *evv.Engine) {
	repo := store.NewMemoryRepository()
	verifier := verification.NewEvaluator(nil, nil, nil)
	policies := config.NewPolicyTable(zap.NewNop())
	engine := evv.New(repo, verifier, policies, nil)
	vmurs := NewMemoryStore()
	return New(vmurs, repo, engine), repo, engine
}

func completeTexasVisit(t *testing.T, engine *evv.Engine, clockInAt time.Time) *models.Record {
	ctx := context.Background()
	record, err := engine.ClockIn(ctx, evv.ClockInInput{
		Tenant: "tenant-1", Branch: "branch-1", ClientID: "client-1", Caregiver: "caregiver-1",
		VisitID: "visit-1", StateCode: "TX", ServiceTypeCode: "PERSONAL_CARE",
		Address: models.ServiceAddress{Coordinates: models.Coordinates{Latitude: 30.2672, Longitude: -97.7431}},
		ServiceDate: clockInAt.Format("2006-01-02"), At: clockInAt,
		Verification: models.Verification{Coordinates: models.Coordinates{Latitude: 30.2672, Longitude: -97.7431}, Accuracy: 20, DeviceTimestamp: clockInAt},
	})
	require.NoError(t, err)

	clockOutAt := clockInAt.Add(time.Hour)
	record, err = engine.ClockOut(ctx, evv.ClockOutInput{
		RecordID: record.RecordID, At: clockOutAt,
		Verification: models.Verification{Coordinates: models.Coordinates{Latitude: 30.2672, Longitude: -97.7431}, Accuracy: 20, DeviceTimestamp: clockOutAt},
	})
	require.NoError(t, err)
	return record
}

func TestCreate_RejectsRecordYoungerThanFloor(t *testing.T) {
	require := require.New(t)
	w, _, engine := newTestWorkflow(t)
	clockInAt := time.Now().Add(-10 * 24 * time.Hour)
	record := completeTexasVisit(t, engine, clockInAt)

	_, err := w.Create(context.Background(), CreateInput{
		VMURID: "vmur-1", RecordID: record.RecordID, ReasonCode: "DeviceMalfunction",
		RequesterHasVMURCreate: true, Requester: "supervisor-1", Now: time.Now(),
	})

	require.Error(err)
	require.True(errors.Is(err, errors.KindInvalidTransition))
}

func TestCreate_RejectsRecordOlderThanWindow(t *testing.T) {
	require := require.New(t)
	w, _, engine := newTestWorkflow(t)
	clockInAt := time.Now().Add(-90 * 24 * time.Hour)
	record := completeTexasVisit(t, engine, clockInAt)

	_, err := w.Create(context.Background(), CreateInput{
		VMURID: "vmur-2", RecordID: record.RecordID, ReasonCode: "DeviceMalfunction",
		RequesterHasVMURCreate: true, Requester: "supervisor-1", Now: time.Now(),
	})

	require.Error(err)
	require.True(errors.Is(err, errors.KindInvalidTransition))
}

func TestCreate_FloorBoundary_ExactlyThirtyDaysPermittedTwentyNineRejected(t *testing.T) {
	require := require.New(t)
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	w, _, engine := newTestWorkflow(t)
	permitted := completeTexasVisit(t, engine, now.Add(-30*24*time.Hour))
	_, err := w.Create(context.Background(), CreateInput{
		VMURID: "vmur-floor-permitted", RecordID: permitted.RecordID, ReasonCode: "DeviceMalfunction",
		RequesterHasVMURCreate: true, Requester: "supervisor-1", Now: now,
	})
	require.NoError(err)

	w2, _, engine2 := newTestWorkflow(t)
	rejected := completeTexasVisit(t, engine2, now.Add(-29*24*time.Hour))
	_, err = w2.Create(context.Background(), CreateInput{
		VMURID: "vmur-floor-rejected", RecordID: rejected.RecordID, ReasonCode: "DeviceMalfunction",
		RequesterHasVMURCreate: true, Requester: "supervisor-1", Now: now,
	})
	require.Error(err)
	require.True(errors.Is(err, errors.KindInvalidTransition))
}

func TestCreate_RejectsUnpermittedReasonCode(t *testing.T) {
	require := require.New(t)
	w, _, engine := newTestWorkflow(t)
	clockInAt := time.Now().Add(-45 * 24 * time.Hour)
	record := completeTexasVisit(t, engine, clockInAt)

	_, err := w.Create(context.Background(), CreateInput{
		VMURID: "vmur-3", RecordID: record.RecordID, ReasonCode: "ChangedMyMind",
		RequesterHasVMURCreate: true, Requester: "supervisor-1", Now: time.Now(),
	})

	require.Error(err)
	require.True(errors.Is(err, errors.KindInputValidation))
}

func TestCreate_SucceedsWithinWindow(t *testing.T) {
	require := require.New(t)
	w, _, engine := newTestWorkflow(t)
	clockInAt := time.Now().Add(-45 * 24 * time.Hour)
	record := completeTexasVisit(t, engine, clockInAt)

	vmur, err := w.Create(context.Background(), CreateInput{
		VMURID: "vmur-4", RecordID: record.RecordID, ReasonCode: "DeviceMalfunction",
		CorrectedData: map[string]any{"evv_attendant_id": "99999"},
		RequesterHasVMURCreate: true, Requester: "supervisor-1", Now: time.Now(),
	})

	require.NoError(err)
	require.Equal(models.VMURPending, vmur.Status)
}

func TestApprove_ForksRecordAndRequiresRole(t *testing.T) {
	require := require.New(t)
	w, _, engine := newTestWorkflow(t)
	clockInAt := time.Now().Add(-45 * 24 * time.Hour)
	record := completeTexasVisit(t, engine, clockInAt)

	vmur, err := w.Create(context.Background(), CreateInput{
		VMURID: "vmur-5", RecordID: record.RecordID, ReasonCode: "DeviceMalfunction",
		CorrectedData: map[string]any{"evv_attendant_id": "99999"},
		RequesterHasVMURCreate: true, Requester: "supervisor-1", Now: time.Now(),
	})
	require.NoError(err)

	_, _, err = w.Approve(context.Background(), vmur.VMURID, false, "nobody", "", time.Now())
	require.Error(err)
	require.True(errors.Is(err, errors.KindPermissionDenied))

	approved, forked, err := w.Approve(context.Background(), vmur.VMURID, true, "coordinator-1", "looks right", time.Now())
	require.NoError(err)
	require.Equal(models.VMURApproved, approved.Status)
	require.Equal(record.RecordID, forked.Amends)
}

func TestDeny_RequiresWrittenReason(t *testing.T) {
	require := require.New(t)
	w, _, engine := newTestWorkflow(t)
	clockInAt := time.Now().Add(-45 * 24 * time.Hour)
	record := completeTexasVisit(t, engine, clockInAt)

	vmur, err := w.Create(context.Background(), CreateInput{
		VMURID: "vmur-6", RecordID: record.RecordID, ReasonCode: "DeviceMalfunction",
		RequesterHasVMURCreate: true, Requester: "supervisor-1", Now: time.Now(),
	})
	require.NoError(err)

	_, err = w.Deny(context.Background(), vmur.VMURID, "coordinator-1", "")
	require.Error(err)

	denied, err := w.Deny(context.Background(), vmur.VMURID, "coordinator-1", "insufficient evidence")
	require.NoError(err)
	require.Equal(models.VMURDenied, denied.Status)
}

func TestExpireSweep_MovesPastDeadlineVMURsToExpired(t *testing.T) {
	require := require.New(t)
	w, _, engine := newTestWorkflow(t)
	clockInAt := time.Now().Add(-45 * 24 * time.Hour)
	record := completeTexasVisit(t, engine, clockInAt)

	vmur, err := w.Create(context.Background(), CreateInput{
		VMURID: "vmur-7", RecordID: record.RecordID, ReasonCode: "DeviceMalfunction",
		RequesterHasVMURCreate: true, Requester: "supervisor-1", Now: time.Now(),
	})
	require.NoError(err)

	count, err := w.ExpireSweep(context.Background(), time.Now().Add(31*24*time.Hour))
	require.NoError(err)
	require.Equal(1, count)

	reloaded, err := w.vmurs.Get(context.Background(), vmur.VMURID)
	require.NoError(err)
	require.Equal(models.VMURExpired, reloaded.Status)
}
