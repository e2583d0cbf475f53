// Command evvdemo walks through the EVV platform's core lifecycle
// against in-memory stores: a mobile device pushes a clock-in/pause/
// resume/clock-out sequence through the Sync Reconciler, a separately
// built Complete record is submitted to an aggregator, and a Texas
// VMUR amendment is created, approved, and forked.
//
// Grounded on the teacher's examples/scenarios/main.go: one
// demonstration function per scenario, printed with a header and a
// one-line verdict. The sync and VMUR scenarios share one engine
// instance; the aggregator scenario builds its own repository and
// dispatcher.
package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/neighborhood-lab/care-commons-sub013/internal/aggregator"
	"github.com/neighborhood-lab/care-commons-sub013/internal/config"
	"github.com/neighborhood-lab/care-commons-sub013/internal/evv"
	"github.com/neighborhood-lab/care-commons-sub013/internal/evv/store"
	"github.com/neighborhood-lab/care-commons-sub013/internal/sync"
	"github.com/neighborhood-lab/care-commons-sub013/internal/verification"
	"github.com/neighborhood-lab/care-commons-sub013/internal/vmur"
	"github.com/neighborhood-lab/care-commons-sub013/pkg/models"
)

func main() {
	fmt.Println("================================================")
	fmt.Println("  EVV Platform — Lifecycle Demonstration")
	fmt.Println("================================================")
	fmt.Println()

	repo := store.NewMemoryRepository()
	verifier := verification.NewEvaluator(nil, verification.DefaultHostingASNs(), []string{"MEDICATION_ADMIN"})
	policies := config.NewPolicyTable(zap.NewNop())
	engine := evv.New(repo, verifier, policies, nil)
	reconciler := sync.NewReconciler(engine, nil)
	vmurWorkflow := vmur.New(vmur.NewMemoryStore(), repo, engine)

	runMobileSyncScenario(reconciler)
	runAggregatorScenario()
	runVMURScenario(vmurWorkflow, engine)

	fmt.Println("================================================")
	fmt.Println("  Demonstration complete")
	fmt.Println("================================================")
}

func runMobileSyncScenario(reconciler *sync.Reconciler) {
	fmt.Println("--- Scenario 1: Mobile clock-in/pause/resume/clock-out via sync push ---")

	visitID := models.VisitID("visit-demo-1")
	austin := models.Coordinates{Latitude: 30.2672, Longitude: -97.7431}
	serviceDate := time.Now().Format("2006-01-02")

	changes := []sync.Change{
		{
			EntityType: "TimeEntry", EntityID: visitID, Operation: "Create",
			ClientTimestamp: time.Now(), SequenceInBatch: 0,
			Payload: sync.TimeEntryPayload{
				Kind: models.EntryClockIn, Tenant: "tenant-demo", Branch: "branch-demo",
				ClientID: "client-demo", Caregiver: "caregiver-demo", StateCode: "TX", ServiceTypeCode: "PERSONAL_CARE",
				Address: models.ServiceAddress{Coordinates: austin, Radius: 150}, ServiceDate: serviceDate,
				Verification: models.Verification{Coordinates: austin, Accuracy: 15, DeviceTimestamp: time.Now()},
			},
		},
		{
			EntityType: "TimeEntry", EntityID: visitID, Operation: "Update",
			ClientTimestamp: time.Now().Add(20 * time.Minute), SequenceInBatch: 1,
			Payload: sync.TimeEntryPayload{
				Kind: models.EntryPause, Reason: "client lunch break",
				Verification: models.Verification{Coordinates: austin, Accuracy: 15, DeviceTimestamp: time.Now().Add(20 * time.Minute)},
			},
		},
		{
			EntityType: "TimeEntry", EntityID: visitID, Operation: "Update",
			ClientTimestamp: time.Now().Add(50 * time.Minute), SequenceInBatch: 2,
			Payload: sync.TimeEntryPayload{
				Kind: models.EntryResume,
				Verification: models.Verification{Coordinates: austin, Accuracy: 15, DeviceTimestamp: time.Now().Add(50 * time.Minute)},
			},
		},
		{
			EntityType: "TimeEntry", EntityID: visitID, Operation: "Update",
			ClientTimestamp: time.Now().Add(90 * time.Minute), SequenceInBatch: 3,
			Payload: sync.TimeEntryPayload{
				Kind: models.EntryClockOut,
				Verification: models.Verification{Coordinates: austin, Accuracy: 15, DeviceTimestamp: time.Now().Add(90 * time.Minute)},
			},
		},
	}

	result, err := reconciler.Push(context.Background(), "device-demo-1", changes)
	if err != nil {
		fmt.Printf("push failed: %v\n", err)
		return
	}
	fmt.Printf("pushed %d changes: %d synced, %d failed\n", len(changes), result.SyncedCount, result.FailedCount)

	retry, err := reconciler.Push(context.Background(), "device-demo-1", changes)
	if err == nil {
		fmt.Printf("retried identical batch: %d synced (idempotent replay, no duplicate state change)\n", retry.SyncedCount)
	}
	fmt.Println()
}

func runAggregatorScenario() {
	fmt.Println("--- Scenario 2: Aggregator submission against an unreachable endpoint ---")

	clockIn := time.Now().Add(-90 * time.Minute)
	clockOut := time.Now()
	record := &models.Record{
		RecordID: "record-demo-1", ClientID: "client-demo", Caregiver: "caregiver-demo",
		StateCode: "TX", ServiceTypeCode: "PERSONAL_CARE", ServiceDate: clockIn.Format("2006-01-02"),
		Address:             models.ServiceAddress{Coordinates: models.Coordinates{Latitude: 30.2672, Longitude: -97.7431}},
		ClockIn:             &clockIn,
		ClockOut:            &clockOut,
		ClockInVerification: &models.Verification{Accuracy: 15},
		Status:              models.StatusComplete,
		StateData:           map[string]any{"evv_attendant_id": "99999"},
	}

	redisServer, err := miniredis.Run()
	if err != nil {
		fmt.Printf("in-memory redis failed to start: %v\n", err)
		return
	}
	defer redisServer.Close()

	policies := config.NewPolicyTable(zap.NewNop())
	registry := aggregator.NewRegistry(http.DefaultClient)
	repo := store.NewMemoryRepository()
	_ = repo.Save(context.Background(), record, 0)
	queue := aggregator.NewQueue(redis.NewClient(&redis.Options{Addr: redisServer.Addr()}))
	dispatcher := aggregator.NewDispatcher(registry, repo, queue, policies.Get, zap.NewNop(), nil)

	submission, err := dispatcher.Submit(context.Background(), record)
	if err != nil {
		fmt.Printf("submission attempt failed as expected (Texas policy's HHAeXchange endpoint is not reachable from this demo): %v\n", err)
	}
	if submission != nil {
		fmt.Printf("submission state=%s attempts=%d nextAttemptAt=%s\n", submission.State, submission.Attempts, submission.NextAttemptAt.Format(time.RFC3339))
	}
	fmt.Println("(point the state policy row's SubmissionEndpoint at a live aggregator, e.g. via EVV_POLICY_FILE in cmd/evvserver, to see Submitted)")
	fmt.Println()
}

func runVMURScenario(workflow *vmur.Workflow, engine *evv.Engine) {
	fmt.Println("--- Scenario 3: Texas VMUR amendment (45-day-old record) ---")

	clockInAt := time.Now().Add(-45 * 24 * time.Hour)
	austin := models.Coordinates{Latitude: 30.2672, Longitude: -97.7431}
	record, err := engine.ClockIn(context.Background(), evv.ClockInInput{
		Tenant: "tenant-demo", Branch: "branch-demo", ClientID: "client-demo", Caregiver: "caregiver-demo",
		VisitID: "visit-demo-2", StateCode: "TX", ServiceTypeCode: "PERSONAL_CARE",
		Address: models.ServiceAddress{Coordinates: austin, Radius: 150}, ServiceDate: clockInAt.Format("2006-01-02"),
		At: clockInAt, Verification: models.Verification{Coordinates: austin, Accuracy: 15, DeviceTimestamp: clockInAt},
	})
	if err != nil {
		fmt.Printf("clock-in failed: %v\n", err)
		return
	}
	clockOutAt := clockInAt.Add(time.Hour)
	record, err = engine.ClockOut(context.Background(), evv.ClockOutInput{
		RecordID: record.RecordID, At: clockOutAt,
		Verification: models.Verification{Coordinates: austin, Accuracy: 15, DeviceTimestamp: clockOutAt},
	})
	if err != nil {
		fmt.Printf("clock-out failed: %v\n", err)
		return
	}

	v, err := workflow.Create(context.Background(), vmur.CreateInput{
		VMURID: "vmur-demo-1", RecordID: record.RecordID, ReasonCode: "ClockOutMissed",
		Justification: "caregiver's phone died mid-visit, corrected clock-out confirmed by phone call",
		CorrectedData: map[string]any{"evv_attendant_id": "12345"}, ChangeSummary: "corrected clock-out time",
		Requester: "supervisor-demo", RequesterHasVMURCreate: true, Now: time.Now(),
	})
	if err != nil {
		fmt.Printf("VMUR create failed: %v\n", err)
		return
	}
	fmt.Printf("VMUR %s created, status=%s, expires=%s\n", v.VMURID, v.Status, v.ExpiresAt.Format(time.RFC3339))

	approved, forked, err := workflow.Approve(context.Background(), v.VMURID, true, "coordinator-demo", "confirmed with caregiver", time.Now())
	if err != nil {
		fmt.Printf("VMUR approve failed: %v\n", err)
		return
	}
	fmt.Printf("VMUR %s approved, forked record %s amends %s\n", approved.VMURID, forked.RecordID, forked.Amends)
	fmt.Println()
}
