package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/neighborhood-lab/care-commons-sub013/internal/evv/store"
	"github.com/neighborhood-lab/care-commons-sub013/internal/policy"
	"github.com/neighborhood-lab/care-commons-sub013/pkg/models"
)

// scriptedDoer returns one canned response per call, in order.
type scriptedDoer struct {
	responses []*http.Response
	calls     int
}

func (s *scriptedDoer) Do(*http.Request) (*http.Response, error) {
	resp := s.responses[s.calls]
	s.calls++
	return resp, nil
}

func jsonResponse(status int, body any) *http.Response {
	raw, _ := json.Marshal(body)
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(raw))}
}

func testQueue(t *testing.T) *Queue {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewQueue(rdb)
}

func completeRecordForSubmission() *models.Record {
	clockIn := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clockOut := clockIn.Add(time.Hour)
	return &models.Record{
		RecordID:        "record-1",
		ClientID:        "client-1",
		Caregiver:       "caregiver-1",
		StateCode:       "TX",
		ServiceTypeCode: "PERSONAL_CARE",
		ServiceDate:     "2026-03-01",
		Address:         models.ServiceAddress{Coordinates: models.Coordinates{Latitude: 30.2672, Longitude: -97.7431}},
		ClockIn:         &clockIn,
		ClockOut:        &clockOut,
		ClockInVerification: &models.Verification{Accuracy: 20},
		Status:          models.StatusComplete,
		StateData:       map[string]any{"evv_attendant_id": "12345"},
	}
}

func txPolicyLookup(string) (policy.Row, bool) { return policy.Texas(), true }

func TestDispatcher_Submit_SucceedsAndTransitionsToSubmitted(t *testing.T) {
	require := require.New(t)
	doer := &scriptedDoer{responses: []*http.Response{
		jsonResponse(http.StatusOK, aggregatorResponse{OK: true, SubmissionID: "sub-1", ConfirmationID: "conf-1"}),
	}}
	registry := NewRegistry(doer)
	repo := store.NewMemoryRepository()
	queue := testQueue(t)
	d := NewDispatcher(registry, repo, queue, txPolicyLookup, zap.NewNop(), nil)

	record := completeRecordForSubmission()
	submission, err := d.Submit(context.Background(), record)

	require.NoError(err)
	require.Equal(models.SubmissionSubmitted, submission.State)
	require.Equal("sub-1", submission.SubmissionID)
}

func TestDispatcher_Submit_RetriableFailureSchedulesRetry(t *testing.T) {
	require := require.New(t)
	doer := &scriptedDoer{responses: []*http.Response{
		jsonResponse(http.StatusServiceUnavailable, nil),
	}}
	registry := NewRegistry(doer)
	repo := store.NewMemoryRepository()
	queue := testQueue(t)
	d := NewDispatcher(registry, repo, queue, txPolicyLookup, zap.NewNop(), nil)

	record := completeRecordForSubmission()
	submission, err := d.Submit(context.Background(), record)

	require.Error(err)
	require.Equal(models.SubmissionAwaitingRetry, submission.State)
	require.Equal(1, submission.Attempts)
	require.True(submission.NextAttemptAt.After(time.Now()))
}

func TestDispatcher_Submit_ValidationFailureIsTerminal(t *testing.T) {
	require := require.New(t)
	doer := &scriptedDoer{responses: []*http.Response{}}
	registry := NewRegistry(doer)
	repo := store.NewMemoryRepository()
	queue := testQueue(t)
	d := NewDispatcher(registry, repo, queue, txPolicyLookup, zap.NewNop(), nil)

	record := completeRecordForSubmission()
	record.StateData = map[string]any{} // missing evv_attendant_id

	submission, err := d.Submit(context.Background(), record)

	require.Error(err)
	require.Equal(models.SubmissionRejected, submission.State)
}

func TestDispatcher_Submit_RejectsConcurrentSubmissionForSameRecord(t *testing.T) {
	require := require.New(t)
	doer := &scriptedDoer{responses: []*http.Response{
		jsonResponse(http.StatusOK, aggregatorResponse{OK: true, SubmissionID: "sub-2"}),
	}}
	registry := NewRegistry(doer)
	repo := store.NewMemoryRepository()
	queue := testQueue(t)
	d := NewDispatcher(registry, repo, queue, txPolicyLookup, zap.NewNop(), nil)

	record := completeRecordForSubmission()
	_, err := d.Submit(context.Background(), record)
	require.NoError(err)

	_, err = d.Submit(context.Background(), record)
	require.Error(err)
}

func TestDispatcher_Submit_AuthenticationFailedRefreshesAndRetriesOnce(t *testing.T) {
	require := require.New(t)
	doer := &scriptedDoer{responses: []*http.Response{
		{StatusCode: http.StatusUnauthorized, Body: io.NopCloser(bytes.NewReader(nil))},
		jsonResponse(http.StatusOK, aggregatorResponse{OK: true, SubmissionID: "sub-auth-1"}),
	}}
	registry := NewRegistry(doer)
	repo := store.NewMemoryRepository()
	queue := testQueue(t)
	d := NewDispatcher(registry, repo, queue, txPolicyLookup, zap.NewNop(), nil)

	record := completeRecordForSubmission()
	submission, err := d.Submit(context.Background(), record)

	require.NoError(err)
	require.Equal(models.SubmissionSubmitted, submission.State)
	require.Equal("sub-auth-1", submission.SubmissionID)
	require.Equal(2, doer.calls)
}

func TestDispatcher_Submit_AuthenticationFailedTwiceParksAsTerminal(t *testing.T) {
	require := require.New(t)
	doer := &scriptedDoer{responses: []*http.Response{
		{StatusCode: http.StatusUnauthorized, Body: io.NopCloser(bytes.NewReader(nil))},
		{StatusCode: http.StatusUnauthorized, Body: io.NopCloser(bytes.NewReader(nil))},
	}}
	registry := NewRegistry(doer)
	repo := store.NewMemoryRepository()
	queue := testQueue(t)
	d := NewDispatcher(registry, repo, queue, txPolicyLookup, zap.NewNop(), nil)

	record := completeRecordForSubmission()
	submission, err := d.Submit(context.Background(), record)

	require.Error(err)
	require.Equal(models.SubmissionRejected, submission.State)
	require.Equal(2, doer.calls)
}

func TestDispatcher_PollRetries_ResubmitsDueRecords(t *testing.T) {
	require := require.New(t)
	doer := &scriptedDoer{responses: []*http.Response{
		jsonResponse(http.StatusServiceUnavailable, nil),
		jsonResponse(http.StatusOK, aggregatorResponse{OK: true, SubmissionID: "sub-3"}),
	}}
	registry := NewRegistry(doer)
	repo := store.NewMemoryRepository()
	record := completeRecordForSubmission()
	require.NoError(repo.Save(context.Background(), record, 0))

	queue := testQueue(t)
	d := NewDispatcher(registry, repo, queue, txPolicyLookup, zap.NewNop(), nil)

	_, err := d.Submit(context.Background(), record)
	require.Error(err) // first attempt fails retriable

	submission, err := queue.Get(context.Background(), record.RecordID)
	require.NoError(err)
	submission.NextAttemptAt = time.Now().Add(-time.Second) // force it due now
	require.NoError(queue.Save(context.Background(), submission))

	processed, err := d.PollRetries(context.Background(), 10)
	require.NoError(err)
	require.Equal(1, processed)

	final, err := queue.Get(context.Background(), record.RecordID)
	require.NoError(err)
	require.Equal(models.SubmissionSubmitted, final.State)
}
