package aggregator

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/neighborhood-lab/care-commons-sub013/pkg/models"
)

const (
	retryZSetKey  = "evv:aggregator:retry"
	submissionKey = "evv:aggregator:submission:"
)

// Submission is the Aggregator Dispatcher's own per-record state,
// distinct from models.AggregatorState (spec.md §4.4: "Submission
// state is a small state machine per record, separate from the EVV
// record's own status").
type Submission struct {
	RecordID       models.RecordID
	State          models.SubmissionState
	Attempts       int
	LastErrorCode  string
	LastError      string
	SubmissionID   string
	ConfirmationID string
	NextAttemptAt  time.Time
	InFlightSince  *time.Time
}

// Queue persists Submission state and the retry schedule in Redis:
// one JSON-encoded string key per record plus a sorted set of record
// ids keyed by their
// next-attempt-at, so the retry worker can `ZRANGEBYSCORE` for due
// work instead of scanning every record (spec.md §9 design note).
type Queue struct {
	rdb *redis.Client
}

func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

func (q *Queue) Get(ctx context.Context, recordID models.RecordID) (*Submission, error) {
	raw, err := q.rdb.Get(ctx, submissionKey+string(recordID)).Bytes()
	if err == redis.Nil {
		return &Submission{RecordID: recordID, State: models.SubmissionNotSubmitted}, nil
	}
	if err != nil {
		return nil, err
	}
	var s Submission
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (q *Queue) Save(ctx context.Context, s *Submission) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := q.rdb.Set(ctx, submissionKey+string(s.RecordID), raw, 0).Err(); err != nil {
		return err
	}
	if s.State == models.SubmissionAwaitingRetry {
		return q.rdb.ZAdd(ctx, retryZSetKey, redis.Z{
			Score:  float64(s.NextAttemptAt.Unix()),
			Member: string(s.RecordID),
		}).Err()
	}
	return q.rdb.ZRem(ctx, retryZSetKey, string(s.RecordID)).Err()
}

// DueForRetry returns up to limit record ids whose next-attempt-at
// has passed, and removes them from the retry set (the caller is
// responsible for re-adding them if the subsequent attempt fails
// again).
func (q *Queue) DueForRetry(ctx context.Context, now time.Time, limit int64) ([]models.RecordID, error) {
	members, err := q.rdb.ZRangeByScore(ctx, retryZSetKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    strconv.FormatInt(now.Unix(), 10),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]models.RecordID, len(members))
	for i, m := range members {
		ids[i] = models.RecordID(m)
	}
	if len(ids) > 0 {
		if err := q.rdb.ZRem(ctx, retryZSetKey, members).Err(); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

