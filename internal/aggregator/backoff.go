package aggregator

import (
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cespare/xxhash/v2"

	"github.com/neighborhood-lab/care-commons-sub013/pkg/models"
)

// Retry schedule constants from spec.md §4.4: base 60s, cap 3600s,
// jitter ±20%, maximum 6 attempts.
const (
	RetryBaseDelay  = 60 * time.Second
	RetryCapDelay   = 3600 * time.Second
	RetryJitter     = 0.20
	MaxAttempts     = 6
)

// scheduleBackOff implements spec.md §4.4's exact retry formula.
// cenkalti/backoff/v5's own ExponentialBackOff has slightly different
// jitter/cap semantics, so the formula is hand-implemented here. The
// type does not implement the library's BackOff interface: its
// NextBackOff returns a delay and an error, and it has no Reset, so it
// cannot be handed to the library's retry helpers.
type scheduleBackOff struct {
	attempt int
	rng     *rand.Rand
}

// newScheduleBackOff builds a fresh schedule starting at attempt 0.
func newScheduleBackOff(seed int64) *scheduleBackOff {
	return &scheduleBackOff{rng: rand.New(rand.NewSource(seed))}
}

// NextBackOff returns the next delay. Once the attempt budget is
// exhausted it returns a zero delay and a backoff.Permanent error.
func (s *scheduleBackOff) NextBackOff() (time.Duration, error) {
	if s.attempt >= MaxAttempts {
		return 0, backoff.Permanent(errMaxAttemptsExceeded)
	}
	delay := delayForAttempt(s.attempt, s.rng)
	s.attempt++
	return delay, nil
}

var errMaxAttemptsExceeded = &maxAttemptsError{}

type maxAttemptsError struct{}

func (*maxAttemptsError) Error() string { return "aggregator submission exhausted its retry budget" }

// delayForAttempt computes the base-60s, cap-3600s, doubling delay
// for a zero-indexed attempt number, then applies ±20% jitter.
func delayForAttempt(attempt int, rng *rand.Rand) time.Duration {
	raw := float64(RetryBaseDelay) * math.Pow(2, float64(attempt))
	if raw > float64(RetryCapDelay) {
		raw = float64(RetryCapDelay)
	}
	jitterFactor := 1.0 + (rng.Float64()*2-1)*RetryJitter
	return time.Duration(raw * jitterFactor)
}

// nthRetryDelay returns the delay before the nth retry (1-indexed) of
// a given record, seeded off the record id so the jitter is
// reproducible per record without persisting RNG state between
// dispatcher calls.
func nthRetryDelay(recordID models.RecordID, attemptNumber int) time.Duration {
	schedule := newScheduleBackOff(int64(xxhash.Sum64String(string(recordID))))
	delay := RetryBaseDelay
	for i := 0; i < attemptNumber; i++ {
		d, err := schedule.NextBackOff()
		if err != nil {
			return RetryCapDelay
		}
		delay = d
	}
	return delay
}
