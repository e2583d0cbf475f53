package aggregator

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	internalerrors "github.com/neighborhood-lab/care-commons-sub013/internal/errors"
	"github.com/neighborhood-lab/care-commons-sub013/internal/evv/store"
	"github.com/neighborhood-lab/care-commons-sub013/internal/policy"
	"github.com/neighborhood-lab/care-commons-sub013/internal/telemetry"
	"github.com/neighborhood-lab/care-commons-sub013/pkg/models"
)

// Dispatcher drives the Aggregator Dispatcher's own submission state
// machine (spec.md §4.4), wrapping each aggregator's outbound calls in
// a circuit breaker so a degraded endpoint fails fast instead of
// burning the per-record retry budget on one incident (SPEC_FULL.md
// §4.4a).
type Dispatcher struct {
	registry Registry
	records  store.Repository
	queue    *Queue
	policies func(stateCode string) (policy.Row, bool)
	breakers map[string]*gobreaker.CircuitBreaker
	logger   *zap.Logger
	metrics  *telemetry.Metrics
}

// NewDispatcher builds a Dispatcher. policies resolves a state code
// to its policy row (typically config.PolicyTable.Get). metrics may be
// nil (tests and cmd/evvdemo pass nil; cmd/evvserver passes the real
// bundle).
func NewDispatcher(registry Registry, records store.Repository, queue *Queue, policies func(string) (policy.Row, bool), logger *zap.Logger, metrics *telemetry.Metrics) *Dispatcher {
	d := &Dispatcher{registry: registry, records: records, queue: queue, policies: policies, breakers: make(map[string]*gobreaker.CircuitBreaker), logger: logger, metrics: metrics}
	return d
}

// recordSubmission reports one aggregator submission outcome to
// Prometheus (SPEC_FULL.md §4.6), a no-op when no metrics bundle was
// supplied.
func (d *Dispatcher) recordSubmission(aggregatorName string, retriable bool) {
	if d.metrics != nil {
		d.metrics.RecordSubmission(aggregatorName, retriable)
	}
}

func (d *Dispatcher) breakerFor(aggregatorName string) *gobreaker.CircuitBreaker {
	if b, ok := d.breakers[aggregatorName]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        aggregatorName,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Warn("aggregator circuit breaker state change", zap.String("aggregator", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	d.breakers[aggregatorName] = b
	return b
}

// Submit drives one submission attempt for a Complete record (spec.md
// §4.4/§5): only valid from NotSubmitted or Awaiting-Retry, CAS-
// transitions to InFlight first so only one submission per record is
// ever in flight, validates, submits through the circuit breaker, and
// persists the resulting state.
func (d *Dispatcher) Submit(ctx context.Context, record *models.Record) (*Submission, error) {
	statePolicy, ok := d.policies(record.StateCode)
	if !ok {
		return nil, internalerrors.New(internalerrors.KindInputValidation, "unknown_state", "no policy for state").WithField("state", record.StateCode)
	}
	aggregatorImpl, ok := d.registry.For(statePolicy)
	if !ok {
		return nil, internalerrors.New(internalerrors.KindInputValidation, "unknown_aggregator", "no aggregator registered for state's default aggregator").WithField("aggregator", statePolicy.DefaultAggregator)
	}

	submission, err := d.queue.Get(ctx, record.RecordID)
	if err != nil {
		return nil, err
	}
	if submission.State != models.SubmissionNotSubmitted && submission.State != models.SubmissionAwaitingRetry {
		return nil, internalerrors.New(internalerrors.KindInvalidTransition, "submission_in_progress", "a submission is already in flight or terminal for this record").WithField("state", string(submission.State))
	}

	now := time.Now()
	submission.State = models.SubmissionInFlight
	submission.InFlightSince = &now
	if err := d.queue.Save(ctx, submission); err != nil {
		return nil, err
	}

	validation, err := aggregatorImpl.Validate(record, statePolicy)
	if err != nil {
		return d.terminal(ctx, submission, "validation_error", err.Error())
	}
	if !validation.OK {
		return d.terminal(ctx, submission, "validation_failed", joinErrors(validation.Errors))
	}

	breaker := d.breakerFor(aggregatorImpl.Name())
	out, submitErr := breaker.Execute(func() (any, error) {
		return aggregatorImpl.Submit(ctx, record, statePolicy)
	})

	// AuthenticationFailed gets one forced-refresh retry before parking
	// (spec.md §7 "AuthenticationFailed: Refresh + one retry, then
	// park"), distinct from the backoff-scheduled retry path every
	// other retriable failure takes.
	if submitErr != nil && internalerrors.Is(submitErr, internalerrors.KindAuthenticationFailed) {
		aggregatorImpl.InvalidateAuth(ctx)
		out, submitErr = breaker.Execute(func() (any, error) {
			return aggregatorImpl.Submit(ctx, record, statePolicy)
		})
	}

	if submitErr != nil {
		if errors.Is(submitErr, gobreaker.ErrOpenState) || errors.Is(submitErr, gobreaker.ErrTooManyRequests) {
			d.recordSubmission(aggregatorImpl.Name(), true)
			return d.retriable(ctx, submission, "circuit_open", submitErr.Error())
		}
		if internalerrors.Is(submitErr, internalerrors.KindAuthenticationFailed) {
			d.recordSubmission(aggregatorImpl.Name(), false)
			return d.terminal(ctx, submission, "authentication_failed", submitErr.Error())
		}
		if internalerrors.Retriable(submitErr) {
			d.recordSubmission(aggregatorImpl.Name(), true)
			return d.retriable(ctx, submission, "aggregator_retriable", submitErr.Error())
		}
		d.recordSubmission(aggregatorImpl.Name(), false)
		return d.terminal(ctx, submission, "aggregator_terminal", submitErr.Error())
	}

	d.recordSubmission(aggregatorImpl.Name(), false)
	result := out.(SubmitResult)
	submission.State = models.SubmissionSubmitted
	submission.SubmissionID = result.SubmissionID
	submission.ConfirmationID = result.ConfirmationID
	submission.InFlightSince = nil
	if err := d.queue.Save(ctx, submission); err != nil {
		return nil, err
	}
	return submission, nil
}

func (d *Dispatcher) retriable(ctx context.Context, submission *Submission, code, message string) (*Submission, error) {
	submission.Attempts++
	submission.LastErrorCode = code
	submission.LastError = message
	submission.InFlightSince = nil

	if submission.Attempts >= MaxAttempts {
		submission.State = models.SubmissionRejected
		if err := d.queue.Save(ctx, submission); err != nil {
			return nil, err
		}
		return submission, internalerrors.New(internalerrors.KindAggregatorTerminal, code, "retry budget exhausted: "+message)
	}

	delay := nthRetryDelay(submission.RecordID, submission.Attempts)
	submission.State = models.SubmissionAwaitingRetry
	submission.NextAttemptAt = time.Now().Add(delay)
	if err := d.queue.Save(ctx, submission); err != nil {
		return nil, err
	}
	return submission, internalerrors.New(internalerrors.KindAggregatorRetriable, code, message)
}

func (d *Dispatcher) terminal(ctx context.Context, submission *Submission, code, message string) (*Submission, error) {
	submission.State = models.SubmissionRejected
	submission.LastErrorCode = code
	submission.LastError = message
	submission.InFlightSince = nil
	if err := d.queue.Save(ctx, submission); err != nil {
		return nil, err
	}
	return submission, internalerrors.New(internalerrors.KindAggregatorTerminal, code, message)
}

// Acknowledge records a state-confirmed outcome for a Submitted
// record (spec.md §4.4 "Acknowledged"/"Rejected").
func (d *Dispatcher) Acknowledge(ctx context.Context, recordID models.RecordID, accepted bool, confirmationID string) (*Submission, error) {
	submission, err := d.queue.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if submission.State != models.SubmissionSubmitted {
		return nil, internalerrors.New(internalerrors.KindInvalidTransition, "not_submitted", "Acknowledge is only valid from Submitted").WithField("state", string(submission.State))
	}
	if accepted {
		submission.State = models.SubmissionAcknowledged
	} else {
		submission.State = models.SubmissionRejected
	}
	submission.ConfirmationID = confirmationID
	if err := d.queue.Save(ctx, submission); err != nil {
		return nil, err
	}
	return submission, nil
}

// ReapStuckInFlight promotes InFlight submissions whose call-timeout
// deadline has passed back to Awaiting-Retry (spec.md §5
// "Cancellation/timeouts": "a reaper promotes stuck InFlight records
// older than the call timeout back to Awaiting-Retry").
func (d *Dispatcher) ReapStuckInFlight(ctx context.Context, recordID models.RecordID, callTimeout time.Duration) error {
	submission, err := d.queue.Get(ctx, recordID)
	if err != nil {
		return err
	}
	if submission.State != models.SubmissionInFlight || submission.InFlightSince == nil {
		return nil
	}
	if time.Since(*submission.InFlightSince) <= callTimeout {
		return nil
	}
	submission.State = models.SubmissionAwaitingRetry
	submission.NextAttemptAt = time.Now()
	submission.InFlightSince = nil
	return d.queue.Save(ctx, submission)
}

// PollRetries drains up to limit due retries and resubmits each,
// intended to be called periodically by a background worker (spec.md
// §4.4 "retries are driven by a background worker that polls for
// records in Awaiting-Retry whose next-attempt-at has passed").
func (d *Dispatcher) PollRetries(ctx context.Context, limit int64) (int, error) {
	due, err := d.queue.DueForRetry(ctx, time.Now(), limit)
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, id := range due {
		record, err := d.records.Get(ctx, id)
		if err != nil {
			d.logger.Warn("retry worker could not load record", zap.String("recordId", string(id)), zap.Error(err))
			continue
		}
		if _, err := d.Submit(ctx, record); err != nil {
			d.logger.Info("aggregator retry attempt did not succeed", zap.String("recordId", string(id)), zap.Error(err))
		}
		processed++
	}
	return processed, nil
}

func joinErrors(errs []string) string {
	out := ""
	for i, e := range errs {
		if i > 0 {
			out += "; "
		}
		out += e
	}
	return out
}
