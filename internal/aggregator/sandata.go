package aggregator

import (
	"context"

	"github.com/neighborhood-lab/care-commons-sub013/internal/policy"
	"github.com/neighborhood-lab/care-commons-sub013/pkg/models"
)

// Sandata serves multiple states with one payload schema, the state
// code carried as a stateCode field in the JSON body rather than in
// the schema shape itself; no HTTP header carries the state code
// (spec.md §4.4 "Sandata (which serves multiple states with one
// payload schema, state parameterized)").
type Sandata struct {
	client     HTTPDoer
	cred       Credential
	tokens     *TokenSource
	endpoint   func(statePolicy policy.Row) string
}

// NewSandata builds the Sandata aggregator. The endpoint is the state
// policy row's SubmissionEndpoint; a credential is attached only
// through WithCredential, which neither the dispatcher nor NewRegistry
// calls. A zero-value Credential degrades to unauthenticated requests
// (used in tests against a fake HTTPDoer).
func NewSandata(client HTTPDoer) *Sandata {
	return &Sandata{
		client: client,
		endpoint: func(statePolicy policy.Row) string { return statePolicy.SubmissionEndpoint },
	}
}

// WithCredential returns a copy of s configured with an auth
// credential and token source.
func (s *Sandata) WithCredential(cred Credential, tokens *TokenSource) *Sandata {
	clone := *s
	clone.cred = cred
	clone.tokens = tokens
	return &clone
}

func (s *Sandata) Name() string { return "Sandata" }

func (s *Sandata) InvalidateAuth(ctx context.Context) {
	if s.tokens != nil {
		s.tokens.Invalidate(ctx)
	}
}

func (s *Sandata) Validate(record *models.Record, statePolicy policy.Row) (ValidationResult, error) {
	return baseValidate(record, statePolicy), nil
}

// sandataPayload is the single cross-state schema: the federal
// elements plus a stateCode body field distinguishing the submitting
// jurisdiction.
type sandataPayload struct {
	federalPayload
	StateCode string `json:"stateCode"`
}

func (s *Sandata) Submit(ctx context.Context, record *models.Record, statePolicy policy.Row) (SubmitResult, error) {
	payload := sandataPayload{federalPayload: buildFederalPayload(record), StateCode: statePolicy.StateCode}
	return postJSON(ctx, s.client, s.endpoint(statePolicy), payload, s.cred, s.tokens)
}
