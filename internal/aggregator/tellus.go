package aggregator

import (
	"context"

	"github.com/neighborhood-lab/care-commons-sub013/internal/policy"
	"github.com/neighborhood-lab/care-commons-sub013/pkg/models"
)

// Tellus is a third aggregator family, the same shape as Sandata
// (single cross-state schema) but listed separately per spec.md §4.4
// ("Concrete implementations in scope: at least Sandata … HHAeXchange
// … Tellus, and others — all the same shape").
type Tellus struct {
	client   HTTPDoer
	cred     Credential
	tokens   *TokenSource
	endpoint func(statePolicy policy.Row) string
}

func NewTellus(client HTTPDoer) *Tellus {
	return &Tellus{
		client:   client,
		endpoint: func(statePolicy policy.Row) string { return statePolicy.SubmissionEndpoint },
	}
}

func (t *Tellus) WithCredential(cred Credential, tokens *TokenSource) *Tellus {
	clone := *t
	clone.cred = cred
	clone.tokens = tokens
	return &clone
}

func (t *Tellus) Name() string { return "Tellus" }

func (t *Tellus) InvalidateAuth(ctx context.Context) {
	if t.tokens != nil {
		t.tokens.Invalidate(ctx)
	}
}

func (t *Tellus) Validate(record *models.Record, statePolicy policy.Row) (ValidationResult, error) {
	return baseValidate(record, statePolicy), nil
}

func (t *Tellus) Submit(ctx context.Context, record *models.Record, statePolicy policy.Row) (SubmitResult, error) {
	payload := buildFederalPayload(record)
	return postJSON(ctx, t.client, t.endpoint(statePolicy), payload, t.cred, t.tokens)
}
