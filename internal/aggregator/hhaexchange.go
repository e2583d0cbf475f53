package aggregator

import (
	"context"

	"github.com/neighborhood-lab/care-commons-sub013/internal/policy"
	"github.com/neighborhood-lab/care-commons-sub013/pkg/models"
)

// HHAeXchange serves Texas and Florida with more per-state variation
// than Sandata: each state gets its own payload schema (spec.md §4.4
// "HHAeXchange (Texas + Florida, more variation)").
type HHAeXchange struct {
	client   HTTPDoer
	cred     Credential
	tokens   *TokenSource
	endpoint func(statePolicy policy.Row) string
}

func NewHHAeXchange(client HTTPDoer) *HHAeXchange {
	return &HHAeXchange{
		client:   client,
		endpoint: func(statePolicy policy.Row) string { return statePolicy.SubmissionEndpoint },
	}
}

func (h *HHAeXchange) WithCredential(cred Credential, tokens *TokenSource) *HHAeXchange {
	clone := *h
	clone.cred = cred
	clone.tokens = tokens
	return &clone
}

func (h *HHAeXchange) Name() string { return "HHAeXchange" }

func (h *HHAeXchange) InvalidateAuth(ctx context.Context) {
	if h.tokens != nil {
		h.tokens.Invalidate(ctx)
	}
}

func (h *HHAeXchange) Validate(record *models.Record, statePolicy policy.Row) (ValidationResult, error) {
	result := baseValidate(record, statePolicy)
	if statePolicy.StateCode == "TX" {
		if _, ok := record.StateData["evv_attendant_id"]; !ok {
			result.OK = false
			result.Errors = append(result.Errors, "missing required element: evv_attendant_id")
		}
	}
	return result, nil
}

// texasPayload adds the Texas-specific attendant id field HHAeXchange
// requires on top of the federal elements.
type texasPayload struct {
	federalPayload
	EVVAttendantID string `json:"evvAttendantId"`
}

// floridaPayload adds the Florida-specific background-screening
// reference HHAeXchange requires.
type floridaPayload struct {
	federalPayload
	Level2ScreeningRef string `json:"level2ScreeningRef"`
}

func (h *HHAeXchange) Submit(ctx context.Context, record *models.Record, statePolicy policy.Row) (SubmitResult, error) {
	var payload any
	switch statePolicy.StateCode {
	case "TX":
		attendantID, _ := record.StateData["evv_attendant_id"].(string)
		payload = texasPayload{federalPayload: buildFederalPayload(record), EVVAttendantID: attendantID}
	case "FL":
		ref, _ := record.StateData["level2_screening_ref"].(string)
		payload = floridaPayload{federalPayload: buildFederalPayload(record), Level2ScreeningRef: ref}
	default:
		payload = buildFederalPayload(record)
	}
	return postJSON(ctx, h.client, h.endpoint(statePolicy), payload, h.cred, h.tokens)
}
