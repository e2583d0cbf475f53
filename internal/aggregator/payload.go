package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/neighborhood-lab/care-commons-sub013/internal/errors"
	"github.com/neighborhood-lab/care-commons-sub013/internal/policy"
	"github.com/neighborhood-lab/care-commons-sub013/pkg/models"
)

// federalPayload carries the six federally required elements common
// to every aggregator wire format (spec.md §4.4 "Shared by all").
type federalPayload struct {
	ServiceType    string  `json:"serviceType"`
	MemberID       string  `json:"memberId"`
	ProviderID     string  `json:"providerId"`
	ProviderNPI    string  `json:"providerNpi,omitempty"`
	ServiceDate    string  `json:"serviceDate"`
	ServiceStart   string  `json:"serviceStart"`
	ServiceEnd     string  `json:"serviceEnd"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	AccuracyMeters float64 `json:"accuracyMeters"`
}

func buildFederalPayload(record *models.Record) federalPayload {
	p := federalPayload{
		ServiceType: record.ServiceTypeCode,
		MemberID:    string(record.ClientID),
		ProviderID:  string(record.Caregiver),
		ProviderNPI: record.ProviderNPI,
		ServiceDate: record.ServiceDate,
		Latitude:    record.Address.Coordinates.Latitude,
		Longitude:   record.Address.Coordinates.Longitude,
	}
	if record.ClockIn != nil {
		p.ServiceStart = record.ClockIn.Format(time.RFC3339)
	}
	if record.ClockOut != nil {
		p.ServiceEnd = record.ClockOut.Format(time.RFC3339)
	}
	if record.ClockInVerification != nil {
		p.AccuracyMeters = record.ClockInVerification.Accuracy
	}
	return p
}

// aggregatorResponse is the shared response envelope all three
// aggregator families are modeled as returning (spec.md §4.4
// "submit" return shape).
type aggregatorResponse struct {
	OK             bool   `json:"ok"`
	SubmissionID   string `json:"submissionId"`
	ConfirmationID string `json:"confirmationId"`
	ErrorCode      string `json:"errorCode"`
	ErrorMessage   string `json:"errorMessage"`
	Retriable      bool   `json:"retriable"`
	RetryAfter     int    `json:"retryAfter"`
}

// postJSON sends payload to endpoint, authenticates the request, and
// decodes an aggregatorResponse. Non-2xx HTTP statuses and transport
// errors are reported as KindAggregatorRetriable so the dispatcher's
// backoff loop picks them up; a well-formed error response in the
// body is reported according to its own Retriable field.
func postJSON(ctx context.Context, client HTTPDoer, endpoint string, payload any, cred Credential, tokens *TokenSource) (SubmitResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return SubmitResult{}, errors.Wrap(errors.KindAggregatorTerminal, "payload_encode_failed", "failed to encode aggregator payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return SubmitResult{}, errors.Wrap(errors.KindAggregatorTerminal, "request_build_failed", "failed to build aggregator request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := Authenticate(ctx, req, cred, tokens); err != nil {
		return SubmitResult{}, errors.Wrap(errors.KindAuthenticationFailed, "auth_failed", "aggregator authentication failed", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return SubmitResult{}, errors.Wrap(errors.KindAggregatorRetriable, "transport_error", "aggregator request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return SubmitResult{}, errors.New(errors.KindAuthenticationFailed, "unauthorized", "aggregator rejected credentials")
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return SubmitResult{Retriable: true}, errors.New(errors.KindAggregatorRetriable, fmt.Sprintf("http_%d", resp.StatusCode), "aggregator returned a retriable status")
	}

	var parsed aggregatorResponse
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return SubmitResult{}, errors.Wrap(errors.KindAggregatorRetriable, "response_read_failed", "failed to read aggregator response", err)
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return SubmitResult{}, errors.Wrap(errors.KindAggregatorTerminal, "response_decode_failed", "failed to decode aggregator response", err)
	}

	result := SubmitResult{
		OK: parsed.OK, SubmissionID: parsed.SubmissionID, ConfirmationID: parsed.ConfirmationID,
		ErrorCode: parsed.ErrorCode, ErrorMessage: parsed.ErrorMessage,
		Retriable: parsed.Retriable, RetryAfter: parsed.RetryAfter,
	}
	if !parsed.OK {
		kind := errors.KindAggregatorTerminal
		if parsed.Retriable {
			kind = errors.KindAggregatorRetriable
		}
		return result, errors.New(kind, parsed.ErrorCode, parsed.ErrorMessage)
	}
	return result, nil
}

// baseValidate runs the checks shared by every aggregator family.
func baseValidate(record *models.Record, statePolicy policy.Row) ValidationResult {
	result := ValidationResult{OK: true}
	if missing := federalElementsPresent(record); len(missing) > 0 {
		result.OK = false
		for _, m := range missing {
			result.Errors = append(result.Errors, "missing required element: "+m)
		}
	}
	if w := accuracyWarning(record, statePolicy); w != "" {
		result.Warnings = append(result.Warnings, w)
	}
	if w := npiWarning(record, statePolicy); w != "" {
		result.Warnings = append(result.Warnings, w)
	}
	return result
}
