package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"support-chain/internal/domain"
	"support-chain/internal/usecase"
)

type stubRunner struct {
	out   domain.ChainResult
	err   error
	query string
	calls int
}

func (s *stubRunner) Run(_ context.Context, query string) (domain.ChainResult, error) {
	s.calls++
	s.query = query
	return s.out, s.err
}

func makeEvent(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/chain",
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

var sampleResult = domain.ChainResult{
	RunID: "run-1",
	Model: "minimax/minimax-m2:free",
	Outputs: []string{
		"Customer reports a $45 charge with no delivery.",
		"Billing Issue, Transaction Inquiry",
		"Billing Issue",
		"Order/transaction reference number",
		"Sorry about this. Could you share the order reference?",
	},
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)
}

func TestHandle_HappyPath(t *testing.T) {
	uc := &stubRunner{out: sampleResult}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`{"query":"I was charged $45 on March 2nd"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "I was charged $45 on March 2nd", uc.query)

	out := parseBody[ChainResponse](t, resp.Body)
	require.Equal(t, "run-1", out.RunID)
	require.Equal(t, "minimax/minimax-m2:free", out.Model)
	require.Len(t, out.Stages, domain.StageCount)
	require.Equal(t, StageOutput{Stage: 3, Name: "Category Selection", Output: "Billing Issue"}, out.Stages[2])
	require.False(t, out.ReadyToProceed)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
	require.Equal(t, "application/json", resp.Headers["Content-Type"])
}

func TestHandle_ReadyToProceed(t *testing.T) {
	res := sampleResult
	res.Outputs = append([]string(nil), sampleResult.Outputs...)
	res.Outputs[3] = "None needed"
	h, err := NewHandler(&stubRunner{out: res})
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`{"query":"hi"}`))
	require.NoError(t, err)
	require.True(t, parseBody[ChainResponse](t, resp.Body).ReadyToProceed)
}

func TestHandle_InvalidBody(t *testing.T) {
	uc := &stubRunner{}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Zero(t, uc.calls)

	out := parseBody[ErrorResponse](t, resp.Body)
	require.Equal(t, string(usecase.ErrorInvalidInput), out.Error)
}

func TestHandle_Base64Body(t *testing.T) {
	uc := &stubRunner{out: sampleResult}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	event := makeEvent(base64.StdEncoding.EncodeToString([]byte(`{"query":"card declined at the till"}`)))
	event.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "card declined at the till", uc.query)
}

func TestHandle_InvalidBase64Body(t *testing.T) {
	uc := &stubRunner{}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	event := makeEvent(`%%%not-base64`)
	event.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Zero(t, uc.calls)
}

func TestHandle_MethodNotAllowed(t *testing.T) {
	uc := &stubRunner{}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	event := makeEvent(`{"query":"hi"}`)
	event.HTTPMethod = http.MethodGet
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	require.Zero(t, uc.calls)
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
		stage  int
	}{
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_query"}, status: http.StatusBadRequest, code: "INVALID_INPUT"},
		{name: "rate limited", err: &usecase.Error{Code: usecase.ErrorRateLimited, Stage: domain.StageCategoryMapping}, status: http.StatusTooManyRequests, code: "RATE_LIMITED", stage: 2},
		{name: "http", err: &usecase.Error{Code: usecase.ErrorHTTP, Stage: domain.StageResponseDraft}, status: http.StatusBadGateway, code: "HTTP_FAILURE", stage: 5},
		{name: "transport", err: &usecase.Error{Code: usecase.ErrorTransport, Stage: domain.StageIntentSummary}, status: http.StatusBadGateway, code: "TRANSPORT_FAILURE", stage: 1},
		{name: "malformed", err: &usecase.Error{Code: usecase.ErrorMalformedResponse, Stage: domain.StageCategorySelection}, status: http.StatusBadGateway, code: "MALFORMED_RESPONSE", stage: 3},
		{name: "no model", err: &usecase.Error{Code: usecase.ErrorNoUsableModel}, status: http.StatusBadGateway, code: "NO_USABLE_MODEL"},
		{name: "cancelled", err: &usecase.Error{Code: usecase.ErrorCancelled, Stage: domain.StageMissingInformation}, status: http.StatusGatewayTimeout, code: "CANCELLED", stage: 4},
		{name: "credential", err: &usecase.Error{Code: usecase.ErrorCredentialMissing}, status: http.StatusInternalServerError, code: "CREDENTIAL_MISSING"},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "run_persist_error"}, status: http.StatusInternalServerError, code: "INTERNAL"},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: "INTERNAL"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, err := NewHandler(&stubRunner{err: tc.err})
			require.NoError(t, err)

			resp, err := h.Handle(context.Background(), makeEvent(`{"query":"What happened?"}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[ErrorResponse](t, resp.Body)
			require.Equal(t, tc.code, out.Error)
			require.Equal(t, tc.stage, out.Stage)
		})
	}
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h, err := NewHandler(&stubRunner{out: sampleResult})
	require.NoError(t, err)

	event := makeEvent(`{"query":"hi"}`)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func TestHandle_GeneratesCorrelationID(t *testing.T) {
	orig := newCorrelationID
	newCorrelationID = func() string { return "generated-1" }
	t.Cleanup(func() { newCorrelationID = orig })

	h, err := NewHandler(&stubRunner{err: errors.New("boom")})
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`{"query":"hi"}`))
	require.NoError(t, err)
	require.Equal(t, "generated-1", resp.Headers["X-Correlation-Id"])
}

func TestNewRunResponse(t *testing.T) {
	run := domain.NewRun("my query", sampleResult, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	resp := NewRunResponse(run)
	require.Equal(t, "my query", resp.Query)
	require.Equal(t, "run-1", resp.RunID)
	require.Len(t, resp.Stages, domain.StageCount)
	require.Equal(t, "Intent Summary", resp.Stages[0].Name)
}
