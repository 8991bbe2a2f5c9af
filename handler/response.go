package handler

import (
	"errors"
	"net/http"

	"support-chain/internal/domain"
	"support-chain/internal/usecase"
)

type chainRequest struct {
	Query string `json:"query"`
}

// StageOutput is one stage of a chain response.
type StageOutput struct {
	Stage  int    `json:"stage"`
	Name   string `json:"name"`
	Output string `json:"output"`
}

// ChainResponse is the JSON body returned for a successful run.
type ChainResponse struct {
	RunID          string        `json:"runId"`
	Model          string        `json:"model,omitempty"`
	Query          string        `json:"query,omitempty"`
	Stages         []StageOutput `json:"stages"`
	ReadyToProceed bool          `json:"readyToProceed"`
}

// ErrorResponse is the JSON body returned for a failed run.
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
	Stage  int    `json:"stage,omitempty"`
}

func NewChainResponse(res domain.ChainResult) ChainResponse {
	stages := make([]StageOutput, 0, len(res.Outputs))
	for i, out := range res.Outputs {
		stage := domain.Stage(i + 1)
		stages = append(stages, StageOutput{Stage: int(stage), Name: stage.String(), Output: out})
	}
	return ChainResponse{
		RunID:          res.RunID,
		Model:          res.Model,
		Stages:         stages,
		ReadyToProceed: res.ReadyToProceed(),
	}
}

// NewRunResponse renders a stored run with the same shape as a live result.
func NewRunResponse(run domain.Run) ChainResponse {
	resp := NewChainResponse(domain.ChainResult{RunID: run.RunID, Model: run.Model, Outputs: run.Outputs})
	resp.Query = run.Query
	return resp
}

// NewErrorResponse maps err onto an HTTP status and error body. Errors that
// are not *usecase.Error are reported as internal.
func NewErrorResponse(err error) (int, ErrorResponse) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, ErrorResponse{Error: string(usecase.ErrorInternal)}
	}
	return statusFor(ucErr.Code), ErrorResponse{
		Error:  string(ucErr.Code),
		Reason: ucErr.Reason,
		Stage:  int(ucErr.Stage),
	}
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorHTTP, usecase.ErrorTransport, usecase.ErrorMalformedResponse, usecase.ErrorNoUsableModel:
		return http.StatusBadGateway
	case usecase.ErrorCancelled:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
