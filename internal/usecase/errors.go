package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"support-chain/internal/domain"
)

type ErrorCode string

const (
	ErrorInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrorCredentialMissing ErrorCode = "CREDENTIAL_MISSING"
	ErrorTransport         ErrorCode = "TRANSPORT_FAILURE"
	ErrorHTTP              ErrorCode = "HTTP_FAILURE"
	ErrorRateLimited       ErrorCode = "RATE_LIMITED"
	ErrorMalformedResponse ErrorCode = "MALFORMED_RESPONSE"
	ErrorNoUsableModel     ErrorCode = "NO_USABLE_MODEL"
	ErrorCancelled         ErrorCode = "CANCELLED"
	ErrorInternal          ErrorCode = "INTERNAL"
)

// Error is the failure returned by the chain. Stage is the 1-based stage that
// failed, or zero when the run failed before the first stage.
type Error struct {
	Code   ErrorCode
	Reason string
	Stage  domain.Stage
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	prefix := "usecase"
	if e.Stage > 0 {
		prefix = fmt.Sprintf("usecase: stage %d (%s)", int(e.Stage), e.Stage)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s (%s)", prefix, e.Code, e.Reason)
	}
	return fmt.Sprintf("%s: %s (%s): %v", prefix, e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

func newStageError(code ErrorCode, reason string, stage domain.Stage, err error) *Error {
	return &Error{Code: code, Reason: reason, Stage: stage, Err: err}
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

// classify maps a completion failure onto the error taxonomy.
func classify(stage domain.Stage, err error) *Error {
	var ucErr *Error
	if errors.As(err, &ucErr) {
		if ucErr.Stage == 0 {
			ucErr.Stage = stage
		}
		return ucErr
	}
	switch {
	case errors.Is(err, domain.ErrCredentialMissing):
		return newStageError(ErrorCredentialMissing, "credential_missing", stage, err)
	case errors.Is(err, context.Canceled):
		return newStageError(ErrorCancelled, "cancelled", stage, err)
	}
	if status, ok := upstreamStatusCode(err); ok {
		if status == http.StatusTooManyRequests {
			return newStageError(ErrorRateLimited, "completion_rate_limited", stage, err)
		}
		return newStageError(ErrorHTTP, "completion_http_error", stage, err)
	}
	switch {
	case errors.Is(err, domain.ErrTransport), errors.Is(err, context.DeadlineExceeded):
		return newStageError(ErrorTransport, "completion_transport_error", stage, err)
	case errors.Is(err, domain.ErrMalformedResponse):
		return newStageError(ErrorMalformedResponse, "completion_malformed_response", stage, err)
	default:
		return newStageError(ErrorInternal, "completion_error", stage, err)
	}
}
