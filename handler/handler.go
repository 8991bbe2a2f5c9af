package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"

	"support-chain/internal/domain"
	"support-chain/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// ChainRunner runs one query through the chain.
type ChainRunner interface {
	Run(ctx context.Context, query string) (domain.ChainResult, error)
}

// Handler adapts API Gateway proxy events to the chain.
type Handler struct {
	uc     ChainRunner
	logger *zap.Logger
}

type Option func(*Handler)

func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHandler(uc ChainRunner, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: chain runner must not be nil")
	}
	h := &Handler{uc: uc, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = newCorrelationID()
	}
	ctx = ctxzap.ToContext(ctx, h.logger.With(zap.String("correlation_id", correlationID)))

	if event.HTTPMethod != "" && event.HTTPMethod != http.MethodPost {
		return jsonResponse(http.StatusMethodNotAllowed, correlationID, ErrorResponse{
			Error:  string(usecase.ErrorInvalidInput),
			Reason: "method_not_allowed",
		}), nil
	}

	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			ctxzap.Warn(ctx, "invalid base64 request body", zap.Error(err))
			return jsonResponse(http.StatusBadRequest, correlationID, ErrorResponse{
				Error:  string(usecase.ErrorInvalidInput),
				Reason: "invalid_body",
			}), nil
		}
		body = decoded
	}

	var req chainRequest
	if err := json.Unmarshal(body, &req); err != nil {
		ctxzap.Warn(ctx, "invalid request body", zap.Error(err))
		return jsonResponse(http.StatusBadRequest, correlationID, ErrorResponse{
			Error:  string(usecase.ErrorInvalidInput),
			Reason: "invalid_body",
		}), nil
	}

	res, err := h.uc.Run(ctx, req.Query)
	if err != nil {
		status, body := NewErrorResponse(err)
		ctxzap.Error(ctx, "chain run failed",
			zap.Int("status", status),
			zap.String("code", body.Error),
			zap.Int("stage", body.Stage),
			zap.Error(err),
		)
		return jsonResponse(status, correlationID, body), nil
	}

	return jsonResponse(http.StatusOK, correlationID, NewChainResponse(res)), nil
}

func jsonResponse(status int, correlationID string, body any) events.APIGatewayProxyResponse {
	buf, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		buf = []byte(`{"error":"` + string(usecase.ErrorInternal) + `"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(buf),
	}
}

// headerValue looks a header up case-insensitively; API Gateway does not
// normalise header names.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

var newCorrelationID = func() string {
	return uuid.NewString()
}
