package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"

	"support-chain/handler"
	"support-chain/internal/domain"
	"support-chain/internal/usecase"
)

const maxRequestBody = 64 << 10

// RunReader loads stored runs.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (domain.Run, error)
}

type Handler struct {
	runner handler.ChainRunner
	runs   RunReader
}

// NewHandler builds the HTTP handlers. runs may be nil when no run table is
// configured; the run lookup route is then not registered.
func NewHandler(runner handler.ChainRunner, runs RunReader) (*Handler, error) {
	if runner == nil {
		return nil, errors.New("api: chain runner must not be nil")
	}
	return &Handler{runner: runner, runs: runs}, nil
}

// RunChain handles POST /v1/chain
func (h *Handler) RunChain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Query string `json:"query"`
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		ctxzap.Warn(ctx, "invalid request body", zap.Error(err))
		h.respondJSON(w, http.StatusBadRequest, handler.ErrorResponse{
			Error:  string(usecase.ErrorInvalidInput),
			Reason: "invalid_body",
		})
		return
	}

	res, err := h.runner.Run(ctx, req.Query)
	if err != nil {
		status, body := handler.NewErrorResponse(err)
		ctxzap.Error(ctx, "chain run failed",
			zap.Int("status", status),
			zap.String("code", body.Error),
			zap.Int("stage", body.Stage),
			zap.Error(err),
		)
		h.respondJSON(w, status, body)
		return
	}

	ctxzap.Info(ctx, "chain run served", zap.String("run_id", res.RunID))
	h.respondJSON(w, http.StatusOK, handler.NewChainResponse(res))
}

// GetRun handles GET /v1/runs/{runID}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "runID")

	run, err := h.runs.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			h.respondJSON(w, http.StatusNotFound, handler.ErrorResponse{Error: "NOT_FOUND"})
			return
		}
		ctxzap.Error(ctx, "failed to load run", zap.String("run_id", runID), zap.Error(err))
		h.respondJSON(w, http.StatusInternalServerError, handler.ErrorResponse{Error: string(usecase.ErrorInternal)})
		return
	}

	h.respondJSON(w, http.StatusOK, handler.NewRunResponse(run))
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
