package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"support-chain/internal/api/middleware"
)

const correlationHeader = "X-Correlation-Id"

// SetupRouter creates and configures the HTTP router. timeout bounds each
// request and should cover a whole chain run.
func SetupRouter(h *Handler, logger *zap.Logger, timeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(correlationID)
	r.Use(middleware.Logger(logger))
	if timeout > 0 {
		r.Use(chimiddleware.Timeout(timeout))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/chain", h.RunChain)
		if h.runs != nil {
			r.Get("/runs/{runID}", h.GetRun)
		}
	})

	return r
}

// correlationID echoes X-Correlation-Id, falling back to the request id.
func correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(correlationHeader)
		if id == "" {
			id = chimiddleware.GetReqID(r.Context())
		}
		w.Header().Set(correlationHeader, id)
		next.ServeHTTP(w, r)
	})
}
