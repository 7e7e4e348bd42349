package pip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"authzen/internal/platform/health"
	"authzen/internal/platform/metrics"
	dErrors "authzen/pkg/domain-errors"
	"authzen/pkg/platform/httputil"
	"authzen/pkg/platform/middleware/requestscope"
	"authzen/pkg/requestcontext"
)

// Handler serves PIP queries over HTTP.
type Handler struct {
	svc    *Service
	logger *slog.Logger
	checks map[string]health.Check
}

// NewHandler creates a Handler. checks back GET /health and are keyed by
// dependency name.
func NewHandler(svc *Service, logger *slog.Logger, checks map[string]health.Check) *Handler {
	return &Handler{svc: svc, logger: logger, checks: checks}
}

// Register registers the PIP routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.With(requestscope.Transaction).Post("/", h.handleQuery)
	r.Get("/health", health.Handler(h.logger, h.checks))
}

// NewRouter builds the full PIP server router including /metrics.
func NewRouter(h *Handler, httpMetrics *metrics.HTTP) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestscope.RequestID)
	r.Use(requestscope.RequestTime)
	r.Use(chimw.Recoverer)
	r.Use(httpMetrics.Middleware)
	h.Register(r)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := httputil.DecodeJSON[Request](r)
	if err != nil {
		h.writeError(ctx, w, fmt.Errorf("%w: %w", ErrDecode, err))
		return
	}
	res, err := h.svc.Query(ctx, *req)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	for k, v := range res.Header {
		w.Header()[k] = v
	}
	httputil.WriteRawJSON(w, http.StatusOK, res.Body)
}

// writeError maps serialization failures to 500, coded errors to their
// status and everything else to 400.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code := dErrors.CodeBadRequest
	switch {
	case errors.Is(err, ErrDecode), errors.Is(err, ErrEncode):
		code = dErrors.CodeInternal
	default:
		if c, ok := httputil.ErrorCode(err); ok {
			code = c
		}
	}
	h.logger.ErrorContext(ctx, "pip request failed",
		"request_id", requestcontext.RequestID(ctx),
		"code", string(code),
		"error", err,
	)
	httputil.WriteErrorCode(w, code, err)
}
