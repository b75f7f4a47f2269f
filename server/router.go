package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/teilomillet/lectern/config"
	"github.com/teilomillet/lectern/errors"
	"github.com/teilomillet/lectern/metrics"
	"github.com/teilomillet/lectern/server/middleware"
)

// NewRouter mounts the API on a chi router with the middleware stack.
func NewRouter(h *Handler, cfg config.ServerConfig, m *metrics.Metrics, logger *zap.Logger) chi.Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTimer)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS)
	if m != nil {
		r.Use(middleware.PrometheusMetrics(m))
	}
	if cfg.RateLimit > 0 {
		r.Use(middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, m).Middleware)
	}
	r.Use(middleware.Timeout(cfg.WriteTimeout))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		errors.WriteError(w, errors.NewError(errors.NotFoundError, "no route for "+r.URL.Path,
			http.StatusNotFound, middleware.GetRequestID(r.Context()), nil, nil))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		errors.WriteError(w, errors.NewError(errors.ValidationError, "method not allowed",
			http.StatusMethodNotAllowed, middleware.GetRequestID(r.Context()),
			map[string]interface{}{"method": r.Method}, nil))
	})

	r.Get("/health", h.Health)
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}
	r.Route("/v1", func(r chi.Router) {
		r.Get("/schemas", h.Schemas)
		r.Post("/generate/{schema}", h.Generate)
		r.Post("/chat", h.Chat)
	})
	return r
}
