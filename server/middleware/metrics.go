package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/teilomillet/lectern/metrics"
)

// PrometheusMetrics middleware records HTTP metrics using Prometheus. The
// endpoint label is the chi route pattern so that schema names in paths do
// not multiply series.
func PrometheusMetrics(m *metrics.Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.ActiveRequests.WithLabelValues("processing").Inc()
			defer m.ActiveRequests.WithLabelValues("processing").Dec()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			endpoint := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				endpoint = rc.RoutePattern()
			}
			code := ww.Status()
			if code == 0 {
				code = http.StatusOK
			}

			m.RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
			m.RequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

			if code >= 500 {
				m.ErrorsTotal.WithLabelValues("server_error").Inc()
			} else if code >= 400 {
				m.ErrorsTotal.WithLabelValues("client_error").Inc()
			}
		})
	}
}
