package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"github.com/teilomillet/lectern/errors"
	"github.com/teilomillet/lectern/metrics"
)

// RateLimiter limits requests per client IP with a token bucket.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	metrics *metrics.Metrics

	mu       sync.Mutex
	visitors map[string]*rate.Limiter
}

// NewRateLimiter allows perSecond requests per client with the given burst.
// m may be nil.
func NewRateLimiter(perSecond float64, burst int, m *metrics.Metrics) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		metrics:  m,
		visitors: make(map[string]*rate.Limiter),
	}
}

func (l *RateLimiter) getOrCreate(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.visitors[ip]
	if !exists {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.visitors[ip] = limiter
	}
	return limiter
}

// Reset forgets every client.
func (l *RateLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.visitors = make(map[string]*rate.Limiter)
}

// Middleware rejects requests over the limit with 429.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if l.getOrCreate(ip).Allow() {
			next.ServeHTTP(w, r)
			return
		}

		if l.metrics != nil {
			l.metrics.RateLimitHits.WithLabelValues(ip).Inc()
		}
		retryAfter := 1
		if l.limit > 0 {
			retryAfter = int(math.Ceil(1 / float64(l.limit)))
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		errors.WriteError(w, errors.NewRateLimitError(GetRequestID(r.Context()), retryAfter))
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
