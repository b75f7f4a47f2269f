package completion

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/sony/gobreaker"
)

// ErrBackendRequest marks a backend call that failed without exposing its
// transport cause. It is retried like a network failure.
var ErrBackendRequest = errors.New("completion backend request failed")

// ErrAttemptTimeout marks an attempt that ran past the client's per-call
// timeout while the caller's context was still live.
var ErrAttemptTimeout = errors.New("completion attempt timed out")

// Retryable reports whether err is a transient transport failure: an
// attempt timeout, a reset or aborted connection, a net.Error timeout, or an
// error whose message mentions a timeout or the network. Caller cancellation
// and an open circuit are never retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrAttemptTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, ErrBackendRequest) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "network") ||
		strings.Contains(msg, "connection reset")
}

// IsTimeout reports whether err is a deadline failure.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAttemptTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out")
}
