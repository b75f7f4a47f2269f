package completion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/teilomillet/lectern/config"
	lerrors "github.com/teilomillet/lectern/errors"
)

// Attempt outcomes reported to an Observer.
const (
	OutcomeSuccess     = "success"
	OutcomeRetryable   = "retryable"
	OutcomeFatal       = "fatal"
	OutcomeBreakerOpen = "breaker_open"
)

// Observer receives client events, typically for metrics.
type Observer interface {
	ObserveAttempt(outcome string)
	ObserveRetry(delay time.Duration)
	ObserveBreakerState(name string, from, to string)
}

type nopObserver struct{}

func (nopObserver) ObserveAttempt(string)                      {}
func (nopObserver) ObserveRetry(time.Duration)                 {}
func (nopObserver) ObserveBreakerState(string, string, string) {}

// Client sends requests to a Backend with a per-attempt timeout, retries
// transient failures with exponential backoff, and guards the backend with a
// circuit breaker. It is safe for concurrent use.
type Client struct {
	backend  Backend
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.Logger
	observer Observer

	timeout     time.Duration
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	multiplier  float64
}

// Option configures a Client.
type Option func(*Client)

// WithObserver sets the event observer.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithLogger sets the client's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient builds a client over backend from the LLM and breaker settings.
func NewClient(backend Backend, llm config.LLMConfig, cb config.CircuitBreakerConfig, opts ...Option) *Client {
	c := &Client{
		backend:     backend,
		logger:      zap.NewNop(),
		observer:    nopObserver{},
		timeout:     llm.Timeout,
		maxAttempts: llm.Retry.MaxAttempts,
		baseDelay:   llm.Retry.BaseDelay,
		maxDelay:    llm.Retry.MaxDelay,
		multiplier:  llm.Retry.Multiplier,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxAttempts < 1 {
		c.maxAttempts = 1
	}
	if c.multiplier < 1 {
		c.multiplier = 1
	}

	threshold := cb.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "completion",
		MaxRequests: cb.MaxRequests,
		Interval:    cb.Interval,
		Timeout:     cb.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("completion circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			c.observer.ObserveBreakerState(name, from.String(), to.String())
		},
		// Caller cancellation says nothing about the endpoint's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return c
}

// MaxAttempts returns the total number of calls Complete may make.
func (c *Client) MaxAttempts() int {
	return c.maxAttempts
}

// BreakerState returns the circuit breaker's current state.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.baseDelay
	eb.RandomizationFactor = 0
	eb.Multiplier = c.multiplier
	if c.maxDelay > 0 {
		eb.MaxInterval = c.maxDelay
	}
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.maxAttempts-1)), ctx)
}

// Complete returns the raw completion text for req. Transient failures are
// retried up to the attempt budget; when the budget is exhausted, or a fatal
// error occurs, it returns a single network_error or timeout_error wrapping
// every attempt's error.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	var (
		text     string
		attempts int
		errs     error
		last     error
	)

	operation := func() error {
		attempts++
		out, err := c.attempt(ctx, req)
		if err == nil {
			c.observer.ObserveAttempt(OutcomeSuccess)
			text = out
			return nil
		}

		last = err
		errs = multierr.Append(errs, fmt.Errorf("attempt %d: %w", attempts, err))
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			c.observer.ObserveAttempt(OutcomeBreakerOpen)
			return backoff.Permanent(err)
		case ctx.Err() != nil || !Retryable(err):
			c.observer.ObserveAttempt(OutcomeFatal)
			return backoff.Permanent(err)
		}
		c.observer.ObserveAttempt(OutcomeRetryable)
		return err
	}

	notify := func(err error, delay time.Duration) {
		c.observer.ObserveRetry(delay)
		c.logger.Warn("completion attempt failed, retrying",
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", c.maxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(operation, c.newBackOff(ctx), notify); err != nil {
		if last == nil {
			// The context ended before the first attempt.
			last = err
			errs = err
		}
		return "", c.aggregate(errs, last, attempts)
	}
	return text, nil
}

func (c *Client) attempt(ctx context.Context, req Request) (string, error) {
	attemptCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.backend.Complete(attemptCtx, req)
	})
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return "", fmt.Errorf("%w after %s: %w", ErrAttemptTimeout, c.timeout, err)
		}
		return "", err
	}
	return out.(string), nil
}

func (c *Client) aggregate(errs, last error, attempts int) error {
	msg := fmt.Sprintf("completion failed after %d attempt(s)", attempts)
	c.logger.Error("completion failed",
		zap.Int("attempts", attempts),
		zap.Bool("retryable", Retryable(last)),
		zap.Error(errs),
	)
	if IsTimeout(last) {
		return lerrors.NewTimeoutError(msg, attempts, errs)
	}
	return lerrors.NewNetworkError(msg, attempts, errs)
}
