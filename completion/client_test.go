package completion

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/teilomillet/lectern/config"
	lerrors "github.com/teilomillet/lectern/errors"
)

func testConfig() (config.LLMConfig, config.CircuitBreakerConfig) {
	cfg := config.DefaultConfig()
	llm := cfg.LLM
	llm.Timeout = 50 * time.Millisecond
	llm.Retry.BaseDelay = time.Millisecond
	llm.Retry.MaxDelay = 5 * time.Millisecond
	cb := cfg.CircuitBreaker
	cb.FailureThreshold = 100
	return llm, cb
}

type recordingObserver struct {
	outcomes []string
	retries  int
	states   []string
}

func (o *recordingObserver) ObserveAttempt(outcome string)     { o.outcomes = append(o.outcomes, outcome) }
func (o *recordingObserver) ObserveRetry(time.Duration)        { o.retries++ }
func (o *recordingObserver) ObserveBreakerState(_, _, to string) { o.states = append(o.states, to) }

func TestClientSuccess(t *testing.T) {
	llm, cb := testConfig()
	var got Request
	c := NewClient(BackendFunc(func(_ context.Context, req Request) (string, error) {
		got = req
		return "raw text", nil
	}), llm, cb)

	req := Request{Prompt: "hello", Tuning: Tuning{MaxTokens: 10}}
	out, err := c.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "raw text", out)
	assert.Equal(t, req, got)
}

func TestClientRetriesTransientFailure(t *testing.T) {
	llm, cb := testConfig()
	obs := &recordingObserver{}
	var calls int32
	c := NewClient(BackendFunc(func(context.Context, Request) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return "", fmt.Errorf("read tcp: %w", syscall.ECONNRESET)
		}
		return "second time lucky", nil
	}), llm, cb, WithObserver(obs))

	out, err := c.Complete(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "second time lucky", out)
	assert.EqualValues(t, 2, calls)
	assert.Equal(t, []string{OutcomeRetryable, OutcomeSuccess}, obs.outcomes)
	assert.Equal(t, 1, obs.retries)
}

func TestClientAlwaysTimingOutSurfacesOneAggregatedError(t *testing.T) {
	llm, cb := testConfig()
	var calls int32
	c := NewClient(BackendFunc(func(ctx context.Context, _ Request) (string, error) {
		atomic.AddInt32(&calls, 1)
		<-ctx.Done()
		return "", ctx.Err()
	}), llm, cb)

	start := time.Now()
	_, err := c.Complete(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.EqualValues(t, 2, calls, "default budget is two attempts")
	assert.True(t, lerrors.IsType(err, lerrors.TimeoutError))

	var le *lerrors.LecternError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, 2, le.Details["attempts"])
	assert.Len(t, multierr.Errors(le.Unwrap()), 2)
	assert.ErrorIs(t, err, ErrAttemptTimeout)
}

func TestClientFatalErrorIsNotRetried(t *testing.T) {
	llm, cb := testConfig()
	llm.Retry.MaxAttempts = 5
	var calls int32
	c := NewClient(BackendFunc(func(context.Context, Request) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", errors.New("401 unauthorized")
	}), llm, cb)

	_, err := c.Complete(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.EqualValues(t, 1, calls)
	assert.True(t, lerrors.IsType(err, lerrors.NetworkError))
	assert.Contains(t, err.Error(), "401 unauthorized")
}

func TestClientRespectsAttemptBudget(t *testing.T) {
	tests := []struct {
		attempts int
	}{
		{1}, {2}, {4},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d attempts", tt.attempts), func(t *testing.T) {
			llm, cb := testConfig()
			llm.Retry.MaxAttempts = tt.attempts
			var calls int32
			c := NewClient(BackendFunc(func(context.Context, Request) (string, error) {
				atomic.AddInt32(&calls, 1)
				return "", errors.New("network unreachable")
			}), llm, cb)

			_, err := c.Complete(context.Background(), Request{Prompt: "p"})
			require.Error(t, err)
			assert.EqualValues(t, tt.attempts, calls)
			assert.Equal(t, tt.attempts, c.MaxAttempts())
		})
	}
}

func TestClientCancelledDuringBackoff(t *testing.T) {
	llm, cb := testConfig()
	llm.Retry.BaseDelay = time.Hour
	llm.Retry.MaxDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	c := NewClient(BackendFunc(func(context.Context, Request) (string, error) {
		atomic.AddInt32(&calls, 1)
		time.AfterFunc(20*time.Millisecond, cancel)
		return "", errors.New("network blip")
	}), llm, cb)

	done := make(chan error, 1)
	go func() {
		_, err := c.Complete(ctx, Request{Prompt: "p"})
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.EqualValues(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("backoff sleep did not honor cancellation")
	}
}

func TestClientCircuitBreakerOpens(t *testing.T) {
	llm, cb := testConfig()
	llm.Retry.MaxAttempts = 1
	cb.FailureThreshold = 2
	cb.Timeout = time.Hour

	obs := &recordingObserver{}
	var calls int32
	c := NewClient(BackendFunc(func(context.Context, Request) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", errors.New("network down")
	}), llm, cb, WithObserver(obs))

	for i := 0; i < 2; i++ {
		_, err := c.Complete(context.Background(), Request{Prompt: "p"})
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, c.BreakerState())

	_, err := c.Complete(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.EqualValues(t, 2, calls, "open breaker must not reach the backend")
	assert.Contains(t, obs.states, "open")
	assert.Equal(t, OutcomeBreakerOpen, obs.outcomes[len(obs.outcomes)-1])
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"connection aborted", syscall.ECONNABORTED, true},
		{"attempt timeout", ErrAttemptTimeout, true},
		{"deadline", context.DeadlineExceeded, true},
		{"backend request", fmt.Errorf("%w: API error: status code 500", ErrBackendRequest), true},
		{"timeout message", errors.New("Client.Timeout exceeded while awaiting headers"), true},
		{"network message", errors.New("network is unreachable"), true},
		{"caller cancelled", context.Canceled, false},
		{"breaker open", gobreaker.ErrOpenState, false},
		{"auth failure", errors.New("401 unauthorized"), false},
		{"bad request", errors.New("invalid model"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}

func TestRequestMessages(t *testing.T) {
	req := Request{
		System:  "be kind",
		History: []Message{{Role: RoleAssistant, Content: "earlier answer"}},
		Prompt:  "continue",
	}

	assert.Equal(t, []Message{
		{Role: RoleSystem, Content: "be kind"},
		{Role: RoleAssistant, Content: "earlier answer"},
		{Role: RoleUser, Content: "continue"},
	}, req.Messages())

	bare := Request{Prompt: "hi"}
	assert.Equal(t, []Message{{Role: RoleUser, Content: "hi"}}, bare.Messages())
}

func TestRequestCopiesAreIndependent(t *testing.T) {
	orig := Request{Prompt: "a", Tuning: Tuning{Stop: []string{"END"}}}

	next := orig.WithPrompt("b", Message{Role: RoleAssistant, Content: "x"})
	next.Tuning.Stop[0] = "CHANGED"

	assert.Equal(t, "a", orig.Prompt)
	assert.Empty(t, orig.History)
	assert.Equal(t, "END", orig.Tuning.Stop[0])

	tuned := orig.WithTuning(Tuning{MaxTokens: 5})
	assert.Equal(t, 5, tuned.Tuning.MaxTokens)
	assert.Equal(t, 0, orig.Tuning.MaxTokens)
}
