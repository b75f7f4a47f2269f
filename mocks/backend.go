package mocks

import (
	"context"
	"sync"

	"github.com/teilomillet/lectern/completion"
)

// Reply is one scripted completion outcome.
type Reply struct {
	Text string
	Err  error
	// Block makes the call wait for context cancellation.
	Block bool
}

// ScriptedBackend replays replies in order and records every request. When
// the script runs out, Fallback is used for every further call.
type ScriptedBackend struct {
	mu       sync.Mutex
	replies  []Reply
	Fallback *Reply
	requests []completion.Request
}

var _ completion.Backend = (*ScriptedBackend)(nil)

// NewScriptedBackend returns a backend that answers with texts in order.
func NewScriptedBackend(texts ...string) *ScriptedBackend {
	b := &ScriptedBackend{}
	for _, t := range texts {
		b.replies = append(b.replies, Reply{Text: t})
	}
	return b
}

// Then appends replies to the script.
func (b *ScriptedBackend) Then(replies ...Reply) *ScriptedBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replies = append(b.replies, replies...)
	return b
}

// Always sets the reply used once the script is exhausted.
func (b *ScriptedBackend) Always(r Reply) *ScriptedBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Fallback = &r
	return b
}

// Complete implements completion.Backend.
func (b *ScriptedBackend) Complete(ctx context.Context, req completion.Request) (string, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	var r Reply
	switch {
	case len(b.replies) > 0:
		r = b.replies[0]
		b.replies = b.replies[1:]
	case b.Fallback != nil:
		r = *b.Fallback
	default:
		b.mu.Unlock()
		return "", nil
	}
	b.mu.Unlock()

	if r.Block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return r.Text, r.Err
}

// Requests returns every request received so far.
func (b *ScriptedBackend) Requests() []completion.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]completion.Request(nil), b.requests...)
}

// Calls returns the number of requests received.
func (b *ScriptedBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}
