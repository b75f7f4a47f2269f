// Package completion talks to the remote text-completion endpoint. It owns
// the request model, the retrying client with its circuit breaker, failure
// classification, and the backends that speak to concrete providers.
package completion

import (
	"context"
	"strings"
)

// Role tags a message in a role-based prompt.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged prompt message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Tuning holds per-call generation parameters.
type Tuning struct {
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float64  `json:"temperature"`
	Stop        []string `json:"stop,omitempty"`
}

// Request is a completion request. Treat it as immutable: the With helpers
// return modified copies.
type Request struct {
	// System is the optional system message.
	System string
	// History holds earlier turns sent before Prompt, such as a previous
	// answer being continued.
	History []Message
	// Prompt is the user message.
	Prompt string
	Tuning Tuning
	// StrictJSON marks requests whose answer must be marker-wrapped JSON.
	StrictJSON bool
}

// Messages returns the request as role-tagged messages: the system message if
// any, then History, then the user prompt.
func (r Request) Messages() []Message {
	msgs := make([]Message, 0, len(r.History)+2)
	if strings.TrimSpace(r.System) != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: r.System})
	}
	msgs = append(msgs, r.History...)
	if r.Prompt != "" {
		msgs = append(msgs, Message{Role: RoleUser, Content: r.Prompt})
	}
	return msgs
}

// WithPrompt returns a copy of r with a new user prompt and history.
func (r Request) WithPrompt(prompt string, history ...Message) Request {
	out := r
	out.Prompt = prompt
	out.History = append([]Message(nil), history...)
	out.Tuning.Stop = append([]string(nil), r.Tuning.Stop...)
	return out
}

// WithTuning returns a copy of r with different tuning.
func (r Request) WithTuning(t Tuning) Request {
	out := r
	out.History = append([]Message(nil), r.History...)
	out.Tuning = t
	out.Tuning.Stop = append([]string(nil), t.Stop...)
	return out
}

// Result records one network call and its text. Raw is kept verbatim;
// Normalized is derived from it.
type Result struct {
	Raw        string
	Normalized string
	// Attempts lists extraction strategies tried against this result.
	Attempts []string
	// Calls is the number of completion calls that produced Raw.
	Calls int
}

// Backend performs a single completion call.
type Backend interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, req Request) (string, error)

// Complete implements Backend.
func (f BackendFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Completer is what the rest of the engine depends on; Client implements it.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}
