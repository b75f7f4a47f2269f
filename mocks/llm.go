// Package mocks provides test doubles for the completion capability and the
// configuration watcher.
package mocks

import (
	"context"
	"sync"

	"github.com/teilomillet/gollm"
	"github.com/teilomillet/gollm/llm"
	"github.com/teilomillet/gollm/utils"
)

// MockLLM implements gollm.LLM for tests. Generate delegates to GenerateFunc
// and every prompt is recorded. Options and endpoints set through the
// interface are captured so tests can assert on backend configuration.
//
// Example usage:
//
//	mockLLM := NewMockLLM(func(ctx context.Context, prompt *gollm.Prompt) (string, error) {
//	    return "mocked response", nil
//	})
type MockLLM struct {
	GenerateFunc func(context.Context, *gollm.Prompt) (string, error)
	DebugFunc    func(string, ...interface{})
	Provider     string
	Model        string

	mu       sync.Mutex
	prompts  []*gollm.Prompt
	options  map[string]interface{}
	endpoint string
}

// NewMockLLM creates a new MockLLM with optional generate function.
// If generateFunc is nil, Generate will return empty string with no error.
func NewMockLLM(generateFunc func(context.Context, *gollm.Prompt) (string, error)) *MockLLM {
	return NewMockLLMWithConfig("mock", "mock-model", generateFunc)
}

// NewMockLLMWithConfig creates a new MockLLM with specific provider and model names
func NewMockLLMWithConfig(provider, model string, generateFunc func(context.Context, *gollm.Prompt) (string, error)) *MockLLM {
	return &MockLLM{
		GenerateFunc: generateFunc,
		Provider:     provider,
		Model:        model,
		options:      make(map[string]interface{}),
	}
}

// Generate records the prompt and calls GenerateFunc.
func (m *MockLLM) Generate(ctx context.Context, prompt *gollm.Prompt, opts ...llm.GenerateOption) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt)
	}
	return "", nil
}

// Prompts returns every prompt passed to Generate.
func (m *MockLLM) Prompts() []*gollm.Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*gollm.Prompt(nil), m.prompts...)
}

// Option returns an option captured by SetOption.
func (m *MockLLM) Option(key string) (interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.options[key]
	return v, ok
}

// Endpoint returns the endpoint captured by SetEndpoint or SetOllamaEndpoint.
func (m *MockLLM) Endpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoint
}

// Debug captures debug messages if DebugFunc is provided.
func (m *MockLLM) Debug(format string, args ...interface{}) {
	if m.DebugFunc != nil {
		m.DebugFunc(format, args...)
	}
}

// GetPromptJSONSchema returns a minimal valid JSON schema.
func (m *MockLLM) GetPromptJSONSchema(opts ...gollm.SchemaOption) ([]byte, error) {
	return []byte(`{}`), nil
}

// GetProvider returns the mock provider name
func (m *MockLLM) GetProvider() string {
	return m.Provider
}

// GetModel returns the mock model name
func (m *MockLLM) GetModel() string {
	return m.Model
}

// GetLogLevel returns a default log level.
func (m *MockLLM) GetLogLevel() gollm.LogLevel {
	return gollm.LogLevelInfo
}

// UpdateLogLevel is a no-op in the mock.
func (m *MockLLM) UpdateLogLevel(level gollm.LogLevel) {}

// SetLogLevel is a no-op in the mock.
func (m *MockLLM) SetLogLevel(level gollm.LogLevel) {}

// GetLogger returns nil; the mock does not log.
func (m *MockLLM) GetLogger() utils.Logger {
	return nil
}

// NewPrompt creates a simple prompt with user role.
func (m *MockLLM) NewPrompt(text string) *gollm.Prompt {
	return &gollm.Prompt{
		Messages: []gollm.PromptMessage{
			{Role: "user", Content: text},
		},
	}
}

// SetEndpoint records the endpoint.
func (m *MockLLM) SetEndpoint(endpoint string) {
	m.mu.Lock()
	m.endpoint = endpoint
	m.mu.Unlock()
}

// SetOption records the option.
func (m *MockLLM) SetOption(key string, value interface{}) {
	m.mu.Lock()
	m.options[key] = value
	m.mu.Unlock()
}

// SupportsJSONSchema returns true to indicate schema support.
func (m *MockLLM) SupportsJSONSchema() bool {
	return true
}

// GenerateWithSchema uses the standard Generate function.
func (m *MockLLM) GenerateWithSchema(ctx context.Context, prompt *gollm.Prompt, schema interface{}, opts ...llm.GenerateOption) (string, error) {
	return m.Generate(ctx, prompt, opts...)
}

// SetOllamaEndpoint records the endpoint.
func (m *MockLLM) SetOllamaEndpoint(endpoint string) error {
	m.SetEndpoint(endpoint)
	return nil
}

// SetSystemPrompt is a no-op in the mock.
func (m *MockLLM) SetSystemPrompt(prompt string, cacheType llm.CacheType) {}
