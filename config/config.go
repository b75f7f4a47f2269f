// Package config provides configuration management for the lectern
// reconciliation engine. It covers the completion backend, retry and circuit
// breaker tuning, the extraction and continuation thresholds, audit sinks,
// logging, and the HTTP boundary.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete engine configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	LLM            LLMConfig            `yaml:"llm"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Generation     GenerationConfig     `yaml:"generation"`
	Audit          AuditConfig          `yaml:"audit"`
	Logging        LoggingConfig        `yaml:"logging"`
}

// ServerConfig holds settings for the HTTP boundary.
type ServerConfig struct {
	// Port specifies the HTTP server port (default: 8080)
	Port int `yaml:"port"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body (default: 30s)
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response. Generation with continuations can be slow (default: 5m)
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// MaxHeaderBytes controls the maximum number of bytes the server will
	// read parsing the request header's keys and values (default: 1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// ShutdownTimeout specifies how long to wait for in-flight generations
	// before forcing termination (default: 30s)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RateLimit is the per-client request rate in requests per second
	RateLimit float64 `yaml:"rate_limit"`

	// RateBurst is the per-client burst size
	RateBurst int `yaml:"rate_burst"`
}

// LLMConfig holds the completion endpoint configuration.
type LLMConfig struct {
	// Backend selects the client implementation: "gollm" or "openai"
	Backend string `yaml:"backend"`

	// Provider specifies the gollm provider (e.g., "openai", "anthropic", "ollama")
	Provider string `yaml:"provider"`

	// Model is the name of the model to use
	Model string `yaml:"model"`

	// APIKey is the authentication key for the provider's API.
	// Use environment variables (e.g., ${OPENAI_API_KEY}) for secure configuration
	APIKey string `yaml:"api_key"`

	// Endpoint is the API base URL. For Ollama this is typically
	// "http://localhost:11434"
	Endpoint string `yaml:"endpoint"`

	// SystemPrompt is the default system message for every request
	SystemPrompt string `yaml:"system_prompt"`

	// Timeout bounds a single completion attempt (default: 60s)
	Timeout time.Duration `yaml:"timeout"`

	// Temperature is the default sampling temperature
	Temperature float64 `yaml:"temperature"`

	// MaxTokens is the default per-call token budget
	MaxTokens int `yaml:"max_tokens"`

	// Retry configures backoff for transient transport failures
	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig defines the retry behavior for failed completion calls.
type RetryConfig struct {
	// MaxAttempts is the total number of calls, including the first (default: 2)
	MaxAttempts int `yaml:"max_attempts"`

	// BaseDelay is the delay before the first retry (default: 1s)
	BaseDelay time.Duration `yaml:"base_delay"`

	// MaxDelay caps the delay between retries (default: 10s)
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier increases the delay after each retry (default: 2)
	Multiplier float64 `yaml:"multiplier"`
}

// CircuitBreakerConfig configures the breaker that wraps completion attempts.
type CircuitBreakerConfig struct {
	// MaxRequests is maximum number of requests allowed to pass through when in half-open state
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval is the cyclic period of the closed state for the circuit breaker
	Interval time.Duration `yaml:"interval"`

	// Timeout is the period of the open state until it becomes half-open
	Timeout time.Duration `yaml:"timeout"`

	// FailureThreshold is the number of consecutive failures needed to trip the circuit
	FailureThreshold uint32 `yaml:"failure_threshold"`
}

// GenerationConfig holds the reconciliation settings.
type GenerationConfig struct {
	// OpenMarker and CloseMarker delimit strict JSON answers
	OpenMarker  string `yaml:"open_marker"`
	CloseMarker string `yaml:"close_marker"`

	// Reformat enables the secondary "reformat to JSON" completion
	Reformat bool `yaml:"reformat"`

	// MaxConcurrent caps concurrent top-level generations
	MaxConcurrent int64 `yaml:"max_concurrent"`

	Continuation ContinuationConfig `yaml:"continuation"`
}

// ContinuationConfig holds the completeness heuristic thresholds.
type ContinuationConfig struct {
	// MaxIterations is the hard cap on completion calls per request,
	// counting the initial call (default: 8)
	MaxIterations int `yaml:"max_iterations"`

	// MinWords below which prose is considered truncated (default: 60)
	MinWords int `yaml:"min_words"`

	// MinBullets required when a list is expected (default: 3)
	MinBullets int `yaml:"min_bullets"`

	// FingerprintLength is the prefix length used for repetition detection (default: 140)
	FingerprintLength int `yaml:"fingerprint_length"`

	// MinChunkChars ends the loop when a continuation is shorter (default: 20)
	MinChunkChars int `yaml:"min_chunk_chars"`
}

// AuditConfig selects where generation audits go.
type AuditConfig struct {
	// Backend is one of: log, sqlite, bolt, memory, none
	Backend string `yaml:"backend"`

	// Path is the database file for sqlite and bolt
	Path string `yaml:"path"`

	// Async queues records and writes them from a background worker
	Async bool `yaml:"async"`

	// QueueSize bounds the async queue; records beyond it are dropped
	QueueSize int `yaml:"queue_size"`

	// TokenModel selects the tiktoken encoding used for token metrics
	TokenModel string `yaml:"token_model"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	// Level sets logging verbosity: debug, info, warn, error
	Level string `yaml:"level"`

	// Format specifies log output format: json or text
	Format string `yaml:"format"`
}

// DefaultConfig returns a configuration with the engine defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
			RateLimit:       2,
			RateBurst:       5,
		},
		LLM: LLMConfig{
			Backend:      "gollm",
			Provider:     "ollama",
			Model:        "llama3",
			Endpoint:     "http://localhost:11434",
			SystemPrompt: "You are a gentle, faithful assistant that writes Christian devotional content for children and their parents.",
			Timeout:      60 * time.Second,
			Temperature:  0.7,
			MaxTokens:    1024,
			Retry: RetryConfig{
				MaxAttempts: 2,
				BaseDelay:   time.Second,
				MaxDelay:    10 * time.Second,
				Multiplier:  2,
			},
		},
		CircuitBreaker: CircuitBreakerConfig{
			MaxRequests:      1,
			Interval:         30 * time.Second,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},
		Generation: GenerationConfig{
			OpenMarker:    "<JSON>",
			CloseMarker:   "</JSON>",
			Reformat:      true,
			MaxConcurrent: 8,
			Continuation: ContinuationConfig{
				MaxIterations:     8,
				MinWords:          60,
				MinBullets:        3,
				FingerprintLength: 140,
				MinChunkChars:     20,
			},
		},
		Audit: AuditConfig{
			Backend:    "log",
			QueueSize:  256,
			TokenModel: "gpt-4",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFile loads configuration from a YAML file
func LoadFile(filename string) (*Config, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// expandEnvVars resolves ${VAR} and ${VAR:-default} references. Values that
// themselves contain references are expanded until stable.
func expandEnvVars(s string) string {
	result := os.Expand(s, func(key string) string {
		if i := strings.Index(key, ":-"); i >= 0 {
			if val := os.Getenv(key[:i]); val != "" {
				return val
			}
			return key[i+2:]
		}
		return os.Getenv(key)
	})

	prev := ""
	for prev != result && strings.Contains(result, "${") {
		prev = result
		result = os.Expand(result, os.Getenv)
	}
	return result
}

// Load loads configuration from an io.Reader
func Load(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Start with defaults
	config := DefaultConfig()

	// Decode YAML on top of defaults
	dec := yaml.NewDecoder(strings.NewReader(expandEnvVars(string(data))))
	if err := dec.Decode(config); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("negative read timeout: %v", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("negative write timeout: %v", c.Server.WriteTimeout)
	}
	if c.Server.MaxHeaderBytes < 0 {
		return fmt.Errorf("negative max header bytes: %d", c.Server.MaxHeaderBytes)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("negative shutdown timeout: %v", c.Server.ShutdownTimeout)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("negative rate limit: %v", c.Server.RateLimit)
	}

	// LLM validation
	switch c.LLM.Backend {
	case "gollm", "openai":
	default:
		return fmt.Errorf("invalid LLM backend: %s", c.LLM.Backend)
	}
	if c.LLM.Backend == "gollm" && c.LLM.Provider == "" {
		return fmt.Errorf("empty LLM provider")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("empty LLM model")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM timeout must be positive: %v", c.LLM.Timeout)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("temperature out of range: %v", c.LLM.Temperature)
	}
	if c.LLM.MaxTokens < 0 {
		return fmt.Errorf("negative max tokens: %d", c.LLM.MaxTokens)
	}
	if c.LLM.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1: %d", c.LLM.Retry.MaxAttempts)
	}
	if c.LLM.Retry.BaseDelay < 0 || c.LLM.Retry.MaxDelay < 0 {
		return fmt.Errorf("negative retry delay")
	}
	if c.LLM.Retry.Multiplier < 1 {
		return fmt.Errorf("retry multiplier must be at least 1: %v", c.LLM.Retry.Multiplier)
	}

	// Generation validation
	if c.Generation.OpenMarker == "" || c.Generation.CloseMarker == "" {
		return fmt.Errorf("empty JSON markers")
	}
	if c.Generation.OpenMarker == c.Generation.CloseMarker {
		return fmt.Errorf("JSON markers must differ")
	}
	if c.Generation.MaxConcurrent < 1 {
		return fmt.Errorf("max concurrent must be at least 1: %d", c.Generation.MaxConcurrent)
	}
	cont := c.Generation.Continuation
	if cont.MaxIterations < 1 {
		return fmt.Errorf("continuation max iterations must be at least 1: %d", cont.MaxIterations)
	}
	if cont.MinWords < 0 || cont.MinBullets < 0 || cont.MinChunkChars < 0 {
		return fmt.Errorf("negative continuation threshold")
	}
	if cont.FingerprintLength < 1 {
		return fmt.Errorf("fingerprint length must be positive: %d", cont.FingerprintLength)
	}

	// Audit validation
	switch c.Audit.Backend {
	case "log", "memory", "none":
	case "sqlite", "bolt":
		if c.Audit.Path == "" {
			return fmt.Errorf("audit backend %s requires a path", c.Audit.Backend)
		}
	default:
		return fmt.Errorf("invalid audit backend: %s", c.Audit.Backend)
	}
	if c.Audit.Async && c.Audit.QueueSize < 1 {
		return fmt.Errorf("audit queue size must be positive: %d", c.Audit.QueueSize)
	}

	// Logging validation
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}
