// Package audit records one entry per generation request. Sinks are
// append-only and written best-effort: callers log and count failures but
// never surface them to the requester.
package audit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teilomillet/lectern/config"
)

// Content types.
const (
	ContentStructured = "structured"
	ContentProse      = "prose"
)

// GenerationAudit describes one completed generation request. It is created
// once after the pipeline concludes and never updated.
type GenerationAudit struct {
	ID            string `json:"id"`
	ContentType   string `json:"content_type"`
	Prompt        string `json:"prompt"`
	SystemPrompt  string `json:"system_prompt,omitempty"`
	GeneratedText string `json:"generated_text"`

	UserID     string `json:"user_id,omitempty"`
	ChildID    string `json:"child_id,omitempty"`
	ContextTag string `json:"context_tag,omitempty"`

	Schema     string   `json:"schema"`
	Strategy   string   `json:"strategy,omitempty"`
	Attempted  []string `json:"attempted,omitempty"`
	StopReason string   `json:"stop_reason,omitempty"`

	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	Calls            int           `json:"calls"`
	Duration         time.Duration `json:"duration"`
	// Fallback is set when the typed default was returned.
	Fallback  bool      `json:"fallback"`
	CreatedAt time.Time `json:"created_at"`
}

// Stamp fills a missing ID and creation time.
func (a GenerationAudit) Stamp() GenerationAudit {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return a
}

// Sink persists audits. Implementations must be safe for concurrent use.
type Sink interface {
	Record(ctx context.Context, a GenerationAudit) error
	Close() error
}

// Open returns the sink selected by cfg. When cfg.Async is set the sink is
// fronted by an AsyncSink; onError then receives failures from its worker.
func Open(cfg config.AuditConfig, logger *zap.Logger, onError func(error)) (Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		sink Sink
		err  error
	)
	switch strings.ToLower(cfg.Backend) {
	case "log", "":
		sink = NewLogSink(logger)
	case "sqlite":
		sink, err = NewSQLiteSink(cfg.Path)
	case "bolt":
		sink, err = NewBoltSink(cfg.Path)
	case "memory":
		sink = NewMemorySink()
	case "none":
		sink = NopSink{}
	default:
		return nil, fmt.Errorf("unknown audit backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s audit sink: %w", cfg.Backend, err)
	}

	if cfg.Async {
		sink = NewAsyncSink(sink, cfg.QueueSize, logger, onError)
	}
	return sink, nil
}

// NopSink discards every audit.
type NopSink struct{}

func (NopSink) Record(context.Context, GenerationAudit) error { return nil }
func (NopSink) Close() error                                  { return nil }

// LogSink writes audits to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a sink logging to logger at info level.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("audit")}
}

// Record implements Sink.
func (s *LogSink) Record(_ context.Context, a GenerationAudit) error {
	a = a.Stamp()
	s.logger.Info("generation",
		zap.String("id", a.ID),
		zap.String("content_type", a.ContentType),
		zap.String("schema", a.Schema),
		zap.String("strategy", a.Strategy),
		zap.Strings("attempted", a.Attempted),
		zap.String("stop_reason", a.StopReason),
		zap.String("user_id", a.UserID),
		zap.String("child_id", a.ChildID),
		zap.String("context", a.ContextTag),
		zap.Int("prompt_tokens", a.PromptTokens),
		zap.Int("completion_tokens", a.CompletionTokens),
		zap.Int("calls", a.Calls),
		zap.Duration("duration", a.Duration),
		zap.Bool("fallback", a.Fallback),
		zap.Int("generated_chars", len(a.GeneratedText)),
	)
	return nil
}

// Close flushes the logger.
func (s *LogSink) Close() error {
	_ = s.logger.Sync()
	return nil
}

// MemorySink keeps audits in memory. Fail makes subsequent writes return an
// error, which is useful when exercising best-effort persistence.
type MemorySink struct {
	mu      sync.Mutex
	records []GenerationAudit
	err     error
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Record implements Sink.
func (s *MemorySink) Record(_ context.Context, a GenerationAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, a.Stamp())
	return nil
}

// Fail sets the error returned by Record; nil restores normal operation.
func (s *MemorySink) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Records returns a copy of the stored audits in write order.
func (s *MemorySink) Records() []GenerationAudit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]GenerationAudit(nil), s.records...)
}

// Close implements Sink.
func (s *MemorySink) Close() error { return nil }
