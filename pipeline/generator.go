// Package pipeline wires the engine together. A Generator runs one top-level
// request end to end: build the prompt, complete it with bounded
// continuations, reconcile the output, and write exactly one audit record.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/teilomillet/lectern/audit"
	"github.com/teilomillet/lectern/completion"
	"github.com/teilomillet/lectern/config"
	"github.com/teilomillet/lectern/continuation"
	lerrors "github.com/teilomillet/lectern/errors"
	"github.com/teilomillet/lectern/extract"
	"github.com/teilomillet/lectern/metrics"
	"github.com/teilomillet/lectern/prompt"
	"github.com/teilomillet/lectern/schema"
)

// Job is one top-level generation request.
type Job struct {
	RequestID   string
	Schema      string
	Instruction string
	// Template is an optional literal JSON template for structured schemas.
	Template string
	// System overrides the configured system prompt.
	System  string
	History []completion.Message
	// Tuning overrides the configured tuning when non-nil.
	Tuning *completion.Tuning
	// ExpectList asks the prose checker for bulleted items in chat answers.
	ExpectList bool

	UserID  string
	ChildID string
	Context string
}

// Output is what a Generator returns.
type Output struct {
	// Record is set for structured schemas.
	Record *extract.Record
	// Text is the cleaned answer for chat requests.
	Text string
	// Raw is the accumulated completion text, verbatim.
	Raw       string
	Calls     int
	Stop      continuation.StopReason
	Attempted []string
	AuditID   string
}

// settings are the parts of the configuration that can change at runtime.
type settings struct {
	builder    *prompt.Builder
	controller *continuation.Controller
	gen        config.GenerationConfig
}

// Generator runs generation requests. It is safe for concurrent use.
type Generator struct {
	client   completion.Completer
	registry *schema.Registry
	sink     audit.Sink
	sinkName string
	tokens   *audit.TokenCounter
	metrics  *metrics.Metrics
	logger   *zap.Logger
	sem      *semaphore.Weighted
	settings atomic.Pointer[settings]
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics records generation metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Generator) { g.metrics = m }
}

// WithTokenCounter sets the counter used for audit token figures.
func WithTokenCounter(c *audit.TokenCounter) Option {
	return func(g *Generator) { g.tokens = c }
}

// WithRegistry replaces the built-in schema registry.
func WithRegistry(r *schema.Registry) Option {
	return func(g *Generator) {
		if r != nil {
			g.registry = r
		}
	}
}

// New returns a generator completing through client and auditing to sink.
// The concurrency limit is fixed at construction; other generation settings
// follow Apply.
func New(client completion.Completer, sink audit.Sink, cfg *config.Config, opts ...Option) *Generator {
	if sink == nil {
		sink = audit.NopSink{}
	}
	g := &Generator{
		client:   client,
		registry: schema.Builtin(),
		sink:     sink,
		sinkName: cfg.Audit.Backend,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}

	limit := cfg.Generation.MaxConcurrent
	if limit < 1 {
		limit = 1
	}
	g.sem = semaphore.NewWeighted(limit)
	g.Apply(cfg)
	return g
}

// Apply swaps in the generation settings from cfg. Requests already running
// keep the settings they started with.
func (g *Generator) Apply(cfg *config.Config) {
	b := prompt.NewBuilder(cfg.Generation, cfg.LLM)
	g.settings.Store(&settings{
		builder:    b,
		controller: continuation.NewController(b, cfg.Generation.Continuation, g.logger),
		gen:        cfg.Generation,
	})
}

// Watch applies every configuration w publishes until ctx is done or the
// watcher closes its channel.
func (g *Generator) Watch(ctx context.Context, w config.Watcher) {
	updates := w.Subscribe()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				g.Apply(cfg)
				g.logger.Info("generation settings reloaded",
					zap.String("open_marker", cfg.Generation.OpenMarker),
					zap.Int("max_iterations", cfg.Generation.Continuation.MaxIterations),
					zap.Bool("reformat", cfg.Generation.Reformat),
				)
			}
		}
	}()
}

// Schemas returns the registry used to resolve schema names.
func (g *Generator) Schemas() *schema.Registry {
	return g.registry
}

// Generate produces a structured record for job.Schema. Only a failure of
// the initial completion call is returned; every later problem degrades,
// ultimately to the schema's typed default.
func (g *Generator) Generate(ctx context.Context, job Job) (*Output, error) {
	def, ok := g.registry.Lookup(job.Schema)
	if !ok {
		return nil, lerrors.NewError(lerrors.NotFoundError, "unknown schema: "+job.Schema,
			http.StatusNotFound, job.RequestID, map[string]interface{}{"schema": job.Schema}, nil)
	}
	if def.Prose {
		return g.Chat(ctx, job)
	}
	return g.run(ctx, job, def, true)
}

// Chat produces a cleaned prose answer.
func (g *Generator) Chat(ctx context.Context, job Job) (*Output, error) {
	name := job.Schema
	if name == "" {
		name = schema.ChatName
	}
	def, ok := g.registry.Lookup(name)
	if !ok {
		return nil, lerrors.NewError(lerrors.NotFoundError, "unknown schema: "+name,
			http.StatusNotFound, job.RequestID, map[string]interface{}{"schema": name}, nil)
	}
	return g.run(ctx, job, def, false)
}

func (g *Generator) run(ctx context.Context, job Job, def *schema.Definition, structured bool) (*Output, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, lerrors.NewTimeoutError("no generation slot before the context ended", 0, err)
	}
	defer g.sem.Release(1)

	st := g.settings.Load()
	start := time.Now()
	logger := g.logger.With(zap.String("request_id", job.RequestID), zap.String("schema", def.Name))

	params := prompt.Params{
		Schema:      def,
		Instruction: job.Instruction,
		Template:    job.Template,
		System:      job.System,
		History:     job.History,
		StrictJSON:  structured,
	}
	if job.Tuning != nil {
		params.Tuning = *job.Tuning
	}
	req, err := st.builder.Build(params)
	if err != nil {
		return nil, lerrors.NewValidationError(job.RequestID, err.Error(), nil)
	}

	var checker continuation.Checker = continuation.NewJSONChecker(st.gen)
	if !structured {
		checker = continuation.NewProseChecker(st.gen.Continuation, job.ExpectList || def.ExpectList)
	}

	entry := audit.GenerationAudit{
		Prompt:       req.Prompt,
		SystemPrompt: req.System,
		UserID:       job.UserID,
		ChildID:      job.ChildID,
		ContextTag:   job.Context,
		Schema:       def.Name,
		ContentType:  audit.ContentProse,
	}
	if structured {
		entry.ContentType = audit.ContentStructured
	}

	res, err := st.controller.Run(ctx, g.client, req, def, checker)
	if err != nil {
		entry.StopReason = string(continuation.StopError)
		entry.Calls = 1
		entry.Duration = time.Since(start)
		g.record(ctx, logger, job.RequestID, entry, req)
		return nil, lerrors.WithRequestID(err, job.RequestID)
	}

	out := &Output{Raw: res.Text, Calls: res.Calls, Stop: res.Stop}
	if structured {
		var reformatCalls int32
		opts := extract.Options{OpenMarker: st.gen.OpenMarker, CloseMarker: st.gen.CloseMarker}
		if st.gen.Reformat {
			opts.Reformat = g.reformatter(st.builder, req.Tuning, &reformatCalls)
		}
		chain := extract.NewChain(logger, extract.DefaultStrategies(opts)...)
		out.Record, out.Attempted = chain.Run(ctx, extract.NewInput(def, res.Text))
		out.Calls += int(atomic.LoadInt32(&reformatCalls))

		entry.Strategy = out.Record.Strategy
		entry.Fallback = out.Record.Default
		entry.Attempted = out.Attempted
	} else {
		out.Text = extract.CleanProse(res.Text)
	}

	entry.GeneratedText = res.Text
	entry.StopReason = string(res.Stop)
	entry.Calls = out.Calls
	entry.Duration = time.Since(start)
	out.AuditID = g.record(ctx, logger, job.RequestID, entry, req)

	if g.metrics != nil {
		g.metrics.ObserveGeneration(def.Name, entry.Strategy, out.Calls, entry.StopReason, entry.Duration)
	}
	logger.Info("generation finished",
		zap.String("strategy", entry.Strategy),
		zap.Bool("fallback", entry.Fallback),
		zap.Int("calls", out.Calls),
		zap.String("stop_reason", entry.StopReason),
		zap.Duration("duration", entry.Duration),
	)
	return out, nil
}

// reformatter returns the secondary completion used by the reformat
// strategy. calls counts the requests it makes.
func (g *Generator) reformatter(b *prompt.Builder, tuning completion.Tuning, calls *int32) extract.ReformatFunc {
	return func(ctx context.Context, def *schema.Definition, malformed string) (string, error) {
		req, err := b.Reformat(def, malformed, tuning)
		if err != nil {
			return "", err
		}
		atomic.AddInt32(calls, 1)
		return g.client.Complete(ctx, req)
	}
}

// record writes entry best-effort and returns its id. Failures are logged
// and counted, never returned.
func (g *Generator) record(ctx context.Context, logger *zap.Logger, requestID string, entry audit.GenerationAudit, req completion.Request) string {
	entry.PromptTokens = g.tokens.Count(strings.TrimSpace(req.System + "\n" + req.Prompt))
	entry.CompletionTokens = g.tokens.Count(entry.GeneratedText)
	entry = entry.Stamp()

	if err := g.sink.Record(context.WithoutCancel(ctx), entry); err != nil {
		perr := lerrors.NewPersistenceError(g.sinkName, err)
		lerrors.LogError(logger, perr, requestID)
		if g.metrics != nil {
			g.metrics.ObserveAuditFailure(g.sinkName)
		}
	}
	return entry.ID
}

// Close closes the audit sink.
func (g *Generator) Close() error {
	if err := g.sink.Close(); err != nil {
		return fmt.Errorf("close audit sink: %w", err)
	}
	return nil
}
