package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/teilomillet/lectern/audit"
	"github.com/teilomillet/lectern/completion"
	"github.com/teilomillet/lectern/config"
	"github.com/teilomillet/lectern/errors"
	"github.com/teilomillet/lectern/metrics"
	"github.com/teilomillet/lectern/pipeline"
)

// App is a fully wired engine: completion client, audit sink, generator,
// metrics and the HTTP router over them.
type App struct {
	Config    *config.Config
	Generator *pipeline.Generator
	Metrics   *metrics.Metrics
	Router    http.Handler

	logger  *zap.Logger
	watcher config.Watcher
}

type appOptions struct {
	backend completion.Backend
	sink    audit.Sink
}

// AppOption customizes NewApp.
type AppOption func(*appOptions)

// WithBackend replaces the backend selected by the LLM configuration.
func WithBackend(b completion.Backend) AppOption {
	return func(o *appOptions) { o.backend = b }
}

// WithSink replaces the sink selected by the audit configuration.
func WithSink(s audit.Sink) AppOption {
	return func(o *appOptions) { o.sink = s }
}

// NewApp wires the engine described by cfg.
func NewApp(cfg *config.Config, logger *zap.Logger, opts ...AppOption) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	m := metrics.NewMetrics()

	backend := o.backend
	if backend == nil {
		var err error
		backend, err = completion.NewBackend(cfg.LLM)
		if err != nil {
			return nil, errors.NewError(errors.ConfigError, err.Error(), http.StatusInternalServerError, "", nil, err)
		}
	}
	client := completion.NewClient(backend, cfg.LLM, cfg.CircuitBreaker,
		completion.WithObserver(m),
		completion.WithLogger(logger.Named("completion")),
	)

	sink := o.sink
	if sink == nil {
		var err error
		sink, err = audit.Open(cfg.Audit, logger.Named("audit"), func(err error) {
			errors.LogError(logger, errors.NewPersistenceError(cfg.Audit.Backend, err), "")
			m.ObserveAuditFailure(cfg.Audit.Backend)
		})
		if err != nil {
			return nil, errors.NewError(errors.ConfigError, err.Error(), http.StatusInternalServerError, "", nil, err)
		}
	}

	genOpts := []pipeline.Option{
		pipeline.WithLogger(logger.Named("pipeline")),
		pipeline.WithMetrics(m),
	}
	if cfg.Audit.TokenModel != "" {
		counter, err := audit.NewTokenCounter(cfg.Audit.TokenModel)
		if err != nil {
			logger.Warn("token counting falls back to estimates",
				zap.String("model", cfg.Audit.TokenModel),
				zap.Error(err),
			)
		}
		genOpts = append(genOpts, pipeline.WithTokenCounter(counter))
	}
	gen := pipeline.New(client, sink, cfg, genOpts...)

	return &App{
		Config:    cfg,
		Generator: gen,
		Metrics:   m,
		Router:    NewRouter(NewHandler(gen, logger.Named("http")), cfg.Server, m, logger),
		logger:    logger,
	}, nil
}

// Watch reloads generation settings whenever the file at path changes.
func (a *App) Watch(ctx context.Context, path string) error {
	w, err := config.NewConfigWatcher(path, a.logger.Named("config"))
	if err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	a.watcher = w
	a.Generator.Watch(ctx, w)
	return nil
}

// Close stops the watcher and flushes the audit sink.
func (a *App) Close() error {
	var err error
	if a.watcher != nil {
		err = multierr.Append(err, a.watcher.Close())
	}
	return multierr.Append(err, a.Generator.Close())
}

// NewLogger builds a zap logger for cfg: json selects the production
// encoder, text the development one.
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if strings.EqualFold(cfg.Format, "text") {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	return zc.Build()
}
