package extract

import (
	"context"

	"go.uber.org/zap"

	"github.com/teilomillet/lectern/schema"
)

// Input is what every strategy sees. Raw is the verbatim completion text and
// Normalized its Normalize derivative.
type Input struct {
	Raw        string
	Normalized string
	Schema     *schema.Definition
}

// NewInput builds an Input, normalizing raw.
func NewInput(def *schema.Definition, raw string) Input {
	return Input{Raw: raw, Normalized: Normalize(raw), Schema: def}
}

// Outcome is the tagged result of one strategy: Matched with fields, or
// NoMatch with the reason.
type Outcome struct {
	Matched bool
	Fields  map[string]any
	Raw     string
	Reason  error
}

// Matched reports a successful extraction.
func Matched(fields map[string]any, raw string) Outcome {
	return Outcome{Matched: true, Fields: fields, Raw: raw}
}

// NoMatch reports a strategy that could not produce a record.
func NoMatch(reason error) Outcome {
	return Outcome{Reason: reason}
}

// Strategy is one named step in the fallback chain.
type Strategy struct {
	Name    string
	Attempt func(ctx context.Context, in Input) Outcome
}

// Chain tries its strategies in order and returns the first match. When all
// of them fail it returns the schema's typed default; Run never errors.
type Chain struct {
	strategies []Strategy
	logger     *zap.Logger
}

// NewChain returns a chain over strategies, tried in the given order.
func NewChain(logger *zap.Logger, strategies ...Strategy) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{strategies: strategies, logger: logger}
}

// Names returns the strategy names in order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name
	}
	return names
}

// Run reconciles in into a record. attempted lists every strategy tried,
// including the one that matched.
func (c *Chain) Run(ctx context.Context, in Input) (rec *Record, attempted []string) {
	def := in.Schema
	for _, s := range c.strategies {
		attempted = append(attempted, s.Name)
		out := s.Attempt(ctx, in)
		if out.Matched {
			c.logger.Debug("extraction matched",
				zap.String("schema", def.Name),
				zap.String("strategy", s.Name),
			)
			return &Record{
				Schema:   def.Name,
				Version:  def.Version,
				Strategy: s.Name,
				Fields:   out.Fields,
				Raw:      out.Raw,
			}, attempted
		}
		c.logger.Debug("extraction strategy failed",
			zap.String("schema", def.Name),
			zap.String("strategy", s.Name),
			zap.Error(out.Reason),
		)
	}

	c.logger.Warn("all extraction strategies failed, returning default",
		zap.String("schema", def.Name),
		zap.Strings("attempted", attempted),
	)
	return DefaultRecord(def), append(attempted, StrategyDefault)
}
