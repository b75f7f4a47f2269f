package extract

import (
	"context"
	"fmt"
	"strings"

	lerrors "github.com/teilomillet/lectern/errors"
	"github.com/teilomillet/lectern/schema"
)

// ReformatFunc asks the completion endpoint to rewrite malformed output as
// strict JSON for def and returns the raw reply.
type ReformatFunc func(ctx context.Context, def *schema.Definition, malformed string) (string, error)

// Options configures the default chain.
type Options struct {
	OpenMarker  string
	CloseMarker string
	// Reformat enables the secondary completion; nil disables it.
	Reformat ReformatFunc
}

// DefaultStrategies returns markers, direct, balanced, labeled and, when
// opts.Reformat is set, reformat, in that order.
func DefaultStrategies(opts Options) []Strategy {
	structural := []Strategy{
		MarkerStrategy(opts.OpenMarker, opts.CloseMarker),
		DirectStrategy(),
		BalancedStrategy(),
	}
	strategies := append([]Strategy{}, structural...)
	strategies = append(strategies, LabeledStrategy())
	if opts.Reformat != nil {
		strategies = append(strategies, ReformatStrategy(opts.Reformat, structural...))
	}
	return strategies
}

// ExtractMarked returns the trimmed text between the first open marker and the
// next close marker after it.
func ExtractMarked(text, open, close string) (string, bool) {
	i := strings.Index(text, open)
	if i < 0 {
		return "", false
	}
	rest := text[i+len(open):]
	j := strings.Index(rest, close)
	if j < 0 {
		return "", false
	}
	inner := strings.TrimSpace(rest[:j])
	if strings.HasPrefix(inner, "```") {
		inner = stripFence(inner)
	}
	return inner, inner != ""
}

// MarkerStrategy parses the text between the sentinel delimiters.
func MarkerStrategy(open, close string) Strategy {
	return Strategy{
		Name: StrategyMarkers,
		Attempt: func(_ context.Context, in Input) Outcome {
			inner, ok := ExtractMarked(StripControl(in.Raw), open, close)
			if !ok {
				return NoMatch(lerrors.NewMalformedOutputError(StrategyMarkers, fmt.Errorf("no %s...%s region", open, close)))
			}
			return parseForSchema(StrategyMarkers, in.Schema, inner)
		},
	}
}

// DirectStrategy parses the normalized text when it is itself a JSON document.
func DirectStrategy() Strategy {
	return Strategy{
		Name: StrategyDirect,
		Attempt: func(_ context.Context, in Input) Outcome {
			if !LooksLikeJSON(in.Normalized) {
				return NoMatch(lerrors.NewMalformedOutputError(StrategyDirect, fmt.Errorf("text is not a JSON document")))
			}
			return parseForSchema(StrategyDirect, in.Schema, in.Normalized)
		},
	}
}

// BalancedStrategy parses the first balanced bracket region of the raw text.
func BalancedStrategy() Strategy {
	return Strategy{
		Name: StrategyBalanced,
		Attempt: func(_ context.Context, in Input) Outcome {
			candidate, ok := FindBalanced(StripControl(in.Raw))
			if !ok {
				return NoMatch(lerrors.NewMalformedOutputError(StrategyBalanced, fmt.Errorf("no balanced region")))
			}
			return parseForSchema(StrategyBalanced, in.Schema, candidate)
		},
	}
}

// LabeledStrategy assembles a record from "Label: value" lines. Partial
// records are accepted as long as one label is found.
func LabeledStrategy() Strategy {
	return Strategy{
		Name: StrategyLabeled,
		Attempt: func(_ context.Context, in Input) Outcome {
			found := ExtractLabeled(in.Schema, CleanProse(in.Raw))
			if len(found) == 0 {
				return NoMatch(lerrors.NewMalformedOutputError(StrategyLabeled, fmt.Errorf("no labeled fields")))
			}
			fields := in.Schema.DefaultFields()
			for k, v := range in.Schema.Normalize(found) {
				fields[k] = v
			}
			return Matched(fields, in.Raw)
		},
	}
}

// ReformatStrategy issues one secondary completion asking for strict JSON and
// runs the structural strategies over the reply. It is skipped once ctx is
// done; the local strategies never are.
func ReformatStrategy(reformat ReformatFunc, structural ...Strategy) Strategy {
	return Strategy{
		Name: StrategyReformat,
		Attempt: func(ctx context.Context, in Input) Outcome {
			if err := ctx.Err(); err != nil {
				return NoMatch(fmt.Errorf("reformat skipped: %w", err))
			}
			reply, err := reformat(ctx, in.Schema, in.Raw)
			if err != nil {
				return NoMatch(fmt.Errorf("reformat request: %w", err))
			}
			next := NewInput(in.Schema, reply)
			var reasons []string
			for _, s := range structural {
				out := s.Attempt(ctx, next)
				if out.Matched {
					return out
				}
				reasons = append(reasons, s.Name)
			}
			return NoMatch(lerrors.NewMalformedOutputError(StrategyReformat,
				fmt.Errorf("reformatted reply failed %s", strings.Join(reasons, ", "))))
		},
	}
}

// parseForSchema decodes candidate, maps it onto the schema and checks the
// required fields.
func parseForSchema(strategy string, def *schema.Definition, candidate string) Outcome {
	obj, text, err := ParseObject(candidate)
	if err != nil {
		return NoMatch(lerrors.NewMalformedOutputError(strategy, err))
	}
	fields := def.Normalize(obj)
	if err := def.Validate(fields); err != nil {
		return NoMatch(err)
	}
	for k, v := range def.DefaultFields() {
		if _, ok := fields[k]; !ok {
			fields[k] = v
		}
	}
	return Matched(fields, text)
}
