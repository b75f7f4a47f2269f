// Package continuation detects truncated generations and extends them with
// follow-up completion calls. The loop is bounded by an iteration cap and a
// repetition guard; it is not a retry-until-success loop.
package continuation

import (
	"context"
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/teilomillet/lectern/completion"
	"github.com/teilomillet/lectern/config"
	"github.com/teilomillet/lectern/extract"
	"github.com/teilomillet/lectern/prompt"
	"github.com/teilomillet/lectern/schema"
)

// StopReason says why the loop ended.
type StopReason string

const (
	StopComplete      StopReason = "complete"
	StopMaxIterations StopReason = "max_iterations"
	StopRepeated      StopReason = "repeated"
	StopShortChunk    StopReason = "short_chunk"
	StopEmptyChunk    StopReason = "empty_chunk"
	StopCancelled     StopReason = "cancelled"
	StopError         StopReason = "error"
)

// Result is the accumulated output of one loop.
type Result struct {
	Text string
	// Calls counts every completion call, the initial one included.
	Calls int
	Stop  StopReason
	// Err is the failure that stopped the loop early, if any. It is never
	// returned from Run.
	Err error
}

// Controller runs the continuation loop.
type Controller struct {
	builder *prompt.Builder
	cfg     config.ContinuationConfig
	logger  *zap.Logger
}

// NewController returns a controller using builder for follow-up prompts.
func NewController(builder *prompt.Builder, cfg config.ContinuationConfig, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = 1
	}
	return &Controller{builder: builder, cfg: cfg, logger: logger}
}

// Run sends req, then keeps asking for continuations while checker reports
// the accumulated text incomplete. Only a failure of the initial call is
// returned; later failures and cancellation end the loop with the text
// gathered so far.
func (c *Controller) Run(ctx context.Context, client completion.Completer, req completion.Request, def *schema.Definition, checker Checker) (*Result, error) {
	first, err := client.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	res := &Result{Text: first, Calls: 1}

	seen := map[string]struct{}{fingerprint(first, c.cfg.FingerprintLength): {}}

	for {
		incomplete, reason := checker.Incomplete(res.Text)
		if !incomplete {
			res.Stop = StopComplete
			break
		}
		if res.Calls >= c.cfg.MaxIterations {
			res.Stop = StopMaxIterations
			break
		}
		if ctx.Err() != nil {
			res.Stop, res.Err = StopCancelled, ctx.Err()
			break
		}

		next, err := c.builder.Continue(req, res.Text, def)
		if err != nil {
			res.Stop, res.Err = StopError, err
			break
		}

		c.logger.Debug("requesting continuation",
			zap.String("reason", reason),
			zap.Int("calls", res.Calls),
		)
		chunk, err := client.Complete(ctx, next)
		res.Calls++
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				res.Stop = StopCancelled
			} else {
				res.Stop = StopError
			}
			res.Err = err
			break
		}

		chunk = extract.StripControl(chunk)
		if strings.TrimSpace(chunk) == "" {
			res.Stop = StopEmptyChunk
			break
		}
		fp := fingerprint(chunk, c.cfg.FingerprintLength)
		if _, dup := seen[fp]; dup {
			res.Stop = StopRepeated
			break
		}
		seen[fp] = struct{}{}

		added := trimOverlap(res.Text, chunk)
		res.Text = join(res.Text, added, req.StrictJSON)
		if len([]rune(strings.TrimSpace(added))) < c.cfg.MinChunkChars {
			res.Stop = StopShortChunk
			break
		}
	}

	level := zap.DebugLevel
	if res.Stop != StopComplete {
		level = zap.InfoLevel
	}
	if ce := c.logger.Check(level, "continuation finished"); ce != nil {
		ce.Write(
			zap.String("stop_reason", string(res.Stop)),
			zap.Int("calls", res.Calls),
			zap.Error(res.Err),
		)
	}
	return res, nil
}

// fingerprint is the first n runes of s, lowercased with whitespace runs
// collapsed.
func fingerprint(s string, n int) string {
	norm := strings.ToLower(strings.Join(strings.Fields(s), " "))
	r := []rune(norm)
	if n > 0 && len(r) > n {
		r = r[:n]
	}
	return string(r)
}

// trimOverlap drops the longest prefix of chunk that repeats the end of acc.
// The repeated part must start on a word boundary in acc so that a shared
// letter is not mistaken for an echo.
func trimOverlap(acc, chunk string) string {
	for k := min(len(acc), len(chunk)); k > 0; k-- {
		if !strings.HasSuffix(acc, chunk[:k]) {
			continue
		}
		start := len(acc) - k
		if start == 0 || !isWordByte(acc[start-1]) || !isWordByte(acc[start]) {
			return chunk[k:]
		}
	}
	return chunk
}

func isWordByte(b byte) bool {
	return b >= utf8.RuneSelf || b == '_' ||
		('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}

// join appends chunk to acc. Prose gets a single space when neither side
// brings whitespace; JSON is concatenated as is.
func join(acc, chunk string, jsonMode bool) string {
	if jsonMode || acc == "" || chunk == "" {
		return acc + chunk
	}
	last := []rune(acc)[len([]rune(acc))-1]
	first := []rune(chunk)[0]
	if unicode.IsSpace(last) || unicode.IsSpace(first) || unicode.IsPunct(first) {
		return acc + chunk
	}
	return acc + " " + chunk
}
