package audit

import (
	"math"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens for audit metrics. Without an encoding it
// falls back to a word-based estimate.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter returns a counter for model. An unknown model, or one
// whose encoding cannot be loaded, yields an estimating counter and the
// error that caused it.
func NewTokenCounter(model string) (*TokenCounter, error) {
	if model == "" {
		return &TokenCounter{}, nil
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return &TokenCounter{}, err
	}
	return &TokenCounter{enc: enc}, nil
}

// Exact reports whether counts come from a real encoding.
func (c *TokenCounter) Exact() bool {
	return c != nil && c.enc != nil
}

// Count returns the number of tokens in text.
func (c *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if !c.Exact() {
		return EstimateTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// EstimateTokens approximates a token count as four tokens per three words.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) * 4 / 3))
}
