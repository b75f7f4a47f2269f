package completion

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/teilomillet/gollm"

	"github.com/teilomillet/lectern/config"
)

// LLMFactory creates a gollm instance for the given tuning.
type LLMFactory func(t Tuning) (gollm.LLM, error)

// GollmBackend sends requests through gollm. gollm options are set per
// instance, so one instance is created lazily for each distinct tuning.
type GollmBackend struct {
	factory LLMFactory

	mu        sync.Mutex
	instances map[string]gollm.LLM
}

// NewGollmBackend returns a backend using the provider, model, key and
// endpoint from cfg. gollm's own retry loop is disabled so that Client owns
// the attempt budget. The endpoint is only honoured by the ollama provider.
func NewGollmBackend(cfg config.LLMConfig) *GollmBackend {
	return NewGollmBackendWithFactory(func(t Tuning) (gollm.LLM, error) {
		opts := []gollm.ConfigOption{
			gollm.SetProvider(cfg.Provider),
			gollm.SetModel(cfg.Model),
			gollm.SetAPIKey(cfg.APIKey),
			gollm.SetMaxRetries(0),
			gollm.SetRetryDelay(0),
		}
		if cfg.Timeout > 0 {
			opts = append(opts, gollm.SetTimeout(cfg.Timeout))
		}
		if cfg.Endpoint != "" && cfg.Provider == "ollama" {
			opts = append(opts, gollm.SetOllamaEndpoint(strings.TrimSuffix(cfg.Endpoint, "/")))
		}
		llm, err := gollm.NewLLM(opts...)
		if err != nil {
			return nil, fmt.Errorf("initialize %s provider: %w", cfg.Provider, err)
		}
		applyTuning(llm, t)
		return llm, nil
	})
}

// NewGollmBackendWithFactory returns a backend that obtains instances from
// factory.
func NewGollmBackendWithFactory(factory LLMFactory) *GollmBackend {
	return &GollmBackend{
		factory:   factory,
		instances: make(map[string]gollm.LLM),
	}
}

func applyTuning(llm gollm.LLM, t Tuning) {
	llm.SetOption("temperature", t.Temperature)
	if t.MaxTokens > 0 {
		llm.SetOption("max_tokens", t.MaxTokens)
	}
	if len(t.Stop) > 0 {
		llm.SetOption("stop", t.Stop)
	}
}

func tuningKey(t Tuning) string {
	return strconv.Itoa(t.MaxTokens) + "|" +
		strconv.FormatFloat(t.Temperature, 'g', -1, 64) + "|" +
		strings.Join(t.Stop, "\x1f")
}

func (b *GollmBackend) instance(t Tuning) (gollm.LLM, error) {
	key := tuningKey(t)

	b.mu.Lock()
	defer b.mu.Unlock()
	if llm, ok := b.instances[key]; ok {
		return llm, nil
	}
	llm, err := b.factory(t)
	if err != nil {
		return nil, err
	}
	b.instances[key] = llm
	return llm, nil
}

// Complete implements Backend.
func (b *GollmBackend) Complete(ctx context.Context, req Request) (string, error) {
	llm, err := b.instance(req.Tuning)
	if err != nil {
		return "", err
	}

	msgs := req.Messages()
	prompt := &gollm.Prompt{Messages: make([]gollm.PromptMessage, 0, len(msgs))}
	for _, m := range msgs {
		prompt.Messages = append(prompt.Messages, gollm.PromptMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	text, err := llm.Generate(ctx, prompt)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("gollm generate: %w", ctxErr)
		}
		// gollm drops the transport cause, so a failed call counts as one
		// failed request against the Client budget.
		return "", fmt.Errorf("%w: %w", ErrBackendRequest, err)
	}
	return text, nil
}
