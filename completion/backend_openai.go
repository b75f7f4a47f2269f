package completion

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"github.com/teilomillet/lectern/config"
)

// OpenAIBackend calls an OpenAI-compatible Responses endpoint. Retries are
// left to Client, so the SDK's own retries are disabled. The Responses API
// has no stop sequences; Tuning.Stop is not sent.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// NewOpenAIBackend returns a backend for cfg.Model at cfg.Endpoint, or the
// SDK default base URL when no endpoint is set.
func NewOpenAIBackend(cfg config.LLMConfig) *OpenAIBackend {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	client := openai.NewClient(opts...)
	return &OpenAIBackend{client: &client, model: cfg.Model}
}

// Complete implements Backend.
func (b *OpenAIBackend) Complete(ctx context.Context, req Request) (string, error) {
	var input []responses.ResponseInputItemUnionParam
	for _, m := range req.History {
		role := responses.EasyInputMessageRoleUser
		if m.Role == RoleAssistant {
			role = responses.EasyInputMessageRoleAssistant
		}
		input = append(input, responses.ResponseInputItemParamOfMessage(m.Content, role))
	}
	input = append(input, responses.ResponseInputItemParamOfMessage(req.Prompt, responses.EasyInputMessageRoleUser))

	params := responses.ResponseNewParams{
		Model:       b.model,
		Temperature: openai.Float(req.Tuning.Temperature),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: input,
		},
	}
	if req.System != "" {
		params.Instructions = openai.String(req.System)
	}
	if req.Tuning.MaxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.Tuning.MaxTokens))
	}

	resp, err := b.client.Responses.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai responses: %w", err)
	}
	return resp.OutputText(), nil
}
