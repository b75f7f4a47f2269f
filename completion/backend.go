package completion

import (
	"fmt"

	"github.com/teilomillet/lectern/config"
)

// NewBackend returns the backend named by cfg.Backend.
func NewBackend(cfg config.LLMConfig) (Backend, error) {
	switch cfg.Backend {
	case "", "gollm":
		return NewGollmBackend(cfg), nil
	case "openai":
		return NewOpenAIBackend(cfg), nil
	default:
		return nil, fmt.Errorf("unknown completion backend %q", cfg.Backend)
	}
}
