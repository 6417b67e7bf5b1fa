// Package factory constructs LLM providers from configuration
package factory

import (
	"context"
	"fmt"

	"github.com/gliderlab/coagent/pkg/llm"
	"github.com/gliderlab/coagent/pkg/llm/providers/google"
	"github.com/gliderlab/coagent/pkg/llm/providers/openai"
)

// New creates the provider named by cfg.Type
func New(ctx context.Context, cfg llm.Config) (llm.Provider, error) {
	switch cfg.Type {
	case llm.ProviderOpenAI:
		return openai.New(cfg), nil
	case llm.ProviderGoogle:
		return google.New(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
}
