package providers

import (
	"context"
	"fmt"
	"os"

	"github.com/sentinelai/engine/pkg/agent"
	"github.com/sentinelai/engine/pkg/config"
)

// New builds the agent.LLMClient for a provider configuration, dispatching
// by config.LLMProviderType. OpenAI-compatible providers (ollama, deepseek,
// groq, openrouter, togetherai, moonshot, perplexity, lm_studio) all share
// OpenAIClient with the provider's BaseURL substituted in.
func New(ctx context.Context, cfg *config.LLMProviderConfig) (agent.LLMClient, error) {
	apiKey := apiKeyFromEnv(cfg.APIKeyEnv)

	switch {
	case cfg.Type == config.LLMProviderTypeOpenAI:
		return NewOpenAIClient(apiKey, cfg.Model), nil
	case cfg.Type.IsOpenAICompatible():
		return NewOpenAICompatibleClient(apiKey, cfg.BaseURL, cfg.Model), nil
	case cfg.Type == config.LLMProviderTypeAnthropic:
		return NewAnthropicClient(apiKey, cfg.Model), nil
	case cfg.Type == config.LLMProviderTypeGoogle:
		return NewGeminiClient(ctx, apiKey, cfg.Model)
	default:
		return nil, fmt.Errorf("providers: unsupported provider type %q (vertexai/xai require a dedicated client not yet wired)", cfg.Type)
	}
}

func apiKeyFromEnv(envVar string) string {
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}
