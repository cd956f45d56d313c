package clients

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// ProviderID names a model vendor.
type ProviderID string

const (
	Google     ProviderID = "google"
	OpenAI     ProviderID = "openai"
	Anthropic  ProviderID = "anthropic"
	Ollama     ProviderID = "ollama"
	DeepSeek   ProviderID = "deepseek"
	OpenRouter ProviderID = "openrouter"
)

// Default endpoints for the OpenAI-compatible vendors.
const (
	deepSeekBaseURL   = "https://api.deepseek.com/v1"
	openRouterBaseURL = "https://openrouter.ai/api/v1"
)

// New builds a langchaingo model for the given vendor. baseURL overrides the
// vendor endpoint when set.
func New(ctx context.Context, provider ProviderID, model, apiKey, baseURL string) (llms.Model, error) {
	switch provider {
	case Google:
		// See https://ai.google.dev/gemini-api/docs/models/gemini for possible models
		llm, err := googleai.New(ctx, googleai.WithAPIKey(apiKey), googleai.WithDefaultModel(model))
		if err != nil {
			return nil, fmt.Errorf("google: %w", err)
		}
		return llm, nil

	case Anthropic:
		opts := []anthropic.Option{anthropic.WithToken(apiKey), anthropic.WithModel(model)}
		if baseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(baseURL))
		}
		llm, err := anthropic.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("anthropic: %w", err)
		}
		return llm, nil

	case Ollama:
		opts := []ollama.Option{ollama.WithModel(model)}
		if baseURL != "" {
			opts = append(opts, ollama.WithServerURL(baseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("ollama: %w", err)
		}
		return llm, nil

	case OpenAI, DeepSeek, OpenRouter:
		if baseURL == "" {
			switch provider {
			case DeepSeek:
				baseURL = deepSeekBaseURL
			case OpenRouter:
				baseURL = openRouterBaseURL
			}
		}
		opts := []openai.Option{openai.WithToken(apiKey), openai.WithModel(model)}
		if baseURL != "" {
			opts = append(opts, openai.WithBaseURL(baseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", provider, err)
		}
		return llm, nil

	default:
		return nil, fmt.Errorf("invalid model provider: %s", provider)
	}
}
