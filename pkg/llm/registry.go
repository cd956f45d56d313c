package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mikeboe/deep-research/pkg/clients"
)

// Settings selects and configures one model.
type Settings struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"apiKey"`
	BaseURL     string  `yaml:"baseUrl"`
	Temperature float64 `yaml:"temperature"`
}

// New builds the provider for s. "gemini" uses the native SDK; every other
// id goes through langchaingo.
func New(ctx context.Context, s Settings) (Provider, error) {
	id := strings.ToLower(strings.TrimSpace(s.Provider))
	if id == "" {
		return nil, fmt.Errorf("model provider is not configured")
	}
	if s.Model == "" {
		return nil, fmt.Errorf("%s: model is not configured", id)
	}

	if id == "gemini" {
		g, err := NewGemini(ctx, s.APIKey, s.Model)
		if err != nil {
			return nil, err
		}
		g.Temperature = s.Temperature
		return g, nil
	}

	model, err := clients.New(ctx, clients.ProviderID(id), s.Model, s.APIKey, s.BaseURL)
	if err != nil {
		return nil, err
	}
	return &LangChain{
		LLM:         model,
		Provider:    id,
		Model:       s.Model,
		Temperature: s.Temperature,
		Logger:      slog.Default(),
	}, nil
}
