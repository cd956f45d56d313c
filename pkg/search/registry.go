package search

import (
	"fmt"
	"net/http"
	"strings"
)

// ModelProvider is the id that selects model-knowledge mode: no backend at all.
const ModelProvider = "model"

// Settings configures one backend.
type Settings struct {
	Provider   string `yaml:"provider"`
	APIKey     string `yaml:"apiKey"`
	BaseURL    string `yaml:"baseUrl"`
	MaxResults int    `yaml:"maxResults"`
	Scope      string `yaml:"scope"`
	// MistralAPIKey enables full-text OCR of arXiv PDFs.
	MistralAPIKey string `yaml:"mistralApiKey"`
}

// Factory builds a provider from settings.
type Factory func(s Settings) (Provider, error)

// Registry maps backend ids to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry with every HTTP backend registered.
func NewRegistry(client *http.Client) *Registry {
	r := &Registry{factories: map[string]Factory{}}
	r.Register("tavily", func(s Settings) (Provider, error) {
		return NewTavily(s.APIKey, s.BaseURL, client)
	})
	r.Register("brave", func(s Settings) (Provider, error) {
		return NewBrave(s.APIKey, s.BaseURL, client)
	})
	r.Register("duckduckgo", func(s Settings) (Provider, error) {
		return NewDuckDuckGo(s.BaseURL, client), nil
	})
	r.Register("searxng", func(s Settings) (Provider, error) {
		return NewSearXNG(s.BaseURL, client)
	})
	r.Register("arxiv", func(s Settings) (Provider, error) {
		a := NewArxiv(s.BaseURL, client)
		if s.MistralAPIKey != "" {
			a.PDF = NewPDFReader(s.MistralAPIKey, "", client)
		}
		return a, nil
	})
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(id string, f Factory) {
	if r.factories == nil {
		r.factories = map[string]Factory{}
	}
	r.factories[strings.ToLower(id)] = f
}

// Resolve builds the provider for s.Provider. It returns (nil, nil) for
// model-knowledge mode.
func (r *Registry) Resolve(s Settings) (Provider, error) {
	id := strings.ToLower(strings.TrimSpace(s.Provider))
	if id == "" || id == ModelProvider {
		return nil, nil
	}
	f, ok := r.factories[id]
	if !ok {
		return nil, fmt.Errorf("search provider %s is not registered", id)
	}
	p, err := f(s)
	if err != nil {
		return nil, fmt.Errorf("search provider %s: %w", id, err)
	}
	return p, nil
}
