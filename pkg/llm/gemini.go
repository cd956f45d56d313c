package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/mikeboe/deep-research/pkg/search"
)

// Gemini talks to the Gemini API natively so thought parts and Google Search
// grounding reach the caller as ReasoningDelta and SourcePart.
type Gemini struct {
	Client      *genai.Client
	Model       string
	Temperature float64
}

// NewGemini creates a Gemini API client for model.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini API client: %w", err)
	}
	return &Gemini{Client: client, Model: model}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) config(req Request, thoughts bool) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if g.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(g.Temperature))
	}
	if req.WebSearch {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	if thoughts {
		cfg.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}
	return cfg
}

func (g *Gemini) contents(req Request) []*genai.Content {
	return []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
}

func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := g.Client.Models.GenerateContent(ctx, g.Model, g.contents(req), g.config(req, false))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &Error{Provider: g.Name(), Model: g.Model, Err: err}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", &Error{Provider: g.Name(), Model: g.Model, Err: errors.New("empty response")}
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

func (g *Gemini) Stream(ctx context.Context, req Request, onPart func(StreamPart) error) error {
	seen := make(map[string]bool)
	reason := ""

	for resp, err := range g.Client.Models.GenerateContentStream(ctx, g.Model, g.contents(req), g.config(req, true)) {
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &Error{Provider: g.Name(), Model: g.Model, Err: err}
		}

		for _, cand := range resp.Candidates {
			if cand.Content != nil {
				for _, part := range cand.Content.Parts {
					if part.Text == "" {
						continue
					}
					var p StreamPart = TextDelta{Text: part.Text}
					if part.Thought {
						p = ReasoningDelta{Text: part.Text}
					}
					if err := onPart(p); err != nil {
						return err
					}
				}
			}
			for _, src := range groundingSources(cand.GroundingMetadata) {
				if seen[src.URL] {
					continue
				}
				seen[src.URL] = true
				if err := onPart(SourcePart{Source: src}); err != nil {
					return err
				}
			}
			if cand.FinishReason != "" {
				reason = string(cand.FinishReason)
			}
		}
	}

	return onPart(Finish{Reason: reason})
}

func groundingSources(meta *genai.GroundingMetadata) []search.Source {
	if meta == nil {
		return nil
	}
	var out []search.Source
	for _, chunk := range meta.GroundingChunks {
		if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" {
			continue
		}
		out = append(out, search.Source{URL: chunk.Web.URI, Title: chunk.Web.Title})
	}
	return out
}
