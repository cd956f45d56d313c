package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const tavilyURL = "https://api.tavily.com"

// Tavily calls the Tavily search API. It is the only web backend that also
// returns images.
type Tavily struct {
	apiKey  string
	baseURL string
	http    *httpClient
}

// NewTavily constructs a Tavily provider. baseURL may be empty.
func NewTavily(apiKey, baseURL string, client *http.Client) (*Tavily, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("tavily: API key is missing")
	}
	if baseURL == "" {
		baseURL = tavilyURL
	}
	return &Tavily{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), http: newHTTPClient(client, 0)}, nil
}

func (t *Tavily) Name() string { return "tavily" }

// Search posts the query to Tavily's /search endpoint.
func (t *Tavily) Search(ctx context.Context, req Request) (Result, error) {
	topic := "general"
	if req.Scope != "" {
		topic = req.Scope
	}
	payload, err := json.Marshal(map[string]any{
		"query":                      req.Query,
		"max_results":                maxResults(req.MaxResults),
		"search_depth":               "advanced",
		"topic":                      topic,
		"include_images":             true,
		"include_image_descriptions": true,
		"include_answer":             false,
		"include_raw_content":        false,
	})
	if err != nil {
		return Result{}, wrapErr(t.Name(), req.Query, err)
	}

	body, err := t.http.do(ctx, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/search", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("Authorization", "Bearer "+t.apiKey)
		return r, nil
	})
	if err != nil {
		return Result{}, wrapErr(t.Name(), req.Query, err)
	}

	var response struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
		Images []struct {
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"images"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return Result{}, wrapErr(t.Name(), req.Query, fmt.Errorf("decode response: %w", err))
	}

	var res Result
	for _, r := range response.Results {
		if r.URL == "" {
			continue
		}
		res.Sources = append(res.Sources, Source{URL: r.URL, Title: r.Title, Content: r.Content})
	}
	for _, img := range response.Images {
		if img.URL == "" {
			continue
		}
		res.Images = append(res.Images, ImageSource{URL: img.URL, Description: img.Description})
	}
	return res, nil
}
