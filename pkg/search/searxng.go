package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// SearXNG queries a self-hosted SearXNG instance through its JSON API.
type SearXNG struct {
	baseURL string
	http    *httpClient
}

func NewSearXNG(baseURL string, client *http.Client) (*SearXNG, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("searxng: base URL is missing")
	}
	return &SearXNG{baseURL: strings.TrimRight(baseURL, "/"), http: newHTTPClient(client, 0)}, nil
}

func (s *SearXNG) Name() string { return "searxng" }

// Search maps Scope onto SearXNG categories ("general", "science", "images", ...).
func (s *SearXNG) Search(ctx context.Context, req Request) (Result, error) {
	params := url.Values{}
	params.Set("q", req.Query)
	params.Set("format", "json")
	if req.Scope != "" {
		params.Set("categories", req.Scope)
	}
	endpoint := s.baseURL + "/search?" + params.Encode()

	body, err := s.http.do(ctx, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		r.Header.Set("Accept", "application/json")
		return r, nil
	})
	if err != nil {
		return Result{}, wrapErr(s.Name(), req.Query, err)
	}

	var response struct {
		Results []struct {
			URL     string `json:"url"`
			Title   string `json:"title"`
			Content string `json:"content"`
			ImgSrc  string `json:"img_src"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return Result{}, wrapErr(s.Name(), req.Query, fmt.Errorf("decode response: %w", err))
	}

	limit := maxResults(req.MaxResults)
	var res Result
	for _, r := range response.Results {
		if r.ImgSrc != "" {
			res.Images = append(res.Images, ImageSource{URL: r.ImgSrc, Description: r.Title})
			continue
		}
		if r.URL == "" || len(res.Sources) >= limit {
			continue
		}
		res.Sources = append(res.Sources, Source{URL: r.URL, Title: r.Title, Content: r.Content})
	}
	return res, nil
}
