package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const braveURL = "https://api.search.brave.com/res/v1"

// Brave uses the Brave Search API. Requests are limited to one per second,
// matching the free tier.
type Brave struct {
	apiKey  string
	baseURL string
	http    *httpClient
}

// NewBrave constructs a Brave provider. baseURL may be empty.
func NewBrave(apiKey, baseURL string, client *http.Client) (*Brave, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("brave: API key is missing")
	}
	if baseURL == "" {
		baseURL = braveURL
	}
	return &Brave{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), http: newHTTPClient(client, 1)}, nil
}

func (b *Brave) Name() string { return "brave" }

func (b *Brave) Search(ctx context.Context, req Request) (Result, error) {
	params := url.Values{}
	params.Set("q", req.Query)
	params.Set("count", strconv.Itoa(maxResults(req.MaxResults)))
	if req.Scope != "" {
		params.Set("result_filter", req.Scope)
	}
	endpoint := b.baseURL + "/web/search?" + params.Encode()

	body, err := b.http.do(ctx, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		r.Header.Set("Accept", "application/json")
		r.Header.Set("X-Subscription-Token", b.apiKey)
		return r, nil
	})
	if err != nil {
		return Result{}, wrapErr(b.Name(), req.Query, err)
	}

	var response struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return Result{}, wrapErr(b.Name(), req.Query, fmt.Errorf("decode response: %w", err))
	}

	var res Result
	for _, r := range response.Web.Results {
		if r.URL == "" {
			continue
		}
		res.Sources = append(res.Sources, Source{URL: r.URL, Title: r.Title, Content: r.Description})
	}
	return res, nil
}
