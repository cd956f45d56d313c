package search

import (
	"context"
	"fmt"
)

// Source is a URL-identified piece of evidence returned by a provider.
type Source struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content,omitempty"`
}

// ImageSource is an image discovered alongside the sources of a query.
type ImageSource struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// Request describes one query against a search backend.
type Request struct {
	Query      string
	MaxResults int
	// Scope narrows the search where the backend supports it (category, site, collection).
	Scope string
}

// Result is what a backend found for a Request.
type Result struct {
	Sources []Source      `json:"sources"`
	Images  []ImageSource `json:"images"`
}

// Provider executes queries against one search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, req Request) (Result, error)
}

// Error names the backend that failed so callers can tell dependencies apart.
type Error struct {
	Provider string
	Query    string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s search failed for %q: %v", e.Provider, e.Query, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapErr(provider, query string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Provider: provider, Query: query, Err: err}
}

func maxResults(n int) int {
	if n <= 0 {
		return 5
	}
	return n
}
