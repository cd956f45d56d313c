package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const maxAttempts = 3

// httpClient is shared plumbing for the HTTP-backed providers: a request
// timeout, a per-provider rate limit and bounded retries on 429/5xx.
type httpClient struct {
	client  *http.Client
	limiter *rate.Limiter
	backoff time.Duration
}

func newHTTPClient(client *http.Client, perSecond float64) *httpClient {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &httpClient{
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		backoff: time.Second,
	}
}

// do sends the request built by newReq and returns the body of the first
// successful response. newReq is called once per attempt since bodies are consumed.
func (c *httpClient) do(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error)) ([]byte, error) {
	delay := c.backoff
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := newReq(ctx)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("send request: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response body: %w", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
			lastErr = fmt.Errorf("http %d: %s", resp.StatusCode, snippet(body))
			continue
		default:
			return nil, fmt.Errorf("http %d: %s", resp.StatusCode, snippet(body))
		}
	}

	return nil, fmt.Errorf("giving up after %d attempts: %w", maxAttempts, lastErr)
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 256 {
		s = s[:256] + "..."
	}
	return s
}
