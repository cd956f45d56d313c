package search

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const duckDuckGoLiteURL = "https://lite.duckduckgo.com/lite/"

// DuckDuckGo scrapes the lite HTML interface. No API key needed, but
// DuckDuckGo throttles aggressively so requests are kept at one per second.
type DuckDuckGo struct {
	endpoint string
	http     *httpClient
}

func NewDuckDuckGo(endpoint string, client *http.Client) *DuckDuckGo {
	if endpoint == "" {
		endpoint = duckDuckGoLiteURL
	}
	return &DuckDuckGo{endpoint: endpoint, http: newHTTPClient(client, 1)}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

func (d *DuckDuckGo) Search(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return Result{}, wrapErr(d.Name(), req.Query, errors.New("query is empty"))
	}

	form := url.Values{}
	form.Set("q", req.Query)
	body, err := d.http.do(ctx, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		r.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return r, nil
	})
	if err != nil {
		return Result{}, wrapErr(d.Name(), req.Query, err)
	}

	sources, err := parseDuckDuckGoLite(body, maxResults(req.MaxResults))
	if err != nil {
		return Result{}, wrapErr(d.Name(), req.Query, err)
	}
	return Result{Sources: sources}, nil
}

// parseDuckDuckGoLite reads result links and their snippets from the lite
// results table. Snippet cells follow their link rows in document order.
func parseDuckDuckGoLite(body []byte, limit int) ([]Source, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	snippets := doc.Find("td.result-snippet").Map(func(_ int, s *goquery.Selection) string {
		return strings.Join(strings.Fields(s.Text()), " ")
	})

	var sources []Source
	doc.Find("a.result-link").EachWithBreak(func(i int, s *goquery.Selection) bool {
		href, ok := s.Attr("href")
		if !ok {
			return true
		}
		href = resolveDuckDuckGoHref(href)
		if href == "" {
			return true
		}
		src := Source{URL: href, Title: strings.TrimSpace(s.Text())}
		if i < len(snippets) {
			src.Content = snippets[i]
		}
		sources = append(sources, src)
		return len(sources) < limit
	})
	return sources, nil
}

// resolveDuckDuckGoHref unwraps //duckduckgo.com/l/?uddg=<target> redirect links.
func resolveDuckDuckGoHref(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if strings.HasSuffix(u.Host, "duckduckgo.com") && strings.HasPrefix(u.Path, "/l/") {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return href
}
