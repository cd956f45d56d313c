package search

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const arxivURL = "https://export.arxiv.org/api/query"

// arxivEntry holds one entry of the arXiv Atom feed.
type arxivEntry struct {
	ID        string      `xml:"id"`
	Title     string      `xml:"title"`
	Summary   string      `xml:"summary"`
	Published string      `xml:"published"`
	Link      []arxivLink `xml:"link"`
}

type arxivLink struct {
	Href  string `xml:"href,attr"`
	Type  string `xml:"type,attr"`
	Title string `xml:"title,attr"`
}

type arxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entry   []arxivEntry `xml:"entry"`
}

// Arxiv searches the arXiv export API. When PDF is set, the full text of
// each paper replaces its abstract.
type Arxiv struct {
	endpoint string
	http     *httpClient
	PDF      *PDFReader
}

func NewArxiv(endpoint string, client *http.Client) *Arxiv {
	if endpoint == "" {
		endpoint = arxivURL
	}
	// arXiv asks API clients to stay below one request every three seconds.
	return &Arxiv{endpoint: endpoint, http: newHTTPClient(client, 1.0/3)}
}

func (a *Arxiv) Name() string { return "arxiv" }

func (a *Arxiv) Search(ctx context.Context, req Request) (Result, error) {
	params := url.Values{}
	query := req.Query
	if req.Scope != "" {
		// Scope is an arXiv category such as cs.CL.
		query = fmt.Sprintf("cat:%s AND all:%s", req.Scope, req.Query)
	} else {
		query = "all:" + query
	}
	params.Add("search_query", query)
	params.Add("max_results", strconv.Itoa(maxResults(req.MaxResults)))
	params.Add("start", "0")
	apiURL := a.endpoint + "?" + params.Encode()

	body, err := a.http.do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	})
	if err != nil {
		return Result{}, wrapErr(a.Name(), req.Query, err)
	}

	var feed arxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return Result{}, wrapErr(a.Name(), req.Query, fmt.Errorf("failed to unmarshal XML: %w", err))
	}

	var res Result
	for _, entry := range feed.Entry {
		src := Source{
			URL:     entryURL(entry),
			Title:   strings.Join(strings.Fields(entry.Title), " "),
			Content: strings.TrimSpace(entry.Summary),
		}
		if src.URL == "" {
			continue
		}
		if a.PDF != nil {
			if pdf := pdfLink(entry); pdf != "" {
				text, err := a.PDF.Read(ctx, pdf)
				if err != nil {
					slog.Warn("Failed to read arXiv PDF, using abstract", "url", pdf, "error", err)
				} else {
					src.Content = text
				}
			}
		}
		res.Sources = append(res.Sources, src)
	}
	return res, nil
}

func entryURL(e arxivEntry) string {
	for _, link := range e.Link {
		if link.Type == "text/html" {
			return link.Href
		}
	}
	return strings.TrimSpace(e.ID)
}

func pdfLink(e arxivEntry) string {
	for _, link := range e.Link {
		if link.Type == "application/pdf" || link.Title == "pdf" {
			return link.Href
		}
	}
	return ""
}
