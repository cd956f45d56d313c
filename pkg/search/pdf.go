package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	mistralOCRURL = "https://api.mistral.ai/v1/ocr"
	// maxPDFChars keeps a single paper from crowding the other sources out of a prompt.
	maxPDFChars = 20000
)

// PDFReader extracts the text of a PDF document with the Mistral OCR API.
type PDFReader struct {
	apiKey   string
	endpoint string
	http     *httpClient
}

func NewPDFReader(apiKey, endpoint string, client *http.Client) *PDFReader {
	if endpoint == "" {
		endpoint = mistralOCRURL
	}
	return &PDFReader{apiKey: apiKey, endpoint: endpoint, http: newHTTPClient(client, 0)}
}

type ocrPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

type ocrResponse struct {
	Pages []ocrPage `json:"pages"`
}

// Read returns the markdown of every page, truncated to maxPDFChars.
func (p *PDFReader) Read(ctx context.Context, documentURL string) (string, error) {
	documentURL = strings.Replace(documentURL, "http://", "https://", 1)

	reqBody, err := json.Marshal(map[string]any{
		"model": "mistral-ocr-latest",
		"document": map[string]string{
			"type":         "document_url",
			"document_url": documentURL,
		},
		"include_image_base64": false,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	body, err := p.http.do(ctx, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(reqBody))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("Authorization", "Bearer "+p.apiKey)
		return r, nil
	})
	if err != nil {
		return "", fmt.Errorf("ocr %s: %w", documentURL, err)
	}

	var resp ocrResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to unmarshal OCR response: %w", err)
	}

	var sb strings.Builder
	for _, page := range resp.Pages {
		fmt.Fprintf(&sb, "- Page %d -\n%s\n\n", page.Index, page.Markdown)
		if sb.Len() >= maxPDFChars {
			break
		}
	}
	text := sb.String()
	if runes := []rune(text); len(runes) > maxPDFChars {
		text = string(runes[:maxPDFChars])
	}
	return strings.TrimSpace(text), nil
}
