package chat

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/vectorstore"
)

type stubEmbedder struct{}

func (stubEmbedder) EmbedText(context.Context, string) ([]float32, error) { return []float32{1, 0}, nil }

func (stubEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type stubStore struct {
	filters []vectorstore.Filter
	docs    []vectorstore.Document
}

func (s *stubStore) SimilaritySearch(_ context.Context, _ []float32, _ int, filter vectorstore.Filter) ([]vectorstore.SimilaritySearchResult, error) {
	s.filters = append(s.filters, filter)
	out := make([]vectorstore.SimilaritySearchResult, len(s.docs))
	for i, d := range s.docs {
		out[i] = vectorstore.SimilaritySearchResult{Document: d, Score: 1}
	}
	return out, nil
}

func (s *stubStore) GetContentByMetadata(_ context.Context, filter vectorstore.Filter) ([]vectorstore.Document, error) {
	s.filters = append(s.filters, filter)
	return s.docs, nil
}

func TestRagToolsetScopesToJob(t *testing.T) {
	tests := []struct {
		name   string
		jobID  string
		filter vectorstore.Filter
		want   vectorstore.Filter
	}{
		{"unscoped nil", "", nil, vectorstore.Filter{}},
		{"unscoped filter", "", vectorstore.Filter{"source": "s"}, vectorstore.Filter{"source": "s"}},
		{"job only", "j1", nil, vectorstore.Filter{"job_id": "j1"}},
		{"job and filter", "j1", vectorstore.Filter{"source": "s"}, vectorstore.Filter{
			"$and": []any{map[string]any{"job_id": "j1"}, vectorstore.Filter{"source": "s"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := &RagToolset{JobID: tt.jobID}
			if got := ts.scoped(tt.filter); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("scoped() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestSearchContentFormatsResults(t *testing.T) {
	store := &stubStore{docs: []vectorstore.Document{
		{Content: "Rates rose.", Metadata: map[string]any{"source": "https://a", "title": "A", "query": "rates", "job_id": "j1"}},
	}}
	ts := NewRagToolset(store, stubEmbedder{}, "j1")

	resp, err := ts.SearchContent(context.Background(), SearchContentArgs{Query: "rates"})
	if err != nil {
		t.Fatalf("SearchContent() error = %v", err)
	}
	want := "[Source]: https://a\n[Content]: Rates rose.\n[title]: A\n[query]: rates"
	if resp.Results != want {
		t.Errorf("Results = %q, want %q", resp.Results, want)
	}
	if store.filters[0]["job_id"] != "j1" {
		t.Errorf("search not scoped to job: %v", store.filters[0])
	}
}

func TestFindContentBySource(t *testing.T) {
	store := &stubStore{docs: []vectorstore.Document{{Content: "one"}, {Content: "two"}}}
	ts := NewRagToolset(store, stubEmbedder{}, "")

	resp, err := ts.FindContentBySource(context.Background(), FindSourceArgs{Source: "https://a"})
	if err != nil {
		t.Fatalf("FindContentBySource() error = %v", err)
	}
	if resp.Content != "one\n\ntwo" {
		t.Errorf("Content = %q", resp.Content)
	}
	if store.filters[0]["source"] != "https://a" {
		t.Errorf("filter = %v", store.filters[0])
	}
}

func TestInstructionIncludesReport(t *testing.T) {
	report := "# Title\n\nBody"
	job := &database.Job{ID: uuid.New(), Query: "saas rates", Report: &report}
	got := instruction(job)
	if !strings.Contains(got, "Research query: saas rates") || !strings.Contains(got, report) {
		t.Errorf("instruction() = %q", got)
	}
}
