package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/mikeboe/deep-research/pkg/embeddings"
	"github.com/mikeboe/deep-research/pkg/search"
	"github.com/mikeboe/deep-research/pkg/vectorstore"
)

// ProviderID is the search backend id of the knowledge base.
const ProviderID = "knowledge"

// DocumentSearcher runs similarity queries.
type DocumentSearcher interface {
	SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int, filter vectorstore.Filter) ([]vectorstore.SimilaritySearchResult, error)
}

// Searcher is a search backend over previously indexed research. A request
// scope, when set, restricts results to that job id.
type Searcher struct {
	Embedder embeddings.Embedder
	Store    DocumentSearcher
}

var _ search.Provider = (*Searcher)(nil)

func (s *Searcher) Name() string { return ProviderID }

func (s *Searcher) Search(ctx context.Context, req search.Request) (search.Result, error) {
	vec, err := s.Embedder.EmbedText(ctx, req.Query)
	if err != nil {
		return search.Result{}, &search.Error{Provider: ProviderID, Query: req.Query, Err: fmt.Errorf("embed query: %w", err)}
	}

	filter := vectorstore.Filter{}
	if req.Scope != "" {
		filter[vectorstore.MetaJobID] = req.Scope
	}
	topK := req.MaxResults
	if topK <= 0 {
		topK = 5
	}

	hits, err := s.Store.SimilaritySearch(ctx, vec, topK, filter)
	if err != nil {
		return search.Result{}, &search.Error{Provider: ProviderID, Query: req.Query, Err: err}
	}
	return search.Result{Sources: mergeHits(hits), Images: []search.ImageSource{}}, nil
}

// mergeHits folds chunks of the same source into one Source, ordered by
// the best-scoring chunk. Learning chunks have no URL to cite and are left
// to the chat tools.
func mergeHits(hits []vectorstore.SimilaritySearchResult) []search.Source {
	index := map[string]int{}
	sources := []search.Source{}
	for _, h := range hits {
		url := metaString(h.Document.Metadata, vectorstore.MetaSource)
		if url == "" || url == LearningSource {
			continue
		}
		if i, ok := index[url]; ok {
			sources[i].Content += "\n\n" + h.Document.Content
			continue
		}
		index[url] = len(sources)
		sources = append(sources, search.Source{
			URL:     url,
			Title:   metaString(h.Document.Metadata, vectorstore.MetaTitle),
			Content: h.Document.Content,
		})
	}
	return sources
}

func metaString(meta map[string]any, key string) string {
	if v, ok := meta[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
