// Package knowledge stores finished research in pgvector so later runs and
// follow-up chats can retrieve it.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/mikeboe/deep-research/pkg/embeddings"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/vectorstore"
)

// LearningSource marks chunks cut from a task learning rather than a source.
const LearningSource = "learning"

// DocumentWriter persists embedded chunks.
type DocumentWriter interface {
	AddDocuments(ctx context.Context, docs []vectorstore.Document) error
}

// Indexer chunks, embeds and stores the evidence of a research job.
type Indexer struct {
	Embedder embeddings.Embedder
	Store    DocumentWriter
	Splitter textsplitter.TextSplitter
	Logger   *slog.Logger
}

func NewIndexer(embedder embeddings.Embedder, store DocumentWriter, chunkSize, chunkOverlap int) *Indexer {
	return &Indexer{
		Embedder: embedder,
		Store:    store,
		Splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		),
		Logger: slog.Default(),
	}
}

type passage struct {
	text   string
	source string
	title  string
	query  string
}

// IndexResearch stores every task's source contents and learning under
// jobID. It returns the number of chunks written.
func (ix *Indexer) IndexResearch(ctx context.Context, jobID string, results []research.SearchTaskResult) (int, error) {
	var passages []passage
	seen := map[string]bool{}
	for _, r := range results {
		for _, src := range r.Sources {
			if strings.TrimSpace(src.Content) == "" || seen[src.URL] {
				continue
			}
			seen[src.URL] = true
			passages = append(passages, passage{text: src.Content, source: src.URL, title: src.Title, query: r.Query})
		}
		if strings.TrimSpace(r.Learning) != "" {
			passages = append(passages, passage{text: r.Learning, source: LearningSource, title: r.Query, query: r.Query})
		}
	}

	var docs []vectorstore.Document
	for _, p := range passages {
		chunks, err := ix.Splitter.SplitText(p.text)
		if err != nil {
			return 0, fmt.Errorf("failed to split %s: %w", p.source, err)
		}
		for _, chunk := range chunks {
			docs = append(docs, vectorstore.Document{
				Content: chunk,
				Metadata: map[string]any{
					vectorstore.MetaSource: p.source,
					vectorstore.MetaTitle:  p.title,
					vectorstore.MetaJobID:  jobID,
					vectorstore.MetaQuery:  p.query,
				},
			})
		}
	}
	if len(docs) == 0 {
		return 0, nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vecs, err := ix.Embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(vecs) != len(docs) {
		return 0, fmt.Errorf("expected %d embeddings, got %d", len(docs), len(vecs))
	}
	for i := range docs {
		docs[i].Embedding = vecs[i]
	}

	if err := ix.Store.AddDocuments(ctx, docs); err != nil {
		return 0, fmt.Errorf("failed to add documents to vector store: %w", err)
	}

	ix.logger().Info("Indexed research", "job_id", jobID, "passages", len(passages), "chunks", len(docs))
	return len(docs), nil
}

func (ix *Indexer) logger() *slog.Logger {
	if ix.Logger != nil {
		return ix.Logger
	}
	return slog.Default()
}
