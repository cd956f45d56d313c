package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"

	"github.com/mikeboe/deep-research/pkg/embeddings"
	"github.com/mikeboe/deep-research/pkg/vectorstore"
)

// KnowledgeStore is the part of the vector store the tools read.
type KnowledgeStore interface {
	SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int, filter vectorstore.Filter) ([]vectorstore.SimilaritySearchResult, error)
	GetContentByMetadata(ctx context.Context, filter vectorstore.Filter) ([]vectorstore.Document, error)
}

// RagToolset exposes the knowledge base to the chat agent. A non-empty JobID
// restricts every tool to the chunks of that research job.
type RagToolset struct {
	Store    KnowledgeStore
	Embedder embeddings.Embedder
	JobID    string
}

func NewRagToolset(store KnowledgeStore, embedder embeddings.Embedder, jobID string) *RagToolset {
	return &RagToolset{
		Store:    store,
		Embedder: embedder,
		JobID:    jobID,
	}
}

func (t *RagToolset) Name() string {
	return "rag_tools"
}

func (t *RagToolset) Tools(ctx agent.ReadonlyContext) ([]tool.Tool, error) {
	searchTool, err := functiontool.New[SearchContentArgs, SearchContentResp](
		functiontool.Config{
			Name:        "search_content",
			Description: "Search the sources and learnings of this research using semantic search.",
		},
		t.searchContentTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create search tool: %w", err)
	}

	findBySourceTool, err := functiontool.New[FindSourceArgs, FindSourceResp](
		functiontool.Config{
			Name:        "find_content_by_source",
			Description: "Find all indexed content of a specific source URL.",
		},
		t.findContentBySourceTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create find_by_source tool: %w", err)
	}

	findByMetadataTool, err := functiontool.New[FindMetadataArgs, FindMetadataResp](
		functiontool.Config{
			Name:        "find_content_by_metadata",
			Description: "Find content using logical filters ($and, $or, $not) on metadata keys source, title and query.",
		},
		t.findContentByMetadataTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create find_by_metadata tool: %w", err)
	}

	return []tool.Tool{searchTool, findBySourceTool, findByMetadataTool}, nil
}

// scoped ANDs the job restriction onto filter.
func (t *RagToolset) scoped(filter vectorstore.Filter) vectorstore.Filter {
	if t.JobID == "" {
		if filter == nil {
			return vectorstore.Filter{}
		}
		return filter
	}
	job := map[string]any{vectorstore.MetaJobID: t.JobID}
	if len(filter) == 0 {
		return job
	}
	return vectorstore.Filter{"$and": []any{job, filter}}
}

type SearchContentArgs struct {
	Query  string `json:"query" description:"The search query"`
	TopK   int    `json:"topK,omitempty" description:"Number of results to return (default 5)"`
	Source string `json:"source,omitempty" description:"Optional source URL filter"`
}

type SearchContentResp struct {
	Results string `json:"results"`
}

func (t *RagToolset) searchContentTool(ctx tool.Context, args SearchContentArgs) (SearchContentResp, error) {
	return t.SearchContent(ctx, args)
}

func (t *RagToolset) SearchContent(ctx context.Context, args SearchContentArgs) (SearchContentResp, error) {
	if args.TopK <= 0 {
		args.TopK = 5
	}
	slog.Info("Search content", "query", args.Query, "topK", args.TopK, "source", args.Source, "job_id", t.JobID)

	queryEmbedding, err := t.Embedder.EmbedText(ctx, args.Query)
	if err != nil {
		return SearchContentResp{}, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	var filter vectorstore.Filter
	if args.Source != "" {
		filter = vectorstore.Filter{vectorstore.MetaSource: args.Source}
	}
	results, err := t.Store.SimilaritySearch(ctx, queryEmbedding, args.TopK, t.scoped(filter))
	if err != nil {
		return SearchContentResp{}, fmt.Errorf("failed to search: %w", err)
	}

	formatted := make([]string, 0, len(results))
	for _, r := range results {
		formatted = append(formatted, formatDocument(r.Document))
	}
	return SearchContentResp{Results: strings.Join(formatted, "\n\n")}, nil
}

type FindSourceArgs struct {
	Source string `json:"source" description:"The source URL to find content for"`
}

type FindSourceResp struct {
	Content string `json:"content"`
}

func (t *RagToolset) findContentBySourceTool(ctx tool.Context, args FindSourceArgs) (FindSourceResp, error) {
	return t.FindContentBySource(ctx, args)
}

func (t *RagToolset) FindContentBySource(ctx context.Context, args FindSourceArgs) (FindSourceResp, error) {
	docs, err := t.Store.GetContentByMetadata(ctx, t.scoped(vectorstore.Filter{vectorstore.MetaSource: args.Source}))
	if err != nil {
		return FindSourceResp{}, fmt.Errorf("failed to find content: %w", err)
	}

	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.Content)
	}
	return FindSourceResp{Content: strings.Join(parts, "\n\n")}, nil
}

type FindMetadataArgs struct {
	Filter map[string]any `json:"filter" description:"JSON filter object with logical operators ($and, $or, $not)"`
}

type FindMetadataResp struct {
	Content string `json:"content"`
}

func (t *RagToolset) findContentByMetadataTool(ctx tool.Context, args FindMetadataArgs) (FindMetadataResp, error) {
	return t.FindContentByMetadata(ctx, args)
}

func (t *RagToolset) FindContentByMetadata(ctx context.Context, args FindMetadataArgs) (FindMetadataResp, error) {
	docs, err := t.Store.GetContentByMetadata(ctx, t.scoped(args.Filter))
	if err != nil {
		return FindMetadataResp{}, fmt.Errorf("failed to find content: %w", err)
	}

	formatted := make([]string, 0, len(docs))
	for _, d := range docs {
		formatted = append(formatted, formatDocument(d))
	}
	return FindMetadataResp{Content: strings.Join(formatted, "\n\n")}, nil
}

func formatDocument(doc vectorstore.Document) string {
	source := "unknown"
	if s, ok := doc.Metadata[vectorstore.MetaSource].(string); ok {
		source = s
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[Source]: %s\n[Content]: %s", source, doc.Content)
	for _, key := range []string{vectorstore.MetaTitle, vectorstore.MetaQuery} {
		if v, ok := doc.Metadata[key]; ok && v != "" {
			fmt.Fprintf(&sb, "\n[%s]: %v", key, v)
		}
	}
	return sb.String()
}
