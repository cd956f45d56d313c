package knowledge

import (
	"context"
	"fmt"

	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/embeddings"
	"github.com/mikeboe/deep-research/pkg/search"
	"github.com/mikeboe/deep-research/pkg/vectorstore"
)

// Base bundles the knowledge collection with its indexer and searcher.
type Base struct {
	Store    *vectorstore.PGVectorStore
	Embedder embeddings.Embedder
	Indexer  *Indexer
	Searcher *Searcher
}

// Open prepares the collection table and returns the knowledge base.
func Open(ctx context.Context, db *database.PostgresDB, cfg config.KnowledgeConfig) (*Base, error) {
	store, err := vectorstore.NewPGVectorStore(db.Pool, cfg.Collection)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureVectorExtension(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure vector extension: %w", err)
	}
	if err := db.CreateEmbeddingsTable(ctx, store.TableName(), cfg.Dimensions); err != nil {
		return nil, err
	}

	embedder, err := embeddings.NewGoogleEmbedder(ctx, cfg.EmbeddingModel, cfg.APIKey, cfg.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("failed to init embedder: %w", err)
	}

	return &Base{
		Store:    store,
		Embedder: embedder,
		Indexer:  NewIndexer(embedder, store, cfg.ChunkSize, cfg.ChunkOverlap),
		Searcher: &Searcher{Embedder: embedder, Store: store},
	}, nil
}

// Register makes the knowledge base selectable as a search backend.
func (b *Base) Register(r *search.Registry) {
	r.Register(ProviderID, func(search.Settings) (search.Provider, error) {
		return b.Searcher, nil
	})
}
