package retriever

import (
	"context"
	"fmt"

	"coursekb/internal/domain"
	"coursekb/internal/port"
)

// VectorRetriever embeds the query and runs a similarity search.
type VectorRetriever struct {
	embedder port.Embedder
}

func NewVectorRetriever(embedder port.Embedder) *VectorRetriever {
	return &VectorRetriever{embedder: embedder}
}

func (r *VectorRetriever) Search(ctx context.Context, col port.VectorStore, query string, k int, filters domain.Filters) ([]domain.ScoredChunk, error) {
	if r.embedder == nil {
		return nil, &domain.ConfigError{Key: "embedding.provider", Reason: "vector search requires an embedder"}
	}

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("embedding returned empty result")
	}

	results, err := col.Search(ctx, embeddings[0], k, filters)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return results, nil
}
