package retriever

import (
	"context"
	"fmt"

	"coursekb/internal/domain"
	"coursekb/internal/port"
)

// KeywordRetriever tokenizes the query and scores chunks from the
// collection's inverted index.
type KeywordRetriever struct {
	tokenizer port.Tokenizer
}

func NewKeywordRetriever(tokenizer port.Tokenizer) *KeywordRetriever {
	return &KeywordRetriever{tokenizer: tokenizer}
}

func (r *KeywordRetriever) Search(ctx context.Context, col port.VectorStore, query string, k int, filters domain.Filters) ([]domain.ScoredChunk, error) {
	terms := r.tokenizer.Tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	results, err := col.KeywordSearch(ctx, terms, k, filters)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	return results, nil
}
