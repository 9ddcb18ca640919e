package port

import (
	"context"

	"coursekb/internal/domain"
)

// RetrieveRequest describes one query against one collection.
type RetrieveRequest struct {
	Query          string
	CourseID       string
	Collection     string
	TopK           int
	Filters        domain.Filters
	ScoreThreshold float64
	Mode           domain.RetrievalMode
	ExpandQuery    bool
}

// Retriever turns a query into ranked chunks.
type Retriever interface {
	Retrieve(ctx context.Context, req RetrieveRequest) ([]domain.ScoredChunk, error)
}
