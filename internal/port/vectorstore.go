package port

import (
	"context"

	"coursekb/internal/domain"
)

// VectorStore is one collection of chunks. Reads on a collection that was
// never written behave as reads on an empty collection.
type VectorStore interface {
	Name() string

	// AddChunks writes all chunks or none of them.
	AddChunks(ctx context.Context, chunks []domain.Chunk) error

	Search(ctx context.Context, query []float32, topK int, filters domain.Filters) ([]domain.ScoredChunk, error)

	// KeywordSearch scores chunks by term frequency of the query terms.
	KeywordSearch(ctx context.Context, terms []string, topK int, filters domain.Filters) ([]domain.ScoredChunk, error)

	DeleteChunks(ctx context.Context, ids []string) error

	DeleteCollection(ctx context.Context) error

	Size(ctx context.Context) (int, error)

	// GetAllChunks lists chunks without embeddings.
	GetAllChunks(ctx context.Context) ([]domain.Chunk, error)

	// GetChunksWithEmbeddings returns the requested chunks with Embedding set
	// when one is stored. Unknown IDs are skipped.
	GetChunksWithEmbeddings(ctx context.Context, ids []string) ([]domain.Chunk, error)

	ListIDsWithPrefix(ctx context.Context, prefix string) ([]string, error)

	// GetLegacyChunkIDs returns IDs whose strategy version differs from the
	// store's current version, limited to chapterRef when it is non-empty.
	GetLegacyChunkIDs(ctx context.Context, chapterRef string) ([]string, error)

	DeleteLegacyChunks(ctx context.Context, chapterRef string) (int, error)
}

// CollectionStore hands out collections by name.
type CollectionStore interface {
	Collection(name string) VectorStore

	ListCollections(ctx context.Context) ([]string, error)

	Close() error
}

// StatusStore persists index and sync status per chapter.
type StatusStore interface {
	GetStatus(ctx context.Context, courseID, chapterRef string) (domain.IndexStatus, error)

	PutStatus(ctx context.Context, status domain.IndexStatus) error

	ListStatus(ctx context.Context, courseID string) ([]domain.IndexStatus, error)

	DeleteStatus(ctx context.Context, courseID string) error
}
