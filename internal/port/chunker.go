package port

import "coursekb/internal/domain"

// Chunker splits one chapter document into ordered chunks.
type Chunker interface {
	Chunk(document, courseID, chapterRef string, opts domain.ChunkOptions) ([]domain.Chunk, error)

	Name() string
}

// ContentFilter decides whether a span is worth embedding.
type ContentFilter interface {
	ShouldEmbed(text string, contentType domain.ContentType) bool

	Clean(text string) string
}
