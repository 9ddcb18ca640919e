package chunker

import (
	"strings"

	"coursekb/internal/domain"
	"coursekb/internal/port"
)

var _ port.Chunker = (*FixedChunker)(nil)

// FixedChunker cuts the document into overlapping windows of MaxChunkSize
// runes with no regard for Markdown structure.
type FixedChunker struct{}

func NewFixedChunker() *FixedChunker {
	return &FixedChunker{}
}

func (c *FixedChunker) Name() string { return StrategyFixed }

func (c *FixedChunker) Chunk(document, courseID, chapterRef string, opts domain.ChunkOptions) ([]domain.Chunk, error) {
	if strings.TrimSpace(document) == "" {
		return nil, nil
	}

	texts := windows(document, maxSize(opts), opts.OverlapSize)
	pieces := make([]piece, 0, len(texts))
	for _, t := range texts {
		pieces = append(pieces, piece{text: t, contentType: detectContentType(t)})
	}
	return finalize(pieces, courseID, chapterRef, opts), nil
}
