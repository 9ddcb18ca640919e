// Package chunker splits chapter documents into retrieval chunks.
package chunker

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"coursekb/internal/domain"
	"coursekb/internal/port"
)

const (
	defaultMaxChunkSize = 1000
	explanationMaxRunes = 200

	StrategySemantic = "semantic"
	StrategyFixed    = "fixed"
	StrategyHeading  = "heading"
)

// New returns the chunker registered under strategy.
func New(strategy string) (port.Chunker, error) {
	switch strings.ToLower(strategy) {
	case "", StrategySemantic:
		return NewSemanticChunker(), nil
	case StrategyFixed:
		return NewFixedChunker(), nil
	case StrategyHeading:
		return NewHeadingChunker(), nil
	}
	return nil, &domain.ConfigError{
		Key:    "chunking.chunking_strategy",
		Reason: fmt.Sprintf("unknown strategy %q (want semantic, fixed or heading)", strategy),
	}
}

// piece is a chunk before IDs and positions are assigned.
type piece struct {
	text        string
	contentType domain.ContentType
	heading     string
	language    string
	section     int
}

// finalize numbers pieces 0..n-1 in order and stamps chapter metadata.
func finalize(pieces []piece, courseID, chapterRef string, opts domain.ChunkOptions) []domain.Chunk {
	chunks := make([]domain.Chunk, 0, len(pieces))
	for _, p := range pieces {
		if strings.TrimSpace(p.text) == "" {
			continue
		}
		chunks = append(chunks, domain.Chunk{
			ID:   uuid.NewString(),
			Text: p.text,
			Metadata: domain.Metadata{
				CourseID:        courseID,
				ChapterRef:      chapterRef,
				Position:        len(chunks),
				ContentType:     p.contentType,
				StrategyVersion: opts.Version(),
				Heading:         p.heading,
				Language:        p.language,
			},
		})
	}
	return chunks
}

func maxSize(opts domain.ChunkOptions) int {
	if opts.MaxChunkSize <= 0 {
		return defaultMaxChunkSize
	}
	return opts.MaxChunkSize
}

// detectContentType classifies free text that was not produced from a
// single parsed block.
func detectContentType(text string) domain.ContentType {
	blocks := parseBlocks(text)
	kinds := map[blockKind]int{}
	for _, b := range blocks {
		kinds[b.kind]++
	}
	switch {
	case len(blocks) == 0:
		return domain.ContentParagraph
	case kinds[blockCode] > 0 && kinds[blockParagraph] <= 1 && kinds[blockTable] == 0:
		return domain.ContentCodeBlock
	case kinds[blockTable] > 0 && kinds[blockParagraph] == 0 && kinds[blockCode] == 0:
		return domain.ContentTable
	case kinds[blockHeading] == len(blocks):
		return domain.ContentHeading
	}
	return domain.ContentParagraph
}

func joinPath(path []string) string {
	return strings.Join(path, " > ")
}
