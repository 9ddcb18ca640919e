package chunker

import (
	"strings"
	"unicode/utf8"

	"coursekb/internal/domain"
	"coursekb/internal/port"
)

var _ port.Chunker = (*HeadingChunker)(nil)

// HeadingChunker emits one chunk per heading section. Sections larger than
// MaxChunkSize are packed block by block, and oversized prose falls back to
// line splitting.
type HeadingChunker struct{}

func NewHeadingChunker() *HeadingChunker {
	return &HeadingChunker{}
}

func (c *HeadingChunker) Name() string { return StrategyHeading }

func (c *HeadingChunker) Chunk(document, courseID, chapterRef string, opts domain.ChunkOptions) ([]domain.Chunk, error) {
	if strings.TrimSpace(document) == "" {
		return nil, nil
	}
	limit := maxSize(opts)

	var pieces []piece
	for _, sec := range splitSections(parseBlocks(document)) {
		heading := joinPath(sec.path)
		text := sec.text()
		if utf8.RuneCountInString(text) <= limit {
			pieces = append(pieces, piece{text: text, contentType: detectContentType(text), heading: heading, language: firstLang(sec.blocks)})
			continue
		}
		for _, t := range packBlocks(sec.blocks, limit) {
			pieces = append(pieces, piece{text: t, contentType: detectContentType(t), heading: heading, language: firstLang(parseBlocks(t))})
		}
	}
	return finalize(pieces, courseID, chapterRef, opts), nil
}

// packBlocks groups consecutive blocks up to limit runes. Code and tables are
// never split.
func packBlocks(blocks []block, limit int) []string {
	var out []string
	var buf []string
	size := 0

	flush := func() {
		if len(buf) > 0 {
			out = append(out, strings.Join(buf, "\n\n"))
			buf, size = nil, 0
		}
	}

	for _, b := range blocks {
		if b.kind == blockParagraph && b.size() > limit {
			flush()
			out = append(out, NewLineSplitter(limit).Split(b.text)...)
			continue
		}
		if size > 0 && size+2+b.size() > limit {
			flush()
		}
		if size > 0 {
			size += 2
		}
		buf = append(buf, b.text)
		size += b.size()
	}
	flush()
	return out
}

func firstLang(blocks []block) string {
	for _, b := range blocks {
		if b.kind == blockCode {
			return b.lang
		}
	}
	return ""
}
