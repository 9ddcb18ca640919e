package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"coursekb/internal/domain"
	"coursekb/internal/port"
)

var _ port.Chunker = (*SemanticChunker)(nil)

// SemanticChunker splits at headings first, then packs prose blocks up to
// MaxChunkSize. Code fences and tables are always emitted whole, and a short
// explanation right before a code fence travels with it.
type SemanticChunker struct {
	summarizer *codeSummarizer
}

func NewSemanticChunker() *SemanticChunker {
	return &SemanticChunker{summarizer: newCodeSummarizer()}
}

func (c *SemanticChunker) Name() string { return StrategySemantic }

func (c *SemanticChunker) Chunk(document, courseID, chapterRef string, opts domain.ChunkOptions) ([]domain.Chunk, error) {
	if strings.TrimSpace(document) == "" {
		return nil, nil
	}
	limit := maxSize(opts)

	var pieces []piece
	for i, sec := range splitSections(parseBlocks(document)) {
		secPieces := c.chunkSection(sec, limit, opts)
		for j := range secPieces {
			secPieces[j].section = i
		}
		pieces = append(pieces, mergeTail(secPieces, opts.MinChunkSize, limit)...)
	}

	if opts.Overlap && opts.OverlapSize > 0 {
		pieces = applyOverlap(pieces, opts.OverlapSize, limit)
	}

	return finalize(pieces, courseID, chapterRef, opts), nil
}

func (c *SemanticChunker) chunkSection(sec section, limit int, opts domain.ChunkOptions) []piece {
	heading := joinPath(sec.path)

	var out []piece
	var buf []block
	bufSize := 0
	bufLast := -1

	flush := func() {
		if len(buf) == 0 {
			return
		}
		texts := make([]string, len(buf))
		for i, b := range buf {
			texts[i] = b.text
		}
		out = append(out, piece{text: strings.Join(texts, "\n\n"), contentType: bufferType(buf), heading: heading})
		buf, bufSize, bufLast = nil, 0, -1
	}

	add := func(i int, b block) {
		if bufSize > 0 && bufSize+2+b.size() > limit {
			flush()
		}
		if bufSize > 0 {
			bufSize += 2
		}
		buf = append(buf, b)
		bufSize += b.size()
		bufLast = i
	}

	for i, b := range sec.blocks {
		switch {
		case b.kind == blockCode:
			explanation := ""
			if n := len(buf); n > 0 && bufLast == i-1 && buf[n-1].kind == blockParagraph && buf[n-1].size() < explanationMaxRunes {
				explanation = buf[n-1].text
				buf = buf[:n-1]
				bufSize = blocksSize(buf)
			}
			flush()
			out = append(out, c.summarizer.codePieces(explanation, b, heading, opts)...)

		case b.kind == blockTable && b.size() > limit:
			flush()
			out = append(out, piece{text: b.text, contentType: domain.ContentTable, heading: heading})

		case b.kind == blockParagraph && b.size() > limit:
			flush()
			for _, t := range NewLineSplitter(limit).Split(b.text) {
				out = append(out, piece{text: t, contentType: domain.ContentParagraph, heading: heading})
			}

		default:
			add(i, b)
		}
	}
	flush()

	return out
}

func bufferType(buf []block) domain.ContentType {
	headings, tables := 0, 0
	for _, b := range buf {
		switch b.kind {
		case blockHeading:
			headings++
		case blockTable:
			tables++
		}
	}
	switch {
	case headings == len(buf):
		return domain.ContentHeading
	case tables > 0 && headings+tables == len(buf):
		return domain.ContentTable
	}
	return domain.ContentParagraph
}

func blocksSize(blocks []block) int {
	n := 0
	for i, b := range blocks {
		if i > 0 {
			n += 2
		}
		n += b.size()
	}
	return n
}

func isProse(p piece) bool {
	return p.contentType == domain.ContentParagraph || p.contentType == domain.ContentHeading
}

// mergeTail folds an undersized last prose piece of a section into the
// prose piece before it, as long as the result still fits in limit.
func mergeTail(pieces []piece, minSize, limit int) []piece {
	n := len(pieces)
	if minSize <= 0 || n < 2 {
		return pieces
	}
	last, prev := pieces[n-1], pieces[n-2]
	if !isProse(last) || !isProse(prev) {
		return pieces
	}
	lastSize := utf8.RuneCountInString(last.text)
	if lastSize >= minSize || utf8.RuneCountInString(prev.text)+2+lastSize > limit {
		return pieces
	}
	prev.text = prev.text + "\n\n" + last.text
	prev.contentType = domain.ContentParagraph
	return append(pieces[:n-2], prev)
}

// applyOverlap prefixes each paragraph with the tail of the paragraph before
// it in the same section. Tails are taken from the unmodified texts so the
// result depends only on the input. A tail is never taken from text holding
// table rows, and it is shortened so the paragraph stays within limit.
func applyOverlap(pieces []piece, size, limit int) []piece {
	original := make([]string, len(pieces))
	for i, p := range pieces {
		original[i] = p.text
	}
	for i := 1; i < len(pieces); i++ {
		prev, cur := pieces[i-1], pieces[i]
		if prev.section != cur.section ||
			prev.contentType != domain.ContentParagraph ||
			cur.contentType != domain.ContentParagraph ||
			hasTableRow(original[i-1]) {
			continue
		}
		n := size
		if budget := limit - utf8.RuneCountInString(cur.text) - 1; budget < n {
			n = budget
		}
		if n <= 0 {
			continue
		}
		if tail := overlapTail(original[i-1], n); tail != "" {
			pieces[i].text = tail + "\n" + cur.text
		}
	}
	return pieces
}

func hasTableRow(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if isTableRow(strings.TrimSpace(line)) {
			return true
		}
	}
	return false
}

func overlapTail(text string, size int) string {
	runes := []rune(text)
	if len(runes) <= size {
		return ""
	}
	tail := runes[len(runes)-size:]
	// Start on a word or sentence boundary when one is close.
	for i := 0; i < len(tail)/2; i++ {
		if unicode.IsSpace(tail[i]) || strings.ContainsRune(sentenceTerminators, tail[i]) {
			tail = tail[i+1:]
			break
		}
	}
	return strings.TrimSpace(string(tail))
}
