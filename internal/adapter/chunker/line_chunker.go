package chunker

import (
	"strings"
	"unicode/utf8"
)

// sentenceTerminators are the runes a window boundary may snap to.
const sentenceTerminators = ".!?\n。！？；"

const snapLookahead = 100

// LineSplitter is the fallback for text with no structure left to split on:
// lines are packed up to maxRunes, and a single line that is still too long
// is cut at sentence terminators.
type LineSplitter struct {
	maxRunes int
}

func NewLineSplitter(maxRunes int) *LineSplitter {
	if maxRunes <= 0 {
		maxRunes = defaultMaxChunkSize
	}
	return &LineSplitter{maxRunes: maxRunes}
}

func (s *LineSplitter) Split(text string) []string {
	lines := strings.Split(text, "\n")
	var pieces []string
	var current strings.Builder
	currentSize := 0

	flush := func() {
		if t := strings.TrimSpace(current.String()); t != "" {
			pieces = append(pieces, t)
		}
		current.Reset()
		currentSize = 0
	}

	for _, line := range lines {
		lineSize := utf8.RuneCountInString(line)

		if lineSize > s.maxRunes {
			flush()
			pieces = append(pieces, windows(line, s.maxRunes, 0)...)
			continue
		}

		if currentSize > 0 && currentSize+1+lineSize > s.maxRunes {
			flush()
		}
		if currentSize > 0 {
			current.WriteString("\n")
			currentSize++
		}
		current.WriteString(line)
		currentSize += lineSize
	}
	flush()

	return pieces
}

// windows slides a size-rune window over text, stepping back overlap runes
// each time. The end of each window moves forward to the next sentence
// terminator when one is within snapLookahead runes.
func windows(text string, size, overlap int) []string {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}
	if overlap >= size {
		overlap = 0
	}

	var out []string
	start := 0
	for start < n {
		end := start + size
		if end >= n {
			end = n
		} else {
			end = snapForward(runes, end)
		}

		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			out = append(out, piece)
		}
		if end == n {
			break
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

func snapForward(runes []rune, end int) int {
	limit := end + snapLookahead
	if limit > len(runes) {
		limit = len(runes)
	}
	for i := end; i <= limit; i++ {
		if strings.ContainsRune(sentenceTerminators, runes[i-1]) {
			return i
		}
	}
	return end
}
