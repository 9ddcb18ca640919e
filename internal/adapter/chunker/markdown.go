package chunker

import (
	"strings"
	"unicode/utf8"
)

type blockKind int

const (
	blockParagraph blockKind = iota
	blockHeading
	blockCode
	blockTable
)

// block is one structural unit of a Markdown chapter. Code fences and
// tables are never split below this level.
type block struct {
	kind  blockKind
	text  string
	level int    // heading level
	title string // heading text
	lang  string // code fence language
}

func (b block) size() int { return utf8.RuneCountInString(b.text) }

// section is a heading with the blocks that follow it up to the next
// heading. Blocks before the first heading form a section with no heading.
type section struct {
	path   []string
	blocks []block
}

func (s section) text() string {
	parts := make([]string, len(s.blocks))
	for i, b := range s.blocks {
		parts[i] = b.text
	}
	return strings.Join(parts, "\n\n")
}

func parseBlocks(doc string) []block {
	lines := strings.Split(strings.ReplaceAll(doc, "\r\n", "\n"), "\n")
	var blocks []block
	var para []string

	flushPara := func() {
		if len(para) > 0 {
			blocks = append(blocks, block{kind: blockParagraph, text: strings.Join(para, "\n")})
			para = nil
		}
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			flushPara()

		case isFence(trimmed):
			flushPara()
			char, width := fenceRun(trimmed)
			start := i
			for i++; i < len(lines); i++ {
				if closesFence(strings.TrimSpace(lines[i]), char, width) {
					break
				}
			}
			end := i
			if end >= len(lines) {
				end = len(lines) - 1
			}
			blocks = append(blocks, block{
				kind: blockCode,
				text: strings.Join(lines[start:end+1], "\n"),
				lang: fenceLang(trimmed),
			})

		case isHeading(trimmed):
			flushPara()
			level := strings.IndexFunc(trimmed, func(r rune) bool { return r != '#' })
			blocks = append(blocks, block{
				kind:  blockHeading,
				text:  trimmed,
				level: level,
				title: strings.TrimSpace(strings.TrimRight(trimmed[level:], "#")),
			})

		case isTableRow(trimmed):
			flushPara()
			start := i
			for i+1 < len(lines) && isTableRow(strings.TrimSpace(lines[i+1])) {
				i++
			}
			blocks = append(blocks, block{kind: blockTable, text: strings.Join(lines[start:i+1], "\n")})

		default:
			para = append(para, line)
		}
	}
	flushPara()

	return blocks
}

// splitSections starts a new section at every heading and tracks the
// heading path so chunks can carry "A > A.1" style context.
func splitSections(blocks []block) []section {
	var sections []section
	var stack []block
	current := section{}

	for _, b := range blocks {
		if b.kind == blockHeading {
			if len(current.blocks) > 0 {
				sections = append(sections, current)
			}
			for len(stack) > 0 && stack[len(stack)-1].level >= b.level {
				stack = stack[:len(stack)-1]
			}
			stack = append(stack, b)

			path := make([]string, len(stack))
			for i, h := range stack {
				path[i] = h.title
			}
			current = section{path: path}
		}
		current.blocks = append(current.blocks, b)
	}
	if len(current.blocks) > 0 {
		sections = append(sections, current)
	}
	return sections
}

func isFence(trimmed string) bool {
	return strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")
}

// fenceRun returns the fence character and how many times it repeats at
// the start of an opening fence line.
func fenceRun(trimmed string) (byte, int) {
	char := trimmed[0]
	n := 0
	for n < len(trimmed) && trimmed[n] == char {
		n++
	}
	return char, n
}

// closesFence reports whether a line closes a fence opened with width
// repetitions of char: at least as many of the same character and no info
// string, so a shorter inner fence stays part of the code.
func closesFence(trimmed string, char byte, width int) bool {
	if len(trimmed) < width {
		return false
	}
	for i := 0; i < len(trimmed); i++ {
		if trimmed[i] != char {
			return false
		}
	}
	return true
}

func fenceLang(trimmed string) string {
	t := strings.TrimLeft(trimmed, "`~")
	if i := strings.IndexAny(t, " \t{"); i >= 0 {
		t = t[:i]
	}
	return strings.ToLower(strings.TrimSpace(t))
}

func isHeading(trimmed string) bool {
	level := strings.IndexFunc(trimmed, func(r rune) bool { return r != '#' })
	if level < 1 || level > 6 {
		return false
	}
	return trimmed[level] == ' ' || trimmed[level] == '\t'
}

func isTableRow(trimmed string) bool {
	return strings.HasPrefix(trimmed, "|") && strings.Count(trimmed, "|") >= 2
}
