// Package filter decides which chunks are worth embedding.
package filter

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"coursekb/internal/adapter/analyzer"
	"coursekb/internal/domain"
	"coursekb/internal/port"
)

var _ port.ContentFilter = (*Filter)(nil)

const (
	DefaultMinLength = 10
	maxCodeRatio     = 0.8
	maxFormulaRatio  = 0.6
)

var (
	markdownImage = regexp.MustCompile(`!\[[^\]\n]*\]\([^)\n]*\)`)
	htmlImage     = regexp.MustCompile(`(?i)<img\b[^>]*>`)
	displayMath   = regexp.MustCompile(`(?s)\$\$.+?\$\$`)
	latexEnv      = regexp.MustCompile(`(?s)\\begin\{(\w+\*?)\}.*?\\end\{\w+\*?\}`)
	inlineMath    = regexp.MustCompile(`\$[^$\n]+\$`)
	tocHeading    = regexp.MustCompile(`(?i)^#{0,6}\s*(目录|本章目录|table of contents|contents|toc)\s*:?\s*$`)
	navLink       = regexp.MustCompile(`(?i)^(?:[-*+]\s+|\d+\.\s+)?\[[^\]]*\]\(#[^)]*\)\s*$`)
	prevNextLine  = regexp.MustCompile(`(?i)^[\s|«»<>←→]*\[[^\]]*(?:next|previous|prev|上一|下一|返回)[^\]]*\]\([^)]*\)(?:[\s|«»<>←→]*\[[^\]]*\]\([^)]*\))*[\s|«»<>←→]*$`)
)

// Filter is the default ContentFilter. It holds no state besides its
// configuration and is safe for concurrent use.
type Filter struct {
	minLength int
	comments  *analyzer.CommentExtractor
}

type Option func(*Filter)

// WithMinLength overrides the minimum length in runes.
func WithMinLength(n int) Option {
	return func(f *Filter) {
		if n > 0 {
			f.minLength = n
		}
	}
}

func New(opts ...Option) *Filter {
	f := &Filter{
		minLength: DefaultMinLength,
		comments:  analyzer.NewCommentExtractor(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ShouldEmbed reports whether text carries enough prose to be useful as a
// retrieval target.
func (f *Filter) ShouldEmbed(text string, contentType domain.ContentType) bool {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < f.minLength {
		return false
	}
	if isImageOnly(trimmed) {
		return false
	}
	if isNavigation(trimmed) {
		return false
	}
	if formulaRatio(trimmed) > maxFormulaRatio {
		return false
	}
	if contentType == domain.ContentCodeBlock || strings.Contains(trimmed, "```") {
		if f.isBareCode(trimmed, contentType) {
			return false
		}
	}
	return true
}

// Clean strips image markup outside code fences and squeezes the blank
// lines it leaves behind. Clean(Clean(x)) == Clean(x).
func (f *Filter) Clean(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	var fences fenceState
	blank := false

	for _, line := range lines {
		if fences.step(line) {
			out = append(out, strings.TrimRight(line, " \t"))
			blank = false
			continue
		}
		if fences.open() {
			out = append(out, line)
			continue
		}

		line = strings.TrimRight(stripImages(line), " \t")
		if strings.TrimSpace(line) == "" {
			if blank {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, line)
	}

	return strings.TrimSpace(strings.Join(out, "\n"))
}

func stripImages(line string) string {
	for {
		next := htmlImage.ReplaceAllString(markdownImage.ReplaceAllString(line, ""), "")
		if next == line {
			return line
		}
		line = next
	}
}

func isImageOnly(text string) bool {
	if !markdownImage.MatchString(text) && !htmlImage.MatchString(text) {
		return false
	}
	return strings.TrimSpace(stripImages(text)) == ""
}

// isNavigation matches table-of-contents blocks and prev/next link rows.
func isNavigation(text string) bool {
	lines := nonEmptyLines(text)
	if len(lines) == 0 {
		return false
	}

	first := lines[0]
	if tocHeading.MatchString(first) {
		rest := lines[1:]
		if len(rest) == 0 {
			return true
		}
		return allMatch(rest, func(l string) bool {
			return navLink.MatchString(l) || isPlainLinkItem(l)
		})
	}

	return allMatch(lines, func(l string) bool {
		return navLink.MatchString(l) || prevNextLine.MatchString(l)
	})
}

var linkItem = regexp.MustCompile(`^(?:[-*+]\s+|\d+\.\s+)\[[^\]]*\]\([^)]*\)\s*$`)

func isPlainLinkItem(line string) bool {
	return linkItem.MatchString(line)
}

func formulaRatio(text string) float64 {
	total := utf8.RuneCountInString(text)
	if total == 0 {
		return 0
	}

	formula := 0
	rest := text
	for _, re := range []*regexp.Regexp{displayMath, latexEnv, inlineMath} {
		for _, m := range re.FindAllString(rest, -1) {
			formula += utf8.RuneCountInString(m)
		}
		rest = re.ReplaceAllString(rest, " ")
	}
	return float64(formula) / float64(total)
}

// isBareCode reports a span that is more than 80% code lines and has no
// explanatory comment inside its code.
func (f *Filter) isBareCode(text string, contentType domain.ContentType) bool {
	lines := strings.Split(text, "\n")
	var fences fenceState
	fenced := false
	lang := ""
	codeLines, proseLines := 0, 0
	var code strings.Builder

	for _, line := range lines {
		wasOpen := fences.open()
		if fences.step(line) {
			if !wasOpen {
				lang = fenceLanguage(line)
				fenced = true
			}
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if fences.open() {
			codeLines++
			code.WriteString(line)
			code.WriteString("\n")
			continue
		}
		proseLines++
	}

	// An unfenced code_block chunk is all code.
	if !fenced && contentType == domain.ContentCodeBlock {
		codeLines, proseLines = proseLines, 0
		code.WriteString(text)
	}

	if codeLines == 0 {
		return false
	}
	if float64(codeLines)/float64(codeLines+proseLines) <= maxCodeRatio {
		return false
	}
	return !f.comments.HasExplanatoryComment(code.String(), lang)
}

func isFenceLine(line string) bool {
	t := strings.TrimSpace(line)
	return strings.HasPrefix(t, "```") || strings.HasPrefix(t, "~~~")
}

// fenceState follows code fences line by line. A fence closes only on a
// bare run of its own character at least as long as the opening one.
type fenceState struct {
	char  byte
	width int
}

func (s *fenceState) open() bool { return s.width > 0 }

// step reports whether line opens or closes a fence.
func (s *fenceState) step(line string) bool {
	t := strings.TrimSpace(line)
	if !s.open() {
		if !isFenceLine(line) {
			return false
		}
		s.char = t[0]
		for s.width < len(t) && t[s.width] == s.char {
			s.width++
		}
		return true
	}
	if len(t) < s.width || strings.Trim(t, string(s.char)) != "" {
		return false
	}
	s.width = 0
	return true
}

func fenceLanguage(line string) string {
	t := strings.TrimLeft(strings.TrimSpace(line), "`~")
	if i := strings.IndexAny(t, " \t{"); i >= 0 {
		t = t[:i]
	}
	return strings.ToLower(t)
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, l := range strings.Split(text, "\n") {
		if t := strings.TrimSpace(l); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func allMatch(lines []string, fn func(string) bool) bool {
	for _, l := range lines {
		if !fn(l) {
			return false
		}
	}
	return true
}
