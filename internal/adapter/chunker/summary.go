package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"coursekb/internal/adapter/analyzer"
	"coursekb/internal/domain"
)

const defaultCodeSummaryThreshold = 800

// codeSummarizer turns long code samples into a short description that
// embeds better than raw code: language, leading comment and declarations.
type codeSummarizer struct {
	symbols  *analyzer.SymbolExtractor
	comments *analyzer.CommentExtractor
}

func newCodeSummarizer() *codeSummarizer {
	return &codeSummarizer{
		symbols:  analyzer.NewSymbolExtractor(),
		comments: analyzer.NewCommentExtractor(),
	}
}

func (s *codeSummarizer) Summarize(explanation, code, lang string) string {
	body := fenceBody(code)

	var sb strings.Builder
	if lang == "" {
		sb.WriteString("Code example")
	} else {
		fmt.Fprintf(&sb, "Code example (%s)", lang)
	}
	fmt.Fprintf(&sb, ", %d lines.", strings.Count(body, "\n")+1)

	if explanation != "" {
		sb.WriteString("\n")
		sb.WriteString(explanation)
	}
	if c := s.comments.LeadingComment(body, lang); c != "" {
		sb.WriteString("\n")
		sb.WriteString(c)
	}

	syms := s.symbols.Extract(body, lang)
	if len(syms) > 0 {
		sb.WriteString("\nDeclares:")
		for _, sym := range syms {
			fmt.Fprintf(&sb, "\n- %s %s: %s", sym.Kind, sym.Name, sym.Signature)
		}
	}
	return sb.String()
}

// codePieces applies the code block strategy to one fenced block, with an
// optional explanation line already attached by the caller.
func (s *codeSummarizer) codePieces(explanation string, b block, heading string, opts domain.ChunkOptions) []piece {
	full := b.text
	if explanation != "" {
		full = explanation + "\n\n" + b.text
	}
	code := piece{text: full, contentType: domain.ContentCodeBlock, heading: heading, language: b.lang}

	threshold := opts.CodeSummaryThreshold
	if threshold <= 0 {
		threshold = defaultCodeSummaryThreshold
	}
	if utf8.RuneCountInString(b.text) <= threshold {
		return []piece{code}
	}

	summary := piece{
		text:        s.Summarize(explanation, b.text, b.lang),
		contentType: domain.ContentSummary,
		heading:     heading,
		language:    b.lang,
	}
	switch opts.CodeBlockStrategy {
	case domain.CodeSummarize:
		return []piece{summary}
	case domain.CodeHybrid:
		return []piece{code, summary}
	}
	return []piece{code}
}

func fenceBody(code string) string {
	lines := strings.Split(code, "\n")
	if len(lines) > 0 && isFence(strings.TrimSpace(lines[0])) {
		lines = lines[1:]
	}
	if n := len(lines); n > 0 && isFence(strings.TrimSpace(lines[n-1])) {
		lines = lines[:n-1]
	}
	return strings.Join(lines, "\n")
}
