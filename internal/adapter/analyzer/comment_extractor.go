package analyzer

import (
	"regexp"
	"strings"
)

type CommentBlock struct {
	Text      string
	StartLine int
	EndLine   int
	Type      string
}

// CommentExtractor finds comments inside fenced code samples. Course
// material mixes many languages, so patterns are grouped by syntax family
// and fence tags are resolved through an alias table.
type CommentExtractor struct {
	patterns map[string]commentSyntax
	aliases  map[string]string
}

var genericSyntax = commentSyntax{
	lineComment: regexp.MustCompile(`(?:^|\s)(?://|#)(.*)$`),
	blockStart:  regexp.MustCompile(`/\*`),
	blockEnd:    regexp.MustCompile(`\*/`),
}

type commentSyntax struct {
	lineComment *regexp.Regexp
	blockStart  *regexp.Regexp
	blockEnd    *regexp.Regexp
}

func NewCommentExtractor() *CommentExtractor {
	slashes := commentSyntax{
		lineComment: regexp.MustCompile(`(?:^|\s)//(.*)$`),
		blockStart:  regexp.MustCompile(`/\*`),
		blockEnd:    regexp.MustCompile(`\*/`),
	}
	hash := commentSyntax{
		lineComment: regexp.MustCompile(`(?:^|\s)#(.*)$`),
	}
	return &CommentExtractor{
		patterns: map[string]commentSyntax{
			"c": slashes,
			"python": {
				lineComment: regexp.MustCompile(`(?:^|\s)#(.*)$`),
				blockStart:  regexp.MustCompile(`^\s*(?:'''|""")`),
				blockEnd:    regexp.MustCompile(`(?:'''|""")\s*$`),
			},
			"shell": hash,
			"ruby": {
				lineComment: regexp.MustCompile(`(?:^|\s)#(.*)$`),
				blockStart:  regexp.MustCompile(`^=begin`),
				blockEnd:    regexp.MustCompile(`^=end`),
			},
			"sql": {
				lineComment: regexp.MustCompile(`(?:^|\s)--(.*)$`),
				blockStart:  regexp.MustCompile(`/\*`),
				blockEnd:    regexp.MustCompile(`\*/`),
			},
			"html": {
				blockStart: regexp.MustCompile(`<!--`),
				blockEnd:   regexp.MustCompile(`-->`),
			},
			"lua": {
				lineComment: regexp.MustCompile(`(?:^|\s)--(.*)$`),
				blockStart:  regexp.MustCompile(`--\[\[`),
				blockEnd:    regexp.MustCompile(`\]\]`),
			},
			"matlab": {
				lineComment: regexp.MustCompile(`(?:^|\s)%(.*)$`),
				blockStart:  regexp.MustCompile(`^\s*%\{`),
				blockEnd:    regexp.MustCompile(`^\s*%\}`),
			},
		},
		aliases: map[string]string{
			"go": "c", "golang": "c", "javascript": "c", "js": "c", "jsx": "c",
			"typescript": "c", "ts": "c", "tsx": "c", "java": "c", "kotlin": "c",
			"cpp": "c", "c++": "c", "cc": "c", "h": "c", "csharp": "c", "cs": "c",
			"rust": "c", "rs": "c", "swift": "c", "scala": "c", "php": "c", "css": "c",
			"py": "python", "python3": "python", "ipython": "python",
			"sh": "shell", "bash": "shell", "zsh": "shell", "console": "shell",
			"r": "shell", "yaml": "shell", "yml": "shell", "toml": "shell",
			"perl": "shell", "dockerfile": "shell", "makefile": "shell",
			"rb": "ruby",
			"mysql": "sql", "postgresql": "sql", "plsql": "sql",
			"xml": "html", "vue": "html",
			"octave": "matlab",
		},
	}
}

// family resolves a fence tag to a known comment family; unknown or empty
// tags report ok=false.
func (e *CommentExtractor) family(lang string) (commentSyntax, bool) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if alias, ok := e.aliases[lang]; ok {
		lang = alias
	}
	p, ok := e.patterns[lang]
	return p, ok
}

// Extract returns the comments in content. Unknown languages are scanned
// with both // and # line comments.
func (e *CommentExtractor) Extract(content string, lang string) []CommentBlock {
	patterns, ok := e.family(lang)
	if !ok {
		patterns = genericSyntax
	}

	lines := strings.Split(content, "\n")
	var comments []CommentBlock

	inBlockComment := false
	blockStartLine := 0
	var blockContent strings.Builder

	for lineNum, line := range lines {
		lineNumber := lineNum + 1

		if inBlockComment {
			blockContent.WriteString(line)
			blockContent.WriteString("\n")
			if patterns.blockEnd.MatchString(line) {
				comments = append(comments, CommentBlock{
					Text:      strings.TrimSpace(blockContent.String()),
					StartLine: blockStartLine,
					EndLine:   lineNumber,
					Type:      "block",
				})
				inBlockComment = false
				blockContent.Reset()
			}
			continue
		}

		if patterns.blockStart != nil {
			if loc := patterns.blockStart.FindStringIndex(line); loc != nil {
				rest := line[loc[1]:]
				if patterns.blockEnd.MatchString(rest) {
					if text := extractBetween(line, patterns.blockStart, patterns.blockEnd); text != "" {
						comments = append(comments, CommentBlock{
							Text:      text,
							StartLine: lineNumber,
							EndLine:   lineNumber,
							Type:      "block",
						})
					}
				} else {
					inBlockComment = true
					blockStartLine = lineNumber
					blockContent.WriteString(line)
					blockContent.WriteString("\n")
				}
				continue
			}
		}

		if patterns.lineComment != nil {
			if matches := patterns.lineComment.FindStringSubmatch(line); len(matches) > 1 {
				text := strings.TrimSpace(matches[1])
				if text != "" && !isShebang(line) {
					comments = append(comments, CommentBlock{
						Text:      text,
						StartLine: lineNumber,
						EndLine:   lineNumber,
						Type:      "line",
					})
				}
			}
		}
	}

	return mergeConsecutiveComments(comments)
}

// HasExplanatoryComment reports whether code carries at least one comment
// with real words in it.
func (e *CommentExtractor) HasExplanatoryComment(content, lang string) bool {
	for _, c := range e.Extract(content, lang) {
		if len(splitWords(c.Text)) >= 2 {
			return true
		}
		for _, w := range splitWords(c.Text) {
			if isHanWord(w) {
				return true
			}
		}
	}
	return false
}

// LeadingComment returns the first comment block that starts within the
// first three lines of content.
func (e *CommentExtractor) LeadingComment(content, lang string) string {
	comments := e.Extract(content, lang)
	if len(comments) == 0 || comments[0].StartLine > 3 {
		return ""
	}
	return comments[0].Text
}

func isShebang(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "#!")
}

func extractBetween(line string, start, end *regexp.Regexp) string {
	startIdx := start.FindStringIndex(line)
	if startIdx == nil {
		return ""
	}
	endIdx := end.FindStringIndex(line[startIdx[1]:])
	if endIdx == nil {
		return ""
	}
	return strings.TrimSpace(line[startIdx[1] : startIdx[1]+endIdx[0]])
}

func mergeConsecutiveComments(comments []CommentBlock) []CommentBlock {
	if len(comments) <= 1 {
		return comments
	}

	var merged []CommentBlock
	i := 0

	for i < len(comments) {
		current := comments[i]

		if current.Type != "line" {
			merged = append(merged, current)
			i++
			continue
		}

		var textBuilder strings.Builder
		textBuilder.WriteString(current.Text)
		endLine := current.EndLine

		j := i + 1
		for j < len(comments) {
			next := comments[j]
			if next.Type != "line" || next.StartLine != endLine+1 {
				break
			}
			textBuilder.WriteString("\n")
			textBuilder.WriteString(next.Text)
			endLine = next.EndLine
			j++
		}

		merged = append(merged, CommentBlock{
			Text:      textBuilder.String(),
			StartLine: current.StartLine,
			EndLine:   endLine,
			Type:      "line",
		})
		i = j
	}

	return merged
}
