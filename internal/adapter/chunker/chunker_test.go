package chunker

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursekb/internal/domain"
)

func TestSemanticChunker_EndToEndExample(t *testing.T) {
	doc := "# A\n\nfoo\n\n## A.1\n\nbar\n\n```py\ncode\n```"

	chunks, err := NewSemanticChunker().Chunk(doc, "py101", "py101/ch01.md", domain.ChunkOptions{MaxChunkSize: 1000})
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	for i, c := range chunks {
		assert.Equal(t, i, c.Metadata.Position)
		assert.Equal(t, "py101", c.Metadata.CourseID)
		assert.Equal(t, "py101/ch01.md", c.Metadata.ChapterRef)
		assert.Equal(t, domain.StrategyVersion, c.Metadata.StrategyVersion)
		assert.NotEmpty(t, c.ID)
	}

	assert.Equal(t, "# A\n\nfoo", chunks[0].Text)
	assert.Equal(t, "A > A.1", chunks[1].Metadata.Heading)
	assert.Contains(t, chunks[2].Text, "```py\ncode\n```")
	assert.Equal(t, domain.ContentCodeBlock, chunks[2].Metadata.ContentType)
	assert.Equal(t, "py", chunks[2].Metadata.Language)
}

func TestSemanticChunker_EmptyDocument(t *testing.T) {
	for _, doc := range []string{"", "  \n\n\t"} {
		chunks, err := NewSemanticChunker().Chunk(doc, "c", "c/ch.md", domain.ChunkOptions{})
		require.NoError(t, err)
		assert.Empty(t, chunks)
	}
}

func TestSemanticChunker_StructuralIntegrity(t *testing.T) {
	code1 := "```go\nfunc main() {\n\tfmt.Println(\"hello, world\")\n}\n```"
	code2 := "```python\n" + strings.Repeat("total = total + 1\n", 12) + "```"
	table := "| name | type |\n| --- | --- |\n| x | int |\n| y | float |\n| label | string |"
	nested := "````markdown\n```python\nprint(1)\n```\n````"

	doc := strings.Join([]string{
		"# Basics",
		"Programs are made of statements that run one after another.",
		"Here is the smallest program:",
		code1,
		"## Types",
		"Every value has a type that decides which operations are allowed on it.",
		table,
		"Counting in a loop and a few more words so the paragraph has a tail worth sharing.",
		"Counting in a loop:",
		code2,
		"## Writing lessons",
		"A lesson shows code samples inside a longer fence.",
		nested,
		"That is all for now.",
	}, "\n\n")

	for _, limit := range []int{40, 80, 200, 1000} {
		for _, overlap := range []bool{false, true} {
			t.Run(fmt.Sprintf("max=%d/overlap=%v", limit, overlap), func(t *testing.T) {
				opts := domain.ChunkOptions{MaxChunkSize: limit, Overlap: overlap, OverlapSize: 100}
				chunks, err := NewSemanticChunker().Chunk(doc, "c", "c/ch01.md", opts)
				require.NoError(t, err)

				texts := make([]string, len(chunks))
				for i, c := range chunks {
					texts[i] = c.Text
					assert.Equal(t, i, c.Metadata.Position)
				}
				joined := strings.Join(texts, "\n\x00\n")

				for _, unit := range []string{code1, code2, table, nested} {
					assert.Equal(t, 1, strings.Count(joined, unit), "unit must appear exactly once and unsplit")
				}
				assert.Equal(t, 1, strings.Count(joined, "| label | string |"))
			})
		}
	}
}

func TestSemanticChunker_OverlapSkipsTables(t *testing.T) {
	table := "| name | type |\n| --- | --- |\n| x | int |\n| y | float |\n| label | string |"
	para := strings.TrimSpace(strings.Repeat("Values carry a type. ", 7))
	doc := "# Types\n\nEvery value has a type.\n\n" + table + "\n\n" + para

	chunks, err := NewSemanticChunker().Chunk(doc, "c", "c/ch.md", domain.ChunkOptions{MaxChunkSize: 200, Overlap: true, OverlapSize: 100})
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Contains(t, chunks[0].Text, table)
	assert.Equal(t, para, chunks[1].Text)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c.Text)), 200)
	}
}

func TestParseBlocks_NestedFences(t *testing.T) {
	tests := []struct {
		name string
		code string
		lang string
	}{
		{"longer backtick fence", "````markdown\n```python\nprint(1)\n```\n````", "markdown"},
		{"tilde around backticks", "~~~md\n```\nx = 1\n```\n~~~", "md"},
		{"closing run may be longer", "```go\nfmt.Println()\n`````", "go"},
		{"info string does not close", "```text\n```go\n```", "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocks := parseBlocks("Before.\n\n" + tt.code + "\n\nAfter.")
			require.Len(t, blocks, 3)
			assert.Equal(t, blockCode, blocks[1].kind)
			assert.Equal(t, tt.code, blocks[1].text)
			assert.Equal(t, tt.lang, blocks[1].lang)
			assert.Equal(t, "After.", blocks[2].text)
		})
	}
}

func TestSemanticChunker_ExplanationMergedIntoCode(t *testing.T) {
	doc := "# Loops\n\nA long introduction paragraph about loops.\n\nPrint three numbers:\n\n```python\nfor i in range(3):\n    print(i)\n```"

	chunks, err := NewSemanticChunker().Chunk(doc, "c", "c/ch.md", domain.ChunkOptions{MaxChunkSize: 1000})
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, "# Loops\n\nA long introduction paragraph about loops.", chunks[0].Text)
	assert.True(t, strings.HasPrefix(chunks[1].Text, "Print three numbers:\n\n```python"))
}

func TestSemanticChunker_OversizedParagraphFallsBackToLines(t *testing.T) {
	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, fmt.Sprintf("statement number %02d", i))
	}
	doc := strings.Join(lines, "\n")

	chunks, err := NewSemanticChunker().Chunk(doc, "c", "c/long.md", domain.ChunkOptions{MaxChunkSize: 70})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i, c := range chunks {
		assert.Equal(t, i, c.Metadata.Position)
		assert.Equal(t, "c/long.md", c.Metadata.ChapterRef)
		assert.LessOrEqual(t, len([]rune(c.Text)), 70)
	}
}

func TestSemanticChunker_OverlapIsReproducible(t *testing.T) {
	doc := "First paragraph talks about variables and how names bind values.\n\n" +
		"Second paragraph talks about functions and how they take arguments."
	opts := domain.ChunkOptions{MaxChunkSize: 100, Overlap: true, OverlapSize: 20}

	a, err := NewSemanticChunker().Chunk(doc, "c", "c/ch.md", opts)
	require.NoError(t, err)
	b, err := NewSemanticChunker().Chunk(doc, "c", "c/ch.md", opts)
	require.NoError(t, err)

	require.Len(t, a, 2)
	assert.Equal(t, "First paragraph talks about variables and how names bind values.", a[0].Text)
	assert.Equal(t, "names bind values.\nSecond paragraph talks about functions and how they take arguments.", a[1].Text)
	assert.Equal(t, a[1].Text, b[1].Text)
}

func TestSemanticChunker_OverlapStaysWithinLimit(t *testing.T) {
	doc := "First paragraph talks about variables and how names bind values.\n\n" +
		"Second paragraph talks about functions and how they take arguments."

	chunks, err := NewSemanticChunker().Chunk(doc, "c", "c/ch.md", domain.ChunkOptions{MaxChunkSize: 80, Overlap: true, OverlapSize: 20})
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, "values.\nSecond paragraph talks about functions and how they take arguments.", chunks[1].Text)
	assert.LessOrEqual(t, len([]rune(chunks[1].Text)), 80)
}

func TestMergeTail(t *testing.T) {
	pieces := []piece{
		{text: "a full paragraph", contentType: domain.ContentParagraph},
		{text: "tail", contentType: domain.ContentParagraph},
	}

	merged := mergeTail(pieces, 10, 100)
	require.Len(t, merged, 1)
	assert.Equal(t, "a full paragraph\n\ntail", merged[0].text)

	tooBig := mergeTail([]piece{
		{text: "a full paragraph", contentType: domain.ContentParagraph},
		{text: "tail", contentType: domain.ContentParagraph},
	}, 10, 18)
	assert.Len(t, tooBig, 2)

	afterCode := mergeTail([]piece{
		{text: "```\nx\n```", contentType: domain.ContentCodeBlock},
		{text: "tail", contentType: domain.ContentParagraph},
	}, 10, 100)
	assert.Len(t, afterCode, 2)
}

func TestSemanticChunker_CodeBlockStrategies(t *testing.T) {
	code := "```go\n// Add returns the sum of two ints.\nfunc Add(a, b int) int {\n\treturn a + b\n}\n```"
	doc := "# Math\n\n" + code

	t.Run("summarize", func(t *testing.T) {
		chunks, err := NewSemanticChunker().Chunk(doc, "c", "c/ch.md", domain.ChunkOptions{
			CodeBlockStrategy: domain.CodeSummarize, CodeSummaryThreshold: 20,
		})
		require.NoError(t, err)
		require.Len(t, chunks, 2)

		summary := chunks[1]
		assert.Equal(t, domain.ContentSummary, summary.Metadata.ContentType)
		assert.Contains(t, summary.Text, "Code example (go)")
		assert.Contains(t, summary.Text, "Add returns the sum of two ints.")
		assert.Contains(t, summary.Text, "func Add(a int, b int) int")
		assert.NotContains(t, summary.Text, "return a + b")
	})

	t.Run("hybrid", func(t *testing.T) {
		chunks, err := NewSemanticChunker().Chunk(doc, "c", "c/ch.md", domain.ChunkOptions{
			CodeBlockStrategy: domain.CodeHybrid, CodeSummaryThreshold: 20,
		})
		require.NoError(t, err)
		require.Len(t, chunks, 3)
		assert.Equal(t, domain.ContentCodeBlock, chunks[1].Metadata.ContentType)
		assert.Equal(t, domain.ContentSummary, chunks[2].Metadata.ContentType)
		assert.Equal(t, 2, chunks[2].Metadata.Position)
	})

	t.Run("below threshold", func(t *testing.T) {
		chunks, err := NewSemanticChunker().Chunk(doc, "c", "c/ch.md", domain.ChunkOptions{
			CodeBlockStrategy: domain.CodeSummarize, CodeSummaryThreshold: 5000,
		})
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Equal(t, domain.ContentCodeBlock, chunks[1].Metadata.ContentType)
	})
}

func TestStrategyVersionOverride(t *testing.T) {
	chunks, err := NewFixedChunker().Chunk("some text to chunk", "c", "c/ch.md", domain.ChunkOptions{StrategyVersion: "fixed-v1"})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "fixed-v1", chunks[0].Metadata.StrategyVersion)
}

func TestFixedChunker(t *testing.T) {
	doc := "Alpha beta gamma. Delta epsilon zeta. Eta theta iota."

	chunks, err := NewFixedChunker().Chunk(doc, "c", "c/ch.md", domain.ChunkOptions{MaxChunkSize: 20, OverlapSize: 5})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 0, chunks[0].Metadata.Position)
	assert.Equal(t, 1, chunks[1].Metadata.Position)
	assert.True(t, strings.HasPrefix(chunks[1].Text, "zeta."))
	assert.NotEqual(t, chunks[0].ID, chunks[1].ID)
}

func TestHeadingChunker(t *testing.T) {
	doc := "intro text\n\n# One\n\nbody one\n\n## One.A\n\nbody a\n\n```sh\necho hi\n```\n\n# Two\n\nbody two"

	chunks, err := NewHeadingChunker().Chunk(doc, "c", "c/ch.md", domain.ChunkOptions{MaxChunkSize: 1000})
	require.NoError(t, err)
	require.Len(t, chunks, 4)

	assert.Equal(t, "intro text", chunks[0].Text)
	assert.Equal(t, "", chunks[0].Metadata.Heading)
	assert.Equal(t, "One > One.A", chunks[2].Metadata.Heading)
	assert.Equal(t, "sh", chunks[2].Metadata.Language)
	assert.Equal(t, "Two", chunks[3].Metadata.Heading)
}

func TestHeadingChunker_OversizedSection(t *testing.T) {
	code := "```\n" + strings.Repeat("x = 1\n", 10) + "```"
	doc := "# Big\n\n" + strings.Repeat("word ", 30) + "\n\n" + code

	chunks, err := NewHeadingChunker().Chunk(doc, "c", "c/ch.md", domain.ChunkOptions{MaxChunkSize: 50})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 2)

	found := 0
	for _, c := range chunks {
		found += strings.Count(c.Text, code)
	}
	assert.Equal(t, 1, found)
}

func TestNew(t *testing.T) {
	for _, name := range []string{"semantic", "fixed", "heading", ""} {
		c, err := New(name)
		require.NoError(t, err)
		if name != "" {
			assert.Equal(t, name, c.Name())
		}
	}

	_, err := New("sentencepiece")
	var cfgErr *domain.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "chunking.chunking_strategy", cfgErr.Key)
}
