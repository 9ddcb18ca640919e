package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"coursekb/internal/domain"
)

func TestShouldEmbed(t *testing.T) {
	f := New()

	tests := []struct {
		name        string
		text        string
		contentType domain.ContentType
		want        bool
	}{
		{"too short", "Hi there", domain.ContentParagraph, false},
		{"short cjk", "变量是什么", domain.ContentParagraph, false},
		{"prose", "A variable names a value so it can be reused later.", domain.ContentParagraph, true},
		{"cjk prose", "变量是用来存储数据的容器，可以在程序中反复使用。", domain.ContentParagraph, true},
		{"image only", "![diagram](img/flow.png)\n\n<img src=\"a.png\" alt=\"x\">", domain.ContentParagraph, false},
		{"image with caption", "![diagram](img/flow.png)\nThe flow of control through a loop body.", domain.ContentParagraph, true},
		{"toc heading", "## 目录", domain.ContentHeading, false},
		{"toc block", "# Table of Contents\n- [Intro](#intro)\n- [Loops](#loops)", domain.ContentHeading, false},
		{"anchor list", "- [Intro](#intro)\n- [Loops](#loops)\n- [Functions](#functions)", domain.ContentParagraph, false},
		{"prev next", "[← Previous: Intro](ch01.md) | [Next: Loops →](ch03.md)", domain.ContentParagraph, false},
		{"prose starting with next", "Next, we will learn how loops repeat a block of code.", domain.ContentParagraph, true},
		{"formula", "$$\\sum_{i=1}^{n} x_i^2 + \\frac{a}{b}$$", domain.ContentParagraph, false},
		{"formula with prose", "The variance measures spread around the mean, written $\\sigma^2$ in most textbooks.", domain.ContentParagraph, true},
		{"bare code", "```python\nx = 1\ny = 2\nprint(x + y)\n```", domain.ContentCodeBlock, false},
		{"commented code", "```python\n# add two numbers\nx = 1\ny = 2\nprint(x + y)\n```", domain.ContentCodeBlock, true},
		{"explained code", "Add two numbers and print the result:\n```python\nx = 1\nprint(x + 1)\n```", domain.ContentCodeBlock, true},
		{"unfenced code", "for i in range(10):\n    print(i)", domain.ContentCodeBlock, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.ShouldEmbed(tt.text, tt.contentType))
		})
	}
}

func TestWithMinLength(t *testing.T) {
	f := New(WithMinLength(3))
	assert.True(t, f.ShouldEmbed("abcd", domain.ContentParagraph))
}

func TestClean(t *testing.T) {
	f := New()

	in := "Intro line\n\n![fig](a.png)\n\n\n<IMG src='b.png'/>\nText after  \n```md\n![keep](in-code.png)\n```\n"
	want := "Intro line\n\nText after\n```md\n![keep](in-code.png)\n```"
	assert.Equal(t, want, f.Clean(in))
}

func TestCleanKeepsImagesInNestedFence(t *testing.T) {
	f := New()

	in := "````md\n```\n![logo](a.png)\n```\n![inner](b.png)\n````\n![outer](c.png)\nDone."
	want := "````md\n```\n![logo](a.png)\n```\n![inner](b.png)\n````\n\nDone."
	assert.Equal(t, want, f.Clean(in))
}

func TestCleanNestedImageMarkup(t *testing.T) {
	f := New()
	assert.Equal(t, "caption", f.Clean("!![a](b)[c](d) caption"))
}

func TestCleanIdempotent(t *testing.T) {
	f := New()

	inputs := []string{
		"",
		"plain text",
		"  leading\n\n\n\ntrailing  ",
		"!![a](b)[c](d)",
		"a ![x](y) b <img src=z> c",
		"```\n\n\n![x](y)\n```\n\n\nafter",
		"```go\nunterminated\n\n\n",
		"````md\n```\n![x](y)\n```\n````\n![z](w)",
	}
	for _, in := range inputs {
		once := f.Clean(in)
		assert.Equal(t, once, f.Clean(once), "input %q", in)
	}
}
