package analyzer

import (
	"strings"
	"unicode"

	"coursekb/internal/port"
)

var _ port.Tokenizer = (*Tokenizer)(nil)

// Tokenizer splits mixed Latin/CJK course text into index terms. Latin words
// are lowercased and stopword-filtered; runs of Han characters become
// overlapping bigrams so Chinese queries match without a dictionary.
type Tokenizer struct {
	stopwords map[string]struct{}
}

func NewTokenizer() *Tokenizer {
	return &Tokenizer{stopwords: defaultStopwords()}
}

func (t *Tokenizer) Tokenize(text string) []string {
	var tokens []string
	for _, word := range splitWords(text) {
		if isHanWord(word) {
			tokens = append(tokens, hanBigrams(word)...)
			continue
		}
		word = strings.ToLower(word)
		if len(word) < 2 {
			continue
		}
		if _, isStop := t.stopwords[word]; isStop {
			continue
		}
		tokens = append(tokens, word)
	}
	return tokens
}

// CountTokens is a rough estimate used for chunk size reporting.
func (t *Tokenizer) CountTokens(text string) int {
	words := splitWords(text)
	if len(words) == 0 {
		return 0
	}
	n := 0.0
	for _, w := range words {
		if isHanWord(w) {
			n += float64(len([]rune(w)))
			continue
		}
		n += 1.3
	}
	return int(n)
}

// splitWords splits text on anything that is not a letter, digit or
// underscore. A switch between Han and non-Han letters also ends a word.
func splitWords(text string) []string {
	var words []string
	var current strings.Builder
	inHan := false

	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}

	for _, r := range text {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			flush()
			continue
		}
		han := unicode.Is(unicode.Han, r)
		if current.Len() > 0 && han != inHan {
			flush()
		}
		inHan = han
		current.WriteRune(r)
	}
	flush()

	return words
}

func isHanWord(w string) bool {
	for _, r := range w {
		return unicode.Is(unicode.Han, r)
	}
	return false
}

func hanBigrams(w string) []string {
	runes := []rune(w)
	if len(runes) == 1 {
		return []string{w}
	}
	out := make([]string, 0, len(runes)-1)
	for i := 0; i+1 < len(runes); i++ {
		out = append(out, string(runes[i:i+2]))
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	stops := []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for",
		"from", "has", "he", "in", "is", "it", "its", "of", "on",
		"that", "the", "to", "was", "were", "will", "with", "this",
		"have", "had", "but", "not", "you", "your", "we", "our",
		"they", "their", "she", "her", "his", "if", "or", "so",
		"no", "can", "do", "does", "did", "been", "being", "would",
		"could", "should", "may", "might", "must", "shall", "which",
		"who", "whom", "what", "when", "where", "why", "how", "all",
		"each", "every", "both", "few", "more", "most", "other",
		"some", "such", "than", "too", "very", "just", "also",
	}
	m := make(map[string]struct{}, len(stops))
	for _, s := range stops {
		m[s] = struct{}{}
	}
	return m
}
