package retriever

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxQueryVariants bounds the queries Expand returns, the original included.
const MaxQueryVariants = 3

// QueryExpander produces query variants by synonym substitution from a table
// chosen by the query's language. Languages without a table get no variants.
type QueryExpander struct {
	tables map[string]map[string][]string
}

func NewQueryExpander() *QueryExpander {
	return &QueryExpander{tables: map[string]map[string][]string{
		"zh": zhSynonyms,
		"en": enSynonyms,
	}}
}

// Expand returns the original query followed by up to two variants.
func (e *QueryExpander) Expand(query string) []string {
	queries := []string{query}
	table, ok := e.tables[DetectLanguage(query)]
	if !ok {
		return queries
	}

	seen := map[string]bool{query: true}
	add := func(q string) bool {
		if !seen[q] {
			seen[q] = true
			queries = append(queries, q)
		}
		return len(queries) >= MaxQueryVariants
	}

	for _, term := range sortedKeys(table) {
		if !containsTerm(query, term) {
			continue
		}
		for _, syn := range table[term] {
			if add(replaceTerm(query, term, syn)) {
				return queries
			}
		}
	}
	return queries
}

// DetectLanguage returns "zh" when the text contains Han characters, "en"
// when it contains Latin letters, and "" otherwise.
func DetectLanguage(text string) string {
	latin := false
	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			return "zh"
		}
		if r < unicode.MaxASCII && unicode.IsLetter(r) {
			latin = true
		}
	}
	if latin {
		return "en"
	}
	return ""
}

// containsTerm matches Han terms as substrings and Latin terms as whole words.
func containsTerm(query, term string) bool {
	if DetectLanguage(term) == "zh" {
		return strings.Contains(query, term)
	}
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if strings.Trim(w, "?.,!:;\"'") == term {
			return true
		}
	}
	return false
}

func replaceTerm(query, term, syn string) string {
	if DetectLanguage(term) == "zh" {
		return strings.Replace(query, term, syn, 1)
	}
	words := strings.Fields(query)
	for i, w := range words {
		core := strings.Trim(w, "?.,!:;\"'")
		if strings.ToLower(core) == term {
			words[i] = strings.Replace(w, core, syn, 1)
			break
		}
	}
	return strings.Join(words, " ")
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// longest first so that 列表推导式 is tried before 列表
	sort.Slice(keys, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(keys[i]), utf8.RuneCountInString(keys[j])
		if li != lj {
			return li > lj
		}
		return keys[i] < keys[j]
	})
	return keys
}

var zhSynonyms = map[string][]string{
	"函数":    {"方法", "function"},
	"变量":    {"variable"},
	"列表":    {"数组", "list"},
	"字典":    {"映射", "dict"},
	"循环":    {"迭代", "loop"},
	"类":     {"对象", "class"},
	"异常":    {"错误", "exception"},
	"模块":    {"包", "module"},
	"装饰器":   {"decorator"},
	"生成器":   {"generator"},
	"列表推导式": {"列表解析", "list comprehension"},
	"字符串":   {"文本", "string"},
	"递归":    {"recursion"},
	"并发":    {"多线程", "concurrency"},
}

var enSynonyms = map[string][]string{
	"function":   {"method", "routine"},
	"method":     {"function"},
	"variable":   {"identifier", "name"},
	"list":       {"array", "sequence"},
	"array":      {"list"},
	"dictionary": {"dict", "map"},
	"dict":       {"dictionary", "map"},
	"loop":       {"iteration", "for"},
	"error":      {"exception"},
	"exception":  {"error"},
	"class":      {"type", "object"},
	"module":     {"package", "library"},
	"string":     {"text", "str"},
	"install":    {"setup", "configure"},
}
