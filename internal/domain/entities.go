package domain

import (
	"strconv"
	"time"
)

// StrategyVersion tags every chunk with the chunking algorithm that produced
// it. Bump it whenever chunk boundaries change so legacy chunks can be found.
const StrategyVersion = "semantic-v3"

type ContentType string

const (
	ContentParagraph ContentType = "paragraph"
	ContentHeading   ContentType = "heading"
	ContentCodeBlock ContentType = "code_block"
	ContentTable     ContentType = "table"
	ContentSummary   ContentType = "summary"
)

// Metadata keys as they appear in filters and on disk.
const (
	MetaCourseID        = "course_id"
	MetaChapterRef      = "chapter_ref"
	MetaPosition        = "position"
	MetaContentType     = "content_type"
	MetaStrategyVersion = "strategy_version"
	MetaSyncedFrom      = "synced_from"
	MetaSyncedAt        = "synced_at"
	MetaHeading         = "heading"
	MetaLanguage        = "language"
)

type Metadata struct {
	CourseID        string      `json:"course_id"`
	ChapterRef      string      `json:"chapter_ref"`
	Position        int         `json:"position"`
	ContentType     ContentType `json:"content_type"`
	StrategyVersion string      `json:"strategy_version"`
	SyncedFrom      string      `json:"synced_from,omitempty"`
	SyncedAt        *time.Time  `json:"synced_at,omitempty"`
	Heading         string      `json:"heading,omitempty"`
	Language        string      `json:"language,omitempty"`
}

// Chunk is the unit of retrieval. Embedding is nil when it was never computed.
type Chunk struct {
	ID        string
	Text      string
	Metadata  Metadata
	Embedding []float32
}

type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// ChunkOptions carries the size knobs shared by every chunking strategy.
type ChunkOptions struct {
	MaxChunkSize         int
	MinChunkSize         int
	OverlapSize          int
	Overlap              bool
	CodeBlockStrategy    CodeBlockStrategy
	CodeSummaryThreshold int
	// StrategyVersion overrides the package constant; empty means StrategyVersion.
	StrategyVersion string
}

// Version returns the strategy version chunks produced with o are tagged with.
func (o ChunkOptions) Version() string {
	if o.StrategyVersion == "" {
		return StrategyVersion
	}
	return o.StrategyVersion
}

type CodeBlockStrategy string

const (
	CodePreserve  CodeBlockStrategy = "preserve"
	CodeSummarize CodeBlockStrategy = "summarize"
	CodeHybrid    CodeBlockStrategy = "hybrid"
)

type RetrievalMode string

const (
	ModeVector       RetrievalMode = "vector"
	ModeHybrid       RetrievalMode = "hybrid"
	ModeVectorRerank RetrievalMode = "vector_rerank"
)

type Status string

const (
	StatusNotIndexed Status = "not_indexed"
	StatusIndexing   Status = "indexing"
	StatusIndexed    Status = "indexed"
	StatusPromoted   Status = "promoted"
	StatusFailed     Status = "failed"
)

// IndexStatus is what index and sync jobs report for one chapter.
type IndexStatus struct {
	CourseID    string     `json:"course_id"`
	ChapterRef  string     `json:"chapter_ref"`
	Status      Status     `json:"status"`
	ChunkCount  int        `json:"chunk_count"`
	Error       string     `json:"error,omitempty"`
	IndexedAt   *time.Time `json:"indexed_at,omitempty"`
	ContentHash string     `json:"content_hash,omitempty"`
	Strategy    string     `json:"strategy_version,omitempty"`
}

// CanTransition reports whether a chapter may move from s to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case "", StatusNotIndexed:
		return next == StatusIndexing
	case StatusIndexing:
		return next == StatusIndexed || next == StatusFailed
	case StatusIndexed:
		return next == StatusIndexing || next == StatusPromoted
	case StatusPromoted:
		return next == StatusIndexing || next == StatusPromoted
	case StatusFailed:
		return next == StatusIndexing
	}
	return false
}

type TestCase struct {
	Query       string   `json:"query" yaml:"query"`
	RelevantIDs []string `json:"relevant_ids" yaml:"relevant_ids"`
}

type TestResult struct {
	Query        string          `json:"query"`
	RetrievedIDs []string        `json:"retrieved_ids"`
	RecallAtK    map[int]float64 `json:"recall_at_k"`
	PrecisionAtK map[int]float64 `json:"precision_at_k"`
	MRR          float64         `json:"mrr"`
}

type TestReport struct {
	Collection      string          `json:"collection"`
	Mode            RetrievalMode   `json:"mode"`
	TopK            int             `json:"top_k"`
	Cases           int             `json:"cases"`
	Results         []TestResult    `json:"results"`
	AvgRecallAtK    map[int]float64 `json:"avg_recall_at_k"`
	AvgPrecisionAtK map[int]float64 `json:"avg_precision_at_k"`
	MRR             float64         `json:"mrr"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Filters restricts a search to chunks whose metadata matches exactly.
type Filters map[string]string

// Value returns the metadata value stored under a filter key.
func (m Metadata) Value(key string) (string, bool) {
	switch key {
	case MetaCourseID:
		return m.CourseID, true
	case MetaChapterRef:
		return m.ChapterRef, true
	case MetaContentType:
		return string(m.ContentType), true
	case MetaStrategyVersion:
		return m.StrategyVersion, true
	case MetaSyncedFrom:
		return m.SyncedFrom, true
	case MetaHeading:
		return m.Heading, true
	case MetaLanguage:
		return m.Language, true
	case MetaPosition:
		return strconv.Itoa(m.Position), true
	}
	return "", false
}

// Matches reports whether every filter key equals the metadata value.
func (f Filters) Matches(m Metadata) bool {
	for k, want := range f {
		got, ok := m.Value(k)
		if !ok || got != want {
			return false
		}
	}
	return true
}
