package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"config", &ConfigError{Key: "embedding.api_key_env", Reason: "missing"}, KindConfig},
		{"wrapped embedding", fmt.Errorf("index: %w", &EmbeddingError{Provider: "openai", Err: errors.New("timeout")}), KindEmbedding},
		{"dimension", &DimensionMismatchError{Collection: "c", Expected: 4, Got: 3}, KindDimension},
		{"lock", &LockContentionError{Key: "lock:index:py"}, KindLock},
		{"partial", &PartialSyncError{Failures: map[string]error{"ch1": errors.New("x")}}, KindPartialSync},
		{"plain", errors.New("disk full"), KindStorage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(&EmbeddingError{Provider: "openai", StatusCode: 401, Fatal: true, Err: errors.New("unauthorized")}))
	assert.False(t, IsFatal(&EmbeddingError{Provider: "openai", StatusCode: 503, Err: errors.New("unavailable")}))
	assert.True(t, IsFatal(&ConfigError{Reason: "no endpoint"}))
	assert.False(t, IsFatal(&LockContentionError{Key: "k"}))
	assert.False(t, IsFatal(errors.New("boom")))
}

func TestEmbeddingErrorRetryable(t *testing.T) {
	assert.True(t, (&EmbeddingError{StatusCode: 0}).Retryable())
	assert.True(t, (&EmbeddingError{StatusCode: 429}).Retryable())
	assert.True(t, (&EmbeddingError{StatusCode: 502}).Retryable())
	assert.False(t, (&EmbeddingError{StatusCode: 400}).Retryable())
	assert.False(t, (&EmbeddingError{StatusCode: 500, Fatal: true}).Retryable())
}

func TestPartialSyncError(t *testing.T) {
	var p PartialSyncError
	assert.NoError(t, p.ErrOrNil())

	p.Add("b.md", errors.New("second"))
	p.Add("a.md", errors.New("first"))
	err := p.ErrOrNil()
	assert.Error(t, err)
	assert.Equal(t, "2 chapter(s) failed: a.md: first; b.md: second", err.Error())
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusNotIndexed.CanTransition(StatusIndexing))
	assert.True(t, StatusIndexing.CanTransition(StatusFailed))
	assert.True(t, StatusFailed.CanTransition(StatusIndexing))
	assert.True(t, StatusIndexed.CanTransition(StatusPromoted))
	assert.False(t, StatusNotIndexed.CanTransition(StatusIndexed))
	assert.False(t, StatusFailed.CanTransition(StatusIndexed))
}

func TestFiltersMatch(t *testing.T) {
	m := Metadata{CourseID: "py", ChapterRef: "py/ch01.md", Position: 3, ContentType: ContentCodeBlock}

	assert.True(t, Filters{}.Matches(m))
	assert.True(t, Filters{MetaCourseID: "py", MetaPosition: "3"}.Matches(m))
	assert.False(t, Filters{MetaCourseID: "go"}.Matches(m))
	assert.False(t, Filters{"unknown": "x"}.Matches(m))
}
