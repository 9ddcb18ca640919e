package usecase

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursekb/internal/adapter/analyzer"
	"coursekb/internal/adapter/cache"
	"coursekb/internal/adapter/embedding"
	"coursekb/internal/adapter/memstore"
	"coursekb/internal/adapter/retriever"
	"coursekb/internal/adapter/store"
	"coursekb/internal/domain"
	"coursekb/internal/port"
	"coursekb/pkg/metrics"
)

var retrievalCorpus = map[string]string{
	"c-comprehension": "python list comprehension builds lists from iterables",
	"c-slicing":       "list slicing syntax copies part of a sequence",
	"c-index":         "database index tuning speeds up slow queries",
	"c-generators":    "python generators yield values lazily",
	"c-decorators":    "decorators wrap a function to extend its behaviour",
}

type countingEmbedder struct {
	port.Embedder
	calls int32
}

func (e *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt32(&e.calls, 1)
	return e.Embedder.Embed(ctx, texts)
}

type brokenReranker struct{}

func (brokenReranker) Rerank(ctx context.Context, query string, texts []string) ([]port.RerankedResult, error) {
	return nil, errors.New("rerank service unavailable")
}

func (brokenReranker) ModelName() string { return "broken" }

func seedOnline(t *testing.T, st port.CollectionStore, embedder port.Embedder) {
	t.Helper()
	ctx := context.Background()
	var chunks []domain.Chunk
	for id, text := range retrievalCorpus {
		v, err := embedder.Embed(ctx, []string{text})
		require.NoError(t, err)
		chunks = append(chunks, domain.Chunk{
			ID:        id,
			Text:      text,
			Embedding: v[0],
			Metadata: domain.Metadata{
				CourseID:        testCourse,
				ChapterRef:      "python-basics",
				ContentType:     domain.ContentParagraph,
				StrategyVersion: domain.StrategyVersion,
			},
		})
	}
	require.NoError(t, st.Collection(store.OnlineCollection(testCourse)).AddChunks(ctx, chunks))
}

func newRetrieveFixture(t *testing.T, reranker port.Reranker, queryCache *cache.QueryCache) (*RetrieveUseCase, *countingEmbedder) {
	t.Helper()
	st := memstore.NewMemoryStore()
	embedder := &countingEmbedder{Embedder: embedding.NewMockEmbedder(64)}
	seedOnline(t, st, embedder.Embedder)
	uc := NewRetrieveUseCase(st, embedder, analyzer.NewTokenizer(), reranker, queryCache, RetrieveOptions{DefaultTopK: 3})
	return uc, embedder
}

func ids(results []domain.ScoredChunk) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Chunk.ID
	}
	return out
}

func assertOrdered(t *testing.T, results []domain.ScoredChunk) {
	t.Helper()
	for i := 1; i < len(results); i++ {
		prev, cur := results[i-1], results[i]
		ok := prev.Score > cur.Score || (prev.Score == cur.Score && prev.Chunk.ID < cur.Chunk.ID)
		assert.True(t, ok, "results %d and %d out of order", i-1, i)
	}
}

func TestRetrieve_VectorMode(t *testing.T) {
	uc, _ := newRetrieveFixture(t, nil, nil)

	results, err := uc.Retrieve(context.Background(), port.RetrieveRequest{
		Query:    "python list comprehension",
		CourseID: testCourse,
		Mode:     domain.ModeVector,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "c-comprehension", results[0].Chunk.ID)
	assertOrdered(t, results)
	for _, r := range results {
		assert.Nil(t, r.Chunk.Embedding)
	}
}

func TestRetrieve_DefaultsAndValidation(t *testing.T) {
	uc, embedder := newRetrieveFixture(t, nil, nil)
	ctx := context.Background()

	results, err := uc.Retrieve(ctx, port.RetrieveRequest{Query: "   ", CourseID: testCourse})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, atomic.LoadInt32(&embedder.calls), "blank queries are not embedded")

	_, err = uc.Retrieve(ctx, port.RetrieveRequest{Query: "lists", CourseID: testCourse, Mode: "bm25"})
	assert.Equal(t, domain.KindConfig, domain.Classify(err))

	_, err = uc.Retrieve(ctx, port.RetrieveRequest{Query: "lists"})
	assert.Equal(t, domain.KindConfig, domain.Classify(err))

	results, err = uc.Retrieve(ctx, port.RetrieveRequest{
		Query:      "lists",
		Collection: store.DraftCollection(testCourse),
	})
	require.NoError(t, err)
	assert.Empty(t, results, "the draft collection was never written")
}

func TestRetrieve_ScoreThreshold(t *testing.T) {
	uc, _ := newRetrieveFixture(t, nil, nil)

	all, err := uc.Retrieve(context.Background(), port.RetrieveRequest{Query: "python generators", CourseID: testCourse, TopK: 5})
	require.NoError(t, err)
	require.NotEmpty(t, all)

	threshold := all[0].Score
	top, err := uc.Retrieve(context.Background(), port.RetrieveRequest{
		Query:          "python generators",
		CourseID:       testCourse,
		TopK:           5,
		ScoreThreshold: threshold,
	})
	require.NoError(t, err)
	require.NotEmpty(t, top)
	for _, r := range top {
		assert.GreaterOrEqual(t, r.Score, threshold)
	}
	assert.Equal(t, "c-generators", top[0].Chunk.ID)
}

func TestRetrieve_HybridMode(t *testing.T) {
	uc, _ := newRetrieveFixture(t, nil, nil)

	results, err := uc.Retrieve(context.Background(), port.RetrieveRequest{
		Query:    "database index",
		CourseID: testCourse,
		Mode:     domain.ModeHybrid,
		TopK:     2,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), 2)
	assert.Equal(t, "c-index", results[0].Chunk.ID)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0+1e-9)
	}
}

func TestRetrieve_VectorRerank(t *testing.T) {
	uc, _ := newRetrieveFixture(t, retriever.NewTermOverlapReranker(analyzer.NewTokenizer()), nil)

	results, err := uc.Retrieve(context.Background(), port.RetrieveRequest{
		Query:    "decorators wrap function",
		CourseID: testCourse,
		Mode:     domain.ModeVectorRerank,
		TopK:     2,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "c-decorators", results[0].Chunk.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9, "scores come from the reranker")
	assertOrdered(t, results)
}

func TestRetrieve_RerankFallsBackToVector(t *testing.T) {
	req := port.RetrieveRequest{Query: "python list comprehension", CourseID: testCourse, TopK: 3}

	plain, _ := newRetrieveFixture(t, nil, nil)
	req.Mode = domain.ModeVector
	want, err := plain.Retrieve(context.Background(), req)
	require.NoError(t, err)

	req.Mode = domain.ModeVectorRerank
	for name, reranker := range map[string]port.Reranker{"none": nil, "broken": brokenReranker{}} {
		t.Run(name, func(t *testing.T) {
			uc, _ := newRetrieveFixture(t, reranker, nil)
			before := testutil.ToFloat64(metrics.RerankFallbacks)

			got, err := uc.Retrieve(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, ids(want), ids(got))
			assert.Equal(t, before+1, testutil.ToFloat64(metrics.RerankFallbacks))
		})
	}
}

func TestRetrieve_QueryExpansion(t *testing.T) {
	uc, _ := newRetrieveFixture(t, nil, nil)
	req := port.RetrieveRequest{Query: "array slicing", CourseID: testCourse, TopK: 5}

	plain, err := uc.Retrieve(context.Background(), req)
	require.NoError(t, err)

	req.ExpandQuery = true
	expanded, err := uc.Retrieve(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, expanded)
	assert.Equal(t, "c-slicing", expanded[0].Chunk.ID)
	assertOrdered(t, expanded)

	scoreOf := func(results []domain.ScoredChunk, id string) float64 {
		for _, r := range results {
			if r.Chunk.ID == id {
				return r.Score
			}
		}
		return 0
	}
	assert.Greater(t, scoreOf(expanded, "c-slicing"), scoreOf(plain, "c-slicing"), "the best variant score is kept")

	seen := map[string]bool{}
	for _, id := range ids(expanded) {
		assert.False(t, seen[id], "duplicate %s", id)
		seen[id] = true
	}
}

func TestRetrieve_UsesCache(t *testing.T) {
	queryCache := cache.NewQueryCache(8, 0)
	uc, embedder := newRetrieveFixture(t, nil, queryCache)
	ctx := context.Background()
	req := port.RetrieveRequest{Query: "python generators", CourseID: testCourse}

	first, err := uc.Retrieve(ctx, req)
	require.NoError(t, err)
	second, err := uc.Retrieve(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&embedder.calls))

	queryCache.Invalidate(store.OnlineCollection(testCourse))
	_, err = uc.Retrieve(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&embedder.calls))
}
