package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"coursekb/internal/adapter/cache"
	"coursekb/internal/adapter/retriever"
	"coursekb/internal/adapter/store"
	"coursekb/internal/domain"
	"coursekb/internal/port"
	"coursekb/pkg/logger"
	"coursekb/pkg/metrics"
)

const (
	DefaultTopK         = 5
	DefaultRerankFactor = 3
)

// RetrieveOptions holds the defaults applied to requests that leave a field
// unset.
type RetrieveOptions struct {
	DefaultTopK   int
	DefaultMode   domain.RetrievalMode
	VectorWeight  float64
	KeywordWeight float64
	RerankFactor  int
}

// RetrieveUseCase answers queries against draft or online collections.
type RetrieveUseCase struct {
	stores   port.CollectionStore
	vector   *retriever.VectorRetriever
	keyword  *retriever.KeywordRetriever
	reranker port.Reranker
	expander *retriever.QueryExpander
	cache    *cache.QueryCache
	opts     RetrieveOptions
}

var _ port.Retriever = (*RetrieveUseCase)(nil)

// NewRetrieveUseCase creates a retriever. reranker and queryCache may be nil.
func NewRetrieveUseCase(
	stores port.CollectionStore,
	embedder port.Embedder,
	tokenizer port.Tokenizer,
	reranker port.Reranker,
	queryCache *cache.QueryCache,
	opts RetrieveOptions,
) *RetrieveUseCase {
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = DefaultTopK
	}
	if opts.DefaultMode == "" {
		opts.DefaultMode = domain.ModeVector
	}
	if opts.VectorWeight == 0 && opts.KeywordWeight == 0 {
		opts.VectorWeight = retriever.DefaultVectorWeight
		opts.KeywordWeight = retriever.DefaultKeywordWeight
	}
	if opts.RerankFactor < 1 {
		opts.RerankFactor = DefaultRerankFactor
	}
	return &RetrieveUseCase{
		stores:   stores,
		vector:   retriever.NewVectorRetriever(embedder),
		keyword:  retriever.NewKeywordRetriever(tokenizer),
		reranker: reranker,
		expander: retriever.NewQueryExpander(),
		cache:    queryCache,
		opts:     opts,
	}
}

// Retrieve returns at most TopK chunks scoring at least ScoreThreshold,
// ordered by score and then chunk ID. An empty Collection means the course's
// online collection.
func (u *RetrieveUseCase) Retrieve(ctx context.Context, req port.RetrieveRequest) ([]domain.ScoredChunk, error) {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return nil, nil
	}
	if req.TopK <= 0 {
		req.TopK = u.opts.DefaultTopK
	}
	if req.Mode == "" {
		req.Mode = u.opts.DefaultMode
	}
	switch req.Mode {
	case domain.ModeVector, domain.ModeHybrid, domain.ModeVectorRerank:
	default:
		return nil, &domain.ConfigError{Key: "retrieve.retrieval_mode", Reason: fmt.Sprintf("unknown mode %q", req.Mode)}
	}
	if req.Collection == "" {
		if req.CourseID == "" {
			return nil, &domain.ConfigError{Key: "course_id", Reason: "either a collection or a course is required"}
		}
		req.Collection = store.OnlineCollection(req.CourseID)
	}
	col := u.stores.Collection(req.Collection)

	start := time.Now()
	defer func() {
		metrics.RetrievalDuration.WithLabelValues(string(req.Mode)).Observe(time.Since(start).Seconds())
	}()

	load := func(ctx context.Context) ([]domain.ScoredChunk, error) {
		return u.retrieve(ctx, col, req)
	}
	if u.cache == nil {
		return load(ctx)
	}
	key := cache.Key{
		Collection:     col.Name(),
		Query:          req.Query,
		Mode:           req.Mode,
		TopK:           req.TopK,
		Filters:        req.Filters,
		ScoreThreshold: req.ScoreThreshold,
		Expand:         req.ExpandQuery,
	}
	return u.cache.GetOrLoad(ctx, key, load)
}

func (u *RetrieveUseCase) retrieve(ctx context.Context, col port.VectorStore, req port.RetrieveRequest) ([]domain.ScoredChunk, error) {
	queries := []string{req.Query}
	if req.ExpandQuery {
		queries = u.expander.Expand(req.Query)
	}

	var results []domain.ScoredChunk
	if len(queries) == 1 {
		var err error
		results, err = u.search(ctx, col, req, queries[0])
		if err != nil {
			return nil, err
		}
	} else {
		best := make(map[string]domain.ScoredChunk)
		for _, q := range queries {
			found, err := u.search(ctx, col, req, q)
			if err != nil {
				return nil, err
			}
			for _, r := range found {
				if prev, ok := best[r.Chunk.ID]; !ok || r.Score > prev.Score {
					best[r.Chunk.ID] = r
				}
			}
		}
		results = make([]domain.ScoredChunk, 0, len(best))
		for _, r := range best {
			results = append(results, r)
		}
		results = store.SortScored(results, -1)
		logger.Debug(ctx, "expanded query", "variants", len(queries), "results", len(results))
	}

	kept := results[:0]
	for _, r := range results {
		if r.Score >= req.ScoreThreshold {
			kept = append(kept, r)
		}
	}
	if len(kept) > req.TopK {
		kept = kept[:req.TopK]
	}
	return kept, nil
}

// search runs one query variant in the requested mode.
func (u *RetrieveUseCase) search(ctx context.Context, col port.VectorStore, req port.RetrieveRequest, query string) ([]domain.ScoredChunk, error) {
	switch req.Mode {
	case domain.ModeHybrid:
		return u.hybrid(ctx, col, req, query)
	case domain.ModeVectorRerank:
		return u.vectorRerank(ctx, col, req, query)
	default:
		return u.vector.Search(ctx, col, query, req.TopK, req.Filters)
	}
}

func (u *RetrieveUseCase) hybrid(ctx context.Context, col port.VectorStore, req port.RetrieveRequest, query string) ([]domain.ScoredChunk, error) {
	k := 2 * req.TopK
	vector, err := u.vector.Search(ctx, col, query, k, req.Filters)
	if err != nil {
		return nil, err
	}
	keyword, err := u.keyword.Search(ctx, col, query, k, req.Filters)
	if err != nil {
		return nil, err
	}
	return retriever.Fuse(vector, keyword, u.opts.VectorWeight, u.opts.KeywordWeight), nil
}

// vectorRerank over-fetches vector candidates and reorders them with the
// reranker. Without a working reranker it degrades to plain vector search.
func (u *RetrieveUseCase) vectorRerank(ctx context.Context, col port.VectorStore, req port.RetrieveRequest, query string) ([]domain.ScoredChunk, error) {
	if u.reranker == nil {
		metrics.RerankFallbacks.Inc()
		logger.Warn(ctx, "no reranker configured, falling back to vector search")
		return u.vector.Search(ctx, col, query, req.TopK, req.Filters)
	}

	candidates, err := u.vector.Search(ctx, col, query, req.TopK*u.opts.RerankFactor, req.Filters)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Chunk.Text
	}
	ranked, err := u.reranker.Rerank(ctx, query, texts)
	if err != nil {
		metrics.RerankFallbacks.Inc()
		logger.Warn(ctx, "reranker failed, falling back to vector search", "error", err, "reranker", u.reranker.ModelName())
		return store.SortScored(candidates, req.TopK), nil
	}

	results := make([]domain.ScoredChunk, 0, len(ranked))
	for _, r := range ranked {
		if r.Index < 0 || r.Index >= len(candidates) {
			continue
		}
		c := candidates[r.Index]
		c.Score = r.Score
		results = append(results, c)
	}
	return store.SortScored(results, -1), nil
}
