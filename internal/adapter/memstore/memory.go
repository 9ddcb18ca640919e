package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"coursekb/internal/adapter/analyzer"
	"coursekb/internal/adapter/store"
	"coursekb/internal/domain"
	"coursekb/internal/port"
)

// MemoryStore keeps collections and status in process memory. It behaves
// like the bbolt store and is used by tests and ephemeral runs.
type MemoryStore struct {
	mu              sync.RWMutex
	collections     map[string]*memCollection
	status          map[string]domain.IndexStatus
	tokenizer       port.Tokenizer
	bm25            analyzer.BM25
	strategyVersion string
}

var (
	_ port.CollectionStore = (*MemoryStore)(nil)
	_ port.StatusStore     = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithVersion(domain.StrategyVersion)
}

func NewMemoryStoreWithVersion(strategyVersion string) *MemoryStore {
	return &MemoryStore{
		collections:     make(map[string]*memCollection),
		status:          make(map[string]domain.IndexStatus),
		tokenizer:       analyzer.NewTokenizer(),
		bm25:            analyzer.DefaultBM25(),
		strategyVersion: strategyVersion,
	}
}

func (s *MemoryStore) Collection(name string) port.VectorStore {
	name = store.NormalizeCollectionName(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		c = &memCollection{owner: s, name: name}
		s.collections[name] = c
	}
	return c
}

// ListCollections lists collections that currently hold chunks or an
// established dimension.
func (s *MemoryStore) ListCollections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for name, c := range s.collections {
		if c.exists() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func statusKey(courseID, chapterRef string) string {
	return courseID + "\x00" + chapterRef
}

func (s *MemoryStore) GetStatus(ctx context.Context, courseID, chapterRef string) (domain.IndexStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.status[statusKey(courseID, chapterRef)]; ok {
		return st, nil
	}
	return domain.IndexStatus{CourseID: courseID, ChapterRef: chapterRef, Status: domain.StatusNotIndexed}, nil
}

func (s *MemoryStore) PutStatus(ctx context.Context, status domain.IndexStatus) error {
	if status.CourseID == "" || status.ChapterRef == "" {
		return fmt.Errorf("status requires course and chapter")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[statusKey(status.CourseID, status.ChapterRef)] = status
	return nil
}

func (s *MemoryStore) ListStatus(ctx context.Context, courseID string) ([]domain.IndexStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.IndexStatus
	for _, st := range s.status {
		if st.CourseID == courseID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChapterRef < out[j].ChapterRef })
	return out, nil
}

func (s *MemoryStore) DeleteStatus(ctx context.Context, courseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, st := range s.status {
		if st.CourseID == courseID {
			delete(s.status, key)
		}
	}
	return nil
}

type memCollection struct {
	owner *MemoryStore

	mu        sync.RWMutex
	name      string
	dimension int
	chunks    map[string]memChunk
}

type memChunk struct {
	chunk  domain.Chunk
	terms  map[string]int
	length int
}

var _ port.VectorStore = (*memCollection)(nil)

func (c *memCollection) Name() string {
	return c.name
}

func (c *memCollection) exists() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.chunks != nil
}

func (c *memCollection) AddChunks(ctx context.Context, chunks []domain.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	dim := c.dimension
	for _, ch := range chunks {
		if ch.ID == "" {
			return fmt.Errorf("collection %s: chunk without id", c.name)
		}
		if len(ch.Embedding) == 0 {
			continue
		}
		if dim == 0 {
			dim = len(ch.Embedding)
			continue
		}
		if len(ch.Embedding) != dim {
			return &domain.DimensionMismatchError{Collection: c.name, Expected: dim, Got: len(ch.Embedding), ChunkID: ch.ID}
		}
	}

	if c.chunks == nil {
		c.chunks = make(map[string]memChunk)
	}
	c.dimension = dim
	for _, ch := range chunks {
		stored := ch
		if ch.Embedding != nil {
			stored.Embedding = append([]float32(nil), ch.Embedding...)
		}
		tokens := c.owner.tokenizer.Tokenize(ch.Text)
		c.chunks[ch.ID] = memChunk{chunk: stored, terms: analyzer.TermFrequencies(tokens), length: len(tokens)}
	}
	return nil
}

func (c *memCollection) Search(ctx context.Context, query []float32, topK int, filters domain.Filters) ([]domain.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 || len(query) == 0 {
		return nil, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.dimension > 0 && c.dimension != len(query) {
		return nil, &domain.DimensionMismatchError{Collection: c.name, Expected: c.dimension, Got: len(query)}
	}

	var results []domain.ScoredChunk
	for _, mc := range c.chunks {
		if len(mc.chunk.Embedding) == 0 || !filters.Matches(mc.chunk.Metadata) {
			continue
		}
		results = append(results, domain.ScoredChunk{
			Chunk: withoutEmbedding(mc.chunk),
			Score: store.CosineScore(query, mc.chunk.Embedding),
		})
	}
	return store.SortScored(results, topK), nil
}

func (c *memCollection) KeywordSearch(ctx context.Context, terms []string, topK int, filters domain.Filters) ([]domain.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 || len(terms) == 0 {
		return nil, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.chunks) == 0 {
		return nil, nil
	}

	var totalLen int
	for _, mc := range c.chunks {
		totalLen += mc.length
	}
	avgLen := float64(totalLen) / float64(len(c.chunks))

	scores := make(map[string]float64)
	seen := make(map[string]bool)
	for _, term := range terms {
		if seen[term] {
			continue
		}
		seen[term] = true

		var df int
		for _, mc := range c.chunks {
			if mc.terms[term] > 0 {
				df++
			}
		}
		if df == 0 {
			continue
		}
		idf := c.owner.bm25.IDF(df, len(c.chunks))
		for id, mc := range c.chunks {
			tf := mc.terms[term]
			if tf == 0 || !filters.Matches(mc.chunk.Metadata) {
				continue
			}
			scores[id] += c.owner.bm25.TermScore(tf, idf, mc.length, avgLen)
		}
	}

	results := make([]domain.ScoredChunk, 0, len(scores))
	for id, score := range scores {
		results = append(results, domain.ScoredChunk{Chunk: withoutEmbedding(c.chunks[id].chunk), Score: score})
	}
	return store.SortScored(results, topK), nil
}

func (c *memCollection) DeleteChunks(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.chunks, id)
	}
	return nil
}

func (c *memCollection) DeleteCollection(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks = nil
	c.dimension = 0
	return nil
}

func (c *memCollection) Size(ctx context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.chunks), nil
}

func (c *memCollection) GetAllChunks(ctx context.Context) ([]domain.Chunk, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Chunk, 0, len(c.chunks))
	for _, mc := range c.chunks {
		out = append(out, withoutEmbedding(mc.chunk))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *memCollection) GetChunksWithEmbeddings(ctx context.Context, ids []string) ([]domain.Chunk, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []domain.Chunk
	for _, id := range ids {
		mc, ok := c.chunks[id]
		if !ok {
			continue
		}
		ch := mc.chunk
		if ch.Embedding != nil {
			ch.Embedding = append([]float32(nil), ch.Embedding...)
		}
		out = append(out, ch)
	}
	return out, nil
}

func (c *memCollection) ListIDsWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var ids []string
	for id := range c.chunks {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (c *memCollection) GetLegacyChunkIDs(ctx context.Context, chapterRef string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.legacyIDs(chapterRef), nil
}

func (c *memCollection) legacyIDs(chapterRef string) []string {
	var ids []string
	for id, mc := range c.chunks {
		md := mc.chunk.Metadata
		if chapterRef != "" && md.ChapterRef != chapterRef {
			continue
		}
		if md.StrategyVersion != c.owner.strategyVersion {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (c *memCollection) DeleteLegacyChunks(ctx context.Context, chapterRef string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := c.legacyIDs(chapterRef)
	for _, id := range ids {
		delete(c.chunks, id)
	}
	return len(ids), nil
}

func withoutEmbedding(ch domain.Chunk) domain.Chunk {
	ch.Embedding = nil
	return ch
}
