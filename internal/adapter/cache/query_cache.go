package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"coursekb/internal/domain"
	"coursekb/pkg/metrics"
)

// Key identifies one retrieval. Every field that changes the result is part
// of the key.
type Key struct {
	Collection     string
	Query          string
	Mode           domain.RetrievalMode
	TopK           int
	Filters        domain.Filters
	ScoreThreshold float64
	Expand         bool
}

func (k Key) hash() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\x00%s\x00%s\x00%d\x00%g\x00%t", k.Collection, k.Query, k.Mode, k.TopK, k.ScoreThreshold, k.Expand)

	keys := make([]string, 0, len(k.Filters))
	for f := range k.Filters {
		keys = append(keys, f)
	}
	sort.Strings(keys)
	for _, f := range keys {
		fmt.Fprintf(&b, "\x00%s=%s", f, k.Filters[f])
	}

	hash := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(hash[:16])
}

// QueryCache is an LRU cache with a TTL. Entries are dropped per collection
// whenever that collection is written.
type QueryCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	order   []string
	maxSize int
	ttl     time.Duration
	gens    map[string]uint64
	group   singleflight.Group
}

type cacheEntry struct {
	results    []domain.ScoredChunk
	timestamp  time.Time
	collection string
	gen        uint64
}

func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{
		entries: make(map[string]*cacheEntry),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		gens:    make(map[string]uint64),
	}
}

func (c *QueryCache) Get(key Key) ([]domain.ScoredChunk, bool) {
	h := key.hash()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[h]
	if !exists {
		return nil, false
	}
	if time.Since(entry.timestamp) > c.ttl || entry.gen != c.gens[entry.collection] {
		delete(c.entries, h)
		c.removeFromOrder(h)
		return nil, false
	}
	c.moveToEnd(h)
	return clone(entry.results), true
}

func (c *QueryCache) Put(key Key, results []domain.ScoredChunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(key.hash(), key.Collection, c.gens[key.Collection], results)
}

func (c *QueryCache) put(h, collection string, gen uint64, results []domain.ScoredChunk) {
	if gen != c.gens[collection] {
		// the collection changed while the results were computed
		return
	}

	entry := &cacheEntry{
		results:    clone(results),
		timestamp:  time.Now(),
		collection: collection,
		gen:        gen,
	}
	if _, exists := c.entries[h]; exists {
		c.entries[h] = entry
		c.moveToEnd(h)
		return
	}
	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[h] = entry
	c.order = append(c.order, h)
}

// GetOrLoad returns cached results or runs load once for all concurrent
// callers with the same key.
func (c *QueryCache) GetOrLoad(ctx context.Context, key Key, load func(context.Context) ([]domain.ScoredChunk, error)) ([]domain.ScoredChunk, error) {
	if results, hit := c.Get(key); hit {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return results, nil
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	h := key.hash()
	c.mu.RLock()
	gen := c.gens[key.Collection]
	c.mu.RUnlock()

	v, err, _ := c.group.Do(h, func() (interface{}, error) {
		results, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.put(h, key.Collection, gen, results)
		c.mu.Unlock()
		return results, nil
	})
	if err != nil {
		return nil, err
	}
	return clone(v.([]domain.ScoredChunk)), nil
}

// Invalidate drops every entry of collection.
func (c *QueryCache) Invalidate(collection string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gens[collection]++
	for h, entry := range c.entries {
		if entry.collection == collection {
			delete(c.entries, h)
			c.removeFromOrder(h)
		}
	}
}

func (c *QueryCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range c.entries {
		c.gens[entry.collection]++
	}
	c.entries = make(map[string]*cacheEntry)
	c.order = c.order[:0]
}

func (c *QueryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *QueryCache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
}

func (c *QueryCache) moveToEnd(key string) {
	c.removeFromOrder(key)
	c.order = append(c.order, key)
}

func (c *QueryCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func clone(results []domain.ScoredChunk) []domain.ScoredChunk {
	if results == nil {
		return nil
	}
	return append([]domain.ScoredChunk(nil), results...)
}
