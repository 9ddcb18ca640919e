package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"coursekb/internal/adapter/analyzer"
	"coursekb/internal/domain"
	"coursekb/internal/port"
)

type boltCollection struct {
	store *BoltStore
	name  string
}

var _ port.VectorStore = (*boltCollection)(nil)

type storedChunk struct {
	Text     string          `json:"text"`
	Metadata domain.Metadata `json:"metadata"`
	Length   int             `json:"length"`
	Terms    map[string]int  `json:"terms"`
}

// buckets groups the nested buckets of one collection inside a transaction.
type buckets struct {
	chunks   *bbolt.Bucket
	vectors  *bbolt.Bucket
	postings *bbolt.Bucket
	meta     *bbolt.Bucket
}

func (c *boltCollection) Name() string {
	return c.name
}

func (c *boltCollection) open(tx *bbolt.Tx) *buckets {
	root := tx.Bucket([]byte(c.name))
	if root == nil {
		return nil
	}
	return &buckets{
		chunks:   root.Bucket(bucketChunks),
		vectors:  root.Bucket(bucketVectors),
		postings: root.Bucket(bucketPostings),
		meta:     root.Bucket(bucketMeta),
	}
}

func (c *boltCollection) create(tx *bbolt.Tx) (*buckets, error) {
	root, err := tx.CreateBucketIfNotExists([]byte(c.name))
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", c.name, err)
	}
	bs := make([]*bbolt.Bucket, 0, 4)
	for _, name := range [][]byte{bucketChunks, bucketVectors, bucketPostings, bucketMeta} {
		b, err := root.CreateBucketIfNotExists(name)
		if err != nil {
			return nil, fmt.Errorf("create bucket %s/%s: %w", c.name, name, err)
		}
		bs = append(bs, b)
	}
	if err := bs[3].Put(keyName, []byte(c.name)); err != nil {
		return nil, err
	}
	return &buckets{chunks: bs[0], vectors: bs[1], postings: bs[2], meta: bs[3]}, nil
}

func (c *boltCollection) AddChunks(ctx context.Context, chunks []domain.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	return c.store.db.Update(func(tx *bbolt.Tx) error {
		b, err := c.create(tx)
		if err != nil {
			return err
		}

		dim := int(decodeUint(b.meta.Get(keyDimension)))
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
		if dim > 0 {
			if err := b.meta.Put(keyDimension, encodeUint(uint64(dim))); err != nil {
				return err
			}
		}

		for _, ch := range chunks {
			if err := c.put(b, ch); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *boltCollection) put(b *buckets, ch domain.Chunk) error {
	if _, err := c.remove(b, ch.ID); err != nil {
		return err
	}

	tokens := c.store.tokenizer.Tokenize(ch.Text)
	stored := storedChunk{
		Text:     ch.Text,
		Metadata: ch.Metadata,
		Length:   len(tokens),
		Terms:    analyzer.TermFrequencies(tokens),
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}

	id := []byte(ch.ID)
	if err := b.chunks.Put(id, data); err != nil {
		return err
	}
	if len(ch.Embedding) > 0 {
		if err := b.vectors.Put(id, encodeVector(ch.Embedding)); err != nil {
			return err
		}
	}
	for term, tf := range stored.Terms {
		if err := b.postings.Put(postingKey(term, ch.ID), encodeUint(uint64(tf))); err != nil {
			return err
		}
	}
	return adjustStats(b.meta, 1, stored.Length)
}

// remove deletes one chunk with its vector and postings. It reports whether
// the chunk existed.
func (c *boltCollection) remove(b *buckets, id string) (bool, error) {
	data := b.chunks.Get([]byte(id))
	if data == nil {
		return false, nil
	}
	var stored storedChunk
	if err := json.Unmarshal(data, &stored); err != nil {
		return false, fmt.Errorf("decode chunk %s: %w", id, err)
	}
	for term := range stored.Terms {
		if err := b.postings.Delete(postingKey(term, id)); err != nil {
			return false, err
		}
	}
	if err := b.vectors.Delete([]byte(id)); err != nil {
		return false, err
	}
	if err := b.chunks.Delete([]byte(id)); err != nil {
		return false, err
	}
	return true, adjustStats(b.meta, -1, -stored.Length)
}

func adjustStats(meta *bbolt.Bucket, docs, length int) error {
	count := int64(decodeUint(meta.Get(keyDocCount))) + int64(docs)
	total := int64(decodeUint(meta.Get(keyTotalLen))) + int64(length)
	if count < 0 {
		count = 0
	}
	if total < 0 {
		total = 0
	}
	if err := meta.Put(keyDocCount, encodeUint(uint64(count))); err != nil {
		return err
	}
	return meta.Put(keyTotalLen, encodeUint(uint64(total)))
}

func decodeChunk(id []byte, data []byte) (domain.Chunk, storedChunk, error) {
	var stored storedChunk
	if err := json.Unmarshal(data, &stored); err != nil {
		return domain.Chunk{}, stored, fmt.Errorf("decode chunk %s: %w", id, err)
	}
	return domain.Chunk{ID: string(id), Text: stored.Text, Metadata: stored.Metadata}, stored, nil
}

func (c *boltCollection) Search(ctx context.Context, query []float32, topK int, filters domain.Filters) ([]domain.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 || len(query) == 0 {
		return nil, nil
	}

	var results []domain.ScoredChunk
	err := c.store.db.View(func(tx *bbolt.Tx) error {
		b := c.open(tx)
		if b == nil {
			return nil
		}
		if dim := int(decodeUint(b.meta.Get(keyDimension))); dim > 0 && dim != len(query) {
			return &domain.DimensionMismatchError{Collection: c.name, Expected: dim, Got: len(query)}
		}

		return b.vectors.ForEach(func(k, v []byte) error {
			chunk, _, err := decodeChunk(k, b.chunks.Get(k))
			if err != nil {
				return err
			}
			if !filters.Matches(chunk.Metadata) {
				return nil
			}
			vec, err := decodeVector(v)
			if err != nil {
				return fmt.Errorf("chunk %s: %w", k, err)
			}
			results = append(results, domain.ScoredChunk{Chunk: chunk, Score: CosineScore(query, vec)})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return SortScored(results, topK), nil
}

// KeywordSearch scores chunks with BM25 over the postings bucket.
func (c *boltCollection) KeywordSearch(ctx context.Context, terms []string, topK int, filters domain.Filters) ([]domain.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 || len(terms) == 0 {
		return nil, nil
	}

	var results []domain.ScoredChunk
	err := c.store.db.View(func(tx *bbolt.Tx) error {
		b := c.open(tx)
		if b == nil {
			return nil
		}

		totalDocs := int(decodeUint(b.meta.Get(keyDocCount)))
		if totalDocs == 0 {
			return nil
		}
		avgLen := float64(decodeUint(b.meta.Get(keyTotalLen))) / float64(totalDocs)

		scores := make(map[string]float64)
		seen := make(map[string]bool)
		for _, term := range terms {
			if seen[term] {
				continue
			}
			seen[term] = true

			prefix := postingPrefix(term)
			type posting struct {
				id string
				tf int
			}
			var postings []posting
			cur := b.postings.Cursor()
			for k, v := cur.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
				postings = append(postings, posting{id: string(k[len(prefix):]), tf: int(decodeUint(v))})
			}
			if len(postings) == 0 {
				continue
			}

			idf := c.store.bm25.IDF(len(postings), totalDocs)
			for _, p := range postings {
				data := b.chunks.Get([]byte(p.id))
				if data == nil {
					continue
				}
				var stored storedChunk
				if err := json.Unmarshal(data, &stored); err != nil {
					return fmt.Errorf("decode chunk %s: %w", p.id, err)
				}
				if !filters.Matches(stored.Metadata) {
					continue
				}
				scores[p.id] += c.store.bm25.TermScore(p.tf, idf, stored.Length, avgLen)
			}
		}

		for id, score := range scores {
			chunk, _, err := decodeChunk([]byte(id), b.chunks.Get([]byte(id)))
			if err != nil {
				return err
			}
			results = append(results, domain.ScoredChunk{Chunk: chunk, Score: score})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return SortScored(results, topK), nil
}

func (c *boltCollection) DeleteChunks(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return c.store.db.Update(func(tx *bbolt.Tx) error {
		b := c.open(tx)
		if b == nil {
			return nil
		}
		for _, id := range ids {
			if _, err := c.remove(b, id); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *boltCollection) DeleteCollection(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.store.db.Update(func(tx *bbolt.Tx) error {
		err := tx.DeleteBucket([]byte(c.name))
		if errors.Is(err, bbolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

func (c *boltCollection) Size(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int
	err := c.store.db.View(func(tx *bbolt.Tx) error {
		if b := c.open(tx); b != nil {
			n = int(decodeUint(b.meta.Get(keyDocCount)))
		}
		return nil
	})
	return n, err
}

// GetAllChunks returns chunks in ID order without embeddings.
func (c *boltCollection) GetAllChunks(ctx context.Context) ([]domain.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var chunks []domain.Chunk
	err := c.store.db.View(func(tx *bbolt.Tx) error {
		b := c.open(tx)
		if b == nil {
			return nil
		}
		return b.chunks.ForEach(func(k, v []byte) error {
			chunk, _, err := decodeChunk(k, v)
			if err != nil {
				return err
			}
			chunks = append(chunks, chunk)
			return nil
		})
	})
	return chunks, err
}

func (c *boltCollection) GetChunksWithEmbeddings(ctx context.Context, ids []string) ([]domain.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var chunks []domain.Chunk
	err := c.store.db.View(func(tx *bbolt.Tx) error {
		b := c.open(tx)
		if b == nil {
			return nil
		}
		for _, id := range ids {
			data := b.chunks.Get([]byte(id))
			if data == nil {
				continue
			}
			chunk, _, err := decodeChunk([]byte(id), data)
			if err != nil {
				return err
			}
			if raw := b.vectors.Get([]byte(id)); raw != nil {
				if chunk.Embedding, err = decodeVector(raw); err != nil {
					return fmt.Errorf("chunk %s: %w", id, err)
				}
			}
			chunks = append(chunks, chunk)
		}
		return nil
	})
	return chunks, err
}

func (c *boltCollection) ListIDsWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ids []string
	p := []byte(prefix)
	err := c.store.db.View(func(tx *bbolt.Tx) error {
		b := c.open(tx)
		if b == nil {
			return nil
		}
		cur := b.chunks.Cursor()
		for k, _ := cur.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = cur.Next() {
			ids = append(ids, string(k))
		}
		return nil
	})
	return ids, err
}

func (c *boltCollection) GetLegacyChunkIDs(ctx context.Context, chapterRef string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ids []string
	err := c.store.db.View(func(tx *bbolt.Tx) error {
		b := c.open(tx)
		if b == nil {
			return nil
		}
		var err error
		ids, err = c.legacyIDs(b, chapterRef)
		return err
	})
	return ids, err
}

func (c *boltCollection) legacyIDs(b *buckets, chapterRef string) ([]string, error) {
	var ids []string
	err := b.chunks.ForEach(func(k, v []byte) error {
		var stored storedChunk
		if err := json.Unmarshal(v, &stored); err != nil {
			return fmt.Errorf("decode chunk %s: %w", k, err)
		}
		if chapterRef != "" && stored.Metadata.ChapterRef != chapterRef {
			return nil
		}
		if stored.Metadata.StrategyVersion != c.store.strategyVersion {
			ids = append(ids, string(k))
		}
		return nil
	})
	sort.Strings(ids)
	return ids, err
}

// DeleteLegacyChunks finds and removes legacy chunks in one transaction.
func (c *boltCollection) DeleteLegacyChunks(ctx context.Context, chapterRef string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var removed int
	err := c.store.db.Update(func(tx *bbolt.Tx) error {
		b := c.open(tx)
		if b == nil {
			return nil
		}
		ids, err := c.legacyIDs(b, chapterRef)
		if err != nil {
			return err
		}
		for _, id := range ids {
			ok, err := c.remove(b, id)
			if err != nil {
				return err
			}
			if ok {
				removed++
			}
		}
		return nil
	})
	return removed, err
}
