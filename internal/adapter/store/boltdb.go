package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"coursekb/internal/adapter/analyzer"
	"coursekb/internal/domain"
	"coursekb/internal/port"
)

var (
	bucketSchema = []byte("_schema")
	bucketStatus = []byte("_status")

	bucketChunks   = []byte("chunks")
	bucketVectors  = []byte("vectors")
	bucketPostings = []byte("postings")
	bucketMeta     = []byte("meta")

	keyDimension = []byte("dimension")
	keyName      = []byte("name")
	keyDocCount  = []byte("doc_count")
	keyTotalLen  = []byte("total_len")
)

// BoltStore keeps every collection and the status table in one bbolt file.
type BoltStore struct {
	db              *bbolt.DB
	tokenizer       port.Tokenizer
	bm25            analyzer.BM25
	strategyVersion string
}

var (
	_ port.CollectionStore = (*BoltStore)(nil)
	_ port.StatusStore     = (*BoltStore)(nil)
)

type Option func(*BoltStore)

// WithStrategyVersion sets the version legacy detection compares against.
func WithStrategyVersion(v string) Option {
	return func(s *BoltStore) {
		if v != "" {
			s.strategyVersion = v
		}
	}
}

// WithTokenizer replaces the tokenizer used to build postings.
func WithTokenizer(t port.Tokenizer) Option {
	return func(s *BoltStore) {
		if t != nil {
			s.tokenizer = t
		}
	}
}

// Open opens (creating if needed) the store at path and migrates its schema.
func Open(path string, opts ...Option) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	s := &BoltStore{
		db:              db,
		tokenizer:       analyzer.NewTokenizer(),
		bm25:            analyzer.DefaultBM25(),
		strategyVersion: domain.StrategyVersion,
	}
	for _, opt := range opts {
		opt(s)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketSchema, bucketStatus} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Collection returns a handle on the named collection. Nothing is created
// until the first write.
func (s *BoltStore) Collection(name string) port.VectorStore {
	return &boltCollection{store: s, name: NormalizeCollectionName(name)}
}

func (s *BoltStore) ListCollections(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			if !isReserved(name) {
				names = append(names, string(name))
			}
			return nil
		})
	})
	return names, err
}

func isReserved(name []byte) bool {
	return strings.HasPrefix(string(name), "_")
}
