package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"coursekb/config"
	"coursekb/internal/adapter/analyzer"
	"coursekb/internal/adapter/cache"
	"coursekb/internal/adapter/chunker"
	"coursekb/internal/adapter/embedding"
	"coursekb/internal/adapter/filter"
	"coursekb/internal/adapter/fs"
	"coursekb/internal/adapter/lock"
	"coursekb/internal/adapter/memstore"
	"coursekb/internal/adapter/retriever"
	"coursekb/internal/adapter/store"
	"coursekb/internal/domain"
	"coursekb/internal/port"
	"coursekb/pkg/logger"
)

// backend is what both the bbolt and the in-memory store provide.
type backend interface {
	port.CollectionStore
	port.StatusStore
}

// Service wires every use case of one coursekb workspace.
type Service struct {
	Config *config.Config

	Index    *IndexUseCase
	Sync     *SyncUseCase
	Retrieve *RetrieveUseCase
	Eval     *Evaluator

	store    backend
	cache    *cache.QueryCache
	embedder port.Embedder
	reranker port.Reranker
	redis    *redis.Client
}

type serviceOptions struct {
	ephemeral bool
	embedder  port.Embedder
	locker    port.Locker
}

type ServiceOption func(*serviceOptions)

// WithEphemeral keeps all collections in memory instead of the store file.
func WithEphemeral() ServiceOption {
	return func(o *serviceOptions) { o.ephemeral = true }
}

// WithEmbedder replaces the embedder selected by the configuration.
func WithEmbedder(e port.Embedder) ServiceOption {
	return func(o *serviceOptions) { o.embedder = e }
}

// WithLocker replaces the locker selected by the configuration.
func WithLocker(l port.Locker) ServiceOption {
	return func(o *serviceOptions) { o.locker = l }
}

// NewService validates cfg and builds the adapters it selects. dir is the
// workspace directory relative store paths resolve against.
func NewService(ctx context.Context, cfg *config.Config, dir string, opts ...ServiceOption) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o serviceOptions
	for _, opt := range opts {
		opt(&o)
	}

	s := &Service{Config: cfg}
	version := cfg.ChunkOptions().Version()

	chk, err := chunker.New(cfg.Chunking.Strategy)
	if err != nil {
		return nil, err
	}

	s.embedder = o.embedder
	if s.embedder == nil {
		s.embedder, err = embedding.New(embedding.Config{
			Provider:          cfg.Embedding.Provider,
			Model:             cfg.Embedding.Model,
			APIKeyEnv:         cfg.Embedding.APIKeyEnv,
			BaseURL:           cfg.Embedding.BaseURL,
			Dimension:         cfg.Embedding.Dimension,
			BatchSize:         cfg.Embedding.BatchSize,
			Timeout:           cfg.Embedding.Timeout,
			MaxRetries:        cfg.Embedding.MaxRetries,
			RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		})
		if err != nil {
			return nil, err
		}
	}

	s.reranker, err = retriever.NewReranker(retriever.RerankerConfig{
		Provider:  cfg.Reranker.Provider,
		Model:     cfg.Reranker.Model,
		APIKeyEnv: cfg.Reranker.APIKeyEnv,
		BaseURL:   cfg.Reranker.BaseURL,
	})
	if err != nil {
		return nil, err
	}

	locker := o.locker
	if locker == nil {
		locker, err = s.newLocker(ctx, cfg.Lock)
		if err != nil {
			return nil, err
		}
	}

	if o.ephemeral {
		s.store = memstore.NewMemoryStoreWithVersion(version)
	} else {
		if err := cfg.EnsureDataDir(dir); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		bolt, err := store.Open(cfg.StorePath(dir), store.WithStrategyVersion(version))
		if err != nil {
			s.Close()
			return nil, err
		}
		s.store = bolt
	}

	s.cache = cache.NewQueryCache(cfg.Retrieve.CacheSize, cfg.Retrieve.CacheTTL)

	mode, _ := config.ParseMode(cfg.Retrieve.Mode)
	s.Index = NewIndexUseCase(
		chk,
		filter.New(),
		s.embedder,
		s.store,
		s.store,
		locker,
		fs.NewWalker(cfg.Index.Includes, cfg.Index.Excludes),
		s.cache,
		IndexOptions{
			Chunk:         cfg.ChunkOptions(),
			Concurrency:   cfg.Index.Concurrency,
			LockTTL:       cfg.Lock.TTL,
			CleanupLegacy: cfg.Index.CleanupLegacy,
		},
	)
	s.Sync = NewSyncUseCase(s.store, s.store, locker, s.cache, SyncOptions{
		StrategyVersion: version,
		LockTTL:         cfg.Lock.TTL,
	})
	s.Retrieve = NewRetrieveUseCase(s.store, s.embedder, analyzer.NewTokenizer(), s.reranker, s.cache, RetrieveOptions{
		DefaultTopK:   cfg.Retrieve.TopK,
		DefaultMode:   mode,
		VectorWeight:  cfg.Retrieve.VectorWeight,
		KeywordWeight: cfg.Retrieve.KeywordWeight,
		RerankFactor:  cfg.Retrieve.RerankFactor,
	})
	s.Eval = NewEvaluator(s.Retrieve)
	return s, nil
}

func (s *Service) newLocker(ctx context.Context, cfg config.LockConfig) (port.Locker, error) {
	if cfg.Backend != "redis" {
		return lock.NewMemoryLocker(), nil
	}
	rdb, err := lock.NewRedisClient(ctx, lock.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, err
	}
	s.redis = rdb
	return lock.NewRedisLocker(rdb), nil
}

func (s *Service) Status() port.StatusStore {
	return s.store
}

func (s *Service) Stores() port.CollectionStore {
	return s.store
}

func (s *Service) Embedder() port.Embedder {
	return s.embedder
}

// Reranker is nil when reranking is disabled.
func (s *Service) Reranker() port.Reranker {
	return s.reranker
}

// Collection returns the draft or online collection of a course.
func (s *Service) Collection(courseID string, online bool) port.VectorStore {
	if online {
		return s.store.Collection(store.OnlineCollection(courseID))
	}
	return s.store.Collection(store.DraftCollection(courseID))
}

// DeleteIndex drops both collections and the chapter status of a course.
func (s *Service) DeleteIndex(ctx context.Context, courseID string) error {
	for _, online := range []bool{false, true} {
		col := s.Collection(courseID, online)
		if err := col.DeleteCollection(ctx); err != nil {
			return fmt.Errorf("failed to delete collection %s: %w", col.Name(), err)
		}
		s.cache.Invalidate(col.Name())
	}
	if err := s.store.DeleteStatus(ctx, courseID); err != nil {
		return fmt.Errorf("failed to delete status: %w", err)
	}
	logger.Info(logger.WithContext(ctx, logger.CourseIDKey, courseID), "course index deleted")
	return nil
}

// LegacyReport lists chunks of older strategy versions per chapter.
func (s *Service) LegacyReport(ctx context.Context, courseID string, online bool) (map[string][]string, error) {
	col := s.Collection(courseID, online)
	ids, err := col.GetLegacyChunkIDs(ctx, "")
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return map[string][]string{}, nil
	}

	legacy := make(map[string]bool, len(ids))
	for _, id := range ids {
		legacy[id] = true
	}
	chunks, err := col.GetAllChunks(ctx)
	if err != nil {
		return nil, err
	}
	report := make(map[string][]string)
	for _, ch := range chunks {
		if legacy[ch.ID] {
			report[ch.Metadata.ChapterRef] = append(report[ch.Metadata.ChapterRef], ch.ID)
		}
	}
	for _, chunkIDs := range report {
		sort.Strings(chunkIDs)
	}
	return report, nil
}

// DeleteLegacy removes every chunk of an older strategy version.
func (s *Service) DeleteLegacy(ctx context.Context, courseID string, online bool) (int, error) {
	col := s.Collection(courseID, online)
	n, err := col.DeleteLegacyChunks(ctx, "")
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.cache.Invalidate(col.Name())
	}
	return n, nil
}

// ChapterStatus lists the status of every known chapter of a course.
func (s *Service) ChapterStatus(ctx context.Context, courseID string) ([]domain.IndexStatus, error) {
	return s.store.ListStatus(ctx, courseID)
}

func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	return errors.Join(errs...)
}
