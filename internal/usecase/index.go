package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"coursekb/internal/adapter/cache"
	"coursekb/internal/adapter/fs"
	"coursekb/internal/adapter/store"
	"coursekb/internal/domain"
	"coursekb/internal/port"
	"coursekb/pkg/logger"
	"coursekb/pkg/metrics"
)

const DefaultLockTTL = time.Hour

// IndexLockKey is the course lock held by every indexing and sync run.
func IndexLockKey(courseID string) string {
	return "lock:index:" + courseID
}

// IndexOptions tunes an Indexer.
type IndexOptions struct {
	Chunk       domain.ChunkOptions
	Concurrency int
	LockTTL     time.Duration
	// CleanupLegacy removes chunks of older strategy versions of a chapter
	// once its new chunks are written.
	CleanupLegacy bool
}

// IndexUseCase turns chapter documents into embedded chunks of a course's
// draft collection.
type IndexUseCase struct {
	chunker  port.Chunker
	filter   port.ContentFilter
	embedder port.Embedder
	stores   port.CollectionStore
	status   port.StatusStore
	locker   port.Locker
	source   port.ChapterSource
	cache    *cache.QueryCache
	opts     IndexOptions
	now      func() time.Time
}

func NewIndexUseCase(
	chunker port.Chunker,
	filter port.ContentFilter,
	embedder port.Embedder,
	stores port.CollectionStore,
	status port.StatusStore,
	locker port.Locker,
	source port.ChapterSource,
	queryCache *cache.QueryCache,
	opts IndexOptions,
) *IndexUseCase {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}
	return &IndexUseCase{
		chunker:  chunker,
		filter:   filter,
		embedder: embedder,
		stores:   stores,
		status:   status,
		locker:   locker,
		source:   source,
		cache:    queryCache,
		opts:     opts,
		now:      time.Now,
	}
}

// ChapterResult describes the indexing of one chapter.
type ChapterResult struct {
	ChapterRef    string
	Chunks        int
	Filtered      int
	Replaced      int
	LegacyRemoved int
	Skipped       bool
}

// IndexResult contains the results of an indexing run.
type IndexResult struct {
	CourseID        string
	Collection      string
	JobID           string
	Chapters        int
	Indexed         int
	Skipped         int
	Failed          int
	Chunks          int
	Filtered        int
	LegacyRemoved   int
	RemovedChapters []string
}

// ChapterFunc is notified after each chapter of a run, in completion order.
type ChapterFunc func(res ChapterResult, err error)

// IndexCourse indexes every chapter under root while holding the course
// lock. Chapter failures are collected into a *domain.PartialSyncError; a
// fatal failure cancels the remaining chapters and is returned as is.
func (u *IndexUseCase) IndexCourse(ctx context.Context, courseID, root string, force bool, onChapter ChapterFunc) (*IndexResult, error) {
	result := &IndexResult{
		CourseID:   courseID,
		Collection: store.DraftCollection(courseID),
		JobID:      uuid.NewString(),
	}
	ctx = logger.WithContext(ctx, logger.CourseIDKey, courseID)
	ctx = logger.WithContext(ctx, logger.JobIDKey, result.JobID)

	key := IndexLockKey(courseID)
	token, err := u.locker.Acquire(ctx, key, u.opts.LockTTL)
	if err != nil {
		metrics.IndexRuns.WithLabelValues("busy").Inc()
		return result, err
	}
	defer func() {
		// release even when ctx was cancelled
		if err := u.locker.Release(context.Background(), key, token); err != nil {
			logger.Error(ctx, "failed to release index lock", err)
		}
	}()

	files, err := u.source.Walk(root)
	if err != nil {
		metrics.IndexRuns.WithLabelValues("failed").Inc()
		return result, fmt.Errorf("failed to walk course directory: %w", err)
	}
	result.Chapters = len(files)
	logger.Info(ctx, "index run started", "chapters", len(files), "root", root)
	start := time.Now()

	var (
		mu      sync.Mutex
		partial domain.PartialSyncError
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.opts.Concurrency)

	for _, file := range files {
		file := file
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			content, err := fs.ReadFile(file.Path)
			var res ChapterResult
			if err == nil {
				res, err = u.IndexChapter(gctx, courseID, file.RelPath, content, force)
			} else {
				res.ChapterRef = file.RelPath
				err = fmt.Errorf("failed to read chapter: %w", err)
			}

			mu.Lock()
			defer mu.Unlock()
			if onChapter != nil {
				onChapter(res, err)
			}
			switch {
			case err != nil:
				result.Failed++
				partial.Add(file.RelPath, err)
				if domain.IsFatal(err) {
					return err
				}
			case res.Skipped:
				result.Skipped++
			default:
				result.Indexed++
				result.Chunks += res.Chunks
				result.Filtered += res.Filtered
				result.LegacyRemoved += res.LegacyRemoved
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		metrics.IndexRuns.WithLabelValues("failed").Inc()
		logger.Error(ctx, "index run aborted", err)
		u.invalidate(result.Collection)
		return result, err
	}

	seen := make(map[string]bool, len(files))
	for _, f := range files {
		seen[f.RelPath] = true
	}
	removed, err := u.removeMissingChapters(ctx, courseID, seen)
	if err != nil {
		partial.Add("(removed chapters)", err)
	}
	result.RemovedChapters = removed
	u.invalidate(result.Collection)

	if err := partial.ErrOrNil(); err != nil {
		metrics.IndexRuns.WithLabelValues("partial").Inc()
		logger.Warn(ctx, "index run finished with failures", "failed", result.Failed, "indexed", result.Indexed)
		return result, err
	}
	metrics.IndexRuns.WithLabelValues("success").Inc()
	logger.Info(ctx, "index run finished",
		"indexed", result.Indexed,
		"skipped", result.Skipped,
		"chunks", result.Chunks,
		"duration", time.Since(start).String(),
	)
	return result, nil
}

// IndexChapter chunks, filters, embeds and writes one chapter. The
// chapter's previous chunks are deleted only after the new ones are written.
// Unchanged chapters are skipped unless force is set.
func (u *IndexUseCase) IndexChapter(ctx context.Context, courseID, chapterRef, content string, force bool) (ChapterResult, error) {
	res := ChapterResult{ChapterRef: chapterRef}
	ctx = logger.WithContext(ctx, logger.ChapterRefKey, chapterRef)
	version := u.opts.Chunk.Version()
	hash := contentHash(content)

	prev, err := u.status.GetStatus(ctx, courseID, chapterRef)
	if err != nil {
		return res, fmt.Errorf("failed to read status: %w", err)
	}
	if !force && isCurrent(prev, hash, version) {
		res.Skipped = true
		res.Chunks = prev.ChunkCount
		logger.Debug(ctx, "chapter unchanged, skipping")
		return res, nil
	}

	if err := u.putStatus(ctx, domain.IndexStatus{CourseID: courseID, ChapterRef: chapterRef, Status: domain.StatusIndexing}); err != nil {
		return res, err
	}

	res, err = u.indexChapter(ctx, courseID, chapterRef, content)
	if err != nil {
		failed := domain.IndexStatus{CourseID: courseID, ChapterRef: chapterRef, Status: domain.StatusFailed, Error: err.Error()}
		if serr := u.putStatus(ctx, failed); serr != nil {
			logger.Error(ctx, "failed to record chapter failure", serr)
		}
		logger.Error(ctx, "chapter indexing failed", err)
		return res, err
	}

	now := u.now()
	done := domain.IndexStatus{
		CourseID:    courseID,
		ChapterRef:  chapterRef,
		Status:      domain.StatusIndexed,
		ChunkCount:  res.Chunks,
		IndexedAt:   &now,
		ContentHash: hash,
		Strategy:    version,
	}
	if err := u.putStatus(ctx, done); err != nil {
		return res, err
	}
	metrics.ChunksIndexed.WithLabelValues(courseID).Add(float64(res.Chunks))
	logger.Debug(ctx, "chapter indexed", "chunks", res.Chunks, "filtered", res.Filtered)
	return res, nil
}

func (u *IndexUseCase) indexChapter(ctx context.Context, courseID, chapterRef, content string) (ChapterResult, error) {
	res := ChapterResult{ChapterRef: chapterRef}
	col := u.stores.Collection(store.DraftCollection(courseID))

	chunks, err := u.chunker.Chunk(content, courseID, chapterRef, u.opts.Chunk)
	if err != nil {
		return res, fmt.Errorf("failed to chunk chapter: %w", err)
	}

	kept := chunks[:0]
	for _, ch := range chunks {
		ch.Text = u.filter.Clean(ch.Text)
		if !u.filter.ShouldEmbed(ch.Text, ch.Metadata.ContentType) {
			res.Filtered++
			metrics.ChunksFiltered.WithLabelValues(string(ch.Metadata.ContentType)).Inc()
			continue
		}
		ch.Metadata.Position = len(kept)
		kept = append(kept, ch)
	}

	if len(kept) > 0 {
		texts := make([]string, len(kept))
		for i, ch := range kept {
			texts[i] = ch.Text
		}
		vectors, err := u.embedder.Embed(ctx, texts)
		if err != nil {
			return res, err
		}
		if len(vectors) != len(kept) {
			return res, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(kept))
		}
		for i := range kept {
			kept[i].Embedding = vectors[i]
		}
	}

	// chunks of the current version written by an earlier run are replaced,
	// older versions are legacy
	oldIDs, err := chapterChunkIDs(ctx, col, chapterRef)
	if err != nil {
		return res, err
	}
	legacy, err := col.GetLegacyChunkIDs(ctx, chapterRef)
	if err != nil {
		return res, err
	}
	isLegacy := make(map[string]bool, len(legacy))
	for _, id := range legacy {
		isLegacy[id] = true
	}
	var replaced []string
	for _, id := range oldIDs {
		if !isLegacy[id] {
			replaced = append(replaced, id)
		}
	}

	if err := col.AddChunks(ctx, kept); err != nil {
		return res, fmt.Errorf("failed to write chunks: %w", err)
	}
	res.Chunks = len(kept)

	if err := col.DeleteChunks(ctx, replaced); err != nil {
		return res, fmt.Errorf("failed to delete replaced chunks: %w", err)
	}
	if u.opts.CleanupLegacy {
		n, err := col.DeleteLegacyChunks(ctx, chapterRef)
		if err != nil {
			return res, fmt.Errorf("failed to delete legacy chunks: %w", err)
		}
		res.LegacyRemoved = n
	}
	res.Replaced = len(replaced)
	return res, nil
}

// removeMissingChapters drops the chunks of chapters that are no longer in
// the course directory.
func (u *IndexUseCase) removeMissingChapters(ctx context.Context, courseID string, seen map[string]bool) ([]string, error) {
	col := u.stores.Collection(store.DraftCollection(courseID))
	chunks, err := col.GetAllChunks(ctx)
	if err != nil {
		return nil, err
	}

	byChapter := make(map[string][]string)
	for _, ch := range chunks {
		if !seen[ch.Metadata.ChapterRef] {
			byChapter[ch.Metadata.ChapterRef] = append(byChapter[ch.Metadata.ChapterRef], ch.ID)
		}
	}

	var removed []string
	for ref, ids := range byChapter {
		if err := col.DeleteChunks(ctx, ids); err != nil {
			return removed, err
		}
		st := domain.IndexStatus{CourseID: courseID, ChapterRef: ref, Status: domain.StatusNotIndexed}
		if err := u.putStatus(ctx, st); err != nil {
			return removed, err
		}
		removed = append(removed, ref)
	}
	if len(removed) > 0 {
		logger.Info(ctx, "removed chapters no longer on disk", "chapters", removed)
	}
	return removed, nil
}

func (u *IndexUseCase) putStatus(ctx context.Context, st domain.IndexStatus) error {
	if err := u.status.PutStatus(ctx, st); err != nil {
		return fmt.Errorf("failed to write status: %w", err)
	}
	return nil
}

func (u *IndexUseCase) invalidate(collection string) {
	if u.cache != nil {
		u.cache.Invalidate(collection)
	}
}

func chapterChunkIDs(ctx context.Context, col port.VectorStore, chapterRef string) ([]string, error) {
	chunks, err := col.GetAllChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list chapter chunks: %w", err)
	}
	var ids []string
	for _, ch := range chunks {
		if ch.Metadata.ChapterRef == chapterRef {
			ids = append(ids, ch.ID)
		}
	}
	return ids, nil
}

func isCurrent(st domain.IndexStatus, hash, version string) bool {
	if st.Status != domain.StatusIndexed && st.Status != domain.StatusPromoted {
		return false
	}
	return st.ContentHash == hash && st.Strategy == version
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:16])
}
