package usecase

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"coursekb/internal/adapter/cache"
	"coursekb/internal/adapter/store"
	"coursekb/internal/domain"
	"coursekb/internal/port"
	"coursekb/pkg/logger"
	"coursekb/pkg/metrics"
)

// SyncResult describes one promotion of a chapter.
type SyncResult struct {
	ChapterRef string
	TargetID   string
	ChunkCount int
	// RemovedLegacyCount counts previously synced chunks that the new set did
	// not overwrite plus older-version chunks removed for the target.
	RemovedLegacyCount int
	// Skipped counts source chunks without an embedding.
	Skipped int
	// SkippedLegacy counts source chunks of an older strategy version.
	SkippedLegacy int
}

// SyncAllResult aggregates a batch promotion.
type SyncAllResult struct {
	Chapters           int
	Synced             int
	Failed             int
	ChunkCount         int
	RemovedLegacyCount int
	Skipped            int
	SkippedLegacy      int
	Results            []SyncResult
}

// SyncUseCase promotes chunks from a course's draft collection into its
// online collection.
type SyncUseCase struct {
	stores port.CollectionStore
	status port.StatusStore
	locker port.Locker
	cache  *cache.QueryCache
	opts   SyncOptions
	now    func() time.Time
}

type SyncOptions struct {
	// StrategyVersion is the version promoted chunks must carry; empty means
	// domain.StrategyVersion.
	StrategyVersion string
	LockTTL         time.Duration
}

// NewSyncUseCase creates a promoter. Promotions hold the same course lock as
// indexing runs, so a sync never sees a chapter halfway through re-indexing.
func NewSyncUseCase(stores port.CollectionStore, status port.StatusStore, locker port.Locker, queryCache *cache.QueryCache, opts SyncOptions) *SyncUseCase {
	if opts.StrategyVersion == "" {
		opts.StrategyVersion = domain.StrategyVersion
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}
	return &SyncUseCase{
		stores: stores,
		status: status,
		locker: locker,
		cache:  queryCache,
		opts:   opts,
		now:    time.Now,
	}
}

// SyncIDPrefix is the ID prefix shared by every promoted chunk of a target.
func SyncIDPrefix(targetID string) string {
	sum := md5.Sum([]byte(targetID))
	return "sync_" + hex.EncodeToString(sum[:])[:12] + "_"
}

// SyncChunkID is the stable ID of the i-th promoted chunk of a target.
func SyncChunkID(targetID string, i int) string {
	return fmt.Sprintf("%s%04d", SyncIDPrefix(targetID), i)
}

// Sync copies the draft chunks of chapterRef into the online collection under
// targetID. New chunks are written before the previous synced set is deleted,
// so the online chapter is never empty and re-runs converge to the same state.
// Sync never retries; a failed run is safe to repeat. It returns a
// *domain.LockContentionError while the course is being indexed or synced.
func (u *SyncUseCase) Sync(ctx context.Context, courseID, chapterRef, targetID string) (SyncResult, error) {
	ctx = logger.WithContext(ctx, logger.CourseIDKey, courseID)
	release, err := u.lock(ctx, courseID)
	if err != nil {
		return SyncResult{ChapterRef: chapterRef, TargetID: targetID}, err
	}
	defer release()

	return u.sync(ctx, courseID, chapterRef, targetID)
}

func (u *SyncUseCase) sync(ctx context.Context, courseID, chapterRef, targetID string) (SyncResult, error) {
	res := SyncResult{ChapterRef: chapterRef, TargetID: targetID}
	ctx = logger.WithContext(ctx, logger.ChapterRefKey, chapterRef)

	draft := u.stores.Collection(store.DraftCollection(courseID))
	online := u.stores.Collection(store.OnlineCollection(courseID))

	all, err := draft.GetAllChunks(ctx)
	if err != nil {
		return u.fail(ctx, res, fmt.Errorf("failed to read draft chunks: %w", err))
	}
	var ids []string
	for _, ch := range all {
		if ch.Metadata.ChapterRef != chapterRef {
			continue
		}
		// Older versions share positions with the current chunks.
		if ch.Metadata.StrategyVersion != u.opts.StrategyVersion {
			res.SkippedLegacy++
			continue
		}
		ids = append(ids, ch.ID)
	}
	if res.SkippedLegacy > 0 {
		logger.Warn(ctx, "skipped draft chunks of an older strategy version", "skipped", res.SkippedLegacy)
	}
	source, err := draft.GetChunksWithEmbeddings(ctx, ids)
	if err != nil {
		return u.fail(ctx, res, fmt.Errorf("failed to read draft embeddings: %w", err))
	}
	sort.SliceStable(source, func(i, j int) bool {
		if source[i].Metadata.Position != source[j].Metadata.Position {
			return source[i].Metadata.Position < source[j].Metadata.Position
		}
		return source[i].ID < source[j].ID
	})

	syncedAt := u.now().UTC()
	promoted := make([]domain.Chunk, 0, len(source))
	for _, ch := range source {
		if len(ch.Embedding) == 0 {
			res.Skipped++
			continue
		}
		md := ch.Metadata
		md.ChapterRef = targetID
		md.CourseID = courseID
		md.SyncedFrom = chapterRef
		md.SyncedAt = &syncedAt
		md.StrategyVersion = u.opts.StrategyVersion
		md.Position = len(promoted)
		promoted = append(promoted, domain.Chunk{
			ID:        SyncChunkID(targetID, len(promoted)),
			Text:      ch.Text,
			Metadata:  md,
			Embedding: ch.Embedding,
		})
	}
	if res.Skipped > 0 {
		logger.Warn(ctx, "skipped chunks without embedding", "skipped", res.Skipped)
	}
	if len(promoted) == 0 {
		logger.Warn(ctx, "nothing to promote, online chapter left unchanged", "target", targetID)
		metrics.SyncRuns.WithLabelValues("empty").Inc()
		return res, nil
	}

	oldIDs, err := online.ListIDsWithPrefix(ctx, SyncIDPrefix(targetID))
	if err != nil {
		return u.fail(ctx, res, fmt.Errorf("failed to list synced chunks: %w", err))
	}

	if err := online.AddChunks(ctx, promoted); err != nil {
		return u.fail(ctx, res, fmt.Errorf("failed to write online chunks: %w", err))
	}
	res.ChunkCount = len(promoted)
	u.invalidate(online.Name())

	written := make(map[string]bool, len(promoted))
	for _, ch := range promoted {
		written[ch.ID] = true
	}
	var stale []string
	for _, id := range oldIDs {
		if !written[id] {
			stale = append(stale, id)
		}
	}
	if err := online.DeleteChunks(ctx, stale); err != nil {
		return u.fail(ctx, res, fmt.Errorf("failed to delete stale synced chunks: %w", err))
	}
	legacy, err := online.DeleteLegacyChunks(ctx, targetID)
	if err != nil {
		return u.fail(ctx, res, fmt.Errorf("failed to delete legacy online chunks: %w", err))
	}
	res.RemovedLegacyCount = len(stale) + legacy

	u.markPromoted(ctx, courseID, chapterRef, res.ChunkCount)
	metrics.SyncRuns.WithLabelValues("success").Inc()
	metrics.SyncedChunks.Add(float64(res.ChunkCount))
	logger.Info(ctx, "chapter promoted",
		"target", targetID,
		"chunks", res.ChunkCount,
		"removed", res.RemovedLegacyCount,
		"skipped", res.Skipped,
	)
	return res, nil
}

// SyncAll promotes every chapter of mapping (chapterRef to target ID) in
// chapter order under one hold of the course lock. Failures are collected
// into a *domain.PartialSyncError; only a fatal failure stops the remaining
// chapters.
func (u *SyncUseCase) SyncAll(ctx context.Context, courseID string, mapping map[string]string) (*SyncAllResult, error) {
	refs := make([]string, 0, len(mapping))
	for ref := range mapping {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	result := &SyncAllResult{Chapters: len(refs)}
	ctx = logger.WithContext(ctx, logger.CourseIDKey, courseID)
	release, err := u.lock(ctx, courseID)
	if err != nil {
		return result, err
	}
	defer release()

	var partial domain.PartialSyncError
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		res, err := u.sync(ctx, courseID, ref, mapping[ref])
		if err != nil {
			result.Failed++
			partial.Add(ref, err)
			if domain.IsFatal(err) {
				return result, err
			}
			continue
		}
		result.Synced++
		result.ChunkCount += res.ChunkCount
		result.RemovedLegacyCount += res.RemovedLegacyCount
		result.Skipped += res.Skipped
		result.SkippedLegacy += res.SkippedLegacy
		result.Results = append(result.Results, res)
	}
	return result, partial.ErrOrNil()
}

// IdentityMapping maps every indexed chapter of a course onto itself.
func (u *SyncUseCase) IdentityMapping(ctx context.Context, courseID string) (map[string]string, error) {
	statuses, err := u.status.ListStatus(ctx, courseID)
	if err != nil {
		return nil, err
	}
	mapping := make(map[string]string)
	for _, st := range statuses {
		if st.Status == domain.StatusIndexed || st.Status == domain.StatusPromoted {
			mapping[st.ChapterRef] = st.ChapterRef
		}
	}
	return mapping, nil
}

// lock takes the course lock shared with indexing runs.
func (u *SyncUseCase) lock(ctx context.Context, courseID string) (func(), error) {
	key := IndexLockKey(courseID)
	token, err := u.locker.Acquire(ctx, key, u.opts.LockTTL)
	if err != nil {
		metrics.SyncRuns.WithLabelValues("busy").Inc()
		return nil, err
	}
	return func() {
		if err := u.locker.Release(context.Background(), key, token); err != nil {
			logger.Error(ctx, "failed to release course lock", err)
		}
	}, nil
}

func (u *SyncUseCase) markPromoted(ctx context.Context, courseID, chapterRef string, chunks int) {
	st, err := u.status.GetStatus(ctx, courseID, chapterRef)
	if err != nil {
		logger.Error(ctx, "failed to read status", err)
		return
	}
	if !st.Status.CanTransition(domain.StatusPromoted) {
		return
	}
	st.Status = domain.StatusPromoted
	st.ChunkCount = chunks
	if err := u.status.PutStatus(ctx, st); err != nil {
		logger.Error(ctx, "failed to record promotion", err)
	}
}

func (u *SyncUseCase) fail(ctx context.Context, res SyncResult, err error) (SyncResult, error) {
	metrics.SyncRuns.WithLabelValues("failed").Inc()
	logger.Error(ctx, "chapter promotion failed", err)
	return res, err
}

func (u *SyncUseCase) invalidate(collection string) {
	if u.cache != nil {
		u.cache.Invalidate(collection)
	}
}
