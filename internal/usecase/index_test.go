package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursekb/internal/adapter/cache"
	"coursekb/internal/adapter/chunker"
	"coursekb/internal/adapter/embedding"
	"coursekb/internal/adapter/filter"
	"coursekb/internal/adapter/fs"
	"coursekb/internal/adapter/lock"
	"coursekb/internal/adapter/memstore"
	"coursekb/internal/adapter/store"
	"coursekb/internal/domain"
	"coursekb/internal/port"
)

const testCourse = "python"

const chapterVariables = `# Variables

Python variables are names bound to objects. Assignment never copies the object.

## Scope

Names assigned inside a function are local unless declared global or nonlocal.
`

const chapterLists = `# Lists

Lists are ordered mutable sequences. Appending to a list changes it in place.

` + "```python\n# build a list of squares\nsquares = [x * x for x in range(10)]\n```\n"

// failingEmbedder fails every batch that contains marker.
type failingEmbedder struct {
	port.Embedder
	marker string
	err    error
}

func (e *failingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if strings.Contains(t, e.marker) {
			return nil, e.err
		}
	}
	return e.Embedder.Embed(ctx, texts)
}

type indexFixture struct {
	store  *memstore.MemoryStore
	locker *lock.MemoryLocker
	cache  *cache.QueryCache
	root   string
}

func newIndexFixture(t *testing.T, chapters map[string]string) *indexFixture {
	t.Helper()
	root := t.TempDir()
	for name, content := range chapters {
		writeChapter(t, root, name, content)
	}
	return &indexFixture{
		store:  memstore.NewMemoryStore(),
		locker: lock.NewMemoryLocker(),
		cache:  cache.NewQueryCache(16, 0),
		root:   root,
	}
}

func writeChapter(t *testing.T, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (f *indexFixture) useCase(t *testing.T, embedder port.Embedder, opts IndexOptions) *IndexUseCase {
	t.Helper()
	chk, err := chunker.New(chunker.StrategySemantic)
	require.NoError(t, err)
	if opts.Concurrency == 0 {
		opts.Concurrency = 2
	}
	return NewIndexUseCase(chk, filter.New(), embedder, f.store, f.store, f.locker, fs.NewWalker(nil, nil), f.cache, opts)
}

func (f *indexFixture) draftIDs(t *testing.T, chapterRef string) []string {
	t.Helper()
	chunks, err := f.store.Collection(store.DraftCollection(testCourse)).GetAllChunks(context.Background())
	require.NoError(t, err)
	var ids []string
	for _, ch := range chunks {
		if chapterRef == "" || ch.Metadata.ChapterRef == chapterRef {
			ids = append(ids, ch.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

func TestIndexCourse_IndexesChapters(t *testing.T) {
	f := newIndexFixture(t, map[string]string{"ch01.md": chapterVariables, "ch02.md": chapterLists})
	uc := f.useCase(t, embedding.NewMockEmbedder(32), IndexOptions{CleanupLegacy: true})
	ctx := context.Background()

	var seen []string
	res, err := uc.IndexCourse(ctx, testCourse, f.root, false, func(r ChapterResult, err error) {
		assert.NoError(t, err)
		seen = append(seen, r.ChapterRef)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Chapters)
	assert.Equal(t, 2, res.Indexed)
	assert.NotEmpty(t, res.JobID)
	assert.Equal(t, store.DraftCollection(testCourse), res.Collection)
	assert.ElementsMatch(t, []string{"ch01.md", "ch02.md"}, seen)

	chunks, err := f.store.Collection(res.Collection).GetChunksWithEmbeddings(ctx, f.draftIDs(t, ""))
	require.NoError(t, err)
	require.Len(t, chunks, res.Chunks)

	positions := map[string][]int{}
	for _, ch := range chunks {
		assert.Len(t, ch.Embedding, 32)
		assert.Equal(t, testCourse, ch.Metadata.CourseID)
		assert.Equal(t, domain.StrategyVersion, ch.Metadata.StrategyVersion)
		positions[ch.Metadata.ChapterRef] = append(positions[ch.Metadata.ChapterRef], ch.Metadata.Position)
	}
	for ref, ps := range positions {
		sort.Ints(ps)
		for i, p := range ps {
			assert.Equal(t, i, p, "positions of %s", ref)
		}
	}

	st, err := f.store.GetStatus(ctx, testCourse, "ch01.md")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIndexed, st.Status)
	assert.Equal(t, len(f.draftIDs(t, "ch01.md")), st.ChunkCount)
	assert.NotNil(t, st.IndexedAt)
	assert.NotEmpty(t, st.ContentHash)
}

func TestIndexCourse_SkipsUnchangedChapters(t *testing.T) {
	f := newIndexFixture(t, map[string]string{"ch01.md": chapterVariables, "ch02.md": chapterLists})
	uc := f.useCase(t, embedding.NewMockEmbedder(32), IndexOptions{CleanupLegacy: true})
	ctx := context.Background()

	first, err := uc.IndexCourse(ctx, testCourse, f.root, false, nil)
	require.NoError(t, err)
	before := f.draftIDs(t, "")

	second, err := uc.IndexCourse(ctx, testCourse, f.root, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Skipped)
	assert.Equal(t, 0, second.Indexed)
	assert.Equal(t, before, f.draftIDs(t, ""))

	writeChapter(t, f.root, "ch02.md", chapterLists+"\nTuples are the immutable counterpart of lists.\n")
	third, err := uc.IndexCourse(ctx, testCourse, f.root, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, third.Skipped)
	assert.Equal(t, 1, third.Indexed)

	forced, err := uc.IndexCourse(ctx, testCourse, f.root, true, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, forced.Indexed)

	size, err := f.store.Collection(store.DraftCollection(testCourse)).Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, forced.Chunks, size, "re-indexing replaces the previous chunks")
	assert.NotEqual(t, first.JobID, forced.JobID)
}

func TestIndexCourse_LockContention(t *testing.T) {
	f := newIndexFixture(t, map[string]string{"ch01.md": chapterVariables})
	uc := f.useCase(t, embedding.NewMockEmbedder(32), IndexOptions{})
	ctx := context.Background()

	token, err := f.locker.Acquire(ctx, IndexLockKey(testCourse), DefaultLockTTL)
	require.NoError(t, err)

	_, err = uc.IndexCourse(ctx, testCourse, f.root, false, nil)
	var lockErr *domain.LockContentionError
	require.True(t, errors.As(err, &lockErr))
	assert.Equal(t, domain.KindLock, domain.Classify(err))
	assert.Empty(t, f.draftIDs(t, ""), "a busy course is not touched")

	require.NoError(t, f.locker.Release(ctx, IndexLockKey(testCourse), token))
	_, err = uc.IndexCourse(ctx, testCourse, f.root, false, nil)
	require.NoError(t, err)

	// the run released its lock
	token, err = f.locker.Acquire(ctx, IndexLockKey(testCourse), DefaultLockTTL)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestIndexCourse_PartialFailure(t *testing.T) {
	f := newIndexFixture(t, map[string]string{"ch01.md": chapterVariables, "ch02.md": chapterLists})
	embedder := &failingEmbedder{
		Embedder: embedding.NewMockEmbedder(32),
		marker:   "mutable sequences",
		err:      &domain.EmbeddingError{Provider: "mock", StatusCode: 503, Err: errors.New("unavailable")},
	}
	uc := f.useCase(t, embedder, IndexOptions{})
	ctx := context.Background()

	res, err := uc.IndexCourse(ctx, testCourse, f.root, false, nil)
	var partial *domain.PartialSyncError
	require.True(t, errors.As(err, &partial), "got %v", err)
	assert.Contains(t, partial.Failures, "ch02.md")
	assert.Equal(t, 1, res.Indexed)
	assert.Equal(t, 1, res.Failed)

	st, err := f.store.GetStatus(ctx, testCourse, "ch02.md")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, st.Status)
	assert.Contains(t, st.Error, "unavailable")
	assert.NotEmpty(t, f.draftIDs(t, "ch01.md"))
	assert.Empty(t, f.draftIDs(t, "ch02.md"))
}

func TestIndexCourse_FatalErrorAborts(t *testing.T) {
	f := newIndexFixture(t, map[string]string{"ch01.md": chapterVariables, "ch02.md": chapterLists})
	embedder := &failingEmbedder{
		Embedder: embedding.NewMockEmbedder(32),
		marker:   "",
		err:      &domain.EmbeddingError{Provider: "mock", StatusCode: 401, Fatal: true, Err: errors.New("unauthorized")},
	}
	uc := f.useCase(t, embedder, IndexOptions{Concurrency: 1})

	_, err := uc.IndexCourse(context.Background(), testCourse, f.root, false, nil)
	require.Error(t, err)
	assert.True(t, domain.IsFatal(err))
	assert.Equal(t, domain.KindEmbedding, domain.Classify(err))
}

func TestIndexCourse_RemovesDeletedChapters(t *testing.T) {
	f := newIndexFixture(t, map[string]string{"ch01.md": chapterVariables, "ch02.md": chapterLists})
	uc := f.useCase(t, embedding.NewMockEmbedder(32), IndexOptions{})
	ctx := context.Background()

	_, err := uc.IndexCourse(ctx, testCourse, f.root, false, nil)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(f.root, "ch02.md")))

	res, err := uc.IndexCourse(ctx, testCourse, f.root, false, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ch02.md"}, res.RemovedChapters)
	assert.Empty(t, f.draftIDs(t, "ch02.md"))
	assert.NotEmpty(t, f.draftIDs(t, "ch01.md"))

	st, err := f.store.GetStatus(ctx, testCourse, "ch02.md")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNotIndexed, st.Status)
}

func TestIndexChapter_LegacyChunks(t *testing.T) {
	f := newIndexFixture(t, nil)
	f.store = memstore.NewMemoryStoreWithVersion("semantic-v4")
	embedder := embedding.NewMockEmbedder(32)
	ctx := context.Background()

	old := f.useCase(t, embedder, IndexOptions{Chunk: domain.ChunkOptions{StrategyVersion: domain.StrategyVersion}})
	_, err := old.IndexChapter(ctx, testCourse, "ch01.md", chapterVariables, false)
	require.NoError(t, err)
	_, err = old.IndexChapter(ctx, testCourse, "ch02.md", chapterLists, false)
	require.NoError(t, err)
	oldCh01 := f.draftIDs(t, "ch01.md")
	oldCh02 := f.draftIDs(t, "ch02.md")

	current := f.useCase(t, embedder, IndexOptions{Chunk: domain.ChunkOptions{StrategyVersion: "semantic-v4"}})
	res, err := current.IndexChapter(ctx, testCourse, "ch01.md", chapterVariables, false)
	require.NoError(t, err)
	assert.False(t, res.Skipped, "a new strategy version re-indexes unchanged content")
	assert.Zero(t, res.LegacyRemoved)

	col := f.store.Collection(store.DraftCollection(testCourse))
	legacy, err := col.GetLegacyChunkIDs(ctx, "ch01.md")
	require.NoError(t, err)
	sort.Strings(legacy)
	assert.Equal(t, oldCh01, legacy)

	n, err := col.DeleteLegacyChunks(ctx, "ch01.md")
	require.NoError(t, err)
	assert.Equal(t, len(oldCh01), n)
	assert.Equal(t, oldCh02, f.draftIDs(t, "ch02.md"), "other chapters are untouched")
	assert.Len(t, f.draftIDs(t, "ch01.md"), res.Chunks)
}

func TestIndexChapter_CleansLegacyChunks(t *testing.T) {
	f := newIndexFixture(t, nil)
	f.store = memstore.NewMemoryStoreWithVersion("semantic-v4")
	embedder := embedding.NewMockEmbedder(32)
	ctx := context.Background()

	old := f.useCase(t, embedder, IndexOptions{Chunk: domain.ChunkOptions{StrategyVersion: domain.StrategyVersion}})
	_, err := old.IndexChapter(ctx, testCourse, "ch01.md", chapterVariables, false)
	require.NoError(t, err)
	oldIDs := f.draftIDs(t, "ch01.md")

	current := f.useCase(t, embedder, IndexOptions{
		Chunk:         domain.ChunkOptions{StrategyVersion: "semantic-v4"},
		CleanupLegacy: true,
	})
	res, err := current.IndexChapter(ctx, testCourse, "ch01.md", chapterVariables, false)
	require.NoError(t, err)
	assert.Equal(t, len(oldIDs), res.LegacyRemoved)
	assert.Len(t, f.draftIDs(t, "ch01.md"), res.Chunks)

	st, err := f.store.GetStatus(ctx, testCourse, "ch01.md")
	require.NoError(t, err)
	assert.Equal(t, "semantic-v4", st.Strategy)
}

func TestIndexChapter_FiltersNoise(t *testing.T) {
	f := newIndexFixture(t, nil)
	uc := f.useCase(t, embedding.NewMockEmbedder(32), IndexOptions{})

	doc := "# Images\n\n![diagram](img/flow.png)\n\n## Text\n\nThe diagram shows how the interpreter resolves names.\n"
	res, err := uc.IndexChapter(context.Background(), testCourse, "ch03.md", doc, false)
	require.NoError(t, err)
	assert.Positive(t, res.Chunks)

	chunks, err := f.store.Collection(store.DraftCollection(testCourse)).GetAllChunks(context.Background())
	require.NoError(t, err)
	for _, ch := range chunks {
		assert.NotContains(t, ch.Text, "![diagram]")
	}
}
