package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursekb/internal/domain"
)

func memChunkOf(id, chapter, text, version string, vec ...float32) domain.Chunk {
	return domain.Chunk{
		ID:        id,
		Text:      text,
		Metadata:  domain.Metadata{CourseID: "py", ChapterRef: chapter, StrategyVersion: version},
		Embedding: vec,
	}
}

func TestMemoryCollectionMatchesStoreContract(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	col := s.Collection("course_local_py")

	require.NoError(t, col.AddChunks(ctx, []domain.Chunk{
		memChunkOf("b", "ch1.md", "list comprehensions build lists", domain.StrategyVersion, 1, 0),
		memChunkOf("a", "ch1.md", "dict comprehensions build dicts", domain.StrategyVersion, 1, 0),
		memChunkOf("c", "ch2.md", "legacy chunk", "semantic-v1", 0, 1),
	}))

	results, err := col.Search(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Chunk.ID)
	assert.Equal(t, "b", results[1].Chunk.ID)
	assert.Nil(t, results[0].Chunk.Embedding)

	kw, err := col.KeywordSearch(ctx, []string{"lists"}, 5, nil)
	require.NoError(t, err)
	require.Len(t, kw, 1)
	assert.Equal(t, "b", kw[0].Chunk.ID)

	err = col.AddChunks(ctx, []domain.Chunk{memChunkOf("d", "ch1.md", "x", domain.StrategyVersion, 1, 2, 3)})
	assert.Equal(t, domain.KindDimension, domain.Classify(err))

	ids, err := col.GetLegacyChunkIDs(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids)

	removed, err := col.DeleteLegacyChunks(ctx, "ch2.md")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	n, err := col.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	names, err := s.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"course_local_py"}, names)

	require.NoError(t, col.DeleteCollection(ctx))
	names, err = s.ListCollections(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestMemoryStoreCopiesEmbeddings(t *testing.T) {
	ctx := context.Background()
	col := NewMemoryStore().Collection("course_local_py")

	vec := []float32{1, 2}
	require.NoError(t, col.AddChunks(ctx, []domain.Chunk{memChunkOf("a", "ch1.md", "text", domain.StrategyVersion, vec...)}))
	vec[0] = 9

	got, err := col.GetChunksWithEmbeddings(ctx, []string{"a"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []float32{1, 2}, got[0].Embedding)
}

func TestMemoryStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.PutStatus(ctx, domain.IndexStatus{CourseID: "py", ChapterRef: "b.md", Status: domain.StatusIndexed}))
	require.NoError(t, s.PutStatus(ctx, domain.IndexStatus{CourseID: "py", ChapterRef: "a.md", Status: domain.StatusFailed}))

	list, err := s.ListStatus(ctx, "py")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a.md", list[0].ChapterRef)

	st, err := s.GetStatus(ctx, "py", "c.md")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNotIndexed, st.Status)

	require.NoError(t, s.DeleteStatus(ctx, "py"))
	list, err = s.ListStatus(ctx, "py")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMemoryStatus_NestedCourseIDs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.PutStatus(ctx, domain.IndexStatus{CourseID: "a", ChapterRef: "ch1.md", Status: domain.StatusIndexed}))
	require.NoError(t, s.PutStatus(ctx, domain.IndexStatus{CourseID: "a/x", ChapterRef: "ch1.md", Status: domain.StatusPromoted}))

	list, err := s.ListStatus(ctx, "a")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.StatusIndexed, list[0].Status)

	require.NoError(t, s.DeleteStatus(ctx, "a"))
	list, err = s.ListStatus(ctx, "a/x")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
