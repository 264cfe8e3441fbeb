package semantic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/durilabs/duri/internal/storage"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	embedder, err := NewTFIDFEmbedder(db, 512)
	require.NoError(t, err)

	idx, err := NewIndex(IndexConfig{Path: t.TempDir()}, embedder, zap.NewNop())
	require.NoError(t, err)
	return idx
}

func TestNewIndexValidation(t *testing.T) {
	_, err := NewIndex(IndexConfig{Path: t.TempDir()}, nil, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)

	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	embedder, err := NewTFIDFEmbedder(db, 128)
	require.NoError(t, err)

	_, err = NewIndex(IndexConfig{}, embedder, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewIndex(IndexConfig{Path: t.TempDir(), MinSimilarity: 1.5}, embedder, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestIndexAddAndSearch(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	docs := []Document{
		{ID: "t1", Content: "database connection pool exhausted under heavy load", Metadata: map[string]string{"kind": "antipattern"}},
		{ID: "t2", Content: "retry transient failures with exponential backoff", Metadata: map[string]string{"kind": "strategy"}},
		{ID: "t3", Content: "render chart legends in the web sidebar", Metadata: map[string]string{"kind": "observation"}},
	}
	require.NoError(t, idx.Add(ctx, docs))

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	results, err := idx.Search(ctx, "connection pool exhausted", 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "t1", results[0].ID)

	// Scores are sorted descending.
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestIndexSearchWithFilters(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, []Document{
		{ID: "t1", Content: "timeout tuning for the storage layer", Metadata: map[string]string{"kind": "strategy"}},
		{ID: "t2", Content: "timeout tuning that made things worse", Metadata: map[string]string{"kind": "antipattern"}},
	}))

	results, err := idx.SearchWithFilters(ctx, "timeout tuning", 5, map[string]string{"kind": "strategy"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "t1", results[0].ID)
}

func TestIndexSearchEmptyCollection(t *testing.T) {
	idx := newTestIndex(t)

	results, err := idx.Search(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIndexSearchValidation(t *testing.T) {
	idx := newTestIndex(t)

	_, err := idx.Search(context.Background(), "", 5)
	require.ErrorIs(t, err, ErrEmptyQuery)
}

func TestIndexAddValidation(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.ErrorIs(t, idx.Add(ctx, nil), ErrEmptyDocuments)

	err := idx.Add(ctx, []Document{{ID: "", Content: "no id"}})
	require.ErrorIs(t, err, ErrEmptyDocuments)
}

func TestIndexDelete(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, []Document{
		{ID: "t1", Content: "document scheduled for deletion"},
	}))
	require.NoError(t, idx.Delete(ctx, []string{"t1"}))

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Zero(t, count)

	// Deleting nothing is a no-op.
	require.NoError(t, idx.Delete(ctx, nil))
}

func TestIndexMinSimilarityFilter(t *testing.T) {
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	embedder, err := NewTFIDFEmbedder(db, 512)
	require.NoError(t, err)

	idx, err := NewIndex(IndexConfig{Path: t.TempDir(), MinSimilarity: 0.95}, embedder, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, []Document{
		{ID: "t1", Content: "completely unrelated text about gardening tulips"},
	}))

	results, err := idx.Search(ctx, "kernel scheduler preemption latency", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}
