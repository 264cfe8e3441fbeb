package semantic

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/durilabs/duri/internal/storage"
)

func newTestEmbedder(t *testing.T, dim int) *TFIDFEmbedder {
	t.Helper()
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	e, err := NewTFIDFEmbedder(db, dim)
	require.NoError(t, err)
	return e
}

func TestNewTFIDFEmbedderValidation(t *testing.T) {
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewTFIDFEmbedder(nil, 128)
	require.Error(t, err)

	_, err = NewTFIDFEmbedder(db, 8)
	require.Error(t, err)
}

func TestEmbedIsDeterministic(t *testing.T) {
	e := newTestEmbedder(t, 128)
	ctx := context.Background()

	a, err := e.Embed(ctx, "graph search over weighted concepts")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "graph search over weighted concepts")
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestEmbedIsUnitNorm(t *testing.T) {
	e := newTestEmbedder(t, 256)

	vec, err := e.Embed(context.Background(), "retry with exponential backoff on transient errors")
	require.NoError(t, err)
	require.Len(t, vec, 256)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestEmbedRejectsEmptyText(t *testing.T) {
	e := newTestEmbedder(t, 128)

	_, err := e.Embed(context.Background(), "")
	require.ErrorIs(t, err, ErrEmptyText)

	// Stopwords only tokenizes to nothing.
	_, err = e.Embed(context.Background(), "the and of")
	require.ErrorIs(t, err, ErrEmptyText)
}

func TestCosineOfDocumentWithItself(t *testing.T) {
	e := newTestEmbedder(t, 256)
	ctx := context.Background()

	vec, err := e.Embed(ctx, "semantic similarity via hashed tfidf vectors")
	require.NoError(t, err)

	var dot float64
	for _, v := range vec {
		dot += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, dot, 1e-5)
}

func TestSimilarTextsScoreHigherThanUnrelated(t *testing.T) {
	e := newTestEmbedder(t, 512)
	ctx := context.Background()

	base, err := e.Embed(ctx, "database connection pool exhausted under load")
	require.NoError(t, err)
	similar, err := e.Embed(ctx, "connection pool exhausted when database is under heavy load")
	require.NoError(t, err)
	unrelated, err := e.Embed(ctx, "render the chart legend in the sidebar")
	require.NoError(t, err)

	cos := func(a, b []float32) float64 {
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		return dot
	}

	assert.Greater(t, cos(base, similar), cos(base, unrelated))
}

func TestObservePersistsCorpusStats(t *testing.T) {
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	e, err := NewTFIDFEmbedder(db, 128)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, e.Observe(ctx, "first document about graphs"))
	require.NoError(t, e.Observe(ctx, "second document about graphs"))
	assert.Equal(t, 2, e.DocCount())

	// A fresh embedder over the same database sees the same corpus.
	reloaded, err := NewTFIDFEmbedder(db, 128)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.DocCount())

	a, err := e.Embed(ctx, "document about graphs")
	require.NoError(t, err)
	b, err := reloaded.Embed(ctx, "document about graphs")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestTokenizeFiltersNoise(t *testing.T) {
	e := newTestEmbedder(t, 128)

	tokens := e.tokenize("The A* search, over 2 weighted-edges!")
	assert.Equal(t, []string{"search", "over", "weighted", "edges"}, tokens)
}
