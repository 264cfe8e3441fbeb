package consolidate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/durilabs/duri/internal/memory"
	"github.com/durilabs/duri/internal/semantic"
	"github.com/durilabs/duri/internal/storage"
)

func newTestDistiller(t *testing.T) (*Distiller, memory.Store, *semantic.Index) {
	t.Helper()

	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := memory.NewStore(db, zap.NewNop())
	require.NoError(t, err)

	embedder, err := semantic.NewTFIDFEmbedder(db, 256)
	require.NoError(t, err)

	index, err := semantic.NewIndex(semantic.IndexConfig{Path: t.TempDir()}, embedder, zap.NewNop())
	require.NoError(t, err)

	d, err := NewDistiller(store, index, embedder, zap.NewNop())
	require.NoError(t, err)
	return d, store, index
}

func addTrace(t *testing.T, store memory.Store, index *semantic.Index, title, content string) *memory.Trace {
	t.Helper()
	ctx := context.Background()

	trace, err := memory.NewTrace(memory.KindObservation, title, content, memory.OutcomeSuccess, nil)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, trace))
	require.NoError(t, index.Add(ctx, []semantic.Document{{
		ID:      trace.ID,
		Content: Text(trace),
		Metadata: map[string]string{
			"kind":    string(trace.Kind),
			"outcome": string(trace.Outcome),
		},
	}}))
	return trace
}

func TestRunMergesSimilarTraces(t *testing.T) {
	d, store, index := newTestDistiller(t)
	ctx := context.Background()

	first := addTrace(t, store, index,
		"Retry transient upstream failures",
		"retry transient upstream failures using exponential backoff before surfacing errors")
	second := addTrace(t, store, index,
		"Retry transient upstream failures",
		"retry transient upstream failures using exponential backoff before giving up")
	other := addTrace(t, store, index,
		"Pin dependency versions",
		"pin dependency versions so builds stay reproducible across machines")

	result, err := d.Run(ctx, Options{SimilarityThreshold: 0.5})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 1, result.Clusters)
	require.Len(t, result.Created, 1)
	assert.ElementsMatch(t, []string{first.ID, second.ID}, result.Archived)

	merged, err := store.Get(ctx, result.Created[0])
	require.NoError(t, err)
	assert.Equal(t, memory.KindReflection, merged.Kind)
	assert.Equal(t, "Retry transient upstream failures", merged.Title)
	assert.Contains(t, merged.Content, first.ID)
	assert.Contains(t, merged.Content, second.ID)
	// Two uniform priors pool into one.
	assert.InDelta(t, 1.0, merged.Alpha, 1e-9)
	assert.InDelta(t, 1.0, merged.Beta, 1e-9)

	for _, id := range []string{first.ID, second.ID} {
		src, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, memory.StateArchived, src.State)
		require.NotNil(t, src.ConsolidationID)
		assert.Equal(t, merged.ID, *src.ConsolidationID)
	}

	untouched, err := store.Get(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, memory.StateActive, untouched.State)

	// Index now holds the merged trace and the untouched one.
	count, err := index.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

// rejectTitleStore fails writes whose title carries the given prefix,
// simulating a storage error for one cluster's merged trace.
type rejectTitleStore struct {
	memory.Store
	prefix string
}

func (s *rejectTitleStore) Put(ctx context.Context, tr *memory.Trace) error {
	if strings.HasPrefix(tr.Title, s.prefix) {
		return errors.New("simulated storage failure")
	}
	return s.Store.Put(ctx, tr)
}

func TestRunContinuesPastFailedCluster(t *testing.T) {
	d, store, index := newTestDistiller(t)
	ctx := context.Background()

	alphaOne := addTrace(t, store, index, "Alpha cache stampede", "cache stampede when many requests miss simultaneously")
	alphaTwo := addTrace(t, store, index, "Alpha cache stampede", "cache stampede when many requests miss simultaneously")
	retryOne := addTrace(t, store, index, "Retry with backoff", "retry transient failures with exponential backoff")
	retryTwo := addTrace(t, store, index, "Retry with backoff", "retry transient failures with exponential backoff")

	flaky, err := NewDistiller(&rejectTitleStore{Store: store, prefix: "Alpha"}, index, d.embedder, zap.NewNop())
	require.NoError(t, err)

	result, err := flaky.Run(ctx, Options{SimilarityThreshold: 0.5})
	require.NoError(t, err, "one failed cluster must not abort the pass")

	assert.Equal(t, 2, result.Clusters)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Created, 1)
	assert.ElementsMatch(t, []string{retryOne.ID, retryTwo.ID}, result.Archived)

	merged, err := store.Get(ctx, result.Created[0])
	require.NoError(t, err)
	assert.Equal(t, "Retry with backoff", merged.Title)

	// The failed cluster's sources stay active for the next run.
	for _, id := range []string{alphaOne.ID, alphaTwo.ID} {
		src, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, memory.StateActive, src.State)
		assert.Nil(t, src.ConsolidationID)
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	d, store, index := newTestDistiller(t)
	ctx := context.Background()

	addTrace(t, store, index, "Same title here", "identical content about connection pooling limits")
	addTrace(t, store, index, "Same title here", "identical content about connection pooling limits")

	result, err := d.Run(ctx, Options{SimilarityThreshold: 0.5, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Clusters)
	assert.Empty(t, result.Created)
	assert.Empty(t, result.Archived)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRunTooFewTraces(t *testing.T) {
	d, store, index := newTestDistiller(t)

	addTrace(t, store, index, "Lonely trace", "nothing else to cluster against")

	result, err := d.Run(context.Background(), Options{SimilarityThreshold: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Zero(t, result.Clusters)
}

func TestRunThresholdValidation(t *testing.T) {
	d, _, _ := newTestDistiller(t)

	for _, threshold := range []float64{0, -0.5, 1.5} {
		_, err := d.Run(context.Background(), Options{SimilarityThreshold: threshold})
		require.ErrorIs(t, err, ErrInvalidThreshold)
	}
}

func TestRunMaxClustersCap(t *testing.T) {
	d, store, index := newTestDistiller(t)

	addTrace(t, store, index, "Alpha pair", "alpha cluster content about caching layers")
	addTrace(t, store, index, "Alpha pair", "alpha cluster content about caching layers")
	addTrace(t, store, index, "Beta pair", "beta cluster content regarding queue draining")
	addTrace(t, store, index, "Beta pair", "beta cluster content regarding queue draining")

	result, err := d.Run(context.Background(), Options{SimilarityThreshold: 0.5, MaxClusters: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Clusters)
}

func TestSynthesize(t *testing.T) {
	a, err := memory.NewTrace(memory.KindStrategy, "Batch writes on hot paths", "batch them", memory.OutcomeSuccess, []string{"db"})
	require.NoError(t, err)
	a.Alpha, a.Beta = 5, 2

	b, err := memory.NewTrace(memory.KindStrategy, "Batch writes under load", "batch more", memory.OutcomeFailure, []string{"perf", "db"})
	require.NoError(t, err)
	b.Alpha, b.Beta = 2, 3

	merged, err := synthesize([]*memory.Trace{a, b})
	require.NoError(t, err)

	assert.Equal(t, "Batch writes", merged.Title)
	assert.Equal(t, memory.KindReflection, merged.Kind)
	assert.Equal(t, memory.OutcomeSuccess, merged.Outcome)
	assert.Equal(t, []string{"db", "perf"}, merged.Tags)
	assert.InDelta(t, 6.0, merged.Alpha, 1e-9)
	assert.InDelta(t, 4.0, merged.Beta, 1e-9)
}

func TestCommonWordPrefix(t *testing.T) {
	tests := []struct {
		name   string
		titles []string
		want   string
	}{
		{"identical", []string{"Use prepared statements", "Use prepared statements"}, "Use prepared statements"},
		{"partial", []string{"Use prepared statements", "Use prepared queries"}, "Use prepared"},
		{"case insensitive", []string{"Use Prepared", "use prepared statements"}, "Use Prepared"},
		{"disjoint", []string{"Cache results", "Use prepared"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, commonWordPrefix(tt.titles))
		})
	}
}
