package consolidate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/durilabs/duri/internal/memory"
)

func TestSchedulerLifecycle(t *testing.T) {
	d, _, _ := newTestDistiller(t)

	s, err := NewScheduler(d, zap.NewNop(),
		WithInterval(5*time.Millisecond),
		WithOptions(Options{SimilarityThreshold: 0.85}),
	)
	require.NoError(t, err)

	require.NoError(t, s.Start())
	require.Error(t, s.Start(), "second start must fail while running")

	// Let a few ticks fire against the empty store.
	time.Sleep(25 * time.Millisecond)

	s.Stop()
	s.Stop() // idempotent

	// Restartable after stop.
	require.NoError(t, s.Start())
	s.Stop()
}

func TestSchedulerStopTerminatesRuns(t *testing.T) {
	d, store, index := newTestDistiller(t)
	ctx := context.Background()

	addTrace(t, store, index, "Duplicate entry", "duplicate content for the scheduler to merge")
	addTrace(t, store, index, "Duplicate entry", "duplicate content for the scheduler to merge")

	s, err := NewScheduler(d, zap.NewNop(),
		WithInterval(5*time.Millisecond),
		WithOptions(Options{SimilarityThreshold: 0.5}),
	)
	require.NoError(t, err)

	require.NoError(t, s.Start())
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	// The duplicates were consolidated by a scheduled run.
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	merged, err := store.List(ctx, memory.ListOptions{State: memory.StateActive})
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, "Duplicate entry", merged[0].Title)
}

func TestSchedulerSetOptions(t *testing.T) {
	d, _, _ := newTestDistiller(t)

	s, err := NewScheduler(d, zap.NewNop(), WithOptions(Options{SimilarityThreshold: 0.85}))
	require.NoError(t, err)

	require.NoError(t, s.SetOptions(Options{SimilarityThreshold: 0.6, MaxClusters: 4}))
	assert.Equal(t, 0.6, s.options().SimilarityThreshold)
	assert.Equal(t, 4, s.options().MaxClusters)

	require.ErrorIs(t, s.SetOptions(Options{SimilarityThreshold: 1.5}), ErrInvalidThreshold)
	assert.Equal(t, 0.6, s.options().SimilarityThreshold, "rejected options must not apply")
}

func TestNewSchedulerValidation(t *testing.T) {
	d, _, _ := newTestDistiller(t)

	_, err := NewScheduler(nil, zap.NewNop())
	require.Error(t, err)

	_, err = NewScheduler(d, zap.NewNop(), WithInterval(-time.Second))
	require.Error(t, err)
}
