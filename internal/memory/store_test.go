package memory

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/durilabs/duri/internal/storage"
)

func newTestStore(t *testing.T, opts ...StoreOption) (*SQLStore, *sql.DB) {
	t.Helper()
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, zap.NewNop(), opts...)
	require.NoError(t, err)
	return store, db
}

func mustTrace(t *testing.T, kind Kind, title string) *Trace {
	t.Helper()
	trace, err := NewTrace(kind, title, "content for "+title, OutcomeSuccess, []string{"test"})
	require.NoError(t, err)
	return trace
}

func TestStorePutGetRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	trace := mustTrace(t, KindStrategy, "roundtrip")
	require.NoError(t, store.Put(ctx, trace))

	got, err := store.Get(ctx, trace.ID)
	require.NoError(t, err)
	assert.Equal(t, trace.ID, got.ID)
	assert.Equal(t, trace.Title, got.Title)
	assert.Equal(t, trace.Kind, got.Kind)
	assert.Equal(t, []string{"test"}, got.Tags)
	assert.Equal(t, trace.CreatedAt.UnixMilli(), got.CreatedAt.UnixMilli())
}

func TestStorePutRejectsInvalidTrace(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	trace := mustTrace(t, KindStrategy, "bad")
	trace.Alpha = 0
	require.ErrorIs(t, store.Put(ctx, trace), ErrInvalidEvidence)

	require.ErrorIs(t, store.Put(ctx, nil), ErrInvalidTrace)
}

func TestStoreGetNotFound(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "00000000-0000-0000-0000-000000000000")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStoreListFilters(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	strategy := mustTrace(t, KindStrategy, "s1")
	observation := mustTrace(t, KindObservation, "o1")
	archived := mustTrace(t, KindStrategy, "s2")
	archived.State = StateArchived

	for _, tr := range []*Trace{strategy, observation, archived} {
		require.NoError(t, store.Put(ctx, tr))
	}

	active, err := store.List(ctx, ListOptions{State: StateActive})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	strategies, err := store.List(ctx, ListOptions{Kind: KindStrategy, State: StateActive})
	require.NoError(t, err)
	require.Len(t, strategies, 1)
	assert.Equal(t, strategy.ID, strategies[0].ID)

	limited, err := store.List(ctx, ListOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStoreDelete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	trace := mustTrace(t, KindObservation, "gone")
	require.NoError(t, store.Put(ctx, trace))
	require.NoError(t, store.Delete(ctx, trace.ID))

	_, err := store.Get(ctx, trace.ID)
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, store.Delete(ctx, trace.ID), ErrNotFound)
}

func TestRecordSignalUpdatesEvidenceAtomically(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	trace := mustTrace(t, KindStrategy, "signal target")
	require.NoError(t, store.Put(ctx, trace))

	sig, err := NewSignal(trace.ID, SignalExplicit, true, "sess-1")
	require.NoError(t, err)

	updated, err := store.RecordSignal(ctx, sig)
	require.NoError(t, err)
	assert.Greater(t, updated.Confidence(), 0.5)

	// The persisted row must match the returned trace.
	got, err := store.Get(ctx, trace.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.Alpha, got.Alpha)
	assert.Equal(t, updated.Beta, got.Beta)

	var signalCount int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM signals WHERE trace_id = ?`, trace.ID).Scan(&signalCount))
	assert.Equal(t, 1, signalCount)
}

func TestRecordSignalUsageBumpsCounter(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	trace := mustTrace(t, KindStrategy, "used")
	require.NoError(t, store.Put(ctx, trace))

	sig, err := NewSignal(trace.ID, SignalUsage, true, "")
	require.NoError(t, err)

	updated, err := store.RecordSignal(ctx, sig)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.UsageCount)
}

func TestRecordSignalUnknownTrace(t *testing.T) {
	store, _ := newTestStore(t)

	sig, err := NewSignal("00000000-0000-0000-0000-000000000000", SignalExplicit, true, "")
	require.NoError(t, err)

	_, err = store.RecordSignal(context.Background(), sig)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestArchiveLinksSources(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	a := mustTrace(t, KindStrategy, "a")
	b := mustTrace(t, KindStrategy, "b")
	merged := mustTrace(t, KindReflection, "merged")
	for _, tr := range []*Trace{a, b, merged} {
		require.NoError(t, store.Put(ctx, tr))
	}

	require.NoError(t, store.Archive(ctx, []string{a.ID, b.ID}, merged.ID))

	got, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StateArchived, got.State)
	require.NotNil(t, got.ConsolidationID)
	assert.Equal(t, merged.ID, *got.ConsolidationID)
}

func TestArchiveUnknownTraceRollsBack(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	a := mustTrace(t, KindStrategy, "a")
	merged := mustTrace(t, KindReflection, "merged")
	require.NoError(t, store.Put(ctx, a))
	require.NoError(t, store.Put(ctx, merged))

	err := store.Archive(ctx, []string{a.ID, "00000000-0000-0000-0000-000000000000"}, merged.ID)
	require.ErrorIs(t, err, ErrNotFound)

	// The partial update must have been rolled back.
	got, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StateActive, got.State)
}

func TestEvictionKeepsStoreBounded(t *testing.T) {
	const max = 5
	store, _ := newTestStore(t, WithMaxTraces(max))
	ctx := context.Background()

	for i := 0; i < max*2; i++ {
		trace := mustTrace(t, KindObservation, fmt.Sprintf("trace-%d", i))
		require.NoError(t, store.Put(ctx, trace))

		count, err := store.Count(ctx)
		require.NoError(t, err)
		assert.LessOrEqual(t, count, max)
	}
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	trace := mustTrace(t, KindStrategy, "before close")
	require.NoError(t, store.Put(ctx, trace))
	require.NoError(t, store.Close())

	require.ErrorIs(t, store.Put(ctx, trace), ErrStoreClosed)
	_, err := store.Get(ctx, trace.ID)
	require.ErrorIs(t, err, ErrStoreClosed)
	_, err = store.List(ctx, ListOptions{})
	require.ErrorIs(t, err, ErrStoreClosed)
	_, err = store.Count(ctx)
	require.ErrorIs(t, err, ErrStoreClosed)
}

func TestEvictionPrefersArchived(t *testing.T) {
	store, _ := newTestStore(t, WithMaxTraces(2))
	ctx := context.Background()

	archived := mustTrace(t, KindObservation, "old archived")
	archived.State = StateArchived
	require.NoError(t, store.Put(ctx, archived))

	keepA := mustTrace(t, KindStrategy, "keep a")
	require.NoError(t, store.Put(ctx, keepA))

	keepB := mustTrace(t, KindStrategy, "keep b")
	require.NoError(t, store.Put(ctx, keepB))

	_, err := store.Get(ctx, archived.ID)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get(ctx, keepA.ID)
	require.NoError(t, err)
}
