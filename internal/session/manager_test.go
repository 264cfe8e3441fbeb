package session

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/durilabs/duri/internal/storage"
)

func newTestManager(t *testing.T, cfg ManagerConfig) (*Manager, *sql.DB) {
	t.Helper()
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	if cfg.MaxSessions == 0 {
		cfg.MaxSessions = 8
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = time.Hour
	}

	m, err := NewManager(db, cfg, zap.NewNop())
	require.NoError(t, err)
	return m, db
}

func TestNewManagerValidation(t *testing.T) {
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = NewManager(nil, ManagerConfig{MaxSessions: 1, IdleTimeout: time.Hour}, nil)
	require.Error(t, err)

	_, err = NewManager(db, ManagerConfig{MaxSessions: 0, IdleTimeout: time.Hour}, nil)
	require.Error(t, err)

	_, err = NewManager(db, ManagerConfig{MaxSessions: 1, IdleTimeout: 0}, nil)
	require.Error(t, err)
}

func TestSessionLifecycle(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{})
	ctx := context.Background()

	s, err := m.Begin(ctx, "refactor")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, StateActive, s.State)
	assert.Equal(t, "refactor", s.Label)

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)

	require.NoError(t, m.Touch(s.ID))
	require.NoError(t, m.End(s.ID))

	got, err = m.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateEnded, got.State)

	require.ErrorIs(t, m.Touch(s.ID), ErrSessionEnded)
	require.ErrorIs(t, m.End(s.ID), ErrSessionEnded)

	require.ErrorIs(t, m.Touch("missing"), ErrSessionNotFound)
	require.ErrorIs(t, m.End("missing"), ErrSessionNotFound)
	_, err = m.Get("missing")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestBeginEvictsLeastRecentlyActive(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{MaxSessions: 2})
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	m.now = func() time.Time { return clock }

	first, err := m.Begin(ctx, "first")
	require.NoError(t, err)

	clock = clock.Add(time.Minute)
	second, err := m.Begin(ctx, "second")
	require.NoError(t, err)

	clock = clock.Add(time.Minute)
	third, err := m.Begin(ctx, "third")
	require.NoError(t, err)

	_, err = m.Get(first.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = m.Get(second.ID)
	require.NoError(t, err)
	_, err = m.Get(third.ID)
	require.NoError(t, err)

	assert.Len(t, m.List(), 2)
}

func TestSweepRemovesIdleAndEnded(t *testing.T) {
	m, _ := newTestManager(t, ManagerConfig{IdleTimeout: time.Minute})
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	m.now = func() time.Time { return clock }

	idle, err := m.Begin(ctx, "idle")
	require.NoError(t, err)
	ended, err := m.Begin(ctx, "ended")
	require.NoError(t, err)

	clock = clock.Add(30 * time.Second)
	fresh, err := m.Begin(ctx, "fresh")
	require.NoError(t, err)
	require.NoError(t, m.End(ended.ID))

	clock = clock.Add(45 * time.Second)
	removed := m.Sweep()
	assert.Equal(t, 2, removed)

	_, err = m.Get(idle.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Get(ended.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Get(fresh.ID)
	require.NoError(t, err)
}
