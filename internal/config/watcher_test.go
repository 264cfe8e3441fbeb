package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8099\n"), 0o600))

	var mu sync.Mutex
	var got *Config
	w, err := NewWatcher(path, func(cfg *Config) {
		mu.Lock()
		got = cfg
		mu.Unlock()
	}, zap.NewNop())
	require.NoError(t, err)
	defer w.Stop()

	w.Start(context.Background())

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 7500\n"), 0o600))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil && got.Server.Port == 7500
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcherKeepsPreviousConfigOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8099\n"), 0o600))

	var mu sync.Mutex
	calls := 0
	w, err := NewWatcher(path, func(cfg *Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, zap.NewNop())
	require.NoError(t, err)
	defer w.Stop()

	w.Start(context.Background())

	// Invalid port fails validation; the callback must not fire.
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 99999\n"), 0o600))

	time.Sleep(300 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls)
}

func TestNewWatcherValidation(t *testing.T) {
	_, err := NewWatcher("", func(*Config) {}, nil)
	require.Error(t, err)

	_, err = NewWatcher("/tmp/config.yaml", nil, nil)
	require.Error(t, err)
}

func TestWatcherStopIsIdempotentSafe(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	w, err := NewWatcher(path, func(*Config) {}, nil)
	require.NoError(t, err)

	w.Start(context.Background())
	w.Stop()
}
