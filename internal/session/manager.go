// Package session manages live working sessions and their checkpoints.
//
// Live sessions are an in-memory map bounded by MaxSessions; sessions idle
// past IdleTimeout are swept, and when the map is full the least recently
// active session is ended to make room. Checkpoints are persisted to SQLite
// and survive both session end and daemon restart.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("duri.session")

// Session errors.
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionEnded       = errors.New("session has ended")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrInvalidLevel       = errors.New("invalid resume level")
	ErrEmptyName          = errors.New("checkpoint name cannot be empty")
)

// ManagerConfig bounds the live-session map.
type ManagerConfig struct {
	// MaxSessions caps concurrently tracked sessions.
	MaxSessions int

	// IdleTimeout is how long a session may sit untouched before the
	// sweep ends it.
	IdleTimeout time.Duration
}

// Manager tracks live sessions and persists their checkpoints.
type Manager struct {
	db     *sql.DB
	logger *zap.Logger
	cfg    ManagerConfig

	// now is replaceable for tests.
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager backed by the given database.
func NewManager(db *sql.DB, cfg ManagerConfig, logger *zap.Logger) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if cfg.MaxSessions <= 0 {
		return nil, fmt.Errorf("max sessions must be > 0, got %d", cfg.MaxSessions)
	}
	if cfg.IdleTimeout <= 0 {
		return nil, fmt.Errorf("idle timeout must be > 0, got %s", cfg.IdleTimeout)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		db:       db,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}, nil
}

// Begin starts a new session. When the live map is full, the least
// recently active session is ended to make room.
func (m *Manager) Begin(ctx context.Context, label string) (*Session, error) {
	_, span := tracer.Start(ctx, "Manager.Begin")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepLocked()
	for len(m.sessions) >= m.cfg.MaxSessions {
		m.evictOldestLocked()
	}

	now := m.now().UTC()
	s := &Session{
		ID:         uuid.New().String(),
		Label:      label,
		State:      StateActive,
		StartedAt:  now,
		LastActive: now,
	}
	m.sessions[s.ID] = s

	span.SetAttributes(attribute.String("session_id", s.ID))
	m.logger.Info("session started", zap.String("session_id", s.ID), zap.String("label", label))

	copied := *s
	return &copied, nil
}

// Get returns a tracked session by ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	copied := *s
	return &copied, nil
}

// List returns all tracked sessions.
func (m *Manager) List() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		copied := *s
		out = append(out, &copied)
	}
	return out
}

// Touch marks a session as active now.
func (m *Manager) Touch(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if s.State == StateEnded {
		return fmt.Errorf("%w: %s", ErrSessionEnded, id)
	}
	s.LastActive = m.now().UTC()
	return nil
}

// End closes a session. The entry stays visible as ended until the next
// sweep; its checkpoints remain in the database.
func (m *Manager) End(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if s.State == StateEnded {
		return fmt.Errorf("%w: %s", ErrSessionEnded, id)
	}
	s.State = StateEnded
	s.LastActive = m.now().UTC()

	m.logger.Info("session ended", zap.String("session_id", id))
	return nil
}

// Sweep ends idle sessions and drops ended ones, returning how many
// entries were removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked()
}

func (m *Manager) sweepLocked() int {
	now := m.now().UTC()
	removed := 0
	for id, s := range m.sessions {
		if s.State == StateEnded || now.Sub(s.LastActive) > m.cfg.IdleTimeout {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Debug("swept sessions", zap.Int("removed", removed))
	}
	return removed
}

func (m *Manager) evictOldestLocked() {
	var oldest *Session
	for _, s := range m.sessions {
		if oldest == nil || s.LastActive.Before(oldest.LastActive) {
			oldest = s
		}
	}
	if oldest == nil {
		return
	}
	delete(m.sessions, oldest.ID)
	m.logger.Warn("evicted least recently active session",
		zap.String("session_id", oldest.ID),
		zap.Time("last_active", oldest.LastActive),
	)
}
