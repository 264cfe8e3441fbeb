package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// SaveCheckpoint snapshots a live session's working state. The session
// must exist and be active.
func (m *Manager) SaveCheckpoint(ctx context.Context, req *SaveRequest) (*Checkpoint, error) {
	ctx, span := tracer.Start(ctx, "Manager.SaveCheckpoint")
	defer span.End()

	if req == nil || req.Name == "" {
		return nil, ErrEmptyName
	}

	m.mu.Lock()
	s, ok := m.sessions[req.SessionID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, req.SessionID)
	}
	if s.State == StateEnded {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionEnded, req.SessionID)
	}
	s.LastActive = m.now().UTC()
	m.mu.Unlock()

	cp := &Checkpoint{
		ID:          uuid.New().String(),
		SessionID:   req.SessionID,
		Name:        req.Name,
		Description: req.Description,
		Summary:     req.Summary,
		Context:     req.Context,
		FullState:   req.FullState,
		TokenCount:  estimateTokens(req.FullState),
		AutoCreated: req.AutoCreated,
		CreatedAt:   m.now().UTC(),
	}

	_, err := m.db.ExecContext(ctx, `
		INSERT INTO checkpoints
			(id, session_id, name, description, summary, context, full_state, token_count, auto_created, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, cp.SessionID, cp.Name, cp.Description, cp.Summary, cp.Context,
		cp.FullState, cp.TokenCount, boolToInt(cp.AutoCreated), cp.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert checkpoint: %w", err)
	}

	span.SetAttributes(attribute.String("checkpoint_id", cp.ID))
	m.logger.Info("saved checkpoint",
		zap.String("checkpoint_id", cp.ID),
		zap.String("session_id", cp.SessionID),
		zap.Bool("auto_created", cp.AutoCreated),
	)
	return cp, nil
}

// GetCheckpoint loads a checkpoint by ID.
func (m *Manager) GetCheckpoint(ctx context.Context, id string) (*Checkpoint, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, session_id, name, description, summary, context, full_state, token_count, auto_created, created_at
		FROM checkpoints WHERE id = ?`, id)

	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return cp, nil
}

// ListCheckpoints returns a session's checkpoints, newest first.
func (m *Manager) ListCheckpoints(ctx context.Context, sessionID string, limit int) ([]*Checkpoint, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, session_id, name, description, summary, context, full_state, token_count, auto_created, created_at
		FROM checkpoints WHERE session_id = ? ORDER BY created_at DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// DeleteCheckpoint removes a checkpoint.
func (m *Manager) DeleteCheckpoint(ctx context.Context, id string) error {
	res, err := m.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrCheckpointNotFound, id)
	}

	m.logger.Info("deleted checkpoint", zap.String("checkpoint_id", id))
	return nil
}

// Resume restores checkpoint content at the requested level. It works for
// ended sessions too: checkpoints outlive the live-session map.
func (m *Manager) Resume(ctx context.Context, checkpointID string, level ResumeLevel) (*ResumeResponse, error) {
	ctx, span := tracer.Start(ctx, "Manager.Resume")
	defer span.End()
	span.SetAttributes(
		attribute.String("checkpoint_id", checkpointID),
		attribute.String("level", string(level)),
	)

	cp, err := m.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return nil, err
	}

	var content string
	var tokens int
	switch level {
	case ResumeSummary:
		content = cp.Summary
		tokens = estimateTokens(content)
	case ResumeContext:
		content = cp.Summary + "\n\n---\n\n" + cp.Context
		tokens = estimateTokens(content)
	case ResumeFull:
		content = cp.FullState
		tokens = cp.TokenCount
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidLevel, level)
	}

	m.logger.Info("resumed checkpoint",
		zap.String("checkpoint_id", cp.ID),
		zap.String("level", string(level)),
		zap.Int("token_count", tokens),
	)
	return &ResumeResponse{Checkpoint: cp, Content: content, TokenCount: tokens}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*Checkpoint, error) {
	var cp Checkpoint
	var auto int
	var createdAt int64
	err := row.Scan(&cp.ID, &cp.SessionID, &cp.Name, &cp.Description, &cp.Summary,
		&cp.Context, &cp.FullState, &cp.TokenCount, &auto, &createdAt)
	if err != nil {
		return nil, err
	}
	cp.AutoCreated = auto != 0
	cp.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &cp, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
