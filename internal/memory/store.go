package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Store persists traces and their confidence signals.
type Store interface {
	// Put validates and upserts a trace, evicting old traces if the
	// store bound is exceeded.
	Put(ctx context.Context, trace *Trace) error

	// Get returns a trace by ID or ErrNotFound.
	Get(ctx context.Context, id string) (*Trace, error)

	// List returns traces matching the options, newest first.
	List(ctx context.Context, opts ListOptions) ([]*Trace, error)

	// Delete removes a trace and its signals. Returns ErrNotFound if
	// the trace does not exist.
	Delete(ctx context.Context, id string) error

	// RecordSignal persists a signal and folds it into the trace's
	// evidence atomically. Returns the updated trace.
	RecordSignal(ctx context.Context, sig *Signal) (*Trace, error)

	// Archive marks traces as archived with a consolidation back-link.
	Archive(ctx context.Context, ids []string, consolidationID string) error

	// Count returns the total number of stored traces.
	Count(ctx context.Context) (int, error)
}

// ListOptions filters List results.
type ListOptions struct {
	// State filters by lifecycle state. Empty means all states.
	State State

	// Kind filters by trace kind. Empty means all kinds.
	Kind Kind

	// Limit caps the result count. 0 means no limit.
	Limit int
}

// SQLStore is the SQLite-backed Store implementation.
type SQLStore struct {
	db        *sql.DB
	logger    *zap.Logger
	weights   SignalWeights
	maxTraces int
	closed    atomic.Bool
}

// StoreOption configures a SQLStore.
type StoreOption func(*SQLStore)

// WithMaxTraces bounds the store. Once exceeded, archived traces are
// evicted oldest-first, then active ones. 0 disables eviction.
func WithMaxTraces(n int) StoreOption {
	return func(s *SQLStore) { s.maxTraces = n }
}

// WithSignalWeights overrides the default signal weighting.
func WithSignalWeights(w SignalWeights) StoreOption {
	return func(s *SQLStore) { s.weights = w }
}

// NewStore creates a trace store on the given database.
func NewStore(db *sql.DB, logger *zap.Logger, opts ...StoreOption) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SQLStore{
		db:      db,
		logger:  logger,
		weights: DefaultSignalWeights(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxTraces < 0 {
		return nil, fmt.Errorf("max traces cannot be negative")
	}
	return s, nil
}

// Close marks the store closed. Further calls return ErrStoreClosed.
// The underlying database is owned by the caller and is not closed here.
func (s *SQLStore) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *SQLStore) checkOpen() error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return nil
}

// Put validates and upserts a trace.
func (s *SQLStore) Put(ctx context.Context, trace *Trace) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if trace == nil {
		return fmt.Errorf("%w: nil trace", ErrInvalidTrace)
	}
	if err := trace.Validate(); err != nil {
		return err
	}

	tags, err := encodeTags(trace.Tags)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO traces (id, kind, title, content, outcome, state, tags, alpha, beta, usage_count, consolidation_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			title = excluded.title,
			content = excluded.content,
			outcome = excluded.outcome,
			state = excluded.state,
			tags = excluded.tags,
			alpha = excluded.alpha,
			beta = excluded.beta,
			usage_count = excluded.usage_count,
			consolidation_id = excluded.consolidation_id,
			updated_at = excluded.updated_at`,
		trace.ID, string(trace.Kind), trace.Title, trace.Content,
		string(trace.Outcome), string(trace.State), tags,
		trace.Alpha, trace.Beta, trace.UsageCount,
		trace.ConsolidationID,
		trace.CreatedAt.UnixMilli(), trace.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert trace: %w", err)
	}

	if evicted, err := s.evictTx(ctx, tx); err != nil {
		return err
	} else if evicted > 0 {
		s.logger.Info("evicted traces over store bound",
			zap.Int("evicted", evicted),
			zap.Int("max_traces", s.maxTraces),
		)
	}

	return tx.Commit()
}

// evictTx removes traces beyond maxTraces inside the given tx.
// Archived traces go first, oldest-first by updated_at.
func (s *SQLStore) evictTx(ctx context.Context, tx *sql.Tx) (int, error) {
	if s.maxTraces == 0 {
		return 0, nil
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM traces`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count traces: %w", err)
	}
	excess := count - s.maxTraces
	if excess <= 0 {
		return 0, nil
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM traces WHERE id IN (
			SELECT id FROM traces
			ORDER BY CASE state WHEN 'archived' THEN 0 ELSE 1 END, updated_at ASC
			LIMIT ?
		)`, excess)
	if err != nil {
		return 0, fmt.Errorf("evict traces: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Get returns a trace by ID.
func (s *SQLStore) Get(ctx context.Context, id string) (*Trace, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrEmptyTraceID
	}
	row := s.db.QueryRowContext(ctx, selectTraceSQL+` WHERE id = ?`, id)
	return scanTrace(row)
}

const selectTraceSQL = `
	SELECT id, kind, title, content, outcome, state, tags, alpha, beta, usage_count, consolidation_id, created_at, updated_at
	FROM traces`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrace(row rowScanner) (*Trace, error) {
	var t Trace
	var kind, outcome, state, tags string
	var consolidationID sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(&t.ID, &kind, &t.Title, &t.Content, &outcome, &state,
		&tags, &t.Alpha, &t.Beta, &t.UsageCount, &consolidationID,
		&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan trace: %w", err)
	}

	t.Kind = Kind(kind)
	t.Outcome = Outcome(outcome)
	t.State = State(state)
	t.CreatedAt = time.UnixMilli(createdAt).UTC()
	t.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if consolidationID.Valid {
		t.ConsolidationID = &consolidationID.String
	}
	if t.Tags, err = decodeTags(tags); err != nil {
		return nil, err
	}
	return &t, nil
}

// List returns traces matching the options, newest first.
func (s *SQLStore) List(ctx context.Context, opts ListOptions) ([]*Trace, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	query := selectTraceSQL + ` WHERE 1=1`
	args := []any{}
	if opts.State != "" {
		query += ` AND state = ?`
		args = append(args, string(opts.State))
	}
	if opts.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(opts.Kind))
	}
	query += ` ORDER BY updated_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	var traces []*Trace
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			return nil, err
		}
		traces = append(traces, t)
	}
	return traces, rows.Err()
}

// Delete removes a trace and its signals.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if id == "" {
		return ErrEmptyTraceID
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM traces WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete trace: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordSignal persists the signal and updates the trace's evidence in
// one transaction.
func (s *SQLStore) RecordSignal(ctx context.Context, sig *Signal) (*Trace, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if sig == nil {
		return nil, fmt.Errorf("signal cannot be nil")
	}
	if sig.TraceID == "" {
		return nil, ErrEmptyTraceID
	}
	if !validSignalTypes[sig.Type] {
		return nil, ErrInvalidSignalType
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin signal: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	trace, err := scanTrace(tx.QueryRowContext(ctx, selectTraceSQL+` WHERE id = ?`, sig.TraceID))
	if err != nil {
		return nil, err
	}

	trace.Apply(sig, s.weights)
	if sig.Type == SignalUsage {
		trace.IncrementUsage()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO signals (id, trace_id, type, positive, session_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.TraceID, string(sig.Type), sig.Positive, sig.SessionID,
		sig.Timestamp.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert signal: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE traces SET alpha = ?, beta = ?, usage_count = ?, updated_at = ? WHERE id = ?`,
		trace.Alpha, trace.Beta, trace.UsageCount, trace.UpdatedAt.UnixMilli(), trace.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update evidence: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit signal: %w", err)
	}
	return trace, nil
}

// Archive marks traces as archived with a back-link to the trace they
// were consolidated into.
func (s *SQLStore) Archive(ctx context.Context, ids []string, consolidationID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if consolidationID == "" {
		return fmt.Errorf("consolidation ID cannot be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().UnixMilli()
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `
			UPDATE traces SET state = ?, consolidation_id = ?, updated_at = ? WHERE id = ?`,
			string(StateArchived), consolidationID, now, id,
		)
		if err != nil {
			return fmt.Errorf("archive trace %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("archive trace %s: %w", id, ErrNotFound)
		}
	}
	return tx.Commit()
}

// Count returns the total number of stored traces.
func (s *SQLStore) Count(ctx context.Context) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM traces`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count traces: %w", err)
	}
	return n, nil
}
