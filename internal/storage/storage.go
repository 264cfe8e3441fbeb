// Package storage opens the shared SQLite database backing duri's stores.
//
// A single database file holds traces, confidence signals, the concept
// graph, and session checkpoints. WAL mode keeps concurrent readers from
// blocking the writer; database/sql serializes access per connection.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Open opens (or creates) the SQLite database at path and applies the
// schema migrations.
func Open(path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o700); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

// OpenInMemory opens an in-memory database for tests.
func OpenInMemory() (*sql.DB, error) {
	db, err := sql.Open("sqlite", "file::memory:?_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("open in-memory db: %w", err)
	}
	// A second connection would see a different empty database.
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// migrations are applied in order; the schema_version table records the
// last applied index.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS traces (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		outcome TEXT NOT NULL,
		state TEXT NOT NULL,
		tags TEXT NOT NULL DEFAULT '[]',
		alpha REAL NOT NULL,
		beta REAL NOT NULL,
		usage_count INTEGER NOT NULL DEFAULT 0,
		consolidation_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_traces_state ON traces(state);
	CREATE INDEX IF NOT EXISTS idx_traces_kind ON traces(kind);
	CREATE INDEX IF NOT EXISTS idx_traces_updated ON traces(updated_at);`,

	`CREATE TABLE IF NOT EXISTS signals (
		id TEXT PRIMARY KEY,
		trace_id TEXT NOT NULL REFERENCES traces(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		positive INTEGER NOT NULL,
		session_id TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_signals_trace ON signals(trace_id, created_at);`,

	`CREATE TABLE IF NOT EXISTS concepts (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		activation_cost REAL NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS relations (
		from_id TEXT NOT NULL REFERENCES concepts(id) ON DELETE CASCADE,
		to_id TEXT NOT NULL REFERENCES concepts(id) ON DELETE CASCADE,
		label TEXT NOT NULL,
		weight REAL NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (from_id, to_id)
	);
	CREATE INDEX IF NOT EXISTS idx_relations_from ON relations(from_id);`,

	`CREATE TABLE IF NOT EXISTS checkpoints (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		context TEXT NOT NULL DEFAULT '',
		full_state TEXT NOT NULL DEFAULT '',
		token_count INTEGER NOT NULL DEFAULT 0,
		auto_created INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id, created_at);`,

	`CREATE TABLE IF NOT EXISTS doc_freq (
		term_bucket INTEGER PRIMARY KEY,
		count INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS corpus_stats (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);`,
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var version int
	err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}
	return nil
}
