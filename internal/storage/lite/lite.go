// Package lite is a single-file SQLite implementation of the storage
// contracts, for local development and docker-free tests. It mirrors the
// Postgres schema with TEXT timestamps and JSON-encoded nested values.
package lite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS assumption_sessions (
	id TEXT PRIMARY KEY,
	section_id TEXT NOT NULL,
	document_id TEXT NOT NULL,
	template_version TEXT NOT NULL,
	started_by TEXT NOT NULL,
	started_at TEXT NOT NULL,
	status TEXT NOT NULL,
	summary_markdown TEXT NOT NULL DEFAULT '',
	decision_snapshot_id TEXT,
	answered_count INTEGER NOT NULL DEFAULT 0,
	deferred_count INTEGER NOT NULL DEFAULT 0,
	escalated_count INTEGER NOT NULL DEFAULT 0,
	unresolved_override_count INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS assumption_prompts (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES assumption_sessions(id),
	position INTEGER NOT NULL,
	template_key TEXT NOT NULL,
	heading TEXT NOT NULL,
	body TEXT NOT NULL DEFAULT '',
	response_type TEXT NOT NULL,
	options TEXT,
	priority INTEGER NOT NULL,
	status TEXT NOT NULL,
	answer_value TEXT,
	answer_notes TEXT,
	override_justification TEXT,
	conflict_decision_id TEXT,
	conflict_resolved_at TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_prompts_session ON assumption_prompts(session_id, position);

CREATE TABLE IF NOT EXISTS draft_proposals (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES assumption_sessions(id),
	proposal_index INTEGER NOT NULL,
	source TEXT NOT NULL,
	content_markdown TEXT NOT NULL,
	rationale TEXT,
	ai_confidence REAL,
	created_at TEXT NOT NULL,
	UNIQUE(session_id, proposal_index)
);

CREATE TABLE IF NOT EXISTS sections (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	approved_version INTEGER NOT NULL,
	approved_content TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS section_drafts (
	id TEXT PRIMARY KEY,
	section_id TEXT NOT NULL UNIQUE REFERENCES sections(id),
	draft_version INTEGER NOT NULL,
	draft_base_version INTEGER NOT NULL,
	conflict_state TEXT NOT NULL,
	conflict_reason TEXT,
	content_markdown TEXT NOT NULL,
	formatting_annotations TEXT,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS draft_conflict_log (
	id TEXT PRIMARY KEY,
	section_id TEXT NOT NULL,
	draft_id TEXT NOT NULL,
	detected_at TEXT NOT NULL,
	detected_during TEXT NOT NULL,
	previous_approved_version INTEGER NOT NULL,
	latest_approved_version INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conflict_log_section ON draft_conflict_log(section_id, detected_at);
`

// Store is a SQLite-backed repository. A single connection is used because
// SQLite has one writer; this also makes :memory: databases safe to share
// across goroutines.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at path and ensures the schema exists.
// Use ":memory:" for an ephemeral store.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("lite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("lite: enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("lite: apply schema: %w", err)
	}

	logger.Info("lite: store opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("lite: parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func strPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
