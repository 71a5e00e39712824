package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inkwell-ai/inkwell/internal/model"
)

const sessionColumns = `id, section_id, document_id, template_version, started_by, started_at,
	status, summary_markdown, decision_snapshot_id,
	answered_count, deferred_count, escalated_count, unresolved_override_count, updated_at`

// CreateSessionWithPrompts inserts a session and its prompts in one
// transaction. Prompt position follows slice order so insertion order
// survives round-trips.
func (db *DB) CreateSessionWithPrompts(ctx context.Context, session model.Session, prompts []model.Prompt) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin create session: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO assumption_sessions (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		session.ID, session.SectionID, session.DocumentID, session.TemplateVersion,
		session.StartedBy, session.StartedAt, string(session.Status), session.SummaryMarkdown,
		session.DecisionSnapshotID,
		session.Counters.Answered, session.Counters.Deferred,
		session.Counters.Escalated, session.Counters.UnresolvedOverrides,
		session.UpdatedAt,
	); err != nil {
		return fmt.Errorf("storage: insert session: %w", err)
	}

	for i, p := range prompts {
		if err := insertPrompt(ctx, tx, p, i); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit create session: %w", err)
	}
	return nil
}

// FindSession retrieves a session by id.
func (db *DB) FindSession(ctx context.Context, id uuid.UUID) (model.Session, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM assumption_sessions WHERE id = $1`, id)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Session{}, ErrNotFound
		}
		return model.Session{}, fmt.Errorf("storage: get session: %w", err)
	}
	return session, nil
}

// GetSessionWithPrompts retrieves a session together with its prompts in
// insertion order.
func (db *DB) GetSessionWithPrompts(ctx context.Context, id uuid.UUID) (model.Session, []model.Prompt, error) {
	session, err := db.FindSession(ctx, id)
	if err != nil {
		return model.Session{}, nil, err
	}
	prompts, err := db.ListPrompts(ctx, id)
	if err != nil {
		return model.Session{}, nil, err
	}
	return session, prompts, nil
}

// UpdateSessionMetadata persists the session's derived state: status,
// summary, counters, and updated_at.
func (db *DB) UpdateSessionMetadata(ctx context.Context, session model.Session) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE assumption_sessions
		 SET status = $1, summary_markdown = $2, decision_snapshot_id = $3,
		     answered_count = $4, deferred_count = $5, escalated_count = $6,
		     unresolved_override_count = $7, updated_at = $8
		 WHERE id = $9`,
		string(session.Status), session.SummaryMarkdown, session.DecisionSnapshotID,
		session.Counters.Answered, session.Counters.Deferred,
		session.Counters.Escalated, session.Counters.UnresolvedOverrides,
		session.UpdatedAt, session.ID,
	)
	if err != nil {
		return fmt.Errorf("storage: update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePromptWithSession applies a prompt mutation and the session's
// recomputed counters and summary as one transaction. This is the atomic
// unit behind every respond call.
func (db *DB) UpdatePromptWithSession(ctx context.Context, prompt model.Prompt, session model.Session) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin update prompt: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := updatePrompt(ctx, tx, prompt); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE assumption_sessions
		 SET status = $1, summary_markdown = $2,
		     answered_count = $3, deferred_count = $4, escalated_count = $5,
		     unresolved_override_count = $6, updated_at = $7
		 WHERE id = $8`,
		string(session.Status), session.SummaryMarkdown,
		session.Counters.Answered, session.Counters.Deferred,
		session.Counters.Escalated, session.Counters.UnresolvedOverrides,
		session.UpdatedAt, session.ID,
	); err != nil {
		return fmt.Errorf("storage: update session counters: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit update prompt: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (model.Session, error) {
	var s model.Session
	var status string
	err := row.Scan(
		&s.ID, &s.SectionID, &s.DocumentID, &s.TemplateVersion, &s.StartedBy, &s.StartedAt,
		&status, &s.SummaryMarkdown, &s.DecisionSnapshotID,
		&s.Counters.Answered, &s.Counters.Deferred,
		&s.Counters.Escalated, &s.Counters.UnresolvedOverrides, &s.UpdatedAt,
	)
	if err != nil {
		return model.Session{}, err
	}
	s.Status = model.SessionStatus(status)
	return s, nil
}
