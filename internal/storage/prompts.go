package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inkwell-ai/inkwell/internal/model"
)

const promptColumns = `id, session_id, template_key, heading, body, response_type, options,
	priority, status, answer_value, answer_notes, override_justification,
	conflict_decision_id, conflict_resolved_at, created_at, updated_at`

func insertPrompt(ctx context.Context, tx pgx.Tx, p model.Prompt, position int) error {
	options, err := json.Marshal(p.Options)
	if err != nil {
		return fmt.Errorf("storage: marshal prompt options: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO assumption_prompts (id, session_id, position, template_key, heading, body,
		     response_type, options, priority, status, answer_value, answer_notes,
		     override_justification, conflict_decision_id, conflict_resolved_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		p.ID, p.SessionID, position, p.TemplateKey, p.Heading, p.Body,
		string(p.ResponseType), options, p.Priority, string(p.Status),
		p.AnswerValue, p.AnswerNotes, p.OverrideJustification,
		p.ConflictDecisionID, p.ConflictResolvedAt, p.CreatedAt, p.UpdatedAt,
	); err != nil {
		return fmt.Errorf("storage: insert prompt: %w", err)
	}
	return nil
}

func updatePrompt(ctx context.Context, tx pgx.Tx, p model.Prompt) error {
	tag, err := tx.Exec(ctx,
		`UPDATE assumption_prompts
		 SET status = $1, answer_value = $2, answer_notes = $3, override_justification = $4,
		     conflict_decision_id = $5, conflict_resolved_at = $6, updated_at = $7
		 WHERE id = $8`,
		string(p.Status), p.AnswerValue, p.AnswerNotes, p.OverrideJustification,
		p.ConflictDecisionID, p.ConflictResolvedAt, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("storage: update prompt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPromptWithSession retrieves a prompt and its owning session.
func (db *DB) GetPromptWithSession(ctx context.Context, promptID uuid.UUID) (model.Prompt, model.Session, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+promptColumns+` FROM assumption_prompts WHERE id = $1`, promptID)
	prompt, err := scanPrompt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Prompt{}, model.Session{}, ErrNotFound
		}
		return model.Prompt{}, model.Session{}, fmt.Errorf("storage: get prompt: %w", err)
	}

	session, err := db.FindSession(ctx, prompt.SessionID)
	if err != nil {
		return model.Prompt{}, model.Session{}, err
	}
	return prompt, session, nil
}

// ListPrompts returns a session's prompts in insertion order.
func (db *DB) ListPrompts(ctx context.Context, sessionID uuid.UUID) ([]model.Prompt, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+promptColumns+` FROM assumption_prompts
		 WHERE session_id = $1 ORDER BY position`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("storage: list prompts: %w", err)
	}
	defer rows.Close()

	var prompts []model.Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan prompt: %w", err)
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

func scanPrompt(row rowScanner) (model.Prompt, error) {
	var p model.Prompt
	var responseType, status string
	var options []byte
	err := row.Scan(
		&p.ID, &p.SessionID, &p.TemplateKey, &p.Heading, &p.Body, &responseType, &options,
		&p.Priority, &status, &p.AnswerValue, &p.AnswerNotes, &p.OverrideJustification,
		&p.ConflictDecisionID, &p.ConflictResolvedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return model.Prompt{}, err
	}
	p.ResponseType = model.ResponseType(responseType)
	p.Status = model.PromptStatus(status)
	if len(options) > 0 {
		if err := json.Unmarshal(options, &p.Options); err != nil {
			return model.Prompt{}, fmt.Errorf("unmarshal prompt options: %w", err)
		}
	}
	return p, nil
}
