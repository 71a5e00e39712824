package lite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/inkwell-ai/inkwell/internal/model"
	"github.com/inkwell-ai/inkwell/internal/storage"
)

// CreateSessionWithPrompts inserts a session and its prompts in one
// transaction, positions following slice order.
func (s *Store) CreateSessionWithPrompts(ctx context.Context, session model.Session, prompts []model.Prompt) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("lite: begin create session: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO assumption_sessions (id, section_id, document_id, template_version,
		     started_by, started_at, status, summary_markdown, decision_snapshot_id,
		     answered_count, deferred_count, escalated_count, unresolved_override_count, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID.String(), session.SectionID, session.DocumentID, session.TemplateVersion,
		session.StartedBy, fmtTime(session.StartedAt), string(session.Status),
		session.SummaryMarkdown, session.DecisionSnapshotID,
		session.Counters.Answered, session.Counters.Deferred,
		session.Counters.Escalated, session.Counters.UnresolvedOverrides,
		fmtTime(session.UpdatedAt),
	); err != nil {
		return fmt.Errorf("lite: insert session: %w", err)
	}

	for i, p := range prompts {
		if err := insertPrompt(ctx, tx, p, i); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertPrompt(ctx context.Context, tx *sql.Tx, p model.Prompt, position int) error {
	options, err := json.Marshal(p.Options)
	if err != nil {
		return fmt.Errorf("lite: marshal prompt options: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO assumption_prompts (id, session_id, position, template_key, heading, body,
		     response_type, options, priority, status, answer_value, answer_notes,
		     override_justification, conflict_decision_id, conflict_resolved_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.SessionID.String(), position, p.TemplateKey, p.Heading, p.Body,
		string(p.ResponseType), string(options), p.Priority, string(p.Status),
		p.AnswerValue, p.AnswerNotes, p.OverrideJustification,
		p.ConflictDecisionID, fmtTimePtr(p.ConflictResolvedAt),
		fmtTime(p.CreatedAt), fmtTime(p.UpdatedAt),
	); err != nil {
		return fmt.Errorf("lite: insert prompt: %w", err)
	}
	return nil
}

// FindSession retrieves a session by id.
func (s *Store) FindSession(ctx context.Context, id uuid.UUID) (model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, section_id, document_id, template_version, started_by, started_at,
		        status, summary_markdown, decision_snapshot_id,
		        answered_count, deferred_count, escalated_count, unresolved_override_count, updated_at
		 FROM assumption_sessions WHERE id = ?`, id.String())
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, storage.ErrNotFound
		}
		return model.Session{}, fmt.Errorf("lite: get session: %w", err)
	}
	return session, nil
}

// GetSessionWithPrompts retrieves a session together with its prompts in
// insertion order.
func (s *Store) GetSessionWithPrompts(ctx context.Context, id uuid.UUID) (model.Session, []model.Prompt, error) {
	session, err := s.FindSession(ctx, id)
	if err != nil {
		return model.Session{}, nil, err
	}
	prompts, err := s.ListPrompts(ctx, id)
	if err != nil {
		return model.Session{}, nil, err
	}
	return session, prompts, nil
}

// UpdateSessionMetadata persists the session's derived state.
func (s *Store) UpdateSessionMetadata(ctx context.Context, session model.Session) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE assumption_sessions
		 SET status = ?, summary_markdown = ?, decision_snapshot_id = ?,
		     answered_count = ?, deferred_count = ?, escalated_count = ?,
		     unresolved_override_count = ?, updated_at = ?
		 WHERE id = ?`,
		string(session.Status), session.SummaryMarkdown, session.DecisionSnapshotID,
		session.Counters.Answered, session.Counters.Deferred,
		session.Counters.Escalated, session.Counters.UnresolvedOverrides,
		fmtTime(session.UpdatedAt), session.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("lite: update session: %w", err)
	}
	return notFoundOnZero(res)
}

// GetPromptWithSession retrieves a prompt and its owning session.
func (s *Store) GetPromptWithSession(ctx context.Context, promptID uuid.UUID) (model.Prompt, model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		promptSelect+` WHERE id = ?`, promptID.String())
	prompt, err := scanPrompt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Prompt{}, model.Session{}, storage.ErrNotFound
		}
		return model.Prompt{}, model.Session{}, fmt.Errorf("lite: get prompt: %w", err)
	}
	session, err := s.FindSession(ctx, prompt.SessionID)
	if err != nil {
		return model.Prompt{}, model.Session{}, err
	}
	return prompt, session, nil
}

// ListPrompts returns a session's prompts in insertion order.
func (s *Store) ListPrompts(ctx context.Context, sessionID uuid.UUID) ([]model.Prompt, error) {
	rows, err := s.db.QueryContext(ctx,
		promptSelect+` WHERE session_id = ? ORDER BY position`, sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("lite: list prompts: %w", err)
	}
	defer rows.Close()

	var prompts []model.Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, fmt.Errorf("lite: scan prompt: %w", err)
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

// UpdatePromptWithSession applies a prompt mutation and the recomputed session
// state in one transaction.
func (s *Store) UpdatePromptWithSession(ctx context.Context, prompt model.Prompt, session model.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("lite: begin update prompt: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE assumption_prompts
		 SET status = ?, answer_value = ?, answer_notes = ?, override_justification = ?,
		     conflict_decision_id = ?, conflict_resolved_at = ?, updated_at = ?
		 WHERE id = ?`,
		string(prompt.Status), prompt.AnswerValue, prompt.AnswerNotes, prompt.OverrideJustification,
		prompt.ConflictDecisionID, fmtTimePtr(prompt.ConflictResolvedAt),
		fmtTime(prompt.UpdatedAt), prompt.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("lite: update prompt: %w", err)
	}
	if err := notFoundOnZero(res); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE assumption_sessions
		 SET status = ?, summary_markdown = ?,
		     answered_count = ?, deferred_count = ?, escalated_count = ?,
		     unresolved_override_count = ?, updated_at = ?
		 WHERE id = ?`,
		string(session.Status), session.SummaryMarkdown,
		session.Counters.Answered, session.Counters.Deferred,
		session.Counters.Escalated, session.Counters.UnresolvedOverrides,
		fmtTime(session.UpdatedAt), session.ID.String(),
	); err != nil {
		return fmt.Errorf("lite: update session counters: %w", err)
	}
	return tx.Commit()
}

// CreateProposal inserts an immutable draft proposal.
func (s *Store) CreateProposal(ctx context.Context, p model.Proposal) error {
	rationale, err := json.Marshal(p.Rationale)
	if err != nil {
		return fmt.Errorf("lite: marshal rationale: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO draft_proposals (id, session_id, proposal_index, source,
		     content_markdown, rationale, ai_confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.SessionID.String(), p.ProposalIndex, string(p.Source),
		p.ContentMarkdown, string(rationale), p.AIConfidence, fmtTime(p.CreatedAt),
	); err != nil {
		return fmt.Errorf("lite: insert proposal: %w", err)
	}
	return nil
}

// ListProposals returns a session's proposals ordered by proposal index.
func (s *Store) ListProposals(ctx context.Context, sessionID uuid.UUID) ([]model.Proposal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, proposal_index, source, content_markdown, rationale, ai_confidence, created_at
		 FROM draft_proposals WHERE session_id = ? ORDER BY proposal_index`, sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("lite: list proposals: %w", err)
	}
	defer rows.Close()

	var proposals []model.Proposal
	for rows.Next() {
		var p model.Proposal
		var id, sid, source, createdAt string
		var rationale sql.NullString
		if err := rows.Scan(&id, &sid, &p.ProposalIndex, &source,
			&p.ContentMarkdown, &rationale, &p.AIConfidence, &createdAt); err != nil {
			return nil, fmt.Errorf("lite: scan proposal: %w", err)
		}
		if p.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("lite: parse proposal id: %w", err)
		}
		if p.SessionID, err = uuid.Parse(sid); err != nil {
			return nil, fmt.Errorf("lite: parse proposal session id: %w", err)
		}
		p.Source = model.ProposalSource(source)
		if rationale.Valid && rationale.String != "" {
			if err := json.Unmarshal([]byte(rationale.String), &p.Rationale); err != nil {
				return nil, fmt.Errorf("lite: unmarshal rationale: %w", err)
			}
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

const promptSelect = `SELECT id, session_id, template_key, heading, body, response_type, options,
	priority, status, answer_value, answer_notes, override_justification,
	conflict_decision_id, conflict_resolved_at, created_at, updated_at
 FROM assumption_prompts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (model.Session, error) {
	var s model.Session
	var id, startedAt, status, updatedAt string
	var snapshotID sql.NullString
	err := row.Scan(
		&id, &s.SectionID, &s.DocumentID, &s.TemplateVersion, &s.StartedBy, &startedAt,
		&status, &s.SummaryMarkdown, &snapshotID,
		&s.Counters.Answered, &s.Counters.Deferred,
		&s.Counters.Escalated, &s.Counters.UnresolvedOverrides, &updatedAt,
	)
	if err != nil {
		return model.Session{}, err
	}
	if s.ID, err = uuid.Parse(id); err != nil {
		return model.Session{}, fmt.Errorf("parse session id: %w", err)
	}
	s.Status = model.SessionStatus(status)
	s.DecisionSnapshotID = strPtr(snapshotID)
	if s.StartedAt, err = parseTime(startedAt); err != nil {
		return model.Session{}, err
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.Session{}, err
	}
	return s, nil
}

func scanPrompt(row rowScanner) (model.Prompt, error) {
	var p model.Prompt
	var id, sid, responseType, status, createdAt, updatedAt string
	var options, answerValue, answerNotes, justification, decisionID, resolvedAt sql.NullString
	err := row.Scan(
		&id, &sid, &p.TemplateKey, &p.Heading, &p.Body, &responseType, &options,
		&p.Priority, &status, &answerValue, &answerNotes, &justification,
		&decisionID, &resolvedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return model.Prompt{}, err
	}
	if p.ID, err = uuid.Parse(id); err != nil {
		return model.Prompt{}, fmt.Errorf("parse prompt id: %w", err)
	}
	if p.SessionID, err = uuid.Parse(sid); err != nil {
		return model.Prompt{}, fmt.Errorf("parse prompt session id: %w", err)
	}
	p.ResponseType = model.ResponseType(responseType)
	p.Status = model.PromptStatus(status)
	p.AnswerValue = strPtr(answerValue)
	p.AnswerNotes = strPtr(answerNotes)
	p.OverrideJustification = strPtr(justification)
	p.ConflictDecisionID = strPtr(decisionID)
	if p.ConflictResolvedAt, err = parseTimePtr(resolvedAt); err != nil {
		return model.Prompt{}, err
	}
	if options.Valid && options.String != "" {
		if err := json.Unmarshal([]byte(options.String), &p.Options); err != nil {
			return model.Prompt{}, fmt.Errorf("unmarshal prompt options: %w", err)
		}
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Prompt{}, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.Prompt{}, err
	}
	return p, nil
}

func notFoundOnZero(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("lite: rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
