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

// GetSection retrieves a section's approved-version view.
func (s *Store) GetSection(ctx context.Context, sectionID string) (model.Section, error) {
	var sec model.Section
	err := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, approved_version, approved_content FROM sections WHERE id = ?`,
		sectionID,
	).Scan(&sec.ID, &sec.DocumentID, &sec.ApprovedVersion, &sec.ApprovedContent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Section{}, storage.ErrNotFound
		}
		return model.Section{}, fmt.Errorf("lite: get section: %w", err)
	}
	return sec, nil
}

// UpsertSection creates or updates a section's approved content and version.
func (s *Store) UpsertSection(ctx context.Context, sec model.Section) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sections (id, document_id, approved_version, approved_content)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE
		 SET document_id = excluded.document_id,
		     approved_version = excluded.approved_version,
		     approved_content = excluded.approved_content`,
		sec.ID, sec.DocumentID, sec.ApprovedVersion, sec.ApprovedContent,
	); err != nil {
		return fmt.Errorf("lite: upsert section: %w", err)
	}
	return nil
}

// GetDraftBySection retrieves the working draft for a section.
func (s *Store) GetDraftBySection(ctx context.Context, sectionID string) (model.Draft, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, section_id, draft_version, draft_base_version, conflict_state,
		        conflict_reason, content_markdown, formatting_annotations, updated_at
		 FROM section_drafts WHERE section_id = ?`, sectionID)
	draft, err := scanDraft(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Draft{}, storage.ErrNotFound
		}
		return model.Draft{}, fmt.Errorf("lite: get draft: %w", err)
	}
	return draft, nil
}

// UpsertDraft creates or replaces a section's working draft.
func (s *Store) UpsertDraft(ctx context.Context, d model.Draft) error {
	annotations, err := json.Marshal(d.FormattingAnnotations)
	if err != nil {
		return fmt.Errorf("lite: marshal annotations: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO section_drafts (id, section_id, draft_version, draft_base_version,
		     conflict_state, conflict_reason, content_markdown, formatting_annotations, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (section_id) DO UPDATE
		 SET draft_version = excluded.draft_version,
		     draft_base_version = excluded.draft_base_version,
		     conflict_state = excluded.conflict_state,
		     conflict_reason = excluded.conflict_reason,
		     content_markdown = excluded.content_markdown,
		     formatting_annotations = excluded.formatting_annotations,
		     updated_at = excluded.updated_at`,
		d.ID.String(), d.SectionID, d.DraftVersion, d.DraftBaseVersion,
		string(d.ConflictState), d.ConflictReason, d.ContentMarkdown,
		string(annotations), fmtTime(d.UpdatedAt),
	); err != nil {
		return fmt.Errorf("lite: upsert draft: %w", err)
	}
	return nil
}

// UpdateDraftConflict updates only the draft's conflict bookkeeping.
func (s *Store) UpdateDraftConflict(ctx context.Context, d model.Draft) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE section_drafts
		 SET conflict_state = ?, conflict_reason = ?, updated_at = ?
		 WHERE id = ?`,
		string(d.ConflictState), d.ConflictReason, fmtTime(d.UpdatedAt), d.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("lite: update draft conflict: %w", err)
	}
	return notFoundOnZero(res)
}

// CreateConflictLogEntry appends one rebase-required detection to the audit
// log.
func (s *Store) CreateConflictLogEntry(ctx context.Context, e model.ConflictLogEntry) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO draft_conflict_log (id, section_id, draft_id, detected_at, detected_during,
		     previous_approved_version, latest_approved_version)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.SectionID, e.DraftID.String(), fmtTime(e.DetectedAt), e.DetectedDuring,
		e.PreviousApprovedVersion, e.LatestApprovedVersion,
	); err != nil {
		return fmt.Errorf("lite: insert conflict log entry: %w", err)
	}
	return nil
}

// ListConflictLog returns a section's conflict log, newest first.
func (s *Store) ListConflictLog(ctx context.Context, sectionID string) ([]model.ConflictLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, section_id, draft_id, detected_at, detected_during,
		        previous_approved_version, latest_approved_version
		 FROM draft_conflict_log WHERE section_id = ? ORDER BY detected_at DESC`, sectionID)
	if err != nil {
		return nil, fmt.Errorf("lite: list conflict log: %w", err)
	}
	defer rows.Close()

	var entries []model.ConflictLogEntry
	for rows.Next() {
		var e model.ConflictLogEntry
		var id, draftID, detectedAt string
		if err := rows.Scan(&id, &e.SectionID, &draftID, &detectedAt, &e.DetectedDuring,
			&e.PreviousApprovedVersion, &e.LatestApprovedVersion); err != nil {
			return nil, fmt.Errorf("lite: scan conflict log entry: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("lite: parse conflict log id: %w", err)
		}
		if e.DraftID, err = uuid.Parse(draftID); err != nil {
			return nil, fmt.Errorf("lite: parse conflict log draft id: %w", err)
		}
		if e.DetectedAt, err = parseTime(detectedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanDraft(row rowScanner) (model.Draft, error) {
	var d model.Draft
	var id, state, updatedAt string
	var reason, annotations sql.NullString
	err := row.Scan(
		&id, &d.SectionID, &d.DraftVersion, &d.DraftBaseVersion, &state,
		&reason, &d.ContentMarkdown, &annotations, &updatedAt,
	)
	if err != nil {
		return model.Draft{}, err
	}
	if d.ID, err = uuid.Parse(id); err != nil {
		return model.Draft{}, fmt.Errorf("parse draft id: %w", err)
	}
	d.ConflictState = model.ConflictState(state)
	d.ConflictReason = strPtr(reason)
	if annotations.Valid && annotations.String != "" {
		if err := json.Unmarshal([]byte(annotations.String), &d.FormattingAnnotations); err != nil {
			return model.Draft{}, fmt.Errorf("unmarshal annotations: %w", err)
		}
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.Draft{}, err
	}
	return d, nil
}
