package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/inkwell-ai/inkwell/internal/model"
)

// GetSection retrieves a section's approved-version view.
func (db *DB) GetSection(ctx context.Context, sectionID string) (model.Section, error) {
	var s model.Section
	err := db.pool.QueryRow(ctx,
		`SELECT id, document_id, approved_version, approved_content FROM sections WHERE id = $1`,
		sectionID,
	).Scan(&s.ID, &s.DocumentID, &s.ApprovedVersion, &s.ApprovedContent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Section{}, ErrNotFound
		}
		return model.Section{}, fmt.Errorf("storage: get section: %w", err)
	}
	return s, nil
}

// UpsertSection creates or updates a section's approved content and version.
func (db *DB) UpsertSection(ctx context.Context, s model.Section) error {
	if _, err := db.pool.Exec(ctx,
		`INSERT INTO sections (id, document_id, approved_version, approved_content)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET document_id = $2, approved_version = $3, approved_content = $4`,
		s.ID, s.DocumentID, s.ApprovedVersion, s.ApprovedContent,
	); err != nil {
		return fmt.Errorf("storage: upsert section: %w", err)
	}
	return nil
}

// GetDraftBySection retrieves the working draft for a section.
func (db *DB) GetDraftBySection(ctx context.Context, sectionID string) (model.Draft, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT id, section_id, draft_version, draft_base_version, conflict_state,
		        conflict_reason, content_markdown, formatting_annotations, updated_at
		 FROM section_drafts WHERE section_id = $1`, sectionID)
	draft, err := scanDraft(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Draft{}, ErrNotFound
		}
		return model.Draft{}, fmt.Errorf("storage: get draft: %w", err)
	}
	return draft, nil
}

// UpsertDraft creates or replaces a section's working draft.
func (db *DB) UpsertDraft(ctx context.Context, d model.Draft) error {
	annotations, err := json.Marshal(d.FormattingAnnotations)
	if err != nil {
		return fmt.Errorf("storage: marshal annotations: %w", err)
	}
	if _, err := db.pool.Exec(ctx,
		`INSERT INTO section_drafts (id, section_id, draft_version, draft_base_version,
		     conflict_state, conflict_reason, content_markdown, formatting_annotations, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (section_id) DO UPDATE
		 SET draft_version = $3, draft_base_version = $4, conflict_state = $5,
		     conflict_reason = $6, content_markdown = $7, formatting_annotations = $8, updated_at = $9`,
		d.ID, d.SectionID, d.DraftVersion, d.DraftBaseVersion,
		string(d.ConflictState), d.ConflictReason, d.ContentMarkdown, annotations, d.UpdatedAt,
	); err != nil {
		return fmt.Errorf("storage: upsert draft: %w", err)
	}
	return nil
}

// UpdateDraftConflict updates only the draft's conflict bookkeeping.
func (db *DB) UpdateDraftConflict(ctx context.Context, d model.Draft) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE section_drafts
		 SET conflict_state = $1, conflict_reason = $2, updated_at = $3
		 WHERE id = $4`,
		string(d.ConflictState), d.ConflictReason, d.UpdatedAt, d.ID,
	)
	if err != nil {
		return fmt.Errorf("storage: update draft conflict: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateConflictLogEntry appends one rebase-required detection to the audit
// log.
func (db *DB) CreateConflictLogEntry(ctx context.Context, e model.ConflictLogEntry) error {
	if _, err := db.pool.Exec(ctx,
		`INSERT INTO draft_conflict_log (id, section_id, draft_id, detected_at, detected_during,
		     previous_approved_version, latest_approved_version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.SectionID, e.DraftID, e.DetectedAt, e.DetectedDuring,
		e.PreviousApprovedVersion, e.LatestApprovedVersion,
	); err != nil {
		return fmt.Errorf("storage: insert conflict log entry: %w", err)
	}
	return nil
}

// ListConflictLog returns a section's conflict log, newest first.
func (db *DB) ListConflictLog(ctx context.Context, sectionID string) ([]model.ConflictLogEntry, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, section_id, draft_id, detected_at, detected_during,
		        previous_approved_version, latest_approved_version
		 FROM draft_conflict_log WHERE section_id = $1 ORDER BY detected_at DESC`, sectionID)
	if err != nil {
		return nil, fmt.Errorf("storage: list conflict log: %w", err)
	}
	defer rows.Close()

	var entries []model.ConflictLogEntry
	for rows.Next() {
		var e model.ConflictLogEntry
		if err := rows.Scan(
			&e.ID, &e.SectionID, &e.DraftID, &e.DetectedAt, &e.DetectedDuring,
			&e.PreviousApprovedVersion, &e.LatestApprovedVersion,
		); err != nil {
			return nil, fmt.Errorf("storage: scan conflict log entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanDraft(row rowScanner) (model.Draft, error) {
	var d model.Draft
	var state string
	var annotations []byte
	err := row.Scan(
		&d.ID, &d.SectionID, &d.DraftVersion, &d.DraftBaseVersion, &state,
		&d.ConflictReason, &d.ContentMarkdown, &annotations, &d.UpdatedAt,
	)
	if err != nil {
		return model.Draft{}, err
	}
	d.ConflictState = model.ConflictState(state)
	if len(annotations) > 0 {
		if err := json.Unmarshal(annotations, &d.FormattingAnnotations); err != nil {
			return model.Draft{}, fmt.Errorf("unmarshal annotations: %w", err)
		}
	}
	return d, nil
}
