package model

import (
	"time"

	"github.com/google/uuid"
)

// ConflictState enumerates the rebase states of a section draft.
type ConflictState string

const (
	DraftClean          ConflictState = "clean"
	DraftRebaseRequired ConflictState = "rebase_required"
	DraftRebased        ConflictState = "rebased"
	DraftBlocked        ConflictState = "blocked"
)

// FormattingAnnotation marks a formatted span inside draft markdown. Carried
// over unchanged when a draft is rebased onto newer approved content.
type FormattingAnnotation struct {
	Kind  string `json:"kind"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Section is the approved-version view of a document section consulted during
// draft conflict checks.
type Section struct {
	ID              string `json:"id"`
	DocumentID      string `json:"document_id"`
	ApprovedVersion int    `json:"approved_version"`
	ApprovedContent string `json:"approved_content"`
}

// Draft is an author's working copy of a section. DraftVersion must strictly
// increase on every update; DraftBaseVersion is the approved version the draft
// was forked from.
type Draft struct {
	ID                    uuid.UUID              `json:"id"`
	SectionID             string                 `json:"section_id"`
	DraftVersion          int                    `json:"draft_version"`
	DraftBaseVersion      int                    `json:"draft_base_version"`
	ConflictState         ConflictState          `json:"conflict_state"`
	ConflictReason        *string                `json:"conflict_reason,omitempty"`
	ContentMarkdown       string                 `json:"content_markdown"`
	FormattingAnnotations []FormattingAnnotation `json:"formatting_annotations,omitempty"`
	UpdatedAt             time.Time              `json:"updated_at"`
}

// ConflictLogEntry records one detected rebase-required event for audit.
type ConflictLogEntry struct {
	ID                      uuid.UUID `json:"id"`
	SectionID               string    `json:"section_id"`
	DraftID                 uuid.UUID `json:"draft_id"`
	DetectedAt              time.Time `json:"detected_at"`
	DetectedDuring          string    `json:"detected_during"`
	PreviousApprovedVersion int       `json:"previous_approved_version"`
	LatestApprovedVersion   int       `json:"latest_approved_version"`
}
