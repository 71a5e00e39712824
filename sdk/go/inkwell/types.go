package inkwell

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of an assumption session.
type SessionStatus string

const (
	SessionInProgress    SessionStatus = "in_progress"
	SessionAwaitingDraft SessionStatus = "awaiting_draft"
	SessionDrafting      SessionStatus = "drafting"
	SessionBlocked       SessionStatus = "blocked"
)

// PromptStatus is the state of a single prompt.
type PromptStatus string

const (
	PromptPending    PromptStatus = "pending"
	PromptAnswered   PromptStatus = "answered"
	PromptDeferred   PromptStatus = "deferred"
	PromptEscalated  PromptStatus = "escalated"
	PromptOverridden PromptStatus = "overridden"
)

// PromptOption is one selectable option on a select prompt.
type PromptOption struct {
	ID              string `json:"id"`
	Label           string `json:"label"`
	Description     string `json:"description,omitempty"`
	DefaultSelected bool   `json:"default_selected,omitempty"`
}

// Prompt is one assumption prompt within a session.
type Prompt struct {
	ID                    uuid.UUID      `json:"id"`
	SessionID             uuid.UUID      `json:"session_id"`
	TemplateKey           string         `json:"template_key"`
	Heading               string         `json:"heading"`
	Body                  string         `json:"body"`
	ResponseType          string         `json:"response_type"`
	Options               []PromptOption `json:"options,omitempty"`
	Priority              int            `json:"priority"`
	Status                PromptStatus   `json:"status"`
	AnswerValue           *string        `json:"answer_value,omitempty"`
	AnswerNotes           *string        `json:"answer_notes,omitempty"`
	OverrideJustification *string        `json:"override_justification,omitempty"`
	ConflictDecisionID    *string        `json:"conflict_decision_id,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

// SessionCounters are the per-session derived counts.
type SessionCounters struct {
	Answered            int `json:"answered"`
	Deferred            int `json:"deferred"`
	Escalated           int `json:"escalated"`
	UnresolvedOverrides int `json:"unresolved_overrides"`
}

// Session is an assumption resolution session for one section.
type Session struct {
	ID                 uuid.UUID       `json:"id"`
	SectionID          string          `json:"section_id"`
	DocumentID         string          `json:"document_id"`
	TemplateVersion    string          `json:"template_version"`
	StartedBy          string          `json:"started_by"`
	StartedAt          time.Time       `json:"started_at"`
	Status             SessionStatus   `json:"status"`
	SummaryMarkdown    string          `json:"summary_markdown"`
	DecisionSnapshotID *string         `json:"decision_snapshot_id,omitempty"`
	Counters           SessionCounters `json:"counters"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// StartSessionRequest is the request body for StartSession.
type StartSessionRequest struct {
	SectionID       string `json:"section_id"`
	DocumentID      string `json:"document_id"`
	TemplateVersion string `json:"template_version,omitempty"`
	StartedBy       string `json:"started_by,omitempty"`
}

// StartSessionResponse is the result of StartSession. Prompts are ordered by
// priority ascending, stable on insertion order.
type StartSessionResponse struct {
	Session            Session  `json:"session"`
	Prompts            []Prompt `json:"prompts"`
	OverridesOpen      int      `json:"overrides_open"`
	SummaryMarkdown    string   `json:"summary_markdown"`
	DecisionSnapshotID *string  `json:"decision_snapshot_id,omitempty"`
}

// SessionView is the result of GetSession.
type SessionView struct {
	Session Session  `json:"session"`
	Prompts []Prompt `json:"prompts"`
}

// RespondRequest is the request body for Respond. Action is one of "answer",
// "defer", "escalate", or "skip_override".
type RespondRequest struct {
	Action                string `json:"action"`
	ActorID               string `json:"actor_id"`
	Answer                string `json:"answer,omitempty"`
	Notes                 string `json:"notes,omitempty"`
	OverrideJustification string `json:"override_justification,omitempty"`
}

// EscalationDescriptor is returned when a prompt is escalated.
type EscalationDescriptor struct {
	AssignedTo string `json:"assigned_to"`
	Status     string `json:"status"`
	Notes      string `json:"notes,omitempty"`
}

// RespondResponse is the prompt's view after a mutation.
type RespondResponse struct {
	Prompt                  Prompt                `json:"prompt"`
	SessionStatus           SessionStatus         `json:"session_status"`
	UnresolvedOverrideCount int                   `json:"unresolved_override_count"`
	Escalation              *EscalationDescriptor `json:"escalation,omitempty"`
}

// RationaleEntry links a proposal back to the prompt answer it derives from.
type RationaleEntry struct {
	AssumptionID uuid.UUID `json:"assumption_id"`
	Summary      string    `json:"summary"`
}

// Proposal is an immutable draft proposal generated from a session.
type Proposal struct {
	ID              uuid.UUID        `json:"id"`
	SessionID       uuid.UUID        `json:"session_id"`
	ProposalIndex   int              `json:"proposal_index"`
	Source          string           `json:"source"`
	ContentMarkdown string           `json:"content_markdown"`
	Rationale       []RationaleEntry `json:"rationale"`
	AIConfidence    *float32         `json:"ai_confidence,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// CreateProposalRequest is the request body for CreateProposal. Source is
// "ai_generate" or "manual_submit".
type CreateProposalRequest struct {
	Source        string  `json:"source"`
	ActorID       string  `json:"actor_id"`
	DraftOverride *string `json:"draft_override,omitempty"`
}

// Event is a streaming event delivered over SSE.
type Event struct {
	Type     string `json:"type"`
	Sequence int64  `json:"sequence,omitempty"`

	StageLabel     string `json:"stage_label,omitempty"`
	ContentSnippet string `json:"content_snippet,omitempty"`
	DeltaType      string `json:"delta_type,omitempty"`
	Announcement   string `json:"announcement_priority,omitempty"`
	ElapsedMs      int64  `json:"elapsed_ms,omitempty"`

	Status          string `json:"status,omitempty"`
	FallbackReason  string `json:"fallback_reason,omitempty"`
	PreservedTokens int    `json:"preserved_tokens_count,omitempty"`
	RetryAttempted  bool   `json:"retry_attempted,omitempty"`
	Reason          string `json:"reason,omitempty"`

	PreviousSessionID string `json:"previous_session_id,omitempty"`
	PromotedSessionID string `json:"promoted_session_id,omitempty"`
}

// CancelResult reports the outcome of a stream cancellation.
type CancelResult struct {
	Released bool   `json:"released"`
	Reason   string `json:"reason,omitempty"`
}

// Section is a section's approved state.
type Section struct {
	ID              string `json:"id"`
	DocumentID      string `json:"document_id"`
	ApprovedVersion int    `json:"approved_version"`
	ApprovedContent string `json:"approved_content"`
}

// UpsertSectionRequest is the request body for UpsertSection.
type UpsertSectionRequest struct {
	DocumentID      string `json:"document_id"`
	ApprovedVersion int    `json:"approved_version"`
	ApprovedContent string `json:"approved_content"`
}

// FormattingAnnotation marks a formatted range in draft content.
type FormattingAnnotation struct {
	Kind  string `json:"kind"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Draft is a section's working draft.
type Draft struct {
	ID                    uuid.UUID              `json:"id"`
	SectionID             string                 `json:"section_id"`
	DraftVersion          int                    `json:"draft_version"`
	DraftBaseVersion      int                    `json:"draft_base_version"`
	ConflictState         string                 `json:"conflict_state"`
	ConflictReason        *string                `json:"conflict_reason,omitempty"`
	ContentMarkdown       string                 `json:"content_markdown"`
	FormattingAnnotations []FormattingAnnotation `json:"formatting_annotations,omitempty"`
	UpdatedAt             time.Time              `json:"updated_at"`
}

// SaveDraftRequest is the request body for SaveDraft.
type SaveDraftRequest struct {
	DraftVersion          int                    `json:"draft_version"`
	DraftBaseVersion      int                    `json:"draft_base_version"`
	ContentMarkdown       string                 `json:"content_markdown"`
	FormattingAnnotations []FormattingAnnotation `json:"formatting_annotations,omitempty"`
}

// SaveDraftCheckRequest is the request body for DraftSaveCheck.
type SaveDraftCheckRequest struct {
	DraftBaseVersion int    `json:"draft_base_version"`
	DraftVersion     int    `json:"draft_version"`
	ApprovedVersion  *int   `json:"approved_version,omitempty"`
	TriggeredBy      string `json:"triggered_by,omitempty"`
}

// RebasedDraft is the rebase payload returned by a save check.
type RebasedDraft struct {
	DraftVersion          int                    `json:"draft_version"`
	ContentMarkdown       string                 `json:"content_markdown"`
	FormattingAnnotations []FormattingAnnotation `json:"formatting_annotations,omitempty"`
}

// SaveDraftCheckResponse reports the conflict state decided for a save.
type SaveDraftCheckResponse struct {
	Status         string        `json:"status"`
	ConflictReason string        `json:"conflict_reason,omitempty"`
	RebasedDraft   *RebasedDraft `json:"rebased_draft,omitempty"`
}

// ConflictLogEntry is one audit record of a detected draft conflict.
type ConflictLogEntry struct {
	ID                      uuid.UUID `json:"id"`
	SectionID               string    `json:"section_id"`
	DraftID                 uuid.UUID `json:"draft_id"`
	DetectedAt              time.Time `json:"detected_at"`
	DetectedDuring          string    `json:"detected_during"`
	PreviousApprovedVersion int       `json:"previous_approved_version"`
	LatestApprovedVersion   int       `json:"latest_approved_version"`
}

// Health is the server health report.
type Health struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Storage       string `json:"storage"`
	ActiveStreams int    `json:"active_streams"`
	Uptime        int64  `json:"uptime_seconds"`
}
