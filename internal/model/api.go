package model

import (
	"time"

	"github.com/google/uuid"
)

// APIResponse is the standard response envelope for HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope. The body mirrors the
// DomainError wire contract: statusCode plus a details map carrying the
// machine-readable status tag and any ids.
type APIError struct {
	StatusCode int            `json:"statusCode"`
	Details    map[string]any `json:"details"`
	Meta       ResponseMeta   `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// StartSessionRequest is the request body for POST /v1/sessions.
type StartSessionRequest struct {
	SectionID       string `json:"section_id"`
	DocumentID      string `json:"document_id"`
	TemplateVersion string `json:"template_version"`
	StartedBy       string `json:"started_by"`
}

// StartSessionResponse is the response for POST /v1/sessions. Prompts are
// ordered by priority ascending, stable on insertion order.
type StartSessionResponse struct {
	Session            Session  `json:"session"`
	Prompts            []Prompt `json:"prompts"`
	OverridesOpen      int      `json:"overrides_open"`
	SummaryMarkdown    string   `json:"summary_markdown"`
	DecisionSnapshotID *string  `json:"decision_snapshot_id,omitempty"`
}

// RespondRequest is the request body for POST /v1/assumptions/{id}/respond.
type RespondRequest struct {
	Action                string `json:"action"`
	ActorID               string `json:"actor_id"`
	Answer                string `json:"answer,omitempty"`
	Notes                 string `json:"notes,omitempty"`
	OverrideJustification string `json:"override_justification,omitempty"`
}

// EscalationDescriptor is returned when a prompt is escalated. AssignedTo is
// an opaque handle; it is not resolvable through any other endpoint.
type EscalationDescriptor struct {
	AssignedTo string `json:"assigned_to"`
	Status     string `json:"status"`
	Notes      string `json:"notes,omitempty"`
}

// RespondResponse is the prompt's public view after a mutation, including the
// session-level override count the caller needs for submission gating.
type RespondResponse struct {
	Prompt                  Prompt                `json:"prompt"`
	SessionStatus           SessionStatus         `json:"session_status"`
	UnresolvedOverrideCount int                   `json:"unresolved_override_count"`
	Escalation              *EscalationDescriptor `json:"escalation,omitempty"`
}

// CreateProposalRequest is the request body for POST /v1/sessions/{id}/proposals.
// Source accepts the API values "ai_generate" and "manual_submit".
type CreateProposalRequest struct {
	Source        string  `json:"source"`
	ActorID       string  `json:"actor_id"`
	DraftOverride *string `json:"draft_override,omitempty"`
}

// SaveDraftRequest is the request body for PUT /v1/sections/{id}/draft.
type SaveDraftRequest struct {
	DraftVersion          int                    `json:"draft_version"`
	DraftBaseVersion      int                    `json:"draft_base_version"`
	ContentMarkdown       string                 `json:"content_markdown"`
	FormattingAnnotations []FormattingAnnotation `json:"formatting_annotations,omitempty"`
}

// UpsertSectionRequest is the request body for PUT /v1/sections/{id}.
type UpsertSectionRequest struct {
	DocumentID      string `json:"document_id"`
	ApprovedVersion int    `json:"approved_version"`
	ApprovedContent string `json:"approved_content"`
}

// SaveDraftCheckRequest is the request body for POST /v1/sections/{id}/draft-save-check.
type SaveDraftCheckRequest struct {
	DraftBaseVersion int    `json:"draft_base_version"`
	DraftVersion     int    `json:"draft_version"`
	ApprovedVersion  *int   `json:"approved_version,omitempty"`
	TriggeredBy      string `json:"triggered_by,omitempty"`
}

// RebasedDraft is the payload returned when a save check detects that the
// draft base lags the approved version.
type RebasedDraft struct {
	DraftVersion          int                    `json:"draft_version"`
	ContentMarkdown       string                 `json:"content_markdown"`
	FormattingAnnotations []FormattingAnnotation `json:"formatting_annotations,omitempty"`
}

// SaveDraftCheckResponse reports the conflict state decided for a save.
type SaveDraftCheckResponse struct {
	Status         ConflictState `json:"status"`
	ConflictReason string        `json:"conflict_reason,omitempty"`
	RebasedDraft   *RebasedDraft `json:"rebased_draft,omitempty"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Storage       string `json:"storage"`
	ActiveStreams int    `json:"active_streams"`
	Uptime        int64  `json:"uptime_seconds"`
}

// SessionRef pairs a session with its section, used in queue promotions.
type SessionRef struct {
	SessionID uuid.UUID `json:"session_id"`
	SectionID string    `json:"section_id"`
}
