package model

import (
	"time"

	"github.com/google/uuid"
)

// ProposalSource is the persisted origin of a draft proposal.
type ProposalSource string

const (
	SourceAIGenerated    ProposalSource = "ai_generated"
	SourceManualRevision ProposalSource = "manual_revision"
)

// API-facing source values; persisted form is canonicalized on create.
const (
	SourceParamAIGenerate   = "ai_generate"
	SourceParamManualSubmit = "manual_submit"
)

// CanonicalSource maps an API source parameter to its persisted form.
func CanonicalSource(param string) (ProposalSource, bool) {
	switch param {
	case SourceParamAIGenerate:
		return SourceAIGenerated, true
	case SourceParamManualSubmit:
		return SourceManualRevision, true
	default:
		return "", false
	}
}

// RationaleEntry ties one prompt to the line of reasoning it contributed to a
// proposal.
type RationaleEntry struct {
	AssumptionID uuid.UUID `json:"assumption_id"`
	Summary      string    `json:"summary"`
}

// Proposal is an immutable draft body generated from the prompt state at
// creation time. ProposalIndex is monotonic per session starting at 0 and
// strictly increasing by creation order.
type Proposal struct {
	ID              uuid.UUID        `json:"id"`
	SessionID       uuid.UUID        `json:"session_id"`
	ProposalIndex   int              `json:"proposal_index"`
	Source          ProposalSource   `json:"source"`
	ContentMarkdown string           `json:"content_markdown"`
	Rationale       []RationaleEntry `json:"rationale"`
	AIConfidence    *float32         `json:"ai_confidence,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}
