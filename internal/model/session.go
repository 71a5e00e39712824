package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates the lifecycle states of an assumption session.
type SessionStatus string

const (
	SessionInProgress    SessionStatus = "in_progress"
	SessionAwaitingDraft SessionStatus = "awaiting_draft"
	SessionDrafting      SessionStatus = "drafting"
	SessionBlocked       SessionStatus = "blocked"
	SessionReady         SessionStatus = "ready"
)

// SessionCounters summarizes prompt state for a session. Counters are derived:
// they always equal the cardinality of prompts in the corresponding status and
// are recomputed on every prompt mutation, never incremented in place.
type SessionCounters struct {
	Answered            int `json:"answered"`
	Deferred            int `json:"deferred"`
	Escalated           int `json:"escalated"`
	UnresolvedOverrides int `json:"unresolved_overrides"`
}

// Session is a stateful assumption-resolution interview bound to one section
// of one document. Created on start, updated on every prompt mutation, and
// soft-closed upstream when a proposal is accepted.
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

// CountersFor derives session counters from the full prompt set.
func CountersFor(prompts []Prompt) SessionCounters {
	var c SessionCounters
	for _, p := range prompts {
		switch p.Status {
		case PromptAnswered:
			c.Answered++
		case PromptDeferred:
			c.Deferred++
		case PromptEscalated:
			c.Escalated++
		case PromptOverrideSkipped:
			c.UnresolvedOverrides++
		}
	}
	return c
}

// DeriveSessionStatus maps prompt-derived counters onto a session status.
// Open overrides block the session outright; a fully answered prompt set is
// ready for drafting. Drafting and ready are set by proposal creation and by
// upstream acceptance, never derived here.
func DeriveSessionStatus(current SessionStatus, c SessionCounters, totalPrompts int) SessionStatus {
	if current == SessionDrafting || current == SessionReady {
		return current
	}
	switch {
	case c.UnresolvedOverrides > 0:
		return SessionBlocked
	case totalPrompts > 0 && c.Answered == totalPrompts:
		return SessionAwaitingDraft
	default:
		return SessionInProgress
	}
}
