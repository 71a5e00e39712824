package model

import (
	"time"

	"github.com/google/uuid"
)

// ResponseType enumerates how a prompt expects to be answered.
type ResponseType string

const (
	ResponseSingleSelect ResponseType = "single_select"
	ResponseMultiSelect  ResponseType = "multi_select"
	ResponseText         ResponseType = "text"
)

// PromptStatus enumerates the lifecycle states of a prompt.
type PromptStatus string

const (
	PromptPending         PromptStatus = "pending"
	PromptAnswered        PromptStatus = "answered"
	PromptDeferred        PromptStatus = "deferred"
	PromptEscalated       PromptStatus = "escalated"
	PromptOverrideSkipped PromptStatus = "override_skipped"
)

// PromptOption is one selectable answer for a select-type prompt.
// Options are immutable within a session and identified by ID; the label is
// used for rendering and for allowed-answer matching.
type PromptOption struct {
	ID              string `json:"id"`
	Label           string `json:"label"`
	Description     string `json:"description,omitempty"`
	DefaultSelected bool   `json:"default_selected,omitempty"`
}

// Prompt is one interview question within a session. Prompts are created with
// the session, mutated only through resolved actions, and never deleted while
// the session lives.
//
// AnswerValue holds the raw wire form: an option id or literal text for
// single_select and text prompts, and a JSON-encoded ordered array of option
// ids for multi_select prompts.
type Prompt struct {
	ID                    uuid.UUID      `json:"id"`
	SessionID             uuid.UUID      `json:"session_id"`
	TemplateKey           string         `json:"template_key"`
	Heading               string         `json:"heading"`
	Body                  string         `json:"body"`
	ResponseType          ResponseType   `json:"response_type"`
	Options               []PromptOption `json:"options,omitempty"`
	Priority              int            `json:"priority"`
	Status                PromptStatus   `json:"status"`
	AnswerValue           *string        `json:"answer_value,omitempty"`
	AnswerNotes           *string        `json:"answer_notes,omitempty"`
	OverrideJustification *string        `json:"override_justification,omitempty"`
	ConflictDecisionID    *string        `json:"conflict_decision_id,omitempty"`
	ConflictResolvedAt    *time.Time     `json:"conflict_resolved_at,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

// PromptTemplate is the provider-supplied blueprint a session prompt is
// instantiated from. Priority is optional; absent priorities default to the
// template's insertion index.
type PromptTemplate struct {
	TemplateKey  string         `json:"template_key"`
	Heading      string         `json:"heading"`
	Body         string         `json:"body,omitempty"`
	ResponseType ResponseType   `json:"response_type"`
	Options      []PromptOption `json:"options,omitempty"`
	Priority     *int           `json:"priority,omitempty"`
}
