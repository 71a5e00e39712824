// Package stream implements per-section streaming admission and per-session
// event sequencing for assumption sessions.
//
// The Queue grants each section one active and at most one pending slot, with
// newest-wins replacement of the pending slot. Each admitted session owns a
// Sequencer that buffers provider events, emits them to subscribers in strict
// sequence order, and survives deferral, promotion, replacement, and
// cancellation. The Hub ties the two together and is the only entry point the
// session service talks to.
package stream

import (
	"github.com/google/uuid"
)

// EventType discriminates the wire event kinds.
type EventType string

const (
	EventProgress    EventType = "progress"
	EventStatus      EventType = "status"
	EventReplacement EventType = "replacement"
)

// AnnouncementPriority mirrors the ARIA live-region politeness the UI applies
// when announcing a progress event.
type AnnouncementPriority string

const (
	AnnouncePolite    AnnouncementPriority = "polite"
	AnnounceAssertive AnnouncementPriority = "assertive"
)

// Status values carried by status events.
type Status string

const (
	StatusStreaming         Status = "streaming"
	StatusDeferred          Status = "deferred"
	StatusResumed           Status = "resumed"
	StatusCanceled          Status = "canceled"
	StatusCompleted         Status = "completed"
	StatusFallbackActive    Status = "fallback_active"
	StatusFallbackCompleted Status = "fallback_completed"
	StatusFallbackCanceled  Status = "fallback_canceled"
	StatusFallbackFailed    Status = "fallback_failed"
)

// Event is the single wire shape for all streaming events. Progress events
// carry a provider-assigned sequence; service-injected status and replacement
// events are unsequenced and bypass reordering.
type Event struct {
	Type     EventType `json:"type"`
	Sequence int64     `json:"sequence,omitempty"`

	// Progress fields.
	StageLabel     string               `json:"stage_label,omitempty"`
	ContentSnippet string               `json:"content_snippet,omitempty"`
	DeltaType      string               `json:"delta_type,omitempty"`
	Announcement   AnnouncementPriority `json:"announcement_priority,omitempty"`
	ElapsedMs      int64                `json:"elapsed_ms,omitempty"`

	// Status fields.
	Status          Status `json:"status,omitempty"`
	FallbackReason  string `json:"fallback_reason,omitempty"`
	PreservedTokens int    `json:"preserved_tokens_count,omitempty"`
	RetryAttempted  bool   `json:"retry_attempted,omitempty"`
	Reason          string `json:"reason,omitempty"`

	// Replacement fields.
	PreviousSessionID string `json:"previous_session_id,omitempty"`
	PromotedSessionID string `json:"promoted_session_id,omitempty"`
}

// statusEvent builds a service-injected status event.
func statusEvent(s Status, elapsedMs int64) Event {
	return Event{Type: EventStatus, Status: s, ElapsedMs: elapsedMs}
}

// replacementEvent builds the terminal event for a displaced or superseded
// session stream.
func replacementEvent(previous uuid.UUID, promoted *uuid.UUID) Event {
	ev := Event{Type: EventReplacement, PreviousSessionID: previous.String()}
	if promoted != nil {
		ev.PromotedSessionID = promoted.String()
	}
	return ev
}
