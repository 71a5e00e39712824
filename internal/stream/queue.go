package stream

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Disposition is the admission outcome of an enqueue.
type Disposition string

const (
	DispositionStarted Disposition = "started"
	DispositionPending Disposition = "pending"

	// DispositionRefused is produced by the hub, never the queue: a session
	// whose stream was canceled is not admitted again.
	DispositionRefused Disposition = "refused"
)

// SlotEntry identifies the session occupying a slot.
type SlotEntry struct {
	SessionID  uuid.UUID `json:"session_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type sectionSlots struct {
	active  *SlotEntry
	pending *SlotEntry
}

// EnqueueResult reports how an enqueue was admitted. ReplacedSessionID is set
// when a prior pending entry was evicted by newest-wins replacement.
type EnqueueResult struct {
	Disposition       Disposition `json:"disposition"`
	ConcurrencySlot   int         `json:"concurrency_slot,omitempty"`
	ReplacedSessionID *uuid.UUID  `json:"replaced_session_id,omitempty"`
}

// Promotion reports a pending entry moved into the active slot.
type Promotion struct {
	SessionID       uuid.UUID `json:"session_id"`
	SectionID       string    `json:"section_id"`
	ConcurrencySlot int       `json:"concurrency_slot"`
}

// CancelResult reports the outcome of a cancel.
type CancelResult struct {
	Released bool       `json:"released"`
	Promoted *Promotion `json:"promoted,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}

// SectionSnapshot is a read-only view of one section's slots.
type SectionSnapshot struct {
	Active  *SlotEntry `json:"active,omitempty"`
	Pending *SlotEntry `json:"pending,omitempty"`
}

// Queue is the per-section streaming admission gate: one active slot, one
// pending slot, newest pending replaces older pending. All operations run
// inside one short critical section, so enqueue, complete, and cancel are
// serialised per queue and O(1) apart from the session lookup scan.
type Queue struct {
	logger *slog.Logger

	mu       sync.Mutex
	sections map[string]*sectionSlots
}

// NewQueue creates an empty admission queue.
func NewQueue(logger *slog.Logger) *Queue {
	return &Queue{
		logger:   logger,
		sections: make(map[string]*sectionSlots),
	}
}

// Enqueue admits a session for streaming on a section. The first session on a
// section starts immediately; a second waits in the pending slot; any later
// session evicts the current pending entry.
func (q *Queue) Enqueue(sessionID uuid.UUID, sectionID string, at time.Time) EnqueueResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	slots := q.sections[sectionID]
	if slots == nil {
		slots = &sectionSlots{}
		q.sections[sectionID] = slots
	}

	entry := &SlotEntry{SessionID: sessionID, EnqueuedAt: at}

	if slots.active == nil {
		slots.active = entry
		return EnqueueResult{Disposition: DispositionStarted, ConcurrencySlot: 1}
	}

	var replaced *uuid.UUID
	if slots.pending != nil {
		evicted := slots.pending.SessionID
		replaced = &evicted
		q.logger.Info("stream: pending slot replaced",
			"section_id", sectionID,
			"evicted_session_id", evicted,
			"session_id", sessionID,
		)
	}
	slots.pending = entry
	return EnqueueResult{Disposition: DispositionPending, ReplacedSessionID: replaced}
}

// Complete releases the active slot held by sessionID and promotes the pending
// entry if one exists. Returns nil when sessionID was not active or nothing
// was waiting.
func (q *Queue) Complete(sessionID uuid.UUID) *Promotion {
	q.mu.Lock()
	defer q.mu.Unlock()

	for sectionID, slots := range q.sections {
		if slots.active == nil || slots.active.SessionID != sessionID {
			continue
		}
		slots.active = nil
		return q.promoteLocked(sectionID, slots)
	}
	return nil
}

// Cancel removes sessionID from whichever slot holds it. Cancelling the
// active entry promotes the pending one.
func (q *Queue) Cancel(sessionID uuid.UUID, reason string) CancelResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	for sectionID, slots := range q.sections {
		if slots.active != nil && slots.active.SessionID == sessionID {
			slots.active = nil
			return CancelResult{
				Released: true,
				Promoted: q.promoteLocked(sectionID, slots),
				Reason:   reason,
			}
		}
		if slots.pending != nil && slots.pending.SessionID == sessionID {
			slots.pending = nil
			q.cleanupLocked(sectionID, slots)
			return CancelResult{Released: true, Reason: reason}
		}
	}
	return CancelResult{Released: false}
}

// Snapshot returns a copy of the current per-section slot state.
func (q *Queue) Snapshot() map[string]SectionSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[string]SectionSnapshot, len(q.sections))
	for sectionID, slots := range q.sections {
		var snap SectionSnapshot
		if slots.active != nil {
			a := *slots.active
			snap.Active = &a
		}
		if slots.pending != nil {
			p := *slots.pending
			snap.Pending = &p
		}
		out[sectionID] = snap
	}
	return out
}

// ActiveCount returns the number of sections with an active stream.
func (q *Queue) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, slots := range q.sections {
		if slots.active != nil {
			n++
		}
	}
	return n
}

// promoteLocked moves the pending entry into the freed active slot.
// Caller holds q.mu and has already cleared slots.active.
func (q *Queue) promoteLocked(sectionID string, slots *sectionSlots) *Promotion {
	if slots.pending == nil {
		q.cleanupLocked(sectionID, slots)
		return nil
	}
	promoted := slots.pending
	slots.pending = nil
	slots.active = promoted
	return &Promotion{
		SessionID:       promoted.SessionID,
		SectionID:       sectionID,
		ConcurrencySlot: 1,
	}
}

// cleanupLocked drops empty section entries so the map does not grow without
// bound across many sections.
func (q *Queue) cleanupLocked(sectionID string, slots *sectionSlots) {
	if slots.active == nil && slots.pending == nil {
		delete(q.sections, sectionID)
	}
}
