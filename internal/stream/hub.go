package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/inkwell-ai/inkwell/internal/telemetry"
)

// Hub is the session service's single entry point into streaming. It admits
// sessions through the Queue, owns one Sequencer per admitted session, and
// translates queue transitions (promotion, replacement, cancellation) into
// the terminal events the affected sequencers must emit.
type Hub struct {
	queue   *Queue
	logger  *slog.Logger
	now     func() time.Time
	bufSize int

	replacements metric.Int64Counter
	promotions   metric.Int64Counter

	mu       sync.Mutex
	sessions map[uuid.UUID]*Sequencer
	canceled map[uuid.UUID]struct{}
}

// NewHub creates a Hub over the given admission queue. now may be nil, in
// which case time.Now is used.
func NewHub(queue *Queue, subscriberBuffer int, now func() time.Time, logger *slog.Logger) *Hub {
	if now == nil {
		now = time.Now
	}
	meter := telemetry.Meter("inkwell/stream")
	repl, _ := meter.Int64Counter("inkwell.stream.replacements",
		metric.WithDescription("Pending stream slots evicted by newer sessions"))
	prom, _ := meter.Int64Counter("inkwell.stream.promotions",
		metric.WithDescription("Pending stream slots promoted to active"))
	return &Hub{
		queue:        queue,
		logger:       logger,
		now:          now,
		bufSize:      subscriberBuffer,
		replacements: repl,
		promotions:   prom,
		sessions:     make(map[uuid.UUID]*Sequencer),
		canceled:     make(map[uuid.UUID]struct{}),
	}
}

// Open admits a session for streaming on its section and returns the
// session's sequencer plus the admission result. A pending disposition leaves
// the sequencer held: provider events buffer until promotion. If the
// admission evicted a prior pending session, that session's stream is closed
// with a replacement event.
//
// A session whose stream was canceled is refused: the sequencer is nil and
// the disposition is DispositionRefused. Cancellation is terminal for the
// session; only completion frees a session for later re-admission.
func (h *Hub) Open(sessionID uuid.UUID, sectionID string) (*Sequencer, EnqueueResult) {
	h.mu.Lock()
	if _, gone := h.canceled[sessionID]; gone {
		h.mu.Unlock()
		return nil, EnqueueResult{Disposition: DispositionRefused}
	}
	h.mu.Unlock()

	res := h.queue.Enqueue(sessionID, sectionID, h.now())

	seq := newSequencer(sessionID, res.Disposition == DispositionPending, h.bufSize, h.now, h.logger)

	h.mu.Lock()
	h.sessions[sessionID] = seq
	evicted := (*Sequencer)(nil)
	if res.ReplacedSessionID != nil {
		evicted = h.sessions[*res.ReplacedSessionID]
		delete(h.sessions, *res.ReplacedSessionID)
	}
	h.mu.Unlock()

	if evicted != nil {
		evicted.Replace(&sessionID)
		h.replacements.Add(context.Background(), 1)
	}
	return seq, res
}

// Get returns the sequencer for a session, if it is streaming.
func (h *Hub) Get(sessionID uuid.UUID) (*Sequencer, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	seq, ok := h.sessions[sessionID]
	return seq, ok
}

// Complete releases a finished session's slot, closes its stream, and
// promotes the waiting session if one exists. Returns the promotion, if any.
func (h *Hub) Complete(sessionID uuid.UUID) *Promotion {
	promotion := h.queue.Complete(sessionID)

	h.mu.Lock()
	seq := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	var promoted *Sequencer
	if promotion != nil {
		promoted = h.sessions[promotion.SessionID]
	}
	h.mu.Unlock()

	if seq != nil {
		seq.Close()
	}
	if promoted != nil {
		promoted.Promote()
		h.promotions.Add(context.Background(), 1)
	}
	return promotion
}

// Cancel removes a session from the queue and terminally closes its stream
// with the given reason. Cancelling an active session promotes the pending
// one. The session is remembered as canceled so a later answer cannot reopen
// its stream; entries live for the process lifetime, one per canceled
// session.
func (h *Hub) Cancel(sessionID uuid.UUID, reason string) CancelResult {
	res := h.queue.Cancel(sessionID, reason)

	h.mu.Lock()
	seq := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	if res.Released || seq != nil {
		h.canceled[sessionID] = struct{}{}
	}
	var promoted *Sequencer
	if res.Promoted != nil {
		promoted = h.sessions[res.Promoted.SessionID]
	}
	h.mu.Unlock()

	if seq != nil {
		seq.Cancel(reason)
	}
	if promoted != nil {
		promoted.Promote()
		h.promotions.Add(context.Background(), 1)
	}
	return res
}

// ActiveStreams reports the number of sessions currently holding an active
// slot, for the health endpoint.
func (h *Hub) ActiveStreams() int {
	return h.queue.ActiveCount()
}
