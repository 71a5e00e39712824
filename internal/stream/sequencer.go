package stream

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// defaultSubscriberBuffer is the per-subscriber channel depth. A subscriber
// whose buffer fills is skipped for that event so one stalled consumer never
// blocks the others.
const defaultSubscriberBuffer = 64

// Sequencer owns the event buffer for one session. Provider events arrive in
// arbitrary order; the sequencer buffers them and emits in strictly ascending
// sequence, starting at 1. Service-injected status and replacement events are
// unsequenced and delivered immediately.
//
// A sequencer created in the held state (pending queue disposition) buffers
// sequenced events until Promote. Defer pauses sequenced emission until
// Resume. Close, Cancel, and Replace are terminal: the buffer is discarded
// and all subscriber channels are closed.
type Sequencer struct {
	sessionID uuid.UUID
	logger    *slog.Logger
	now       func() time.Time
	startedAt time.Time
	bufSize   int

	mu        sync.Mutex
	nextEmit  int64
	allocated int64
	buffered  map[int64]Event
	deferred  bool
	held      bool
	closed    bool
	subs      map[chan Event]struct{}
	done      chan struct{}
}

func newSequencer(sessionID uuid.UUID, held bool, bufSize int, now func() time.Time, logger *slog.Logger) *Sequencer {
	if bufSize <= 0 {
		bufSize = defaultSubscriberBuffer
	}
	return &Sequencer{
		sessionID: sessionID,
		logger:    logger,
		now:       now,
		startedAt: now(),
		bufSize:   bufSize,
		nextEmit:  1,
		buffered:  make(map[int64]Event),
		held:      held,
		subs:      make(map[chan Event]struct{}),
		done:      make(chan struct{}),
	}
}

// SessionID returns the owning session.
func (s *Sequencer) SessionID() uuid.UUID { return s.sessionID }

// NextSequence allocates the next producer-side sequence number. The provider
// calls this once per event it is about to emit.
func (s *Sequencer) NextSequence() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allocated++
	return s.allocated
}

// Done is closed when the sequencer is terminally closed. Providers watch it
// for cooperative cancellation.
func (s *Sequencer) Done() <-chan struct{} { return s.done }

// Closed reports whether the sequencer has been terminally closed.
func (s *Sequencer) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Subscribe registers a consumer. The returned cancel function detaches the
// subscriber and closes its channel; it is safe to call after Close.
func (s *Sequencer) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, s.bufSize)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
			s.mu.Unlock()
		})
	}
	return ch, cancel
}

// Ingest accepts one provider event. Progress events are sequenced: stale
// sequences (already emitted) are dropped so each sequence is delivered at
// most once. Provider status events (fallback notices) are unsequenced and
// pass straight through.
func (s *Sequencer) Ingest(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if ev.Type != EventProgress {
		s.emitLocked(ev)
		return
	}
	if ev.Sequence < s.nextEmit {
		s.logger.Debug("stream: dropping stale event",
			"session_id", s.sessionID, "sequence", ev.Sequence, "next", s.nextEmit)
		return
	}
	s.buffered[ev.Sequence] = ev
	s.drainLocked()
}

// Defer pauses sequenced emission and tells subscribers the session was
// deferred. Buffered events keep accumulating until Resume.
func (s *Sequencer) Defer() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.deferred {
		return
	}
	s.deferred = true
	s.emitLocked(statusEvent(StatusDeferred, s.elapsedMs()))
}

// Resume lifts a deferral, announces it, and flushes whatever is in order.
func (s *Sequencer) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.deferred {
		return
	}
	s.deferred = false
	s.emitLocked(statusEvent(StatusResumed, s.elapsedMs()))
	s.drainLocked()
}

// Promote releases a held (pending-admitted) sequencer and flushes its buffer
// in order.
func (s *Sequencer) Promote() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.held {
		return
	}
	s.held = false
	s.drainLocked()
}

// Cancel terminally closes the stream with a cancellation status. No further
// events are emitted afterwards.
func (s *Sequencer) Cancel(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	ev := statusEvent(StatusCanceled, s.elapsedMs())
	ev.Reason = reason
	s.emitLocked(ev)
	s.closeLocked()
}

// Replace terminally closes the stream with a replacement event naming the
// session that displaced or superseded this one.
func (s *Sequencer) Replace(promoted *uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.emitLocked(replacementEvent(s.sessionID, promoted))
	s.closeLocked()
}

// Close terminally closes the stream without injecting a terminal event, for
// streams that finished normally.
func (s *Sequencer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closeLocked()
}

// drainLocked emits buffered events while the next expected sequence is
// present and emission is not paused. Caller holds s.mu.
func (s *Sequencer) drainLocked() {
	for !s.held && !s.deferred && !s.closed {
		ev, ok := s.buffered[s.nextEmit]
		if !ok {
			return
		}
		delete(s.buffered, s.nextEmit)
		s.nextEmit++
		s.emitLocked(ev)
	}
}

// emitLocked fans an event out to every subscriber without blocking. Caller
// holds s.mu.
func (s *Sequencer) emitLocked(ev Event) {
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber buffer full; skip this event for them.
		}
	}
}

// closeLocked discards the buffer and closes every subscriber channel.
// Caller holds s.mu.
func (s *Sequencer) closeLocked() {
	s.closed = true
	s.buffered = make(map[int64]Event)
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
	close(s.done)
}

func (s *Sequencer) elapsedMs() int64 {
	return s.now().Sub(s.startedAt).Milliseconds()
}
