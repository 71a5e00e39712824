// Package assumptions drives the assumption-resolution interview for one
// section of a versioned document: prioritised prompts, decision-snapshot
// enforcement, override and escalation bookkeeping, deterministic summaries,
// and draft proposal assembly.
//
// The HTTP layer delegates here; the package itself never constructs SQL and
// never talks to the wire. All collaborators are constructor-injected
// capability interfaces (see interfaces.go).
package assumptions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/inkwell-ai/inkwell/internal/ctxutil"
	"github.com/inkwell-ai/inkwell/internal/model"
	"github.com/inkwell-ai/inkwell/internal/storage"
	"github.com/inkwell-ai/inkwell/internal/stream"
	"github.com/inkwell-ai/inkwell/internal/telemetry"
)

// Service orchestrates assumption session lifecycle. Mutations to any one
// session are serialised behind a per-session lock; distinct sessions proceed
// in parallel.
type Service struct {
	repo      Repository
	templates TemplateProvider
	decisions DecisionProvider
	streams   StreamProvider
	hub       *stream.Hub
	clock     Clock
	logger    *slog.Logger

	sessionLatency     metric.Float64Histogram
	overridesRecorded  metric.Int64Counter
	proposalsGenerated metric.Int64Counter
	streamingProgress  metric.Int64Counter

	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
}

// New creates the session service. decisions, streams, and hub may be nil:
// a nil decision provider disables enforcement, a nil stream provider or hub
// disables streaming. A nil clock defaults to the system clock.
func New(repo Repository, templates TemplateProvider, decisions DecisionProvider, streams StreamProvider, hub *stream.Hub, clock Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = SystemClock{}
	}
	meter := telemetry.Meter("inkwell/assumptions")
	latency, _ := meter.Float64Histogram("inkwell.session.latency",
		metric.WithDescription("Session operation latency (ms)"),
		metric.WithUnit("ms"),
	)
	overrides, _ := meter.Int64Counter("inkwell.overrides.recorded",
		metric.WithDescription("Prompts skipped with an override justification"))
	proposals, _ := meter.Int64Counter("inkwell.proposals.generated",
		metric.WithDescription("Draft proposals created"))
	progress, _ := meter.Int64Counter("inkwell.streaming.progress",
		metric.WithDescription("Streaming progress events forwarded to sequencers"))
	return &Service{
		repo:               repo,
		templates:          templates,
		decisions:          decisions,
		streams:            streams,
		hub:                hub,
		clock:              clock,
		logger:             logger,
		sessionLatency:     latency,
		overridesRecorded:  overrides,
		proposalsGenerated: proposals,
		streamingProgress:  progress,
		locks:              make(map[uuid.UUID]*sync.Mutex),
	}
}

// StartInput identifies the section an author is drafting.
type StartInput struct {
	SectionID       string
	DocumentID      string
	TemplateVersion string
	StartedBy       string
}

// Start opens an assumption session: instantiate the prompt templates, pin
// the decision snapshot, persist session and prompts, and render the initial
// summary. Fails BadRequest when no templates are configured for the section.
func (s *Service) Start(ctx context.Context, in StartInput) (model.StartSessionResponse, error) {
	started := s.clock.Now()

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("inkwell.section_id", in.SectionID),
		attribute.String("inkwell.document_id", in.DocumentID),
	)

	templates, err := s.templates.GetPrompts(ctx, TemplateRequest{
		SectionID:       in.SectionID,
		DocumentID:      in.DocumentID,
		TemplateVersion: in.TemplateVersion,
	})
	if err != nil {
		return model.StartSessionResponse{}, fmt.Errorf("assumptions: load prompt templates: %w", err)
	}
	if len(templates) == 0 {
		return model.StartSessionResponse{}, model.BadRequest(model.StatusEmptyPromptSet,
			"no assumption prompts are configured for this section")
	}

	snapshot := s.fetchSnapshot(ctx, in.DocumentID, in.SectionID)

	session := model.Session{
		ID:              uuid.New(),
		SectionID:       in.SectionID,
		DocumentID:      in.DocumentID,
		TemplateVersion: in.TemplateVersion,
		StartedBy:       in.StartedBy,
		StartedAt:       started,
		Status:          model.SessionInProgress,
		UpdatedAt:       started,
	}
	if snapshot != nil {
		snapshotID := snapshot.SnapshotID
		session.DecisionSnapshotID = &snapshotID
	}

	prompts := make([]model.Prompt, len(templates))
	for i, tpl := range templates {
		priority := i
		if tpl.Priority != nil {
			priority = *tpl.Priority
		}
		prompts[i] = model.Prompt{
			ID:           uuid.New(),
			SessionID:    session.ID,
			TemplateKey:  tpl.TemplateKey,
			Heading:      tpl.Heading,
			Body:         tpl.Body,
			ResponseType: tpl.ResponseType,
			Options:      tpl.Options,
			Priority:     priority,
			Status:       model.PromptPending,
			CreatedAt:    started,
			UpdatedAt:    started,
		}
	}

	if err := s.repo.CreateSessionWithPrompts(ctx, session, prompts); err != nil {
		return model.StartSessionResponse{}, fmt.Errorf("assumptions: create session: %w", err)
	}

	session.SummaryMarkdown = renderSummary(session, prompts)
	if err := s.repo.UpdateSessionMetadata(ctx, session); err != nil {
		return model.StartSessionResponse{}, fmt.Errorf("assumptions: persist summary: %w", err)
	}

	if s.streamingEnabled() {
		_, res := s.hub.Open(session.ID, session.SectionID)
		s.logger.Info("assumptions: streaming admitted",
			"session_id", session.ID, "section_id", session.SectionID,
			"disposition", res.Disposition)
	}

	latencyMs := float64(s.clock.Now().Sub(started).Milliseconds())
	s.sessionLatency.Record(ctx, latencyMs, metric.WithAttributes(attribute.String("operation", "start")))
	s.telemetryRecord(ctx, "session.latency_ms", "start", session, latencyMs)

	return model.StartSessionResponse{
		Session:            session,
		Prompts:            sortByPriority(prompts),
		OverridesOpen:      session.Counters.UnresolvedOverrides,
		SummaryMarkdown:    session.SummaryMarkdown,
		DecisionSnapshotID: session.DecisionSnapshotID,
	}, nil
}

// Respond applies one author action to a prompt: resolve the intended
// mutation, run the decision guard, then atomically persist the mutated
// prompt together with the recomputed counters, status, and summary.
func (s *Service) Respond(ctx context.Context, assumptionID uuid.UUID, action Action, actorID string, payload ActionPayload) (model.RespondResponse, error) {
	prompt, session, err := s.repo.GetPromptWithSession(ctx, assumptionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.RespondResponse{}, model.NotFound("assumption", assumptionID.String())
		}
		return model.RespondResponse{}, fmt.Errorf("assumptions: load prompt: %w", err)
	}

	unlock := s.lockSession(session.ID)
	defer unlock()

	// The first read only located the session. Reload under the lock so the
	// mutation and the derived status see every write that finished while we
	// waited for it.
	prompt, session, err = s.repo.GetPromptWithSession(ctx, assumptionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.RespondResponse{}, model.NotFound("assumption", assumptionID.String())
		}
		return model.RespondResponse{}, fmt.Errorf("assumptions: load prompt: %w", err)
	}

	mut, err := resolveMutation(action, payload)
	if err != nil {
		return model.RespondResponse{}, err
	}
	if err := s.runDecisionGuard(ctx, session, prompt, &mut, action); err != nil {
		return model.RespondResponse{}, err
	}

	now := s.clock.Now()
	updated := applyMutation(prompt, mut, now)

	all, err := s.repo.ListPrompts(ctx, session.ID)
	if err != nil {
		return model.RespondResponse{}, fmt.Errorf("assumptions: list prompts: %w", err)
	}
	for i := range all {
		if all[i].ID == updated.ID {
			all[i] = updated
		}
	}

	session.Counters = model.CountersFor(all)
	session.Status = model.DeriveSessionStatus(session.Status, session.Counters, len(all))
	session.UpdatedAt = now
	session.SummaryMarkdown = renderSummary(session, all)

	if err := s.repo.UpdatePromptWithSession(ctx, updated, session); err != nil {
		return model.RespondResponse{}, fmt.Errorf("assumptions: persist response: %w", err)
	}

	if action == ActionSkipOverride {
		s.overridesRecorded.Add(ctx, 1)
		s.telemetryRecord(ctx, "override.recorded", string(action), session, nil)
	}

	s.routeStreaming(ctx, session, updated, action)

	return model.RespondResponse{
		Prompt:                  updated,
		SessionStatus:           session.Status,
		UnresolvedOverrideCount: session.Counters.UnresolvedOverrides,
		Escalation:              mut.escalation,
	}, nil
}

// CreateProposal assembles an immutable draft proposal from the current
// prompt state. Open overrides block submission outright.
func (s *Service) CreateProposal(ctx context.Context, sessionID uuid.UUID, sourceParam, actorID string, draftOverride *string) (model.Proposal, error) {
	source, ok := model.CanonicalSource(sourceParam)
	if !ok {
		return model.Proposal{}, model.BadRequest(model.StatusUnknownSource,
			"unknown proposal source: "+sourceParam)
	}

	// The override gate must see every respond that finished before this
	// submission, so the session is read under its lock.
	unlock := s.lockSession(sessionID)
	defer unlock()

	session, err := s.repo.FindSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Proposal{}, model.NotFound("session", sessionID.String())
		}
		return model.Proposal{}, fmt.Errorf("assumptions: load session: %w", err)
	}

	if n := session.Counters.UnresolvedOverrides; n > 0 {
		return model.Proposal{}, model.Conflict(model.StatusOverridesBlock,
			"unresolved overrides block proposal submission",
			map[string]any{"overridesOpen": n})
	}

	prompts, err := s.repo.ListPrompts(ctx, sessionID)
	if err != nil {
		return model.Proposal{}, fmt.Errorf("assumptions: list prompts: %w", err)
	}

	var body string
	var confidence *float32
	switch source {
	case model.SourceAIGenerated:
		body = renderAIProposal(prompts)
		c := aiConfidence(prompts)
		confidence = &c
	default:
		body = renderManualProposal(prompts, draftOverride)
	}

	existing, err := s.repo.ListProposals(ctx, sessionID)
	if err != nil {
		return model.Proposal{}, fmt.Errorf("assumptions: list proposals: %w", err)
	}

	now := s.clock.Now()
	proposal := model.Proposal{
		ID:              uuid.New(),
		SessionID:       sessionID,
		ProposalIndex:   len(existing),
		Source:          source,
		ContentMarkdown: body,
		Rationale:       buildRationale(prompts),
		AIConfidence:    confidence,
		CreatedAt:       now,
	}
	if err := s.repo.CreateProposal(ctx, proposal); err != nil {
		return model.Proposal{}, fmt.Errorf("assumptions: create proposal: %w", err)
	}

	session.Status = model.SessionDrafting
	session.UpdatedAt = now
	if err := s.repo.UpdateSessionMetadata(ctx, session); err != nil {
		return model.Proposal{}, fmt.Errorf("assumptions: update session: %w", err)
	}

	s.proposalsGenerated.Add(ctx, 1, metric.WithAttributes(attribute.String("source", string(source))))
	s.telemetryRecord(ctx, "draft_proposal.generated", sourceParam, session, proposal.ProposalIndex)

	// Drafting releases the section's streaming slot; a waiting session is
	// promoted.
	if s.hub != nil {
		s.hub.Complete(sessionID)
		s.telemetryRecord(ctx, "session.completed", "create_proposal", session, nil)
	}

	return proposal, nil
}

// ListProposals returns a session's proposals ordered by proposal index.
func (s *Service) ListProposals(ctx context.Context, sessionID uuid.UUID) ([]model.Proposal, error) {
	if _, err := s.repo.FindSession(ctx, sessionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, model.NotFound("session", sessionID.String())
		}
		return nil, fmt.Errorf("assumptions: load session: %w", err)
	}
	proposals, err := s.repo.ListProposals(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("assumptions: list proposals: %w", err)
	}
	return proposals, nil
}

// GetSession returns a session with its prompts sorted by priority.
func (s *Service) GetSession(ctx context.Context, sessionID uuid.UUID) (model.Session, []model.Prompt, error) {
	session, prompts, err := s.repo.GetSessionWithPrompts(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Session{}, nil, model.NotFound("session", sessionID.String())
		}
		return model.Session{}, nil, fmt.Errorf("assumptions: load session: %w", err)
	}
	return session, sortByPriority(prompts), nil
}

// Subscribe attaches a consumer to a session's event stream.
func (s *Service) Subscribe(sessionID uuid.UUID) (<-chan stream.Event, func(), bool) {
	if s.hub == nil {
		return nil, nil, false
	}
	seq, ok := s.hub.Get(sessionID)
	if !ok {
		return nil, nil, false
	}
	ch, cancel := seq.Subscribe()
	return ch, cancel, true
}

// CancelStreaming cooperatively cancels a session's stream and releases its
// queue slot.
func (s *Service) CancelStreaming(sessionID uuid.UUID, reason string) stream.CancelResult {
	if s.hub == nil {
		return stream.CancelResult{Released: false}
	}
	return s.hub.Cancel(sessionID, reason)
}

// ActiveStreams reports active streaming sessions for the health endpoint.
func (s *Service) ActiveStreams() int {
	if s.hub == nil {
		return 0
	}
	return s.hub.ActiveStreams()
}

// routeStreaming translates an author action into stream control and, for
// answers, kicks the provider into producing events for the prompt.
func (s *Service) routeStreaming(ctx context.Context, session model.Session, prompt model.Prompt, action Action) {
	if !s.streamingEnabled() {
		return
	}
	seq, ok := s.hub.Get(session.ID)
	if !ok {
		var res stream.EnqueueResult
		seq, res = s.hub.Open(session.ID, session.SectionID)
		if seq == nil {
			// Canceled streams stay closed; the answer itself already landed.
			return
		}
		s.logger.Info("assumptions: streaming re-admitted",
			"session_id", session.ID, "disposition", res.Disposition)
	}

	switch action {
	case ActionDefer:
		seq.Defer()
		return
	case ActionAnswer:
		seq.Resume()
	default:
		return
	}

	// The request context ends with the HTTP call; the provider pump keeps
	// the trace context but not the cancellation.
	go s.pumpProviderEvents(context.WithoutCancel(ctx), seq, session, prompt)
}

// pumpProviderEvents forwards provider events into the sequencer until the
// provider finishes or the stream is closed.
func (s *Service) pumpProviderEvents(ctx context.Context, seq *stream.Sequencer, session model.Session, prompt model.Prompt) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-seq.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	events, err := s.streams.GenerateEvents(ctx, session, prompt, seq.NextSequence)
	if err != nil {
		s.logger.Warn("assumptions: stream provider failed to start",
			"session_id", session.ID, "assumption_id", prompt.ID, "error", err)
		return
	}
	for ev := range events {
		if ev.Type == stream.EventProgress {
			s.streamingProgress.Add(ctx, 1)
			s.logger.Debug("telemetry",
				"event", "streaming.progress",
				"session_id", session.ID,
				"section_id", session.SectionID,
				"value", ev.Sequence)
		}
		seq.Ingest(ev)
	}
}

func (s *Service) streamingEnabled() bool {
	return s.streams != nil && s.hub != nil
}

// lockSession serialises mutations per session.
func (s *Service) lockSession(id uuid.UUID) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	s.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// aiConfidence scores an AI proposal by how much of the prompt set was
// actually answered.
func aiConfidence(prompts []model.Prompt) float32 {
	if len(prompts) == 0 {
		return 0
	}
	answered := 0
	for _, p := range prompts {
		if p.Status == model.PromptAnswered {
			answered++
		}
	}
	return float32(answered) / float32(len(prompts))
}

// telemetryRecord emits one structured telemetry record through the logger.
func (s *Service) telemetryRecord(ctx context.Context, event, action string, session model.Session, value any) {
	overrideStatus := "none"
	if session.Counters.UnresolvedOverrides > 0 {
		overrideStatus = "open"
	}
	attrs := []any{
		"event", event,
		"action", action,
		"request_id", ctxutil.RequestID(ctx),
		"session_id", session.ID,
		"section_id", session.SectionID,
		"override_status", overrideStatus,
	}
	if value != nil {
		attrs = append(attrs, "value", value)
	}
	s.logger.Info("telemetry", attrs...)
}
