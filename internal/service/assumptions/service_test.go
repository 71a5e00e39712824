package assumptions_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-ai/inkwell/internal/model"
	"github.com/inkwell-ai/inkwell/internal/service/assumptions"
	"github.com/inkwell-ai/inkwell/internal/storage"
	"github.com/inkwell-ai/inkwell/internal/stream"
)

// memRepo is an in-memory Repository for service tests.
type memRepo struct {
	mu        sync.Mutex
	sessions  map[uuid.UUID]model.Session
	prompts   map[uuid.UUID][]model.Prompt
	proposals map[uuid.UUID][]model.Proposal
}

func newMemRepo() *memRepo {
	return &memRepo{
		sessions:  make(map[uuid.UUID]model.Session),
		prompts:   make(map[uuid.UUID][]model.Prompt),
		proposals: make(map[uuid.UUID][]model.Proposal),
	}
}

func (r *memRepo) CreateSessionWithPrompts(_ context.Context, session model.Session, prompts []model.Prompt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session
	r.prompts[session.ID] = append([]model.Prompt(nil), prompts...)
	return nil
}

func (r *memRepo) GetPromptWithSession(_ context.Context, promptID uuid.UUID) (model.Prompt, model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sessionID, prompts := range r.prompts {
		for _, p := range prompts {
			if p.ID == promptID {
				return p, r.sessions[sessionID], nil
			}
		}
	}
	return model.Prompt{}, model.Session{}, storage.ErrNotFound
}

func (r *memRepo) ListPrompts(_ context.Context, sessionID uuid.UUID) ([]model.Prompt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Prompt(nil), r.prompts[sessionID]...), nil
}

func (r *memRepo) GetSessionWithPrompts(_ context.Context, sessionID uuid.UUID) (model.Session, []model.Prompt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return model.Session{}, nil, storage.ErrNotFound
	}
	return session, append([]model.Prompt(nil), r.prompts[sessionID]...), nil
}

func (r *memRepo) FindSession(_ context.Context, sessionID uuid.UUID) (model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return model.Session{}, storage.ErrNotFound
	}
	return session, nil
}

func (r *memRepo) UpdatePromptWithSession(_ context.Context, prompt model.Prompt, session model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prompts := r.prompts[session.ID]
	found := false
	for i := range prompts {
		if prompts[i].ID == prompt.ID {
			prompts[i] = prompt
			found = true
		}
	}
	if !found {
		return storage.ErrNotFound
	}
	r.sessions[session.ID] = session
	return nil
}

func (r *memRepo) UpdateSessionMetadata(_ context.Context, session model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[session.ID]; !ok {
		return storage.ErrNotFound
	}
	r.sessions[session.ID] = session
	return nil
}

func (r *memRepo) CreateProposal(_ context.Context, proposal model.Proposal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proposals[proposal.SessionID] = append(r.proposals[proposal.SessionID], proposal)
	return nil
}

func (r *memRepo) ListProposals(_ context.Context, sessionID uuid.UUID) ([]model.Proposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Proposal(nil), r.proposals[sessionID]...), nil
}

// gatedRepo wraps memRepo with hooks that interleave concurrent work into the
// middle of a service call. Each hook fires after the wrapped read returns
// and before the caller sees the result.
type gatedRepo struct {
	*memRepo
	findSessionHook   func()
	promptSessionHook func()
	proposalHook      func()
}

func (r *gatedRepo) FindSession(ctx context.Context, sessionID uuid.UUID) (model.Session, error) {
	session, err := r.memRepo.FindSession(ctx, sessionID)
	if r.findSessionHook != nil {
		r.findSessionHook()
	}
	return session, err
}

func (r *gatedRepo) GetPromptWithSession(ctx context.Context, promptID uuid.UUID) (model.Prompt, model.Session, error) {
	prompt, session, err := r.memRepo.GetPromptWithSession(ctx, promptID)
	if r.promptSessionHook != nil {
		r.promptSessionHook()
	}
	return prompt, session, err
}

func (r *gatedRepo) CreateProposal(ctx context.Context, proposal model.Proposal) error {
	if r.proposalHook != nil {
		r.proposalHook()
	}
	return r.memRepo.CreateProposal(ctx, proposal)
}

// fakeStreams emits a single progress event per answer.
type fakeStreams struct{}

func (fakeStreams) GenerateEvents(_ context.Context, _ model.Session, _ model.Prompt, next func() int64) (<-chan stream.Event, error) {
	ch := make(chan stream.Event, 1)
	ch <- stream.Event{Type: stream.EventProgress, Sequence: next(), StageLabel: "Analyzing answer"}
	close(ch)
	return ch, nil
}

type fakeTemplates struct {
	templates []model.PromptTemplate
	err       error
}

func (p fakeTemplates) GetPrompts(context.Context, assumptions.TemplateRequest) ([]model.PromptTemplate, error) {
	return p.templates, p.err
}

type fakeDecisions struct {
	snapshot *model.DecisionSnapshot
	err      error
}

func (p fakeDecisions) GetDecisionSnapshot(context.Context, string, string) (*model.DecisionSnapshot, error) {
	return p.snapshot, p.err
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func intp(i int) *int { return &i }

func interviewTemplates() []model.PromptTemplate {
	return []model.PromptTemplate{
		{
			TemplateKey:  "security-baseline",
			Heading:      "Confirm security baseline",
			ResponseType: model.ResponseSingleSelect,
			Options: []model.PromptOption{
				{ID: "no-changes", Label: "No changes"},
				{ID: "risk", Label: "Requires review"},
			},
			Priority: intp(1),
		},
		{
			TemplateKey:  "latency-target",
			Heading:      "Latency target",
			Body:         "Confirm the p99 latency budget.",
			ResponseType: model.ResponseText,
			Priority:     intp(0),
		},
		{
			TemplateKey:  "integration-deps",
			Heading:      "Integration dependencies",
			ResponseType: model.ResponseMultiSelect,
			Options: []model.PromptOption{
				{ID: "ai-service", Label: "AI Service"},
				{ID: "telemetry", Label: "Telemetry"},
			},
			Priority: intp(2),
		},
	}
}

func newTestService(t *testing.T, decisions assumptions.DecisionProvider) (*assumptions.Service, *memRepo) {
	t.Helper()
	repo := newMemRepo()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc := assumptions.New(repo, fakeTemplates{templates: interviewTemplates()}, decisions, nil, nil, clock, logger)
	return svc, repo
}

func startSession(t *testing.T, svc *assumptions.Service) model.StartSessionResponse {
	t.Helper()
	res, err := svc.Start(context.Background(), assumptions.StartInput{
		SectionID:       "sec-architecture",
		DocumentID:      "doc-1",
		TemplateVersion: "v1",
		StartedBy:       "user-7",
	})
	require.NoError(t, err)
	return res
}

func promptByKey(t *testing.T, prompts []model.Prompt, key string) model.Prompt {
	t.Helper()
	for _, p := range prompts {
		if p.TemplateKey == key {
			return p
		}
	}
	t.Fatalf("no prompt with template key %s", key)
	return model.Prompt{}
}

func TestStart_EmptyTemplateSetRejected(t *testing.T) {
	repo := newMemRepo()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := assumptions.New(repo, fakeTemplates{}, nil, nil, nil, nil, logger)

	_, err := svc.Start(context.Background(), assumptions.StartInput{SectionID: "sec-1"})
	de, ok := model.AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, 400, de.StatusCode)
	assert.Equal(t, model.StatusEmptyPromptSet, de.Status())
}

func TestStart_InstantiatesPromptsByPriority(t *testing.T) {
	svc, _ := newTestService(t, nil)
	res := startSession(t, svc)

	assert.Equal(t, model.SessionInProgress, res.Session.Status)
	require.Len(t, res.Prompts, 3)
	assert.Equal(t, "latency-target", res.Prompts[0].TemplateKey)
	assert.Equal(t, "security-baseline", res.Prompts[1].TemplateKey)
	assert.Equal(t, "integration-deps", res.Prompts[2].TemplateKey)
	for _, p := range res.Prompts {
		assert.Equal(t, model.PromptPending, p.Status)
	}
	assert.Contains(t, res.SummaryMarkdown, "## Assumption Summary")
	assert.Nil(t, res.DecisionSnapshotID)
}

func TestStart_PinsDecisionSnapshot(t *testing.T) {
	snapshot := &model.DecisionSnapshot{SnapshotID: "snap-42"}
	svc, _ := newTestService(t, fakeDecisions{snapshot: snapshot})
	res := startSession(t, svc)
	require.NotNil(t, res.DecisionSnapshotID)
	assert.Equal(t, "snap-42", *res.DecisionSnapshotID)
}

func TestStart_MissingPriorityDefaultsToIndex(t *testing.T) {
	repo := newMemRepo()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	templates := fakeTemplates{templates: []model.PromptTemplate{
		{TemplateKey: "first", Heading: "First", ResponseType: model.ResponseText},
		{TemplateKey: "second", Heading: "Second", ResponseType: model.ResponseText},
	}}
	svc := assumptions.New(repo, templates, nil, nil, nil, nil, logger)

	res, err := svc.Start(context.Background(), assumptions.StartInput{SectionID: "sec-1"})
	require.NoError(t, err)
	require.Len(t, res.Prompts, 2)
	assert.Equal(t, 0, res.Prompts[0].Priority)
	assert.Equal(t, 1, res.Prompts[1].Priority)
}

func TestRespond_UnknownAssumption(t *testing.T) {
	svc, _ := newTestService(t, nil)
	_, err := svc.Respond(context.Background(), uuid.New(), assumptions.ActionAnswer, "user-7",
		assumptions.ActionPayload{Answer: "x"})
	de, ok := model.AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, 404, de.StatusCode)
}

// Answering every prompt walks the session to awaiting_draft; a proposal then
// moves it to drafting.
func TestFullInterviewReachesDraft(t *testing.T) {
	svc, _ := newTestService(t, nil)
	res := startSession(t, svc)
	ctx := context.Background()

	answers := map[string]string{
		"security-baseline": "no-changes",
		"latency-target":    "250ms",
		"integration-deps":  `["ai-service","telemetry"]`,
	}
	var last model.RespondResponse
	for key, answer := range answers {
		prompt := promptByKey(t, res.Prompts, key)
		var err error
		last, err = svc.Respond(ctx, prompt.ID, assumptions.ActionAnswer, "user-7",
			assumptions.ActionPayload{Answer: answer})
		require.NoError(t, err)
	}
	assert.Equal(t, model.SessionAwaitingDraft, last.SessionStatus)
	assert.Equal(t, 0, last.UnresolvedOverrideCount)

	proposal, err := svc.CreateProposal(ctx, res.Session.ID, model.SourceParamAIGenerate, "user-7", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, proposal.ProposalIndex)
	assert.Equal(t, model.SourceAIGenerated, proposal.Source)
	assert.Contains(t, proposal.ContentMarkdown, "## AI Draft Proposal")
	assert.Contains(t, proposal.ContentMarkdown, "Telemetry")
	require.NotNil(t, proposal.AIConfidence)
	assert.InDelta(t, 1.0, float64(*proposal.AIConfidence), 1e-6)
	require.Len(t, proposal.Rationale, 3)

	session, _, err := svc.GetSession(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionDrafting, session.Status)
}

// A governed prompt rejects conflicting answers and accepts aligned ones.
func TestRespond_DecisionConflict(t *testing.T) {
	snapshot := &model.DecisionSnapshot{
		SnapshotID: "snap-1",
		Decisions: []model.Decision{{
			ID:               "doc-security-baseline",
			TemplateKey:      "security-baseline",
			ResponseType:     model.ResponseSingleSelect,
			AllowedOptionIDs: []string{"no-changes"},
		}},
	}
	svc, _ := newTestService(t, fakeDecisions{snapshot: snapshot})
	res := startSession(t, svc)
	ctx := context.Background()
	prompt := promptByKey(t, res.Prompts, "security-baseline")

	_, err := svc.Respond(ctx, prompt.ID, assumptions.ActionAnswer, "user-7",
		assumptions.ActionPayload{Answer: "risk"})
	de, ok := model.AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, 409, de.StatusCode)
	assert.Equal(t, model.StatusDecisionConflict, de.Status())
	assert.Equal(t, "doc-security-baseline", de.Details["decisionId"])

	// The rejected answer left no trace.
	_, prompts, err := svc.GetSession(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PromptPending, promptByKey(t, prompts, "security-baseline").Status)

	got, err := svc.Respond(ctx, prompt.ID, assumptions.ActionAnswer, "user-7",
		assumptions.ActionPayload{Answer: "No changes"})
	require.NoError(t, err)
	assert.Equal(t, model.PromptAnswered, got.Prompt.Status)
	assert.Nil(t, got.Prompt.ConflictDecisionID)
	require.NotNil(t, got.Prompt.ConflictResolvedAt)
}

// Overrides block the session and proposal submission until resolved.
func TestOverrideBlocksSubmission(t *testing.T) {
	svc, _ := newTestService(t, nil)
	res := startSession(t, svc)
	ctx := context.Background()
	prompt := promptByKey(t, res.Prompts, "security-baseline")

	_, err := svc.Respond(ctx, prompt.ID, assumptions.ActionSkipOverride, "user-7", assumptions.ActionPayload{})
	de, ok := model.AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, model.StatusMissingOverride, de.Status())

	got, err := svc.Respond(ctx, prompt.ID, assumptions.ActionSkipOverride, "user-7",
		assumptions.ActionPayload{OverrideJustification: "legacy constraint"})
	require.NoError(t, err)
	assert.Equal(t, model.SessionBlocked, got.SessionStatus)
	assert.Equal(t, 1, got.UnresolvedOverrideCount)

	_, err = svc.CreateProposal(ctx, res.Session.ID, model.SourceParamManualSubmit, "user-7", nil)
	de, ok = model.AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, 409, de.StatusCode)
	assert.Equal(t, model.StatusOverridesBlock, de.Status())
	assert.Equal(t, 1, de.Details["overridesOpen"])

	// Answering the prompt resolves the override; the answer wipes the stale
	// justification.
	got, err = svc.Respond(ctx, prompt.ID, assumptions.ActionAnswer, "user-7",
		assumptions.ActionPayload{Answer: "no-changes"})
	require.NoError(t, err)
	assert.NotEqual(t, model.SessionBlocked, got.SessionStatus)
	assert.Equal(t, 0, got.UnresolvedOverrideCount)
	assert.Nil(t, got.Prompt.OverrideJustification)

	_, err = svc.CreateProposal(ctx, res.Session.ID, model.SourceParamManualSubmit, "user-7", nil)
	require.NoError(t, err)
}

func TestRespond_EscalationDescriptor(t *testing.T) {
	svc, _ := newTestService(t, nil)
	res := startSession(t, svc)
	prompt := promptByKey(t, res.Prompts, "latency-target")

	got, err := svc.Respond(context.Background(), prompt.ID, assumptions.ActionEscalate, "user-7",
		assumptions.ActionPayload{Notes: "needs sre review"})
	require.NoError(t, err)
	assert.Equal(t, model.PromptEscalated, got.Prompt.Status)
	require.NotNil(t, got.Escalation)
	assert.True(t, strings.HasPrefix(got.Escalation.AssignedTo, "esc-"))
	assert.Equal(t, "pending", got.Escalation.Status)
	assert.Equal(t, "needs sre review", got.Escalation.Notes)
}

func TestRespond_DeferClearsAnswer(t *testing.T) {
	svc, _ := newTestService(t, nil)
	res := startSession(t, svc)
	ctx := context.Background()
	prompt := promptByKey(t, res.Prompts, "latency-target")

	_, err := svc.Respond(ctx, prompt.ID, assumptions.ActionAnswer, "user-7",
		assumptions.ActionPayload{Answer: "250ms"})
	require.NoError(t, err)

	got, err := svc.Respond(ctx, prompt.ID, assumptions.ActionDefer, "user-7", assumptions.ActionPayload{})
	require.NoError(t, err)
	assert.Equal(t, model.PromptDeferred, got.Prompt.Status)
	assert.Nil(t, got.Prompt.AnswerValue)
	assert.Equal(t, model.SessionInProgress, got.SessionStatus)
}

func TestCreateProposal_UnknownSourceAndSession(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.CreateProposal(ctx, uuid.New(), "publish", "user-7", nil)
	de, ok := model.AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, model.StatusUnknownSource, de.Status())

	_, err = svc.CreateProposal(ctx, uuid.New(), model.SourceParamAIGenerate, "user-7", nil)
	de, ok = model.AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, 404, de.StatusCode)
}

func TestCreateProposal_IndexIncrementsAndManualOverride(t *testing.T) {
	svc, _ := newTestService(t, nil)
	res := startSession(t, svc)
	ctx := context.Background()

	first, err := svc.CreateProposal(ctx, res.Session.ID, model.SourceParamAIGenerate, "user-7", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, first.ProposalIndex)
	// Nothing answered yet.
	require.NotNil(t, first.AIConfidence)
	assert.InDelta(t, 0.0, float64(*first.AIConfidence), 1e-6)

	body := "## My Draft\n\nManual body."
	second, err := svc.CreateProposal(ctx, res.Session.ID, model.SourceParamManualSubmit, "user-7", &body)
	require.NoError(t, err)
	assert.Equal(t, 1, second.ProposalIndex)
	assert.Equal(t, model.SourceManualRevision, second.Source)
	assert.Equal(t, body, second.ContentMarkdown)
	assert.Nil(t, second.AIConfidence)

	proposals, err := svc.ListProposals(ctx, res.Session.ID)
	require.NoError(t, err)
	require.Len(t, proposals, 2)
	assert.Equal(t, first.ID, proposals[0].ID)
	assert.Equal(t, second.ID, proposals[1].ID)
}

func TestListProposals_UnknownSession(t *testing.T) {
	svc, _ := newTestService(t, nil)
	_, err := svc.ListProposals(context.Background(), uuid.New())
	de, ok := model.AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, 404, de.StatusCode)
}

// A skip_override racing a proposal submission is serialised behind the
// session lock: the override gate reads the session after any respond that
// beat it to the lock, and a respond that arrives later waits until the
// proposal is done.
func TestCreateProposal_ConcurrentOverrideNotLost(t *testing.T) {
	gated := &gatedRepo{memRepo: newMemRepo()}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc := assumptions.New(gated, fakeTemplates{templates: interviewTemplates()}, nil, nil, nil, clock, logger)

	res := startSession(t, svc)
	ctx := context.Background()
	prompt := promptByKey(t, res.Prompts, "security-baseline")

	respondDone := make(chan error, 1)
	gated.findSessionHook = func() {
		go func() {
			_, err := svc.Respond(ctx, prompt.ID, assumptions.ActionSkipOverride, "user-7",
				assumptions.ActionPayload{OverrideJustification: "legacy constraint"})
			respondDone <- err
		}()
		// Give the override every chance to slip in mid-submission.
		time.Sleep(50 * time.Millisecond)
	}

	overridesAtPersist := -1
	gated.proposalHook = func() {
		session, err := gated.memRepo.FindSession(ctx, res.Session.ID)
		require.NoError(t, err)
		overridesAtPersist = session.Counters.UnresolvedOverrides
	}

	_, err := svc.CreateProposal(ctx, res.Session.ID, model.SourceParamManualSubmit, "user-7", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, overridesAtPersist,
		"proposal persisted while an override was open")

	require.NoError(t, <-respondDone)
}

// A respond that loses the lock race to a proposal submission must not
// regress the drafting status it finds when it finally runs.
func TestRespond_ConcurrentProposalKeepsDrafting(t *testing.T) {
	gated := &gatedRepo{memRepo: newMemRepo()}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc := assumptions.New(gated, fakeTemplates{templates: interviewTemplates()}, nil, nil, nil, clock, logger)

	res := startSession(t, svc)
	ctx := context.Background()
	prompt := promptByKey(t, res.Prompts, "latency-target")

	var once sync.Once
	gated.promptSessionHook = func() {
		once.Do(func() {
			_, err := svc.CreateProposal(ctx, res.Session.ID, model.SourceParamManualSubmit, "user-7", nil)
			require.NoError(t, err)
		})
	}

	got, err := svc.Respond(ctx, prompt.ID, assumptions.ActionAnswer, "user-7",
		assumptions.ActionPayload{Answer: "250ms"})
	require.NoError(t, err)
	assert.Equal(t, model.SessionDrafting, got.SessionStatus)
}

// After an author cancels streaming, a later answer must not reopen the
// session's stream.
func TestRespond_AfterCancelDoesNotReopenStream(t *testing.T) {
	repo := newMemRepo()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	hub := stream.NewHub(stream.NewQueue(logger), 8, time.Now, logger)
	svc := assumptions.New(repo, fakeTemplates{templates: interviewTemplates()}, nil, fakeStreams{}, hub, clock, logger)

	res := startSession(t, svc)
	cancelRes := svc.CancelStreaming(res.Session.ID, "author_closed_editor")
	require.True(t, cancelRes.Released)

	prompt := promptByKey(t, res.Prompts, "latency-target")
	got, err := svc.Respond(context.Background(), prompt.ID, assumptions.ActionAnswer, "user-7",
		assumptions.ActionPayload{Answer: "250ms"})
	require.NoError(t, err)
	assert.Equal(t, model.PromptAnswered, got.Prompt.Status)

	_, _, ok := svc.Subscribe(res.Session.ID)
	assert.False(t, ok, "canceled session must stay closed")
	assert.Equal(t, 0, svc.ActiveStreams())
}
