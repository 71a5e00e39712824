package server_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-ai/inkwell/internal/decision"
	"github.com/inkwell-ai/inkwell/internal/model"
	"github.com/inkwell-ai/inkwell/internal/provider/aistream"
	"github.com/inkwell-ai/inkwell/internal/server"
	"github.com/inkwell-ai/inkwell/internal/service/assumptions"
	"github.com/inkwell-ai/inkwell/internal/service/drafts"
	"github.com/inkwell-ai/inkwell/internal/storage/lite"
	"github.com/inkwell-ai/inkwell/internal/stream"
	"github.com/inkwell-ai/inkwell/internal/template"
)

// newTestServer wires the full stack over an in-memory store and returns a
// running httptest server. Streaming uses the scripted provider so tests stay
// deterministic.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := lite.Open(ctx, ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	hub := stream.NewHub(stream.NewQueue(logger), 32, time.Now, logger)

	sessions := assumptions.New(
		store,
		&template.StaticProvider{Default: template.DefaultTemplates()},
		&decision.StaticProvider{},
		&aistream.ScriptedProvider{},
		hub,
		assumptions.SystemClock{},
		logger,
	)
	resolver := drafts.NewResolver(store, nil, logger)

	srv := server.New(server.Config{
		Sessions:            sessions,
		Drafts:              resolver,
		Pinger:              store,
		Logger:              logger,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// decodeData unwraps the response envelope's data field into target.
func decodeData(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, target))
}

// decodeError unwraps the error envelope.
func decodeError(t *testing.T, resp *http.Response) model.APIError {
	t.Helper()
	defer resp.Body.Close()

	var apiErr model.APIError
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&apiErr))
	return apiErr
}

func startSession(t *testing.T, baseURL, sectionID string) model.StartSessionResponse {
	t.Helper()

	resp := doJSON(t, http.MethodPost, baseURL+"/v1/sessions", model.StartSessionRequest{
		SectionID:  sectionID,
		DocumentID: "doc-architecture",
		StartedBy:  "author-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var started model.StartSessionResponse
	decodeData(t, resp, &started)
	return started
}

func respond(t *testing.T, baseURL string, assumptionID uuid.UUID, body model.RespondRequest) model.RespondResponse {
	t.Helper()

	resp := doJSON(t, http.MethodPost, baseURL+"/v1/assumptions/"+assumptionID.String()+"/respond", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res model.RespondResponse
	decodeData(t, resp, &res)
	return res
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health model.HealthResponse
	decodeData(t, resp, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "connected", health.Storage)
	assert.Equal(t, "test", health.Version)
}

func TestStartSessionOrdersPrompts(t *testing.T) {
	ts := newTestServer(t)

	started := startSession(t, ts.URL, "sec-ordering")
	require.Len(t, started.Prompts, 3)
	assert.Equal(t, "latency-target", started.Prompts[0].TemplateKey)
	assert.Equal(t, "security-baseline", started.Prompts[1].TemplateKey)
	assert.Equal(t, "integration-deps", started.Prompts[2].TemplateKey)
	assert.Equal(t, model.SessionInProgress, started.Session.Status)
	assert.Zero(t, started.OverridesOpen)
	assert.Contains(t, started.SummaryMarkdown, "Answer: Not provided")
}

func TestStartSessionValidation(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/sessions", model.StartSessionRequest{
		DocumentID: "doc-architecture",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	apiErr := decodeError(t, resp)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestGetSessionInvalidID(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/sessions/not-a-uuid")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRespondUnknownAssumption(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/assumptions/"+uuid.NewString()+"/respond",
		model.RespondRequest{Action: "answer", ActorID: "author-1", Answer: "x"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFullInterviewAndProposalFlow(t *testing.T) {
	ts := newTestServer(t)

	started := startSession(t, ts.URL, "sec-flow")
	byKey := map[string]uuid.UUID{}
	for _, p := range started.Prompts {
		byKey[p.TemplateKey] = p.ID
	}

	respond(t, ts.URL, byKey["latency-target"], model.RespondRequest{
		Action: "answer", ActorID: "author-1", Answer: "p99 under 200ms",
	})
	respond(t, ts.URL, byKey["security-baseline"], model.RespondRequest{
		Action: "answer", ActorID: "author-1", Answer: "no-changes",
	})
	last := respond(t, ts.URL, byKey["integration-deps"], model.RespondRequest{
		Action: "answer", ActorID: "author-1", Answer: `["telemetry"]`,
	})
	assert.Equal(t, model.SessionAwaitingDraft, last.SessionStatus)

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/sessions/"+started.Session.ID.String()+"/proposals",
		model.CreateProposalRequest{Source: "ai_generate", ActorID: "author-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var proposal model.Proposal
	decodeData(t, resp, &proposal)
	assert.Equal(t, 0, proposal.ProposalIndex)
	assert.Equal(t, model.SourceAIGenerated, proposal.Source)
	require.NotNil(t, proposal.AIConfidence)
	assert.InDelta(t, 1.0, float64(*proposal.AIConfidence), 0.001)
	assert.Contains(t, proposal.ContentMarkdown, "p99 under 200ms")

	resp = doJSON(t, http.MethodGet, ts.URL+"/v1/sessions/"+started.Session.ID.String()+"/proposals", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var proposals []model.Proposal
	decodeData(t, resp, &proposals)
	require.Len(t, proposals, 1)

	resp = doJSON(t, http.MethodGet, ts.URL+"/v1/sessions/"+started.Session.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view struct {
		Session model.Session  `json:"session"`
		Prompts []model.Prompt `json:"prompts"`
	}
	decodeData(t, resp, &view)
	assert.Equal(t, model.SessionDrafting, view.Session.Status)
	require.Len(t, view.Prompts, 3)
}

func TestOverrideBlocksProposal(t *testing.T) {
	ts := newTestServer(t)

	started := startSession(t, ts.URL, "sec-override")
	security := started.Prompts[1]
	require.Equal(t, "security-baseline", security.TemplateKey)

	res := respond(t, ts.URL, security.ID, model.RespondRequest{
		Action:                "skip_override",
		ActorID:               "author-1",
		OverrideJustification: "covered by the platform review",
	})
	assert.Equal(t, 1, res.UnresolvedOverrideCount)

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/sessions/"+started.Session.ID.String()+"/proposals",
		model.CreateProposalRequest{Source: "manual_submit", ActorID: "author-1"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	apiErr := decodeError(t, resp)
	assert.EqualValues(t, 1, apiErr.Details["overridesOpen"])
}

func TestStreamEventsSSE(t *testing.T) {
	ts := newTestServer(t)

	started := startSession(t, ts.URL, "sec-sse")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		ts.URL+"/v1/sessions/"+started.Session.ID.String()+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := make(chan stream.Event, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev stream.Event
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev) == nil {
				frames <- ev
			}
		}
	}()

	// Answering kicks the scripted provider into emitting progress events.
	respond(t, ts.URL, started.Prompts[0].ID, model.RespondRequest{
		Action: "answer", ActorID: "author-1", Answer: "p99 under 200ms",
	})

	var progress []stream.Event
	for len(progress) < 3 {
		select {
		case ev := <-frames:
			if ev.Type == stream.EventProgress {
				progress = append(progress, ev)
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for progress events, got %d", len(progress))
		}
	}

	assert.Equal(t, int64(1), progress[0].Sequence)
	assert.Equal(t, "Analyzing answer", progress[0].StageLabel)
	assert.Equal(t, int64(3), progress[2].Sequence)
	assert.Equal(t, stream.AnnounceAssertive, progress[2].Announcement)
}

func TestStreamEventsNoActiveStream(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/sessions/" + uuid.NewString() + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelStreamReleasesSlot(t *testing.T) {
	ts := newTestServer(t)

	started := startSession(t, ts.URL, "sec-cancel")

	resp := doJSON(t, http.MethodPost,
		ts.URL+"/v1/sessions/"+started.Session.ID.String()+"/stream/cancel",
		map[string]string{"reason": "author closed the panel"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res stream.CancelResult
	decodeData(t, resp, &res)
	assert.True(t, res.Released)

	// The slot is gone, so a new subscription has nothing to attach to.
	sub, err := http.Get(ts.URL + "/v1/sessions/" + started.Session.ID.String() + "/events")
	require.NoError(t, err)
	defer sub.Body.Close()
	assert.Equal(t, http.StatusNotFound, sub.StatusCode)
}

func TestDraftSaveAndConflictEndpoints(t *testing.T) {
	ts := newTestServer(t)
	sectionID := "sec-drafts"
	base := ts.URL + "/v1/sections/" + sectionID

	resp := doJSON(t, http.MethodPut, base, model.UpsertSectionRequest{
		DocumentID:      "doc-architecture",
		ApprovedVersion: 4,
		ApprovedContent: "# Approved v4",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPut, base+"/draft", model.SaveDraftRequest{
		DraftVersion:     7,
		DraftBaseVersion: 4,
		ContentMarkdown:  "# Draft on v4",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var saved model.Draft
	decodeData(t, resp, &saved)
	assert.Equal(t, model.DraftClean, saved.ConflictState)

	check := doJSON(t, http.MethodPost, base+"/draft-save-check", model.SaveDraftCheckRequest{
		DraftBaseVersion: 4,
		DraftVersion:     7,
	})
	require.Equal(t, http.StatusOK, check.StatusCode)
	var checkRes model.SaveDraftCheckResponse
	decodeData(t, check, &checkRes)
	assert.Equal(t, model.DraftClean, checkRes.Status)

	// Approval advances past the draft base; the next save check must flag a
	// rebase and hand back a bumped draft.
	resp = doJSON(t, http.MethodPut, base, model.UpsertSectionRequest{
		DocumentID:      "doc-architecture",
		ApprovedVersion: 5,
		ApprovedContent: "# Approved v5",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	check = doJSON(t, http.MethodPost, base+"/draft-save-check", model.SaveDraftCheckRequest{
		DraftBaseVersion: 4,
		DraftVersion:     7,
		TriggeredBy:      "save",
	})
	require.Equal(t, http.StatusOK, check.StatusCode)
	decodeData(t, check, &checkRes)
	assert.Equal(t, model.DraftRebaseRequired, checkRes.Status)
	require.NotNil(t, checkRes.RebasedDraft)
	assert.Equal(t, 8, checkRes.RebasedDraft.DraftVersion)
	assert.Equal(t, "# Approved v5", checkRes.RebasedDraft.ContentMarkdown)

	conflicts := doJSON(t, http.MethodGet, base+"/conflicts", nil)
	require.Equal(t, http.StatusOK, conflicts.StatusCode)
	var entries []model.ConflictLogEntry
	decodeData(t, conflicts, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "save", entries[0].DetectedDuring)

	// Regressing the draft version is rejected.
	resp = doJSON(t, http.MethodPut, base+"/draft", model.SaveDraftRequest{
		DraftVersion:     6,
		DraftBaseVersion: 4,
		ContentMarkdown:  "# Stale draft",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	apiErr := decodeError(t, resp)
	assert.EqualValues(t, 7, apiErr.Details["existingVersion"])

	got := doJSON(t, http.MethodGet, base+"/draft", nil)
	require.Equal(t, http.StatusOK, got.StatusCode)
	var current model.Draft
	decodeData(t, got, &current)
	assert.Equal(t, 7, current.DraftVersion)
}

func TestUnknownSectionDraftCheck(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/sections/sec-missing/draft-save-check",
		model.SaveDraftCheckRequest{DraftBaseVersion: 1, DraftVersion: 2})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRequestIDPropagation(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-12345")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "req-12345", resp.Header.Get("X-Request-ID"))

	var envelope struct {
		Meta model.ResponseMeta `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, "req-12345", envelope.Meta.RequestID)
}

func TestUnknownBodyFieldRejected(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/sessions", map[string]any{
		"section_id":  "sec-x",
		"document_id": "doc-x",
		"bogus":       true,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
