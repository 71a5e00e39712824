package inkwell

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func writeAPIError(w http.ResponseWriter, status int, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"statusCode": status,
		"details":    details,
	})
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}

func TestStartSessionUnwrapsEnvelope(t *testing.T) {
	sessionID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/sessions", r.URL.Path)

		var req StartSessionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "sec-1", req.SectionID)

		writeData(w, http.StatusCreated, StartSessionResponse{
			Session: Session{ID: sessionID, SectionID: req.SectionID, Status: SessionInProgress},
			Prompts: []Prompt{{TemplateKey: "latency-target"}},
		})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	res, err := c.StartSession(context.Background(), StartSessionRequest{
		SectionID: "sec-1", DocumentID: "doc-1",
	})
	require.NoError(t, err)
	assert.Equal(t, sessionID, res.Session.ID)
	require.Len(t, res.Prompts, 1)
}

func TestRespondConflictError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusConflict, map[string]any{
			"status":     "decision_conflict",
			"message":    "answer conflicts with a recorded decision",
			"decisionId": "doc-security-baseline",
		})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Respond(context.Background(), uuid.New(), RespondRequest{
		Action: "answer", ActorID: "author-1", Answer: "risk",
	})
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "decision_conflict", apiErr.Status)
	assert.Equal(t, "doc-security-baseline", apiErr.Details["decisionId"])
}

func TestIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusNotFound, map[string]any{
			"status": "not_found", "message": "session not found",
		})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.GetSession(context.Background(), uuid.New())
	assert.True(t, IsNotFound(err))
	assert.False(t, IsConflict(err))
}

func TestDraftSaveCheckRebase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/sections/sec-9/draft-save-check", r.URL.Path)
		writeData(w, http.StatusOK, SaveDraftCheckResponse{
			Status:         "rebase_required",
			ConflictReason: "approved version advanced from 4 to 5",
			RebasedDraft:   &RebasedDraft{DraftVersion: 8, ContentMarkdown: "# Approved v5"},
		})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	res, err := c.DraftSaveCheck(context.Background(), "sec-9", SaveDraftCheckRequest{
		DraftBaseVersion: 4, DraftVersion: 7,
	})
	require.NoError(t, err)
	assert.Equal(t, "rebase_required", res.Status)
	require.NotNil(t, res.RebasedDraft)
	assert.Equal(t, 8, res.RebasedDraft.DraftVersion)
}

func TestStreamEventsParsesFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		frames := []Event{
			{Type: "progress", Sequence: 1, StageLabel: "Analyzing answer"},
			{Type: "progress", Sequence: 2, StageLabel: "Drafting section"},
			{Type: "status", Status: "completed"},
		}
		for _, ev := range frames {
			raw, _ := json.Marshal(ev)
			_, _ = w.Write([]byte("event: " + ev.Type + "\ndata: " + string(raw) + "\n\n"))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := c.StreamEvents(ctx, uuid.New())
	require.NoError(t, err)

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 3)
	assert.Equal(t, int64(1), got[0].Sequence)
	assert.Equal(t, "Analyzing answer", got[0].StageLabel)
	assert.Equal(t, "completed", got[2].Status)
}

func TestStreamEventsNoActiveStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusNotFound, map[string]any{
			"status": "not_found", "message": "no active stream for session",
		})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.StreamEvents(context.Background(), uuid.New())
	assert.True(t, IsNotFound(err))
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, Health{Status: "healthy", Storage: "connected"})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)
}
