package decision

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-ai/inkwell/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewHTTPProvider_InvalidURL(t *testing.T) {
	_, err := NewHTTPProvider(Config{BaseURL: "://bad"}, testLogger())
	assert.Error(t, err)
}

func TestGetDecisionSnapshot(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/v1/documents/doc-1/decision-snapshot", r.URL.Path)
		assert.Equal(t, "sec-architecture", r.URL.Query().Get("section_id"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"snapshot_id": "snap-1",
			"decisions": [{
				"id": "doc-security-baseline",
				"template_key": "security-baseline",
				"response_type": "single_select",
				"allowed_option_ids": ["no-changes"]
			}]
		}`))
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(Config{BaseURL: srv.URL, CacheTTL: time.Minute}, testLogger())
	require.NoError(t, err)

	snapshot, err := p.GetDecisionSnapshot(context.Background(), "doc-1", "sec-architecture")
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, "snap-1", snapshot.SnapshotID)
	require.Len(t, snapshot.Decisions, 1)
	assert.Equal(t, "doc-security-baseline", snapshot.Decisions[0].ID)

	decision := snapshot.DecisionFor("security-baseline")
	require.NotNil(t, decision)
	assert.True(t, decision.Enforceable())

	// Second call within the TTL is served from cache.
	_, err = p.GetDecisionSnapshot(context.Background(), "doc-1", "sec-architecture")
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load())
}

func TestGetDecisionSnapshot_NotFoundMeansNoDecisions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(Config{BaseURL: srv.URL}, testLogger())
	require.NoError(t, err)

	snapshot, err := p.GetDecisionSnapshot(context.Background(), "doc-1", "sec-1")
	require.NoError(t, err)
	assert.Nil(t, snapshot)
}

func TestGetDecisionSnapshot_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(Config{BaseURL: srv.URL}, testLogger())
	require.NoError(t, err)

	_, err = p.GetDecisionSnapshot(context.Background(), "doc-1", "sec-1")
	assert.Error(t, err)
}

func TestStaticProvider(t *testing.T) {
	p := &StaticProvider{Snapshot: &model.DecisionSnapshot{SnapshotID: "snap-static"}}
	snapshot, err := p.GetDecisionSnapshot(context.Background(), "doc-1", "sec-1")
	require.NoError(t, err)
	assert.Equal(t, "snap-static", snapshot.SnapshotID)
}
