// Package decision supplies document decision snapshots from the upstream
// decision service. Snapshot fetches are best-effort with a bounded timeout;
// callers treat any failure as "no enforcement".
package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/inkwell-ai/inkwell/internal/model"
)

// Config holds configuration for the decision service client.
type Config struct {
	BaseURL  string // e.g. "http://localhost:9090"
	Timeout  time.Duration
	CacheTTL time.Duration
}

type cachedSnapshot struct {
	snapshot *model.DecisionSnapshot
	fetched  time.Time
}

// HTTPProvider fetches decision snapshots over HTTP. Concurrent fetches for
// the same document section collapse into one request; successful responses
// are cached for a short TTL so a burst of respond calls does not hammer the
// decision service.
type HTTPProvider struct {
	baseURL *url.URL
	client  *http.Client
	ttl     time.Duration
	logger  *slog.Logger

	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]cachedSnapshot
}

// NewHTTPProvider creates a decision service client. Timeout defaults to 2s
// and cache TTL to 5s when unset.
func NewHTTPProvider(cfg Config, logger *slog.Logger) (*HTTPProvider, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("decision: invalid base URL: %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &HTTPProvider{
		baseURL: base,
		client:  &http.Client{Timeout: timeout},
		ttl:     ttl,
		logger:  logger,
		cache:   make(map[string]cachedSnapshot),
	}, nil
}

// GetDecisionSnapshot returns the decision snapshot for a document section.
// A nil snapshot with nil error means no decisions are recorded.
func (p *HTTPProvider) GetDecisionSnapshot(ctx context.Context, documentID, sectionID string) (*model.DecisionSnapshot, error) {
	key := documentID + "/" + sectionID

	p.mu.RLock()
	cached, ok := p.cache[key]
	p.mu.RUnlock()
	if ok && time.Since(cached.fetched) < p.ttl {
		return cached.snapshot, nil
	}

	v, err, _ := p.group.Do(key, func() (any, error) {
		snapshot, err := p.fetch(ctx, documentID, sectionID)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.cache[key] = cachedSnapshot{snapshot: snapshot, fetched: time.Now()}
		p.mu.Unlock()
		return snapshot, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.DecisionSnapshot), nil
}

func (p *HTTPProvider) fetch(ctx context.Context, documentID, sectionID string) (*model.DecisionSnapshot, error) {
	u := p.baseURL.JoinPath("v1", "documents", documentID, "decision-snapshot")
	q := u.Query()
	q.Set("section_id", sectionID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("decision: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("decision: fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		// No decisions recorded for this section.
		return nil, nil
	default:
		return nil, fmt.Errorf("decision: snapshot request failed: %s", resp.Status)
	}

	var snapshot model.DecisionSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("decision: decode snapshot: %w", err)
	}
	p.logger.Debug("decision: snapshot fetched",
		"document_id", documentID, "section_id", sectionID,
		"snapshot_id", snapshot.SnapshotID, "decisions", len(snapshot.Decisions))
	return &snapshot, nil
}

// StaticProvider serves a fixed snapshot, used in tests and local mode.
type StaticProvider struct {
	Snapshot *model.DecisionSnapshot
	Err      error
}

// GetDecisionSnapshot returns the configured snapshot or error.
func (p *StaticProvider) GetDecisionSnapshot(context.Context, string, string) (*model.DecisionSnapshot, error) {
	return p.Snapshot, p.Err
}
