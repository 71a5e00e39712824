package inkwell

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Inkwell server (e.g. "http://localhost:8080").
	BaseURL string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used. Streaming requests always use a
	// timeout-free copy of the configured client.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Inkwell assumption resolution API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("inkwell: BaseURL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  httpClient,
	}, nil
}

// StartSession begins an assumption interview for a section.
func (c *Client) StartSession(ctx context.Context, req StartSessionRequest) (*StartSessionResponse, error) {
	var resp StartSessionResponse
	if err := c.post(ctx, "/v1/sessions", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetSession retrieves a session with its prompts.
func (c *Client) GetSession(ctx context.Context, sessionID uuid.UUID) (*SessionView, error) {
	var resp SessionView
	if err := c.get(ctx, "/v1/sessions/"+sessionID.String(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Respond applies an author action to a prompt.
func (c *Client) Respond(ctx context.Context, assumptionID uuid.UUID, req RespondRequest) (*RespondResponse, error) {
	var resp RespondResponse
	if err := c.post(ctx, "/v1/assumptions/"+assumptionID.String()+"/respond", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateProposal assembles a draft proposal from the current prompt state.
// Unresolved overrides surface as a 409; use IsConflict to detect it.
func (c *Client) CreateProposal(ctx context.Context, sessionID uuid.UUID, req CreateProposalRequest) (*Proposal, error) {
	var resp Proposal
	if err := c.post(ctx, "/v1/sessions/"+sessionID.String()+"/proposals", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListProposals returns a session's proposals in index order.
func (c *Client) ListProposals(ctx context.Context, sessionID uuid.UUID) ([]Proposal, error) {
	var resp []Proposal
	if err := c.get(ctx, "/v1/sessions/"+sessionID.String()+"/proposals", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CancelStream cancels a session's event stream and releases its queue slot.
func (c *Client) CancelStream(ctx context.Context, sessionID uuid.UUID, reason string) (*CancelResult, error) {
	var resp CancelResult
	body := map[string]string{}
	if reason != "" {
		body["reason"] = reason
	}
	if err := c.post(ctx, "/v1/sessions/"+sessionID.String()+"/stream/cancel", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StreamEvents subscribes to a session's SSE stream. Events arrive on the
// returned channel until the stream closes or ctx is canceled; the channel is
// closed either way. Progress events carry strictly increasing sequences.
func (c *Client) StreamEvents(ctx context.Context, sessionID uuid.UUID) (<-chan Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/sessions/"+sessionID.String()+"/events", nil)
	if err != nil {
		return nil, fmt.Errorf("inkwell: create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// A long-lived stream must not inherit the request timeout.
	streamClient := *c.client
	streamClient.Timeout = 0

	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inkwell: %s %s: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, parseErrorResponse(resp.StatusCode, body)
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer func() { _ = resp.Body.Close() }()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

// UpsertSection records a section's approved version and content.
func (c *Client) UpsertSection(ctx context.Context, sectionID string, req UpsertSectionRequest) (*Section, error) {
	var resp Section
	if err := c.put(ctx, "/v1/sections/"+sectionID, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SaveDraft stores a section draft. Version regressions surface as a 409;
// blocked drafts as a 412.
func (c *Client) SaveDraft(ctx context.Context, sectionID string, req SaveDraftRequest) (*Draft, error) {
	var resp Draft
	if err := c.put(ctx, "/v1/sections/"+sectionID+"/draft", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetDraft retrieves the current draft for a section.
func (c *Client) GetDraft(ctx context.Context, sectionID string) (*Draft, error) {
	var resp Draft
	if err := c.get(ctx, "/v1/sections/"+sectionID+"/draft", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DraftSaveCheck checks a pending save against the section's approved
// version and returns the conflict state, with a rebase payload when the
// approved version has advanced.
func (c *Client) DraftSaveCheck(ctx context.Context, sectionID string, req SaveDraftCheckRequest) (*SaveDraftCheckResponse, error) {
	var resp SaveDraftCheckResponse
	if err := c.post(ctx, "/v1/sections/"+sectionID+"/draft-save-check", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ConflictLog returns a section's conflict audit log, newest first.
func (c *Client) ConflictLog(ctx context.Context, sectionID string) ([]ConflictLogEntry, error) {
	var resp []ConflictLogEntry
	if err := c.get(ctx, "/v1/sections/"+sectionID+"/conflicts", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Health reports the server's health.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var resp Health
	if err := c.get(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	StatusCode int            `json:"statusCode"`
	Details    map[string]any `json:"details"`
}

func (c *Client) post(ctx context.Context, path string, body, dest any) error {
	return c.send(ctx, http.MethodPost, path, body, dest)
}

func (c *Client) put(ctx context.Context, path string, body, dest any) error {
	return c.send(ctx, http.MethodPut, path, body, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("inkwell: create request: %w", err)
	}
	return c.doRequest(req, dest)
}

func (c *Client) send(ctx context.Context, method, path string, body, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("inkwell: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("inkwell: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(req, dest)
}

func (c *Client) doRequest(req *http.Request, dest any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("inkwell: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("inkwell: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("inkwell: decode response envelope: %w", err)
	}
	if envelope.Data == nil {
		return json.Unmarshal(bodyBytes, dest)
	}
	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Details != nil {
		apiErr.Details = envelope.Details
		if s, ok := envelope.Details["status"].(string); ok {
			apiErr.Status = s
		}
		if m, ok := envelope.Details["message"].(string); ok {
			apiErr.Message = m
		}
	}
	if apiErr.Status == "" {
		apiErr.Status = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}
	return apiErr
}
