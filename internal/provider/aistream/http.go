package aistream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/inkwell-ai/inkwell/internal/model"
	"github.com/inkwell-ai/inkwell/internal/stream"
)

// HTTPConfig holds configuration for the AI gateway stream client.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration // per-request ceiling covering the whole stream
}

// HTTPProvider consumes the AI gateway's SSE stream and re-emits it as
// sequenced progress events. Mid-stream faults degrade to fallback status
// events instead of surfacing as errors.
type HTTPProvider struct {
	baseURL *url.URL
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPProvider creates an AI gateway stream client. Timeout defaults to
// 60s when unset.
func NewHTTPProvider(cfg HTTPConfig, logger *slog.Logger) (*HTTPProvider, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("aistream: invalid base URL: %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPProvider{
		baseURL: base,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// streamRequest is the gateway request body.
type streamRequest struct {
	SessionID    string `json:"session_id"`
	SectionID    string `json:"section_id"`
	AssumptionID string `json:"assumption_id"`
	Heading      string `json:"heading"`
	Answer       string `json:"answer,omitempty"`
}

// upstreamDelta is one SSE data payload from the gateway.
type upstreamDelta struct {
	StageLabel     string `json:"stage_label"`
	ContentSnippet string `json:"content_snippet"`
	DeltaType      string `json:"delta_type"`
	Assertive      bool   `json:"assertive"`
	Done           bool   `json:"done"`
}

// GenerateEvents opens the gateway stream for one answered prompt and
// forwards its deltas. The channel closes when the upstream stream ends, ctx
// is canceled, or a fault has been converted to a terminal fallback event.
func (p *HTTPProvider) GenerateEvents(ctx context.Context, session model.Session, prompt model.Prompt, next func() int64) (<-chan stream.Event, error) {
	body := streamRequest{
		SessionID:    session.ID.String(),
		SectionID:    session.SectionID,
		AssumptionID: prompt.ID.String(),
		Heading:      prompt.Heading,
	}
	if prompt.AnswerValue != nil {
		body.Answer = *prompt.AnswerValue
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("aistream: marshal request: %w", err)
	}

	out := make(chan stream.Event)
	go func() {
		defer close(out)
		p.pump(ctx, payload, session, out, next)
	}()
	return out, nil
}

func (p *HTTPProvider) pump(ctx context.Context, payload []byte, session model.Session, out chan<- stream.Event, next func() int64) {
	start := time.Now()
	u := p.baseURL.JoinPath("v1", "stream")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		p.emitFallback(ctx, out, stream.StatusFallbackFailed, err.Error(), 0, false, start)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("aistream: gateway unreachable",
			"session_id", session.ID, "error", err)
		p.emitFallback(ctx, out, stream.StatusFallbackFailed, "gateway unreachable", 0, false, start)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.logger.Warn("aistream: gateway rejected stream",
			"session_id", session.ID, "status", resp.Status)
		p.emitFallback(ctx, out, stream.StatusFallbackFailed, "gateway returned "+resp.Status, 0, false, start)
		return
	}

	forwarded := 0
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var delta upstreamDelta
		if err := json.Unmarshal([]byte(data), &delta); err != nil {
			p.logger.Warn("aistream: malformed delta skipped",
				"session_id", session.ID, "error", err)
			continue
		}
		if delta.Done {
			return
		}

		announcement := stream.AnnouncePolite
		if delta.Assertive {
			announcement = stream.AnnounceAssertive
		}
		ev := stream.Event{
			Type:           stream.EventProgress,
			Sequence:       next(),
			StageLabel:     delta.StageLabel,
			ContentSnippet: delta.ContentSnippet,
			DeltaType:      delta.DeltaType,
			Announcement:   announcement,
			ElapsedMs:      time.Since(start).Milliseconds(),
		}
		select {
		case out <- ev:
			forwarded++
		case <-ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		p.logger.Warn("aistream: stream interrupted",
			"session_id", session.ID, "forwarded", forwarded, "error", err)
		p.emitFallback(ctx, out, stream.StatusFallbackActive, "stream interrupted", forwarded, true, start)
	}
}

func (p *HTTPProvider) emitFallback(ctx context.Context, out chan<- stream.Event, status stream.Status, reason string, preserved int, retried bool, start time.Time) {
	ev := stream.Event{
		Type:            stream.EventStatus,
		Status:          status,
		FallbackReason:  reason,
		PreservedTokens: preserved,
		RetryAttempted:  retried,
		ElapsedMs:       time.Since(start).Milliseconds(),
	}
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}
