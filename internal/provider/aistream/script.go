// Package aistream produces streaming events for answered prompts: a
// scripted provider for tests and local mode, and an SSE adapter for the
// upstream AI gateway. Provider failures never surface as errors; they become
// fallback status events on the stream.
package aistream

import (
	"context"
	"time"

	"github.com/inkwell-ai/inkwell/internal/model"
	"github.com/inkwell-ai/inkwell/internal/stream"
)

// ScriptedProvider emits a fixed progress script per answered prompt. Stages
// play in order with an optional delay between them; sequences are acquired
// from the caller at emission time so interleaved prompts stay globally
// ordered.
type ScriptedProvider struct {
	Stages []string
	Delay  time.Duration
}

// DefaultScript is the stage script used when none is configured.
func DefaultScript() []string {
	return []string{"Analyzing answer", "Updating draft outline", "Drafting section"}
}

// GenerateEvents plays the script for one answered prompt. The returned
// channel closes when the script finishes or ctx is canceled.
func (p *ScriptedProvider) GenerateEvents(ctx context.Context, _ model.Session, prompt model.Prompt, next func() int64) (<-chan stream.Event, error) {
	stages := p.Stages
	if len(stages) == 0 {
		stages = DefaultScript()
	}
	delay := p.Delay

	out := make(chan stream.Event)
	go func() {
		defer close(out)
		start := time.Now()
		for i, stage := range stages {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			announcement := stream.AnnouncePolite
			if i == len(stages)-1 {
				announcement = stream.AnnounceAssertive
			}
			ev := stream.Event{
				Type:           stream.EventProgress,
				Sequence:       next(),
				StageLabel:     stage,
				ContentSnippet: prompt.Heading,
				DeltaType:      "stage",
				Announcement:   announcement,
				ElapsedMs:      time.Since(start).Milliseconds(),
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
