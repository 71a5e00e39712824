// Package template supplies the prompt templates assumption sessions are
// built from.
package template

import (
	"context"

	"github.com/inkwell-ai/inkwell/internal/model"
	"github.com/inkwell-ai/inkwell/internal/service/assumptions"
)

// StaticProvider serves a fixed template set per section, falling back to a
// default set for unknown sections. An empty default means unknown sections
// get no prompts and session start fails.
type StaticProvider struct {
	BySection map[string][]model.PromptTemplate
	Default   []model.PromptTemplate
}

// GetPrompts returns the template set for the requested section.
func (p *StaticProvider) GetPrompts(_ context.Context, req assumptions.TemplateRequest) ([]model.PromptTemplate, error) {
	if templates, ok := p.BySection[req.SectionID]; ok {
		return templates, nil
	}
	return p.Default, nil
}

func intp(i int) *int { return &i }

// DefaultTemplates is the built-in interview used when no section-specific
// template set is configured.
func DefaultTemplates() []model.PromptTemplate {
	return []model.PromptTemplate{
		{
			TemplateKey:  "security-baseline",
			Heading:      "Confirm security baseline",
			Body:         "Does this section change the documented security posture?",
			ResponseType: model.ResponseSingleSelect,
			Options: []model.PromptOption{
				{ID: "no-changes", Label: "No changes", DefaultSelected: true},
				{ID: "risk", Label: "Requires review", Description: "Flags the section for a security pass."},
			},
			Priority: intp(1),
		},
		{
			TemplateKey:  "latency-target",
			Heading:      "Latency target",
			Body:         "State the p99 latency budget this section commits to.",
			ResponseType: model.ResponseText,
			Priority:     intp(0),
		},
		{
			TemplateKey:  "integration-deps",
			Heading:      "Integration dependencies",
			Body:         "Which upstream services does this section depend on?",
			ResponseType: model.ResponseMultiSelect,
			Options: []model.PromptOption{
				{ID: "ai-service", Label: "AI Service"},
				{ID: "telemetry", Label: "Telemetry"},
				{ID: "billing", Label: "Billing"},
			},
			Priority: intp(2),
		},
	}
}
