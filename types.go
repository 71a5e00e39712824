package inkwell

import "github.com/inkwell-ai/inkwell/internal/model"

// PromptOption is one selectable option on a single- or multi-select prompt.
// Public mirror of the internal type so embedding consumers do not import
// internal packages.
type PromptOption struct {
	ID              string
	Label           string
	Description     string
	DefaultSelected bool
}

// ResponseType enumerates how a prompt is answered.
type ResponseType string

const (
	ResponseSingleSelect ResponseType = "single_select"
	ResponseMultiSelect  ResponseType = "multi_select"
	ResponseText         ResponseType = "text"
)

// PromptTemplate describes one prompt in a section's assumption interview.
// Lower priority sorts first; a nil priority falls back to template order.
type PromptTemplate struct {
	TemplateKey  string
	Heading      string
	Body         string
	ResponseType ResponseType
	Options      []PromptOption
	Priority     *int
}

func toInternalTemplate(t PromptTemplate) model.PromptTemplate {
	opts := make([]model.PromptOption, len(t.Options))
	for i, o := range t.Options {
		opts[i] = model.PromptOption{
			ID:              o.ID,
			Label:           o.Label,
			Description:     o.Description,
			DefaultSelected: o.DefaultSelected,
		}
	}
	return model.PromptTemplate{
		TemplateKey:  t.TemplateKey,
		Heading:      t.Heading,
		Body:         t.Body,
		ResponseType: model.ResponseType(t.ResponseType),
		Options:      opts,
		Priority:     t.Priority,
	}
}

func toInternalTemplates(templates []PromptTemplate) []model.PromptTemplate {
	out := make([]model.PromptTemplate, len(templates))
	for i, t := range templates {
		out[i] = toInternalTemplate(t)
	}
	return out
}
