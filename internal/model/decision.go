package model

// Decision is a document-level decision restricting valid answers for the
// prompt whose template key matches. At most one decision governs a prompt.
type Decision struct {
	ID               string       `json:"id"`
	TemplateKey      string       `json:"template_key"`
	ResponseType     ResponseType `json:"response_type"`
	AllowedOptionIDs []string     `json:"allowed_option_ids,omitempty"`
	AllowedAnswers   []string     `json:"allowed_answers,omitempty"`
	Value            string       `json:"value,omitempty"`
	Status           string       `json:"status,omitempty"`
}

// DecisionSnapshot is an immutable view of prior document-level decisions,
// supplied by the decision provider at session start and on each response.
type DecisionSnapshot struct {
	SnapshotID string     `json:"snapshot_id"`
	Decisions  []Decision `json:"decisions"`
}

// DecisionFor returns the decision governing the given template key, or nil.
func (s *DecisionSnapshot) DecisionFor(templateKey string) *Decision {
	if s == nil {
		return nil
	}
	for i := range s.Decisions {
		if s.Decisions[i].TemplateKey == templateKey {
			return &s.Decisions[i]
		}
	}
	return nil
}

// Enforceable reports whether the decision carries any enforcement data.
// A decision with neither allowed option ids nor allowed answers is treated
// as permissive: every answer aligns.
func (d *Decision) Enforceable() bool {
	return len(d.AllowedOptionIDs) > 0 || len(d.AllowedAnswers) > 0
}
