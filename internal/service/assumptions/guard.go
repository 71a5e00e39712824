package assumptions

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/inkwell-ai/inkwell/internal/model"
)

// runDecisionGuard validates a proposed mutation against the document
// decision snapshot and merges conflict bookkeeping into the mutation.
//
// Snapshot fetches are best-effort: a provider failure is logged and treated
// as "no enforcement". When a decision governs the prompt (matching template
// key), answers must align with it, overrides are always rejected, and
// deferrals or escalations are permitted but recorded as unresolved against
// the decision.
func (s *Service) runDecisionGuard(ctx context.Context, session model.Session, prompt model.Prompt, mut *pendingMutation, action Action) error {
	snapshot := s.fetchSnapshot(ctx, session.DocumentID, session.SectionID)
	decision := snapshot.DecisionFor(prompt.TemplateKey)
	now := s.clock.Now()

	if decision == nil {
		if action == ActionAnswer {
			mut.setConflict = true
			mut.conflictDecisionID = nil
			mut.conflictResolvedAt = &now
		}
		return nil
	}

	switch action {
	case ActionSkipOverride:
		return model.Conflict(model.StatusDecisionConflict,
			"a documented decision cannot be overridden",
			map[string]any{"decisionId": decision.ID})

	case ActionDefer, ActionEscalate:
		decisionID := decision.ID
		mut.setConflict = true
		mut.conflictDecisionID = &decisionID
		mut.conflictResolvedAt = nil
		return nil

	case ActionAnswer:
		var raw string
		if mut.answerValue != nil {
			raw = *mut.answerValue
		}
		if !answerAligned(decision, prompt, raw) {
			return model.Conflict(model.StatusDecisionConflict,
				"answer conflicts with documented decision "+decision.ID,
				map[string]any{"decisionId": decision.ID})
		}
		mut.setConflict = true
		mut.conflictDecisionID = nil
		mut.conflictResolvedAt = &now
		return nil
	}
	return nil
}

// fetchSnapshot requests the decision snapshot, downgrading any provider
// failure to "no enforcement".
func (s *Service) fetchSnapshot(ctx context.Context, documentID, sectionID string) *model.DecisionSnapshot {
	if s.decisions == nil {
		return nil
	}
	snapshot, err := s.decisions.GetDecisionSnapshot(ctx, documentID, sectionID)
	if err != nil {
		s.logger.Warn("assumptions: decision snapshot unavailable, proceeding without enforcement",
			"document_id", documentID, "section_id", sectionID, "error", err)
		return nil
	}
	return snapshot
}

// answerAligned checks a raw answer against a governing decision. Multi-select
// answers must match on every selected item; single-select and text answers
// on exactly one value. A decision with no enforcement data aligns with
// everything.
func answerAligned(decision *model.Decision, prompt model.Prompt, raw string) bool {
	if !decision.Enforceable() {
		return true
	}

	answers := extractAnswers(prompt.ResponseType, raw)
	allowed := allowedForms(decision, prompt.Options)

	if prompt.ResponseType == model.ResponseMultiSelect {
		for _, a := range answers {
			if _, ok := allowed[canonical(a)]; !ok {
				return false
			}
		}
		return true
	}

	if len(answers) != 1 {
		return false
	}
	_, ok := allowed[canonical(answers[0])]
	return ok
}

// extractAnswers normalises a raw answer value into individual selections.
// Multi-select answers arrive as a JSON-encoded ordered array of option ids;
// a string that fails to decode is treated as a single selection. Elements
// are trimmed and empties skipped.
func extractAnswers(rt model.ResponseType, raw string) []string {
	if rt == model.ResponseMultiSelect {
		var items []string
		if err := json.Unmarshal([]byte(raw), &items); err == nil {
			out := make([]string, 0, len(items))
			for _, item := range items {
				if v := strings.TrimSpace(item); v != "" {
					out = append(out, v)
				}
			}
			return out
		}
	}
	v := strings.TrimSpace(raw)
	if v == "" {
		return nil
	}
	return []string{v}
}

// allowedForms builds the set of canonical forms a matching answer may take:
// allowed option ids, allowed literal answers, and the labels (and ids) of
// prompt options resolved from the allowed ids.
func allowedForms(decision *model.Decision, options []model.PromptOption) map[string]struct{} {
	byKey := optionIndex(options)

	allowed := make(map[string]struct{})
	for _, id := range decision.AllowedOptionIDs {
		allowed[canonical(id)] = struct{}{}
		if opt, ok := byKey[canonical(id)]; ok {
			allowed[canonical(opt.ID)] = struct{}{}
			allowed[canonical(opt.Label)] = struct{}{}
		}
	}
	for _, a := range decision.AllowedAnswers {
		if v := canonical(a); v != "" {
			allowed[v] = struct{}{}
		}
	}
	return allowed
}

// optionIndex indexes prompt options case-insensitively by both id and label.
func optionIndex(options []model.PromptOption) map[string]model.PromptOption {
	idx := make(map[string]model.PromptOption, len(options)*2)
	for _, opt := range options {
		idx[canonical(opt.ID)] = opt
		idx[canonical(opt.Label)] = opt
	}
	return idx
}

// canonical is the normalisation applied before any matching: trim, lower.
func canonical(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
