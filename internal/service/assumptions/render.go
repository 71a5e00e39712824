package assumptions

import (
	"fmt"
	"sort"
	"strings"

	"github.com/inkwell-ai/inkwell/internal/model"
)

// The summary and proposal grammars below are wire contracts: headings,
// bullet labels, and ordering are matched bit-exactly by downstream
// consumers. Change nothing here without versioning the contract.

const notProvided = "Not provided"

// sortByPriority orders prompts by ascending priority, stable on insertion
// order for ties.
func sortByPriority(prompts []model.Prompt) []model.Prompt {
	out := make([]model.Prompt, len(prompts))
	copy(out, prompts)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// renderSummary builds the deterministic markdown summary for a session.
func renderSummary(session model.Session, prompts []model.Prompt) string {
	c := session.Counters

	var b strings.Builder
	b.WriteString("## Assumption Summary\n\n")
	fmt.Fprintf(&b, "- Session status: %s\n", session.Status)
	fmt.Fprintf(&b, "- Overrides open: %d\n", c.UnresolvedOverrides)
	fmt.Fprintf(&b, "- Escalations: %d\n", c.Escalated)
	fmt.Fprintf(&b, "- Deferred: %d\n", c.Deferred)
	fmt.Fprintf(&b, "- Answered: %d\n", c.Answered)

	b.WriteString("\n### Outstanding Items\n\n")
	outstanding := false
	if c.UnresolvedOverrides > 0 {
		fmt.Fprintf(&b, "- Overrides awaiting resolution: %d\n", c.UnresolvedOverrides)
		outstanding = true
	}
	if c.Escalated > 0 {
		fmt.Fprintf(&b, "- Escalations awaiting assignee: %d\n", c.Escalated)
		outstanding = true
	}
	if c.Deferred > 0 {
		fmt.Fprintf(&b, "- Prompts deferred: %d\n", c.Deferred)
		outstanding = true
	}
	if !outstanding {
		b.WriteString("- All prompts reconciled.\n")
	}

	b.WriteString("\n### Prompts\n")
	for _, p := range sortByPriority(prompts) {
		fmt.Fprintf(&b, "\n- **%s**\n", p.Heading)
		fmt.Fprintf(&b, "  - Status: %s\n", p.Status)
		fmt.Fprintf(&b, "  - Answer: %s\n", resolveAnswer(p))
		if p.AnswerNotes != nil && *p.AnswerNotes != "" {
			fmt.Fprintf(&b, "  - Notes: %s\n", *p.AnswerNotes)
		}
		if p.OverrideJustification != nil && *p.OverrideJustification != "" {
			fmt.Fprintf(&b, "  - Override: %s\n", *p.OverrideJustification)
		}
		switch p.Status {
		case model.PromptEscalated:
			b.WriteString("  - Escalation: awaiting assignee follow-up\n")
		case model.PromptDeferred:
			b.WriteString("  - Deferral: parked for later in this session\n")
		}
		if p.ConflictDecisionID != nil {
			fmt.Fprintf(&b, "  - Conflict: decision %s\n", *p.ConflictDecisionID)
		}
	}
	return b.String()
}

// resolveAnswer renders a prompt's answer as display text. Select answers
// resolve through option labels; multi-select selections join with ", " in
// selection order; empty answers render as "Not provided".
func resolveAnswer(p model.Prompt) string {
	if p.AnswerValue == nil || strings.TrimSpace(*p.AnswerValue) == "" {
		return notProvided
	}

	switch p.ResponseType {
	case model.ResponseMultiSelect:
		selections := extractAnswers(p.ResponseType, *p.AnswerValue)
		if len(selections) == 0 {
			return notProvided
		}
		labels := make([]string, len(selections))
		for i, sel := range selections {
			labels[i] = labelFor(p.Options, sel)
		}
		return strings.Join(labels, ", ")
	case model.ResponseSingleSelect:
		return labelFor(p.Options, strings.TrimSpace(*p.AnswerValue))
	default:
		return strings.TrimSpace(*p.AnswerValue)
	}
}

// labelFor resolves an option id or label to the display label, falling back
// to the key itself for free-form values.
func labelFor(options []model.PromptOption, key string) string {
	if opt, ok := optionIndex(options)[canonical(key)]; ok {
		return opt.Label
	}
	return key
}

// promptDetail is the one-line summary of a prompt used in proposal bodies
// and rationale entries: the resolved answer, the override note, or the bare
// status.
func promptDetail(p model.Prompt) string {
	switch p.Status {
	case model.PromptAnswered:
		return resolveAnswer(p)
	case model.PromptOverrideSkipped:
		if p.OverrideJustification != nil && *p.OverrideJustification != "" {
			return *p.OverrideJustification
		}
		return string(p.Status)
	default:
		return string(p.Status)
	}
}

// renderAIProposal builds the AI-generated proposal body.
func renderAIProposal(prompts []model.Prompt) string {
	var b strings.Builder
	b.WriteString("## AI Draft Proposal\n")
	for _, p := range sortByPriority(prompts) {
		fmt.Fprintf(&b, "\n- **%s**: %s", p.Heading, promptDetail(p))
	}
	b.WriteString("\n")
	return b.String()
}

// renderManualProposal builds the manual proposal body: the caller-supplied
// override when present, otherwise a skeleton with one bullet per prompt.
func renderManualProposal(prompts []model.Prompt, override *string) string {
	if override != nil && strings.TrimSpace(*override) != "" {
		return *override
	}
	var b strings.Builder
	b.WriteString("## Manual Draft Notes\n")
	for _, p := range sortByPriority(prompts) {
		fmt.Fprintf(&b, "\n- **%s**", p.Heading)
	}
	b.WriteString("\n")
	return b.String()
}

// buildRationale ties each prompt, in session order, to the reasoning line it
// contributes to a proposal.
func buildRationale(prompts []model.Prompt) []model.RationaleEntry {
	entries := make([]model.RationaleEntry, len(prompts))
	for i, p := range prompts {
		entries[i] = model.RationaleEntry{
			AssumptionID: p.ID,
			Summary:      fmt.Sprintf("%s: %s", p.Heading, promptDetail(p)),
		}
	}
	return entries
}
