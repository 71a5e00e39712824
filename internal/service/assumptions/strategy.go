package assumptions

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inkwell-ai/inkwell/internal/model"
)

// Action is an author action on a prompt.
type Action string

const (
	ActionAnswer       Action = "answer"
	ActionDefer        Action = "defer"
	ActionEscalate     Action = "escalate"
	ActionSkipOverride Action = "skip_override"
)

// ParseAction validates an action string from the wire.
func ParseAction(raw string) (Action, error) {
	switch Action(raw) {
	case ActionAnswer, ActionDefer, ActionEscalate, ActionSkipOverride:
		return Action(raw), nil
	default:
		return "", model.BadRequest(model.StatusUnknownAction, "unknown action: "+raw)
	}
}

// ActionPayload carries the author-supplied fields of a response.
type ActionPayload struct {
	Answer                string
	Notes                 string
	OverrideJustification string
}

// pendingMutation is the prompt-state change an action intends, before the
// decision guard has had its say. Conflict fields are only written when
// setConflict is true, so actions that leave conflict bookkeeping untouched
// can say so.
type pendingMutation struct {
	status                model.PromptStatus
	answerValue           *string
	answerNotes           *string
	overrideJustification *string
	clearAnswer           bool
	clearOverride         bool

	setConflict        bool
	conflictDecisionID *string
	conflictResolvedAt *time.Time

	escalation *model.EscalationDescriptor
}

// resolveMutation maps an author action onto its intended prompt mutation.
// Pure apart from the escalation assignee handle, which is freshly allocated
// per call and opaque thereafter.
func resolveMutation(action Action, payload ActionPayload) (pendingMutation, error) {
	notes := optional(payload.Notes)

	switch action {
	case ActionAnswer:
		if strings.TrimSpace(payload.Answer) == "" {
			return pendingMutation{}, model.BadRequest(model.StatusMissingAnswer,
				"answer is required for the answer action")
		}
		answer := payload.Answer
		return pendingMutation{
			status:        model.PromptAnswered,
			answerValue:   &answer,
			answerNotes:   notes,
			clearOverride: true,
		}, nil

	case ActionDefer:
		return pendingMutation{
			status:      model.PromptDeferred,
			answerNotes: notes,
			clearAnswer: true,
		}, nil

	case ActionEscalate:
		esc := &model.EscalationDescriptor{
			AssignedTo: "esc-" + uuid.NewString(),
			Status:     "pending",
			Notes:      payload.Notes,
		}
		return pendingMutation{
			status:      model.PromptEscalated,
			answerNotes: notes,
			escalation:  esc,
		}, nil

	case ActionSkipOverride:
		if strings.TrimSpace(payload.OverrideJustification) == "" {
			return pendingMutation{}, model.BadRequest(model.StatusMissingOverride,
				"override justification is required to skip a prompt")
		}
		justification := payload.OverrideJustification
		return pendingMutation{
			status:                model.PromptOverrideSkipped,
			overrideJustification: &justification,
			answerNotes:           notes,
		}, nil

	default:
		return pendingMutation{}, model.BadRequest(model.StatusUnknownAction, "unknown action: "+string(action))
	}
}

// applyMutation writes a resolved mutation onto a copy of the prompt.
func applyMutation(p model.Prompt, mut pendingMutation, now time.Time) model.Prompt {
	p.Status = mut.status
	if mut.clearAnswer {
		p.AnswerValue = nil
	} else if mut.answerValue != nil {
		p.AnswerValue = mut.answerValue
	}
	if mut.answerNotes != nil || mut.clearAnswer {
		p.AnswerNotes = mut.answerNotes
	}
	if mut.clearOverride {
		p.OverrideJustification = nil
	} else if mut.overrideJustification != nil {
		p.OverrideJustification = mut.overrideJustification
	}
	if mut.setConflict {
		p.ConflictDecisionID = mut.conflictDecisionID
		p.ConflictResolvedAt = mut.conflictResolvedAt
	}
	p.UpdatedAt = now
	return p
}

// optional returns nil for empty strings so blank notes do not persist.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
