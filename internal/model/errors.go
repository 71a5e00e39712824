package model

import (
	"errors"
	"fmt"
	"net/http"
)

// Machine-readable status tags carried in DomainError details.
const (
	StatusDecisionConflict  = "decision_conflict"
	StatusOverridesBlock    = "overrides_block_submission"
	StatusEmptyPromptSet    = "empty_prompt_set"
	StatusMissingAnswer     = "missing_answer"
	StatusMissingOverride   = "missing_override_justification"
	StatusUnknownAction     = "unknown_action"
	StatusUnknownSource     = "unknown_proposal_source"
	StatusNotFound          = "not_found"
	StatusDraftBlocked      = "draft_blocked"
	StatusNonMonotonicDraft = "draft_version_not_monotonic"
)

// DomainError is the tagged error type for all domain failures. Details always
// carries a "status" tag plus any relevant ids (decisionId, assumptionId).
type DomainError struct {
	StatusCode int            `json:"statusCode"`
	Details    map[string]any `json:"details"`
	message    string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Status(), e.message)
}

// Status returns the machine-readable tag from Details.
func (e *DomainError) Status() string {
	if s, ok := e.Details["status"].(string); ok {
		return s
	}
	return ""
}

// Message returns the human-readable message.
func (e *DomainError) Message() string { return e.message }

func newDomainError(code int, status, message string, details map[string]any) *DomainError {
	d := map[string]any{"status": status}
	for k, v := range details {
		d[k] = v
	}
	if message != "" {
		d["message"] = message
	}
	return &DomainError{StatusCode: code, Details: d, message: message}
}

// BadRequest builds a 400 domain error.
func BadRequest(status, message string) *DomainError {
	return newDomainError(http.StatusBadRequest, status, message, nil)
}

// NotFound builds a 404 domain error for a missing entity.
func NotFound(entity, id string) *DomainError {
	return newDomainError(http.StatusNotFound, StatusNotFound,
		fmt.Sprintf("%s not found: %s", entity, id),
		map[string]any{"entity": entity, "id": id})
}

// Conflict builds a 409 domain error with extra detail fields.
func Conflict(status, message string, details map[string]any) *DomainError {
	return newDomainError(http.StatusConflict, status, message, details)
}

// PreconditionFailed builds a 412 domain error.
func PreconditionFailed(status, message string, details map[string]any) *DomainError {
	return newDomainError(http.StatusPreconditionFailed, status, message, details)
}

// AsDomainError unwraps err into a *DomainError if it carries one.
func AsDomainError(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
