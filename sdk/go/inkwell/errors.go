// Package inkwell provides a Go client for the Inkwell assumption
// resolution API.
package inkwell

import (
	"errors"
	"fmt"
)

// Error represents an error from the Inkwell API with the HTTP status code
// and the server's machine-readable status tag.
type Error struct {
	StatusCode int
	Status     string
	Message    string
	Details    map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("inkwell: %s (%d): %s", e.Status, e.StatusCode, e.Message)
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 404
	}
	return false
}

// IsConflict returns true if the error is a 409. Decision conflicts,
// override gating, and non-monotonic draft versions all surface as 409s;
// inspect Status to tell them apart.
func IsConflict(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 409
	}
	return false
}

// IsDraftBlocked returns true if the error is a 412 (draft blocked pending
// conflict resolution).
func IsDraftBlocked(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 412
	}
	return false
}

// IsRateLimited returns true if the error is a 429 (Too Many Requests).
func IsRateLimited(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 429
	}
	return false
}
