// ABOUTME: Error types returned by the messaging service
// ABOUTME: Transports map them to status codes with errors.Is / errors.As

package messaging

import (
	"errors"
	"fmt"
)

// ErrRateLimited is returned when a user exceeds the send or typing rate.
var ErrRateLimited = errors.New("rate limit exceeded")

// ErrDuplicate is matched by DuplicateError.
var ErrDuplicate = errors.New("duplicate request")

// ValidationError reports a malformed or missing input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a referenced user or listing that does not exist.
type NotFoundError struct {
	Kind string // "user" or "listing"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// DuplicateError is returned when an Idempotency-Key was already used.
// MessageID is empty while the original request is still in flight.
type DuplicateError struct {
	MessageID string
}

func (e *DuplicateError) Error() string {
	if e.MessageID == "" {
		return "duplicate request: original still in progress"
	}
	return fmt.Sprintf("duplicate request: message %s already created", e.MessageID)
}

// Is lets errors.Is(err, ErrDuplicate) match.
func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicate
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
