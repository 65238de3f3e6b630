package decision

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy. Dispatch boundaries branch with errors.As/Is; everything
// else wraps with %w and keeps the original cause.

// ValidationError rejects malformed input immediately, no retry.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// TransientError marks timeouts and downstream unavailability; callers may
// retry up to their bound.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ConflictError rejects with a concrete retry-after, never queues.
type ConflictError struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *ConflictError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", e.Reason, e.RetryAfter.Round(time.Second))
	}
	return e.Reason
}

// ErrUnauthorized is deliberately generic: callers must not learn whether
// the decision exists at all.
var ErrUnauthorized = errors.New("decision not found or not authorized")
