// Package errors provides structured error types for the portfolio agent.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout       = errors.New("operation timed out")
	ErrAuthFailure   = errors.New("authentication failed")
	ErrRateLimit     = errors.New("rate limit exceeded")
	ErrNotFound      = errors.New("resource not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnavailable   = errors.New("service unavailable")
	ErrBusy          = errors.New("a batch is executing")
	ErrSuspended     = errors.New("a batch is waiting for a user reply")
	ErrNotSuspended  = errors.New("batch is not suspended")
	ErrHasDependents = errors.New("action has dependent actions that are not undone")
	ErrAlreadyUndone = errors.New("action already undone")
	ErrConflict      = errors.New("conflicts with the current portfolio")
)

// APIError represents an error from an external API call.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (status %d): %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError creates a new API error.
func NewAPIError(service string, statusCode int, message string) *APIError {
	return &APIError{Service: service, StatusCode: statusCode, Message: message}
}

// IsRetryable returns true if the error is likely transient and worth retrying.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimit) || errors.Is(err, ErrUnavailable)
}

// ValidationError reports one malformed or unresolvable action. It never
// aborts validation of sibling actions.
type ValidationError struct {
	Index     int
	Type      string
	Reference string
	Reason    string
	Err       error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "action %d", e.Index)
	if e.Type != "" {
		fmt.Fprintf(&b, " (%s)", e.Type)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Reference != "" {
		fmt.Fprintf(&b, " %q", e.Reference)
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// AmbiguityError is returned when a title matches more than one entity.
type AmbiguityError struct {
	Kind      string
	Reference string
	Matches   []string
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("%s reference %q is ambiguous (%d matches: %s)",
		e.Kind, e.Reference, len(e.Matches), strings.Join(e.Matches, ", "))
}

// RetryExhaustedError is returned when the model kept producing invalid
// actions past the attempt bound. Errors holds the text of every attempt.
type RetryExhaustedError struct {
	Attempts int
	Errors   []string
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("model produced invalid actions after %d attempts: %s",
		e.Attempts, strings.Join(e.Errors, "; "))
}

// ExecutorFault marks an unexpected failure while applying a validated action.
type ExecutorFault struct {
	Index int
	Type  string
	Err   error
}

func (e *ExecutorFault) Error() string {
	return fmt.Sprintf("executing action %d (%s): %v", e.Index, e.Type, e.Err)
}

func (e *ExecutorFault) Unwrap() error { return e.Err }
