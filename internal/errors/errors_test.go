package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIError_Error(t *testing.T) {
	err := NewAPIError("openai", 403, "forbidden")
	assert.Contains(t, err.Error(), "openai")
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "forbidden")
}

func TestAPIError_WithWrapped(t *testing.T) {
	inner := errors.New("connection refused")
	err := &APIError{Service: "anthropic", StatusCode: 500, Message: "fail", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewAPIError("llm", 429, "rate limit")))
	assert.True(t, IsRetryable(NewAPIError("llm", 502, "bad gateway")))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", ErrTimeout)))
	assert.True(t, IsRetryable(ErrUnavailable))

	assert.False(t, IsRetryable(NewAPIError("llm", 401, "unauth")))
	assert.False(t, IsRetryable(ErrAuthFailure))
	assert.False(t, IsRetryable(&ValidationError{Index: 0, Reason: "bad"}))
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Index: 2, Type: "update_task", Reference: "Nonexistent", Reason: "task not found"}
	assert.Equal(t, `action 2 (update_task): task not found "Nonexistent"`, err.Error())
	assert.ErrorIs(t, err, ErrInvalidInput)

	amb := &AmbiguityError{Kind: "task", Reference: "Docs", Matches: []string{"task-1", "task-2"}}
	wrapped := &ValidationError{Index: 0, Reason: amb.Error(), Err: amb}
	var target *AmbiguityError
	assert.True(t, errors.As(wrapped, &target))
	assert.Len(t, target.Matches, 2)
}

func TestRetryExhaustedError(t *testing.T) {
	err := &RetryExhaustedError{Attempts: 3, Errors: []string{"attempt 1: bad json", "attempt 2: bad json"}}
	assert.Contains(t, err.Error(), "3 attempts")
	assert.Contains(t, err.Error(), "attempt 2: bad json")
}

func TestExecutorFault(t *testing.T) {
	err := &ExecutorFault{Index: 1, Type: "add_subtask", Err: ErrNotFound}
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "action 1")
}
