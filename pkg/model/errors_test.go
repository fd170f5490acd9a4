package model

import "testing"

func TestAPIError_Error(t *testing.T) {
	err := &APIError{Code: ErrNotFound, Message: "Task '12' not found"}
	want := "NOT_FOUND: Task '12' not found"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("Task", "42")
	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Message != "Task '42' not found" {
		t.Errorf("Message = %q, want %q", err.Message, "Task '42' not found")
	}
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("invalid limit %q", "abc")
	if err.Code != ErrValidation {
		t.Errorf("Code = %q, want %q", err.Code, ErrValidation)
	}
	if err.Message != `invalid limit "abc"` {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestInvalidTransitionError(t *testing.T) {
	err := &InvalidTransitionError{ID: 3, From: TaskStateTerminated, To: TaskStateReady}
	want := "invalid task state transition: TERMINATED → READY (task 3)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
