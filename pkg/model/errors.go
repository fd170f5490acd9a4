package model

import "fmt"

// ErrorCode represents a structured API error code.
type ErrorCode string

const (
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
)

// APIError is a structured error returned by the status API.
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewValidationError creates a VALIDATION_ERROR APIError.
func NewValidationError(format string, args ...any) *APIError {
	return &APIError{Code: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// InvalidTransitionError is returned when a task state transition is invalid.
type InvalidTransitionError struct {
	ID   TaskID
	From TaskState
	To   TaskState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid task state transition: %s → %s (task %d)", e.From, e.To, e.ID)
}
