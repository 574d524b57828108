package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest  = "BAD_REQUEST"
	ErrNotFound    = "NOT_FOUND"
	ErrConflict    = "CONFLICT"
	ErrValidation  = "VALIDATION_ERROR"
	ErrInternal    = "INTERNAL_ERROR"
	ErrUnavailable = "SERVICE_UNAVAILABLE"
)

// Task and stream specific error codes.
const (
	ErrTaskNotFound        = "TASK_NOT_FOUND"
	ErrTaskTerminal        = "TASK_TERMINAL"
	ErrConnectionLimit     = "CONNECTION_LIMIT"
	ErrTaskConnectionLimit = "TASK_CONNECTION_LIMIT"
)

// ErrorEnvelope is the standard error response envelope. It implements the
// error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidation,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternal,
		Message: "An unexpected error occurred",
	}
}

// NewTaskNotFoundError returns a TASK_NOT_FOUND error for the given id.
func NewTaskNotFoundError(taskID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrTaskNotFound,
		Message: fmt.Sprintf("task %q not found", taskID),
	}
}

// NewTaskTerminalError returns a TASK_TERMINAL error for the given id.
func NewTaskTerminalError(taskID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrTaskTerminal,
		Message: fmt.Sprintf("task %q already reached a terminal state", taskID),
	}
}

// NewConnectionLimitError returns a CONNECTION_LIMIT error for the global
// connection cap.
func NewConnectionLimitError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrConnectionLimit,
		Message: "too many concurrent stream connections",
	}
}

// NewTaskConnectionLimitError returns a TASK_CONNECTION_LIMIT error for the
// per-task connection cap.
func NewTaskConnectionLimitError(taskID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrTaskConnectionLimit,
		Message: fmt.Sprintf("too many concurrent stream connections for task %q", taskID),
	}
}
