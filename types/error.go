package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Workflow error codes
const (
	ErrValidation        ErrorCode = "VALIDATION_ERROR"
	ErrNotFound          ErrorCode = "NOT_FOUND"
	ErrNodeExecution     ErrorCode = "NODE_EXECUTION_ERROR"
	ErrRecoveryExhausted ErrorCode = "RECOVERY_EXHAUSTED"
	ErrUnknownNodeType   ErrorCode = "UNKNOWN_NODE_TYPE"
	ErrCircuitOpen       ErrorCode = "CIRCUIT_OPEN"
	ErrCycleDetected     ErrorCode = "CYCLE_DETECTED"
)

// Infrastructure error codes
const (
	ErrStorage       ErrorCode = "STORAGE_ERROR"
	ErrInternalError ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	WorkflowID string    `json:"workflow_id,omitempty"`
	NodeID     string    `json:"node_id,omitempty"`
	Details    []string  `json:"details,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(string(e.Code))
	sb.WriteString("] ")
	if e.NodeID != "" {
		sb.WriteString("node ")
		sb.WriteString(e.NodeID)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if len(e.Details) > 0 {
		sb.WriteString(" (")
		sb.WriteString(strings.Join(e.Details, "; "))
		sb.WriteString(")")
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithWorkflow sets the workflow the error belongs to.
func (e *Error) WithWorkflow(workflowID string) *Error {
	e.WorkflowID = workflowID
	return e
}

// WithNode sets the node the error belongs to.
func (e *Error) WithNode(nodeID string) *Error {
	e.NodeID = nodeID
	return e
}

// WithDetails appends detail messages.
func (e *Error) WithDetails(details ...string) *Error {
	e.Details = append(e.Details, details...)
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// NewValidationError creates a validation error carrying every failed check.
func NewValidationError(message string, details ...string) *Error {
	return NewError(ErrValidation, message).WithDetails(details...)
}

// NewNotFoundError creates a not-found error for a resource id.
func NewNotFoundError(resource, id string) *Error {
	return NewError(ErrNotFound, fmt.Sprintf("%s %q not found", resource, id))
}

// NewNodeExecutionError wraps a handler failure for the given node.
func NewNodeExecutionError(nodeID string, cause error) *Error {
	return NewError(ErrNodeExecution, "node execution failed").
		WithNode(nodeID).
		WithCause(cause).
		WithRetryable(true)
}

// NewRecoveryExhaustedError reports that the configured recovery strategy gave up.
func NewRecoveryExhaustedError(strategy string, attempts int, cause error) *Error {
	return NewError(ErrRecoveryExhausted,
		fmt.Sprintf("recovery strategy %q exhausted after %d attempt(s)", strategy, attempts)).
		WithCause(cause)
}

// AsError extracts the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsCode reports whether any *Error in err's chain carries code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}
