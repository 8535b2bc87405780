package task

import (
	"errors"
	"fmt"
)

// Code is a stable, caller-visible error code.
type Code string

// Error codes surfaced by the engine.
const (
	CodeIntegrationDegraded  Code = "INTEGRATION_DEGRADED"
	CodeReasoningUnavailable Code = "REASONING_UNAVAILABLE"
	CodeMalformedOutput      Code = "MALFORMED_OUTPUT"
	CodeBudgetExhausted      Code = "PLAN_REJECTED_BUDGET_EXHAUSTED"
	CodeExecutionTimeout     Code = "EXECUTION_TIMEOUT"
	CodeSecretFetchFailed    Code = "SECRET_FETCH_FAILED"
	CodeSandboxFailed        Code = "SANDBOX_FAILED"
	CodeCancelled            Code = "CANCELLED"
	CodeInternal             Code = "INTERNAL"
)

// Fatal reports whether an error with this code terminates the invocation.
// Integration and secret failures are absorbed by the stage that sees them.
func (c Code) Fatal() bool {
	switch c {
	case CodeIntegrationDegraded, CodeSecretFetchFailed:
		return false
	default:
		return true
	}
}

// Retryable reports whether the gateway retries calls failing with this code.
func (c Code) Retryable() bool {
	return c == CodeReasoningUnavailable || c == CodeMalformedOutput
}

// Domain errors for task handling.
var (
	// ErrInvalidTransition indicates a backwards or unknown status transition.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidInput indicates an empty objective or user identifier.
	ErrInvalidInput = errors.New("objective and user id are required")

	// ErrEmptyPlan indicates a plan without steps.
	ErrEmptyPlan = errors.New("plan has no steps")
)

// Error is a coded error carried to the caller as a terminal event.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// NewError creates a coded error wrapping err.
func NewError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == ""
}

// CodeOf extracts the code of the first coded error in the chain.
// Errors without a code map to CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeInternal
}

// MessageOf returns the caller-safe message of err. Uncoded errors are not
// exposed verbatim since their text may come from third-party libraries.
func MessageOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Message
	}
	return "internal error"
}

// Sentinel values for errors.Is matching by code.
var (
	ErrReasoningUnavailable = &Error{Code: CodeReasoningUnavailable}
	ErrMalformedOutput      = &Error{Code: CodeMalformedOutput}
	ErrBudgetExhausted      = &Error{Code: CodeBudgetExhausted}
	ErrExecutionTimeout     = &Error{Code: CodeExecutionTimeout}
	ErrCancelled            = &Error{Code: CodeCancelled}
)
