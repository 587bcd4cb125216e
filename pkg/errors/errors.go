// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for Westodyssey.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies Westodyssey errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeToolFailure indicates a tool execution failed.
	CodeToolFailure ErrorCode = "TOOL_FAILURE"

	// CodeContextLost indicates the run context was cancelled or expired.
	CodeContextLost ErrorCode = "CONTEXT_LOST"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeRateLimit indicates rate limiting was triggered.
	CodeRateLimit ErrorCode = "RATE_LIMITED"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeUnauthorized indicates authorization failed.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// CodeMemoryError indicates a memory node or store error.
	CodeMemoryError ErrorCode = "MEMORY_ERROR"

	// CodeLLMError indicates an LLM provider error.
	CodeLLMError ErrorCode = "LLM_ERROR"

	// CodeConflict indicates an optimistic write lost against a concurrent one.
	CodeConflict ErrorCode = "CONFLICT"

	// CodeRejected indicates the human reviewer rejected the outcome.
	CodeRejected ErrorCode = "REJECTED"

	// CodeMaxRounds indicates the debate ended without consensus.
	CodeMaxRounds ErrorCode = "MAX_ROUNDS"
)

// WestError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type WestError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
	StatusCode  int
}

// Error implements the error interface.
func (e *WestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *WestError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *WestError) MarshalJSON() ([]byte, error) {
	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(&struct {
		Message     string                 `json:"message"`
		Code        string                 `json:"code"`
		Err         string                 `json:"error,omitempty"`
		Recoverable bool                   `json:"recoverable"`
		StatusCode  int                    `json:"status_code"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Attributes  map[string]string      `json:"attributes,omitempty"`
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         cause,
		Recoverable: e.Recoverable,
		StatusCode:  e.StatusCode,
		Context:     e.Context,
		Attributes:  e.Attributes,
	})
}

// New creates a new WestError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *WestError {
	return &WestError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
		StatusCode: codeToStatusCode(code),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *WestError) WithContext(key string, value interface{}) *WestError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *WestError) WithAttribute(key, value string) *WestError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *WestError) WithRecoverable(recoverable bool) *WestError {
	e.Recoverable = recoverable
	return e
}

// AsWestError finds a WestError in the chain of err.
// Errors without one are wrapped as CodeInternal.
func AsWestError(err error) *WestError {
	if err == nil {
		return nil
	}
	var we *WestError
	if stderrors.As(err, &we) {
		return we
	}
	return New(CodeInternal, "wrapped error", err)
}

// HasCode reports whether err carries a WestError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var we *WestError
	if !stderrors.As(err, &we) {
		return false
	}
	return we.Code == code
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *WestError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// codeToStatusCode maps error codes to HTTP-like status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return 404
	case CodeUnauthorized:
		return 401
	case CodeInvalidInput:
		return 400
	case CodeTimeout:
		return 408
	case CodeConflict:
		return 409
	case CodeRateLimit:
		return 429
	case CodeRejected:
		return 403
	default:
		return 500
	}
}
