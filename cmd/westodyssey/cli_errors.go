// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

// Package main implements the westodyssey CLI.
package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/westodyssey/westodyssey/pkg/errors"
)

// CLIError wraps WestError with CLI-specific formatting and hints.
type CLIError struct {
	*errors.WestError
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(we *errors.WestError, hint string) *CLIError {
	return &CLIError{
		WestError: we,
		Hint:      hint,
	}
}

// Error returns the formatted error message with hints.
func (e *CLIError) Error() string {
	if e.WestError == nil {
		return "unknown error"
	}

	msg := e.WestError.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap exposes the wrapped WestError.
func (e *CLIError) Unwrap() error {
	if e.WestError == nil {
		return nil
	}
	return e.WestError
}

type jsonError struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Hint    string           `json:"hint,omitempty"`
	Cause   string           `json:"cause,omitempty"`
}

// PrintError prints the error with appropriate formatting.
func (e *CLIError) PrintError(w io.Writer, asJSON bool) {
	if asJSON {
		out := jsonError{Code: e.Code, Message: e.Message, Hint: e.Hint}
		if e.Err != nil {
			out.Cause = e.Err.Error()
		}
		payload, _ := json.Marshal(map[string]jsonError{"error": out})
		fmt.Fprintln(w, string(payload))
		return
	}

	fmt.Fprintf(w, "Error [%s]: %s\n", FormatErrorCode(e.Code), e.Message)
	if e.Err != nil {
		fmt.Fprintf(w, "  Cause: %v\n", e.Err)
	}
	if e.Hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", e.Hint)
	}
}

// NewInvalidArgumentError creates an invalid argument error with CLI hints.
func NewInvalidArgumentError(arg, reason string) *CLIError {
	we := errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid argument: %s", reason), nil).
		WithContext("argument", arg).
		WithRecoverable(false)
	return NewCLIError(we, "run 'westodyssey help' for usage information")
}

// NewConfigError creates a configuration error with CLI hints.
func NewConfigError(err error, configPath string) *CLIError {
	we := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithContext("config_path", configPath).
		WithRecoverable(false)

	hint := "check WESTODYSSEY_* variables and --set overrides"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return NewCLIError(we, hint)
}

// NewNotFoundError creates a not found error with CLI hints.
func NewNotFoundError(resource, name string) *CLIError {
	we := errors.New(errors.CodeNotFound, fmt.Sprintf("%s '%s' not found", resource, name), nil).
		WithContext("resource", resource).
		WithContext("name", name).
		WithRecoverable(false)
	return NewCLIError(we, fmt.Sprintf("run 'westodyssey sessions' to list stored %ss", resource))
}

// FromError turns any error into a CLIError, picking a hint from its code.
func FromError(err error) *CLIError {
	if ce, ok := err.(*CLIError); ok {
		return ce
	}
	we := errors.AsWestError(err)
	if we == nil {
		we = errors.New(errors.CodeInternal, err.Error(), nil)
	}
	return NewCLIError(we, hintFor(we.Code))
}

func hintFor(code errors.ErrorCode) string {
	switch code {
	case errors.CodeLLMError:
		return "check llm.provider and llm.base_url, and that the model server is up"
	case errors.CodeUnauthorized:
		return "set WESTODYSSEY_LLM__API_KEY or llm.api_key"
	case errors.CodeRateLimit:
		return "the provider is throttling requests; try again later"
	case errors.CodeTimeout:
		return "raise engine.turn_timeout or llm.timeout"
	case errors.CodeMaxRounds:
		return "raise engine.max_rounds or set engine.require_consensus=false"
	case errors.CodeRejected:
		return "rerun with --session to keep the history and refine the goal"
	case errors.CodeMemoryError:
		return "check memory.backend and memory.path"
	case errors.CodeToolFailure:
		return "check the mcp.servers entries and raise engine.executor_max_steps if needed"
	case errors.CodeContextLost:
		return "the run was interrupted; rerun with the same --session to continue"
	default:
		return ""
	}
}

func printError(w io.Writer, err error, asJSON bool) {
	FromError(err).PrintError(w, asJSON)
}

// FormatErrorCode returns a user-friendly name for error codes.
func FormatErrorCode(code errors.ErrorCode) string {
	switch code {
	case errors.CodeInternal:
		return "Internal Error"
	case errors.CodeInvalidInput:
		return "Invalid Input"
	case errors.CodeNotFound:
		return "Not Found"
	case errors.CodeUnauthorized:
		return "Unauthorized"
	case errors.CodeTimeout:
		return "Timeout"
	case errors.CodeRateLimit:
		return "Rate Limited"
	case errors.CodeToolFailure:
		return "Tool Failure"
	case errors.CodeLLMError:
		return "LLM Error"
	case errors.CodeMemoryError:
		return "Memory Error"
	case errors.CodeContextLost:
		return "Context Lost"
	case errors.CodeConflict:
		return "Conflict"
	case errors.CodeRejected:
		return "Rejected"
	case errors.CodeMaxRounds:
		return "No Consensus"
	default:
		return string(code)
	}
}
