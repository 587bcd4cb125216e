// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	stderrors "errors"

	"github.com/westodyssey/westodyssey/pkg/errors"
)

// wrapLLMError maps a failed provider call to a WestError. Cancellation
// becomes CodeContextLost; errors that already carry an LLM-facing code
// pass through; anything else is a CodeLLMError.
func wrapLLMError(ctx context.Context, err error, model string) *errors.WestError {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || stderrors.Is(err, context.Canceled) {
		return errors.New(errors.CodeContextLost, "llm call cancelled", err).
			WithContext("model", model)
	}
	var we *errors.WestError
	if stderrors.As(err, &we) {
		switch we.Code {
		case errors.CodeLLMError, errors.CodeRateLimit, errors.CodeTimeout, errors.CodeContextLost:
			return we
		}
	}
	return errors.New(errors.CodeLLMError, "llm call failed", err).
		WithContext("model", model).
		WithAttribute("llm.model", model).
		WithRecoverable(true)
}

// wrapToolError wraps a tool execution error with the call it belongs to.
func wrapToolError(err error, toolName, toolCallID string) *errors.WestError {
	if err == nil {
		return nil
	}
	var we *errors.WestError
	if stderrors.As(err, &we) && we.Code == errors.CodeToolFailure {
		return we.WithContext("tool_call_id", toolCallID)
	}
	return errors.New(errors.CodeToolFailure, "tool execution failed", err).
		WithContext("tool_name", toolName).
		WithContext("tool_call_id", toolCallID).
		WithAttribute("tool.name", toolName).
		WithRecoverable(true)
}
