// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides logging, tracing and metrics for engine runs.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by spans and metrics.
const (
	AttrSession   = "westodyssey.session.id"
	AttrRound     = "westodyssey.round"
	AttrRole      = "westodyssey.agent.role"
	AttrPersona   = "westodyssey.agent.persona"
	AttrAgentID   = "westodyssey.agent.id"
	AttrTurn      = "westodyssey.turn"
	AttrVerdict   = "westodyssey.critic.verdict"
	AttrScore     = "westodyssey.critic.score"
	AttrApproved  = "westodyssey.human.approved"
	AttrStatus    = "westodyssey.run.status"
	AttrEntryKind = "westodyssey.memory.kind"
	AttrEntrySeq  = "westodyssey.memory.seq"
	AttrToolName  = "westodyssey.tool.name"
	AttrToolOK    = "westodyssey.tool.success"
	AttrErrorCode = "error.code"

	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMProvider     = "gen_ai.system"
	AttrLLMMessages     = "gen_ai.request.messages"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
)

// TurnAttributes describes one agent turn.
func TurnAttributes(session string, round int, role, agentID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrRole, role),
		attribute.Int(AttrRound, round),
	}
	if session != "" {
		attrs = append(attrs, attribute.String(AttrSession, session))
	}
	if agentID != "" {
		attrs = append(attrs, attribute.String(AttrAgentID, agentID))
	}
	return attrs
}

// LLMAttributes returns attributes for an LLM call span.
func LLMAttributes(model, provider string, msgCount int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrLLMModel, model),
		attribute.Int(AttrLLMMessages, msgCount),
	}
	if provider != "" {
		attrs = append(attrs, attribute.String(AttrLLMProvider, provider))
	}
	return attrs
}

// UsageAttributes returns token usage attributes, skipping zero counts.
func UsageAttributes(input, output int) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if input > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, input))
	}
	if output > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, output))
	}
	return attrs
}

// Truncate shortens s to max bytes for span attributes.
func Truncate(s string, max int) string {
	if max <= 0 {
		max = 200
	}
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
