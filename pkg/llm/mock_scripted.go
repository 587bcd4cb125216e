// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"errors"
	"sync"
)

// ScriptedMockProvider returns a pre-defined sequence of responses.
// Useful for multi-turn interactions such as a debate or a tool loop.
type ScriptedMockProvider struct {
	mu        sync.Mutex
	replies   []ChatResponse
	requests  []ChatRequest
	Err       error
	// Repeat keeps returning the last reply once the script is exhausted.
	Repeat bool
	// CallCount tracks how many times Chat has been called
	CallCount int
	last      *ChatResponse
}

// NewScriptedMockProvider creates a provider that answers with responses in order.
func NewScriptedMockProvider(responses ...string) *ScriptedMockProvider {
	s := &ScriptedMockProvider{}
	for _, r := range responses {
		s.AddResponse(r)
	}
	return s
}

// Chat pops the next scripted response or returns the configured error.
func (s *ScriptedMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallCount++
	s.requests = append(s.requests, req)

	if s.Err != nil {
		return nil, s.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(s.replies) == 0 {
		if s.Repeat && s.last != nil {
			out := *s.last
			return &out, nil
		}
		return nil, errors.New("scripted mock: no more responses available")
	}

	reply := s.replies[0]
	s.replies = s.replies[1:]
	s.last = &reply
	out := reply
	return &out, nil
}

// AddResponse appends a plain text response to the queue.
func (s *ScriptedMockProvider) AddResponse(response string) {
	s.AddReply(ChatResponse{
		Content: response,
		Usage: Usage{
			PromptTokens:     10,
			CompletionTokens: 10,
			TotalTokens:      20,
		},
	})
}

// AddToolCalls appends a response that asks for the given tool calls.
func (s *ScriptedMockProvider) AddToolCalls(calls ...ToolCall) {
	s.AddReply(ChatResponse{
		ToolCalls: calls,
		Usage:     Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	})
}

// AddReply appends a full response to the queue.
func (s *ScriptedMockProvider) AddReply(reply ChatResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, reply)
}

// PeekNext returns the content of the next response, or empty string.
func (s *ScriptedMockProvider) PeekNext() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replies) == 0 {
		return ""
	}
	return s.replies[0].Content
}

// Remaining reports how many scripted replies are left.
func (s *ScriptedMockProvider) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replies)
}

// Requests returns every request received so far.
func (s *ScriptedMockProvider) Requests() []ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatRequest(nil), s.requests...)
}
