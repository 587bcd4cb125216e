// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/westodyssey/westodyssey/pkg/config"
	"github.com/westodyssey/westodyssey/pkg/errors"
)

func TestMockProvider(t *testing.T) {
	mock := &MockProvider{Response: "Hello world"}
	resp, err := mock.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "Hello world" {
		t.Errorf("Expected 'Hello world', got '%s'", resp.Content)
	}
	if len(mock.Requests()) != 1 {
		t.Errorf("expected request to be recorded")
	}
}

func TestScriptedMockProvider(t *testing.T) {
	p := NewScriptedMockProvider("first")
	p.AddToolCalls(NewToolCall("c1", "search", `{"q":"peach"}`))

	resp, err := p.Chat(context.Background(), ChatRequest{})
	if err != nil || resp.Content != "first" {
		t.Fatalf("unexpected first reply %+v, %v", resp, err)
	}
	resp, err = p.Chat(context.Background(), ChatRequest{})
	if err != nil || len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Function.Name != "search" {
		t.Fatalf("unexpected tool reply %+v, %v", resp, err)
	}
	if _, err := p.Chat(context.Background(), ChatRequest{}); err == nil {
		t.Fatal("expected exhausted script to fail")
	}
	if p.CallCount != 3 {
		t.Errorf("expected 3 calls, got %d", p.CallCount)
	}
}

func TestScriptedMockProviderRepeat(t *testing.T) {
	p := NewScriptedMockProvider("only")
	p.Repeat = true
	for i := 0; i < 3; i++ {
		resp, err := p.Chat(context.Background(), ChatRequest{})
		if err != nil || resp.Content != "only" {
			t.Fatalf("call %d: %+v, %v", i, resp, err)
		}
	}
}

func TestUsageAdd(t *testing.T) {
	var u Usage
	u.Add(Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5})
	u.Add(Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2})
	if u.PromptTokens != 4 || u.CompletionTokens != 3 || u.TotalTokens != 7 {
		t.Fatalf("unexpected usage %+v", u)
	}
}

func TestOllamaChat(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = io.WriteString(w, `{
			"message": {"role": "assistant", "content": "", "tool_calls": [
				{"function": {"name": "search", "arguments": {"q": "flaming mountain"}}}
			]},
			"done": true, "prompt_eval_count": 12, "eval_count": 8
		}`)
	}))
	defer srv.Close()

	p := NewOllama(srv.URL, 0)
	resp, err := p.Chat(context.Background(), ChatRequest{
		Model:       "qwen",
		Temperature: 0.2,
		Messages: []Message{
			{Role: RoleSystem, Content: "you are wukong"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{NewToolCall("c0", "lookup", `{"id":1}`)}},
		},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got.Model != "qwen" || got.Stream || got.Options["temperature"] != 0.2 {
		t.Errorf("unexpected request %+v", got)
	}
	if string(got.Messages[1].ToolCalls[0].Function.Arguments) != `{"id":1}` {
		t.Errorf("tool arguments must be sent as objects, got %s", got.Messages[1].ToolCalls[0].Function.Arguments)
	}
	if resp.Usage.TotalTokens != 20 {
		t.Errorf("expected 20 tokens, got %d", resp.Usage.TotalTokens)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected one tool call, got %+v", resp.ToolCalls)
	}
	var args map[string]string
	if err := json.Unmarshal([]byte(resp.ToolCalls[0].Function.Arguments), &args); err != nil || args["q"] != "flaming mountain" {
		t.Errorf("unexpected arguments %q", resp.ToolCalls[0].Function.Arguments)
	}
}

func TestOllamaStatusErrors(t *testing.T) {
	tests := []struct {
		status      int
		code        errors.ErrorCode
		recoverable bool
	}{
		{http.StatusTooManyRequests, errors.CodeRateLimit, true},
		{http.StatusBadGateway, errors.CodeLLMError, true},
		{http.StatusNotFound, errors.CodeLLMError, false},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not loaded", tt.status)
		}))
		_, err := NewOllama(srv.URL, 0).Chat(context.Background(), ChatRequest{Model: "x"})
		srv.Close()

		we := errors.AsWestError(err)
		if we == nil || we.Code != tt.code || we.Recoverable != tt.recoverable {
			t.Errorf("status %d: unexpected error %+v", tt.status, we)
		}
	}
}

func TestOllamaPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, `{"models":[]}`)
	}))
	defer srv.Close()

	if err := NewOllama(srv.URL+"/", 0).Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestOpenAIChat(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing api key header")
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-test",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "SCORE: 8/10"}}],
			"usage": {"prompt_tokens": 7, "completion_tokens": 3, "total_tokens": 10}
		}`)
	}))
	defer srv.Close()

	p := NewOpenAI(WithOpenAIBaseURL(srv.URL+"/v1/"), WithOpenAIKey("test-key"), WithOpenAIModel("gpt-test"))
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleSystem, Content: "be pigsy"}, {Role: RoleUser, Content: "review"}},
		Tools: []Tool{{Type: ToolTypeFunction, Function: FunctionDef{
			Name:       "search",
			Parameters: map[string]any{"type": "object"},
		}}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "SCORE: 8/10" || resp.Usage.TotalTokens != 10 {
		t.Errorf("unexpected response %+v", resp)
	}
	if body["model"] != "gpt-test" {
		t.Errorf("expected default model in request, got %v", body["model"])
	}
	if tools, _ := body["tools"].([]any); len(tools) != 1 {
		t.Errorf("expected tools to be forwarded, got %v", body["tools"])
	}
}

func TestNewFromConfig(t *testing.T) {
	for _, name := range []string{"ollama", "openai", "mock"} {
		p, err := New(config.LLMConfig{Provider: name, Model: "m", APIKey: "k"})
		if err != nil || p == nil {
			t.Errorf("%s: unexpected %v", name, err)
		}
	}
	_, err := New(config.LLMConfig{Provider: "carrier-pigeon"})
	if !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
