// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/westodyssey/westodyssey/pkg/core"
	"github.com/westodyssey/westodyssey/pkg/errors"
	"github.com/westodyssey/westodyssey/pkg/llm"
)

type fakeTool struct {
	name  string
	calls []any
	out   any
	err   error
}

func (f *fakeTool) Name() string { return f.name }

func (f *fakeTool) Call(_ context.Context, input any) (any, error) {
	f.calls = append(f.calls, input)
	return f.out, f.err
}

func TestExecutorToolLoop(t *testing.T) {
	search := &fakeTool{name: "search", out: map[string]any{"hits": 2}}
	broken := &fakeTool{name: "broken", err: stderrors.New("disk on fire")}

	provider := llm.NewScriptedMockProvider()
	provider.AddToolCalls(
		llm.NewToolCall("c1", "search", `{"q":"demons"}`),
		llm.NewToolCall("c2", "missing", `{}`),
	)
	provider.AddToolCalls(llm.NewToolCall("c3", "broken", "plain"))
	provider.AddResponse("Found two demons.")

	recorder := &core.EventRecorder{}
	exec, err := NewExecutor(persona(t, core.RoleExecutor), provider, []core.Tool{search, broken}, WithEmitter(recorder))
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(exec.Tools(), ","); got != "broken,search" {
		t.Fatalf("unexpected tools %q", got)
	}

	out, err := exec.Execute(context.Background(), "clear the road", "search for demons")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Report != "Found two demons." {
		t.Fatalf("unexpected report %q", out.Report)
	}
	if len(out.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %+v", out.Steps)
	}
	if out.Steps[0].Output != `{"hits":2}` || out.Steps[0].Error != "" {
		t.Errorf("unexpected first step %+v", out.Steps[0])
	}
	if !strings.Contains(out.Steps[1].Error, "unknown tool") {
		t.Errorf("expected unknown tool error, got %+v", out.Steps[1])
	}
	if !strings.Contains(out.Steps[2].Error, "disk on fire") {
		t.Errorf("expected tool error, got %+v", out.Steps[2])
	}

	if args, ok := search.calls[0].(map[string]any); !ok || args["q"] != "demons" {
		t.Errorf("expected decoded arguments, got %#v", search.calls[0])
	}
	if broken.calls[0] != "plain" {
		t.Errorf("expected raw arguments, got %#v", broken.calls[0])
	}

	reqs := provider.Requests()
	if len(reqs) != 3 {
		t.Fatalf("expected 3 llm calls, got %d", len(reqs))
	}
	if len(reqs[0].Tools) != 2 {
		t.Errorf("expected tool definitions, got %+v", reqs[0].Tools)
	}
	second := reqs[1].Messages
	last := second[len(second)-1]
	if last.Role != llm.RoleTool || last.ToolCallID != "c2" || !strings.HasPrefix(last.Content, "error:") {
		t.Errorf("unexpected tool message %+v", last)
	}

	if got := len(recorder.OfType(core.EventToolCall)); got != 3 {
		t.Errorf("expected 3 tool events, got %d", got)
	}
	if !strings.Contains(out.Summary(), "2. missing({}) error") {
		t.Errorf("unexpected summary:\n%s", out.Summary())
	}
}

func TestExecutorMaxSteps(t *testing.T) {
	provider := llm.NewScriptedMockProvider()
	provider.AddToolCalls(llm.NewToolCall("c1", "search", `{}`))
	provider.Repeat = true

	exec, err := NewExecutor(persona(t, core.RoleExecutor), provider,
		[]core.Tool{&fakeTool{name: "search", out: "x"}}, WithMaxSteps(2))
	if err != nil {
		t.Fatal(err)
	}
	out, err := exec.Execute(context.Background(), "g", "p")
	if !errors.HasCode(err, errors.CodeToolFailure) {
		t.Fatalf("expected CodeToolFailure, got %v", err)
	}
	if len(out.Steps) != 2 {
		t.Fatalf("expected partial steps, got %d", len(out.Steps))
	}
}

func TestExecutorRejectsDuplicateTools(t *testing.T) {
	_, err := NewExecutor(persona(t, core.RoleExecutor), &llm.MockProvider{},
		[]core.Tool{&fakeTool{name: "a"}, &fakeTool{name: "a"}})
	if !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected CodeInvalidInput, got %v", err)
	}
}
