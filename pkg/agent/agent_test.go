// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/westodyssey/westodyssey/pkg/core"
	"github.com/westodyssey/westodyssey/pkg/errors"
	"github.com/westodyssey/westodyssey/pkg/llm"
	"github.com/westodyssey/westodyssey/pkg/prompts"
	"github.com/westodyssey/westodyssey/pkg/resilience"
)

func persona(t *testing.T, role core.Role) prompts.Persona {
	t.Helper()
	lib, err := prompts.Default()
	if err != nil {
		t.Fatalf("prompts.Default: %v", err)
	}
	p, err := lib.Get(role)
	if err != nil {
		t.Fatalf("persona %s: %v", role, err)
	}
	return p
}

func fastRetry() Option {
	return WithRetry(resilience.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond})
}

func TestNewSolverRequiresProvider(t *testing.T) {
	_, err := NewSolver(persona(t, core.RoleSolver), nil)
	if !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected CodeInvalidInput, got %v", err)
	}
}

func TestSolverPropose(t *testing.T) {
	provider := llm.NewScriptedMockProvider("  The river is crossed by raft.  ")
	solver, err := NewSolver(persona(t, core.RoleSolver), provider, WithModel("m1"))
	if err != nil {
		t.Fatal(err)
	}

	critique := &Critique{Score: 0.4, Verdict: VerdictRevise, Issues: []string{"no raft"}}
	p, err := solver.Propose(context.Background(), Brief{
		Goal:     "cross the river",
		Round:    2,
		Previous: "swim",
		Critique: critique,
		Feedback: "mind the monk",
	})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if p.Content != "The river is crossed by raft." || p.Round != 2 || p.Goal != "cross the river" {
		t.Fatalf("unexpected proposal %+v", p)
	}

	reqs := provider.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	req := reqs[0]
	if req.Model != "m1" {
		t.Errorf("expected model m1, got %q", req.Model)
	}
	if req.Temperature != 0.7 {
		t.Errorf("expected persona temperature 0.7, got %v", req.Temperature)
	}
	if req.Messages[0].Role != llm.RoleSystem || !strings.Contains(req.Messages[0].Content, "cross the river") {
		t.Errorf("system prompt not rendered: %q", req.Messages[0].Content)
	}
	user := req.Messages[1].Content
	for _, want := range []string{"swim", "no raft", "mind the monk", "improved proposal"} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt missing %q:\n%s", want, user)
		}
	}
}

func TestSolverRejectsEmptyAnswers(t *testing.T) {
	solver, err := NewSolver(persona(t, core.RoleSolver), llm.NewScriptedMockProvider("   "))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := solver.Propose(context.Background(), Brief{Goal: "g", Round: 1}); !errors.HasCode(err, errors.CodeLLMError) {
		t.Fatalf("expected CodeLLMError, got %v", err)
	}
	if _, err := solver.Propose(context.Background(), Brief{}); !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected CodeInvalidInput, got %v", err)
	}
}

func TestAskRetriesAndAccountsUsage(t *testing.T) {
	calls := 0
	provider := &llm.MockProvider{ChatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		calls++
		if calls == 1 {
			return nil, stderrors.New("connection reset")
		}
		return &llm.ChatResponse{Content: "ok", Usage: llm.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}}, nil
	}}
	solver, err := NewSolver(persona(t, core.RoleSolver), provider, fastRetry())
	if err != nil {
		t.Fatal(err)
	}
	resp, err := solver.Ask(context.Background(), "sys", "hi")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if resp.Content != "ok" || calls != 2 {
		t.Fatalf("expected retry then ok, got %q after %d calls", resp.Content, calls)
	}
	if u := solver.Usage(); u.TotalTokens != 5 {
		t.Fatalf("expected 5 tokens, got %+v", u)
	}
}

func TestAskMapsErrors(t *testing.T) {
	solver, err := NewSolver(persona(t, core.RoleSolver), &llm.FailingMockProvider{}, fastRetry())
	if err != nil {
		t.Fatal(err)
	}
	_, err = solver.Ask(context.Background(), "", "hi")
	if !errors.HasCode(err, errors.CodeLLMError) {
		t.Fatalf("expected CodeLLMError, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = solver.Ask(ctx, "", "hi")
	if !errors.HasCode(err, errors.CodeContextLost) {
		t.Fatalf("expected CodeContextLost, got %v", err)
	}
}

func TestAskOpensBreaker(t *testing.T) {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Hour})
	provider := &llm.FailingMockProvider{}
	solver, err := NewSolver(persona(t, core.RoleSolver), provider,
		WithBreaker(cb),
		WithRetry(resilience.RetryConfig{MaxAttempts: 1}),
	)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		_, _ = solver.Ask(context.Background(), "", "hi")
	}
	if cb.State() != resilience.StateOpen {
		t.Fatalf("expected open breaker, got %s", cb.State())
	}
	res := NewHealthChecker(solver.Base).Check(context.Background())
	if res.Status != core.HealthUnhealthy {
		t.Fatalf("expected unhealthy agent, got %+v", res)
	}
}

func TestHealthCheckerPingsProvider(t *testing.T) {
	solver, err := NewSolver(persona(t, core.RoleSolver), &llm.MockProvider{})
	if err != nil {
		t.Fatal(err)
	}
	res := NewHealthChecker(solver.Base).Check(context.Background())
	if res.Status != core.HealthHealthy || res.Component != "agent:wukong" {
		t.Fatalf("unexpected health %+v", res)
	}
}

func TestRunDispatchesInput(t *testing.T) {
	solver, err := NewSolver(persona(t, core.RoleSolver), llm.NewScriptedMockProvider("draft"))
	if err != nil {
		t.Fatal(err)
	}
	out, err := solver.Run(context.Background(), "goal")
	if err != nil {
		t.Fatal(err)
	}
	if p, ok := out.(Proposal); !ok || p.Content != "draft" {
		t.Fatalf("unexpected output %#v", out)
	}
	if _, err := solver.Run(context.Background(), 42); !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected CodeInvalidInput, got %v", err)
	}
	if solver.ID() != "wukong" || solver.Role() != core.RoleSolver {
		t.Fatalf("unexpected identity %s/%s", solver.ID(), solver.Role())
	}
}
