// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/westodyssey/westodyssey/pkg/agent"
	"github.com/westodyssey/westodyssey/pkg/core"
	"github.com/westodyssey/westodyssey/pkg/errors"
	"github.com/westodyssey/westodyssey/pkg/llm"
	"github.com/westodyssey/westodyssey/pkg/memory"
	"github.com/westodyssey/westodyssey/pkg/prompts"
	"github.com/westodyssey/westodyssey/pkg/resilience"
)

const (
	approve = "SCORE: 9/10\nVERDICT: approve"
	revise  = "SCORE: 4/10\nVERDICT: revise\nISSUES:\n- too thin"
)

type fixture struct {
	solverLLM *llm.ScriptedMockProvider
	criticLLM *llm.ScriptedMockProvider
	solver    *agent.Solver
	critic    *agent.Critic
	node      *memory.Node
	audit     *MemoryAuditStore
	events    *core.EventRecorder
}

func newFixture(t *testing.T, solverReplies, criticReplies []string) *fixture {
	t.Helper()
	lib, err := prompts.Default()
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		solverLLM: llm.NewScriptedMockProvider(solverReplies...),
		criticLLM: llm.NewScriptedMockProvider(criticReplies...),
		node:      memory.NewNode(memory.NewInMemoryStore()),
		audit:     NewMemoryAuditStore(),
		events:    &core.EventRecorder{},
	}
	retry := agent.WithRetry(resilience.RetryConfig{MaxAttempts: 1})
	sp, _ := lib.Get(core.RoleSolver)
	if f.solver, err = agent.NewSolver(sp, f.solverLLM, retry); err != nil {
		t.Fatal(err)
	}
	cp, _ := lib.Get(core.RoleCritic)
	if f.critic, err = agent.NewCritic(cp, f.criticLLM, 0.7, retry); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) engine(t *testing.T, cfg Config, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithSolver(f.solver),
		WithCritic(f.critic),
		WithMemory(f.node),
		WithAudit(f.audit),
		WithEmitter(f.events),
	}
	e, err := New(cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TurnTimeout = 0
	cfg.RecallLimit = 0
	return cfg
}

func kinds(t *testing.T, node *memory.Node, session string) string {
	t.Helper()
	entries, err := node.Entries(context.Background(), session, memory.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	out := make([]string, 0, len(entries))
	for i, e := range entries {
		if e.Seq != i+1 {
			t.Fatalf("seq gap at %d: %+v", i, e)
		}
		out = append(out, string(e.Kind))
	}
	return strings.Join(out, ",")
}

func TestRunReachesConsensus(t *testing.T) {
	f := newFixture(t, []string{"draft 1", "draft 2"}, []string{revise, approve})
	e := f.engine(t, testConfig())

	out, err := e.Run(context.Background(), "  find the scriptures  ")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != core.TaskStatusCompleted || !out.Consensus {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.Answer != "draft 2" || out.Rounds != 2 || len(out.Critiques) != 2 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.Goal != "find the scriptures" || out.Session == "" {
		t.Fatalf("unexpected identity %q/%q", out.Goal, out.Session)
	}
	if got := kinds(t, f.node, out.Session); got != "goal,proposal,critique,proposal,critique" {
		t.Fatalf("unexpected entries %s", got)
	}

	second := f.solverLLM.Requests()[1].Messages[1].Content
	if !strings.Contains(second, "draft 1") || !strings.Contains(second, "too thin") {
		t.Fatalf("second brief lacks previous round:\n%s", second)
	}

	events, _ := f.audit.List(context.Background(), AuditFilter{Session: out.Session})
	if len(events) != 4 {
		t.Fatalf("expected 4 audited turns, got %d", len(events))
	}
	if events[3].Role != core.RoleCritic || events[3].Round != 2 || events[3].Turn != 4 || events[3].Status != TurnOK {
		t.Fatalf("unexpected last audit event %+v", events[3])
	}
	if got := len(f.events.OfType(core.EventVerdict)); got != 2 {
		t.Fatalf("expected 2 verdict events, got %d", got)
	}
	if got := len(f.events.OfType(core.EventRunFinished)); got != 1 {
		t.Fatalf("expected run finished event, got %d", got)
	}
}

func TestRunRequireConsensus(t *testing.T) {
	f := newFixture(t, []string{"a", "b"}, []string{revise, revise})
	cfg := testConfig()
	cfg.MaxRounds = 2
	cfg.RequireConsensus = true
	e := f.engine(t, cfg)

	out, err := e.Run(context.Background(), "goal")
	if !errors.HasCode(err, errors.CodeMaxRounds) {
		t.Fatalf("expected CodeMaxRounds, got %v", err)
	}
	if out == nil || out.Status != core.TaskStatusFailed || out.Rounds != 2 {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestRunBestEffort(t *testing.T) {
	f := newFixture(t, []string{"a", "b"}, []string{revise, revise})
	cfg := testConfig()
	cfg.MaxRounds = 2
	e := f.engine(t, cfg)

	out, err := e.Run(context.Background(), "goal")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != core.TaskStatusCompleted || out.Consensus || out.Answer != "b" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	note, err := f.node.Latest(context.Background(), out.Session, memory.KindNote)
	if err != nil {
		t.Fatal(err)
	}
	if note.Metadata["consensus"] != "false" {
		t.Fatalf("unexpected note %+v", note)
	}
}

func TestRunHumanRevision(t *testing.T) {
	f := newFixture(t, []string{"first", "second"}, []string{approve, approve})
	answers := []agent.Decision{
		{Approved: false, Feedback: "add the dates"},
		{Approved: true},
	}
	var requests []agent.DecisionRequest
	hook := agent.ApprovalFunc(func(_ context.Context, req agent.DecisionRequest) (agent.Decision, error) {
		requests = append(requests, req)
		d := answers[0]
		answers = answers[1:]
		return d, nil
	})
	lib, _ := prompts.Default()
	monk, _ := lib.Get(core.RoleHuman)
	e := f.engine(t, testConfig(), WithHuman(agent.NewHuman(monk, hook)))

	out, err := e.Run(context.Background(), "goal")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != core.TaskStatusCompleted || out.Answer != "second" || out.Revisions != 1 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.Rounds != 2 || requests[1].Round != 2 || requests[1].Revision != 1 {
		t.Fatalf("rounds should continue across revisions: %+v / %+v", out, requests[1])
	}
	if !out.Decision.Approved {
		t.Fatalf("unexpected decision %+v", out.Decision)
	}
	brief := f.solverLLM.Requests()[1].Messages[1].Content
	if !strings.Contains(brief, "add the dates") {
		t.Fatalf("feedback not passed to solver:\n%s", brief)
	}
	if got := kinds(t, f.node, out.Session); got != "goal,proposal,critique,decision,proposal,critique,decision" {
		t.Fatalf("unexpected entries %s", got)
	}
}

func TestRunHumanRejects(t *testing.T) {
	f := newFixture(t, []string{"first"}, []string{approve})
	lib, _ := prompts.Default()
	monk, _ := lib.Get(core.RoleHuman)
	hook := agent.StaticApprovalHook{Decision: agent.Decision{Approved: false, Feedback: "no"}}
	cfg := testConfig()
	cfg.HumanRevisions = 0
	e := f.engine(t, cfg, WithHuman(agent.NewHuman(monk, hook)))

	out, err := e.Run(context.Background(), "goal")
	if !errors.HasCode(err, errors.CodeRejected) {
		t.Fatalf("expected CodeRejected, got %v", err)
	}
	if out.Status != core.TaskStatusRejected {
		t.Fatalf("unexpected status %s", out.Status)
	}
}

type echoTool struct{}

func (echoTool) Name() string { return "echo" }

func (echoTool) Call(_ context.Context, input any) (any, error) {
	return input, nil
}

func TestRunWithExecutor(t *testing.T) {
	f := newFixture(t, []string{"plan"}, []string{approve})
	execLLM := llm.NewScriptedMockProvider()
	execLLM.AddToolCalls(llm.NewToolCall("c1", "echo", `{"say":"hi"}`))
	execLLM.AddResponse("done")

	lib, _ := prompts.Default()
	friar, _ := lib.Get(core.RoleExecutor)
	executor, err := agent.NewExecutor(friar, execLLM, []core.Tool{echoTool{}})
	if err != nil {
		t.Fatal(err)
	}
	e := f.engine(t, testConfig(), WithExecutor(executor))

	out, err := e.Run(context.Background(), "goal")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Execution == nil || out.Execution.Report != "done" || len(out.Execution.Steps) != 1 {
		t.Fatalf("unexpected execution %+v", out.Execution)
	}
	entry, err := f.node.Latest(context.Background(), out.Session, memory.KindExecution)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Metadata["steps"] != "1" || entry.Author != core.RoleExecutor {
		t.Fatalf("unexpected execution entry %+v", entry)
	}
	if len(e.Agents()) != 3 {
		t.Fatalf("expected 3 agents, got %d", len(e.Agents()))
	}
}

func TestRunCancelled(t *testing.T) {
	f := newFixture(t, nil, []string{approve})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lib, _ := prompts.Default()
	sp, _ := lib.Get(core.RoleSolver)
	solver, err := agent.NewSolver(sp, &llm.MockProvider{ChatFunc: func(ctx context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
		cancel()
		return nil, ctx.Err()
	}})
	if err != nil {
		t.Fatal(err)
	}
	e := f.engine(t, testConfig(), WithSolver(solver))

	out, err := e.Run(ctx, "goal")
	if !errors.HasCode(err, errors.CodeContextLost) {
		t.Fatalf("expected CodeContextLost, got %v", err)
	}
	if out.Status != core.TaskStatusCancelled {
		t.Fatalf("unexpected status %s", out.Status)
	}
	failed, _ := f.audit.List(context.Background(), AuditFilter{Status: TurnFailed})
	if len(failed) != 1 || failed[0].Role != core.RoleSolver {
		t.Fatalf("expected one failed solver turn, got %+v", failed)
	}
}

func TestRunTurnTimeout(t *testing.T) {
	f := newFixture(t, nil, []string{approve})
	lib, _ := prompts.Default()
	sp, _ := lib.Get(core.RoleSolver)
	solver, err := agent.NewSolver(sp, &llm.MockProvider{ChatFunc: func(ctx context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}})
	if err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.TurnTimeout = 20 * time.Millisecond
	e := f.engine(t, cfg, WithSolver(solver))

	start := time.Now()
	out, err := e.Run(context.Background(), "goal", WithSession("slow"))
	if !errors.HasCode(err, errors.CodeTimeout) {
		t.Fatalf("expected CodeTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("turn was not cut by its timeout, took %s", elapsed)
	}
	if out.Status != core.TaskStatusFailed || out.Error == "" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	failed, _ := f.audit.List(context.Background(), AuditFilter{Session: "slow", Status: TurnFailed})
	if len(failed) != 1 || failed[0].Role != core.RoleSolver || !strings.Contains(failed[0].Error, "timeout") {
		t.Fatalf("expected one timed out solver turn, got %+v", failed)
	}
	if f.criticLLM.CallCount != 0 {
		t.Fatal("critic must not run after the solver timed out")
	}
	if got := kinds(t, f.node, "slow"); got != "goal" {
		t.Fatalf("unexpected entries %s", got)
	}
}

func TestRunSurvivesNotesFromAnotherProcess(t *testing.T) {
	dir := t.TempDir()
	runStore, err := memory.NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	serveStore, err := memory.NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	server := memory.NewNode(serveStore)

	f := newFixture(t, nil, []string{approve})
	f.node = memory.NewNode(runStore)
	lib, _ := prompts.Default()
	sp, _ := lib.Get(core.RoleSolver)
	solver, err := agent.NewSolver(sp, &llm.MockProvider{ChatFunc: func(ctx context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
		if _, err := server.Post(ctx, "shared", memory.Entry{Kind: memory.KindNote, Content: "from serve-mcp"}, memory.AnySeq); err != nil {
			return nil, err
		}
		return &llm.ChatResponse{Content: "draft"}, nil
	}})
	if err != nil {
		t.Fatal(err)
	}
	e := f.engine(t, testConfig(), WithSolver(solver))

	if _, err := e.Run(context.Background(), "goal", WithSession("shared")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := kinds(t, f.node, "shared"); got != "goal,note,proposal,critique" {
		t.Fatalf("unexpected entries %s", got)
	}
}

func TestRunSurvivesConcurrentNotes(t *testing.T) {
	f := newFixture(t, nil, []string{approve})
	lib, _ := prompts.Default()
	sp, _ := lib.Get(core.RoleSolver)
	solver, err := agent.NewSolver(sp, &llm.MockProvider{ChatFunc: func(ctx context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
		if _, err := f.node.Post(ctx, "shared", memory.Entry{Kind: memory.KindNote, Content: "side remark"}, memory.AnySeq); err != nil {
			return nil, err
		}
		return &llm.ChatResponse{Content: "draft"}, nil
	}})
	if err != nil {
		t.Fatal(err)
	}
	e := f.engine(t, testConfig(), WithSolver(solver))

	out, err := e.Run(context.Background(), "goal", WithSession("shared"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Session != "shared" {
		t.Fatalf("unexpected session %q", out.Session)
	}
	if got := kinds(t, f.node, "shared"); got != "goal,note,proposal,critique" {
		t.Fatalf("unexpected entries %s", got)
	}
}

func TestRunValidation(t *testing.T) {
	f := newFixture(t, nil, nil)
	e := f.engine(t, testConfig())
	if _, err := e.Run(context.Background(), "   "); !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected CodeInvalidInput, got %v", err)
	}

	tests := []struct {
		name string
		cfg  Config
		opts []Option
	}{
		{"no rounds", Config{MaxRounds: 0, MinScore: 0.5}, []Option{WithSolver(f.solver), WithCritic(f.critic)}},
		{"bad score", Config{MaxRounds: 1, MinScore: 2}, []Option{WithSolver(f.solver), WithCritic(f.critic)}},
		{"no critic", Config{MaxRounds: 1, MinScore: 0.5}, []Option{WithSolver(f.solver)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, tt.opts...); !errors.HasCode(err, errors.CodeInvalidInput) {
				t.Fatalf("expected CodeInvalidInput, got %v", err)
			}
		})
	}
}

func TestRunRecallsEarlierSessions(t *testing.T) {
	f := newFixture(t, []string{"answer"}, []string{approve})
	vm := memory.NewVectorMemory(memory.NewInMemoryVectorStore(), bagEmbedder{}, "notes", memory.WithScoreThreshold(0.1))
	f.node = memory.NewNode(memory.NewInMemoryStore(), memory.WithRecall(vm))
	if _, err := f.node.Post(context.Background(), "old", memory.Entry{Kind: memory.KindProposal, Content: "bridges over rivers"}, memory.AnySeq); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.RecallLimit = 2
	e := f.engine(t, cfg)

	if _, err := e.Run(context.Background(), "rivers"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	brief := f.solverLLM.Requests()[0].Messages[1].Content
	if !strings.Contains(brief, "bridges over rivers") {
		t.Fatalf("recalled note missing:\n%s", brief)
	}
}

// bagEmbedder maps text onto letter counts, enough for cosine similarity.
type bagEmbedder struct{}

func (bagEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 26)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	return v, nil
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil, nil)
	e := f.engine(t, testConfig(), WithHealthCheck("mcp", core.StaticHealth(core.HealthDegraded, "slow")))
	report := e.Health(context.Background())
	if report.Status != core.HealthDegraded {
		t.Fatalf("expected degraded, got %+v", report)
	}
	if len(report.Components) != 4 {
		t.Fatalf("expected 4 components, got %d", len(report.Components))
	}
}
