// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

// Package testing runs scripted debates for tests.
//
// A Scenario gives every role its own scripted provider, runs one goal
// through a real engine over an in-memory node and checks the outcome:
//
//	s := testing.NewScenario("two rounds").
//	    WithGoal("find the scriptures").
//	    Solver("draft", "better draft").
//	    Critic("SCORE: 4/10\nVERDICT: revise", "SCORE: 9/10\nVERDICT: approve").
//	    ExpectStatus(core.TaskStatusCompleted).
//	    ExpectRounds(2)
//
//	s.Run(t).Assert(t, s)
package testing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/westodyssey/westodyssey/pkg/agent"
	"github.com/westodyssey/westodyssey/pkg/core"
	"github.com/westodyssey/westodyssey/pkg/engine"
	"github.com/westodyssey/westodyssey/pkg/errors"
	"github.com/westodyssey/westodyssey/pkg/llm"
	"github.com/westodyssey/westodyssey/pkg/memory"
	"github.com/westodyssey/westodyssey/pkg/prompts"
)

// Scenario describes one scripted run.
type Scenario struct {
	name         string
	goal         string
	session      string
	timeout      time.Duration
	cfg          engine.Config
	solver       *llm.ScriptedMockProvider
	critic       *llm.ScriptedMockProvider
	executor     *llm.ScriptedMockProvider
	tools        []core.Tool
	approval     agent.ApprovalHook
	node         *memory.Node
	expectations []Expectation
}

// Expectation defines a condition to verify after running a scenario.
type Expectation interface {
	// Check verifies the expectation against the result.
	Check(result *Result) error
	// Description returns a human-readable description of the expectation.
	Description() string
}

// Result is what a scenario run produced.
type Result struct {
	Outcome  *engine.Outcome
	Error    error
	Events   []core.Event
	Entries  []memory.Entry
	Duration time.Duration
}

// NewScenario creates a scenario with the default engine rules.
func NewScenario(name string) *Scenario {
	return &Scenario{
		name:    name,
		goal:    name,
		timeout: 30 * time.Second,
		cfg:     engine.DefaultConfig(),
		solver:  llm.NewScriptedMockProvider(),
		critic:  llm.NewScriptedMockProvider(),
	}
}

// WithGoal sets the goal handed to the engine.
func (s *Scenario) WithGoal(goal string) *Scenario {
	s.goal = goal
	return s
}

// WithSession fixes the session id.
func (s *Scenario) WithSession(id string) *Scenario {
	s.session = id
	return s
}

// WithTimeout bounds the whole run.
func (s *Scenario) WithTimeout(d time.Duration) *Scenario {
	s.timeout = d
	return s
}

// WithConfig replaces the engine rules.
func (s *Scenario) WithConfig(cfg engine.Config) *Scenario {
	s.cfg = cfg
	return s
}

// WithMemory runs against node instead of a fresh in-memory one.
func (s *Scenario) WithMemory(node *memory.Node) *Scenario {
	s.node = node
	return s
}

// WithApproval adds the human phase decided by hook.
func (s *Scenario) WithApproval(hook agent.ApprovalHook) *Scenario {
	s.approval = hook
	return s
}

// Solver appends scripted solver replies.
func (s *Scenario) Solver(replies ...string) *Scenario {
	for _, r := range replies {
		s.solver.AddResponse(r)
	}
	return s
}

// Critic appends scripted critic replies.
func (s *Scenario) Critic(replies ...string) *Scenario {
	for _, r := range replies {
		s.critic.AddResponse(r)
	}
	return s
}

// Executor adds the execution phase driven by provider with tools.
func (s *Scenario) Executor(provider *llm.ScriptedMockProvider, tools ...core.Tool) *Scenario {
	s.executor = provider
	s.tools = tools
	return s
}

// Expect adds an expectation to the scenario.
func (s *Scenario) Expect(exp Expectation) *Scenario {
	s.expectations = append(s.expectations, exp)
	return s
}

// ExpectNoError expects the run to succeed.
func (s *Scenario) ExpectNoError() *Scenario {
	return s.Expect(&noErrorExpectation{})
}

// ExpectErrorCode expects the run to fail with code.
func (s *Scenario) ExpectErrorCode(code errors.ErrorCode) *Scenario {
	return s.Expect(&errorCodeExpectation{code: code})
}

// ExpectStatus expects the final task status.
func (s *Scenario) ExpectStatus(status core.TaskStatus) *Scenario {
	return s.Expect(&statusExpectation{status: status})
}

// ExpectRounds expects the number of debate rounds played.
func (s *Scenario) ExpectRounds(n int) *Scenario {
	return s.Expect(&roundsExpectation{rounds: n})
}

// ExpectConsensus expects whether the critic approved.
func (s *Scenario) ExpectConsensus(consensus bool) *Scenario {
	return s.Expect(&consensusExpectation{consensus: consensus})
}

// ExpectAnswer matches the accepted answer.
func (s *Scenario) ExpectAnswer(matcher StringMatcher) *Scenario {
	return s.Expect(&answerExpectation{matcher: matcher})
}

// ExpectEvent expects an event of the given type.
func (s *Scenario) ExpectEvent(eventType core.EventType) *Scenario {
	return s.Expect(&eventExpectation{eventType: eventType})
}

// ExpectEntries expects n entries of kind on the blackboard.
func (s *Scenario) ExpectEntries(kind memory.Kind, n int) *Scenario {
	return s.Expect(&entriesExpectation{kind: kind, count: n})
}

// Run builds the agents and the engine and runs the goal once.
func (s *Scenario) Run(t *testing.T) *Result {
	t.Helper()

	library, err := prompts.Default()
	if err != nil {
		t.Fatalf("scenario %q: personas: %v", s.name, err)
	}
	persona := func(role core.Role) prompts.Persona {
		p, err := library.Get(role)
		if err != nil {
			t.Fatalf("scenario %q: persona %s: %v", s.name, role, err)
		}
		return p
	}

	recorder := &core.EventRecorder{}
	common := []agent.Option{agent.WithEmitter(recorder)}

	solver, err := agent.NewSolver(persona(core.RoleSolver), s.solver, common...)
	if err != nil {
		t.Fatalf("scenario %q: solver: %v", s.name, err)
	}
	critic, err := agent.NewCritic(persona(core.RoleCritic), s.critic, s.cfg.MinScore, common...)
	if err != nil {
		t.Fatalf("scenario %q: critic: %v", s.name, err)
	}

	node := s.node
	if node == nil {
		node = memory.NewNode(memory.NewInMemoryStore())
	}
	opts := []engine.Option{
		engine.WithSolver(solver),
		engine.WithCritic(critic),
		engine.WithMemory(node),
		engine.WithEmitter(recorder),
	}
	if s.executor != nil {
		x, err := agent.NewExecutor(persona(core.RoleExecutor), s.executor, s.tools, common...)
		if err != nil {
			t.Fatalf("scenario %q: executor: %v", s.name, err)
		}
		opts = append(opts, engine.WithExecutor(x))
	}
	if s.approval != nil {
		opts = append(opts, engine.WithHuman(agent.NewHuman(persona(core.RoleHuman), s.approval)))
	}
	eng, err := engine.New(s.cfg, opts...)
	if err != nil {
		t.Fatalf("scenario %q: engine: %v", s.name, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var runOpts []engine.RunOption
	if s.session != "" {
		runOpts = append(runOpts, engine.WithSession(s.session))
	}
	start := time.Now()
	out, runErr := eng.Run(ctx, s.goal, runOpts...)
	result := &Result{
		Outcome:  out,
		Error:    runErr,
		Events:   recorder.Events(),
		Duration: time.Since(start),
	}
	if out != nil {
		entries, err := node.Entries(context.Background(), out.Session, memory.Filter{})
		if err != nil {
			t.Fatalf("scenario %q: entries: %v", s.name, err)
		}
		result.Entries = entries
	}
	return result
}

// Assert checks all expectations and reports failures to the test.
func (r *Result) Assert(t *testing.T, scenario *Scenario) {
	t.Helper()

	for _, exp := range scenario.expectations {
		if err := exp.Check(r); err != nil {
			t.Errorf("scenario %q: expectation %q failed: %v", scenario.name, exp.Description(), err)
		}
	}
}

type noErrorExpectation struct{}

func (e *noErrorExpectation) Check(r *Result) error {
	if r.Error != nil {
		return fmt.Errorf("expected no error, got: %v", r.Error)
	}
	return nil
}

func (e *noErrorExpectation) Description() string {
	return "no error"
}

type errorCodeExpectation struct {
	code errors.ErrorCode
}

func (e *errorCodeExpectation) Check(r *Result) error {
	if !errors.HasCode(r.Error, e.code) {
		return fmt.Errorf("expected %s, got: %v", e.code, r.Error)
	}
	return nil
}

func (e *errorCodeExpectation) Description() string {
	return fmt.Sprintf("error code %s", e.code)
}

type statusExpectation struct {
	status core.TaskStatus
}

func (e *statusExpectation) Check(r *Result) error {
	if r.Outcome == nil {
		return fmt.Errorf("no outcome")
	}
	if r.Outcome.Status != e.status {
		return fmt.Errorf("status is %s", r.Outcome.Status)
	}
	return nil
}

func (e *statusExpectation) Description() string {
	return fmt.Sprintf("status %s", e.status)
}

type roundsExpectation struct {
	rounds int
}

func (e *roundsExpectation) Check(r *Result) error {
	if r.Outcome == nil {
		return fmt.Errorf("no outcome")
	}
	if r.Outcome.Rounds != e.rounds {
		return fmt.Errorf("played %d rounds", r.Outcome.Rounds)
	}
	return nil
}

func (e *roundsExpectation) Description() string {
	return fmt.Sprintf("%d rounds", e.rounds)
}

type consensusExpectation struct {
	consensus bool
}

func (e *consensusExpectation) Check(r *Result) error {
	if r.Outcome == nil {
		return fmt.Errorf("no outcome")
	}
	if r.Outcome.Consensus != e.consensus {
		return fmt.Errorf("consensus is %v", r.Outcome.Consensus)
	}
	return nil
}

func (e *consensusExpectation) Description() string {
	return fmt.Sprintf("consensus %v", e.consensus)
}

type answerExpectation struct {
	matcher StringMatcher
}

func (e *answerExpectation) Check(r *Result) error {
	if r.Outcome == nil {
		return fmt.Errorf("no outcome")
	}
	if !e.matcher.Match(r.Outcome.Answer) {
		return fmt.Errorf("answer %q does not match: %s", r.Outcome.Answer, e.matcher.Description())
	}
	return nil
}

func (e *answerExpectation) Description() string {
	return fmt.Sprintf("answer %s", e.matcher.Description())
}

type eventExpectation struct {
	eventType core.EventType
}

func (e *eventExpectation) Check(r *Result) error {
	for _, ev := range r.Events {
		if ev.Type == e.eventType {
			return nil
		}
	}
	return fmt.Errorf("event type %q was not emitted", e.eventType)
}

func (e *eventExpectation) Description() string {
	return fmt.Sprintf("event %q emitted", e.eventType)
}

type entriesExpectation struct {
	kind  memory.Kind
	count int
}

func (e *entriesExpectation) Check(r *Result) error {
	n := 0
	for _, entry := range r.Entries {
		if entry.Kind == e.kind {
			n++
		}
	}
	if n != e.count {
		return fmt.Errorf("found %d %s entries", n, e.kind)
	}
	return nil
}

func (e *entriesExpectation) Description() string {
	return fmt.Sprintf("%d %s entries", e.count, e.kind)
}
