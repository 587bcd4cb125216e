// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine coordinates a run: the solver and the critic debate on the
// shared memory node until the critic approves, the executor carries out the
// accepted proposal and the human reviewer has the last word.
package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/westodyssey/westodyssey/pkg/agent"
	"github.com/westodyssey/westodyssey/pkg/core"
	"github.com/westodyssey/westodyssey/pkg/errors"
	"github.com/westodyssey/westodyssey/pkg/memory"
	"github.com/westodyssey/westodyssey/pkg/resilience"
	"github.com/westodyssey/westodyssey/pkg/telemetry"
)

// Engine runs goals through the role agents.
type Engine struct {
	cfg         Config
	solver      *agent.Solver
	critic      *agent.Critic
	executor    *agent.Executor
	human       *agent.Human
	memory      *memory.Node
	emitter     core.EventEmitter
	metrics     *telemetry.EngineMetrics
	audit       AuditStore
	tracer      trace.Tracer
	logger      *slog.Logger
	extraHealth map[string]core.HealthChecker
	health      *core.HealthRegistry
	postRetry   resilience.RetryConfig
}

// New creates an engine. A solver and a critic are required.
func New(cfg Config, opts ...Option) (*Engine, error) {
	e := &Engine{cfg: cfg, extraHealth: make(map[string]core.HealthChecker)}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.MaxRounds < 1 {
		return nil, errors.New(errors.CodeInvalidInput, "max rounds must be at least 1", nil).
			WithContext("max_rounds", e.cfg.MaxRounds)
	}
	if e.cfg.MinScore < 0 || e.cfg.MinScore > 1 {
		return nil, errors.New(errors.CodeInvalidInput, "min score must be within 0..1", nil).
			WithContext("min_score", e.cfg.MinScore)
	}
	if e.solver == nil || e.critic == nil {
		return nil, errors.New(errors.CodeInvalidInput, "engine needs a solver and a critic", nil)
	}
	if e.memory == nil {
		e.memory = memory.NewNode(memory.NewInMemoryStore())
	}
	if e.emitter == nil {
		e.emitter = core.NoopEventEmitter{}
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("westodyssey/engine")
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.postRetry = resilience.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 5 * time.Millisecond,
		IsRecoverable: func(err error) bool {
			return errors.HasCode(err, errors.CodeConflict)
		},
	}
	e.health = e.buildHealth()
	return e, nil
}

// Memory returns the node the engine writes to.
func (e *Engine) Memory() *memory.Node { return e.memory }

// Config returns the debate rules.
func (e *Engine) Config() Config { return e.cfg }

// Agents lists the configured role agents in turn order.
func (e *Engine) Agents() []core.Agent {
	out := []core.Agent{e.solver, e.critic}
	if e.executor != nil {
		out = append(out, e.executor)
	}
	if e.human != nil {
		out = append(out, e.human)
	}
	return out
}

type run struct {
	session  string
	goal     string
	out      *Outcome
	task     *core.Task
	notes    []string
	head     int
	turn     int
	last     *agent.Proposal
	critique *agent.Critique
}

// Run drives goal to a terminal status. The outcome is returned together
// with the error so failed runs can still be inspected.
func (e *Engine) Run(ctx context.Context, goal string, opts ...RunOption) (*Outcome, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return nil, errors.New(errors.CodeInvalidInput, "goal is required", nil)
	}
	ro := runOptions{}
	for _, opt := range opts {
		opt(&ro)
	}
	session := strings.TrimSpace(ro.session)
	if session == "" {
		session = uuid.NewString()
	}

	ctx = core.WithSession(ctx, session)
	ctx, runID := core.EnsureRunID(ctx)
	ctx, span := e.tracer.Start(ctx, "engine.Run", trace.WithAttributes(
		attribute.String(telemetry.AttrSession, session),
	))
	defer span.End()

	r := &run{
		session: session,
		goal:    goal,
		task:    core.NewTask(goal, session),
		out: &Outcome{
			Session:   session,
			Goal:      goal,
			Status:    core.TaskStatusRunning,
			StartedAt: time.Now().UTC(),
			Metadata:  map[string]string{"run_id": runID},
		},
	}
	r.task.Start()
	log := e.logger.With(slog.String("session", session), slog.String("run_id", runID))
	log.InfoContext(ctx, "engine.run.start", slog.String("goal", telemetry.Truncate(goal, 200)))
	e.emitter.Emit(ctx, core.NewEvent(core.EventRunStarted, "", session, 0, map[string]any{"goal": goal}))

	head, err := e.memory.Head(ctx, session)
	if err != nil {
		return e.finish(ctx, span, log, r, err)
	}
	r.head = head
	if _, err := e.post(ctx, r, memory.Entry{Kind: memory.KindGoal, Author: core.RoleHuman, Content: goal}); err != nil {
		return e.finish(ctx, span, log, r, err)
	}
	r.notes = e.recall(ctx, log, r)

	feedback := ""
	for revision := 0; ; revision++ {
		r.out.Revisions = revision
		proposal, err := e.debate(ctx, log, r, feedback)
		if err != nil {
			return e.finish(ctx, span, log, r, err)
		}
		r.out.Answer = proposal.Content

		if e.executor != nil {
			if err := e.execute(ctx, r, proposal); err != nil {
				return e.finish(ctx, span, log, r, err)
			}
		}
		if e.human == nil {
			return e.finish(ctx, span, log, r, nil)
		}

		decision, err := e.decide(ctx, r, proposal, revision)
		if err != nil {
			return e.finish(ctx, span, log, r, err)
		}
		if decision.Approved {
			return e.finish(ctx, span, log, r, nil)
		}
		if revision < e.cfg.HumanRevisions && decision.Feedback != "" {
			feedback = decision.Feedback
			log.InfoContext(ctx, "engine.revision",
				slog.Int("revision", revision+1),
				slog.String("feedback", telemetry.Truncate(feedback, 200)),
			)
			continue
		}
		return e.finish(ctx, span, log, r, errors.New(errors.CodeRejected, "outcome rejected by reviewer", nil).
			WithContext("reason", decision.Reason).
			WithContext("feedback", decision.Feedback))
	}
}

// debate alternates solver and critic for at most MaxRounds rounds and
// returns the accepted proposal.
func (e *Engine) debate(ctx context.Context, log *slog.Logger, r *run, feedback string) (agent.Proposal, error) {
	last := r.out.Rounds + e.cfg.MaxRounds
	for r.out.Rounds < last {
		r.out.Rounds++
		round := r.out.Rounds
		rctx := core.WithRound(ctx, round)

		brief := agent.Brief{
			Goal:     r.goal,
			Round:    round,
			Critique: r.critique,
			Feedback: feedback,
			Notes:    r.notes,
		}
		if r.last != nil {
			brief.Previous = r.last.Content
		}
		proposal, err := turn(e, rctx, r, core.RoleSolver, e.solver.ID(), e.cfg.TurnTimeout, func(ctx context.Context) (agent.Proposal, error) {
			return e.solver.Propose(ctx, brief)
		})
		if err != nil {
			return agent.Proposal{}, err
		}
		r.out.Usage.Add(proposal.Usage)
		r.last = &proposal
		if _, err := e.post(rctx, r, memory.Entry{
			Kind:    memory.KindProposal,
			Author:  core.RoleSolver,
			Round:   round,
			Content: proposal.Content,
		}); err != nil {
			return agent.Proposal{}, err
		}

		critique, err := turn(e, rctx, r, core.RoleCritic, e.critic.ID(), e.cfg.TurnTimeout, func(ctx context.Context) (agent.Critique, error) {
			return e.critic.Review(ctx, r.goal, proposal)
		})
		if err != nil {
			return agent.Proposal{}, err
		}
		r.out.Usage.Add(critique.Usage)
		r.critique = &critique
		r.out.Critiques = append(r.out.Critiques, critique)
		if _, err := e.post(rctx, r, memory.Entry{
			Kind:    memory.KindCritique,
			Author:  core.RoleCritic,
			Round:   round,
			Content: critique.Raw,
			Metadata: map[string]string{
				"score":   fmt.Sprintf("%.2f", critique.Score),
				"verdict": string(critique.Verdict),
			},
		}); err != nil {
			return agent.Proposal{}, err
		}

		e.metrics.RecordVerdict(rctx, critique.Approved())
		e.emitter.Emit(rctx, core.NewEvent(core.EventVerdict, core.RoleCritic, r.session, round, map[string]any{
			"score":   critique.Score,
			"verdict": string(critique.Verdict),
		}))
		log.InfoContext(rctx, "engine.verdict",
			slog.Int("round", round),
			slog.Float64("score", critique.Score),
			slog.String("verdict", string(critique.Verdict)),
		)

		if critique.Approved() {
			r.out.Consensus = true
			return proposal, nil
		}
	}

	if e.cfg.RequireConsensus {
		return agent.Proposal{}, errors.New(errors.CodeMaxRounds, "no consensus within max rounds", nil).
			WithContext("max_rounds", e.cfg.MaxRounds).
			WithContext("rounds", r.out.Rounds)
	}
	r.out.Consensus = false
	note := fmt.Sprintf("accepted round %d proposal without consensus after %d rounds", r.last.Round, e.cfg.MaxRounds)
	if _, err := e.post(core.WithRound(ctx, r.out.Rounds), r, memory.Entry{
		Kind:     memory.KindNote,
		Author:   core.RoleCritic,
		Round:    r.out.Rounds,
		Content:  note,
		Metadata: map[string]string{"consensus": "false"},
	}); err != nil {
		return agent.Proposal{}, err
	}
	log.WarnContext(ctx, "engine.consensus.missing", slog.Int("rounds", r.out.Rounds))
	return *r.last, nil
}

func (e *Engine) execute(ctx context.Context, r *run, proposal agent.Proposal) error {
	ctx = core.WithRound(ctx, r.out.Rounds)
	exec, err := turn(e, ctx, r, core.RoleExecutor, e.executor.ID(), e.cfg.TurnTimeout, func(ctx context.Context) (agent.Execution, error) {
		return e.executor.Execute(ctx, r.goal, proposal.Content)
	})
	r.out.Usage.Add(exec.Usage)
	if err != nil {
		return err
	}
	r.out.Execution = &exec
	_, err = e.post(ctx, r, memory.Entry{
		Kind:     memory.KindExecution,
		Author:   core.RoleExecutor,
		Round:    r.out.Rounds,
		Content:  exec.Summary(),
		Metadata: map[string]string{"steps": fmt.Sprint(len(exec.Steps))},
	})
	return err
}

func (e *Engine) decide(ctx context.Context, r *run, proposal agent.Proposal, revision int) (agent.Decision, error) {
	ctx = core.WithRound(ctx, r.out.Rounds)
	req := agent.DecisionRequest{
		Session:  r.session,
		Goal:     r.goal,
		Round:    r.out.Rounds,
		Revision: revision,
		Proposal: proposal.Content,
		Critique: r.critique,
	}
	if r.out.Execution != nil {
		req.Execution = r.out.Execution.Summary()
	}
	// The reviewer sets its own pace; no turn timeout applies.
	d, err := turn(e, ctx, r, core.RoleHuman, e.human.ID(), 0, func(ctx context.Context) (agent.Decision, error) {
		return e.human.Decide(ctx, req)
	})
	if err != nil {
		return agent.Decision{}, err
	}
	r.out.Decision = &d

	content := "approved"
	if !d.Approved {
		content = "rejected"
		if d.Feedback != "" {
			content += ": " + d.Feedback
		}
	}
	if _, err := e.post(ctx, r, memory.Entry{
		Kind:    memory.KindDecision,
		Author:  core.RoleHuman,
		Round:   r.out.Rounds,
		Content: content,
		Metadata: map[string]string{
			"approved": fmt.Sprint(d.Approved),
			"reason":   d.Reason,
		},
	}); err != nil {
		return agent.Decision{}, err
	}
	e.metrics.RecordDecision(ctx, d.Approved)
	e.emitter.Emit(ctx, core.NewEvent(core.EventDecision, core.RoleHuman, r.session, r.out.Rounds, map[string]any{
		"approved": d.Approved,
		"feedback": d.Feedback,
	}))
	return d, nil
}

// turn runs one agent turn with its span, timeout, events and audit row.
func turn[T any](e *Engine, ctx context.Context, r *run, role core.Role, agentID string, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	round := core.RoundFromContext(ctx)
	if err := ctx.Err(); err != nil {
		return zero, errors.New(errors.CodeContextLost, "run cancelled", err).WithContext("round", round)
	}
	r.turn++
	ctx, span := e.tracer.Start(ctx, "engine.Turn", trace.WithAttributes(
		telemetry.TurnAttributes(r.session, round, string(role), agentID)...,
	))
	defer span.End()
	span.SetAttributes(attribute.Int(telemetry.AttrTurn, r.turn))

	e.emitter.Emit(ctx, core.NewEvent(core.EventTurnStarted, role, r.session, round, map[string]any{"turn": r.turn}))
	started := time.Now().UTC()
	v, err := resilience.WithTimeout(ctx, timeout, fn)
	finished := time.Now().UTC()
	if err != nil && ctx.Err() != nil && !errors.HasCode(err, errors.CodeContextLost) {
		err = errors.New(errors.CodeContextLost, "run cancelled", err).WithContext("round", round)
	}

	ev := AuditEvent{
		Session:  r.session,
		Round:    round,
		Turn:     r.turn,
		Role:     role,
		AgentID:  agentID,
		Status:   TurnOK,
		Started:  started,
		Finished: finished,
	}
	if err != nil {
		ev.Status = TurnFailed
		ev.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if e.audit != nil {
		if aerr := e.audit.Record(ctx, ev); aerr != nil {
			e.logger.WarnContext(ctx, "engine.audit.failed", slog.String("error", aerr.Error()))
		}
	}

	payload := map[string]any{
		"turn":       r.turn,
		"elapsed_ms": finished.Sub(started).Milliseconds(),
		"ok":         err == nil,
	}
	if err != nil {
		payload["error"] = err.Error()
		e.emitter.Emit(ctx, core.NewEvent(core.EventError, role, r.session, round, payload))
		return zero, err
	}
	e.emitter.Emit(ctx, core.NewEvent(core.EventTurnCompleted, role, r.session, round, payload))
	return v, nil
}

// post appends entry at the head the run last saw. A conflict means
// someone else wrote to the session meanwhile, typically a note; the head
// is refreshed and the post retried.
func (e *Engine) post(ctx context.Context, r *run, entry memory.Entry) (memory.Entry, error) {
	stored, err := resilience.DoValue(ctx, e.postRetry, func(ctx context.Context) (memory.Entry, error) {
		stored, err := e.memory.Post(ctx, r.session, entry, r.head)
		if errors.HasCode(err, errors.CodeConflict) {
			if head, herr := e.memory.Head(ctx, r.session); herr == nil {
				r.head = head
			}
		}
		return stored, err
	})
	if err != nil {
		return memory.Entry{}, err
	}
	r.head = stored.Seq
	return stored, nil
}

// recall fetches notes from earlier sessions. Failures only cost context.
func (e *Engine) recall(ctx context.Context, log *slog.Logger, r *run) []string {
	if e.cfg.RecallLimit <= 0 {
		return nil
	}
	recs, err := e.memory.Recall(ctx, r.goal, e.cfg.RecallLimit+4)
	if err != nil {
		log.WarnContext(ctx, "engine.recall.failed", slog.String("error", err.Error()))
		return nil
	}
	var notes []string
	for _, rec := range recs {
		if rec.Session == r.session {
			continue
		}
		notes = append(notes, telemetry.Truncate(rec.Text, 500))
		if len(notes) == e.cfg.RecallLimit {
			break
		}
	}
	return notes
}

func (e *Engine) finish(ctx context.Context, span trace.Span, log *slog.Logger, r *run, err error) (*Outcome, error) {
	out := r.out
	out.FinishedAt = time.Now().UTC()

	switch {
	case err == nil:
		out.Status = core.TaskStatusCompleted
		r.task.Complete(out.Answer)
	case errors.HasCode(err, errors.CodeRejected):
		out.Status = core.TaskStatusRejected
		r.task.Reject(err.Error())
	case errors.HasCode(err, errors.CodeContextLost) || stderrors.Is(err, context.Canceled):
		out.Status = core.TaskStatusCancelled
		r.task.Cancel()
	default:
		out.Status = core.TaskStatusFailed
		r.task.Fail(err.Error())
	}

	span.SetAttributes(
		attribute.String(telemetry.AttrStatus, string(out.Status)),
		attribute.Int(telemetry.AttrRound, out.Rounds),
	)
	// Recorded even when the run context is already done.
	bg := context.WithoutCancel(ctx)
	e.metrics.RecordRun(bg, string(out.Status), out.Rounds, out.Duration())
	if err != nil {
		out.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.RecordError(bg, err, "engine")
	}
	e.emitter.Emit(bg, core.NewEvent(core.EventRunFinished, "", r.session, out.Rounds, map[string]any{
		"status":    string(out.Status),
		"consensus": out.Consensus,
	}))

	attrs := []any{
		slog.String("status", string(out.Status)),
		slog.Int("rounds", out.Rounds),
		slog.Bool("consensus", out.Consensus),
		slog.Int("tokens", out.Usage.TotalTokens),
		slog.Duration("elapsed", out.Duration()),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		log.WarnContext(bg, "engine.run.finish", attrs...)
		return out, err
	}
	log.InfoContext(bg, "engine.run.finish", attrs...)
	return out, nil
}
