// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/westodyssey/westodyssey/pkg/agent"
	"github.com/westodyssey/westodyssey/pkg/config"
	"github.com/westodyssey/westodyssey/pkg/core"
	"github.com/westodyssey/westodyssey/pkg/memory"
	"github.com/westodyssey/westodyssey/pkg/telemetry"
)

// Config holds the debate rules.
type Config struct {
	// MaxRounds bounds each debate. Must be at least 1.
	MaxRounds int
	// MinScore is the critic approval threshold in 0..1.
	MinScore float64
	// RequireConsensus fails the run when the critic never approves.
	// Otherwise the last proposal is accepted.
	RequireConsensus bool
	// HumanRevisions is how many times a rejection with feedback sends
	// the goal back to the debate.
	HumanRevisions int
	// TurnTimeout bounds every LLM-backed turn. Zero disables it.
	TurnTimeout time.Duration
	// RecallLimit is how many recalled notes the solver sees.
	RecallLimit int
}

// DefaultConfig returns the rules used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxRounds:      3,
		MinScore:       0.7,
		HumanRevisions: 1,
		TurnTimeout:    3 * time.Minute,
		RecallLimit:    3,
	}
}

// ConfigFrom maps the loaded application config onto engine rules.
func ConfigFrom(cfg *config.Config) Config {
	out := Config{
		MaxRounds:        cfg.Engine.MaxRounds,
		MinScore:         cfg.Engine.MinScore,
		RequireConsensus: cfg.Engine.RequireConsensus,
		HumanRevisions:   cfg.Engine.HumanRevisions,
		TurnTimeout:      cfg.Engine.TurnTimeout,
	}
	if cfg.Memory.Recall.Enabled {
		out.RecallLimit = cfg.Memory.Recall.Limit
	}
	return out
}

// Option configures an Engine.
type Option func(*Engine)

// WithSolver sets the solver. Required.
func WithSolver(s *agent.Solver) Option {
	return func(e *Engine) { e.solver = s }
}

// WithCritic sets the critic. Required.
func WithCritic(c *agent.Critic) Option {
	return func(e *Engine) { e.critic = c }
}

// WithExecutor enables the execution phase.
func WithExecutor(x *agent.Executor) Option {
	return func(e *Engine) { e.executor = x }
}

// WithHuman enables the human decision phase.
func WithHuman(h *agent.Human) Option {
	return func(e *Engine) { e.human = h }
}

// WithMemory sets the memory node. Defaults to an in-memory node.
func WithMemory(n *memory.Node) Option {
	return func(e *Engine) { e.memory = n }
}

// WithEmitter receives run and turn events.
func WithEmitter(em core.EventEmitter) Option {
	return func(e *Engine) { e.emitter = em }
}

// WithMetrics records run metrics.
func WithMetrics(m *telemetry.EngineMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithAudit records every turn.
func WithAudit(a AuditStore) Option {
	return func(e *Engine) { e.audit = a }
}

// WithTracer sets the tracer. Defaults to the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithHealthCheck registers an extra checker reported by Engine.Health.
func WithHealthCheck(name string, checker core.HealthChecker) Option {
	return func(e *Engine) { e.extraHealth[name] = checker }
}

// RunOption configures a single run.
type RunOption func(*runOptions)

type runOptions struct {
	session string
}

// WithSession continues or names a session instead of generating one.
func WithSession(id string) RunOption {
	return func(o *runOptions) { o.session = id }
}
