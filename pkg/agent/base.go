// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the four role agents of a run: the Solver
// (Wukong), the Critic (Pigsy), the Executor (Friar) and the Human
// reviewer (Monk).
package agent

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/westodyssey/westodyssey/pkg/core"
	"github.com/westodyssey/westodyssey/pkg/errors"
	"github.com/westodyssey/westodyssey/pkg/llm"
	"github.com/westodyssey/westodyssey/pkg/prompts"
	"github.com/westodyssey/westodyssey/pkg/resilience"
	"github.com/westodyssey/westodyssey/pkg/telemetry"
)

const defaultMaxSteps = 8

// Option configures a role agent.
type Option func(*options)

type options struct {
	id           string
	model        string
	providerName string
	temperature  *float64
	retry        *resilience.RetryConfig
	breaker      *resilience.CircuitBreaker
	tracer       trace.Tracer
	logger       *slog.Logger
	metrics      *telemetry.EngineMetrics
	emitter      core.EventEmitter
	maxSteps     int
}

// WithID overrides the agent id. It defaults to the persona name.
func WithID(id string) Option {
	return func(o *options) { o.id = id }
}

// WithModel sets the model sent with every request.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithProviderName labels spans with the provider behind the agent.
func WithProviderName(name string) Option {
	return func(o *options) { o.providerName = name }
}

// WithTemperature overrides the persona temperature.
func WithTemperature(t float64) Option {
	return func(o *options) { o.temperature = &t }
}

// WithRetry sets the retry policy for LLM calls.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(o *options) { o.retry = &rc }
}

// WithBreaker shares a circuit breaker between agents.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(o *options) { o.breaker = cb }
}

// WithTracer sets the tracer. Defaults to the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records tokens and errors.
func WithMetrics(m *telemetry.EngineMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithEmitter receives tool call events from the executor.
func WithEmitter(e core.EventEmitter) Option {
	return func(o *options) { o.emitter = e }
}

// WithMaxSteps bounds the executor tool loop.
func WithMaxSteps(n int) Option {
	return func(o *options) { o.maxSteps = n }
}

// Base holds what every LLM-backed role agent shares: persona, provider
// and the resilience around each call.
type Base struct {
	id           string
	role         core.Role
	persona      prompts.Persona
	provider     llm.Provider
	providerName string
	model        string
	temperature  float64
	retry        resilience.RetryConfig
	breaker      *resilience.CircuitBreaker
	tracer       trace.Tracer
	logger       *slog.Logger
	metrics      *telemetry.EngineMetrics

	mu    sync.Mutex
	usage llm.Usage
}

func newBase(role core.Role, persona prompts.Persona, provider llm.Provider, o *options) (*Base, error) {
	if provider == nil {
		return nil, errors.New(errors.CodeInvalidInput, "agent "+string(role)+" needs an llm provider", nil)
	}
	b := &Base{
		id:           o.id,
		role:         role,
		persona:      persona,
		provider:     provider,
		providerName: o.providerName,
		model:        o.model,
		tracer:       o.tracer,
		logger:       o.logger,
		metrics:      o.metrics,
	}
	if b.id == "" {
		b.id = persona.Name
	}
	if b.id == "" {
		b.id = role.Persona()
	}
	switch {
	case o.temperature != nil:
		b.temperature = *o.temperature
	case persona.Temperature != nil:
		b.temperature = *persona.Temperature
	}
	if o.retry != nil {
		b.retry = *o.retry
	} else {
		b.retry = resilience.DefaultRetryConfig()
	}
	b.breaker = o.breaker
	if b.breaker == nil {
		b.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             b.id + "-llm",
			FailureThreshold: 5,
			Timeout:          30 * time.Second,
			OnStateChange: func(name string, _, to resilience.CircuitBreakerState) {
				b.metrics.RecordBreakerState(context.Background(), name, to.Gauge())
			},
		})
	}
	if b.tracer == nil {
		b.tracer = otel.Tracer("westodyssey/agent")
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With(slog.String("role", string(role)), slog.String("agent_id", b.id))
	return b, nil
}

func collect(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ID returns the agent identifier.
func (b *Base) ID() string { return b.id }

// Role returns the agent role.
func (b *Base) Role() core.Role { return b.role }

// Persona returns the persona the agent speaks with.
func (b *Base) Persona() prompts.Persona { return b.persona }

// Breaker returns the circuit breaker guarding the provider.
func (b *Base) Breaker() *resilience.CircuitBreaker { return b.breaker }

// Usage returns the tokens spent by this agent so far.
func (b *Base) Usage() llm.Usage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.usage
}

// RoleManifest describes the agent for listings.
func (b *Base) RoleManifest() core.RoleManifest {
	return core.RoleManifest{
		Role:           b.role,
		Persona:        b.persona.Name,
		Responsibility: b.persona.Description,
	}
}

// Ask sends one system and user message pair and returns the reply.
func (b *Base) Ask(ctx context.Context, system, user string) (*llm.ChatResponse, error) {
	messages := make([]llm.Message, 0, 2)
	if system != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: user})
	return b.chat(ctx, "agent.Ask", llm.ChatRequest{Messages: messages})
}

// chat runs one provider call behind retry and the breaker.
func (b *Base) chat(ctx context.Context, spanName string, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.New(errors.CodeContextLost, "agent "+b.id+" cancelled", err)
	}
	req.Model = b.model
	req.Temperature = b.temperature

	session, _ := core.SessionFromContext(ctx)
	round := core.RoundFromContext(ctx)
	ctx, span := b.tracer.Start(ctx, spanName, trace.WithAttributes(
		telemetry.TurnAttributes(session, round, string(b.role), b.id)...,
	))
	defer span.End()
	span.SetAttributes(telemetry.LLMAttributes(b.model, b.providerName, len(req.Messages))...)
	span.SetAttributes(attribute.String(telemetry.AttrPersona, b.persona.Name))

	retry := b.retry.WithOnRetry(func(attempt int, err error) {
		b.logger.WarnContext(ctx, "agent.llm.retry",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	})

	start := time.Now()
	resp, err := resilience.DoValue(ctx, retry, func(ctx context.Context) (*llm.ChatResponse, error) {
		var out *llm.ChatResponse
		err := b.breaker.Call(ctx, func(ctx context.Context) error {
			r, err := b.provider.Chat(ctx, req)
			if err != nil {
				return err
			}
			if r == nil {
				return stderrors.New("provider returned no response")
			}
			out = r
			return nil
		})
		return out, err
	})
	if err != nil {
		we := wrapLLMError(ctx, err, b.model)
		span.RecordError(we)
		span.SetStatus(codes.Error, we.Error())
		span.SetAttributes(attribute.String(telemetry.AttrErrorCode, string(we.Code)))
		b.metrics.RecordError(ctx, we, string(b.role))
		b.logger.ErrorContext(ctx, "agent.llm.error",
			slog.String("error", err.Error()),
			slog.String("error_code", string(we.Code)),
		)
		return nil, we
	}

	span.SetAttributes(telemetry.UsageAttributes(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)...)
	b.mu.Lock()
	b.usage.Add(resp.Usage)
	b.mu.Unlock()
	b.metrics.RecordTokens(ctx, string(b.role), resp.Usage.TotalTokens)

	b.logger.DebugContext(ctx, "agent.llm.complete",
		slog.Duration("elapsed", time.Since(start)),
		slog.Int("tokens", resp.Usage.TotalTokens),
		slog.Int("tool_calls", len(resp.ToolCalls)),
	)
	return resp, nil
}
