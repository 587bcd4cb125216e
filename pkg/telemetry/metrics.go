// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

// SPDX-License-Identifier: Apache-2.0
package telemetry

import (
	"context"
	stderrors "errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/westodyssey/westodyssey/pkg/errors"
)

// EngineMetrics records run-level instruments. A nil *EngineMetrics is a no-op.
type EngineMetrics struct {
	runs      metric.Int64Counter
	rounds    metric.Int64Counter
	verdicts  metric.Int64Counter
	decisions metric.Int64Counter
	tokens    metric.Int64Counter
	errors    metric.Int64Counter
	duration  metric.Float64Histogram
	breaker   metric.Int64Gauge
}

// NewEngineMetrics creates instruments on meter, or on the global meter if nil.
func NewEngineMetrics(meter metric.Meter) (*EngineMetrics, error) {
	if meter == nil {
		meter = otel.Meter("westodyssey/engine")
	}
	m := &EngineMetrics{}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	m.runs, err = meter.Int64Counter("westodyssey.runs", metric.WithDescription("Finished runs by status"))
	add(err)
	m.rounds, err = meter.Int64Counter("westodyssey.rounds", metric.WithDescription("Debate rounds played"))
	add(err)
	m.verdicts, err = meter.Int64Counter("westodyssey.critic.verdicts", metric.WithDescription("Critic verdicts by outcome"))
	add(err)
	m.decisions, err = meter.Int64Counter("westodyssey.human.decisions", metric.WithDescription("Human decisions by outcome"))
	add(err)
	m.tokens, err = meter.Int64Counter("westodyssey.llm.tokens", metric.WithDescription("Tokens consumed by role"))
	add(err)
	m.errors, err = meter.Int64Counter("westodyssey.errors", metric.WithDescription("Errors by code and role"))
	add(err)
	m.duration, err = meter.Float64Histogram("westodyssey.run.duration", metric.WithUnit("s"), metric.WithDescription("Run wall time"))
	add(err)
	m.breaker, err = meter.Int64Gauge("westodyssey.circuitbreaker.state",
		metric.WithDescription("Circuit breaker state (0=open, 1=half-open, 2=closed)"))
	add(err)

	if len(errs) > 0 {
		return nil, stderrors.Join(errs...)
	}
	return m, nil
}

// RecordRun counts a finished run and its duration.
func (m *EngineMetrics) RecordRun(ctx context.Context, status string, rounds int, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrStatus, status))
	m.runs.Add(ctx, 1, attrs)
	m.rounds.Add(ctx, int64(rounds), attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordVerdict counts a critic verdict.
func (m *EngineMetrics) RecordVerdict(ctx context.Context, approved bool) {
	if m == nil {
		return
	}
	m.verdicts.Add(ctx, 1, metric.WithAttributes(attribute.Bool(AttrVerdict, approved)))
}

// RecordDecision counts a human decision.
func (m *EngineMetrics) RecordDecision(ctx context.Context, approved bool) {
	if m == nil {
		return
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(attribute.Bool(AttrApproved, approved)))
}

// RecordTokens adds token usage for a role.
func (m *EngineMetrics) RecordTokens(ctx context.Context, role string, total int) {
	if m == nil || total <= 0 {
		return
	}
	m.tokens.Add(ctx, int64(total), metric.WithAttributes(attribute.String(AttrRole, role)))
}

// RecordError counts err under its WestError code, or UNKNOWN.
func (m *EngineMetrics) RecordError(ctx context.Context, err error, role string) {
	if m == nil || err == nil {
		return
	}
	code := "UNKNOWN"
	var we *errors.WestError
	if stderrors.As(err, &we) {
		code = string(we.Code)
	}
	m.errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrErrorCode, code),
		attribute.String(AttrRole, role),
	))
}

// RecordBreakerState records a circuit breaker gauge value.
func (m *EngineMetrics) RecordBreakerState(ctx context.Context, name string, state int64) {
	if m == nil {
		return
	}
	m.breaker.Record(ctx, state, metric.WithAttributes(attribute.String("breaker", name)))
}
