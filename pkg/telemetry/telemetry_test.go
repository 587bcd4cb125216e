// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/westodyssey/westodyssey/pkg/core"
	"github.com/westodyssey/westodyssey/pkg/errors"
)

func TestInitNoneIsNoop(t *testing.T) {
	shutdown, err := InitWithConfig("test", "v0", Config{Exporter: "none"})
	if err != nil {
		t.Fatalf("InitWithConfig: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitRejectsBadConfig(t *testing.T) {
	if _, err := InitWithConfig("test", "v0", Config{Exporter: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
	if _, err := InitWithConfig("test", "v0", Config{Exporter: "otlp"}); err == nil {
		t.Fatal("expected error for otlp without endpoint")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"chatty":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestHandlerAddsRunAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, "debug", "json"))

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	ctx = core.WithRound(core.WithSession(ctx, "s-42"), 2)

	logger.InfoContext(ctx, "turn.completed", slog.String("role", "critic"))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if rec["session"] != "s-42" {
		t.Errorf("expected session attribute, got %v", rec["session"])
	}
	if rec["round"] != float64(2) {
		t.Errorf("expected round attribute, got %v", rec["round"])
	}
	if rec["trace_id"] != span.SpanContext().TraceID().String() {
		t.Errorf("expected trace id, got %v", rec["trace_id"])
	}
}

func TestHandlerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, "warn", "text"))
	logger.Info("hidden")
	logger.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestEngineMetrics(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m, err := NewEngineMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewEngineMetrics: %v", err)
	}

	ctx := context.Background()
	m.RecordVerdict(ctx, false)
	m.RecordVerdict(ctx, true)
	m.RecordTokens(ctx, "solver", 30)
	m.RecordTokens(ctx, "solver", 0)
	m.RecordError(ctx, errors.New(errors.CodeLLMError, "x", nil), "critic")
	m.RecordRun(ctx, "completed", 2, 3*time.Second)
	m.RecordBreakerState(ctx, "llm", 2)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if data, ok := md.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range data.DataPoints {
					sums[md.Name] += dp.Value
				}
			}
		}
	}
	if sums["westodyssey.critic.verdicts"] != 2 {
		t.Errorf("expected 2 verdicts, got %d", sums["westodyssey.critic.verdicts"])
	}
	if sums["westodyssey.llm.tokens"] != 30 {
		t.Errorf("expected 30 tokens, got %d", sums["westodyssey.llm.tokens"])
	}
	if sums["westodyssey.rounds"] != 2 || sums["westodyssey.runs"] != 1 {
		t.Errorf("unexpected run counters %v", sums)
	}
	if sums["westodyssey.errors"] != 1 {
		t.Errorf("expected 1 error, got %d", sums["westodyssey.errors"])
	}

	var nilMetrics *EngineMetrics
	nilMetrics.RecordRun(ctx, "failed", 1, time.Second)
	nilMetrics.RecordError(ctx, errors.New(errors.CodeInternal, "x", nil), "solver")
}

func TestTruncate(t *testing.T) {
	if Truncate("short", 10) != "short" {
		t.Fatal("short strings are unchanged")
	}
	if got := Truncate("abcdefghij", 4); got != "abcd..." {
		t.Fatalf("unexpected %q", got)
	}
}
