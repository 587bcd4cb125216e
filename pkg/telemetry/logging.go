// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/westodyssey/westodyssey/pkg/core"
)

// ConfigureSlog sets the global slog logger with trace- and run-aware attributes.
func ConfigureSlog(output io.Writer, level, format string) *slog.Logger {
	logger := slog.New(NewHandler(output, level, format))
	slog.SetDefault(logger)
	return logger
}

// NewHandler builds the handler ConfigureSlog installs.
func NewHandler(output io.Writer, level, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: ParseLogLevel(level),
	}
	var base slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		base = slog.NewJSONHandler(output, opts)
	default:
		base = slog.NewTextHandler(output, opts)
	}
	return &contextHandler{next: base}
}

// contextHandler copies trace ids and the run session/round from ctx onto records.
type contextHandler struct {
	next slog.Handler
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, record slog.Record) error {
	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			addOnce(&record, slog.String("trace_id", sc.TraceID().String()))
			addOnce(&record, slog.String("span_id", sc.SpanID().String()))
		}
		if session, ok := core.SessionFromContext(ctx); ok {
			addOnce(&record, slog.String("session", session))
		}
		if round := core.RoundFromContext(ctx); round > 0 {
			addOnce(&record, slog.Int("round", round))
		}
	}
	return h.next.Handle(ctx, record)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{next: h.next.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{next: h.next.WithGroup(name)}
}

// ParseLogLevel maps config strings to slog levels; unknown means info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func addOnce(record *slog.Record, attr slog.Attr) {
	found := false
	record.Attrs(func(a slog.Attr) bool {
		if a.Key == attr.Key {
			found = true
			return false
		}
		return true
	})
	if !found {
		record.AddAttrs(attr)
	}
}
