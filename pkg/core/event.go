// SPDX-License-Identifier: Apache-2.0
package core

import (
	"context"
	"sync"
	"time"
)

// EventType identifies a semantic event emitted during a run.
type EventType string

const (
	EventRunStarted    EventType = "run.started"
	EventRunFinished   EventType = "run.finished"
	EventTurnStarted   EventType = "turn.started"
	EventTurnCompleted EventType = "turn.completed"
	EventVerdict       EventType = "critic.verdict"
	EventToolCall      EventType = "executor.tool_call"
	EventDecision      EventType = "human.decision"
	EventError         EventType = "run.error"
)

// Event captures a semantic streaming/logging event.
type Event struct {
	Type      EventType
	Role      Role
	Session   string
	Round     int
	Timestamp time.Time
	Payload   map[string]any
}

// EventEmitter receives semantic events.
type EventEmitter interface {
	Emit(ctx context.Context, event Event)
}

// NoopEventEmitter is a default no-op implementation.
type NoopEventEmitter struct{}

// Emit implements EventEmitter.
func (NoopEventEmitter) Emit(_ context.Context, _ Event) {}

// EventFunc adapts a function to EventEmitter.
type EventFunc func(ctx context.Context, event Event)

// Emit implements EventEmitter.
func (f EventFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }

// EventRecorder keeps every emitted event. Useful in tests and the CLI.
type EventRecorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements EventEmitter.
func (r *EventRecorder) Emit(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events.
func (r *EventRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns recorded events with the given type.
func (r *EventRecorder) OfType(t EventType) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// NewEvent builds a default event with timestamp.
func NewEvent(eventType EventType, role Role, session string, round int, payload map[string]any) Event {
	return Event{
		Type:      eventType,
		Role:      role,
		Session:   session,
		Round:     round,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
