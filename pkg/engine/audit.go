// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"sync"
	"time"

	"github.com/westodyssey/westodyssey/pkg/core"
)

// Turn statuses recorded in the audit trail.
const (
	TurnOK     = "ok"
	TurnFailed = "failed"
)

// AuditEvent is one agent turn of a run.
type AuditEvent struct {
	Session  string
	Round    int
	Turn     int
	Role     core.Role
	AgentID  string
	Status   string
	Error    string
	Started  time.Time
	Finished time.Time
}

// AuditStore persists turn audit events.
type AuditStore interface {
	Record(ctx context.Context, event AuditEvent) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
}

// AuditFilter limits audit event queries.
type AuditFilter struct {
	Session string
	Role    core.Role
	Status  string
	Limit   int
}

func (f AuditFilter) match(ev AuditEvent) bool {
	if f.Session != "" && ev.Session != f.Session {
		return false
	}
	if f.Role != "" && ev.Role != f.Role {
		return false
	}
	if f.Status != "" && ev.Status != f.Status {
		return false
	}
	return true
}

// MemoryAuditStore keeps audit events in memory.
type MemoryAuditStore struct {
	mu     sync.Mutex
	events []AuditEvent
}

// NewMemoryAuditStore returns an in-memory audit store.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

// Record appends an audit event.
func (s *MemoryAuditStore) Record(_ context.Context, event AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// List returns filtered audit events in recording order.
func (s *MemoryAuditStore) List(_ context.Context, filter AuditFilter) ([]AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditEvent, 0, len(s.events))
	for _, ev := range s.events {
		if !filter.match(ev) {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// normalizeAuditTime ensures timestamps are in UTC.
func normalizeAuditTime(value time.Time) time.Time {
	if value.IsZero() {
		return value
	}
	return value.UTC()
}
