// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sort"
	"sync"
)

// InMemoryStore keeps sessions in process memory.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]Entry
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string][]Entry)}
}

// Append implements Store.
func (m *InMemoryStore) Append(_ context.Context, session string, entries ...Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.sessions[session] = append(m.sessions[session], e.clone())
	}
	return nil
}

// AppendAt implements HeadAppender.
func (m *InMemoryStore) AppendAt(_ context.Context, session string, head int, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.sessions[session]
	current := 0
	if len(entries) > 0 {
		current = entries[len(entries)-1].Seq
	}
	if current != head {
		return ErrConflict
	}
	m.sessions[session] = append(entries, entry.clone())
	return nil
}

// Load implements Store.
func (m *InMemoryStore) Load(_ context.Context, session string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneEntries(m.sessions[session]), nil
}

// Sessions implements Store.
func (m *InMemoryStore) Sessions(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Delete implements Store.
func (m *InMemoryStore) Delete(_ context.Context, session string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, session)
	return nil
}
