// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory implements the shared memory node the role agents read
// from and post to, together with its storage backends and optional
// semantic recall.
package memory

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/westodyssey/westodyssey/pkg/core"
)

// Kind classifies an entry on the node.
type Kind string

const (
	KindGoal      Kind = "goal"
	KindProposal  Kind = "proposal"
	KindCritique  Kind = "critique"
	KindExecution Kind = "execution"
	KindDecision  Kind = "decision"
	KindNote      Kind = "note"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindGoal, KindProposal, KindCritique, KindExecution, KindDecision, KindNote:
		return true
	}
	return false
}

var (
	// ErrNotFound indicates no matching entry was found.
	ErrNotFound = stderrors.New("memory: not found")
	// ErrConflict indicates a post raced with another writer.
	ErrConflict = stderrors.New("memory: conflicting write")
)

// Entry is one immutable record of a session.
type Entry struct {
	ID        string            `json:"id"`
	Session   string            `json:"session"`
	Seq       int               `json:"seq"`
	Round     int               `json:"round"`
	Author    core.Role         `json:"author"`
	Kind      Kind              `json:"kind"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func (e Entry) clone() Entry {
	if e.Metadata != nil {
		md := make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			md[k] = v
		}
		e.Metadata = md
	}
	return e
}

func cloneEntries(in []Entry) []Entry {
	if len(in) == 0 {
		return nil
	}
	out := make([]Entry, len(in))
	for i, e := range in {
		out[i] = e.clone()
	}
	return out
}

// Store persists session entries. Implementations keep entries ordered by
// Seq and never rewrite an appended entry.
type Store interface {
	// Append adds entries to the end of a session.
	Append(ctx context.Context, session string, entries ...Entry) error
	// Load returns every entry of a session ordered by Seq. Unknown
	// sessions yield no entries and no error.
	Load(ctx context.Context, session string) ([]Entry, error)
	// Sessions lists the stored session ids, sorted.
	Sessions(ctx context.Context) ([]string, error)
	// Delete removes a session.
	Delete(ctx context.Context, session string) error
}

// HeadAppender is implemented by stores that can be shared between
// processes. AppendAt writes entry only while the stored head of session
// is head, checked atomically with the write, and returns ErrConflict
// otherwise.
type HeadAppender interface {
	AppendAt(ctx context.Context, session string, head int, entry Entry) error
}

// Filter narrows Node.Entries. Zero values match everything.
type Filter struct {
	Kinds    []Kind
	Authors  []core.Role
	Round    int
	AfterSeq int
	// Limit keeps the last Limit matches.
	Limit int
}

func (f Filter) match(e Entry) bool {
	if e.Seq <= f.AfterSeq {
		return false
	}
	if f.Round > 0 && e.Round != f.Round {
		return false
	}
	if len(f.Kinds) > 0 && !containsKind(f.Kinds, e.Kind) {
		return false
	}
	if len(f.Authors) > 0 && !containsRole(f.Authors, e.Author) {
		return false
	}
	return true
}

func containsKind(kinds []Kind, k Kind) bool {
	for _, candidate := range kinds {
		if candidate == k {
			return true
		}
	}
	return false
}

func containsRole(roles []core.Role, r core.Role) bool {
	for _, candidate := range roles {
		if candidate == r {
			return true
		}
	}
	return false
}
