// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/westodyssey/westodyssey/pkg/config"
	"github.com/westodyssey/westodyssey/pkg/core"
)

func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"inmemory": func() Store { return NewInMemoryStore() },
		"file": func() Store {
			s, err := NewFileStore(t.TempDir())
			if err != nil {
				t.Fatalf("NewFileStore: %v", err)
			}
			return s
		},
		"sqlite": func() Store {
			s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "memory.db"))
			if err != nil {
				t.Fatalf("OpenSQLiteStore: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory()

			entries, err := store.Load(ctx, "missing")
			if err != nil || len(entries) != 0 {
				t.Fatalf("unknown session should be empty, got %v, %v", entries, err)
			}

			first := Entry{ID: "a", Session: "s1", Seq: 1, Author: core.RoleHuman, Kind: KindGoal, Content: "find scriptures", CreatedAt: created}
			second := Entry{ID: "b", Session: "s1", Seq: 2, Round: 1, Author: core.RoleSolver, Kind: KindProposal,
				Content: "walk west", Metadata: map[string]string{"model": "m"}, CreatedAt: created}
			if err := store.Append(ctx, "s1", first); err != nil {
				t.Fatalf("Append: %v", err)
			}
			if err := store.Append(ctx, "s1", second); err != nil {
				t.Fatalf("Append: %v", err)
			}
			if err := store.Append(ctx, "s2", Entry{ID: "c", Session: "s2", Seq: 1, Kind: KindNote, Content: "x", CreatedAt: created}); err != nil {
				t.Fatalf("Append: %v", err)
			}

			got, err := store.Load(ctx, "s1")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if len(got) != 2 || got[0].Seq != 1 || got[1].Seq != 2 {
				t.Fatalf("unexpected entries %+v", got)
			}
			if got[1].Author != core.RoleSolver || got[1].Kind != KindProposal || got[1].Round != 1 {
				t.Errorf("fields not preserved: %+v", got[1])
			}
			if got[1].Metadata["model"] != "m" {
				t.Errorf("metadata not preserved: %+v", got[1].Metadata)
			}
			if !got[0].CreatedAt.Equal(created) {
				t.Errorf("timestamp not preserved: %v", got[0].CreatedAt)
			}

			sessions, err := store.Sessions(ctx)
			if err != nil || len(sessions) != 2 || sessions[0] != "s1" || sessions[1] != "s2" {
				t.Fatalf("unexpected sessions %v, %v", sessions, err)
			}

			if err := store.Delete(ctx, "s1"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if got, _ := store.Load(ctx, "s1"); len(got) != 0 {
				t.Fatalf("expected deleted session to be empty")
			}
			if err := store.Delete(ctx, "never"); err != nil {
				t.Fatalf("deleting unknown sessions is a no-op: %v", err)
			}
		})
	}
}

func TestInMemoryStoreCopies(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	_ = store.Append(ctx, "s", Entry{Seq: 1, Kind: KindNote, Metadata: map[string]string{"k": "v"}})

	got, _ := store.Load(ctx, "s")
	got[0].Metadata["k"] = "changed"
	got[0].Content = "changed"

	again, _ := store.Load(ctx, "s")
	if again[0].Metadata["k"] != "v" || again[0].Content != "" {
		t.Fatalf("stored entry was mutated: %+v", again[0])
	}
}

func TestFileStoreSanitizesSession(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Append(context.Background(), "../escape", Entry{Seq: 1, Kind: KindNote}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	sessions, _ := store.Sessions(context.Background())
	if len(sessions) != 1 || sessions[0] != "escape" {
		t.Fatalf("expected file inside dir, got %v", sessions)
	}
}

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		cfg  config.MemoryConfig
		want string
	}{
		{config.MemoryConfig{Backend: "inmemory"}, "*memory.InMemoryStore"},
		{config.MemoryConfig{Backend: "file", Path: filepath.Join(dir, "files")}, "*memory.FileStore"},
		{config.MemoryConfig{Backend: "sqlite", Path: filepath.Join(dir, "db")}, "*memory.SQLiteStore"},
		{config.MemoryConfig{Backend: "sqlite", Path: filepath.Join(dir, "x", "w.db")}, "*memory.SQLiteStore"},
	}
	for _, tt := range tests {
		store, err := OpenStore(tt.cfg)
		if err != nil {
			t.Fatalf("%s: %v", tt.cfg.Backend, err)
		}
		if got := typeName(store); got != tt.want {
			t.Errorf("expected %s, got %s", tt.want, got)
		}
		if c, ok := store.(interface{ Close() error }); ok {
			c.Close()
		}
	}
	if _, err := OpenStore(config.MemoryConfig{Backend: "tape"}); err == nil {
		t.Fatal("expected unknown backend error")
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *InMemoryStore:
		return "*memory.InMemoryStore"
	case *FileStore:
		return "*memory.FileStore"
	case *SQLiteStore:
		return "*memory.SQLiteStore"
	}
	return "unknown"
}
