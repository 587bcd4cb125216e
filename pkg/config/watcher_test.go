// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherDetectsChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "engine:\n  max_rounds: 2\n")

	watcher, err := NewWatcher(path, WithWatchInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	changes := make(chan *Config, 1)
	watcher.OnChange(func(cfg *Config) {
		select {
		case changes <- cfg:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher.Start(ctx)
	defer watcher.Stop()

	if watcher.Config().Engine.MaxRounds != 2 {
		t.Fatalf("expected initial max_rounds 2")
	}

	time.Sleep(50 * time.Millisecond)
	writeFile(t, path, "engine:\n  max_rounds: 6\n")

	select {
	case cfg := <-changes:
		if cfg.Engine.MaxRounds != 6 {
			t.Errorf("expected reloaded max_rounds 6, got %d", cfg.Engine.MaxRounds)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload")
	}
	if watcher.Config().Engine.MaxRounds != 6 {
		t.Errorf("Config() should return reloaded value")
	}
}

func TestWatcherReloadNotifiesListeners(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "engine:\n  max_rounds: 2\n")

	watcher, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	var seen []int
	watcher.OnChange(func(cfg *Config) {
		seen = append(seen, cfg.Engine.MaxRounds)
		// Registering from a callback must not deadlock the reload.
		watcher.OnChange(func(*Config) {})
	})
	watcher.OnChange(func(cfg *Config) {
		seen = append(seen, cfg.Engine.MaxRounds*10)
	})

	writeFile(t, path, "engine:\n  max_rounds: 4\n")
	watcher.reload()

	if len(seen) != 2 || seen[0] != 4 || seen[1] != 40 {
		t.Fatalf("expected both listeners to see max_rounds 4, got %v", seen)
	}
	if watcher.Config().Engine.MaxRounds != 4 {
		t.Fatalf("Config() should return the reloaded value")
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	watcher, err := NewWatcher("", WithWatchInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	watcher.Start(context.Background())
	watcher.Stop()
	watcher.Stop()
}

func TestReloadableConfig(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	r := NewReloadableConfig(cfg)
	if r.Engine().MaxRounds != 3 {
		t.Fatalf("unexpected engine section")
	}
	next := *cfg
	next.LLM.Model = "other"
	r.Update(&next)
	if r.LLM().Model != "other" || r.Get() != &next {
		t.Fatalf("update not visible")
	}
}
