// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("expected default provider ollama, got %s", cfg.LLM.Provider)
	}
	if cfg.Engine.MaxRounds != 3 || cfg.Engine.MinScore != 0.7 {
		t.Errorf("unexpected engine defaults %+v", cfg.Engine)
	}
	if cfg.Engine.TurnTimeout != 3*time.Minute {
		t.Errorf("expected 3m turn timeout, got %v", cfg.Engine.TurnTimeout)
	}
	if cfg.Memory.Backend != "inmemory" {
		t.Errorf("expected inmemory backend, got %s", cfg.Memory.Backend)
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("WESTODYSSEY_LLM__PROVIDER", "openai")
	t.Setenv("WESTODYSSEY_LLM__API_KEY", "sk-test")
	t.Setenv("WESTODYSSEY_ENGINE__MAX_ROUNDS", "5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.APIKey != "sk-test" {
		t.Errorf("expected env overrides, got %+v", cfg.LLM)
	}
	if cfg.Engine.MaxRounds != 5 {
		t.Errorf("expected max_rounds 5, got %d", cfg.Engine.MaxRounds)
	}
}

func TestLoadWithProfile(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "config.yaml")
	writeFile(t, base, `
llm:
  provider: ollama
  model: llama3.1
engine:
  max_rounds: 4
  turn_timeout: 45s
log:
  level: info
`)
	writeFile(t, filepath.Join(dir, "config.dev.yaml"), `
llm:
  provider: mock
log:
  level: debug
`)

	cfg, err := LoadWithProfile(base, "dev")
	if err != nil {
		t.Fatalf("LoadWithProfile: %v", err)
	}
	if cfg.LLM.Provider != "mock" || cfg.Log.Level != "debug" {
		t.Errorf("expected dev overlay, got provider=%s level=%s", cfg.LLM.Provider, cfg.Log.Level)
	}
	if cfg.LLM.Model != "llama3.1" || cfg.Engine.MaxRounds != 4 {
		t.Errorf("expected base values to survive overlay, got %+v", cfg)
	}
	if cfg.Engine.TurnTimeout != 45*time.Second {
		t.Errorf("expected duration parsing, got %v", cfg.Engine.TurnTimeout)
	}

	cfg, err = LoadWithProfile(base, "staging")
	if err != nil {
		t.Fatalf("missing overlay must be ignored: %v", err)
	}
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("expected base provider, got %s", cfg.LLM.Provider)
	}
}

func TestLoadMCPServers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
mcp:
  servers:
    search:
      command: search-mcp
      args: ["--stdio"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	srv, ok := cfg.MCP.Servers["search"]
	if !ok || srv.Command != "search-mcp" || len(srv.Args) != 1 {
		t.Fatalf("unexpected servers %+v", cfg.MCP.Servers)
	}
}

func TestLoadWithCLI(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "llm:\n  provider: ollama\n")
	t.Setenv("WESTODYSSEY_LLM__PROVIDER", "openai")

	cfg, err := LoadWithCLI([]string{
		"--config", path,
		"--set", "llm.provider=mock",
		"--set=engine.min_score=0.9",
		"--set", "engine.require_consensus=true",
	})
	if err != nil {
		t.Fatalf("LoadWithCLI: %v", err)
	}
	if cfg.LLM.Provider != "mock" {
		t.Errorf("cli override must win over env, got %s", cfg.LLM.Provider)
	}
	if cfg.Engine.MinScore != 0.9 || !cfg.Engine.RequireConsensus {
		t.Errorf("unexpected engine %+v", cfg.Engine)
	}
}

func TestParseCLIOverridesErrors(t *testing.T) {
	bad := [][]string{
		{"--config"},
		{"--set"},
		{"--set", "invalid"},
		{"--set", "=value"},
		{"--verbose"},
	}
	for _, args := range bad {
		if _, err := ParseCLIOverrides(args); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		set  string
	}{
		{"provider", "llm.provider=carrier"},
		{"backend", "memory.backend=tape"},
		{"rounds", "engine.max_rounds=0"},
		{"score", "engine.min_score=1.5"},
		{"approval", "engine.approval=maybe"},
		{"exporter", "telemetry.exporter=fax"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadWithCLI([]string{"--set", tt.set}); err == nil {
				t.Fatalf("expected validation error for %s", tt.set)
			}
		})
	}
}

func TestProfilePath(t *testing.T) {
	if got := ProfilePath("/etc/w/config.yaml", "prod"); got != "/etc/w/config.prod.yaml" {
		t.Fatalf("unexpected %s", got)
	}
}
