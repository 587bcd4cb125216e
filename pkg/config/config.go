// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads Westodyssey settings from defaults, YAML files,
// WESTODYSSEY_* environment variables and CLI overrides, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates nesting levels: WESTODYSSEY_LLM__API_KEY sets llm.api_key.
const EnvPrefix = "WESTODYSSEY_"

type Config struct {
	Log       LogConfig       `koanf:"log"`
	LLM       LLMConfig       `koanf:"llm"`
	Memory    MemoryConfig    `koanf:"memory"`
	Engine    EngineConfig    `koanf:"engine"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Prompts   PromptsConfig   `koanf:"prompts"`
	MCP       MCPConfig       `koanf:"mcp"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider    string        `koanf:"provider"` // ollama, openai, mock
	Model       string        `koanf:"model"`
	BaseURL     string        `koanf:"base_url"`
	APIKey      string        `koanf:"api_key"`
	Temperature float64       `koanf:"temperature"`
	Timeout     time.Duration `koanf:"timeout"`
	// MockResponses feeds the mock provider, mostly for demos and tests.
	MockResponses []string `koanf:"mock_responses"`
}

type MemoryConfig struct {
	Backend string       `koanf:"backend"` // inmemory, file, sqlite
	Path    string       `koanf:"path"`
	Window  int          `koanf:"window"` // entries shown to agents, 0 = all
	Recall  RecallConfig `koanf:"recall"`
}

type RecallConfig struct {
	Enabled         bool   `koanf:"enabled"`
	QdrantAddr      string `koanf:"qdrant_addr"`
	Collection      string `koanf:"collection"`
	EmbedderBaseURL string `koanf:"embedder_base_url"`
	EmbedderModel   string `koanf:"embedder_model"`
	Limit           int    `koanf:"limit"`
}

type EngineConfig struct {
	MaxRounds        int           `koanf:"max_rounds"`
	MinScore         float64       `koanf:"min_score"`
	RequireConsensus bool          `koanf:"require_consensus"`
	HumanRevisions   int           `koanf:"human_revisions"`
	TurnTimeout      time.Duration `koanf:"turn_timeout"`
	ExecutorEnabled  bool          `koanf:"executor_enabled"`
	ExecutorMaxSteps int           `koanf:"executor_max_steps"`
	Approval         string        `koanf:"approval"` // auto, ask, deny, off
	ApprovalTimeout  time.Duration `koanf:"approval_timeout"`
	AuditPath        string        `koanf:"audit_path"`
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

type PromptsConfig struct {
	Dir string `koanf:"dir"`
}

type MCPConfig struct {
	Servers map[string]MCPServerConfig `koanf:"servers"`
}

// MCPServerConfig describes one MCP server: a stdio command, or a
// streamable HTTP URL when URL is set.
type MCPServerConfig struct {
	Command string   `koanf:"command"`
	Args    []string `koanf:"args"`
	URL     string   `koanf:"url"`
}

func defaults() map[string]any {
	return map[string]any{
		"log.level":  "info",
		"log.format": "text",

		"llm.provider":    "ollama",
		"llm.model":       "qwen2.5:7b-instruct",
		"llm.base_url":    "",
		"llm.temperature": 0.7,
		"llm.timeout":     2 * time.Minute,

		"memory.backend":                  "inmemory",
		"memory.path":                     "./data/westodyssey",
		"memory.window":                   0,
		"memory.recall.enabled":           false,
		"memory.recall.qdrant_addr":       "localhost:6334",
		"memory.recall.collection":        "westodyssey",
		"memory.recall.embedder_base_url": "http://localhost:11434",
		"memory.recall.embedder_model":    "nomic-embed-text",
		"memory.recall.limit":             3,

		"engine.max_rounds":         3,
		"engine.min_score":          0.7,
		"engine.require_consensus":  false,
		"engine.human_revisions":    1,
		"engine.turn_timeout":       3 * time.Minute,
		"engine.executor_enabled":   false,
		"engine.executor_max_steps": 8,
		"engine.approval":           "auto",
		"engine.approval_timeout":   0,

		"telemetry.exporter": "none",
	}
}

// Load reads defaults, the optional YAML file at path and the environment.
func Load(path string) (*Config, error) {
	return load(path, "", nil)
}

// LoadWithProfile layers config.<profile>.yaml next to path over path.
func LoadWithProfile(path, profile string) (*Config, error) {
	return load(path, profile, nil)
}

// LoadWithCLI understands --config <path>, --profile <name> and repeated
// --set key=value arguments. Overrides win over every other source.
func LoadWithCLI(args []string) (*Config, error) {
	opts, err := ParseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	return load(opts.Path, opts.Profile, opts.Sets)
}

// CLIOverrides is the parsed form of config-related CLI arguments.
type CLIOverrides struct {
	Path    string
	Profile string
	Sets    map[string]string
}

// ParseCLIOverrides parses the arguments accepted by LoadWithCLI.
func ParseCLIOverrides(args []string) (CLIOverrides, error) {
	out := CLIOverrides{Sets: map[string]string{}}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "--config", "--profile", "--set":
		default:
			return out, fmt.Errorf("unknown config argument %q", arg)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return out, fmt.Errorf("%s requires a value", name)
			}
			i++
			value = args[i]
		}
		switch name {
		case "--config":
			out.Path = value
		case "--profile":
			out.Profile = value
		case "--set":
			key, val, ok := strings.Cut(value, "=")
			if !ok || strings.TrimSpace(key) == "" {
				return out, fmt.Errorf("invalid --set %q, expected key=value", value)
			}
			out.Sets[strings.TrimSpace(key)] = val
		}
	}
	return out, nil
}

// ProfilePath returns the overlay file for profile next to path.
func ProfilePath(path, profile string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + profile + ext
}

func load(path, profile string, sets map[string]string) (*Config, error) {
	k := koanf.New(".")
	for key, val := range defaults() {
		if err := k.Set(key, val); err != nil {
			return nil, err
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		if profile != "" {
			overlay := ProfilePath(path, profile)
			if _, err := os.Stat(overlay); err == nil {
				if err := k.Load(file.Provider(overlay), yaml.Parser()); err != nil {
					return nil, fmt.Errorf("load %s: %w", overlay, err)
				}
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	for key, val := range sets {
		if err := k.Set(key, val); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "ollama", "openai", "mock":
	default:
		return fmt.Errorf("llm.provider: unknown provider %q", c.LLM.Provider)
	}
	switch c.Memory.Backend {
	case "inmemory", "file", "sqlite":
	default:
		return fmt.Errorf("memory.backend: unknown backend %q", c.Memory.Backend)
	}
	if c.Memory.Backend != "inmemory" && c.Memory.Path == "" {
		return fmt.Errorf("memory.path is required for the %s backend", c.Memory.Backend)
	}
	if c.Engine.MaxRounds < 1 {
		return fmt.Errorf("engine.max_rounds must be >= 1, got %d", c.Engine.MaxRounds)
	}
	if c.Engine.MinScore < 0 || c.Engine.MinScore > 1 {
		return fmt.Errorf("engine.min_score must be within [0,1], got %v", c.Engine.MinScore)
	}
	if c.Engine.HumanRevisions < 0 {
		return fmt.Errorf("engine.human_revisions must be >= 0")
	}
	switch c.Engine.Approval {
	case "auto", "ask", "deny", "off":
	default:
		return fmt.Errorf("engine.approval: unknown mode %q", c.Engine.Approval)
	}
	switch c.Telemetry.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		return fmt.Errorf("telemetry.exporter: unknown exporter %q", c.Telemetry.Exporter)
	}
	return nil
}
