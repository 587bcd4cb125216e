// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"strings"

	"github.com/westodyssey/westodyssey/pkg/config"
	"github.com/westodyssey/westodyssey/pkg/errors"
)

// New builds the provider selected by cfg.Provider.
func New(cfg config.LLMConfig) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "ollama":
		return NewOllama(cfg.BaseURL, cfg.Timeout), nil
	case "openai":
		opts := []OpenAIOption{WithOpenAIModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, WithOpenAIBaseURL(cfg.BaseURL))
		}
		if cfg.APIKey != "" {
			opts = append(opts, WithOpenAIKey(cfg.APIKey))
		}
		return NewOpenAI(opts...), nil
	case "mock":
		if len(cfg.MockResponses) == 0 {
			return &MockProvider{Response: "SCORE: 9/10\nVERDICT: approve"}, nil
		}
		p := NewScriptedMockProvider(cfg.MockResponses...)
		p.Repeat = true
		return p, nil
	default:
		return nil, errors.New(errors.CodeInvalidInput, "unknown llm provider "+cfg.Provider, nil).
			WithContext("provider", cfg.Provider)
	}
}
