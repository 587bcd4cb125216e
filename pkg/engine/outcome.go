// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"time"

	"github.com/westodyssey/westodyssey/pkg/agent"
	"github.com/westodyssey/westodyssey/pkg/core"
	"github.com/westodyssey/westodyssey/pkg/llm"
)

// Outcome is the result of one run. It is returned even when the run fails
// so callers can show how far it got.
type Outcome struct {
	Session    string            `json:"session"`
	Goal       string            `json:"goal"`
	Status     core.TaskStatus   `json:"status"`
	Answer     string            `json:"answer,omitempty"`
	Consensus  bool              `json:"consensus"`
	Execution  *agent.Execution  `json:"execution,omitempty"`
	Rounds     int               `json:"rounds"`
	Revisions  int               `json:"revisions"`
	Critiques  []agent.Critique  `json:"critiques,omitempty"`
	Decision   *agent.Decision   `json:"decision,omitempty"`
	Usage      llm.Usage         `json:"usage"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Duration returns how long the run took.
func (o *Outcome) Duration() time.Duration {
	if o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// LastCritique returns the most recent critique, if any.
func (o *Outcome) LastCritique() *agent.Critique {
	if len(o.Critiques) == 0 {
		return nil
	}
	c := o.Critiques[len(o.Critiques)-1]
	return &c
}
