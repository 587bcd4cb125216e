// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/westodyssey/westodyssey/pkg/core"
	"github.com/westodyssey/westodyssey/pkg/errors"
	"github.com/westodyssey/westodyssey/pkg/llm"
	"github.com/westodyssey/westodyssey/pkg/prompts"
)

// Brief is everything the solver sees before drafting a round.
type Brief struct {
	Goal     string
	Round    int
	Previous string
	Critique *Critique
	Feedback string
	Notes    []string
}

// Proposal is one solver draft.
type Proposal struct {
	Goal    string    `json:"goal"`
	Round   int       `json:"round"`
	Content string    `json:"content"`
	Usage   llm.Usage `json:"usage"`
}

// Solver (Wukong) drafts and revises answers.
type Solver struct {
	*Base
}

// NewSolver creates a solver speaking with persona.
func NewSolver(persona prompts.Persona, provider llm.Provider, opts ...Option) (*Solver, error) {
	b, err := newBase(core.RoleSolver, persona, provider, collect(opts))
	if err != nil {
		return nil, err
	}
	return &Solver{Base: b}, nil
}

// Propose drafts a proposal for brief.
func (s *Solver) Propose(ctx context.Context, brief Brief) (Proposal, error) {
	if strings.TrimSpace(brief.Goal) == "" {
		return Proposal{}, errors.New(errors.CodeInvalidInput, "goal is required", nil)
	}
	system, err := s.persona.Render(prompts.Vars{Goal: brief.Goal, Round: brief.Round})
	if err != nil {
		return Proposal{}, err
	}

	resp, err := s.Ask(ctx, system, brief.Prompt())
	if err != nil {
		return Proposal{}, err
	}
	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return Proposal{}, errors.New(errors.CodeLLMError, "solver returned an empty proposal", nil).
			WithContext("round", brief.Round).
			WithRecoverable(true)
	}
	return Proposal{Goal: brief.Goal, Round: brief.Round, Content: content, Usage: resp.Usage}, nil
}

// Run implements core.Agent. input is a Brief or a goal string.
func (s *Solver) Run(ctx context.Context, input any) (any, error) {
	switch v := input.(type) {
	case Brief:
		return s.Propose(ctx, v)
	case string:
		return s.Propose(ctx, Brief{Goal: v, Round: 1})
	default:
		return nil, errors.New(errors.CodeInvalidInput, fmt.Sprintf("solver expects a Brief, got %T", input), nil)
	}
}

// Prompt renders the brief as the user message.
func (b Brief) Prompt() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Goal:\n%s\n", b.Goal)
	if len(b.Notes) > 0 {
		sb.WriteString("\nNotes recalled from earlier journeys:\n")
		for _, n := range b.Notes {
			sb.WriteString("- " + n + "\n")
		}
	}
	if b.Previous != "" {
		sb.WriteString("\nYour previous proposal:\n" + b.Previous + "\n")
	}
	if b.Critique != nil {
		sb.WriteString("\nCritique of that proposal:\n" + b.Critique.Summary() + "\n")
	}
	if b.Feedback != "" {
		sb.WriteString("\nReviewer feedback:\n" + b.Feedback + "\n")
	}
	if b.Previous != "" || b.Feedback != "" {
		sb.WriteString("\nWrite an improved proposal.")
	} else {
		sb.WriteString("\nWrite your proposal.")
	}
	return sb.String()
}
