// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/westodyssey/westodyssey/pkg/core"
	"github.com/westodyssey/westodyssey/pkg/errors"
	"github.com/westodyssey/westodyssey/pkg/prompts"
)

// Human (Monk) has the final word on an outcome. It calls no model; the
// decision comes from its ApprovalHook.
type Human struct {
	id      string
	persona prompts.Persona
	hook    ApprovalHook
	logger  *slog.Logger
}

// NewHuman creates the reviewer. A nil hook approves everything.
func NewHuman(persona prompts.Persona, hook ApprovalHook, opts ...Option) *Human {
	o := collect(opts)
	h := &Human{id: o.id, persona: persona, hook: hook, logger: o.logger}
	if h.id == "" {
		h.id = persona.Name
	}
	if h.id == "" {
		h.id = core.RoleHuman.Persona()
	}
	if h.hook == nil {
		h.hook = AutoApprovalHook{}
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// ID returns the agent identifier.
func (h *Human) ID() string { return h.id }

// Role returns core.RoleHuman.
func (h *Human) Role() core.Role { return core.RoleHuman }

// Decide asks the hook for a decision on req.
func (h *Human) Decide(ctx context.Context, req DecisionRequest) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, errors.New(errors.CodeContextLost, "decision cancelled", err)
	}
	if req.Intro == "" {
		if intro, err := h.persona.Render(prompts.Vars{Goal: req.Goal, Round: req.Round}); err == nil {
			req.Intro = intro
		}
	}

	d, err := h.hook.Decide(ctx, req)
	if err != nil {
		if ctx.Err() != nil || stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			return Decision{}, errors.New(errors.CodeContextLost, "decision cancelled", err)
		}
		var we *errors.WestError
		if stderrors.As(err, &we) {
			return Decision{}, we
		}
		return Decision{}, errors.New(errors.CodeInternal, "approval hook failed", err)
	}
	d.Feedback = strings.TrimSpace(d.Feedback)
	if d.DecidedBy == "" {
		d.DecidedBy = h.id
	}

	h.logger.InfoContext(ctx, "human.decision",
		slog.String("session", req.Session),
		slog.Int("round", req.Round),
		slog.Bool("approved", d.Approved),
		slog.String("reason", d.Reason),
	)
	return d, nil
}

// Run implements core.Agent. input must be a DecisionRequest.
func (h *Human) Run(ctx context.Context, input any) (any, error) {
	req, ok := input.(DecisionRequest)
	if !ok {
		return nil, errors.New(errors.CodeInvalidInput, fmt.Sprintf("human expects a DecisionRequest, got %T", input), nil)
	}
	return h.Decide(ctx, req)
}

var (
	_ core.Agent = (*Solver)(nil)
	_ core.Agent = (*Critic)(nil)
	_ core.Agent = (*Executor)(nil)
	_ core.Agent = (*Human)(nil)
)
