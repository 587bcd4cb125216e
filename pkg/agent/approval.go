// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// DecisionRequest is what the human reviewer is asked to judge.
type DecisionRequest struct {
	Session   string
	Goal      string
	Round     int
	Revision  int
	Proposal  string
	Execution string
	Critique  *Critique
	// Intro is the persona text shown before the request.
	Intro string
}

// Decision is the reviewer's answer.
type Decision struct {
	Approved  bool   `json:"approved"`
	Feedback  string `json:"feedback,omitempty"`
	Reason    string `json:"reason,omitempty"`
	DecidedBy string `json:"decided_by,omitempty"`
}

// ApprovalHook produces decisions.
type ApprovalHook interface {
	Decide(ctx context.Context, req DecisionRequest) (Decision, error)
}

// ApprovalFunc adapts a function to ApprovalHook.
type ApprovalFunc func(ctx context.Context, req DecisionRequest) (Decision, error)

// Decide implements ApprovalHook.
func (f ApprovalFunc) Decide(ctx context.Context, req DecisionRequest) (Decision, error) {
	return f(ctx, req)
}

// AutoApprovalHook approves everything.
type AutoApprovalHook struct{}

// Decide implements ApprovalHook.
func (AutoApprovalHook) Decide(context.Context, DecisionRequest) (Decision, error) {
	return Decision{Approved: true, Reason: "auto-approved"}, nil
}

// StaticApprovalHook returns a fixed decision for every request.
type StaticApprovalHook struct {
	Decision Decision
}

// Decide implements ApprovalHook.
func (h StaticApprovalHook) Decide(context.Context, DecisionRequest) (Decision, error) {
	d := h.Decision
	if d.Reason == "" {
		if d.Approved {
			d.Reason = "approved by configuration"
		} else {
			d.Reason = "rejected by configuration"
		}
	}
	return d, nil
}

// ConsoleApprovalHook asks on a terminal. Answers y or yes approve; any
// other answer rejects, and the text after a leading n or no (or the whole
// answer) becomes the feedback for the next revision.
type ConsoleApprovalHook struct {
	in              io.Reader
	out             io.Writer
	prompt          string
	timeout         time.Duration
	defaultDecision Decision

	once  sync.Once
	lines chan string
}

// ConsoleApprovalOption configures the console approval hook.
type ConsoleApprovalOption func(*ConsoleApprovalHook)

// NewConsoleApprovalHook creates a hook reading stdin and writing stdout.
func NewConsoleApprovalHook(opts ...ConsoleApprovalOption) *ConsoleApprovalHook {
	h := &ConsoleApprovalHook{
		in:     os.Stdin,
		out:    os.Stdout,
		prompt: "Approve? [y/N, or n <feedback>]: ",
		defaultDecision: Decision{
			Approved: false,
			Reason:   "no answer",
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// WithApprovalInput sets the input reader for the console hook.
func WithApprovalInput(r io.Reader) ConsoleApprovalOption {
	return func(h *ConsoleApprovalHook) {
		if r != nil {
			h.in = r
		}
	}
}

// WithApprovalOutput sets the output writer for the console hook.
func WithApprovalOutput(w io.Writer) ConsoleApprovalOption {
	return func(h *ConsoleApprovalHook) {
		if w != nil {
			h.out = w
		}
	}
}

// WithApprovalTimeout sets a timeout for waiting on user input.
func WithApprovalTimeout(timeout time.Duration) ConsoleApprovalOption {
	return func(h *ConsoleApprovalHook) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

// WithApprovalDefault sets the decision used on timeout or closed input.
func WithApprovalDefault(decision Decision) ConsoleApprovalOption {
	return func(h *ConsoleApprovalHook) {
		h.defaultDecision = decision
	}
}

// start reads input lines in the background. A single reader serves every
// request so no line is lost between two decisions.
func (h *ConsoleApprovalHook) start() {
	h.lines = make(chan string)
	go func() {
		defer close(h.lines)
		scanner := bufio.NewScanner(h.in)
		for scanner.Scan() {
			h.lines <- scanner.Text()
		}
	}()
}

// Decide prints the request and waits for an answer.
func (h *ConsoleApprovalHook) Decide(ctx context.Context, req DecisionRequest) (Decision, error) {
	h.once.Do(h.start)

	if req.Intro != "" {
		_, _ = fmt.Fprintf(h.out, "\n%s\n", req.Intro)
	}
	_, _ = fmt.Fprintf(h.out, "\nGoal: %s\n", req.Goal)
	_, _ = fmt.Fprintf(h.out, "Round %d, revision %d\n", req.Round, req.Revision)
	if req.Critique != nil {
		_, _ = fmt.Fprintf(h.out, "Critic score: %.1f/10 (%s)\n", req.Critique.Score*10, req.Critique.Verdict)
	}
	_, _ = fmt.Fprintf(h.out, "\nProposal:\n%s\n", req.Proposal)
	if req.Execution != "" {
		_, _ = fmt.Fprintf(h.out, "\nExecution:\n%s\n", req.Execution)
	}
	_, _ = fmt.Fprint(h.out, "\n"+h.prompt)

	var timeout <-chan time.Time
	if h.timeout > 0 {
		timer := time.NewTimer(h.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	case <-timeout:
		d := h.defaultDecision
		d.Reason = "approval timed out"
		return d, nil
	case line, ok := <-h.lines:
		if !ok {
			d := h.defaultDecision
			d.Reason = "approval input closed"
			return d, nil
		}
		return ParseAnswer(line), nil
	}
}

// ParseAnswer interprets one console answer.
func ParseAnswer(line string) Decision {
	answer := strings.TrimSpace(line)
	lower := strings.ToLower(answer)
	if lower == "y" || lower == "yes" {
		return Decision{Approved: true, Reason: "approved by reviewer"}
	}
	feedback := answer
	for _, prefix := range []string{"no", "n"} {
		if !strings.HasPrefix(lower, prefix) {
			continue
		}
		rest := answer[len(prefix):]
		if rest == "" || strings.ContainsRune(" \t:,-", rune(rest[0])) {
			feedback = strings.TrimSpace(strings.TrimLeft(rest, " \t:,-"))
			break
		}
	}
	return Decision{Approved: false, Feedback: feedback, Reason: "rejected by reviewer"}
}

// HookForMode builds the hook for an approval mode: auto, ask or deny.
// Mode off returns a nil hook, meaning no human review at all.
func HookForMode(mode string, opts ...ConsoleApprovalOption) (ApprovalHook, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "auto":
		return AutoApprovalHook{}, nil
	case "ask":
		return NewConsoleApprovalHook(opts...), nil
	case "deny":
		return StaticApprovalHook{Decision: Decision{Approved: false}}, nil
	case "off":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown approval mode %q", mode)
	}
}
