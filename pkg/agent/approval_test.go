// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/westodyssey/westodyssey/pkg/core"
	"github.com/westodyssey/westodyssey/pkg/errors"
)

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		line     string
		approved bool
		feedback string
	}{
		{"y", true, ""},
		{" YES ", true, ""},
		{"n", false, ""},
		{"no: add the dates", false, "add the dates"},
		{"n shorter please", false, "shorter please"},
		{"needs more detail", false, "needs more detail"},
		{"nope", false, "nope"},
		{"", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			d := ParseAnswer(tt.line)
			if d.Approved != tt.approved || d.Feedback != tt.feedback {
				t.Fatalf("ParseAnswer(%q) = %+v", tt.line, d)
			}
		})
	}
}

func TestConsoleApprovalHook(t *testing.T) {
	var out bytes.Buffer
	hook := NewConsoleApprovalHook(
		WithApprovalInput(strings.NewReader("n cite sources\ny\n")),
		WithApprovalOutput(&out),
	)
	req := DecisionRequest{Goal: "fetch scriptures", Round: 2, Proposal: "walk west"}

	d, err := hook.Decide(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if d.Approved || d.Feedback != "cite sources" {
		t.Fatalf("unexpected first decision %+v", d)
	}
	d, err = hook.Decide(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Approved {
		t.Fatalf("expected approval, got %+v", d)
	}
	if !strings.Contains(out.String(), "walk west") {
		t.Fatalf("proposal not shown:\n%s", out.String())
	}

	d, err = hook.Decide(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if d.Approved || d.Reason != "approval input closed" {
		t.Fatalf("expected default on closed input, got %+v", d)
	}
}

func TestConsoleApprovalHookTimeout(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	hook := NewConsoleApprovalHook(
		WithApprovalInput(r),
		WithApprovalOutput(io.Discard),
		WithApprovalTimeout(20*time.Millisecond),
		WithApprovalDefault(Decision{Approved: true}),
	)
	d, err := hook.Decide(context.Background(), DecisionRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if !d.Approved || d.Reason != "approval timed out" {
		t.Fatalf("expected default approval on timeout, got %+v", d)
	}
}

func TestHumanDecide(t *testing.T) {
	var seen DecisionRequest
	human := NewHuman(persona(t, core.RoleHuman), ApprovalFunc(func(_ context.Context, req DecisionRequest) (Decision, error) {
		seen = req
		return Decision{Approved: false, Feedback: "  again  "}, nil
	}))
	d, err := human.Decide(context.Background(), DecisionRequest{Goal: "cross the desert"})
	if err != nil {
		t.Fatal(err)
	}
	if d.Feedback != "again" || d.DecidedBy != "monk" {
		t.Fatalf("unexpected decision %+v", d)
	}
	if !strings.Contains(seen.Intro, "cross the desert") {
		t.Fatalf("persona intro not rendered: %q", seen.Intro)
	}

	failing := NewHuman(persona(t, core.RoleHuman), ApprovalFunc(func(context.Context, DecisionRequest) (Decision, error) {
		return Decision{}, stderrors.New("tty gone")
	}))
	if _, err := failing.Decide(context.Background(), DecisionRequest{}); !errors.HasCode(err, errors.CodeInternal) {
		t.Fatalf("expected CodeInternal, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := human.Decide(ctx, DecisionRequest{}); !errors.HasCode(err, errors.CodeContextLost) {
		t.Fatalf("expected CodeContextLost, got %v", err)
	}
}

func TestHookForMode(t *testing.T) {
	tests := []struct {
		mode     string
		approved bool
		nilHook  bool
		wantErr  bool
	}{
		{mode: "auto", approved: true},
		{mode: "deny", approved: false},
		{mode: "off", nilHook: true},
		{mode: "maybe", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			hook, err := HookForMode(tt.mode)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if tt.nilHook {
				if hook != nil {
					t.Fatalf("expected nil hook, got %T", hook)
				}
				return
			}
			d, err := hook.Decide(context.Background(), DecisionRequest{})
			if err != nil || d.Approved != tt.approved {
				t.Fatalf("unexpected decision %+v, %v", d, err)
			}
		})
	}
}
