// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/westodyssey/westodyssey/pkg/agent"
	"github.com/westodyssey/westodyssey/pkg/config"
	"github.com/westodyssey/westodyssey/pkg/core"
	"github.com/westodyssey/westodyssey/pkg/engine"
	"github.com/westodyssey/westodyssey/pkg/errors"
)

func runRun(ctx context.Context, flags globalFlags, cfg *config.Config, args []string) error {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	cmd.SetOutput(io.Discard)
	goal := cmd.String("goal", "", "Goal to work on")
	rounds := cmd.Int("rounds", 0, "Maximum debate rounds (default engine.max_rounds)")
	approval := cmd.String("approval", cfg.Engine.Approval, "Final review: auto|ask|deny|off")
	session := cmd.String("session", "", "Session id to continue or name")
	executor := cmd.Bool("executor", cfg.Engine.ExecutorEnabled, "Let the executor act on the accepted answer")
	quiet := cmd.Bool("quiet", false, "Do not print progress to stderr")

	if err := cmd.Parse(args); err != nil {
		return NewInvalidArgumentError("run", err.Error())
	}
	text := strings.TrimSpace(*goal)
	if text == "" {
		text = strings.TrimSpace(strings.Join(cmd.Args(), " "))
	}
	if text == "" {
		return NewInvalidArgumentError("goal", "--goal is required")
	}
	if *rounds < 0 {
		return NewInvalidArgumentError("rounds", "--rounds must be positive")
	}
	if err := checkApprovalMode(*approval, stdinIsTerminal()); err != nil {
		return err
	}

	return execute(ctx, flags, cfg, text, *session, engineOptions{
		maxRounds: *rounds,
		executor:  *executor,
		approval:  *approval,
	}, *quiet)
}

// runResearch is the two-agent demo: the solver gathers, the critic
// nitpicks, nothing is executed and the result is approved automatically.
func runResearch(ctx context.Context, flags globalFlags, cfg *config.Config, args []string) error {
	cmd := flag.NewFlagSet("research", flag.ContinueOnError)
	cmd.SetOutput(io.Discard)
	topic := cmd.String("topic", "", "Topic to research")
	rounds := cmd.Int("rounds", 0, "Maximum debate rounds (default engine.max_rounds)")
	session := cmd.String("session", "", "Session id to continue or name")
	quiet := cmd.Bool("quiet", false, "Do not print progress to stderr")

	if err := cmd.Parse(args); err != nil {
		return NewInvalidArgumentError("research", err.Error())
	}
	text := strings.TrimSpace(*topic)
	if text == "" {
		text = strings.TrimSpace(strings.Join(cmd.Args(), " "))
	}
	if text == "" {
		return NewInvalidArgumentError("topic", "--topic is required")
	}

	return execute(ctx, flags, cfg, researchGoal(text), *session, engineOptions{
		maxRounds: *rounds,
		approval:  "auto",
	}, *quiet)
}

func researchGoal(topic string) string {
	return "Research the following topic and write a short brief with the key facts, " +
		"open questions and where each fact comes from: " + topic
}

func execute(ctx context.Context, flags globalFlags, cfg *config.Config, goal, session string, opts engineOptions, quiet bool) error {
	a, err := openApp(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Warn("cli.close", "error", err)
		}
	}()

	if !quiet && !flags.JSON {
		opts.emitter = &eventPrinter{w: os.Stderr}
	}
	opts.console = []agent.ConsoleApprovalOption{
		agent.WithApprovalInput(os.Stdin),
		agent.WithApprovalOutput(os.Stderr),
	}
	eng, err := a.buildEngine(ctx, opts)
	if err != nil {
		return err
	}

	var runOpts []engine.RunOption
	if session != "" {
		runOpts = append(runOpts, engine.WithSession(session))
	}
	out, runErr := eng.Run(ctx, goal, runOpts...)
	if out != nil {
		if flags.JSON {
			writeJSON(os.Stdout, out)
		} else {
			printOutcome(os.Stdout, out)
		}
	}
	return runErr
}

// checkApprovalMode refuses an interactive review nobody can answer.
func checkApprovalMode(mode string, interactive bool) error {
	switch mode {
	case "", "auto", "deny", "off":
		return nil
	case "ask":
		if !interactive {
			return NewCLIError(
				errors.New(errors.CodeInvalidInput, "approval mode ask needs an interactive terminal", nil),
				"use --approval auto or --approval deny when stdin is not a terminal",
			)
		}
		return nil
	default:
		return NewInvalidArgumentError("approval", fmt.Sprintf("unknown approval mode %q", mode))
	}
}

func stdinIsTerminal() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func printOutcome(w io.Writer, out *engine.Outcome) {
	fmt.Fprintf(w, "Session: %s\n", out.Session)
	consensus := "no consensus"
	if out.Consensus {
		consensus = "consensus"
	}
	fmt.Fprintf(w, "Status:  %s (%s, %d rounds, %d tokens, %s)\n",
		out.Status, consensus, out.Rounds, out.Usage.TotalTokens, out.Duration().Round(time.Millisecond))
	if c := out.LastCritique(); c != nil {
		fmt.Fprintf(w, "Critic:  %.2f %s\n", c.Score, c.Verdict)
	}
	if d := out.Decision; d != nil {
		verdict := "rejected"
		if d.Approved {
			verdict = "approved"
		}
		fmt.Fprintf(w, "Review:  %s by %s", verdict, d.DecidedBy)
		if d.Reason != "" {
			fmt.Fprintf(w, " (%s)", d.Reason)
		}
		fmt.Fprintln(w)
		if d.Feedback != "" {
			fmt.Fprintf(w, "Feedback: %s\n", d.Feedback)
		}
	}
	if out.Answer != "" {
		fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(out.Answer))
	}
	if x := out.Execution; x != nil {
		fmt.Fprintln(w, "\nExecution:")
		if summary := x.Summary(); summary != "" {
			fmt.Fprintln(w, summary)
		}
		if x.Report != "" {
			fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(x.Report))
		}
	}
}

// eventPrinter writes one progress line per run event.
type eventPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *eventPrinter) Emit(_ context.Context, ev core.Event) {
	line := formatEvent(ev)
	if line == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, line)
}

func formatEvent(ev core.Event) string {
	switch ev.Type {
	case core.EventRunStarted:
		return fmt.Sprintf("session %s", ev.Session)
	case core.EventTurnStarted:
		return fmt.Sprintf("[round %d] %s (%s) is thinking", ev.Round, ev.Role.Persona(), ev.Role)
	case core.EventVerdict:
		score, _ := ev.Payload["score"].(float64)
		return fmt.Sprintf("[round %d] critic says %v, score %.2f", ev.Round, ev.Payload["verdict"], score)
	case core.EventToolCall:
		status := "ok"
		if ok, _ := ev.Payload["ok"].(bool); !ok {
			status = "failed"
		}
		return fmt.Sprintf("[round %d] tool %v %s", ev.Round, ev.Payload["tool"], status)
	case core.EventDecision:
		if approved, _ := ev.Payload["approved"].(bool); approved {
			return "review: approved"
		}
		if fb, _ := ev.Payload["feedback"].(string); fb != "" {
			return "review: rejected, " + fb
		}
		return "review: rejected"
	case core.EventError:
		return fmt.Sprintf("[round %d] %s failed: %v", ev.Round, ev.Role, ev.Payload["error"])
	case core.EventRunFinished:
		return fmt.Sprintf("finished: %v", ev.Payload["status"])
	default:
		return ""
	}
}
