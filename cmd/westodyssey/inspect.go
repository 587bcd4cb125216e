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
	"text/tabwriter"
	"time"

	"github.com/westodyssey/westodyssey/pkg/config"
	"github.com/westodyssey/westodyssey/pkg/core"
	"github.com/westodyssey/westodyssey/pkg/errors"
	westmcp "github.com/westodyssey/westodyssey/pkg/mcp"
	"github.com/westodyssey/westodyssey/pkg/memory"
	"github.com/westodyssey/westodyssey/pkg/prompts"
	"github.com/westodyssey/westodyssey/pkg/telemetry"
)

func runTranscript(ctx context.Context, flags globalFlags, cfg *config.Config, args []string) error {
	cmd := flag.NewFlagSet("transcript", flag.ContinueOnError)
	cmd.SetOutput(io.Discard)
	session := cmd.String("session", "", "Session id")
	last := cmd.Int("last", cfg.Memory.Window, "Show only the last N entries, keeping the goal")
	kind := cmd.String("kind", "", "Only entries of this kind")
	if err := cmd.Parse(args); err != nil {
		return NewInvalidArgumentError("transcript", err.Error())
	}
	if *session == "" && cmd.NArg() == 1 {
		*session = cmd.Arg(0)
	}
	if strings.TrimSpace(*session) == "" {
		return NewInvalidArgumentError("session", "--session is required")
	}

	a, err := openApp(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := loadTranscript(ctx, a.node, *session, *kind, *last)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return NewNotFoundError("session", *session)
	}
	if flags.JSON {
		writeJSON(os.Stdout, entries)
		return nil
	}
	return memory.Render(os.Stdout, entries)
}

func loadTranscript(ctx context.Context, node *memory.Node, session, kind string, last int) ([]memory.Entry, error) {
	if kind != "" {
		return node.Entries(ctx, session, memory.Filter{Kinds: []memory.Kind{memory.Kind(kind)}, Limit: last})
	}
	return node.Window(ctx, session, memory.NewWindowStrategy(last, true))
}

func runSessions(ctx context.Context, flags globalFlags, cfg *config.Config, args []string) error {
	if err := ensureNoArgs(args); err != nil {
		return err
	}
	a, err := openApp(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	sessions, err := a.node.Sessions(ctx)
	if err != nil {
		return err
	}
	if flags.JSON {
		writeJSON(os.Stdout, sessions)
		return nil
	}
	if len(sessions) == 0 {
		fmt.Println("no sessions stored")
		return nil
	}
	tw := newTabWriter(os.Stdout)
	fmt.Fprintln(tw, "SESSION\tENTRIES\tGOAL")
	for _, id := range sessions {
		entries, err := a.node.Entries(ctx, id, memory.Filter{})
		if err != nil {
			return err
		}
		goal := ""
		for _, e := range entries {
			if e.Kind == memory.KindGoal {
				goal = telemetry.Truncate(e.Content, 60)
				break
			}
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", id, len(entries), goal)
	}
	return tw.Flush()
}

type personaView struct {
	Name        string    `json:"name"`
	Role        core.Role `json:"role"`
	Description string    `json:"description,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Source      string    `json:"source"`
}

func runPersonas(flags globalFlags, cfg *config.Config, args []string) error {
	if err := ensureNoArgs(args); err != nil {
		return err
	}
	library, err := prompts.Load(cfg.Prompts.Dir)
	if err != nil {
		return NewCLIError(errors.AsWestError(err), "check the persona files under prompts.dir")
	}
	var views []personaView
	for _, p := range library.All() {
		views = append(views, personaView{
			Name:        p.Name,
			Role:        p.Role,
			Description: p.Description,
			Temperature: p.Temperature,
			Source:      p.Source,
		})
	}
	if flags.JSON {
		writeJSON(os.Stdout, views)
		return nil
	}
	tw := newTabWriter(os.Stdout)
	fmt.Fprintln(tw, "ROLE\tNAME\tTEMP\tSOURCE\tDESCRIPTION")
	for _, v := range views {
		temp := "-"
		if v.Temperature != nil {
			temp = fmt.Sprintf("%.1f", *v.Temperature)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.Role, v.Name, temp, v.Source, v.Description)
	}
	return tw.Flush()
}

func runHealth(ctx context.Context, flags globalFlags, cfg *config.Config, args []string) error {
	if err := ensureNoArgs(args); err != nil {
		return err
	}
	a, err := openApp(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	eng, err := a.buildEngine(ctx, engineOptions{executor: cfg.Engine.ExecutorEnabled, approval: "off"})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	report := eng.Health(ctx)

	if flags.JSON {
		writeJSON(os.Stdout, report)
	} else {
		tw := newTabWriter(os.Stdout)
		fmt.Fprintln(tw, "COMPONENT\tSTATUS\tMESSAGE")
		for _, r := range report.Components {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Component, r.Status, r.Message)
		}
		fmt.Fprintf(tw, "overall\t%s\t\n", report.Status)
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	if report.Status == core.HealthUnhealthy {
		return NewCLIError(
			errors.New(errors.CodeInternal, "one or more components are unhealthy", nil),
			"check llm.base_url, memory.path and the mcp.servers entries",
		)
	}
	return nil
}

// runServeMCP exposes the memory node over MCP on stdin/stdout. Logs go to
// stderr so they never mix with the protocol stream.
func runServeMCP(ctx context.Context, flags globalFlags, cfg *config.Config, args []string) error {
	cmd := flag.NewFlagSet("serve-mcp", flag.ContinueOnError)
	cmd.SetOutput(io.Discard)
	watch := cmd.Bool("watch", false, "Reload log settings when the config file changes")
	if err := cmd.Parse(args); err != nil {
		return NewInvalidArgumentError("serve-mcp", err.Error())
	}

	a, err := openApp(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	if *watch {
		if flags.ConfigPath == "" {
			return NewInvalidArgumentError("watch", "--watch needs --config")
		}
		current := config.NewReloadableConfig(cfg)
		watcher, err := config.NewWatcher(flags.ConfigPath, config.WithWatchLogger(a.logger))
		if err != nil {
			return NewConfigError(err, flags.ConfigPath)
		}
		watcher.OnChange(func(next *config.Config) {
			current.Update(next)
			logger := telemetry.ConfigureSlog(os.Stderr, next.Log.Level, next.Log.Format)
			logger.Info("cli.config.reloaded", "path", flags.ConfigPath)
		})
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	a.logger.Info("cli.serve_mcp.start", "backend", cfg.Memory.Backend)
	return westmcp.NewMemoryServer(a.node, serviceName, version).ServeStdio()
}

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
}
