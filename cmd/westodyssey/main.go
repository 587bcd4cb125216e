// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/westodyssey/westodyssey/pkg/config"
)

var version = "dev"

type globalFlags struct {
	ConfigArgs []string
	ConfigPath string
	JSON       bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(NewInvalidArgumentError("flags", err.Error()), false)
	}
	if global.Help || len(args) == 0 {
		printUsage(os.Stdout)
		return
	}

	cmd := args[0]
	switch cmd {
	case "help":
		printUsage(os.Stdout)
		return
	case "version":
		printVersion(os.Stdout, global.JSON)
		return
	}

	cfg, err := config.LoadWithCLI(global.ConfigArgs)
	if err != nil {
		fatal(NewConfigError(err, global.ConfigPath), global.JSON)
	}

	switch cmd {
	case "run":
		err = runRun(ctx, global, cfg, args[1:])
	case "research":
		err = runResearch(ctx, global, cfg, args[1:])
	case "transcript":
		err = runTranscript(ctx, global, cfg, args[1:])
	case "sessions":
		err = runSessions(ctx, global, cfg, args[1:])
	case "personas":
		err = runPersonas(global, cfg, args[1:])
	case "health":
		err = runHealth(ctx, global, cfg, args[1:])
	case "serve-mcp":
		err = runServeMCP(ctx, global, cfg, args[1:])
	default:
		err = NewInvalidArgumentError("command", fmt.Sprintf("unknown command %q", cmd))
	}
	if err != nil {
		fatal(err, global.JSON)
	}
}

// parseGlobalFlags consumes the flags that precede the command. Config
// related flags are kept verbatim for config.LoadWithCLI.
func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	var flags globalFlags

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "-h", "--help":
			flags.Help = true
			return flags, nil, nil
		case "--json":
			flags.JSON = true
		case "--config", "--profile", "--set":
			if !hasValue {
				if i+1 >= len(args) {
					return flags, nil, fmt.Errorf("%s requires a value", name)
				}
				i++
				value = args[i]
			}
			flags.ConfigArgs = append(flags.ConfigArgs, name, value)
			if name == "--config" {
				flags.ConfigPath = value
			}
		default:
			return flags, nil, fmt.Errorf("unknown flag %q", arg)
		}
	}
	return flags, nil, nil
}

func printVersion(w io.Writer, asJSON bool) {
	if asJSON {
		writeJSON(w, map[string]string{"version": version})
		return
	}
	fmt.Fprintln(w, version)
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Westodyssey: a solver, a critic, an executor and a human on the road to an answer.

Usage:
  westodyssey [global flags] <command> [args]

Global flags:
  --config <path>      YAML config file
  --profile <name>     Overlay config.<name>.yaml next to --config
  --set key=value      Override config (repeatable)
  --json               JSON output

Commands:
  run --goal <text> [--rounds N] [--approval auto|ask|deny|off] [--session id] [--executor]
  research --topic <text> [--rounds N] [--session id]
  transcript --session <id> [--last N] [--kind kind]
  sessions
  personas
  health
  serve-mcp [--watch]
  version
  help
`)
}

func writeJSON(w io.Writer, value any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		fatal(err, false)
	}
}

func fatal(err error, asJSON bool) {
	printError(os.Stderr, err, asJSON)
	os.Exit(1)
}

func ensureNoArgs(args []string) error {
	if len(args) > 0 {
		return NewInvalidArgumentError("args", fmt.Sprintf("unexpected args: %v", args))
	}
	return nil
}
