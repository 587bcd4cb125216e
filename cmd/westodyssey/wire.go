// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/westodyssey/westodyssey/pkg/agent"
	"github.com/westodyssey/westodyssey/pkg/config"
	"github.com/westodyssey/westodyssey/pkg/core"
	"github.com/westodyssey/westodyssey/pkg/engine"
	"github.com/westodyssey/westodyssey/pkg/errors"
	"github.com/westodyssey/westodyssey/pkg/llm"
	westmcp "github.com/westodyssey/westodyssey/pkg/mcp"
	"github.com/westodyssey/westodyssey/pkg/memory"
	"github.com/westodyssey/westodyssey/pkg/memory/ollama"
	"github.com/westodyssey/westodyssey/pkg/memory/qdrant"
	"github.com/westodyssey/westodyssey/pkg/prompts"
	"github.com/westodyssey/westodyssey/pkg/telemetry"
)

const serviceName = "westodyssey"

// app holds what every command shares: logging, telemetry and the memory node.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	node     *memory.Node
	shutdown telemetry.ShutdownFunc
	closers  []func() error
}

// openApp configures logging and telemetry and opens the memory node.
func openApp(cfg *config.Config, logOut io.Writer) (*app, error) {
	a := &app{cfg: cfg}
	a.logger = telemetry.ConfigureSlog(logOut, cfg.Log.Level, cfg.Log.Format)

	shutdown, err := telemetry.InitWithConfig(serviceName, version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init telemetry: %w", err)
	}
	a.shutdown = shutdown

	store, err := memory.OpenStore(cfg.Memory)
	if err != nil {
		a.Close()
		return nil, NewCLIError(
			errors.New(errors.CodeMemoryError, "open memory store", err).WithContext("backend", cfg.Memory.Backend),
			fmt.Sprintf("check memory.path (%s) is writable", cfg.Memory.Path),
		)
	}

	opts := []memory.NodeOption{memory.WithLogger(a.logger)}
	if cfg.Memory.Recall.Enabled {
		vm, closeFn, err := openRecall(cfg.Memory.Recall)
		if err != nil {
			_ = memory.NewNode(store).Close()
			a.Close()
			return nil, err
		}
		if closeFn != nil {
			a.closers = append(a.closers, closeFn)
		}
		opts = append(opts, memory.WithRecall(vm))
	}
	a.node = memory.NewNode(store, opts...)
	a.closers = append(a.closers, a.node.Close)
	return a, nil
}

// openRecall builds semantic recall over Qdrant, or over an in-process
// vector store when no address is configured.
func openRecall(cfg config.RecallConfig) (*memory.VectorMemory, func() error, error) {
	embedder := ollama.NewEmbedder(cfg.EmbedderBaseURL, cfg.EmbedderModel)
	if cfg.QdrantAddr == "" {
		return memory.NewVectorMemory(memory.NewInMemoryVectorStore(), embedder, cfg.Collection), nil, nil
	}
	store, err := qdrant.New(cfg.QdrantAddr)
	if err != nil {
		return nil, nil, err
	}
	return memory.NewVectorMemory(store, embedder, cfg.Collection), store.Close, nil
}

// Close releases everything opened by openApp and buildEngine, newest first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.shutdown != nil {
		if err := a.shutdown(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
		a.shutdown = nil
	}
	return stderrors.Join(errs...)
}

// engineOptions are the per-command choices layered over the config.
type engineOptions struct {
	maxRounds int
	executor  bool
	approval  string
	emitter   core.EventEmitter
	console   []agent.ConsoleApprovalOption
}

// buildEngine wires personas, the provider, agents, MCP tools and the
// audit store into an engine.
func (a *app) buildEngine(ctx context.Context, opts engineOptions) (*engine.Engine, error) {
	cfg := a.cfg
	library, err := prompts.Load(cfg.Prompts.Dir)
	if err != nil {
		return nil, err
	}
	provider, err := llm.New(cfg.LLM)
	if err != nil {
		return nil, err
	}
	metrics, err := telemetry.NewEngineMetrics(otel.Meter("westodyssey/engine"))
	if err != nil {
		return nil, err
	}

	common := []agent.Option{
		agent.WithModel(cfg.LLM.Model),
		agent.WithProviderName(cfg.LLM.Provider),
		agent.WithLogger(a.logger),
		agent.WithMetrics(metrics),
	}
	if opts.emitter != nil {
		common = append(common, agent.WithEmitter(opts.emitter))
	}

	persona := library.Get

	rules := engine.ConfigFrom(cfg)
	if opts.maxRounds > 0 {
		rules.MaxRounds = opts.maxRounds
	}

	solverPersona, err := persona(core.RoleSolver)
	if err != nil {
		return nil, err
	}
	solver, err := agent.NewSolver(solverPersona, provider, common...)
	if err != nil {
		return nil, err
	}
	criticPersona, err := persona(core.RoleCritic)
	if err != nil {
		return nil, err
	}
	critic, err := agent.NewCritic(criticPersona, provider, rules.MinScore, common...)
	if err != nil {
		return nil, err
	}

	engineOpts := []engine.Option{
		engine.WithSolver(solver),
		engine.WithCritic(critic),
		engine.WithMemory(a.node),
		engine.WithMetrics(metrics),
		engine.WithLogger(a.logger),
	}
	if opts.emitter != nil {
		engineOpts = append(engineOpts, engine.WithEmitter(opts.emitter))
	}

	if opts.executor {
		toolbox, err := westmcp.Connect(ctx, cfg.MCP.Servers, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, toolbox.Close)
		executorPersona, err := persona(core.RoleExecutor)
		if err != nil {
			return nil, err
		}
		executorOpts := append([]agent.Option{agent.WithMaxSteps(cfg.Engine.ExecutorMaxSteps)}, common...)
		executor, err := agent.NewExecutor(executorPersona, provider, toolbox.Tools(), executorOpts...)
		if err != nil {
			return nil, err
		}
		engineOpts = append(engineOpts,
			engine.WithExecutor(executor),
			engine.WithHealthCheck("mcp", toolbox.HealthChecker()),
		)
	}

	console := append([]agent.ConsoleApprovalOption{
		agent.WithApprovalTimeout(cfg.Engine.ApprovalTimeout),
	}, opts.console...)
	hook, err := agent.HookForMode(opts.approval, console...)
	if err != nil {
		return nil, NewInvalidArgumentError("approval", err.Error())
	}
	if hook != nil {
		humanPersona, err := persona(core.RoleHuman)
		if err != nil {
			return nil, err
		}
		engineOpts = append(engineOpts, engine.WithHuman(agent.NewHuman(humanPersona, hook, agent.WithLogger(a.logger))))
	}

	audit, err := a.openAudit()
	if err != nil {
		return nil, err
	}
	engineOpts = append(engineOpts, engine.WithAudit(audit))

	return engine.New(rules, engineOpts...)
}

func (a *app) openAudit() (engine.AuditStore, error) {
	if a.cfg.Engine.AuditPath == "" {
		return engine.NewMemoryAuditStore(), nil
	}
	store, err := engine.OpenSQLiteAuditStore(a.cfg.Engine.AuditPath)
	if err != nil {
		return nil, NewCLIError(
			errors.New(errors.CodeMemoryError, "open audit store", err).WithContext("path", a.cfg.Engine.AuditPath),
			"check engine.audit_path is writable",
		)
	}
	a.closers = append(a.closers, store.Close)
	return store, nil
}
