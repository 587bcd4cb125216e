// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/westodyssey/westodyssey/pkg/core"
	"github.com/westodyssey/westodyssey/pkg/errors"
	"github.com/westodyssey/westodyssey/pkg/llm"
	"github.com/westodyssey/westodyssey/pkg/prompts"
	"github.com/westodyssey/westodyssey/pkg/telemetry"
)

// Step is one tool call made by the executor.
type Step struct {
	Index     int           `json:"index"`
	Tool      string        `json:"tool"`
	CallID    string        `json:"call_id,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Output    string        `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Execution is the executor's report on an accepted proposal.
type Execution struct {
	Report string    `json:"report"`
	Steps  []Step    `json:"steps,omitempty"`
	Usage  llm.Usage `json:"usage"`
}

// Summary renders the execution for transcripts.
func (e Execution) Summary() string {
	if len(e.Steps) == 0 {
		return e.Report
	}
	var b strings.Builder
	b.WriteString(e.Report)
	b.WriteString("\n\nSteps:\n")
	for _, s := range e.Steps {
		status := "ok"
		if s.Error != "" {
			status = "error: " + s.Error
		}
		fmt.Fprintf(&b, "%d. %s(%s) %s\n", s.Index, s.Tool, s.Arguments, status)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Executor (Friar) carries out an accepted plan with tools.
type Executor struct {
	*Base
	tools    map[string]core.Tool
	defs     []llm.Tool
	maxSteps int
	emitter  core.EventEmitter
}

// NewExecutor creates an executor over tools.
func NewExecutor(persona prompts.Persona, provider llm.Provider, tools []core.Tool, opts ...Option) (*Executor, error) {
	o := collect(opts)
	b, err := newBase(core.RoleExecutor, persona, provider, o)
	if err != nil {
		return nil, err
	}
	e := &Executor{
		Base:     b,
		tools:    make(map[string]core.Tool, len(tools)),
		maxSteps: o.maxSteps,
		emitter:  o.emitter,
	}
	if e.maxSteps <= 0 {
		e.maxSteps = defaultMaxSteps
	}
	if e.emitter == nil {
		e.emitter = core.NoopEventEmitter{}
	}
	for _, t := range tools {
		if t == nil {
			continue
		}
		if _, dup := e.tools[t.Name()]; dup {
			return nil, errors.New(errors.CodeInvalidInput, "duplicate tool "+t.Name(), nil)
		}
		e.tools[t.Name()] = t
	}
	names := make([]string, 0, len(e.tools))
	for name := range e.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		e.defs = append(e.defs, toolDefinition(e.tools[name]))
	}
	return e, nil
}

// Tools returns the names of the tools the executor may call.
func (e *Executor) Tools() []string {
	out := make([]string, 0, len(e.defs))
	for _, d := range e.defs {
		out = append(out, d.Function.Name)
	}
	return out
}

// Execute runs the tool loop for plan until the model stops calling tools.
// Exceeding the step budget returns CodeToolFailure along with the partial
// execution.
func (e *Executor) Execute(ctx context.Context, goal, plan string) (Execution, error) {
	system, err := e.persona.Render(prompts.Vars{Goal: goal, Round: core.RoundFromContext(ctx)})
	if err != nil {
		return Execution{}, err
	}
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Goal:\n%s\n\nAccepted plan:\n%s", goal, plan)},
	}

	var exec Execution
	for step := 0; step < e.maxSteps; step++ {
		resp, err := e.chat(ctx, "agent.Execute", llm.ChatRequest{Messages: messages, Tools: e.defs})
		if err != nil {
			return exec, err
		}
		exec.Usage.Add(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			exec.Report = strings.TrimSpace(resp.Content)
			return exec, nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			s := e.runTool(ctx, len(exec.Steps)+1, call)
			exec.Steps = append(exec.Steps, s)
			content := s.Output
			if s.Error != "" {
				content = "error: " + s.Error
			}
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    content,
				ToolCallID: call.ID,
			})
		}
	}

	return exec, errors.New(errors.CodeToolFailure, "executor exceeded max steps", nil).
		WithContext("max_steps", e.maxSteps).
		WithContext("steps", len(exec.Steps))
}

// Run implements core.Agent. input is the plan; the goal is read from a
// Proposal when one is given.
func (e *Executor) Run(ctx context.Context, input any) (any, error) {
	switch v := input.(type) {
	case Proposal:
		return e.Execute(ctx, v.Goal, v.Content)
	case string:
		return e.Execute(ctx, v, v)
	default:
		return nil, errors.New(errors.CodeInvalidInput, fmt.Sprintf("executor expects a Proposal, got %T", input), nil)
	}
}

func (e *Executor) runTool(ctx context.Context, index int, call llm.ToolCall) Step {
	s := Step{
		Index:     index,
		Tool:      call.Function.Name,
		CallID:    call.ID,
		Arguments: call.Function.Arguments,
	}
	session, _ := core.SessionFromContext(ctx)
	round := core.RoundFromContext(ctx)

	toolCtx, span := e.tracer.Start(ctx, "agent.Tool.Call")
	span.SetAttributes(attribute.String(telemetry.AttrToolName, s.Tool))
	start := time.Now()

	tool, ok := e.tools[s.Tool]
	var err error
	if !ok {
		s.Error = fmt.Sprintf("unknown tool %q", s.Tool)
	} else {
		var out any
		out, err = tool.Call(toolCtx, toolInput(call.Function.Arguments))
		if err != nil {
			err = wrapToolError(err, s.Tool, s.CallID)
			s.Error = err.Error()
		} else {
			s.Output = stringify(out)
		}
	}
	s.Duration = time.Since(start)

	span.SetAttributes(attribute.Bool(telemetry.AttrToolOK, s.Error == ""))
	if s.Error != "" {
		span.SetStatus(codes.Error, s.Error)
		e.logger.WarnContext(ctx, "executor.tool.error",
			slog.String("tool", s.Tool),
			slog.String("tool_call_id", s.CallID),
			slog.String("error", s.Error),
		)
		if err != nil {
			e.metrics.RecordError(ctx, err, string(e.role))
		}
	} else {
		e.logger.InfoContext(ctx, "executor.tool.complete",
			slog.String("tool", s.Tool),
			slog.String("tool_call_id", s.CallID),
			slog.Duration("elapsed", s.Duration),
		)
	}
	span.End()

	e.emitter.Emit(ctx, core.NewEvent(core.EventToolCall, e.role, session, round, map[string]any{
		"tool":    s.Tool,
		"call_id": s.CallID,
		"ok":      s.Error == "",
	}))
	return s
}

func toolDefinition(t core.Tool) llm.Tool {
	if spec, ok := t.(llm.ToolSpec); ok {
		return spec.ToolDefinition()
	}
	return llm.Tool{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionDef{
			Name:       t.Name(),
			Parameters: map[string]any{"type": "object"},
		},
	}
}

// toolInput hands JSON object arguments to tools as a map.
func toolInput(args string) any {
	trimmed := strings.TrimSpace(args)
	if strings.HasPrefix(trimmed, "{") {
		var m map[string]any
		if err := json.Unmarshal([]byte(trimmed), &m); err == nil {
			return m
		}
	}
	return args
}

func stringify(v any) string {
	switch out := v.(type) {
	case nil:
		return ""
	case string:
		return out
	case fmt.Stringer:
		return out.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
