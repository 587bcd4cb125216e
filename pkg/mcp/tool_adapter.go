package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/westodyssey/westodyssey/pkg/core"
	"github.com/westodyssey/westodyssey/pkg/errors"
	"github.com/westodyssey/westodyssey/pkg/llm"
	"github.com/westodyssey/westodyssey/pkg/telemetry"
)

// DefaultOutputLimit bounds the bytes of a tool result handed back to the
// executor, and with it the execution entry written to the transcript.
const DefaultOutputLimit = 4000

// NameSeparator joins a server name and a tool name. LLM function names
// only allow letters, digits, '_' and '-'.
const NameSeparator = "__"

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// ToolCaller abstracts MCP tool execution for adapters.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
}

// ToolAdapter exposes one tool of an MCP server to the executor.
type ToolAdapter struct {
	tool        mcp.Tool
	caller      ToolCaller
	server      string
	outputLimit int
}

// AdapterOption configures a ToolAdapter.
type AdapterOption func(*ToolAdapter)

// WithServer namespaces the tool under the server it came from, so two
// servers may both offer e.g. "search".
func WithServer(name string) AdapterOption {
	return func(t *ToolAdapter) {
		t.server = name
	}
}

// WithOutputLimit overrides DefaultOutputLimit. Zero or less disables it.
func WithOutputLimit(n int) AdapterOption {
	return func(t *ToolAdapter) {
		t.outputLimit = n
	}
}

// NewToolAdapter builds a core.Tool backed by an MCP tool definition and caller.
func NewToolAdapter(tool mcp.Tool, caller ToolCaller, opts ...AdapterOption) (*ToolAdapter, error) {
	if tool.Name == "" {
		return nil, stderrors.New("mcp tool name is required")
	}
	if caller == nil {
		return nil, stderrors.New("tool caller is required")
	}
	t := &ToolAdapter{tool: tool, caller: caller, outputLimit: DefaultOutputLimit}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Name is the name the model calls the tool by: server__tool when the
// adapter has a server.
func (t *ToolAdapter) Name() string {
	if t.server == "" {
		return t.tool.Name
	}
	return invalidNameChars.ReplaceAllString(t.server, "_") + NameSeparator + t.tool.Name
}

// Description is the MCP description, tagged with the server.
func (t *ToolAdapter) Description() string {
	if t.server == "" {
		return t.tool.Description
	}
	return fmt.Sprintf("[%s] %s", t.server, t.tool.Description)
}

// ToolDefinition implements llm.ToolSpec.
func (t *ToolAdapter) ToolDefinition() llm.Tool {
	var params any = t.tool.InputSchema
	if t.tool.RawInputSchema != nil {
		params = t.tool.RawInputSchema
	}
	return llm.Tool{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionDef{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  params,
		},
	}
}

// Call invokes the MCP tool. Text results longer than the output limit are
// cut; structured results that would exceed it come back as truncated JSON.
func (t *ToolAdapter) Call(ctx context.Context, input any) (any, error) {
	args, err := t.arguments(input)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "tool "+t.Name(), err)
	}
	for _, key := range t.tool.InputSchema.Required {
		if _, ok := args[key]; !ok {
			return nil, errors.New(errors.CodeInvalidInput, "tool "+t.Name(),
				fmt.Errorf("missing required field %q", key))
		}
	}

	result, err := t.caller.CallTool(ctx, t.tool.Name, args)
	if err != nil {
		return nil, t.failure(err).WithRecoverable(true)
	}
	if result == nil {
		return nil, t.failure(stderrors.New("empty result"))
	}
	if result.IsError {
		return nil, t.failure(fmt.Errorf("tool reported: %s", t.bound(textContent(result.Content))))
	}
	if result.StructuredContent != nil {
		data, err := json.Marshal(result.StructuredContent)
		if err != nil || t.outputLimit <= 0 || len(data) <= t.outputLimit {
			return result.StructuredContent, nil
		}
		return t.bound(string(data)), nil
	}
	return t.bound(textContent(result.Content)), nil
}

func (t *ToolAdapter) failure(err error) *errors.WestError {
	return errors.New(errors.CodeToolFailure, "tool "+t.Name(), err).
		WithAttribute("tool", t.tool.Name).
		WithAttribute("server", t.server)
}

func (t *ToolAdapter) bound(s string) string {
	if t.outputLimit <= 0 {
		return s
	}
	return telemetry.Truncate(s, t.outputLimit)
}

// arguments turns the executor's input into MCP arguments. A bare string
// fills the only required field when the schema has exactly one, and
// "input" otherwise.
func (t *ToolAdapter) arguments(input any) (map[string]interface{}, error) {
	switch value := input.(type) {
	case nil:
		return map[string]interface{}{}, nil
	case map[string]interface{}:
		return value, nil
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return map[string]interface{}{}, nil
		}
		if strings.HasPrefix(trimmed, "{") {
			var decoded map[string]interface{}
			if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
				return nil, fmt.Errorf("invalid JSON arguments: %w", err)
			}
			return decoded, nil
		}
		key := "input"
		if req := t.tool.InputSchema.Required; len(req) == 1 {
			key = req[0]
		}
		return map[string]interface{}{key: trimmed}, nil
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("unsupported arguments %T", input)
		}
		var decoded map[string]interface{}
		if err := json.Unmarshal(encoded, &decoded); err != nil {
			return nil, fmt.Errorf("arguments must be an object, got %T", input)
		}
		return decoded, nil
	}
}

func textContent(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}

var (
	_ core.Tool    = (*ToolAdapter)(nil)
	_ llm.ToolSpec = (*ToolAdapter)(nil)
)
