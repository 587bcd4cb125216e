package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/westodyssey/westodyssey/pkg/core"
	"github.com/westodyssey/westodyssey/pkg/memory"
)

// Server exposes a memory node as MCP tools so external agents can read
// and annotate sessions.
type Server struct {
	mcpServer *server.MCPServer
	node      *memory.Node
}

// NewMemoryServer creates an MCP server over node.
func NewMemoryServer(node *memory.Node, name, version string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(name, version),
		node:      node,
	}
	s.mcpServer.AddTool(mcp.NewTool("sessions",
		mcp.WithDescription("List the stored sessions."),
	), s.handleSessions)
	s.mcpServer.AddTool(mcp.NewTool("transcript",
		mcp.WithDescription("Render the full history of a session."),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session id")),
	), s.handleTranscript)
	s.mcpServer.AddTool(mcp.NewTool("entries",
		mcp.WithDescription("Return session entries as JSON, optionally of one kind."),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session id")),
		mcp.WithString("kind", mcp.Description("goal, proposal, critique, execution, decision or note")),
	), s.handleEntries)
	s.mcpServer.AddTool(mcp.NewTool("post_note",
		mcp.WithDescription("Append a note to a session."),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session id")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Note text")),
		mcp.WithString("author", mcp.Description("Role posting the note, executor by default")),
	), s.handlePostNote)
	s.mcpServer.AddTool(mcp.NewTool("recall",
		mcp.WithDescription("Search archived entries of every session by meaning."),
		mcp.WithString("query", mcp.Required(), mcp.Description("What to look for")),
		mcp.WithNumber("limit", mcp.Description("Maximum results")),
	), s.handleRecall)
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio serves the tools on stdin/stdout until EOF.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func arguments(request mcp.CallToolRequest) map[string]interface{} {
	args, _ := request.Params.Arguments.(map[string]interface{})
	if args == nil {
		args = map[string]interface{}{}
	}
	return args
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}

func (s *Server) handleSessions(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions, err := s.node.Sessions(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(strings.Join(sessions, "\n")), nil
}

func (s *Server) handleTranscript(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session := stringArg(arguments(request), "session")
	if session == "" {
		return mcp.NewToolResultError("session is required"), nil
	}
	text, err := s.node.Transcript(ctx, session)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleEntries(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	session := stringArg(args, "session")
	if session == "" {
		return mcp.NewToolResultError("session is required"), nil
	}
	var filter memory.Filter
	if kind := memory.Kind(stringArg(args, "kind")); kind != "" {
		if !kind.Valid() {
			return mcp.NewToolResultError(fmt.Sprintf("unknown kind %q", kind)), nil
		}
		filter.Kinds = []memory.Kind{kind}
	}
	entries, err := s.node.Entries(ctx, session, filter)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handlePostNote(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	session, content := stringArg(args, "session"), stringArg(args, "content")
	if session == "" || content == "" {
		return mcp.NewToolResultError("session and content are required"), nil
	}
	author := core.RoleExecutor
	if raw := stringArg(args, "author"); raw != "" {
		r, err := core.ParseRole(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		author = r
	}
	entry, err := s.node.Post(ctx, session, memory.Entry{
		Kind:    memory.KindNote,
		Author:  author,
		Round:   core.RoundFromContext(ctx),
		Content: content,
	}, memory.AnySeq)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("posted #%d", entry.Seq)), nil
}

func (s *Server) handleRecall(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	query := stringArg(args, "query")
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	limit := 5
	if v, ok := args["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}
	recs, err := s.node.Recall(ctx, query, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var b strings.Builder
	for _, r := range recs {
		fmt.Fprintf(&b, "[%.2f] %s/%s: %s\n", r.Score, r.Session, r.Kind, r.Text)
	}
	return mcp.NewToolResultText(b.String()), nil
}
