package mcp

import (
	"context"
	"testing"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/westodyssey/westodyssey/pkg/config"
	"github.com/westodyssey/westodyssey/pkg/core"
	"github.com/westodyssey/westodyssey/pkg/memory"
)

func TestToolbox_StreamableHTTP(t *testing.T) {
	node := memory.NewNode(memory.NewInMemoryStore())
	if _, err := node.Post(context.Background(), "s1", memory.Entry{Kind: memory.KindGoal, Content: "fetch water"}, memory.AnySeq); err != nil {
		t.Fatal(err)
	}

	httpServer := mcpserver.NewTestStreamableHTTPServer(NewMemoryServer(node, "test-http", "1.0.0").MCPServer())
	defer httpServer.Close()

	tb, err := Connect(context.Background(), map[string]config.MCPServerConfig{
		"memory": {URL: httpServer.URL},
	}, nil)
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	defer tb.Close()

	var sessions core.Tool
	for _, tool := range tb.Tools() {
		if tool.Name() == "memory__sessions" {
			sessions = tool
		}
	}
	if sessions == nil {
		t.Fatalf("Expected sessions tool, got %d tools", len(tb.Tools()))
	}
	out, err := sessions.Call(context.Background(), nil)
	if err != nil || out != "s1" {
		t.Fatalf("Expected s1, got %v, %v", out, err)
	}

	if res := tb.HealthChecker().Check(context.Background()); res.Status != core.HealthHealthy {
		t.Fatalf("Expected healthy toolbox, got %+v", res)
	}
}

func TestConnectRejectsEmptyServer(t *testing.T) {
	_, err := Connect(context.Background(), map[string]config.MCPServerConfig{"broken": {}}, nil)
	if err == nil {
		t.Fatal("expected error for server without command or url")
	}
}
