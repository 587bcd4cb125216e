package mcp

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/westodyssey/westodyssey/pkg/config"
	"github.com/westodyssey/westodyssey/pkg/core"
	"github.com/westodyssey/westodyssey/pkg/errors"
)

// Toolbox holds the MCP connections of a run and the tools they expose.
type Toolbox struct {
	mu      sync.Mutex
	clients map[string]*Client
	tools   []core.Tool
	logger  *slog.Logger
}

// NewToolbox returns an empty toolbox.
func NewToolbox(logger *slog.Logger) *Toolbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Toolbox{clients: make(map[string]*Client), logger: logger}
}

// Connect dials every configured server and collects its tools. On error
// the connections opened so far are closed.
func Connect(ctx context.Context, servers map[string]config.MCPServerConfig, logger *slog.Logger, opts ...ClientOption) (*Toolbox, error) {
	tb := NewToolbox(logger)

	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		srv := servers[name]
		var (
			c   *Client
			err error
		)
		switch {
		case srv.URL != "":
			c, err = NewClientWithStreamableHTTP(srv.URL, opts...)
		case srv.Command != "":
			c, err = NewClientWithStdio(srv.Command, srv.Args, opts...)
		default:
			err = fmt.Errorf("server %s needs a command or a url", name)
		}
		if err == nil {
			err = tb.Add(ctx, name, c)
		}
		if err != nil {
			tb.Close()
			return nil, errors.New(errors.CodeToolFailure, "mcp server "+name, err)
		}
	}
	return tb, nil
}

// Add registers a connected client under name and adapts its tools.
func (tb *Toolbox) Add(ctx context.Context, name string, c *Client) error {
	tools, err := c.ListTools(ctx)
	if err != nil {
		c.Close()
		return err
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()
	if _, dup := tb.clients[name]; dup {
		c.Close()
		return fmt.Errorf("mcp server %s already registered", name)
	}
	tb.clients[name] = c
	for _, tool := range tools {
		adapter, err := NewToolAdapter(tool, c, WithServer(name))
		if err != nil {
			return err
		}
		tb.tools = append(tb.tools, adapter)
	}
	tb.logger.Info("mcp.server.connected", slog.String("server", name), slog.Int("tools", len(tools)))
	return nil
}

// Tools returns every adapted tool.
func (tb *Toolbox) Tools() []core.Tool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return append([]core.Tool(nil), tb.tools...)
}

// HealthChecker pings every connected server.
func (tb *Toolbox) HealthChecker() core.HealthChecker {
	return core.HealthCheckFunc(func(ctx context.Context) core.HealthResult {
		tb.mu.Lock()
		clients := make(map[string]*Client, len(tb.clients))
		for k, v := range tb.clients {
			clients[k] = v
		}
		tb.mu.Unlock()

		var errs []error
		for name, c := range clients {
			if err := c.Ping(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
		return core.HealthFromError(stderrors.Join(errs...), fmt.Sprintf("%d mcp servers reachable", len(clients)))
	})
}

// Close closes every connection.
func (tb *Toolbox) Close() error {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	var errs []error
	for name, c := range tb.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	tb.clients = make(map[string]*Client)
	tb.tools = nil
	return stderrors.Join(errs...)
}
