// SPDX-License-Identifier: Apache-2.0
package core

import "context"

// Tool is a capability the executor can invoke, typically backed by MCP.
type Tool interface {
	Name() string
	Call(ctx context.Context, input any) (any, error)
}

// Agent is the minimal executable unit driven by the engine.
type Agent interface {
	ID() string
	Role() Role
	Run(ctx context.Context, input any) (any, error)
}
