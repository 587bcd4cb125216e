// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"time"

	"github.com/westodyssey/westodyssey/pkg/agent"
	"github.com/westodyssey/westodyssey/pkg/core"
)

// HealthReport is the aggregated health of an engine.
type HealthReport struct {
	Status     core.HealthStatus   `json:"status"`
	Components []core.HealthResult `json:"components"`
}

// Health checks the agents' providers, the memory store and any extra
// checkers registered with WithHealthCheck.
func (e *Engine) Health(ctx context.Context) HealthReport {
	results, status := e.health.CheckAll(ctx)
	return HealthReport{Status: status, Components: results}
}

func (e *Engine) buildHealth() *core.HealthRegistry {
	reg := core.NewHealthRegistry(5 * time.Second)
	reg.Register("agent:"+e.solver.ID(), agent.NewHealthChecker(e.solver.Base))
	reg.Register("agent:"+e.critic.ID(), agent.NewHealthChecker(e.critic.Base))
	if e.executor != nil {
		reg.Register("agent:"+e.executor.ID(), agent.NewHealthChecker(e.executor.Base))
	}
	reg.Register("memory", core.HealthCheckFunc(func(ctx context.Context) core.HealthResult {
		_, err := e.memory.Sessions(ctx)
		return core.HealthFromError(err, "memory store reachable")
	}))
	for name, checker := range e.extraHealth {
		reg.Register(name, checker)
	}
	return reg
}
