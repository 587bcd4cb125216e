// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"sync"
	"time"

	"github.com/westodyssey/westodyssey/pkg/core"
	"github.com/westodyssey/westodyssey/pkg/llm"
	"github.com/westodyssey/westodyssey/pkg/resilience"
)

// HealthChecker reports whether an agent can reach its provider. Results
// are cached for minInterval so a busy health endpoint does not flood the
// provider.
type HealthChecker struct {
	base        *Base
	lastCheck   time.Time
	lastResult  core.HealthResult
	minInterval time.Duration
	mu          sync.RWMutex
}

// NewHealthChecker creates a health checker for a role agent.
func NewHealthChecker(b *Base) *HealthChecker {
	return &HealthChecker{
		base:        b,
		minInterval: 5 * time.Second,
	}
}

// Check returns the health status of the agent.
func (h *HealthChecker) Check(ctx context.Context) core.HealthResult {
	h.mu.RLock()
	if time.Since(h.lastCheck) < h.minInterval && !h.lastResult.LastCheck.IsZero() {
		result := h.lastResult
		h.mu.RUnlock()
		return result
	}
	h.mu.RUnlock()

	h.mu.Lock()
	defer h.mu.Unlock()

	if time.Since(h.lastCheck) < h.minInterval && !h.lastResult.LastCheck.IsZero() {
		return h.lastResult
	}

	result := core.HealthResult{
		Component: "agent:" + h.base.id,
		Status:    core.HealthHealthy,
		Message:   "agent operational",
	}

	switch h.base.breaker.State() {
	case resilience.StateOpen:
		result.Status = core.HealthUnhealthy
		result.Message = "llm circuit breaker open"
	case resilience.StateHalfOpen:
		result.Status = core.HealthDegraded
		result.Message = "llm circuit breaker probing"
	}

	if result.Status == core.HealthHealthy {
		if p, ok := h.base.provider.(llm.Pinger); ok {
			if err := p.Ping(ctx); err != nil {
				result.Status = core.HealthUnhealthy
				result.Message = "llm provider unreachable"
				result.Error = err
			}
		}
	}

	result.LastCheck = time.Now()
	h.lastResult = result
	h.lastCheck = result.LastCheck
	return result
}
