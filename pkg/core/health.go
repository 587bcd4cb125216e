// SPDX-License-Identifier: Apache-2.0
package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthDegraded  HealthStatus = "DEGRADED"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
)

// HealthResult represents the result of a health check.
type HealthResult struct {
	Status    HealthStatus `json:"status"`
	Component string       `json:"component"`
	Message   string       `json:"message,omitempty"`
	LastCheck time.Time    `json:"last_check"`
	Error     error        `json:"-"`
}

// HealthChecker checks the health of a component (provider, store, tool server).
type HealthChecker interface {
	Check(ctx context.Context) HealthResult
}

// HealthCheckFunc wraps a function as a health checker.
type HealthCheckFunc func(ctx context.Context) HealthResult

// Check calls f and stamps LastCheck when the function left it empty.
func (f HealthCheckFunc) Check(ctx context.Context) HealthResult {
	result := f(ctx)
	if result.LastCheck.IsZero() {
		result.LastCheck = time.Now()
	}
	return result
}

// StaticHealth returns a checker that always reports status.
func StaticHealth(status HealthStatus, message string) HealthChecker {
	return HealthCheckFunc(func(context.Context) HealthResult {
		return HealthResult{Status: status, Message: message}
	})
}

// HealthFromError maps an error to Healthy or Unhealthy.
func HealthFromError(err error, okMessage string) HealthResult {
	if err != nil {
		return HealthResult{Status: HealthUnhealthy, Message: err.Error(), Error: err, LastCheck: time.Now()}
	}
	return HealthResult{Status: HealthHealthy, Message: okMessage, LastCheck: time.Now()}
}

// HealthRegistry runs named checkers, each bounded by timeout.
type HealthRegistry struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
	timeout  time.Duration
}

// NewHealthRegistry creates a registry. A zero timeout means 5s per check.
func NewHealthRegistry(timeout time.Duration) *HealthRegistry {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthRegistry{
		checkers: make(map[string]HealthChecker),
		timeout:  timeout,
	}
}

// Register adds or replaces the checker for a component.
func (r *HealthRegistry) Register(name string, checker HealthChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = checker
}

// Check runs a single named checker.
func (r *HealthRegistry) Check(ctx context.Context, name string) (HealthResult, error) {
	r.mu.RLock()
	checker, ok := r.checkers[name]
	r.mu.RUnlock()
	if !ok {
		return HealthResult{}, fmt.Errorf("checker not registered: %s", name)
	}
	return r.run(ctx, name, checker), nil
}

// CheckAll runs every checker concurrently. Results are sorted by component.
// The overall status is the worst individual status.
func (r *HealthRegistry) CheckAll(ctx context.Context) ([]HealthResult, HealthStatus) {
	r.mu.RLock()
	snapshot := make(map[string]HealthChecker, len(r.checkers))
	for name, c := range r.checkers {
		snapshot[name] = c
	}
	r.mu.RUnlock()

	results := make([]HealthResult, 0, len(snapshot))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, checker := range snapshot {
		wg.Add(1)
		go func(name string, checker HealthChecker) {
			defer wg.Done()
			res := r.run(ctx, name, checker)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(name, checker)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Component < results[j].Component })

	overall := HealthHealthy
	for _, res := range results {
		switch res.Status {
		case HealthUnhealthy:
			overall = HealthUnhealthy
		case HealthDegraded:
			if overall == HealthHealthy {
				overall = HealthDegraded
			}
		}
	}
	return results, overall
}

func (r *HealthRegistry) run(ctx context.Context, name string, checker HealthChecker) HealthResult {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	res := checker.Check(ctx)
	res.Component = name
	if res.LastCheck.IsZero() {
		res.LastCheck = time.Now()
	}
	return res
}
