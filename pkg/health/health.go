// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-biokey.
//
// go-biokey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package health runs diagnostic checks over the pieces a fingerprint
// prompt depends on and aggregates them into one status.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is operating normally.
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates the component works but keys will not be
	// fingerprint gated.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy indicates the component is not functioning.
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Name    string        `json:"name"`
	Status  Status        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// CheckFunc performs one check. It should return quickly.
type CheckFunc func(ctx context.Context) CheckResult

type namedCheck struct {
	name  string
	check CheckFunc
}

// Checker runs registered checks in registration order.
type Checker struct {
	mu     sync.RWMutex
	clock  quartz.Clock
	checks []namedCheck
}

// NewChecker creates a checker. A nil clock uses the real clock.
func NewChecker(clock quartz.Clock) *Checker {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Checker{clock: clock}
}

// Register adds a check, replacing one already registered under name.
func (c *Checker) Register(name string, check CheckFunc) {
	if check == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.checks {
		if c.checks[i].name == name {
			c.checks[i].check = check
			return
		}
	}
	c.checks = append(c.checks, namedCheck{name: name, check: check})
}

// Names returns the registered check names in run order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.checks))
	for i, nc := range c.checks {
		names[i] = nc.name
	}
	return names
}

// Run executes every check. A cancelled context marks the remaining checks
// unhealthy without running them.
func (c *Checker) Run(ctx context.Context) []CheckResult {
	c.mu.RLock()
	checks := append([]namedCheck(nil), c.checks...)
	c.mu.RUnlock()

	results := make([]CheckResult, 0, len(checks))
	for _, nc := range checks {
		if err := ctx.Err(); err != nil {
			results = append(results, CheckResult{
				Name:   nc.name,
				Status: StatusUnhealthy,
				Error:  err.Error(),
			})
			continue
		}
		start := c.clock.Now()
		result := nc.check(ctx)
		result.Latency = c.clock.Since(start)
		if result.Name == "" {
			result.Name = nc.name
		}
		results = append(results, result)
	}
	return results
}

// AggregateStatus returns the worst status among results. No results is
// healthy.
func AggregateStatus(results []CheckResult) Status {
	status := StatusHealthy
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

func healthy(name, format string, args ...interface{}) CheckResult {
	return CheckResult{Name: name, Status: StatusHealthy, Message: fmt.Sprintf(format, args...)}
}

func degraded(name, format string, args ...interface{}) CheckResult {
	return CheckResult{Name: name, Status: StatusDegraded, Message: fmt.Sprintf(format, args...)}
}

func unhealthy(name string, err error, format string, args ...interface{}) CheckResult {
	r := CheckResult{Name: name, Status: StatusUnhealthy, Message: fmt.Sprintf(format, args...)}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}
