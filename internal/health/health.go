// Package health evaluates registered dependency checks and reports an
// aggregate status for the /health endpoint.
package health

import (
	"sync"
	"time"

	"github.com/mindmux/mindmux/internal/cache"
	"github.com/mindmux/mindmux/internal/metrics"
)

// Status is the aggregate health verdict.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Report is the full /health response body.
type Report struct {
	Status        Status                 `json:"status"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Version       string                 `json:"version"`
	Checks        map[string]CheckResult `json:"checks"`
	Metrics       metrics.Snapshot       `json:"metrics"`
}

type check struct {
	name     string
	critical bool
	fn       func() error
}

// Checker runs registered checks and aggregates their results.
// A failing critical check makes the whole report unhealthy; a failing
// non-critical check only degrades it.
type Checker struct {
	version   string
	startedAt time.Time
	registry  *metrics.Registry
	cache     *cache.Cache

	mu     sync.Mutex
	checks []check
}

// NewChecker creates a checker anchored at the current time.
func NewChecker(version string, registry *metrics.Registry, c *cache.Cache) *Checker {
	return &Checker{
		version:   version,
		startedAt: time.Now(),
		registry:  registry,
		cache:     c,
	}
}

// Register adds a named check. Critical checks gate the unhealthy verdict.
func (c *Checker) Register(name string, critical bool, fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, check{name: name, critical: critical, fn: fn})
}

// Evaluate runs every check and builds the aggregate report.
func (c *Checker) Evaluate() Report {
	c.mu.Lock()
	checks := append([]check(nil), c.checks...)
	c.mu.Unlock()

	report := Report{
		Status:        StatusHealthy,
		UptimeSeconds: int64(time.Since(c.startedAt).Seconds()),
		Version:       c.version,
		Checks:        make(map[string]CheckResult, len(checks)),
		Metrics:       c.registry.Collect(c.cache),
	}

	for _, chk := range checks {
		err := chk.fn()
		if err == nil {
			report.Checks[chk.name] = CheckResult{Status: StatusHealthy}
			continue
		}
		result := CheckResult{Status: StatusDegraded, Message: err.Error()}
		if chk.critical {
			result.Status = StatusUnhealthy
			report.Status = StatusUnhealthy
		} else if report.Status == StatusHealthy {
			report.Status = StatusDegraded
		}
		report.Checks[chk.name] = result
	}

	return report
}

// HTTPStatus maps the verdict to a response code: 200 only when healthy.
func (r Report) HTTPStatus() int {
	if r.Status == StatusHealthy {
		return 200
	}
	return 503
}
