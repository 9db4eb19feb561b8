package health_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mindmux/mindmux/internal/cache"
	"github.com/mindmux/mindmux/internal/health"
	"github.com/mindmux/mindmux/internal/metrics"
)

func newChecker() *health.Checker {
	return health.NewChecker("test", metrics.NewRegistry(), cache.New())
}

func TestChecker_AllPassing(t *testing.T) {
	c := newChecker()
	c.Register("agents", false, func() error { return nil })
	c.Register("database", true, func() error { return nil })

	report := c.Evaluate()
	require.Equal(t, health.StatusHealthy, report.Status)
	require.Equal(t, 200, report.HTTPStatus())
	require.Equal(t, health.StatusHealthy, report.Checks["agents"].Status)
	require.Equal(t, "test", report.Version)
}

func TestChecker_NonCriticalFailureDegrades(t *testing.T) {
	c := newChecker()
	c.Register("agents", false, func() error { return fmt.Errorf("no agents responding") })
	c.Register("database", true, func() error { return nil })

	report := c.Evaluate()
	require.Equal(t, health.StatusDegraded, report.Status)
	require.Equal(t, 503, report.HTTPStatus())
	require.Equal(t, "no agents responding", report.Checks["agents"].Message)
}

func TestChecker_CriticalFailureUnhealthy(t *testing.T) {
	c := newChecker()
	c.Register("agents", false, func() error { return fmt.Errorf("no agents") })
	c.Register("database", true, func() error { return fmt.Errorf("connection lost") })

	report := c.Evaluate()
	require.Equal(t, health.StatusUnhealthy, report.Status)
	require.Equal(t, 503, report.HTTPStatus())
	require.Equal(t, health.StatusUnhealthy, report.Checks["database"].Status)
	require.Equal(t, health.StatusDegraded, report.Checks["agents"].Status)
}

func TestChecker_NoChecks(t *testing.T) {
	report := newChecker().Evaluate()
	require.Equal(t, health.StatusHealthy, report.Status)
	require.Empty(t, report.Checks)
	require.GreaterOrEqual(t, report.UptimeSeconds, int64(0))
}
