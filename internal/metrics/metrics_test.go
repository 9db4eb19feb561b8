package metrics_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mindmux/mindmux/internal/cache"
	"github.com/mindmux/mindmux/internal/domain"
	"github.com/mindmux/mindmux/internal/metrics"
)

func TestRegistry_Counters(t *testing.T) {
	r := metrics.NewRegistry()
	r.TaskCompleted(200 * time.Millisecond)
	r.TaskCompleted(2 * time.Second)
	r.TaskFailed(50 * time.Millisecond)
	r.APIRequest()
	r.APIRequest()

	snapshot := r.Collect(cache.New())
	require.Equal(t, int64(2), snapshot.TasksCompleted)
	require.Equal(t, int64(1), snapshot.TasksFailed)
	require.Equal(t, int64(2), snapshot.APIRequestsTotal)
	require.Equal(t, int64(3), snapshot.TaskDurationMs.Count)
	require.Equal(t, int64(50+200+2000), snapshot.TaskDurationMs.SumMs)
}

func TestRegistry_HistogramBuckets(t *testing.T) {
	r := metrics.NewRegistry()
	r.TaskCompleted(80 * time.Millisecond)   // <=100
	r.TaskCompleted(400 * time.Millisecond)  // <=500
	r.TaskCompleted(10 * time.Minute)        // overflow

	h := r.Collect(cache.New()).TaskDurationMs
	require.Len(t, h.Counts, len(h.Buckets)+1)
	require.Equal(t, int64(1), h.Counts[0])
	require.Equal(t, int64(1), h.Counts[1])
	require.Equal(t, int64(1), h.Counts[len(h.Counts)-1], "durations past the last bound land in the overflow bucket")
}

func TestRegistry_GaugesFromCache(t *testing.T) {
	c := cache.New()

	idle, err := domain.NewAgent("idle-1", domain.AgentClaude,
		[]domain.Capability{domain.CapTesting}, nil)
	require.NoError(t, err)
	busy, err := domain.NewAgent("busy-1", domain.AgentGemini,
		[]domain.Capability{domain.CapTesting}, nil)
	require.NoError(t, err)
	require.NoError(t, busy.TransitionTo(domain.AgentBusy))
	stopped, err := domain.NewAgent("stopped-1", domain.AgentClaude,
		[]domain.Capability{domain.CapTesting}, nil)
	require.NoError(t, err)
	require.NoError(t, stopped.TransitionTo(domain.AgentStopped))

	c.SetAgent(idle)
	c.SetAgent(busy)
	c.SetAgent(stopped)

	pending, err := domain.NewTask(domain.TaskSpec{
		Prompt:               "a",
		RequiredCapabilities: []domain.Capability{domain.CapTesting},
	})
	require.NoError(t, err)
	running, err := domain.NewTask(domain.TaskSpec{
		Prompt:               "b",
		RequiredCapabilities: []domain.Capability{domain.CapTesting},
	})
	require.NoError(t, err)
	running.Status = domain.TaskRunning
	c.SetTask(pending)
	c.SetTask(running)

	snapshot := metrics.NewRegistry().Collect(c)
	require.Equal(t, 2, snapshot.AgentsActive, "stopped agents are not active")
	require.Equal(t, 1, snapshot.AgentsBusy)
	require.Equal(t, 1, snapshot.TasksQueuedPending)
	require.Equal(t, 1, snapshot.TasksRunning)
}
