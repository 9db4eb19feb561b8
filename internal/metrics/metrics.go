// Package metrics keeps process-wide counters and gauges derived from
// cache state plus a fixed-bucket latency histogram for task durations.
package metrics

import (
	"sync"
	"time"

	"github.com/mindmux/mindmux/internal/cache"
	"github.com/mindmux/mindmux/internal/domain"
)

// durationBuckets are upper bounds in milliseconds for the task
// duration histogram; the last bucket is open-ended.
var durationBuckets = []int64{100, 500, 1000, 5000, 15000, 60000, 120000}

// Histogram is a fixed-bucket latency histogram.
type Histogram struct {
	Buckets []int64 `json:"buckets"`
	Counts  []int64 `json:"counts"`
	Count   int64   `json:"count"`
	SumMs   int64   `json:"sum_ms"`
}

// Snapshot is one point-in-time view of all metrics.
type Snapshot struct {
	AgentsActive       int       `json:"agents_active"`
	AgentsBusy         int       `json:"agents_busy"`
	TasksQueuedPending int       `json:"tasks_queued_pending"`
	TasksRunning       int       `json:"tasks_running"`
	TasksCompleted     int64     `json:"tasks_completed"`
	TasksFailed        int64     `json:"tasks_failed"`
	TaskDurationMs     Histogram `json:"task_duration_ms"`
	APIRequestsTotal   int64     `json:"api_requests_total"`
}

// Registry accumulates counters; gauges are read from the cache at
// snapshot time.
type Registry struct {
	mu             sync.Mutex
	tasksCompleted int64
	tasksFailed    int64
	apiRequests    int64
	durCounts      []int64
	durCount       int64
	durSumMs       int64
}

// NewRegistry creates an empty metrics registry.
func NewRegistry() *Registry {
	return &Registry{durCounts: make([]int64, len(durationBuckets)+1)}
}

// TaskCompleted records a successful task and its duration.
func (r *Registry) TaskCompleted(duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasksCompleted++
	r.observeLocked(duration)
}

// TaskFailed records a task that exhausted its retries.
func (r *Registry) TaskFailed(duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasksFailed++
	r.observeLocked(duration)
}

// APIRequest records one HTTP request.
func (r *Registry) APIRequest() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apiRequests++
}

func (r *Registry) observeLocked(duration time.Duration) {
	ms := duration.Milliseconds()
	r.durCount++
	r.durSumMs += ms
	for i, bound := range durationBuckets {
		if ms <= bound {
			r.durCounts[i]++
			return
		}
	}
	r.durCounts[len(durationBuckets)]++
}

// Collect builds a snapshot, reading gauges from the cache.
func (r *Registry) Collect(c *cache.Cache) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := Snapshot{
		TasksCompleted:   r.tasksCompleted,
		TasksFailed:      r.tasksFailed,
		APIRequestsTotal: r.apiRequests,
		TaskDurationMs: Histogram{
			Buckets: durationBuckets,
			Counts:  append([]int64(nil), r.durCounts...),
			Count:   r.durCount,
			SumMs:   r.durSumMs,
		},
	}

	for _, agent := range c.AllAgents() {
		switch agent.Status {
		case domain.AgentIdle:
			snapshot.AgentsActive++
		case domain.AgentBusy:
			snapshot.AgentsActive++
			snapshot.AgentsBusy++
		}
	}
	snapshot.TasksQueuedPending = len(c.TasksByStatus(domain.TaskPending))
	snapshot.TasksRunning = len(c.TasksByStatus(domain.TaskRunning))

	return snapshot
}
