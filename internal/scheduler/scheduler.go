// Package scheduler owns the orchestration loop: it matches pending
// tasks to idle agents by capability, dispatches prompts through the
// CLI adapters, and applies completions. All state transitions happen
// inside one critical section so the store, cache, and event bus stay
// consistent; the long adapter I/O runs outside it.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/mindmux/mindmux/internal/adapter"
	"github.com/mindmux/mindmux/internal/bus"
	"github.com/mindmux/mindmux/internal/cache"
	"github.com/mindmux/mindmux/internal/domain"
	"github.com/mindmux/mindmux/internal/log"
	"github.com/mindmux/mindmux/internal/metrics"
	"github.com/mindmux/mindmux/internal/mux"
	"github.com/mindmux/mindmux/internal/store"
)

// DefaultTickInterval is the periodic scheduling interval.
const DefaultTickInterval = 200 * time.Millisecond

// DefaultWorkers bounds concurrent dispatches when Config.Workers is
// unset.
const DefaultWorkers = 4

// AdapterFactory builds the CLI adapter for an agent type.
type AdapterFactory func(typ domain.AgentType) (adapter.Adapter, error)

// Config wires the scheduler's collaborators.
type Config struct {
	DB            *store.DB
	Cache         *cache.Cache
	Bus           *bus.Bus
	Metrics       *metrics.Registry
	Adapters      AdapterFactory
	Driver        mux.Driver
	SessionPrefix string
	TickInterval  time.Duration
	// Workers caps concurrent dispatches. Default: DefaultWorkers.
	Workers int
	Tracer  trace.Tracer
}

// completion is a dispatch worker's report back to the scheduler.
type completion struct {
	taskID  string
	agentID string
	result  adapter.Result
}

// Scheduler runs the tick loop and owns all entity state transitions.
type Scheduler struct {
	db       *store.DB
	cache    *cache.Cache
	bus      *bus.Bus
	metrics  *metrics.Registry
	adapters AdapterFactory
	driver   mux.Driver
	prefix   string
	tick     time.Duration
	tracer   trace.Tracer

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	wake        chan struct{}
	completions chan completion
	slots       chan struct{}
}

// New creates a scheduler. Missing optional config falls back to
// defaults (200 ms tick, no-op tracer, registry-backed adapters is the
// caller's concern).
func New(cfg Config) *Scheduler {
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Scheduler{
		db:          cfg.DB,
		cache:       cfg.Cache,
		bus:         cfg.Bus,
		metrics:     cfg.Metrics,
		adapters:    cfg.Adapters,
		driver:      cfg.Driver,
		prefix:      cfg.SessionPrefix,
		tick:        tick,
		tracer:      tracer,
		cancels:     make(map[string]context.CancelFunc),
		wake:        make(chan struct{}, 1),
		completions: make(chan completion, 64),
		slots:       make(chan struct{}, workers),
	}
}

// SessionName returns the multiplexer session name for an agent.
func (s *Scheduler) SessionName(agent *domain.Agent) string {
	return s.prefix + agent.Name
}

// Wake requests a tick. Overlapping requests coalesce into one.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run executes the tick loop until ctx is cancelled. At most one tick
// is in flight at a time; timer fires and explicit wakes coalesce.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.wake:
		}
		s.runTick(ctx)
	}
}

// runTick drains completions, then matches eligible tasks to idle
// agents and launches their dispatch workers.
func (s *Scheduler) runTick(ctx context.Context) {
	tickCtx, span := s.tracer.Start(ctx, "scheduler.tick")
	defer span.End()

	s.mu.Lock()
	s.drainCompletionsLocked()
	dispatches := s.matchLocked()
	s.mu.Unlock()

	span.SetAttributes(attribute.Int("scheduler.dispatched", len(dispatches)))
	for _, d := range dispatches {
		task, agent := d.task, d.agent
		log.SafeGo(log.CatSched, "dispatch-"+task.ID, func() {
			s.dispatch(tickCtx, task, agent)
		})
	}
}

func (s *Scheduler) drainCompletionsLocked() {
	for {
		select {
		case c := <-s.completions:
			s.applyCompletionLocked(c)
		default:
			return
		}
	}
}

type dispatchPair struct {
	task  *domain.Task
	agent *domain.Agent
}

// matchLocked performs the eligibility filter and capability matching,
// applying assignment transitions under the lock. The returned pairs
// are dispatched by the caller after release.
func (s *Scheduler) matchLocked() []dispatchPair {
	eligible := s.eligibleTasksLocked()
	if len(eligible) == 0 {
		return nil
	}

	idle := s.cache.AgentsByStatus(domain.AgentIdle)
	var dispatches []dispatchPair

	for _, task := range eligible {
		agentIdx := pickAgent(idle, task.RequiredCapabilities)
		if agentIdx < 0 {
			continue
		}
		agent := idle[agentIdx]

		// One worker slot per in-flight dispatch; when the pool is
		// exhausted the remaining tasks stay pending for a later tick.
		select {
		case s.slots <- struct{}{}:
		default:
			return dispatches
		}

		if err := s.assignLocked(task, agent); err != nil {
			log.ErrorErr(log.CatSched, "assignment failed", err, "task", task.ID, "agent", agent.ID)
			<-s.slots
			continue
		}
		idle = append(idle[:agentIdx], idle[agentIdx+1:]...)
		dispatches = append(dispatches, dispatchPair{task: task.Clone(), agent: agent.Clone()})
	}
	return dispatches
}

// eligibleTasksLocked returns pending tasks whose dependencies are all
// completed, in scheduling order: priority descending, FIFO within
// equal priority.
func (s *Scheduler) eligibleTasksLocked() []*domain.Task {
	pending := s.cache.TasksByStatus(domain.TaskPending)

	eligible := pending[:0]
	for _, task := range pending {
		if task.RetryCount > task.MaxRetries {
			continue
		}
		if !s.depsCompleted(task) {
			continue
		}
		eligible = append(eligible, task)
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return eligible
}

func (s *Scheduler) depsCompleted(task *domain.Task) bool {
	for _, dep := range task.DependsOn {
		depTask, ok := s.cache.GetTask(dep)
		if !ok || depTask.Status != domain.TaskCompleted {
			return false
		}
	}
	return true
}

// pickAgent selects the candidate with the fewest lifetime dispatches;
// ties break on lexicographic agent id. Returns -1 when no idle agent
// covers the required capabilities.
func pickAgent(idle []*domain.Agent, required []domain.Capability) int {
	best := -1
	for i, agent := range idle {
		if !agent.HasCapabilities(required) {
			continue
		}
		if best < 0 ||
			agent.Dispatched < idle[best].Dispatched ||
			(agent.Dispatched == idle[best].Dispatched && agent.ID < idle[best].ID) {
			best = i
		}
	}
	return best
}

// assignLocked atomically moves task to running and agent to busy,
// persisting both before mutating the cache and publishing events.
func (s *Scheduler) assignLocked(task *domain.Task, agent *domain.Agent) error {
	now := time.Now()
	if err := task.TransitionTo(domain.TaskRunning); err != nil {
		return err
	}
	task.AssignedAgentID = agent.ID
	task.StartedAt = &now

	previous := agent.Status
	if err := agent.TransitionTo(domain.AgentBusy); err != nil {
		return err
	}
	agent.Dispatched++

	if err := s.persistLocked(task, agent); err != nil {
		return err
	}

	s.cache.SetTask(task)
	s.cache.SetAgent(agent)
	s.bus.TaskAssigned(task, agent)
	s.bus.AgentStatusChanged(agent, previous)
	log.Info(log.CatSched, "task assigned", "task", task.ID, "agent", agent.Name)
	return nil
}

// persistLocked writes both entities to the store. A failure triggers a
// defensive cache rebuild so memory never drifts from disk.
func (s *Scheduler) persistLocked(task *domain.Task, agent *domain.Agent) error {
	var err error
	if task != nil {
		err = s.db.Tasks().Update(task)
	}
	if err == nil && agent != nil {
		err = s.db.Agents().Update(agent)
	}
	if err != nil {
		s.bus.PublishError("scheduler", err)
		if rerr := s.cache.RebuildFromStore(s.db); rerr != nil {
			log.ErrorErr(log.CatSched, "cache rebuild failed", rerr)
		}
		return fmt.Errorf("persisting transition: %w", err)
	}
	return nil
}

// dispatch performs the long sendPrompt call outside the lock and
// reports the outcome on the completion channel.
func (s *Scheduler) dispatch(ctx context.Context, task *domain.Task, agent *domain.Agent) {
	defer func() { <-s.slots }()

	dctx, span := s.tracer.Start(ctx, "task.dispatch", trace.WithAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("agent.id", agent.ID),
		attribute.String("agent.type", string(agent.Type)),
	))
	defer span.End()

	var result adapter.Result
	ad, err := s.adapters(agent.Type)
	if err != nil {
		result = adapter.Result{Err: fmt.Errorf("resolving adapter: %w", err)}
	} else {
		dispatchCtx, cancel := context.WithTimeout(dctx, task.Timeout)
		s.mu.Lock()
		s.cancels[task.ID] = cancel
		s.mu.Unlock()

		result = ad.SendPrompt(dispatchCtx, s.SessionName(agent), task.Prompt, adapter.Config{
			Timeout: task.Timeout,
		})

		cancel()
		s.mu.Lock()
		delete(s.cancels, task.ID)
		s.mu.Unlock()
	}

	// The loop stops draining completions once ctx is cancelled; do not
	// block on a full buffer during shutdown.
	select {
	case s.completions <- completion{taskID: task.ID, agentID: agent.ID, result: result}:
		s.Wake()
	case <-ctx.Done():
	}
}

// applyCompletionLocked turns a dispatch outcome into terminal or retry
// transitions. Stale completions (task no longer running on that agent,
// e.g. after a cancel) are dropped.
func (s *Scheduler) applyCompletionLocked(c completion) {
	task, ok := s.cache.GetTask(c.taskID)
	if !ok || task.Status != domain.TaskRunning || task.AssignedAgentID != c.agentID {
		return
	}
	agent, ok := s.cache.GetAgent(c.agentID)
	if !ok {
		return
	}

	duration := c.result.Duration
	now := time.Now()

	if c.result.Success {
		_ = task.TransitionTo(domain.TaskCompleted)
		task.Result = c.result.Output
		task.CompletedAt = &now
		s.finishLocked(task, agent)
		s.bus.TaskCompleted(task)
		if s.metrics != nil {
			s.metrics.TaskCompleted(duration)
		}
		log.Info(log.CatSched, "task completed", "task", task.ID, "agent", agent.Name,
			"duration", duration.Round(time.Millisecond))
		return
	}

	reason := "dispatch failed"
	if c.result.Err != nil {
		reason = c.result.Err.Error()
	}

	if task.RetryCount < task.MaxRetries {
		// Immediate re-enqueue, no backoff; priority ordering governs
		// when the reattempt runs.
		task.RetryCount++
		_ = task.TransitionTo(domain.TaskPending)
		task.AssignedAgentID = ""
		task.StartedAt = nil
		s.finishLocked(task, agent)
		log.Warn(log.CatSched, "task retrying", "task", task.ID,
			"attempt", task.RetryCount, "reason", reason)
		return
	}

	_ = task.TransitionTo(domain.TaskFailed)
	task.ErrorMessage = reason
	task.CompletedAt = &now
	s.finishLocked(task, agent)
	s.bus.TaskFailed(task)
	if s.metrics != nil {
		s.metrics.TaskFailed(duration)
	}
	log.Warn(log.CatSched, "task failed", "task", task.ID, "reason", reason)
}

// finishLocked returns the agent to idle and persists both entities.
func (s *Scheduler) finishLocked(task *domain.Task, agent *domain.Agent) {
	previous := agent.Status
	if agent.Status == domain.AgentBusy {
		_ = agent.TransitionTo(domain.AgentIdle)
	}
	if err := s.persistLocked(task, agent); err != nil {
		return
	}
	s.cache.SetTask(task)
	s.cache.SetAgent(agent)
	if previous != agent.Status {
		s.bus.AgentStatusChanged(agent, previous)
	}
}
