package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/mindmux/mindmux/internal/adapter"
	"github.com/mindmux/mindmux/internal/domain"
	"github.com/mindmux/mindmux/internal/log"
)

// CreateAgent registers a new idle agent in the fleet.
func (s *Scheduler) CreateAgent(name string, typ domain.AgentType, caps []domain.Capability, config map[string]string) (*domain.Agent, error) {
	agent, err := domain.NewAgent(name, typ, caps, config)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Agents().Create(agent); err != nil {
		return nil, fmt.Errorf("creating agent: %w", err)
	}
	s.cache.SetAgent(agent)
	log.Info(log.CatSched, "agent created", "agent", agent.Name, "type", string(typ))

	s.Wake()
	return agent.Clone(), nil
}

// StartAgent spawns the agent's CLI tool in a fresh multiplexer session
// and records the session. A spawn failure moves the agent to error.
func (s *Scheduler) StartAgent(ctx context.Context, id, workDir string) (*domain.Session, error) {
	agent, ok := s.cache.GetAgent(id)
	if !ok {
		return nil, &domain.NotFoundError{Kind: "agent", ID: id}
	}
	if agent.Status != domain.AgentIdle {
		return nil, &domain.ConflictError{Kind: "agent", ID: id, Reason: fmt.Sprintf("is %s, not idle", agent.Status)}
	}

	ad, err := s.adapters(agent.Type)
	if err != nil {
		return nil, err
	}

	// Spawn is slow I/O; it runs outside the critical section.
	sessionName := s.SessionName(agent)
	if err := ad.SpawnProcess(ctx, sessionName, adapter.Config{WorkDir: workDir}); err != nil {
		s.markAgentError(agent.ID, err)
		return nil, fmt.Errorf("spawning %s: %w", agent.Name, err)
	}

	session := domain.NewSession(agent.ID, sessionName, s.sessionPID(sessionName))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Sessions().Create(session); err != nil {
		return nil, fmt.Errorf("recording session: %w", err)
	}
	s.cache.SetSession(session)
	log.Info(log.CatSched, "agent started", "agent", agent.Name, "session", sessionName)

	s.Wake()
	return session.Clone(), nil
}

// sessionPID reports the pid of the session's first pane, 0 when the
// driver cannot tell.
func (s *Scheduler) sessionPID(sessionName string) int {
	if s.driver == nil {
		return 0
	}
	panes, err := s.driver.ListPanes(sessionName)
	if err != nil || len(panes) == 0 {
		return 0
	}
	return panes[0].PID
}

func (s *Scheduler) markAgentError(id string, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.cache.GetAgent(id)
	if !ok {
		return
	}
	previous := agent.Status
	if err := agent.TransitionTo(domain.AgentError); err != nil {
		return
	}
	if err := s.persistLocked(nil, agent); err != nil {
		return
	}
	s.cache.SetAgent(agent)
	s.bus.AgentStatusChanged(agent, previous)
	s.bus.PublishError("agent:"+agent.Name, cause)
}

// StopAgent cancels the agent's running task if any, terminates its
// tool, kills its multiplexer session, and moves it to stopped.
func (s *Scheduler) StopAgent(id string) error {
	s.mu.Lock()
	agent, ok := s.cache.GetAgent(id)
	if !ok {
		s.mu.Unlock()
		return &domain.NotFoundError{Kind: "agent", ID: id}
	}

	if agent.Status == domain.AgentBusy {
		if task := s.runningTaskLocked(agent.ID); task != nil {
			s.cancelRunningLocked(task, agent)
		}
	}

	previous := agent.Status
	if err := agent.TransitionTo(domain.AgentStopped); err != nil {
		s.mu.Unlock()
		return &domain.ConflictError{Kind: "agent", ID: id, Reason: err.Error()}
	}
	if err := s.persistLocked(nil, agent); err != nil {
		s.mu.Unlock()
		return err
	}
	s.cache.SetAgent(agent)
	s.endSessionsLocked(agent.ID)
	s.bus.AgentStatusChanged(agent, previous)
	s.mu.Unlock()

	s.teardownTool(agent)
	log.Info(log.CatSched, "agent stopped", "agent", agent.Name)
	return nil
}

// DeleteAgent stops the agent and removes it from the live inventory.
// The store row survives (terminal stopped) so task history keeps its
// referential integrity.
func (s *Scheduler) DeleteAgent(id string) error {
	if err := s.StopAgent(id); err != nil {
		return err
	}
	s.mu.Lock()
	s.cache.DeleteAgent(id)
	s.mu.Unlock()
	return nil
}

// teardownTool terminates the CLI and kills the multiplexer session.
// Best-effort: the session may already be gone.
func (s *Scheduler) teardownTool(agent *domain.Agent) {
	sessionName := s.SessionName(agent)
	if ad, err := s.adapters(agent.Type); err == nil {
		if err := ad.Terminate(sessionName); err != nil {
			log.Warn(log.CatSched, "terminating tool failed", "agent", agent.Name, "error", err)
		}
	}
	if s.driver != nil {
		if err := s.driver.KillSession(sessionName); err != nil {
			log.Debug(log.CatSched, "killing session failed", "session", sessionName, "error", err)
		}
	}
}

func (s *Scheduler) endSessionsLocked(agentID string) {
	for _, session := range s.cache.SessionsByAgent(agentID) {
		if session.Status != domain.SessionActive {
			continue
		}
		session.End()
		if err := s.db.Sessions().Update(session); err != nil {
			log.ErrorErr(log.CatSched, "ending session failed", err, "session", session.ID)
			continue
		}
		s.cache.SetSession(session)
	}
}

// runningTaskLocked finds the task currently running on an agent.
func (s *Scheduler) runningTaskLocked(agentID string) *domain.Task {
	for _, task := range s.cache.TasksByStatus(domain.TaskRunning) {
		if task.AssignedAgentID == agentID {
			return task
		}
	}
	return nil
}

// GetAgent returns an agent from the hot cache.
func (s *Scheduler) GetAgent(id string) (*domain.Agent, error) {
	agent, ok := s.cache.GetAgent(id)
	if !ok {
		return nil, &domain.NotFoundError{Kind: "agent", ID: id}
	}
	return agent, nil
}

// ListAgents returns all cached agents.
func (s *Scheduler) ListAgents() []*domain.Agent {
	return s.cache.AllAgents()
}

// QueueTask validates and enqueues a task, waking the scheduler.
func (s *Scheduler) QueueTask(spec domain.TaskSpec) (*domain.Task, error) {
	task, err := domain.NewTask(spec)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	graph := make(map[string]*domain.Task)
	for _, existing := range s.cache.AllTasks() {
		graph[existing.ID] = existing
	}
	graph[task.ID] = task
	if err := domain.ValidateDependencyGraph(graph); err != nil {
		return nil, &domain.ValidationError{Field: "dependsOn", Reason: err.Error()}
	}

	if err := s.db.Tasks().Create(task); err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}
	s.cache.SetTask(task)
	s.bus.TaskQueued(task)
	log.Info(log.CatSched, "task queued", "task", task.ID, "priority", task.Priority)

	s.Wake()
	return task.Clone(), nil
}

// GetTask returns a task from the hot cache.
func (s *Scheduler) GetTask(id string) (*domain.Task, error) {
	task, ok := s.cache.GetTask(id)
	if !ok {
		return nil, &domain.NotFoundError{Kind: "task", ID: id}
	}
	return task, nil
}

// ListTasks returns all cached tasks.
func (s *Scheduler) ListTasks() []*domain.Task {
	return s.cache.AllTasks()
}

// CancelTask cancels a pending task immediately; a running task is
// cancelled and its agent's tool receives the termination sequence.
func (s *Scheduler) CancelTask(id string) error {
	s.mu.Lock()
	task, ok := s.cache.GetTask(id)
	if !ok {
		s.mu.Unlock()
		return &domain.NotFoundError{Kind: "task", ID: id}
	}

	switch task.Status {
	case domain.TaskPending:
		_ = task.TransitionTo(domain.TaskCancelled)
		now := time.Now()
		task.CompletedAt = &now
		err := s.persistLocked(task, nil)
		if err == nil {
			s.cache.SetTask(task)
		}
		s.mu.Unlock()
		return err

	case domain.TaskRunning:
		agent, _ := s.cache.GetAgent(task.AssignedAgentID)
		s.cancelRunningLocked(task, agent)
		s.mu.Unlock()

		if agent != nil {
			if ad, err := s.adapters(agent.Type); err == nil {
				if err := ad.Terminate(s.SessionName(agent)); err != nil {
					log.Warn(log.CatSched, "terminating cancelled task failed",
						"task", id, "error", err)
				}
			}
		}
		return nil

	default:
		s.mu.Unlock()
		return &domain.ConflictError{Kind: "task", ID: id, Reason: fmt.Sprintf("is %s and cannot be cancelled", task.Status)}
	}
}

// cancelRunningLocked transitions a running task to cancelled, returns
// its agent to idle, and signals the dispatch worker.
func (s *Scheduler) cancelRunningLocked(task *domain.Task, agent *domain.Agent) {
	if cancel, ok := s.cancels[task.ID]; ok {
		cancel()
		delete(s.cancels, task.ID)
	}

	_ = task.TransitionTo(domain.TaskCancelled)
	now := time.Now()
	task.CompletedAt = &now

	if agent != nil && agent.Status == domain.AgentBusy {
		previous := agent.Status
		_ = agent.TransitionTo(domain.AgentIdle)
		if err := s.persistLocked(task, agent); err != nil {
			return
		}
		s.cache.SetTask(task)
		s.cache.SetAgent(agent)
		s.bus.AgentStatusChanged(agent, previous)
	} else {
		if err := s.persistLocked(task, nil); err != nil {
			return
		}
		s.cache.SetTask(task)
	}
	log.Info(log.CatSched, "task cancelled", "task", task.ID)
}

// ListSessions returns all cached sessions.
func (s *Scheduler) ListSessions() []*domain.Session {
	return s.cache.AllSessions()
}
