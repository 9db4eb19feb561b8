package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mindmux/mindmux/internal/domain"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "data.db"))
	require.NoError(t, err, "NewDB should succeed")
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestAgent(t *testing.T, name string) *domain.Agent {
	t.Helper()
	agent, err := domain.NewAgent(name, domain.AgentClaude,
		[]domain.Capability{domain.CapCodeGeneration, domain.CapTesting},
		map[string]string{"model": "opus"})
	require.NoError(t, err)
	return agent
}

func TestAgentRepository_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	agent := newTestAgent(t, "worker-1")

	require.NoError(t, db.Agents().Create(agent))

	loaded, err := db.Agents().FindByID(agent.ID)
	require.NoError(t, err)
	require.Equal(t, agent.ID, loaded.ID)
	require.Equal(t, agent.Name, loaded.Name)
	require.Equal(t, agent.Type, loaded.Type)
	require.Equal(t, agent.Capabilities, loaded.Capabilities)
	require.Equal(t, agent.Config, loaded.Config)
	require.Equal(t, agent.Status, loaded.Status)
	require.Equal(t, agent.CreatedAt.Unix(), loaded.CreatedAt.Unix())

	byName, err := db.Agents().FindByName("worker-1")
	require.NoError(t, err)
	require.Equal(t, agent.ID, byName.ID)
}

func TestAgentRepository_Update(t *testing.T) {
	db := setupTestDB(t)
	agent := newTestAgent(t, "worker-1")
	require.NoError(t, db.Agents().Create(agent))

	require.NoError(t, agent.TransitionTo(domain.AgentBusy))
	agent.Dispatched = 3
	require.NoError(t, db.Agents().Update(agent))

	loaded, err := db.Agents().FindByID(agent.ID)
	require.NoError(t, err)
	require.Equal(t, domain.AgentBusy, loaded.Status)
	require.Equal(t, 3, loaded.Dispatched)
}

func TestAgentRepository_NotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.Agents().FindByID("missing")
	var nferr *domain.NotFoundError
	require.ErrorAs(t, err, &nferr)

	require.Error(t, db.Agents().Delete("missing"))
	require.Error(t, db.Agents().Update(newTestAgent(t, "ghost")))
}

func TestAgentRepository_UniqueName(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Agents().Create(newTestAgent(t, "worker-1")))
	require.Error(t, db.Agents().Create(newTestAgent(t, "worker-1")), "duplicate name should violate UNIQUE")
}

func TestTaskRepository_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	task, err := domain.NewTask(domain.TaskSpec{
		Prompt:               "write tests",
		RequiredCapabilities: []domain.Capability{domain.CapTesting},
		Priority:             7,
		DependsOn:            []string{"t-0"},
		MaxRetries:           2,
		Timeout:              30 * time.Second,
	})
	require.NoError(t, err)

	require.NoError(t, db.Tasks().Create(task))

	loaded, err := db.Tasks().FindByID(task.ID)
	require.NoError(t, err)
	require.Equal(t, task.Prompt, loaded.Prompt)
	require.Equal(t, task.RequiredCapabilities, loaded.RequiredCapabilities)
	require.Equal(t, 7, loaded.Priority)
	require.Equal(t, domain.TaskPending, loaded.Status)
	require.Equal(t, []string{"t-0"}, loaded.DependsOn)
	require.Equal(t, 2, loaded.MaxRetries)
	require.Equal(t, 30*time.Second, loaded.Timeout)
	require.Empty(t, loaded.AssignedAgentID)
	require.Nil(t, loaded.StartedAt)
	require.Nil(t, loaded.CompletedAt)
}

func TestTaskRepository_UpdateCompletion(t *testing.T) {
	db := setupTestDB(t)
	agent := newTestAgent(t, "worker-1")
	require.NoError(t, db.Agents().Create(agent))

	task, err := domain.NewTask(domain.TaskSpec{
		Prompt:               "hello",
		RequiredCapabilities: []domain.Capability{domain.CapCodeGeneration},
	})
	require.NoError(t, err)
	require.NoError(t, db.Tasks().Create(task))

	now := time.Now()
	task.Status = domain.TaskCompleted
	task.AssignedAgentID = agent.ID
	task.StartedAt = &now
	task.CompletedAt = &now
	task.Result = "done"

	require.NoError(t, db.Tasks().Update(task))

	loaded, err := db.Tasks().FindByID(task.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TaskCompleted, loaded.Status)
	require.Equal(t, agent.ID, loaded.AssignedAgentID)
	require.Equal(t, "done", loaded.Result)
	require.NotNil(t, loaded.StartedAt)
	require.Equal(t, now.Unix(), loaded.CompletedAt.Unix())
}

func TestTaskRepository_ForeignKey(t *testing.T) {
	db := setupTestDB(t)
	task, err := domain.NewTask(domain.TaskSpec{
		Prompt:               "hello",
		RequiredCapabilities: []domain.Capability{domain.CapTesting},
	})
	require.NoError(t, err)
	task.AssignedAgentID = "no-such-agent"

	require.Error(t, db.Tasks().Create(task), "assignment to unknown agent should violate FK")
}

func TestTaskRepository_ListOrdering(t *testing.T) {
	db := setupTestDB(t)

	mk := func(prompt string, priority int) *domain.Task {
		task, err := domain.NewTask(domain.TaskSpec{
			Prompt:               prompt,
			RequiredCapabilities: []domain.Capability{domain.CapTesting},
			Priority:             priority,
		})
		require.NoError(t, err)
		return task
	}

	low := mk("low", 1)
	high := mk("high", 9)
	mid := mk("mid", 5)
	for _, task := range []*domain.Task{low, high, mid} {
		require.NoError(t, db.Tasks().Create(task))
	}

	tasks, err := db.Tasks().ListByStatus(domain.TaskPending)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	require.Equal(t, "high", tasks[0].Prompt)
	require.Equal(t, "mid", tasks[1].Prompt)
	require.Equal(t, "low", tasks[2].Prompt)
}

func TestSessionRepository_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	agent := newTestAgent(t, "worker-1")
	require.NoError(t, db.Agents().Create(agent))

	session := domain.NewSession(agent.ID, "mm-worker-1", 4242)
	require.NoError(t, db.Sessions().Create(session))

	loaded, err := db.Sessions().FindByID(session.ID)
	require.NoError(t, err)
	require.Equal(t, agent.ID, loaded.AgentID)
	require.Equal(t, "mm-worker-1", loaded.MultiplexerSessionName)
	require.Equal(t, domain.SessionActive, loaded.Status)
	require.Equal(t, 4242, loaded.ProcessID)
	require.Nil(t, loaded.EndedAt)

	session.End()
	require.NoError(t, db.Sessions().Update(session))

	loaded, err = db.Sessions().FindByID(session.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SessionEnded, loaded.Status)
	require.NotNil(t, loaded.EndedAt)
}

func TestSessionRepository_ListByAgent(t *testing.T) {
	db := setupTestDB(t)
	a1 := newTestAgent(t, "worker-1")
	a2 := newTestAgent(t, "worker-2")
	require.NoError(t, db.Agents().Create(a1))
	require.NoError(t, db.Agents().Create(a2))

	require.NoError(t, db.Sessions().Create(domain.NewSession(a1.ID, "mm-worker-1", 1)))
	require.NoError(t, db.Sessions().Create(domain.NewSession(a2.ID, "mm-worker-2", 2)))

	sessions, err := db.Sessions().ListByAgent(a1.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "mm-worker-1", sessions[0].MultiplexerSessionName)
}

func TestSessionRepository_ForeignKey(t *testing.T) {
	db := setupTestDB(t)
	session := domain.NewSession("no-such-agent", "mm-ghost", 1)
	require.Error(t, db.Sessions().Create(session), "session for unknown agent should violate FK")
}
