package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mindmux/mindmux/internal/domain"
	"github.com/mindmux/mindmux/internal/store"
)

// Builder accumulates test fixtures and inserts them in FK order.
type Builder struct {
	t        *testing.T
	db       *store.DB
	agents   []*domain.Agent
	tasks    []*domain.Task
	sessions []*domain.Session

	byName map[string]*domain.Agent
}

// NewBuilder creates a fixture builder for the given store.
func NewBuilder(t *testing.T, db *store.DB) *Builder {
	t.Helper()
	return &Builder{t: t, db: db, byName: make(map[string]*domain.Agent)}
}

// AgentOption configures an agent fixture.
type AgentOption func(*domain.Agent)

// WithAgentStatus overrides the agent's status.
func WithAgentStatus(status domain.AgentStatus) AgentOption {
	return func(a *domain.Agent) { a.Status = status }
}

// WithAgentType overrides the agent's tool type.
func WithAgentType(typ domain.AgentType) AgentOption {
	return func(a *domain.Agent) { a.Type = typ }
}

// WithCapabilities overrides the agent's capability set.
func WithCapabilities(caps ...domain.Capability) AgentOption {
	return func(a *domain.Agent) { a.Capabilities = caps }
}

// WithDispatched seeds the agent's lifetime dispatch counter.
func WithDispatched(n int) AgentOption {
	return func(a *domain.Agent) { a.Dispatched = n }
}

// WithAgent adds an agent fixture with code-generation and testing
// capabilities by default.
func (b *Builder) WithAgent(name string, opts ...AgentOption) *Builder {
	b.t.Helper()
	agent, err := domain.NewAgent(name, domain.AgentClaude,
		[]domain.Capability{domain.CapCodeGeneration, domain.CapTesting}, nil)
	require.NoError(b.t, err)
	for _, opt := range opts {
		opt(agent)
	}
	b.agents = append(b.agents, agent)
	b.byName[name] = agent
	return b
}

// TaskOption configures a task fixture.
type TaskOption func(*domain.Task)

// WithPriority sets the task priority.
func WithPriority(p int) TaskOption {
	return func(t *domain.Task) { t.Priority = p }
}

// WithTaskStatus overrides the task's status.
func WithTaskStatus(status domain.TaskStatus) TaskOption {
	return func(t *domain.Task) { t.Status = status }
}

// WithRequired overrides the task's required capabilities.
func WithRequired(caps ...domain.Capability) TaskOption {
	return func(t *domain.Task) { t.RequiredCapabilities = caps }
}

// WithDependsOn sets the task's dependency ids.
func WithDependsOn(ids ...string) TaskOption {
	return func(t *domain.Task) { t.DependsOn = ids }
}

// WithMaxRetries sets the retry budget.
func WithMaxRetries(n int) TaskOption {
	return func(t *domain.Task) { t.MaxRetries = n }
}

// WithTimeout sets the task deadline.
func WithTimeout(d time.Duration) TaskOption {
	return func(t *domain.Task) { t.Timeout = d }
}

// WithCreatedAt backdates the task for FIFO ordering tests.
func WithCreatedAt(ts time.Time) TaskOption {
	return func(t *domain.Task) { t.CreatedAt = ts }
}

// WithTask adds a task fixture requiring testing capability by default.
func (b *Builder) WithTask(prompt string, opts ...TaskOption) *domain.Task {
	b.t.Helper()
	task, err := domain.NewTask(domain.TaskSpec{
		Prompt:               prompt,
		RequiredCapabilities: []domain.Capability{domain.CapTesting},
	})
	require.NoError(b.t, err)
	for _, opt := range opts {
		opt(task)
	}
	b.tasks = append(b.tasks, task)
	return task
}

// WithSession adds a session fixture bound to a previously added agent.
func (b *Builder) WithSession(agentName, muxSession string) *Builder {
	b.t.Helper()
	agent, ok := b.byName[agentName]
	require.True(b.t, ok, "agent %s must be added before its session", agentName)
	b.sessions = append(b.sessions, domain.NewSession(agent.ID, muxSession, 0))
	return b
}

// Agent returns a previously added agent fixture by name.
func (b *Builder) Agent(name string) *domain.Agent {
	b.t.Helper()
	agent, ok := b.byName[name]
	require.True(b.t, ok, "unknown agent fixture %s", name)
	return agent
}

// Build inserts all accumulated fixtures: agents, then tasks, then sessions.
func (b *Builder) Build() {
	b.t.Helper()
	for _, agent := range b.agents {
		require.NoError(b.t, b.db.Agents().Create(agent))
	}
	for _, task := range b.tasks {
		require.NoError(b.t, b.db.Tasks().Create(task))
	}
	for _, session := range b.sessions {
		require.NoError(b.t, b.db.Sessions().Create(session))
	}
}
