// Package cache holds the in-memory hot copies of agents, tasks, and
// sessions. It mirrors the durable store and is rebuilt from it on
// startup or after a detected inconsistency. Entries are cloned on the
// way in and out so callers never alias cached state.
package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/mindmux/mindmux/internal/domain"
	"github.com/mindmux/mindmux/internal/log"
)

// Cached entities never expire on their own; the scheduler owns their
// lifecycle and deletes them explicitly.
const cleanupInterval = 30 * time.Minute

// typedCache wraps a go-cache instance with a concrete value type.
type typedCache[V any] struct {
	name  string
	cache *gocache.Cache
}

func newTypedCache[V any](name string) *typedCache[V] {
	return &typedCache[V]{
		name:  name,
		cache: gocache.New(gocache.NoExpiration, cleanupInterval),
	}
}

func (c *typedCache[V]) get(key string) (V, bool) {
	var zero V

	value, found := c.cache.Get(key)
	if !found {
		return zero, false
	}

	v, ok := value.(V)
	if !ok {
		log.Error(log.CatCache, "wrong type assertion when getting value",
			"cache", c.name, "key", key)
		return zero, false
	}

	return v, true
}

func (c *typedCache[V]) all() []V {
	items := c.cache.Items()
	values := make([]V, 0, len(items))
	for key, item := range items {
		v, ok := item.Object.(V)
		if !ok {
			log.Error(log.CatCache, "wrong type assertion when listing values",
				"cache", c.name, "key", key)
			continue
		}
		values = append(values, v)
	}
	return values
}

func (c *typedCache[V]) set(key string, value V) {
	c.cache.Set(key, value, gocache.NoExpiration)
}

func (c *typedCache[V]) delete(key string) {
	c.cache.Delete(key)
}

func (c *typedCache[V]) flush() {
	c.cache.Flush()
}

// Store is the read side the cache rebuilds from.
type Store interface {
	ListAgents() ([]*domain.Agent, error)
	ListTasks() ([]*domain.Task, error)
	ListSessions() ([]*domain.Session, error)
}

// Cache mirrors the durable store's three entity tables in memory.
type Cache struct {
	agents   *typedCache[*domain.Agent]
	tasks    *typedCache[*domain.Task]
	sessions *typedCache[*domain.Session]
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		agents:   newTypedCache[*domain.Agent]("agents"),
		tasks:    newTypedCache[*domain.Task]("tasks"),
		sessions: newTypedCache[*domain.Session]("sessions"),
	}
}

// GetAgent returns a copy of the cached agent, if present.
func (c *Cache) GetAgent(id string) (*domain.Agent, bool) {
	agent, ok := c.agents.get(id)
	if !ok {
		return nil, false
	}
	return agent.Clone(), true
}

// GetTask returns a copy of the cached task, if present.
func (c *Cache) GetTask(id string) (*domain.Task, bool) {
	task, ok := c.tasks.get(id)
	if !ok {
		return nil, false
	}
	return task.Clone(), true
}

// GetSession returns a copy of the cached session, if present.
func (c *Cache) GetSession(id string) (*domain.Session, bool) {
	session, ok := c.sessions.get(id)
	if !ok {
		return nil, false
	}
	return session.Clone(), true
}

// AllAgents returns copies of every cached agent, in no particular order.
func (c *Cache) AllAgents() []*domain.Agent {
	agents := c.agents.all()
	out := make([]*domain.Agent, len(agents))
	for i, agent := range agents {
		out[i] = agent.Clone()
	}
	return out
}

// AllTasks returns copies of every cached task, in no particular order.
func (c *Cache) AllTasks() []*domain.Task {
	tasks := c.tasks.all()
	out := make([]*domain.Task, len(tasks))
	for i, task := range tasks {
		out[i] = task.Clone()
	}
	return out
}

// AllSessions returns copies of every cached session, in no particular order.
func (c *Cache) AllSessions() []*domain.Session {
	sessions := c.sessions.all()
	out := make([]*domain.Session, len(sessions))
	for i, session := range sessions {
		out[i] = session.Clone()
	}
	return out
}

// AgentsByStatus returns copies of cached agents with the given status.
func (c *Cache) AgentsByStatus(status domain.AgentStatus) []*domain.Agent {
	var out []*domain.Agent
	for _, agent := range c.agents.all() {
		if agent.Status == status {
			out = append(out, agent.Clone())
		}
	}
	return out
}

// TasksByStatus returns copies of cached tasks with the given status.
func (c *Cache) TasksByStatus(status domain.TaskStatus) []*domain.Task {
	var out []*domain.Task
	for _, task := range c.tasks.all() {
		if task.Status == status {
			out = append(out, task.Clone())
		}
	}
	return out
}

// SessionsByAgent returns copies of cached sessions bound to the agent.
func (c *Cache) SessionsByAgent(agentID string) []*domain.Session {
	var out []*domain.Session
	for _, session := range c.sessions.all() {
		if session.AgentID == agentID {
			out = append(out, session.Clone())
		}
	}
	return out
}

// SetAgent stores a copy of the agent.
func (c *Cache) SetAgent(agent *domain.Agent) {
	c.agents.set(agent.ID, agent.Clone())
}

// SetTask stores a copy of the task.
func (c *Cache) SetTask(task *domain.Task) {
	c.tasks.set(task.ID, task.Clone())
}

// SetSession stores a copy of the session.
func (c *Cache) SetSession(session *domain.Session) {
	c.sessions.set(session.ID, session.Clone())
}

// DeleteAgent removes an agent entry.
func (c *Cache) DeleteAgent(id string) { c.agents.delete(id) }

// DeleteTask removes a task entry.
func (c *Cache) DeleteTask(id string) { c.tasks.delete(id) }

// DeleteSession removes a session entry.
func (c *Cache) DeleteSession(id string) { c.sessions.delete(id) }

// Clear empties all three maps.
func (c *Cache) Clear() {
	c.agents.flush()
	c.tasks.flush()
	c.sessions.flush()
}

// RebuildFromStore empties the cache and reloads every entity from the
// store. Called once at startup and defensively after a store error
// leaves the cache suspect.
func (c *Cache) RebuildFromStore(store Store) error {
	agents, err := store.ListAgents()
	if err != nil {
		return err
	}
	tasks, err := store.ListTasks()
	if err != nil {
		return err
	}
	sessions, err := store.ListSessions()
	if err != nil {
		return err
	}

	c.Clear()
	for _, agent := range agents {
		c.SetAgent(agent)
	}
	for _, task := range tasks {
		c.SetTask(task)
	}
	for _, session := range sessions {
		c.SetSession(session)
	}

	log.Info(log.CatCache, "cache rebuilt from store",
		"agents", len(agents), "tasks", len(tasks), "sessions", len(sessions))
	return nil
}
