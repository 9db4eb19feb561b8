package store

import (
	"encoding/json"
	"time"

	"github.com/mindmux/mindmux/internal/domain"
)

// AgentModel represents the database row for the agents table.
// Fields map directly to SQL columns with Unix timestamps for time
// values and JSON for the capability set and config map.
type AgentModel struct {
	ID           string
	Name         string
	Type         string
	Capabilities string // JSON array
	Config       string // JSON object
	Status       string
	Dispatched   int
	CreatedAt    int64 // Unix timestamp
	UpdatedAt    int64 // Unix timestamp
}

func toAgentModel(a *domain.Agent) *AgentModel {
	caps, _ := json.Marshal(a.Capabilities)
	cfg, _ := json.Marshal(a.Config)
	if a.Config == nil {
		cfg = []byte("{}")
	}
	return &AgentModel{
		ID:           a.ID,
		Name:         a.Name,
		Type:         string(a.Type),
		Capabilities: string(caps),
		Config:       string(cfg),
		Status:       string(a.Status),
		Dispatched:   a.Dispatched,
		CreatedAt:    a.CreatedAt.Unix(),
		UpdatedAt:    a.UpdatedAt.Unix(),
	}
}

func (m *AgentModel) toDomain() *domain.Agent {
	var caps []domain.Capability
	_ = json.Unmarshal([]byte(m.Capabilities), &caps)
	var cfg map[string]string
	_ = json.Unmarshal([]byte(m.Config), &cfg)

	return &domain.Agent{
		ID:           m.ID,
		Name:         m.Name,
		Type:         domain.AgentType(m.Type),
		Capabilities: caps,
		Config:       cfg,
		Status:       domain.AgentStatus(m.Status),
		Dispatched:   m.Dispatched,
		CreatedAt:    time.Unix(m.CreatedAt, 0),
		UpdatedAt:    time.Unix(m.UpdatedAt, 0),
	}
}

// TaskModel represents the database row for the tasks table.
type TaskModel struct {
	ID                   string
	Prompt               string
	RequiredCapabilities string // JSON array
	Priority             int
	Status               string
	AssignedAgentID      *string // nullable
	DependsOn            *string // nullable, JSON array
	CreatedAt            int64   // Unix timestamp
	StartedAt            *int64  // Unix timestamp, nullable
	CompletedAt          *int64  // Unix timestamp, nullable
	Result               *string // nullable
	ErrorMessage         *string // nullable
	RetryCount           int
	MaxRetries           int
	TimeoutMs            int64
}

func toTaskModel(t *domain.Task) *TaskModel {
	caps, _ := json.Marshal(t.RequiredCapabilities)
	m := &TaskModel{
		ID:                   t.ID,
		Prompt:               t.Prompt,
		RequiredCapabilities: string(caps),
		Priority:             t.Priority,
		Status:               string(t.Status),
		CreatedAt:            t.CreatedAt.Unix(),
		RetryCount:           t.RetryCount,
		MaxRetries:           t.MaxRetries,
		TimeoutMs:            t.Timeout.Milliseconds(),
	}
	if t.AssignedAgentID != "" {
		agentID := t.AssignedAgentID
		m.AssignedAgentID = &agentID
	}
	if len(t.DependsOn) > 0 {
		depsJSON, err := json.Marshal(t.DependsOn)
		if err == nil {
			deps := string(depsJSON)
			m.DependsOn = &deps
		}
	}
	if t.StartedAt != nil {
		startedAt := t.StartedAt.Unix()
		m.StartedAt = &startedAt
	}
	if t.CompletedAt != nil {
		completedAt := t.CompletedAt.Unix()
		m.CompletedAt = &completedAt
	}
	if t.Result != "" {
		result := t.Result
		m.Result = &result
	}
	if t.ErrorMessage != "" {
		errMsg := t.ErrorMessage
		m.ErrorMessage = &errMsg
	}
	return m
}

func (m *TaskModel) toDomain() *domain.Task {
	var caps []domain.Capability
	_ = json.Unmarshal([]byte(m.RequiredCapabilities), &caps)

	t := &domain.Task{
		ID:                   m.ID,
		Prompt:               m.Prompt,
		RequiredCapabilities: caps,
		Priority:             m.Priority,
		Status:               domain.TaskStatus(m.Status),
		CreatedAt:            time.Unix(m.CreatedAt, 0),
		RetryCount:           m.RetryCount,
		MaxRetries:           m.MaxRetries,
		Timeout:              time.Duration(m.TimeoutMs) * time.Millisecond,
	}
	if m.AssignedAgentID != nil {
		t.AssignedAgentID = *m.AssignedAgentID
	}
	if m.DependsOn != nil {
		_ = json.Unmarshal([]byte(*m.DependsOn), &t.DependsOn)
	}
	if m.StartedAt != nil {
		startedAt := time.Unix(*m.StartedAt, 0)
		t.StartedAt = &startedAt
	}
	if m.CompletedAt != nil {
		completedAt := time.Unix(*m.CompletedAt, 0)
		t.CompletedAt = &completedAt
	}
	if m.Result != nil {
		t.Result = *m.Result
	}
	if m.ErrorMessage != nil {
		t.ErrorMessage = *m.ErrorMessage
	}
	return t
}

// SessionModel represents the database row for the sessions table.
type SessionModel struct {
	ID                 string
	AgentID            string
	MultiplexerSession string
	Status             string
	StartedAt          int64  // Unix timestamp
	EndedAt            *int64 // Unix timestamp, nullable
	ProcessID          int64
}

func toSessionModel(s *domain.Session) *SessionModel {
	m := &SessionModel{
		ID:                 s.ID,
		AgentID:            s.AgentID,
		MultiplexerSession: s.MultiplexerSessionName,
		Status:             string(s.Status),
		StartedAt:          s.StartedAt.Unix(),
		ProcessID:          int64(s.ProcessID),
	}
	if s.EndedAt != nil {
		endedAt := s.EndedAt.Unix()
		m.EndedAt = &endedAt
	}
	return m
}

func (m *SessionModel) toDomain() *domain.Session {
	s := &domain.Session{
		ID:                     m.ID,
		AgentID:                m.AgentID,
		MultiplexerSessionName: m.MultiplexerSession,
		Status:                 domain.SessionStatus(m.Status),
		StartedAt:              time.Unix(m.StartedAt, 0),
		ProcessID:              int(m.ProcessID),
	}
	if m.EndedAt != nil {
		endedAt := time.Unix(*m.EndedAt, 0)
		s.EndedAt = &endedAt
	}
	return s
}
