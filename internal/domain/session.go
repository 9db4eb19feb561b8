package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle state of an agent session.
type SessionStatus string

const (
	// SessionActive indicates the agent is bound to a live multiplexer pane.
	SessionActive SessionStatus = "active"
	// SessionEnded indicates the agent was stopped or the pane died. Terminal.
	SessionEnded SessionStatus = "ended"
)

// IsValid returns true if this is a recognized SessionStatus.
func (s SessionStatus) IsValid() bool {
	return s == SessionActive || s == SessionEnded
}

// String returns the string representation of the SessionStatus.
func (s SessionStatus) String() string { return string(s) }

// Session is a binding between an agent and a live multiplexer pane.
type Session struct {
	ID                     string
	AgentID                string
	MultiplexerSessionName string
	Status                 SessionStatus
	StartedAt              time.Time
	EndedAt                *time.Time
	ProcessID              int
}

// NewSession creates an active session for the given agent and pane.
func NewSession(agentID, muxSession string, pid int) *Session {
	return &Session{
		ID:                     uuid.New().String(),
		AgentID:                agentID,
		MultiplexerSessionName: muxSession,
		Status:                 SessionActive,
		StartedAt:              time.Now(),
		ProcessID:              pid,
	}
}

// End marks the session ended, recording the end time.
// Ending an already-ended session is a no-op.
func (s *Session) End() {
	if s.Status == SessionEnded {
		return
	}
	s.Status = SessionEnded
	now := time.Now()
	s.EndedAt = &now
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	cp := *s
	if s.EndedAt != nil {
		v := *s.EndedAt
		cp.EndedAt = &v
	}
	return &cp
}
