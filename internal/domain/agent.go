// Package domain defines the core entities of the orchestrator: agents,
// tasks, sessions, and the validation rules and state machines that govern
// them. Entities here are storage-agnostic; the store and cache packages
// hold their own representations and convert at the boundary.
package domain

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// AgentType identifies which AI CLI tool an agent drives.
type AgentType string

const (
	// AgentClaude is the Claude Code CLI.
	AgentClaude AgentType = "claude"
	// AgentGemini is the Gemini CLI.
	AgentGemini AgentType = "gemini"
	// AgentOpenCode is the OpenCode CLI.
	AgentOpenCode AgentType = "opencode"
	// AgentGPT4 is GPT-4 driven through the OpenCode CLI.
	AgentGPT4 AgentType = "gpt4"
)

// IsValid returns true if this is a recognized AgentType.
func (t AgentType) IsValid() bool {
	switch t {
	case AgentClaude, AgentGemini, AgentOpenCode, AgentGPT4:
		return true
	}
	return false
}

// String returns the string representation of the AgentType.
func (t AgentType) String() string { return string(t) }

// AgentStatus represents the lifecycle state of an agent.
// Valid transitions:
//
//	idle    -> busy, error, stopped
//	busy    -> idle, error, stopped
//	error   -> idle, stopped
//	stopped -> (terminal)
type AgentStatus string

const (
	// AgentIdle indicates the agent is live and accepting work.
	AgentIdle AgentStatus = "idle"
	// AgentBusy indicates the agent is executing a task.
	AgentBusy AgentStatus = "busy"
	// AgentError indicates the agent's CLI is in a bad state.
	AgentError AgentStatus = "error"
	// AgentStopped indicates the agent was removed. Terminal.
	AgentStopped AgentStatus = "stopped"
)

var agentTransitions = map[AgentStatus]map[AgentStatus]bool{
	AgentIdle:    {AgentBusy: true, AgentError: true, AgentStopped: true},
	AgentBusy:    {AgentIdle: true, AgentError: true, AgentStopped: true},
	AgentError:   {AgentIdle: true, AgentStopped: true},
	AgentStopped: {},
}

// IsValid returns true if this is a recognized AgentStatus.
func (s AgentStatus) IsValid() bool {
	_, ok := agentTransitions[s]
	return ok
}

// IsTerminal returns true if no further transitions are allowed.
func (s AgentStatus) IsTerminal() bool { return s == AgentStopped }

// CanTransitionTo returns true if the transition to target is allowed.
func (s AgentStatus) CanTransitionTo(target AgentStatus) bool {
	allowed, ok := agentTransitions[s]
	return ok && allowed[target]
}

// String returns the string representation of the AgentStatus.
func (s AgentStatus) String() string { return string(s) }

// Capability is a named skill an agent advertises and a task requires.
// The vocabulary is closed; anything outside it fails validation.
type Capability string

const (
	CapCodeGeneration Capability = "code-generation"
	CapCodeReview     Capability = "code-review"
	CapDebugging      Capability = "debugging"
	CapTesting        Capability = "testing"
	CapRefactoring    Capability = "refactoring"
	CapDocumentation  Capability = "documentation"
	CapArchitecture   Capability = "architecture"
	CapResearch       Capability = "research"
)

// Capabilities returns the full closed capability vocabulary.
func Capabilities() []Capability {
	return []Capability{
		CapCodeGeneration, CapCodeReview, CapDebugging, CapTesting,
		CapRefactoring, CapDocumentation, CapArchitecture, CapResearch,
	}
}

// IsValid returns true if the capability is in the closed vocabulary.
func (c Capability) IsValid() bool {
	for _, known := range Capabilities() {
		if c == known {
			return true
		}
	}
	return false
}

// agentNamePattern is the allowed shape for agent names.
var agentNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,255}$`)

// Agent is a long-running external AI CLI under control of the orchestrator.
type Agent struct {
	ID           string
	Name         string
	Type         AgentType
	Capabilities []Capability
	Config       map[string]string
	Status       AgentStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// Dispatched counts lifetime task assignments; the scheduler uses it
	// as a load-balancing tie-break.
	Dispatched int
}

// NewAgent creates an idle agent, validating name, type, and capabilities.
func NewAgent(name string, typ AgentType, caps []Capability, config map[string]string) (*Agent, error) {
	if !agentNamePattern.MatchString(name) {
		return nil, &ValidationError{Field: "name", Reason: "must match [A-Za-z0-9_-]{1,255}"}
	}
	if !typ.IsValid() {
		return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown agent type %q", typ)}
	}
	if err := ValidateCapabilities(caps); err != nil {
		return nil, err
	}

	now := time.Now()
	cfg := make(map[string]string, len(config))
	for k, v := range config {
		cfg[k] = v
	}

	return &Agent{
		ID:           uuid.New().String(),
		Name:         name,
		Type:         typ,
		Capabilities: append([]Capability(nil), caps...),
		Config:       cfg,
		Status:       AgentIdle,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ValidateCapabilities checks a capability list against the closed vocabulary.
// An empty list is rejected: an agent with no skills can never be matched.
func ValidateCapabilities(caps []Capability) error {
	if len(caps) == 0 {
		return &ValidationError{Field: "capabilities", Reason: "must not be empty"}
	}
	for _, c := range caps {
		if !c.IsValid() {
			return &ValidationError{Field: "capabilities", Reason: fmt.Sprintf("unknown capability %q", c)}
		}
	}
	return nil
}

// HasCapabilities returns true if the agent advertises every capability in required.
func (a *Agent) HasCapabilities(required []Capability) bool {
	for _, req := range required {
		found := false
		for _, have := range a.Capabilities {
			if have == req {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// TransitionTo attempts to move the agent to the target status.
func (a *Agent) TransitionTo(target AgentStatus) error {
	if !a.Status.CanTransitionTo(target) {
		return fmt.Errorf("invalid agent transition from %s to %s", a.Status, target)
	}
	a.Status = target
	a.UpdatedAt = time.Now()
	return nil
}

// Clone returns a deep copy of the agent.
func (a *Agent) Clone() *Agent {
	cp := *a
	cp.Capabilities = append([]Capability(nil), a.Capabilities...)
	cp.Config = make(map[string]string, len(a.Config))
	for k, v := range a.Config {
		cp.Config[k] = v
	}
	return &cp
}
