package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAgent_Valid(t *testing.T) {
	agent, err := NewAgent("worker-1", AgentClaude, []Capability{CapCodeGeneration}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, agent.ID)
	require.Equal(t, AgentIdle, agent.Status)
	require.Equal(t, AgentClaude, agent.Type)
	require.False(t, agent.CreatedAt.IsZero())
}

func TestNewAgent_RejectsBadName(t *testing.T) {
	cases := []string{"", "has space", "semi;colon", strings.Repeat("x", 256), "uniçode"}
	for _, name := range cases {
		_, err := NewAgent(name, AgentClaude, []Capability{CapTesting}, nil)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, "name %q should be rejected", name)
		require.Equal(t, "name", verr.Field)
	}
}

func TestNewAgent_RejectsUnknownType(t *testing.T) {
	_, err := NewAgent("a1", AgentType("cursor"), []Capability{CapTesting}, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestValidateCapabilities_ClosedVocabulary(t *testing.T) {
	require.Error(t, ValidateCapabilities(nil), "empty list rejected")
	require.Error(t, ValidateCapabilities([]Capability{"juggling"}), "unknown capability rejected")
	require.NoError(t, ValidateCapabilities([]Capability{CapDebugging, CapCodeReview}))
}

func TestAgent_HasCapabilities(t *testing.T) {
	agent, err := NewAgent("a1", AgentGemini, []Capability{CapCodeGeneration, CapTesting}, nil)
	require.NoError(t, err)

	require.True(t, agent.HasCapabilities([]Capability{CapTesting}))
	require.True(t, agent.HasCapabilities([]Capability{CapCodeGeneration, CapTesting}))
	require.False(t, agent.HasCapabilities([]Capability{CapDebugging}))
	require.True(t, agent.HasCapabilities(nil), "no requirements always matches")
}

func TestAgentStatus_Transitions(t *testing.T) {
	require.True(t, AgentIdle.CanTransitionTo(AgentBusy))
	require.True(t, AgentBusy.CanTransitionTo(AgentIdle))
	require.False(t, AgentStopped.CanTransitionTo(AgentIdle), "stopped is terminal")
	require.False(t, AgentIdle.CanTransitionTo(AgentIdle), "self transition rejected")
}

func TestNewTask_Defaults(t *testing.T) {
	task, err := NewTask(TaskSpec{
		Prompt:               "hello",
		RequiredCapabilities: []Capability{CapCodeGeneration},
		Priority:             5,
	})
	require.NoError(t, err)
	require.Equal(t, TaskPending, task.Status)
	require.Equal(t, DefaultTaskTimeout, task.Timeout)
	require.Zero(t, task.RetryCount)
	require.Nil(t, task.StartedAt)
}

func TestNewTask_RejectsOversizedPrompt(t *testing.T) {
	_, err := NewTask(TaskSpec{
		Prompt:               strings.Repeat("a", MaxPromptBytes+1),
		RequiredCapabilities: []Capability{CapTesting},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "prompt", verr.Field)
}

func TestTaskStatus_Transitions(t *testing.T) {
	require.True(t, TaskPending.CanTransitionTo(TaskRunning))
	require.True(t, TaskRunning.CanTransitionTo(TaskPending), "retry reset allowed")
	require.True(t, TaskFailed.CanTransitionTo(TaskPending), "failed may be retried")
	require.False(t, TaskCompleted.CanTransitionTo(TaskRunning))
	require.False(t, TaskCancelled.CanTransitionTo(TaskPending))
}

func TestValidateDependencyGraph_DetectsCycle(t *testing.T) {
	a, _ := NewTask(TaskSpec{Prompt: "a", RequiredCapabilities: []Capability{CapTesting}})
	b, _ := NewTask(TaskSpec{Prompt: "b", RequiredCapabilities: []Capability{CapTesting}})
	a.DependsOn = []string{b.ID}
	b.DependsOn = []string{a.ID}

	err := ValidateDependencyGraph(map[string]*Task{a.ID: a, b.ID: b})
	require.Error(t, err)
	require.Contains(t, err.Error(), "cycle")
}

func TestValidateDependencyGraph_AcceptsChain(t *testing.T) {
	a, _ := NewTask(TaskSpec{Prompt: "a", RequiredCapabilities: []Capability{CapTesting}})
	b, _ := NewTask(TaskSpec{Prompt: "b", RequiredCapabilities: []Capability{CapTesting}})
	c, _ := NewTask(TaskSpec{Prompt: "c", RequiredCapabilities: []Capability{CapTesting}})
	b.DependsOn = []string{a.ID}
	c.DependsOn = []string{b.ID, a.ID}

	require.NoError(t, ValidateDependencyGraph(map[string]*Task{a.ID: a, b.ID: b, c.ID: c}))
}

func TestSession_End(t *testing.T) {
	s := NewSession("agent-1", "mm-worker-1", 4242)
	require.Equal(t, SessionActive, s.Status)
	require.Nil(t, s.EndedAt)

	s.End()
	require.Equal(t, SessionEnded, s.Status)
	require.NotNil(t, s.EndedAt)

	first := *s.EndedAt
	s.End()
	require.Equal(t, first, *s.EndedAt, "second End is a no-op")
}
