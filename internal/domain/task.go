package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxPromptBytes caps prompt size. Larger prompts fail validation.
const MaxPromptBytes = 100 * 1024

// DefaultTaskTimeout is the absolute deadline applied to a task's
// sendPrompt call when the caller does not specify one.
const DefaultTaskTimeout = 120 * time.Second

// TaskStatus represents the lifecycle state of a task.
// Valid transitions:
//
//	pending   -> running, cancelled
//	running   -> completed, failed, cancelled, pending (retry reset)
//	completed -> (terminal)
//	failed    -> pending (retry reset)
//	cancelled -> (terminal)
type TaskStatus string

const (
	// TaskPending indicates the task awaits scheduling.
	TaskPending TaskStatus = "pending"
	// TaskRunning indicates the task is assigned and executing.
	TaskRunning TaskStatus = "running"
	// TaskCompleted indicates the task finished with a result. Terminal.
	TaskCompleted TaskStatus = "completed"
	// TaskFailed indicates the task exhausted its retries.
	TaskFailed TaskStatus = "failed"
	// TaskCancelled indicates the task was cancelled by a caller. Terminal.
	TaskCancelled TaskStatus = "cancelled"
)

var taskTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskPending:   {TaskRunning: true, TaskCancelled: true},
	TaskRunning:   {TaskCompleted: true, TaskFailed: true, TaskCancelled: true, TaskPending: true},
	TaskCompleted: {},
	TaskFailed:    {TaskPending: true},
	TaskCancelled: {},
}

// IsValid returns true if this is a recognized TaskStatus.
func (s TaskStatus) IsValid() bool {
	_, ok := taskTransitions[s]
	return ok
}

// IsTerminal returns true for completed and cancelled.
// Failed is not terminal: a failed task may be reset to pending for retry.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskCancelled
}

// CanTransitionTo returns true if the transition to target is allowed.
func (s TaskStatus) CanTransitionTo(target TaskStatus) bool {
	allowed, ok := taskTransitions[s]
	return ok && allowed[target]
}

// String returns the string representation of the TaskStatus.
func (s TaskStatus) String() string { return string(s) }

// Task is a unit of work (prompt + constraints) scheduled onto an agent.
type Task struct {
	ID                   string
	Prompt               string
	RequiredCapabilities []Capability
	Priority             int
	Status               TaskStatus
	AssignedAgentID      string
	DependsOn            []string
	CreatedAt            time.Time
	StartedAt            *time.Time
	CompletedAt          *time.Time
	Result               string
	ErrorMessage         string
	RetryCount           int
	MaxRetries           int
	Timeout              time.Duration
}

// TaskSpec holds the caller-supplied parameters for creating a task.
type TaskSpec struct {
	Prompt               string
	RequiredCapabilities []Capability
	Priority             int
	DependsOn            []string
	MaxRetries           int
	Timeout              time.Duration
}

// NewTask creates a pending task from a spec, applying defaults and
// validating the prompt and capability list.
func NewTask(spec TaskSpec) (*Task, error) {
	if spec.Prompt == "" {
		return nil, &ValidationError{Field: "prompt", Reason: "must not be empty"}
	}
	if len(spec.Prompt) > MaxPromptBytes {
		return nil, &ValidationError{Field: "prompt", Reason: fmt.Sprintf("exceeds %d bytes", MaxPromptBytes)}
	}
	if err := ValidateCapabilities(spec.RequiredCapabilities); err != nil {
		return nil, err
	}
	if spec.MaxRetries < 0 {
		return nil, &ValidationError{Field: "maxRetries", Reason: "must not be negative"}
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}

	return &Task{
		ID:                   uuid.New().String(),
		Prompt:               spec.Prompt,
		RequiredCapabilities: append([]Capability(nil), spec.RequiredCapabilities...),
		Priority:             spec.Priority,
		Status:               TaskPending,
		DependsOn:            append([]string(nil), spec.DependsOn...),
		CreatedAt:            time.Now(),
		MaxRetries:           spec.MaxRetries,
		Timeout:              timeout,
	}, nil
}

// TransitionTo attempts to move the task to the target status.
func (t *Task) TransitionTo(target TaskStatus) error {
	if !t.Status.CanTransitionTo(target) {
		return fmt.Errorf("invalid task transition from %s to %s", t.Status, target)
	}
	t.Status = target
	return nil
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	cp := *t
	cp.RequiredCapabilities = append([]Capability(nil), t.RequiredCapabilities...)
	cp.DependsOn = append([]string(nil), t.DependsOn...)
	if t.StartedAt != nil {
		v := *t.StartedAt
		cp.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		cp.CompletedAt = &v
	}
	return &cp
}

// ValidateDependencyGraph checks that dependsOn edges across the given tasks
// form a DAG. Unknown dependency ids are tolerated here; eligibility
// checking treats them as incomplete.
func ValidateDependencyGraph(tasks map[string]*Task) error {
	const (
		white = 0 // unvisited
		grey  = 1 // on stack
		black = 2 // done
	)
	color := make(map[string]int, len(tasks))

	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case grey:
			return fmt.Errorf("dependency cycle through task %s", id)
		case black:
			return nil
		}
		color[id] = grey
		if t, ok := tasks[id]; ok {
			for _, dep := range t.DependsOn {
				if _, known := tasks[dep]; !known {
					continue
				}
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for id := range tasks {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// NewID generates a fresh opaque identifier.
func NewID() string { return uuid.New().String() }
