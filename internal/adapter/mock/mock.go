// Package mock provides a configurable in-memory adapter for tests.
package mock

import (
	"context"
	"sync"

	"github.com/mindmux/mindmux/internal/adapter"
	"github.com/mindmux/mindmux/internal/domain"
)

// Adapter is a test double for adapter.Adapter. Zero value behaves as a
// healthy tool that answers every prompt with "ok"; override the Func
// fields to script other behavior.
type Adapter struct {
	AgentType domain.AgentType

	SpawnFunc      func(ctx context.Context, sessionName string, cfg adapter.Config) error
	SendPromptFunc func(ctx context.Context, sessionName, prompt string, cfg adapter.Config) adapter.Result
	IsIdleFunc     func(sessionName string) (bool, error)
	TerminateFunc  func(sessionName string) error

	mu             sync.Mutex
	spawnCalls     int
	promptCalls    int
	terminateCalls int
	prompts        []string
}

// New creates a mock adapter reporting the given agent type.
func New(typ domain.AgentType) *Adapter {
	return &Adapter{AgentType: typ}
}

func (m *Adapter) Type() domain.AgentType { return m.AgentType }

func (m *Adapter) CheckInstalled() bool { return true }

func (m *Adapter) InstallInstructions() string { return "mock adapter is always installed" }

func (m *Adapter) SpawnProcess(ctx context.Context, sessionName string, cfg adapter.Config) error {
	m.mu.Lock()
	m.spawnCalls++
	m.mu.Unlock()
	if m.SpawnFunc != nil {
		return m.SpawnFunc(ctx, sessionName, cfg)
	}
	return nil
}

func (m *Adapter) SendPrompt(ctx context.Context, sessionName, prompt string, cfg adapter.Config) adapter.Result {
	m.mu.Lock()
	m.promptCalls++
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.SendPromptFunc != nil {
		return m.SendPromptFunc(ctx, sessionName, prompt, cfg)
	}
	return adapter.Result{Success: true, Output: "ok"}
}

func (m *Adapter) SendCommand(sessionName, raw string) error { return nil }

func (m *Adapter) IsIdle(sessionName string) (bool, error) {
	if m.IsIdleFunc != nil {
		return m.IsIdleFunc(sessionName)
	}
	return true, nil
}

func (m *Adapter) GetOutput(sessionName string, lines int) (string, error) { return "", nil }

func (m *Adapter) Terminate(sessionName string) error {
	m.mu.Lock()
	m.terminateCalls++
	m.mu.Unlock()
	if m.TerminateFunc != nil {
		return m.TerminateFunc(sessionName)
	}
	return nil
}

// SpawnCalls returns how many times SpawnProcess was invoked.
func (m *Adapter) SpawnCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spawnCalls
}

// PromptCalls returns how many times SendPrompt was invoked.
func (m *Adapter) PromptCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.promptCalls
}

// TerminateCalls returns how many times Terminate was invoked.
func (m *Adapter) TerminateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminateCalls
}

// Prompts returns every prompt delivered so far.
func (m *Adapter) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}
