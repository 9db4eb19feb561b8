// Package adapter drives interactive AI CLI tools through multiplexer
// panes. Each tool variant declares its start command, readiness markers,
// and termination sequence; the shared state machine in cli.go turns the
// pane's scrollback into a request/response contract.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/mindmux/mindmux/internal/domain"
	"github.com/mindmux/mindmux/internal/mux"
)

// Defaults for prompt delivery. Conservative idle thresholds beat
// aggressive polling when scraping opaque CLIs.
const (
	DefaultPollInterval  = 500 * time.Millisecond
	DefaultIdleThreshold = 2 * time.Second
	DefaultTimeout       = 120 * time.Second
)

// Config holds per-call tuning for spawn and prompt delivery.
type Config struct {
	// WorkDir is the working directory for a spawned session.
	WorkDir string

	// Command overrides the tool's default start command.
	Command string

	// PollInterval is how often scrollback is sampled while awaiting
	// a response. Default: 500ms.
	PollInterval time.Duration

	// IdleThreshold is how long output must stay unchanged before the
	// response is considered complete. Default: 2s.
	IdleThreshold time.Duration

	// Timeout is the absolute deadline for a sendPrompt call.
	// Default: 120s.
	Timeout time.Duration
}

// Result is the outcome of a prompt delivery.
type Result struct {
	Success  bool
	Output   string
	Duration time.Duration
	Err      error
}

// Adapter is the per-tool façade over the multiplexer driver.
type Adapter interface {
	// Type returns the agent type this adapter drives.
	Type() domain.AgentType

	// CheckInstalled reports whether the tool binary is on PATH.
	CheckInstalled() bool

	// InstallInstructions returns guidance shown when the tool is missing.
	InstallInstructions() string

	// SpawnProcess creates a session and starts the tool in it, waiting
	// for the tool's readiness markers.
	SpawnProcess(ctx context.Context, sessionName string, cfg Config) error

	// SendPrompt delivers a prompt and awaits the response via
	// scrollback stabilization.
	SendPrompt(ctx context.Context, sessionName, prompt string, cfg Config) Result

	// SendCommand sends a raw line to the tool without awaiting output.
	SendCommand(sessionName, raw string) error

	// IsIdle reports whether the tool appears ready for a new prompt.
	IsIdle(sessionName string) (bool, error)

	// GetOutput returns the last N lines of the session's scrollback.
	GetOutput(sessionName string, lines int) (string, error)

	// Terminate interrupts the tool and exits it gracefully.
	Terminate(sessionName string) error
}

// ErrUnknownAgentType is returned when an unregistered type is requested.
var ErrUnknownAgentType = fmt.Errorf("unknown agent type")

// adapterRegistry holds registered adapter factories.
// Use Register to add new tool variants.
var adapterRegistry = make(map[domain.AgentType]func(mux.Driver) Adapter)

// Register registers an adapter factory for the given type.
// This should be called in init() functions of provider packages.
func Register(typ domain.AgentType, factory func(mux.Driver) Adapter) {
	adapterRegistry[typ] = factory
}

// New creates an Adapter for the given type backed by the given driver.
// Returns ErrUnknownAgentType if the type is not registered.
func New(typ domain.AgentType, driver mux.Driver) (Adapter, error) {
	factory, ok := adapterRegistry[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgentType, typ)
	}
	return factory(driver), nil
}

// Registered returns a slice of all registered agent types.
func Registered() []domain.AgentType {
	types := make([]domain.AgentType, 0, len(adapterRegistry))
	for t := range adapterRegistry {
		types = append(types, t)
	}
	return types
}

// IsRegistered returns true if the given type has been registered.
func IsRegistered(typ domain.AgentType) bool {
	_, ok := adapterRegistry[typ]
	return ok
}
