// Package opencode registers the OpenCode CLI adapter, which also
// backs gpt4 agents.
package opencode

import (
	"time"

	"github.com/mindmux/mindmux/internal/adapter"
	"github.com/mindmux/mindmux/internal/domain"
	"github.com/mindmux/mindmux/internal/mux"
)

func newAdapter(typ domain.AgentType) func(mux.Driver) adapter.Adapter {
	return func(driver mux.Driver) adapter.Adapter {
		return adapter.NewCLI(adapter.Profile{
			AgentType:      typ,
			Binary:         "opencode",
			StartCommand:   "opencode",
			Install:        "Install OpenCode: npm install -g opencode-ai",
			ReadyMarkers:   []string{"opencode", "ready"},
			StartupTimeout: 4 * time.Second,
			ExitCommand:    "/exit",
		}, driver)
	}
}

func init() {
	adapter.Register(domain.AgentOpenCode, newAdapter(domain.AgentOpenCode))
	adapter.Register(domain.AgentGPT4, newAdapter(domain.AgentGPT4))
}
