// Package gemini registers the Gemini CLI adapter.
package gemini

import (
	"time"

	"github.com/mindmux/mindmux/internal/adapter"
	"github.com/mindmux/mindmux/internal/domain"
	"github.com/mindmux/mindmux/internal/mux"
)

func init() {
	adapter.Register(domain.AgentGemini, func(driver mux.Driver) adapter.Adapter {
		return adapter.NewCLI(adapter.Profile{
			AgentType:      domain.AgentGemini,
			Binary:         "gemini",
			StartCommand:   "gemini",
			Install:        "Install Gemini CLI: npm install -g @google/gemini-cli",
			ReadyMarkers:   []string{"gemini", ">"},
			StartupTimeout: 3 * time.Second,
			ExitCommand:    "/quit",
		}, driver)
	})
}
