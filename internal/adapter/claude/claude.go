// Package claude registers the Claude Code CLI adapter.
package claude

import (
	"time"

	"github.com/mindmux/mindmux/internal/adapter"
	"github.com/mindmux/mindmux/internal/domain"
	"github.com/mindmux/mindmux/internal/mux"
)

func init() {
	adapter.Register(domain.AgentClaude, func(driver mux.Driver) adapter.Adapter {
		return adapter.NewCLI(adapter.Profile{
			AgentType:      domain.AgentClaude,
			Binary:         "claude",
			StartCommand:   "claude",
			Install:        "Install Claude Code: npm install -g @anthropic-ai/claude-code",
			ReadyMarkers:   []string{"claude", ">>>"},
			StartupTimeout: 5 * time.Second,
			ExitCommand:    "/exit",
		}, driver)
	})
}
