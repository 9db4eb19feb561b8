package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mindmux/mindmux/internal/discovery"
)

func TestRootCommand_Subcommands(t *testing.T) {
	want := map[string]bool{
		"serve":    false,
		"discover": false,
		"fork":     false,
		"status":   false,
	}
	for _, sub := range rootCmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		require.True(t, found, "subcommand %q should be registered", name)
	}
}

func TestSetVersion(t *testing.T) {
	original := version
	t.Cleanup(func() { SetVersion(original) })

	SetVersion("1.2.3 (commit: abc, built: today)")
	require.Equal(t, "1.2.3 (commit: abc, built: today)", rootCmd.Version)
}

func TestFindForkTarget(t *testing.T) {
	sessions := []discovery.AISession{
		{PaneID: "%1", SessionName: "dev", ToolType: discovery.ToolClaude, Label: "api-refactor"},
		{PaneID: "%2", SessionName: "dev", ToolType: discovery.ToolGemini},
		{PaneID: "%3", SessionName: "scratch", ToolType: discovery.ToolClaude, Label: "shared"},
		{PaneID: "%4", SessionName: "scratch", ToolType: discovery.ToolClaude, Label: "shared"},
	}

	t.Run("by pane id", func(t *testing.T) {
		got, err := findForkTarget(sessions, "%2")
		require.NoError(t, err)
		require.Equal(t, "%2", got.PaneID)
	})

	t.Run("by label", func(t *testing.T) {
		got, err := findForkTarget(sessions, "api-refactor")
		require.NoError(t, err)
		require.Equal(t, "%1", got.PaneID)
	})

	t.Run("unknown target", func(t *testing.T) {
		_, err := findForkTarget(sessions, "%99")
		require.Error(t, err)
		require.Contains(t, err.Error(), "no AI session found")
	})

	t.Run("ambiguous label", func(t *testing.T) {
		_, err := findForkTarget(sessions, "shared")
		require.Error(t, err)
		require.Contains(t, err.Error(), "matches 2 panes")
	})

	t.Run("empty label never matches empty target", func(t *testing.T) {
		_, err := findForkTarget(sessions, "")
		require.Error(t, err)
	})
}
