package fork_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mindmux/mindmux/internal/discovery"
	"github.com/mindmux/mindmux/internal/fork"
	"github.com/mindmux/mindmux/internal/testutil"
)

func TestParseTurns(t *testing.T) {
	scrollback := strings.Join([]string{
		"startup banner noise",
		"> write a parser",
		"AI: Sure, here is a parser.",
		"func parse() {}",
		"",
		"User: now add tests",
		"Assistant: Added tests below.",
		"more detail",
	}, "\n")

	turns := fork.ParseTurns(scrollback)
	require.Len(t, turns, 4)
	require.Equal(t, fork.RoleUser, turns[0].Role)
	require.Equal(t, "write a parser", turns[0].Text)
	require.Equal(t, fork.RoleAssistant, turns[1].Role)
	require.Equal(t, "Sure, here is a parser.\nfunc parse() {}", turns[1].Text, "continuation lines accrue to the current turn")
	require.Equal(t, "now add tests", turns[2].Text)
	require.Equal(t, "Added tests below.\nmore detail", turns[3].Text)
}

func TestParseTurns_NoMarkers(t *testing.T) {
	require.Empty(t, fork.ParseTurns("plain output\nwithout any conversation"))
}

func TestFormatPrologue_Small(t *testing.T) {
	prologue := fork.FormatPrologue([]fork.Turn{
		{Role: fork.RoleUser, Text: "hi"},
		{Role: fork.RoleAssistant, Text: "hello"},
	})

	require.True(t, strings.HasPrefix(prologue, "Previous conversation:"))
	require.Contains(t, prologue, "User: hi")
	require.Contains(t, prologue, "Assistant: hello")
	require.True(t, strings.HasSuffix(prologue, "Please continue from this context."))
}

func TestFormatPrologue_OverBudgetKeepsRecentTurns(t *testing.T) {
	long := strings.Repeat("x", 300)
	var turns []fork.Turn
	for i := 0; i < 30; i++ {
		turns = append(turns, fork.Turn{Role: fork.RoleUser, Text: long})
	}
	turns = append(turns, fork.Turn{Role: fork.RoleAssistant, Text: "final answer"})

	prologue := fork.FormatPrologue(turns)
	require.True(t, strings.HasPrefix(prologue, "Recent conversation:"))
	require.Contains(t, prologue, "final answer")
	require.LessOrEqual(t, len(prologue), 4000+len("\nPlease continue from this context."))
}

func TestFork_HappyPath(t *testing.T) {
	fake := testutil.NewFakeMux()
	require.NoError(t, fake.CreateSession("dev", "/src/app"))
	fake.SetProcess("dev", "claude")
	fake.AppendOutput("%0", "> fix the bug", "AI: Fixed it.")

	// The forked pane will be %1; make the restarted tool look ready.
	fake.OnSendKeys = func(target, text string) {
		if text == "claude" {
			fake.AppendOutput(target, "claude ready", ">>>")
		}
	}

	forker := fork.NewForker(fake)
	pane, err := forker.Fork(context.Background(), discovery.AISession{
		PaneID:      "%0",
		SessionName: "dev",
		ToolType:    discovery.ToolClaude,
		ProjectPath: "/src/app",
	})
	require.NoError(t, err)
	require.Equal(t, "%1", pane)

	sent := fake.Sent(pane)
	require.Contains(t, sent, "cd /src/app")
	require.Contains(t, sent, "claude")

	last := sent[len(sent)-1]
	require.Contains(t, last, "Previous conversation:")
	require.Contains(t, last, "User: fix the bug")
	require.Contains(t, last, "Assistant: Fixed it.")
	require.Zero(t, fake.Interrupts(pane))
}

func TestFork_UnknownTool(t *testing.T) {
	fake := testutil.NewFakeMux()
	_, err := fork.NewForker(fake).Fork(context.Background(), discovery.AISession{
		ToolType: "notepad",
	})
	require.Error(t, err)
}

func TestFork_ReadinessTimeoutInterruptsPane(t *testing.T) {
	fake := testutil.NewFakeMux()
	require.NoError(t, fake.CreateSession("dev", "/src"))
	fake.AppendOutput("%0", "> hello")

	// The restarted tool never prints a ready marker.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := fork.NewForker(fake).Fork(ctx, discovery.AISession{
		PaneID:      "%0",
		SessionName: "dev",
		ToolType:    discovery.ToolGemini,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not ready")
	require.Equal(t, 1, fake.Interrupts("%1"), "failed fork must Ctrl-C the new pane")
}

func TestFork_SourceCaptureFailure(t *testing.T) {
	fake := testutil.NewFakeMux()
	require.NoError(t, fake.CreateSession("dev", "/src"))
	fake.SetCaptureErr("%0", context.DeadlineExceeded)

	_, err := fork.NewForker(fake).Fork(context.Background(), discovery.AISession{
		PaneID:      "%0",
		SessionName: "dev",
		ToolType:    discovery.ToolClaude,
	})
	require.Error(t, err)
	require.Len(t, fake.Sent("%1"), 0, "no pane work before the capture succeeds")
}
