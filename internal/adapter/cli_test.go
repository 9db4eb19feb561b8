package adapter_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mindmux/mindmux/internal/adapter"
	_ "github.com/mindmux/mindmux/internal/adapter/claude"
	_ "github.com/mindmux/mindmux/internal/adapter/gemini"
	_ "github.com/mindmux/mindmux/internal/adapter/opencode"
	"github.com/mindmux/mindmux/internal/domain"
	"github.com/mindmux/mindmux/internal/mux"
	"github.com/mindmux/mindmux/internal/testutil"
)

func testProfile() adapter.Profile {
	return adapter.Profile{
		AgentType:      domain.AgentClaude,
		Binary:         "claude",
		StartCommand:   "claude",
		ReadyMarkers:   []string{"claude", ">>>"},
		StartupTimeout: 2 * time.Second,
		ExitCommand:    "/exit",
	}
}

func fastConfig() adapter.Config {
	return adapter.Config{
		PollInterval:  10 * time.Millisecond,
		IdleThreshold: 40 * time.Millisecond,
		Timeout:       2 * time.Second,
	}
}

func TestRegistry_KnownTypes(t *testing.T) {
	fake := testutil.NewFakeMux()
	for _, typ := range []domain.AgentType{domain.AgentClaude, domain.AgentGemini, domain.AgentOpenCode, domain.AgentGPT4} {
		a, err := adapter.New(typ, fake)
		require.NoError(t, err, "type %s should be registered", typ)
		require.Equal(t, typ, a.Type())
	}

	_, err := adapter.New(domain.AgentType("cursor"), fake)
	require.ErrorIs(t, err, adapter.ErrUnknownAgentType)
}

func TestSendPrompt_HappyPath(t *testing.T) {
	fake := testutil.NewFakeMux()
	require.NoError(t, fake.CreateSession("mm-a1", ""))
	fake.OnSendKeys = func(target, text string) {
		if text == "summarize this repo" {
			fake.AppendOutput(target, "> summarize this repo", "AI: it multiplexes minds")
		}
	}

	cli := adapter.NewCLI(testProfile(), fake)
	res := cli.SendPrompt(context.Background(), "mm-a1", "summarize this repo", fastConfig())

	require.NoError(t, res.Err)
	require.True(t, res.Success)
	require.Contains(t, res.Output, "it multiplexes minds")
	require.Greater(t, res.Duration, time.Duration(0))
}

func TestSendPrompt_ReturnsDeltaOnly(t *testing.T) {
	fake := testutil.NewFakeMux()
	require.NoError(t, fake.CreateSession("mm-a1", ""))
	fake.AppendOutput("mm-a1", "old banner line", "another old line")
	fake.OnSendKeys = func(target, text string) {
		fake.AppendOutput(target, "AI: fresh answer")
	}

	cli := adapter.NewCLI(testProfile(), fake)
	res := cli.SendPrompt(context.Background(), "mm-a1", "go", fastConfig())

	require.True(t, res.Success)
	require.Contains(t, res.Output, "fresh answer")
	require.NotContains(t, res.Output, "old banner")
}

func TestSendPrompt_Timeout(t *testing.T) {
	fake := testutil.NewFakeMux()
	require.NoError(t, fake.CreateSession("mm-a1", ""))

	cfg := fastConfig()
	cfg.Timeout = 100 * time.Millisecond

	cli := adapter.NewCLI(testProfile(), fake)
	res := cli.SendPrompt(context.Background(), "mm-a1", "anyone there", cfg)

	require.False(t, res.Success)
	require.Error(t, res.Err)
	require.Contains(t, res.Err.Error(), "timeout")
}

func TestSendPrompt_HardErrorMarker(t *testing.T) {
	fake := testutil.NewFakeMux()
	require.NoError(t, fake.CreateSession("mm-a1", ""))
	fake.OnSendKeys = func(target, text string) {
		fake.AppendOutput(target, "Traceback (most recent call last):", "  ValueError: boom")
	}

	cli := adapter.NewCLI(testProfile(), fake)
	res := cli.SendPrompt(context.Background(), "mm-a1", "run it", fastConfig())

	require.False(t, res.Success)
	require.Error(t, res.Err)
	require.Contains(t, res.Err.Error(), "traceback")
}

func TestSendPrompt_PaneDisappears(t *testing.T) {
	fake := testutil.NewFakeMux()
	require.NoError(t, fake.CreateSession("mm-a1", ""))
	fake.OnSendKeys = func(target, text string) {
		fake.SetCaptureErr(target, mux.ErrSessionNotFound)
	}

	cli := adapter.NewCLI(testProfile(), fake)
	res := cli.SendPrompt(context.Background(), "mm-a1", "hello", fastConfig())

	require.False(t, res.Success)
	require.ErrorIs(t, res.Err, mux.ErrSessionNotFound)
}

func TestSendPrompt_ContextCancelled(t *testing.T) {
	fake := testutil.NewFakeMux()
	require.NoError(t, fake.CreateSession("mm-a1", ""))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cli := adapter.NewCLI(testProfile(), fake)
	res := cli.SendPrompt(ctx, "mm-a1", "hello", fastConfig())

	require.False(t, res.Success)
	require.ErrorIs(t, res.Err, context.Canceled)
}

func TestSpawnProcess_WaitsForReadyMarker(t *testing.T) {
	fake := testutil.NewFakeMux()
	fake.OnSendKeys = func(target, text string) {
		if text == "claude" {
			fake.AppendOutput(target, "Welcome to Claude Code", ">>>")
		}
	}

	cli := adapter.NewCLI(testProfile(), fake)
	err := cli.SpawnProcess(context.Background(), "mm-a1", adapter.Config{WorkDir: "/tmp/project"})
	require.NoError(t, err)

	require.Equal(t, []string{"claude"}, fake.Sent("mm-a1"))
}

func TestSpawnProcess_ReadyTimeout(t *testing.T) {
	fake := testutil.NewFakeMux()

	profile := testProfile()
	profile.StartupTimeout = 50 * time.Millisecond

	cli := adapter.NewCLI(profile, fake)
	err := cli.SpawnProcess(context.Background(), "mm-a1", adapter.Config{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not ready")
}

func TestSpawnProcess_KillsStaleSession(t *testing.T) {
	fake := testutil.NewFakeMux()
	require.NoError(t, fake.CreateSession("mm-a1", "/old"))
	fake.OnSendKeys = func(target, text string) {
		if text == "claude" {
			fake.AppendOutput(target, ">>>")
		}
	}

	// The leftover pane runs a shell, not the tool: spawn reclaims it.
	cli := adapter.NewCLI(testProfile(), fake)
	err := cli.SpawnProcess(context.Background(), "mm-a1", adapter.Config{WorkDir: "/new"})
	require.NoError(t, err)

	dir, err := fake.GetWorkingDirectory("mm-a1")
	require.NoError(t, err)
	require.Equal(t, "/new", dir, "stale session should be replaced, not reused")
}

func TestSpawnProcess_RefusesLiveToolSession(t *testing.T) {
	fake := testutil.NewFakeMux()
	require.NoError(t, fake.CreateSession("mm-a1", ""))
	fake.SetProcess("mm-a1", "claude")

	cli := adapter.NewCLI(testProfile(), fake)
	err := cli.SpawnProcess(context.Background(), "mm-a1", adapter.Config{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "already runs")

	exists, _ := fake.HasSession("mm-a1")
	require.True(t, exists, "live tool session must not be killed")
}

func TestIsIdle(t *testing.T) {
	fake := testutil.NewFakeMux()
	require.NoError(t, fake.CreateSession("mm-a1", ""))
	cli := adapter.NewCLI(testProfile(), fake)

	fake.AppendOutput("mm-a1", "some answer text", ">>>")
	idle, err := cli.IsIdle("mm-a1")
	require.NoError(t, err)
	require.True(t, idle)

	fake.AppendOutput("mm-a1", "crunching tokens...")
	idle, err = cli.IsIdle("mm-a1")
	require.NoError(t, err)
	require.False(t, idle)
}

func TestTerminate_InterruptsThenExits(t *testing.T) {
	fake := testutil.NewFakeMux()
	require.NoError(t, fake.CreateSession("mm-a1", ""))

	cli := adapter.NewCLI(testProfile(), fake)
	require.NoError(t, cli.Terminate("mm-a1"))

	require.Equal(t, 1, fake.Interrupts("mm-a1"))
	require.Equal(t, []string{"/exit"}, fake.Sent("mm-a1"))
}

func TestStripANSI(t *testing.T) {
	in := "\x1b[1;32mgreen\x1b[0m plain \x1b]0;title\x07tail"
	require.Equal(t, "green plain tail", adapter.StripANSI(in))
	require.False(t, strings.Contains(adapter.StripANSI(in), "\x1b"))
}
