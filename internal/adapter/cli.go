package adapter

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/mindmux/mindmux/internal/domain"
	"github.com/mindmux/mindmux/internal/log"
	"github.com/mindmux/mindmux/internal/mux"
)

// captureWindow bounds how much scrollback is sampled per poll.
const captureWindow = 2000

// promptState labels the phases of prompt delivery for logging.
type promptState string

const (
	statePrep        promptState = "prep"
	stateTyping      promptState = "typing"
	stateAwaiting    promptState = "awaiting"
	stateStabilizing promptState = "stabilizing"
)

// ansiPattern matches CSI and OSC escape sequences.
var ansiPattern = regexp.MustCompile(`\x1b(?:\[[0-9;?]*[a-zA-Z]|\][^\x07\x1b]*(?:\x07|\x1b\\))`)

// StripANSI removes terminal escape sequences from captured output.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// errorMarkers are hard failure indicators in tool output. Matching is
// case-insensitive over the response delta.
var errorMarkers = []string{
	"traceback",
	"fatal",
	"i cannot assist",
	"i can't assist",
}

// Profile declares the tool-specific constants for one CLI variant.
type Profile struct {
	AgentType      domain.AgentType
	Binary         string
	StartCommand   string
	Install        string
	ReadyMarkers   []string
	StartupTimeout time.Duration
	ExitCommand    string
}

// CLI is the shared adapter implementation. Tool variants differ only
// in their Profile.
type CLI struct {
	profile Profile
	driver  mux.Driver
}

// NewCLI creates an adapter from a tool profile and a multiplexer driver.
func NewCLI(profile Profile, driver mux.Driver) *CLI {
	return &CLI{profile: profile, driver: driver}
}

// Type returns the agent type this adapter drives.
func (c *CLI) Type() domain.AgentType { return c.profile.AgentType }

// CheckInstalled reports whether the tool binary is on PATH.
func (c *CLI) CheckInstalled() bool {
	_, err := exec.LookPath(c.profile.Binary)
	return err == nil
}

// InstallInstructions returns guidance shown when the tool is missing.
func (c *CLI) InstallInstructions() string { return c.profile.Install }

// SpawnProcess creates a detached session, launches the tool in it, and
// polls scrollback until a readiness marker appears or the tool's
// startup timeout elapses.
func (c *CLI) SpawnProcess(ctx context.Context, sessionName string, cfg Config) error {
	command := cfg.Command
	if command == "" {
		command = c.profile.StartCommand
	}

	if err := c.ensureFresh(sessionName); err != nil {
		return err
	}
	if err := c.driver.CreateSession(sessionName, cfg.WorkDir); err != nil {
		return fmt.Errorf("creating session %s: %w", sessionName, err)
	}
	if err := c.driver.SendKeys(sessionName, command); err != nil {
		return fmt.Errorf("starting %s: %w", c.profile.Binary, err)
	}

	log.Debug(log.CatAdapter, "spawned tool", "type", c.profile.AgentType, "session", sessionName)
	return c.awaitReady(ctx, sessionName, c.profile.StartupTimeout)
}

// ensureFresh clears a leftover session with the same name whose pane
// no longer runs the expected tool. A session still running the tool is
// an error: two agents must not share a session.
func (c *CLI) ensureFresh(sessionName string) error {
	exists, err := c.driver.HasSession(sessionName)
	if err != nil || !exists {
		return err
	}
	proc, err := c.driver.GetProcessName(sessionName)
	if err == nil && strings.Contains(proc, c.profile.Binary) {
		return fmt.Errorf("session %s already runs %s", sessionName, c.profile.Binary)
	}
	log.Warn(log.CatAdapter, "killing stale session", "session", sessionName, "process", proc)
	if err := c.driver.KillSession(sessionName); err != nil {
		return fmt.Errorf("killing stale session %s: %w", sessionName, err)
	}
	return nil
}

// awaitReady polls for the tool's readiness markers.
func (c *CLI) awaitReady(ctx context.Context, sessionName string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s not ready in session %s after %v", c.profile.Binary, sessionName, timeout)
		}

		out, err := c.driver.CaptureOutput(sessionName, 20)
		if err == nil && c.matchesReadyMarker(out) {
			return nil
		}
		time.Sleep(DefaultPollInterval)
	}
}

func (c *CLI) matchesReadyMarker(output string) bool {
	cleaned := strings.ToLower(StripANSI(output))
	for _, marker := range c.profile.ReadyMarkers {
		if strings.Contains(cleaned, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// SendPrompt delivers a prompt and awaits the response.
//
// The delivery runs as a state machine: prep snapshots the scrollback
// line count, typing emits the prompt, awaiting polls for new content,
// and stabilizing declares completion once output stops growing for the
// idle threshold. Timeout is absolute from entry.
func (c *CLI) SendPrompt(ctx context.Context, sessionName, prompt string, cfg Config) Result {
	start := time.Now()
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	idleThreshold := cfg.IdleThreshold
	if idleThreshold <= 0 {
		idleThreshold = DefaultIdleThreshold
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := start.Add(timeout)

	fail := func(err error, output string) Result {
		return Result{Success: false, Output: output, Duration: time.Since(start), Err: err}
	}

	// prep: snapshot the current scrollback extent.
	state := statePrep
	before, err := c.driver.CaptureOutput(sessionName, captureWindow)
	if err != nil {
		return fail(fmt.Errorf("capturing baseline: %w", err), "")
	}
	baseline := lineCount(before)

	// typing: emit the prompt.
	state = stateTyping
	if err := c.driver.SendKeys(sessionName, prompt); err != nil {
		return fail(fmt.Errorf("sending prompt: %w", err), "")
	}

	// awaiting/stabilizing: poll until output grows, then goes quiet.
	state = stateAwaiting
	lastCapture := before
	lastGrowth := time.Now()
	for {
		select {
		case <-ctx.Done():
			return fail(ctx.Err(), "")
		case <-time.After(pollInterval):
		}

		if time.Now().After(deadline) {
			log.Warn(log.CatAdapter, "prompt timed out", "session", sessionName, "state", state, "timeout", timeout)
			return fail(fmt.Errorf("timeout after %v awaiting response", timeout), responseDelta(lastCapture, baseline))
		}

		out, err := c.driver.CaptureOutput(sessionName, captureWindow)
		if err != nil {
			// Pane disappeared mid-response.
			return fail(fmt.Errorf("capturing output: %w", err), responseDelta(lastCapture, baseline))
		}

		delta := responseDelta(out, baseline)
		if marker := hardError(delta); marker != "" {
			log.Warn(log.CatAdapter, "tool reported error", "session", sessionName, "marker", marker)
			return fail(fmt.Errorf("tool output contains %q", marker), delta)
		}

		if out != lastCapture && delta != "" {
			lastCapture = out
			lastGrowth = time.Now()
			state = stateStabilizing
			continue
		}

		if state == stateStabilizing && time.Since(lastGrowth) >= idleThreshold {
			log.Debug(log.CatAdapter, "response stabilized", "session", sessionName,
				"duration", time.Since(start).Round(time.Millisecond))
			return Result{Success: true, Output: delta, Duration: time.Since(start)}
		}
	}
}

// responseDelta returns the scrollback beyond the baseline line count,
// ANSI-stripped. When the capture window saturated, the whole capture
// is returned rather than guessing an offset.
func responseDelta(capture string, baseline int) string {
	lines := strings.Split(capture, "\n")
	if baseline > 0 && baseline < len(lines) && len(lines) < captureWindow {
		lines = lines[baseline:]
	}
	return strings.TrimSpace(StripANSI(strings.Join(lines, "\n")))
}

// hardError returns the matched error marker, or "".
func hardError(delta string) string {
	lowered := strings.ToLower(delta)
	for _, marker := range errorMarkers {
		if strings.Contains(lowered, marker) {
			return marker
		}
	}
	return ""
}

func lineCount(s string) int {
	if s == "" {
		return 0
	}
	return len(strings.Split(s, "\n"))
}

// SendCommand sends a raw line to the tool without awaiting output.
func (c *CLI) SendCommand(sessionName, raw string) error {
	return c.driver.SendKeys(sessionName, raw)
}

// IsIdle reports whether the tool's prompt marker is visible at the
// tail of the scrollback.
func (c *CLI) IsIdle(sessionName string) (bool, error) {
	out, err := c.driver.CaptureOutput(sessionName, 10)
	if err != nil {
		return false, err
	}
	lines := strings.Split(StripANSI(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		tail := strings.ToLower(strings.TrimSpace(lines[i]))
		if tail == "" {
			continue
		}
		for _, marker := range c.profile.ReadyMarkers {
			if strings.Contains(tail, strings.ToLower(marker)) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, nil
}

// GetOutput returns the last N lines of scrollback, ANSI-stripped.
func (c *CLI) GetOutput(sessionName string, lines int) (string, error) {
	out, err := c.driver.CaptureOutput(sessionName, lines)
	if err != nil {
		return "", err
	}
	return StripANSI(out), nil
}

// Terminate interrupts the tool, then exits it with the tool-specific
// exit command.
func (c *CLI) Terminate(sessionName string) error {
	if err := c.driver.SendInterrupt(sessionName); err != nil {
		return err
	}
	time.Sleep(200 * time.Millisecond)
	if c.profile.ExitCommand != "" {
		if err := c.driver.SendKeys(sessionName, c.profile.ExitCommand); err != nil {
			return err
		}
	}
	return nil
}
