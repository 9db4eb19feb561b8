// Package fork clones a running AI conversation into a new pane. It
// scrapes the source pane's scrollback, compresses the conversation
// into a context prologue, restarts the tool in a split pane, and
// replays the prologue as the first prompt.
package fork

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mindmux/mindmux/internal/adapter"
	"github.com/mindmux/mindmux/internal/discovery"
	"github.com/mindmux/mindmux/internal/log"
	"github.com/mindmux/mindmux/internal/mux"
)

const (
	// scrollbackLines bounds how much history is scraped from the source.
	scrollbackLines = 10000

	// prologueBudget is the character cap on the context prologue.
	prologueBudget = 4000

	// recentTurns is how many trailing turns survive an over-budget
	// conversation.
	recentTurns = 10

	pollInterval = 500 * time.Millisecond
)

// Role labels one side of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one parsed conversation turn.
type Turn struct {
	Role Role
	Text string
}

// toolProfile carries the per-tool restart constants. Tools without a
// CLI adapter (cursor, aider, codex) are still forkable; their entries
// use conservative generic markers.
type toolProfile struct {
	startCommand   string
	readyMarkers   []string
	startupTimeout time.Duration
}

var toolProfiles = map[discovery.ToolType]toolProfile{
	discovery.ToolClaude:   {"claude", []string{"claude", ">>>"}, 5 * time.Second},
	discovery.ToolGemini:   {"gemini", []string{"gemini", ">"}, 3 * time.Second},
	discovery.ToolOpenCode: {"opencode", []string{"opencode", "ready"}, 4 * time.Second},
	discovery.ToolCursor:   {"cursor", []string{"cursor"}, 5 * time.Second},
	discovery.ToolAider:    {"aider", []string{"aider", ">"}, 5 * time.Second},
	discovery.ToolCodex:    {"codex", []string{"codex"}, 5 * time.Second},
}

// Forker performs the session fork protocol over a multiplexer driver.
type Forker struct {
	driver mux.Driver
	poll   time.Duration
}

// NewForker creates a forker with the default readiness poll interval.
func NewForker(driver mux.Driver) *Forker {
	return &Forker{driver: driver, poll: pollInterval}
}

// Fork clones the conversation in the given session into a new pane and
// returns the new pane id. On any failure after the pane exists, the
// new pane receives Ctrl-C and the error propagates.
func (f *Forker) Fork(ctx context.Context, session discovery.AISession) (string, error) {
	profile, ok := toolProfiles[session.ToolType]
	if !ok {
		return "", fmt.Errorf("cannot fork unknown tool type %q", session.ToolType)
	}

	scrollback, err := f.driver.CaptureOutput(session.PaneID, scrollbackLines)
	if err != nil {
		return "", fmt.Errorf("capturing source scrollback: %w", err)
	}
	turns := ParseTurns(adapter.StripANSI(scrollback))
	prologue := FormatPrologue(turns)

	newPane, err := f.driver.SplitPane(session.SessionName, true)
	if err != nil {
		return "", fmt.Errorf("splitting pane: %w", err)
	}
	log.Info(log.CatFork, "forking session",
		"source", session.PaneID, "target", newPane, "tool", string(session.ToolType), "turns", len(turns))

	if err := f.restartTool(ctx, newPane, session.ProjectPath, profile); err != nil {
		f.abort(newPane)
		return "", err
	}
	if err := f.driver.SendKeys(newPane, prologue); err != nil {
		f.abort(newPane)
		return "", fmt.Errorf("replaying context: %w", err)
	}
	return newPane, nil
}

func (f *Forker) restartTool(ctx context.Context, pane, workDir string, profile toolProfile) error {
	if workDir != "" {
		if err := f.driver.SendKeys(pane, "cd "+workDir); err != nil {
			return fmt.Errorf("entering working directory: %w", err)
		}
	}
	if err := f.driver.SendKeys(pane, profile.startCommand); err != nil {
		return fmt.Errorf("starting tool: %w", err)
	}

	deadline := time.Now().Add(profile.startupTimeout)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("tool not ready in pane %s after %v", pane, profile.startupTimeout)
		}

		out, err := f.driver.CaptureOutput(pane, 20)
		if err == nil && matchesMarker(out, profile.readyMarkers) {
			return nil
		}
		time.Sleep(f.poll)
	}
}

func (f *Forker) abort(pane string) {
	if err := f.driver.SendInterrupt(pane); err != nil {
		log.Warn(log.CatFork, "interrupting failed fork pane", "pane", pane, "error", err)
	}
}

func matchesMarker(output string, markers []string) bool {
	cleaned := strings.ToLower(adapter.StripANSI(output))
	for _, marker := range markers {
		if strings.Contains(cleaned, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// ParseTurns splits scrollback into alternating conversation turns by
// line-leading markers. Continuation lines accrue to the current turn;
// text before the first marker is dropped.
func ParseTurns(scrollback string) []Turn {
	var turns []Turn
	for _, line := range strings.Split(scrollback, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, ">"):
			turns = append(turns, Turn{Role: RoleUser, Text: strings.TrimSpace(trimmed[1:])})
		case strings.HasPrefix(trimmed, "User:"):
			turns = append(turns, Turn{Role: RoleUser, Text: strings.TrimSpace(trimmed[len("User:"):])})
		case strings.HasPrefix(trimmed, "AI:"):
			turns = append(turns, Turn{Role: RoleAssistant, Text: strings.TrimSpace(trimmed[len("AI:"):])})
		case strings.HasPrefix(trimmed, "Assistant:"):
			turns = append(turns, Turn{Role: RoleAssistant, Text: strings.TrimSpace(trimmed[len("Assistant:"):])})
		default:
			if len(turns) == 0 || trimmed == "" {
				continue
			}
			last := &turns[len(turns)-1]
			if last.Text == "" {
				last.Text = trimmed
			} else {
				last.Text += "\n" + trimmed
			}
		}
	}
	return turns
}

// FormatPrologue renders turns into the context prompt replayed in the
// forked pane. A conversation over the character budget keeps only the
// most recent turns under a "Recent conversation:" header.
func FormatPrologue(turns []Turn) string {
	full := renderTurns("Previous conversation:", turns)
	if len(full) > prologueBudget {
		recent := turns
		if len(recent) > recentTurns {
			recent = recent[len(recent)-recentTurns:]
		}
		full = renderTurns("Recent conversation:", recent)
		if len(full) > prologueBudget {
			full = full[:prologueBudget]
		}
	}
	return full + "\nPlease continue from this context."
}

func renderTurns(header string, turns []Turn) string {
	var b strings.Builder
	b.WriteString(header)
	for _, turn := range turns {
		b.WriteString("\n")
		if turn.Role == RoleUser {
			b.WriteString("User: ")
		} else {
			b.WriteString("Assistant: ")
		}
		b.WriteString(turn.Text)
	}
	return b.String()
}
