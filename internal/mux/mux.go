// Package mux wraps the terminal multiplexer binary via subprocess.
// It is the only channel through which the orchestrator observes or
// drives the interactive CLI tools.
package mux

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mindmux/mindmux/internal/log"
)

// Common errors.
var (
	ErrNoServer        = errors.New("no multiplexer server running")
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session not found")
)

// denylist rejects shell metacharacters in caller-supplied targets
// before they reach subprocess argv.
const denylist = ";&|`$()<>'\"\\"

// sendDebounce is the pause between pasting text and pressing Enter,
// so the paste is processed before submission.
const sendDebounce = 100 * time.Millisecond

// Error wraps a failed multiplexer invocation with the argv that was
// run and the tail of stderr.
type Error struct {
	Argv   []string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("mux %s: %s", strings.Join(e.Argv, " "), e.Stderr)
	}
	return fmt.Sprintf("mux %s: %v", strings.Join(e.Argv, " "), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Pane describes one pane observed in the multiplexer.
type Pane struct {
	ID          string
	WindowID    string
	SessionName string
	Command     string
	WorkDir     string
	PID         int
}

// Driver is the multiplexer operation surface consumed by the adapter,
// discovery, and fork layers. Tmux is the production implementation.
type Driver interface {
	IsAvailable() bool
	ListSessions() ([]string, error)
	ListPanes(session string) ([]Pane, error)
	CreateSession(name, workDir string) error
	HasSession(name string) (bool, error)
	SplitPane(session string, horizontal bool) (string, error)
	SendKeys(target, text string) error
	SendRaw(target, keys string) error
	SendInterrupt(target string) error
	CaptureOutput(target string, lines int) (string, error)
	GetWorkingDirectory(target string) (string, error)
	GetProcessName(target string) (string, error)
	KillSession(name string) error
}

// Tmux drives a local tmux server.
type Tmux struct {
	binary string

	// Each pane is owned by at most one dispatch worker at a time;
	// per-target locks serialise concurrent driver calls regardless.
	locks sync.Map // target -> *sync.Mutex
}

// NewTmux creates a driver for the given tmux binary.
func NewTmux(binary string) *Tmux {
	if binary == "" {
		binary = "tmux"
	}
	return &Tmux{binary: binary}
}

// ValidateTarget rejects names and targets containing shell metacharacters.
func ValidateTarget(target string) error {
	if target == "" {
		return fmt.Errorf("empty multiplexer target")
	}
	if strings.ContainsAny(target, denylist) {
		return fmt.Errorf("target %q contains forbidden characters", target)
	}
	return nil
}

func (t *Tmux) lockTarget(target string) func() {
	v, _ := t.locks.LoadOrStore(target, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// run executes a tmux command and returns trimmed stdout.
func (t *Tmux) run(args ...string) (string, error) {
	cmd := exec.Command(t.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		werr := t.wrapError(err, stderr.String(), args)
		log.Debug(log.CatMux, "command failed", "args", strings.Join(args, " "), "error", werr)
		return "", werr
	}

	return strings.TrimSpace(stdout.String()), nil
}

// wrapError sniffs stderr into sentinel errors, otherwise returns an
// *Error carrying argv and the stderr tail.
func (t *Tmux) wrapError(err error, stderr string, args []string) error {
	stderr = strings.TrimSpace(stderr)

	if strings.Contains(stderr, "no server running") ||
		strings.Contains(stderr, "error connecting to") {
		return ErrNoServer
	}
	if strings.Contains(stderr, "duplicate session") {
		return ErrSessionExists
	}
	if strings.Contains(stderr, "session not found") ||
		strings.Contains(stderr, "can't find session") {
		return ErrSessionNotFound
	}

	// Keep only the last few lines of stderr.
	if lines := strings.Split(stderr, "\n"); len(lines) > 5 {
		stderr = strings.Join(lines[len(lines)-5:], "\n")
	}
	return &Error{Argv: append([]string{t.binary}, args...), Stderr: stderr, Err: err}
}

// IsAvailable checks if the multiplexer is installed and can be invoked.
func (t *Tmux) IsAvailable() bool {
	return exec.Command(t.binary, "-V").Run() == nil
}

// ListSessions returns all session names.
func (t *Tmux) ListSessions() ([]string, error) {
	out, err := t.run("list-sessions", "-F", "#{session_name}")
	if err != nil {
		if errors.Is(err, ErrNoServer) {
			return nil, nil // No server = no sessions
		}
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// ListPanes returns every pane in a session with its window, command,
// and working directory.
func (t *Tmux) ListPanes(session string) ([]Pane, error) {
	if err := ValidateTarget(session); err != nil {
		return nil, err
	}
	out, err := t.run("list-panes", "-s", "-t", session, "-F",
		"#{pane_id}|#{window_id}|#{session_name}|#{pane_pid}|#{pane_current_command}|#{pane_current_path}")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}

	var panes []Pane
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, "|", 6)
		if len(parts) != 6 {
			continue
		}
		pid, _ := strconv.Atoi(parts[3])
		panes = append(panes, Pane{
			ID:          parts[0],
			WindowID:    parts[1],
			SessionName: parts[2],
			PID:         pid,
			Command:     parts[4],
			WorkDir:     parts[5],
		})
	}
	return panes, nil
}

// CreateSession creates a new detached session.
func (t *Tmux) CreateSession(name, workDir string) error {
	if err := ValidateTarget(name); err != nil {
		return err
	}
	args := []string{"new-session", "-d", "-s", name}
	if workDir != "" {
		args = append(args, "-c", workDir)
	}
	_, err := t.run(args...)
	return err
}

// HasSession checks if a session exists (exact match).
// Uses "=" prefix so "mm-worker" does not match "mm-worker-2".
func (t *Tmux) HasSession(name string) (bool, error) {
	if err := ValidateTarget(name); err != nil {
		return false, err
	}
	_, err := t.run("has-session", "-t", "="+name)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrNoServer) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SplitPane splits the session's active pane and returns the new pane id.
func (t *Tmux) SplitPane(session string, horizontal bool) (string, error) {
	if err := ValidateTarget(session); err != nil {
		return "", err
	}
	direction := "-v"
	if horizontal {
		direction = "-h"
	}
	out, err := t.run("split-window", direction, "-t", session, "-P", "-F", "#{pane_id}")
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", fmt.Errorf("split-window returned no pane id for session %s", session)
	}
	return out, nil
}

// SendKeys pastes text into a pane and presses Enter.
// Text goes in literal mode (-l) to survive special characters; Enter is
// sent as a separate command after a debounce so the paste completes first.
func (t *Tmux) SendKeys(target, text string) error {
	if err := ValidateTarget(target); err != nil {
		return err
	}
	unlock := t.lockTarget(target)
	defer unlock()

	if _, err := t.run("send-keys", "-t", target, "-l", text); err != nil {
		return err
	}
	time.Sleep(sendDebounce)
	_, err := t.run("send-keys", "-t", target, "Enter")
	return err
}

// SendRaw sends a key name (e.g. "Enter", "C-c") without literal mode.
func (t *Tmux) SendRaw(target, keys string) error {
	if err := ValidateTarget(target); err != nil {
		return err
	}
	unlock := t.lockTarget(target)
	defer unlock()

	_, err := t.run("send-keys", "-t", target, keys)
	return err
}

// SendInterrupt sends Ctrl-C to a pane.
func (t *Tmux) SendInterrupt(target string) error {
	return t.SendRaw(target, "C-c")
}

// CaptureOutput returns the most recent N lines of scrollback as one string.
func (t *Tmux) CaptureOutput(target string, lines int) (string, error) {
	if err := ValidateTarget(target); err != nil {
		return "", err
	}
	return t.run("capture-pane", "-p", "-t", target, "-S", fmt.Sprintf("-%d", lines))
}

// GetWorkingDirectory returns the current working directory of a pane.
func (t *Tmux) GetWorkingDirectory(target string) (string, error) {
	if err := ValidateTarget(target); err != nil {
		return "", err
	}
	return t.run("display-message", "-p", "-t", target, "#{pane_current_path}")
}

// GetProcessName returns the foreground command running in a pane.
func (t *Tmux) GetProcessName(target string) (string, error) {
	if err := ValidateTarget(target); err != nil {
		return "", err
	}
	return t.run("display-message", "-p", "-t", target, "#{pane_current_command}")
}

// KillSession terminates a session.
func (t *Tmux) KillSession(name string) error {
	if err := ValidateTarget(name); err != nil {
		return err
	}
	_, err := t.run("kill-session", "-t", name)
	return err
}
