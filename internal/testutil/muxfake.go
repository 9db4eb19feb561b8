// Package testutil provides shared test doubles and database helpers.
package testutil

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mindmux/mindmux/internal/mux"
)

// FakeMux is an in-memory mux.Driver. Sessions hold panes, each pane
// has a scrollback that tests grow via AppendOutput, and every SendKeys
// call is recorded.
type FakeMux struct {
	mu         sync.Mutex
	sessions   map[string][]mux.Pane
	scrollback map[string][]string
	sent       map[string][]string
	interrupts map[string]int
	captureErr map[string]error
	nextPane   int
	nextPID    int

	// Available controls IsAvailable. Defaults to true.
	Available bool

	// OnSendKeys, when set, runs after each SendKeys with the lock
	// released. Useful for scripting a tool's response to a prompt.
	OnSendKeys func(target, text string)
}

// NewFakeMux creates an empty fake driver.
func NewFakeMux() *FakeMux {
	return &FakeMux{
		sessions:   make(map[string][]mux.Pane),
		scrollback: make(map[string][]string),
		sent:       make(map[string][]string),
		interrupts: make(map[string]int),
		captureErr: make(map[string]error),
		Available:  true,
	}
}

func (f *FakeMux) IsAvailable() bool { return f.Available }

func (f *FakeMux) ListSessions() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.sessions))
	for name := range f.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *FakeMux) ListPanes(session string) ([]mux.Pane, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	panes, ok := f.sessions[session]
	if !ok {
		return nil, mux.ErrSessionNotFound
	}
	return append([]mux.Pane(nil), panes...), nil
}

func (f *FakeMux) CreateSession(name, workDir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[name]; ok {
		return mux.ErrSessionExists
	}
	pane := mux.Pane{
		ID:          f.newPaneIDLocked(),
		WindowID:    "@0",
		SessionName: name,
		Command:     "bash",
		WorkDir:     workDir,
		PID:         f.newPIDLocked(),
	}
	f.sessions[name] = []mux.Pane{pane}
	return nil
}

func (f *FakeMux) HasSession(name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sessions[name]
	return ok, nil
}

func (f *FakeMux) SplitPane(session string, horizontal bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	panes, ok := f.sessions[session]
	if !ok {
		return "", mux.ErrSessionNotFound
	}
	pane := mux.Pane{
		ID:          f.newPaneIDLocked(),
		WindowID:    panes[0].WindowID,
		SessionName: session,
		Command:     "bash",
		WorkDir:     panes[0].WorkDir,
		PID:         f.newPIDLocked(),
	}
	f.sessions[session] = append(panes, pane)
	return pane.ID, nil
}

func (f *FakeMux) SendKeys(target, text string) error {
	f.mu.Lock()
	f.sent[target] = append(f.sent[target], text)
	hook := f.OnSendKeys
	f.mu.Unlock()
	if hook != nil {
		hook(target, text)
	}
	return nil
}

func (f *FakeMux) SendRaw(target, keys string) error {
	return f.SendKeys(target, keys)
}

func (f *FakeMux) SendInterrupt(target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupts[target]++
	return nil
}

func (f *FakeMux) CaptureOutput(target string, lines int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.captureErr[target]; err != nil {
		return "", err
	}
	buf := f.scrollback[target]
	if lines > 0 && len(buf) > lines {
		buf = buf[len(buf)-lines:]
	}
	return strings.Join(buf, "\n"), nil
}

func (f *FakeMux) GetWorkingDirectory(target string) (string, error) {
	pane, err := f.findPane(target)
	if err != nil {
		return "", err
	}
	return pane.WorkDir, nil
}

func (f *FakeMux) GetProcessName(target string) (string, error) {
	pane, err := f.findPane(target)
	if err != nil {
		return "", err
	}
	return pane.Command, nil
}

func (f *FakeMux) KillSession(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[name]; !ok {
		return mux.ErrSessionNotFound
	}
	delete(f.sessions, name)
	return nil
}

func (f *FakeMux) newPaneIDLocked() string {
	id := fmt.Sprintf("%%%d", f.nextPane)
	f.nextPane++
	return id
}

func (f *FakeMux) newPIDLocked() int {
	f.nextPID++
	return 10000 + f.nextPID
}

func (f *FakeMux) findPane(target string) (mux.Pane, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, panes := range f.sessions {
		for _, p := range panes {
			if p.ID == target || p.SessionName == target {
				return p, nil
			}
		}
	}
	return mux.Pane{}, mux.ErrSessionNotFound
}

// AppendOutput grows a target's scrollback.
func (f *FakeMux) AppendOutput(target string, lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrollback[target] = append(f.scrollback[target], lines...)
}

// SetProcess overrides the foreground command of a pane.
func (f *FakeMux) SetProcess(target, command string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, panes := range f.sessions {
		for i, p := range panes {
			if p.ID == target || p.SessionName == target {
				f.sessions[name][i].Command = command
			}
		}
	}
}

// SetCaptureErr makes CaptureOutput fail for a target, simulating a
// dead pane.
func (f *FakeMux) SetCaptureErr(target string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captureErr[target] = err
}

// Sent returns the SendKeys history for a target.
func (f *FakeMux) Sent(target string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent[target]...)
}

// Interrupts returns how many Ctrl-C signals a target received.
func (f *FakeMux) Interrupts(target string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interrupts[target]
}
