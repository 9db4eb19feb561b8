// Package discovery enumerates multiplexer panes and classifies their
// foreground processes as known AI tools, producing a snapshot the
// monitoring surface can serve.
package discovery

import (
	"strings"
	"time"

	"github.com/mindmux/mindmux/internal/log"
	"github.com/mindmux/mindmux/internal/mux"
)

// statusCaptureLines is how much scrollback the status heuristic reads.
const statusCaptureLines = 20

// ToolType classifies a pane's foreground process.
type ToolType string

const (
	ToolClaude   ToolType = "claude"
	ToolGemini   ToolType = "gemini"
	ToolOpenCode ToolType = "opencode"
	ToolCursor   ToolType = "cursor"
	ToolAider    ToolType = "aider"
	ToolCodex    ToolType = "codex"
)

// knownTools maps process-name substrings to tool types. Longer names
// are checked first so "opencode" never matches as "code".
var knownTools = []struct {
	substr string
	tool   ToolType
}{
	{"opencode", ToolOpenCode},
	{"claude", ToolClaude},
	{"gemini", ToolGemini},
	{"cursor", ToolCursor},
	{"aider", ToolAider},
	{"codex", ToolCodex},
}

// Classify maps a process name to a tool type. The second return is
// false for processes that are not a known AI tool.
func Classify(processName string) (ToolType, bool) {
	name := strings.ToLower(processName)
	for _, entry := range knownTools {
		if strings.Contains(name, entry.substr) {
			return entry.tool, true
		}
	}
	return "", false
}

// SessionStatus is the heuristic activity state of a discovered pane.
type SessionStatus string

const (
	StatusError      SessionStatus = "error"
	StatusProcessing SessionStatus = "processing"
	StatusWaiting    SessionStatus = "waiting"
	StatusIdle       SessionStatus = "idle"
	StatusUnknown    SessionStatus = "unknown"
)

// AISession is one discovered AI-tool pane.
type AISession struct {
	ID          string        `json:"id"`
	SessionName string        `json:"sessionName"`
	PaneID      string        `json:"paneId"`
	WindowID    string        `json:"windowId"`
	ToolType    ToolType      `json:"toolType"`
	ProcessName string        `json:"processName"`
	ProjectPath string        `json:"projectPath"`
	Status      SessionStatus `json:"status"`
	Label       string        `json:"label,omitempty"`
	LastUpdated time.Time     `json:"lastUpdated"`
	ActiveMCPs  []string      `json:"activeMCPs"`
}

// Scanner walks every pane of every multiplexer session.
type Scanner struct {
	driver  mux.Driver
	catalog *Catalog
	labels  Labels
}

// NewScanner creates a scanner over the given driver. Catalog and
// labels may be nil/empty when the external config files are absent.
func NewScanner(driver mux.Driver) *Scanner {
	return &Scanner{driver: driver, catalog: &Catalog{}, labels: Labels{}}
}

// SetCatalog swaps the MCP server catalog used for annotation.
func (s *Scanner) SetCatalog(catalog *Catalog) {
	if catalog == nil {
		catalog = &Catalog{}
	}
	s.catalog = catalog
}

// SetLabels swaps the user label map used for annotation.
func (s *Scanner) SetLabels(labels Labels) {
	if labels == nil {
		labels = Labels{}
	}
	s.labels = labels
}

// Scan produces a snapshot of every AI-tool pane currently visible.
// Panes whose process is not a known tool are skipped; capture errors
// degrade that pane's status to unknown rather than failing the scan.
func (s *Scanner) Scan() ([]AISession, error) {
	sessions, err := s.driver.ListSessions()
	if err != nil {
		return nil, err
	}

	var found []AISession
	for _, sessionName := range sessions {
		panes, err := s.driver.ListPanes(sessionName)
		if err != nil {
			log.Warn(log.CatScan, "listing panes failed",
				"session", sessionName, "error", err)
			continue
		}
		for _, pane := range panes {
			tool, ok := Classify(pane.Command)
			if !ok {
				continue
			}
			found = append(found, AISession{
				ID:          pane.ID,
				SessionName: sessionName,
				PaneID:      pane.ID,
				WindowID:    pane.WindowID,
				ToolType:    tool,
				ProcessName: pane.Command,
				ProjectPath: pane.WorkDir,
				Status:      s.detectStatus(pane.ID),
				Label:       s.labels.For(pane.ID, sessionName),
				LastUpdated: time.Now(),
				ActiveMCPs:  s.catalog.ServersFor(tool),
			})
		}
	}
	return found, nil
}

func (s *Scanner) detectStatus(paneID string) SessionStatus {
	output, err := s.driver.CaptureOutput(paneID, statusCaptureLines)
	if err != nil {
		return StatusUnknown
	}
	return DetectStatus(output)
}

// DetectStatus applies the activity heuristic to captured output.
// Checks run in precedence order: error beats processing beats waiting.
func DetectStatus(output string) SessionStatus {
	text := strings.ToLower(output)
	if text == "" {
		return StatusUnknown
	}

	for _, marker := range []string{"error", "traceback", "exception", "failed"} {
		if strings.Contains(text, marker) {
			return StatusError
		}
	}
	for _, marker := range []string{"thinking", "processing", "working", "generating", "esc to interrupt"} {
		if strings.Contains(text, marker) {
			return StatusProcessing
		}
	}
	for _, marker := range []string{"y/n", "(yes/no)", "continue?", "proceed?"} {
		if strings.Contains(text, marker) {
			return StatusWaiting
		}
	}

	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	for _, prompt := range []string{">", ">>>", "$"} {
		if strings.HasSuffix(last, prompt) {
			return StatusIdle
		}
	}
	return StatusUnknown
}
