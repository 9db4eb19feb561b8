// Package paths resolves the on-disk state directory layout.
// All durable state lives under ~/.mindmux, created with owner-only
// permissions because the audit ledger and auth token may end up there.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

const stateDirName = ".mindmux"

// StateDir returns the state directory, creating it with 0700 if missing.
// MINDMUX_HOME overrides the default ~/.mindmux, which tests rely on.
func StateDir() (string, error) {
	dir := os.Getenv("MINDMUX_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		dir = filepath.Join(home, stateDirName)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating state directory: %w", err)
	}
	return dir, nil
}

// DBPath returns the sqlite database path inside the state directory.
func DBPath() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "data.db"), nil
}

// LogPath returns the debug log path inside the state directory.
func LogPath() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "mindmux.log"), nil
}

// LockPath returns the single-instance lock file path.
func LockPath() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "mindmux.lock"), nil
}

// LabelsPath returns the session label overrides file used by discovery.
func LabelsPath() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "session-labels.json"), nil
}

// MCPCatalogPath returns the MCP server catalog consulted by discovery.
func MCPCatalogPath() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "mcp-servers.toml"), nil
}

// TracesPath returns the default trace export file.
func TracesPath() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "traces", "traces.jsonl"), nil
}
