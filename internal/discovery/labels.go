package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Labels maps pane ids or session names to user-assigned labels,
// loaded from session-labels.json. The core only reads the file.
type Labels map[string]string

// LoadLabels reads the label map at path. A missing file yields an
// empty map.
func LoadLabels(path string) (Labels, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the state directory
	if errors.Is(err, os.ErrNotExist) {
		return Labels{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session labels: %w", err)
	}

	var labels Labels
	if err := json.Unmarshal(data, &labels); err != nil {
		return nil, fmt.Errorf("parsing session labels: %w", err)
	}
	return labels, nil
}

// For returns the label for a pane, preferring the pane id over the
// session name.
func (l Labels) For(paneID, sessionName string) string {
	if label, ok := l[paneID]; ok {
		return label
	}
	return l[sessionName]
}
