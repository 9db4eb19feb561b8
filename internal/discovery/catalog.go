package discovery

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"
)

// MCPServer is one entry in the mcp-servers.toml catalog.
type MCPServer struct {
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
	// Tools restricts the server to specific tool types; empty means
	// the server applies to every tool.
	Tools []string `toml:"tools"`
}

// Catalog is the parsed MCP server catalog. The file is external
// config; the core only reads it.
type Catalog struct {
	Servers map[string]MCPServer `toml:"servers"`
}

// LoadCatalog reads and parses the catalog at path. A missing file is
// not an error; it yields an empty catalog.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the state directory
	if errors.Is(err, os.ErrNotExist) {
		return &Catalog{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading MCP catalog: %w", err)
	}

	var catalog Catalog
	if err := toml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parsing MCP catalog: %w", err)
	}
	return &catalog, nil
}

// ServersFor returns the sorted names of catalog servers applicable to
// the given tool.
func (c *Catalog) ServersFor(tool ToolType) []string {
	names := make([]string, 0, len(c.Servers))
	for name, server := range c.Servers {
		if len(server.Tools) == 0 {
			names = append(names, name)
			continue
		}
		for _, t := range server.Tools {
			if ToolType(t) == tool {
				names = append(names, name)
				break
			}
		}
	}
	sort.Strings(names)
	return names
}
