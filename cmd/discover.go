package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mindmux/mindmux/internal/discovery"
	"github.com/mindmux/mindmux/internal/mux"
	"github.com/mindmux/mindmux/internal/paths"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Scan the multiplexer for running AI tool sessions",
	Long: `Scan every pane of every multiplexer session and report the AI
coding tools found there, including panes mindmux does not manage.

Example:
  mindmux discover           # Table of discovered sessions
  mindmux discover --json    # Machine-readable output`,
	RunE: runDiscover,
}

var discoverJSON bool

func init() {
	rootCmd.AddCommand(discoverCmd)

	discoverCmd.Flags().BoolVar(&discoverJSON, "json", false, "Output JSON instead of a table")
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	driver := mux.NewTmux(cfg.Mux.Binary)
	if !driver.IsAvailable() {
		return fmt.Errorf("%s binary not found in PATH", cfg.Mux.Binary)
	}

	sessions, err := newScanner(driver).Scan()
	if err != nil {
		return fmt.Errorf("scanning sessions: %w", err)
	}

	if discoverJSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(sessions)
	}

	if len(sessions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No AI tool sessions found")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PANE\tSESSION\tTOOL\tSTATUS\tLABEL\tPROJECT")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.PaneID, s.SessionName, s.ToolType, s.Status, s.Label, s.ProjectPath)
	}
	return tw.Flush()
}

// newScanner builds a scanner with the on-disk catalog and labels
// loaded. Missing files are fine; the scanner just runs unannotated.
func newScanner(driver mux.Driver) *discovery.Scanner {
	scanner := discovery.NewScanner(driver)
	if catalogPath, err := paths.MCPCatalogPath(); err == nil {
		if catalog, err := discovery.LoadCatalog(catalogPath); err == nil {
			scanner.SetCatalog(catalog)
		}
	}
	if labelsPath, err := paths.LabelsPath(); err == nil {
		if labels, err := discovery.LoadLabels(labelsPath); err == nil {
			scanner.SetLabels(labels)
		}
	}
	return scanner
}
