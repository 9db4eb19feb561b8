package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mindmux/mindmux/internal/discovery"
	"github.com/mindmux/mindmux/internal/fork"
	"github.com/mindmux/mindmux/internal/mux"
)

var forkCmd = &cobra.Command{
	Use:   "fork <pane-id|label>",
	Short: "Fork a discovered AI session into a fresh one",
	Long: `Fork a running AI tool session: capture its conversation so far,
start the same tool in a new multiplexer session, and seed it with a
prologue summarizing the captured turns.

The target is a pane ID from 'mindmux discover' (e.g. %3) or a user
label assigned to the pane.

Example:
  mindmux fork %3
  mindmux fork api-refactor`,
	Args: cobra.ExactArgs(1),
	RunE: runFork,
}

var forkTimeout time.Duration

func init() {
	rootCmd.AddCommand(forkCmd)

	forkCmd.Flags().DurationVar(&forkTimeout, "timeout", 60*time.Second,
		"How long to wait for the forked tool to become ready")
}

func runFork(cmd *cobra.Command, args []string) error {
	target := args[0]

	driver := mux.NewTmux(cfg.Mux.Binary)
	if !driver.IsAvailable() {
		return fmt.Errorf("%s binary not found in PATH", cfg.Mux.Binary)
	}

	sessions, err := newScanner(driver).Scan()
	if err != nil {
		return fmt.Errorf("scanning sessions: %w", err)
	}

	session, err := findForkTarget(sessions, target)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), forkTimeout)
	defer cancel()

	fmt.Fprintf(cmd.OutOrStdout(), "Forking %s session in pane %s...\n", session.ToolType, session.PaneID)
	name, err := fork.NewForker(driver).Fork(ctx, session)
	if err != nil {
		return fmt.Errorf("forking session: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Forked into session %q\n", name)
	return nil
}

// findForkTarget resolves a pane ID or label to exactly one discovered
// session.
func findForkTarget(sessions []discovery.AISession, target string) (discovery.AISession, error) {
	var matches []discovery.AISession
	for _, s := range sessions {
		if s.PaneID == target || (s.Label != "" && s.Label == target) {
			matches = append(matches, s)
		}
	}
	switch len(matches) {
	case 0:
		return discovery.AISession{}, fmt.Errorf("no AI session found for %q; run 'mindmux discover' to list targets", target)
	case 1:
		return matches[0], nil
	default:
		return discovery.AISession{}, fmt.Errorf("label %q matches %d panes; use the pane ID instead", target, len(matches))
	}
}
