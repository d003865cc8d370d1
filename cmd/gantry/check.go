// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gantry-cnc/gantry/internal/gcode"
	"github.com/gantry-cnc/gantry/internal/job"
)

// NewCheckCmd creates the check subcommand.
func NewCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "Inspect a G-code file without sending it",
		Long: `Parse a G-code file and report its line count and tool changes.
No controller connection is made.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, args[0])
		},
	}
}

func runCheck(cmd *cobra.Command, path string) error {
	source, err := os.ReadFile(path) //nolint:gosec // user-supplied program path
	if err != nil {
		return fmt.Errorf("read program: %w", err)
	}

	lines := job.SplitLines(string(source))
	cmd.Printf("%s: %d lines\n", path, len(lines))

	var currentTool *int
	redundant := 0
	for i, line := range lines {
		tc := gcode.MatchToolChange(line)
		if !tc.Matched {
			continue
		}

		switch {
		case tc.Tool == nil:
			cmd.Printf("  line %d: tool change (no tool number): %s\n", i+1, line)
		case tc.SameTool(currentTool):
			redundant++
			cmd.Printf("  line %d: tool change to T%d (redundant): %s\n", i+1, *tc.Tool, line)
		default:
			cmd.Printf("  line %d: tool change to T%d: %s\n", i+1, *tc.Tool, line)
		}

		if tc.Tool != nil {
			currentTool = tc.Tool
		}
	}

	if redundant > 0 {
		cmd.Printf("%d redundant tool change(s) would be skipped with --job.elide-tool-changes\n", redundant)
	}
	return nil
}
