// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/gantry-cnc/gantry/internal/config"
	"github.com/gantry-cnc/gantry/internal/history"
)

// NewHistoryCmd creates the history subcommand.
func NewHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently finished jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}

			store, err := history.Open(cfg.HistoryPath())
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck
			if err := store.Init(cmd.Context()); err != nil {
				return err
			}

			records, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if len(records) == 0 {
				cmd.Println("no jobs recorded")
				return nil
			}

			for _, rec := range records {
				cmd.Printf("%s  %-9s  %-30s  %d lines",
					rec.FinishedAt.Local().Format(time.DateTime),
					rec.Reason,
					rec.Filename,
					rec.TotalLines)
				if rec.Error != "" {
					cmd.Printf("  (%s)", rec.Error)
				}
				cmd.Println()
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of jobs to show")
	cmd.Flags().String("data-dir", config.Default().DataDir, "data directory")
	return cmd
}
