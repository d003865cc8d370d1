// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gantry-cnc/gantry/internal/config"
	"github.com/gantry-cnc/gantry/internal/plugin"
)

// NewPluginsCmd creates the plugins subcommand group.
func NewPluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect and validate plugins",
	}

	cmd.AddCommand(newPluginsListCmd())
	cmd.AddCommand(newPluginsValidateCmd())
	return cmd
}

func newPluginsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plugins found in the plugins directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}

			mgr := plugin.NewManager(cfg.Plugins.Dir)
			found, err := mgr.Discover(cmd.Context())
			if err != nil {
				return err
			}

			if len(found) == 0 {
				cmd.Printf("no plugins in %s\n", cfg.Plugins.Dir)
				return nil
			}

			for _, dp := range found {
				m := dp.Manifest
				cmd.Printf("%s %s\n", m.Name, m.Version)
				if m.Description != "" {
					cmd.Printf("    %s\n", m.Description)
				}
				if len(m.Events) > 0 {
					cmd.Printf("    events: %s\n", strings.Join(m.Events, ", "))
				}
				if len(m.Permissions) > 0 {
					cmd.Printf("    permissions: %s\n", strings.Join(m.Permissions, ", "))
				}
			}
			return nil
		},
	}
	cmd.Flags().String("plugins.dir", config.Default().Plugins.Dir, "plugins directory")
	return cmd
}

func newPluginsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <dir>",
		Short: "Validate a plugin directory",
		Long:  `Validate a plugin's manifest against the schema and check its entry script exists.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]

			data, err := os.ReadFile(filepath.Join(dir, "plugin.yaml")) //nolint:gosec // user-supplied plugin dir
			if err != nil {
				return fmt.Errorf("read manifest: %w", err)
			}

			if err := plugin.ValidateSchema(data); err != nil {
				return fmt.Errorf("manifest schema: %s", plugin.FormatSchemaError(err))
			}

			m, err := plugin.ParseManifest(data)
			if err != nil {
				return fmt.Errorf("manifest: %w", err)
			}

			if _, err := os.Stat(filepath.Join(dir, m.Entry)); err != nil {
				return fmt.Errorf("entry script %s: %w", m.Entry, err)
			}

			cmd.Printf("%s %s: ok\n", m.Name, m.Version)
			return nil
		},
	}
}
