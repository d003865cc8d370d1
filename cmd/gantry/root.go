// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/gantry-cnc/gantry/internal/config"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the gantry CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gantry",
		Short: "Gantry - a G-code streaming engine for CNC controllers",
		Long: `Gantry streams G-code programs to a grbl-compatible CNC controller
over a serial connection, with Lua plugins that can observe and rewrite
the stream through lifecycle hooks.`,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewSendCmd())
	cmd.AddCommand(NewCheckCmd())
	cmd.AddCommand(NewPluginsCmd())
	cmd.AddCommand(NewMonitorCmd())
	cmd.AddCommand(NewHistoryCmd())

	return cmd
}

// addConfigFlags declares the flags that mirror config file keys. The
// flag defaults match Default() so unchanged flags never override file
// values with zero values.
func addConfigFlags(cmd *cobra.Command) {
	def := config.Default()
	f := cmd.Flags()

	f.String("serial.port", def.Serial.Port, "serial device path")
	f.Int("serial.baud-rate", def.Serial.BaudRate, "serial baud rate")
	f.Duration("serial.ack-timeout", def.Serial.AckTimeout, "per-line acknowledgment timeout")
	f.String("plugins.dir", def.Plugins.Dir, "plugins directory")
	f.Duration("plugins.handler-timeout", def.Plugins.HandlerTimeout, "per-handler hook timeout")
	f.Bool("job.elide-tool-changes", def.Job.ElideToolChanges, "skip redundant same-tool M6 lines")
	f.String("log.level", def.Log.Level, "log level (debug, info, warn, error)")
	f.String("log.format", def.Log.Format, "log format (text or json)")
	f.String("observability.addr", def.Observability.Addr, "metrics/health listen address (empty = disabled)")
	f.String("data-dir", def.DataDir, "data directory")
}
