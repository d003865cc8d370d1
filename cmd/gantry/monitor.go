// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gantry-cnc/gantry/internal/config"
	"github.com/gantry-cnc/gantry/internal/event"
	"github.com/gantry-cnc/gantry/internal/logging"
	"github.com/gantry-cnc/gantry/internal/transport"
)

// NewMonitorCmd creates the monitor subcommand.
func NewMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Print controller telemetry until interrupted",
		Long: `Connect to the controller and print every telemetry event as it
arrives: status reports, system messages, and command responses.`,
		RunE: runMonitor,
	}
	addConfigFlags(cmd)
	return cmd
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	logging.SetDefault("gantry", version, cfg.Log.Format, cfg.Log.Level)

	tr := transport.NewSerial(cfg.Serial.Port,
		transport.WithBaudRate(cfg.Serial.BaudRate),
		transport.WithAckTimeout(cfg.Serial.AckTimeout))

	if err := tr.Connect(cmd.Context()); err != nil {
		return err
	}

	bus := event.NewBroadcaster()
	sub, err := bus.Subscribe("cnc-*")
	if err != nil {
		return err
	}
	defer sub.Close()

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		for msg := range tr.Telemetry() {
			bus.Publish(event.New(msg.Kind.EventName(), "controller", msg.Line))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		if err := tr.Close(); err != nil {
			slog.Warn("failed to close transport", "error", err)
		}
	}()

	cmd.Printf("monitoring %s (interrupt to stop)\n", cfg.Serial.Port)
	for {
		select {
		case msg, ok := <-sub.C:
			if !ok {
				return nil
			}
			cmd.Printf("%s  %-18s %s\n", msg.Time.Format(time.TimeOnly), msg.Name, msg.Payload)
		case <-pumpDone:
			return nil
		}
	}
}
