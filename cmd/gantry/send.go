// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gantry-cnc/gantry/internal/config"
	"github.com/gantry-cnc/gantry/internal/event"
	"github.com/gantry-cnc/gantry/internal/history"
	"github.com/gantry-cnc/gantry/internal/hook"
	"github.com/gantry-cnc/gantry/internal/job"
	"github.com/gantry-cnc/gantry/internal/logging"
	"github.com/gantry-cnc/gantry/internal/observability"
	"github.com/gantry-cnc/gantry/internal/plugin"
	pluginlua "github.com/gantry-cnc/gantry/internal/plugin/lua"
	"github.com/gantry-cnc/gantry/internal/plugin/permission"
	"github.com/gantry-cnc/gantry/internal/settings"
	"github.com/gantry-cnc/gantry/internal/transport"
	"github.com/gantry-cnc/gantry/internal/xdg"
	"github.com/gantry-cnc/gantry/pkg/errutil"
)

// NewSendCmd creates the send subcommand.
func NewSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <file>",
		Short: "Stream a G-code file to the controller",
		Long: `Stream a G-code file to the controller line by line, waiting for
each acknowledgment. Loaded plugins observe and may rewrite the stream.
SIGINT stops the job at the next line boundary.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, args[0])
		},
	}
	addConfigFlags(cmd)
	return cmd
}

func runSend(cmd *cobra.Command, path string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	logging.SetDefault("gantry", version, cfg.Log.Format, cfg.Log.Level)

	source, err := os.ReadFile(path) //nolint:gosec // user-supplied program path
	if err != nil {
		return fmt.Errorf("read program: %w", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	if err := xdg.EnsureDir(cfg.DataDir); err != nil {
		return err
	}

	ctx := cmd.Context()

	settingsStore, err := settings.Open(cfg.SettingsPath())
	if err != nil {
		return err
	}
	defer settingsStore.Close() //nolint:errcheck
	if err := settingsStore.Init(ctx); err != nil {
		return err
	}

	historyStore, err := history.Open(cfg.HistoryPath())
	if err != nil {
		return err
	}
	defer historyStore.Close() //nolint:errcheck
	if err := historyStore.Init(ctx); err != nil {
		return err
	}

	hooks := hook.NewRegistry(hook.WithHandlerTimeout(cfg.Plugins.HandlerTimeout))
	bus := event.NewBroadcaster()
	tr := transport.NewSerial(cfg.Serial.Port,
		transport.WithBaudRate(cfg.Serial.BaudRate),
		transport.WithAckTimeout(cfg.Serial.AckTimeout))

	engine := job.NewEngine(tr, hooks, bus,
		job.WithHistory(historyStore),
		job.WithToolChangeElision(cfg.Job.ElideToolChanges))

	luaHost := pluginlua.NewHost(hooks, bus, permission.NewEnforcer(),
		pluginlua.WithEngine(engine),
		pluginlua.WithSettings(settingsStore),
		pluginlua.WithDeliveryTimeout(cfg.Plugins.HandlerTimeout))
	mgr := plugin.NewManager(cfg.Plugins.Dir,
		plugin.WithHost(luaHost),
		plugin.WithAppVersion(version))

	if err := mgr.LoadAll(ctx); err != nil {
		return err
	}
	defer func() {
		if err := mgr.Close(context.Background()); err != nil {
			slog.Warn("failed to close plugin manager", "error", err)
		}
	}()

	if cfg.Observability.Addr != "" {
		obs := observability.NewServer(cfg.Observability.Addr, func() bool { return true })
		if _, err := obs.Start(); err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := obs.Stop(sctx); err != nil {
				slog.Warn("failed to stop observability server", "error", err)
			}
		}()
	}

	telemetryDone := engine.ForwardTelemetry()

	jc, err := engine.Start(ctx, string(source), job.Submission{
		SourceID: "cli",
		Filename: filepath.Base(path),
		FilePath: absPath,
	})
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, stopping at next line boundary", "signal", sig.String())
		if err := engine.Stop(); err != nil {
			errutil.LogError(slog.Default(), "stop request failed", err)
		}
	}()

	engine.Wait()

	if err := tr.Close(); err != nil {
		slog.Warn("failed to close transport", "error", err)
	}
	<-telemetryDone

	out := engine.LastOutcome()
	if out == nil {
		return fmt.Errorf("job %s finished without an outcome", jc.JobID)
	}

	cmd.Printf("job %s finished: %s (%d lines)\n", jc.JobID, out.Reason, out.TotalLines)
	if out.Reason == job.ReasonError {
		return fmt.Errorf("job failed: %s", out.Err)
	}
	return nil
}
