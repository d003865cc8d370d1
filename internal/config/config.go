// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

// Package config loads gantry configuration from defaults, an optional
// YAML file, and command-line flags, in that order of precedence.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/gantry-cnc/gantry/internal/xdg"
)

// Serial configures the controller connection.
type Serial struct {
	Port       string        `koanf:"port"`
	BaudRate   int           `koanf:"baud-rate"`
	AckTimeout time.Duration `koanf:"ack-timeout"`
}

// Plugins configures the plugin host.
type Plugins struct {
	Dir            string        `koanf:"dir"`
	HandlerTimeout time.Duration `koanf:"handler-timeout"`
}

// Job configures streaming behavior.
type Job struct {
	ElideToolChanges bool `koanf:"elide-tool-changes"`
}

// Log configures structured logging.
type Log struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // text or json
}

// Observability configures the metrics/health HTTP server. An empty
// Addr disables it.
type Observability struct {
	Addr string `koanf:"addr"`
}

// Config is the full gantry configuration.
type Config struct {
	Serial        Serial        `koanf:"serial"`
	Plugins       Plugins       `koanf:"plugins"`
	Job           Job           `koanf:"job"`
	Log           Log           `koanf:"log"`
	Observability Observability `koanf:"observability"`
	DataDir       string        `koanf:"data-dir"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Serial: Serial{
			Port:       "/dev/ttyUSB0",
			BaudRate:   115200,
			AckTimeout: 10 * time.Second,
		},
		Plugins: Plugins{
			Dir:            xdg.PluginsDir(),
			HandlerTimeout: 5 * time.Second,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		DataDir: xdg.DataDir(),
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigDir(), "config.yaml")
}

// Load builds the configuration. A non-empty path must exist; when
// path is empty the default location is used if present. Flags set on
// fs override file values.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	errb := oops.In("config")

	if path == "" {
		if _, err := os.Stat(DefaultPath()); err == nil {
			path = DefaultPath()
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, errb.With("path", path).Hint("failed to read config file").Wrap(err)
		}
	}

	if fs != nil {
		if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
			return Config{}, errb.Hint("failed to read flags").Wrap(err)
		}
	}

	// Unmarshal over the defaults so unset keys keep their built-in
	// values.
	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, errb.Hint("invalid configuration").Wrap(err)
	}

	return cfg, nil
}

// HistoryPath returns the job history database location under the data
// directory.
func (c Config) HistoryPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// SettingsPath returns the plugin settings database location under the
// data directory.
func (c Config) SettingsPath() string {
	return filepath.Join(c.DataDir, "settings.db")
}
