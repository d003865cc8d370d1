// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

package xdg

import (
	"path/filepath"
	"testing"
)

func TestConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if got, want := ConfigDir(), "/custom/config/gantry"; got != want {
		t.Errorf("ConfigDir() = %q, want %q", got, want)
	}

	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "/home/testuser")
	if got, want := ConfigDir(), "/home/testuser/.config/gantry"; got != want {
		t.Errorf("ConfigDir() = %q, want %q", got, want)
	}
}

func TestDataDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	if got, want := DataDir(), "/custom/data/gantry"; got != want {
		t.Errorf("DataDir() = %q, want %q", got, want)
	}

	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("HOME", "/home/testuser")
	if got, want := DataDir(), "/home/testuser/.local/share/gantry"; got != want {
		t.Errorf("DataDir() = %q, want %q", got, want)
	}
}

func TestStateDir(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/custom/state")
	if got, want := StateDir(), "/custom/state/gantry"; got != want {
		t.Errorf("StateDir() = %q, want %q", got, want)
	}
}

func TestPluginsDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	if got, want := PluginsDir(), "/custom/data/gantry/plugins"; got != want {
		t.Errorf("PluginsDir() = %q, want %q", got, want)
	}
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "c")
	if err := EnsureDir(dir); err != nil {
		t.Fatalf("EnsureDir() error = %v", err)
	}
	// Idempotent.
	if err := EnsureDir(dir); err != nil {
		t.Fatalf("EnsureDir() second call error = %v", err)
	}
}
