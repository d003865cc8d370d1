// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Manager discovers plugins on disk and drives their lifecycle through
// a Host.
type Manager struct {
	pluginsDir string
	host       Host
	appVersion string
	loaded     map[string]*DiscoveredPlugin
	mu         sync.RWMutex
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithHost sets the plugin runtime host.
func WithHost(h Host) ManagerOption {
	return func(m *Manager) {
		m.host = h
	}
}

// WithAppVersion sets the application version used to gate plugins
// that declare min-app-version.
func WithAppVersion(v string) ManagerOption {
	return func(m *Manager) {
		m.appVersion = v
	}
}

// NewManager creates a plugin manager.
func NewManager(pluginsDir string, opts ...ManagerOption) *Manager {
	m := &Manager{
		pluginsDir: pluginsDir,
		appVersion: "dev",
		loaded:     make(map[string]*DiscoveredPlugin),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DiscoveredPlugin contains a manifest and its directory.
type DiscoveredPlugin struct {
	Manifest *Manifest
	Dir      string
}

// Discover finds all valid plugins in the plugins directory.
// Invalid plugins are logged and skipped.
func (m *Manager) Discover(_ context.Context) ([]*DiscoveredPlugin, error) {
	entries, err := os.ReadDir(m.pluginsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No plugins directory
		}
		return nil, fmt.Errorf("failed to read plugins directory: %w", err)
	}

	var plugins []*DiscoveredPlugin
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		pluginDir := filepath.Join(m.pluginsDir, entry.Name())
		manifestPath := filepath.Join(pluginDir, "plugin.yaml")

		data, err := os.ReadFile(manifestPath) //nolint:gosec // manifestPath is constructed from ReadDir entries
		if err != nil {
			slog.Warn("skipping plugin without manifest",
				"dir", entry.Name(),
				"error", err)
			continue
		}

		if err := ValidateSchema(data); err != nil {
			slog.Warn("skipping plugin with invalid manifest",
				"dir", entry.Name(),
				"error", FormatSchemaError(err))
			continue
		}

		manifest, err := ParseManifest(data)
		if err != nil {
			slog.Warn("skipping plugin with invalid manifest",
				"dir", entry.Name(),
				"error", err)
			continue
		}

		plugins = append(plugins, &DiscoveredPlugin{
			Manifest: manifest,
			Dir:      pluginDir,
		})
	}

	return plugins, nil
}

// LoadAll discovers and loads all plugins in the plugins directory.
//
// Individual plugin failures are logged as warnings but don't fail the
// entire load, so the engine can start even if some plugins have
// issues. Callers who need strict loading should use Discover and
// LoadPlugin individually with error checking.
func (m *Manager) LoadAll(ctx context.Context) error {
	discovered, err := m.Discover(ctx)
	if err != nil {
		return err
	}

	for _, dp := range discovered {
		if err := m.LoadPlugin(ctx, dp); err != nil {
			slog.Error("failed to load plugin",
				"plugin", dp.Manifest.Name,
				"error", err)
			continue
		}
	}

	return nil
}

// LoadPlugin loads a single discovered plugin.
//
// Returns nil when no host is configured so a bare engine can still
// run with plugins present on disk.
func (m *Manager) LoadPlugin(ctx context.Context, dp *DiscoveredPlugin) error {
	if err := dp.Manifest.CheckAppVersion(m.appVersion); err != nil {
		return err
	}

	if m.host == nil {
		slog.Warn("no plugin host configured, skipping plugin",
			"plugin", dp.Manifest.Name)
		return nil
	}

	if err := m.host.Load(ctx, dp.Manifest, dp.Dir); err != nil {
		return fmt.Errorf("load plugin %s: %w", dp.Manifest.Name, err)
	}

	m.mu.Lock()
	m.loaded[dp.Manifest.Name] = dp
	m.mu.Unlock()

	slog.Info("loaded plugin",
		"plugin", dp.Manifest.Name,
		"version", dp.Manifest.Version)

	return nil
}

// Unload tears down a loaded plugin.
func (m *Manager) Unload(ctx context.Context, name string) error {
	m.mu.Lock()
	_, ok := m.loaded[name]
	delete(m.loaded, name)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("plugin %s is not loaded", name)
	}
	if m.host == nil {
		return nil
	}
	return m.host.Unload(ctx, name)
}

// Reload unloads a plugin and loads it again from disk, picking up
// manifest and script changes.
func (m *Manager) Reload(ctx context.Context, name string) error {
	m.mu.RLock()
	dp, ok := m.loaded[name]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("plugin %s is not loaded", name)
	}

	if err := m.Unload(ctx, name); err != nil {
		return err
	}

	data, err := os.ReadFile(filepath.Join(dp.Dir, "plugin.yaml")) //nolint:gosec // path recorded at discovery
	if err != nil {
		return fmt.Errorf("reread manifest for %s: %w", name, err)
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		return fmt.Errorf("reread manifest for %s: %w", name, err)
	}

	return m.LoadPlugin(ctx, &DiscoveredPlugin{Manifest: manifest, Dir: dp.Dir})
}

// ListPlugins returns names of all loaded plugins.
func (m *Manager) ListPlugins() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.loaded))
	for name := range m.loaded {
		names = append(names, name)
	}

	// Sort for deterministic output
	sort.Strings(names)
	return names
}

// Close shuts down the manager and all loaded plugins.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Clear loaded map first to keep state consistent even if close fails.
	m.loaded = make(map[string]*DiscoveredPlugin)

	if m.host != nil {
		if err := m.host.Close(ctx); err != nil {
			return fmt.Errorf("close plugin host: %w", err)
		}
	}

	return nil
}
