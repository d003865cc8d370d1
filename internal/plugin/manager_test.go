// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

package plugin_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantry-cnc/gantry/internal/plugin"
)

// Helper functions for creating test fixtures with secure permissions.
func mkdirAll(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(path, 0o750))
}

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, content, 0o600))
}

// fakeHost records lifecycle calls.
type fakeHost struct {
	mu      sync.Mutex
	loaded  []string
	loadErr error
	closed  bool
}

func (f *fakeHost) Load(_ context.Context, manifest *plugin.Manifest, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return f.loadErr
	}
	f.loaded = append(f.loaded, manifest.Name)
	return nil
}

func (f *fakeHost) Unload(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, n := range f.loaded {
		if n == name {
			f.loaded = append(f.loaded[:i], f.loaded[i+1:]...)
			return nil
		}
	}
	return errors.New("not loaded")
}

func (f *fakeHost) Plugins() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.loaded...)
}

func (f *fakeHost) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.loaded = nil
	return nil
}

func writePlugin(t *testing.T, root, name, manifest string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	mkdirAll(t, dir)
	writeFile(t, filepath.Join(dir, "plugin.yaml"), []byte(manifest))
	writeFile(t, filepath.Join(dir, "main.lua"), []byte("local x = 1"))
	return dir
}

func TestManager_Discover(t *testing.T) {
	root := t.TempDir()
	dir := writePlugin(t, root, "tool-logger", `
name: tool-logger
version: 1.0.0
entry: main.lua
`)

	mgr := plugin.NewManager(root)
	found, err := mgr.Discover(context.Background())
	require.NoError(t, err)

	require.Len(t, found, 1)
	assert.Equal(t, "tool-logger", found[0].Manifest.Name)
	assert.Equal(t, dir, found[0].Dir)
}

func TestManager_DiscoverSkipsInvalid(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "good", "name: good\nversion: 1.0.0\nentry: main.lua\n")
	writePlugin(t, root, "bad", "name: BAD NAME\n")
	// A directory without a manifest is skipped, not an error.
	mkdirAll(t, filepath.Join(root, "empty"))
	// Stray files at the top level are ignored.
	writeFile(t, filepath.Join(root, "README.md"), []byte("not a plugin"))

	mgr := plugin.NewManager(root)
	found, err := mgr.Discover(context.Background())
	require.NoError(t, err)

	require.Len(t, found, 1)
	assert.Equal(t, "good", found[0].Manifest.Name)
}

func TestManager_DiscoverNoDirectory(t *testing.T) {
	mgr := plugin.NewManager(filepath.Join(t.TempDir(), "nope"))
	found, err := mgr.Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestManager_LoadAll(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "alpha", "name: alpha\nversion: 1.0.0\nentry: main.lua\n")
	writePlugin(t, root, "beta", "name: beta\nversion: 2.0.0\nentry: main.lua\n")

	host := &fakeHost{}
	mgr := plugin.NewManager(root, plugin.WithHost(host))
	require.NoError(t, mgr.LoadAll(context.Background()))

	assert.ElementsMatch(t, []string{"alpha", "beta"}, host.Plugins())
	assert.Equal(t, []string{"alpha", "beta"}, mgr.ListPlugins())
}

func TestManager_LoadAllContinuesOnFailure(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "alpha", "name: alpha\nversion: 1.0.0\nentry: main.lua\n")

	host := &fakeHost{loadErr: errors.New("bad script")}
	mgr := plugin.NewManager(root, plugin.WithHost(host))

	// Host failures are logged, not fatal.
	require.NoError(t, mgr.LoadAll(context.Background()))
	assert.Empty(t, mgr.ListPlugins())
}

func TestManager_VersionGate(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "future", `
name: future
version: 1.0.0
entry: main.lua
min-app-version: 9.0.0
`)

	host := &fakeHost{}
	mgr := plugin.NewManager(root, plugin.WithHost(host), plugin.WithAppVersion("0.1.0"))
	require.NoError(t, mgr.LoadAll(context.Background()))

	// Incompatible plugin is skipped, not loaded.
	assert.Empty(t, host.Plugins())
	assert.Empty(t, mgr.ListPlugins())
}

func TestManager_NoHost(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "alpha", "name: alpha\nversion: 1.0.0\nentry: main.lua\n")

	mgr := plugin.NewManager(root)
	require.NoError(t, mgr.LoadAll(context.Background()))
	assert.Empty(t, mgr.ListPlugins())
}

func TestManager_Unload(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "alpha", "name: alpha\nversion: 1.0.0\nentry: main.lua\n")

	host := &fakeHost{}
	mgr := plugin.NewManager(root, plugin.WithHost(host))
	require.NoError(t, mgr.LoadAll(context.Background()))

	require.NoError(t, mgr.Unload(context.Background(), "alpha"))
	assert.Empty(t, mgr.ListPlugins())
	assert.Empty(t, host.Plugins())

	err := mgr.Unload(context.Background(), "alpha")
	require.Error(t, err)
}

func TestManager_Reload(t *testing.T) {
	root := t.TempDir()
	dir := writePlugin(t, root, "alpha", "name: alpha\nversion: 1.0.0\nentry: main.lua\n")

	host := &fakeHost{}
	mgr := plugin.NewManager(root, plugin.WithHost(host))
	require.NoError(t, mgr.LoadAll(context.Background()))

	// Bump the manifest version on disk, then reload.
	writeFile(t, filepath.Join(dir, "plugin.yaml"), []byte("name: alpha\nversion: 1.1.0\nentry: main.lua\n"))
	require.NoError(t, mgr.Reload(context.Background(), "alpha"))

	assert.Equal(t, []string{"alpha"}, mgr.ListPlugins())
	assert.Equal(t, []string{"alpha"}, host.Plugins())
}

func TestManager_Close(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "alpha", "name: alpha\nversion: 1.0.0\nentry: main.lua\n")

	host := &fakeHost{}
	mgr := plugin.NewManager(root, plugin.WithHost(host))
	require.NoError(t, mgr.LoadAll(context.Background()))

	require.NoError(t, mgr.Close(context.Background()))
	assert.True(t, host.closed)
	assert.Empty(t, mgr.ListPlugins())
}
