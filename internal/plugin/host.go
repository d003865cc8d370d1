// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

package plugin

import "context"

// Host manages a plugin runtime.
type Host interface {
	// Load initializes a plugin from its manifest.
	Load(ctx context.Context, manifest *Manifest, dir string) error

	// Unload tears down a plugin, removing its hook handlers and
	// event subscriptions.
	Unload(ctx context.Context, name string) error

	// Plugins returns names of all loaded plugins.
	Plugins() []string

	// Close shuts down the host and all plugins.
	Close(ctx context.Context) error
}
