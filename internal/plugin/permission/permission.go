// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

// Package permission provides runtime permission enforcement for plugins.
//
// Pattern matching uses gobwas/glob with '.' as the segment separator:
//   - '*' matches a single segment (does not cross '.')
//   - '**' matches zero or more segments (crosses '.')
package permission

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gobwas/glob"
)

// Permissions a manifest may request.
const (
	GcodeSend       = "gcode.send"
	SettingsRead    = "settings.read"
	SettingsWrite   = "settings.write"
	EventsBroadcast = "events.broadcast"
	EventsSubscribe = "events.subscribe"
)

// compiledGrant holds a pattern and its compiled glob.
type compiledGrant struct {
	pattern string
	glob    glob.Glob
}

// Enforcer checks plugin permissions at runtime.
//
// Enforcer is safe for concurrent use. The zero value is ready to use
// without calling NewEnforcer.
type Enforcer struct {
	grants map[string][]compiledGrant // plugin name -> compiled grants
	mu     sync.RWMutex
}

// NewEnforcer creates a permission enforcer.
func NewEnforcer() *Enforcer {
	return &Enforcer{
		grants: make(map[string][]compiledGrant),
	}
}

// Grant configures permissions for a plugin, replacing any previous
// grants. All patterns are compiled before any state changes, so a
// validation failure leaves the enforcer untouched.
func (e *Enforcer) Grant(plugin string, permissions []string) error {
	if plugin == "" {
		return errors.New("plugin name cannot be empty")
	}

	compiled := make([]compiledGrant, len(permissions))
	for i, pattern := range permissions {
		if pattern == "" {
			return fmt.Errorf("permission %d: empty permission pattern", i)
		}
		// '.' as separator so '*' doesn't cross segment boundaries.
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return fmt.Errorf("permission %d (%q): %w", i, pattern, err)
		}
		compiled[i] = compiledGrant{pattern: pattern, glob: g}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.grants == nil {
		e.grants = make(map[string][]compiledGrant)
	}

	e.grants[plugin] = compiled
	return nil
}

// Revoke removes all of a plugin's grants. Safe to call for unknown
// plugins or on a zero-value Enforcer.
func (e *Enforcer) Revoke(plugin string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.grants == nil {
		return
	}
	delete(e.grants, plugin)
}

// Granted returns a copy of the permission patterns granted to a
// plugin, or nil if the plugin is not registered.
func (e *Enforcer) Granted(plugin string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	grants, ok := e.grants[plugin]
	if !ok {
		return nil
	}
	patterns := make([]string, len(grants))
	for i, g := range grants {
		patterns[i] = g.pattern
	}
	return patterns
}

// Check returns true if the plugin holds the requested permission.
// Unknown plugins, empty names, and empty permission strings are all
// denied without error.
func (e *Enforcer) Check(plugin, permission string) bool {
	if permission == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, grant := range e.grants[plugin] {
		if grant.glob.Match(permission) {
			return true
		}
	}
	return false
}
