// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

// Package plugin provides plugin discovery and lifecycle control.
package plugin

import (
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// Manifest represents a plugin.yaml file.
type Manifest struct {
	Name          string   `yaml:"name" json:"name"`
	Version       string   `yaml:"version" json:"version"`
	Description   string   `yaml:"description,omitempty" json:"description,omitempty"`
	Entry         string   `yaml:"entry" json:"entry"`
	Events        []string `yaml:"events,omitempty" json:"events,omitempty"`
	Permissions   []string `yaml:"permissions,omitempty" json:"permissions,omitempty"`
	MinAppVersion string   `yaml:"min-app-version,omitempty" json:"min-app-version,omitempty"`
}

// maxNameLength is the maximum allowed length for plugin names.
const maxNameLength = 64

// namePattern validates plugin names: must start with a lowercase
// letter, followed by lowercase letters, digits, or hyphens, and must
// not end with a hyphen. Single character names are allowed.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// ParseManifest parses and validates a plugin.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if m.Name == "" || !namePattern.MatchString(m.Name) {
		return fmt.Errorf("name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", m.Name)
	}
	if len(m.Name) > maxNameLength {
		return fmt.Errorf("name must be %d characters or less, got %d", maxNameLength, len(m.Name))
	}

	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("version %q is not valid semver: %w", m.Version, err)
	}

	if m.Entry == "" {
		return fmt.Errorf("entry is required")
	}

	if m.MinAppVersion != "" {
		if _, err := semver.NewVersion(m.MinAppVersion); err != nil {
			return fmt.Errorf("min-app-version %q is not valid semver: %w", m.MinAppVersion, err)
		}
	}

	return nil
}

// CheckAppVersion reports whether the running application satisfies the
// manifest's min-app-version constraint. Unparseable app versions such
// as "dev" builds skip the gate.
func (m *Manifest) CheckAppVersion(appVersion string) error {
	if m.MinAppVersion == "" {
		return nil
	}

	app, err := semver.NewVersion(appVersion)
	if err != nil {
		return nil
	}

	minimum, err := semver.NewVersion(m.MinAppVersion)
	if err != nil {
		return oops.In("plugin").
			Code("PLUGIN_INCOMPATIBLE").
			With("plugin", m.Name).
			With("min_app_version", m.MinAppVersion).
			Wrap(err)
	}

	if app.LessThan(minimum) {
		return oops.In("plugin").
			Code("PLUGIN_INCOMPATIBLE").
			With("plugin", m.Name).
			With("app_version", appVersion).
			With("min_app_version", m.MinAppVersion).
			Errorf("plugin requires app version %s or newer, running %s", m.MinAppVersion, appVersion)
	}

	return nil
}
