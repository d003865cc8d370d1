// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

package plugin_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantry-cnc/gantry/internal/plugin"
)

func TestGenerateSchema(t *testing.T) {
	data, err := plugin.GenerateSchema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))

	assert.Equal(t, plugin.GetSchemaID(), schema["$id"])
	assert.Equal(t, "Gantry Plugin Manifest", schema["title"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "name")
	assert.Contains(t, props, "version")
	assert.Contains(t, props, "entry")
	assert.Contains(t, props, "permissions")
}

func TestValidateSchema_Valid(t *testing.T) {
	t.Cleanup(plugin.ResetSchemaCache)

	yaml := `
name: tool-logger
version: 1.0.0
entry: main.lua
events:
  - onAfterGcodeLine
permissions:
  - settings.read
`
	require.NoError(t, plugin.ValidateSchema([]byte(yaml)))
}

func TestValidateSchema_MissingRequired(t *testing.T) {
	t.Cleanup(plugin.ResetSchemaCache)

	yaml := `
name: tool-logger
`
	err := plugin.ValidateSchema([]byte(yaml))
	require.Error(t, err)
}

func TestValidateSchema_WrongType(t *testing.T) {
	t.Cleanup(plugin.ResetSchemaCache)

	yaml := `
name: tool-logger
version: 1.0.0
entry: main.lua
permissions: not-a-list
`
	err := plugin.ValidateSchema([]byte(yaml))
	require.Error(t, err)
}

func TestValidateSchema_Empty(t *testing.T) {
	require.Error(t, plugin.ValidateSchema(nil))
}

func TestValidateSchema_InvalidYAML(t *testing.T) {
	err := plugin.ValidateSchema([]byte("name: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid YAML")
}

func TestFormatSchemaError(t *testing.T) {
	assert.Empty(t, plugin.FormatSchemaError(nil))

	t.Cleanup(plugin.ResetSchemaCache)
	err := plugin.ValidateSchema([]byte("name: x\n"))
	require.Error(t, err)
	msg := plugin.FormatSchemaError(err)
	assert.NotContains(t, msg, "schema validation failed:")
}
