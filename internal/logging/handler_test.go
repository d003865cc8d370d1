// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/gantry-cnc/gantry/internal/logging"
)

func TestSetup_JSONIncludesServiceIdentity(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Setup("gantry", "1.2.3", "json", "info", &buf)

	logger.Info("streaming started", "lines", 42)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	assert.Equal(t, "gantry", record["service"])
	assert.Equal(t, "1.2.3", record["version"])
	assert.Equal(t, "streaming started", record["msg"])
	assert.EqualValues(t, 42, record["lines"])
}

func TestSetup_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Setup("gantry", "dev", "text", "info", &buf)

	logger.Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "service=gantry")
}

func TestSetup_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Setup("gantry", "dev", "json", "warn", &buf)

	logger.Info("hidden")
	assert.Empty(t, buf.String())

	logger.Warn("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestSetup_TraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.Setup("gantry", "dev", "json", "info", &buf)

	traceID, err := trace.TraceIDFromHex("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("0123456789abcdef")
	require.NoError(t, err)

	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	logger.InfoContext(ctx, "with trace")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, traceID.String(), record["trace_id"])
	assert.Equal(t, spanID.String(), record["span_id"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, logging.ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, logging.ParseLevel("info"))
	assert.Equal(t, slog.LevelWarn, logging.ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, logging.ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, logging.ParseLevel("banana"))
	assert.Equal(t, slog.LevelInfo, logging.ParseLevel(""))
}
