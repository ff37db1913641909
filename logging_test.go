// logging_test.go: logger adapter tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	testLogger := NewTestLogger()
	assert.Same(t, testLogger, NewLogger(testLogger))
	assert.IsType(t, &NoOpLogger{}, NewLogger(nil))
	assert.IsType(t, &SlogLogger{}, NewLogger(slog.Default()))
	assert.IsType(t, &ZerologLogger{}, NewLogger(zerolog.Nop()))

	var nilZerolog *zerolog.Logger
	assert.IsType(t, &NoOpLogger{}, NewLogger(nilZerolog))

	assert.Panics(t, func() { NewLogger("stdout") })
}

func TestSlogLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	logger.With("component", "manager").Info("Plugin installation staged", "plugin", "mail")

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "Plugin installation staged", record["msg"])
	assert.Equal(t, "manager", record["component"])
	assert.Equal(t, "mail", record["plugin"])
}

func TestZerologLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(zerolog.New(&buf).Level(zerolog.InfoLevel))

	logger.Debug("hidden")
	logger.With("component", "catalog").Warn("Catalog lookup failed",
		"error", errors.New("timeout"),
		"attempt", 2,
		"dangling")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1, "debug is below the configured level")

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	assert.Equal(t, "warn", record["level"])
	assert.Equal(t, "Catalog lookup failed", record["message"])
	assert.Equal(t, "catalog", record["component"])
	assert.Equal(t, "timeout", record["error"])
	assert.Equal(t, float64(2), record["attempt"])
	assert.Equal(t, "dangling", record["!BADKEY"])
}

func TestParseLevels(t *testing.T) {
	testCases := []struct {
		name    string
		slog    slog.Level
		zerolog zerolog.Level
	}{
		{"debug", slog.LevelDebug, zerolog.DebugLevel},
		{"INFO", slog.LevelInfo, zerolog.InfoLevel},
		{"warning", slog.LevelWarn, zerolog.WarnLevel},
		{"error", slog.LevelError, zerolog.ErrorLevel},
		{"verbose", slog.LevelInfo, zerolog.InfoLevel},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.slog, ParseLogLevel(tc.name), tc.name)
		assert.Equal(t, tc.zerolog, ParseZerologLevel(tc.name), tc.name)
	}
}

func TestTestLogger_ChildSharesBuffer(t *testing.T) {
	logger := NewTestLogger()
	child := logger.With("plugin", "mail")
	child.Error("Failed to cancel pending change", "path", "/tmp/x")

	messages := logger.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, []any{"plugin", "mail", "path", "/tmp/x"}, messages[0].Args)
	assert.True(t, logger.HasMessage("ERROR", "Failed to cancel pending change"))
	assert.False(t, logger.HasMessage("WARN", "Failed to cancel pending change"))
}

func TestLoggerContext(t *testing.T) {
	assert.IsType(t, &NoOpLogger{}, LoggerFromContext(context.Background()))

	logger := NewTestLogger()
	ctx := ContextWithLogger(context.Background(), logger)
	assert.Same(t, logger, LoggerFromContext(ctx))
}
