// Copyright (C) 2025 Adnan Haque
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{" error ", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.name))
		})
	}
}

func TestNew_JSONCarriesServiceAttribute(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Service: "masis", Writer: &buf})

	logger.Info("synthesis complete", "requestID", "req-1")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "masis", record["service"])
	assert.Equal(t, "synthesis complete", record["msg"])
	assert.Equal(t, "req-1", record["requestID"])
}

func TestNew_LevelFiltersRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelWarn, Writer: &buf})

	logger.Debug("suppressed record")
	logger.Info("suppressed record")
	logger.Warn("emitted record")

	assert.NotContains(t, buf.String(), "suppressed record")
	assert.Contains(t, buf.String(), "emitted record")
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Service: "cli", Format: "text", Writer: &buf})

	logger.Info("workspace created", "name", "finance")

	out := buf.String()
	assert.Contains(t, out, "msg=\"workspace created\"")
	assert.Contains(t, out, "service=cli")
	assert.Contains(t, out, "name=finance")
}

func TestNew_FileCopyReceivesRecords(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "masis.log")
	logger := New(Config{Service: "masis", FilePath: path, Writer: &buf})

	logger.Info("document indexed", "documentID", "doc-1")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "document indexed")
	// The primary writer still gets the record.
	assert.Contains(t, buf.String(), "document indexed")
}

func TestNew_UnwritableFilePathDoesNotFail(t *testing.T) {
	var buf bytes.Buffer
	// A file path whose parent is a file, not a directory.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	logger := New(Config{FilePath: filepath.Join(blocker, "masis.log"), Writer: &buf})

	logger.Info("still logging")

	assert.Contains(t, buf.String(), "still logging")
}

func TestDefault_UsesEnvLevel(t *testing.T) {
	t.Setenv("MASIS_LOG_LEVEL", "debug")

	logger := Default()

	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}
