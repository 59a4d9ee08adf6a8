// Copyright (C) 2025 Adnan Haque
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging builds the slog loggers the MASIS binaries share.
//
// The server logs JSON to stdout so log collectors can parse records; the
// CLI logs human-readable text to stderr. Both go through New so the
// "service" attribute, level handling, and optional file copy behave the
// same everywhere. Components inside the service log through the process
// default logger, which cmd/masis installs with slog.SetDefault.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Config controls logger construction.
type Config struct {
	// Service is attached as the "service" attribute on every record.
	// Recommended values: "masis", "cli", "ingest".
	Service string

	// Level is the minimum level to emit. The zero value is info.
	Level slog.Level

	// Format selects the handler: "json" (default) or "text".
	Format string

	// FilePath, when set, receives a copy of every record in append
	// mode. A leading ~ resolves against the user's home directory.
	FilePath string

	// Writer is the primary destination. Defaults to os.Stdout.
	Writer io.Writer
}

// ParseLevel maps a level name to its slog.Level. Unknown names and the
// empty string map to info, so a misspelled MASIS_LOG_LEVEL never
// silences the process.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger from the config.
//
// # Description
//
// When FilePath is set the file is opened for append and every record is
// written both there and to Writer. A file that cannot be opened is
// reported on stderr and skipped; logging must keep working even when the
// log directory does not.
func New(cfg Config) *slog.Logger {
	out := cfg.Writer
	if out == nil {
		out = os.Stdout
	}
	if cfg.FilePath != "" {
		path := expandPath(cfg.FilePath)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
			if f, ferr := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); ferr == nil {
				out = io.MultiWriter(out, f)
			} else {
				fmt.Fprintf(os.Stderr, "logging: cannot open %s: %v\n", path, ferr)
			}
		} else {
			fmt.Fprintf(os.Stderr, "logging: cannot create log directory for %s: %v\n", path, err)
		}
	}

	opts := &slog.HandlerOptions{Level: cfg.Level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	return logger
}

// Default returns the logger for interactive tools: text on stderr, with
// the level taken from MASIS_LOG_LEVEL.
func Default() *slog.Logger {
	return New(Config{
		Service: "cli",
		Level:   ParseLevel(os.Getenv("MASIS_LOG_LEVEL")),
		Format:  "text",
		Writer:  os.Stderr,
	})
}

// expandPath resolves a leading ~/ against the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
