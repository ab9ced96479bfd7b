// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging configures structured logging for gateway processes.
//
// The gateway logs JSON to stderr, one line per event, tagged with the
// service name so multi-service deployments can split a shared stream.
// Components log through the process-wide slog default; this package only
// owns its construction.
//
// # Usage
//
//	logging.SetDefault(logging.Config{
//	    Service: "gateway",
//	    Level:   logging.ParseLevel(os.Getenv("LOG_LEVEL")),
//	})
//	slog.Info("starting", "port", port)
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config tunes the process logger.
type Config struct {
	// Service tags every record. Empty omits the tag.
	Service string

	// Level is the minimum level emitted. Zero value is Info.
	Level slog.Level

	// Writer overrides the destination. Default: stderr.
	Writer io.Writer

	// AddSource includes file:line in each record.
	AddSource bool
}

// New builds a JSON slog.Logger per cfg.
func New(cfg Config) *slog.Logger {
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	})
	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	return logger
}

// SetDefault builds the logger and installs it as the slog default.
func SetDefault(cfg Config) *slog.Logger {
	logger := New(cfg)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a level name to its slog.Level. Unknown or empty names
// mean Info; startup should not fail over a typo in LOG_LEVEL.
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
