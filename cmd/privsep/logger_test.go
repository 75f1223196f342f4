// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/privsep/lib/config"
)

func logTo(t *testing.T, logging config.LoggingConfig) string {
	t.Helper()
	output, err := os.Create(filepath.Join(t.TempDir(), "log"))
	if err != nil {
		t.Fatalf("creating log file: %v", err)
	}
	defer output.Close()

	logger, err := newLogger(output, logging)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Debug("debug line")
	logger.Info("info line", "role", "parser")

	data, err := os.ReadFile(output.Name())
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	return string(data)
}

func TestNewLoggerAutoIsJSONWhenNotATerminal(t *testing.T) {
	output := logTo(t, config.LoggingConfig{Level: "info", Format: "auto"})
	if !strings.HasPrefix(output, "{") {
		t.Errorf("expected JSON output, got %q", output)
	}
	if !strings.Contains(output, `"role":"parser"`) {
		t.Errorf("expected role attribute, got %q", output)
	}
	if strings.Contains(output, "debug line") {
		t.Errorf("debug line logged at info level: %q", output)
	}
}

func TestNewLoggerText(t *testing.T) {
	output := logTo(t, config.LoggingConfig{Level: "debug", Format: "text"})
	if strings.HasPrefix(output, "{") {
		t.Errorf("expected text output, got %q", output)
	}
	if !strings.Contains(output, "debug line") || !strings.Contains(output, "role=parser") {
		t.Errorf("unexpected text output %q", output)
	}
}

func TestNewLoggerRejectsUnknownFormat(t *testing.T) {
	if _, err := newLogger(os.Stderr, config.LoggingConfig{Level: "info", Format: "xml"}); err == nil {
		t.Error("newLogger accepted format xml")
	}
}
