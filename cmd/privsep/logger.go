// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/bureau-foundation/privsep/lib/config"
)

// newLogger builds the process logger writing to output. With format
// "auto", output that is a terminal gets slog.TextHandler for humans;
// anything else (a pipe, a file, a supervisor's log collector) gets
// slog.JSONHandler.
func newLogger(output *os.File, logging config.LoggingConfig) (*slog.Logger, error) {
	level, err := logging.SlogLevel()
	if err != nil {
		return nil, err
	}
	options := &slog.HandlerOptions{Level: level}

	format := logging.Format
	if format == "auto" {
		format = "json"
		if term.IsTerminal(int(output.Fd())) {
			format = "text"
		}
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(output, options)
	case "text":
		handler = slog.NewTextHandler(output, options)
	default:
		return nil, fmt.Errorf("unknown log format %q", logging.Format)
	}
	return slog.New(handler), nil
}
