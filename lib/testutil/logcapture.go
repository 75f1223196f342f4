// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
)

// LogCapture records slog output in memory. Safe for concurrent use,
// including writes from goroutines that outlive the test body.
type LogCapture struct {
	mu     sync.Mutex
	buffer bytes.Buffer
}

// Logger returns a debug-level text logger writing into the capture.
func (c *LogCapture) Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(c, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// Write implements io.Writer.
func (c *LogCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer.Write(p)
}

// String returns everything logged so far.
func (c *LogCapture) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer.String()
}

// Contains reports whether any logged line contains substring.
func (c *LogCapture) Contains(substring string) bool {
	return strings.Contains(c.String(), substring)
}
