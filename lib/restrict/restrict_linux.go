// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package restrict

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
)

func apply(promises string, logger *slog.Logger) error {
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("setting no_new_privs: %w", err)
	}
	logger.Debug("set no_new_privs", "promises", promises)
	return nil
}
