// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package restrict

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
)

func apply(promises string, logger *slog.Logger) error {
	if err := unix.PledgePromises(promises); err != nil {
		return fmt.Errorf("pledge %q: %w", promises, err)
	}
	logger.Debug("pledged", "promises", promises)
	return nil
}
