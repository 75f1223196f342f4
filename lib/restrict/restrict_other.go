// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux && !openbsd

package restrict

import "log/slog"

func apply(promises string, logger *slog.Logger) error {
	logger.Debug("no privilege restriction on this platform", "promises", promises)
	return nil
}
