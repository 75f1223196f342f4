// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package restrict drops process privileges at the fixed points of the
// privsep lifecycle: the controller once its children are spawned, each
// child once its channels are set up.
//
// The promises string uses OpenBSD pledge(2) vocabulary ("stdio
// recvfd"). On OpenBSD it is passed to pledge verbatim. On Linux the
// process is marked no_new_privs, which survives exec and stops any
// setuid transition; the promises themselves are not enforced. On
// other platforms Apply only logs.
package restrict

import "log/slog"

// Apply restricts the calling process according to promises. A nil
// logger uses slog.Default(). Restrictions cannot be undone.
func Apply(promises string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	return apply(promises, logger)
}
