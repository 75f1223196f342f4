// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix && !(linux || freebsd || netbsd || openbsd || dragonfly)

package channel

import "golang.org/x/sys/unix"

// This platform has no MSG_CMSG_CLOEXEC; descriptors are marked after
// recvmsg returns.
const receiveFlags = 0

func markCloseOnExec(descriptor int) {
	unix.CloseOnExec(descriptor)
}
