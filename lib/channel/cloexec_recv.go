// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux || freebsd || netbsd || openbsd || dragonfly

package channel

import "golang.org/x/sys/unix"

// receiveFlags makes the kernel install received descriptors with
// close-on-exec already set, so they never leak into a child spawned
// concurrently.
const receiveFlags = unix.MSG_CMSG_CLOEXEC

func markCloseOnExec(int) {}
