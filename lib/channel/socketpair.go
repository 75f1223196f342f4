// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// SocketPair creates a connected pair of Unix stream sockets, both
// close-on-exec. The files are what a supervisor hands to Spawn or
// sends in a peer-introduction message; wrap one end with FromFile to
// talk over it.
func SocketPair() (*os.File, *os.File, error) {
	// Hold ForkLock so a concurrent exec cannot inherit the descriptors
	// in the window before close-on-exec is set.
	syscall.ForkLock.RLock()
	descriptors, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err == nil {
		unix.CloseOnExec(descriptors[0])
		unix.CloseOnExec(descriptors[1])
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return nil, nil, os.NewSyscallError("socketpair", err)
	}
	return os.NewFile(uintptr(descriptors[0]), "socketpair-0"),
		os.NewFile(uintptr(descriptors[1]), "socketpair-1"),
		nil
}

// Pair returns two Channels connected to each other.
func Pair(logger *slog.Logger) (*Channel, *Channel, error) {
	left, right, err := SocketPair()
	if err != nil {
		return nil, nil, err
	}
	leftChannel, err := FromFile(left, logger)
	if err != nil {
		right.Close()
		return nil, nil, fmt.Errorf("wrapping first socket: %w", err)
	}
	rightChannel, err := FromFile(right, logger)
	if err != nil {
		leftChannel.Close()
		return nil, nil, fmt.Errorf("wrapping second socket: %w", err)
	}
	return leftChannel, rightChannel, nil
}
