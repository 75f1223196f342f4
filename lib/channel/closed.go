// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsPeerGone reports whether err is an orderly end of the conversation
// rather than a protocol failure: EOF at a frame boundary, a channel
// half that was closed locally, or a broken pipe / connection reset
// from a peer that exited while we were writing.
//
// EOF in the middle of a frame is not orderly and is not matched.
func IsPeerGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
