// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/privsep/lib/codec"
)

// Sender is the transmit half of a Channel.
type Sender struct {
	conn        *connection
	logger      *slog.Logger
	interrupter interrupter

	// mu serializes Send calls so concurrent callers queue whole
	// frames instead of interleaving bytes. There is no send queue:
	// at most one frame is in flight.
	mu     sync.Mutex
	buffer [BufferSize]byte
	err    error

	closeOnce sync.Once
	closeErr  error
}

// Send encodes message into one frame and writes it, blocking until
// every byte is accepted by the socket or ctx is done.
//
// If the message carries a descriptor, it is attached to the first
// sendmsg of the frame only. The caller keeps its copy of the
// descriptor and decides when to close it.
//
// A payload larger than MaxPayloadSize fails with *FrameTooLargeError
// and leaves the socket untouched. Cancellation before any byte is
// written leaves the Sender usable; any failure after part of a frame
// was written makes the Sender unusable, since the peer can no longer
// find frame boundaries.
func (s *Sender) Send(ctx context.Context, message Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	file, carries := message.ExtractDescriptor()
	if carries && file == nil {
		return fmt.Errorf("sending %T: %w", message, ErrMissingDescriptor)
	}

	payload, err := codec.Marshal(message)
	if err != nil {
		return fmt.Errorf("encoding %T: %w", message, err)
	}
	if len(payload) > MaxPayloadSize {
		return &FrameTooLargeError{Direction: Transmit, Size: int64(len(payload)), Limit: MaxPayloadSize}
	}

	binary.BigEndian.PutUint32(s.buffer[:PrefixSize], uint32(len(payload)))
	frameLength := PrefixSize + copy(s.buffer[PrefixSize:], payload)

	var rights []byte
	if carries {
		descriptor, err := descriptorNumber(file)
		if err != nil {
			return fmt.Errorf("sending %T: %w", message, err)
		}
		rights = unix.UnixRights(descriptor)
	}

	disarm, err := s.interrupter.arm(ctx)
	if err != nil {
		return err
	}
	sent, err := s.write(s.buffer[:frameLength], rights)
	disarm()
	// The descriptor number must stay valid until sendmsg has copied it.
	runtime.KeepAlive(file)

	if err != nil {
		err = s.interrupter.cause(ctx, err)
		if sent == 0 && isCancellation(err) {
			return err
		}
		s.err = fmt.Errorf("sending frame (%d of %d bytes written): %w", sent, frameLength, err)
		return s.err
	}

	if carries {
		s.logger.Debug("sent frame with descriptor", "bytes", frameLength, "message", fmt.Sprintf("%T", message))
	}
	return nil
}

// write pushes frame to the socket, retrying partial writes. rights
// ride on the first sendmsg only. Returns the number of bytes written
// even on error.
func (s *Sender) write(frame, rights []byte) (int, error) {
	sent := 0
	var writeErr error
	err := s.conn.raw.Write(func(fd uintptr) bool {
		for sent < len(frame) {
			var control []byte
			if sent == 0 {
				control = rights
			}
			n, err := unix.SendmsgN(int(fd), frame[sent:], control, nil, 0)
			switch err {
			case nil:
			case unix.EINTR:
				continue
			case unix.EAGAIN:
				// Park on the poller until writable, then resume here.
				return false
			default:
				writeErr = os.NewSyscallError("sendmsg", err)
				return true
			}
			if n == 0 {
				writeErr = ErrZeroWrite
				return true
			}
			sent += n
		}
		return true
	})
	if err == nil {
		err = writeErr
	}
	return sent, err
}

// descriptorNumber reads the descriptor number behind file without
// switching it to blocking mode the way File.Fd does.
func descriptorNumber(file *os.File) (int, error) {
	raw, err := file.SyscallConn()
	if err != nil {
		return -1, fmt.Errorf("accessing descriptor of %s: %w", file.Name(), err)
	}
	descriptor := -1
	if err := raw.Control(func(fd uintptr) { descriptor = int(fd) }); err != nil {
		return -1, fmt.Errorf("accessing descriptor of %s: %w", file.Name(), err)
	}
	return descriptor, nil
}

// Close shuts down the write direction and releases this half's claim
// on the socket. A Send blocked in another goroutine returns
// net.ErrClosed. Idempotent.
func (s *Sender) Close() error {
	s.closeOnce.Do(func() {
		s.interrupter.close()
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.conn.conn.CloseWrite(); err != nil {
			s.logger.Debug("shutting down write direction", "error", err)
		}
		s.closeErr = s.conn.release()
	})
	return s.closeErr
}
