// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"
)

const (
	// BufferSize is the fixed capacity of the transmit and receive
	// buffers, prefix included.
	BufferSize = 4096

	// PrefixSize is the length of the big-endian payload length that
	// starts every frame.
	PrefixSize = 4

	// MaxPayloadSize is the largest encoded message a frame can hold.
	MaxPayloadSize = BufferSize - PrefixSize

	// maxDescriptorsPerRead bounds the ancillary buffer of one recvmsg.
	// The sender attaches at most one descriptor per frame, so this
	// only matters when several frames arrive in one read.
	maxDescriptorsPerRead = 8
)

// Channel is a framed, descriptor-carrying message channel over one
// Unix stream socket. Send and Receive may be called from different
// goroutines; use Split to hand each direction to its own owner.
type Channel struct {
	sender   *Sender
	receiver *Receiver
}

// connection is the socket shared by the two halves of a Channel. The
// socket is closed when the last half releases it.
type connection struct {
	conn   *net.UnixConn
	raw    syscall.RawConn
	owners atomic.Int32
}

func (c *connection) release() error {
	if c.owners.Add(-1) == 0 {
		return c.conn.Close()
	}
	return nil
}

// New wraps conn in a Channel. The Channel owns conn from here on. A
// nil logger uses slog.Default().
func New(conn *net.UnixConn, logger *slog.Logger) (*Channel, error) {
	if logger == nil {
		logger = slog.Default()
	}
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("accessing raw socket: %w", err)
	}

	shared := &connection{conn: conn, raw: raw}
	shared.owners.Store(2)

	return &Channel{
		sender: &Sender{
			conn:        shared,
			logger:      logger,
			interrupter: interrupter{setDeadline: conn.SetWriteDeadline},
		},
		receiver: &Receiver{
			conn:        shared,
			logger:      logger,
			interrupter: interrupter{setDeadline: conn.SetReadDeadline},
			control:     make([]byte, unix.CmsgSpace(maxDescriptorsPerRead*4)),
		},
	}, nil
}

// FromFile builds a Channel from a socket received as a file, such as
// the peer socket in a peer-introduction message. The file is consumed:
// it is closed whether or not the Channel is created.
func FromFile(file *os.File, logger *slog.Logger) (*Channel, error) {
	defer file.Close()

	// FileConn duplicates the descriptor; the original is closed above.
	conn, err := net.FileConn(file)
	if err != nil {
		return nil, fmt.Errorf("converting %s to a connection: %w", file.Name(), err)
	}
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("%s is a %T, not a Unix socket", file.Name(), conn)
	}
	return New(unixConn, logger)
}

// FromDescriptor takes ownership of an inherited descriptor number and
// builds a Channel from it. This is the one place a bare integer
// becomes a connection: it is used by child processes to adopt the
// control socket the supervisor remapped onto a fixed number before
// exec. The descriptor must be an open SOCK_STREAM Unix socket. It is
// closed on every path; the Channel holds its own duplicate.
func FromDescriptor(descriptor int, logger *slog.Logger) (*Channel, error) {
	if descriptor < 0 {
		return nil, fmt.Errorf("invalid descriptor %d", descriptor)
	}

	var stat unix.Stat_t
	if err := unix.Fstat(descriptor, &stat); err != nil {
		unix.Close(descriptor)
		return nil, fmt.Errorf("inspecting inherited descriptor %d: %w", descriptor, err)
	}
	if stat.Mode&unix.S_IFMT != unix.S_IFSOCK {
		unix.Close(descriptor)
		return nil, fmt.Errorf("inherited descriptor %d is not a socket (mode %#o)", descriptor, stat.Mode&unix.S_IFMT)
	}
	socketType, err := unix.GetsockoptInt(descriptor, unix.SOL_SOCKET, unix.SO_TYPE)
	if err != nil {
		unix.Close(descriptor)
		return nil, fmt.Errorf("reading socket type of descriptor %d: %w", descriptor, err)
	}
	if socketType != unix.SOCK_STREAM {
		unix.Close(descriptor)
		return nil, fmt.Errorf("inherited descriptor %d is socket type %d, want SOCK_STREAM", descriptor, socketType)
	}

	return FromFile(os.NewFile(uintptr(descriptor), fmt.Sprintf("inherited-socket-%d", descriptor)), logger)
}

// Send transmits one message. See Sender.Send.
func (c *Channel) Send(ctx context.Context, message Message) error {
	return c.sender.Send(ctx, message)
}

// Receive decodes the next message into message, which must be a
// pointer. See Receiver.Receive.
func (c *Channel) Receive(ctx context.Context, message Message) error {
	return c.receiver.Receive(ctx, message)
}

// Split hands out the two halves of the channel. Each half is closed
// independently; the socket is closed with the second. The Channel
// itself must not be used after Split.
func (c *Channel) Split() (*Sender, *Receiver) {
	return c.sender, c.receiver
}

// Close closes both halves, including every descriptor still waiting
// in the receive queue.
func (c *Channel) Close() error {
	return errors.Join(c.sender.Close(), c.receiver.Close())
}
