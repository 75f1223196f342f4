// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/privsep/lib/codec"
)

// Receiver is the receive half of a Channel. It owns the queue of
// descriptors received but not yet claimed.
type Receiver struct {
	conn        *connection
	logger      *slog.Logger
	interrupter interrupter

	mu     sync.Mutex
	buffer [BufferSize]byte
	// filled counts the valid bytes at the start of buffer: the frame
	// being assembled, followed by any bytes of later frames that
	// arrived in the same read.
	filled  int
	control []byte
	queue   DescriptorQueue
	err     error

	closeOnce sync.Once
	closeErr  error
}

// Receive blocks until one complete frame is available, decodes it
// into message (which must be a pointer), and lets the message claim
// its descriptor from the pending queue.
//
// Frames that arrive packed into one read are kept: bytes past the
// decoded frame stay buffered for the next call. Cancellation keeps
// partial frames buffered as well. Every other error is permanent for
// this Receiver.
func (r *Receiver) Receive(ctx context.Context, message Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	disarm, err := r.interrupter.arm(ctx)
	if err != nil {
		return err
	}
	frameLength, err := r.awaitFrame()
	disarm()
	if err != nil {
		err = r.interrupter.cause(ctx, err)
		if isCancellation(err) {
			return err
		}
		r.err = err
		return err
	}

	payload := r.buffer[PrefixSize:frameLength]
	if err := codec.Unmarshal(payload, message); err != nil {
		malformed := codec.Wellformed(payload) != nil
		r.logUndecodable(payload, message, malformed, err)
		r.consume(frameLength)
		r.err = &DecodeError{Length: len(payload), Malformed: malformed, Err: err}
		return r.err
	}
	r.consume(frameLength)

	if err := message.AttachDescriptor(&r.queue); err != nil {
		r.err = fmt.Errorf("attaching descriptor to %T: %w", message, err)
		return r.err
	}
	if _, carries := message.ExtractDescriptor(); !carries && r.queue.Len() > 0 {
		// Not fatal: a later frame may still claim these.
		r.logger.Warn("descriptors queued but decoded message does not carry one",
			"message", fmt.Sprintf("%T", message),
			"pending", r.queue.Len(),
		)
	}
	return nil
}

// awaitFrame reads until the buffer holds a whole frame and returns
// its length, prefix included.
func (r *Receiver) awaitFrame() (int, error) {
	frameLength := 0
	for {
		if frameLength == 0 && r.filled >= PrefixSize {
			length := PrefixSize + int64(binary.BigEndian.Uint32(r.buffer[:PrefixSize]))
			if length > BufferSize {
				return 0, &FrameTooLargeError{Direction: Receive, Size: length, Limit: BufferSize}
			}
			frameLength = int(length)
		}
		if frameLength > 0 && r.filled >= frameLength {
			return frameLength, nil
		}
		if err := r.fill(); err != nil {
			return 0, err
		}
	}
}

// fill performs one successful recvmsg into the unused tail of the
// buffer, parking on the poller while the socket has nothing to read.
func (r *Receiver) fill() error {
	var received, controlLength, flags int
	var readErr error
	err := r.conn.raw.Read(func(fd uintptr) bool {
		for {
			n, oobn, recvflags, _, err := unix.Recvmsg(int(fd), r.buffer[r.filled:], r.control, receiveFlags)
			switch err {
			case nil:
				received, controlLength, flags = n, oobn, recvflags
			case unix.EINTR:
				continue
			case unix.EAGAIN:
				return false
			default:
				readErr = os.NewSyscallError("recvmsg", err)
			}
			return true
		}
	})
	if err == nil {
		err = readErr
	}
	if err != nil {
		return err
	}

	if controlLength > 0 {
		r.queueDescriptors(r.control[:controlLength])
	}
	if flags&unix.MSG_CTRUNC != 0 {
		r.logger.Warn("ancillary data truncated, descriptors were dropped by the kernel",
			"capacity", len(r.control),
		)
	}
	if received == 0 {
		return &ClosedError{Buffered: r.filled}
	}
	r.filled += received
	return nil
}

// queueDescriptors appends every descriptor in an SCM_RIGHTS control
// message to the pending queue, in order.
func (r *Receiver) queueDescriptors(control []byte) {
	messages, err := unix.ParseSocketControlMessage(control)
	if err != nil {
		r.logger.Warn("parsing ancillary data", "bytes", len(control), "error", err)
		return
	}
	for i := range messages {
		if messages[i].Header.Level != unix.SOL_SOCKET || messages[i].Header.Type != unix.SCM_RIGHTS {
			r.logger.Warn("ignoring unexpected control message",
				"level", messages[i].Header.Level,
				"type", messages[i].Header.Type,
			)
			continue
		}
		descriptors, err := unix.ParseUnixRights(&messages[i])
		if err != nil {
			r.logger.Warn("parsing SCM_RIGHTS", "error", err)
			continue
		}
		for _, descriptor := range descriptors {
			if descriptor < 0 {
				r.logger.Warn("received invalid descriptor", "descriptor", descriptor)
				continue
			}
			markCloseOnExec(descriptor)
			r.queue.push(descriptor)
		}
	}
}

// consume drops the first frameLength bytes, moving whatever follows
// to the start of the buffer.
func (r *Receiver) consume(frameLength int) {
	r.filled = copy(r.buffer[:], r.buffer[frameLength:r.filled])
}

func (r *Receiver) logUndecodable(payload []byte, message Message, malformed bool, err error) {
	if !r.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	notation := fmt.Sprintf("malformed CBOR: %x", payload)
	if !malformed {
		if diagnosed, diagnoseErr := codec.Diagnose(payload); diagnoseErr == nil {
			notation = diagnosed
		}
	}
	r.logger.Debug("undecodable frame",
		"message", fmt.Sprintf("%T", message),
		"payload", notation,
		"error", err,
	)
}

// PendingDescriptors returns the number of received descriptors not yet
// claimed by a message.
func (r *Receiver) PendingDescriptors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queue.Len()
}

// Close releases this half's claim on the socket and closes every
// unclaimed descriptor. A Receive blocked in another goroutine returns
// net.ErrClosed first. Idempotent.
func (r *Receiver) Close() error {
	r.closeOnce.Do(func() {
		r.interrupter.close()
		r.mu.Lock()
		defer r.mu.Unlock()
		if closed := r.queue.closeAll(r.logger); closed > 0 {
			r.logger.Debug("closed orphaned descriptors", "count", closed)
		}
		r.closeErr = r.conn.release()
	})
	return r.closeErr
}
