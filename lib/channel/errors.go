// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrFrameTooLarge matches every *FrameTooLargeError.
	ErrFrameTooLarge = errors.New("frame exceeds fixed buffer capacity")

	// ErrConnectionClosedPrematurely matches every *ClosedError: the
	// peer shut down its end while a receive was waiting for data.
	ErrConnectionClosedPrematurely = errors.New("connection closed prematurely (EOF) while reading")

	// ErrMissingDescriptor reports a descriptor-carrying message with no
	// descriptor to go with it: on send, the message's file is nil; on
	// receive, the pending queue was empty when the message decoded.
	ErrMissingDescriptor = errors.New("message carries a descriptor but none was available")

	// ErrZeroWrite reports a sendmsg that accepted no bytes.
	ErrZeroWrite = errors.New("sendmsg wrote 0 bytes")
)

// Direction identifies which half of a channel produced an error.
type Direction int

const (
	Transmit Direction = iota
	Receive
)

func (d Direction) String() string {
	switch d {
	case Transmit:
		return "transmit"
	case Receive:
		return "receive"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// FrameTooLargeError reports a frame that cannot fit the fixed buffer.
//
// On transmit, Size is the encoded payload length and Limit is
// MaxPayloadSize; nothing was written and the channel stays usable. On
// receive, Size is the full frame length announced by the peer's
// prefix and Limit is BufferSize; the receiver cannot resynchronize and
// is unusable afterwards.
type FrameTooLargeError struct {
	Direction Direction
	Size      int64
	Limit     int64
}

func (e *FrameTooLargeError) Error() string {
	if e.Direction == Transmit {
		return fmt.Sprintf("serialized message size (%d bytes) exceeds fixed buffer capacity (%d bytes)", e.Size, e.Limit)
	}
	return fmt.Sprintf("received frame length (%d bytes) exceeds fixed buffer capacity (%d bytes)", e.Size, e.Limit)
}

func (e *FrameTooLargeError) Is(target error) bool {
	return target == ErrFrameTooLarge
}

// ClosedError reports a zero-byte read. Buffered is the number of bytes
// of an incomplete frame that were waiting when the peer went away.
//
// It always matches ErrConnectionClosedPrematurely. When Buffered is
// zero the peer closed cleanly between frames, and the error also
// matches io.EOF so that callers treating EOF as orderly shutdown work
// unchanged.
type ClosedError struct {
	Buffered int
}

func (e *ClosedError) Error() string {
	if e.Buffered == 0 {
		return ErrConnectionClosedPrematurely.Error()
	}
	return fmt.Sprintf("%s with %d bytes of a partial frame buffered", ErrConnectionClosedPrematurely, e.Buffered)
}

func (e *ClosedError) Is(target error) bool {
	switch target {
	case ErrConnectionClosedPrematurely:
		return true
	case io.EOF:
		return e.Buffered == 0
	}
	return false
}

// DecodeError reports a payload that is not a valid encoding of the
// expected message type. Malformed is set when the payload is not even
// one well-formed CBOR item, as opposed to a valid item of the wrong
// shape.
type DecodeError struct {
	Length    int
	Malformed bool
	Err       error
}

func (e *DecodeError) Error() string {
	if e.Malformed {
		return fmt.Sprintf("decoding %d-byte payload: malformed CBOR: %v", e.Length, e.Err)
	}
	return fmt.Sprintf("decoding %d-byte payload: %v", e.Length, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
