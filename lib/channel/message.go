// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// Message is the contract every type sent over a Channel implements.
// Each message value carries zero or exactly one descriptor.
//
// The usual shape is a struct with a kind discriminator and an
// *os.File field tagged `cbor:"-"`, with ExtractDescriptor on the value
// receiver and AttachDescriptor on the pointer receiver, so that the
// pointer type satisfies Message.
type Message interface {
	// ExtractDescriptor returns the descriptor the message carries
	// without consuming it. carries reports whether this message's kind
	// is a descriptor-carrying one; a carrying message with a nil file
	// is rejected by Send.
	ExtractDescriptor() (file *os.File, carries bool)

	// AttachDescriptor is called after the message has been decoded.
	// Descriptor-carrying kinds take exactly one descriptor from the
	// queue (TakeFile) and store it; other kinds leave the queue alone.
	// An empty queue for a carrying kind is ErrMissingDescriptor.
	AttachDescriptor(queue *DescriptorQueue) error
}

// DescriptorQueue holds descriptors received as ancillary data but not
// yet claimed by a decoded message. Descriptors are taken strictly in
// the order they arrived, which matches the order of the frames that
// carried them.
//
// The queue is owned by a Receiver and only touched while that
// Receiver holds its lock.
type DescriptorQueue struct {
	descriptors []int
}

// Len returns the number of unclaimed descriptors.
func (q *DescriptorQueue) Len() int {
	return len(q.descriptors)
}

func (q *DescriptorQueue) push(descriptor int) {
	q.descriptors = append(q.descriptors, descriptor)
}

// Take removes and returns the oldest descriptor. The caller owns it.
func (q *DescriptorQueue) Take() (int, error) {
	if len(q.descriptors) == 0 {
		return -1, ErrMissingDescriptor
	}
	descriptor := q.descriptors[0]
	q.descriptors = q.descriptors[:copy(q.descriptors, q.descriptors[1:])]
	return descriptor, nil
}

// TakeFile is Take wrapped in an *os.File with the given name.
func (q *DescriptorQueue) TakeFile(name string) (*os.File, error) {
	descriptor, err := q.Take()
	if err != nil {
		return nil, err
	}
	file := os.NewFile(uintptr(descriptor), name)
	if file == nil {
		unix.Close(descriptor)
		return nil, fmt.Errorf("wrapping descriptor %d: invalid descriptor", descriptor)
	}
	return file, nil
}

// closeAll closes every unclaimed descriptor exactly once and empties
// the queue. Returns how many were closed.
func (q *DescriptorQueue) closeAll(logger *slog.Logger) int {
	count := len(q.descriptors)
	for _, descriptor := range q.descriptors {
		logger.Debug("closing orphaned descriptor", "descriptor", descriptor)
		if err := unix.Close(descriptor); err != nil {
			logger.Warn("closing orphaned descriptor", "descriptor", descriptor, "error", err)
		}
	}
	q.descriptors = q.descriptors[:0]
	return count
}
