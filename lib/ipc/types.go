// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"fmt"
	"os"

	"github.com/bureau-foundation/privsep/lib/channel"
)

// ControlKind discriminates Control messages.
type ControlKind string

const (
	// ControlPeerSocket hands a child its end of the socket connecting
	// it to the other child. Carries a descriptor.
	ControlPeerSocket ControlKind = "peer-socket"

	// ControlFile hands the parser a file to read. Carries a
	// descriptor.
	ControlFile ControlKind = "file"

	// ControlData delivers one line of input in Text.
	ControlData ControlKind = "data"

	// ControlStop asks the child to exit cleanly.
	ControlStop ControlKind = "stop"
)

// Carries reports whether messages of this kind carry a descriptor.
func (k ControlKind) Carries() bool {
	return k == ControlPeerSocket || k == ControlFile
}

// Control is sent by the controller to a child over the child's
// control connection.
type Control struct {
	Kind ControlKind `cbor:"kind"`

	// Text is the payload of a data message, or a human-readable note
	// on a file message (typically the file's original name).
	Text string `cbor:"text,omitempty"`

	// File is the descriptor carried by peer-socket and file messages.
	// It never appears in the payload: it travels as SCM_RIGHTS
	// ancillary data on the frame's first write.
	File *os.File `cbor:"-"`
}

// ExtractDescriptor implements channel.Message.
func (c Control) ExtractDescriptor() (*os.File, bool) {
	return c.File, c.Kind.Carries()
}

// AttachDescriptor implements channel.Message.
func (c *Control) AttachDescriptor(queue *channel.DescriptorQueue) error {
	if !c.Kind.Carries() {
		return nil
	}
	file, err := queue.TakeFile(string(c.Kind))
	if err != nil {
		return fmt.Errorf("%s message: %w", c.Kind, err)
	}
	c.File = file
	return nil
}

// ReportKind discriminates Report messages.
type ReportKind string

const (
	// ReportReady is sent once a child has adopted its connections and
	// restricted itself.
	ReportReady ReportKind = "ready"

	// ReportDigest carries the digest and size of a file the parser
	// was handed.
	ReportDigest ReportKind = "digest"

	// ReportHeartbeat is the engine's periodic liveness signal.
	ReportHeartbeat ReportKind = "heartbeat"

	// ReportText relays a line of output, such as a data line the
	// parser forwarded or an acknowledgement the engine received.
	ReportText ReportKind = "text"
)

// Report is sent by a child to the controller. Reports never carry a
// descriptor.
type Report struct {
	Kind ReportKind `cbor:"kind"`

	// Role is the sending child's role name.
	Role string `cbor:"role"`

	Text string `cbor:"text,omitempty"`

	// Digest is the hex blake3 digest of a handed-over file, set on
	// digest reports.
	Digest string `cbor:"digest,omitempty"`

	// Size is the byte count behind Digest.
	Size int64 `cbor:"size,omitempty"`

	// Sequence numbers heartbeats and relayed lines.
	Sequence uint64 `cbor:"sequence,omitempty"`
}

// ExtractDescriptor implements channel.Message.
func (Report) ExtractDescriptor() (*os.File, bool) { return nil, false }

// AttachDescriptor implements channel.Message.
func (*Report) AttachDescriptor(*channel.DescriptorQueue) error { return nil }

// PeerKind discriminates Peer messages.
type PeerKind string

const (
	// PeerData carries a data line from the parser to the engine.
	PeerData PeerKind = "data"

	// PeerAck acknowledges a data line, echoing its Sequence.
	PeerAck PeerKind = "ack"

	// PeerHeartbeat is the engine's liveness signal to the parser.
	PeerHeartbeat PeerKind = "heartbeat"
)

// Peer is exchanged directly between the parser and the engine over
// the socket the controller introduced them with.
type Peer struct {
	Kind     PeerKind `cbor:"kind"`
	Text     string   `cbor:"text,omitempty"`
	Sequence uint64   `cbor:"sequence,omitempty"`
}

// ExtractDescriptor implements channel.Message.
func (Peer) ExtractDescriptor() (*os.File, bool) { return nil, false }

// AttachDescriptor implements channel.Message.
func (*Peer) AttachDescriptor(*channel.DescriptorQueue) error { return nil }

var (
	_ channel.Message = (*Control)(nil)
	_ channel.Message = (*Report)(nil)
	_ channel.Message = (*Peer)(nil)
)
