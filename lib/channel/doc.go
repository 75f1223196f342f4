// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package channel implements the framed message channel used between
// privilege-separated processes.
//
// A Channel owns one Unix stream socket and moves typed messages over
// it as length-prefixed frames:
//
//	[u32 big-endian payload length][CBOR payload]
//
// There is no magic number or version byte; both ends are the same
// binary. Transmit and receive buffers are fixed at [BufferSize] bytes
// and are never resized, so a payload may be at most [MaxPayloadSize]
// bytes. Oversized messages fail with a [*FrameTooLargeError] before a
// single byte is written.
//
// # Descriptors
//
// A message may carry one OS file descriptor. Descriptors are never
// serialized into the payload: the sender attaches the descriptor as
// SCM_RIGHTS ancillary data to the first sendmsg of the frame, and the
// receiver queues every descriptor it sees in arrival order. After a
// frame is decoded, the message claims its descriptor from the
// [DescriptorQueue] through the two-phase [Message] contract:
// ExtractDescriptor at send time, AttachDescriptor at receive time.
//
// The sender keeps its own copy of a sent descriptor and decides when
// to close it. The receiver owns queued descriptors until a message
// claims them; closing the receiving side closes anything still
// queued, so no descriptor outlives its channel.
//
// # Concurrency
//
// [Channel.Split] yields a [Sender] and a [Receiver] over the same
// socket. Their state is disjoint and the socket's read and write
// deadlines are independent, so one goroutine can block in Send while
// another blocks in Receive with no shared lock. Within one half,
// frames are sent and received strictly in call order.
//
// Would-block results park the goroutine on the runtime poller until
// the socket is ready (via syscall.RawConn), never in a busy loop.
// Context cancellation wakes a parked call by moving the relevant
// deadline into the past. A Receive cancelled mid-frame keeps the
// bytes it has buffered and resumes on the next call.
//
// Errors other than cancellation and transmit-side oversize are sticky:
// once a half has failed it keeps returning the same error.
package channel
