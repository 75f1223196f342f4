// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding used for channel frame
// payloads.
//
// Every message that crosses a privsep channel is encoded with this
// package so both ends of a connection agree on the bytes without a
// version byte or schema negotiation: processes on either end are the
// same binary. The encoder uses Core Deterministic Encoding, so the
// same message always encodes to the same length and the transmit
// budget check is reproducible.
//
//	payload, err := codec.Marshal(message)
//	err = codec.Unmarshal(payload, &message)
//
// Message types carry `cbor` struct tags. Descriptor fields are tagged
// `cbor:"-"`: descriptors travel out-of-band as ancillary data and are
// never serialized inline (see lib/channel).
//
// This package depends on no other privsep packages.
package codec
