// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package digest provides BLAKE3 content hashing for files passed
// between privsep processes.
//
// The parser digests every file the controller hands it and reports
// the result; the controller computes the same digest over the content
// it wrote and compares. A match shows the descriptor that crossed two
// processes refers to the bytes the controller meant to send.
//
// The API surface is small:
//
//   - [Reader] -- streams a reader through BLAKE3, returning the
//     [Digest] and the byte count with constant memory usage
//   - [Bytes] -- the same over an in-memory buffer
//   - [Digest.String] -- the canonical hex encoding, used in reports
//     and log output
//   - [Parse] -- parses a hex-encoded digest back, validating length
//     and encoding
//
// This package has no dependencies on other privsep packages.
package digest
