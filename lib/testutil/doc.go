// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for privsep packages.
//
// [RequireReceive], [RequireClosed], and [RequireError] encapsulate the
// timeout safety valve (select with a time.After fallback) so that
// individual tests never hang on a broken channel or a child process
// that does not exit. They are the only place in the test suite where
// real wall-clock timeouts are used.
//
// [SocketPair] returns a connected pair of Unix stream sockets for
// tests that drive one end of a channel by hand: writing raw frames,
// fragmenting them, or attaching descriptors the channel API would
// not produce.
//
// [TempFileWithContent] creates an unlinked file with known bytes,
// positioned at offset zero, for descriptor-transfer tests.
//
// [LogCapture] collects structured log output so tests can assert that
// an anomaly was logged rather than returned.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no privsep-internal dependencies.
package testutil
