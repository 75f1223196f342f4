// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides the process-level primitives of the privsep
// tree: spawning a child with its control connection remapped onto a
// fixed descriptor number, waiting for and killing children, and the
// binary entrypoint error handler.
//
// The descriptor remap relies on exec.Cmd.ExtraFiles: the Go runtime
// performs the dup2 between fork and exec using raw system calls only,
// and clears close-on-exec on the remapped number. Nothing else the
// parent has open crosses exec, since every descriptor the runtime and
// this module create is close-on-exec.
//
// Fatal is one of the two places outside of CLI output where raw
// writes to stderr are allowed: before the structured logger exists,
// or after run() has returned.
package process
