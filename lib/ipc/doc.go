// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the CBOR-encoded message types exchanged by the
// privsep roles. The controller, parser, and engine all import this
// package so the wire types are defined once rather than mirrored.
//
// Each connection in the process tree has a fixed message type per
// direction:
//
//	controller -> parser, engine   Control
//	parser, engine -> controller   Report
//	parser <-> engine              Peer
//
// Control is the only type with descriptor-carrying kinds. Every type
// implements channel.Message on its pointer.
package ipc
