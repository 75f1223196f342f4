// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/privsep/lib/digest"
	"github.com/bureau-foundation/privsep/lib/ipc"
)

// runParser is the parser role: it digests files handed to it by the
// controller and forwards the controller's data lines to the engine.
func runParser(ctx context.Context, logger *slog.Logger) error {
	connections, err := adoptConnections(ctx, roleParser, parserPromises, logger)
	if err != nil {
		return err
	}
	defer connections.Close()

	return connections.run(ctx, parserLoop)
}

// parserLoop forwards data lines through a separate goroutine so that
// the engine's acks and heartbeats keep draining while a forward is
// blocked on a full peer connection. At most one line is held for
// forwarding; until it is taken, no further control messages are read.
func parserLoop(ctx context.Context, connections *childConnections, controls <-chan ipc.Control, peers <-chan ipc.Peer) error {
	forwards := make(chan ipc.Peer)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return forwardToPeer(groupCtx, connections, forwards)
	})

	loopErr := forwardLoop(groupCtx, connections, controls, peers, forwards)

	// The forwarder finishes the line it holds before exiting, so the
	// engine never sees a torn frame when the parser stops. Peer traffic
	// is drained meanwhile: an engine blocked on an ack would never take
	// that line.
	close(forwards)
	forwarded := make(chan error, 1)
	go func() { forwarded <- group.Wait() }()
	for {
		select {
		case message := <-peers:
			connections.logger.Debug("dropping peer message while stopping", "kind", message.Kind, "sequence", message.Sequence)
		case err := <-forwarded:
			if err != nil && (loopErr == nil || errors.Is(loopErr, context.Canceled)) {
				return err
			}
			return loopErr
		}
	}
}

func forwardLoop(ctx context.Context, connections *childConnections, controls <-chan ipc.Control, peers <-chan ipc.Peer, forwards chan<- ipc.Peer) error {
	logger := connections.logger
	var sequence uint64

	incoming := controls
	var outgoing chan<- ipc.Peer
	var next ipc.Peer

	for {
		select {
		case outgoing <- next:
			outgoing, incoming = nil, controls

		case message := <-incoming:
			switch message.Kind {
			case ipc.ControlFile:
				if err := digestFile(ctx, connections, message); err != nil {
					return err
				}

			case ipc.ControlData:
				sequence++
				logger.Debug("forwarding data line", "sequence", sequence)
				next = ipc.Peer{Kind: ipc.PeerData, Text: message.Text, Sequence: sequence}
				outgoing, incoming = forwards, nil

			case ipc.ControlStop:
				logger.Info("stop requested")
				return nil

			default:
				discardFile(logger, message)
				logger.Warn("ignoring unexpected control message", "kind", message.Kind)
			}

		case message := <-peers:
			switch message.Kind {
			case ipc.PeerAck:
				logger.Debug("engine acknowledged data line", "sequence", message.Sequence)
			case ipc.PeerHeartbeat:
				logger.Debug("engine heartbeat", "sequence", message.Sequence)
			default:
				logger.Warn("ignoring unexpected peer message", "kind", message.Kind)
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// forwardToPeer sends every line from forwards to the engine, in order,
// until forwards is closed.
func forwardToPeer(ctx context.Context, connections *childConnections, forwards <-chan ipc.Peer) error {
	for message := range forwards {
		if err := connections.sendPeer(ctx, message); err != nil {
			return err
		}
	}
	return nil
}

// digestFile reads the handed-over file to the end, closes it, and
// reports its blake3 digest and size.
func digestFile(ctx context.Context, connections *childConnections, message ipc.Control) error {
	defer message.File.Close()

	sum, size, err := digest.Reader(message.File)
	if err != nil {
		return fmt.Errorf("reading handed-over file %q: %w", message.Text, err)
	}
	connections.logger.Info("digested handed-over file", "name", message.Text, "size", size, "digest", sum.String())

	return connections.report(ctx, ipc.Report{
		Kind:   ipc.ReportDigest,
		Text:   message.Text,
		Digest: sum.String(),
		Size:   size,
	})
}
