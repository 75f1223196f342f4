// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/bureau-foundation/privsep/lib/clock"
	"github.com/bureau-foundation/privsep/lib/config"
	"github.com/bureau-foundation/privsep/lib/ipc"
)

// runEngine is the engine role: it reports the data lines the parser
// forwards, acknowledges them, and heartbeats to both peers.
func runEngine(ctx context.Context, logger *slog.Logger, cfg *config.Config, clk clock.Clock) error {
	connections, err := adoptConnections(ctx, roleEngine, enginePromises, logger)
	if err != nil {
		return err
	}
	defer connections.Close()

	engine := &engine{interval: cfg.Engine.HeartbeatInterval, clock: clk}
	return connections.run(ctx, engine.loop)
}

type engine struct {
	interval  time.Duration
	clock     clock.Clock
	heartbeat uint64
}

func (e *engine) loop(ctx context.Context, connections *childConnections, controls <-chan ipc.Control, peers <-chan ipc.Peer) error {
	logger := connections.logger
	ticker := e.clock.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.heartbeat++
			if err := connections.sendPeer(ctx, ipc.Peer{Kind: ipc.PeerHeartbeat, Sequence: e.heartbeat}); err != nil {
				return err
			}
			if err := connections.report(ctx, ipc.Report{Kind: ipc.ReportHeartbeat, Sequence: e.heartbeat}); err != nil {
				return err
			}

		case message := <-peers:
			if message.Kind != ipc.PeerData {
				logger.Warn("ignoring unexpected peer message", "kind", message.Kind)
				continue
			}
			logger.Info("data line received", "sequence", message.Sequence)
			if err := connections.report(ctx, ipc.Report{Kind: ipc.ReportText, Text: message.Text, Sequence: message.Sequence}); err != nil {
				return err
			}
			if err := connections.sendPeer(ctx, ipc.Peer{Kind: ipc.PeerAck, Sequence: message.Sequence}); err != nil {
				return err
			}

		case message := <-controls:
			if message.Kind == ipc.ControlStop {
				logger.Info("stop requested")
				return nil
			}
			discardFile(logger, message)
			logger.Warn("ignoring unexpected control message", "kind", message.Kind)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
