// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/privsep/lib/channel"
	"github.com/bureau-foundation/privsep/lib/ipc"
	"github.com/bureau-foundation/privsep/lib/process"
	"github.com/bureau-foundation/privsep/lib/restrict"
)

// Privileges each child keeps once its connections are in place.
const (
	parserPromises = "stdio recvfd"
	enginePromises = "stdio"
)

// errControlClosed stops a child whose controller closed the control
// connection between frames without sending stop.
var errControlClosed = errors.New("control connection closed by controller")

// childConnections are the two channels a child works with: control
// to and from the controller, peer to and from the other child. Each
// is split so its receive half can be pumped while the event loop
// sends on the other.
type childConnections struct {
	role   string
	logger *slog.Logger

	controlSender   *channel.Sender
	controlReceiver *channel.Receiver
	peerSender      *channel.Sender
	peerReceiver    *channel.Receiver
}

// adoptConnections takes over the control connection on the fixed
// descriptor, waits for the controller to introduce the peer, drops
// privileges, and reports ready.
func adoptConnections(ctx context.Context, role string, promises string, logger *slog.Logger) (*childConnections, error) {
	control, err := channel.FromDescriptor(process.ControlDescriptor, logger.With("connection", "control"))
	if err != nil {
		return nil, fmt.Errorf("adopting control connection: %w", err)
	}
	connections := &childConnections{role: role, logger: logger}
	connections.controlSender, connections.controlReceiver = control.Split()

	var introduction ipc.Control
	if err := connections.controlReceiver.Receive(ctx, &introduction); err != nil {
		connections.Close()
		return nil, fmt.Errorf("waiting for peer introduction: %w", err)
	}
	if introduction.Kind != ipc.ControlPeerSocket {
		if introduction.File != nil {
			introduction.File.Close()
		}
		connections.Close()
		return nil, fmt.Errorf("expected %s as the first control message, got %s", ipc.ControlPeerSocket, introduction.Kind)
	}
	peer, err := channel.FromFile(introduction.File, logger.With("connection", "peer"))
	if err != nil {
		connections.Close()
		return nil, fmt.Errorf("adopting peer socket: %w", err)
	}
	connections.peerSender, connections.peerReceiver = peer.Split()

	if err := restrict.Apply(promises, logger); err != nil {
		connections.Close()
		return nil, err
	}

	if err := connections.report(ctx, ipc.Report{Kind: ipc.ReportReady}); err != nil {
		connections.Close()
		return nil, err
	}
	logger.Info("connections adopted")
	return connections, nil
}

// pump starts the receive pumps for both connections in group.
//
// The control pump ends the child when it stops: a clean close by the
// controller is errControlClosed, anything else (including EOF in the
// middle of a frame) is returned as is. The peer pump only logs when
// the other child goes away; it is the controller that decides whether
// that is a failure.
func (c *childConnections) pump(ctx context.Context, group *errgroup.Group) (<-chan ipc.Control, <-chan ipc.Peer) {
	controls := make(chan ipc.Control)
	peers := make(chan ipc.Peer)

	group.Go(func() error {
		err := channel.Pump[ipc.Control](ctx, c.controlReceiver, controls)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, io.EOF):
			return errControlClosed
		default:
			return fmt.Errorf("control connection: %w", err)
		}
	})
	group.Go(func() error {
		err := channel.Pump[ipc.Peer](ctx, c.peerReceiver, peers)
		switch {
		case ctx.Err() != nil:
			return nil
		case channel.IsPeerGone(err):
			c.logger.Info("peer connection closed")
			return nil
		default:
			return fmt.Errorf("peer connection: %w", err)
		}
	})
	return controls, peers
}

// eventLoop is a role's main loop. It returns nil when asked to stop.
type eventLoop func(ctx context.Context, connections *childConnections, controls <-chan ipc.Control, peers <-chan ipc.Peer) error

// run pumps both connections into loop and waits for everything to
// wind down once loop returns. The error that stopped a pump takes
// precedence over the cancellation it caused in loop.
func (c *childConnections) run(ctx context.Context, loop eventLoop) error {
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, groupCtx := errgroup.WithContext(loopCtx)
	controls, peers := c.pump(groupCtx, group)

	loopErr := loop(groupCtx, c, controls, peers)
	cancel()
	groupErr := group.Wait()
	if groupErr != nil {
		return finish(c.logger, groupErr)
	}
	return loopErr
}

// report sends one Report to the controller, stamped with this child's
// role.
func (c *childConnections) report(ctx context.Context, report ipc.Report) error {
	report.Role = c.role
	if err := c.controlSender.Send(ctx, &report); err != nil {
		return fmt.Errorf("sending %s report: %w", report.Kind, err)
	}
	return nil
}

// sendPeer sends one message to the other child. A peer that has
// already gone is logged, not fatal: the controller sees the exit and
// decides.
func (c *childConnections) sendPeer(ctx context.Context, message ipc.Peer) error {
	err := c.peerSender.Send(ctx, &message)
	if err == nil {
		return nil
	}
	if channel.IsPeerGone(err) {
		c.logger.Warn("peer gone, dropping message", "kind", message.Kind, "sequence", message.Sequence)
		return nil
	}
	return fmt.Errorf("sending %s to peer: %w", message.Kind, err)
}

// Close closes every half that was opened.
func (c *childConnections) Close() error {
	var errs []error
	if c.controlSender != nil {
		errs = append(errs, c.controlSender.Close(), c.controlReceiver.Close())
	}
	if c.peerSender != nil {
		errs = append(errs, c.peerSender.Close(), c.peerReceiver.Close())
	}
	return errors.Join(errs...)
}

// finish turns the error that ended a child's event loop into its exit
// result.
func finish(logger *slog.Logger, err error) error {
	if errors.Is(err, errControlClosed) {
		logger.Info("controller closed the control connection, exiting")
		return nil
	}
	return err
}

// discardFile closes the descriptor of a message this role does not
// expect to carry one.
func discardFile(logger *slog.Logger, message ipc.Control) {
	if message.File == nil {
		return
	}
	logger.Warn("closing unexpected descriptor", "kind", message.Kind)
	message.File.Close()
}
