// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/privsep/lib/channel"
	"github.com/bureau-foundation/privsep/lib/clock"
	"github.com/bureau-foundation/privsep/lib/config"
	"github.com/bureau-foundation/privsep/lib/digest"
	"github.com/bureau-foundation/privsep/lib/ipc"
	"github.com/bureau-foundation/privsep/lib/process"
	"github.com/bureau-foundation/privsep/lib/restrict"
)

// controllerPromises is what the controller keeps once its children
// are running: it still creates the peer socket pair and the greeting
// file, passes descriptors, and kills children.
const controllerPromises = "stdio rpath wpath cpath tmppath proc sendfd"

// greetingName labels the handed-over file in control messages and
// the parser's digest report.
const greetingName = "greeting"

// controller supervises one parser and one engine.
type controller struct {
	config     *config.Config
	logger     *slog.Logger
	clock      clock.Clock
	executable string

	// childArgs follow the role argument on every child's command line.
	childArgs []string

	// childEnv is the children's environment. nil inherits ours.
	childEnv []string

	// observe, when set, is called from the event loop with every
	// report a child sends.
	observe func(ipc.Report)
}

// childExitError reports a child that exited before it was asked to,
// or that failed while stopping.
type childExitError struct {
	role     string
	status   process.ExitStatus
	stopping bool
}

func (e *childExitError) Error() string {
	if e.stopping {
		return fmt.Sprintf("%s failed while stopping (%v)", e.role, e.status)
	}
	return fmt.Sprintf("%s exited unexpectedly (%v)", e.role, e.status)
}

// supervised is the controller's view of one child.
type supervised struct {
	role     string
	child    *process.Child
	sender   *channel.Sender
	receiver *channel.Receiver
	reports  chan ipc.Report
	exited   bool

	// stop is closed when the shutdown delay elapses. The child's feeder
	// sends ControlStop once it sees it.
	stop chan struct{}
}

func (s *supervised) close() {
	s.sender.Close()
	s.receiver.Close()
}

// run spawns the children, introduces them, feeds the parser, and
// supervises both until they exit. It returns nil only when both
// children exited cleanly after being asked to stop.
func (c *controller) run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	parser, err := c.spawn(runCtx, roleParser)
	if err != nil {
		return err
	}
	engine, err := c.spawn(runCtx, roleEngine)
	if err != nil {
		c.terminate(parser)
		return err
	}
	children := []*supervised{parser, engine}

	// The shutdown delay runs from the moment both children exist, not
	// from the end of bootstrap.
	shutdown := c.clock.After(c.config.Controller.ShutdownDelay)

	group, groupCtx := errgroup.WithContext(runCtx)
	for _, child := range children {
		c.pumpReports(groupCtx, group, child)
	}

	loopErr := c.supervise(groupCtx, group, shutdown, parser, engine)

	cancel()
	for _, child := range children {
		c.terminate(child)
	}
	groupErr := group.Wait()
	if groupErr != nil && (loopErr == nil || errors.Is(loopErr, context.Canceled)) {
		return groupErr
	}
	return loopErr
}

// spawn starts one child with its end of a fresh control connection
// on process.ControlDescriptor.
func (c *controller) spawn(ctx context.Context, role string) (*supervised, error) {
	parentEnd, childEnd, err := channel.SocketPair()
	if err != nil {
		return nil, fmt.Errorf("creating %s control connection: %w", role, err)
	}

	child, err := process.Spawn(ctx, process.Spec{
		Role:             role,
		Path:             c.executable,
		Args:             append([]string{role}, c.childArgs...),
		Env:              c.childEnv,
		Connection:       childEnd,
		TargetDescriptor: process.ControlDescriptor,
	})
	if err != nil {
		parentEnd.Close()
		return nil, err
	}

	control, err := channel.FromFile(parentEnd, c.logger.With("child", role))
	if err != nil {
		child.Kill()
		<-child.Done()
		return nil, fmt.Errorf("adopting %s control connection: %w", role, err)
	}
	sender, receiver := control.Split()
	c.logger.Info("spawned child", "child", role, "child_pid", child.Pid())

	return &supervised{
		role:     role,
		child:    child,
		sender:   sender,
		receiver: receiver,
		reports:  make(chan ipc.Report),
		stop:     make(chan struct{}),
	}, nil
}

// pumpReports feeds child's reports into child.reports. A child that
// goes away ends its pump quietly: the exit itself is handled by the
// event loop.
func (c *controller) pumpReports(ctx context.Context, group *errgroup.Group, child *supervised) {
	group.Go(func() error {
		err := channel.Pump[ipc.Report](ctx, child.receiver, child.reports)
		if ctx.Err() != nil || channel.IsPeerGone(err) {
			return nil
		}
		return fmt.Errorf("%s reports: %w", child.role, err)
	})
}

// supervise is the controller's event loop. It never blocks on a
// child's control connection: everything after the introduction is
// sent by the children's feeders, so reports keep draining however far
// behind a child falls.
func (c *controller) supervise(ctx context.Context, group *errgroup.Group, shutdown <-chan time.Time, parser, engine *supervised) error {
	if err := c.bootstrap(ctx, parser, engine); err != nil {
		return err
	}
	c.feed(ctx, group, parser, c.config.Controller.Messages)
	c.feed(ctx, group, engine, nil)

	if err := restrict.Apply(controllerPromises, c.logger); err != nil {
		return err
	}

	expected := digest.Bytes([]byte(c.config.Controller.Greeting))

	stopping := false
	parserDone, engineDone := parser.child.Done(), engine.child.Done()

	for !parser.exited || !engine.exited {
		select {
		case <-shutdown:
			shutdown = nil
			stopping = true
			c.logger.Info("shutdown delay elapsed, stopping children")
			close(parser.stop)
			close(engine.stop)

		case report := <-parser.reports:
			if err := c.handleReport(report, expected); err != nil {
				return err
			}

		case report := <-engine.reports:
			if err := c.handleReport(report, expected); err != nil {
				return err
			}

		case <-parserDone:
			parserDone = nil
			if err := c.reap(ctx, parser, stopping); err != nil {
				return err
			}

		case <-engineDone:
			engineDone = nil
			if err := c.reap(ctx, engine, stopping); err != nil {
				return err
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.logger.Info("all children stopped")
	return nil
}

// bootstrap introduces the children to each other and hands the parser
// the greeting file. These are the first frames on fresh connections.
// The controller's copies of the passed descriptors are closed once
// sent.
func (c *controller) bootstrap(ctx context.Context, parser, engine *supervised) error {
	parserPeer, enginePeer, err := channel.SocketPair()
	if err != nil {
		return fmt.Errorf("creating peer connection: %w", err)
	}
	defer parserPeer.Close()
	defer enginePeer.Close()

	if err := c.send(ctx, parser, ipc.Control{Kind: ipc.ControlPeerSocket, File: parserPeer}); err != nil {
		return err
	}
	if err := c.send(ctx, engine, ipc.Control{Kind: ipc.ControlPeerSocket, File: enginePeer}); err != nil {
		return err
	}

	greeting, err := greetingFile(c.config.Controller.Greeting)
	if err != nil {
		return err
	}
	defer greeting.Close()
	return c.send(ctx, parser, ipc.Control{Kind: ipc.ControlFile, Text: greetingName, File: greeting})
}

// feed starts child's feeder in group: it sends lines in order and,
// once child.stop is closed, ControlStop. Lines not yet sent when stop
// arrives are dropped.
func (c *controller) feed(ctx context.Context, group *errgroup.Group, child *supervised, lines []string) {
	group.Go(func() error {
		err := c.sendLines(ctx, child, lines)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
}

func (c *controller) sendLines(ctx context.Context, child *supervised, lines []string) error {
	for i, line := range lines {
		select {
		case <-child.stop:
			c.logger.Warn("shutdown delay elapsed before all data lines were sent",
				"child", child.role,
				"dropped", len(lines)-i,
			)
			return c.send(ctx, child, ipc.Control{Kind: ipc.ControlStop})
		default:
		}
		if err := c.send(ctx, child, ipc.Control{Kind: ipc.ControlData, Text: line}); err != nil {
			return err
		}
	}
	if len(lines) > 0 {
		c.logger.Debug("all data lines sent", "child", child.role, "lines", len(lines))
	}

	select {
	case <-child.stop:
		return c.send(ctx, child, ipc.Control{Kind: ipc.ControlStop})
	case <-ctx.Done():
		return ctx.Err()
	}
}

// send delivers one control message. A child that has already gone
// away is not an error here; the event loop reports its exit.
func (c *controller) send(ctx context.Context, child *supervised, message ipc.Control) error {
	err := child.sender.Send(ctx, &message)
	if err == nil {
		return nil
	}
	if channel.IsPeerGone(err) {
		c.logger.Warn("child gone, dropping control message", "child", child.role, "kind", message.Kind, "error", err)
		return nil
	}
	return fmt.Errorf("sending %s to %s: %w", message.Kind, child.role, err)
}

func (c *controller) handleReport(report ipc.Report, expectedDigest digest.Digest) error {
	if c.observe != nil {
		c.observe(report)
	}

	switch report.Kind {
	case ipc.ReportReady:
		c.logger.Info("child ready", "child", report.Role)
	case ipc.ReportDigest:
		reported, err := digest.Parse(report.Digest)
		if err != nil {
			return fmt.Errorf("%s digest report for %q: %w", report.Role, report.Text, err)
		}
		if reported != expectedDigest {
			return fmt.Errorf("%s reported digest %s for %q, expected %s", report.Role, reported, report.Text, expectedDigest)
		}
		c.logger.Info("file digest verified", "child", report.Role, "name", report.Text, "size", report.Size, "digest", report.Digest)
	case ipc.ReportHeartbeat:
		c.logger.Debug("heartbeat", "child", report.Role, "sequence", report.Sequence)
	case ipc.ReportText:
		c.logger.Info("data line delivered", "child", report.Role, "sequence", report.Sequence, "text", report.Text)
	default:
		c.logger.Warn("ignoring unknown report", "child", report.Role, "kind", report.Kind)
	}
	return nil
}

// reap records a child's exit. Any exit before stop was sent, and any
// non-zero exit at all, is fatal for the tree.
func (c *controller) reap(ctx context.Context, child *supervised, stopping bool) error {
	status, err := child.child.Wait(ctx)
	child.exited = true
	if err != nil {
		return err
	}
	if !stopping || !status.Success() {
		c.logger.Error("child exited", "child", child.role, "status", status.String(), "stopping", stopping)
		return &childExitError{role: child.role, status: status, stopping: stopping}
	}
	c.logger.Info("child exited", "child", child.role, "status", status.String())
	return nil
}

// terminate kills child if it is still running, waits for it, and
// closes the controller's end of its control connection. Safe to call
// on a child that already exited.
func (c *controller) terminate(child *supervised) {
	if err := child.child.Kill(); err != nil {
		c.logger.Warn("killing child", "child", child.role, "error", err)
	}
	<-child.child.Done()
	child.close()
}

// greetingFile returns an unlinked temporary file holding content,
// positioned at the start.
func greetingFile(content string) (*os.File, error) {
	file, err := os.CreateTemp("", "privsep-greeting-*")
	if err != nil {
		return nil, fmt.Errorf("creating greeting file: %w", err)
	}
	if err := os.Remove(file.Name()); err != nil {
		file.Close()
		return nil, fmt.Errorf("unlinking greeting file: %w", err)
	}
	if _, err := file.WriteString(content); err != nil {
		file.Close()
		return nil, fmt.Errorf("writing greeting file: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("rewinding greeting file: %w", err)
	}
	return file, nil
}
