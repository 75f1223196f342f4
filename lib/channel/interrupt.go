// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"
)

// longAgo is any deadline already in the past.
var longAgo = time.Unix(1, 0)

// interrupter wakes a goroutine parked on the poller for one direction
// of the socket by moving that direction's deadline into the past. The
// mutex orders deadline changes so that a wake-up from Close or from a
// cancelled context is never overwritten by the next call clearing the
// deadline.
type interrupter struct {
	mu          sync.Mutex
	setDeadline func(time.Time) error
	closed      bool
}

// arm clears the deadline for a new operation and arranges for ctx
// cancellation to interrupt it. The returned disarm function must be
// called when the operation ends; it waits for an in-progress
// interruption to finish.
func (i *interrupter) arm(ctx context.Context) (disarm func(), err error) {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil, net.ErrClosed
	}
	err = i.setDeadline(time.Time{})
	i.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if ctx.Done() == nil {
		return func() {}, nil
	}
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(done)
		i.interrupt()
	})
	return func() {
		if !stop() {
			<-done
		}
	}, nil
}

func (i *interrupter) interrupt() {
	i.mu.Lock()
	defer i.mu.Unlock()
	_ = i.setDeadline(longAgo)
}

// close permanently interrupts this direction.
func (i *interrupter) close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	_ = i.setDeadline(longAgo)
}

// cause translates a deadline error produced by an interruption into
// what actually happened: local close or context cancellation.
func (i *interrupter) cause(ctx context.Context, err error) error {
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		return err
	}
	i.mu.Lock()
	closed := i.closed
	i.mu.Unlock()
	if closed {
		return net.ErrClosed
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
