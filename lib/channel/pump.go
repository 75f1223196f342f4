// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"context"
)

// Pump receives messages of type M from receiver and forwards them to
// out until the receiver fails or ctx is done. It is the bridge between
// a blocking Receiver and a select-based event loop. out is not closed.
//
// Pump returns the error that stopped it; a clean peer shutdown
// between frames matches io.EOF. A message received but not delivered
// because ctx ended has its descriptor closed.
//
//	reports := make(chan ipc.Report)
//	group.Go(func() error {
//	    return channel.Pump[ipc.Report](ctx, receiver, reports)
//	})
func Pump[M any, P interface {
	*M
	Message
}](ctx context.Context, receiver *Receiver, out chan<- M) error {
	for {
		var message M
		if err := receiver.Receive(ctx, P(&message)); err != nil {
			return err
		}
		select {
		case out <- message:
		case <-ctx.Done():
			if file, _ := P(&message).ExtractDescriptor(); file != nil {
				file.Close()
			}
			return ctx.Err()
		}
	}
}
