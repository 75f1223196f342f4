// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source for event loops.
//
// Event loops take a Clock instead of calling time.After or
// time.NewTicker directly. Production code passes Real(); tests pass
// Fake() and fire timers with Advance:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go loop(ctx, fake)
//	fake.WaitForTimers(1)
//	fake.Advance(5 * time.Second)
//
// This package depends on no other privsep packages.
package clock
