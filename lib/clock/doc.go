// Copyright 2026 The Meterline Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction so that every
// timing decision in the pipeline (flush cadence, heartbeat scheduling,
// session rollover, retention sweeps) can be tested deterministically.
//
// Production code accepts a Clock and uses Real(). Tests use Fake(),
// whose time advances only when Advance is called:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	engine := heartbeat.New(cfg, c, emit)
//	engine.Start()
//	c.WaitForTimers(1)            // heartbeat registered its timer
//	c.Advance(30 * time.Second)   // fire the tick deterministically
//
// WaitForTimers removes the race between a goroutine registering a
// timer and the test advancing the clock, so tests never need to sleep.
package clock
