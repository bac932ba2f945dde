// Copyright 2026 The Meterline Authors
// SPDX-License-Identifier: Apache-2.0

// Package heartbeat emits periodic liveness pings whose interval
// adapts to user inactivity: idle sessions back off toward a maximum
// interval, and any interaction snaps the cadence back to the base.
package heartbeat
