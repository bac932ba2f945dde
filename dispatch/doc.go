// Copyright 2026 The Meterline Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch buffers events in memory and delivers them in
// batches: a flush loop drains the buffer on a timer or when the
// buffer reaches the batch size, and a recovery loop redelivers
// events the durable queue is holding after earlier failures.
package dispatch
