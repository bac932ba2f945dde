// Copyright 2026 The Meterline Authors
// SPDX-License-Identifier: Apache-2.0

// Package store is the durable offline queue: events that failed
// delivery wait here, on disk, until a recovery sweep retries them.
// It is the pipeline's only crash-recovery mechanism: entries
// survive process termination and are picked up on the next launch.
//
// The queue is bounded two ways. Capacity: storing into a full queue
// evicts the oldest entries first. Age: a retention sweep purges
// entries older than the configured retention, regardless of retry
// count. Both losses are counted, not raised.
//
// Records are deterministic CBOR with a BLAKE3 checksum; rows that
// fail the checksum on fetch are dropped rather than retried forever.
// All operations serialize through SQLite, so concurrent store,
// fetch, delete, and retry accounting are safe.
package store
