// Copyright 2026 The Meterline Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport performs single delivery attempts to the collector
// endpoint and classifies each outcome.
//
// One call, one HTTP POST, no state between calls. The classification
// is the contract the rest of the pipeline builds on:
//
//   - Delivered: the collector accepted the batch (202).
//   - RejectedTransient: worth retrying: 5xx, connection failure,
//     or timeout.
//   - RejectedPermanent: retrying the same bytes cannot succeed:
//     any other status.
//
// Connect and response timeouts are bounded (30s each by default) so
// a single attempt can never wedge the pipeline.
package transport
