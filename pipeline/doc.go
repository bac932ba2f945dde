// Copyright 2026 The Meterline Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline assembles the full delivery pipeline: it stamps
// tracked events with session identity, batches and signs them,
// delivers them over HTTP, persists failures for redelivery, and
// runs the session and heartbeat state machines off the host's
// foreground/background transitions. Producers never see errors;
// delivery is best-effort and all loss is counted.
package pipeline
