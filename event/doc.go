// Copyright 2026 The Meterline Authors
// SPDX-License-Identifier: Apache-2.0

// Package event defines the telemetry event record and its wire
// encoding.
//
// An Event is immutable once created: the tracking façade builds it,
// the pipeline only reads it. On the wire an event is a single flat
// JSON object: the identity and classification fields plus the
// type-specific attributes, all in snake_case.
package event
