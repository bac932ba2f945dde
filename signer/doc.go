// Copyright 2026 The Meterline Authors
// SPDX-License-Identifier: Apache-2.0

// Package signer authenticates outgoing batches to the collector.
//
// The signature is HMAC-SHA256 over the request timestamp concatenated
// with the SHA-256 digest of the payload, hex-encoded. Binding the
// timestamp into the MAC gives the collector replay protection; the
// inner digest keeps the MAC input fixed-size.
//
// Signing is optional: with no secret configured, Sign returns the
// empty string and the transport omits the authentication headers.
// That degraded mode is deliberate: an unsigned pipeline still
// delivers.
package signer
