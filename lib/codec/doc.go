// Copyright 2026 The Meterline Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding used for durably stored
// event records.
//
// Encoding is Core Deterministic (RFC 8949 §4.2): the same logical
// event always produces identical bytes, which makes the stored
// payload checksum stable across processes. Decoding ignores unknown
// fields so older SDK versions can read records written by newer ones.
package codec
