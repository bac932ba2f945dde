// Copyright 2026 The Meterline Authors
// SPDX-License-Identifier: Apache-2.0

// Package session tracks the current session identity. A session
// survives background periods shorter than the configured timeout;
// longer gaps roll the session over to a fresh id on the next
// foreground transition.
package session
