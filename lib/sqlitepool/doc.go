// Copyright 2026 The Meterline Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite connection pools with the pragmas
// the offline store depends on (WAL journaling, NORMAL synchronous,
// busy timeout).
//
// The pool defaults are sized for an embedded client-side store: a
// couple of connections, not a server fleet. SQLite serializes writes
// regardless of pool size; the extra connection only helps when the
// recovery sweep reads while the dispatch path writes.
package sqlitepool
