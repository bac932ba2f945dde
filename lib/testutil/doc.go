// Copyright 2026 The Meterline Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared helpers for pipeline tests:
// bounded channel receives so a broken goroutine fails the test
// instead of hanging it.
package testutil
