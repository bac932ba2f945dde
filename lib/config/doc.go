// Copyright 2026 The Meterline Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the meterline
// agent.
//
// Configuration is loaded from a single file specified by:
//   - METERLINE_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
package config
