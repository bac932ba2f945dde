// Copyright 2026 The Meterline Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meterline.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
collector:
  endpoint: https://collector.example.com/events
  secret_key: s3cret
  compress: true
identity:
  site_id: site-1
  user_id: user-7
delivery:
  store_path: /var/lib/meterline/offline.db
  batch_size: 50
  flush_interval: 10s
  max_retry_count: 5
  max_offline_events: 2000
  offline_retention_days: 14
session:
  timeout: 20m
  heartbeat_base_interval: 15s
  heartbeat_max_interval: 1m
  inactivity_threshold: 45s
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Collector.Endpoint != "https://collector.example.com/events" {
		t.Fatalf("Endpoint = %q", cfg.Collector.Endpoint)
	}
	if !cfg.Collector.Compress {
		t.Fatal("Compress not parsed")
	}
	if cfg.Delivery.FlushInterval != Duration(10*time.Second) {
		t.Fatalf("FlushInterval = %v", cfg.Delivery.FlushInterval)
	}
	if cfg.Session.Timeout != Duration(20*time.Minute) {
		t.Fatalf("Timeout = %v", cfg.Session.Timeout)
	}
}

func TestPipelineConversion(t *testing.T) {
	path := writeConfig(t, `
collector:
  endpoint: https://collector.example.com/events
identity:
  site_id: site-1
delivery:
  store_path: offline.db
  flush_interval: 10s
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	p := cfg.Pipeline()
	if p.FlushInterval != 10*time.Second {
		t.Fatalf("FlushInterval = %v, want the file value", p.FlushInterval)
	}
	// Everything the file omits keeps the pipeline default.
	if p.BatchSize != 20 {
		t.Fatalf("BatchSize = %d, want default 20", p.BatchSize)
	}
	if p.SessionTimeout != 30*time.Minute {
		t.Fatalf("SessionTimeout = %v, want default 30m", p.SessionTimeout)
	}
	if p.SecretKey != "" {
		t.Fatalf("SecretKey = %q, want unsigned", p.SecretKey)
	}
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
collector:
  endpoint: https://collector.example.com/events
  secrt_key: typo
`)

	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected an error for an unknown key")
	}
}

func TestLoadFileRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
delivery:
  flush_interval: ten seconds
`)

	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected an error for an invalid duration")
	}
}

func TestLoadRequiresEnvironmentVariable(t *testing.T) {
	t.Setenv("METERLINE_CONFIG", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error without METERLINE_CONFIG")
	}
}

func TestLoadUsesEnvironmentVariable(t *testing.T) {
	path := writeConfig(t, `
identity:
  site_id: site-1
`)
	t.Setenv("METERLINE_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Identity.SiteID != "site-1" {
		t.Fatalf("SiteID = %q", cfg.Identity.SiteID)
	}
}
