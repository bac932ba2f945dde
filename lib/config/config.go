// Copyright 2026 The Meterline Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meterline/meterline/pipeline"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML parses the node as a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the agent's YAML configuration.
type Config struct {
	// Collector configures where events go and how requests are
	// authenticated.
	Collector CollectorConfig `yaml:"collector"`

	// Identity configures who the events are about.
	Identity IdentityConfig `yaml:"identity"`

	// Delivery configures batching, retries, and the offline queue.
	Delivery DeliveryConfig `yaml:"delivery"`

	// Session configures session rollover and the heartbeat cadence.
	Session SessionConfig `yaml:"session"`
}

// CollectorConfig identifies and authenticates the collector.
type CollectorConfig struct {
	// Endpoint is the collector URL. Required.
	Endpoint string `yaml:"endpoint"`

	// SecretKey enables request signing. Empty means unsigned.
	SecretKey string `yaml:"secret_key"`

	// Compress gzips request bodies.
	Compress bool `yaml:"compress"`
}

// IdentityConfig identifies the application and optionally the user.
type IdentityConfig struct {
	// SiteID identifies the application to the collector. Required.
	SiteID string `yaml:"site_id"`

	// UserID optionally identifies the user.
	UserID string `yaml:"user_id"`
}

// DeliveryConfig tunes batching and the offline queue.
type DeliveryConfig struct {
	StorePath            string   `yaml:"store_path"`
	BatchSize            int      `yaml:"batch_size"`
	FlushInterval        Duration `yaml:"flush_interval"`
	RetrySweepInterval   Duration `yaml:"retry_sweep_interval"`
	MaxRetryCount        int      `yaml:"max_retry_count"`
	MaxOfflineEvents     int      `yaml:"max_offline_events"`
	OfflineRetentionDays int      `yaml:"offline_retention_days"`
}

// SessionConfig tunes the session and heartbeat timing.
type SessionConfig struct {
	Timeout               Duration `yaml:"timeout"`
	HeartbeatBaseInterval Duration `yaml:"heartbeat_base_interval"`
	HeartbeatMaxInterval  Duration `yaml:"heartbeat_max_interval"`
	InactivityThreshold   Duration `yaml:"inactivity_threshold"`
}

// Load reads the config file named by the METERLINE_CONFIG
// environment variable.
func Load() (*Config, error) {
	path := os.Getenv("METERLINE_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("METERLINE_CONFIG environment variable not set; " +
			"set it to the path of your meterline.yaml config file, or use --config flag")
	}
	return LoadFile(path)
}

// LoadFile reads and parses the config file at path. Unknown keys
// are rejected so typos surface immediately.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return &cfg, nil
}

// Pipeline converts the file values into a pipeline.Config, applying
// pipeline defaults for everything the file leaves zero.
func (c *Config) Pipeline() pipeline.Config {
	cfg := pipeline.Defaults()
	cfg.Endpoint = c.Collector.Endpoint
	cfg.SecretKey = c.Collector.SecretKey
	cfg.Compress = c.Collector.Compress
	cfg.SiteID = c.Identity.SiteID
	cfg.UserID = c.Identity.UserID
	cfg.StorePath = c.Delivery.StorePath

	if c.Delivery.BatchSize > 0 {
		cfg.BatchSize = c.Delivery.BatchSize
	}
	if c.Delivery.FlushInterval > 0 {
		cfg.FlushInterval = time.Duration(c.Delivery.FlushInterval)
	}
	if c.Delivery.RetrySweepInterval > 0 {
		cfg.RetrySweepInterval = time.Duration(c.Delivery.RetrySweepInterval)
	}
	if c.Delivery.MaxRetryCount > 0 {
		cfg.MaxRetryCount = c.Delivery.MaxRetryCount
	}
	if c.Delivery.MaxOfflineEvents > 0 {
		cfg.MaxOfflineEvents = c.Delivery.MaxOfflineEvents
	}
	if c.Delivery.OfflineRetentionDays > 0 {
		cfg.OfflineRetentionDays = c.Delivery.OfflineRetentionDays
	}
	if c.Session.Timeout > 0 {
		cfg.SessionTimeout = time.Duration(c.Session.Timeout)
	}
	if c.Session.HeartbeatBaseInterval > 0 {
		cfg.HeartbeatBaseInterval = time.Duration(c.Session.HeartbeatBaseInterval)
	}
	if c.Session.HeartbeatMaxInterval > 0 {
		cfg.HeartbeatMaxInterval = time.Duration(c.Session.HeartbeatMaxInterval)
	}
	if c.Session.InactivityThreshold > 0 {
		cfg.InactivityThreshold = time.Duration(c.Session.InactivityThreshold)
	}
	return cfg
}
