// Copyright 2026 The Meterline Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/meterline/meterline/lib/clock"
	"github.com/meterline/meterline/transport"
)

// Config holds every knob of the pipeline. It is read once at New;
// later mutation has no effect.
type Config struct {
	// Endpoint is the collector URL events are POSTed to. Required.
	Endpoint string

	// SiteID identifies the application to the collector. Required.
	SiteID string

	// UserID optionally identifies the user; stamped onto every
	// event when set.
	UserID string

	// SecretKey enables request signing. Empty means unsigned
	// requests, which is allowed but degraded.
	SecretKey string

	// StorePath is the SQLite file for the offline queue. Required.
	StorePath string

	// Compress gzips request bodies when true.
	Compress bool

	// BatchSize is the buffer size that triggers an immediate flush.
	BatchSize int

	// FlushInterval is the period of the timer-driven flush.
	FlushInterval time.Duration

	// RetrySweepInterval is the period of the offline redelivery
	// loop. Zero means FlushInterval times six.
	RetrySweepInterval time.Duration

	// MaxRetryCount is the per-event redelivery ceiling.
	MaxRetryCount int

	// MaxOfflineEvents bounds the offline queue; the oldest entries
	// are evicted beyond it.
	MaxOfflineEvents int

	// OfflineRetentionDays is the maximum age of an offline entry.
	OfflineRetentionDays int

	// SessionTimeout is the background gap that rolls the session.
	SessionTimeout time.Duration

	// HeartbeatBaseInterval is the heartbeat cadence while active.
	HeartbeatBaseInterval time.Duration

	// HeartbeatMaxInterval caps the widened idle cadence.
	HeartbeatMaxInterval time.Duration

	// InactivityThreshold is how long without interaction before the
	// heartbeat cadence widens.
	InactivityThreshold time.Duration

	// Logger receives diagnostics. Nil means discard.
	Logger *slog.Logger

	// Clock drives every timer. Nil means the real clock.
	Clock clock.Clock

	// Sender overrides the HTTP transport when set; used by tests
	// and exotic host integrations.
	Sender transport.Sender
}

// Defaults returns a Config with production defaults for everything
// except the deployment-specific fields (Endpoint, SiteID, SecretKey,
// StorePath).
func Defaults() Config {
	return Config{
		BatchSize:             20,
		FlushInterval:         30 * time.Second,
		MaxRetryCount:         3,
		MaxOfflineEvents:      1000,
		OfflineRetentionDays:  7,
		SessionTimeout:        30 * time.Minute,
		HeartbeatBaseInterval: 30 * time.Second,
		HeartbeatMaxInterval:  2 * time.Minute,
		InactivityThreshold:   30 * time.Second,
	}
}

// validate checks the deployment fields and fills derived defaults.
func (c *Config) validate() error {
	if c.Endpoint == "" && c.Sender == nil {
		return fmt.Errorf("pipeline: Endpoint is required")
	}
	if c.SiteID == "" {
		return fmt.Errorf("pipeline: SiteID is required")
	}
	if c.StorePath == "" {
		return fmt.Errorf("pipeline: StorePath is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("pipeline: BatchSize must be positive, got %d", c.BatchSize)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("pipeline: FlushInterval must be positive, got %v", c.FlushInterval)
	}
	if c.RetrySweepInterval == 0 {
		c.RetrySweepInterval = 6 * c.FlushInterval
	}
	if c.RetrySweepInterval < 0 {
		return fmt.Errorf("pipeline: RetrySweepInterval must not be negative, got %v", c.RetrySweepInterval)
	}
	if c.MaxRetryCount <= 0 {
		return fmt.Errorf("pipeline: MaxRetryCount must be positive, got %d", c.MaxRetryCount)
	}
	if c.MaxOfflineEvents <= 0 {
		return fmt.Errorf("pipeline: MaxOfflineEvents must be positive, got %d", c.MaxOfflineEvents)
	}
	if c.OfflineRetentionDays <= 0 {
		return fmt.Errorf("pipeline: OfflineRetentionDays must be positive, got %d", c.OfflineRetentionDays)
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("pipeline: SessionTimeout must be positive, got %v", c.SessionTimeout)
	}
	if c.HeartbeatBaseInterval <= 0 {
		return fmt.Errorf("pipeline: HeartbeatBaseInterval must be positive, got %v", c.HeartbeatBaseInterval)
	}
	if c.HeartbeatMaxInterval < c.HeartbeatBaseInterval {
		return fmt.Errorf("pipeline: HeartbeatMaxInterval %v is below HeartbeatBaseInterval %v",
			c.HeartbeatMaxInterval, c.HeartbeatBaseInterval)
	}
	if c.InactivityThreshold <= 0 {
		return fmt.Errorf("pipeline: InactivityThreshold must be positive, got %v", c.InactivityThreshold)
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return nil
}
