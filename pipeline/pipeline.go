// Copyright 2026 The Meterline Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/meterline/meterline/dispatch"
	"github.com/meterline/meterline/event"
	"github.com/meterline/meterline/heartbeat"
	"github.com/meterline/meterline/lib/clock"
	"github.com/meterline/meterline/session"
	"github.com/meterline/meterline/signer"
	"github.com/meterline/meterline/store"
	"github.com/meterline/meterline/transport"
)

// Pipeline is the assembled delivery pipeline. Construct it once with
// New; all methods are safe for concurrent use and none of them
// returns delivery errors to the caller.
type Pipeline struct {
	siteID string
	userID string

	store    *store.Store
	queue    *dispatch.Queue
	sessions *session.Manager
	pings    *heartbeat.Engine
	clock    clock.Clock
	logger   *slog.Logger

	mu      sync.Mutex
	started bool // heartbeat has been through its first Start
	closed  bool
}

// Stats is a snapshot of the pipeline's delivery and loss counters.
type Stats struct {
	// Delivered events, including offline redeliveries.
	Delivered uint64

	// StoredForRetry is events handed to the offline queue after
	// transient failures.
	StoredForRetry uint64

	// RejectedPermanent is events discarded after the collector
	// refused them outright.
	RejectedPermanent uint64

	// Evicted is offline entries dropped to make room at capacity.
	Evicted uint64

	// Expired is offline entries dropped by the retention sweep.
	Expired uint64

	// RetryExhausted is offline entries dropped past the retry
	// ceiling.
	RetryExhausted uint64

	// Corrupt is offline entries dropped on a checksum mismatch.
	Corrupt uint64
}

// New validates the configuration and assembles the pipeline. The
// flush and redelivery workers start immediately; the session and
// heartbeat machinery waits for the first EnterForeground.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.SecretKey == "" {
		cfg.Logger.Warn("no secret key configured, requests will be unsigned")
	}

	st, err := store.Open(store.Config{
		Path:          cfg.StorePath,
		MaxEvents:     cfg.MaxOfflineEvents,
		RetentionDays: cfg.OfflineRetentionDays,
		Clock:         cfg.Clock,
		Logger:        cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: opening offline store: %w", err)
	}

	sender := cfg.Sender
	if sender == nil {
		sender, err = transport.New(transport.Config{
			Endpoint: cfg.Endpoint,
			Compress: cfg.Compress,
		})
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("pipeline: building transport: %w", err)
		}
	}

	queue, err := dispatch.New(dispatch.Config{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		SweepInterval: cfg.RetrySweepInterval,
		MaxRetryCount: cfg.MaxRetryCount,
		Signer:        signer.New(cfg.SecretKey),
		Sender:        sender,
		Store:         st,
		Clock:         cfg.Clock,
		Logger:        cfg.Logger,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	p := &Pipeline{
		siteID:   cfg.SiteID,
		userID:   cfg.UserID,
		store:    st,
		queue:    queue,
		sessions: session.NewManager(cfg.SessionTimeout, cfg.Clock),
		clock:    cfg.Clock,
		logger:   cfg.Logger,
	}

	p.pings, err = heartbeat.New(heartbeat.Config{
		BaseInterval:        cfg.HeartbeatBaseInterval,
		MaxInterval:         cfg.HeartbeatMaxInterval,
		InactivityThreshold: cfg.InactivityThreshold,
		Clock:               cfg.Clock,
		Emit:                p.emitHeartbeat,
	})
	if err != nil {
		queue.Close()
		st.Close()
		return nil, err
	}

	return p, nil
}

// Track records one event. The event is stamped with the site, user,
// and current session identity, buffered, and delivered
// asynchronously. Fire-and-forget: Track never blocks on the network
// and never reports delivery failures.
func (p *Pipeline) Track(eventType string, attributes map[string]any) {
	p.sessions.UpdateActivity()
	p.pings.RecordInteraction()
	p.enqueue(eventType, attributes)
}

// Flush requests an asynchronous delivery of whatever is buffered.
func (p *Pipeline) Flush() {
	p.queue.Flush()
}

// EnterForeground handles the host's entered-foreground transition.
// It may roll the session over, and it starts or resumes the
// heartbeat. Returns quickly; any flushing happens asynchronously.
func (p *Pipeline) EnterForeground() {
	if p.sessions.EnterForeground() {
		p.pings.ResetSession()
		p.logger.Info("session started", "session_id", p.sessions.ID())
	}

	p.mu.Lock()
	first := !p.started
	p.started = true
	p.mu.Unlock()

	if first {
		p.pings.Start()
	} else {
		p.pings.Resume()
	}
}

// EnterBackground handles the host's entered-background transition:
// the heartbeat pauses, the background moment is recorded for the
// rollover decision, and a flush is triggered so buffered events are
// not stranded while the process is suspended.
func (p *Pipeline) EnterBackground() {
	p.sessions.EnterBackground()
	p.pings.Pause()
	p.queue.Flush()
}

// SessionID returns the active session id, or "" before the first
// foreground transition.
func (p *Pipeline) SessionID() string {
	return p.sessions.ID()
}

// Stats returns a snapshot of the delivery and loss counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Delivered:         p.queue.Delivered(),
		StoredForRetry:    p.queue.Stored(),
		RejectedPermanent: p.queue.RejectedPermanent(),
		Evicted:           p.store.Evicted(),
		Expired:           p.store.Expired(),
		RetryExhausted:    p.store.Exhausted(),
		Corrupt:           p.store.Corrupt(),
	}
}

// Close shuts the pipeline down: the heartbeat stops, the dispatch
// workers finish, the buffer gets one bounded delivery attempt with
// failures funneled to the offline store, and the store closes.
// Tracks arriving after Close are dropped.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.pings.Pause()
	p.queue.Close()
	return p.store.Close()
}

// emitHeartbeat turns a heartbeat tick into a tracked event. Ticks
// bypass the interaction accounting; a liveness ping is not user
// activity.
func (p *Pipeline) emitHeartbeat(tick heartbeat.Tick) {
	p.enqueue("heartbeat", map[string]any{
		"pingCount":    tick.PingCount,
		"activeTimeMs": tick.ActiveTime.Milliseconds(),
	})
}

func (p *Pipeline) enqueue(eventType string, attributes map[string]any) {
	p.queue.Enqueue(event.Event{
		SiteID:     p.siteID,
		SessionID:  p.sessions.ID(),
		UserID:     p.userID,
		Type:       eventType,
		Timestamp:  p.clock.Now().UnixMilli(),
		Attributes: attributes,
	})
}
