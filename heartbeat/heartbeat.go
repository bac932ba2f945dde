// Copyright 2026 The Meterline Authors
// SPDX-License-Identifier: Apache-2.0

package heartbeat

import (
	"fmt"
	"sync"
	"time"

	"github.com/meterline/meterline/lib/clock"
)

// Tick is one heartbeat emission.
type Tick struct {
	// PingCount is the number of ticks emitted this session,
	// including this one.
	PingCount int

	// ActiveTime is the accumulated foreground time this session.
	// Paused periods never accrue.
	ActiveTime time.Duration
}

// Config holds the parameters for an Engine.
type Config struct {
	// BaseInterval is the tick interval while the user is active.
	// Must be positive.
	BaseInterval time.Duration

	// MaxInterval caps the widened interval during inactivity. Must
	// be at least BaseInterval.
	MaxInterval time.Duration

	// InactivityThreshold is how long without an interaction before
	// the interval starts widening. Must be positive.
	InactivityThreshold time.Duration

	// Clock schedules the ticks. Required.
	Clock clock.Clock

	// Emit receives each tick. Called off the engine's lock, so it
	// may call back into the engine. Required.
	Emit func(Tick)
}

// Engine is the adaptive heartbeat state machine. It is either
// running, with a tick pending, or paused, with no timer scheduled.
// Safe for concurrent use.
type Engine struct {
	mu sync.Mutex

	baseInterval        time.Duration
	maxInterval         time.Duration
	inactivityThreshold time.Duration
	clock               clock.Clock
	emit                func(Tick)

	running  bool
	interval time.Duration
	timer    *clock.Timer

	pingCount       int
	activeTime      time.Duration
	lastInteraction time.Time
}

// New validates the configuration and returns a paused Engine. Call
// Start to begin ticking.
func New(cfg Config) (*Engine, error) {
	if cfg.BaseInterval <= 0 {
		return nil, fmt.Errorf("heartbeat: BaseInterval must be positive, got %v", cfg.BaseInterval)
	}
	if cfg.MaxInterval < cfg.BaseInterval {
		return nil, fmt.Errorf("heartbeat: MaxInterval %v is below BaseInterval %v", cfg.MaxInterval, cfg.BaseInterval)
	}
	if cfg.InactivityThreshold <= 0 {
		return nil, fmt.Errorf("heartbeat: InactivityThreshold must be positive, got %v", cfg.InactivityThreshold)
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("heartbeat: Clock is required")
	}
	if cfg.Emit == nil {
		return nil, fmt.Errorf("heartbeat: Emit is required")
	}
	return &Engine{
		baseInterval:        cfg.BaseInterval,
		maxInterval:         cfg.MaxInterval,
		inactivityThreshold: cfg.InactivityThreshold,
		clock:               cfg.Clock,
		emit:                cfg.Emit,
		interval:            cfg.BaseInterval,
	}, nil
}

// Start begins ticking at the base interval and marks the current
// moment as an interaction. No-op while already running.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.interval = e.baseInterval
	e.lastInteraction = e.clock.Now()
	e.scheduleLocked()
}

// Resume restarts ticking after a Pause, at whatever interval the
// engine had reached. No-op while already running.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.scheduleLocked()
}

// Pause cancels the pending tick and freezes the active-time
// accumulator. No-op while already paused.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// RecordInteraction marks the user as active now. If the cadence had
// widened, it snaps back to the base interval immediately, rearming
// the pending tick so the re-engaged user is not stuck waiting out a
// long idle interval.
func (e *Engine) RecordInteraction() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastInteraction = e.clock.Now()
	if e.interval == e.baseInterval {
		return
	}
	e.interval = e.baseInterval
	if e.running && e.timer != nil {
		e.timer.Stop()
		e.scheduleLocked()
	}
}

// ResetSession zeroes the ping counter and the active-time
// accumulator. The running/paused state and the current interval are
// untouched.
func (e *Engine) ResetSession() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pingCount = 0
	e.activeTime = 0
}

// PingCount returns the ticks emitted this session.
func (e *Engine) PingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pingCount
}

// ActiveTime returns the accumulated foreground time this session.
func (e *Engine) ActiveTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeTime
}

// Interval returns the interval the next tick is scheduled at.
func (e *Engine) Interval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interval
}

// scheduleLocked arms the timer for the current interval. Caller
// holds e.mu.
func (e *Engine) scheduleLocked() {
	e.timer = e.clock.AfterFunc(e.interval, e.tick)
}

// tick is one heartbeat: account for the elapsed interval, widen or
// reset the cadence from interaction recency, rearm, then emit.
func (e *Engine) tick() {
	e.mu.Lock()
	if !e.running {
		// Pause raced the timer firing; drop the tick.
		e.mu.Unlock()
		return
	}

	e.pingCount++
	e.activeTime += e.interval

	idle := e.clock.Now().Sub(e.lastInteraction)
	if idle > e.inactivityThreshold {
		e.interval = min(e.interval*2, e.maxInterval)
	} else {
		e.interval = e.baseInterval
	}
	e.scheduleLocked()

	emitted := Tick{PingCount: e.pingCount, ActiveTime: e.activeTime}
	e.mu.Unlock()

	e.emit(emitted)
}
