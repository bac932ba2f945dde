// Copyright 2026 The Meterline Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meterline/meterline/lib/clock"
)

// Manager decides when a new session begins. Rollover is driven
// solely by how long the application stayed in the background, never
// by wall-clock boundaries or event counts. Safe for concurrent use.
type Manager struct {
	mu sync.Mutex

	timeout time.Duration
	clock   clock.Clock

	id           string
	startedAt    time.Time
	lastActivity time.Time

	// backgroundAt is the zero time while foregrounded or before the
	// first background transition.
	backgroundAt time.Time
}

// NewManager creates a Manager with no active session. The first
// EnterForeground call starts one.
func NewManager(timeout time.Duration, clk clock.Clock) *Manager {
	return &Manager{
		timeout: timeout,
		clock:   clk,
	}
}

// EnterForeground handles the entered-foreground transition. A new
// session starts on first launch, and after any background period
// longer than the timeout. Reports whether a new session began.
func (m *Manager) EnterForeground() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()

	if m.id == "" {
		m.rollOver(now)
		return true
	}
	if !m.backgroundAt.IsZero() && now.Sub(m.backgroundAt) > m.timeout {
		m.rollOver(now)
		return true
	}

	// The background period was short enough; the session continues.
	m.backgroundAt = time.Time{}
	return false
}

// EnterBackground records when the application left the foreground.
// The session does not end here: the next foreground transition
// decides, from the elapsed gap, whether it rolled over.
func (m *Manager) EnterBackground() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backgroundAt = m.clock.Now()
}

// UpdateActivity notes that a tracked event occurred. Never starts a
// session.
func (m *Manager) UpdateActivity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActivity = m.clock.Now()
}

// ID returns the active session id, or "" before the first
// foreground transition.
func (m *Manager) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

// StartedAt returns when the active session began.
func (m *Manager) StartedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startedAt
}

// LastActivity returns the most recent UpdateActivity time.
func (m *Manager) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

func (m *Manager) rollOver(now time.Time) {
	m.id = uuid.NewString()
	m.startedAt = now
	m.lastActivity = now
	m.backgroundAt = time.Time{}
}
