// Copyright 2026 The Meterline Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/meterline/meterline/event"
	"github.com/meterline/meterline/lib/clock"
	"github.com/meterline/meterline/lib/codec"
	"github.com/meterline/meterline/lib/sqlitepool"
)

// StoredEvent is an event awaiting redelivery: the original record
// plus the queue's own accounting.
type StoredEvent struct {
	// ID is the queue-assigned identifier, unique per entry.
	ID string

	// Event is the decoded original event.
	Event event.Event

	// CreatedAt is when the entry was stored, in Unix milliseconds.
	CreatedAt int64

	// RetryCount is how many failed redelivery attempts the entry
	// has been through. Monotone, bounded by the configured ceiling.
	RetryCount int
}

// Config holds the parameters for opening a Store.
type Config struct {
	// Path is the SQLite database file. Required.
	Path string

	// MaxEvents bounds the queue size. Storing into a full queue
	// evicts the oldest entries. Must be positive.
	MaxEvents int

	// RetentionDays is the maximum age of an entry. SweepExpired
	// purges older ones. Must be positive.
	RetentionDays int

	// Clock provides the current time for timestamps and retention
	// decisions. Required.
	Clock clock.Clock

	// Logger receives operational messages. Nil means discard.
	Logger *slog.Logger
}

// Store is the sqlite-backed offline queue. Safe for concurrent use.
type Store struct {
	pool      *sqlitepool.Pool
	clock     clock.Clock
	logger    *slog.Logger
	maxEvents int
	retention time.Duration

	// Loss accounting, read by pipeline stats.
	evicted   atomic.Uint64
	expired   atomic.Uint64
	exhausted atomic.Uint64
	corrupt   atomic.Uint64
}

const schema = `
	CREATE TABLE IF NOT EXISTS pending_events (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		id          TEXT NOT NULL UNIQUE,
		payload     BLOB NOT NULL,
		checksum    BLOB NOT NULL,
		created_at  INTEGER NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_pending_events_created
		ON pending_events(created_at);
`

// Open creates or opens the offline queue at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.MaxEvents <= 0 {
		return nil, fmt.Errorf("store: MaxEvents must be positive, got %d", cfg.MaxEvents)
	}
	if cfg.RetentionDays <= 0 {
		return nil, fmt.Errorf("store: RetentionDays must be positive, got %d", cfg.RetentionDays)
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("store: Clock is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   cfg.Path,
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	return &Store{
		pool:      pool,
		clock:     cfg.Clock,
		logger:    logger,
		maxEvents: cfg.MaxEvents,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
	}, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Store persists one event for later redelivery. If the queue is at
// capacity, the oldest entries are evicted first; eviction is counted
// but not an error.
func (s *Store) Store(ctx context.Context, e event.Event) error {
	payload, err := codec.Marshal(e)
	if err != nil {
		return fmt.Errorf("store: encoding event: %w", err)
	}
	checksum := blake3.Sum256(payload)

	id, err := newEntryID()
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	count, err := countEvents(conn)
	if err != nil {
		return err
	}

	if overflow := count - s.maxEvents + 1; overflow > 0 {
		if err = s.evictOldest(conn, overflow); err != nil {
			return err
		}
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO pending_events (id, payload, checksum, created_at, retry_count)
		 VALUES (?, ?, ?, ?, 0)`,
		&sqlitex.ExecOptions{
			Args: []any{id, payload, checksum[:], s.clock.Now().UnixMilli()},
		})
	if err != nil {
		return fmt.Errorf("store: insert: %w", err)
	}
	return nil
}

// evictOldest removes the n lowest-sequence entries. Caller holds the
// transaction.
func (s *Store) evictOldest(conn *sqlite.Conn, n int) error {
	err := sqlitex.Execute(conn,
		`DELETE FROM pending_events WHERE seq IN
		 (SELECT seq FROM pending_events ORDER BY seq ASC LIMIT ?)`,
		&sqlitex.ExecOptions{Args: []any{n}})
	if err != nil {
		return fmt.Errorf("store: evicting %d entries: %w", n, err)
	}
	s.evicted.Add(uint64(n))
	s.logger.Warn("offline queue at capacity, evicted oldest",
		"evicted", n,
		"capacity", s.maxEvents,
	)
	return nil
}

// FetchPending returns all stored entries in insertion order (oldest
// first), which is the redelivery order. Entries whose payload fails the
// checksum are deleted and counted, not returned.
func (s *Store) FetchPending(ctx context.Context) ([]StoredEvent, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	defer s.pool.Put(conn)

	var pending []StoredEvent
	var corruptIDs []string

	err = sqlitex.Execute(conn,
		`SELECT id, payload, checksum, created_at, retry_count
		 FROM pending_events ORDER BY seq ASC`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				entry, ok := s.scanEntry(stmt)
				if !ok {
					corruptIDs = append(corruptIDs, stmt.ColumnText(0))
					return nil
				}
				pending = append(pending, entry)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: fetch pending: %w", err)
	}

	if len(corruptIDs) > 0 {
		if err := deleteIDs(conn, corruptIDs); err != nil {
			return nil, err
		}
		s.corrupt.Add(uint64(len(corruptIDs)))
		s.logger.Warn("dropped corrupt offline entries", "count", len(corruptIDs))
	}

	return pending, nil
}

// scanEntry decodes one row. Returns ok=false for rows that fail the
// checksum or do not decode.
func (s *Store) scanEntry(stmt *sqlite.Stmt) (StoredEvent, bool) {
	entry := StoredEvent{
		ID:         stmt.ColumnText(0),
		CreatedAt:  stmt.ColumnInt64(3),
		RetryCount: stmt.ColumnInt(4),
	}

	payload := make([]byte, stmt.ColumnLen(1))
	stmt.ColumnBytes(1, payload)
	checksum := make([]byte, stmt.ColumnLen(2))
	stmt.ColumnBytes(2, checksum)

	expected := blake3.Sum256(payload)
	if !bytes.Equal(expected[:], checksum) {
		return StoredEvent{}, false
	}
	if err := codec.Unmarshal(payload, &entry.Event); err != nil {
		return StoredEvent{}, false
	}
	return entry, true
}

// Delete removes entries by ID, typically after a successful retry.
// IDs that no longer exist are ignored.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer s.pool.Put(conn)

	return deleteIDs(conn, ids)
}

func deleteIDs(conn *sqlite.Conn, ids []string) error {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	err := sqlitex.Execute(conn,
		"DELETE FROM pending_events WHERE id IN ("+placeholders+")",
		&sqlitex.ExecOptions{Args: args})
	if err != nil {
		return fmt.Errorf("store: delete: %w", err)
	}
	return nil
}

// IncrementRetry bumps an entry's retry counter after a failed
// redelivery. When the new count exceeds maxRetryCount the entry is
// deleted instead, the permanent give-up, and IncrementRetry
// returns true. Unknown IDs return (false, nil).
func (s *Store) IncrementRetry(ctx context.Context, id string, maxRetryCount int) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, fmt.Errorf("store: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return false, fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	current := -1
	err = sqlitex.Execute(conn,
		"SELECT retry_count FROM pending_events WHERE id = ?",
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				current = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return false, fmt.Errorf("store: increment retry: %w", err)
	}
	if current < 0 {
		return false, nil
	}

	next := current + 1
	if next > maxRetryCount {
		if err = deleteIDs(conn, []string{id}); err != nil {
			return false, err
		}
		s.exhausted.Add(1)
		s.logger.Warn("retry ceiling exceeded, dropping entry",
			"id", id,
			"max_retry_count", maxRetryCount,
		)
		return true, nil
	}

	err = sqlitex.Execute(conn,
		"UPDATE pending_events SET retry_count = ? WHERE id = ?",
		&sqlitex.ExecOptions{Args: []any{next, id}})
	if err != nil {
		return false, fmt.Errorf("store: increment retry: %w", err)
	}
	return false, nil
}

// SweepExpired purges entries older than the retention period.
// Returns the number purged. Run on each recovery cycle.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: %w", err)
	}
	defer s.pool.Put(conn)

	cutoff := s.clock.Now().Add(-s.retention).UnixMilli()
	err = sqlitex.Execute(conn,
		"DELETE FROM pending_events WHERE created_at < ?",
		&sqlitex.ExecOptions{Args: []any{cutoff}})
	if err != nil {
		return 0, fmt.Errorf("store: retention sweep: %w", err)
	}

	purged := conn.Changes()
	if purged > 0 {
		s.expired.Add(uint64(purged))
		s.logger.Info("retention sweep purged entries", "purged", purged)
	}
	return purged, nil
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: %w", err)
	}
	defer s.pool.Put(conn)
	return countEvents(conn)
}

func countEvents(conn *sqlite.Conn) (int, error) {
	count := 0
	err := sqlitex.Execute(conn,
		"SELECT COUNT(*) FROM pending_events",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return count, nil
}

// Evicted returns the total entries lost to capacity eviction.
func (s *Store) Evicted() uint64 { return s.evicted.Load() }

// Expired returns the total entries purged by retention.
func (s *Store) Expired() uint64 { return s.expired.Load() }

// Exhausted returns the total entries dropped at the retry ceiling.
func (s *Store) Exhausted() uint64 { return s.exhausted.Load() }

// Corrupt returns the total entries dropped for checksum mismatch.
func (s *Store) Corrupt() uint64 { return s.corrupt.Load() }

// newEntryID returns a random 16-byte hex identifier.
func newEntryID() (string, error) {
	var buffer [16]byte
	if _, err := rand.Read(buffer[:]); err != nil {
		return "", fmt.Errorf("generating entry id: %w", err)
	}
	return hex.EncodeToString(buffer[:]), nil
}
