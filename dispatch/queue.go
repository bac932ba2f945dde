// Copyright 2026 The Meterline Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meterline/meterline/event"
	"github.com/meterline/meterline/lib/clock"
	"github.com/meterline/meterline/signer"
	"github.com/meterline/meterline/store"
	"github.com/meterline/meterline/transport"
)

// drainTimeout bounds the final delivery attempt made during
// shutdown. Anything still undelivered after this window goes to the
// durable queue instead.
const drainTimeout = 5 * time.Second

// Config holds the parameters for a dispatch Queue.
type Config struct {
	// BatchSize triggers an immediate flush when the buffer reaches
	// it. Must be positive.
	BatchSize int

	// FlushInterval is the period of the timer-driven flush. Must be
	// positive.
	FlushInterval time.Duration

	// SweepInterval is the period of the recovery loop that retries
	// events from the durable queue. Must be positive.
	SweepInterval time.Duration

	// MaxRetryCount is the per-event retry ceiling enforced through
	// the durable queue's accounting. Must be positive.
	MaxRetryCount int

	// Signer produces request signatures. Required (use an unsigned
	// signer when no secret is configured).
	Signer *signer.Signer

	// Sender performs delivery attempts. Required.
	Sender transport.Sender

	// Store is the durable queue for failed deliveries. Required.
	Store *store.Store

	// Clock drives the flush and recovery timers. Required.
	Clock clock.Clock

	// Logger receives operational messages. Nil means discard.
	Logger *slog.Logger
}

// Queue is the in-memory dispatch buffer plus its flush and recovery
// workers. All methods are safe for concurrent use. Enqueue and Flush
// never block on network activity; delivery runs on the worker
// goroutines.
type Queue struct {
	mu     sync.Mutex
	buffer []event.Event

	batchSize     int
	flushInterval time.Duration
	sweepInterval time.Duration
	maxRetryCount int

	signer *signer.Signer
	sender transport.Sender
	store  *store.Store
	clock  clock.Clock
	logger *slog.Logger

	// flushCh carries at most one pending flush request; extra
	// requests coalesce with the one already queued.
	flushCh chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup

	delivered         atomic.Uint64
	rejectedPermanent atomic.Uint64
	stored            atomic.Uint64
}

// New validates the configuration and starts the flush and recovery
// workers. Call Close to stop them and drain the buffer.
func New(cfg Config) (*Queue, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("dispatch: BatchSize must be positive, got %d", cfg.BatchSize)
	}
	if cfg.FlushInterval <= 0 {
		return nil, fmt.Errorf("dispatch: FlushInterval must be positive, got %v", cfg.FlushInterval)
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("dispatch: SweepInterval must be positive, got %v", cfg.SweepInterval)
	}
	if cfg.MaxRetryCount <= 0 {
		return nil, fmt.Errorf("dispatch: MaxRetryCount must be positive, got %d", cfg.MaxRetryCount)
	}
	if cfg.Signer == nil {
		return nil, fmt.Errorf("dispatch: Signer is required")
	}
	if cfg.Sender == nil {
		return nil, fmt.Errorf("dispatch: Sender is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("dispatch: Store is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("dispatch: Clock is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		sweepInterval: cfg.SweepInterval,
		maxRetryCount: cfg.MaxRetryCount,
		signer:        cfg.Signer,
		sender:        cfg.Sender,
		store:         cfg.Store,
		clock:         cfg.Clock,
		logger:        logger,
		flushCh:       make(chan struct{}, 1),
		cancel:        cancel,
	}

	q.wg.Add(2)
	go q.runFlush(ctx)
	go q.runRecovery(ctx)
	return q, nil
}

// Enqueue appends an event to the buffer. When the buffer reaches the
// batch size this signals an immediate flush; otherwise the event
// waits for the next timer tick. Never blocks on delivery.
func (q *Queue) Enqueue(e event.Event) {
	q.mu.Lock()
	q.buffer = append(q.buffer, e)
	full := len(q.buffer) >= q.batchSize
	q.mu.Unlock()

	if full {
		q.signalFlush()
	}
}

// Flush requests an asynchronous flush of whatever the buffer holds.
// Fire-and-forget: the delivery outcome is visible only through the
// counters and the durable queue.
func (q *Queue) Flush() {
	q.signalFlush()
}

func (q *Queue) signalFlush() {
	select {
	case q.flushCh <- struct{}{}:
	default:
	}
}

// Close stops the workers, makes one bounded attempt to deliver
// whatever the buffer still holds, and waits for in-flight work to
// finish. Events that cannot be delivered during the drain window end
// up in the durable queue.
func (q *Queue) Close() {
	q.cancel()
	q.wg.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	q.flushOnce(drainCtx)
}

// Delivered reports how many events have been delivered, including
// redeliveries from the durable queue.
func (q *Queue) Delivered() uint64 { return q.delivered.Load() }

// RejectedPermanent reports how many events were discarded after a
// permanent rejection.
func (q *Queue) RejectedPermanent() uint64 { return q.rejectedPermanent.Load() }

// Stored reports how many events were handed to the durable queue
// after transient failures.
func (q *Queue) Stored() uint64 { return q.stored.Load() }

// BufferLen reports the current in-memory buffer size.
func (q *Queue) BufferLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buffer)
}

// runFlush is the flush worker. It delivers the buffer on every timer
// tick and on every flush signal, and exits when the context is
// cancelled. The final drain happens in Close, after this worker has
// stopped, so no flush can race the drain.
func (q *Queue) runFlush(ctx context.Context) {
	defer q.wg.Done()

	ticker := q.clock.NewTicker(q.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.flushOnce(ctx)
		case <-q.flushCh:
			q.flushOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// flushOnce swaps the buffer for an empty one and attempts delivery
// of the swapped-out batch. Events enqueued while the send is in
// flight land in the fresh buffer and ride the next flush.
func (q *Queue) flushOnce(ctx context.Context) {
	q.mu.Lock()
	batch := q.buffer
	q.buffer = nil
	q.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	q.deliver(ctx, batch)
}

// deliver serializes, signs, and sends one batch, then disposes of it
// according to the outcome: delivered batches are dropped, transient
// failures store every event for redelivery, permanent rejections are
// discarded and counted.
func (q *Queue) deliver(ctx context.Context, batch []event.Event) {
	payload, err := event.MarshalBatch(batch)
	if err != nil {
		// A batch that cannot be serialized cannot ever be sent.
		q.rejectedPermanent.Add(uint64(len(batch)))
		q.logger.Error("dropping unserializable batch",
			"error", err,
			"events", len(batch),
		)
		return
	}

	timestampMillis := q.clock.Now().UnixMilli()
	signature := q.signer.Sign(timestampMillis, payload)

	outcome, err := q.sender.Send(ctx, payload, timestampMillis, signature)
	switch outcome {
	case transport.Delivered:
		q.delivered.Add(uint64(len(batch)))
	case transport.RejectedPermanent:
		q.rejectedPermanent.Add(uint64(len(batch)))
		q.logger.Warn("collector permanently rejected batch, discarding",
			"error", err,
			"events", len(batch),
		)
	default:
		q.logger.Warn("batch delivery failed, storing for retry",
			"error", err,
			"events", len(batch),
		)
		q.storeBatch(batch)
	}
}

// storeBatch hands every event of a failed batch to the durable
// queue, one entry per event so later outcomes stay per-event.
func (q *Queue) storeBatch(batch []event.Event) {
	// The store has its own pool; a cancelled dispatch context must
	// not prevent persisting events during shutdown.
	ctx := context.Background()
	for _, e := range batch {
		if err := q.store.Store(ctx, e); err != nil {
			q.logger.Error("storing event for retry failed, event lost",
				"error", err,
				"event_type", e.Type,
			)
			continue
		}
		q.stored.Add(1)
	}
}
