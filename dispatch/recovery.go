// Copyright 2026 The Meterline Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"

	"github.com/meterline/meterline/event"
	"github.com/meterline/meterline/store"
	"github.com/meterline/meterline/transport"
)

// runRecovery is the redelivery worker. On every sweep tick it purges
// expired entries from the durable queue and retries the pending ones
// through the same signer/transport path the live flush uses.
func (q *Queue) runRecovery(ctx context.Context) {
	defer q.wg.Done()

	ticker := q.clock.NewTicker(q.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.recoverOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// recoverOnce runs one recovery cycle: retention sweep, then retry of
// pending entries in storage order, chunked by the batch size. A
// transient failure increments the affected entries' retry counters
// and ends the cycle; the collector is unlikely to accept the next
// chunk seconds after refusing this one.
func (q *Queue) recoverOnce(ctx context.Context) {
	if _, err := q.store.SweepExpired(ctx); err != nil {
		q.logger.Error("retention sweep failed", "error", err)
	}

	pending, err := q.store.FetchPending(ctx)
	if err != nil {
		q.logger.Error("fetching pending events failed", "error", err)
		return
	}

	for start := 0; start < len(pending); start += q.batchSize {
		end := min(start+q.batchSize, len(pending))
		if !q.redeliver(ctx, pending[start:end]) {
			return
		}
	}
}

// redeliver attempts one chunk of stored entries. Returns false when
// the cycle should stop (transient failure or shutdown).
func (q *Queue) redeliver(ctx context.Context, entries []store.StoredEvent) bool {
	batch := make([]event.Event, len(entries))
	ids := make([]string, len(entries))
	for i, entry := range entries {
		batch[i] = entry.Event
		ids[i] = entry.ID
	}

	payload, err := event.MarshalBatch(batch)
	if err != nil {
		// Undecodable rows are already dropped by FetchPending, so
		// this means the events themselves cannot serialize. Remove
		// them; they will never succeed.
		q.rejectedPermanent.Add(uint64(len(entries)))
		q.logger.Error("dropping unserializable stored batch",
			"error", err,
			"events", len(entries),
		)
		q.deleteStored(ctx, ids)
		return true
	}

	timestampMillis := q.clock.Now().UnixMilli()
	signature := q.signer.Sign(timestampMillis, payload)

	outcome, err := q.sender.Send(ctx, payload, timestampMillis, signature)
	switch outcome {
	case transport.Delivered:
		q.delivered.Add(uint64(len(entries)))
		q.deleteStored(ctx, ids)
		return true
	case transport.RejectedPermanent:
		// An unmodified payload the collector refused outright will
		// be refused again; retrying would poison the queue.
		q.rejectedPermanent.Add(uint64(len(entries)))
		q.logger.Warn("collector permanently rejected stored batch, discarding",
			"error", err,
			"events", len(entries),
		)
		q.deleteStored(ctx, ids)
		return true
	default:
		q.logger.Warn("stored batch redelivery failed",
			"error", err,
			"events", len(entries),
		)
		for _, id := range ids {
			if _, err := q.store.IncrementRetry(ctx, id, q.maxRetryCount); err != nil {
				q.logger.Error("retry accounting failed", "error", err, "id", id)
			}
		}
		return false
	}
}

// deleteStored removes redelivery entries whose fate is settled.
func (q *Queue) deleteStored(ctx context.Context, ids []string) {
	if err := q.store.Delete(ctx, ids); err != nil {
		q.logger.Error("deleting settled entries failed", "error", err)
	}
}
