// Copyright 2026 The Meterline Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/meterline/meterline/lib/clock"
	"github.com/meterline/meterline/transport"
)

func TestRecoveryDeliversStoredEvents(t *testing.T) {
	ctx := context.Background()
	fakeClock := clock.Fake(epoch)
	st := openTestStore(t, fakeClock)
	for _, eventType := range []string{"a", "b"} {
		if err := st.Store(ctx, testEvent(eventType)); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}

	sender := newFakeSender(nil, 1)
	q := newTestQueue(t, fakeClock, sender, st, queueOptions{})

	fakeClock.WaitForTimers(2)
	fakeClock.Advance(60 * time.Second)
	sender.waitForCalls(t, 1)

	events := decodeBatch(t, sender.call(0).payload)
	if len(events) != 2 {
		t.Fatalf("expected both stored events in the retry batch, got %d", len(events))
	}
	if events[0]["event_type"] != "a" || events[1]["event_type"] != "b" {
		t.Fatalf("retry batch out of storage order: %v", events)
	}

	// Close waits for the recovery worker, so the deletion has
	// settled by the time it returns.
	q.Close()
	pending, err := st.FetchPending(ctx)
	if err != nil {
		t.Fatalf("FetchPending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("delivered entries must be deleted, got %d pending", len(pending))
	}
	if q.Delivered() != 2 {
		t.Fatalf("expected 2 delivered, got %d", q.Delivered())
	}
}

func TestRecoveryTransientFailureIncrementsRetry(t *testing.T) {
	ctx := context.Background()
	fakeClock := clock.Fake(epoch)
	st := openTestStore(t, fakeClock)
	if err := st.Store(ctx, testEvent("stubborn")); err != nil {
		t.Fatalf("Store: %v", err)
	}

	sender := newFakeSender([]transport.Outcome{transport.RejectedTransient}, 1)
	q := newTestQueue(t, fakeClock, sender, st, queueOptions{})

	fakeClock.WaitForTimers(2)
	fakeClock.Advance(60 * time.Second)
	sender.waitForCalls(t, 1)
	q.Close()

	pending, err := st.FetchPending(ctx)
	if err != nil {
		t.Fatalf("FetchPending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("entry must survive a transient retry failure, got %d", len(pending))
	}
	if pending[0].RetryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", pending[0].RetryCount)
	}
}

func TestRecoveryRetryCeiling(t *testing.T) {
	ctx := context.Background()
	fakeClock := clock.Fake(epoch)
	st := openTestStore(t, fakeClock)
	if err := st.Store(ctx, testEvent("doomed")); err != nil {
		t.Fatalf("Store: %v", err)
	}

	// maxRetryCount is 3: three transient failures keep the entry,
	// then a success on the fourth cycle delivers and deletes it.
	sender := newFakeSender([]transport.Outcome{
		transport.RejectedTransient,
		transport.RejectedTransient,
		transport.RejectedTransient,
	}, 4)
	q := newTestQueue(t, fakeClock, sender, st, queueOptions{})

	fakeClock.WaitForTimers(2)
	for cycle := 0; cycle < 4; cycle++ {
		fakeClock.Advance(60 * time.Second)
		sender.waitForCalls(t, 1)
	}
	q.Close()

	pending, err := st.FetchPending(ctx)
	if err != nil {
		t.Fatalf("FetchPending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("delivered entry must be deleted, got %d pending", len(pending))
	}
	if q.Delivered() != 1 {
		t.Fatalf("expected the entry delivered on the final attempt, got %d", q.Delivered())
	}
	if sender.callCount() != 4 {
		t.Fatalf("expected exactly 4 attempts, got %d", sender.callCount())
	}
	if st.Exhausted() != 0 {
		t.Fatalf("ceiling was never exceeded, got %d exhausted", st.Exhausted())
	}
}

func TestRecoveryPermanentRejectionDeletes(t *testing.T) {
	ctx := context.Background()
	fakeClock := clock.Fake(epoch)
	st := openTestStore(t, fakeClock)
	if err := st.Store(ctx, testEvent("refused")); err != nil {
		t.Fatalf("Store: %v", err)
	}

	sender := newFakeSender([]transport.Outcome{transport.RejectedPermanent}, 1)
	q := newTestQueue(t, fakeClock, sender, st, queueOptions{})

	fakeClock.WaitForTimers(2)
	fakeClock.Advance(60 * time.Second)
	sender.waitForCalls(t, 1)
	q.Close()

	pending, err := st.FetchPending(ctx)
	if err != nil {
		t.Fatalf("FetchPending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("permanently rejected entry must be deleted, got %d pending", len(pending))
	}
	if q.RejectedPermanent() != 1 {
		t.Fatalf("expected 1 counted as rejected, got %d", q.RejectedPermanent())
	}
	if sender.callCount() != 1 {
		t.Fatalf("a permanent rejection must not be retried, got %d attempts", sender.callCount())
	}
}

func TestRecoveryChunksByBatchSize(t *testing.T) {
	ctx := context.Background()
	fakeClock := clock.Fake(epoch)
	st := openTestStore(t, fakeClock)
	for _, eventType := range []string{"a", "b", "c", "d", "e"} {
		if err := st.Store(ctx, testEvent(eventType)); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}

	sender := newFakeSender(nil, 3)
	q := newTestQueue(t, fakeClock, sender, st, queueOptions{batchSize: 2})

	fakeClock.WaitForTimers(2)
	fakeClock.Advance(60 * time.Second)
	sender.waitForCalls(t, 3)
	q.Close()

	sizes := make([]int, sender.callCount())
	for i := range sizes {
		sizes[i] = len(decodeBatch(t, sender.call(i).payload))
	}
	if len(sizes) != 3 || sizes[0] != 2 || sizes[1] != 2 || sizes[2] != 1 {
		t.Fatalf("expected chunks of 2, 2, 1, got %v", sizes)
	}
	if q.Delivered() != 5 {
		t.Fatalf("expected all 5 delivered, got %d", q.Delivered())
	}
}

func TestRecoveryRunsRetentionSweep(t *testing.T) {
	ctx := context.Background()
	fakeClock := clock.Fake(epoch)
	st := openTestStore(t, fakeClock)
	if err := st.Store(ctx, testEvent("ancient")); err != nil {
		t.Fatalf("Store: %v", err)
	}

	// 8 days exceeds the store's 7-day retention; the entry must be
	// purged by the sweep, not sent.
	fakeClock.Advance(8 * 24 * time.Hour)

	sender := newFakeSender(nil, 1)
	q := newTestQueue(t, fakeClock, sender, st, queueOptions{})

	fakeClock.WaitForTimers(2)
	fakeClock.Advance(60 * time.Second)
	q.Close()

	if sender.callCount() != 0 {
		t.Fatalf("expired entry must not be sent, got %d attempts", sender.callCount())
	}
	if st.Expired() != 1 {
		t.Fatalf("expected 1 expiry counted, got %d", st.Expired())
	}
	pending, err := st.FetchPending(ctx)
	if err != nil {
		t.Fatalf("FetchPending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty queue after sweep, got %d", len(pending))
	}
}
