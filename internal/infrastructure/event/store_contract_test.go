package event

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konozy/ordersync/internal/domain/execution"
)

// steppingClock returns a time that advances by step on every call, or goes
// backwards when step is negative.
type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newSteppingClock(step time.Duration) *steppingClock {
	return &steppingClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), step: step}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

type storeFactory func(t *testing.T, now func() time.Time) execution.Store

var (
	windowStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
)

// runStoreContract exercises the behaviour every execution.Store shares.
func runStoreContract(t *testing.T, newStore storeFactory) {
	t.Run("accounting", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t, newSteppingClock(time.Second).Now)

		id, err := store.Begin(ctx, windowStart, windowEnd)
		require.NoError(t, err)

		appendEvent(t, store, id, execution.KindSyncStarted, execution.RunAggregateID(id), execution.SyncStartedPayload("ARBP9OOSHTCHU", windowStart, windowEnd))
		for _, order := range []string{"A", "B", "C"} {
			appendEvent(t, store, id, execution.KindOrderFetched, order, execution.Payload{"order_id": order})
		}
		appendEvent(t, store, id, execution.KindInvoiceCreated, "A", execution.InvoiceCreatedPayload("A", "inv-1", "p-1", 1))
		appendEvent(t, store, id, execution.KindInvoiceFailed, "B", execution.InvoiceFailedPayload("B", "missing sku", "MappingError"))
		appendEvent(t, store, id, execution.KindInvoiceCreated, "C", execution.InvoiceCreatedPayload("C", "inv-2", "p-2", 2))

		running, err := store.GetSummary(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, execution.StatusRunning, running.Status)
		assert.Nil(t, running.EndedAt)

		record, err := store.Complete(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, execution.StatusCompletedWithErrors, record.Status)
		assert.Equal(t, 3, record.TotalOrders)
		assert.Equal(t, 2, record.Successful)
		assert.Equal(t, 1, record.Failed)
		assert.Equal(t, record.TotalOrders, record.Successful+record.Failed)
		require.NotNil(t, record.EndedAt)
		assert.False(t, record.Cancelled)

		summary, err := store.GetSummary(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, record.Counts, summary.Counts)
		assert.Equal(t, record.Status, summary.Status)
		assert.True(t, summary.WindowStart.Equal(windowStart))
		assert.True(t, summary.WindowEnd.Equal(windowEnd))
	})

	t.Run("all successful completes cleanly", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t, newSteppingClock(time.Second).Now)

		id, err := store.Begin(ctx, windowStart, windowEnd)
		require.NoError(t, err)
		appendEvent(t, store, id, execution.KindOrderFetched, "A", nil)
		appendEvent(t, store, id, execution.KindInvoiceCreated, "A", nil)

		record, err := store.Complete(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, execution.StatusCompleted, record.Status)
		assert.Equal(t, execution.Counts{TotalOrders: 1, Successful: 1}, record.Counts)
	})

	t.Run("finalization is idempotent", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t, newSteppingClock(time.Second).Now)

		id, err := store.Begin(ctx, windowStart, windowEnd)
		require.NoError(t, err)
		appendEvent(t, store, id, execution.KindOrderFetched, "A", nil)

		first, err := store.Complete(ctx, id, execution.WithCancelled())
		require.NoError(t, err)
		assert.True(t, first.Cancelled)
		assert.Equal(t, 1, first.Failed, "fetched order without an outcome counts as failed")

		_, err = store.Complete(ctx, id)
		assert.ErrorIs(t, err, execution.ErrExecutionAlreadyFinalized)

		_, err = store.Append(ctx, id, execution.KindInvoiceCreated, "A", nil)
		assert.ErrorIs(t, err, execution.ErrExecutionAlreadyFinalized)

		after, err := store.GetSummary(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, first.Counts, after.Counts)
		assert.Equal(t, first.Status, after.Status)
		assert.True(t, after.Cancelled)
		require.NotNil(t, after.EndedAt)
		assert.True(t, first.EndedAt.Equal(*after.EndedAt))
	})

	t.Run("unknown execution", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t, time.Now)
		id := uuid.New()

		_, err := store.Append(ctx, id, execution.KindSyncStarted, "x", nil)
		assert.ErrorIs(t, err, execution.ErrUnknownExecution)
		_, err = store.Complete(ctx, id)
		assert.ErrorIs(t, err, execution.ErrUnknownExecution)
		_, err = store.GetSummary(ctx, id)
		assert.ErrorIs(t, err, execution.ErrUnknownExecution)
		_, err = store.GetEvents(ctx, id)
		assert.ErrorIs(t, err, execution.ErrUnknownExecution)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t, time.Now)

		_, err := store.Begin(ctx, windowEnd, windowStart)
		assert.ErrorIs(t, err, execution.ErrInvalidWindow)

		id, err := store.Begin(ctx, windowStart, windowEnd)
		require.NoError(t, err)
		_, err = store.Append(ctx, id, execution.Kind("OrderShipped"), "x", nil)
		assert.ErrorIs(t, err, execution.ErrInvalidEventKind)
	})

	t.Run("timestamps never go backwards", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t, newSteppingClock(-time.Minute).Now)

		id, err := store.Begin(ctx, windowStart, windowEnd)
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			appendEvent(t, store, id, execution.KindOrderFetched, fmt.Sprintf("order-%d", i), nil)
		}

		events, err := store.GetEvents(ctx, id)
		require.NoError(t, err)
		require.Len(t, events, 5)
		for i, ev := range events {
			assert.Equal(t, int64(i+1), ev.Sequence)
			assert.Equal(t, fmt.Sprintf("order-%d", i), ev.AggregateID)
			if i > 0 {
				assert.False(t, ev.Timestamp.Before(events[i-1].Timestamp))
			}
		}
	})

	t.Run("reads are snapshots", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t, time.Now)

		id, err := store.Begin(ctx, windowStart, windowEnd)
		require.NoError(t, err)

		payload := execution.Payload{"order_id": "A"}
		appendEvent(t, store, id, execution.KindOrderFetched, "A", payload)
		payload["order_id"] = "mutated"

		events, err := store.GetEvents(ctx, id)
		require.NoError(t, err)
		events[0].Payload["order_id"] = "mutated again"

		again, err := store.GetEvents(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "A", again[0].Payload["order_id"])

		summary, err := store.GetSummary(ctx, id)
		require.NoError(t, err)
		summary.Status = execution.StatusCompleted
		fresh, err := store.GetSummary(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, execution.StatusRunning, fresh.Status)
	})

	t.Run("concurrent appends are serialized", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t, time.Now)

		id, err := store.Begin(ctx, windowStart, windowEnd)
		require.NoError(t, err)

		const writers = 20
		var wg sync.WaitGroup
		errs := make([]error, writers)
		wg.Add(writers)
		for i := 0; i < writers; i++ {
			go func(i int) {
				defer wg.Done()
				_, errs[i] = store.Append(ctx, id, execution.KindOrderFetched, fmt.Sprintf("order-%d", i), nil)
			}(i)
		}
		wg.Wait()
		for _, err := range errs {
			require.NoError(t, err)
		}

		events, err := store.GetEvents(ctx, id)
		require.NoError(t, err)
		require.Len(t, events, writers)
		seen := make(map[int64]bool, writers)
		for _, ev := range events {
			seen[ev.Sequence] = true
		}
		for seq := int64(1); seq <= writers; seq++ {
			assert.True(t, seen[seq], "missing sequence %d", seq)
		}
	})
}

func appendEvent(t *testing.T, store execution.Store, id uuid.UUID, kind execution.Kind, aggregateID string, payload execution.Payload) execution.Event {
	t.Helper()
	ev, err := store.Append(context.Background(), id, kind, aggregateID, payload)
	require.NoError(t, err)
	assert.Equal(t, id, ev.ExecutionID)
	assert.Equal(t, kind, ev.Kind)
	return ev
}
