package execution

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventsOf(kinds ...Kind) []Event {
	events := make([]Event, len(kinds))
	for i, k := range kinds {
		events[i] = Event{Kind: k, Sequence: int64(i + 1)}
	}
	return events
}

func TestTally(t *testing.T) {
	tests := []struct {
		name     string
		events   []Event
		expected Counts
	}{
		{
			name:     "empty run",
			events:   nil,
			expected: Counts{},
		},
		{
			name: "all succeeded",
			events: eventsOf(KindSyncStarted,
				KindOrderFetched, KindInvoiceCreated,
				KindOrderFetched, KindInvoiceCreated),
			expected: Counts{TotalOrders: 2, Successful: 2},
		},
		{
			name: "one failure",
			events: eventsOf(
				KindOrderFetched, KindInvoiceCreated,
				KindOrderFetched, KindInvoiceFailed,
				KindOrderFetched, KindInvoiceCreated),
			expected: Counts{TotalOrders: 3, Successful: 2, Failed: 1},
		},
		{
			name:     "fetched without outcome counts as failed",
			events:   eventsOf(KindOrderFetched, KindOrderFetched, KindInvoiceCreated),
			expected: Counts{TotalOrders: 2, Successful: 1, Failed: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tally(tt.events)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, got.TotalOrders, got.Successful+got.Failed)
		})
	}
}

func TestRecord_Finalize(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("completed", func(t *testing.T) {
		r := NewRecord(uuid.New(), now.Add(-24*time.Hour), now, now)
		require.NoError(t, r.Finalize(eventsOf(KindOrderFetched, KindInvoiceCreated), now.Add(time.Minute), false))

		assert.Equal(t, StatusCompleted, r.Status)
		assert.Equal(t, 1, r.TotalOrders)
		require.NotNil(t, r.EndedAt)
		assert.Equal(t, time.Minute, r.Duration())
	})

	t.Run("completed with errors", func(t *testing.T) {
		r := NewRecord(uuid.New(), now, now, now)
		require.NoError(t, r.Finalize(eventsOf(KindOrderFetched, KindInvoiceFailed), now, true))

		assert.Equal(t, StatusCompletedWithErrors, r.Status)
		assert.True(t, r.Cancelled)
	})

	t.Run("second finalize is rejected and keeps first result", func(t *testing.T) {
		r := NewRecord(uuid.New(), now, now, now)
		require.NoError(t, r.Finalize(eventsOf(KindOrderFetched, KindInvoiceCreated), now, false))
		first := r.Clone()

		err := r.Finalize(eventsOf(KindOrderFetched, KindInvoiceFailed), now.Add(time.Hour), false)
		assert.ErrorIs(t, err, ErrExecutionAlreadyFinalized)
		assert.Equal(t, first, r)
	})
}

func TestRecord_Clone(t *testing.T) {
	now := time.Now()
	r := NewRecord(uuid.New(), now, now, now)
	require.NoError(t, r.Finalize(nil, now, false))

	c := r.Clone()
	*c.EndedAt = now.Add(time.Hour)
	assert.NotEqual(t, *r.EndedAt, *c.EndedAt)
}

func TestSortEvents(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []Event{
		{Sequence: 3, Timestamp: t0.Add(time.Second)},
		{Sequence: 2, Timestamp: t0},
		{Sequence: 1, Timestamp: t0},
	}

	SortEvents(events)

	assert.Equal(t, []int64{1, 2, 3}, []int64{events[0].Sequence, events[1].Sequence, events[2].Sequence})
}

func TestKind_IsValid(t *testing.T) {
	assert.True(t, KindInvoiceFailed.IsValid())
	assert.False(t, Kind("Bogus").IsValid())
}

func TestPayloads(t *testing.T) {
	id := uuid.MustParse("6f1c1a44-5d0b-4a59-9a8e-3f1d5f6c1a10")
	assert.Equal(t, "sync-6f1c1a44-5d0b-4a59-9a8e-3f1d5f6c1a10", RunAggregateID(id))

	p := OrderFetchedPayload("111-1111111-1111111", "A1", "b@example.com", time.Time{}, decimal.RequireFromString("10.5"), "EGP")
	assert.Equal(t, "10.50", p["order_total"])
	assert.Nil(t, p["purchase_date"])

	c := SyncCompletedPayload(Counts{TotalOrders: 3, Successful: 2, Failed: 1}, false)
	assert.Equal(t, 2, c["invoices_created"])
	assert.Equal(t, 1, c["invoices_failed"])

	assert.ErrorIs(t, ValidateWindow(time.Now(), time.Now().Add(-time.Hour)), ErrInvalidWindow)
	assert.NoError(t, ValidateWindow(time.Now(), time.Time{}))
	assert.True(t, ApplyCompleteOptions([]CompleteOption{WithCancelled()}).Cancelled)
}
