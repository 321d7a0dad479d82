// Package execution models sync runs as an append-only event log and derives
// run summaries from it.
package execution

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusRunning             Status = "running"
	StatusCompleted           Status = "completed"
	StatusCompletedWithErrors Status = "completed_with_errors"
)

// IsTerminal returns true once the execution has been finalized
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCompletedWithErrors
}

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// Counts are the per-run order tallies.
type Counts struct {
	TotalOrders int `json:"total_orders"`
	Successful  int `json:"successful"`
	Failed      int `json:"failed"`
}

// Tally derives counts from an event log. An order fetched without a
// recorded outcome counts as failed, so TotalOrders always equals
// Successful + Failed.
func Tally(events []Event) Counts {
	var fetched, created, failed int
	for _, e := range events {
		switch e.Kind {
		case KindOrderFetched:
			fetched++
		case KindInvoiceCreated:
			created++
		case KindInvoiceFailed:
			failed++
		}
	}
	if missing := fetched - created - failed; missing > 0 {
		failed += missing
	}
	return Counts{
		TotalOrders: created + failed,
		Successful:  created,
		Failed:      failed,
	}
}

// Record is the summary row of one execution.
type Record struct {
	ID          uuid.UUID  `json:"execution_id"`
	Status      Status     `json:"status"`
	WindowStart time.Time  `json:"window_start"`
	WindowEnd   time.Time  `json:"window_end"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Counts
	Cancelled bool `json:"cancelled"`
}

// NewRecord returns a running execution.
func NewRecord(id uuid.UUID, windowStart, windowEnd, now time.Time) *Record {
	return &Record{
		ID:          id,
		Status:      StatusRunning,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		StartedAt:   now,
	}
}

// IsFinalized returns true once Finalize has succeeded
func (r *Record) IsFinalized() bool {
	return r.Status.IsTerminal()
}

// Finalize stamps counts, status and end time. It fails with
// ErrExecutionAlreadyFinalized on a second call, leaving the record unchanged.
func (r *Record) Finalize(events []Event, now time.Time, cancelled bool) error {
	if r.IsFinalized() {
		return ErrExecutionAlreadyFinalized
	}
	r.Counts = Tally(events)
	r.Cancelled = cancelled
	r.Status = StatusCompleted
	if r.Failed > 0 {
		r.Status = StatusCompletedWithErrors
	}
	ended := now
	r.EndedAt = &ended
	return nil
}

// Clone returns a deep copy safe to hand to readers.
func (r *Record) Clone() *Record {
	c := *r
	if r.EndedAt != nil {
		ended := *r.EndedAt
		c.EndedAt = &ended
	}
	return &c
}

// Duration returns the run's wall time, or zero while running.
func (r *Record) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}
