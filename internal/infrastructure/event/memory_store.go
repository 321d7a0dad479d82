// Package event provides execution event stores and event fan-out.
package event

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/konozy/ordersync/internal/domain/execution"
)

// Ensure MemoryStore implements execution.Store
var _ execution.Store = (*MemoryStore)(nil)

// MemoryStore is the in-process execution store. Its log does not survive a
// restart; use GormStore for durability.
type MemoryStore struct {
	mu         sync.RWMutex
	executions map[uuid.UUID]*memoryExecution
	now        func() time.Time
}

type memoryExecution struct {
	mu     sync.RWMutex
	record *execution.Record
	events []execution.Event
}

// MemoryStoreOption is a functional option for configuring MemoryStore
type MemoryStoreOption func(*MemoryStore)

// WithMemoryClock sets the time source for timestamps
func WithMemoryClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		executions: make(map[uuid.UUID]*memoryExecution),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Begin creates a running execution
func (s *MemoryStore) Begin(ctx context.Context, windowStart, windowEnd time.Time) (uuid.UUID, error) {
	if err := execution.ValidateWindow(windowStart, windowEnd); err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()
	exec := &memoryExecution{record: execution.NewRecord(id, windowStart, windowEnd, s.now().UTC())}

	s.mu.Lock()
	s.executions[id] = exec
	s.mu.Unlock()
	return id, nil
}

// Append records an event. Timestamps never go backwards within an execution.
func (s *MemoryStore) Append(ctx context.Context, executionID uuid.UUID, kind execution.Kind, aggregateID string, payload execution.Payload) (execution.Event, error) {
	if !kind.IsValid() {
		return execution.Event{}, execution.ErrInvalidEventKind
	}
	exec, err := s.lookup(executionID)
	if err != nil {
		return execution.Event{}, err
	}

	exec.mu.Lock()
	defer exec.mu.Unlock()

	if exec.record.IsFinalized() {
		return execution.Event{}, execution.ErrExecutionAlreadyFinalized
	}

	ts := s.now().UTC()
	if n := len(exec.events); n > 0 && ts.Before(exec.events[n-1].Timestamp) {
		ts = exec.events[n-1].Timestamp
	}
	ev := execution.Event{
		ExecutionID: executionID,
		Sequence:    int64(len(exec.events) + 1),
		Kind:        kind,
		AggregateID: aggregateID,
		Timestamp:   ts,
		Payload:     maps.Clone(payload),
	}
	exec.events = append(exec.events, ev)
	return cloneEvent(ev), nil
}

// Complete finalizes the execution from its accumulated events
func (s *MemoryStore) Complete(ctx context.Context, executionID uuid.UUID, opts ...execution.CompleteOption) (*execution.Record, error) {
	exec, err := s.lookup(executionID)
	if err != nil {
		return nil, err
	}
	o := execution.ApplyCompleteOptions(opts)

	exec.mu.Lock()
	defer exec.mu.Unlock()

	if err := exec.record.Finalize(exec.events, s.now().UTC(), o.Cancelled); err != nil {
		return nil, err
	}
	return exec.record.Clone(), nil
}

// GetSummary returns a snapshot of the execution record
func (s *MemoryStore) GetSummary(ctx context.Context, executionID uuid.UUID) (*execution.Record, error) {
	exec, err := s.lookup(executionID)
	if err != nil {
		return nil, err
	}
	exec.mu.RLock()
	defer exec.mu.RUnlock()
	return exec.record.Clone(), nil
}

// GetEvents returns a snapshot of the ordered event log
func (s *MemoryStore) GetEvents(ctx context.Context, executionID uuid.UUID) ([]execution.Event, error) {
	exec, err := s.lookup(executionID)
	if err != nil {
		return nil, err
	}
	exec.mu.RLock()
	events := make([]execution.Event, len(exec.events))
	for i, ev := range exec.events {
		events[i] = cloneEvent(ev)
	}
	exec.mu.RUnlock()
	return events, nil
}

func (s *MemoryStore) lookup(id uuid.UUID) (*memoryExecution, error) {
	s.mu.RLock()
	exec, ok := s.executions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, execution.ErrUnknownExecution
	}
	return exec, nil
}

func cloneEvent(ev execution.Event) execution.Event {
	ev.Payload = maps.Clone(ev.Payload)
	return ev
}
