package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/konozy/ordersync/internal/domain/execution"
)

// Ensure GormStore implements execution.Store
var _ execution.Store = (*GormStore)(nil)

// GormStore persists executions and their event logs through GORM.
// Payload values come back in their JSON form: numbers decode as float64.
type GormStore struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	locks  sync.Map // uuid.UUID -> *sync.Mutex
}

// GormStoreOption is a functional option for configuring GormStore
type GormStoreOption func(*GormStore)

// WithGormClock sets the time source for timestamps
func WithGormClock(now func() time.Time) GormStoreOption {
	return func(s *GormStore) {
		s.now = now
	}
}

// WithGormLogger sets the logger
func WithGormLogger(l *zap.Logger) GormStoreOption {
	return func(s *GormStore) {
		s.logger = l
	}
}

// NewGormStore creates a GORM-backed execution store
func NewGormStore(db *gorm.DB, opts ...GormStoreOption) *GormStore {
	s := &GormStore{
		db:     db,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AutoMigrate creates the store tables. Production schemas come from the
// SQL migrations; this is used by tests and the sqlite development mode.
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(&ExecutionModel{}, &EventModel{})
}

// Begin creates a running execution
func (s *GormStore) Begin(ctx context.Context, windowStart, windowEnd time.Time) (uuid.UUID, error) {
	if err := execution.ValidateWindow(windowStart, windowEnd); err != nil {
		return uuid.Nil, err
	}
	record := execution.NewRecord(uuid.New(), windowStart, windowEnd, s.now().UTC())

	var model ExecutionModel
	model.FromDomain(record)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return uuid.Nil, fmt.Errorf("event: create execution: %w", err)
	}
	return record.ID, nil
}

// Append records an event inside a transaction. The sequence is the next
// number for the execution and the timestamp never precedes the previous
// event's.
func (s *GormStore) Append(ctx context.Context, executionID uuid.UUID, kind execution.Kind, aggregateID string, payload execution.Payload) (execution.Event, error) {
	if !kind.IsValid() {
		return execution.Event{}, execution.ErrInvalidEventKind
	}

	unlock := s.lock(executionID)
	defer unlock()

	var appended execution.Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := findExecution(tx, executionID)
		if err != nil {
			return err
		}
		if model.Status.IsTerminal() {
			return execution.ErrExecutionAlreadyFinalized
		}

		var last EventModel
		seq := int64(1)
		ts := s.now().UTC()
		err = tx.Where("execution_id = ?", executionID).Order("sequence DESC").Limit(1).Take(&last).Error
		switch {
		case err == nil:
			seq = last.Sequence + 1
			if prev := last.OccurredAt.UTC(); ts.Before(prev) {
				ts = prev
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("event: load last event: %w", err)
		}

		appended = execution.Event{
			ExecutionID: executionID,
			Sequence:    seq,
			Kind:        kind,
			AggregateID: aggregateID,
			Timestamp:   ts,
			Payload:     payload,
		}
		row, err := newEventModel(appended)
		if err != nil {
			return err
		}
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("event: insert event: %w", err)
		}
		return nil
	})
	if err != nil {
		s.forgetIfClosed(executionID, err)
		return execution.Event{}, err
	}
	return cloneEvent(appended), nil
}

// Complete finalizes the execution from its stored events. The update is
// guarded on the running status so only one caller can win.
func (s *GormStore) Complete(ctx context.Context, executionID uuid.UUID, opts ...execution.CompleteOption) (*execution.Record, error) {
	o := execution.ApplyCompleteOptions(opts)

	unlock := s.lock(executionID)
	defer unlock()

	var record *execution.Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := findExecution(tx, executionID)
		if err != nil {
			return err
		}
		events, err := loadEvents(tx, executionID)
		if err != nil {
			return err
		}

		record = model.ToDomain()
		if err := record.Finalize(events, s.now().UTC(), o.Cancelled); err != nil {
			return err
		}

		result := tx.Model(&ExecutionModel{}).
			Where("id = ? AND status = ?", executionID, execution.StatusRunning).
			Updates(map[string]any{
				"status":       record.Status,
				"ended_at":     *record.EndedAt,
				"total_orders": record.TotalOrders,
				"successful":   record.Successful,
				"failed":       record.Failed,
				"cancelled":    record.Cancelled,
			})
		if result.Error != nil {
			return fmt.Errorf("event: finalize execution: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return execution.ErrExecutionAlreadyFinalized
		}
		return nil
	})
	if err != nil {
		s.forgetIfClosed(executionID, err)
		return nil, err
	}
	s.locks.Delete(executionID)

	s.logger.Debug("Execution finalized",
		zap.String("execution_id", executionID.String()),
		zap.String("status", record.Status.String()),
	)
	return record, nil
}

// GetSummary returns the stored execution record
func (s *GormStore) GetSummary(ctx context.Context, executionID uuid.UUID) (*execution.Record, error) {
	model, err := findExecution(s.db.WithContext(ctx), executionID)
	if err != nil {
		return nil, err
	}
	return model.ToDomain(), nil
}

// GetEvents returns the ordered event log
func (s *GormStore) GetEvents(ctx context.Context, executionID uuid.UUID) ([]execution.Event, error) {
	db := s.db.WithContext(ctx)
	if _, err := findExecution(db, executionID); err != nil {
		return nil, err
	}
	return loadEvents(db, executionID)
}

// ---------------------------------------------------------------------------
// Internal Helpers
// ---------------------------------------------------------------------------

// lock serializes writers of one execution within this process; the unique
// (execution_id, sequence) index covers writers in other processes.
func (s *GormStore) lock(id uuid.UUID) func() {
	m, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// forgetIfClosed drops the writer mutex of an execution that can take no
// more writes. Callers hold the mutex; later writers get a fresh one and are
// refused by the status check.
func (s *GormStore) forgetIfClosed(id uuid.UUID, err error) {
	if errors.Is(err, execution.ErrExecutionAlreadyFinalized) || errors.Is(err, execution.ErrUnknownExecution) {
		s.locks.Delete(id)
	}
}

func findExecution(db *gorm.DB, id uuid.UUID) (*ExecutionModel, error) {
	var model ExecutionModel
	if err := db.Where("id = ?", id).Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, execution.ErrUnknownExecution
		}
		return nil, fmt.Errorf("event: load execution: %w", err)
	}
	return &model, nil
}

func loadEvents(db *gorm.DB, id uuid.UUID) ([]execution.Event, error) {
	var rows []EventModel
	if err := db.Where("execution_id = ?", id).Order("occurred_at ASC, sequence ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("event: load events: %w", err)
	}
	events := make([]execution.Event, 0, len(rows))
	for i := range rows {
		ev, err := rows[i].ToDomain()
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}
