package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/konozy/ordersync/internal/domain/execution"
)

// ExecutionModel is the persistence model for an execution record.
type ExecutionModel struct {
	ID          uuid.UUID        `gorm:"type:uuid;primary_key"`
	Status      execution.Status `gorm:"type:varchar(32);not null;index"`
	WindowStart time.Time        `gorm:"not null"`
	WindowEnd   *time.Time
	StartedAt   time.Time `gorm:"not null;index"`
	EndedAt     *time.Time
	TotalOrders int       `gorm:"not null;default:0"`
	Successful  int       `gorm:"not null;default:0"`
	Failed      int       `gorm:"not null;default:0"`
	Cancelled   bool      `gorm:"not null;default:false"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ExecutionModel) TableName() string {
	return "sync_executions"
}

// ToDomain converts the persistence model to a domain Record
func (m *ExecutionModel) ToDomain() *execution.Record {
	r := &execution.Record{
		ID:          m.ID,
		Status:      m.Status,
		WindowStart: m.WindowStart.UTC(),
		StartedAt:   m.StartedAt.UTC(),
		Counts: execution.Counts{
			TotalOrders: m.TotalOrders,
			Successful:  m.Successful,
			Failed:      m.Failed,
		},
		Cancelled: m.Cancelled,
	}
	if m.WindowEnd != nil {
		r.WindowEnd = m.WindowEnd.UTC()
	}
	if m.EndedAt != nil {
		ended := m.EndedAt.UTC()
		r.EndedAt = &ended
	}
	return r
}

// FromDomain populates the model from a domain Record
func (m *ExecutionModel) FromDomain(r *execution.Record) {
	m.ID = r.ID
	m.Status = r.Status
	m.WindowStart = r.WindowStart.UTC()
	m.WindowEnd = nil
	if !r.WindowEnd.IsZero() {
		end := r.WindowEnd.UTC()
		m.WindowEnd = &end
	}
	m.StartedAt = r.StartedAt.UTC()
	m.EndedAt = nil
	if r.EndedAt != nil {
		ended := r.EndedAt.UTC()
		m.EndedAt = &ended
	}
	m.TotalOrders = r.TotalOrders
	m.Successful = r.Successful
	m.Failed = r.Failed
	m.Cancelled = r.Cancelled
}

// EventModel is the persistence model for one execution event.
type EventModel struct {
	ID          int64          `gorm:"primaryKey;autoIncrement"`
	ExecutionID uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_sync_events_execution_sequence,priority:1"`
	Sequence    int64          `gorm:"not null;uniqueIndex:idx_sync_events_execution_sequence,priority:2"`
	Kind        execution.Kind `gorm:"type:varchar(32);not null;index"`
	AggregateID string         `gorm:"type:varchar(100);not null"`
	OccurredAt  time.Time      `gorm:"not null"`
	Payload     []byte         `gorm:"type:jsonb;not null"`
	CreatedAt   time.Time      `gorm:"not null"`
}

// TableName returns the table name for GORM
func (EventModel) TableName() string {
	return "sync_events"
}

// ToDomain converts the persistence model to a domain Event
func (m *EventModel) ToDomain() (execution.Event, error) {
	ev := execution.Event{
		ExecutionID: m.ExecutionID,
		Sequence:    m.Sequence,
		Kind:        m.Kind,
		AggregateID: m.AggregateID,
		Timestamp:   m.OccurredAt.UTC(),
		Payload:     execution.Payload{},
	}
	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, &ev.Payload); err != nil {
			return execution.Event{}, fmt.Errorf("event: decode payload of event %d: %w", m.Sequence, err)
		}
	}
	return ev, nil
}

// newEventModel builds the row for an event, encoding its payload as JSON
func newEventModel(ev execution.Event) (*EventModel, error) {
	payload := ev.Payload
	if payload == nil {
		payload = execution.Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("event: encode payload: %w", err)
	}
	return &EventModel{
		ExecutionID: ev.ExecutionID,
		Sequence:    ev.Sequence,
		Kind:        ev.Kind,
		AggregateID: ev.AggregateID,
		OccurredAt:  ev.Timestamp.UTC(),
		Payload:     data,
	}, nil
}
