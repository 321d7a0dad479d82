package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/konozy/ordersync/internal/application/ordersync"
	"github.com/konozy/ordersync/internal/domain/execution"
	"github.com/konozy/ordersync/internal/domain/integration"
)

// SyncRequest is the body of POST /sync. Dates are RFC3339.
type SyncRequest struct {
	StartDate time.Time `json:"start_date" binding:"required"`
	EndDate   time.Time `json:"end_date" binding:"required,gtefield=StartDate"`
	Statuses  []string  `json:"statuses" binding:"omitempty,dive,oneof=Pending Unshipped PartiallyShipped Shipped Canceled Unfulfillable InvoiceUnconfirmed"`
}

// ToRequest converts the body into an orchestrator request, falling back to
// defaultStatuses when none were given.
func (r SyncRequest) ToRequest(defaultStatuses []integration.OrderStatus) ordersync.Request {
	statuses := defaultStatuses
	if len(r.Statuses) > 0 {
		statuses = make([]integration.OrderStatus, len(r.Statuses))
		for i, s := range r.Statuses {
			statuses[i] = integration.OrderStatus(s)
		}
	}
	return ordersync.Request{
		WindowStart: r.StartDate.UTC(),
		WindowEnd:   r.EndDate.UTC(),
		Statuses:    statuses,
	}
}

// TriggerResponse is returned when a run has been accepted
type TriggerResponse struct {
	ExecutionID uuid.UUID `json:"execution_id"`
}

// ExecutionResponse is the summary of one execution
type ExecutionResponse struct {
	ExecutionID     uuid.UUID  `json:"execution_id"`
	Status          string     `json:"status"`
	WindowStart     time.Time  `json:"window_start"`
	WindowEnd       time.Time  `json:"window_end"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	TotalOrders     int        `json:"total_orders"`
	Successful      int        `json:"successful"`
	Failed          int        `json:"failed"`
	Cancelled       bool       `json:"cancelled"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`
}

// NewExecutionResponse converts a record into its response shape
func NewExecutionResponse(r *execution.Record) ExecutionResponse {
	return ExecutionResponse{
		ExecutionID:     r.ID,
		Status:          r.Status.String(),
		WindowStart:     r.WindowStart,
		WindowEnd:       r.WindowEnd,
		StartedAt:       r.StartedAt,
		EndedAt:         r.EndedAt,
		TotalOrders:     r.TotalOrders,
		Successful:      r.Successful,
		Failed:          r.Failed,
		Cancelled:       r.Cancelled,
		DurationSeconds: r.Duration().Seconds(),
	}
}

// EventResponse is one entry of an execution's log
type EventResponse struct {
	Sequence    int64             `json:"sequence"`
	Kind        string            `json:"kind"`
	AggregateID string            `json:"aggregate_id"`
	Timestamp   time.Time         `json:"timestamp"`
	Payload     execution.Payload `json:"payload"`
}

// NewEventResponses converts an ordered event log
func NewEventResponses(events []execution.Event) []EventResponse {
	out := make([]EventResponse, len(events))
	for i, e := range events {
		out[i] = EventResponse{
			Sequence:    e.Sequence,
			Kind:        e.Kind.String(),
			AggregateID: e.AggregateID,
			Timestamp:   e.Timestamp,
			Payload:     e.Payload,
		}
	}
	return out
}

// HealthResponse reports dependency health
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version,omitempty"`
	Checks   map[string]string `json:"checks,omitempty"`
	Database *DatabaseStats    `json:"database,omitempty"`
}

// DatabaseStats mirrors the connection pool counters
type DatabaseStats struct {
	OpenConnections int `json:"open_connections"`
	InUse           int `json:"in_use"`
	Idle            int `json:"idle"`
}
