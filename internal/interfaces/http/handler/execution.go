package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/konozy/ordersync/internal/application/ordersync"
	"github.com/konozy/ordersync/internal/domain/execution"
	"github.com/konozy/ordersync/internal/domain/integration"
	"github.com/konozy/ordersync/internal/infrastructure/logger"
	"github.com/konozy/ordersync/internal/interfaces/http/dto"
	"github.com/konozy/ordersync/internal/interfaces/http/middleware"
)

// SyncTriggerer starts sync runs: window runs in the background, single
// orders synchronously.
type SyncTriggerer interface {
	Trigger(ctx context.Context, req ordersync.Request) (uuid.UUID, error)
	SyncOrder(ctx context.Context, orderID string) (*execution.Record, error)
}

// ExecutionReader reads execution summaries and logs
type ExecutionReader interface {
	GetSummary(ctx context.Context, executionID uuid.UUID) (*execution.Record, error)
	GetEvents(ctx context.Context, executionID uuid.UUID) ([]execution.Event, error)
}

// Ensure the production types satisfy the handler ports
var (
	_ SyncTriggerer   = (*ordersync.Orchestrator)(nil)
	_ ExecutionReader = (execution.Store)(nil)
)

// ExecutionHandler serves the sync trigger and execution lookups
type ExecutionHandler struct {
	BaseHandler
	triggerer       SyncTriggerer
	reader          ExecutionReader
	defaultStatuses []integration.OrderStatus
}

// NewExecutionHandler creates an ExecutionHandler. defaultStatuses apply
// when a trigger request names none.
func NewExecutionHandler(triggerer SyncTriggerer, reader ExecutionReader, defaultStatuses []integration.OrderStatus) *ExecutionHandler {
	return &ExecutionHandler{
		triggerer:       triggerer,
		reader:          reader,
		defaultStatuses: defaultStatuses,
	}
}

// TriggerSync starts a run for the requested window
// POST /api/v1/sync
func (h *ExecutionHandler) TriggerSync(c *gin.Context) {
	var req dto.SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleBindError(c, err)
		return
	}

	ctx := c.Request.Context()
	id, err := h.triggerer.Trigger(ctx, req.ToRequest(h.defaultStatuses))
	if err != nil {
		if errors.Is(err, execution.ErrInvalidWindow) {
			h.Error(c, http.StatusBadRequest, dto.ErrCodeValidation, err.Error())
			return
		}
		logger.L(ctx).Error("Failed to trigger sync", zap.Error(err))
		h.InternalError(c, "Failed to start sync")
		return
	}

	logger.L(ctx).Info("Sync triggered",
		zap.String("execution_id", id.String()),
		zap.Time("window_start", req.StartDate),
		zap.Time("window_end", req.EndDate),
	)
	h.Accepted(c, dto.TriggerResponse{ExecutionID: id})
}

// SyncOrder syncs one order, with its settled charges and fees, and returns
// the finished execution
// POST /api/v1/sync/orders/:orderId
func (h *ExecutionHandler) SyncOrder(c *gin.Context) {
	orderID := integration.CanonicalOrderID(c.Param("orderId"))
	if orderID == "" {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeValidation, "orderId must look like 123-1234567-1234567")
		return
	}

	ctx := c.Request.Context()
	record, err := h.triggerer.SyncOrder(ctx, orderID)
	switch {
	case err == nil:
	case errors.Is(err, integration.ErrOrderNotFound):
		h.NotFound(c, "Order not found")
		return
	case errors.Is(err, ordersync.ErrNoOrderLookup):
		h.Error(c, http.StatusServiceUnavailable, dto.ErrCodeUnavailable, "Single order sync is not configured")
		return
	default:
		logger.L(ctx).Error("Failed to sync order", zap.String("order_id", orderID), zap.Error(err))
		h.InternalError(c, "Failed to sync order")
		return
	}

	logger.L(ctx).Info("Order synced",
		zap.String("order_id", orderID),
		zap.String("execution_id", record.ID.String()),
		zap.String("status", record.Status.String()),
	)
	h.Success(c, dto.NewExecutionResponse(record))
}

// GetExecution returns an execution summary
// GET /api/v1/executions/:id
func (h *ExecutionHandler) GetExecution(c *gin.Context) {
	id, ok := h.ParseUUID(c, "id")
	if !ok {
		return
	}

	record, err := h.reader.GetSummary(c.Request.Context(), id)
	if err != nil {
		h.handleReadError(c, id, err)
		return
	}
	h.Success(c, dto.NewExecutionResponse(record))
}

// GetExecutionEvents returns an execution's ordered event log
// GET /api/v1/executions/:id/events
func (h *ExecutionHandler) GetExecutionEvents(c *gin.Context) {
	id, ok := h.ParseUUID(c, "id")
	if !ok {
		return
	}

	events, err := h.reader.GetEvents(c.Request.Context(), id)
	if err != nil {
		h.handleReadError(c, id, err)
		return
	}
	h.Success(c, dto.NewEventResponses(events))
}

func (h *ExecutionHandler) handleReadError(c *gin.Context, id uuid.UUID, err error) {
	if errors.Is(err, execution.ErrUnknownExecution) {
		h.NotFound(c, "Execution not found")
		return
	}
	logger.L(c.Request.Context()).Error("Failed to read execution",
		zap.String("execution_id", id.String()),
		zap.Error(err),
	)
	h.InternalError(c, "Failed to read execution")
}
