package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konozy/ordersync/internal/application/ordersync"
	"github.com/konozy/ordersync/internal/domain/execution"
	"github.com/konozy/ordersync/internal/domain/integration"
	"github.com/konozy/ordersync/internal/infrastructure/event"
	"github.com/konozy/ordersync/internal/interfaces/http/middleware"
)

type stubTriggerer struct {
	id     uuid.UUID
	err    error
	seen   []ordersync.Request
	orders []string
}

func (s *stubTriggerer) Trigger(_ context.Context, req ordersync.Request) (uuid.UUID, error) {
	s.seen = append(s.seen, req)
	return s.id, s.err
}

func (s *stubTriggerer) SyncOrder(_ context.Context, orderID string) (*execution.Record, error) {
	s.orders = append(s.orders, orderID)
	if s.err != nil {
		return nil, s.err
	}
	return &execution.Record{
		ID:     s.id,
		Status: execution.StatusCompleted,
		Counts: execution.Counts{TotalOrders: 1, Successful: 1},
	}, nil
}

type failingReader struct{}

func (failingReader) GetSummary(context.Context, uuid.UUID) (*execution.Record, error) {
	return nil, errors.New("connection reset")
}

func (failingReader) GetEvents(context.Context, uuid.UUID) ([]execution.Event, error) {
	return nil, errors.New("connection reset")
}

type envelope[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func newTestRouter(h *ExecutionHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()
	r := gin.New()
	r.Use(middleware.RequestID())
	r.POST("/api/v1/sync", h.TriggerSync)
	r.POST("/api/v1/sync/orders/:orderId", h.SyncOrder)
	r.GET("/api/v1/executions/:id", h.GetExecution)
	r.GET("/api/v1/executions/:id/events", h.GetExecutionEvents)
	return r
}

func serve(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTriggerSync(t *testing.T) {
	defaults := []integration.OrderStatus{integration.OrderStatusShipped, integration.OrderStatusUnshipped}

	t.Run("accepted", func(t *testing.T) {
		trig := &stubTriggerer{id: uuid.New()}
		r := newTestRouter(NewExecutionHandler(trig, event.NewMemoryStore(), defaults))

		w := serve(r, http.MethodPost, "/api/v1/sync", `{"start_date":"2024-03-01T00:00:00Z","end_date":"2024-03-02T00:00:00+01:00"}`)

		require.Equal(t, http.StatusAccepted, w.Code)
		env := decode[struct {
			ExecutionID uuid.UUID `json:"execution_id"`
		}](t, w)
		assert.True(t, env.Success)
		assert.Equal(t, trig.id, env.Data.ExecutionID)

		require.Len(t, trig.seen, 1)
		assert.Equal(t, defaults, trig.seen[0].Statuses)
		assert.Equal(t, time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC), trig.seen[0].WindowEnd)
	})

	t.Run("rejects invalid body without triggering", func(t *testing.T) {
		trig := &stubTriggerer{id: uuid.New()}
		r := newTestRouter(NewExecutionHandler(trig, event.NewMemoryStore(), defaults))

		w := serve(r, http.MethodPost, "/api/v1/sync", `{"start_date":"2024-03-02T00:00:00Z","end_date":"2024-03-01T00:00:00Z"}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "ERR_VALIDATION", decode[any](t, w).Error.Code)
		assert.Empty(t, trig.seen)
	})

	t.Run("invalid window from orchestrator", func(t *testing.T) {
		trig := &stubTriggerer{err: fmt.Errorf("ordersync: begin execution: %w", execution.ErrInvalidWindow)}
		r := newTestRouter(NewExecutionHandler(trig, event.NewMemoryStore(), defaults))

		w := serve(r, http.MethodPost, "/api/v1/sync", `{"start_date":"2024-03-01T00:00:00Z","end_date":"2024-03-02T00:00:00Z"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("store failure", func(t *testing.T) {
		trig := &stubTriggerer{err: errors.New("database is locked")}
		r := newTestRouter(NewExecutionHandler(trig, event.NewMemoryStore(), defaults))

		w := serve(r, http.MethodPost, "/api/v1/sync", `{"start_date":"2024-03-01T00:00:00Z","end_date":"2024-03-02T00:00:00Z"}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "database is locked")
	})
}

func TestSyncOrder(t *testing.T) {
	t.Run("synced", func(t *testing.T) {
		trig := &stubTriggerer{id: uuid.New()}
		r := newTestRouter(NewExecutionHandler(trig, event.NewMemoryStore(), nil))

		w := serve(r, http.MethodPost, "/api/v1/sync/orders/AMZ-402-6202063-8451542", "")

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		env := decode[struct {
			ExecutionID uuid.UUID `json:"execution_id"`
			Status      string    `json:"status"`
			Successful  int       `json:"successful"`
		}](t, w)
		assert.Equal(t, trig.id, env.Data.ExecutionID)
		assert.Equal(t, string(execution.StatusCompleted), env.Data.Status)
		assert.Equal(t, 1, env.Data.Successful)
		assert.Equal(t, []string{"402-6202063-8451542"}, trig.orders, "prefixes are stripped")
	})

	t.Run("malformed order id", func(t *testing.T) {
		trig := &stubTriggerer{}
		r := newTestRouter(NewExecutionHandler(trig, event.NewMemoryStore(), nil))

		w := serve(r, http.MethodPost, "/api/v1/sync/orders/not-an-order", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "ERR_VALIDATION", decode[any](t, w).Error.Code)
		assert.Empty(t, trig.orders)
	})

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"unknown order", fmt.Errorf("%w: 402-6202063-8451542", integration.ErrOrderNotFound), http.StatusNotFound, "ERR_NOT_FOUND"},
		{"no order lookup", ordersync.ErrNoOrderLookup, http.StatusServiceUnavailable, "ERR_UNAVAILABLE"},
		{"marketplace failure", &integration.AuthError{StatusCode: 401, Reason: "invalid_grant"}, http.StatusInternalServerError, "ERR_INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(NewExecutionHandler(&stubTriggerer{err: tt.err}, event.NewMemoryStore(), nil))

			w := serve(r, http.MethodPost, "/api/v1/sync/orders/402-6202063-8451542", "")
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantErr, decode[any](t, w).Error.Code)
		})
	}
}

func TestGetExecution(t *testing.T) {
	ctx := context.Background()
	store := event.NewMemoryStore()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	id, err := store.Begin(ctx, start, start.Add(24*time.Hour))
	require.NoError(t, err)
	_, err = store.Append(ctx, id, execution.KindSyncStarted, execution.RunAggregateID(id), execution.SyncStartedPayload("amazon", start, start.Add(24*time.Hour)))
	require.NoError(t, err)
	_, err = store.Append(ctx, id, execution.KindOrderFetched, "111-1", execution.Payload{"order_id": "111-1"})
	require.NoError(t, err)
	_, err = store.Append(ctx, id, execution.KindInvoiceFailed, "111-1", execution.InvoiceFailedPayload("111-1", "partner missing", "ValidationError"))
	require.NoError(t, err)
	_, err = store.Append(ctx, id, execution.KindSyncCompleted, execution.RunAggregateID(id),
		execution.SyncCompletedPayload(execution.Counts{TotalOrders: 1, Failed: 1}, false))
	require.NoError(t, err)
	_, err = store.Complete(ctx, id)
	require.NoError(t, err)

	r := newTestRouter(NewExecutionHandler(&stubTriggerer{}, store, nil))

	t.Run("summary", func(t *testing.T) {
		w := serve(r, http.MethodGet, "/api/v1/executions/"+id.String(), "")
		require.Equal(t, http.StatusOK, w.Code)

		env := decode[map[string]any](t, w)
		assert.Equal(t, "completed_with_errors", env.Data["status"])
		assert.EqualValues(t, 1, env.Data["total_orders"])
		assert.EqualValues(t, 1, env.Data["failed"])
	})

	t.Run("events in order", func(t *testing.T) {
		w := serve(r, http.MethodGet, "/api/v1/executions/"+id.String()+"/events", "")
		require.Equal(t, http.StatusOK, w.Code)

		env := decode[[]struct {
			Sequence int64  `json:"sequence"`
			Kind     string `json:"kind"`
		}](t, w)
		kinds := make([]string, len(env.Data))
		for i, e := range env.Data {
			kinds[i] = e.Kind
		}
		assert.Equal(t, []string{"SyncStarted", "OrderFetched", "InvoiceFailed", "SyncCompleted"}, kinds)
	})

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantCode   string
	}{
		{"non uuid summary", "/api/v1/executions/not-a-uuid", http.StatusBadRequest, "ERR_BAD_REQUEST"},
		{"non uuid events", "/api/v1/executions/42/events", http.StatusBadRequest, "ERR_BAD_REQUEST"},
		{"unknown summary", "/api/v1/executions/" + uuid.NewString(), http.StatusNotFound, "ERR_NOT_FOUND"},
		{"unknown events", "/api/v1/executions/" + uuid.NewString() + "/events", http.StatusNotFound, "ERR_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(r, http.MethodGet, tt.path, "")
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, decode[any](t, w).Error.Code)
		})
	}

	t.Run("read failure", func(t *testing.T) {
		r := newTestRouter(NewExecutionHandler(&stubTriggerer{}, failingReader{}, nil))
		w := serve(r, http.MethodGet, "/api/v1/executions/"+id.String(), "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
