package telemetry

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/konozy/ordersync/internal/application/ordersync"
	"github.com/konozy/ordersync/internal/domain/execution"
	"github.com/konozy/ordersync/internal/domain/integration"
	"github.com/konozy/ordersync/internal/infrastructure/accounting"
	"github.com/konozy/ordersync/internal/infrastructure/event"
)

func newRecordingTracer(t *testing.T) (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return recorder, provider
}

func spanAttrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

var runRequest = ordersync.Request{
	WindowStart: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	WindowEnd:   time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
}

// stubRun returns a fixed outcome and remembers the context it ran with
func stubRun(record *execution.Record, err error, saw *context.Context) ordersync.RunFunc {
	return func(ctx context.Context, _ uuid.UUID, _ ordersync.Request) (*execution.Record, error) {
		*saw = ctx
		return record, err
	}
}

// emptySource lists no orders
type emptySource struct{}

func (emptySource) ListOrders(context.Context, time.Time, time.Time, []integration.OrderStatus) iter.Seq2[integration.OrderRecord, error] {
	return func(func(integration.OrderRecord, error) bool) {}
}

func (emptySource) ListOrderItems(context.Context, string) []integration.OrderItem { return nil }

func TestTraceRuns_Success(t *testing.T) {
	recorder, provider := newRecordingTracer(t)
	id := uuid.New()
	record := execution.NewRecord(id, runRequest.WindowStart, runRequest.WindowEnd, runRequest.WindowEnd)
	record.Status = execution.StatusCompleted
	record.TotalOrders, record.Successful = 3, 3

	var saw context.Context
	run := TraceRuns(provider.Tracer("test"))(stubRun(record, nil, &saw))
	got, err := run(context.Background(), id, runRequest)
	require.NoError(t, err)
	assert.Same(t, record, got)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "ordersync.run", span.Name())
	assert.Equal(t, codes.Ok, span.Status().Code)
	assert.True(t, trace.SpanContextFromContext(saw).IsValid(), "inner run sees the span")

	attrs := spanAttrs(span)
	assert.Equal(t, id.String(), attrs["sync.execution_id"].AsString())
	assert.Equal(t, int64(3), attrs["sync.total_orders"].AsInt64())
	assert.Equal(t, "2024-03-01T00:00:00Z", attrs["sync.window_start"].AsString())
}

func TestTraceRuns_PartialFailureMarksSpan(t *testing.T) {
	recorder, provider := newRecordingTracer(t)
	record := execution.NewRecord(uuid.New(), runRequest.WindowStart, runRequest.WindowEnd, runRequest.WindowEnd)
	record.Status = execution.StatusCompletedWithErrors
	record.TotalOrders, record.Successful, record.Failed = 2, 1, 1

	var saw context.Context
	_, err := TraceRuns(provider.Tracer("test"))(stubRun(record, nil, &saw))(context.Background(), record.ID, runRequest)
	require.NoError(t, err)

	span := recorder.Ended()[0]
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Equal(t, "completed_with_errors", spanAttrs(span)["sync.status"].AsString())
}

func TestTraceRuns_Error(t *testing.T) {
	recorder, provider := newRecordingTracer(t)
	boom := errors.New("fetch orders failed")

	var saw context.Context
	_, err := TraceRuns(provider.Tracer("test"))(stubRun(nil, boom, &saw))(context.Background(), uuid.New(), runRequest)
	assert.ErrorIs(t, err, boom)

	span := recorder.Ended()[0]
	assert.Equal(t, codes.Error, span.Status().Code)
	require.Len(t, span.Events(), 1)
	assert.Equal(t, "exception", span.Events()[0].Name)
}

func TestTraceRuns_CoversTriggeredRuns(t *testing.T) {
	recorder, provider := newRecordingTracer(t)
	tracer := provider.Tracer("test")
	store := event.NewMemoryStore()
	o := ordersync.NewOrchestrator(emptySource{}, accounting.NewDryRunCreator(nil), store,
		ordersync.WithRunMiddleware(TraceRuns(tracer)))
	t.Cleanup(o.Close)

	// the caller's span stands in for the HTTP request span
	ctx, request := tracer.Start(context.Background(), "POST /api/v1/sync")
	id, err := o.Trigger(ctx, runRequest)
	require.NoError(t, err)
	request.End()
	o.Wait()

	var run sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		if span.Name() == "ordersync.run" {
			run = span
		}
	}
	require.NotNil(t, run, "background run is traced")
	assert.Equal(t, id.String(), spanAttrs(run)["sync.execution_id"].AsString())
	assert.Equal(t, request.SpanContext().TraceID(), run.SpanContext().TraceID())
	assert.Equal(t, request.SpanContext().SpanID(), run.Parent().SpanID())
	assert.Equal(t, codes.Ok, run.Status().Code)

	summary, err := store.GetSummary(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCompleted, summary.Status)
}

func TestTraceRuns_CoversDirectRuns(t *testing.T) {
	recorder, provider := newRecordingTracer(t)
	o := ordersync.NewOrchestrator(emptySource{}, accounting.NewDryRunCreator(nil), event.NewMemoryStore(),
		ordersync.WithRunMiddleware(TraceRuns(provider.Tracer("test"))))
	t.Cleanup(o.Close)

	record, err := o.Run(context.Background(), runRequest)
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, record.ID.String(), spanAttrs(spans[0])["sync.execution_id"].AsString())
}

func TestTraceRuns_SingleOrderCarriesOrderID(t *testing.T) {
	recorder, provider := newRecordingTracer(t)
	id := uuid.New()
	record := execution.NewRecord(id, runRequest.WindowStart, runRequest.WindowStart, runRequest.WindowEnd)
	record.Status = execution.StatusCompleted

	var saw context.Context
	run := TraceRuns(provider.Tracer("test"))(stubRun(record, nil, &saw))
	_, err := run(context.Background(), id, ordersync.Request{OrderID: "402-6202063-8451542"})
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "402-6202063-8451542", spanAttrs(spans[0])["sync.order_id"].AsString())
}
