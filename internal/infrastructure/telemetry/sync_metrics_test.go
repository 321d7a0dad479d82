package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/konozy/ordersync/internal/domain/execution"
)

func newTestSyncMetrics(t *testing.T) (*SyncMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewSyncMetrics(provider.Meter("test"))
	require.NoError(t, err)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumByAttr(t *testing.T, m metricdata.Metrics, key attribute.Key) map[string]int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, m.Name)
	out := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(key)
		out[v.Emit()] += dp.Value
	}
	return out
}

func TestSyncMetrics_RunAndInvoices(t *testing.T) {
	m, reader := newTestSyncMetrics(t)
	ctx := context.Background()

	m.RecordOrderFetched(ctx)
	m.RecordOrderFetched(ctx)
	m.RecordInvoice(ctx, "")
	m.RecordInvoice(ctx, "InvoiceCreationFailed")
	m.RecordRun(ctx, execution.StatusCompletedWithErrors, false, 90*time.Second)
	m.RecordFetchFailure(ctx, "ThrottledError")

	got := collect(t, reader)

	fetched := got["ordersync.orders.fetched"].Data.(metricdata.Sum[int64])
	require.Len(t, fetched.DataPoints, 1)
	assert.Equal(t, int64(2), fetched.DataPoints[0].Value)

	assert.Equal(t, map[string]int64{"created": 1, "failed": 1},
		sumByAttr(t, got["ordersync.invoices"], "outcome"))
	assert.Equal(t, map[string]int64{"completed_with_errors": 1},
		sumByAttr(t, got["ordersync.runs"], "status"))
	assert.Equal(t, map[string]int64{"ThrottledError": 1},
		sumByAttr(t, got["ordersync.fetch.failures"], "error_type"))

	hist := got["ordersync.run.duration"].Data.(metricdata.Histogram[float64])
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, 90.0, hist.DataPoints[0].Sum)
}

func TestSyncMetrics_MarketplaceClient(t *testing.T) {
	m, reader := newTestSyncMetrics(t)
	ctx := context.Background()

	m.RecordTokenRefresh(ctx, nil)
	m.RecordTokenRefresh(ctx, errors.New("invalid_grant"))
	m.RecordRetry(ctx, 429, 2*time.Second)
	m.RecordRetry(ctx, 429, 4*time.Second)
	m.RecordRetry(ctx, 503, time.Second)

	got := collect(t, reader)
	assert.Equal(t, map[string]int64{"success": 1, "failure": 1},
		sumByAttr(t, got["marketplace.token.refreshes"], "outcome"))
	assert.Equal(t, map[string]int64{"429": 2, "503": 1},
		sumByAttr(t, got["marketplace.request.retries"], "status_code"))

	hist := got["marketplace.request.retry_delay"].Data.(metricdata.Histogram[float64])
	var total float64
	for _, dp := range hist.DataPoints {
		total += dp.Sum
	}
	assert.Equal(t, 7.0, total)
}
