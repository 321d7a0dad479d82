package telemetry

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/konozy/ordersync/internal/application/ordersync"
	"github.com/konozy/ordersync/internal/domain/execution"
	"github.com/konozy/ordersync/internal/infrastructure/marketplace"
)

// SyncMetrics records run, order, invoice and marketplace client measurements
type SyncMetrics struct {
	ordersFetched  metric.Int64Counter
	invoices       metric.Int64Counter
	runs           metric.Int64Counter
	runDuration    metric.Float64Histogram
	fetchFailures  metric.Int64Counter
	tokenRefreshes metric.Int64Counter
	retries        metric.Int64Counter
	retryDelay     metric.Float64Histogram
}

// Ensure SyncMetrics serves both recorders
var (
	_ ordersync.Metrics           = (*SyncMetrics)(nil)
	_ marketplace.MetricsRecorder = (*SyncMetrics)(nil)
)

// NewSyncMetrics registers the sync instruments on meter
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	var (
		m   SyncMetrics
		err error
		all []error
	)

	m.ordersFetched, err = meter.Int64Counter("ordersync.orders.fetched",
		metric.WithDescription("Orders fetched from the marketplace"), metric.WithUnit("{order}"))
	all = append(all, err)
	m.invoices, err = meter.Int64Counter("ordersync.invoices",
		metric.WithDescription("Invoice creation attempts by outcome"), metric.WithUnit("{invoice}"))
	all = append(all, err)
	m.runs, err = meter.Int64Counter("ordersync.runs",
		metric.WithDescription("Finalized sync runs by status"), metric.WithUnit("{run}"))
	all = append(all, err)
	m.runDuration, err = meter.Float64Histogram("ordersync.run.duration",
		metric.WithDescription("Wall time of a sync run"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 15, 30, 60, 120, 300, 600, 1800))
	all = append(all, err)
	m.fetchFailures, err = meter.Int64Counter("ordersync.fetch.failures",
		metric.WithDescription("Runs aborted by an order fetch failure"), metric.WithUnit("{run}"))
	all = append(all, err)
	m.tokenRefreshes, err = meter.Int64Counter("marketplace.token.refreshes",
		metric.WithDescription("LWA access token refreshes by outcome"), metric.WithUnit("{refresh}"))
	all = append(all, err)
	m.retries, err = meter.Int64Counter("marketplace.request.retries",
		metric.WithDescription("Retried marketplace requests by status code"), metric.WithUnit("{retry}"))
	all = append(all, err)
	m.retryDelay, err = meter.Float64Histogram("marketplace.request.retry_delay",
		metric.WithDescription("Delay before a retried marketplace request"), metric.WithUnit("s"))
	all = append(all, err)

	if err := errors.Join(all...); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *SyncMetrics) RecordOrderFetched(ctx context.Context) {
	m.ordersFetched.Add(ctx, 1)
}

// RecordInvoice counts one invoice attempt; an empty errorType is a success
func (m *SyncMetrics) RecordInvoice(ctx context.Context, errorType string) {
	outcome := "created"
	if errorType != "" {
		outcome = "failed"
	}
	m.invoices.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("error_type", errorType),
	))
}

func (m *SyncMetrics) RecordRun(ctx context.Context, status execution.Status, cancelled bool, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("status", status.String()),
		attribute.Bool("cancelled", cancelled),
	)
	m.runs.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *SyncMetrics) RecordFetchFailure(ctx context.Context, errorType string) {
	m.fetchFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("error_type", errorType)))
}

func (m *SyncMetrics) RecordTokenRefresh(ctx context.Context, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.tokenRefreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *SyncMetrics) RecordRetry(ctx context.Context, statusCode int, delay time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status_code", strconv.Itoa(statusCode)))
	m.retries.Add(ctx, 1, attrs)
	m.retryDelay.Record(ctx, delay.Seconds(), attrs)
}
