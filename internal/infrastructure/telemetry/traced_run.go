package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/konozy/ordersync/internal/application/ordersync"
	"github.com/konozy/ordersync/internal/domain/execution"
)

// TraceRuns wraps each sync execution in a span and tags its profile
// samples. It applies to scheduled, command line and HTTP triggered runs
// alike.
func TraceRuns(tracer trace.Tracer) ordersync.RunMiddleware {
	return func(next ordersync.RunFunc) ordersync.RunFunc {
		return func(ctx context.Context, id uuid.UUID, req ordersync.Request) (*execution.Record, error) {
			ctx, span := tracer.Start(ctx, "ordersync.run",
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(
					attribute.String("sync.execution_id", id.String()),
					attribute.String("sync.window_start", req.WindowStart.UTC().Format(time.RFC3339)),
					attribute.String("sync.window_end", req.WindowEnd.UTC().Format(time.RFC3339)),
				),
			)
			defer span.End()
			if req.OrderID != "" {
				span.SetAttributes(attribute.String("sync.order_id", req.OrderID))
			}

			var (
				record *execution.Record
				err    error
			)
			WithProfileLabels(ctx, func(ctx context.Context) {
				record, err = next(ctx, id, req)
			}, "operation", "ordersync.run")

			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}

			span.SetAttributes(
				attribute.String("sync.status", record.Status.String()),
				attribute.Int("sync.total_orders", record.TotalOrders),
				attribute.Int("sync.successful", record.Successful),
				attribute.Int("sync.failed", record.Failed),
				attribute.Bool("sync.cancelled", record.Cancelled),
			)
			if record.Failed > 0 {
				span.SetStatus(codes.Error, "some invoices failed")
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return record, nil
		}
	}
}
