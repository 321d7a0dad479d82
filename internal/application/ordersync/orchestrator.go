// Package ordersync runs marketplace-to-accounting sync executions: it
// fetches orders, creates one invoice per order, records every step in the
// execution log and notifies operators.
package ordersync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/konozy/ordersync/internal/domain/execution"
	"github.com/konozy/ordersync/internal/domain/integration"
)

const (
	// DefaultWorkers bounds how many orders are processed concurrently.
	DefaultWorkers = 4

	marketplaceName = "amazon"
)

var (
	// ErrFetchFailed wraps fatal order-fetch failures.
	ErrFetchFailed = errors.New("ordersync: fetch orders failed")
	// ErrNoOrderLookup is returned for single-order runs when no
	// OrderLookup is configured.
	ErrNoOrderLookup = errors.New("ordersync: single order sync needs an order lookup")
)

// Request describes one sync run.
type Request struct {
	WindowStart time.Time
	WindowEnd   time.Time
	Statuses    []integration.OrderStatus

	// OrderID restricts the run to one order, looked up by id instead of
	// listed by window. Its invoice also carries the order's marketplace
	// charges and fees when a FinancialEventSource is configured.
	OrderID string

	// order is the already looked-up OrderID
	order *integration.OrderRecord
}

// ReportArchiver stores the finalized record and log of a run.
type ReportArchiver interface {
	Archive(ctx context.Context, record *execution.Record, events []execution.Event) (location string, err error)
}

// Metrics receives run-level measurements.
type Metrics interface {
	RecordOrderFetched(ctx context.Context)
	RecordInvoice(ctx context.Context, errorType string)
	RecordRun(ctx context.Context, status execution.Status, cancelled bool, duration time.Duration)
	RecordFetchFailure(ctx context.Context, errorType string)
}

type nopMetrics struct{}

func (nopMetrics) RecordOrderFetched(context.Context) {}
func (nopMetrics) RecordInvoice(context.Context, string) {}
func (nopMetrics) RecordRun(context.Context, execution.Status, bool, time.Duration) {}
func (nopMetrics) RecordFetchFailure(context.Context, string) {}

// RunFunc drives a begun execution to its finalized record.
type RunFunc func(ctx context.Context, id uuid.UUID, req Request) (*execution.Record, error)

// RunMiddleware wraps every execution, whether started by Run or Trigger.
type RunMiddleware func(next RunFunc) RunFunc

// Orchestrator drives sync executions.
type Orchestrator struct {
	source   integration.OrderSource
	invoices integration.InvoiceCreator
	store    execution.Store

	lookup     integration.OrderLookup
	financials integration.FinancialEventSource

	sink        integration.NotificationSink
	archiver    ReportArchiver
	metrics     Metrics
	logger      *zap.Logger
	workers     int
	marketplace string
	middleware  []RunMiddleware
	run         RunFunc

	// background runs started by Trigger
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option is a functional option for configuring Orchestrator
type Option func(*Orchestrator)

// WithNotificationSink sets where run summaries are sent
func WithNotificationSink(sink integration.NotificationSink) Option {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

// WithReportArchiver sets where finalized runs are archived
func WithReportArchiver(a ReportArchiver) Option {
	return func(o *Orchestrator) {
		o.archiver = a
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithWorkers sets the per-run order concurrency
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithMarketplace sets the marketplace name recorded in events
func WithMarketplace(name string) Option {
	return func(o *Orchestrator) {
		if name != "" {
			o.marketplace = name
		}
	}
}

// WithOrderLookup enables single-order runs
func WithOrderLookup(l integration.OrderLookup) Option {
	return func(o *Orchestrator) {
		o.lookup = l
	}
}

// WithFinancialEvents sets where single-order runs read settled charges and fees
func WithFinancialEvents(src integration.FinancialEventSource) Option {
	return func(o *Orchestrator) {
		o.financials = src
	}
}

// WithRunMiddleware wraps executions; the first middleware is outermost.
func WithRunMiddleware(mw ...RunMiddleware) Option {
	return func(o *Orchestrator) {
		o.middleware = append(o.middleware, mw...)
	}
}

// NewOrchestrator creates an Orchestrator
func NewOrchestrator(source integration.OrderSource, invoices integration.InvoiceCreator, store execution.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		source:      source,
		invoices:    invoices,
		store:       store,
		metrics:     nopMetrics{},
		logger:      zap.NewNop(),
		workers:     DefaultWorkers,
		marketplace: marketplaceName,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.run = o.execute
	for i := len(o.middleware) - 1; i >= 0; i-- {
		o.run = o.middleware[i](o.run)
	}
	o.baseCtx, o.cancel = context.WithCancel(context.Background())
	return o
}

// Run executes one sync synchronously and returns the finalized record.
// A fetch-level failure is returned as an error and leaves the execution
// running with no SyncCompleted event.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*execution.Record, error) {
	if req.OrderID != "" && o.lookup == nil && req.order == nil {
		return nil, ErrNoOrderLookup
	}
	id, err := o.store.Begin(ctx, req.WindowStart, req.WindowEnd)
	if err != nil {
		return nil, fmt.Errorf("ordersync: begin execution: %w", err)
	}
	return o.run(ctx, id, req)
}

// Trigger begins an execution and runs it in the background, returning its
// id immediately. The run keeps the values of ctx, such as its trace, but is
// only cancelled by Close.
func (o *Orchestrator) Trigger(ctx context.Context, req Request) (uuid.UUID, error) {
	if req.OrderID != "" && o.lookup == nil {
		return uuid.Nil, ErrNoOrderLookup
	}
	id, err := o.store.Begin(ctx, req.WindowStart, req.WindowEnd)
	if err != nil {
		return uuid.Nil, fmt.Errorf("ordersync: begin execution: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(o.baseCtx, cancel)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		defer stop()
		if _, err := o.run(runCtx, id, req); err != nil {
			o.logger.Error("Background sync failed",
				zap.String("execution_id", id.String()),
				zap.Error(err),
			)
		}
	}()
	return id, nil
}

// SyncOrder synchronously syncs the order with the given id. The execution
// window is the order's purchase instant. An unknown order returns an error
// wrapping integration.ErrOrderNotFound before any execution is begun.
func (o *Orchestrator) SyncOrder(ctx context.Context, orderID string) (*execution.Record, error) {
	if o.lookup == nil {
		return nil, ErrNoOrderLookup
	}
	order, err := o.lookup.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return o.Run(ctx, Request{
		WindowStart: order.PurchaseDate,
		WindowEnd:   order.PurchaseDate,
		OrderID:     order.OrderID,
		order:       &order,
	})
}

// Wait blocks until every background run has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close cancels background runs and waits for them to finalize.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

func (o *Orchestrator) execute(ctx context.Context, id uuid.UUID, req Request) (*execution.Record, error) {
	logger := o.logger.With(zap.String("execution_id", id.String()))
	started := time.Now()

	// Bookkeeping must outlive cancellation so the run can still be finalized.
	bookCtx := context.WithoutCancel(ctx)

	if _, err := o.store.Append(bookCtx, id, execution.KindSyncStarted, execution.RunAggregateID(id),
		execution.SyncStartedPayload(o.marketplace, req.WindowStart, req.WindowEnd)); err != nil {
		return nil, fmt.Errorf("ordersync: record sync start: %w", err)
	}
	logger.Info("Starting order sync",
		zap.Time("window_start", req.WindowStart),
		zap.Time("window_end", req.WindowEnd),
		zap.Int("workers", o.workers),
	)

	orders, err := o.fetchOrders(ctx, req)
	cancelled := false
	switch {
	case err != nil && ctx.Err() != nil:
		logger.Warn("Order fetch interrupted by cancellation", zap.Error(err))
		orders, cancelled = nil, true
	case err != nil:
		o.metrics.RecordFetchFailure(bookCtx, integration.ErrorType(err))
		logger.Error("Order fetch failed, execution left running", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	logger.Info("Fetched orders", zap.Int("orders", len(orders)))

	if !cancelled {
		cancelled = o.processOrders(ctx, bookCtx, id, orders, req.OrderID != "")
	}

	record, err := o.finalize(bookCtx, id, cancelled)
	if err != nil {
		return nil, err
	}
	o.metrics.RecordRun(bookCtx, record.Status, record.Cancelled, time.Since(started))
	logger.Info("Order sync completed",
		zap.String("status", record.Status.String()),
		zap.Int("total_orders", record.TotalOrders),
		zap.Int("successful", record.Successful),
		zap.Int("failed", record.Failed),
		zap.Bool("cancelled", record.Cancelled),
	)

	o.notify(bookCtx, logger, record)
	o.archive(bookCtx, logger, record)
	return record, nil
}

// fetchOrders drains the order sequence. Any page failure discards what was
// already read.
func (o *Orchestrator) fetchOrders(ctx context.Context, req Request) ([]integration.OrderRecord, error) {
	if req.OrderID != "" {
		if req.order != nil {
			return []integration.OrderRecord{*req.order}, nil
		}
		order, err := o.lookup.GetOrder(ctx, req.OrderID)
		if err != nil {
			return nil, err
		}
		return []integration.OrderRecord{order}, nil
	}

	var orders []integration.OrderRecord
	for order, err := range o.source.ListOrders(ctx, req.WindowStart, req.WindowEnd, req.Statuses) {
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// processOrders fans orders out to a bounded worker pool. Cancellation stops
// new orders from starting; started ones run to completion. It reports
// whether cancellation cut the batch short.
func (o *Orchestrator) processOrders(ctx, bookCtx context.Context, id uuid.UUID, orders []integration.OrderRecord, withFees bool) bool {
	var g errgroup.Group
	g.SetLimit(o.workers)

	cancelled := false
	for _, order := range orders {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		g.Go(func() error {
			// A slot may free up only after cancellation.
			if ctx.Err() != nil {
				return nil
			}
			o.processOrder(bookCtx, id, order, withFees)
			return nil
		})
	}
	_ = g.Wait()
	return cancelled || ctx.Err() != nil
}

func (o *Orchestrator) processOrder(ctx context.Context, id uuid.UUID, order integration.OrderRecord, withFees bool) {
	logger := o.logger.With(
		zap.String("execution_id", id.String()),
		zap.String("order_id", order.OrderID),
	)

	total, currency := decimal.Zero, integration.DefaultCurrency
	if order.Total != nil {
		total, currency = order.Total.Amount, order.Total.CurrencyCode
	}
	if _, err := o.store.Append(ctx, id, execution.KindOrderFetched, order.OrderID,
		execution.OrderFetchedPayload(order.OrderID, o.marketplace, order.BuyerEmail, order.PurchaseDate, total, currency)); err != nil {
		logger.Error("Failed to record fetched order", zap.Error(err))
		return
	}
	o.metrics.RecordOrderFetched(ctx)

	order = order.WithItems(o.source.ListOrderItems(ctx, order.OrderID))
	header, lines, err := MapInvoice(order)
	if err != nil {
		o.recordFailure(ctx, logger, id, order.OrderID, err)
		return
	}
	if withFees && o.financials != nil {
		fees, err := o.feeLines(ctx, logger, order.OrderID, header.Currency)
		if err != nil {
			o.recordFailure(ctx, logger, id, order.OrderID, err)
			return
		}
		lines = append(lines, fees...)
	}

	invoiceID, err := o.invoices.Create(ctx, header, lines)
	if err != nil {
		if !errors.Is(err, integration.ErrInvoiceFailed) {
			err = fmt.Errorf("%w: %w", integration.ErrInvoiceFailed, err)
		}
		o.recordFailure(ctx, logger, id, order.OrderID, err)
		return
	}

	if _, err := o.store.Append(ctx, id, execution.KindInvoiceCreated, order.OrderID,
		execution.InvoiceCreatedPayload(order.OrderID, invoiceID, header.PartnerEmail, len(lines))); err != nil {
		logger.Error("Failed to record created invoice", zap.String("invoice_id", invoiceID), zap.Error(err))
		return
	}
	o.metrics.RecordInvoice(ctx, "")
	logger.Info("Invoice created", zap.String("invoice_id", invoiceID), zap.Int("lines", len(lines)))
}

// feeLines reads the settled events of an order and renders its charges and
// fees as invoice lines in the invoice currency.
func (o *Orchestrator) feeLines(ctx context.Context, logger *zap.Logger, orderID, currency string) ([]integration.InvoiceLine, error) {
	events, err := o.financials.ListFinancialEvents(ctx, orderID)
	if err != nil {
		return nil, err
	}
	breakdown := MapFinancialBreakdown(orderID, events)
	if len(breakdown.Lines) > 0 && breakdown.Currency != currency {
		return nil, &integration.MappingError{
			OrderID: orderID,
			Field:   "FinancialEvents",
			Reason:  fmt.Sprintf("currency %s differs from invoice currency %s", breakdown.Currency, currency),
		}
	}
	logger.Info("Settled amounts mapped",
		zap.Int("fee_lines", len(breakdown.Lines)),
		zap.String("principal", breakdown.Principal.StringFixed(2)),
		zap.String("net_proceeds", breakdown.NetProceeds().StringFixed(2)),
	)
	return FeeInvoiceLines(breakdown), nil
}

func (o *Orchestrator) recordFailure(ctx context.Context, logger *zap.Logger, id uuid.UUID, orderID string, cause error) {
	errorType := integration.ErrorType(cause)
	logger.Warn("Order failed", zap.String("error_type", errorType), zap.Error(cause))
	o.metrics.RecordInvoice(ctx, errorType)

	if _, err := o.store.Append(ctx, id, execution.KindInvoiceFailed, orderID,
		execution.InvoiceFailedPayload(orderID, cause.Error(), errorType)); err != nil {
		logger.Error("Failed to record failed invoice", zap.Error(err))
	}
}

// finalize appends SyncCompleted with counts derived from the log, then
// completes the execution from the same log.
func (o *Orchestrator) finalize(ctx context.Context, id uuid.UUID, cancelled bool) (*execution.Record, error) {
	events, err := o.store.GetEvents(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ordersync: load events: %w", err)
	}
	counts := execution.Tally(events)
	if _, err := o.store.Append(ctx, id, execution.KindSyncCompleted, execution.RunAggregateID(id),
		execution.SyncCompletedPayload(counts, cancelled)); err != nil {
		return nil, fmt.Errorf("ordersync: record sync completion: %w", err)
	}

	var opts []execution.CompleteOption
	if cancelled {
		opts = append(opts, execution.WithCancelled())
	}
	record, err := o.store.Complete(ctx, id, opts...)
	if err != nil {
		return nil, fmt.Errorf("ordersync: complete execution: %w", err)
	}
	return record, nil
}

func (o *Orchestrator) notify(ctx context.Context, logger *zap.Logger, record *execution.Record) {
	if o.sink == nil {
		return
	}
	msg, severity := SummaryMessage(record)
	if err := o.sink.Notify(ctx, msg, severity); err != nil {
		logger.Warn("Failed to send sync notification", zap.Error(err))
	}
}

func (o *Orchestrator) archive(ctx context.Context, logger *zap.Logger, record *execution.Record) {
	if o.archiver == nil {
		return
	}
	events, err := o.store.GetEvents(ctx, record.ID)
	if err != nil {
		logger.Warn("Failed to load events for archive", zap.Error(err))
		return
	}
	location, err := o.archiver.Archive(ctx, record, events)
	if err != nil {
		logger.Warn("Failed to archive execution report", zap.Error(err))
		return
	}
	logger.Debug("Execution report archived", zap.String("location", location))
}
