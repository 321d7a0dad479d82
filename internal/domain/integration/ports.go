package integration

import (
	"context"
	"iter"
	"time"
)

// OrderSource is the port for reading orders from the marketplace.
type OrderSource interface {
	// ListOrders yields every order created in [start, end) whose status is
	// in statuses (all statuses when empty). Pagination is hidden; a page
	// failure is yielded once as an error and ends the sequence.
	ListOrders(ctx context.Context, start, end time.Time, statuses []OrderStatus) iter.Seq2[OrderRecord, error]

	// ListOrderItems returns the items of one order. Failures are logged and
	// reported as an empty slice.
	ListOrderItems(ctx context.Context, orderID string) []OrderItem
}

// OrderLookup reads a single order by id. An unknown order is reported as
// ErrOrderNotFound.
type OrderLookup interface {
	GetOrder(ctx context.Context, orderID string) (OrderRecord, error)
}

// FinancialEventSource reads the settlement events posted for one order.
type FinancialEventSource interface {
	ListFinancialEvents(ctx context.Context, orderID string) (FinancialEvents, error)
}

// InvoiceCreator is the port for the accounting backend.
type InvoiceCreator interface {
	Create(ctx context.Context, header InvoiceHeader, lines []InvoiceLine) (invoiceID string, err error)
}

// Severity ranks a notification, 0 (debug) to 100 (critical).
type Severity int

const (
	SeverityInfo     Severity = 20
	SeverityWarning  Severity = 50
	SeverityCritical Severity = 80
)

// NotificationSink is the port for operator notifications.
type NotificationSink interface {
	Notify(ctx context.Context, message string, severity Severity) error
}
