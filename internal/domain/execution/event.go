package execution

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind enumerates what happened during a sync run.
type Kind string

const (
	KindSyncStarted    Kind = "SyncStarted"
	KindOrderFetched   Kind = "OrderFetched"
	KindInvoiceCreated Kind = "InvoiceCreated"
	KindInvoiceFailed  Kind = "InvoiceFailed"
	KindSyncCompleted  Kind = "SyncCompleted"
)

// IsValid returns true if the kind is known
func (k Kind) IsValid() bool {
	switch k {
	case KindSyncStarted, KindOrderFetched, KindInvoiceCreated, KindInvoiceFailed, KindSyncCompleted:
		return true
	default:
		return false
	}
}

// String returns the string representation of Kind
func (k Kind) String() string {
	return string(k)
}

// Payload is the kind-specific body of an event.
type Payload map[string]any

// Event is one immutable fact in an execution's log.
type Event struct {
	ExecutionID uuid.UUID `json:"execution_id"`
	Sequence    int64     `json:"sequence"`
	Kind        Kind      `json:"kind"`
	AggregateID string    `json:"aggregate_id"`
	Timestamp   time.Time `json:"timestamp"`
	Payload     Payload   `json:"payload"`
}

// RunAggregateID is the aggregate id of run-level events.
func RunAggregateID(executionID uuid.UUID) string {
	return "sync-" + executionID.String()
}

// SortEvents orders events by timestamp, ties broken by sequence.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Sequence < events[j].Sequence
		}
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}

// ---------------------------------------------------------------------------
// Payload builders
// ---------------------------------------------------------------------------

// SyncStartedPayload describes the requested window.
func SyncStartedPayload(marketplace string, start, end time.Time) Payload {
	return Payload{
		"marketplace": marketplace,
		"start_date":  start.UTC().Format(time.RFC3339),
		"end_date":    end.UTC().Format(time.RFC3339),
	}
}

// OrderFetchedPayload describes one fetched order.
func OrderFetchedPayload(orderID, marketplace, buyerEmail string, purchaseDate time.Time, total decimal.Decimal, currency string) Payload {
	p := Payload{
		"order_id":    orderID,
		"marketplace": marketplace,
		"buyer_email": buyerEmail,
		"order_total": total.StringFixed(2),
		"currency":    currency,
	}
	if !purchaseDate.IsZero() {
		p["purchase_date"] = purchaseDate.UTC().Format(time.RFC3339)
	} else {
		p["purchase_date"] = nil
	}
	return p
}

// InvoiceCreatedPayload describes a created invoice.
func InvoiceCreatedPayload(orderID, invoiceID, partnerID string, lines int) Payload {
	return Payload{
		"order_id":            orderID,
		"invoice_id":          invoiceID,
		"partner_id":          partnerID,
		"invoice_lines_count": lines,
	}
}

// InvoiceFailedPayload describes a failed order.
func InvoiceFailedPayload(orderID, message, errorType string) Payload {
	return Payload{
		"order_id":      orderID,
		"error_message": message,
		"error_type":    errorType,
	}
}

// SyncCompletedPayload carries the run-level counts.
func SyncCompletedPayload(c Counts, cancelled bool) Payload {
	return Payload{
		"total_orders":     c.TotalOrders,
		"successful":       c.Successful,
		"failed":           c.Failed,
		"invoices_created": c.Successful,
		"invoices_failed":  c.Failed,
		"cancelled":        cancelled,
	}
}
