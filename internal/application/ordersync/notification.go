package ordersync

import (
	"fmt"

	"github.com/konozy/ordersync/internal/domain/execution"
	"github.com/konozy/ordersync/internal/domain/integration"
)

// SummaryMessage renders the operator notification for a finalized run.
// Runs with failed orders are reported as critical.
func SummaryMessage(record *execution.Record) (string, integration.Severity) {
	msg := fmt.Sprintf("[KONOZY] Amazon sync completed | exec=%s | orders=%d | invoices_ok=%d | invoices_failed=%d",
		record.ID, record.TotalOrders, record.Successful, record.Failed)
	if record.Cancelled {
		msg += " | cancelled"
	}
	if record.Failed > 0 {
		return msg, integration.SeverityCritical
	}
	return msg, integration.SeverityInfo
}
