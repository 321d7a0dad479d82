package ordersync

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/konozy/ordersync/internal/domain/execution"
	"github.com/konozy/ordersync/internal/domain/integration"
)

func TestSummaryMessage(t *testing.T) {
	id := uuid.MustParse("0b6f5c0e-2d7a-4a55-b0b8-7d3c9e1f2a44")

	tests := []struct {
		name     string
		record   execution.Record
		want     string
		severity integration.Severity
	}{
		{
			name:     "with failures",
			record:   execution.Record{ID: id, Counts: execution.Counts{TotalOrders: 3, Successful: 2, Failed: 1}},
			want:     "[KONOZY] Amazon sync completed | exec=0b6f5c0e-2d7a-4a55-b0b8-7d3c9e1f2a44 | orders=3 | invoices_ok=2 | invoices_failed=1",
			severity: integration.SeverityCritical,
		},
		{
			name:     "clean run",
			record:   execution.Record{ID: id, Counts: execution.Counts{TotalOrders: 2, Successful: 2}},
			want:     "[KONOZY] Amazon sync completed | exec=0b6f5c0e-2d7a-4a55-b0b8-7d3c9e1f2a44 | orders=2 | invoices_ok=2 | invoices_failed=0",
			severity: integration.SeverityInfo,
		},
		{
			name:     "cancelled",
			record:   execution.Record{ID: id, Cancelled: true},
			want:     "[KONOZY] Amazon sync completed | exec=0b6f5c0e-2d7a-4a55-b0b8-7d3c9e1f2a44 | orders=0 | invoices_ok=0 | invoices_failed=0 | cancelled",
			severity: integration.SeverityInfo,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, severity := SummaryMessage(&tt.record)
			assert.Equal(t, tt.want, msg)
			assert.Equal(t, tt.severity, severity)
		})
	}
}
