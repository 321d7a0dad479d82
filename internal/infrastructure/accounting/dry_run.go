package accounting

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/konozy/ordersync/internal/domain/integration"
)

// Ensure DryRunCreator implements integration.InvoiceCreator
var _ integration.InvoiceCreator = (*DryRunCreator)(nil)

// DryRunCreator logs the invoice it would create and returns a synthetic
// id. It stands in for Odoo when the accounting backend is disabled.
type DryRunCreator struct {
	logger *zap.Logger
}

// NewDryRunCreator creates a DryRunCreator
func NewDryRunCreator(logger *zap.Logger) *DryRunCreator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DryRunCreator{logger: logger}
}

// Create implements integration.InvoiceCreator
func (c *DryRunCreator) Create(ctx context.Context, header integration.InvoiceHeader, lines []integration.InvoiceLine) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("%w: order %s has no invoice lines", integration.ErrInvoiceFailed, header.Reference)
	}
	c.logger.Info("Dry run invoice",
		zap.String("order_id", header.Reference),
		zap.String("partner", header.PartnerName),
		zap.String("currency", header.Currency),
		zap.Int("lines", len(lines)),
	)
	return "dry-run-" + header.Reference, nil
}
