package accounting

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/konozy/ordersync/internal/domain/integration"
)

func TestDryRunCreator(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	c := NewDryRunCreator(zap.New(core))

	header := integration.InvoiceHeader{Reference: "171-555", PartnerName: "Mona", Currency: "EGP"}
	lines := []integration.InvoiceLine{{SKU: "SKU-1", Name: "Mug", Quantity: 2, UnitPrice: decimal.RequireFromString("99.50")}}

	id, err := c.Create(context.Background(), header, lines)
	require.NoError(t, err)
	assert.Equal(t, "dry-run-171-555", id)
	require.Equal(t, 1, logs.FilterMessage("Dry run invoice").Len())

	_, err = c.Create(context.Background(), header, nil)
	assert.ErrorIs(t, err, integration.ErrInvoiceFailed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Create(ctx, header, lines)
	assert.ErrorIs(t, err, context.Canceled)
}
