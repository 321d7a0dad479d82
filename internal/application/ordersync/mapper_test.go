package ordersync

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konozy/ordersync/internal/domain/integration"
)

func money(amount, currency string) *integration.Money {
	m, err := integration.NewMoney(amount, currency)
	if err != nil {
		panic(err)
	}
	return &m
}

func validOrder() integration.OrderRecord {
	return integration.OrderRecord{
		OrderID:       "402-6202063-8451542",
		PurchaseDate:  time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
		BuyerEmail:    "buyer@marketplace.amazon.eg",
		BuyerName:     "Mona Adel",
		MarketplaceID: "ARBP9OOSHTCHU",
		Total:         money("450.00", "EGP"),
		Items: []integration.OrderItem{
			{SellerSKU: "KZ-TEA-01", ASIN: "B0TEA", Title: "Green Tea", Quantity: 3, ItemPrice: money("100.00", "EGP")},
			{SellerSKU: "KZ-MUG-02", ASIN: "B0MUG", Quantity: 1, ItemPrice: money("150.00", "EGP")},
		},
	}
}

func TestMapInvoice(t *testing.T) {
	header, lines, err := MapInvoice(validOrder())
	require.NoError(t, err)

	assert.Equal(t, "402-6202063-8451542", header.Reference)
	assert.Equal(t, "Mona Adel", header.PartnerName)
	assert.Equal(t, "buyer@marketplace.amazon.eg", header.PartnerEmail)
	assert.Equal(t, "EGP", header.Currency)
	assert.Equal(t, "Amazon ARBP9OOSHTCHU", header.Origin)

	require.Len(t, lines, 2)
	assert.Equal(t, "Green Tea", lines[0].Name)
	assert.True(t, decimal.RequireFromString("100").Equal(lines[0].UnitPrice))
	assert.Equal(t, "KZ-MUG-02", lines[1].Name, "untitled items are named by SKU")
	assert.True(t, decimal.RequireFromString("450").Equal(integration.InvoiceTotal(lines)))
}

func TestMapInvoice_TotalMatchesOrderTotal(t *testing.T) {
	order := validOrder()
	order.Total = money("116.68", "EGP")
	order.Items = []integration.OrderItem{
		{SellerSKU: "KZ-TEA-01", Quantity: 3, ItemPrice: money("33.34", "EGP")},
		{SellerSKU: "KZ-MUG-02", Quantity: 1, ItemPrice: money("16.66", "EGP")},
	}

	_, lines, err := MapInvoice(order)
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("33.34").Equal(lines[0].UnitPrice), lines[0].UnitPrice.String())
	total := integration.InvoiceTotal(lines)
	assert.True(t, order.Total.Amount.Equal(total), "invoice total %s, order total %s", total, order.Total.Amount)
}

func TestMapInvoice_Defaults(t *testing.T) {
	order := validOrder()
	order.Total = nil
	order.BuyerName = ""
	order.BuyerEmail = ""
	order.Items = []integration.OrderItem{{SellerSKU: "A", Quantity: 1, ItemPrice: money("10", "")}}

	header, _, err := MapInvoice(order)
	require.NoError(t, err)
	assert.Equal(t, integration.DefaultCurrency, header.Currency)
	assert.Equal(t, defaultPartnerName, header.PartnerName)
}

func TestMapInvoice_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*integration.OrderRecord)
		field  string
	}{
		{"missing order id", func(o *integration.OrderRecord) { o.OrderID = " " }, "AmazonOrderId"},
		{"missing purchase date", func(o *integration.OrderRecord) { o.PurchaseDate = time.Time{} }, "PurchaseDate"},
		{"no items", func(o *integration.OrderRecord) { o.Items = nil }, "OrderItems"},
		{"missing sku", func(o *integration.OrderRecord) { o.Items[1].SellerSKU = "" }, "OrderItems[1].SellerSKU"},
		{"zero quantity", func(o *integration.OrderRecord) { o.Items[0].Quantity = 0 }, "OrderItems[0].QuantityOrdered"},
		{"missing price", func(o *integration.OrderRecord) { o.Items[0].ItemPrice = nil }, "OrderItems[0].ItemPrice"},
		{"mixed currency", func(o *integration.OrderRecord) { o.Items[1].ItemPrice = money("1", "USD") }, "OrderItems[1].ItemPrice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := validOrder()
			order.Items = append([]integration.OrderItem(nil), order.Items...)
			tt.mutate(&order)

			_, _, err := MapInvoice(order)

			var mappingErr *integration.MappingError
			require.ErrorAs(t, err, &mappingErr)
			assert.Equal(t, tt.field, mappingErr.Field)
			assert.ErrorIs(t, err, integration.ErrInvalidOrder)
			assert.Equal(t, "MappingError", integration.ErrorType(err))
		})
	}
}
