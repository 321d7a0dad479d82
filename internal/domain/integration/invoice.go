package integration

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceHeader is the accounting-side header of a customer invoice.
type InvoiceHeader struct {
	Reference    string // marketplace order id
	Origin       string
	PartnerName  string
	PartnerEmail string
	InvoiceDate  time.Time
	Currency     string
}

// InvoiceLine is one line of a customer invoice: a product, or a marketplace
// charge or fee identified by its Code.
type InvoiceLine struct {
	SKU       string
	ASIN      string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	Code      string
}

// Subtotal returns quantity times unit price.
func (l InvoiceLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// InvoiceTotal sums the line subtotals.
func InvoiceTotal(lines []InvoiceLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}
