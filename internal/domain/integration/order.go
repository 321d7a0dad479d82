package integration

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when the marketplace omits a currency code.
const DefaultCurrency = "EGP"

// ---------------------------------------------------------------------------
// Money
// ---------------------------------------------------------------------------

// Money is an amount in a single currency.
type Money struct {
	Amount       decimal.Decimal `json:"amount"`
	CurrencyCode string          `json:"currency_code"`
}

// NewMoney parses amount, falling back to DefaultCurrency when currency is empty.
func NewMoney(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, err
	}
	if currency == "" {
		currency = DefaultCurrency
	}
	return Money{Amount: d, CurrencyCode: currency}, nil
}

// String renders the amount with two decimals followed by the currency.
func (m Money) String() string {
	return m.Amount.StringFixed(2) + " " + m.CurrencyCode
}

// ---------------------------------------------------------------------------
// OrderStatus
// ---------------------------------------------------------------------------

// OrderStatus is the marketplace's order state.
type OrderStatus string

const (
	OrderStatusPending            OrderStatus = "Pending"
	OrderStatusUnshipped          OrderStatus = "Unshipped"
	OrderStatusPartiallyShipped   OrderStatus = "PartiallyShipped"
	OrderStatusShipped            OrderStatus = "Shipped"
	OrderStatusCanceled           OrderStatus = "Canceled"
	OrderStatusUnfulfillable      OrderStatus = "Unfulfillable"
	OrderStatusInvoiceUnconfirmed OrderStatus = "InvoiceUnconfirmed"
)

// IsValid returns true if the status is a known marketplace status
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusUnshipped, OrderStatusPartiallyShipped,
		OrderStatusShipped, OrderStatusCanceled, OrderStatusUnfulfillable,
		OrderStatusInvoiceUnconfirmed:
		return true
	default:
		return false
	}
}

// String returns the string representation of OrderStatus
func (s OrderStatus) String() string {
	return string(s)
}

// ---------------------------------------------------------------------------
// OrderRecord / OrderItem
// ---------------------------------------------------------------------------

// OrderRecord is an order as fetched from the marketplace. It is never
// mutated after creation; WithItems returns a copy.
type OrderRecord struct {
	OrderID       string
	PurchaseDate  time.Time // zero when the marketplace omitted or garbled it
	BuyerEmail    string
	BuyerName     string
	Status        OrderStatus
	MarketplaceID string
	Total         *Money
	Items         []OrderItem
}

// WithItems returns a copy of the order carrying items.
func (o OrderRecord) WithItems(items []OrderItem) OrderRecord {
	o.Items = append([]OrderItem(nil), items...)
	return o
}

// OrderItem is one line of an order. ItemPrice is the price of one unit.
type OrderItem struct {
	OrderItemID string
	SellerSKU   string
	ASIN        string
	Title       string
	Quantity    int
	ItemPrice   *Money
}

// UnitPrice returns the per-unit price. It is false when the price is
// missing or the quantity is not positive.
func (i OrderItem) UnitPrice() (Money, bool) {
	if i.ItemPrice == nil || i.Quantity <= 0 {
		return Money{}, false
	}
	return *i.ItemPrice, true
}

// Subtotal returns the unit price times the ordered quantity.
func (i OrderItem) Subtotal() (Money, bool) {
	unit, ok := i.UnitPrice()
	if !ok {
		return Money{}, false
	}
	return Money{
		Amount:       unit.Amount.Mul(decimal.NewFromInt(int64(i.Quantity))),
		CurrencyCode: unit.CurrencyCode,
	}, true
}

var canonicalOrderID = regexp.MustCompile(`\b(\d{3}-\d{7}-\d{7})\b`)

// CanonicalOrderID extracts the ###-#######-####### order id from raw,
// stripping prefixes such as "AMZ-". It returns "" when none is found.
func CanonicalOrderID(raw string) string {
	m := canonicalOrderID.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return ""
	}
	return m[1]
}
