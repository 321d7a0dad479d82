package integration

import (
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Financial events
// ---------------------------------------------------------------------------

// FinancialEvents are the settlement events posted for one order.
type FinancialEvents struct {
	OrderID   string
	Shipments []ShipmentEvent
	Refunds   []ShipmentEvent
}

// ShipmentEvent is one shipment or refund settlement.
type ShipmentEvent struct {
	OrderID    string
	PostedDate time.Time
	Items      []ShipmentItem
}

// ShipmentItem holds the signed amounts settled for one item.
type ShipmentItem struct {
	OrderItemID     string
	SellerSKU       string
	QuantityShipped int
	Charges         []Component
	Fees            []Component
	Promotions      []Component
}

// Component is one typed, signed amount: a ChargeType, FeeType or
// promotion id with its value. Fees are negative.
type Component struct {
	Type   string
	Amount Money
}

// ---------------------------------------------------------------------------
// Financial breakdown
// ---------------------------------------------------------------------------

// FinancialLineType groups breakdown lines.
type FinancialLineType string

const (
	FinancialLineCharge FinancialLineType = "charge"
	FinancialLineFee    FinancialLineType = "fee"
	FinancialLinePromo  FinancialLineType = "promo"
)

// Fee codes of breakdown lines. Odoo accounts are configured per code.
const (
	FeeCodeCommission         = "COMMISSION"
	FeeCodeFBAFulfillment     = "FBA_PICK_AND_PACK"
	FeeCodeCOD                = "COD_FEE"
	FeeCodeShipping           = "SHIPPING_FEE"
	FeeCodeShippingChargeback = "SHIPPING_CHARGEBACK"
	FeeCodeOther              = "OTHER_FEE"

	ChargeCodeShipping      = "SHIPPING_CHARGE"
	ChargeCodeShippingTax   = "SHIPPING_TAX"
	ChargeCodePaymentMethod = "PAYMENT_METHOD_FEE"
	ChargeCodeTax           = "TAX"
	ChargeCodeGiftWrap      = "GIFT_WRAP"
	ChargeCodeOther         = "OTHER_CHARGE"

	PromoCodeRebate = "PROMO_REBATE"
)

// FinancialLine is one settled amount other than the item principal.
type FinancialLine struct {
	Type        FinancialLineType
	Code        string
	Description string
	SKU         string
	Amount      decimal.Decimal
}

// FinancialBreakdown splits what an order settled for into the item
// principal and every charge, fee and promotion around it.
type FinancialBreakdown struct {
	OrderID    string
	PostedDate time.Time
	Currency   string
	Principal  decimal.Decimal
	Lines      []FinancialLine
}

// Total sums the lines of typ, or every line when typ is empty.
func (b FinancialBreakdown) Total(typ FinancialLineType) decimal.Decimal {
	total := decimal.Zero
	for _, l := range b.Lines {
		if typ == "" || l.Type == typ {
			total = total.Add(l.Amount)
		}
	}
	return total
}

// NetProceeds is the principal plus every line.
func (b FinancialBreakdown) NetProceeds() decimal.Decimal {
	return b.Principal.Add(b.Total(""))
}
