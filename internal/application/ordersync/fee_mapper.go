package ordersync

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/konozy/ordersync/internal/domain/integration"
)

const principalChargeType = "PRINCIPAL"

// MapFinancialBreakdown folds the settlement events of orderID into a
// breakdown. Item principal is summed apart from the lines; refunds only
// contribute their fee adjustments. Zero amounts and events posted for other
// orders are skipped.
func MapFinancialBreakdown(orderID string, events integration.FinancialEvents) integration.FinancialBreakdown {
	acc := breakdownBuilder{b: integration.FinancialBreakdown{OrderID: orderID, Principal: decimal.Zero}}

	for _, ev := range events.Shipments {
		if !sameOrder(orderID, ev.OrderID) {
			continue
		}
		acc.posted(ev)
		for _, item := range ev.Items {
			for _, c := range item.Charges {
				if !acc.take(c) {
					continue
				}
				if normalizeType(c.Type) == principalChargeType {
					acc.b.Principal = acc.b.Principal.Add(c.Amount.Amount)
					continue
				}
				code, desc := classifyCharge(c.Type)
				acc.add(integration.FinancialLineCharge, code, desc, item.SellerSKU, c)
			}
			for _, c := range item.Fees {
				if acc.take(c) {
					code, desc := classifyFee(c.Type)
					acc.add(integration.FinancialLineFee, code, desc, item.SellerSKU, c)
				}
			}
			for _, c := range item.Promotions {
				if acc.take(c) {
					acc.add(integration.FinancialLinePromo, integration.PromoCodeRebate, "Amazon Promotion Rebate", item.SellerSKU, c)
				}
			}
		}
	}

	for _, ev := range events.Refunds {
		if !sameOrder(orderID, ev.OrderID) {
			continue
		}
		for _, item := range ev.Items {
			for _, c := range item.Fees {
				if acc.take(c) {
					code, desc := classifyFee(c.Type)
					acc.add(integration.FinancialLineFee, code, desc, item.SellerSKU, c)
				}
			}
		}
	}

	b := acc.b
	if b.Currency == "" {
		b.Currency = integration.DefaultCurrency
	}
	b.Principal = b.Principal.Round(2)
	return b
}

// FeeInvoiceLines renders every breakdown line as a single-quantity invoice
// line carrying its fee or charge code.
func FeeInvoiceLines(b integration.FinancialBreakdown) []integration.InvoiceLine {
	lines := make([]integration.InvoiceLine, 0, len(b.Lines))
	for _, l := range b.Lines {
		name := l.Description
		if l.SKU != "" {
			name += " (" + l.SKU + ")"
		}
		lines = append(lines, integration.InvoiceLine{
			Name:      name,
			Quantity:  1,
			UnitPrice: l.Amount,
			Code:      l.Code,
		})
	}
	return lines
}

type breakdownBuilder struct {
	b integration.FinancialBreakdown
}

// posted keeps the earliest shipment date.
func (a *breakdownBuilder) posted(ev integration.ShipmentEvent) {
	if ev.PostedDate.IsZero() {
		return
	}
	if a.b.PostedDate.IsZero() || ev.PostedDate.Before(a.b.PostedDate) {
		a.b.PostedDate = ev.PostedDate
	}
}

// take reports whether c carries a non-zero amount, noting the first
// currency seen.
func (a *breakdownBuilder) take(c integration.Component) bool {
	if c.Amount.Amount.IsZero() {
		return false
	}
	if a.b.Currency == "" && c.Amount.CurrencyCode != "" {
		a.b.Currency = c.Amount.CurrencyCode
	}
	return true
}

func (a *breakdownBuilder) add(typ integration.FinancialLineType, code, desc, sku string, c integration.Component) {
	a.b.Lines = append(a.b.Lines, integration.FinancialLine{
		Type:        typ,
		Code:        code,
		Description: desc,
		SKU:         sku,
		Amount:      c.Amount.Amount.Round(2),
	})
}

func sameOrder(want, got string) bool {
	return got == "" || got == want
}

// normalizeType upper-cases a wire type and drops underscores, so
// FBAPerUnitFulfillmentFee and FBA_PER_UNIT_FULFILLMENT_FEE compare equal.
func normalizeType(t string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(t)), "_", "")
}

func classifyFee(feeType string) (code, description string) {
	t := normalizeType(feeType)
	switch {
	case strings.Contains(t, "COMMISSION") || strings.Contains(t, "REFERRAL"):
		return integration.FeeCodeCommission, "Amazon Commission"
	case strings.HasPrefix(t, "FBA") && (strings.Contains(t, "FULFILLMENT") || strings.Contains(t, "PICK")):
		return integration.FeeCodeFBAFulfillment, "Amazon FBA Pick & Pack Fee"
	case strings.Contains(t, "COD"):
		return integration.FeeCodeCOD, "Amazon COD Fee"
	case strings.Contains(t, "SHIPPING") && (strings.Contains(t, "CHARGEBACK") || strings.Contains(t, "DISCOUNT")):
		return integration.FeeCodeShippingChargeback, "Amazon Shipping Chargeback"
	case strings.Contains(t, "SHIPPING"):
		return integration.FeeCodeShipping, "Amazon Shipping Fee"
	default:
		return integration.FeeCodeOther, "Amazon " + strings.TrimSpace(feeType)
	}
}

func classifyCharge(chargeType string) (code, description string) {
	t := normalizeType(chargeType)
	switch {
	case strings.Contains(t, "SHIPPING") && strings.Contains(t, "TAX"):
		return integration.ChargeCodeShippingTax, "Amazon Shipping Tax"
	case strings.Contains(t, "SHIPPING"):
		return integration.ChargeCodeShipping, "Amazon Shipping Charge"
	case strings.Contains(t, "PAYMENT") || strings.Contains(t, "METHOD"):
		return integration.ChargeCodePaymentMethod, "Amazon Payment Method Fee"
	case strings.Contains(t, "TAX"):
		return integration.ChargeCodeTax, "Amazon Tax"
	case strings.Contains(t, "GIFT"):
		return integration.ChargeCodeGiftWrap, "Amazon Gift Wrap"
	default:
		return integration.ChargeCodeOther, "Amazon " + strings.TrimSpace(chargeType)
	}
}
