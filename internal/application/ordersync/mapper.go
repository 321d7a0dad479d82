package ordersync

import (
	"fmt"
	"strings"

	"github.com/konozy/ordersync/internal/domain/integration"
)

// defaultPartnerName is used when the marketplace hides the buyer's identity.
const defaultPartnerName = "Amazon Customer"

// MapInvoice turns a fetched order into an invoice header and lines. Orders
// missing an id, a purchase date or usable items yield a MappingError.
func MapInvoice(order integration.OrderRecord) (integration.InvoiceHeader, []integration.InvoiceLine, error) {
	id := strings.TrimSpace(order.OrderID)
	if id == "" {
		return integration.InvoiceHeader{}, nil, &integration.MappingError{Field: "AmazonOrderId", Reason: "is required"}
	}
	if order.PurchaseDate.IsZero() {
		return integration.InvoiceHeader{}, nil, &integration.MappingError{OrderID: id, Field: "PurchaseDate", Reason: "is required"}
	}
	if len(order.Items) == 0 {
		return integration.InvoiceHeader{}, nil, &integration.MappingError{OrderID: id, Field: "OrderItems", Reason: "at least one item is required"}
	}

	currency := invoiceCurrency(order)
	lines := make([]integration.InvoiceLine, 0, len(order.Items))
	for i, item := range order.Items {
		field := fmt.Sprintf("OrderItems[%d]", i)
		if strings.TrimSpace(item.SellerSKU) == "" {
			return integration.InvoiceHeader{}, nil, &integration.MappingError{OrderID: id, Field: field + ".SellerSKU", Reason: "is required"}
		}
		if item.Quantity <= 0 {
			return integration.InvoiceHeader{}, nil, &integration.MappingError{OrderID: id, Field: field + ".QuantityOrdered", Reason: fmt.Sprintf("must be positive, got %d", item.Quantity)}
		}
		unit, ok := item.UnitPrice()
		if !ok {
			return integration.InvoiceHeader{}, nil, &integration.MappingError{OrderID: id, Field: field + ".ItemPrice", Reason: "is required"}
		}
		if unit.CurrencyCode != currency {
			return integration.InvoiceHeader{}, nil, &integration.MappingError{OrderID: id, Field: field + ".ItemPrice", Reason: fmt.Sprintf("currency %s differs from order currency %s", unit.CurrencyCode, currency)}
		}

		name := strings.TrimSpace(item.Title)
		if name == "" {
			name = item.SellerSKU
		}
		lines = append(lines, integration.InvoiceLine{
			SKU:       item.SellerSKU,
			ASIN:      item.ASIN,
			Name:      name,
			Quantity:  item.Quantity,
			UnitPrice: unit.Amount,
		})
	}

	header := integration.InvoiceHeader{
		Reference:    id,
		Origin:       "Amazon " + order.MarketplaceID,
		PartnerName:  partnerName(order),
		PartnerEmail: order.BuyerEmail,
		InvoiceDate:  order.PurchaseDate,
		Currency:     currency,
	}
	return header, lines, nil
}

func invoiceCurrency(order integration.OrderRecord) string {
	if order.Total != nil && order.Total.CurrencyCode != "" {
		return order.Total.CurrencyCode
	}
	for _, item := range order.Items {
		if item.ItemPrice != nil && item.ItemPrice.CurrencyCode != "" {
			return item.ItemPrice.CurrencyCode
		}
	}
	return integration.DefaultCurrency
}

func partnerName(order integration.OrderRecord) string {
	switch {
	case strings.TrimSpace(order.BuyerName) != "":
		return strings.TrimSpace(order.BuyerName)
	case order.BuyerEmail != "":
		return order.BuyerEmail
	default:
		return defaultPartnerName
	}
}
