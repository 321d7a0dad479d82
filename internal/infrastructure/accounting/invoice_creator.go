package accounting

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/konozy/ordersync/internal/domain/integration"
)

const (
	modelMove     = "account.move"
	modelPartner  = "res.partner"
	modelProduct  = "product.product"
	modelCurrency = "res.currency"

	odooDateLayout = "2006-01-02"
)

// Ensure InvoiceCreator implements integration.InvoiceCreator
var _ integration.InvoiceCreator = (*InvoiceCreator)(nil)

// InvoiceCreator creates one customer invoice per order. An invoice whose
// reference already exists is returned instead of duplicated.
type InvoiceCreator struct {
	client *Client
	config Config
	logger *zap.Logger
}

// NewInvoiceCreator creates an InvoiceCreator on top of client
func NewInvoiceCreator(client *Client, logger *zap.Logger) *InvoiceCreator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InvoiceCreator{
		client: client,
		config: client.config,
		logger: logger,
	}
}

// Create implements integration.InvoiceCreator
func (c *InvoiceCreator) Create(ctx context.Context, header integration.InvoiceHeader, lines []integration.InvoiceLine) (string, error) {
	if len(lines) == 0 {
		return "", fmt.Errorf("%w: order %s has no invoice lines", integration.ErrInvoiceFailed, header.Reference)
	}

	existing, err := c.findInvoice(ctx, header.Reference)
	if err != nil {
		return "", c.fail(header, err)
	}
	if existing > 0 {
		c.logger.Info("Invoice already exists for order",
			zap.String("order_id", header.Reference),
			zap.Int("invoice_id", existing),
		)
		return strconv.Itoa(existing), nil
	}

	partnerID, err := c.findOrCreatePartner(ctx, header)
	if err != nil {
		return "", c.fail(header, err)
	}

	invoiceLines := make([]any, 0, len(lines))
	for _, line := range lines {
		vals := map[string]any{
			"name":       line.Name,
			"quantity":   line.Quantity,
			"price_unit": json.Number(line.UnitPrice.StringFixed(2)),
		}
		productID, err := c.findProduct(ctx, line.SKU)
		if err != nil {
			return "", c.fail(header, err)
		}
		if productID > 0 {
			vals["product_id"] = productID
		}
		if account := c.config.FeeAccounts[line.Code]; line.Code != "" && account > 0 {
			vals["account_id"] = account
		}
		// (0, 0, vals) is the ORM command for "create and link".
		invoiceLines = append(invoiceLines, []any{0, 0, vals})
	}

	move := map[string]any{
		"move_type":        "out_invoice",
		"partner_id":       partnerID,
		"ref":              header.Reference,
		"invoice_origin":   header.Origin,
		"invoice_line_ids": invoiceLines,
	}
	if !header.InvoiceDate.IsZero() {
		move["invoice_date"] = header.InvoiceDate.UTC().Format(odooDateLayout)
	}
	if c.config.JournalID > 0 {
		move["journal_id"] = c.config.JournalID
	}
	currencyID, err := c.findCurrency(ctx, header.Currency)
	if err != nil {
		return "", c.fail(header, err)
	}
	if currencyID > 0 {
		move["currency_id"] = currencyID
	}

	var invoiceID int
	if err := c.client.ExecuteKW(ctx, modelMove, "create", []any{move}, nil, &invoiceID); err != nil {
		return "", c.fail(header, err)
	}

	if c.config.PostInvoices {
		if err := c.client.ExecuteKW(ctx, modelMove, "action_post", []any{[]int{invoiceID}}, nil, nil); err != nil {
			return "", c.fail(header, fmt.Errorf("post invoice %d: %w", invoiceID, err))
		}
	}

	c.logger.Info("Created invoice in Odoo",
		zap.String("order_id", header.Reference),
		zap.Int("invoice_id", invoiceID),
		zap.Int("partner_id", partnerID),
		zap.Int("lines", len(lines)),
	)
	return strconv.Itoa(invoiceID), nil
}

func (c *InvoiceCreator) fail(header integration.InvoiceHeader, err error) error {
	return fmt.Errorf("%w: order %s: %w", integration.ErrInvoiceFailed, header.Reference, err)
}

func (c *InvoiceCreator) findInvoice(ctx context.Context, ref string) (int, error) {
	return c.searchOne(ctx, modelMove, []any{
		[]any{"ref", "=", ref},
		[]any{"move_type", "=", "out_invoice"},
	})
}

func (c *InvoiceCreator) findOrCreatePartner(ctx context.Context, header integration.InvoiceHeader) (int, error) {
	domain := []any{[]any{"name", "=", header.PartnerName}}
	if header.PartnerEmail != "" {
		domain = []any{[]any{"email", "=", header.PartnerEmail}}
	}
	id, err := c.searchOne(ctx, modelPartner, domain)
	if err != nil || id > 0 {
		return id, err
	}

	vals := map[string]any{
		"name":          header.PartnerName,
		"customer_rank": 1,
	}
	if header.PartnerEmail != "" {
		vals["email"] = header.PartnerEmail
	}
	if err := c.client.ExecuteKW(ctx, modelPartner, "create", []any{vals}, nil, &id); err != nil {
		return 0, err
	}
	c.logger.Debug("Created Odoo partner", zap.Int("partner_id", id), zap.String("email", header.PartnerEmail))
	return id, nil
}

func (c *InvoiceCreator) findProduct(ctx context.Context, sku string) (int, error) {
	if sku == "" {
		return 0, nil
	}
	return c.searchOne(ctx, modelProduct, []any{[]any{"default_code", "=", sku}})
}

func (c *InvoiceCreator) findCurrency(ctx context.Context, code string) (int, error) {
	if code == "" {
		return 0, nil
	}
	return c.searchOne(ctx, modelCurrency, []any{[]any{"name", "=", code}})
}

// searchOne returns the first id matching domain, or 0.
func (c *InvoiceCreator) searchOne(ctx context.Context, model string, domain []any) (int, error) {
	var ids []int
	if err := c.client.ExecuteKW(ctx, model, "search", []any{domain}, map[string]any{"limit": 1}, &ids); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return ids[0], nil
}
