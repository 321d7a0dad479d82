package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/konozy/ordersync/internal/domain/integration"
)

const (
	ordersPath   = "/orders/v0/orders"
	financesPath = "/finances/v0/orders"

	// maxResigns bounds how often one call may be re-signed after its
	// signature aged out during backoff.
	maxResigns = 2
)

// Ensure OrderFetcher implements the marketplace ports
var (
	_ integration.OrderSource          = (*OrderFetcher)(nil)
	_ integration.OrderLookup          = (*OrderFetcher)(nil)
	_ integration.FinancialEventSource = (*OrderFetcher)(nil)
)

// OrderFetcher reads orders, order items and financial events, hiding
// pagination.
type OrderFetcher struct {
	config    *Config
	creds     integration.Credentials
	tokens    TokenProvider
	signer    *RequestSigner
	transport Executor
	clock     Clock
	logger    *zap.Logger
}

// OrderFetcherOption is a functional option for configuring OrderFetcher
type OrderFetcherOption func(*OrderFetcher)

// WithFetcherClock sets the clock used as the signing timestamp
func WithFetcherClock(c Clock) OrderFetcherOption {
	return func(f *OrderFetcher) {
		f.clock = c
	}
}

// WithFetcherLogger sets the logger
func WithFetcherLogger(l *zap.Logger) OrderFetcherOption {
	return func(f *OrderFetcher) {
		f.logger = l
	}
}

// NewOrderFetcher creates an OrderFetcher
func NewOrderFetcher(cfg *Config, creds integration.Credentials, tokens TokenProvider, signer *RequestSigner, transport Executor, opts ...OrderFetcherOption) (*OrderFetcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if field := creds.MissingSigningField(); field != "" {
		return nil, fmt.Errorf("%w: %s is required", integration.ErrInvalidCredentials, field)
	}

	f := &OrderFetcher{
		config:    cfg,
		creds:     creds,
		tokens:    tokens,
		signer:    signer,
		transport: transport,
		clock:     SystemClock,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// MarketplaceID returns the marketplace every query is scoped to
func (f *OrderFetcher) MarketplaceID() string {
	return f.config.MarketplaceID
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// ListOrders yields every order created in [start, end). The sequence is
// lazy and restartable by calling ListOrders again; a page failure is
// yielded once and ends the sequence.
func (f *OrderFetcher) ListOrders(ctx context.Context, start, end time.Time, statuses []integration.OrderStatus) iter.Seq2[integration.OrderRecord, error] {
	return func(yield func(integration.OrderRecord, error) bool) {
		query := f.ordersQuery(start, end, statuses)
		for page := 1; ; page++ {
			body, err := f.get(ctx, ordersPath, query)
			if err != nil {
				yield(integration.OrderRecord{}, fmt.Errorf("marketplace: list orders page %d: %w", page, err))
				return
			}

			var resp getOrdersResponse
			if err := json.Unmarshal(body, &resp); err != nil || resp.Payload == nil {
				yield(integration.OrderRecord{}, fmt.Errorf("%w: orders page %d: %s", integration.ErrInvalidResponse, page, describeDecodeFailure(err, resp.Errors)))
				return
			}

			f.logger.Debug("Fetched orders page",
				zap.Int("page", page),
				zap.Int("orders", len(resp.Payload.Orders)),
			)
			for _, o := range resp.Payload.Orders {
				if !yield(convertOrder(o), nil) {
					return
				}
			}

			if resp.Payload.NextToken == "" {
				return
			}
			query = url.Values{}
			query.Set("MarketplaceIds", f.config.MarketplaceID)
			query.Set("NextToken", resp.Payload.NextToken)
		}
	}
}

func (f *OrderFetcher) ordersQuery(start, end time.Time, statuses []integration.OrderStatus) url.Values {
	query := url.Values{}
	query.Set("MarketplaceIds", f.config.MarketplaceID)
	query.Set("CreatedAfter", start.UTC().Format(time.RFC3339))
	if !end.IsZero() {
		query.Set("CreatedBefore", end.UTC().Format(time.RFC3339))
	}
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, s := range statuses {
			names[i] = s.String()
		}
		query.Set("OrderStatuses", strings.Join(names, ","))
	}
	query.Set("MaxResultsPerPage", strconv.Itoa(f.config.PageSize))
	return query
}

// GetOrder reads one order. A 404 is reported as ErrOrderNotFound.
func (f *OrderFetcher) GetOrder(ctx context.Context, orderID string) (integration.OrderRecord, error) {
	id := requestOrderID(orderID)
	if id == "" {
		return integration.OrderRecord{}, fmt.Errorf("%w: empty order id", integration.ErrOrderNotFound)
	}

	body, err := f.get(ctx, ordersPath+"/"+url.PathEscape(id), nil)
	if err != nil {
		var reqErr *integration.RequestError
		if errors.As(err, &reqErr) && reqErr.StatusCode == http.StatusNotFound {
			return integration.OrderRecord{}, fmt.Errorf("%w: %s: %w", integration.ErrOrderNotFound, id, err)
		}
		return integration.OrderRecord{}, fmt.Errorf("marketplace: get order %s: %w", id, err)
	}

	var resp getOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Payload == nil {
		return integration.OrderRecord{}, fmt.Errorf("%w: order %s: %s", integration.ErrInvalidResponse, id, describeDecodeFailure(err, resp.Errors))
	}
	return convertOrder(*resp.Payload), nil
}

// ---------------------------------------------------------------------------
// Order items
// ---------------------------------------------------------------------------

// ListOrderItems returns all items of an order. Any failure is logged and
// yields an empty, non-nil slice.
func (f *OrderFetcher) ListOrderItems(ctx context.Context, orderID string) []integration.OrderItem {
	id := requestOrderID(orderID)
	if id == "" {
		f.logger.Warn("Skipping order items fetch for empty order id")
		return []integration.OrderItem{}
	}

	path := ordersPath + "/" + url.PathEscape(id) + "/orderItems"
	items := []integration.OrderItem{}
	var query url.Values
	for {
		body, err := f.get(ctx, path, query)
		if err != nil {
			f.logger.Warn("Failed to fetch order items",
				zap.String("order_id", id),
				zap.Error(err),
			)
			return []integration.OrderItem{}
		}

		var resp getOrderItemsResponse
		if err := json.Unmarshal(body, &resp); err != nil || resp.Payload == nil {
			f.logger.Warn("Invalid order items response",
				zap.String("order_id", id),
				zap.String("reason", describeDecodeFailure(err, resp.Errors)),
			)
			return []integration.OrderItem{}
		}

		for _, it := range resp.Payload.OrderItems {
			items = append(items, convertOrderItem(it))
		}
		if resp.Payload.NextToken == "" {
			return items
		}
		query = url.Values{}
		query.Set("NextToken", resp.Payload.NextToken)
	}
}

// ---------------------------------------------------------------------------
// Financial events
// ---------------------------------------------------------------------------

// ListFinancialEvents returns every shipment and refund event posted for an
// order. Any page failure is returned with no events kept.
func (f *OrderFetcher) ListFinancialEvents(ctx context.Context, orderID string) (integration.FinancialEvents, error) {
	id := requestOrderID(orderID)
	if id == "" {
		return integration.FinancialEvents{}, fmt.Errorf("%w: empty order id", integration.ErrOrderNotFound)
	}

	events := integration.FinancialEvents{OrderID: id}
	path := financesPath + "/" + url.PathEscape(id) + "/financialEvents"
	query := url.Values{}
	query.Set("MaxResultsPerPage", strconv.Itoa(f.config.PageSize))
	for page := 1; ; page++ {
		body, err := f.get(ctx, path, query)
		if err != nil {
			return integration.FinancialEvents{}, fmt.Errorf("marketplace: financial events of %s page %d: %w", id, page, err)
		}

		var resp listFinancialEventsResponse
		if err := json.Unmarshal(body, &resp); err != nil || resp.Payload == nil {
			return integration.FinancialEvents{}, fmt.Errorf("%w: financial events of %s page %d: %s", integration.ErrInvalidResponse, id, page, describeDecodeFailure(err, resp.Errors))
		}

		fe := resp.Payload.FinancialEvents
		for _, ev := range fe.ShipmentEventList {
			events.Shipments = append(events.Shipments, convertShipmentEvent(ev))
		}
		for _, ev := range fe.RefundEventList {
			events.Refunds = append(events.Refunds, convertShipmentEvent(ev))
		}
		f.logger.Debug("Fetched financial events page",
			zap.String("order_id", id),
			zap.Int("page", page),
			zap.Int("shipments", len(fe.ShipmentEventList)),
			zap.Int("refunds", len(fe.RefundEventList)),
		)

		if resp.Payload.NextToken == "" {
			return events, nil
		}
		query = url.Values{}
		query.Set("NextToken", resp.Payload.NextToken)
	}
}

// ---------------------------------------------------------------------------
// Internal Helpers
// ---------------------------------------------------------------------------

// requestOrderID strips local prefixes, keeping ids that are not in the
// marketplace format as given.
func requestOrderID(orderID string) string {
	if id := integration.CanonicalOrderID(orderID); id != "" {
		return id
	}
	return strings.TrimSpace(orderID)
}

// get performs one authenticated, signed GET. A signature that aged out
// during backoff is re-signed and the call re-executed.
func (f *OrderFetcher) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	target := strings.TrimRight(f.config.Endpoint, "/") + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	for resign := 0; ; resign++ {
		token, err := f.tokens.GetValidToken(ctx)
		if err != nil {
			return nil, err
		}

		headers := http.Header{}
		headers.Set(headerAccessToken, token.Value)
		headers.Set("Accept", "application/json")

		signed, err := f.signer.Sign(http.MethodGet, target, headers, nil, f.creds, f.clock.Now())
		if err != nil {
			return nil, err
		}

		resp, err := f.transport.Execute(ctx, signed, f.config.MaxAttempts, f.config.BaseDelay)
		if errors.Is(err, integration.ErrSignatureExpired) && resign < maxResigns {
			f.logger.Info("Re-signing expired marketplace request", zap.String("path", path))
			continue
		}
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	}
}

func convertOrder(o spOrder) integration.OrderRecord {
	order := integration.OrderRecord{
		OrderID:       o.AmazonOrderID,
		Status:        integration.OrderStatus(o.OrderStatus),
		MarketplaceID: o.MarketplaceID,
	}
	if o.PurchaseDate != "" {
		if t, err := time.Parse(time.RFC3339, o.PurchaseDate); err == nil {
			order.PurchaseDate = t
		}
	}
	if o.BuyerInfo != nil {
		order.BuyerEmail = o.BuyerInfo.BuyerEmail
		order.BuyerName = o.BuyerInfo.BuyerName
	}
	if o.OrderTotal != nil {
		if m, err := integration.NewMoney(o.OrderTotal.Amount, o.OrderTotal.CurrencyCode); err == nil {
			order.Total = &m
		}
	}
	return order
}

func convertOrderItem(it spOrderItem) integration.OrderItem {
	item := integration.OrderItem{
		OrderItemID: it.OrderItemID,
		SellerSKU:   it.SellerSKU,
		ASIN:        it.ASIN,
		Title:       it.Title,
		Quantity:    it.QuantityOrdered,
	}
	if it.ItemPrice != nil {
		if m, err := integration.NewMoney(it.ItemPrice.Amount, it.ItemPrice.CurrencyCode); err == nil {
			item.ItemPrice = &m
		}
	}
	return item
}

func describeDecodeFailure(err error, apiErrors []spError) string {
	if err != nil {
		return err.Error()
	}
	if len(apiErrors) > 0 {
		return apiErrors[0].Code + ": " + apiErrors[0].Message
	}
	return "missing payload"
}

func convertShipmentEvent(ev spShipmentEvent) integration.ShipmentEvent {
	out := integration.ShipmentEvent{OrderID: ev.AmazonOrderID}
	if ev.PostedDate != "" {
		if t, err := time.Parse(time.RFC3339, ev.PostedDate); err == nil {
			out.PostedDate = t
		}
	}
	for _, items := range [][]spShipmentItem{ev.ShipmentItemList, ev.ShipmentItemAdjustmentList} {
		for _, it := range items {
			out.Items = append(out.Items, convertShipmentItem(it))
		}
	}
	return out
}

func convertShipmentItem(it spShipmentItem) integration.ShipmentItem {
	item := integration.ShipmentItem{
		OrderItemID:     it.OrderItemID,
		SellerSKU:       it.SellerSKU,
		QuantityShipped: it.QuantityShipped,
	}
	for _, c := range append(it.ItemChargeList, it.ItemChargeAdjustmentList...) {
		if comp, ok := convertComponent(c.ChargeType, c.ChargeAmount); ok {
			item.Charges = append(item.Charges, comp)
		}
	}
	for _, c := range append(it.ItemFeeList, it.ItemFeeAdjustmentList...) {
		if comp, ok := convertComponent(c.FeeType, c.FeeAmount); ok {
			item.Fees = append(item.Fees, comp)
		}
	}
	for _, p := range append(it.PromotionList, it.PromotionAdjustmentList...) {
		typ := p.PromotionType
		if typ == "" {
			typ = p.PromotionID
		}
		if comp, ok := convertComponent(typ, p.PromotionAmount); ok {
			item.Promotions = append(item.Promotions, comp)
		}
	}
	return item
}

// convertComponent drops components without a parseable amount
func convertComponent(typ string, amount *spCurrency) (integration.Component, bool) {
	if amount == nil || amount.CurrencyAmount == "" {
		return integration.Component{}, false
	}
	m, err := integration.NewMoney(amount.CurrencyAmount.String(), amount.CurrencyCode)
	if err != nil {
		return integration.Component{}, false
	}
	return integration.Component{Type: typ, Amount: m}, true
}
