package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// FakeOrder is one order served by FakeSellingPartner
type FakeOrder struct {
	ID           string
	PurchaseDate string
	Status       string
	BuyerEmail   string
	BuyerName    string
	Total        string
	Currency     string
	Items        []FakeItem
	// Fees are settled on the first item of the order's shipment event
	Fees []FakeFee
}

// FakeFee is one settled fee of a FakeOrder, negative for charges to the seller
type FakeFee struct {
	Type   string
	Amount string
}

// FakeItem is one line of a FakeOrder
type FakeItem struct {
	SKU      string
	ASIN     string
	Title    string
	Quantity int
	Price    string
}

// FakeSellingPartner serves the LWA token endpoint and the Orders API from
// an in-memory order list, paginating by the requested page size.
type FakeSellingPartner struct {
	Server *httptest.Server

	mu          sync.Mutex
	orders      []FakeOrder
	tokenHits   int
	ordersHits  int
	lastQueries []string
	throttleN   int
}

// NewFakeSellingPartner starts the fake and closes it when the test ends
func NewFakeSellingPartner(t *testing.T, orders ...FakeOrder) *FakeSellingPartner {
	t.Helper()
	f := &FakeSellingPartner{orders: orders}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/o2/token", f.token)
	mux.HandleFunc("GET /orders/v0/orders", f.listOrders)
	mux.HandleFunc("GET /orders/v0/orders/{id}", f.getOrder)
	mux.HandleFunc("GET /orders/v0/orders/{id}/orderItems", f.listItems)
	mux.HandleFunc("GET /finances/v0/orders/{id}/financialEvents", f.listFinancialEvents)
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// Endpoint is the SP-API base URL
func (f *FakeSellingPartner) Endpoint() string {
	return f.Server.URL
}

// TokenEndpoint is the LWA token URL
func (f *FakeSellingPartner) TokenEndpoint() string {
	return f.Server.URL + "/auth/o2/token"
}

// ThrottleNext answers the next n order-list calls with 429
func (f *FakeSellingPartner) ThrottleNext(n int) {
	f.mu.Lock()
	f.throttleN = n
	f.mu.Unlock()
}

// TokenHits returns how many access tokens were issued
func (f *FakeSellingPartner) TokenHits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenHits
}

// OrdersHits returns how many order-list calls were received, throttled ones included
func (f *FakeSellingPartner) OrdersHits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ordersHits
}

// LastQueries returns the raw query strings of order-list calls
func (f *FakeSellingPartner) LastQueries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lastQueries...)
}

func (f *FakeSellingPartner) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "refresh_token" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	f.mu.Lock()
	f.tokenHits++
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": "Atza|fake",
		"token_type":   "bearer",
		"expires_in":   3600,
	})
}

func (f *FakeSellingPartner) listOrders(w http.ResponseWriter, r *http.Request) {
	if !signed(r) {
		writeJSON(w, http.StatusForbidden, spErrors("Unauthorized", "missing signature"))
		return
	}

	f.mu.Lock()
	f.ordersHits++
	f.lastQueries = append(f.lastQueries, r.URL.RawQuery)
	throttled := f.throttleN > 0
	if throttled {
		f.throttleN--
	}
	orders := append([]FakeOrder(nil), f.orders...)
	f.mu.Unlock()

	if throttled {
		w.Header().Set("Retry-After", "0")
		writeJSON(w, http.StatusTooManyRequests, spErrors("QuotaExceeded", "throttled"))
		return
	}

	// NextToken carries "offset;statuses" since follow-up pages omit the filter
	q := r.URL.Query()
	statuses := q.Get("OrderStatuses")
	offset := 0
	if next := q.Get("NextToken"); next != "" {
		n, rest, _ := strings.Cut(next, ";")
		offset, _ = strconv.Atoi(n)
		statuses = rest
	}
	if statuses != "" {
		orders = filterByStatus(orders, strings.Split(statuses, ","))
	}
	offset = min(offset, len(orders))
	size, err := strconv.Atoi(q.Get("MaxResultsPerPage"))
	if err != nil || size <= 0 {
		size = 100
	}

	end := min(offset+size, len(orders))
	page := make([]map[string]any, 0, end-offset)
	for _, o := range orders[offset:end] {
		page = append(page, orderJSON(o, q.Get("MarketplaceIds")))
	}
	payload := map[string]any{"Orders": page}
	if end < len(orders) {
		payload["NextToken"] = strconv.Itoa(end) + ";" + statuses
	}
	writeJSON(w, http.StatusOK, map[string]any{"payload": payload})
}

func (f *FakeSellingPartner) getOrder(w http.ResponseWriter, r *http.Request) {
	if !signed(r) {
		writeJSON(w, http.StatusForbidden, spErrors("Unauthorized", "missing signature"))
		return
	}
	id := r.PathValue("id")
	order, ok := f.find(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, spErrors("NotFound", "order "+id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payload": orderJSON(order, "ARBP9OOSHTCHU")})
}

func (f *FakeSellingPartner) listFinancialEvents(w http.ResponseWriter, r *http.Request) {
	if !signed(r) {
		writeJSON(w, http.StatusForbidden, spErrors("Unauthorized", "missing signature"))
		return
	}
	id := r.PathValue("id")
	order, ok := f.find(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, spErrors("NotFound", "order "+id))
		return
	}

	currency := func(amount string) map[string]any {
		return map[string]any{"CurrencyCode": order.Currency, "CurrencyAmount": json.Number(amount)}
	}
	items := make([]map[string]any, 0, len(order.Items))
	for i, it := range order.Items {
		item := map[string]any{
			"SellerSKU":       it.SKU,
			"OrderItemId":     strconv.Itoa(i + 1),
			"QuantityShipped": it.Quantity,
			"ItemChargeList":  []map[string]any{{"ChargeType": "Principal", "ChargeAmount": currency(it.Price)}},
		}
		if i == 0 {
			fees := make([]map[string]any, 0, len(order.Fees))
			for _, fee := range order.Fees {
				fees = append(fees, map[string]any{"FeeType": fee.Type, "FeeAmount": currency(fee.Amount)})
			}
			item["ItemFeeList"] = fees
		}
		items = append(items, item)
	}

	events := map[string]any{"ShipmentEventList": []map[string]any{}}
	if len(items) > 0 {
		events["ShipmentEventList"] = []map[string]any{{
			"AmazonOrderId":    id,
			"PostedDate":       order.PurchaseDate,
			"ShipmentItemList": items,
		}}
	}
	writeJSON(w, http.StatusOK, map[string]any{"payload": map[string]any{"FinancialEvents": events}})
}

func (f *FakeSellingPartner) find(id string) (FakeOrder, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.ID == id {
			return o, true
		}
	}
	return FakeOrder{}, false
}

func (f *FakeSellingPartner) listItems(w http.ResponseWriter, r *http.Request) {
	if !signed(r) {
		writeJSON(w, http.StatusForbidden, spErrors("Unauthorized", "missing signature"))
		return
	}
	id := r.PathValue("id")
	order, ok := f.find(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, spErrors("NotFound", "order "+id))
		return
	}

	items := make([]map[string]any, 0, len(order.Items))
	for i, it := range order.Items {
		items = append(items, map[string]any{
			"OrderItemId":     strconv.Itoa(i + 1),
			"ASIN":            it.ASIN,
			"SellerSKU":       it.SKU,
			"Title":           it.Title,
			"QuantityOrdered": it.Quantity,
			"ItemPrice":       map[string]string{"CurrencyCode": order.Currency, "Amount": it.Price},
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"payload": map[string]any{"AmazonOrderId": id, "OrderItems": items},
	})
}

func orderJSON(o FakeOrder, marketplaceID string) map[string]any {
	return map[string]any{
		"AmazonOrderId": o.ID,
		"PurchaseDate":  o.PurchaseDate,
		"OrderStatus":   o.Status,
		"MarketplaceId": marketplaceID,
		"OrderTotal":    map[string]string{"CurrencyCode": o.Currency, "Amount": o.Total},
		"BuyerInfo":     map[string]string{"BuyerEmail": o.BuyerEmail, "BuyerName": o.BuyerName},
	}
}

func signed(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Authorization"), "AWS4-HMAC-SHA256 ") &&
		r.Header.Get("x-amz-access-token") != ""
}

func filterByStatus(orders []FakeOrder, statuses []string) []FakeOrder {
	allowed := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		allowed[s] = true
	}
	out := orders[:0:0]
	for _, o := range orders {
		if allowed[o.Status] {
			out = append(out, o)
		}
	}
	return out
}

func spErrors(code, message string) map[string]any {
	return map[string]any{"errors": []map[string]string{{"code": code, "message": message}}}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
