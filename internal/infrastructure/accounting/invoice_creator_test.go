package accounting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/konozy/ordersync/internal/domain/integration"
)

// fakeOdoo is an in-memory stand-in for the Odoo JSON-RPC endpoint.
type fakeOdoo struct {
	mu        sync.Mutex
	logins    int
	loginOK   bool
	invoices  map[string]int // ref -> id
	partners  map[string]int // email or name -> id
	products  map[string]int // default_code -> id
	currency  map[string]int
	created   []map[string]any
	posted    []int
	calls     []string
	failModel string
}

func newFakeOdoo() *fakeOdoo {
	return &fakeOdoo{
		loginOK:  true,
		invoices: map[string]int{},
		partners: map[string]int{},
		products: map[string]int{"KZ-TEA-01": 501},
		currency: map[string]int{"EGP": 77},
	}
}

func (f *fakeOdoo) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jsonrpc", r.URL.Path)

		var req struct {
			ID     int64 `json:"id"`
			Params struct {
				Service string            `json:"service"`
				Method  string            `json:"method"`
				Args    []json.RawMessage `json:"args"`
			} `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		f.mu.Lock()
		defer f.mu.Unlock()

		reply := func(result any) {
			_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
		}

		if req.Params.Service == "common" {
			f.logins++
			if f.loginOK {
				reply(7)
			} else {
				reply(false)
			}
			return
		}

		var model, method string
		require.NoError(t, json.Unmarshal(req.Params.Args[3], &model))
		require.NoError(t, json.Unmarshal(req.Params.Args[4], &method))
		f.calls = append(f.calls, model+"."+method)

		if model == f.failModel {
			_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": map[string]any{
				"code": 200, "message": "Odoo Server Error",
				"data": map[string]any{"name": "odoo.exceptions.AccessError", "message": "not allowed"},
			}})
			return
		}

		var args []json.RawMessage
		require.NoError(t, json.Unmarshal(req.Params.Args[5], &args))

		switch method {
		case "search":
			var domain [][]any
			require.NoError(t, json.Unmarshal(args[0], &domain))
			value, _ := domain[0][2].(string)
			lookup := map[string]map[string]int{
				"account.move":    f.invoices,
				"res.partner":     f.partners,
				"product.product": f.products,
				"res.currency":    f.currency,
			}[model]
			if id, ok := lookup[value]; ok {
				reply([]int{id})
				return
			}
			reply([]int{})
		case "create":
			var vals map[string]any
			require.NoError(t, json.Unmarshal(args[0], &vals))
			switch model {
			case "res.partner":
				id := 300 + len(f.partners)
				f.partners[vals["email"].(string)] = id
				reply(id)
			case "account.move":
				id := 900 + len(f.created)
				f.created = append(f.created, vals)
				f.invoices[vals["ref"].(string)] = id
				reply(id)
			}
		case "action_post":
			var ids []int
			require.NoError(t, json.Unmarshal(args[0], &ids))
			f.posted = append(f.posted, ids...)
			reply(true)
		default:
			t.Errorf("unexpected call %s.%s", model, method)
		}
	})
}

func newTestCreator(t *testing.T, odoo *fakeOdoo, post bool) *InvoiceCreator {
	server := httptest.NewServer(odoo.handler(t))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		URL:          server.URL + "/",
		Database:     "konozy",
		Username:     "bot@konozy.test",
		Password:     "api-key",
		JournalID:    12,
		PostInvoices: post,
	}, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return NewInvoiceCreator(client, zaptest.NewLogger(t))
}

func testInvoice() (integration.InvoiceHeader, []integration.InvoiceLine) {
	header := integration.InvoiceHeader{
		Reference:    "402-6202063-8451542",
		Origin:       "Amazon ARBP9OOSHTCHU",
		PartnerName:  "Mona Adel",
		PartnerEmail: "mona@marketplace.amazon.eg",
		InvoiceDate:  time.Date(2024, 3, 1, 22, 30, 0, 0, time.UTC),
		Currency:     "EGP",
	}
	lines := []integration.InvoiceLine{
		{SKU: "KZ-TEA-01", Name: "Green Tea", Quantity: 3, UnitPrice: decimal.RequireFromString("100")},
		{SKU: "KZ-UNKNOWN", Name: "Mug", Quantity: 1, UnitPrice: decimal.RequireFromString("49.5")},
	}
	return header, lines
}

func TestInvoiceCreator_Create(t *testing.T) {
	odoo := newFakeOdoo()
	creator := newTestCreator(t, odoo, true)
	header, lines := testInvoice()

	id, err := creator.Create(context.Background(), header, lines)
	require.NoError(t, err)
	assert.Equal(t, "900", id)

	require.Len(t, odoo.created, 1)
	move := odoo.created[0]
	assert.Equal(t, "out_invoice", move["move_type"])
	assert.Equal(t, float64(300), move["partner_id"])
	assert.Equal(t, "402-6202063-8451542", move["ref"])
	assert.Equal(t, "2024-03-01", move["invoice_date"])
	assert.Equal(t, float64(12), move["journal_id"])
	assert.Equal(t, float64(77), move["currency_id"])

	invoiceLines := move["invoice_line_ids"].([]any)
	require.Len(t, invoiceLines, 2)
	first := invoiceLines[0].([]any)[2].(map[string]any)
	assert.Equal(t, float64(501), first["product_id"])
	assert.Equal(t, float64(100), first["price_unit"])
	second := invoiceLines[1].([]any)[2].(map[string]any)
	assert.NotContains(t, second, "product_id")
	assert.Equal(t, 49.5, second["price_unit"])

	assert.Equal(t, []int{900}, odoo.posted)
	assert.Equal(t, 1, odoo.logins)
}

func TestInvoiceCreator_FeeLinesUseConfiguredAccounts(t *testing.T) {
	odoo := newFakeOdoo()
	creator := newTestCreator(t, odoo, false)
	creator.config.FeeAccounts = map[string]int{integration.FeeCodeCommission: 6110}

	header, lines := testInvoice()
	lines = append(lines,
		integration.InvoiceLine{Name: "Amazon Commission (KZ-TEA-01)", Quantity: 1, UnitPrice: decimal.RequireFromString("-45"), Code: integration.FeeCodeCommission},
		integration.InvoiceLine{Name: "Amazon Shipping Charge (KZ-TEA-01)", Quantity: 1, UnitPrice: decimal.RequireFromString("25"), Code: integration.ChargeCodeShipping},
	)

	_, err := creator.Create(context.Background(), header, lines)
	require.NoError(t, err)

	invoiceLines := odoo.created[0]["invoice_line_ids"].([]any)
	require.Len(t, invoiceLines, 4)
	product := invoiceLines[0].([]any)[2].(map[string]any)
	assert.NotContains(t, product, "account_id")
	commission := invoiceLines[2].([]any)[2].(map[string]any)
	assert.Equal(t, float64(6110), commission["account_id"])
	assert.Equal(t, float64(-45), commission["price_unit"])
	assert.NotContains(t, commission, "product_id")
	shipping := invoiceLines[3].([]any)[2].(map[string]any)
	assert.NotContains(t, shipping, "account_id", "unmapped codes keep the journal default")
}

func TestInvoiceCreator_ReusesPartnerAndLogin(t *testing.T) {
	odoo := newFakeOdoo()
	creator := newTestCreator(t, odoo, false)
	header, lines := testInvoice()

	_, err := creator.Create(context.Background(), header, lines)
	require.NoError(t, err)

	header.Reference = "402-0000000-0000001"
	_, err = creator.Create(context.Background(), header, lines)
	require.NoError(t, err)

	assert.Len(t, odoo.partners, 1)
	assert.Len(t, odoo.created, 2)
	assert.Empty(t, odoo.posted)
	assert.Equal(t, 1, odoo.logins)
}

func TestInvoiceCreator_ExistingInvoiceIsReturned(t *testing.T) {
	odoo := newFakeOdoo()
	odoo.invoices["402-6202063-8451542"] = 42
	creator := newTestCreator(t, odoo, true)
	header, lines := testInvoice()

	id, err := creator.Create(context.Background(), header, lines)
	require.NoError(t, err)
	assert.Equal(t, "42", id)
	assert.Empty(t, odoo.created)
	assert.Equal(t, []string{"account.move.search"}, odoo.calls)
}

func TestInvoiceCreator_Errors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		odoo := newFakeOdoo()
		odoo.failModel = "res.partner"
		creator := newTestCreator(t, odoo, false)
		header, lines := testInvoice()

		_, err := creator.Create(context.Background(), header, lines)
		require.Error(t, err)
		assert.ErrorIs(t, err, integration.ErrInvoiceFailed)
		assert.ErrorIs(t, err, ErrRPCFailed)
		var rpcErr *RPCError
		require.ErrorAs(t, err, &rpcErr)
		assert.Equal(t, "odoo.exceptions.AccessError", rpcErr.Data.Name)
		assert.Equal(t, "InvoiceError", integration.ErrorType(err))
	})

	t.Run("bad credentials", func(t *testing.T) {
		odoo := newFakeOdoo()
		odoo.loginOK = false
		creator := newTestCreator(t, odoo, false)
		header, lines := testInvoice()

		_, err := creator.Create(context.Background(), header, lines)
		assert.ErrorIs(t, err, ErrAuthFailed)
		assert.ErrorIs(t, err, integration.ErrInvoiceFailed)

		// Failed logins are retried on the next call.
		_, _ = creator.Create(context.Background(), header, lines)
		assert.Equal(t, 2, odoo.logins)
	})

	t.Run("no lines", func(t *testing.T) {
		creator := newTestCreator(t, newFakeOdoo(), false)
		header, _ := testInvoice()

		_, err := creator.Create(context.Background(), header, nil)
		assert.ErrorIs(t, err, integration.ErrInvoiceFailed)
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		err  error
	}{
		{"missing url", Config{Database: "d", Username: "u", Password: "p"}, ErrConfigMissingURL},
		{"missing database", Config{URL: "http://odoo", Username: "u", Password: "p"}, ErrConfigMissingDatabase},
		{"missing password", Config{URL: "http://odoo", Database: "d", Username: "u"}, ErrConfigMissingUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.cfg.Validate(), tt.err)
		})
	}

	cfg := Config{URL: " http://odoo:8069/ ", Database: "d", Username: "u", Password: "p"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "http://odoo:8069", cfg.URL)
	assert.Equal(t, defaultTimeout, cfg.Timeout)
}
