package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/konozy/ordersync/internal/domain/integration"
	"github.com/konozy/ordersync/internal/infrastructure/marketplace"
)

func fakeOrders() []FakeOrder {
	return []FakeOrder{
		{ID: "171-0000001-0000001", PurchaseDate: "2024-03-10T09:00:00Z", Status: "Shipped", BuyerEmail: "a@marketplace.amazon.eg", Total: "100.00", Currency: "EGP",
			Items: []FakeItem{{SKU: "SKU-1", Title: "Kettle", Quantity: 1, Price: "100.00"}}},
		{ID: "171-0000002-0000002", PurchaseDate: "2024-03-10T10:00:00Z", Status: "Pending", Total: "20.00", Currency: "EGP"},
		{ID: "171-0000003-0000003", PurchaseDate: "2024-03-10T11:00:00Z", Status: "Shipped", Total: "30.00", Currency: "EGP",
			Items: []FakeItem{{SKU: "SKU-2", Quantity: 3, Price: "30.00"}}},
		{ID: "171-0000004-0000004", PurchaseDate: "2024-03-10T12:00:00Z", Status: "Shipped", Total: "40.00", Currency: "EGP"},
	}
}

func newClient(t *testing.T, fake *FakeSellingPartner) *marketplace.Client {
	t.Helper()
	mc := NewTestConfig(t).Marketplace
	client, err := marketplace.NewClient(&marketplace.Config{
		Endpoint:      fake.Endpoint(),
		TokenEndpoint: fake.TokenEndpoint(),
		MarketplaceID: mc.MarketplaceID,
		MaxAttempts:   mc.MaxAttempts,
		BaseDelay:     mc.BaseDelay,
		MaxDelay:      mc.MaxDelay,
		PageSize:      mc.PageSize,
	}, integration.Credentials{
		ClientID:        mc.ClientID,
		ClientSecret:    mc.ClientSecret,
		RefreshToken:    mc.RefreshToken,
		AccessKeyID:     mc.AccessKeyID,
		SecretAccessKey: mc.SecretAccessKey,
		Region:          mc.Region,
		Service:         marketplace.DefaultService,
	}, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	return client
}

func TestFakeSellingPartner_PaginatesFilteredOrders(t *testing.T) {
	fake := NewFakeSellingPartner(t, fakeOrders()...)
	client := newClient(t, fake)

	start := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	var ids []string
	for order, err := range client.ListOrders(context.Background(), start, start.Add(24*time.Hour), []integration.OrderStatus{integration.OrderStatusShipped}) {
		require.NoError(t, err)
		ids = append(ids, order.OrderID)
	}

	assert.Equal(t, []string{"171-0000001-0000001", "171-0000003-0000003", "171-0000004-0000004"}, ids)
	assert.Equal(t, 2, fake.OrdersHits(), "page size 2 over three shipped orders")
	assert.Equal(t, 1, fake.TokenHits(), "the access token is reused across pages")
	assert.Contains(t, fake.LastQueries()[0], "OrderStatuses=Shipped")

	items := client.ListOrderItems(context.Background(), "171-0000003-0000003")
	require.Len(t, items, 1)
	assert.Equal(t, "SKU-2", items[0].SellerSKU)
	assert.Equal(t, 3, items[0].Quantity)

	assert.Empty(t, client.ListOrderItems(context.Background(), "171-9999999-9999999"))
}

func TestFakeSellingPartner_ThrottlesThenRecovers(t *testing.T) {
	fake := NewFakeSellingPartner(t, fakeOrders()[:1]...)
	fake.ThrottleNext(2)
	client := newClient(t, fake)

	start := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	var count int
	for _, err := range client.ListOrders(context.Background(), start, start.Add(time.Hour*24), nil) {
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, 3, fake.OrdersHits())
}

func TestEventually(t *testing.T) {
	calls := 0
	assert.True(t, Eventually(t, time.Second, func() bool {
		calls++
		return calls == 3
	}))
	assert.False(t, Eventually(t, 50*time.Millisecond, func() bool { return false }))
}
