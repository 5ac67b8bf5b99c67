package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"kfepos/backend/internal/domain"
	"kfepos/backend/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(zaptest.NewLogger(t))
	for _, p := range []domain.Product{
		{ID: "p1", Name: "Latte", Category: domain.CategoryHotDrink, PriceCents: 375, Stock: 3, Active: true},
		{ID: "p2", Name: "Croissant", Category: domain.CategoryPastry, PriceCents: 200, Stock: 10, Active: true},
		{ID: "p3", Name: "Retired Muffin", Category: domain.CategoryPastry, PriceCents: 150, Stock: 10, Active: false},
	} {
		_, err := s.CreateProduct(context.Background(), p)
		require.NoError(t, err)
	}
	return s
}

func newSale(items ...domain.SaleItemRequest) store.NewSale {
	return store.NewSale{
		Items:         items,
		PaymentMethod: domain.PaymentCash,
		Seller:        "ana",
		CreatedAt:     time.Date(2024, 3, 9, 18, 0, 0, 0, time.UTC),
		NumberPrefix:  "KFE",
	}
}

func TestCreateSaleDecrementsStockAndNumbers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sale, err := s.CreateSale(ctx, newSale(
		domain.SaleItemRequest{ProductID: "p1", Quantity: 2},
		domain.SaleItemRequest{ProductID: "p2", Quantity: 3},
	))
	require.NoError(t, err)

	assert.Equal(t, "KFE-000001", sale.SaleNumber)
	assert.Equal(t, domain.SaleCompleted, sale.Status)
	assert.Equal(t, int64(2*375+3*200), sale.TotalCents)
	assert.Equal(t, sale.LinesTotal(), sale.TotalCents)
	assert.Equal(t, "Latte", sale.Items[0].ProductName)

	latte, err := s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, latte.Stock)

	second, err := s.CreateSale(ctx, newSale(domain.SaleItemRequest{ProductID: "p2", Quantity: 1}))
	require.NoError(t, err)
	assert.Equal(t, "KFE-000002", second.SaleNumber)
}

func TestCreateSaleInsufficientStockLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.CreateSale(ctx, newSale(
		domain.SaleItemRequest{ProductID: "p2", Quantity: 1},
		domain.SaleItemRequest{ProductID: "p1", Quantity: 5},
	))
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	var stockErr *store.StockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, 3, stockErr.Available)
	assert.Contains(t, err.Error(), "Latte")

	croissant, _ := s.GetProduct(ctx, "p2")
	assert.Equal(t, 10, croissant.Stock)
	count, _ := s.CountSales(ctx, store.SaleQuery{})
	assert.Zero(t, count)
}

func TestCreateSaleDuplicateLinesCountCumulatively(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateSale(context.Background(), newSale(
		domain.SaleItemRequest{ProductID: "p1", Quantity: 2},
		domain.SaleItemRequest{ProductID: "p1", Quantity: 2},
	))
	require.ErrorIs(t, err, store.ErrInsufficientStock)
}

func TestCreateSaleUnknownOrInactiveProduct(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateSale(context.Background(), newSale(domain.SaleItemRequest{ProductID: "nope", Quantity: 1}))
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.CreateSale(context.Background(), newSale(domain.SaleItemRequest{ProductID: "p3", Quantity: 1}))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCancelSaleRestocksOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sale, err := s.CreateSale(ctx, newSale(domain.SaleItemRequest{ProductID: "p1", Quantity: 3}))
	require.NoError(t, err)

	cancelled, err := s.CancelSale(ctx, sale.ID, "customer left", time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.SaleCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	latte, _ := s.GetProduct(ctx, "p1")
	assert.Equal(t, 3, latte.Stock)

	_, err = s.CancelSale(ctx, sale.ID, "again", time.Now())
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
	_, err = s.CancelSale(ctx, "missing", "x", time.Now())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListSalesFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		in := newSale(domain.SaleItemRequest{ProductID: "p2", Quantity: 1})
		in.CreatedAt = base.Add(time.Duration(i) * 24 * time.Hour)
		_, err := s.CreateSale(ctx, in)
		require.NoError(t, err)
	}

	from := base.Add(24 * time.Hour)
	to := base.Add(4 * 24 * time.Hour)
	query := store.SaleQuery{From: &from, To: &to}

	count, err := s.CountSales(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	query.Limit = 2
	page, err := s.ListSales(ctx, query)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, page[0].CreatedAt.After(page[1].CreatedAt))

	query.Offset = 2
	page, err = s.ListSales(ctx, query)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, from, page[0].CreatedAt)
}

func TestSeededCatalogue(t *testing.T) {
	s := NewSeeded(zaptest.NewLogger(t))
	active := true
	products, err := s.ListProducts(context.Background(), domain.ProductFilter{Active: &active})
	require.NoError(t, err)
	assert.Len(t, products, 10)

	users, err := s.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "admin", users[0].Username)
}
