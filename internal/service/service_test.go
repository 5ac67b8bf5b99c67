package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"kfepos/backend/internal/domain"
	"kfepos/backend/internal/localday"
	"kfepos/backend/internal/store"
	"kfepos/backend/internal/store/memory"
)

// 2024-03-10 03:30Z is 2024-03-09 21:30 at UTC-6.
var fixedNow = time.Date(2024, 3, 10, 3, 30, 0, 0, time.UTC)

func newTestService(t *testing.T, stock map[string]int) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New(zaptest.NewLogger(t))
	for id, qty := range stock {
		_, err := repo.CreateProduct(context.Background(), domain.Product{
			ID:         id,
			Name:       "Product " + id,
			Category:   domain.CategoryHotDrink,
			PriceCents: 375,
			Stock:      qty,
			Active:     true,
		})
		require.NoError(t, err)
	}
	svc := New(repo, Options{
		Normalizer: localday.New(-6 * time.Hour),
		Logger:     zaptest.NewLogger(t),
		Clock:      func() time.Time { return fixedNow },
	})
	return svc, repo
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func saleRequest(items ...domain.SaleItemRequest) domain.SaleRequest {
	return domain.SaleRequest{Items: items, PaymentMethod: domain.PaymentCash, Seller: "ana"}
}

func TestCreateSaleReturnsLocalReceipt(t *testing.T) {
	svc, _ := newTestService(t, map[string]int{"latte": 10})

	receipt, err := svc.CreateSale(context.Background(), saleRequest(domain.SaleItemRequest{ProductID: "latte", Quantity: 2}))
	require.NoError(t, err)

	assert.Equal(t, "KFE-000001", receipt.SaleNumber)
	assert.Equal(t, int64(750), receipt.TotalCents)
	assert.Equal(t, fixedNow, receipt.CreatedAt)
	assert.Equal(t, "2024-03-09", receipt.LocalDate)
	assert.Equal(t, "21:30:00", receipt.LocalTime)
}

func TestCreateSaleLastUnitRace(t *testing.T) {
	svc, repo := newTestService(t, map[string]int{"latte": 1})

	const buyers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, outOfStock := 0, 0
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateSale(context.Background(), saleRequest(domain.SaleItemRequest{ProductID: "latte", Quantity: 1}))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, store.ErrInsufficientStock):
				outOfStock++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, buyers-1, outOfStock)

	product, err := repo.GetProduct(context.Background(), "latte")
	require.NoError(t, err)
	assert.Equal(t, 0, product.Stock)
	count, _ := repo.CountSales(context.Background(), store.SaleQuery{})
	assert.Equal(t, 1, count)
}

func TestCreateSaleInsufficientStockHasNoSideEffect(t *testing.T) {
	svc, repo := newTestService(t, map[string]int{"latte": 3})

	_, err := svc.CreateSale(context.Background(), saleRequest(domain.SaleItemRequest{ProductID: "latte", Quantity: 5}))
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Contains(t, err.Error(), "available 3")

	product, _ := repo.GetProduct(context.Background(), "latte")
	assert.Equal(t, 3, product.Stock)
	count, _ := repo.CountSales(context.Background(), store.SaleQuery{})
	assert.Zero(t, count)
}

func TestCreateSaleValidation(t *testing.T) {
	svc, repo := newTestService(t, map[string]int{"latte": 3})
	ctx := context.Background()

	cases := map[string]domain.SaleRequest{
		"empty items":     saleRequest(),
		"zero quantity":   saleRequest(domain.SaleItemRequest{ProductID: "latte", Quantity: 0}),
		"missing product": saleRequest(domain.SaleItemRequest{Quantity: 1}),
		"bad payment":     {Items: []domain.SaleItemRequest{{ProductID: "latte", Quantity: 1}}, PaymentMethod: "bitcoin", Seller: "ana"},
		"blank seller":    {Items: []domain.SaleItemRequest{{ProductID: "latte", Quantity: 1}}, PaymentMethod: domain.PaymentCard, Seller: "  "},
	}
	for name, req := range cases {
		_, err := svc.CreateSale(ctx, req)
		assert.ErrorIs(t, err, store.ErrValidation, name)
	}

	_, err := svc.CreateSale(ctx, saleRequest(domain.SaleItemRequest{ProductID: "ghost", Quantity: 1}))
	assert.ErrorIs(t, err, store.ErrNotFound)

	product, _ := repo.GetProduct(ctx, "latte")
	assert.Equal(t, 3, product.Stock)
}

func TestCreateSaleTotalsMatchLines(t *testing.T) {
	svc, _ := newTestService(t, map[string]int{"a": 100, "b": 100, "c": 100})

	for i := 1; i <= 5; i++ {
		receipt, err := svc.CreateSale(context.Background(), saleRequest(
			domain.SaleItemRequest{ProductID: "a", Quantity: i},
			domain.SaleItemRequest{ProductID: "b", Quantity: 6 - i},
			domain.SaleItemRequest{ProductID: "c", Quantity: 1},
		))
		require.NoError(t, err)
		assert.Equal(t, receipt.LinesTotal(), receipt.TotalCents)
		for _, line := range receipt.Items {
			assert.Equal(t, int64(line.Quantity)*line.UnitPriceCents, line.SubtotalCents)
		}
	}
}

func TestCancelSale(t *testing.T) {
	svc, repo := newTestService(t, map[string]int{"latte": 5})

	receipt, err := svc.CreateSale(context.Background(), saleRequest(domain.SaleItemRequest{ProductID: "latte", Quantity: 2}))
	require.NoError(t, err)

	_, err = svc.CancelSale(context.Background(), receipt.ID, domain.CancelSaleRequest{Reason: "wrong order"})
	assert.ErrorIs(t, err, ErrAdminRequired)

	cancelled, err := svc.CancelSale(adminCtx(), receipt.ID, domain.CancelSaleRequest{Reason: "wrong order"})
	require.NoError(t, err)
	assert.Equal(t, domain.SaleCancelled, cancelled.Status)
	assert.Equal(t, "wrong order", cancelled.CancelReason)

	product, _ := repo.GetProduct(context.Background(), "latte")
	assert.Equal(t, 5, product.Stock)

	_, err = svc.CancelSale(adminCtx(), receipt.ID, domain.CancelSaleRequest{})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestListSalesLocalWindowAndPaging(t *testing.T) {
	svc, repo := newTestService(t, map[string]int{"latte": 100})
	ctx := context.Background()
	for _, at := range []time.Time{
		time.Date(2024, 3, 9, 5, 0, 0, 0, time.UTC),  // 03-08 local
		time.Date(2024, 3, 9, 7, 0, 0, 0, time.UTC),  // 03-09 local
		time.Date(2024, 3, 9, 20, 0, 0, 0, time.UTC), // 03-09 local
		time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC), // 03-09 local
		time.Date(2024, 3, 10, 7, 0, 0, 0, time.UTC), // 03-10 local
	} {
		_, err := repo.CreateSale(ctx, store.NewSale{
			Items:         []domain.SaleItemRequest{{ProductID: "latte", Quantity: 1}},
			PaymentMethod: domain.PaymentCash,
			Seller:        "ana",
			CreatedAt:     at,
			NumberPrefix:  "KFE",
		})
		require.NoError(t, err)
	}

	resp, err := svc.ListSales(ctx, domain.SaleListRequest{Page: 1, Limit: 2, StartDate: "2024-03-09", EndDate: "2024-03-09", UseLocalDate: true})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Pagination.TotalItems)
	assert.Equal(t, 2, resp.Pagination.TotalPages)
	require.Len(t, resp.Sales, 2)
	for _, sale := range resp.Sales {
		assert.Equal(t, "2024-03-09", sale.LocalDate)
	}

	absolute, err := svc.ListSales(ctx, domain.SaleListRequest{StartDate: "2024-03-09", EndDate: "2024-03-09", UseLocalDate: false})
	require.NoError(t, err)
	assert.Equal(t, 3, absolute.Pagination.TotalItems)
	assert.Equal(t, 10, absolute.Pagination.ItemsPerPage)

	all, err := svc.ListSales(ctx, domain.SaleListRequest{Page: 3, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, all.Pagination.TotalItems)
	assert.Len(t, all.Sales, 1)

	_, err = svc.ListSales(ctx, domain.SaleListRequest{StartDate: "2024-03-10", EndDate: "2024-03-01"})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestListSalesPageBeyondEndIsEmpty(t *testing.T) {
	svc, _ := newTestService(t, map[string]int{"latte": 10})
	ctx := context.Background()
	receipt, err := svc.CreateSale(ctx, saleRequest(domain.SaleItemRequest{ProductID: "latte", Quantity: 1}))
	require.NoError(t, err)

	const hugePage = 922337203685477582
	cases := []domain.SaleListRequest{
		{Page: hugePage, Limit: 10},
		{Page: hugePage, Limit: 10, StartDate: receipt.LocalDate, EndDate: receipt.LocalDate, UseLocalDate: true},
		{Page: 2, Limit: 1},
	}
	for _, req := range cases {
		resp, err := svc.ListSales(ctx, req)
		require.NoError(t, err)
		assert.Empty(t, resp.Sales)
		assert.Equal(t, 1, resp.Pagination.TotalItems)
		assert.Equal(t, 1, resp.Pagination.TotalPages)
		assert.Equal(t, req.Page, resp.Pagination.CurrentPage)
	}
}

func TestProductCRUDRequiresAdmin(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.CreateProduct(context.Background(), domain.ProductCreateRequest{Name: "Tea", PriceCents: 275})
	assert.ErrorIs(t, err, ErrAdminRequired)

	created, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{Name: " Tea ", Category: domain.CategoryColdDrink, PriceCents: 275, Stock: 4})
	require.NoError(t, err)
	assert.Equal(t, "Tea", created.Name)
	assert.True(t, created.Active)

	_, err = svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{Name: "Soup", Category: "Soup", PriceCents: 100})
	assert.ErrorIs(t, err, store.ErrValidation)

	inactive := false
	price := int64(300)
	updated, err := svc.UpdateProduct(adminCtx(), created.ID, domain.ProductUpdateRequest{PriceCents: &price, Active: &inactive})
	require.NoError(t, err)
	assert.Equal(t, int64(300), updated.PriceCents)
	assert.False(t, updated.Active)

	negative := -1
	_, err = svc.UpdateProduct(adminCtx(), created.ID, domain.ProductUpdateRequest{Stock: &negative})
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = svc.UpdateProduct(adminCtx(), "missing", domain.ProductUpdateRequest{PriceCents: &price})
	assert.ErrorIs(t, err, store.ErrNotFound)
}
