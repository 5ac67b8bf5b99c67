package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"kfepos/backend/internal/domain"
	"kfepos/backend/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("KFE_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set KFE_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	require.NoError(t, s.Migrate(ctx))
	return s
}

func seedProduct(t *testing.T, s *Store, stock int) string {
	t.Helper()
	ctx := context.Background()
	id := fmt.Sprintf("prd-it-%d", time.Now().UnixNano())
	_, err := s.CreateProduct(ctx, domain.Product{
		ID:         id,
		Name:       "Integration Latte",
		Category:   domain.CategoryHotDrink,
		PriceCents: 375,
		Stock:      stock,
		Active:     true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id IN (SELECT sale_id FROM sale_items WHERE product_id = $1)`, id)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	})
	return id
}

func TestCancelSaleRestocksInventory(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	productID := seedProduct(t, s, 10)

	sale, err := s.CreateSale(ctx, store.NewSale{
		Items:         []domain.SaleItemRequest{{ProductID: productID, Quantity: 2}},
		PaymentMethod: domain.PaymentCash,
		Seller:        "integration",
		CreatedAt:     time.Now().UTC(),
		NumberPrefix:  "KFE",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(750), sale.TotalCents)
	assert.Equal(t, "Integration Latte", sale.Items[0].ProductName)

	product, err := s.GetProduct(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 8, product.Stock)

	cancelled, err := s.CancelSale(ctx, sale.ID, "integration test cancel", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, domain.SaleCancelled, cancelled.Status)

	product, err = s.GetProduct(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 10, product.Stock)

	_, err = s.CancelSale(ctx, sale.ID, "again", time.Now().UTC())
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	productID := seedProduct(t, s, 1)

	const buyers = 8
	var wg sync.WaitGroup
	results := make(chan error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateSale(ctx, store.NewSale{
				Items:         []domain.SaleItemRequest{{ProductID: productID, Quantity: 1}},
				PaymentMethod: domain.PaymentCard,
				Seller:        "integration",
				CreatedAt:     time.Now().UTC(),
				NumberPrefix:  "KFE",
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, store.ErrInsufficientStock)
	}
	assert.Equal(t, 1, succeeded)

	product, err := s.GetProduct(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 0, product.Stock)
}
