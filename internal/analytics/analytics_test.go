package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kfepos/backend/internal/domain"
	"kfepos/backend/internal/localday"
)

var cst = localday.New(-6 * time.Hour)

func line(productID string, category domain.Category, qty int, unit int64) domain.SaleLine {
	return domain.SaleLine{
		ProductID:       productID,
		ProductName:     productID,
		ProductCategory: category,
		Quantity:        qty,
		UnitPriceCents:  unit,
		SubtotalCents:   int64(qty) * unit,
	}
}

func sale(at time.Time, status domain.SaleStatus, lines ...domain.SaleLine) domain.Sale {
	s := domain.Sale{Status: status, CreatedAt: at, Items: lines}
	s.TotalCents = s.LinesTotal()
	return s
}

func completed(at time.Time, lines ...domain.SaleLine) domain.Sale {
	return sale(at, domain.SaleCompleted, lines...)
}

func filter(sales []domain.Sale, w localday.Window) []domain.Sale {
	out := make([]domain.Sale, 0, len(sales))
	for _, s := range sales {
		if w.Contains(cst, s.CreatedAt) {
			out = append(out, s)
		}
	}
	return out
}

func TestProductsSoldRestrictedToMiddleLocalDay(t *testing.T) {
	// Local days 2024-03-08, 09, 10 at UTC-6. The 03:00Z sale on the 10th is
	// still the 9th locally.
	sales := []domain.Sale{
		completed(time.Date(2024, 3, 8, 20, 0, 0, 0, time.UTC), line("latte", domain.CategoryHotDrink, 4, 375)),
		completed(time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC), line("latte", domain.CategoryHotDrink, 2, 375), line("croissant", domain.CategoryPastry, 1, 200)),
		completed(time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC), line("croissant", domain.CategoryPastry, 3, 200)),
		completed(time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC), line("latte", domain.CategoryHotDrink, 9, 375)),
	}
	w, err := localday.ParseWindow("2024-03-09", "2024-03-09", true)
	require.NoError(t, err)

	window := filter(sales, w)
	rows := ProductsSold(window)
	require.Len(t, rows, 2)
	assert.Equal(t, "croissant", rows[0].ProductID)
	assert.Equal(t, int64(4), rows[0].TotalQuantity)
	assert.Equal(t, int64(800), rows[0].RevenueCents)
	assert.Equal(t, int64(2), rows[0].LineItems)
	assert.Equal(t, "latte", rows[1].ProductID)
	assert.Equal(t, int64(2), rows[1].TotalQuantity)

	summary := SummarizeProducts(rows, window)
	assert.Equal(t, 2, summary.TotalSales)
	assert.Equal(t, int64(6), summary.TotalItemsSold)
	assert.Equal(t, "15.50", summary.Revenue.StringFixed(2))
}

func TestTopProductsTiesAreDeterministic(t *testing.T) {
	at := time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC)
	sales := []domain.Sale{
		completed(at, line("d", "", 3, 100), line("c", "", 7, 100)),
		completed(at, line("a", "", 10, 100), line("b", "", 7, 100)),
	}

	first, total := TopProducts(sales, 2, SortByQuantity)
	require.Len(t, first, 2)
	assert.Equal(t, 4, total)
	assert.Equal(t, "a", first[0].ProductID)
	assert.Equal(t, "b", first[1].ProductID)

	for i := 0; i < 20; i++ {
		again, _ := TopProducts(sales, 2, SortByQuantity)
		assert.Equal(t, first, again)
	}

	all, _ := TopProducts(sales, 10, SortByQuantity)
	assert.Len(t, all, 4)
}

func TestTopProductsByRevenue(t *testing.T) {
	at := time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC)
	sales := []domain.Sale{
		completed(at, line("cheap", "", 10, 100), line("dear", "", 2, 900)),
	}
	rows, _ := TopProducts(sales, 1, SortByRevenue)
	require.Len(t, rows, 1)
	assert.Equal(t, "dear", rows[0].ProductID)
}

func TestSalesChartSkipsCancelledAndFillsGaps(t *testing.T) {
	day := func(d, h int) time.Time { return time.Date(2024, 3, d, h, 0, 0, 0, time.UTC) }
	latte := line("latte", domain.CategoryHotDrink, 1, 375)
	sales := []domain.Sale{
		completed(day(1, 15), latte),
		completed(day(1, 16), latte),
		completed(day(3, 14), latte),
		completed(day(3, 15), latte),
		completed(day(3, 16), latte),
		completed(day(3, 17), latte),
		completed(day(3, 18), latte),
		sale(day(3, 19), domain.SaleCancelled, latte),
	}
	w, err := localday.ParseWindow("2024-03-01", "2024-03-03", true)
	require.NoError(t, err)

	points := SalesChart(filter(sales, w), cst, w, localday.GroupByDay)
	require.Len(t, points, 3)
	counts := []int64{points[0].TotalSales, points[1].TotalSales, points[2].TotalSales}
	assert.Equal(t, []int64{2, 0, 5}, counts)
	assert.Equal(t, "2024-03-02", points[1].Bucket)
	assert.True(t, points[1].AverageTicket.IsZero())
	assert.Equal(t, "3.75", points[2].AverageTicket.StringFixed(2))

	summary := SummarizeChart(points)
	assert.Equal(t, int64(7), summary.TotalSales)
	assert.Equal(t, 3, summary.TotalDataPoints)
}

func TestSalesChartBucketFollowsMode(t *testing.T) {
	at := time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC)
	sales := []domain.Sale{completed(at, line("latte", "", 1, 375))}

	local, _ := localday.ParseWindow("", "", true)
	absolute, _ := localday.ParseWindow("", "", false)

	assert.Equal(t, "2024-03-09", SalesChart(sales, cst, local, localday.GroupByDay)[0].Bucket)
	assert.Equal(t, "2024-03-10", SalesChart(sales, cst, absolute, localday.GroupByDay)[0].Bucket)
}

func TestSalesByCategoryAbsenceAndUncategorized(t *testing.T) {
	at := time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC)
	sales := []domain.Sale{
		completed(at, line("latte", domain.CategoryHotDrink, 2, 375), line("mystery", "", 1, 500)),
		sale(at, domain.SaleCancelled, line("bagel", domain.CategorySandwich, 5, 275)),
	}

	rows := SalesByCategory(sales)
	require.Len(t, rows, 2)
	assert.Equal(t, string(domain.CategoryHotDrink), rows[0].Category)
	assert.Equal(t, domain.Uncategorized, rows[1].Category)
	for _, row := range rows {
		assert.NotEqual(t, string(domain.CategorySandwich), row.Category)
		assert.NotEqual(t, string(domain.CategoryColdDrink), row.Category)
	}

	summary := SummarizeCategories(rows)
	assert.Equal(t, int64(1250), summary.RevenueCents)
}

func TestSummaryWindows(t *testing.T) {
	now := time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC) // 2024-03-09 21:00 local
	sales := []domain.Sale{
		completed(time.Date(2024, 3, 9, 7, 0, 0, 0, time.UTC), line("a", "", 1, 1000)),
		completed(time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC), line("a", "", 1, 1000)),
		completed(time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC), line("a", "", 1, 1000)),
		sale(time.Date(2024, 3, 9, 8, 0, 0, 0, time.UTC), domain.SaleCancelled, line("a", "", 1, 1000)),
	}

	summary := Summary(sales, cst, now)
	assert.Equal(t, "2024-03-09", summary.LocalDate)
	assert.Equal(t, int64(1), summary.Today.Sales)
	assert.Equal(t, int64(2), summary.Week.Sales)
	assert.Equal(t, int64(3), summary.AllTime.Sales)
	assert.Equal(t, "10.00", summary.AverageTicket.StringFixed(2))

	empty := Summary(nil, cst, now)
	assert.True(t, empty.AverageTicket.IsZero())
}

func TestProductsChart(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2024, 3, d, 15, 0, 0, 0, time.UTC) }
	sales := []domain.Sale{
		completed(day(1), line("latte", domain.CategoryHotDrink, 3, 375), line("croissant", domain.CategoryPastry, 1, 200)),
		completed(day(2), line("latte", domain.CategoryHotDrink, 1, 375), line("tea", domain.CategoryColdDrink, 2, 275)),
		completed(day(2), line("mocha", domain.CategoryHotDrink, 2, 400)),
	}
	w, err := localday.ParseWindow("2024-03-01", "2024-03-02", true)
	require.NoError(t, err)

	report := ProductsChart(sales, cst, ProductsChartOptions{Top: 2, SortBy: SortByQuantity, Category: string(domain.CategoryHotDrink), Window: w})
	require.Len(t, report.Top, 2)
	assert.Equal(t, "latte", report.Top[0].ProductID)
	assert.Equal(t, "mocha", report.Top[1].ProductID)
	assert.Equal(t, 2, report.Summary.TotalProducts)
	require.Len(t, report.ByCategory, 1)
	assert.Equal(t, string(domain.CategoryHotDrink), report.ByCategory[0].Category)

	require.Len(t, report.Trend, 2)
	latte := report.Trend[0]
	require.Len(t, latte.Data, 2)
	assert.Equal(t, "2024-03-01", latte.Data[0].Date)
	assert.Equal(t, int64(3), latte.Data[0].Quantity)
	assert.Equal(t, "2024-03-02", latte.Data[1].Date)
	assert.Equal(t, "2024-03-01", report.Filters.StartDate)
}

func TestParseSortBy(t *testing.T) {
	s, err := ParseSortBy("")
	require.NoError(t, err)
	assert.Equal(t, SortByQuantity, s)
	_, err = ParseSortBy("margin")
	assert.ErrorIs(t, err, ErrInvalidSortBy)
}
