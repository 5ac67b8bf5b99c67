package analytics

import (
	"slices"
	"strings"

	"kfepos/backend/internal/domain"
	"kfepos/backend/internal/localday"
)

type ProductsChartOptions struct {
	Top      int
	SortBy   SortBy
	Category string
	Window   localday.Window
}

// ProductsChart builds the dashboard dataset: the top products after the
// optional category filter, their category split, and a per-day trend for
// each of them.
func ProductsChart(sales []domain.Sale, norm localday.Normalizer, opts ProductsChartOptions) domain.ProductsChartReport {
	var keep func(domain.SaleLine) bool
	if opts.Category != "" {
		keep = func(line domain.SaleLine) bool {
			return CategoryLabel(line.ProductCategory) == opts.Category
		}
	}

	rows := productRows(foldProducts(sales, keep), opts.SortBy)
	summary := domain.ProductsChartSummary{TotalProducts: len(rows)}
	for _, row := range rows {
		summary.TotalItemsSold += row.TotalQuantity
		summary.RevenueCents += row.RevenueCents
	}
	summary.Revenue = domain.Amount(summary.RevenueCents)

	if opts.Top > 0 && len(rows) > opts.Top {
		rows = rows[:opts.Top]
	}
	top := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		top[row.ProductID] = struct{}{}
	}

	categories := make(map[string]*categoryAcc)
	type dayAcc struct {
		quantity int64
		revenue  int64
	}
	trend := make(map[string]map[string]*dayAcc, len(rows))
	for _, sale := range sales {
		if sale.Status != domain.SaleCompleted {
			continue
		}
		day := norm.Day(sale.CreatedAt, opts.Window.UseLocal)
		for _, line := range sale.Items {
			if _, ok := top[line.ProductID]; !ok {
				continue
			}
			if keep != nil && !keep(line) {
				continue
			}

			label := CategoryLabel(line.ProductCategory)
			c, ok := categories[label]
			if !ok {
				c = &categoryAcc{}
				categories[label] = c
			}
			c.quantity += int64(line.Quantity)
			c.revenue += line.SubtotalCents
			c.lines++

			days, ok := trend[line.ProductID]
			if !ok {
				days = make(map[string]*dayAcc)
				trend[line.ProductID] = days
			}
			d, ok := days[day]
			if !ok {
				d = &dayAcc{}
				days[day] = d
			}
			d.quantity += int64(line.Quantity)
			d.revenue += line.SubtotalCents
		}
	}

	trends := make([]domain.ProductTrend, 0, len(rows))
	for _, row := range rows {
		points := make([]domain.TrendPoint, 0, len(trend[row.ProductID]))
		for day, d := range trend[row.ProductID] {
			points = append(points, domain.TrendPoint{
				Date:         day,
				Quantity:     d.quantity,
				RevenueCents: d.revenue,
				Revenue:      domain.Amount(d.revenue),
			})
		}
		slices.SortFunc(points, func(a, b domain.TrendPoint) int {
			return strings.Compare(a.Date, b.Date)
		})
		trends = append(trends, domain.ProductTrend{ProductID: row.ProductID, ProductName: row.Name, Data: points})
	}

	return domain.ProductsChartReport{
		Filters: domain.ProductsChartFilters{
			Top:       opts.Top,
			SortBy:    string(opts.SortBy),
			StartDate: opts.Window.Start,
			EndDate:   opts.Window.End,
			Category:  opts.Category,
		},
		Summary:    summary,
		Top:        rows,
		ByCategory: categoryRows(categories),
		Trend:      trends,
	}
}
