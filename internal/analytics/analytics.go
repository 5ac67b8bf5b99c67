// Package analytics folds a fetched sale log into report rows. Every report
// is one pass over completed sales into a map, followed by a single sort.
// Amounts stay in integer cents until the row is built.
package analytics

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"kfepos/backend/internal/domain"
	"kfepos/backend/internal/localday"
)

type SortBy string

const (
	SortByQuantity SortBy = "quantity"
	SortByRevenue  SortBy = "revenue"
)

var ErrInvalidSortBy = errors.New("invalid sortBy")

func ParseSortBy(raw string) (SortBy, error) {
	switch s := SortBy(strings.ToLower(strings.TrimSpace(raw))); s {
	case "":
		return SortByQuantity, nil
	case SortByQuantity, SortByRevenue:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSortBy, raw)
	}
}

// CategoryLabel is the report group of a product category.
func CategoryLabel(c domain.Category) string {
	if c == "" {
		return domain.Uncategorized
	}
	return string(c)
}

type productAcc struct {
	id       string
	name     string
	category domain.Category
	quantity int64
	revenue  int64
	lines    int64
}

func (a *productAcc) row() domain.ProductSales {
	return domain.ProductSales{
		ProductID:     a.id,
		Name:          a.name,
		Category:      a.category,
		TotalQuantity: a.quantity,
		RevenueCents:  a.revenue,
		Revenue:       domain.Amount(a.revenue),
		LineItems:     a.lines,
	}
}

func foldProducts(sales []domain.Sale, keep func(domain.SaleLine) bool) map[string]*productAcc {
	acc := make(map[string]*productAcc)
	for _, sale := range sales {
		if sale.Status != domain.SaleCompleted {
			continue
		}
		for _, line := range sale.Items {
			if keep != nil && !keep(line) {
				continue
			}
			p, ok := acc[line.ProductID]
			if !ok {
				p = &productAcc{id: line.ProductID, name: line.ProductName, category: line.ProductCategory}
				acc[line.ProductID] = p
			}
			p.quantity += int64(line.Quantity)
			p.revenue += line.SubtotalCents
			p.lines++
		}
	}
	return acc
}

func productRows(acc map[string]*productAcc, sortBy SortBy) []domain.ProductSales {
	rows := make([]domain.ProductSales, 0, len(acc))
	for _, p := range acc {
		rows = append(rows, p.row())
	}
	slices.SortFunc(rows, func(a, b domain.ProductSales) int {
		primary := cmpDesc(a.TotalQuantity, b.TotalQuantity)
		if sortBy == SortByRevenue {
			primary = cmpDesc(a.RevenueCents, b.RevenueCents)
		}
		if primary != 0 {
			return primary
		}
		return strings.Compare(a.ProductID, b.ProductID)
	})
	return rows
}

// ProductsSold groups completed lines by product, highest quantity first.
func ProductsSold(sales []domain.Sale) []domain.ProductSales {
	return productRows(foldProducts(sales, nil), SortByQuantity)
}

func SummarizeProducts(rows []domain.ProductSales, sales []domain.Sale) domain.ProductsSoldSummary {
	summary := domain.ProductsSoldSummary{TotalProducts: len(rows), TotalSales: countCompleted(sales)}
	for _, row := range rows {
		summary.TotalItemsSold += row.TotalQuantity
		summary.RevenueCents += row.RevenueCents
	}
	summary.Revenue = domain.Amount(summary.RevenueCents)
	return summary
}

// TopProducts returns at most n rows ranked by sortBy, plus the number of
// distinct products considered.
func TopProducts(sales []domain.Sale, n int, sortBy SortBy) ([]domain.ProductSales, int) {
	rows := productRows(foldProducts(sales, nil), sortBy)
	total := len(rows)
	if n > 0 && len(rows) > n {
		rows = rows[:n]
	}
	return rows, total
}

// SalesChart buckets completed sales by calendar period. When the window
// is bounded every bucket it covers is present, empty ones as zeros.
func SalesChart(sales []domain.Sale, norm localday.Normalizer, window localday.Window, g localday.Granularity) []domain.ChartPoint {
	type bucketAcc struct {
		count   int64
		revenue int64
	}
	acc := make(map[string]*bucketAcc)
	for _, key := range window.Buckets(g) {
		acc[key] = &bucketAcc{}
	}
	for _, sale := range sales {
		if sale.Status != domain.SaleCompleted {
			continue
		}
		key := norm.Bucket(sale.CreatedAt, g, window.UseLocal)
		b, ok := acc[key]
		if !ok {
			b = &bucketAcc{}
			acc[key] = b
		}
		b.count++
		b.revenue += sale.TotalCents
	}

	points := make([]domain.ChartPoint, 0, len(acc))
	for key, b := range acc {
		points = append(points, domain.ChartPoint{
			Bucket:        key,
			TotalSales:    b.count,
			RevenueCents:  b.revenue,
			Revenue:       domain.Amount(b.revenue),
			AverageTicket: domain.AverageAmount(b.revenue, b.count),
		})
	}
	slices.SortFunc(points, func(a, b domain.ChartPoint) int {
		return strings.Compare(a.Bucket, b.Bucket)
	})
	return points
}

func SummarizeChart(points []domain.ChartPoint) domain.ChartSummary {
	summary := domain.ChartSummary{TotalDataPoints: len(points)}
	for _, p := range points {
		summary.TotalSales += p.TotalSales
		summary.RevenueCents += p.RevenueCents
	}
	summary.Revenue = domain.Amount(summary.RevenueCents)
	return summary
}

type categoryAcc struct {
	quantity int64
	revenue  int64
	lines    int64
}

func categoryRows(acc map[string]*categoryAcc) []domain.CategorySales {
	rows := make([]domain.CategorySales, 0, len(acc))
	for label, c := range acc {
		rows = append(rows, domain.CategorySales{
			Category:      label,
			TotalQuantity: c.quantity,
			RevenueCents:  c.revenue,
			Revenue:       domain.Amount(c.revenue),
			LineItems:     c.lines,
		})
	}
	slices.SortFunc(rows, func(a, b domain.CategorySales) int {
		if c := cmpDesc(a.RevenueCents, b.RevenueCents); c != 0 {
			return c
		}
		return strings.Compare(a.Category, b.Category)
	})
	return rows
}

// SalesByCategory groups completed lines by product category. Categories
// without sales are absent; products without one fall under uncategorized.
func SalesByCategory(sales []domain.Sale) []domain.CategorySales {
	acc := make(map[string]*categoryAcc)
	for _, sale := range sales {
		if sale.Status != domain.SaleCompleted {
			continue
		}
		for _, line := range sale.Items {
			label := CategoryLabel(line.ProductCategory)
			c, ok := acc[label]
			if !ok {
				c = &categoryAcc{}
				acc[label] = c
			}
			c.quantity += int64(line.Quantity)
			c.revenue += line.SubtotalCents
			c.lines++
		}
	}
	return categoryRows(acc)
}

func SummarizeCategories(rows []domain.CategorySales) domain.CategorySummary {
	summary := domain.CategorySummary{TotalCategories: len(rows)}
	for _, row := range rows {
		summary.RevenueCents += row.RevenueCents
	}
	summary.Revenue = domain.Amount(summary.RevenueCents)
	return summary
}

// Summary reports today, the trailing week starting at local midnight seven
// days ago, and all time.
func Summary(sales []domain.Sale, norm localday.Normalizer, now time.Time) domain.SalesSummary {
	today := norm.Today(now)
	weekStart := norm.StartOfLocalDay(now).AddDate(0, 0, -7)

	var day, week, all domain.WindowTotals
	for _, sale := range sales {
		if sale.Status != domain.SaleCompleted {
			continue
		}
		all.Sales++
		all.RevenueCents += sale.TotalCents
		if !sale.CreatedAt.Before(weekStart) {
			week.Sales++
			week.RevenueCents += sale.TotalCents
		}
		if norm.LocalDate(sale.CreatedAt) == today {
			day.Sales++
			day.RevenueCents += sale.TotalCents
		}
	}

	finish := func(t *domain.WindowTotals) {
		t.Revenue = domain.Amount(t.RevenueCents)
		t.AverageTicket = domain.AverageAmount(t.RevenueCents, t.Sales)
	}
	finish(&day)
	finish(&week)
	finish(&all)

	return domain.SalesSummary{
		Today:         day,
		Week:          week,
		AllTime:       all,
		AverageTicket: all.AverageTicket,
		LocalDate:     today,
	}
}

func countCompleted(sales []domain.Sale) int {
	n := 0
	for _, sale := range sales {
		if sale.Status == domain.SaleCompleted {
			n++
		}
	}
	return n
}

func cmpDesc(a, b int64) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	default:
		return 0
	}
}
