package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"kfepos/backend/internal/analytics"
	"kfepos/backend/internal/domain"
	"kfepos/backend/internal/localday"
	"kfepos/backend/internal/store"
)

const (
	defaultTopN          = 10
	maxTopN              = 100
	defaultChartDays     = 30
	timezoneSampleSize   = 20
	chartPlaceholderNote = "placeholder data: the sales log could not be read"
)

// maxChartDays caps the span of a sales chart per granularity.
var maxChartDays = map[localday.Granularity]int{
	localday.GroupByDay:   366,
	localday.GroupByWeek:  3 * 366,
	localday.GroupByMonth: 10 * 366,
}

type ReportQuery struct {
	StartDate    string
	EndDate      string
	UseLocalDate bool
	GroupBy      string
	Top          int
	SortBy       string
	Category     string
}

func (q ReportQuery) cacheKey(report string) string {
	return fmt.Sprintf("%s:%s:%s:%t:%s:%d:%s:%s", report, q.StartDate, q.EndDate, q.UseLocalDate,
		strings.ToLower(q.GroupBy), q.Top, strings.ToLower(q.SortBy), q.Category)
}

func (q ReportQuery) window() (localday.Window, error) {
	w, err := localday.ParseWindow(q.StartDate, q.EndDate, q.UseLocalDate)
	if err != nil {
		return localday.Window{}, fmt.Errorf("%w: %w", store.ErrValidation, err)
	}
	return w, nil
}

func (q ReportQuery) top() (int, error) {
	switch {
	case q.Top == 0:
		return defaultTopN, nil
	case q.Top < 0:
		return 0, fmt.Errorf("%w: top must be a positive integer", store.ErrValidation)
	case q.Top > maxTopN:
		return maxTopN, nil
	default:
		return q.Top, nil
	}
}

func period(w localday.Window) domain.ReportPeriod {
	return domain.ReportPeriod{StartDate: w.Start, EndDate: w.End, UseLocalDate: w.UseLocal}
}

// cachedReport serves a report from the cache or builds and stores it. Cache
// failures only cost a rebuild.
func cachedReport[T any](ctx context.Context, s *Service, key string, build func() (T, error)) (T, error) {
	var out T
	slot, err := s.reports.Get(ctx, key, &out)
	if err != nil {
		s.logger.Warn("report cache read failed", zap.String("key", key), zap.Error(err))
	}
	if slot.Hit {
		return out, nil
	}

	out, err = build()
	if err != nil {
		return out, err
	}
	if err := s.reports.Set(ctx, slot, out, s.reportTTL); err != nil {
		s.logger.Warn("report cache write failed", zap.String("key", key), zap.Error(err))
	}
	return out, nil
}

func (s *Service) ProductsSoldReport(ctx context.Context, q ReportQuery) (domain.ProductsSoldReport, error) {
	window, err := q.window()
	if err != nil {
		return domain.ProductsSoldReport{}, err
	}
	return cachedReport(ctx, s, q.cacheKey("products-sold"), func() (domain.ProductsSoldReport, error) {
		sales, err := s.salesInWindow(ctx, window, domain.SaleCompleted)
		if err != nil {
			return domain.ProductsSoldReport{}, err
		}
		rows := analytics.ProductsSold(sales)
		return domain.ProductsSoldReport{
			Period:  period(window),
			Data:    rows,
			Summary: analytics.SummarizeProducts(rows, sales),
		}, nil
	})
}

func (s *Service) TopProductsReport(ctx context.Context, q ReportQuery) (domain.TopProductsReport, error) {
	window, err := q.window()
	if err != nil {
		return domain.TopProductsReport{}, err
	}
	n, err := q.top()
	if err != nil {
		return domain.TopProductsReport{}, err
	}
	sortBy, err := analytics.ParseSortBy(q.SortBy)
	if err != nil {
		return domain.TopProductsReport{}, fmt.Errorf("%w: %w", store.ErrValidation, err)
	}

	return cachedReport(ctx, s, q.cacheKey("top-products"), func() (domain.TopProductsReport, error) {
		sales, err := s.salesInWindow(ctx, window, domain.SaleCompleted)
		if err != nil {
			return domain.TopProductsReport{}, err
		}
		rows, total := analytics.TopProducts(sales, n, sortBy)
		return domain.TopProductsReport{
			Period:                period(window),
			SortBy:                string(sortBy),
			Limit:                 n,
			Data:                  rows,
			TotalProductsAnalyzed: total,
		}, nil
	})
}

// SalesChartReport defaults to the last thirty local days. When the log
// cannot be read and the fallback is enabled it answers with a fixed sample
// flagged as placeholder; the placeholder is never cached.
func (s *Service) SalesChartReport(ctx context.Context, q ReportQuery) (domain.SalesChartReport, error) {
	window, err := q.window()
	if err != nil {
		return domain.SalesChartReport{}, err
	}
	if !window.Bounded() {
		window = localday.LastDays(s.norm, s.now(), defaultChartDays, q.UseLocalDate)
	}
	g, err := localday.ParseGranularity(q.GroupBy)
	if err != nil {
		return domain.SalesChartReport{}, fmt.Errorf("%w: %w", store.ErrValidation, err)
	}
	if days := window.DayCount(); days > maxChartDays[g] {
		return domain.SalesChartReport{}, fmt.Errorf("%w: a %s chart spans at most %d days, got %d",
			store.ErrValidation, g, maxChartDays[g], days)
	}

	key := q.cacheKey("sales-chart") + ":" + window.Start + ":" + window.End
	report, err := cachedReport(ctx, s, key, func() (domain.SalesChartReport, error) {
		sales, err := s.salesInWindow(ctx, window, domain.SaleCompleted)
		if err != nil {
			return domain.SalesChartReport{}, err
		}
		points := analytics.SalesChart(sales, s.norm, window, g)
		return domain.SalesChartReport{
			Period:  period(window),
			GroupBy: string(g),
			Data:    points,
			Summary: analytics.SummarizeChart(points),
		}, nil
	})
	if err == nil || !s.chartFallback {
		return report, err
	}

	s.logger.Error("sales chart degraded to placeholder data", zap.Error(err))
	return placeholderChart(window, g), nil
}

func placeholderChart(window localday.Window, g localday.Granularity) domain.SalesChartReport {
	buckets := window.Buckets(g)
	if len(buckets) > 2 {
		buckets = buckets[len(buckets)-2:]
	}
	samples := []struct {
		count   int64
		revenue int64
	}{{3, 193500}, {5, 9000}}

	points := make([]domain.ChartPoint, 0, len(buckets))
	for i, bucket := range buckets {
		sample := samples[i%len(samples)]
		points = append(points, domain.ChartPoint{
			Bucket:        bucket,
			TotalSales:    sample.count,
			RevenueCents:  sample.revenue,
			Revenue:       domain.Amount(sample.revenue),
			AverageTicket: domain.AverageAmount(sample.revenue, sample.count),
		})
	}
	return domain.SalesChartReport{
		Period:      period(window),
		GroupBy:     string(g),
		Data:        points,
		Summary:     analytics.SummarizeChart(points),
		Placeholder: true,
		Note:        chartPlaceholderNote,
	}
}

func (s *Service) SalesByCategoryReport(ctx context.Context, q ReportQuery) (domain.CategoryReport, error) {
	window, err := q.window()
	if err != nil {
		return domain.CategoryReport{}, err
	}
	return cachedReport(ctx, s, q.cacheKey("by-category"), func() (domain.CategoryReport, error) {
		sales, err := s.salesInWindow(ctx, window, domain.SaleCompleted)
		if err != nil {
			return domain.CategoryReport{}, err
		}
		rows := analytics.SalesByCategory(sales)
		return domain.CategoryReport{
			Period:  period(window),
			Data:    rows,
			Summary: analytics.SummarizeCategories(rows),
		}, nil
	})
}

func (s *Service) SalesSummaryReport(ctx context.Context) (domain.SalesSummary, error) {
	now := s.now()
	key := "summary:" + s.norm.Today(now)
	return cachedReport(ctx, s, key, func() (domain.SalesSummary, error) {
		sales, err := s.repo.ListSales(ctx, store.SaleQuery{Status: domain.SaleCompleted})
		if err != nil {
			return domain.SalesSummary{}, err
		}
		return analytics.Summary(sales, s.norm, now), nil
	})
}

func (s *Service) ProductsChartReport(ctx context.Context, q ReportQuery) (domain.ProductsChartReport, error) {
	window, err := q.window()
	if err != nil {
		return domain.ProductsChartReport{}, err
	}
	n, err := q.top()
	if err != nil {
		return domain.ProductsChartReport{}, err
	}
	sortBy, err := analytics.ParseSortBy(q.SortBy)
	if err != nil {
		return domain.ProductsChartReport{}, fmt.Errorf("%w: %w", store.ErrValidation, err)
	}
	category := strings.TrimSpace(q.Category)
	if category != "" && category != domain.Uncategorized && !domain.Category(category).Valid() {
		return domain.ProductsChartReport{}, fmt.Errorf("%w: unknown category %q", store.ErrValidation, category)
	}

	return cachedReport(ctx, s, q.cacheKey("products-chart"), func() (domain.ProductsChartReport, error) {
		sales, err := s.salesInWindow(ctx, window, domain.SaleCompleted)
		if err != nil {
			return domain.ProductsChartReport{}, err
		}
		return analytics.ProductsChart(sales, s.norm, analytics.ProductsChartOptions{
			Top:      n,
			SortBy:   sortBy,
			Category: category,
			Window:   window,
		}), nil
	})
}

// TimezoneInfo lists the most recent sales with their stored UTC instant
// beside the local date and time the configured offset yields. Admin only.
func (s *Service) TimezoneInfo(ctx context.Context) (domain.TimezoneInfo, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.TimezoneInfo{}, ErrAdminRequired
	}
	sales, err := s.repo.ListSales(ctx, store.SaleQuery{Limit: timezoneSampleSize})
	if err != nil {
		return domain.TimezoneInfo{}, err
	}

	now := s.now()
	info := domain.TimezoneInfo{
		UTCOffset:    s.norm.OffsetLabel(),
		CurrentUTC:   instantView(now.UTC()),
		CurrentLocal: instantView(s.norm.Shift(now)),
		Sales:        make([]domain.SaleTimezoneView, 0, len(sales)),
		Total:        len(sales),
	}
	for _, sale := range sales {
		info.Sales = append(info.Sales, domain.SaleTimezoneView{
			SaleNumber: sale.SaleNumber,
			TotalCents: sale.TotalCents,
			Total:      domain.Amount(sale.TotalCents),
			Seller:     sale.Seller,
			Status:     sale.Status,
			UTC:        instantView(sale.CreatedAt.UTC()),
			Local:      instantView(s.norm.Shift(sale.CreatedAt)),
		})
	}
	return info, nil
}

// instantView formats t without a zone suffix. Local views arrive already
// shifted.
func instantView(t time.Time) domain.InstantView {
	return domain.InstantView{
		ISO:  t.Format("2006-01-02T15:04:05.000"),
		Date: t.Format(localday.DateLayout),
		Time: t.Format(localday.TimeLayout),
	}
}
