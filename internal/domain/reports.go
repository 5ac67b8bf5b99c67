package domain

type ReportPeriod struct {
	StartDate    string `json:"start_date,omitempty"`
	EndDate      string `json:"end_date,omitempty"`
	UseLocalDate bool   `json:"use_local_date"`
}

type ProductSales struct {
	ProductID     string   `json:"product_id"`
	Name          string   `json:"name"`
	Category      Category `json:"category"`
	TotalQuantity int64    `json:"total_quantity"`
	RevenueCents  int64    `json:"revenue_cents"`
	Revenue       Money    `json:"revenue"`
	LineItems     int64    `json:"line_items"`
}

type ProductsSoldSummary struct {
	TotalProducts  int   `json:"total_products"`
	TotalItemsSold int64 `json:"total_items_sold"`
	RevenueCents   int64 `json:"revenue_cents"`
	Revenue        Money `json:"revenue"`
	TotalSales     int   `json:"total_sales"`
}

type ProductsSoldReport struct {
	Period  ReportPeriod        `json:"period"`
	Data    []ProductSales      `json:"data"`
	Summary ProductsSoldSummary `json:"summary"`
}

type TopProductsReport struct {
	Period                ReportPeriod   `json:"period"`
	SortBy                string         `json:"sort_by"`
	Limit                 int            `json:"limit"`
	Data                  []ProductSales `json:"data"`
	TotalProductsAnalyzed int            `json:"total_products_analyzed"`
}

type ChartPoint struct {
	Bucket        string `json:"bucket"`
	TotalSales    int64  `json:"total_sales"`
	RevenueCents  int64  `json:"revenue_cents"`
	Revenue       Money  `json:"revenue"`
	AverageTicket Money  `json:"average_ticket"`
}

type ChartSummary struct {
	TotalDataPoints int   `json:"total_data_points"`
	TotalSales      int64 `json:"total_sales"`
	RevenueCents    int64 `json:"revenue_cents"`
	Revenue         Money `json:"revenue"`
}

// SalesChartReport.Placeholder is true only on the degraded path, where Data
// is a fixed sample set and not derived from the transaction log.
type SalesChartReport struct {
	Period      ReportPeriod `json:"period"`
	GroupBy     string       `json:"group_by"`
	Data        []ChartPoint `json:"data"`
	Summary     ChartSummary `json:"summary"`
	Placeholder bool         `json:"placeholder"`
	Note        string       `json:"note,omitempty"`
}

type CategorySales struct {
	Category      string `json:"category"`
	TotalQuantity int64  `json:"total_quantity"`
	RevenueCents  int64  `json:"revenue_cents"`
	Revenue       Money  `json:"revenue"`
	LineItems     int64  `json:"line_items"`
}

type CategorySummary struct {
	TotalCategories int   `json:"total_categories"`
	RevenueCents    int64 `json:"revenue_cents"`
	Revenue         Money `json:"revenue"`
}

type CategoryReport struct {
	Period  ReportPeriod    `json:"period"`
	Data    []CategorySales `json:"data"`
	Summary CategorySummary `json:"summary"`
}

type WindowTotals struct {
	Sales         int64 `json:"sales"`
	RevenueCents  int64 `json:"revenue_cents"`
	Revenue       Money `json:"revenue"`
	AverageTicket Money `json:"average_ticket"`
}

type SalesSummary struct {
	Today         WindowTotals `json:"today"`
	Week          WindowTotals `json:"week"`
	AllTime       WindowTotals `json:"all_time"`
	AverageTicket Money        `json:"average_ticket"`
	LocalDate     string       `json:"local_date"`
}

type TrendPoint struct {
	Date         string `json:"date"`
	Quantity     int64  `json:"quantity"`
	RevenueCents int64  `json:"revenue_cents"`
	Revenue      Money  `json:"revenue"`
}

type ProductTrend struct {
	ProductID   string       `json:"product_id"`
	ProductName string       `json:"product_name"`
	Data        []TrendPoint `json:"data"`
}

type ProductsChartFilters struct {
	Top       int    `json:"top"`
	SortBy    string `json:"sort_by"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
	Category  string `json:"category,omitempty"`
}

type ProductsChartSummary struct {
	TotalProducts  int   `json:"total_products"`
	TotalItemsSold int64 `json:"total_items_sold"`
	RevenueCents   int64 `json:"revenue_cents"`
	Revenue        Money `json:"revenue"`
}

type ProductsChartReport struct {
	Filters    ProductsChartFilters `json:"filters"`
	Summary    ProductsChartSummary `json:"summary"`
	Top        []ProductSales       `json:"top"`
	ByCategory []CategorySales      `json:"by_category"`
	Trend      []ProductTrend       `json:"trend"`
}

type InstantView struct {
	ISO  string `json:"iso"`
	Date string `json:"date"`
	Time string `json:"time"`
}

type SaleTimezoneView struct {
	SaleNumber string      `json:"sale_number"`
	TotalCents int64       `json:"total_cents"`
	Total      Money       `json:"total"`
	Seller     string      `json:"seller"`
	Status     SaleStatus  `json:"status"`
	UTC        InstantView `json:"utc"`
	Local      InstantView `json:"local"`
}

// TimezoneInfo shows how the configured offset maps recent sales from their
// stored UTC instant onto the shop's calendar.
type TimezoneInfo struct {
	UTCOffset    string             `json:"utc_offset"`
	CurrentUTC   InstantView        `json:"current_utc"`
	CurrentLocal InstantView        `json:"current_local"`
	Sales        []SaleTimezoneView `json:"sales"`
	Total        int                `json:"total"`
}
