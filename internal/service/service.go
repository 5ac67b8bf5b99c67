package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"kfepos/backend/internal/cache"
	"kfepos/backend/internal/domain"
	"kfepos/backend/internal/localday"
	"kfepos/backend/internal/store"
	"kfepos/backend/internal/xid"
)

var ErrAdminRequired = errors.New("admin role required")

const (
	defaultSaleNumberPrefix = "KFE"
	defaultPageSize         = 10
	maxPageSize             = 100
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Normalizer       localday.Normalizer
	SaleNumberPrefix string
	ReportCache      cache.ReportCache
	ReportCacheTTL   time.Duration
	ChartFallback    bool
	Logger           *zap.Logger
	Clock            func() time.Time
}

type Service struct {
	repo          store.Repository
	norm          localday.Normalizer
	prefix        string
	reports       cache.ReportCache
	reportTTL     time.Duration
	chartFallback bool
	logger        *zap.Logger
	now           func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.SaleNumberPrefix == "" {
		opts.SaleNumberPrefix = defaultSaleNumberPrefix
	}
	if opts.ReportCache == nil {
		opts.ReportCache = cache.NoopReportCache{}
	}
	if opts.ReportCacheTTL <= 0 {
		opts.ReportCacheTTL = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Service{
		repo:          repo,
		norm:          opts.Normalizer,
		prefix:        opts.SaleNumberPrefix,
		reports:       opts.ReportCache,
		reportTTL:     opts.ReportCacheTTL,
		chartFallback: opts.ChartFallback,
		logger:        opts.Logger.Named("service"),
		now:           opts.Clock,
	}
}

func (s *Service) Normalizer() localday.Normalizer {
	return s.norm
}

func (s *Service) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	if filter.Category != "" && !filter.Category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", store.ErrValidation, filter.Category)
	}
	return s.repo.ListProducts(ctx, filter)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, store.ErrValidation
	}
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, ErrAdminRequired
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)
	if req.Name == "" {
		return domain.Product{}, fmt.Errorf("%w: name is required", store.ErrValidation)
	}
	if !req.Category.Valid() {
		return domain.Product{}, fmt.Errorf("%w: unknown category %q", store.ErrValidation, req.Category)
	}
	if req.PriceCents < 0 || req.CostCents < 0 || req.Stock < 0 {
		return domain.Product{}, fmt.Errorf("%w: price, cost and stock must not be negative", store.ErrValidation)
	}

	now := s.now().UTC()
	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		PriceCents:  req.PriceCents,
		CostCents:   req.CostCents,
		Stock:       req.Stock,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logger.Info("product created",
		zap.String("product_id", created.ID),
		zap.String("actor", actor.Username),
		zap.Int64("price_cents", created.PriceCents),
		zap.Int("stock", created.Stock),
	)
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, ErrAdminRequired
	}

	existing, err := s.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: name is required", store.ErrValidation)
		}
		updated.Name = name
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.Category != nil {
		if !req.Category.Valid() {
			return domain.Product{}, fmt.Errorf("%w: unknown category %q", store.ErrValidation, *req.Category)
		}
		updated.Category = *req.Category
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 0 {
			return domain.Product{}, fmt.Errorf("%w: price must not be negative", store.ErrValidation)
		}
		updated.PriceCents = *req.PriceCents
	}
	if req.CostCents != nil {
		if *req.CostCents < 0 {
			return domain.Product{}, fmt.Errorf("%w: cost must not be negative", store.ErrValidation)
		}
		updated.CostCents = *req.CostCents
	}
	if req.Stock != nil {
		if *req.Stock < 0 {
			return domain.Product{}, fmt.Errorf("%w: stock must not be negative", store.ErrValidation)
		}
		updated.Stock = *req.Stock
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}
	updated.UpdatedAt = s.now().UTC()

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logger.Info("product updated",
		zap.String("product_id", saved.ID),
		zap.String("actor", actor.Username),
		zap.Int64("price_cents", saved.PriceCents),
		zap.Int("stock", saved.Stock),
		zap.Bool("active", saved.Active),
	)
	return *saved, nil
}

// CreateSale validates the request, then hands it to the store, which
// prices, decrements, numbers and records it as one unit of work.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleRequest) (domain.SaleReceipt, error) {
	if err := validateSaleRequest(&req); err != nil {
		return domain.SaleReceipt{}, err
	}

	sale, err := s.repo.CreateSale(ctx, store.NewSale{
		ID:            xid.New("sale"),
		Items:         req.Items,
		PaymentMethod: req.PaymentMethod,
		Seller:        req.Seller,
		CreatedAt:     s.now().UTC(),
		NumberPrefix:  s.prefix,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrValidation),
			errors.Is(err, store.ErrNotFound),
			errors.Is(err, store.ErrInsufficientStock):
			s.logger.Info("sale rejected", zap.String("seller", req.Seller), zap.Error(err))
			return domain.SaleReceipt{}, err
		case errors.Is(err, store.ErrCommit):
		default:
			err = fmt.Errorf("%w: %w", store.ErrCommit, err)
		}
		s.logger.Error("sale commit failed", zap.String("seller", req.Seller), zap.Error(err))
		return domain.SaleReceipt{}, err
	}

	s.invalidateReports(ctx)
	s.logger.Info("sale committed",
		zap.String("sale_id", sale.ID),
		zap.String("sale_number", sale.SaleNumber),
		zap.Int64("total_cents", sale.TotalCents),
		zap.Int("lines", len(sale.Items)),
		zap.String("seller", sale.Seller),
	)
	return s.receipt(*sale), nil
}

func validateSaleRequest(req *domain.SaleRequest) error {
	if len(req.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", store.ErrValidation)
	}
	for i := range req.Items {
		req.Items[i].ProductID = strings.TrimSpace(req.Items[i].ProductID)
		if req.Items[i].ProductID == "" {
			return fmt.Errorf("%w: item %d has no product id", store.ErrValidation, i+1)
		}
		if req.Items[i].Quantity < 1 {
			return fmt.Errorf("%w: item %d quantity must be at least 1", store.ErrValidation, i+1)
		}
	}
	req.PaymentMethod = domain.PaymentMethod(strings.ToLower(strings.TrimSpace(string(req.PaymentMethod))))
	if !req.PaymentMethod.Valid() {
		return fmt.Errorf("%w: payment method must be cash, card or transfer", store.ErrValidation)
	}
	req.Seller = strings.TrimSpace(req.Seller)
	if req.Seller == "" {
		return fmt.Errorf("%w: seller is required", store.ErrValidation)
	}
	return nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.SaleReceipt, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.SaleReceipt{}, store.ErrValidation
	}
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.SaleReceipt{}, err
	}
	return s.receipt(*sale), nil
}

// ListSales pages through the log newest first. With a date window the
// candidates are filtered by calendar day before paging, so page counts
// reflect the window exactly.
func (s *Service) ListSales(ctx context.Context, req domain.SaleListRequest) (domain.SaleListResponse, error) {
	window, err := localday.ParseWindow(req.StartDate, req.EndDate, req.UseLocalDate)
	if err != nil {
		return domain.SaleListResponse{}, fmt.Errorf("%w: %w", store.ErrValidation, err)
	}
	page, limit := req.Page, req.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	var sales []domain.Sale
	var total int
	if window.Bounded() {
		candidates, err := s.salesInWindow(ctx, window, "")
		if err != nil {
			return domain.SaleListResponse{}, err
		}
		total = len(candidates)
		if page <= pageCount(total, limit) {
			offset := (page - 1) * limit
			sales = candidates[offset:min(offset+limit, total)]
		}
	} else {
		total, err = s.repo.CountSales(ctx, store.SaleQuery{})
		if err != nil {
			return domain.SaleListResponse{}, err
		}
		if page <= pageCount(total, limit) {
			sales, err = s.repo.ListSales(ctx, store.SaleQuery{Offset: (page - 1) * limit, Limit: limit})
			if err != nil {
				return domain.SaleListResponse{}, err
			}
		}
	}

	receipts := make([]domain.SaleReceipt, 0, len(sales))
	for _, sale := range sales {
		receipts = append(receipts, s.receipt(sale))
	}
	return domain.SaleListResponse{
		Sales: receipts,
		Pagination: domain.Pagination{
			CurrentPage:  page,
			TotalPages:   pageCount(total, limit),
			TotalItems:   total,
			ItemsPerPage: limit,
		},
	}, nil
}

func pageCount(total, limit int) int {
	return (total + limit - 1) / limit
}

// CancelSale moves a completed sale to cancelled and puts its quantities
// back on the shelf. The manager PIN is checked by the caller.
func (s *Service) CancelSale(ctx context.Context, id string, req domain.CancelSaleRequest) (domain.SaleReceipt, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.SaleReceipt{}, ErrAdminRequired
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.SaleReceipt{}, store.ErrValidation
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "unspecified"
	}

	sale, err := s.repo.CancelSale(ctx, id, reason, s.now().UTC())
	if err != nil {
		return domain.SaleReceipt{}, err
	}

	s.invalidateReports(ctx)
	s.logger.Info("sale cancelled",
		zap.String("sale_id", sale.ID),
		zap.String("sale_number", sale.SaleNumber),
		zap.String("actor", actor.Username),
		zap.String("reason", reason),
	)
	return s.receipt(*sale), nil
}

func (s *Service) receipt(sale domain.Sale) domain.SaleReceipt {
	return domain.SaleReceipt{
		Sale:      sale,
		LocalDate: s.norm.LocalDate(sale.CreatedAt),
		LocalTime: s.norm.LocalTime(sale.CreatedAt),
	}
}

// salesInWindow fetches the pre-filtered candidates once and keeps those
// the window accepts.
func (s *Service) salesInWindow(ctx context.Context, window localday.Window, status domain.SaleStatus) ([]domain.Sale, error) {
	from, to := window.QueryBounds()
	candidates, err := s.repo.ListSales(ctx, store.SaleQuery{From: from, To: to, Status: status})
	if err != nil {
		return nil, err
	}
	if !window.Bounded() {
		return candidates, nil
	}
	kept := candidates[:0]
	for _, sale := range candidates {
		if window.Contains(s.norm, sale.CreatedAt) {
			kept = append(kept, sale)
		}
	}
	return kept, nil
}

func (s *Service) invalidateReports(ctx context.Context) {
	if err := s.reports.Invalidate(ctx); err != nil {
		s.logger.Warn("report cache invalidation failed", zap.Error(err))
	}
}
