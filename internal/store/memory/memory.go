package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"kfepos/backend/internal/domain"
	"kfepos/backend/internal/store"
	"kfepos/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	logger          *zap.Logger
	products        map[string]domain.Product
	salesByID       map[string]*domain.Sale
	saleOrder       []string
	saleSeq         int64
	usersByUsername map[string]domain.UserAccount
}

func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		logger:          logger.Named("memory-store"),
		products:        make(map[string]domain.Product),
		salesByID:       make(map[string]*domain.Sale),
		saleOrder:       make([]string, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store holding the demo catalogue and dev accounts.
// Seed credentials come from SEED_ADMIN_PASSWORD and SEED_SELLER_PASSWORD;
// the hardcoded fallbacks are only meant for local runs.
func NewSeeded(logger *zap.Logger) *Store {
	s := New(logger)
	now := time.Now().UTC()
	for _, p := range []domain.Product{
		{ID: "prd-americano", Name: "Americano", Description: "Espresso with hot water", Category: domain.CategoryHotDrink, PriceCents: 250, CostCents: 80, Stock: 100},
		{ID: "prd-cappuccino", Name: "Cappuccino", Description: "Coffee with foamed milk", Category: domain.CategoryHotDrink, PriceCents: 350, CostCents: 120, Stock: 80},
		{ID: "prd-latte", Name: "Latte", Description: "Coffee with steamed milk", Category: domain.CategoryHotDrink, PriceCents: 375, CostCents: 130, Stock: 70},
		{ID: "prd-mocha", Name: "Mocha", Description: "Coffee with chocolate and milk", Category: domain.CategoryHotDrink, PriceCents: 400, CostCents: 150, Stock: 60},
		{ID: "prd-vanilla-frappe", Name: "Vanilla Frappe", Description: "Blended iced coffee with vanilla", Category: domain.CategoryColdDrink, PriceCents: 450, CostCents: 180, Stock: 50},
		{ID: "prd-iced-tea", Name: "Iced Tea", Description: "Fresh iced black tea", Category: domain.CategoryColdDrink, PriceCents: 275, CostCents: 90, Stock: 90},
		{ID: "prd-croissant", Name: "Croissant", Description: "Butter croissant", Category: domain.CategoryPastry, PriceCents: 200, CostCents: 60, Stock: 50},
		{ID: "prd-chocolate-donut", Name: "Chocolate Donut", Description: "Glazed chocolate donut", Category: domain.CategoryPastry, PriceCents: 175, CostCents: 50, Stock: 40},
		{ID: "prd-ham-cheese", Name: "Ham and Cheese Sandwich", Description: "Ham and cheese on white bread", Category: domain.CategorySandwich, PriceCents: 350, CostCents: 120, Stock: 30},
		{ID: "prd-cream-cheese-bagel", Name: "Cream Cheese Bagel", Description: "Toasted bagel with cream cheese", Category: domain.CategorySandwich, PriceCents: 275, CostCents: 85, Stock: 35},
	} {
		p.Active = true
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
	}
	s.usersByUsername = s.seedUsers(now)
	return s
}

func (s *Store) seedUsers(now time.Time) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	sellerPwd := envOr("SEED_SELLER_PASSWORD", "seller123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_SELLER_PASSWORD") == "" {
		s.logger.Warn("using default dev credentials, set SEED_ADMIN_PASSWORD and SEED_SELLER_PASSWORD to override")
	}

	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"seller", sellerPwd, domain.RoleSeller},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			s.logger.Fatal("failed to hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) ListProducts(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if filter.Active != nil && p.Active != *filter.Active {
			continue
		}
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(string(a.Category), string(b.Category))
	})

	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !validProduct(product) {
		return nil, store.ErrValidation
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrValidation
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = product.CreatedAt
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !validProduct(product) {
		return nil, store.ErrValidation
	}
	existing, exists := s.products[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	product.CreatedAt = existing.CreatedAt
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

// CreateSale runs the whole sale under the write lock: nothing is mutated
// until every line has been priced and covered.
func (s *Store) CreateSale(_ context.Context, in store.NewSale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(in.Items) == 0 {
		return nil, store.ErrValidation
	}

	remaining := make(map[string]int, len(in.Items))
	lines := make([]domain.SaleLine, 0, len(in.Items))
	var total int64
	for _, item := range in.Items {
		if item.Quantity < 1 {
			return nil, store.ErrValidation
		}
		product, exists := s.products[item.ProductID]
		if !exists || !product.Active {
			return nil, store.ErrNotFound
		}
		available, seen := remaining[product.ID]
		if !seen {
			available = product.Stock
		}
		if available < item.Quantity {
			return nil, &store.StockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Requested:   item.Quantity,
				Available:   available,
			}
		}
		remaining[product.ID] = available - item.Quantity

		subtotal := int64(item.Quantity) * product.PriceCents
		lines = append(lines, domain.SaleLine{
			ProductID:      product.ID,
			Quantity:       item.Quantity,
			UnitPriceCents: product.PriceCents,
			SubtotalCents:  subtotal,
		})
		total += subtotal
	}

	for id, stock := range remaining {
		product := s.products[id]
		product.Stock = stock
		product.UpdatedAt = in.CreatedAt
		s.products[id] = product
	}

	s.saleSeq++
	sale := &domain.Sale{
		ID:            in.ID,
		SaleNumber:    xid.Sequence(in.NumberPrefix, s.saleSeq),
		Items:         lines,
		TotalCents:    total,
		PaymentMethod: in.PaymentMethod,
		Status:        domain.SaleCompleted,
		Seller:        in.Seller,
		CreatedAt:     in.CreatedAt.UTC(),
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	s.salesByID[sale.ID] = sale
	s.saleOrder = append(s.saleOrder, sale.ID)

	return s.enrich(sale), nil
}

func (s *Store) CancelSale(_ context.Context, id string, reason string, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sale.Status != domain.SaleCompleted {
		return nil, store.ErrInvalidTransition
	}

	for _, item := range sale.Items {
		product, exists := s.products[item.ProductID]
		if !exists {
			continue
		}
		product.Stock += item.Quantity
		product.UpdatedAt = at
		s.products[item.ProductID] = product
	}

	cancelledAt := at.UTC()
	sale.Status = domain.SaleCancelled
	sale.CancelReason = reason
	sale.CancelledAt = &cancelledAt

	return s.enrich(sale), nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.enrich(sale), nil
}

// ListSales returns matching sales newest first.
func (s *Store) ListSales(_ context.Context, query store.SaleQuery) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.match(query)
	if query.Offset > 0 {
		if query.Offset >= len(matched) {
			return []domain.Sale{}, nil
		}
		matched = matched[query.Offset:]
	}
	if query.Limit > 0 && len(matched) > query.Limit {
		matched = matched[:query.Limit]
	}

	sales := make([]domain.Sale, 0, len(matched))
	for _, sale := range matched {
		sales = append(sales, *s.enrich(sale))
	}
	return sales, nil
}

func (s *Store) CountSales(_ context.Context, query store.SaleQuery) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.match(query)), nil
}

func (s *Store) match(query store.SaleQuery) []*domain.Sale {
	matched := make([]*domain.Sale, 0, len(s.saleOrder))
	for i := len(s.saleOrder) - 1; i >= 0; i-- {
		sale := s.salesByID[s.saleOrder[i]]
		if query.Status != "" && sale.Status != query.Status {
			continue
		}
		if query.From != nil && sale.CreatedAt.Before(*query.From) {
			continue
		}
		if query.To != nil && !sale.CreatedAt.Before(*query.To) {
			continue
		}
		matched = append(matched, sale)
	}
	slices.SortStableFunc(matched, func(a, b *domain.Sale) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return matched
}

// enrich copies a stored sale and fills line names and categories from the
// live catalogue. Caller holds the lock.
func (s *Store) enrich(src *domain.Sale) *domain.Sale {
	dup := *src
	dup.Items = make([]domain.SaleLine, len(src.Items))
	copy(dup.Items, src.Items)
	for i := range dup.Items {
		if product, ok := s.products[dup.Items[i].ProductID]; ok {
			dup.Items[i].ProductName = product.Name
			dup.Items[i].ProductCategory = product.Category
		}
	}
	if src.CancelledAt != nil {
		at := *src.CancelledAt
		dup.CancelledAt = &at
	}
	return &dup
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrValidation
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleSeller
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func validProduct(p domain.Product) bool {
	return strings.TrimSpace(p.Name) != "" &&
		p.Category.Valid() &&
		p.PriceCents >= 0 &&
		p.CostCents >= 0 &&
		p.Stock >= 0
}
