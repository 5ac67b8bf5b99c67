package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kfepos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrCommit            = errors.New("commit failed")
)

// StockError names the first line that could not be covered.
type StockError struct {
	ProductID   string
	ProductName string
	Requested   int
	Available   int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.ProductName, e.Requested, e.Available)
}

func (e *StockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// SaleQuery pre-filters the sale log. From/To form a half-open absolute
// range; callers still decide final window membership themselves.
type SaleQuery struct {
	From   *time.Time
	To     *time.Time
	Status domain.SaleStatus
	Offset int
	Limit  int
}

// NewSale carries a validated sale request into the store. The store
// resolves prices, checks stock, numbers and stamps the sale.
type NewSale struct {
	ID            string
	Items         []domain.SaleItemRequest
	PaymentMethod domain.PaymentMethod
	Seller        string
	CreatedAt     time.Time
	NumberPrefix  string
}

type Repository interface {
	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	CreateSale(ctx context.Context, sale NewSale) (*domain.Sale, error)
	CancelSale(ctx context.Context, id string, reason string, at time.Time) (*domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, query SaleQuery) ([]domain.Sale, error)
	CountSales(ctx context.Context, query SaleQuery) (int, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
