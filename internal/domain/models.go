package domain

import "time"

type Category string

const (
	CategoryHotDrink  Category = "Hot Drink"
	CategoryColdDrink Category = "Cold Drink"
	CategoryPastry    Category = "Pastry"
	CategorySandwich  Category = "Sandwich"
	CategoryOther     Category = "Other"

	// Uncategorized is the report group for products without a category.
	Uncategorized = "uncategorized"
)

func (c Category) Valid() bool {
	switch c {
	case "", CategoryHotDrink, CategoryColdDrink, CategoryPastry, CategorySandwich, CategoryOther:
		return true
	default:
		return false
	}
}

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentTransfer:
		return true
	default:
		return false
	}
}

type SaleStatus string

const (
	SaleCompleted SaleStatus = "completed"
	SaleCancelled SaleStatus = "cancelled"
)

type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Category    Category  `json:"category"`
	PriceCents  int64     `json:"price_cents"`
	CostCents   int64     `json:"cost_cents"`
	Stock       int       `json:"stock"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ProductCreateRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    Category `json:"category"`
	PriceCents  int64    `json:"price_cents"`
	CostCents   int64    `json:"cost_cents"`
	Stock       int      `json:"stock"`
}

type ProductUpdateRequest struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Category    *Category `json:"category,omitempty"`
	PriceCents  *int64    `json:"price_cents,omitempty"`
	CostCents   *int64    `json:"cost_cents,omitempty"`
	Stock       *int      `json:"stock,omitempty"`
	Active      *bool     `json:"active,omitempty"`
}

type ProductFilter struct {
	Category Category
	Active   *bool
}

type SaleItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type SaleRequest struct {
	Items         []SaleItemRequest `json:"items"`
	PaymentMethod PaymentMethod     `json:"paymentMethod"`
	Seller        string            `json:"seller"`
}

// SaleLine is immutable once committed. ProductName and ProductCategory are
// filled from the live product whenever the log is read.
type SaleLine struct {
	ProductID       string   `json:"product_id"`
	ProductName     string   `json:"product_name,omitempty"`
	ProductCategory Category `json:"product_category,omitempty"`
	Quantity        int      `json:"quantity"`
	UnitPriceCents  int64    `json:"unit_price_cents"`
	SubtotalCents   int64    `json:"subtotal_cents"`
}

type Sale struct {
	ID            string        `json:"id"`
	SaleNumber    string        `json:"sale_number"`
	Items         []SaleLine    `json:"items"`
	TotalCents    int64         `json:"total_cents"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Status        SaleStatus    `json:"status"`
	Seller        string        `json:"seller"`
	CreatedAt     time.Time     `json:"created_at"`
	CancelledAt   *time.Time    `json:"cancelled_at,omitempty"`
	CancelReason  string        `json:"cancel_reason,omitempty"`
}

// LinesTotal recomputes the sum of stored subtotals.
func (s Sale) LinesTotal() int64 {
	var total int64
	for _, item := range s.Items {
		total += item.SubtotalCents
	}
	return total
}

// SaleReceipt is a sale plus its display strings in the operator's calendar.
type SaleReceipt struct {
	Sale
	LocalDate string `json:"local_date"`
	LocalTime string `json:"local_time"`
}

type SaleListRequest struct {
	Page         int
	Limit        int
	StartDate    string
	EndDate      string
	UseLocalDate bool
}

type Pagination struct {
	CurrentPage  int `json:"current_page"`
	TotalPages   int `json:"total_pages"`
	TotalItems   int `json:"total_items"`
	ItemsPerPage int `json:"items_per_page"`
}

type SaleListResponse struct {
	Sales      []SaleReceipt `json:"sales"`
	Pagination Pagination    `json:"pagination"`
}

type CancelSaleRequest struct {
	Reason     string `json:"reason"`
	ManagerPIN string `json:"manager_pin"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

const (
	RoleAdmin  = "admin"
	RoleSeller = "seller"
)

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type SellerCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SellerUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
