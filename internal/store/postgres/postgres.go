package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"kfepos/backend/internal/domain"
	"kfepos/backend/internal/store"
	"kfepos/backend/internal/xid"
)

type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

func New(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger.Named("postgres-store")}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	conds := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if filter.Category != "" {
		args = append(args, filter.Category)
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		conds = append(conds, fmt.Sprintf("active = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, category, price_cents, cost_cents, stock, active, created_at, updated_at
		FROM products
		`+where+`
		ORDER BY category, name
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, category, price_cents, cost_cents, stock, active, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if !validProduct(product) {
		return nil, store.ErrValidation
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.UpdatedAt = product.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, description, category, price_cents, cost_cents, stock, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, product.ID, product.Name, product.Description, product.Category, product.PriceCents,
		product.CostCents, product.Stock, product.Active, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if !validProduct(product) {
		return nil, store.ErrValidation
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, description = $3, category = $4, price_cents = $5, cost_cents = $6,
			stock = $7, active = $8, updated_at = $9
		WHERE id = $1
		RETURNING id, name, description, category, price_cents, cost_cents, stock, active, created_at, updated_at
	`, product.ID, product.Name, product.Description, product.Category, product.PriceCents,
		product.CostCents, product.Stock, product.Active, product.UpdatedAt)
	updated, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

type lockedProduct struct {
	name     string
	category domain.Category
	price    int64
	stock    int
	active   bool
}

// CreateSale runs the sale as one transaction. Every product the request
// touches is locked up front in id order so concurrent sales over
// overlapping products always acquire row locks in the same sequence.
func (s *Store) CreateSale(ctx context.Context, in store.NewSale) (*domain.Sale, error) {
	if len(in.Items) == 0 {
		return nil, store.ErrValidation
	}
	for _, item := range in.Items {
		if item.Quantity < 1 || item.ProductID == "" {
			return nil, store.ErrValidation
		}
	}

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, commitErr(err)
	}
	defer func() { _ = pgTx.Rollback() }()

	ids := uniqueProductIDs(in.Items)
	rows, err := pgTx.QueryContext(ctx, `
		SELECT id, name, category, price_cents, stock, active
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, commitErr(err)
	}
	locked := make(map[string]lockedProduct, len(ids))
	for rows.Next() {
		var id string
		var p lockedProduct
		if err := rows.Scan(&id, &p.name, &p.category, &p.price, &p.stock, &p.active); err != nil {
			_ = rows.Close()
			return nil, commitErr(err)
		}
		locked[id] = p
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, commitErr(err)
	}
	_ = rows.Close()

	remaining := make(map[string]int, len(ids))
	lines := make([]domain.SaleLine, 0, len(in.Items))
	var total int64
	for _, item := range in.Items {
		product, exists := locked[item.ProductID]
		if !exists || !product.active {
			return nil, store.ErrNotFound
		}
		available, seen := remaining[item.ProductID]
		if !seen {
			available = product.stock
		}
		if available < item.Quantity {
			return nil, &store.StockError{
				ProductID:   item.ProductID,
				ProductName: product.name,
				Requested:   item.Quantity,
				Available:   available,
			}
		}
		remaining[item.ProductID] = available - item.Quantity

		subtotal := int64(item.Quantity) * product.price
		lines = append(lines, domain.SaleLine{
			ProductID:       item.ProductID,
			ProductName:     product.name,
			ProductCategory: product.category,
			Quantity:        item.Quantity,
			UnitPriceCents:  product.price,
			SubtotalCents:   subtotal,
		})
		total += subtotal
	}

	for _, id := range ids {
		stock, touched := remaining[id]
		if !touched {
			continue
		}
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE products SET stock = $2, updated_at = $3 WHERE id = $1
		`, id, stock, in.CreatedAt); err != nil {
			return nil, commitErr(err)
		}
	}

	saleNumber, err := s.nextSaleNumber(ctx, pgTx, in.NumberPrefix, in.CreatedAt)
	if err != nil {
		return nil, commitErr(err)
	}

	sale := &domain.Sale{
		ID:            in.ID,
		SaleNumber:    saleNumber,
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

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (id, sale_number, total_cents, payment_method, status, seller, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, sale.ID, sale.SaleNumber, sale.TotalCents, sale.PaymentMethod, sale.Status, sale.Seller, sale.CreatedAt)
	if err != nil {
		return nil, commitErr(err)
	}

	for i, line := range sale.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, line_no, product_id, quantity, unit_price_cents, subtotal_cents)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, sale.ID, i+1, line.ProductID, line.Quantity, line.UnitPriceCents, line.SubtotalCents)
		if err != nil {
			return nil, commitErr(err)
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, commitErr(err)
	}

	return sale, nil
}

// nextSaleNumber increments the counter inside the sale transaction. A
// counter failure is isolated by a savepoint and degrades to a clock-derived
// number, which is not unique under concurrent sales.
func (s *Store) nextSaleNumber(ctx context.Context, pgTx *sql.Tx, prefix string, at time.Time) (string, error) {
	if _, err := pgTx.ExecContext(ctx, `SAVEPOINT sale_number`); err != nil {
		return "", err
	}

	var seq int64
	err := pgTx.QueryRowContext(ctx, `
		UPDATE sale_counters SET value = value + 1 WHERE name = 'sale_number' RETURNING value
	`).Scan(&seq)
	if err == nil {
		if _, err := pgTx.ExecContext(ctx, `RELEASE SAVEPOINT sale_number`); err != nil {
			return "", err
		}
		return xid.Sequence(prefix, seq), nil
	}

	if _, rbErr := pgTx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT sale_number`); rbErr != nil {
		return "", rbErr
	}
	number := xid.FromClock(prefix, at)
	s.logger.Warn("sale counter unavailable, using clock-derived sale number",
		zap.String("sale_number", number),
		zap.Error(err),
	)
	return number, nil
}

func (s *Store) CancelSale(ctx context.Context, id string, reason string, at time.Time) (*domain.Sale, error) {
	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var status domain.SaleStatus
	err = pgTx.QueryRowContext(ctx, `
		SELECT status FROM sales WHERE id = $1 FOR UPDATE
	`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if status != domain.SaleCompleted {
		return nil, store.ErrInvalidTransition
	}

	itemRows, err := pgTx.QueryContext(ctx, `
		SELECT product_id, SUM(quantity)
		FROM sale_items
		WHERE sale_id = $1
		GROUP BY product_id
		ORDER BY product_id
	`, id)
	if err != nil {
		return nil, err
	}
	restock := make([]domain.SaleLine, 0, 8)
	for itemRows.Next() {
		var line domain.SaleLine
		if err := itemRows.Scan(&line.ProductID, &line.Quantity); err != nil {
			_ = itemRows.Close()
			return nil, err
		}
		restock = append(restock, line)
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return nil, err
	}
	_ = itemRows.Close()

	at = at.UTC()
	_, err = pgTx.ExecContext(ctx, `
		UPDATE sales
		SET status = $2, cancel_reason = $3, cancelled_at = $4
		WHERE id = $1 AND status = $5
	`, id, domain.SaleCancelled, reason, at, domain.SaleCompleted)
	if err != nil {
		return nil, err
	}

	for _, line := range restock {
		_, err := pgTx.ExecContext(ctx, `
			UPDATE products SET stock = stock + $2, updated_at = $3 WHERE id = $1
		`, line.ProductID, line.Quantity, at)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return s.GetSale(ctx, id)
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sale_number, total_cents, payment_method, status, seller, created_at, cancelled_at, cancel_reason
		FROM sales
		WHERE id = $1
	`, id)
	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	sales := []domain.Sale{sale}
	if err := s.attachItems(ctx, sales); err != nil {
		return nil, err
	}
	return &sales[0], nil
}

// ListSales returns matching sales newest first, each with its lines.
func (s *Store) ListSales(ctx context.Context, query store.SaleQuery) ([]domain.Sale, error) {
	where, args := saleFilter(query)
	page := ""
	if query.Limit > 0 {
		args = append(args, query.Limit)
		page += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if query.Offset > 0 {
		args = append(args, query.Offset)
		page += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_number, total_cents, payment_method, status, seller, created_at, cancelled_at, cancel_reason
		FROM sales
		`+where+`
		ORDER BY created_at DESC, id DESC`+page, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.attachItems(ctx, sales); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) CountSales(ctx context.Context, query store.SaleQuery) (int, error) {
	where, args := saleFilter(query)
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sales `+where, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// attachItems loads the lines of every sale in one query, enriched with the
// current product name and category.
func (s *Store) attachItems(ctx context.Context, sales []domain.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	ids := make([]string, len(sales))
	index := make(map[string]int, len(sales))
	for i, sale := range sales {
		ids[i] = sale.ID
		index[sale.ID] = i
		sales[i].Items = make([]domain.SaleLine, 0, 4)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT si.sale_id, si.product_id, COALESCE(p.name, ''), COALESCE(p.category, ''),
			si.quantity, si.unit_price_cents, si.subtotal_cents
		FROM sale_items si
		LEFT JOIN products p ON p.id = si.product_id
		WHERE si.sale_id = ANY($1)
		ORDER BY si.sale_id, si.line_no
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var saleID string
		var line domain.SaleLine
		if err := rows.Scan(&saleID, &line.ProductID, &line.ProductName, &line.ProductCategory,
			&line.Quantity, &line.UnitPriceCents, &line.SubtotalCents); err != nil {
			return err
		}
		i, ok := index[saleID]
		if !ok {
			continue
		}
		sales[i].Items = append(sales[i].Items, line)
	}
	return rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if user.Role == "" {
		user.Role = domain.RoleSeller
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, true, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrValidation
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.PriceCents, &p.CostCents,
		&p.Stock, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, err
}

func scanSale(row rowScanner) (domain.Sale, error) {
	var sale domain.Sale
	var cancelledAt sql.NullTime
	var cancelReason sql.NullString
	err := row.Scan(&sale.ID, &sale.SaleNumber, &sale.TotalCents, &sale.PaymentMethod, &sale.Status,
		&sale.Seller, &sale.CreatedAt, &cancelledAt, &cancelReason)
	if err != nil {
		return sale, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	if cancelledAt.Valid {
		at := cancelledAt.Time.UTC()
		sale.CancelledAt = &at
	}
	sale.CancelReason = cancelReason.String
	return sale, nil
}

func saleFilter(query store.SaleQuery) (string, []any) {
	conds := make([]string, 0, 3)
	args := make([]any, 0, 5)
	if query.Status != "" {
		args = append(args, query.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if query.From != nil {
		args = append(args, *query.From)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if query.To != nil {
		args = append(args, *query.To)
		conds = append(conds, fmt.Sprintf("created_at < $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func uniqueProductIDs(items []domain.SaleItemRequest) []string {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item.ProductID] = struct{}{}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func commitErr(err error) error {
	if errors.Is(err, store.ErrCommit) {
		return err
	}
	return fmt.Errorf("%w: %w", store.ErrCommit, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func validProduct(p domain.Product) bool {
	return strings.TrimSpace(p.Name) != "" &&
		p.Category.Valid() &&
		p.PriceCents >= 0 &&
		p.CostCents >= 0 &&
		p.Stock >= 0
}
