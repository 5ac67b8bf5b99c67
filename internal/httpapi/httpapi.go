package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kfepos/backend/internal/domain"
	"kfepos/backend/internal/service"
	"kfepos/backend/internal/store"
)

const maxBodyBytes = 1 << 20

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	logger        *zap.Logger
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		logger:        logger.Named("http"),
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	router := gin.New()
	router.Use(a.withSecurity(), a.accessLog(), gin.CustomRecovery(a.recoverPanic))

	router.GET("/healthz", a.handleHealth)

	v1 := router.Group("/api/v1")
	v1.POST("/auth/login", a.handleLogin)

	staff := v1.Group("", a.requireAuth(domain.RoleSeller, domain.RoleAdmin))
	staff.GET("/products", a.handleListProducts)
	staff.GET("/products/:id", a.handleGetProduct)
	staff.POST("/sales", a.handleCreateSale)
	staff.GET("/sales", a.handleListSales)
	staff.GET("/sales/:id", a.handleGetSale)
	staff.GET("/reports/products-sold", reportHandler(a, a.service.ProductsSoldReport))
	staff.GET("/reports/top-products", reportHandler(a, a.service.TopProductsReport))
	staff.GET("/reports/sales-chart", reportHandler(a, a.service.SalesChartReport))
	staff.GET("/reports/by-category", reportHandler(a, a.service.SalesByCategoryReport))
	staff.GET("/reports/products-chart", reportHandler(a, a.service.ProductsChartReport))
	staff.GET("/reports/summary", a.handleSummary)

	admin := v1.Group("", a.requireAuth(domain.RoleAdmin))
	admin.POST("/products", a.handleCreateProduct)
	admin.PATCH("/products/:id", a.handleUpdateProduct)
	admin.POST("/sales/:id/cancel", a.handleCancelSale)
	admin.GET("/users/sellers", a.handleListSellers)
	admin.POST("/users/sellers", a.handleCreateSeller)
	admin.GET("/diagnostics/timezone", a.handleTimezoneInfo)

	return router
}

func (a *API) withSecurity() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Cross-Origin-Opener-Policy", "same-origin")
		h.Set("Access-Control-Allow-Origin", a.allowedOrigin)
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
		h.Set("Vary", "Origin")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		}
		c.Next()
	}
}

func (a *API) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		startedAt := time.Now()
		c.Next()
		a.logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(startedAt)),
		)
	}
}

func (a *API) recoverPanic(c *gin.Context, recovered any) {
	a.logger.Error("handler panic", zap.Any("panic", recovered), zap.String("path", c.Request.URL.Path))
	a.writeError(c, http.StatusInternalServerError, errors.New("panic"))
	c.Abort()
}

func (a *API) requireAuth(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authorization := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(c, http.StatusUnauthorized, errors.New("missing bearer token"))
			c.Abort()
			return
		}

		actor, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
		if err != nil {
			a.writeError(c, http.StatusUnauthorized, err)
			c.Abort()
			return
		}
		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			a.writeError(c, http.StatusForbidden, errors.New("forbidden role"))
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(service.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(c *gin.Context) {
	if !a.loginLimiter.Allow(clientKey(c.Request)) {
		a.writeError(c, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.writeError(c, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrInactiveAccount) {
			status = http.StatusUnauthorized
		}
		a.writeError(c, status, err)
		return
	}
	writeJSON(c, http.StatusOK, resp)
}

func (a *API) handleListProducts(c *gin.Context) {
	filter := domain.ProductFilter{Category: domain.Category(strings.TrimSpace(c.Query("category")))}
	if raw := strings.TrimSpace(c.Query("active")); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			a.writeError(c, http.StatusBadRequest, errors.New("active must be true or false"))
			return
		}
		filter.Active = &active
	}

	products, err := a.service.ListProducts(c.Request.Context(), filter)
	if err != nil {
		a.writeError(c, statusFor(err), err)
		return
	}
	writeJSON(c, http.StatusOK, products)
}

func (a *API) handleGetProduct(c *gin.Context) {
	product, err := a.service.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, statusFor(err), err)
		return
	}
	writeJSON(c, http.StatusOK, product)
}

func (a *API) handleCreateProduct(c *gin.Context) {
	var req domain.ProductCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.writeError(c, http.StatusBadRequest, err)
		return
	}

	product, err := a.service.CreateProduct(c.Request.Context(), req)
	if err != nil {
		a.writeError(c, statusFor(err), err)
		return
	}
	writeMessage(c, http.StatusCreated, product, "product created")
}

func (a *API) handleUpdateProduct(c *gin.Context) {
	var req domain.ProductUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.writeError(c, http.StatusBadRequest, err)
		return
	}

	product, err := a.service.UpdateProduct(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		a.writeError(c, statusFor(err), err)
		return
	}
	writeMessage(c, http.StatusOK, product, "product updated")
}

func (a *API) handleCreateSale(c *gin.Context) {
	var req domain.SaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.writeError(c, http.StatusBadRequest, err)
		return
	}

	receipt, err := a.service.CreateSale(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrValidation) || errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInsufficientStock) {
			status = http.StatusBadRequest
		}
		a.writeError(c, status, err)
		return
	}
	writeMessage(c, http.StatusCreated, receipt, "sale recorded")
}

func (a *API) handleListSales(c *gin.Context) {
	useLocal, err := parseBoolQuery(c.Query("useLocalDate"), true)
	if err != nil {
		a.writeError(c, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.ListSales(c.Request.Context(), domain.SaleListRequest{
		Page:         parsePositiveLimit(c.Query("page"), 1, 0),
		Limit:        parsePositiveLimit(c.Query("limit"), 10, 100),
		StartDate:    strings.TrimSpace(c.Query("startDate")),
		EndDate:      strings.TrimSpace(c.Query("endDate")),
		UseLocalDate: useLocal,
	})
	if err != nil {
		a.writeError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"data":       resp.Sales,
		"pagination": resp.Pagination,
	})
}

func (a *API) handleGetSale(c *gin.Context) {
	receipt, err := a.service.GetSale(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, statusFor(err), err)
		return
	}
	writeJSON(c, http.StatusOK, receipt)
}

func (a *API) handleCancelSale(c *gin.Context) {
	var req domain.CancelSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.writeError(c, http.StatusBadRequest, err)
		return
	}
	if !a.pinLimiter.Allow("pin:cancel:" + clientKey(c.Request)) {
		a.writeError(c, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
		return
	}
	if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
		a.writeError(c, http.StatusForbidden, errors.New("invalid manager pin"))
		return
	}

	receipt, err := a.service.CancelSale(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		a.writeError(c, statusFor(err), err)
		return
	}
	writeMessage(c, http.StatusOK, receipt, "sale cancelled")
}

func reportHandler[T any](a *API, build func(context.Context, service.ReportQuery) (T, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		q, err := reportQuery(c)
		if err != nil {
			a.writeError(c, http.StatusBadRequest, err)
			return
		}
		report, err := build(c.Request.Context(), q)
		if err != nil {
			a.writeError(c, statusFor(err), err)
			return
		}
		if err := writeReport(c, report); err != nil {
			a.writeError(c, http.StatusInternalServerError, err)
		}
	}
}

// writeReport lifts a report's top-level fields (period, summary, filters)
// next to data in the envelope. Reports without a data field are wrapped.
func writeReport(c *gin.Context, report any) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	if _, ok := fields["data"]; !ok {
		writeJSON(c, http.StatusOK, report)
		return nil
	}
	fields["success"] = json.RawMessage("true")
	c.JSON(http.StatusOK, fields)
	return nil
}

func (a *API) handleSummary(c *gin.Context) {
	summary, err := a.service.SalesSummaryReport(c.Request.Context())
	if err != nil {
		a.writeError(c, statusFor(err), err)
		return
	}
	writeJSON(c, http.StatusOK, summary)
}

func (a *API) handleTimezoneInfo(c *gin.Context) {
	info, err := a.service.TimezoneInfo(c.Request.Context())
	if err != nil {
		a.writeError(c, statusFor(err), err)
		return
	}
	writeJSON(c, http.StatusOK, info)
}

func (a *API) handleListSellers(c *gin.Context) {
	writeJSON(c, http.StatusOK, a.auth.ListSellers(c.Request.Context()))
}

func (a *API) handleCreateSeller(c *gin.Context) {
	var req domain.SellerCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.writeError(c, http.StatusBadRequest, err)
		return
	}

	seller, err := a.auth.CreateSeller(c.Request.Context(), req)
	if err != nil {
		a.writeError(c, http.StatusBadRequest, err)
		return
	}
	writeMessage(c, http.StatusCreated, seller, "seller created")
}

func reportQuery(c *gin.Context) (service.ReportQuery, error) {
	useLocal, err := parseBoolQuery(c.Query("useLocalDate"), true)
	if err != nil {
		return service.ReportQuery{}, err
	}
	rawTop := strings.TrimSpace(c.Query("top"))
	if rawTop == "" {
		rawTop = strings.TrimSpace(c.Query("limit"))
	}
	top := 0
	if rawTop != "" {
		top, err = strconv.Atoi(rawTop)
		if err != nil || top < 1 {
			return service.ReportQuery{}, errors.New("top must be a positive integer")
		}
	}

	return service.ReportQuery{
		StartDate:    strings.TrimSpace(c.Query("startDate")),
		EndDate:      strings.TrimSpace(c.Query("endDate")),
		UseLocalDate: useLocal,
		GroupBy:      strings.TrimSpace(c.Query("groupBy")),
		Top:          top,
		SortBy:       strings.TrimSpace(c.Query("sortBy")),
		Category:     strings.TrimSpace(c.Query("category")),
	}, nil
}

func parseBoolQuery(raw string, fallback bool) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.New("useLocalDate must be true or false")
	}
	return v, nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// statusFor maps service and store errors outside the sale-creation path.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrAdminRequired):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(c *gin.Context, status int, err error) {
	// 5xx details stay in the log.
	msg := err.Error()
	if status >= 500 {
		a.logger.Error("request failed",
			zap.Int("status", status),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		msg = "internal server error"
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   msg,
	})
}

func writeJSON(c *gin.Context, status int, payload any) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    payload,
	})
}

func writeMessage(c *gin.Context, status int, payload any, message string) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    payload,
		"message": message,
	})
}
