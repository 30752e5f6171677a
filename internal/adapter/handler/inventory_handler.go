package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rl1809/stock-billing/internal/core/domain"
	"github.com/rl1809/stock-billing/internal/core/service"
	"github.com/rl1809/stock-billing/internal/platform/observability"
)

type ProductRequest struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Balance     int    `json:"balance"`
	Version     int    `json:"version"`
}

type DebitRequest struct {
	IdempotencyKey string             `json:"idempotency_key"`
	Items          []domain.DebitItem `json:"items"`
}

type DebitResponse struct {
	Applied bool                `json:"applied"`
	Outcome domain.DebitOutcome `json:"outcome"`
}

type InventoryHandler struct {
	products *service.ProductService
	debits   *service.DebitService
	ping     func(ctx context.Context) error
	logger   *zap.Logger
}

// NewInventoryHandler serves the product catalog and the debit endpoint.
// ping reports whether the backing store is reachable; nil means always.
func NewInventoryHandler(products *service.ProductService, debits *service.DebitService, ping func(ctx context.Context) error, logger *zap.Logger) *InventoryHandler {
	return &InventoryHandler{products: products, debits: debits, ping: ping, logger: logger}
}

func NewInventoryRouter(h *InventoryHandler, logger *zap.Logger, metrics *observability.Metrics) *gin.Engine {
	r := newEngine(logger, metrics)

	r.GET("/health", h.HealthCheck)

	api := r.Group("/api/products")
	api.GET("", h.ListProducts)
	api.POST("", h.CreateProduct)
	api.POST("/debit", h.Debit)
	api.GET("/code/:code", h.GetProductByCode)
	api.GET("/code-check/:code", h.CheckCode)
	api.GET("/:id", h.GetProduct)
	api.PUT("/:id", h.UpdateProduct)
	api.DELETE("/:id", h.DeleteProduct)

	return r
}

func (h *InventoryHandler) HealthCheck(c *gin.Context) {
	if h.ping != nil {
		if err := h.ping(c.Request.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, healthBody("unavailable", "inventory-service"))
			return
		}
	}
	c.JSON(http.StatusOK, healthBody("ok", "inventory-service"))
}

func (h *InventoryHandler) ListProducts(c *gin.Context) {
	products, err := h.products.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

func (h *InventoryHandler) GetProduct(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	p, err := h.products.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *InventoryHandler) GetProductByCode(c *gin.Context) {
	p, err := h.products.GetByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *InventoryHandler) CheckCode(c *gin.Context) {
	var excludeID int64
	if raw := c.Query("exclude_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			badRequest(c, "invalid exclude_id")
			return
		}
		excludeID = id
	}

	code := c.Param("code")
	exists, err := h.products.CodeExists(c.Request.Context(), code, excludeID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exists": exists, "code": code})
}

func (h *InventoryHandler) CreateProduct(c *gin.Context) {
	var req ProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	p, err := h.products.Create(c.Request.Context(), domain.Product{
		Code:        req.Code,
		Description: req.Description,
		Balance:     req.Balance,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *InventoryHandler) UpdateProduct(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req ProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	p, err := h.products.Update(c.Request.Context(), id, domain.Product{
		Code:        req.Code,
		Description: req.Description,
		Balance:     req.Balance,
		Version:     req.Version,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *InventoryHandler) DeleteProduct(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.products.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *InventoryHandler) Debit(c *gin.Context) {
	var req DebitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	outcome, err := h.debits.Debit(c.Request.Context(), req.IdempotencyKey, req.Items)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, DebitResponse{Applied: outcome == domain.DebitApplied, Outcome: outcome})
}
