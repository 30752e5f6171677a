package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rl1809/stock-billing/internal/core/domain"
	"github.com/rl1809/stock-billing/internal/core/service"
	"github.com/rl1809/stock-billing/internal/platform/observability"
)

type CreateInvoiceRequest struct {
	Lines []domain.NewInvoiceLine `json:"lines"`
}

type BillingHandler struct {
	invoices  *service.InvoiceService
	finalizer *service.Finalizer
	logger    *zap.Logger
}

func NewBillingHandler(invoices *service.InvoiceService, finalizer *service.Finalizer, logger *zap.Logger) *BillingHandler {
	return &BillingHandler{invoices: invoices, finalizer: finalizer, logger: logger}
}

func NewBillingRouter(h *BillingHandler, logger *zap.Logger, metrics *observability.Metrics) *gin.Engine {
	r := newEngine(logger, metrics)

	r.GET("/health", h.HealthCheck)

	api := r.Group("/api/invoices")
	api.GET("", h.ListInvoices)
	api.POST("", h.CreateInvoice)
	api.GET("/inventory/status", h.InventoryStatus)
	api.GET("/:id", h.GetInvoice)
	api.POST("/:id/print", h.PrintInvoice)

	return r
}

func (h *BillingHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, healthBody("ok", "billing-service"))
}

func (h *BillingHandler) ListInvoices(c *gin.Context) {
	invoices, err := h.invoices.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoices)
}

func (h *BillingHandler) GetInvoice(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	inv, err := h.invoices.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (h *BillingHandler) CreateInvoice(c *gin.Context) {
	var req CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	inv, err := h.invoices.Create(c.Request.Context(), req.Lines)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

// PrintInvoice finalizes the invoice: it debits stock and closes it.
func (h *BillingHandler) PrintInvoice(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	inv, err := h.finalizer.Finalize(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (h *BillingHandler) InventoryStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"inventory_available": h.invoices.InventoryAvailable(c.Request.Context()),
		"timestamp":           time.Now().UTC(),
	})
}
