package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rl1809/pos-backoffice/internal/core/domain"
	"github.com/rl1809/pos-backoffice/internal/core/service"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	retryAfterSeconds    = "1"
)

type HTTPHandler struct {
	saleItemService  *service.SaleItemService
	saleService      *service.SaleService
	inventoryService *service.InventoryService
	logger           *zap.Logger
}

func NewHTTPHandler(saleItemService *service.SaleItemService, saleService *service.SaleService, inventoryService *service.InventoryService, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{
		saleItemService:  saleItemService,
		saleService:      saleService,
		inventoryService: inventoryService,
		logger:           logger,
	}
}

func (h *HTTPHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.HealthCheck)

	api := r.Group("/api")
	{
		items := api.Group("/sale-items")
		items.POST("", h.AddSaleItem)
		items.GET("", h.ListSaleItems)
		items.GET("/:id", h.GetSaleItem)
		items.GET("/:id/details", h.GetSaleItemDetails)
		items.PUT("/:id", h.UpdateSaleItem)
		items.DELETE("/:id", h.DeleteSaleItem)

		sales := api.Group("/sales")
		sales.POST("", h.CreateSale)
		sales.GET("", h.ListSales)
		sales.GET("/summary", h.SalesSummary)
		sales.GET("/:id", h.GetSale)
		sales.GET("/:id/items", h.ListSaleItemsBySale)
		sales.PUT("/:id/discount", h.ApplyDiscount)
		sales.DELETE("/:id", h.DeleteSale)

		api.GET("/users/:user_id/sales", h.ListSalesByCustomer)

		inventory := api.Group("/inventory")
		inventory.POST("", h.CreateInventory)
		inventory.GET("", h.ListInventory)
		inventory.GET("/details", h.ListInventoryDetails)
		inventory.GET("/low-stock", h.ListLowStock)
		inventory.GET("/:product_id", h.GetInventory)
		inventory.GET("/:product_id/stock", h.GetStockLevel)
		inventory.PUT("/:product_id", h.UpdateInventory)
		inventory.DELETE("/:product_id", h.DeleteInventory)
	}
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// AddSaleItem handles POST /api/sale-items. An Idempotency-Key header makes
// re-submission of the same line safe.
func (h *HTTPHandler) AddSaleItem(c *gin.Context) {
	var req AddSaleItemRequest
	if !h.bind(c, &req) {
		return
	}

	item, err := h.saleItemService.SubmitLineItem(c.Request.Context(), c.GetHeader(IdempotencyKeyHeader),
		req.SaleID, req.ProductID, req.Quantity, *req.PriceAtSale)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newSaleItemResponse(*item))
}

func (h *HTTPHandler) ListSaleItems(c *gin.Context) {
	items, err := h.saleItemService.ListSaleItems(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSaleItemResponses(items))
}

func (h *HTTPHandler) GetSaleItem(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	item, err := h.saleItemService.GetSaleItem(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSaleItemResponse(*item))
}

func (h *HTTPHandler) GetSaleItemDetails(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	d, err := h.saleItemService.GetSaleItemDetails(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSaleItemDetailsResponse(*d))
}

func (h *HTTPHandler) ListSaleItemsBySale(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	items, err := h.saleItemService.ListSaleItemsBySale(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSaleItemResponses(items))
}

func (h *HTTPHandler) UpdateSaleItem(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req UpdateSaleItemRequest
	if !h.bind(c, &req) {
		return
	}

	item, err := h.saleItemService.UpdateSaleItem(c.Request.Context(), id, domain.SaleItemPatch{
		Quantity:    req.Quantity,
		PriceAtSale: req.PriceAtSale,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSaleItemResponse(*item))
}

func (h *HTTPHandler) DeleteSaleItem(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	if err := h.saleItemService.DeleteSaleItem(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) CreateSale(c *gin.Context) {
	var req CreateSaleRequest
	if !h.bind(c, &req) {
		return
	}

	sale, err := h.saleService.CreateSale(c.Request.Context(), req.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newSaleResponse(*sale))
}

// ListSales handles GET /api/sales, narrowed to a DD/MM/YYYY range when
// startDate or endDate is given.
func (h *HTTPHandler) ListSales(c *gin.Context) {
	start, hasStart := c.GetQuery("startDate")
	end, hasEnd := c.GetQuery("endDate")

	var (
		sales []domain.Sale
		err   error
	)
	if hasStart || hasEnd {
		sales, err = h.saleService.ListSalesBetween(c.Request.Context(), start, end)
	} else {
		sales, err = h.saleService.ListSales(c.Request.Context())
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSaleResponses(sales))
}

func (h *HTTPHandler) SalesSummary(c *gin.Context) {
	summary, err := h.saleService.SalesSummary(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SalesSummaryResponse{
		Count:       summary.Count,
		TotalAmount: fixed(summary.TotalAmount),
	})
}

func (h *HTTPHandler) GetSale(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	sale, err := h.saleService.GetSale(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSaleResponse(*sale))
}

func (h *HTTPHandler) ListSalesByCustomer(c *gin.Context) {
	userID, ok := h.pathID(c, "user_id")
	if !ok {
		return
	}

	sales, err := h.saleService.ListSalesByCustomer(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSaleResponses(sales))
}

func (h *HTTPHandler) ApplyDiscount(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req ApplyDiscountRequest
	if !h.bind(c, &req) {
		return
	}

	sale, err := h.saleService.ApplyDiscount(c.Request.Context(), id, *req.DiscountPercentage)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSaleResponse(*sale))
}

func (h *HTTPHandler) DeleteSale(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	if err := h.saleService.DeleteSale(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) CreateInventory(c *gin.Context) {
	var req CreateInventoryRequest
	if !h.bind(c, &req) {
		return
	}

	inv, err := h.inventoryService.CreateInventory(c.Request.Context(), req.ProductID, *req.QuantityInStock)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newInventoryResponse(*inv))
}

func (h *HTTPHandler) ListInventory(c *gin.Context) {
	items, err := h.inventoryService.ListInventory(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newInventoryResponses(items))
}

func (h *HTTPHandler) ListInventoryDetails(c *gin.Context) {
	items, err := h.inventoryService.ListInventoryDetails(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newInventoryDetailsResponses(items))
}

func (h *HTTPHandler) ListLowStock(c *gin.Context) {
	threshold := h.inventoryService.LowStockThreshold()
	if raw, ok := c.GetQuery("threshold"); ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(c, &domain.InvalidArgumentError{Field: "threshold", Reason: "must be an integer"})
			return
		}
		threshold = n
	}

	items, err := h.inventoryService.ListLowStock(c.Request.Context(), threshold)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newInventoryDetailsResponses(items))
}

func (h *HTTPHandler) GetInventory(c *gin.Context) {
	productID, ok := h.pathID(c, "product_id")
	if !ok {
		return
	}

	inv, err := h.inventoryService.GetInventory(c.Request.Context(), productID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newInventoryResponse(*inv))
}

// GetStockLevel handles GET /api/inventory/:product_id/stock, answered from
// the stock mirror when it is warm.
func (h *HTTPHandler) GetStockLevel(c *gin.Context) {
	productID, ok := h.pathID(c, "product_id")
	if !ok {
		return
	}

	level, cached, err := h.inventoryService.GetStockLevel(c.Request.Context(), productID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newStockLevelResponse(*level, cached))
}

func (h *HTTPHandler) UpdateInventory(c *gin.Context) {
	productID, ok := h.pathID(c, "product_id")
	if !ok {
		return
	}
	var req UpdateInventoryRequest
	if !h.bind(c, &req) {
		return
	}

	inv, err := h.inventoryService.SetInventoryQuantity(c.Request.Context(), productID, *req.QuantityInStock)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newInventoryResponse(*inv))
}

func (h *HTTPHandler) DeleteInventory(c *gin.Context) {
	productID, ok := h.pathID(c, "product_id")
	if !ok {
		return
	}

	if err := h.inventoryService.DeleteInventory(c.Request.Context(), productID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.logger.Warn("invalid request body", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_argument",
			Message: "invalid request body",
			Details: err.Error(),
		})
		return false
	}
	return true
}

func (h *HTTPHandler) pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		h.writeError(c, &domain.InvalidArgumentError{Field: name, Reason: "must be an integer"})
		return 0, false
	}
	return id, true
}

// writeError maps the domain error taxonomy onto HTTP statuses.
func (h *HTTPHandler) writeError(c *gin.Context, err error) {
	var (
		stockErr *domain.InsufficientStockError
		notFound *domain.NotFoundError
	)

	switch {
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "insufficient_stock",
			Message: err.Error(),
			Details: gin.H{
				"product_id": stockErr.ProductID,
				"available":  stockErr.Available,
				"requested":  stockErr.Requested,
			},
		})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: err.Error(),
			Details: gin.H{"entity": notFound.Entity, "id": notFound.ID},
		})
	case errors.Is(err, domain.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_argument", Message: err.Error()})
	case errors.Is(err, domain.ErrAlreadyExists):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "already_exists", Message: err.Error()})
	case errors.Is(err, service.ErrDuplicateRequest):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "duplicate_request", Message: "duplicate request"})
	case domain.IsRetryable(err):
		h.logger.Warn("retryable transaction failure", zap.String("path", c.FullPath()), zap.Error(err))
		c.Header("Retry-After", retryAfterSeconds)
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "transaction_failed",
			Message: err.Error(),
			Details: gin.H{"retryable": true},
		})
	case errors.Is(err, domain.ErrTransactionFailed):
		h.logger.Error("transaction failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "transaction_failed", Message: err.Error()})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, ErrorResponse{Error: "cancelled", Message: "request cancelled"})
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "internal error"})
	}
}
