package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/pos-backoffice/internal/adapter/storage"
	"github.com/rl1809/pos-backoffice/internal/core/domain"
	"github.com/rl1809/pos-backoffice/internal/core/service"
)

// MockCache is a mock implementation of port.CacheRepository
type MockCache struct {
	mock.Mock
}

func (m *MockCache) SetIdempotency(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockCache) ReleaseIdempotency(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockCache) SetStock(ctx context.Context, level domain.StockLevel) error {
	return m.Called(ctx, level).Error(0)
}

func (m *MockCache) DeleteStock(ctx context.Context, level domain.StockLevel) error {
	return m.Called(ctx, level).Error(0)
}

func (m *MockCache) GetStock(ctx context.Context, productID int64) (*domain.StockLevel, error) {
	args := m.Called(ctx, productID)
	level, _ := args.Get(0).(*domain.StockLevel)
	return level, args.Error(1)
}

func stockOf(productID int64, quantity int) any {
	return mock.MatchedBy(func(l domain.StockLevel) bool {
		return l.ProductID == productID && l.Quantity == quantity
	})
}

type testServer struct {
	db      *storage.MemoryAdapter
	handler *HTTPHandler
	router  *gin.Engine
}

func setupTestServer(t *testing.T, cache *MockCache) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	db := storage.NewMemoryAdapter(time.Second)

	var itemService *service.SaleItemService
	var inventoryService *service.InventoryService
	if cache != nil {
		itemService = service.NewSaleItemService(db, cache, nil, logger, time.Second)
		inventoryService = service.NewInventoryService(db, cache, logger, 5)
	} else {
		itemService = service.NewSaleItemService(db, nil, nil, logger, time.Second)
		inventoryService = service.NewInventoryService(db, nil, logger, 5)
	}

	h := NewHTTPHandler(itemService, service.NewSaleService(db, nil, logger, time.Second), inventoryService, logger)
	router := gin.New()
	router.Use(gin.Recovery())
	h.RegisterRoutes(router)

	return &testServer{db: db, handler: h, router: router}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthCheck(t *testing.T) {
	s := setupTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestAddSaleItem_Success(t *testing.T) {
	s := setupTestServer(t, nil)
	ctx := context.Background()
	sale, err := s.db.CreateSale(ctx, 1)
	require.NoError(t, err)
	_, err = s.db.CreateInventory(ctx, 7, 10)
	require.NoError(t, err)

	w := s.do(t, http.MethodPost, "/api/sale-items", gin.H{
		"sale_id":       sale.ID,
		"product_id":    7,
		"quantity":      2,
		"price_at_sale": "5.00",
	})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	item := decode[SaleItemResponse](t, w)
	assert.NotZero(t, item.SaleItemID)
	assert.Equal(t, sale.ID, item.SaleID)
	assert.Equal(t, "5.00", item.PriceAtSale)

	w = s.do(t, http.MethodGet, fmt.Sprintf("/api/sales/%d", sale.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[SaleResponse](t, w)
	assert.Equal(t, "10.00", got.Subtotal)
	assert.Equal(t, "0.00", got.DiscountAmount)
	assert.Equal(t, "10.00", got.TotalAmount)

	w = s.do(t, http.MethodGet, "/api/inventory/7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 8, decode[InventoryResponse](t, w).QuantityInStock)
}

func TestAddSaleItem_InsufficientStock(t *testing.T) {
	s := setupTestServer(t, nil)
	ctx := context.Background()
	sale, err := s.db.CreateSale(ctx, 1)
	require.NoError(t, err)
	_, err = s.db.CreateInventory(ctx, 7, 3)
	require.NoError(t, err)

	w := s.do(t, http.MethodPost, "/api/sale-items", gin.H{
		"sale_id":       sale.ID,
		"product_id":    7,
		"quantity":      5,
		"price_at_sale": 5,
	})

	require.Equal(t, http.StatusConflict, w.Code)
	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, "insufficient_stock", resp.Error)
	details, ok := resp.Details.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 3, details["available"])
	assert.EqualValues(t, 5, details["requested"])
}

func TestAddSaleItem_NotFound(t *testing.T) {
	s := setupTestServer(t, nil)
	_, err := s.db.CreateInventory(context.Background(), 7, 3)
	require.NoError(t, err)

	w := s.do(t, http.MethodPost, "/api/sale-items", gin.H{
		"sale_id":       404,
		"product_id":    7,
		"quantity":      1,
		"price_at_sale": "1.00",
	})

	require.Equal(t, http.StatusNotFound, w.Code)
	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, "not_found", resp.Error)
	assert.Contains(t, resp.Message, "sale 404")
}

func TestAddSaleItem_InvalidBody(t *testing.T) {
	s := setupTestServer(t, nil)

	tests := []struct {
		name string
		body any
	}{
		{"missing price", gin.H{"sale_id": 1, "product_id": 7, "quantity": 1}},
		{"zero quantity", gin.H{"sale_id": 1, "product_id": 7, "quantity": 0, "price_at_sale": "1.00"}},
		{"price not a number", gin.H{"sale_id": 1, "product_id": 7, "quantity": 1, "price_at_sale": "abc"}},
		{"negative quantity", gin.H{"sale_id": 1, "product_id": 7, "quantity": -2, "price_at_sale": "1.00"}},
		{"negative price", gin.H{"sale_id": 1, "product_id": 7, "quantity": 1, "price_at_sale": "-1.00"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/sale-items", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, "invalid_argument", decode[ErrorResponse](t, w).Error)
		})
	}
}

func TestAddSaleItem_IdempotencyKey(t *testing.T) {
	cache := new(MockCache)
	s := setupTestServer(t, cache)
	ctx := context.Background()
	sale, err := s.db.CreateSale(ctx, 1)
	require.NoError(t, err)
	_, err = s.db.CreateInventory(ctx, 7, 10)
	require.NoError(t, err)

	key := uuid.NewString()
	claim := fmt.Sprintf("%d:%s", sale.ID, key)
	cache.On("SetIdempotency", mock.Anything, claim).Return(true, nil).Once()
	cache.On("SetIdempotency", mock.Anything, claim).Return(false, nil).Once()
	cache.On("SetStock", mock.Anything, stockOf(7, 9)).Return(nil).Once()

	body := gin.H{"sale_id": sale.ID, "product_id": 7, "quantity": 1, "price_at_sale": "2.50"}

	first := s.do(t, http.MethodPost, "/api/sale-items", body, IdempotencyKeyHeader, key)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second := s.do(t, http.MethodPost, "/api/sale-items", body, IdempotencyKeyHeader, key)
	require.Equal(t, http.StatusConflict, second.Code)
	assert.Equal(t, "duplicate_request", decode[ErrorResponse](t, second).Error)

	items, err := s.db.ListSaleItems(ctx, sale.ID)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	cache.AssertExpectations(t)
}

func TestSaleItemAdmin(t *testing.T) {
	s := setupTestServer(t, nil)
	ctx := context.Background()
	sale, err := s.db.CreateSale(ctx, 1)
	require.NoError(t, err)
	_, err = s.db.CreateInventory(ctx, 7, 10)
	require.NoError(t, err)

	w := s.do(t, http.MethodPost, "/api/sale-items", gin.H{
		"sale_id": sale.ID, "product_id": 7, "quantity": 2, "price_at_sale": "5.00",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[SaleItemResponse](t, w).SaleItemID

	w = s.do(t, http.MethodGet, "/api/sale-items", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]SaleItemResponse](t, w), 1)

	w = s.do(t, http.MethodGet, fmt.Sprintf("/api/sales/%d/items", sale.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]SaleItemResponse](t, w), 1)

	w = s.do(t, http.MethodPut, fmt.Sprintf("/api/sale-items/%d", id), gin.H{"quantity": 4})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[SaleItemResponse](t, w)
	assert.Equal(t, 4, updated.Quantity)
	assert.Equal(t, "5.00", updated.PriceAtSale)

	w = s.do(t, http.MethodPut, fmt.Sprintf("/api/sale-items/%d", id), gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodDelete, fmt.Sprintf("/api/sale-items/%d", id), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodGet, fmt.Sprintf("/api/sale-items/%d", id), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, fmt.Sprintf("/api/sales/%d/items", sale.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestSales(t *testing.T) {
	s := setupTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/api/sales", gin.H{"user_id": 3})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sale := decode[SaleResponse](t, w)
	assert.Equal(t, int64(3), sale.UserID)
	assert.Equal(t, "0.00", sale.TotalAmount)

	_, err := s.db.CreateInventory(context.Background(), 7, 10)
	require.NoError(t, err)
	w = s.do(t, http.MethodPost, "/api/sale-items", gin.H{
		"sale_id": sale.SaleID, "product_id": 7, "quantity": 3, "price_at_sale": "5.00",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	t.Run("apply discount", func(t *testing.T) {
		w := s.do(t, http.MethodPut, fmt.Sprintf("/api/sales/%d/discount", sale.SaleID), gin.H{"discount_percentage": "20"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		got := decode[SaleResponse](t, w)
		assert.Equal(t, "15.00", got.Subtotal)
		assert.Equal(t, "20.00", got.DiscountPercentage)
		assert.Equal(t, "3.00", got.DiscountAmount)
		assert.Equal(t, "12.00", got.TotalAmount)
	})

	t.Run("discount out of range", func(t *testing.T) {
		w := s.do(t, http.MethodPut, fmt.Sprintf("/api/sales/%d/discount", sale.SaleID), gin.H{"discount_percentage": 101})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("list by customer", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/users/3/sales", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, decode[[]SaleResponse](t, w), 1)

		w = s.do(t, http.MethodGet, "/api/users/4/sales", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, decode[[]SaleResponse](t, w))
	})

	t.Run("list by date range", func(t *testing.T) {
		today := time.Now().UTC().Format(domain.SaleDateLayout)
		w := s.do(t, http.MethodGet, "/api/sales?startDate="+today+"&endDate="+today, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Len(t, decode[[]SaleResponse](t, w), 1)

		w = s.do(t, http.MethodGet, "/api/sales?startDate=2024-01-01&endDate="+today, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("summary", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/sales/summary", nil)
		require.Equal(t, http.StatusOK, w.Code)
		summary := decode[SalesSummaryResponse](t, w)
		assert.Equal(t, int64(1), summary.Count)
		assert.Equal(t, "12.00", summary.TotalAmount)
	})

	t.Run("delete", func(t *testing.T) {
		w := s.do(t, http.MethodDelete, fmt.Sprintf("/api/sales/%d", sale.SaleID), nil)
		assert.Equal(t, http.StatusNoContent, w.Code)

		w = s.do(t, http.MethodGet, fmt.Sprintf("/api/sales/%d", sale.SaleID), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = s.do(t, http.MethodGet, "/api/sales", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, decode[[]SaleResponse](t, w))
	})
}

func TestInventory(t *testing.T) {
	cache := new(MockCache)
	s := setupTestServer(t, cache)

	cache.On("SetStock", mock.Anything, stockOf(7, 2)).Return(nil).Once()
	cache.On("SetStock", mock.Anything, stockOf(8, 40)).Return(nil).Once()
	cache.On("SetStock", mock.Anything, stockOf(7, 9)).Return(nil).Once()
	cache.On("DeleteStock", mock.Anything, stockOf(8, 40)).Return(nil).Once()
	s.db.PutProduct(domain.Product{ID: 7, Name: "Espresso", UnitPrice: decimal.RequireFromString("2.5"), ProductType: "drink", Status: "active"})

	w := s.do(t, http.MethodPost, "/api/inventory", gin.H{"product_id": 7, "quantity_in_stock": 2})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = s.do(t, http.MethodPost, "/api/inventory", gin.H{"product_id": 8, "quantity_in_stock": 40})
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodPost, "/api/inventory", gin.H{"product_id": 7, "quantity_in_stock": 1})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_exists", decode[ErrorResponse](t, w).Error)

	w = s.do(t, http.MethodGet, "/api/inventory", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]InventoryResponse](t, w), 2)

	w = s.do(t, http.MethodGet, "/api/inventory/low-stock", nil)
	require.Equal(t, http.StatusOK, w.Code)
	low := decode[[]InventoryDetailsResponse](t, w)
	require.Len(t, low, 1)
	assert.Equal(t, int64(7), low[0].ProductID)
	assert.Equal(t, "Espresso", low[0].ProductName)
	assert.Equal(t, "2.50", low[0].UnitPrice)
	assert.Equal(t, "drink", low[0].ProductType)
	assert.Equal(t, "active", low[0].Status)

	w = s.do(t, http.MethodGet, "/api/inventory/details", nil)
	require.Equal(t, http.StatusOK, w.Code)
	details := decode[[]InventoryDetailsResponse](t, w)
	require.Len(t, details, 2)
	names := map[int64]string{}
	for _, d := range details {
		names[d.ProductID] = d.ProductName
	}
	assert.Equal(t, map[int64]string{7: "Espresso", 8: ""}, names)

	w = s.do(t, http.MethodGet, "/api/inventory/low-stock?threshold=100", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]InventoryResponse](t, w), 2)

	w = s.do(t, http.MethodGet, "/api/inventory/low-stock?threshold=many", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPut, "/api/inventory/7", gin.H{"quantity_in_stock": 9})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 9, decode[InventoryResponse](t, w).QuantityInStock)

	w = s.do(t, http.MethodPut, "/api/inventory/99", gin.H{"quantity_in_stock": 9})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodDelete, "/api/inventory/8", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodGet, "/api/inventory/8", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/inventory/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	cache.AssertExpectations(t)
}

func TestGetStockLevel(t *testing.T) {
	cache := new(MockCache)
	s := setupTestServer(t, cache)

	cache.On("SetStock", mock.Anything, stockOf(7, 5)).Return(nil).Once()
	w := s.do(t, http.MethodPost, "/api/inventory", gin.H{"product_id": 7, "quantity_in_stock": 5})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	cache.On("GetStock", mock.Anything, int64(7)).
		Return(&domain.StockLevel{InventoryID: 1, ProductID: 7, Quantity: 5, Version: 0}, nil).Once()
	w = s.do(t, http.MethodGet, "/api/inventory/7/stock", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[StockLevelResponse](t, w)
	assert.Equal(t, 5, got.QuantityInStock)
	assert.Equal(t, "cache", got.Source)

	cache.On("GetStock", mock.Anything, int64(7)).Return(nil, nil).Once()
	cache.On("SetStock", mock.Anything, stockOf(7, 5)).Return(nil).Once()
	w = s.do(t, http.MethodGet, "/api/inventory/7/stock", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "database", decode[StockLevelResponse](t, w).Source)

	cache.On("GetStock", mock.Anything, int64(99)).Return(nil, nil).Once()
	w = s.do(t, http.MethodGet, "/api/inventory/99/stock", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	cache.AssertExpectations(t)
}

func TestGetSaleItemDetails(t *testing.T) {
	s := setupTestServer(t, nil)
	ctx := context.Background()
	s.db.PutUser(domain.User{ID: 3, FirstName: "Ada", LastName: "Lovelace"})
	s.db.PutProduct(domain.Product{ID: 7, Name: "Espresso"})
	sale, err := s.db.CreateSale(ctx, 3)
	require.NoError(t, err)
	_, err = s.db.CreateInventory(ctx, 7, 10)
	require.NoError(t, err)

	w := s.do(t, http.MethodPost, "/api/sale-items", gin.H{"sale_id": sale.ID, "product_id": 7, "quantity": 2, "price_at_sale": "2.5"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	item := decode[SaleItemResponse](t, w)

	w = s.do(t, http.MethodGet, fmt.Sprintf("/api/sale-items/%d/details", item.SaleItemID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[SaleItemDetailsResponse](t, w)
	assert.Equal(t, item.SaleItemID, got.SaleItemID)
	assert.Equal(t, "2.50", got.PriceAtSale)
	assert.Equal(t, int64(3), got.UserID)
	assert.Equal(t, "Ada", got.FirstName)
	assert.Equal(t, "Lovelace", got.LastName)
	assert.Equal(t, "Espresso", got.ProductName)

	w = s.do(t, http.MethodGet, "/api/sale-items/999/details", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAddSaleItem_SubCentPrice(t *testing.T) {
	s := setupTestServer(t, nil)
	ctx := context.Background()
	sale, err := s.db.CreateSale(ctx, 1)
	require.NoError(t, err)
	_, err = s.db.CreateInventory(ctx, 7, 10)
	require.NoError(t, err)

	w := s.do(t, http.MethodPost, "/api/sale-items", gin.H{"sale_id": sale.ID, "product_id": 7, "quantity": 1, "price_at_sale": "1.999"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_argument", decode[ErrorResponse](t, w).Error)
}

func TestWriteError_Mapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &HTTPHandler{logger: zap.NewNop()}

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid argument", &domain.InvalidArgumentError{Field: "quantity", Reason: "must be a positive integer"}, http.StatusBadRequest, "invalid_argument"},
		{"not found", &domain.NotFoundError{Entity: domain.EntityInventory, ID: 3}, http.StatusNotFound, "not_found"},
		{"insufficient stock", &domain.InsufficientStockError{ProductID: 1, Available: 0, Requested: 1}, http.StatusConflict, "insufficient_stock"},
		{"already exists", fmt.Errorf("inventory for product 1: %w", domain.ErrAlreadyExists), http.StatusConflict, "already_exists"},
		{"duplicate request", service.ErrDuplicateRequest, http.StatusConflict, "duplicate_request"},
		{"lock timeout", domain.WrapTxError("add line item", domain.ErrLockTimeout), http.StatusServiceUnavailable, "transaction_failed"},
		{"transaction failed", domain.WrapTxError("add line item", errors.New("connection reset")), http.StatusInternalServerError, "transaction_failed"},
		{"cancelled", context.Canceled, http.StatusRequestTimeout, "cancelled"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			h.writeError(c, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, decode[ErrorResponse](t, w).Error)
			if tt.wantStatus == http.StatusServiceUnavailable {
				assert.NotEmpty(t, w.Header().Get("Retry-After"))
			}
		})
	}
}
