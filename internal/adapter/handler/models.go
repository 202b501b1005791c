package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-backoffice/internal/core/domain"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type AddSaleItemRequest struct {
	SaleID      int64            `json:"sale_id" binding:"required"`
	ProductID   int64            `json:"product_id" binding:"required"`
	Quantity    int              `json:"quantity" binding:"required"`
	PriceAtSale *decimal.Decimal `json:"price_at_sale" binding:"required"`
}

// UpdateSaleItemRequest carries an administrative correction; absent fields
// are left unchanged.
type UpdateSaleItemRequest struct {
	Quantity    *int             `json:"quantity"`
	PriceAtSale *decimal.Decimal `json:"price_at_sale"`
}

type CreateSaleRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
}

type ApplyDiscountRequest struct {
	DiscountPercentage *decimal.Decimal `json:"discount_percentage" binding:"required"`
}

type CreateInventoryRequest struct {
	ProductID       int64 `json:"product_id" binding:"required"`
	QuantityInStock *int  `json:"quantity_in_stock" binding:"required"`
}

type UpdateInventoryRequest struct {
	QuantityInStock *int `json:"quantity_in_stock" binding:"required"`
}

type SaleItemResponse struct {
	SaleItemID  int64  `json:"sale_item_id"`
	SaleID      int64  `json:"sale_id"`
	ProductID   int64  `json:"product_id"`
	Quantity    int    `json:"quantity"`
	PriceAtSale string `json:"price_at_sale"`
}

type SaleResponse struct {
	SaleID             int64     `json:"sale_id"`
	UserID             int64     `json:"user_id"`
	SaleDate           time.Time `json:"sale_date"`
	Subtotal           string    `json:"subtotal"`
	DiscountPercentage string    `json:"discount_percentage"`
	DiscountAmount     string    `json:"discount_amount"`
	TotalAmount        string    `json:"total_amount"`
}

type SalesSummaryResponse struct {
	Count       int64  `json:"count"`
	TotalAmount string `json:"total_amount"`
}

type InventoryResponse struct {
	InventoryID     int64     `json:"inventory_id"`
	ProductID       int64     `json:"product_id"`
	QuantityInStock int       `json:"quantity_in_stock"`
	LastUpdated     time.Time `json:"last_updated"`
}

// SaleItemDetailsResponse is a sale item joined with its sale, cashier and
// product.
type SaleItemDetailsResponse struct {
	SaleItemResponse
	UserID      int64     `json:"user_id"`
	SaleDate    time.Time `json:"sale_date"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	ProductName string    `json:"product_name"`
}

type InventoryDetailsResponse struct {
	InventoryResponse
	ProductName string `json:"product_name"`
	UnitPrice   string `json:"unit_price"`
	ProductType string `json:"product_type"`
	Status      string `json:"status"`
}

// StockLevelResponse reports where the level came from: "cache" or "database".
type StockLevelResponse struct {
	ProductID       int64  `json:"product_id"`
	InventoryID     int64  `json:"inventory_id"`
	QuantityInStock int    `json:"quantity_in_stock"`
	Version         int64  `json:"version"`
	Source          string `json:"source"`
}

func fixed(d decimal.Decimal) string {
	return d.StringFixed(domain.MoneyPlaces)
}

func newSaleItemResponse(item domain.SaleItem) SaleItemResponse {
	return SaleItemResponse{
		SaleItemID:  item.ID,
		SaleID:      item.SaleID,
		ProductID:   item.ProductID,
		Quantity:    item.Quantity,
		PriceAtSale: fixed(item.PriceAtSale),
	}
}

func newSaleItemResponses(items []domain.SaleItem) []SaleItemResponse {
	out := make([]SaleItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, newSaleItemResponse(item))
	}
	return out
}

func newSaleResponse(sale domain.Sale) SaleResponse {
	return SaleResponse{
		SaleID:             sale.ID,
		UserID:             sale.UserID,
		SaleDate:           sale.SaleDate,
		Subtotal:           fixed(sale.Subtotal),
		DiscountPercentage: fixed(sale.DiscountPercentage),
		DiscountAmount:     fixed(sale.DiscountAmount),
		TotalAmount:        fixed(sale.TotalAmount),
	}
}

func newSaleResponses(sales []domain.Sale) []SaleResponse {
	out := make([]SaleResponse, 0, len(sales))
	for _, sale := range sales {
		out = append(out, newSaleResponse(sale))
	}
	return out
}

func newInventoryResponse(inv domain.Inventory) InventoryResponse {
	return InventoryResponse{
		InventoryID:     inv.ID,
		ProductID:       inv.ProductID,
		QuantityInStock: inv.QuantityInStock,
		LastUpdated:     inv.LastUpdated,
	}
}

func newInventoryResponses(items []domain.Inventory) []InventoryResponse {
	out := make([]InventoryResponse, 0, len(items))
	for _, inv := range items {
		out = append(out, newInventoryResponse(inv))
	}
	return out
}

func newSaleItemDetailsResponse(d domain.SaleItemDetails) SaleItemDetailsResponse {
	return SaleItemDetailsResponse{
		SaleItemResponse: newSaleItemResponse(d.SaleItem),
		UserID:           d.UserID,
		SaleDate:         d.SaleDate,
		FirstName:        d.FirstName,
		LastName:         d.LastName,
		ProductName:      d.ProductName,
	}
}

func newInventoryDetailsResponses(items []domain.InventoryDetails) []InventoryDetailsResponse {
	out := make([]InventoryDetailsResponse, 0, len(items))
	for _, d := range items {
		out = append(out, InventoryDetailsResponse{
			InventoryResponse: newInventoryResponse(d.Inventory),
			ProductName:       d.ProductName,
			UnitPrice:         fixed(d.UnitPrice),
			ProductType:       d.ProductType,
			Status:            d.Status,
		})
	}
	return out
}

func newStockLevelResponse(level domain.StockLevel, cached bool) StockLevelResponse {
	source := "database"
	if cached {
		source = "cache"
	}
	return StockLevelResponse{
		ProductID:       level.ProductID,
		InventoryID:     level.InventoryID,
		QuantityInStock: level.Quantity,
		Version:         level.Version,
		Source:          source,
	}
}
