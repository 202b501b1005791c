package port

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-backoffice/internal/core/domain"
)

// TxRunner demarcates a unit of work. fn receives the transaction scope; a
// non-nil return rolls everything back, nil commits.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is an open transaction. Stores obtained from it never open their own
// transaction and their writes become visible only on commit.
type Tx interface {
	Sales() SaleStore
	Inventory() InventoryStore
	SaleItems() SaleItemStore
}

type SaleStore interface {
	// LockByID takes an exclusive row lock on the sale. Returns nil, nil when absent.
	LockByID(ctx context.Context, saleID int64) (*domain.Sale, error)

	// UpdateTotals persists subtotal, discount percentage, discount amount and total.
	UpdateTotals(ctx context.Context, sale domain.Sale) error
}

type InventoryStore interface {
	// LockByProductID takes an exclusive row lock on the product's inventory row.
	// Returns nil, nil when absent.
	LockByProductID(ctx context.Context, productID int64) (*domain.Inventory, error)

	// Decrement lowers the stock, bumps the row version and refreshes last_updated.
	Decrement(ctx context.Context, productID int64, quantity int) error
}

type SaleItemStore interface {
	Insert(ctx context.Context, item domain.SaleItem) (*domain.SaleItem, error)

	// SumBySale returns Σ quantity × price_at_sale over every item of the sale.
	SumBySale(ctx context.Context, saleID int64) (decimal.Decimal, error)
}

// SaleRepository is the plain CRUD side of sales. Totals are never written here.
type SaleRepository interface {
	CreateSale(ctx context.Context, userID int64) (*domain.Sale, error)
	GetSale(ctx context.Context, saleID int64) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	SalesSummary(ctx context.Context) (domain.SalesSummary, error)
	DeleteSale(ctx context.Context, saleID int64) (bool, error)
}

// InventoryRepository covers direct admin adjustments outside the coordinator.
type InventoryRepository interface {
	CreateInventory(ctx context.Context, productID int64, quantity int) (*domain.Inventory, error)
	GetInventory(ctx context.Context, productID int64) (*domain.Inventory, error)
	ListInventory(ctx context.Context) ([]domain.Inventory, error)
	// ListInventoryDetails joins every row with its product.
	ListInventoryDetails(ctx context.Context) ([]domain.InventoryDetails, error)
	ListLowStock(ctx context.Context, threshold int) ([]domain.InventoryDetails, error)
	SetInventoryQuantity(ctx context.Context, productID int64, quantity int) (*domain.Inventory, error)
	// DeleteInventory returns the deleted row, nil when there was none.
	DeleteInventory(ctx context.Context, productID int64) (*domain.Inventory, error)
}

type SaleItemRepository interface {
	GetSaleItem(ctx context.Context, saleItemID int64) (*domain.SaleItem, error)
	GetSaleItemDetails(ctx context.Context, saleItemID int64) (*domain.SaleItemDetails, error)
	// ListSaleItems returns every item when saleID is zero.
	ListSaleItems(ctx context.Context, saleID int64) ([]domain.SaleItem, error)
	UpdateSaleItem(ctx context.Context, saleItemID int64, patch domain.SaleItemPatch) (*domain.SaleItem, error)
	DeleteSaleItem(ctx context.Context, saleItemID int64) (bool, error)
}

// DatabaseRepository is everything a storage adapter provides.
type DatabaseRepository interface {
	TxRunner
	SaleRepository
	InventoryRepository
	SaleItemRepository
}
