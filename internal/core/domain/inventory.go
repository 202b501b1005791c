package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Inventory is the per-product stock counter. There is at most one row per product.
// Version grows by one with every committed change to the row.
type Inventory struct {
	ID              int64
	ProductID       int64
	QuantityInStock int
	Version         int64
	LastUpdated     time.Time
}

// CanFulfil reports whether the row holds at least quantity units.
func (i Inventory) CanFulfil(quantity int) bool {
	return i.QuantityInStock >= quantity
}

// IsLow reports whether stock is strictly below threshold.
func (i Inventory) IsLow(threshold int) bool {
	return i.QuantityInStock < threshold
}

func (i Inventory) StockLevel() StockLevel {
	return StockLevel{
		InventoryID: i.ID,
		ProductID:   i.ProductID,
		Quantity:    i.QuantityInStock,
		Version:     i.Version,
	}
}

// StockLevel is the committed quantity of one inventory row at one version.
type StockLevel struct {
	InventoryID int64
	ProductID   int64
	Quantity    int
	Version     int64
}

// Supersedes reports whether l is newer than other. A re-created row gets a
// higher inventory ID than the row it replaces, so it wins over any version
// of the old one.
func (l StockLevel) Supersedes(other StockLevel) bool {
	if l.InventoryID != other.InventoryID {
		return l.InventoryID > other.InventoryID
	}
	return l.Version > other.Version
}

// Product is the catalog entry an inventory row or sale item refers to.
type Product struct {
	ID          int64
	Name        string
	UnitPrice   decimal.Decimal
	ProductType string
	Status      string
}

// InventoryDetails is an inventory row joined with its product.
type InventoryDetails struct {
	Inventory
	ProductName string
	UnitPrice   decimal.Decimal
	ProductType string
	Status      string
}
