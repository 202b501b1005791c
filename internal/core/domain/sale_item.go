package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SaleItem is one line of a sale. PriceAtSale is captured when the line is
// added and does not follow later product price changes.
type SaleItem struct {
	ID          int64
	SaleID      int64
	ProductID   int64
	Quantity    int
	PriceAtSale decimal.Decimal
}

func (i SaleItem) LineTotal() decimal.Decimal {
	return LineTotal(i.Quantity, i.PriceAtSale)
}

// SaleItemDetails is a sale item joined with its sale, the sale's cashier and
// the product sold.
type SaleItemDetails struct {
	SaleItem
	UserID      int64
	SaleDate    time.Time
	FirstName   string
	LastName    string
	ProductName string
}

// User is the cashier a sale is recorded against.
type User struct {
	ID        int64
	FirstName string
	LastName  string
}

// SaleItemPatch is an administrative correction. Nil fields are left as they are.
type SaleItemPatch struct {
	Quantity    *int
	PriceAtSale *decimal.Decimal
}

func (p SaleItemPatch) Validate() error {
	if p.Quantity != nil && *p.Quantity <= 0 {
		return &InvalidArgumentError{Field: "quantity", Reason: "must be a positive integer"}
	}
	if p.PriceAtSale != nil {
		if !p.PriceAtSale.IsPositive() {
			return &InvalidArgumentError{Field: "price_at_sale", Reason: "must be a positive number"}
		}
		if !IsMoney(*p.PriceAtSale) {
			return &InvalidArgumentError{Field: "price_at_sale", Reason: "must have at most 2 decimal places"}
		}
	}
	return nil
}

// Apply returns item with the patch applied.
func (p SaleItemPatch) Apply(item SaleItem) SaleItem {
	if p.Quantity != nil {
		item.Quantity = *p.Quantity
	}
	if p.PriceAtSale != nil {
		item.PriceAtSale = p.PriceAtSale.Round(MoneyPlaces)
	}
	return item
}
