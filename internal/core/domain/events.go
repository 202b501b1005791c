package domain

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Event is a fact emitted after a unit of work has committed.
type Event interface {
	EventType() string
	// PartitionKey keeps events of one sale ordered on the broker.
	PartitionKey() string
}

type SaleItemAdded struct {
	SaleID      int64           `json:"sale_id"`
	SaleItemID  int64           `json:"sale_item_id"`
	ProductID   int64           `json:"product_id"`
	Quantity    int             `json:"quantity"`
	PriceAtSale decimal.Decimal `json:"price_at_sale"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	StockLeft   int             `json:"stock_left"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

func (SaleItemAdded) EventType() string { return "SaleItemAdded" }

func (e SaleItemAdded) PartitionKey() string { return strconv.FormatInt(e.SaleID, 10) }

type DiscountApplied struct {
	SaleID             int64           `json:"sale_id"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	OccurredAt         time.Time       `json:"occurred_at"`
}

func (DiscountApplied) EventType() string { return "DiscountApplied" }

func (e DiscountApplied) PartitionKey() string { return strconv.FormatInt(e.SaleID, 10) }
