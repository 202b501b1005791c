package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SaleDateLayout is the DD/MM/YYYY format used by date range queries.
const SaleDateLayout = "02/01/2006"

type Sale struct {
	ID                 int64
	UserID             int64
	SaleDate           time.Time
	Subtotal           decimal.Decimal
	DiscountPercentage decimal.Decimal
	DiscountAmount     decimal.Decimal
	TotalAmount        decimal.Decimal
}

// NewSale returns an empty sale for userID with every monetary field at zero.
func NewSale(userID int64, at time.Time) Sale {
	return Sale{
		UserID:             userID,
		SaleDate:           at,
		Subtotal:           decimal.Zero,
		DiscountPercentage: decimal.Zero,
		DiscountAmount:     decimal.Zero,
		TotalAmount:        decimal.Zero,
	}
}

func (s Sale) HasDiscount() bool {
	return s.DiscountPercentage.IsPositive()
}

// ApplyTotals copies computed totals onto the sale. The discount percentage is
// left untouched.
func (s *Sale) ApplyTotals(t Totals) {
	s.Subtotal = t.Subtotal
	s.DiscountAmount = t.DiscountAmount
	s.TotalAmount = t.TotalAmount
}

// SaleFilter narrows ListSales. Zero values mean "no constraint".
type SaleFilter struct {
	UserID int64
	From   time.Time // inclusive, day granularity
	To     time.Time // inclusive, day granularity
}

type SalesSummary struct {
	Count       int64
	TotalAmount decimal.Decimal
}

// ParseSaleDate parses a DD/MM/YYYY date in UTC.
func ParseSaleDate(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, &InvalidArgumentError{Field: field, Reason: "is required"}
	}
	t, err := time.ParseInLocation(SaleDateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, &InvalidArgumentError{Field: field, Reason: "must be in DD/MM/YYYY format"}
	}
	return t, nil
}
