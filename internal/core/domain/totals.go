package domain

import "github.com/shopspring/decimal"

// MoneyPlaces is the scale of every persisted monetary column.
const MoneyPlaces = 2

var (
	hundred        = decimal.NewFromInt(100)
	maxDiscountPct = hundred
)

// Totals are the derived monetary fields of a sale.
type Totals struct {
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	TotalAmount    decimal.Decimal
}

// ComputeTotals derives discount and total from a subtotal and a discount
// percentage. The discount is rounded to cents first and the total is taken as
// the exact difference, so TotalAmount == Subtotal - DiscountAmount always holds.
func ComputeTotals(subtotal, discountPct decimal.Decimal) Totals {
	subtotal = subtotal.Round(MoneyPlaces)
	discount := subtotal.Mul(discountPct).Div(hundred).Round(MoneyPlaces)
	return Totals{
		Subtotal:       subtotal,
		DiscountAmount: discount,
		TotalAmount:    subtotal.Sub(discount),
	}
}

// IsMoney reports whether d fits a monetary column without rounding.
func IsMoney(d decimal.Decimal) bool {
	return d.Equal(d.Round(MoneyPlaces))
}

// LineTotal is quantity × price.
func LineTotal(quantity int, price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(quantity)))
}

// ValidDiscount reports whether pct is within [0, 100].
func ValidDiscount(pct decimal.Decimal) bool {
	return !pct.IsNegative() && pct.LessThanOrEqual(maxDiscountPct)
}
