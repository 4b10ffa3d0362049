// README: Money helpers shared by order pricing checks.
package types

import "github.com/shopspring/decimal"

// MoneyScale is the number of decimal places amounts are stored with.
const MoneyScale = 2

// LineTotal returns quantity * unit price rounded to MoneyScale.
func LineTotal(quantity int, price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(quantity))).Round(MoneyScale)
}

// SameAmount compares two amounts after rounding both to MoneyScale.
func SameAmount(a, b decimal.Decimal) bool {
	return a.Round(MoneyScale).Equal(b.Round(MoneyScale))
}
