package money

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Round rounds an amount to cents.
func Round(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

// Profit returns the commission share of an amount. commission is a
// percentage in [0,100].
func Profit(amount, commission decimal.Decimal) decimal.Decimal {
	return amount.Mul(commission).Div(hundred)
}

// ShareChange returns (wide-narrow)/wide*100 rounded to two places. It is 0
// whenever wide is zero or negative.
func ShareChange(narrow, wide decimal.Decimal) decimal.Decimal {
	if wide.Sign() <= 0 {
		return decimal.Zero
	}
	return wide.Sub(narrow).Div(wide).Mul(hundred).Round(2)
}
