package session

import "github.com/shopspring/decimal"

// Size returns floor(fraction × cash / price), the number of shares an
// entry may buy with the capital cap applied. Non-positive inputs size to 0.
func Size(cash, price, fraction float64) int64 {
	if cash <= 0 || price <= 0 || fraction <= 0 {
		return 0
	}
	budget := decimal.NewFromFloat(cash).Mul(decimal.NewFromFloat(fraction))
	return budget.Div(decimal.NewFromFloat(price)).Floor().IntPart()
}
