package lots

import "github.com/shopspring/decimal"

// RoundToLot floors qty to an exact multiple of step using decimal
// arithmetic. The result never exceeds qty, so a rounded order can
// never overshoot the balance that sized it.
func RoundToLot(qty, step float64) float64 {
	if step <= 0 || qty <= 0 {
		return 0
	}
	q := decimal.NewFromFloat(qty)
	s := decimal.NewFromFloat(step)
	rounded, _ := q.Div(s).Floor().Mul(s).Float64()
	return rounded
}
