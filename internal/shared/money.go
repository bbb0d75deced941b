package shared

import "math"

// RoundCents rounds a monetary amount to two decimals, half away from zero.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// LineTotal returns qty × unit price rounded to cents.
func LineTotal(qty int64, unitPrice float64) float64 {
	return RoundCents(float64(qty) * unitPrice)
}
