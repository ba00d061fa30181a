package core

import "github.com/shopspring/decimal"

// ZeroFloor is the near-zero threshold: a balance whose magnitude is at or
// below it is never persisted as-is, it collapses to exactly 0.00.
var ZeroFloor = decimal.RequireFromString("0.005")

// RoundHalfUp rounds to two decimal places, halves away from zero.
// Monetary amounts in the fund are non-negative, so this is the commercial
// half-up rule the bylaws mandate.
func RoundHalfUp(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// NormalizeNearZero collapses values within the zero floor to exactly zero.
// Values above the floor pass through untouched, including any digits
// beyond two decimals.
func NormalizeNearZero(d decimal.Decimal) decimal.Decimal {
	if d.Abs().Cmp(ZeroFloor) <= 0 {
		return decimal.Zero
	}
	return d
}

// ConvertAtRate divides a RON amount by the exchange rate and rounds
// half-up to euro cents. Every monetary field is converted independently;
// aggregate rounding drift is reported, never redistributed
// (EU Regulation 1103/97).
func ConvertAtRate(ron, rate decimal.Decimal) decimal.Decimal {
	return RoundHalfUp(ron.Div(rate))
}
