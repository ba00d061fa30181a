package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRoundHalfUp(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"half rounds up", "0.005", "0.01"},
		{"below half rounds down", "0.00496", "0"},
		{"exact cents untouched", "10.05", "10.05"},
		{"third decimal up", "1.235", "1.24"},
		{"third decimal down", "1.234", "1.23"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RoundHalfUp(d(tt.in))
			if !got.Equal(d(tt.want)) {
				t.Errorf("RoundHalfUp(%s) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeNearZero(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"exactly at floor", "0.005", "0"},
		{"below floor", "0.003", "0"},
		{"negative within floor", "-0.004", "0"},
		{"just above floor stays", "0.006", "0.006"},
		{"regular balance unrounded", "123.4567", "123.4567"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeNearZero(d(tt.in))
			if !got.Equal(d(tt.want)) {
				t.Errorf("NormalizeNearZero(%s) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestConvertAtRate(t *testing.T) {
	rate := d("6")
	// Three tens converted independently drift one cent above the
	// aggregate conversion; the drift is legitimate, not an error.
	each := ConvertAtRate(d("10"), rate)
	if !each.Equal(d("1.67")) {
		t.Fatalf("ConvertAtRate(10, 6) = %s, want 1.67", each)
	}
	components := each.Mul(d("3"))
	aggregate := ConvertAtRate(d("30"), rate)
	if !aggregate.Equal(d("5.00")) {
		t.Fatalf("ConvertAtRate(30, 6) = %s, want 5.00", aggregate)
	}
	if diff := components.Sub(aggregate); !diff.Equal(d("0.01")) {
		t.Errorf("rounding difference = %s, want 0.01", diff)
	}
}

func TestConvertRoundTripDrift(t *testing.T) {
	rate := d("4.9435")
	// Each leg rounds independently, so a round trip may drift by up to
	// half a cent times the rate plus half a cent.
	bound := d("0.005").Mul(rate).Add(d("0.005"))
	for _, v := range []string{"10", "123.45", "0.07", "2512.50"} {
		ron := d(v)
		eur := ConvertAtRate(ron, rate)
		back := RoundHalfUp(eur.Mul(rate))
		if back.Sub(ron).Abs().GreaterThan(bound) {
			t.Errorf("round trip of %s drifted too far: got %s", ron, back)
		}
	}
}
