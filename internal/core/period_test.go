package core

import "testing"

func TestPeriodEncodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		p    Period
		code int
	}{
		{"january", Period{Year: 2025, Month: 1}, 202501},
		{"december", Period{Year: 2024, Month: 12}, 202412},
		{"mid year", Period{Year: 1999, Month: 7}, 199907},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Encode(); got != tt.code {
				t.Errorf("Encode() = %d, want %d", got, tt.code)
			}
			if got := PeriodFromCode(tt.code); got != tt.p {
				t.Errorf("PeriodFromCode(%d) = %v, want %v", tt.code, got, tt.p)
			}
		})
	}
}

func TestPeriodOrderMatchesChronology(t *testing.T) {
	// December of one year sorts before January of the next.
	dec := Period{Year: 2024, Month: 12}
	jan := Period{Year: 2025, Month: 1}
	if !dec.Before(jan) {
		t.Errorf("%v should sort before %v", dec, jan)
	}
	if !jan.After(dec) {
		t.Errorf("%v should sort after %v", jan, dec)
	}
}

func TestPeriodPrevNext(t *testing.T) {
	tests := []struct {
		name string
		p    Period
		prev Period
		next Period
	}{
		{"january wraps back", Period{2025, 1}, Period{2024, 12}, Period{2025, 2}},
		{"december wraps forward", Period{2024, 12}, Period{2024, 11}, Period{2025, 1}},
		{"plain month", Period{2025, 6}, Period{2025, 5}, Period{2025, 7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Prev(); got != tt.prev {
				t.Errorf("Prev() = %v, want %v", got, tt.prev)
			}
			if got := tt.p.Next(); got != tt.next {
				t.Errorf("Next() = %v, want %v", got, tt.next)
			}
		})
	}
}

func TestPeriodValidate(t *testing.T) {
	if _, err := NewPeriod(2025, 13); err == nil {
		t.Error("month 13 should be rejected")
	}
	if _, err := NewPeriod(2025, 0); err == nil {
		t.Error("month 0 should be rejected")
	}
	if _, err := NewPeriod(0, 5); err == nil {
		t.Error("year 0 should be rejected")
	}
	if _, err := NewPeriod(2025, 5); err != nil {
		t.Errorf("valid period rejected: %v", err)
	}
}

func TestMonthsBetween(t *testing.T) {
	start := Period{Year: 2024, Month: 11}
	end := Period{Year: 2025, Month: 2}
	if got := start.MonthsBetween(end); got != 4 {
		t.Errorf("MonthsBetween() = %d, want 4 (both endpoints inclusive)", got)
	}
}
