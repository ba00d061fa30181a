// Package core provides the domain types of the fund ledger: periods,
// monetary rounding rules and the records persisted by the storage layer.
//
// A Period is the sole temporal axis of the ledger. Rows exist per member
// per period and are only ever appended for the period immediately after
// the current maximum; the integer encoding year*100+month is reserved for
// the storage layer, everything else works with the value type.
package core

import (
	"errors"
	"fmt"
)

// Period identifies one monthly ledger snapshot.
type Period struct {
	Year  int
	Month int // 1..12
}

var ErrInvalidPeriod = errors.New("invalid period")

// NewPeriod validates month and year ranges.
func NewPeriod(year, month int) (Period, error) {
	p := Period{Year: year, Month: month}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

func (p Period) Validate() error {
	if p.Month < 1 || p.Month > 12 {
		return fmt.Errorf("%w: month %d", ErrInvalidPeriod, p.Month)
	}
	if p.Year <= 0 {
		return fmt.Errorf("%w: year %d", ErrInvalidPeriod, p.Year)
	}
	return nil
}

// Encode returns the sortable integer form year*100+month.
// Lexical order of encoded values matches chronological order.
func (p Period) Encode() int {
	return p.Year*100 + p.Month
}

// PeriodFromCode is the inverse of Encode.
func PeriodFromCode(code int) Period {
	return Period{Year: code / 100, Month: code % 100}
}

// Prev returns the preceding calendar month.
func (p Period) Prev() Period {
	if p.Month == 1 {
		return Period{Year: p.Year - 1, Month: 12}
	}
	return Period{Year: p.Year, Month: p.Month - 1}
}

// Next returns the following calendar month.
func (p Period) Next() Period {
	if p.Month == 12 {
		return Period{Year: p.Year + 1, Month: 1}
	}
	return Period{Year: p.Year, Month: p.Month + 1}
}

func (p Period) Before(other Period) bool { return p.Encode() < other.Encode() }

func (p Period) After(other Period) bool { return p.Encode() > other.Encode() }

func (p Period) IsZero() bool { return p.Year == 0 && p.Month == 0 }

// MonthsBetween counts the months from p to end, inclusive of both.
func (p Period) MonthsBetween(end Period) int {
	return (end.Year-p.Year)*12 + (end.Month - p.Month) + 1
}

func (p Period) String() string {
	return fmt.Sprintf("%02d-%04d", p.Month, p.Year)
}
